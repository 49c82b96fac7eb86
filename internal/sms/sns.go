package sms

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
)

// Publisher is the subset of the SNS client the adapter uses. Tests supply a
// fake.
type Publisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SNS sends messages through AWS SNS. SNS offers no per-message delivery
// callback, so sends report status sent immediately and neither Poll nor
// ParseReceipt is available.
type SNS struct {
	publisher Publisher
	priority  int
}

// NewSNS creates an SNS adapter on top of a Publisher.
func NewSNS(publisher Publisher, priority int) *SNS {
	return &SNS{publisher: publisher, priority: priority}
}

func (s *SNS) Name() string  { return "sns" }
func (s *SNS) Priority() int { return s.priority }

func (s *SNS) Send(ctx context.Context, to, body, _ string) (*SendResult, error) {
	out, err := s.publisher.Publish(ctx, &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(body),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    aws.String("String"),
				StringValue: aws.String("Transactional"),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sns: publish: %w", err)
	}
	return &SendResult{OK: true, MessageID: aws.ToString(out.MessageId), Status: StatusSent}, nil
}

func (s *SNS) Poll(context.Context, string) (DeliveryStatus, error) {
	return "", ErrPollUnsupported
}

func (s *SNS) ParseReceipt([]byte) (*Receipt, error) {
	return nil, fmt.Errorf("sns: delivery receipts not supported")
}
