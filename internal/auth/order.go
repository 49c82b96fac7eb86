package auth

import (
	"context"
	"fmt"

	"github.com/gatehouse/gatehouse/internal/jobs"
	"github.com/gatehouse/gatehouse/internal/otp"
	"github.com/gatehouse/gatehouse/internal/sms"
)

// defaultOrderTemplate is used when the merchant supplies no template. The
// code is appended separately so templates never need to carry it.
const defaultOrderTemplate = "Hi {customer.firstName}, confirm your order {order.number}."

// SendOrderCode issues a confirmation code bound to orderID and enqueues
// the SMS carrying it.
func (s *Service) SendOrderCode(ctx context.Context, orderID, phone, template string, order otp.OrderInfo, customer otp.CustomerInfo) error {
	normalized, err := sms.NormalizePhone(phone)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidInput)
	}

	code, err := s.orderOTP.Issue(ctx, orderID)
	if err != nil {
		return err
	}

	if template == "" {
		template = defaultOrderTemplate
	}
	body := otp.RenderTemplate(template, order, customer)
	body = fmt.Sprintf("%s Your confirmation code is: %s. Valid for 10 minutes.", body, code)

	job := jobs.NewJob(normalized, normalized, body, s.dlrCallbackURL)
	if err := s.queue.Enqueue(ctx, job); err != nil {
		return fmt.Errorf("%w: enqueue sms: %v", ErrProviderError, err)
	}

	s.logger.Info("order confirmation code issued", "order_id", orderID, "job_id", job.ID)
	return nil
}

// VerifyOrderCode checks a confirmation code for exactly that order.
func (s *Service) VerifyOrderCode(ctx context.Context, orderID, candidate string) (bool, error) {
	if orderID == "" || !codePattern.MatchString(candidate) {
		return false, fmt.Errorf("%w: order id and six-digit code are required", ErrInvalidInput)
	}
	return s.orderOTP.Verify(ctx, orderID, candidate)
}
