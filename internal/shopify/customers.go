package shopify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const apiVersion = "2024-07"

// ErrCustomerNotFound is returned by the lookup operations on a miss.
var ErrCustomerNotFound = errors.New("customer not found")

// ErrMetafieldNotFound is returned by GetMetafield when the customer has no
// value under the requested key.
var ErrMetafieldNotFound = errors.New("metafield not found")

// Customer is the directory's customer record, reduced to the fields the
// auth flows need.
type Customer struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Tags      string `json:"tags"`
}

// CustomerInput describes a customer to create.
type CustomerInput struct {
	Email     string
	Phone     string
	FirstName string
	LastName  string
	Tags      []string
}

// Directory is the customer-directory contract the auth flows depend on.
type Directory interface {
	FindByPhone(ctx context.Context, phone string) (*Customer, error)
	FindByEmail(ctx context.Context, email string) (*Customer, error)
	Create(ctx context.Context, input CustomerInput) (*Customer, error)
	// UpdateMetadata writes key/value pairs into the service's metafield
	// namespace on the customer.
	UpdateMetadata(ctx context.Context, customerID int64, fields map[string]string) error
	GetMetafield(ctx context.Context, customerID int64, key string) (string, error)
	SetMetafield(ctx context.Context, customerID int64, key, value string) error
}

// MetafieldNamespace is the namespace all service metafields live under.
const MetafieldNamespace = "gatehouse"

// Customers is the REST Directory implementation against the Admin API.
type Customers struct {
	shopDomain  string
	accessToken string
	baseURL     string
	client      *http.Client
}

// NewCustomers creates a directory client for one shop.
func NewCustomers(shopDomain, accessToken string) *Customers {
	return &Customers{
		shopDomain:  shopDomain,
		accessToken: accessToken,
		baseURL:     fmt.Sprintf("https://%s/admin/api/%s", shopDomain, apiVersion),
		client:      &http.Client{Timeout: 10 * time.Second},
	}
}

// SetBaseURL overrides the API endpoint. Tests point this at a local server.
func (c *Customers) SetBaseURL(u string) { c.baseURL = strings.TrimSuffix(u, "/") }

func (c *Customers) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", c.accessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("directory request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrCustomerNotFound
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("directory: HTTP %d", resp.StatusCode)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

type customersEnvelope struct {
	Customers []Customer `json:"customers"`
}

type customerEnvelope struct {
	Customer Customer `json:"customer"`
}

func (c *Customers) search(ctx context.Context, query string) (*Customer, error) {
	var result customersEnvelope
	path := "/customers/search.json?query=" + url.QueryEscape(query)
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return nil, err
	}
	if len(result.Customers) == 0 {
		return nil, ErrCustomerNotFound
	}
	return &result.Customers[0], nil
}

func (c *Customers) FindByPhone(ctx context.Context, phone string) (*Customer, error) {
	return c.search(ctx, "phone:"+phone)
}

func (c *Customers) FindByEmail(ctx context.Context, email string) (*Customer, error) {
	return c.search(ctx, "email:"+email)
}

func (c *Customers) Create(ctx context.Context, input CustomerInput) (*Customer, error) {
	payload := map[string]any{
		"customer": map[string]any{
			"email":      input.Email,
			"phone":      input.Phone,
			"first_name": input.FirstName,
			"last_name":  input.LastName,
			"tags":       strings.Join(input.Tags, ","),
		},
	}
	var result customerEnvelope
	if err := c.do(ctx, http.MethodPost, "/customers.json", payload, &result); err != nil {
		return nil, err
	}
	return &result.Customer, nil
}

func (c *Customers) UpdateMetadata(ctx context.Context, customerID int64, fields map[string]string) error {
	for key, value := range fields {
		if err := c.SetMetafield(ctx, customerID, key, value); err != nil {
			return err
		}
	}
	return nil
}

type metafield struct {
	Namespace string `json:"namespace"`
	Key       string `json:"key"`
	Value     string `json:"value"`
	Type      string `json:"type,omitempty"`
}

type metafieldsEnvelope struct {
	Metafields []metafield `json:"metafields"`
}

func (c *Customers) GetMetafield(ctx context.Context, customerID int64, key string) (string, error) {
	path := fmt.Sprintf("/customers/%d/metafields.json?namespace=%s&key=%s",
		customerID, MetafieldNamespace, url.QueryEscape(key))
	var result metafieldsEnvelope
	if err := c.do(ctx, http.MethodGet, path, nil, &result); err != nil {
		return "", err
	}
	for _, m := range result.Metafields {
		if m.Namespace == MetafieldNamespace && m.Key == key {
			return m.Value, nil
		}
	}
	return "", ErrMetafieldNotFound
}

func (c *Customers) SetMetafield(ctx context.Context, customerID int64, key, value string) error {
	payload := map[string]any{
		"metafield": metafield{
			Namespace: MetafieldNamespace,
			Key:       key,
			Value:     value,
			Type:      "single_line_text_field",
		},
	}
	path := fmt.Sprintf("/customers/%d/metafields.json", customerID)
	return c.do(ctx, http.MethodPost, path, payload, nil)
}
