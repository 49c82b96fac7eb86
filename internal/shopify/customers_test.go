package shopify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gatehouse/gatehouse/internal/testutil"
)

func newCustomersServer(t *testing.T, handler http.HandlerFunc) *Customers {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	c := NewCustomers("example.myshopify.com", "token123")
	c.SetBaseURL(server.URL)
	return c
}

func TestFindByPhone(t *testing.T) {
	c := newCustomersServer(t, func(w http.ResponseWriter, r *http.Request) {
		testutil.Equal(t, "/customers/search.json", r.URL.Path)
		testutil.Equal(t, "phone:+15551234567", r.URL.Query().Get("query"))
		testutil.Equal(t, "token123", r.Header.Get("X-Shopify-Access-Token"))
		_ = json.NewEncoder(w).Encode(customersEnvelope{Customers: []Customer{
			{ID: 7, Phone: "+15551234567", Email: "+15551234567@phone.local"},
		}})
	})

	got, err := c.FindByPhone(context.Background(), "+15551234567")
	testutil.NoError(t, err)
	testutil.Equal(t, int64(7), got.ID)
}

func TestFindByEmailMiss(t *testing.T) {
	c := newCustomersServer(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(customersEnvelope{})
	})

	_, err := c.FindByEmail(context.Background(), "nobody@example.com")
	testutil.True(t, errors.Is(err, ErrCustomerNotFound))
}

func TestCreateCustomer(t *testing.T) {
	var gotBody map[string]map[string]any
	c := newCustomersServer(t, func(w http.ResponseWriter, r *http.Request) {
		testutil.Equal(t, http.MethodPost, r.Method)
		testutil.Equal(t, "/customers.json", r.URL.Path)
		testutil.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(customerEnvelope{Customer: Customer{ID: 9, Email: "ada@example.com"}})
	})

	got, err := c.Create(context.Background(), CustomerInput{
		Email:     "ada@example.com",
		FirstName: "Ada",
		Tags:      []string{"email-auth"},
	})
	testutil.NoError(t, err)
	testutil.Equal(t, int64(9), got.ID)
	testutil.Equal(t, "ada@example.com", gotBody["customer"]["email"])
	testutil.Equal(t, "email-auth", gotBody["customer"]["tags"])
}

func TestMetafieldRoundTrip(t *testing.T) {
	var stored metafield
	c := newCustomersServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			var body map[string]metafield
			testutil.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			stored = body["metafield"]
			w.WriteHeader(http.StatusCreated)
		case http.MethodGet:
			testutil.Equal(t, MetafieldNamespace, r.URL.Query().Get("namespace"))
			_ = json.NewEncoder(w).Encode(metafieldsEnvelope{Metafields: []metafield{stored}})
		}
	})
	ctx := context.Background()

	testutil.NoError(t, c.SetMetafield(ctx, 9, "auth_method", "sms"))
	testutil.Equal(t, "auth_method", stored.Key)
	testutil.Equal(t, MetafieldNamespace, stored.Namespace)

	value, err := c.GetMetafield(ctx, 9, "auth_method")
	testutil.NoError(t, err)
	testutil.Equal(t, "sms", value)

	_, err = c.GetMetafield(ctx, 9, "missing_key")
	testutil.True(t, errors.Is(err, ErrMetafieldNotFound))
}

func TestDirectoryHTTPErrors(t *testing.T) {
	c := newCustomersServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.FindByEmail(context.Background(), "a@b.co")
	testutil.ErrorContains(t, err, "HTTP 500")
}
