package shopify

import (
	"context"
	"strings"
	"sync"
)

// FakeDirectory is an in-memory Directory for tests and local development.
type FakeDirectory struct {
	mu         sync.Mutex
	nextID     int64
	customers  map[int64]*Customer
	metafields map[int64]map[string]string

	// FailNext makes the next call return Err.
	FailNext bool
	// Err is the error FailNext surfaces.
	Err error
}

// NewFakeDirectory creates an empty fake.
func NewFakeDirectory() *FakeDirectory {
	return &FakeDirectory{
		nextID:     1,
		customers:  make(map[int64]*Customer),
		metafields: make(map[int64]map[string]string),
	}
}

func (f *FakeDirectory) fail() error {
	if f.FailNext {
		f.FailNext = false
		return f.Err
	}
	return nil
}

func (f *FakeDirectory) FindByPhone(_ context.Context, phone string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	for _, c := range f.customers {
		if c.Phone == phone {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrCustomerNotFound
}

func (f *FakeDirectory) FindByEmail(_ context.Context, email string) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	for _, c := range f.customers {
		if strings.EqualFold(c.Email, email) {
			copied := *c
			return &copied, nil
		}
	}
	return nil, ErrCustomerNotFound
}

func (f *FakeDirectory) Create(_ context.Context, input CustomerInput) (*Customer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return nil, err
	}
	c := &Customer{
		ID:        f.nextID,
		Email:     input.Email,
		Phone:     input.Phone,
		FirstName: input.FirstName,
		LastName:  input.LastName,
		Tags:      strings.Join(input.Tags, ","),
	}
	f.nextID++
	f.customers[c.ID] = c
	copied := *c
	return &copied, nil
}

func (f *FakeDirectory) UpdateMetadata(ctx context.Context, customerID int64, fields map[string]string) error {
	for key, value := range fields {
		if err := f.SetMetafield(ctx, customerID, key, value); err != nil {
			return err
		}
	}
	return nil
}

func (f *FakeDirectory) GetMetafield(_ context.Context, customerID int64, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return "", err
	}
	value, ok := f.metafields[customerID][key]
	if !ok {
		return "", ErrMetafieldNotFound
	}
	return value, nil
}

func (f *FakeDirectory) SetMetafield(_ context.Context, customerID int64, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.fail(); err != nil {
		return err
	}
	if f.metafields[customerID] == nil {
		f.metafields[customerID] = make(map[string]string)
	}
	f.metafields[customerID][key] = value
	return nil
}

// Customer returns the stored customer by ID, or nil.
func (f *FakeDirectory) Customer(id int64) *Customer {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.customers[id]
	if !ok {
		return nil
	}
	copied := *c
	return &copied
}

// Metafield returns the stored metafield value, or empty.
func (f *FakeDirectory) Metafield(id int64, key string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.metafields[id][key]
}
