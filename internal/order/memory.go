package order

import (
	"context"
	"strconv"
	"sync"

	"github.com/payaddons/stripe-gateway/internal/domain"
)

// MemoryStore is an in-memory Store for tests and local development.
type MemoryStore struct {
	mu        sync.Mutex
	orders    map[int64]*Order
	customers map[int64]string
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orders:    make(map[int64]*Order),
		customers: make(map[int64]string),
	}
}

// Put seeds an order. Test helper.
func (s *MemoryStore) Put(o *Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
}

func (s *MemoryStore) Get(ctx context.Context, id int64) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, domain.NotFound("order.get", "order", strconv.FormatInt(id, 10))
	}
	return o, nil
}

func (s *MemoryStore) GetByKey(ctx context.Context, key string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.Key == key {
			return o, nil
		}
	}
	return nil, domain.NotFound("order.get_by_key", "order", key)
}

func (s *MemoryStore) ByIntentID(ctx context.Context, intentID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.GetMeta(MetaIntentID) == intentID {
			return o, nil
		}
	}
	return nil, domain.NotFound("order.by_intent", "order", intentID)
}

func (s *MemoryStore) ByChargeID(ctx context.Context, chargeID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.TransactionID == chargeID {
			return o, nil
		}
	}
	return nil, domain.NotFound("order.by_charge", "order", chargeID)
}

func (s *MemoryStore) BySetupIntentID(ctx context.Context, setupIntentID string) (*Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.GetMeta(MetaSetupIntentID) == setupIntentID {
			return o, nil
		}
	}
	return nil, domain.NotFound("order.by_setup_intent", "order", setupIntentID)
}

func (s *MemoryStore) Save(ctx context.Context, o *Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.ID] = o
	return nil
}

func (s *MemoryStore) CustomerID(ctx context.Context, userID int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.customers[userID], nil
}

func (s *MemoryStore) SaveCustomerID(ctx context.Context, userID int64, customerID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[userID] = customerID
	return nil
}

func (s *MemoryStore) DeleteCustomerID(ctx context.Context, userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.customers, userID)
	return nil
}
