package service

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/domain"
	"github.com/payaddons/stripe-gateway/internal/order"
	"github.com/payaddons/stripe-gateway/internal/telemetry"
)

// CustomerService maps local shoppers to processor customer records.
type CustomerService interface {
	// Resolve returns the processor customer id for the order's shopper,
	// creating one when none is stored. The id is persisted on the order
	// meta and, for registered users, in the user vault.
	Resolve(ctx context.Context, o *order.Order) (string, error)

	// Refresh pushes the order's billing fields onto the stored customer.
	// A stale stored id ("No such customer") is removed and the customer
	// recreated exactly once; a second failure propagates.
	Refresh(ctx context.Context, o *order.Order) (string, error)

	// Invalidate removes a stale customer binding from the order and the
	// user vault.
	Invalidate(ctx context.Context, o *order.Order) error

	// IsValidForTax reports whether the customer's address resolves for
	// automatic tax calculation.
	IsValidForTax(ctx context.Context, customerID string) (bool, error)
}

type customerService struct {
	provider billing.Provider
	store    order.Store
	logger   *slog.Logger
}

func NewCustomerService(provider billing.Provider, store order.Store, logger *slog.Logger) CustomerService {
	return &customerService{
		provider: provider,
		store:    store,
		logger:   logger,
	}
}

// storedCustomerID looks up the binding, order meta first, then the
// user vault for registered shoppers.
func (s *customerService) storedCustomerID(ctx context.Context, o *order.Order) (string, error) {
	if id := o.GetMeta(order.MetaCustomerID); id != "" {
		return id, nil
	}
	if o.UserID == 0 {
		return "", nil
	}
	return s.store.CustomerID(ctx, o.UserID)
}

func (s *customerService) Resolve(ctx context.Context, o *order.Order) (string, error) {
	id, err := s.storedCustomerID(ctx, o)
	if err != nil {
		return "", err
	}
	if id != "" {
		return id, nil
	}
	return s.create(ctx, o)
}

func (s *customerService) Refresh(ctx context.Context, o *order.Order) (string, error) {
	id, err := s.storedCustomerID(ctx, o)
	if err != nil {
		return "", err
	}
	if id == "" {
		return s.create(ctx, o)
	}

	_, err = s.provider.UpdateCustomer(ctx, id, updateParams(o))
	if err == nil {
		return id, nil
	}
	if !billing.IsNoSuchCustomer(err) {
		return "", domain.WrapError(err, domain.EPAYMENT, "customer.refresh", "failed to update customer")
	}

	// The stored id no longer exists at the processor. Drop it and
	// create a fresh customer, once. A second failure propagates.
	s.logger.Warn("stored customer missing at processor, recreating",
		slog.Int64("order_id", o.ID),
		slog.String("customer_id", id))
	if err := s.Invalidate(ctx, o); err != nil {
		return "", err
	}
	if telemetry.Business != nil {
		telemetry.Business.CustomersHealed.WithLabelValues().Inc()
	}
	return s.create(ctx, o)
}

func (s *customerService) create(ctx context.Context, o *order.Order) (string, error) {
	params := billing.CreateCustomerParams{
		Email:       o.Email,
		Name:        customerName(o),
		Phone:       o.Phone,
		Description: customerDescription(o),
		Metadata: map[string]string{
			"order_id": strconv.FormatInt(o.ID, 10),
		},
	}
	if o.Locale != "" {
		params.PreferredLocales = []string{o.Locale}
	}

	customer, err := s.provider.CreateCustomer(ctx, params)
	if err != nil {
		return "", domain.WrapError(err, domain.EPAYMENT, "customer.create", "failed to create customer")
	}

	if err := s.persist(ctx, o, customer.ID); err != nil {
		return "", err
	}

	if telemetry.Business != nil {
		kind := "registered"
		if o.UserID == 0 {
			kind = "guest"
		}
		telemetry.Business.CustomersCreated.WithLabelValues(kind).Inc()
	}
	return customer.ID, nil
}

// persist writes the binding to both locations so it survives guest
// order reuse and logged-in repeat purchases.
func (s *customerService) persist(ctx context.Context, o *order.Order, customerID string) error {
	o.SetMeta(order.MetaCustomerID, customerID)
	if err := s.store.Save(ctx, o); err != nil {
		return err
	}
	if o.UserID != 0 {
		return s.store.SaveCustomerID(ctx, o.UserID, customerID)
	}
	return nil
}

func (s *customerService) Invalidate(ctx context.Context, o *order.Order) error {
	o.DeleteMeta(order.MetaCustomerID)
	if err := s.store.Save(ctx, o); err != nil {
		return err
	}
	if o.UserID != 0 {
		return s.store.DeleteCustomerID(ctx, o.UserID)
	}
	return nil
}

func (s *customerService) IsValidForTax(ctx context.Context, customerID string) (bool, error) {
	customer, err := s.provider.GetCustomer(ctx, billing.GetCustomerParams{
		CustomerID: customerID,
		ExpandTax:  true,
	})
	if err != nil {
		return false, domain.WrapError(err, domain.EPAYMENT, "customer.tax_check", "failed to fetch customer tax state")
	}
	switch customer.AutomaticTax {
	case billing.AutomaticTaxSupported, billing.AutomaticTaxNotCollecting:
		return true, nil
	}
	return false, nil
}

func updateParams(o *order.Order) billing.UpdateCustomerParams {
	p := billing.UpdateCustomerParams{
		Email:       o.Email,
		Name:        customerName(o),
		Phone:       o.Phone,
		Description: customerDescription(o),
	}
	if o.Locale != "" {
		p.PreferredLocales = []string{o.Locale}
	}
	return p
}

func customerName(o *order.Order) string {
	if o.FirstName == "" && o.LastName == "" {
		return o.Email
	}
	return o.FirstName + " " + o.LastName
}

func customerDescription(o *order.Order) string {
	if o.UserID == 0 {
		return fmt.Sprintf("Name: %s, Guest", customerName(o))
	}
	return fmt.Sprintf("Name: %s, Username: %d", customerName(o), o.UserID)
}
