package service

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/order"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestResolveReturnsStoredID(t *testing.T) {
	provider := billing.NewMockProvider()
	store := order.NewMemoryStore()
	svc := NewCustomerService(provider, store, testLogger())

	o := testOrder()
	o.SetMeta(order.MetaCustomerID, "cus_stored")
	store.Put(o)

	id, err := svc.Resolve(context.Background(), o)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "cus_stored" {
		t.Errorf("Resolve() = %q, want cus_stored", id)
	}
	if len(provider.CallLog) != 0 {
		t.Errorf("expected no provider calls, got %v", provider.CallLog)
	}
}

func TestResolveFallsBackToUserVault(t *testing.T) {
	provider := billing.NewMockProvider()
	store := order.NewMemoryStore()
	svc := NewCustomerService(provider, store, testLogger())

	o := testOrder()
	o.UserID = 7
	store.Put(o)
	if err := store.SaveCustomerID(context.Background(), 7, "cus_vault"); err != nil {
		t.Fatal(err)
	}

	id, err := svc.Resolve(context.Background(), o)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id != "cus_vault" {
		t.Errorf("Resolve() = %q, want cus_vault", id)
	}
}

func TestResolveCreatesAndPersists(t *testing.T) {
	provider := billing.NewMockProvider()
	store := order.NewMemoryStore()
	svc := NewCustomerService(provider, store, testLogger())

	o := testOrder()
	o.UserID = 7
	store.Put(o)

	id, err := svc.Resolve(context.Background(), o)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if id == "" {
		t.Fatal("Resolve() returned empty id")
	}
	if got := o.GetMeta(order.MetaCustomerID); got != id {
		t.Errorf("order meta customer id = %q, want %q", got, id)
	}
	vaulted, err := store.CustomerID(context.Background(), 7)
	if err != nil {
		t.Fatal(err)
	}
	if vaulted != id {
		t.Errorf("vault customer id = %q, want %q", vaulted, id)
	}
}

func TestRefreshHealsStaleCustomer(t *testing.T) {
	provider := billing.NewMockProvider()
	store := order.NewMemoryStore()
	svc := NewCustomerService(provider, store, testLogger())

	// cus_gone is not in the provider's map, so the update reports
	// "No such customer" and the service must recreate once.
	o := testOrder()
	o.UserID = 7
	o.SetMeta(order.MetaCustomerID, "cus_gone")
	store.Put(o)
	if err := store.SaveCustomerID(context.Background(), 7, "cus_gone"); err != nil {
		t.Fatal(err)
	}

	id, err := svc.Refresh(context.Background(), o)
	if err != nil {
		t.Fatalf("Refresh() error = %v", err)
	}
	if id == "cus_gone" || id == "" {
		t.Fatalf("Refresh() = %q, want a fresh customer id", id)
	}
	if got := o.GetMeta(order.MetaCustomerID); got != id {
		t.Errorf("order meta customer id = %q, want %q", got, id)
	}
	vaulted, _ := store.CustomerID(context.Background(), 7)
	if vaulted != id {
		t.Errorf("vault customer id = %q, want %q", vaulted, id)
	}
}

func TestRefreshPropagatesOtherErrors(t *testing.T) {
	provider := billing.NewMockProvider()
	provider.UpdateCustomerFunc = func(ctx context.Context, customerID string, params billing.UpdateCustomerParams) (*billing.Customer, error) {
		return nil, &billing.GatewayError{Type: "api_error", Message: "internal"}
	}
	store := order.NewMemoryStore()
	svc := NewCustomerService(provider, store, testLogger())

	o := testOrder()
	o.SetMeta(order.MetaCustomerID, "cus_1")
	store.Put(o)

	if _, err := svc.Refresh(context.Background(), o); err == nil {
		t.Fatal("expected error for non-customer failure")
	}
	if got := o.GetMeta(order.MetaCustomerID); got != "cus_1" {
		t.Errorf("customer binding changed to %q on unrelated error", got)
	}
}

func TestCustomerDescription(t *testing.T) {
	guest := testOrder()
	if got := customerDescription(guest); !strings.Contains(got, "Guest") {
		t.Errorf("guest description = %q", got)
	}

	registered := testOrder()
	registered.UserID = 7
	if got := customerDescription(registered); strings.Contains(got, "Guest") {
		t.Errorf("registered description = %q", got)
	}
}

func TestIsValidForTax(t *testing.T) {
	tests := []struct {
		state string
		want  bool
	}{
		{billing.AutomaticTaxSupported, true},
		{billing.AutomaticTaxNotCollecting, true},
		{"unrecognized_location", false},
		{"failed", false},
	}

	for _, tt := range tests {
		t.Run(tt.state, func(t *testing.T) {
			provider := billing.NewMockProvider()
			provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1", AutomaticTax: tt.state}
			svc := NewCustomerService(provider, order.NewMemoryStore(), testLogger())

			got, err := svc.IsValidForTax(context.Background(), "cus_1")
			if err != nil {
				t.Fatalf("IsValidForTax() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("IsValidForTax(%s) = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}
