package service

import (
	"context"
	"testing"

	"github.com/payaddons/stripe-gateway/internal/billing"
	"github.com/payaddons/stripe-gateway/internal/order"
)

func testOrder() *order.Order {
	return &order.Order{
		ID:        100,
		Key:       "order_key_100",
		Status:    order.StatusPending,
		Currency:  "USD",
		Total:     25.00,
		Email:     "shopper@example.com",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Meta:      map[string]string{},
	}
}

func testSettings() Settings {
	return Settings{
		SiteName:       "Acme Store",
		SiteURL:        "https://acme.example.com",
		BaseURL:        "https://acme.example.com",
		AccountCountry: "US",
		CaptureMethod:  "automatic",
	}
}

func TestBuildIntentMethodSelection(t *testing.T) {
	tests := []struct {
		name          string
		enabled       []string
		express       bool
		wantAutomatic bool
		wantTypes     int
	}{
		{"explicit list", []string{"card", "klarna"}, false, false, 2},
		{"empty list uses automatic", nil, false, true, 0},
		{"express always automatic", []string{"card"}, true, true, 0},
		{"unsupported method dropped", []string{"card", "ideal"}, false, false, 1},
		{"all methods unsupported falls back", []string{"ideal", "eps"}, false, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.EnabledMethods = tt.enabled
			b := NewIntentBuilder(settings, nil)

			params, err := b.BuildIntent(CheckoutRequest{Order: testOrder(), Express: tt.express}, "cus_1")
			if err != nil {
				t.Fatalf("BuildIntent() error = %v", err)
			}
			if params.AutomaticPaymentMethods != tt.wantAutomatic {
				t.Errorf("AutomaticPaymentMethods = %v, want %v", params.AutomaticPaymentMethods, tt.wantAutomatic)
			}
			if len(params.PaymentMethodTypes) != tt.wantTypes {
				t.Errorf("PaymentMethodTypes len = %d, want %d", len(params.PaymentMethodTypes), tt.wantTypes)
			}
		})
	}
}

func TestBuildIntentBaseFields(t *testing.T) {
	b := NewIntentBuilder(testSettings(), nil)

	params, err := b.BuildIntent(CheckoutRequest{Order: testOrder()}, "cus_1")
	if err != nil {
		t.Fatalf("BuildIntent() error = %v", err)
	}
	if params.Amount != 2500 {
		t.Errorf("Amount = %d, want 2500", params.Amount)
	}
	if params.Currency != "usd" {
		t.Errorf("Currency = %q, want usd", params.Currency)
	}
	if params.Description != "Acme Store - Order 100" {
		t.Errorf("Description = %q", params.Description)
	}
	if params.IdempotencyKey != "100:cus_1" {
		t.Errorf("IdempotencyKey = %q, want 100:cus_1", params.IdempotencyKey)
	}
	if params.Metadata["order_id"] != "100" {
		t.Errorf("Metadata order_id = %q, want 100", params.Metadata["order_id"])
	}
	if params.Metadata["customer_email"] != "shopper@example.com" {
		t.Errorf("Metadata customer_email = %q", params.Metadata["customer_email"])
	}
}

func TestBuildIntentBankTransferNetworks(t *testing.T) {
	tests := []struct {
		country     string
		wantType    string
		wantCountry string
	}{
		{"DE", "eu_bank_transfer", "DE"},
		{"FR", "eu_bank_transfer", "FR"},
		{"GB", "gb_bank_transfer", ""},
		{"JP", "jp_bank_transfer", ""},
		{"US", "us_bank_transfer", ""},
		{"CA", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.country, func(t *testing.T) {
			settings := testSettings()
			settings.AccountCountry = tt.country
			settings.EnabledMethods = []string{"card", "customer_balance"}
			b := NewIntentBuilder(settings, nil)

			params, err := b.BuildIntent(CheckoutRequest{Order: testOrder()}, "cus_1")
			if err != nil {
				t.Fatalf("BuildIntent() error = %v", err)
			}
			if tt.wantType == "" {
				if params.PaymentMethodOptions != nil && params.PaymentMethodOptions.BankTransfer != nil {
					t.Fatalf("expected no bank transfer options for %s", tt.country)
				}
				return
			}
			bt := params.PaymentMethodOptions.BankTransfer
			if bt == nil {
				t.Fatalf("expected bank transfer options for %s", tt.country)
			}
			if bt.Type != tt.wantType {
				t.Errorf("Type = %q, want %q", bt.Type, tt.wantType)
			}
			if bt.EUCountry != tt.wantCountry {
				t.Errorf("EUCountry = %q, want %q", bt.EUCountry, tt.wantCountry)
			}
		})
	}
}

func TestBuildIntentWeChatPay(t *testing.T) {
	settings := testSettings()
	settings.EnabledMethods = []string{"wechat_pay"}
	b := NewIntentBuilder(settings, nil)

	params, err := b.BuildIntent(CheckoutRequest{Order: testOrder()}, "cus_1")
	if err != nil {
		t.Fatalf("BuildIntent() error = %v", err)
	}
	if params.PaymentMethodOptions == nil || params.PaymentMethodOptions.WeChatPayClient != "web" {
		t.Errorf("expected wechat_pay client option, got %+v", params.PaymentMethodOptions)
	}
}

func TestBuildIntentSetupFutureUsage(t *testing.T) {
	tests := []struct {
		name       string
		savedCards bool
		optIn      bool
		want       string
	}{
		{"both enabled", true, true, "off_session"},
		{"merchant disabled", false, true, ""},
		{"shopper declined", true, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := testSettings()
			settings.SavedCards = tt.savedCards
			b := NewIntentBuilder(settings, nil)

			params, err := b.BuildIntent(CheckoutRequest{Order: testOrder(), SavePaymentMethod: tt.optIn}, "cus_1")
			if err != nil {
				t.Fatalf("BuildIntent() error = %v", err)
			}
			if params.SetupFutureUsage != tt.want {
				t.Errorf("SetupFutureUsage = %q, want %q", params.SetupFutureUsage, tt.want)
			}
		})
	}
}

func TestBuildIntentShipping(t *testing.T) {
	shipping := &billing.ShippingDetails{
		Name:    "Ada Lovelace",
		Address: billing.Address{Line1: "1 Main St", Country: "US"},
	}
	b := NewIntentBuilder(testSettings(), nil)

	params, _ := b.BuildIntent(CheckoutRequest{Order: testOrder(), Shipping: shipping}, "cus_1")
	if params.Shipping == nil {
		t.Error("expected shipping on standard checkout")
	}

	// Express flows supply shipping from the wallet instead.
	params, _ = b.BuildIntent(CheckoutRequest{Order: testOrder(), Shipping: shipping, Express: true}, "cus_1")
	if params.Shipping != nil {
		t.Error("expected no shipping on express checkout")
	}
}

func TestBuildIntentHooks(t *testing.T) {
	b := NewIntentBuilder(testSettings(), nil)
	b.OnIntent(func(p *billing.CreatePaymentIntentParams) {
		p.Metadata["channel"] = "mobile-app"
	})
	b.OnIntent(func(p *billing.CreatePaymentIntentParams) {
		p.Description = "overridden"
	})

	params, err := b.BuildIntent(CheckoutRequest{Order: testOrder()}, "cus_1")
	if err != nil {
		t.Fatalf("BuildIntent() error = %v", err)
	}
	if params.Metadata["channel"] != "mobile-app" {
		t.Errorf("Metadata[channel] = %q, want mobile-app", params.Metadata["channel"])
	}
	if params.Description != "overridden" {
		t.Errorf("Description = %q, hooks must run after builder rules", params.Description)
	}
	// Existing metadata survives the hook.
	if params.Metadata["order_id"] != "100" {
		t.Errorf("Metadata[order_id] = %q, want 100", params.Metadata["order_id"])
	}
}

func TestBuildSessionHooks(t *testing.T) {
	b := NewIntentBuilder(testSettings(), nil)
	b.OnSession(func(p *billing.CreateCheckoutSessionParams) {
		p.Metadata["channel"] = "mobile-app"
	})

	params, err := b.BuildSession(context.Background(), CheckoutRequest{Order: testOrder()}, "", "https://s", "https://c")
	if err != nil {
		t.Fatalf("BuildSession() error = %v", err)
	}
	if params.Metadata["channel"] != "mobile-app" {
		t.Errorf("Metadata[channel] = %q, want mobile-app", params.Metadata["channel"])
	}
}

func TestBuildSessionAutomaticTax(t *testing.T) {
	provider := billing.NewMockProvider()
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1", AutomaticTax: billing.AutomaticTaxSupported}
	customers := NewCustomerService(provider, order.NewMemoryStore(), testLogger())

	settings := testSettings()
	settings.AutomaticTax = true
	b := NewIntentBuilder(settings, customers)

	params, err := b.BuildSession(context.Background(), CheckoutRequest{Order: testOrder()}, "cus_1", "https://s", "https://c")
	if err != nil {
		t.Fatalf("BuildSession() error = %v", err)
	}
	if !params.AutomaticTax {
		t.Error("expected automatic tax enabled")
	}
	if !params.CustomerUpdateAddress {
		t.Error("expected customer address update for tax")
	}
	if params.CustomerID != "cus_1" {
		t.Errorf("CustomerID = %q, want cus_1", params.CustomerID)
	}
}

func TestBuildSessionTaxFallbackToGuest(t *testing.T) {
	provider := billing.NewMockProvider()
	provider.Customers["cus_1"] = &billing.Customer{ID: "cus_1", AutomaticTax: "failed"}
	customers := NewCustomerService(provider, order.NewMemoryStore(), testLogger())

	settings := testSettings()
	settings.AutomaticTax = true
	b := NewIntentBuilder(settings, customers)

	params, err := b.BuildSession(context.Background(), CheckoutRequest{Order: testOrder()}, "cus_1", "https://s", "https://c")
	if err != nil {
		t.Fatalf("BuildSession() error = %v", err)
	}
	if params.CustomerID != "" {
		t.Errorf("expected customer binding stripped, got %q", params.CustomerID)
	}
	if params.CustomerCreation != "if_required" {
		t.Errorf("CustomerCreation = %q, want if_required", params.CustomerCreation)
	}
	if params.CustomerEmail != "shopper@example.com" {
		t.Errorf("CustomerEmail = %q", params.CustomerEmail)
	}
}

func TestBuildSessionTaxFromLineItems(t *testing.T) {
	// Platform tax engine on, merchant switch off: only a tax code on a
	// line forces automatic tax.
	settings := testSettings()
	settings.PlatformTaxActive = true
	b := NewIntentBuilder(settings, nil)

	items := []billing.SessionLineItem{{Name: "Widget", Amount: 2500, Quantity: 1, TaxCode: "txcd_99999999"}}
	params, err := b.BuildSession(context.Background(), CheckoutRequest{Order: testOrder(), LineItems: items}, "", "https://s", "https://c")
	if err != nil {
		t.Fatalf("BuildSession() error = %v", err)
	}
	if !params.AutomaticTax {
		t.Error("expected tax code on line item to enable automatic tax")
	}

	items[0].TaxCode = ""
	params, _ = b.BuildSession(context.Background(), CheckoutRequest{Order: testOrder(), LineItems: items}, "", "https://s", "https://c")
	if params.AutomaticTax {
		t.Error("expected automatic tax off without tax codes")
	}
}
