package service

// Settings is the merchant-facing gateway configuration, resolved once
// at startup and passed by value into the services that need it. No
// service reads configuration from globals.
type Settings struct {
	// SiteName prefixes intent descriptions, e.g. "Acme - Order 100".
	SiteName string

	// SiteURL is recorded in intent metadata.
	SiteURL string

	// BaseURL is the public origin return URLs are built on.
	BaseURL string

	// AccountCountry is the merchant account's two-letter country code.
	// Drives the bank transfer network selection.
	AccountCountry string

	// EnabledMethods is the merchant's explicit payment method list.
	// Empty means let the processor choose.
	EnabledMethods []string

	// SavedCards allows shoppers to save their payment method.
	SavedCards bool

	// AutomaticTax asks the processor to calculate tax on sessions.
	AutomaticTax bool

	// PlatformTaxActive reports whether the platform's own tax engine is
	// on. Automatic tax defers to it unless a line carries a tax code.
	PlatformTaxActive bool

	// CaptureMethod is "automatic" or "manual".
	CaptureMethod string
}
