package billing

// localizedMessages maps processor error codes and decline codes to
// buyer-facing messages. Anything not listed falls back to the raw
// processor message.
var localizedMessages = map[string]string{
	"invalid_number":           "The card number is not a valid credit card number.",
	"invalid_expiry_month":     "The card's expiration month is invalid.",
	"invalid_expiry_year":      "The card's expiration year is invalid.",
	"invalid_cvc":              "The card's security code is invalid.",
	"incorrect_number":         "The card number is incorrect.",
	"incomplete_number":        "The card number is incomplete.",
	"incomplete_cvc":           "The card's security code is incomplete.",
	"incomplete_expiry":        "The card's expiration date is incomplete.",
	"expired_card":             "The card has expired.",
	"incorrect_cvc":            "The card's security code is incorrect.",
	"incorrect_zip":            "The card's zip code failed validation.",
	"postal_code_invalid":      "The card's postal code is invalid.",
	"invalid_expiry_year_past": "The card's expiration year is in the past.",
	"card_declined":            "The card was declined.",
	"missing":                  "There is no card on a customer that is being charged.",
	"processing_error":         "An error occurred while processing the card.",
	"invalid_sofort_country":   "The billing country is not accepted by Sofort. Please try another country.",
	"email_invalid":            "Invalid email address, please correct and try again.",
	"invalid_request_error":    "Unable to process this payment, please try again or use an alternative method.",
	"amount_too_large":         "The order total is too high to process, please contact us to complete your purchase.",
	"amount_too_small":         "The order total is too low to process, please add more items to your order.",

	"payment_intent_authentication_failure": "We are unable to authenticate your payment method. Please choose a different payment method and try again.",
	"setup_intent_authentication_failure":   "We are unable to authenticate your payment method. Please choose a different payment method and try again.",

	// Decline codes
	"generic_decline":                   "The card was declined.",
	"insufficient_funds":                "The card has insufficient funds to complete the purchase.",
	"lost_card":                         "The card was declined.",
	"stolen_card":                       "The card was declined.",
	"fraudulent":                        "The card was declined.",
	"merchant_blacklist":                "The card was declined.",
	"pickup_card":                       "The card was declined.",
	"restricted_card":                   "The card was declined.",
	"security_violation":                "The card was declined.",
	"revocation_of_all_authorizations":  "The card was declined.",
	"revocation_of_authorization":       "The card was declined.",
	"stop_payment_order":                "The card was declined.",
	"do_not_honor":                      "The card was declined.",
	"do_not_try_again":                  "The card was declined.",
	"duplicate_transaction":             "A transaction with identical amount and card was submitted very recently.",
	"incorrect_pin":                     "The PIN entered is incorrect.",
	"invalid_account":                   "The card, or account the card is connected to, is invalid.",
	"invalid_amount":                    "The payment amount is invalid, or exceeds the amount that is allowed.",
	"new_account_information_available": "The card, or account the card is connected to, is invalid.",
	"no_action_taken":                   "The card was declined.",
	"not_permitted":                     "The payment is not permitted.",
	"pin_try_exceeded":                  "The allowable number of PIN tries has been exceeded.",
	"service_not_allowed":               "The card was declined.",
	"testmode_decline":                  "A test card number was used.",
	"transaction_not_allowed":           "The card was declined.",
	"try_again_later":                   "The card was declined. Please try again later.",
	"card_not_supported":                "The card does not support this type of purchase.",
	"currency_not_supported":            "The card does not support the specified currency.",
	"call_issuer":                       "The card was declined.",
	"card_velocity_exceeded":            "The card was declined because you have exceeded the balance or credit limit on your card.",
	"withdrawal_count_limit_exceeded":   "The customer has exceeded the balance or credit limit available on their card.",
}

// LocalizedMessage returns the buyer-facing message for a processor
// error code, falling back to the raw processor message when the code
// is unknown.
func LocalizedMessage(code, fallback string) string {
	if msg, ok := localizedMessages[code]; ok {
		return msg
	}
	return fallback
}

// LocalizedPaymentError picks the most specific message for a failed
// attempt: decline code first, then error code, then the raw message.
func LocalizedPaymentError(pe *PaymentError) string {
	if pe == nil {
		return ""
	}
	if pe.DeclineCode != "" {
		if msg, ok := localizedMessages[pe.DeclineCode]; ok {
			return msg
		}
	}
	return LocalizedMessage(pe.Code, pe.Message)
}
