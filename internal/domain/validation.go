package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidField marks a structural validation failure on a single field.
var ErrInvalidField = errors.New("domain: invalid field")

var (
	emailPattern       = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	phonePattern       = regexp.MustCompile(`^[6-9]\d{9}$`)
	postalCodePattern  = regexp.MustCompile(`^\d{6}$`)
	orderNumberPattern = regexp.MustCompile(`^BO-\d{6}-\d{4}-\d{3}-[A-F0-9]{8}$`)
)

// ValidEmail reports whether value has a plausible mailbox shape.
func ValidEmail(value string) bool {
	return emailPattern.MatchString(strings.TrimSpace(value))
}

// ValidPhone reports whether value is a ten digit subscriber number starting
// with 6 through 9.
func ValidPhone(value string) bool {
	return phonePattern.MatchString(strings.TrimSpace(value))
}

// ValidPostalCode reports whether value is a six digit postal code.
func ValidPostalCode(value string) bool {
	return postalCodePattern.MatchString(strings.TrimSpace(value))
}

// ValidOrderNumber reports whether value matches the persisted order number
// contract BO-YYMMDD-HHMM-MSS-RRRR.
func ValidOrderNumber(value string) bool {
	return orderNumberPattern.MatchString(strings.TrimSpace(value))
}

// ValidCurrency reports whether the currency is one the storefront accepts.
func ValidCurrency(value Currency) bool {
	switch value {
	case CurrencyINR, CurrencyUSD:
		return true
	default:
		return false
	}
}

// ValidPaymentMethod reports whether the method is on the accepted whitelist.
func ValidPaymentMethod(value PaymentMethod) bool {
	switch value {
	case PaymentMethodCOD, PaymentMethodUPI, PaymentMethodCard, PaymentMethodNetBanking:
		return true
	default:
		return false
	}
}

// ValidPaymentStatus reports whether the status is a known settlement state.
func ValidPaymentStatus(value PaymentStatus) bool {
	switch value {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

// ValidateAddress checks the address for completeness and field formats. The
// returned error wraps ErrInvalidField and names the offending field.
func ValidateAddress(addr Address) error {
	if strings.TrimSpace(addr.Recipient) == "" {
		return fmt.Errorf("%w: address recipient is required", ErrInvalidField)
	}
	if strings.TrimSpace(addr.Line1) == "" {
		return fmt.Errorf("%w: address line1 is required", ErrInvalidField)
	}
	if strings.TrimSpace(addr.City) == "" {
		return fmt.Errorf("%w: address city is required", ErrInvalidField)
	}
	if strings.TrimSpace(addr.Country) == "" {
		return fmt.Errorf("%w: address country is required", ErrInvalidField)
	}
	if !ValidPostalCode(addr.PostalCode) {
		return fmt.Errorf("%w: address postal code must be six digits", ErrInvalidField)
	}
	if !ValidPhone(addr.Phone) {
		return fmt.Errorf("%w: address phone must be a ten digit number starting 6-9", ErrInvalidField)
	}
	return nil
}
