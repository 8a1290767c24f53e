package domain

import (
	"errors"
	"testing"
)

func TestValidEmail(t *testing.T) {
	valid := []string{"buyer@example.com", "a.b+tag@shop.co.in"}
	for _, v := range valid {
		if !ValidEmail(v) {
			t.Fatalf("expected %q to be a valid email", v)
		}
	}
	invalid := []string{"", "buyer", "buyer@", "@example.com", "a b@example.com", "buyer@example"}
	for _, v := range invalid {
		if ValidEmail(v) {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestValidPhone(t *testing.T) {
	if !ValidPhone("9876543210") {
		t.Fatalf("expected ten digit number starting 9 to be valid")
	}
	for _, v := range []string{"5876543210", "987654321", "98765432100", "98a6543210", ""} {
		if ValidPhone(v) {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestValidOrderNumber(t *testing.T) {
	if !ValidOrderNumber("BO-250807-1432-059-9F3A21BC") {
		t.Fatalf("expected canonical order number to validate")
	}
	invalid := []string{
		"BO-250807-1432-059-9f3a21bc",
		"XX-250807-1432-059-9F3A21BC",
		"BO-250807-1432-59-9F3A21BC",
		"BO-250807-1432-059-9F3A21B",
		"",
	}
	for _, v := range invalid {
		if ValidOrderNumber(v) {
			t.Fatalf("expected %q to be rejected", v)
		}
	}
}

func TestValidateAddress(t *testing.T) {
	base := Address{
		Recipient:  "Asha Rao",
		Line1:      "14 MG Road",
		City:       "Bengaluru",
		PostalCode: "560001",
		Country:    "IN",
		Phone:      "9876543210",
	}
	if err := ValidateAddress(base); err != nil {
		t.Fatalf("expected complete address to validate, got %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Address)
	}{
		{"missing recipient", func(a *Address) { a.Recipient = " " }},
		{"missing line1", func(a *Address) { a.Line1 = "" }},
		{"missing city", func(a *Address) { a.City = "" }},
		{"missing country", func(a *Address) { a.Country = "" }},
		{"bad postal code", func(a *Address) { a.PostalCode = "5600" }},
		{"bad phone", func(a *Address) { a.Phone = "1234567890" }},
	}
	for _, tc := range cases {
		addr := base
		tc.mutate(&addr)
		err := ValidateAddress(addr)
		if err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
		if !errors.Is(err, ErrInvalidField) {
			t.Fatalf("%s: expected ErrInvalidField, got %v", tc.name, err)
		}
	}
}

func TestMoneyEquals(t *testing.T) {
	if !MoneyEquals(310.0, 310.009) {
		t.Fatalf("expected values within tolerance to compare equal")
	}
	if MoneyEquals(310.0, 310.02) {
		t.Fatalf("expected values outside tolerance to differ")
	}
}

func TestComputeOrderTotal(t *testing.T) {
	got := ComputeOrderTotal(300, 10, 0, 0)
	if got != 310 {
		t.Fatalf("expected 310, got %v", got)
	}
	got = ComputeOrderTotal(500, 50, 25, 75)
	if got != 500 {
		t.Fatalf("expected 500, got %v", got)
	}
}

func TestEffectiveBillingAddress(t *testing.T) {
	shipping := Address{Recipient: "Asha Rao", Line1: "14 MG Road", City: "Bengaluru", PostalCode: "560001", Country: "IN", Phone: "9876543210"}
	order := Order{ShippingAddress: shipping}
	if got := order.EffectiveBillingAddress(); got != shipping {
		t.Fatalf("expected billing to default to shipping")
	}
	billing := shipping
	billing.Recipient = "Accounts Team"
	order.BillingAddress = &billing
	if got := order.EffectiveBillingAddress(); got.Recipient != "Accounts Team" {
		t.Fatalf("expected explicit billing address to win")
	}
}
