// Package address defines the shipping address collected in the first
// checkout phase.
package address

import (
	"fmt"
	"regexp"
	"strings"
)

// Address is a shipping destination.
type Address struct {
	Name       string
	Line1      string
	Line2      string
	City       string
	Region     string
	PostalCode string
	// Country is an ISO 3166-1 alpha-2 code.
	Country string
	Phone   string
}

// ValidationError reports the first structurally invalid field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid address %s: %s", e.Field, e.Reason)
}

var (
	countryRe = regexp.MustCompile(`^[A-Z]{2}$`)
	postalRe  = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9 -]{1,9}$`)
	phoneRe   = regexp.MustCompile(`^\+?[0-9 ()-]{6,20}$`)
)

// Normalize trims every field and upper-cases the country code.
func (a Address) Normalize() Address {
	a.Name = strings.TrimSpace(a.Name)
	a.Line1 = strings.TrimSpace(a.Line1)
	a.Line2 = strings.TrimSpace(a.Line2)
	a.City = strings.TrimSpace(a.City)
	a.Region = strings.TrimSpace(a.Region)
	a.PostalCode = strings.TrimSpace(a.PostalCode)
	a.Country = strings.ToUpper(strings.TrimSpace(a.Country))
	a.Phone = strings.TrimSpace(a.Phone)
	return a
}

// IsZero reports whether no field is set.
func (a Address) IsZero() bool {
	return a == Address{}
}

// Validate checks the normalized address for structural validity. It does not
// verify that the destination exists.
func (a Address) Validate() error {
	a = a.Normalize()

	required := []struct {
		field, value string
	}{
		{"name", a.Name},
		{"line1", a.Line1},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, r := range required {
		if r.value == "" {
			return &ValidationError{Field: r.field, Reason: "is required"}
		}
	}

	if !countryRe.MatchString(a.Country) {
		return &ValidationError{Field: "country", Reason: "must be a two-letter country code"}
	}
	if !postalRe.MatchString(a.PostalCode) {
		return &ValidationError{Field: "postal_code", Reason: "is not a valid postal code"}
	}
	if a.Phone != "" && !phoneRe.MatchString(a.Phone) {
		return &ValidationError{Field: "phone", Reason: "is not a valid phone number"}
	}
	return nil
}
