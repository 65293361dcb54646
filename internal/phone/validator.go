// Package phone normalizes and validates scraped phone numbers against the
// region a query was issued for.
package phone

import (
	"fmt"
	"strings"

	"github.com/nyaruka/phonenumbers"

	"github.com/shubhanshu-sudo/Scrapper/internal/domain"
)

// Policy selects which numbers are accepted and how they are formatted.
type Policy string

const (
	// PolicyStrictMobile accepts only numbers classified as mobile (or the
	// ambiguous fixed-line-or-mobile class) and formats them as E.164.
	PolicyStrictMobile Policy = "strict-mobile"
	// PolicyAnyValid accepts any number valid for the region and formats it
	// in international notation.
	PolicyAnyValid Policy = "any-valid"
)

// ParsePolicy maps a config value to a Policy. Empty selects strict-mobile.
func ParsePolicy(s string) (Policy, error) {
	switch Policy(strings.ToLower(strings.TrimSpace(s))) {
	case "", PolicyStrictMobile:
		return PolicyStrictMobile, nil
	case PolicyAnyValid:
		return PolicyAnyValid, nil
	default:
		return "", fmt.Errorf("unknown phone policy %q (want %q or %q)", s, PolicyStrictMobile, PolicyAnyValid)
	}
}

// Validator checks raw phone strings under a fixed Policy. The zero value
// uses PolicyStrictMobile.
type Validator struct {
	Policy Policy
}

// NewValidator returns a Validator for the given policy.
func NewValidator(p Policy) *Validator {
	return &Validator{Policy: p}
}

// Validate parses raw in the context of region (ISO 3166-1 alpha-2) and
// returns the canonical representation. ok is false when the number cannot
// be parsed, is not a valid number, or fails the policy's type check.
func (v *Validator) Validate(raw, region string) (canonical string, ok bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, domain.NoPhone) {
		return "", false
	}
	region = strings.ToUpper(strings.TrimSpace(region))

	num, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", false
	}
	// Region is the parsing context for national-format input; numbers
	// written with an explicit country prefix are judged on their own.
	if !phonenumbers.IsValidNumber(num) {
		return "", false
	}

	if v.Policy == PolicyAnyValid {
		return phonenumbers.Format(num, phonenumbers.INTERNATIONAL), true
	}

	switch phonenumbers.GetNumberType(num) {
	case phonenumbers.MOBILE, phonenumbers.FIXED_LINE_OR_MOBILE:
		return phonenumbers.Format(num, phonenumbers.E164), true
	default:
		return "", false
	}
}
