// Package password holds the password strength policy.
package password

import (
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
)

const (
	MinLength = 12
	// Tag is the validator tag enforcing the policy on request structs.
	Tag = "password_policy"

	MsgRequired  = "Password is required."
	MsgLength    = "Password must be at least 12 characters long."
	MsgUppercase = "Password must contain at least one uppercase letter."
	MsgLowercase = "Password must contain at least one lowercase letter."
	MsgDigit     = "Password must contain at least one number."
)

// Validate returns every rule pw violates, in a stable order. An empty result
// means the password is acceptable.
func Validate(pw string) []string {
	if pw == "" {
		return []string{MsgRequired}
	}
	var upper, lower, digit bool
	for _, r := range pw {
		switch {
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= '0' && r <= '9':
			digit = true
		}
	}
	var violations []string
	if utf8.RuneCountInString(pw) < MinLength {
		violations = append(violations, MsgLength)
	}
	if !upper {
		violations = append(violations, MsgUppercase)
	}
	if !lower {
		violations = append(violations, MsgLowercase)
	}
	if !digit {
		violations = append(violations, MsgDigit)
	}
	return violations
}

func Valid(pw string) bool {
	return len(Validate(pw)) == 0
}

// RegisterValidation installs the password_policy tag on v.
func RegisterValidation(v *validator.Validate) error {
	return v.RegisterValidation(Tag, func(fl validator.FieldLevel) bool {
		return Valid(fl.Field().String())
	})
}
