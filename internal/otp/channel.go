package otp

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Channel is the contact detail a flow verifies.
type Channel int

const (
	Email Channel = iota
	Mobile
)

// OTPLength is the number of digits in a one-time passcode.
const OTPLength = 6

var validate = validator.New()

func (c Channel) String() string {
	switch c {
	case Email:
		return "email"
	case Mobile:
		return "mobile"
	default:
		return "unknown"
	}
}

// Label is the user-facing name of the field.
func (c Channel) Label() string {
	switch c {
	case Email:
		return "Email"
	case Mobile:
		return "Mobile Number"
	default:
		return "Value"
	}
}

func (c Channel) tag() string {
	if c == Mobile {
		return "required,number,len=10"
	}
	return "required,email"
}

// ValidationError is a client-side input error; no network call was made.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateTarget checks value for channel c against the current stored value.
func (c Channel) ValidateTarget(value, current string) *ValidationError {
	value = strings.TrimSpace(value)
	noun := "email address"
	if c == Mobile {
		noun = "mobile number"
	}
	if value == "" {
		return &ValidationError{Field: c.String(), Message: "Please enter your " + noun}
	}
	if err := validate.Var(value, c.tag()); err != nil {
		if c == Mobile {
			return &ValidationError{Field: c.String(), Message: "Please enter a valid 10-digit mobile number"}
		}
		return &ValidationError{Field: c.String(), Message: "Please enter a valid email address"}
	}
	if c.sameAs(value, current) {
		return &ValidationError{Field: c.String(), Message: fmt.Sprintf("New %s must be different from the current one", noun)}
	}
	return nil
}

func (c Channel) sameAs(value, current string) bool {
	current = strings.TrimSpace(current)
	if current == "" {
		return false
	}
	if c == Email {
		return strings.EqualFold(value, current)
	}
	return value == current
}

// ValidateCode checks that code is exactly OTPLength digits.
func ValidateCode(code string) *ValidationError {
	if err := validate.Var(strings.TrimSpace(code), fmt.Sprintf("required,number,len=%d", OTPLength)); err != nil {
		return &ValidationError{Field: "otp", Message: fmt.Sprintf("Please enter the %d-digit OTP", OTPLength)}
	}
	return nil
}
