package validation

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Error is a rejected input, raised before any side effect.
type Error struct {
	Field   string
	Message string
}

func (e *Error) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Errorf builds a validation error for field.
func Errorf(field, format string, args ...any) error {
	return &Error{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is, or wraps, a validation error.
func IsValidation(err error) bool {
	var v *Error
	return errors.As(err, &v)
}

// Amount requires a positive integer amount in minor units.
func Amount(amount int64) error {
	if amount <= 0 {
		return Errorf("amount", "must be a positive integer in minor units")
	}
	return nil
}

// PIN requires exactly four ASCII digits.
func PIN(pin string) error {
	if len(pin) != 4 {
		return Errorf("pin", "must be exactly 4 digits")
	}
	for i := 0; i < len(pin); i++ {
		if pin[i] < '0' || pin[i] > '9' {
			return Errorf("pin", "must contain digits only")
		}
	}
	return nil
}

// Digits requires a non-empty numeric string of length between min and max.
func Digits(field, value string, min, max int) error {
	value = strings.TrimSpace(value)
	if len(value) < min || len(value) > max {
		if min == max {
			return Errorf(field, "must be %d digits", min)
		}
		return Errorf(field, "must be between %d and %d digits", min, max)
	}
	if _, err := strconv.ParseUint(value, 10, 64); err != nil {
		return Errorf(field, "must contain digits only")
	}
	return nil
}

// Required rejects blank strings.
func Required(field, value string) error {
	if strings.TrimSpace(value) == "" {
		return Errorf(field, "is required")
	}
	return nil
}

const DefaultPageSize = 20

// Page parses limit and offset query values. A limit above max is rejected rather
// than clamped so a client never silently receives fewer rows than it asked for.
func Page(rawLimit, rawOffset string, max int) (limit, offset int, err error) {
	limit = DefaultPageSize
	if max > 0 && limit > max {
		limit = max
	}
	if rawLimit != "" {
		limit, err = strconv.Atoi(rawLimit)
		if err != nil || limit < 1 {
			return 0, 0, Errorf("limit", "must be a positive integer")
		}
		if max > 0 && limit > max {
			return 0, 0, Errorf("limit", "must not exceed %d", max)
		}
	}
	if rawOffset != "" {
		offset, err = strconv.Atoi(rawOffset)
		if err != nil || offset < 0 {
			return 0, 0, Errorf("offset", "must be a non-negative integer")
		}
	}
	return limit, offset, nil
}
