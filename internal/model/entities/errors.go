package entities

import (
	"errors"
	"fmt"
	"strconv"
)

// ValidationError reports input rejected at a boundary (ingest payload or
// threshold update). No state is mutated when it is returned.
type ValidationError struct {
	Field  string
	Min    float64
	Max    float64
	Value  float64
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return fmt.Sprintf("%s must be between %s and %s. Got: %s",
		e.Field, FormatNumber(e.Min), FormatNumber(e.Max), FormatNumber(e.Value))
}

// IsValidation reports whether err is (or wraps) a *ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// FormatNumber renders v with the shortest representation (150, -40, 5.5).
func FormatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
