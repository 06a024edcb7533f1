package resolver

import (
	"errors"
	"fmt"
)

// ErrQueryTimeout is returned when a query outlives its deadline
var ErrQueryTimeout = errors.New("duty query timed out")

// KindUnknownClassification is the NotFoundError kind for codes with no
// rated ancestor
const KindUnknownClassification = "UnknownClassification"

// NotFoundError reports that neither the code nor any ancestor carries a
// general rate
type NotFoundError struct {
	Code string
	Kind string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: no rated classification for code %s or its ancestors", e.Kind, e.Code)
}

// ValidationError reports a malformed request field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
