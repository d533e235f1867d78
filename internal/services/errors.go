package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Operation names used in errors, logs and metrics.
const (
	OpEvaluate   = "evaluate"
	OpSuggestion = "suggestion"
	OpChat       = "chat"
	OpExport     = "export"
)

// ValidationError is returned when inputs are malformed and never reach the service.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return "Validation error"
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "Validation error: " + strings.Join(parts, ", ")
}

// TransportError is a network or service failure. Message carries the
// service's own wording when it supplied one.
type TransportError struct {
	Op         string
	StatusCode int
	Message    string
	Err        error
}

func (e *TransportError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s request failed with status %d", e.Op, e.StatusCode)
	}
	return e.Op + " request failed"
}

func (e *TransportError) Unwrap() error { return e.Err }

// InvalidStateError is returned when a command's precondition is not met.
type InvalidStateError struct{ Message string }

func (e *InvalidStateError) Error() string { return e.Message }

// ErrNonSuccessStatus marks a chat reply whose status field was not "success".
var ErrNonSuccessStatus = errors.New("chat reply status was not success")

// Error kinds as exposed to the presentation layer.
const (
	KindValidation   = "validation"
	KindTransport    = "transport"
	KindInvalidState = "invalid_state"
	KindInternal     = "internal"
)

// KindOf classifies err into one of the error kinds.
func KindOf(err error) string {
	var ve *ValidationError
	var te *TransportError
	var ie *InvalidStateError
	switch {
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &te):
		return KindTransport
	case errors.As(err, &ie):
		return KindInvalidState
	default:
		return KindInternal
	}
}
