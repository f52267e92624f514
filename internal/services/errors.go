package services

import (
	"context"
	"errors"
	"strings"
)

// Sentinel markers classify stage failures. Wrap tags an error with exactly one
// of these at the point the failure originates.
var (
	ErrInvalidInput     = errors.New("invalid input")
	ErrNotFound         = errors.New("not found")
	ErrExecution        = errors.New("execution error")
	ErrTimeout          = errors.New("timeout")
	ErrRetriesExhausted = errors.New("retries exhausted")
	ErrCancelled        = errors.New("cancelled")
)

// Kind is the persisted form of an error classification.
type Kind string

const (
	KindInvalidInput     Kind = "invalid_input"
	KindNotFound         Kind = "not_found"
	KindExecution        Kind = "execution_error"
	KindTimeout          Kind = "timeout"
	KindRetriesExhausted Kind = "retries_exhausted"
	KindCancelled        Kind = "cancelled"
)

var markerKinds = []struct {
	marker error
	kind   Kind
}{
	{ErrInvalidInput, KindInvalidInput},
	{ErrNotFound, KindNotFound},
	{ErrExecution, KindExecution},
	{ErrTimeout, KindTimeout},
	{ErrRetriesExhausted, KindRetriesExhausted},
	{ErrCancelled, KindCancelled},
	{context.DeadlineExceeded, KindTimeout},
	{context.Canceled, KindCancelled},
}

// ParseKind converts a persisted kind string back into a Kind. Unknown values
// map to KindExecution.
func ParseKind(value string) Kind {
	switch k := Kind(strings.TrimSpace(strings.ToLower(value))); k {
	case KindInvalidInput, KindNotFound, KindExecution, KindTimeout, KindRetriesExhausted, KindCancelled:
		return k
	default:
		return KindExecution
	}
}

// Marker returns the sentinel error for kind.
func (k Kind) Marker() error {
	for _, mk := range markerKinds[:6] {
		if mk.kind == k {
			return mk.marker
		}
	}
	return ErrExecution
}

// StageError is a classified failure raised by a stage activity or by the
// runtime around it.
type StageError struct {
	Marker    error
	Stage     string
	Operation string
	Message   string
	Cause     error
}

func (e *StageError) Error() string {
	detail := buildDetail(e.Stage, e.Operation, e.Message)
	marker := ErrExecution
	if e.Marker != nil {
		marker = e.Marker
	}
	if e.Cause != nil {
		return marker.Error() + ": " + detail + ": " + e.Cause.Error()
	}
	return marker.Error() + ": " + detail
}

func (e *StageError) Unwrap() []error {
	marker := e.Marker
	if marker == nil {
		marker = ErrExecution
	}
	if e.Cause == nil {
		return []error{marker}
	}
	return []error{marker, e.Cause}
}

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one of the
// exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrExecution
	}
	return &StageError{
		Marker:    marker,
		Stage:     strings.TrimSpace(stage),
		Operation: strings.TrimSpace(operation),
		Message:   strings.TrimSpace(message),
		Cause:     err,
	}
}

// Exhausted marks the final failure of a retried call. The originating
// classification stays reachable through RootKind.
func Exhausted(stage string, attempts int, last error) error {
	msg := "all attempts failed"
	if attempts == 1 {
		msg = "single attempt failed"
	}
	return Wrap(ErrRetriesExhausted, stage, "retry", msg, last)
}

// KindOf returns the outermost classification of err. Unclassified errors are
// execution errors; a nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	if kind, ok := firstKind(err); ok {
		return kind
	}
	return KindExecution
}

// RootKind returns the classification of the failure that started the chain.
// Only retries_exhausted looks inward: the root is the first marker wrapped
// beneath it. Every other kind is its own root.
func RootKind(err error) Kind {
	kind := KindOf(err)
	if kind != KindRetriesExhausted {
		return kind
	}
	root := Kind("")
	seenExhausted := false
	walk(err, func(e error) bool {
		if e == ErrRetriesExhausted {
			seenExhausted = true
			return true
		}
		if !seenExhausted {
			return true
		}
		for _, mk := range markerKinds {
			if e == mk.marker {
				root = mk.kind
				return false
			}
		}
		return true
	})
	if root == "" {
		return KindExecution
	}
	return root
}

// IsCancellation reports whether err is classified as a cancellation.
func IsCancellation(err error) bool {
	return KindOf(err) == KindCancelled
}

// ErrorDetails captures the structured pieces of a classified error for logs and
// persisted failure records.
type ErrorDetails struct {
	Kind      Kind
	RootKind  Kind
	Stage     string
	Operation string
	Message   string
	Cause     string
}

// Details extracts structured information from err.
func Details(err error) ErrorDetails {
	if err == nil {
		return ErrorDetails{}
	}
	details := ErrorDetails{Kind: KindOf(err), RootKind: RootKind(err), Message: err.Error()}
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		details.Stage = stageErr.Stage
		details.Operation = stageErr.Operation
		if stageErr.Message != "" {
			details.Message = stageErr.Message
		}
		if stageErr.Cause != nil {
			details.Cause = stageErr.Cause.Error()
		}
	}
	return details
}

func firstKind(err error) (Kind, bool) {
	var found Kind
	walk(err, func(e error) bool {
		for _, mk := range markerKinds {
			if e == mk.marker {
				found = mk.kind
				return false
			}
		}
		return true
	})
	return found, found != ""
}

// walk visits err and its wrapped errors depth first, in wrap order, until visit
// returns false.
func walk(err error, visit func(error) bool) bool {
	if err == nil {
		return true
	}
	if !visit(err) {
		return false
	}
	switch x := err.(type) {
	case interface{ Unwrap() error }:
		return walk(x.Unwrap(), visit)
	case interface{ Unwrap() []error }:
		for _, inner := range x.Unwrap() {
			if !walk(inner, visit) {
				return false
			}
		}
	}
	return true
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "stage failure"
	}
	return strings.Join(parts, ": ")
}
