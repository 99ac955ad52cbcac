// Package failure defines the error taxonomy shared by actions, guards,
// the executor and the trigger channels.
//
// Every failure that crosses a package boundary is a *Error carrying a Kind.
// The Kind drives retry classification and transport status mapping.
package failure

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies a failure.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindGuard
	KindDomain
	KindCircular
	KindNonRetriable
	KindPanic
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindGuard:
		return "guard"
	case KindDomain:
		return "domain"
	case KindCircular:
		return "circular"
	case KindNonRetriable:
		return "non_retriable"
	case KindPanic:
		return "panic"
	default:
		return "unknown"
	}
}

// Phase tells whether a validation failure concerns input or output.
type Phase string

const (
	PhaseInput  Phase = "input"
	PhaseOutput Phase = "output"
)

// FieldError is a single schema violation.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// Error is the structured failure type.
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Phase   Phase
	Fields  []FieldError
	Chain   []string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindValidation:
		if len(e.Fields) == 0 {
			return e.Message
		}
		parts := make([]string, 0, len(e.Fields))
		for _, f := range e.Fields {
			if f.Path == "" {
				parts = append(parts, f.Message)
				continue
			}
			parts = append(parts, f.Path+": "+f.Message)
		}
		return e.Message + ": " + strings.Join(parts, "; ")
	case KindCircular:
		return e.Message + ": " + strings.Join(e.Chain, " -> ")
	}
	if e.Message == "" && e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Validation builds a schema validation failure. Input failures are client
// errors; output failures mean the handler broke its own contract.
func Validation(phase Phase, fields []FieldError) *Error {
	status := http.StatusBadRequest
	if phase == PhaseOutput {
		status = http.StatusInternalServerError
	}
	return &Error{
		Kind:    KindValidation,
		Status:  status,
		Code:    "VALIDATION_FAILED",
		Message: string(phase) + " validation failed",
		Phase:   phase,
		Fields:  fields,
	}
}

// Guard builds an authorization rejection.
func Guard(status int, message string) *Error {
	if status == 0 {
		status = http.StatusForbidden
	}
	return &Error{Kind: KindGuard, Status: status, Code: "GUARD_REJECTED", Message: message}
}

// AsGuard converts any guard error into a guard failure, keeping the
// status of a structured error when it has one.
func AsGuard(err error) *Error {
	if err == nil {
		return nil
	}
	var fe *Error
	if errors.As(err, &fe) {
		if fe.Kind == KindGuard {
			return fe
		}
		g := Guard(fe.Status, err.Error())
		if fe.Status < 400 || fe.Status >= 500 {
			g.Status = http.StatusForbidden
		}
		g.Err = err
		return g
	}
	g := Guard(http.StatusForbidden, err.Error())
	g.Err = err
	return g
}

// Domain builds a business failure. Statuses below 500 are never retried.
func Domain(status int, code, message string) *Error {
	return &Error{Kind: KindDomain, Status: status, Code: code, Message: message}
}

// Domainf is Domain with a formatted message.
func Domainf(status int, code, format string, args ...any) *Error {
	return Domain(status, code, fmt.Sprintf(format, args...))
}

func NotFound(message string) *Error {
	return Domain(http.StatusNotFound, "NOT_FOUND", message)
}

func Conflict(message string) *Error {
	return Domain(http.StatusConflict, "CONFLICT", message)
}

func BadRequest(message string) *Error {
	return Domain(http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unavailable is a transient server-side failure and is retried.
func Unavailable(message string) *Error {
	return Domain(http.StatusServiceUnavailable, "UNAVAILABLE", message)
}

// Circular reports a re-entrant nested call. chain lists the keys in call
// order and ends with the key that closed the loop.
func Circular(chain []string) *Error {
	c := make([]string, len(chain))
	copy(c, chain)
	return &Error{
		Kind:    KindCircular,
		Status:  http.StatusInternalServerError,
		Code:    "CIRCULAR_CALL",
		Message: "circular action call",
		Chain:   c,
	}
}

// NonRetriable marks err so the executor stops retrying.
func NonRetriable(err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindNonRetriable, Code: "NON_RETRIABLE", Err: err}
}

// Panic wraps a recovered panic value.
func Panic(v any) *Error {
	if err, ok := v.(error); ok {
		return &Error{Kind: KindPanic, Status: http.StatusInternalServerError, Code: "PANIC", Message: "panic: " + err.Error(), Err: err}
	}
	return &Error{Kind: KindPanic, Status: http.StatusInternalServerError, Code: "PANIC", Message: fmt.Sprintf("panic: %v", v)}
}

// As returns the outermost *Error in err's chain.
func As(err error) (*Error, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}

// KindOf returns the kind of the outermost *Error, or KindUnknown.
func KindOf(err error) Kind {
	if fe, ok := As(err); ok {
		return fe.Kind
	}
	return KindUnknown
}

// HTTPStatus maps err to a transport status code.
func HTTPStatus(err error) int {
	if err == nil {
		return http.StatusOK
	}
	fe, ok := As(err)
	if !ok {
		return http.StatusInternalServerError
	}
	if fe.Kind == KindNonRetriable {
		if inner, ok := As(fe.Err); ok {
			return HTTPStatus(inner)
		}
		return http.StatusInternalServerError
	}
	if fe.Status == 0 {
		return http.StatusInternalServerError
	}
	return fe.Status
}

// CodeOf returns the machine readable code of err.
func CodeOf(err error) string {
	fe, ok := As(err)
	if !ok {
		return "INTERNAL"
	}
	if fe.Kind == KindNonRetriable {
		if inner, ok := As(fe.Err); ok {
			return inner.Code
		}
	}
	if fe.Code == "" {
		return "INTERNAL"
	}
	return fe.Code
}
