// Package problem provides the error taxonomy for the order core and its
// RFC 7807 Problem Details envelope.
// See https://tools.ietf.org/html/rfc7807 for the envelope specification.
//
// The core produces typed errors; Classify maps them onto a Kind, and
// FromError renders the kind as a problem envelope with machine-readable
// code, correlation id and kind-specific extension fields. Internal error
// detail is never exposed to external callers.
package problem

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// Kind categorizes a surfaced error. Kinds are stable contract values;
// transports key retry and rendering behavior off them.
type Kind string

// Valid error kinds.
const (
	KindValidationFailure      Kind = "ValidationFailure"
	KindInvalidStateTransition Kind = "InvalidStateTransition"
	KindNotFound               Kind = "NotFound"
	KindDuplicate              Kind = "Duplicate"
	KindConflict               Kind = "Conflict"
	KindDataIntegrity          Kind = "DataIntegrity"
	KindExternal               Kind = "External"
	KindInternal               Kind = "Internal"
)

// Machine-readable error codes, one per kind.
const (
	CodeValidationFailure      = "OMS-VAL-001"
	CodeInvalidStateTransition = "OMS-STATE-001"
	CodeNotFound               = "OMS-ORDER-001"
	CodeDuplicate              = "OMS-ORDER-002"
	CodeConflict               = "OMS-LOCK-001"
	CodeDataIntegrity          = "OMS-DATA-001"
	CodeExternal               = "OMS-EXT-001"
	CodeInternal               = "OMS-INT-001"
)

// problemTypeBase is the URI prefix for the type member of the envelope.
const problemTypeBase = "https://ordercore.io/problems/"

// ValidKinds returns all error kinds.
func ValidKinds() []Kind {
	return []Kind{
		KindValidationFailure,
		KindInvalidStateTransition,
		KindNotFound,
		KindDuplicate,
		KindConflict,
		KindDataIntegrity,
		KindExternal,
		KindInternal,
	}
}

// IsValid checks whether the kind is one of the defined categories.
func (k Kind) IsValid() bool {
	for _, kind := range ValidKinds() {
		if k == kind {
			return true
		}
	}

	return false
}

// Code returns the machine-readable code for the kind.
func (k Kind) Code() string {
	switch k {
	case KindValidationFailure:
		return CodeValidationFailure
	case KindInvalidStateTransition:
		return CodeInvalidStateTransition
	case KindNotFound:
		return CodeNotFound
	case KindDuplicate:
		return CodeDuplicate
	case KindConflict:
		return CodeConflict
	case KindDataIntegrity:
		return CodeDataIntegrity
	case KindExternal:
		return CodeExternal
	default:
		return CodeInternal
	}
}

// HTTPStatus returns the HTTP-equivalent status for the kind. Transports
// that speak other protocols map it onto their own status space.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidationFailure:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidStateTransition, KindDuplicate, KindConflict, KindDataIntegrity:
		return http.StatusConflict
	case KindExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Title returns the human-readable title for the kind.
func (k Kind) Title() string {
	switch k {
	case KindValidationFailure:
		return "Validation Failure"
	case KindInvalidStateTransition:
		return "Invalid State Transition"
	case KindNotFound:
		return "Not Found"
	case KindDuplicate:
		return "Duplicate Order"
	case KindConflict:
		return "Concurrent Modification"
	case KindDataIntegrity:
		return "Data Integrity Violation"
	case KindExternal:
		return "External Dependency Unavailable"
	default:
		return "Internal Error"
	}
}

// Retryable reports whether a caller-side bounded retry can succeed.
// Only optimistic-lock conflicts qualify.
func (k Kind) Retryable() bool {
	return k == KindConflict
}

// Problem represents an RFC 7807 Problem Details structure extended with
// the machine-readable code, timestamp and kind-specific extension fields.
type Problem struct {
	Type          string
	Title         string
	Status        int
	Detail        string
	Code          string
	Kind          Kind
	Timestamp     time.Time
	CorrelationID string
	Extensions    map[string]any
}

// New creates a problem envelope for the given kind.
func New(kind Kind, detail string) *Problem {
	return &Problem{
		Type:      problemTypeBase + strings.ToLower(kind.Code()),
		Title:     kind.Title(),
		Status:    kind.HTTPStatus(),
		Detail:    detail,
		Code:      kind.Code(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// WithCorrelationID adds a correlation ID to the problem.
func (p *Problem) WithCorrelationID(correlationID string) *Problem {
	p.CorrelationID = correlationID

	return p
}

// WithExtension adds a kind-specific extension field to the problem.
// Reserved envelope member names are not overridable.
func (p *Problem) WithExtension(key string, value any) *Problem {
	if p.Extensions == nil {
		p.Extensions = make(map[string]any)
	}

	p.Extensions[key] = value

	return p
}

// Extension returns a named extension field, if set.
func (p *Problem) Extension(key string) (any, bool) {
	value, ok := p.Extensions[key]

	return value, ok
}

// MarshalJSON renders the envelope with extension fields merged at the top
// level, as RFC 7807 prescribes.
func (p *Problem) MarshalJSON() ([]byte, error) {
	envelope := map[string]any{
		"type":      p.Type,
		"title":     p.Title,
		"status":    p.Status,
		"code":      p.Code,
		"kind":      string(p.Kind),
		"timestamp": p.Timestamp.Format(time.RFC3339Nano),
	}

	if p.Detail != "" {
		envelope["detail"] = p.Detail
	}

	if p.CorrelationID != "" {
		envelope["correlationId"] = p.CorrelationID
	}

	for key, value := range p.Extensions {
		if _, reserved := envelope[key]; reserved {
			continue
		}

		envelope[key] = value
	}

	return json.Marshal(envelope)
}

// Error implements the error interface so a Problem can travel error
// channels at transport boundaries.
func (p *Problem) Error() string {
	return fmt.Sprintf("%s (%s): %s", p.Title, p.Code, p.Detail)
}
