package problem

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestKindCode(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		kind Kind
		code string
	}{
		{KindValidationFailure, "OMS-VAL-001"},
		{KindInvalidStateTransition, "OMS-STATE-001"},
		{KindNotFound, "OMS-ORDER-001"},
		{KindDuplicate, "OMS-ORDER-002"},
		{KindConflict, "OMS-LOCK-001"},
		{KindDataIntegrity, "OMS-DATA-001"},
		{KindExternal, "OMS-EXT-001"},
		{KindInternal, "OMS-INT-001"},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.Code(); got != tt.code {
				t.Errorf("Code() = %s, want %s", got, tt.code)
			}
		})
	}
}

func TestKindHTTPStatus(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	tests := []struct {
		kind   Kind
		status int
	}{
		{KindValidationFailure, http.StatusBadRequest},
		{KindInvalidStateTransition, http.StatusConflict},
		{KindNotFound, http.StatusNotFound},
		{KindDuplicate, http.StatusConflict},
		{KindConflict, http.StatusConflict},
		{KindDataIntegrity, http.StatusConflict},
		{KindExternal, http.StatusServiceUnavailable},
		{KindInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			if got := tt.kind.HTTPStatus(); got != tt.status {
				t.Errorf("HTTPStatus() = %d, want %d", got, tt.status)
			}
		})
	}
}

func TestKindRetryable(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, kind := range ValidKinds() {
		want := kind == KindConflict
		if got := kind.Retryable(); got != want {
			t.Errorf("%s Retryable() = %v, want %v", kind, got, want)
		}
	}
}

func TestKindIsValid(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	for _, kind := range ValidKinds() {
		if !kind.IsValid() {
			t.Errorf("%s IsValid() = false", kind)
		}
	}

	if Kind("Bogus").IsValid() {
		t.Error(`Kind("Bogus") IsValid() = true`)
	}
}

func TestNewProblem(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	before := time.Now().UTC()
	p := New(KindInvalidStateTransition, "transition from FILLED to LIVE is not allowed")

	if p.Type != "https://ordercore.io/problems/oms-state-001" {
		t.Errorf("Type = %s", p.Type)
	}

	if p.Title != "Invalid State Transition" {
		t.Errorf("Title = %s", p.Title)
	}

	if p.Status != http.StatusConflict {
		t.Errorf("Status = %d", p.Status)
	}

	if p.Code != "OMS-STATE-001" {
		t.Errorf("Code = %s", p.Code)
	}

	if p.Timestamp.Before(before) {
		t.Errorf("Timestamp = %s, want >= %s", p.Timestamp, before)
	}
}

func TestProblemMarshalJSON(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	p := New(KindConflict, "order was modified concurrently").
		WithCorrelationID("corr-42").
		WithExtension("orderId", "order-1").
		WithExtension("expectedTxNr", int64(5)).
		WithExtension("status", "must not override reserved members")

	data, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var envelope map[string]any
	if err := json.Unmarshal(data, &envelope); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}

	if envelope["code"] != "OMS-LOCK-001" {
		t.Errorf("code = %v", envelope["code"])
	}

	if envelope["correlationId"] != "corr-42" {
		t.Errorf("correlationId = %v", envelope["correlationId"])
	}

	if envelope["orderId"] != "order-1" {
		t.Errorf("orderId extension = %v", envelope["orderId"])
	}

	if envelope["status"] != float64(http.StatusConflict) {
		t.Errorf("status = %v, extensions must not override reserved members", envelope["status"])
	}

	if _, ok := envelope["timestamp"].(string); !ok {
		t.Errorf("timestamp = %v, want RFC 3339 string", envelope["timestamp"])
	}
}

func TestProblemError(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	p := New(KindNotFound, "order order-9 does not exist")

	var err error = p
	for _, want := range []string{"Not Found", "OMS-ORDER-001", "order-9"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Error() = %q, want substring %q", err.Error(), want)
		}
	}
}

func TestErrorsAsProblem(t *testing.T) {
	if !testing.Short() {
		t.Skip("skipping unit test in non-short mode")
	}

	wrapped := errorsWrap(New(KindDuplicate, "replayed"))

	var p *Problem
	if !errors.As(wrapped, &p) {
		t.Fatalf("errors.As failed for %v", wrapped)
	}

	if p.Kind != KindDuplicate {
		t.Errorf("Kind = %s, want Duplicate", p.Kind)
	}
}

func errorsWrap(err error) error {
	return &wrappedErr{err: err}
}

type wrappedErr struct {
	err error
}

func (w *wrappedErr) Error() string {
	return "wrapped: " + w.err.Error()
}

func (w *wrappedErr) Unwrap() error {
	return w.err
}
