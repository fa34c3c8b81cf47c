package model

import (
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "deal not found"}
	want := "NOT_FOUND: deal not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_implements_error(t *testing.T) {
	var _ error = (*ErrorEnvelope)(nil)
}

func TestNewNotFoundError(t *testing.T) {
	e := NewNotFoundError("stage missing")
	if e.Code != ErrNotFound {
		t.Errorf("Code = %q, want %q", e.Code, ErrNotFound)
	}
	if e.Message != "stage missing" {
		t.Errorf("Message = %q, want %q", e.Message, "stage missing")
	}
}

func TestNewInvariantViolationError(t *testing.T) {
	e := NewInvariantViolationError("last stage")
	if e.Code != ErrInvariantViolation {
		t.Errorf("Code = %q, want %q", e.Code, ErrInvariantViolation)
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "probability", Code: "RANGE", Message: "probability must be between 0 and 100"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "probability" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "probability")
	}
}

func TestNewFieldValidationError(t *testing.T) {
	e := NewFieldValidationError("name", "REQUIRED", "name is required")
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 || e.Details[0].Code != "REQUIRED" {
		t.Errorf("Details = %+v", e.Details)
	}
}

func TestNewInternalError(t *testing.T) {
	e := NewInternalError()
	if e.Code != ErrInternalError {
		t.Errorf("Code = %q, want %q", e.Code, ErrInternalError)
	}
}

func TestIsCode(t *testing.T) {
	wrapped := fmt.Errorf("move deal: %w", NewNotFoundError("deal d-1 not found"))

	if !IsCode(wrapped, ErrNotFound) {
		t.Error("IsCode(wrapped, NOT_FOUND) = false, want true")
	}
	if IsCode(wrapped, ErrConflict) {
		t.Error("IsCode(wrapped, CONFLICT) = true, want false")
	}
	if IsCode(fmt.Errorf("plain"), ErrNotFound) {
		t.Error("IsCode(plain error) = true, want false")
	}
	if IsCode(nil, ErrNotFound) {
		t.Error("IsCode(nil) = true, want false")
	}
}
