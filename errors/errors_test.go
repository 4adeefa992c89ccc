package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			result := test.class.String()
			if result != test.expected {
				t.Errorf("expected %s, got %s", test.expected, result)
			}
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"storage unavailable", ErrStorageUnavailable, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"context canceled", context.Canceled, true},
		{"invalid data", ErrInvalidData, false},
		{"no responders", fmt.Errorf("nats: no responders available for request"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("test")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("test")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			result := IsTransient(test.err)
			if result != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, result, test.err)
			}
		})
	}
}

func TestIsInvalid(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"validation", ErrValidation, true},
		{"mission diff uids", ErrMissionDiffUIDs, true},
		{"wrapped validation", fmt.Errorf("layer 4: %w", ErrValidation), true},
		{"upstream", ErrStorageUnavailable, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := IsInvalid(test.err); got != test.expected {
				t.Errorf("expected %v, got %v for error: %v", test.expected, got, test.err)
			}
		})
	}
}

func TestClassify_InvalidBeatsTransientPattern(t *testing.T) {
	err := Validation("Registry", "Add", "connection %d has no name", 3)
	if got := Classify(err); got != ErrorInvalid {
		t.Errorf("expected invalid, got %s", got)
	}
	if !errors.Is(err, ErrValidation) {
		t.Error("expected ErrValidation in chain")
	}
}

func TestWrap(t *testing.T) {
	if Wrap(nil, "C", "M", "a") != nil {
		t.Fatal("Wrap(nil) should be nil")
	}

	base := errors.New("boom")
	err := Wrap(base, "Tasker", "process", "send batch")
	if err.Error() != "Tasker.process: send batch failed: boom" {
		t.Errorf("unexpected message: %s", err)
	}
	if !errors.Is(err, base) {
		t.Error("wrapped error should unwrap to base")
	}
}

func TestWrapClassified(t *testing.T) {
	base := errors.New("boom")

	transient := WrapTransient(base, "Queue", "process", "put")
	if !IsTransient(transient) || IsFatal(transient) {
		t.Error("expected transient classification")
	}

	invalid := WrapInvalid(base, "Resolver", "Compile", "parse template")
	if !IsInvalid(invalid) {
		t.Error("expected invalid classification")
	}

	fatal := WrapFatal(base, "Config", "Load", "read file")
	if !IsFatal(fatal) {
		t.Error("expected fatal classification")
	}

	var ce *ClassifiedError
	if !errors.As(invalid, &ce) {
		t.Fatal("expected ClassifiedError")
	}
	if ce.Component != "Resolver" || ce.Operation != "Compile" {
		t.Errorf("unexpected component/operation: %s/%s", ce.Component, ce.Operation)
	}
	if !strings.Contains(ce.Error(), "parse template failed") {
		t.Errorf("unexpected message: %s", ce.Error())
	}
}
