package services

import (
	"errors"
	"strings"
	"testing"
)

func TestWrapTagsMarker(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(ErrTimeout, "cloud", "event list", "page fetch", cause)

	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout marker, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("expected wrapped cause, got %v", err)
	}
	for _, fragment := range []string{"cloud", "event list", "page fetch", "connection refused"} {
		if !strings.Contains(err.Error(), fragment) {
			t.Errorf("error %q missing %q", err.Error(), fragment)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := Wrap(nil, "ledger", "commit", "", nil)
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("nil marker should default to ErrTransient, got %v", err)
	}
}

func TestWrapWithoutCause(t *testing.T) {
	err := Wrap(ErrNotFound, "cloud", "device lookup", "no matching doorbell", nil)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if strings.Contains(err.Error(), "%!") {
		t.Errorf("malformed error string: %q", err.Error())
	}
}

func TestBuildDetailEmpty(t *testing.T) {
	if got := buildDetail("", "", ""); got != "service failure" {
		t.Fatalf("buildDetail fallback = %q", got)
	}
}
