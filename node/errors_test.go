package node

import (
	"errors"
	"testing"
)

// TestNewErrorFormatsKindAndCause checks NodeError's message embeds both
// its kind and its wrapped cause, per spec §7.
func TestNewErrorFormatsKindAndCause(t *testing.T) {
	cause := errors.New("disk full")
	err := NewError(ErrPersistence, cause)

	if err.Kind != ErrPersistence {
		t.Fatalf("got kind %s, want Persistence", err.Kind)
	}
	if got, want := err.Error(), "Persistence: disk full"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
	if !errors.Is(err, err) {
		t.Fatal("expected errors.Is to hold for itself")
	}
	if errors.Unwrap(err) != cause {
		t.Fatal("expected Unwrap to return the wrapped cause")
	}
}

// TestNewErrorNilCause checks a NodeError with no cause still renders a
// readable message.
func TestNewErrorNilCause(t *testing.T) {
	err := NewError(ErrConfig, nil)
	if got, want := err.Error(), "Config"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestUnsupportedReorgCarriesDepth checks the spec §9 open question (a)
// decision surfaces the rejected reorg's depth in its message.
func TestUnsupportedReorgCarriesDepth(t *testing.T) {
	err := UnsupportedReorg(3)
	if err.Kind != ErrUnsupported {
		t.Fatalf("got kind %s, want Unsupported", err.Kind)
	}
	if got, want := err.Error(), "Unsupported: reorg of depth 3 is unsupported"; got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
