package store

import (
	"context"
	"errors"
	"testing"
)

func TestUnavailable(t *testing.T) {
	if Unavailable("op", nil) != nil {
		t.Fatal("nil error must stay nil")
	}
	err := Unavailable("insert edge", errors.New("connection reset"))
	if !errors.Is(err, ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if got := err.Error(); got != "insert edge: storage unavailable: connection reset" {
		t.Fatalf("unexpected message %q", got)
	}
	if err := Unavailable("op", context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, ErrUnavailable) {
		t.Fatalf("context errors must pass through, got %v", err)
	}
}
