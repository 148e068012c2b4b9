package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestDeclineClassification(t *testing.T) {
	sentinel := NewDecline("offers: same asset")
	wrapped := fmt.Errorf("make offer: %w", sentinel)
	if !IsDeclined(wrapped) {
		t.Fatalf("expected wrapped decline to be classified as declined")
	}
	if IsFatal(wrapped) {
		t.Fatalf("decline must not be fatal")
	}
	if !stderrors.Is(wrapped, sentinel) {
		t.Fatalf("expected sentinel identity to survive wrapping")
	}
	if got := Declinef("missing %s", "offer").Error(); got != "missing offer" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestFatalClassification(t *testing.T) {
	cause := stderrors.New("decode failed")
	err := Fatal(cause)
	if !IsFatal(err) || IsDeclined(err) {
		t.Fatalf("expected fatal classification")
	}
	if !stderrors.Is(err, cause) {
		t.Fatalf("expected cause to be preserved")
	}
	if Fatal(err) != err {
		t.Fatalf("expected Fatal to be idempotent")
	}
	if Fatal(nil) != nil {
		t.Fatalf("expected nil passthrough")
	}
	if !IsFatal(fmt.Errorf("wrap: %w", Fatalf("balance of %s negative", "alice"))) {
		t.Fatalf("expected wrapped Fatalf to be fatal")
	}
	if IsDeclined(nil) || IsFatal(nil) {
		t.Fatalf("nil must not classify")
	}
}
