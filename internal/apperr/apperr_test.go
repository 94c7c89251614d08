package apperr

import (
	"errors"
	"fmt"
	"testing"
)

func TestKindsMatchThroughWrapping(t *testing.T) {
	err := fmt.Errorf("get chapter: %w", NotFound("bible.GetChapter", "chapter %d not found", 4))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if errors.Is(err, ErrValidation) {
		t.Fatal("NotFound must not match ErrValidation")
	}
	if got := Message(err); got != "chapter 4 not found" {
		t.Errorf("Message = %q, want %q", got, "chapter 4 not found")
	}
}

func TestErrorString(t *testing.T) {
	cause := errors.New("UNIQUE constraint failed: readers.name")
	err := Conflict("reader.Create", cause, "reader %q already exists", "Ana")
	want := `reader.Create: reader "Ana" already exists: UNIQUE constraint failed: readers.name`
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
	if !errors.Is(err, cause) {
		t.Error("expected cause to be reachable via Unwrap")
	}
}
