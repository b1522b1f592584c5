// Package uuid includes tests for the UUID generator wrapper.
package uuid

import (
	"testing"

	goUUID "github.com/google/uuid"
)

// TestGeneratorNewID ensures generated IDs are unique and valid UUIDs.
func TestGeneratorNewID(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id1, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	id2, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	if id1 == id2 {
		t.Fatalf("expected unique IDs, got %s and %s", id1, id2)
	}
	parsed, err := goUUID.Parse(id1)
	if err != nil {
		t.Fatalf("id1 not valid UUID: %v", err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestGeneratorNewBytes(t *testing.T) {
	t.Parallel()

	raw, err := NewUUIDGenerator().NewBytes()
	if err != nil {
		t.Fatalf("NewBytes() error = %v", err)
	}
	if raw == [16]byte{} {
		t.Fatal("expected non-zero id")
	}
	if goUUID.UUID(raw).Version() != 7 {
		t.Fatalf("expected version 7, got %d", goUUID.UUID(raw).Version())
	}
}
