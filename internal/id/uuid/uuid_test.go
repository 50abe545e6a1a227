package uuid

import (
	"testing"

	guuid "github.com/google/uuid"
)

func TestNewIDProducesValidV7(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	id, err := gen.NewID()
	if err != nil {
		t.Fatalf("NewID() error = %v", err)
	}
	parsed, err := guuid.Parse(id)
	if err != nil {
		t.Fatalf("generated id %q is not a UUID: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Fatalf("expected version 7, got %d", parsed.Version())
	}
}

func TestNewIDsAreUnique(t *testing.T) {
	t.Parallel()

	gen := NewUUIDGenerator()
	seen := make(map[string]bool)
	for range 100 {
		id, err := gen.NewID()
		if err != nil {
			t.Fatalf("NewID() error = %v", err)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}
