package identity

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryDirectory_FindByUsername(t *testing.T) {
	d := NewMemoryDirectory()
	u := d.Add(User{Username: "alice"})
	if u.ID == "" {
		t.Fatalf("expected generated id")
	}

	got, err := d.FindByUsername(context.Background(), "alice")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.ID != u.ID {
		t.Fatalf("expected id %q, got %q", u.ID, got.ID)
	}

	if _, err := d.FindByUsername(context.Background(), "bob"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMemoryDirectory_FindByID(t *testing.T) {
	d := NewMemoryDirectory()
	u := d.Add(User{ID: "u-1", Username: "alice"})

	got, err := d.FindByID(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if got.Username != u.Username {
		t.Fatalf("expected username %q, got %q", u.Username, got.Username)
	}

	if _, err := d.FindByID(context.Background(), "u-2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
