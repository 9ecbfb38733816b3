package xid

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestNewPrefixesUUID(t *testing.T) {
	id := New("cls")
	if !strings.HasPrefix(id, "cls-") {
		t.Fatalf("expected cls- prefix, got %s", id)
	}
	if _, err := uuid.Parse(strings.TrimPrefix(id, "cls-")); err != nil {
		t.Fatalf("expected uuid suffix, got %s: %v", id, err)
	}
	if New("cls") == id {
		t.Fatalf("expected unique ids")
	}
}
