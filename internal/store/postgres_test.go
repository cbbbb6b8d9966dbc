package store

import "testing"

func TestNullIfEmpty(t *testing.T) {
	if v := nullIfEmpty(""); v != nil {
		t.Fatalf("empty string should map to nil, got %v", v)
	}
	if v := nullIfEmpty("09:00"); v != "09:00" {
		t.Fatalf("want 09:00, got %v", v)
	}
}
