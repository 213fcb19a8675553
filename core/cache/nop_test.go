package cache

import "testing"

func TestNop(t *testing.T) {
	n := NewNop()

	n.Put("key", "val")
	if val, ok := n.Get("key"); ok || val != nil {
		t.Errorf("expected miss, got %v, %v", val, ok)
	}

	n.Delete("key") // no-op, must not panic
}
