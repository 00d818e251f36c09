package utils

import (
	"testing"
)

func TestBytesToString(t *testing.T) {
	if got := BytesToString([]byte("content-encoding")); got != "content-encoding" {
		t.Fatalf("unexpected conversion: %q", got)
	}
	if got := BytesToString(nil); got != "" {
		t.Fatalf("nil slice must yield empty string, got %q", got)
	}
	if got := BytesToString([]byte{}); got != "" {
		t.Fatalf("empty slice must yield empty string, got %q", got)
	}
}
