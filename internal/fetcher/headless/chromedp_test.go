package headless

import (
	"testing"
	"time"
)

func TestNewValidatesConfig(t *testing.T) {
	if _, err := New(Config{MaxParallel: -1}); err == nil {
		t.Fatal("expected error for negative max parallel")
	}

	b, err := New(Config{MaxParallel: 1})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()

	if b.cfg.NavigationTimeout != 60*time.Second {
		t.Fatalf("expected default navigation timeout, got %s", b.cfg.NavigationTimeout)
	}
	if cap(b.limiter) != 1 {
		t.Fatalf("expected limiter capacity 1, got %d", cap(b.limiter))
	}
}

func TestNewUnlimitedParallelism(t *testing.T) {
	b, err := New(Config{})
	if err != nil {
		t.Fatalf("New error: %v", err)
	}
	defer b.Close()
	if b.limiter != nil {
		t.Fatal("expected nil limiter when max parallel is zero")
	}
}
