package backoff

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNextDoublesUntilCap(t *testing.T) {
	b := New(time.Second, 5*time.Second)
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := b.Next(); got != w {
			t.Fatalf("attempt %d: got %v, want %v", i, got, w)
		}
	}

	b.Reset()
	if got := b.Next(); got != time.Second {
		t.Errorf("after Reset got %v, want %v", got, time.Second)
	}
}

func TestNewNormalisesBounds(t *testing.T) {
	b := New(0, 0)
	if got := b.Next(); got != time.Second {
		t.Errorf("zero base should default to 1s, got %v", got)
	}
}

func TestWaitHonoursCancellation(t *testing.T) {
	b := New(time.Hour, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := b.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Wait() = %v, want context.Canceled", err)
	}
}

func TestWaitSleeps(t *testing.T) {
	b := New(time.Millisecond, time.Millisecond)
	if err := b.Wait(context.Background()); err != nil {
		t.Fatalf("Wait() unexpected error: %v", err)
	}
}
