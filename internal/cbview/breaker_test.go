package cbview

import (
	"testing"
	"time"
)

func TestAllowClosedByDefault(t *testing.T) {
	b := New(Config{})
	if !b.Allow("p1") {
		t.Fatal("expected a fresh provider to be allowed")
	}
}

func TestTripsOpenAtThreshold(t *testing.T) {
	b := New(Config{ErrorThreshold: 3})
	b.RecordFailure("p1")
	b.RecordFailure("p1")
	if b.StateLabel("p1") != "closed" {
		t.Fatalf("expected still closed below threshold, got %s", b.StateLabel("p1"))
	}
	b.RecordFailure("p1")
	if b.StateLabel("p1") != "open" {
		t.Fatalf("expected open at threshold, got %s", b.StateLabel("p1"))
	}
	if b.Allow("p1") {
		t.Fatal("expected open breaker to reject")
	}
}

func TestSuccessResetsToClosed(t *testing.T) {
	b := New(Config{ErrorThreshold: 1})
	b.RecordFailure("p1")
	if b.StateLabel("p1") != "open" {
		t.Fatal("expected open after one failure at threshold 1")
	}
	b.RecordSuccess("p1")
	if b.StateLabel("p1") != "closed" {
		t.Fatal("expected success to reset to closed")
	}
}

func TestHalfOpenAllowsSingleProbe(t *testing.T) {
	b := New(Config{ErrorThreshold: 1, HalfOpenTimeout: time.Millisecond})
	b.RecordFailure("p1")
	time.Sleep(2 * time.Millisecond)
	if !b.Allow("p1") {
		t.Fatal("expected half-open transition to allow the first probe")
	}
	if b.Allow("p1") {
		t.Fatal("expected a second concurrent request to be rejected while the probe is in flight")
	}
}
