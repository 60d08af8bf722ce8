package cache

import (
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced Clock shared by the package tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestEntry_Expired(t *testing.T) {
	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		ttl     time.Duration
		at      time.Time
		expired bool
	}{
		{name: "no TTL never expires", ttl: 0, at: created.Add(1000 * time.Hour), expired: false},
		{name: "before deadline", ttl: time.Minute, at: created.Add(30 * time.Second), expired: false},
		{name: "exactly at deadline", ttl: time.Minute, at: created.Add(time.Minute), expired: false},
		{name: "past deadline", ttl: time.Minute, at: created.Add(time.Minute + time.Nanosecond), expired: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{Key: "k", CreatedAt: created, TTL: tt.ttl}
			if got := e.Expired(tt.at); got != tt.expired {
				t.Errorf("Expired() = %v, want %v", got, tt.expired)
			}
		})
	}
}

func TestEntry_ExpiresAt(t *testing.T) {
	created := time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC)

	e := &Entry{Key: "k", CreatedAt: created}
	if _, ok := e.ExpiresAt(); ok {
		t.Error("Expected no deadline without a TTL")
	}

	e.TTL = time.Hour
	deadline, ok := e.ExpiresAt()
	if !ok {
		t.Fatal("Expected a deadline with a TTL")
	}
	if !deadline.Equal(created.Add(time.Hour)) {
		t.Errorf("ExpiresAt() = %v, want %v", deadline, created.Add(time.Hour))
	}
}

func TestEntry_HasTag(t *testing.T) {
	e := &Entry{Key: "k", Tags: []string{"users", "sessions"}}

	if !e.HasTag("users") {
		t.Error("Expected HasTag to find 'users'")
	}
	if e.HasTag("orders") {
		t.Error("Expected HasTag to not find 'orders'")
	}
	if (&Entry{Key: "k"}).HasTag("users") {
		t.Error("Expected HasTag to be false with no tags")
	}
}

func TestEntry_Clone_Independent(t *testing.T) {
	original := &Entry{
		Key:     "k",
		Value:   "v",
		Version: 3,
		Tags:    []string{"a", "b"},
	}

	clone := original.Clone()
	clone.Version = 4
	clone.Tags[0] = "mutated"

	if original.Version != 3 {
		t.Errorf("Clone mutation leaked into original version: %d", original.Version)
	}
	if original.Tags[0] != "a" {
		t.Errorf("Clone mutation leaked into original tags: %v", original.Tags)
	}
}
