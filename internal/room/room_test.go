package room

import (
	"testing"
	"time"
)

func TestCloneIsIndependent(t *testing.T) {
	now := time.Now()
	r := New("room-1", now)
	r.Transcript = append(r.Transcript, ChatEntry{Author: "alice", Text: "hi", SentAt: now})

	c := r.Clone()
	c.Transcript[0].Text = "changed"
	c.Transcript = append(c.Transcript, ChatEntry{Author: "bob", Text: "yo", SentAt: now})

	if r.Transcript[0].Text != "hi" {
		t.Errorf("Original entry mutated through clone: %q", r.Transcript[0].Text)
	}
	if len(r.Transcript) != 1 {
		t.Errorf("Expected original transcript length 1, got %d", len(r.Transcript))
	}
}

func TestSummarize(t *testing.T) {
	now := time.Now()
	r := New("room-1", now)
	r.Buffer = "package main"
	r.Transcript = append(r.Transcript, ChatEntry{Author: "alice", Text: "hi", SentAt: now})

	s := r.Summarize(3)
	if s.ID != "room-1" || s.Members != 3 || s.BufferBytes != 12 || s.MessageCount != 1 {
		t.Errorf("Unexpected summary: %+v", s)
	}
}

func TestShouldEvict(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	policy := EvictionPolicy{IdleTTL: 10 * time.Minute}

	tests := []struct {
		name     string
		policy   EvictionPolicy
		summary  Summary
		expected bool
	}{
		{
			name:     "empty and idle past threshold",
			policy:   policy,
			summary:  Summary{Members: 0, LastActive: now.Add(-11 * time.Minute)},
			expected: true,
		},
		{
			name:     "empty and idle exactly at threshold",
			policy:   policy,
			summary:  Summary{Members: 0, LastActive: now.Add(-10 * time.Minute)},
			expected: true,
		},
		{
			name:     "empty but recently active",
			policy:   policy,
			summary:  Summary{Members: 0, LastActive: now.Add(-time.Minute)},
			expected: false,
		},
		{
			name:     "occupied rooms are never evicted",
			policy:   policy,
			summary:  Summary{Members: 1, LastActive: now.Add(-24 * time.Hour)},
			expected: false,
		},
		{
			name:     "zero ttl disables eviction",
			policy:   EvictionPolicy{},
			summary:  Summary{Members: 0, LastActive: now.Add(-24 * time.Hour)},
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.policy.ShouldEvict(tt.summary, now); got != tt.expected {
				t.Errorf("ShouldEvict() = %v, want %v", got, tt.expected)
			}
		})
	}
}
