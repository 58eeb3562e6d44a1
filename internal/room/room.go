package room

import (
	"time"
)

// A collaborative editing session: one shared buffer and one chat transcript
type Room struct {
	ID         string
	Buffer     string
	Transcript []ChatEntry
	CreatedAt  time.Time
	LastActive time.Time
}

// One chat line. Immutable once appended.
type ChatEntry struct {
	Author string    `json:"username"`
	Text   string    `json:"message"`
	SentAt time.Time `json:"timestamp"`
}

// A live connection's membership in a room. ConnID is the identity key,
// Name is display metadata only and may collide with other members.
type Member struct {
	ConnID   string    `json:"conn_id"`
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joined_at"`
}

// Read-only view of a room used by listings and the eviction check
type Summary struct {
	ID           string    `json:"id"`
	Members      int       `json:"members"`
	BufferBytes  int       `json:"buffer_bytes"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastActive   time.Time `json:"last_active"`
}

// Creates an empty room
func New(id string, now time.Time) *Room {
	return &Room{
		ID:         id,
		Transcript: make([]ChatEntry, 0),
		CreatedAt:  now,
		LastActive: now,
	}
}

// Returns a deep copy so callers never share the transcript backing array
func (r *Room) Clone() *Room {
	c := *r
	c.Transcript = make([]ChatEntry, len(r.Transcript))
	copy(c.Transcript, r.Transcript)
	return &c
}

// Summarize builds a Summary with the given live member count.
func (r *Room) Summarize(members int) Summary {
	return Summary{
		ID:           r.ID,
		Members:      members,
		BufferBytes:  len(r.Buffer),
		MessageCount: len(r.Transcript),
		CreatedAt:    r.CreatedAt,
		LastActive:   r.LastActive,
	}
}

// EvictionPolicy decides when an empty room may be dropped from memory.
// An IdleTTL of zero or less disables eviction.
type EvictionPolicy struct {
	IdleTTL time.Duration
}

// ShouldEvict reports whether the room has no members and has been idle
// for at least IdleTTL as of now. It has no side effects.
func (p EvictionPolicy) ShouldEvict(s Summary, now time.Time) bool {
	if p.IdleTTL <= 0 || s.Members > 0 {
		return false
	}
	return now.Sub(s.LastActive) >= p.IdleTTL
}
