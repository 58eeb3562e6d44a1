package store

import (
	"context"
	"testing"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

// runStoreTests exercises behaviour every Store implementation must share.
func runStoreTests(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		r, err := s.Get(context.Background(), "missing")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r != nil {
			t.Error("Missing room should return nil")
		}
	})

	t.Run("CreateIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		created := time.Now()

		r, err := s.Create(ctx, "room-1", created)
		if err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
		if r.Buffer != "" || len(r.Transcript) != 0 {
			t.Errorf("New room should be empty, got %+v", r)
		}

		if err := s.SetBuffer(ctx, "room-1", "hello", created.Add(time.Second)); err != nil {
			t.Fatalf("Failed to set buffer: %v", err)
		}

		again, err := s.Create(ctx, "room-1", created.Add(time.Hour))
		if err != nil {
			t.Fatalf("Failed to re-create room: %v", err)
		}
		if again.Buffer != "hello" {
			t.Errorf("Create should not reset an existing room, buffer = %q", again.Buffer)
		}
		if !again.CreatedAt.Equal(created) {
			t.Errorf("CreatedAt changed: %v != %v", again.CreatedAt, created)
		}
	})

	t.Run("BufferAndTranscript", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		if _, err := s.Create(ctx, "room-1", now); err != nil {
			t.Fatalf("Failed to create room: %v", err)
		}
		if err := s.SetBuffer(ctx, "room-1", "v1", now); err != nil {
			t.Fatalf("Failed to set buffer: %v", err)
		}
		if err := s.SetBuffer(ctx, "room-1", "v2", now); err != nil {
			t.Fatalf("Failed to set buffer: %v", err)
		}

		entries := []room.ChatEntry{
			{Author: "alice", Text: "first", SentAt: now.Add(time.Second)},
			{Author: "bob", Text: "second", SentAt: now.Add(2 * time.Second)},
			{Author: "alice", Text: "third", SentAt: now.Add(3 * time.Second)},
		}
		for _, e := range entries {
			if err := s.AppendChat(ctx, "room-1", e); err != nil {
				t.Fatalf("Failed to append chat: %v", err)
			}
		}

		r, err := s.Get(ctx, "room-1")
		if err != nil || r == nil {
			t.Fatalf("Failed to get room: %v", err)
		}
		if r.Buffer != "v2" {
			t.Errorf("Expected last written buffer 'v2', got %q", r.Buffer)
		}
		if len(r.Transcript) != len(entries) {
			t.Fatalf("Expected %d entries, got %d", len(entries), len(r.Transcript))
		}
		for i, e := range entries {
			got := r.Transcript[i]
			if got.Author != e.Author || got.Text != e.Text || !got.SentAt.Equal(e.SentAt) {
				t.Errorf("Entry %d mismatch: got %+v, want %+v", i, got, e)
			}
		}
		if !r.LastActive.Equal(entries[2].SentAt) {
			t.Errorf("LastActive should follow the latest chat entry, got %v", r.LastActive)
		}
	})

	t.Run("MutationsOnMissingRoomFail", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		if err := s.SetBuffer(ctx, "missing", "x", time.Now()); err == nil {
			t.Error("SetBuffer on a missing room should fail")
		}
		if err := s.AppendChat(ctx, "missing", room.ChatEntry{Author: "a", Text: "b", SentAt: time.Now()}); err == nil {
			t.Error("AppendChat on a missing room should fail")
		}
		if err := s.Touch(ctx, "missing", time.Now()); err != nil {
			t.Errorf("Touch on a missing room should be a no-op, got %v", err)
		}
	})

	t.Run("ListAndDelete", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Now()

		for _, id := range []string{"b", "a", "c"} {
			if _, err := s.Create(ctx, id, now); err != nil {
				t.Fatalf("Failed to create room %s: %v", id, err)
			}
		}
		if err := s.SetBuffer(ctx, "a", "héllo", now); err != nil {
			t.Fatalf("Failed to set buffer: %v", err)
		}
		if err := s.AppendChat(ctx, "a", room.ChatEntry{Author: "x", Text: "y", SentAt: now}); err != nil {
			t.Fatalf("Failed to append chat: %v", err)
		}

		summaries, err := s.List(ctx)
		if err != nil {
			t.Fatalf("Failed to list rooms: %v", err)
		}
		if len(summaries) != 3 {
			t.Fatalf("Expected 3 rooms, got %d", len(summaries))
		}
		if summaries[0].ID != "a" || summaries[1].ID != "b" || summaries[2].ID != "c" {
			t.Errorf("Rooms not sorted by id: %+v", summaries)
		}
		if summaries[0].BufferBytes != len("héllo") || summaries[0].MessageCount != 1 {
			t.Errorf("Unexpected summary for room a: %+v", summaries[0])
		}

		if err := s.Delete(ctx, "a"); err != nil {
			t.Fatalf("Failed to delete room: %v", err)
		}
		r, err := s.Get(ctx, "a")
		if err != nil {
			t.Fatalf("Unexpected error: %v", err)
		}
		if r != nil {
			t.Error("Deleted room should not exist")
		}

		// A recreated room starts empty
		r, err = s.Create(ctx, "a", now)
		if err != nil {
			t.Fatalf("Failed to recreate room: %v", err)
		}
		if r.Buffer != "" || len(r.Transcript) != 0 {
			t.Errorf("Recreated room should be empty, got %+v", r)
		}
	})

	t.Run("IDsSharingSeparatorsStayIsolated", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		now := time.Unix(1700000000, 0)

		if _, err := s.Create(ctx, "x", now); err != nil {
			t.Fatalf("Failed to create room x: %v", err)
		}
		if err := s.AppendChat(ctx, "x", room.ChatEntry{Author: "a", Text: "hi", SentAt: now}); err != nil {
			t.Fatalf("Failed to append chat: %v", err)
		}

		for _, id := range []string{"x:chat", "chat:x", "room:x", "s"} {
			r, err := s.Create(ctx, id, now)
			if err != nil {
				t.Fatalf("Failed to create room %q: %v", id, err)
			}
			if r.Buffer != "" || len(r.Transcript) != 0 {
				t.Errorf("Room %q should start empty, got %+v", id, r)
			}
			if err := s.AppendChat(ctx, id, room.ChatEntry{Author: "b", Text: id, SentAt: now}); err != nil {
				t.Fatalf("Failed to append chat to %q: %v", id, err)
			}
			if err := s.SetBuffer(ctx, id, id, now); err != nil {
				t.Fatalf("Failed to set buffer of %q: %v", id, err)
			}
		}

		if err := s.AppendChat(ctx, "x", room.ChatEntry{Author: "a", Text: "again", SentAt: now}); err != nil {
			t.Fatalf("Failed to append chat after neighbours were created: %v", err)
		}
		r, err := s.Get(ctx, "x")
		if err != nil {
			t.Fatalf("Failed to get room x: %v", err)
		}
		if r.Buffer != "" || len(r.Transcript) != 2 {
			t.Errorf("Room x picked up another room's content: %+v", r)
		}

		summaries, err := s.List(ctx)
		if err != nil {
			t.Fatalf("Failed to list rooms: %v", err)
		}
		if len(summaries) != 5 {
			t.Errorf("Expected 5 rooms, got %+v", summaries)
		}
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, func(t *testing.T) Store {
		return NewMemoryStore()
	})
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	if _, err := s.Create(ctx, "room-1", time.Now()); err != nil {
		t.Fatalf("Failed to create room: %v", err)
	}
	if err := s.AppendChat(ctx, "room-1", room.ChatEntry{Author: "a", Text: "b", SentAt: time.Now()}); err != nil {
		t.Fatalf("Failed to append chat: %v", err)
	}

	r, _ := s.Get(ctx, "room-1")
	r.Buffer = "mutated"
	r.Transcript[0].Text = "mutated"

	again, _ := s.Get(ctx, "room-1")
	if again.Buffer != "" || again.Transcript[0].Text != "b" {
		t.Error("Mutating a returned room changed stored state")
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Options{Driver: "etcd"}); err == nil {
		t.Error("Expected error for unknown driver")
	}
}

func TestOpenDefaultsToMemory(t *testing.T) {
	s, err := Open(context.Background(), Options{})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Errorf("Expected *MemoryStore, got %T", s)
	}
}
