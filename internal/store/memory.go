package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

// MemoryStore keeps rooms in a process-local map. Contents are lost on restart.
type MemoryStore struct {
	rooms map[string]*room.Room
	mu    sync.RWMutex
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rooms: make(map[string]*room.Room),
	}
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*room.Room, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.rooms[id]
	if !ok {
		return nil, nil
	}
	return r.Clone(), nil
}

func (s *MemoryStore) Create(ctx context.Context, id string, at time.Time) (*room.Room, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		r = room.New(id, at)
		s.rooms[id] = r
	}
	return r.Clone(), nil
}

func (s *MemoryStore) SetBuffer(ctx context.Context, id, buffer string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return fmt.Errorf("room %q not found", id)
	}
	r.Buffer = buffer
	r.LastActive = at
	return nil
}

func (s *MemoryStore) AppendChat(ctx context.Context, id string, entry room.ChatEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.rooms[id]
	if !ok {
		return fmt.Errorf("room %q not found", id)
	}
	r.Transcript = append(r.Transcript, entry)
	r.LastActive = entry.SentAt
	return nil
}

func (s *MemoryStore) Touch(ctx context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r, ok := s.rooms[id]; ok {
		r.LastActive = at
	}
	return nil
}

func (s *MemoryStore) List(ctx context.Context) ([]room.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summaries := make([]room.Summary, 0, len(s.rooms))
	for _, r := range s.rooms {
		summaries = append(summaries, r.Summarize(0))
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].ID < summaries[j].ID
	})
	return summaries, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rooms, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}
