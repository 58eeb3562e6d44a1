package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/registry"
	"github.com/manpreetbhatti/coderoom/internal/room"
	"github.com/manpreetbhatti/coderoom/internal/store"
)

type fakeEvictor struct {
	mu       sync.Mutex
	policies []room.EvictionPolicy
	result   int
	err      error
}

func (f *fakeEvictor) EvictIdle(ctx context.Context, policy room.EvictionPolicy) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policies = append(f.policies, policy)
	return f.result, f.err
}

func (f *fakeEvictor) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.policies)
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type nopChannel string

func (n nopChannel) ID() string         { return string(n) }
func (n nopChannel) Send(b []byte) bool { return true }
func (n nopChannel) Close()             {}

func TestSweepNowUsesCurrentPolicy(t *testing.T) {
	ev := &fakeEvictor{result: 2}
	s := New(ev, Config{Interval: time.Hour, IdleTTL: time.Minute}, zerolog.Nop())

	n, err := s.SweepNow(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("SweepNow = %d, %v", n, err)
	}

	s.SetPolicy(room.EvictionPolicy{IdleTTL: 3 * time.Minute})
	s.SweepNow(context.Background())

	if len(ev.policies) != 2 {
		t.Fatalf("Expected 2 evictor calls, got %d", len(ev.policies))
	}
	if ev.policies[1].IdleTTL != 3*time.Minute {
		t.Errorf("Expected updated policy, got %v", ev.policies[1].IdleTTL)
	}
}

func TestSweepDisabledPolicy(t *testing.T) {
	ev := &fakeEvictor{result: 5}
	s := New(ev, Config{Interval: time.Hour}, zerolog.Nop())

	n, err := s.SweepNow(context.Background())
	if err != nil || n != 0 {
		t.Errorf("Disabled policy should evict nothing, got %d, %v", n, err)
	}
	if ev.calls() != 0 {
		t.Error("Evictor should not be called when eviction is disabled")
	}
}

func TestSweepNowPropagatesErrors(t *testing.T) {
	boom := errors.New("boom")
	s := New(&fakeEvictor{err: boom}, Config{IdleTTL: time.Minute}, zerolog.Nop())

	if _, err := s.SweepNow(context.Background()); !errors.Is(err, boom) {
		t.Errorf("Expected boom, got %v", err)
	}
}

func TestServiceTicks(t *testing.T) {
	ev := &fakeEvictor{}
	s := New(ev, Config{Interval: 10 * time.Millisecond, IdleTTL: time.Minute}, zerolog.Nop())
	s.Start()

	deadline := time.Now().Add(2 * time.Second)
	for ev.calls() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.Stop()
	s.Stop()

	if ev.calls() < 2 {
		t.Errorf("Expected at least 2 sweeps, got %d", ev.calls())
	}

	after := ev.calls()
	time.Sleep(30 * time.Millisecond)
	if ev.calls() != after {
		t.Error("No sweeps should run after Stop")
	}
}

func TestSweepRegistryRooms(t *testing.T) {
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	reg := registry.New(store.NewMemoryStore(), zerolog.Nop(), registry.WithClock(c.Now))
	ctx, cancel := context.WithCancel(context.Background())
	go reg.Run(ctx)
	defer func() {
		cancel()
		<-reg.Done()
	}()

	reg.Join(nopChannel("a"), "abandoned", "alice")
	reg.Join(nopChannel("b"), "occupied", "bob")
	reg.Disconnect(nopChannel("a"))

	s := New(reg, Config{Interval: time.Hour, IdleTTL: time.Hour}, zerolog.Nop())

	n, err := s.SweepNow(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("Fresh rooms should survive, got %d, %v", n, err)
	}

	c.Advance(2 * time.Hour)
	n, err = s.SweepNow(context.Background())
	if err != nil {
		t.Fatalf("SweepNow failed: %v", err)
	}
	if n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}

	if _, err := reg.Room(context.Background(), "abandoned"); !errors.Is(err, registry.ErrRoomNotFound) {
		t.Errorf("Abandoned room should be gone, got %v", err)
	}
	if _, err := reg.Room(context.Background(), "occupied"); err != nil {
		t.Errorf("Occupied room should remain: %v", err)
	}
}
