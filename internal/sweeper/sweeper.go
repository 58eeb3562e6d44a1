package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/manpreetbhatti/coderoom/internal/room"
)

type Config struct {
	Interval time.Duration
	IdleTTL  time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval: 5 * time.Minute,
		IdleTTL:  24 * time.Hour,
	}
}

// Evictor removes the rooms a policy selects. *registry.Registry satisfies it.
type Evictor interface {
	EvictIdle(ctx context.Context, policy room.EvictionPolicy) (int, error)
}

// Service periodically evicts idle, empty rooms.
type Service struct {
	evictor  Evictor
	interval time.Duration
	logger   zerolog.Logger

	mu     sync.Mutex
	policy room.EvictionPolicy

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func New(evictor Evictor, config Config, logger zerolog.Logger) *Service {
	if config.Interval <= 0 {
		config.Interval = DefaultConfig().Interval
	}
	return &Service{
		evictor:  evictor,
		interval: config.Interval,
		logger:   logger.With().Str("component", "sweeper").Logger(),
		policy:   room.EvictionPolicy{IdleTTL: config.IdleTTL},
		stop:     make(chan struct{}),
	}
}

func (s *Service) Start() {
	s.wg.Add(1)
	go s.run()
	s.logger.Info().
		Dur("interval", s.interval).
		Dur("idle_ttl", s.Policy().IdleTTL).
		Msg("sweeper started")
}

// Stop waits for an in-flight sweep to finish. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		close(s.stop)
		s.wg.Wait()
		s.logger.Info().Msg("sweeper stopped")
	})
}

// SetPolicy swaps the eviction policy used by later sweeps.
func (s *Service) SetPolicy(policy room.EvictionPolicy) {
	s.mu.Lock()
	s.policy = policy
	s.mu.Unlock()
}

func (s *Service) Policy() room.EvictionPolicy {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.policy
}

// SweepNow runs one eviction pass and reports how many rooms were removed.
func (s *Service) SweepNow(ctx context.Context) (int, error) {
	policy := s.Policy()
	if policy.IdleTTL <= 0 {
		return 0, nil
	}
	return s.evictor.EvictIdle(ctx, policy)
}

func (s *Service) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-s.stop:
			cancel()
		case <-ctx.Done():
		}
	}()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Service) sweep(ctx context.Context) {
	evicted, err := s.SweepNow(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error().Err(err).Msg("sweep failed")
		}
		return
	}
	if evicted > 0 {
		s.logger.Info().Int("evicted", evicted).Msg("swept idle rooms")
	}
}
