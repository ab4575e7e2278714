package settings

import (
	"context"
	"errors"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/LeonardoBeccarini/silo_monitor/internal/metrics"
	"github.com/LeonardoBeccarini/silo_monitor/internal/model/entities"
)

// Notifier broadcasts a committed record to other instances.
type Notifier interface {
	Notify(ctx context.Context, rec entities.SettingsRecord) error
}

type Options struct {
	Logger          *log.Logger
	Now             func() time.Time
	Notifier        Notifier
	Metrics         *metrics.Metrics
	BreakerFailures uint32
	BreakerOpenFor  time.Duration
	LoadRetries     int
}

// Store owns the active moisture band. Reads are lock-free; writes are serialized.
type Store struct {
	repo    Repository
	cb      *gobreaker.CircuitBreaker
	opts    Options
	current atomic.Pointer[entities.SettingsRecord]
	writeMu sync.Mutex

	subMu  sync.Mutex
	subs   map[int]chan entities.ThresholdConfig
	nextID int
}

func NewStore(repo Repository, opts Options) *Store {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.BreakerFailures == 0 {
		opts.BreakerFailures = 3
	}
	if opts.BreakerOpenFor <= 0 {
		opts.BreakerOpenFor = 30 * time.Second
	}
	if opts.LoadRetries <= 0 {
		opts.LoadRetries = 1
	}
	s := &Store{
		repo: repo,
		opts: opts,
		subs: make(map[int]chan entities.ThresholdConfig),
	}
	s.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "settings-repository",
		Timeout: opts.BreakerOpenFor,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= opts.BreakerFailures
		},
		// an empty store is not a failure of the store
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNoSettings)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Printf("settings: breaker %s %s -> %s", name, from, to)
			opts.Metrics.BreakerState(name, int(to))
		},
	})
	def := entities.SettingsRecord{MinMoisture: entities.DefaultMinMoisture, MaxMoisture: entities.DefaultMaxMoisture}
	s.current.Store(&def)
	return s
}

// Current returns the committed band, or the defaults.
func (s *Store) Current() entities.ThresholdConfig {
	return s.current.Load().Thresholds()
}

// Record returns the committed row. ID is empty while running on defaults.
func (s *Store) Record() entities.SettingsRecord {
	return *s.current.Load()
}

func (s *Store) latest(ctx context.Context) (entities.SettingsRecord, error) {
	v, err := s.cb.Execute(func() (interface{}, error) {
		return s.repo.Latest(ctx)
	})
	if err != nil {
		return entities.SettingsRecord{}, err
	}
	return v.(entities.SettingsRecord), nil
}

// Load fetches the latest row at startup. Any failure leaves the defaults in place.
func (s *Store) Load(ctx context.Context) entities.ThresholdConfig {
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(s.opts.LoadRetries-1)), ctx)

	var rec entities.SettingsRecord
	err := backoff.Retry(func() error {
		var err error
		rec, err = s.latest(ctx)
		if errors.Is(err, ErrNoSettings) {
			return backoff.Permanent(err)
		}
		return err
	}, bo)

	switch {
	case errors.Is(err, ErrNoSettings):
		s.opts.Logger.Printf("settings: nothing persisted, using defaults")
	case err != nil:
		s.opts.Logger.Printf("settings: load failed, using defaults: %v", err)
	default:
		if err := s.Apply(rec); err != nil && !errors.Is(err, ErrStaleSettings) {
			s.opts.Logger.Printf("settings: persisted row rejected, using defaults: %v", err)
		}
	}
	return s.Current()
}

// Refresh re-reads the repository and applies a newer row if there is one.
func (s *Store) Refresh(ctx context.Context) error {
	rec, err := s.latest(ctx)
	if errors.Is(err, ErrNoSettings) {
		return nil
	}
	if err != nil {
		return &PersistenceError{Op: "fetch", Err: err}
	}
	if err := s.Apply(rec); err != nil && !errors.Is(err, ErrStaleSettings) {
		return err
	}
	return nil
}

// RunRefresh polls the repository until ctx is cancelled.
func (s *Store) RunRefresh(ctx context.Context, every time.Duration) {
	if every <= 0 {
		return
	}
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if err := s.Refresh(ctx); err != nil {
				s.opts.Logger.Printf("settings: refresh: %v", err)
			}
		}
	}
}

// Update validates, persists and then commits a new band.
// A failed save returns *PersistenceError and leaves Current unchanged.
func (s *Store) Update(ctx context.Context, min, max float64) (entities.ThresholdConfig, error) {
	cfg := entities.ThresholdConfig{Min: min, Max: max}
	if err := cfg.Validate(); err != nil {
		s.opts.Metrics.SettingsUpdate("invalid")
		return s.Current(), err
	}

	s.writeMu.Lock()
	rec := entities.SettingsRecord{
		ID:          uuid.NewString(),
		MinMoisture: min,
		MaxMoisture: max,
		CreatedAt:   s.opts.Now().UTC(),
	}
	if prev := s.current.Load(); !rec.CreatedAt.After(prev.CreatedAt) {
		rec.CreatedAt = prev.CreatedAt.Add(time.Microsecond)
	}
	_, err := s.cb.Execute(func() (interface{}, error) {
		return nil, s.repo.Save(ctx, rec)
	})
	if err != nil {
		s.writeMu.Unlock()
		s.opts.Metrics.SettingsUpdate("failed")
		return s.Current(), &PersistenceError{Op: "save", Err: err}
	}
	s.commit(rec)
	s.writeMu.Unlock()

	s.opts.Metrics.SettingsUpdate("ok")
	s.opts.Logger.Printf("settings: moisture band set to [%.2f, %.2f]", min, max)

	if s.opts.Notifier != nil {
		if err := s.opts.Notifier.Notify(ctx, rec); err != nil {
			s.opts.Logger.Printf("settings: notify failed, peers will catch up on refresh: %v", err)
		}
	}
	return cfg, nil
}

// Apply commits a row made elsewhere (another instance or operator).
// Rows with the committed ID are no-ops; older rows return ErrStaleSettings.
func (s *Store) Apply(rec entities.SettingsRecord) error {
	if err := rec.Thresholds().Validate(); err != nil {
		return err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := s.current.Load()
	if rec.ID != "" && rec.ID == cur.ID {
		return nil
	}
	if cur.ID != "" && rec.CreatedAt.Before(cur.CreatedAt) {
		return ErrStaleSettings
	}
	s.commit(rec)
	s.opts.Logger.Printf("settings: applied %s [%.2f, %.2f]", rec.ID, rec.MinMoisture, rec.MaxMoisture)
	return nil
}

// commit must be called with writeMu held.
func (s *Store) commit(rec entities.SettingsRecord) {
	s.current.Store(&rec)
	cfg := rec.Thresholds()

	s.subMu.Lock()
	defer s.subMu.Unlock()
	for _, ch := range s.subs {
		offer(ch, cfg)
	}
}

// offer replaces any undelivered value so the subscriber only sees the latest.
func offer(ch chan entities.ThresholdConfig, v entities.ThresholdConfig) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}

// Subscribe delivers the current band immediately, then every commit.
// The returned func unsubscribes and closes the channel.
func (s *Store) Subscribe() (<-chan entities.ThresholdConfig, func()) {
	ch := make(chan entities.ThresholdConfig, 1)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	ch <- s.Current()
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.subs, id)
			close(ch)
			s.subMu.Unlock()
		})
	}
}
