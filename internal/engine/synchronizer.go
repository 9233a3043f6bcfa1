package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// ErrClosed is returned by a cycle started or finished after Close.
var ErrClosed = errors.New("synchronizer closed")

// Notifier receives the consultation signals of each cycle.
type Notifier interface {
	Notify(ctx context.Context, s queue.Signal) error
}

// SessionHandler is told when the source of truth refuses the session token.
type SessionHandler interface {
	OnUnauthorized(err error)
}

// Options configure a Synchronizer.
type Options struct {
	// RequestTimeout bounds the today-queue read of each cycle.
	RequestTimeout time.Duration
	Notifier       Notifier
	Session        SessionHandler
	Logger         zerolog.Logger
}

// Synchronizer mirrors today's queue from a Provider. At most one cycle runs
// at a time; each successful cycle publishes a new Snapshot and emits the
// signals derived from comparing its counts with the previous cycle.
type Synchronizer struct {
	provider queue.Provider
	profiles *ProfileCache
	notifier Notifier
	session  SessionHandler
	timeout  time.Duration
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	snap   atomic.Pointer[Snapshot]
	cycles atomic.Uint64
	closed atomic.Bool
}

// NewSynchronizer creates a synchronizer reading from provider.
func NewSynchronizer(provider queue.Provider, profiles *ProfileCache, opts Options) *Synchronizer {
	return &Synchronizer{
		provider: provider,
		profiles: profiles,
		notifier: opts.Notifier,
		session:  opts.Session,
		timeout:  opts.RequestTimeout,
		logger:   opts.Logger.With().Str("component", "synchronizer").Logger(),
		now:      time.Now,
	}
}

// Current returns the latest snapshot, or nil before the first cycle.
func (s *Synchronizer) Current() *Snapshot {
	return s.snap.Load()
}

// Sync runs a cycle, waiting for an in-flight one to finish first.
func (s *Synchronizer) Sync(ctx context.Context) (*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cycle(ctx)
}

// TrySync runs a cycle unless one is already in flight, in which case it
// returns ran == false and does nothing.
func (s *Synchronizer) TrySync(ctx context.Context) (snap *Snapshot, ran bool, err error) {
	if !s.mu.TryLock() {
		RecordCycle("dropped", 0)
		s.logger.Debug().Msg("cycle in flight, tick dropped")
		return nil, false, nil
	}
	defer s.mu.Unlock()
	snap, err = s.cycle(ctx)
	return snap, true, err
}

// Close stops new cycles and discards the result of one in flight.
func (s *Synchronizer) Close() {
	s.closed.Store(true)
}

func (s *Synchronizer) cycle(ctx context.Context) (*Snapshot, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}
	start := s.now()
	n := s.cycles.Add(1)
	id := uuid.New()
	log := s.logger.With().Uint64("cycle", n).Str("cycle_id", id.String()).Logger()
	prev := s.snap.Load()

	tq, err := s.fetch(ctx)
	if err != nil {
		s.unauthorized(err)
		if s.closed.Load() {
			return nil, ErrClosed
		}
		s.snap.Store(prev.withError(n, id, err))
		RecordCycle("error", s.now().Sub(start))
		log.Warn().Err(err).Msg("queue fetch failed, keeping previous mirror")
		return prev, fmt.Errorf("cycle %d: %w", n, err)
	}

	entries, tombstones := carryTombstones(prev, tq.Entries)
	profiles, perr := s.profiles.Fetch(ctx, entries)
	degraded := false
	if perr != nil {
		s.unauthorized(perr)
		degraded = errors.Is(perr, queue.ErrProfilesUnavailable)
		log.Warn().Err(perr).Msg("treatment profiles degraded")
	}

	if s.closed.Load() {
		log.Info().Msg("synchronizer closed, discarding cycle")
		return nil, ErrClosed
	}
	if cerr := ctx.Err(); cerr != nil {
		// Lookups cut short by the caller say nothing about the patients.
		s.snap.Store(prev.withError(n, id, cerr))
		RecordCycle("error", s.now().Sub(start))
		log.Warn().Err(cerr).Msg("cycle cancelled, keeping previous mirror")
		return prev, fmt.Errorf("cycle %d: %w", n, cerr)
	}

	next := buildSnapshot(n, id, s.now(), entries, tombstones, tq.Doctors, profiles, degraded)
	var kinds []queue.SignalKind
	if prev.Ready() {
		kinds = queue.DetectSignals(prev.Counts, next.Counts)
	}
	s.snap.Store(next)

	result := "success"
	if degraded {
		result = "degraded"
	}
	RecordCycle(result, s.now().Sub(start))
	RecordSnapshot(next)
	log.Info().
		Int("waiting", next.Counts.Waiting).
		Int("in_progress", next.Counts.InProgress).
		Int("completed", next.Counts.Completed).
		Int("available_doctors", len(next.Available)).
		Dur("duration", s.now().Sub(start)).
		Msg("cycle complete")

	for _, kind := range kinds {
		s.emit(ctx, log, kind, prev.Counts, next)
	}
	return next, nil
}

func (s *Synchronizer) fetch(ctx context.Context) (*queue.TodayQueue, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}
	tq, err := s.provider.TodayQueue(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch today queue: %w", err)
	}
	if tq == nil {
		return &queue.TodayQueue{}, nil
	}
	return tq, nil
}

func (s *Synchronizer) emit(ctx context.Context, log zerolog.Logger, kind queue.SignalKind, prev queue.Counts, next *Snapshot) {
	sig := queue.Signal{Kind: kind, Cycle: next.Cycle, At: next.FetchedAt}
	switch kind {
	case queue.SignalConsultationCompleted:
		sig.Previous, sig.Current = prev.Completed, next.Counts.Completed
	case queue.SignalConsultationStarted:
		sig.Previous, sig.Current = prev.InProgress, next.Counts.InProgress
	}
	RecordSignal(kind)
	log.Info().Str("signal", string(kind)).Int("previous", sig.Previous).Int("current", sig.Current).Msg("signal")
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, sig); err != nil {
		log.Error().Err(err).Str("signal", string(kind)).Msg("notify failed")
	}
}

func (s *Synchronizer) unauthorized(err error) {
	if s.session != nil && errors.Is(err, queue.ErrUnauthorized) {
		s.session.OnUnauthorized(err)
	}
}
