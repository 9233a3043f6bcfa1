// Package engine keeps a live, prioritized mirror of today's clinic queue and
// turns operator actions into provider calls.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

// Engine drives a Synchronizer from a Ticker.
type Engine struct {
	sync   *Synchronizer
	ticker Ticker
	logger zerolog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
	cancel    context.CancelFunc
	stopped   bool
	inflight  sync.WaitGroup
}

// New returns an engine ticking sync on ticker.
func New(syncer *Synchronizer, ticker Ticker, logger zerolog.Logger) *Engine {
	return &Engine{
		sync:   syncer,
		ticker: ticker,
		logger: logger.With().Str("component", "engine").Logger(),
	}
}

// Run runs an initial cycle, then one per tick until ctx is done or Stop is
// called. Ticks arriving while a cycle is in flight are dropped. Run waits for
// the in-flight cycle before returning.
func (e *Engine) Run(ctx context.Context) error {
	started := false
	e.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("engine run called multiple times")
	}

	ctx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.cancel = cancel
	if e.stopped {
		cancel()
	}
	e.mu.Unlock()
	defer cancel()
	defer e.ticker.Stop()

	e.logger.Info().Msg("starting queue synchronization")
	e.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			e.inflight.Wait()
			e.logger.Info().Msg("queue synchronization stopped")
			return nil
		case <-e.ticker.Channel():
			e.tick(ctx)
		}
	}
}

// tick starts a cycle on a context detached from cancellation, so Stop does
// not abort a half-read queue; the synchronizer discards its result instead.
func (e *Engine) tick(ctx context.Context) {
	cycleCtx := context.WithoutCancel(ctx)
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		if _, _, err := e.sync.TrySync(cycleCtx); err != nil && !errors.Is(err, ErrClosed) {
			e.logger.Debug().Err(err).Msg("cycle failed")
		}
	}()
}

// Stop stops new cycles. It does not wait for Run to return.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		e.sync.Close()
		e.mu.Lock()
		e.stopped = true
		cancel := e.cancel
		e.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	})
}
