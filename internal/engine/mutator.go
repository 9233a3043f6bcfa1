package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// DefaultSkipPositions is how far back a skipped patient moves when the caller
// gives no distance.
const DefaultSkipPositions = 5

// DefaultResyncTimeout bounds the forced cycle after a mutation.
const DefaultResyncTimeout = time.Minute

// Mutator sends operator actions to the provider. Every accepted action is
// followed by a forced cycle so the mirror reflects it; signals still come
// only from that cycle.
type Mutator struct {
	provider      queue.Provider
	sync          *Synchronizer
	skipPositions int
	timeout       time.Duration
	resyncTimeout time.Duration
	logger        zerolog.Logger
}

// NewMutator creates a mutator that resynchronizes through syncer.
func NewMutator(provider queue.Provider, syncer *Synchronizer, skipPositions int, timeout time.Duration, logger zerolog.Logger) *Mutator {
	if skipPositions <= 0 {
		skipPositions = DefaultSkipPositions
	}
	return &Mutator{
		provider:      provider,
		sync:          syncer,
		skipPositions: skipPositions,
		timeout:       timeout,
		resyncTimeout: DefaultResyncTimeout,
		logger:        logger.With().Str("component", "mutator").Logger(),
	}
}

// StartNext starts the next consultations. It is a no-op reporting
// ErrNoAvailableDoctors or ErrNoWaitingPatients when the current snapshot has
// nobody to pair.
func (m *Mutator) StartNext(ctx context.Context) ([]queue.Entry, error) {
	snap := m.sync.Current()
	if !snap.Ready() {
		var err error
		if snap, err = m.sync.Sync(ctx); err != nil {
			return nil, err
		}
	}
	switch {
	case len(snap.Available) == 0:
		RecordMutation("start", "noop")
		return nil, queue.ErrNoAvailableDoctors
	case len(snap.Waiting) == 0:
		RecordMutation("start", "noop")
		return nil, queue.ErrNoWaitingPatients
	}

	var started []queue.Entry
	err := m.do(ctx, "start", func(ctx context.Context) error {
		var err error
		started, err = m.provider.StartQueue(ctx)
		return err
	})
	return started, err
}

// SetStatus moves one entry to status. Completing an entry also sets its
// checkup marker; starting one requires doctorID.
func (m *Mutator) SetStatus(ctx context.Context, queueID int64, status queue.Status, doctorID *int64) (*queue.Entry, error) {
	if status == queue.StatusInProgress && doctorID == nil {
		RecordMutation("status", "rejected")
		return nil, queue.ErrDoctorRequired
	}
	u := queue.NewStatusUpdate(queueID, status, doctorID)
	var updated *queue.Entry
	err := m.do(ctx, "status", func(ctx context.Context) error {
		var err error
		updated, err = m.provider.UpdateStatus(ctx, u)
		return err
	})
	return updated, err
}

// Skip moves a waiting entry back by positions, or by the configured default
// when positions is not positive.
func (m *Mutator) Skip(ctx context.Context, queueID int64, positions int) error {
	if positions <= 0 {
		positions = m.skipPositions
	}
	return m.do(ctx, "skip", func(ctx context.Context) error {
		return m.provider.Skip(ctx, queueID, positions)
	})
}

// Prioritize moves an emergency entry to the front of the waiting list.
func (m *Mutator) Prioritize(ctx context.Context, queueID int64) error {
	return m.do(ctx, "prioritize", func(ctx context.Context) error {
		return m.provider.Prioritize(ctx, queueID)
	})
}

// SendToEmergency routes an entry out of the clinic queue.
func (m *Mutator) SendToEmergency(ctx context.Context, queueID int64) error {
	return m.do(ctx, "send_to_emergency", func(ctx context.Context) error {
		return m.provider.SendToEmergency(ctx, queueID)
	})
}

// RefreshEmergencyStatuses asks the provider to recompute emergency flags from
// treatment history, then resynchronizes.
func (m *Mutator) RefreshEmergencyStatuses(ctx context.Context) error {
	return m.do(ctx, "refresh_emergency", func(ctx context.Context) error {
		return m.provider.UpdateEmergencyStatuses(ctx)
	})
}

// do runs one remote call with the request timeout, then forces a cycle
// whatever the outcome: a rejection usually means the mirror is behind, and a
// failed or timed-out write may still have been applied remotely.
func (m *Mutator) do(ctx context.Context, op string, call func(ctx context.Context) error) error {
	callCtx := ctx
	if m.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	err := call(callCtx)
	switch {
	case err == nil:
		RecordMutation(op, "success")
		m.logger.Info().Str("op", op).Msg("mutation applied")
	case queue.IsBusinessError(err):
		RecordMutation(op, "rejected")
		m.logger.Info().Err(err).Str("op", op).Msg("mutation rejected")
	default:
		RecordMutation(op, "error")
		m.sync.unauthorized(err)
		m.logger.Error().Err(err).Str("op", op).Msg("mutation failed")
	}

	m.resync(ctx, op)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// resync runs the forced cycle on a context detached from the caller, so a
// cancelled or expired request cannot publish a cycle whose lookups all failed.
func (m *Mutator) resync(ctx context.Context, op string) {
	syncCtx := context.WithoutCancel(ctx)
	if m.resyncTimeout > 0 {
		var cancel context.CancelFunc
		syncCtx, cancel = context.WithTimeout(syncCtx, m.resyncTimeout)
		defer cancel()
	}
	if _, err := m.sync.Sync(syncCtx); err != nil && !errors.Is(err, ErrClosed) {
		m.logger.Warn().Err(err).Str("op", op).Msg("resync after mutation failed")
	}
}
