package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

const defaultProfileConcurrency = 8

// ProfileCache fetches treatment profiles for the patients of one cycle.
// Lookups run concurrently up to a fixed limit and each has its own timeout;
// a failed lookup yields the default profile without affecting the others.
type ProfileCache struct {
	provider queue.Provider
	limit    int
	timeout  time.Duration
	logger   zerolog.Logger
}

// NewProfileCache creates a cache over provider. limit bounds the number of
// concurrent lookups; timeout bounds each of them.
func NewProfileCache(provider queue.Provider, limit int, timeout time.Duration, logger zerolog.Logger) *ProfileCache {
	if limit <= 0 {
		limit = defaultProfileConcurrency
	}
	return &ProfileCache{
		provider: provider,
		limit:    limit,
		timeout:  timeout,
		logger:   logger.With().Str("component", "profiles").Logger(),
	}
}

type lookupResult struct {
	userID  int64
	profile queue.TreatmentProfile
	err     error
}

// Fetch looks up one profile per distinct patient of entries. Entries carrying
// the checkup marker or no patient user id are skipped.
//
// The returned profiles are complete even on error. The error wraps
// ErrProfilesUnavailable when every lookup failed and ErrUnauthorized when any
// lookup was refused.
func (c *ProfileCache) Fetch(ctx context.Context, entries []queue.Entry) (queue.Profiles, error) {
	ids := distinctUsers(entries)
	profiles := make(queue.Profiles, len(ids))
	if len(ids) == 0 {
		return profiles, nil
	}

	results := make([]lookupResult, len(ids))
	var g errgroup.Group
	g.SetLimit(c.limit)
	for i, id := range ids {
		i, id := i, id
		g.Go(func() error {
			results[i] = c.lookup(ctx, id)
			return nil
		})
	}
	_ = g.Wait()

	var failed int
	var unauthorized error
	for _, r := range results {
		profiles[r.userID] = r.profile
		if r.err == nil {
			RecordProfileLookup("success")
			continue
		}
		failed++
		RecordProfileLookup(lookupOutcome(r.err))
		if unauthorized == nil && errors.Is(r.err, queue.ErrUnauthorized) {
			unauthorized = r.err
		}
		c.logger.Warn().Err(r.err).Int64("user_id", r.userID).Str("note", r.profile.EmergencyNote).Msg("treatment profile lookup failed")
	}

	switch {
	case unauthorized != nil:
		return profiles, fmt.Errorf("treatment profiles: %w", unauthorized)
	case failed == len(ids):
		return profiles, fmt.Errorf("%w: %d lookups failed", queue.ErrProfilesUnavailable, failed)
	}
	return profiles, nil
}

func (c *ProfileCache) lookup(ctx context.Context, userID int64) lookupResult {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	p, err := c.provider.TreatmentProfile(ctx, userID)
	if err == nil && p == nil {
		err = queue.ErrMalformedProfile
	}
	if err != nil {
		return lookupResult{userID: userID, profile: queue.DefaultProfile(noteFor(err)), err: err}
	}
	prof := *p
	prof.Source = queue.ProfileFetched
	return lookupResult{userID: userID, profile: prof}
}

func noteFor(err error) string {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return queue.NoteNotFound
	case errors.Is(err, queue.ErrMalformedProfile):
		return queue.NoteBadFormat
	default:
		return queue.NoteUnavailable
	}
}

func lookupOutcome(err error) string {
	switch {
	case errors.Is(err, queue.ErrNotFound):
		return "not_found"
	case errors.Is(err, queue.ErrMalformedProfile):
		return "malformed"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

func distinctUsers(entries []queue.Entry) []int64 {
	seen := make(map[int64]struct{}, len(entries))
	var ids []int64
	for _, e := range entries {
		if e.UserID == 0 || e.CheckupDone() {
			continue
		}
		if _, ok := seen[e.UserID]; ok {
			continue
		}
		seen[e.UserID] = struct{}{}
		ids = append(ids, e.UserID)
	}
	return ids
}
