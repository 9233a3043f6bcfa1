package queue

import "context"

// Provider is the source of truth for today's queue. The engine reads from and
// writes to it; every write is expected to be applied atomically.
//
// TreatmentProfile returns ErrNotFound when the patient has no profile.
type Provider interface {
	TodayQueue(ctx context.Context) (*TodayQueue, error)
	TreatmentProfile(ctx context.Context, userID int64) (*TreatmentProfile, error)
	UpdateStatus(ctx context.Context, u StatusUpdate) (*Entry, error)
	Skip(ctx context.Context, queueID int64, positions int) error
	Prioritize(ctx context.Context, queueID int64) error
	SendToEmergency(ctx context.Context, queueID int64) error
	StartQueue(ctx context.Context) ([]Entry, error)
	UpdateEmergencyStatuses(ctx context.Context) error
}
