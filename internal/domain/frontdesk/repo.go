package frontdesk

import (
	"context"
	"time"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

type Repository interface {
	// TodayQueue lists the day's entries not routed to emergency, ordered by
	// queue number.
	TodayQueue(ctx context.Context, day time.Time) ([]queue.Entry, error)
	DoctorsOnDuty(ctx context.Context, day time.Time) ([]queue.Doctor, error)
	SetOnDuty(ctx context.Context, day time.Time, doctorUserID int64, onDuty bool) error

	// UpsertDoctor and UpsertPatient register people by user id, replacing
	// the names of an existing record.
	UpsertDoctor(ctx context.Context, d queue.Doctor) error
	UpsertPatient(ctx context.Context, p *Patient) error

	// TreatmentCounts counts treatment sessions since the given time per
	// patient user id. Unknown patients are absent from the result.
	TreatmentCounts(ctx context.Context, userIDs []int64, since time.Time) (map[int64]int, error)
	RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error

	// Enqueue appends the patient to the day's queue with the next number.
	Enqueue(ctx context.Context, day time.Time, patientUserID int64) (*queue.Entry, error)

	// Mutate locks the day's queue, passes it to fn and applies the returned
	// changes in the same transaction. fn must use the context it is given.
	Mutate(ctx context.Context, day time.Time, fn func(ctx context.Context, d *Day) ([]Change, error)) error
}
