package frontdesk

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// memRepo is an in-memory Repository. Mutate applies changes with the same
// compare-and-set semantics as the Postgres repository.
type memRepo struct {
	mu         sync.Mutex
	entries    []queue.Entry
	routed     map[int64]bool
	doctors    []queue.Doctor
	onDuty     map[int64]bool
	treatments map[int64][]time.Time
	nextID     int64

	// beforeApply runs after fn and before the changes are written.
	beforeApply func(r *memRepo)
	mutateErr   error
}

func newMemRepo() *memRepo {
	return &memRepo{
		routed:     make(map[int64]bool),
		onDuty:     make(map[int64]bool),
		treatments: make(map[int64][]time.Time),
		nextID:     100,
	}
}

func (r *memRepo) add(e queue.Entry) {
	r.entries = append(r.entries, e)
}

func (r *memRepo) addDoctor(id int64, onDuty bool) {
	r.doctors = append(r.doctors, queue.Doctor{DoctorID: id, FirstName: "Doc", LastName: fmt.Sprint(id)})
	r.onDuty[id] = onDuty
}

func (r *memRepo) visible() []queue.Entry {
	var out []queue.Entry
	for _, e := range r.entries {
		if !r.routed[e.QueueID] {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QueueNumber < out[j].QueueNumber })
	return out
}

func (r *memRepo) get(id int64) (queue.Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		if e.QueueID == id {
			return e, true
		}
	}
	return queue.Entry{}, false
}

func (r *memRepo) TodayQueue(ctx context.Context, day time.Time) ([]queue.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.visible(), nil
}

func (r *memRepo) dutyRoster() []queue.Doctor {
	var out []queue.Doctor
	for _, d := range r.doctors {
		if r.onDuty[d.DoctorID] {
			out = append(out, d)
		}
	}
	return out
}

func (r *memRepo) DoctorsOnDuty(ctx context.Context, day time.Time) ([]queue.Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dutyRoster(), nil
}

func (r *memRepo) SetOnDuty(ctx context.Context, day time.Time, doctorUserID int64, onDuty bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.doctors {
		if d.DoctorID == doctorUserID {
			r.onDuty[doctorUserID] = onDuty
			return nil
		}
	}
	if !onDuty {
		return nil
	}
	return queue.ErrNotFound
}

func (r *memRepo) UpsertDoctor(ctx context.Context, d queue.Doctor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.doctors {
		if r.doctors[i].DoctorID == d.DoctorID {
			r.doctors[i] = d
			return nil
		}
	}
	r.doctors = append(r.doctors, d)
	return nil
}

// UpsertPatient makes the patient known to TreatmentCounts.
func (r *memRepo) UpsertPatient(ctx context.Context, p *Patient) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.treatments[p.UserID]; !ok {
		r.treatments[p.UserID] = nil
	}
	p.ID = p.UserID
	return nil
}

// TreatmentCounts knows a patient once any session list exists for them.
func (r *memRepo) TreatmentCounts(ctx context.Context, userIDs []int64, since time.Time) (map[int64]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]int)
	for _, id := range userIDs {
		sessions, ok := r.treatments[id]
		if !ok {
			continue
		}
		n := 0
		for _, at := range sessions {
			if !at.Before(since) {
				n++
			}
		}
		out[id] = n
	}
	return out, nil
}

func (r *memRepo) RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.treatments[userID] = append(r.treatments[userID], at)
	return nil
}

func (r *memRepo) Enqueue(ctx context.Context, day time.Time, patientUserID int64) (*queue.Entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	top := 0
	for _, e := range r.entries {
		if e.UserID == patientUserID && !r.routed[e.QueueID] && !e.CheckupDone() &&
			(e.Status == queue.StatusWaiting || e.Status == queue.StatusInProgress) {
			return nil, ErrAlreadyQueued
		}
		if e.QueueNumber > top {
			top = e.QueueNumber
		}
	}
	r.nextID++
	e := queue.Entry{
		QueueID:     r.nextID,
		PatientID:   patientUserID,
		UserID:      patientUserID,
		PatientName: "New Patient",
		QueueNumber: top + 1,
		Status:      queue.StatusWaiting,
	}
	r.entries = append(r.entries, e)
	return &e, nil
}

func (r *memRepo) Mutate(ctx context.Context, day time.Time, fn func(ctx context.Context, d *Day) ([]Change, error)) error {
	if r.mutateErr != nil {
		return r.mutateErr
	}
	r.mu.Lock()
	d := &Day{Date: day, Entries: r.visible(), Doctors: r.dutyRoster()}
	r.mu.Unlock()

	// fn runs unlocked so it can call back into the repository.
	changes, err := fn(ctx, d)
	if err != nil {
		return err
	}
	if r.beforeApply != nil {
		r.beforeApply(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	next := append([]queue.Entry(nil), r.entries...)
	routed := make(map[int64]bool, len(r.routed))
	for k, v := range r.routed {
		routed[k] = v
	}
	for _, c := range changes {
		found := false
		for i, e := range next {
			if e.QueueID != c.QueueID || routed[e.QueueID] {
				continue
			}
			if c.ExpectStatus != nil && e.Status != *c.ExpectStatus {
				return fmt.Errorf("queue entry %d: %w", c.QueueID, queue.ErrStaleState)
			}
			next[i] = c.Apply(e)
			if c.RoutedToEmergency {
				routed[e.QueueID] = true
			}
			found = true
		}
		if !found {
			return fmt.Errorf("queue entry %d: %w", c.QueueID, queue.ErrStaleState)
		}
	}
	seen := make(map[int]int64)
	for _, e := range next {
		if other, dup := seen[e.QueueNumber]; dup {
			return fmt.Errorf("queue number %d shared by %d and %d", e.QueueNumber, other, e.QueueID)
		}
		seen[e.QueueNumber] = e.QueueID
	}
	r.entries = next
	r.routed = routed
	return nil
}

var fixedNow = time.Date(2024, 3, 4, 9, 30, 0, 0, time.UTC)

func newTestService(r *memRepo) *Service {
	s := NewService(r, time.UTC, zerolog.Nop())
	s.now = func() time.Time { return fixedNow }
	return s
}

func waiting(id int64, number int) queue.Entry {
	return queue.Entry{
		QueueID:     id,
		PatientID:   id,
		UserID:      id * 10,
		PatientName: fmt.Sprintf("Patient %d", id),
		QueueNumber: number,
		Status:      queue.StatusWaiting,
	}
}

func emergency(id int64, number, priority int) queue.Entry {
	e := waiting(id, number)
	e.EmergencyStatus = true
	e.EmergencyPriority = priority
	return e
}

func inProgress(id int64, number int, doctorID int64) queue.Entry {
	e := waiting(id, number)
	e.Status = queue.StatusInProgress
	e.DoctorID = &doctorID
	return e
}

// numbers maps queue id to queue number for the visible entries.
func (r *memRepo) numbers() map[int64]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[int64]int)
	for _, e := range r.visible() {
		out[e.QueueID] = e.QueueNumber
	}
	return out
}

func ptr[T any](v T) *T { return &v }
