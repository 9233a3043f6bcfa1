package frontdesk

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

const defaultSkipPositions = 5

// Service is the front desk source of truth. It implements queue.Provider
// directly, so the engine can run in-process against it.
type Service struct {
	repo   Repository
	now    func() time.Time
	loc    *time.Location
	logger zerolog.Logger
}

var _ queue.Provider = (*Service)(nil)

func NewService(repo Repository, loc *time.Location, logger zerolog.Logger) *Service {
	if loc == nil {
		loc = time.Local
	}
	return &Service{
		repo:   repo,
		now:    time.Now,
		loc:    loc,
		logger: logger.With().Str("component", "frontdesk").Logger(),
	}
}

// today is the calendar day the queue belongs to, at midnight in the clinic's
// location.
func (s *Service) today() time.Time {
	y, m, d := s.now().In(s.loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, s.loc)
}

func (s *Service) TodayQueue(ctx context.Context) (*queue.TodayQueue, error) {
	day := s.today()
	entries, err := s.repo.TodayQueue(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list today's queue: %w", err)
	}
	doctors, err := s.repo.DoctorsOnDuty(ctx, day)
	if err != nil {
		return nil, fmt.Errorf("list doctors on duty: %w", err)
	}
	return &queue.TodayQueue{Entries: nonNil(entries), Doctors: nonNil(doctors)}, nil
}

func (s *Service) TreatmentProfile(ctx context.Context, userID int64) (*queue.TreatmentProfile, error) {
	counts, err := s.repo.TreatmentCounts(ctx, []int64{userID}, s.now().Add(-TreatmentWindow))
	if err != nil {
		return nil, fmt.Errorf("count treatments: %w", err)
	}
	n, ok := counts[userID]
	if !ok {
		return nil, fmt.Errorf("patient %d: %w", userID, queue.ErrNotFound)
	}
	p := InferEmergency(n)
	return &p, nil
}

// profiles infers treatment profiles for the active waiting entries.
func (s *Service) profiles(ctx context.Context, entries []queue.Entry) (queue.Profiles, error) {
	var ids []int64
	for _, e := range entries {
		if queue.IsActiveWaiting(e) {
			ids = append(ids, e.UserID)
		}
	}
	counts, err := s.repo.TreatmentCounts(ctx, ids, s.now().Add(-TreatmentWindow))
	if err != nil {
		return nil, fmt.Errorf("count treatments: %w", err)
	}
	out := make(queue.Profiles, len(ids))
	for _, id := range ids {
		if n, ok := counts[id]; ok {
			out[id] = InferEmergency(n)
		} else {
			out[id] = queue.DefaultProfile(queue.NoteNotFound)
		}
	}
	return out, nil
}

func (s *Service) UpdateStatus(ctx context.Context, u queue.StatusUpdate) (*queue.Entry, error) {
	var updated queue.Entry
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		i, ok := d.Find(u.QueueID)
		if !ok {
			return nil, fmt.Errorf("queue entry %d: %w", u.QueueID, queue.ErrNotFound)
		}
		cur := d.Entries[i]
		if err := queue.ValidateTransition(cur, u); err != nil {
			return nil, err
		}

		prev := cur.Status
		next := u.Status
		c := Change{QueueID: cur.QueueID, ExpectStatus: &prev, Status: &next}
		switch next {
		case queue.StatusInProgress:
			doctorID := *u.DoctorID
			if !d.OnDuty(doctorID) {
				return nil, fmt.Errorf("doctor %d: %w", doctorID, ErrDoctorOffDuty)
			}
			for _, e := range d.Entries {
				if e.QueueID != cur.QueueID && e.Status == queue.StatusInProgress &&
					e.DoctorID != nil && *e.DoctorID == doctorID {
					return nil, fmt.Errorf("doctor %d: %w", doctorID, queue.ErrDoctorBusy)
				}
			}
			now := s.now()
			c.DoctorID = &doctorID
			c.StartTime = &now
		case queue.StatusWaiting:
			c.ClearDoctor = true
		case queue.StatusCompleted:
			marker := queue.CheckupCompleted
			c.CheckupStatus = &marker
		}

		updated = c.Apply(cur)
		return []Change{c}, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Int64("queue_id", u.QueueID).
		Str("status", string(u.Status)).
		Msg("queue status updated")
	return &updated, nil
}

// locateWaiting finds queueID among the waiting entries, telling a missing
// entry apart from one that is not waiting.
func locateWaiting(d *Day, waiting []queue.Entry, queueID int64) (int, error) {
	for i, e := range waiting {
		if e.QueueID == queueID {
			return i, nil
		}
	}
	if _, ok := d.Find(queueID); ok {
		return -1, fmt.Errorf("queue entry %d: %w", queueID, queue.ErrNotWaiting)
	}
	return -1, fmt.Errorf("queue entry %d: %w", queueID, queue.ErrNotFound)
}

// renumber moves the entry at from to position to and redistributes the
// waiting entries' existing numbers in the new order. Only entries whose
// number changes produce a change.
func renumber(waiting []queue.Entry, from, to int) []Change {
	numbers := make([]int, len(waiting))
	for i, e := range waiting {
		numbers[i] = e.QueueNumber
	}
	order := make([]queue.Entry, 0, len(waiting))
	order = append(order, waiting[:from]...)
	order = append(order, waiting[from+1:]...)
	order = append(order[:to], append([]queue.Entry{waiting[from]}, order[to:]...)...)

	waitingStatus := queue.StatusWaiting
	var changes []Change
	for i, e := range order {
		if e.QueueNumber == numbers[i] {
			continue
		}
		n := numbers[i]
		changes = append(changes, Change{QueueID: e.QueueID, ExpectStatus: &waitingStatus, QueueNumber: &n})
	}
	return changes
}

// Skip moves a waiting patient back by positions among the waiting entries,
// clamped to the end of the queue.
func (s *Service) Skip(ctx context.Context, queueID int64, positions int) error {
	if positions <= 0 {
		positions = defaultSkipPositions
	}
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		waiting := d.Waiting()
		idx, err := locateWaiting(d, waiting, queueID)
		if err != nil {
			return nil, err
		}
		target := idx + positions
		if target > len(waiting)-1 {
			target = len(waiting) - 1
		}
		return renumber(waiting, idx, target), nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int64("queue_id", queueID).Int("positions", positions).Msg("patient skipped")
	return nil
}

// Prioritize moves an emergency patient to the front of the waiting entries.
// Emergency is judged on the effective priority, so a patient flagged only by
// their treatment history qualifies. The patient's weight is lifted above every
// other waiting patient's effective weight, which puts them first in the next
// ranking; the lift is not repeated for patients who arrive later.
func (s *Service) Prioritize(ctx context.Context, queueID int64) error {
	var weight int
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		waiting := d.Waiting()
		idx, err := locateWaiting(d, waiting, queueID)
		if err != nil {
			return nil, err
		}
		profiles, err := s.profiles(ctx, d.Entries)
		if err != nil {
			return nil, err
		}
		e := waiting[idx]
		own := queue.Resolve(e, profiles.For(e))
		if !own.IsEmergency {
			return nil, fmt.Errorf("queue entry %d: %w", queueID, queue.ErrNotEmergency)
		}

		weight = own.Weight
		for i, w := range waiting {
			if i == idx {
				continue
			}
			if other := queue.Resolve(w, profiles.For(w)).Weight; other >= weight {
				weight = other + 1
			}
		}
		changes := renumber(waiting, idx, 0)
		if weight != e.EmergencyPriority || !e.EmergencyStatus {
			waitingStatus := queue.StatusWaiting
			flagged := true
			changes = append(changes, Change{
				QueueID:           e.QueueID,
				ExpectStatus:      &waitingStatus,
				EmergencyStatus:   &flagged,
				EmergencyPriority: &weight,
			})
		}
		return changes, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int64("queue_id", queueID).Int("priority", weight).Msg("emergency patient prioritized")
	return nil
}

// SendToEmergency routes a patient out of the consultation queue from any
// state. A patient taken out of a consultation frees their doctor.
func (s *Service) SendToEmergency(ctx context.Context, queueID int64) error {
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		i, ok := d.Find(queueID)
		if !ok {
			return nil, fmt.Errorf("queue entry %d: %w", queueID, queue.ErrNotFound)
		}
		cur := d.Entries[i].Status
		c := Change{QueueID: queueID, ExpectStatus: &cur, RoutedToEmergency: true}
		if cur == queue.StatusInProgress {
			c.ClearDoctor = true
		}
		return []Change{c}, nil
	})
	if err != nil {
		return err
	}
	s.logger.Warn().Int64("queue_id", queueID).Msg("patient sent to emergency")
	return nil
}

// StartQueue starts consultations for the highest ranked waiting patients,
// one per free doctor.
func (s *Service) StartQueue(ctx context.Context) ([]queue.Entry, error) {
	var started []queue.Entry
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		available := queue.AvailableDoctors(d.Doctors, d.Entries)
		if len(available) == 0 {
			return nil, queue.ErrNoAvailableDoctors
		}
		profiles, err := s.profiles(ctx, d.Entries)
		if err != nil {
			return nil, err
		}
		ranked := queue.RankWaiting(d.Entries, profiles)
		if len(ranked) == 0 {
			return nil, queue.ErrNoWaitingPatients
		}

		now := s.now()
		waitingStatus := queue.StatusWaiting
		inProgress := queue.StatusInProgress
		var changes []Change
		started = started[:0]
		for _, a := range queue.NextForConsultation(ranked, available) {
			doctorID := a.Doctor.DoctorID
			c := Change{
				QueueID:      a.QueueID,
				ExpectStatus: &waitingStatus,
				Status:       &inProgress,
				DoctorID:     &doctorID,
				StartTime:    &now,
			}
			changes = append(changes, c)
			started = append(started, c.Apply(a.Entry))
		}
		return changes, nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int("started", len(started)).Msg("queue started")
	return started, nil
}

// UpdateEmergencyStatuses re-derives the emergency fields of the waiting
// entries from the treatment history. Within a day a patient's emergency
// status only escalates.
func (s *Service) UpdateEmergencyStatuses(ctx context.Context) error {
	var updated int
	err := s.repo.Mutate(ctx, s.today(), func(ctx context.Context, d *Day) ([]Change, error) {
		profiles, err := s.profiles(ctx, d.Entries)
		if err != nil {
			return nil, err
		}
		waitingStatus := queue.StatusWaiting
		var changes []Change
		for _, e := range d.Waiting() {
			p, ok := profiles[e.UserID]
			if !ok || p.Source != queue.ProfileFetched {
				continue
			}
			priority := e.EmergencyPriority
			if p.EmergencyPriority > priority {
				priority = p.EmergencyPriority
			}
			emergency := e.EmergencyStatus || p.IsEmergency
			if priority == e.EmergencyPriority && emergency == e.EmergencyStatus {
				continue
			}
			changes = append(changes, Change{
				QueueID:           e.QueueID,
				ExpectStatus:      &waitingStatus,
				EmergencyStatus:   &emergency,
				EmergencyPriority: &priority,
			})
		}
		updated = len(changes)
		return changes, nil
	})
	if err != nil {
		return err
	}
	s.logger.Info().Int("updated", updated).Msg("emergency statuses refreshed")
	return nil
}

// AssignedPatients is the doctor's checkup-today list: their own in-progress
// patients, optionally filtered by name or hospital number.
func (s *Service) AssignedPatients(ctx context.Context, doctorID int64, search string) ([]queue.Entry, error) {
	entries, err := s.repo.TodayQueue(ctx, s.today())
	if err != nil {
		return nil, fmt.Errorf("list today's queue: %w", err)
	}
	return nonNil(queue.NewView(entries, nil).AssignedTo(doctorID, search)), nil
}

func (s *Service) Enqueue(ctx context.Context, patientUserID int64) (*queue.Entry, error) {
	e, err := s.repo.Enqueue(ctx, s.today(), patientUserID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Int64("queue_id", e.QueueID).Int("queue_number", e.QueueNumber).Msg("patient enqueued")
	return e, nil
}

func (s *Service) SetOnDuty(ctx context.Context, doctorUserID int64, onDuty bool) error {
	return s.repo.SetOnDuty(ctx, s.today(), doctorUserID, onDuty)
}

func (s *Service) RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error {
	if at.IsZero() {
		at = s.now()
	}
	return s.repo.RecordTreatment(ctx, userID, at, note)
}

// RegisterDoctor adds a doctor to the roster or renames an existing one.
func (s *Service) RegisterDoctor(ctx context.Context, d queue.Doctor) error {
	d.FirstName, d.LastName = strings.TrimSpace(d.FirstName), strings.TrimSpace(d.LastName)
	if d.DoctorID <= 0 || d.FirstName == "" || d.LastName == "" {
		return fmt.Errorf("doctor needs a user id and a full name: %w", ErrInvalidInput)
	}
	if err := s.repo.UpsertDoctor(ctx, d); err != nil {
		return err
	}
	s.logger.Info().Int64("doctor_id", d.DoctorID).Msg("doctor registered")
	return nil
}

// RegisterPatient adds a patient or updates their names and hospital number.
func (s *Service) RegisterPatient(ctx context.Context, p *Patient) error {
	p.FirstName, p.LastName = strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)
	p.HospitalNumber = strings.TrimSpace(p.HospitalNumber)
	if p.UserID <= 0 || p.FirstName == "" || p.LastName == "" || p.HospitalNumber == "" {
		return fmt.Errorf("patient needs a user id, a full name and a hospital number: %w", ErrInvalidInput)
	}
	if err := s.repo.UpsertPatient(ctx, p); err != nil {
		return err
	}
	s.logger.Info().Int64("user_id", p.UserID).Msg("patient registered")
	return nil
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
