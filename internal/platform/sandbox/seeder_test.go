package sandbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/frontdesk"
	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// fakeRegistry records every call in memory.
type fakeRegistry struct {
	doctors    []queue.Doctor
	patients   []frontdesk.Patient
	treatments map[int64][]time.Time
	onDuty     []int64
	queued     map[int64]bool
	failOn     int64
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{treatments: make(map[int64][]time.Time), queued: make(map[int64]bool)}
}

func (f *fakeRegistry) RegisterDoctor(ctx context.Context, d queue.Doctor) error {
	f.doctors = append(f.doctors, d)
	return nil
}

func (f *fakeRegistry) RegisterPatient(ctx context.Context, p *frontdesk.Patient) error {
	if p.UserID == f.failOn {
		return errors.New("disk full")
	}
	f.patients = append(f.patients, *p)
	return nil
}

func (f *fakeRegistry) RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error {
	f.treatments[userID] = append(f.treatments[userID], at)
	return nil
}

func (f *fakeRegistry) SetOnDuty(ctx context.Context, doctorUserID int64, onDuty bool) error {
	f.onDuty = append(f.onDuty, doctorUserID)
	return nil
}

func (f *fakeRegistry) Enqueue(ctx context.Context, patientUserID int64) (*queue.Entry, error) {
	if f.queued[patientUserID] {
		return nil, frontdesk.ErrAlreadyQueued
	}
	f.queued[patientUserID] = true
	return &queue.Entry{UserID: patientUserID}, nil
}

func TestDataGenerator_Reproducible(t *testing.T) {
	a, b := NewDataGenerator(42), NewDataGenerator(42)
	if diff := cmp.Diff(a.GeneratePatient(2001), b.GeneratePatient(2001)); diff != "" {
		t.Errorf("same seed produced different patients (-a +b):\n%s", diff)
	}
	if diff := cmp.Diff(a.GenerateDoctor(1001), b.GenerateDoctor(1001)); diff != "" {
		t.Errorf("same seed produced different doctors (-a +b):\n%s", diff)
	}
}

func TestDataGenerator_PatientFields(t *testing.T) {
	p := NewDataGenerator(7).GeneratePatient(2001)
	if p.UserID != 2001 || p.FirstName == "" || p.LastName == "" {
		t.Errorf("incomplete patient %+v", p)
	}
	if p.HospitalNumber != "HN-002001" {
		t.Errorf("expected HN-002001, got %s", p.HospitalNumber)
	}
}

func TestDataGenerator_TreatmentDates(t *testing.T) {
	g := NewDataGenerator(3)
	now := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	oldest := now.Add(-(frontdesk.TreatmentWindow + 31*24*time.Hour))
	for i := 0; i < 50; i++ {
		dates := g.TreatmentDates(now, 10)
		if len(dates) > 10 {
			t.Fatalf("expected at most 10 dates, got %d", len(dates))
		}
		for _, d := range dates {
			if !d.Before(now) || d.Before(oldest) {
				t.Fatalf("date %v outside expected range", d)
			}
		}
	}
	if got := g.TreatmentDates(now, 0); got != nil {
		t.Errorf("expected no dates for max 0, got %v", got)
	}
}

func TestSeeder_Seed(t *testing.T) {
	reg := newFakeRegistry()
	s := NewSeeder(SeedConfig{DoctorCount: 3, OnDutyCount: 2, PatientCount: 6, QueuedCount: 4, MaxTreatments: 5, Seed: 1}, zerolog.Nop())

	res, err := s.Seed(context.Background(), reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Doctors != 3 || res.OnDuty != 2 || res.Patients != 6 || res.Queued != 4 {
		t.Errorf("unexpected result %+v", res)
	}
	if diff := cmp.Diff([]int64{1001, 1002}, reg.onDuty); diff != "" {
		t.Errorf("on duty mismatch (-want +got):\n%s", diff)
	}
	total := 0
	for _, ts := range reg.treatments {
		total += len(ts)
	}
	if total != res.Treatments {
		t.Errorf("expected %d recorded treatments, got %d", res.Treatments, total)
	}

	// A second run finds everyone already queued.
	res, err = NewSeeder(SeedConfig{PatientCount: 6, QueuedCount: 4, Seed: 1}, zerolog.Nop()).Seed(context.Background(), reg)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if res.Queued != 0 {
		t.Errorf("expected no new queue entries, got %d", res.Queued)
	}
}

func TestSeeder_ClampsCounts(t *testing.T) {
	reg := newFakeRegistry()
	res, err := NewSeeder(SeedConfig{DoctorCount: 1, OnDutyCount: 4, PatientCount: 2, QueuedCount: 9, Seed: 5}, zerolog.Nop()).
		Seed(context.Background(), reg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.OnDuty != 1 || res.Queued != 2 {
		t.Errorf("expected clamped counts, got %+v", res)
	}
}

func TestSeeder_StopsOnError(t *testing.T) {
	reg := newFakeRegistry()
	reg.failOn = 2002
	res, err := NewSeeder(SeedConfig{PatientCount: 5, Seed: 9}, zerolog.Nop()).Seed(context.Background(), reg)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Patients != 1 {
		t.Errorf("expected to stop after the first patient, got %d", res.Patients)
	}
}
