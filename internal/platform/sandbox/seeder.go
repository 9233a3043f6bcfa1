// Package sandbox fills the front desk with a reproducible demo clinic day for
// developer on-boarding and demos.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicqueue/internal/domain/frontdesk"
	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// ---------------------------------------------------------------------------
// Configuration
// ---------------------------------------------------------------------------

// SeedConfig controls the volume and shape of generated data.
type SeedConfig struct {
	DoctorCount   int   `json:"doctorCount"`
	OnDutyCount   int   `json:"onDutyCount"`
	PatientCount  int   `json:"patientCount"`
	QueuedCount   int   `json:"queuedCount"`
	MaxTreatments int   `json:"maxTreatments"`
	Seed          int64 `json:"seed"`
}

// DefaultSeedConfig returns a small clinic: enough waiting patients to show
// every emergency tier.
func DefaultSeedConfig() SeedConfig {
	return SeedConfig{
		DoctorCount:   5,
		OnDutyCount:   3,
		PatientCount:  40,
		QueuedCount:   15,
		MaxTreatments: 10,
	}
}

// normalize clamps counts that cannot be satisfied.
func (c SeedConfig) normalize() SeedConfig {
	if c.OnDutyCount > c.DoctorCount {
		c.OnDutyCount = c.DoctorCount
	}
	if c.QueuedCount > c.PatientCount {
		c.QueuedCount = c.PatientCount
	}
	if c.MaxTreatments < 0 {
		c.MaxTreatments = 0
	}
	return c
}

// User id ranges keep seeded people apart from real accounts.
const (
	doctorUserBase  = 1000
	patientUserBase = 2000
)

// ---------------------------------------------------------------------------
// Data generator
// ---------------------------------------------------------------------------

var (
	firstNames = []string{
		"Adaeze", "Bola", "Chidi", "Dayo", "Emeka", "Funke", "Gbenga", "Halima",
		"Ifeoma", "Jide", "Kemi", "Lanre", "Musa", "Ngozi", "Olu", "Tunde",
		"Uche", "Yemi", "Zainab", "Amaka",
	}
	lastNames = []string{
		"Adeyemi", "Bello", "Chukwu", "Danjuma", "Eze", "Fashola", "Garba",
		"Ibrahim", "Johnson", "Kalu", "Lawal", "Nwosu", "Okafor", "Salami",
	}
	specializations = []string{
		"General Practice", "Internal Medicine", "Paediatrics", "Family Medicine", "Cardiology",
	}
	treatmentNotes = []string{
		"routine review", "dressing change", "follow-up", "medication review", "vitals check",
	}
)

// DataGenerator produces people and histories from a seeded source.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator returns a generator seeded for reproducibility. If seed is
// 0 a time-based seed is chosen.
func NewDataGenerator(seed int64) *DataGenerator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &DataGenerator{rng: rand.New(rand.NewSource(seed))}
}

func (g *DataGenerator) pick(pool []string) string {
	return pool[g.rng.Intn(len(pool))]
}

func (g *DataGenerator) GenerateDoctor(userID int64) queue.Doctor {
	return queue.Doctor{
		DoctorID:       userID,
		FirstName:      g.pick(firstNames),
		LastName:       g.pick(lastNames),
		Specialization: g.pick(specializations),
	}
}

func (g *DataGenerator) GeneratePatient(userID int64) frontdesk.Patient {
	return frontdesk.Patient{
		UserID:         userID,
		FirstName:      g.pick(firstNames),
		LastName:       g.pick(lastNames),
		HospitalNumber: fmt.Sprintf("HN-%06d", userID),
	}
}

// TreatmentDates returns up to max session dates before now. About one in
// five falls outside the treatment window so histories straddle it.
func (g *DataGenerator) TreatmentDates(now time.Time, max int) []time.Time {
	if max <= 0 {
		return nil
	}
	n := g.rng.Intn(max + 1)
	windowDays := int(frontdesk.TreatmentWindow / (24 * time.Hour))
	out := make([]time.Time, 0, n)
	for i := 0; i < n; i++ {
		days := 1 + g.rng.Intn(windowDays-1)
		if g.rng.Intn(5) == 0 {
			days = windowDays + 1 + g.rng.Intn(30)
		}
		out = append(out, now.Add(-time.Duration(days)*24*time.Hour))
	}
	return out
}

func (g *DataGenerator) TreatmentNote() string {
	return g.pick(treatmentNotes)
}

// ---------------------------------------------------------------------------
// Seeder
// ---------------------------------------------------------------------------

// Registry is the subset of the front desk service the seeder writes through.
type Registry interface {
	RegisterDoctor(ctx context.Context, d queue.Doctor) error
	RegisterPatient(ctx context.Context, p *frontdesk.Patient) error
	RecordTreatment(ctx context.Context, userID int64, at time.Time, note string) error
	SetOnDuty(ctx context.Context, doctorUserID int64, onDuty bool) error
	Enqueue(ctx context.Context, patientUserID int64) (*queue.Entry, error)
}

var _ Registry = (*frontdesk.Service)(nil)

// SeedResult summarises what a run wrote.
type SeedResult struct {
	Doctors    int           `json:"doctors"`
	OnDuty     int           `json:"onDuty"`
	Patients   int           `json:"patients"`
	Treatments int           `json:"treatments"`
	Queued     int           `json:"queued"`
	Duration   time.Duration `json:"duration"`
}

type Seeder struct {
	generator *DataGenerator
	config    SeedConfig
	now       func() time.Time
	logger    zerolog.Logger
}

func NewSeeder(config SeedConfig, logger zerolog.Logger) *Seeder {
	return &Seeder{
		generator: NewDataGenerator(config.Seed),
		config:    config.normalize(),
		now:       time.Now,
		logger:    logger.With().Str("component", "sandbox").Logger(),
	}
}

// Seed registers the roster and patients, records their histories, puts the
// first OnDutyCount doctors on duty and queues the first QueuedCount patients.
// Patients already queued today are skipped, so a second run only adds
// treatment history.
func (s *Seeder) Seed(ctx context.Context, reg Registry) (*SeedResult, error) {
	start := time.Now()
	now := s.now()
	result := &SeedResult{}

	for i := 0; i < s.config.DoctorCount; i++ {
		d := s.generator.GenerateDoctor(int64(doctorUserBase + i + 1))
		if err := reg.RegisterDoctor(ctx, d); err != nil {
			return result, fmt.Errorf("register doctor %d: %w", d.DoctorID, err)
		}
		result.Doctors++
		if i < s.config.OnDutyCount {
			if err := reg.SetOnDuty(ctx, d.DoctorID, true); err != nil {
				return result, fmt.Errorf("put doctor %d on duty: %w", d.DoctorID, err)
			}
			result.OnDuty++
		}
	}

	for i := 0; i < s.config.PatientCount; i++ {
		p := s.generator.GeneratePatient(int64(patientUserBase + i + 1))
		if err := reg.RegisterPatient(ctx, &p); err != nil {
			return result, fmt.Errorf("register patient %d: %w", p.UserID, err)
		}
		result.Patients++

		for _, at := range s.generator.TreatmentDates(now, s.config.MaxTreatments) {
			if err := reg.RecordTreatment(ctx, p.UserID, at, s.generator.TreatmentNote()); err != nil {
				return result, fmt.Errorf("record treatment for %d: %w", p.UserID, err)
			}
			result.Treatments++
		}

		if i < s.config.QueuedCount {
			_, err := reg.Enqueue(ctx, p.UserID)
			switch {
			case errors.Is(err, frontdesk.ErrAlreadyQueued):
			case err != nil:
				return result, fmt.Errorf("enqueue patient %d: %w", p.UserID, err)
			default:
				result.Queued++
			}
		}
	}

	result.Duration = time.Since(start)
	s.logger.Info().
		Int("doctors", result.Doctors).
		Int("on_duty", result.OnDuty).
		Int("patients", result.Patients).
		Int("treatments", result.Treatments).
		Int("queued", result.Queued).
		Dur("duration", result.Duration).
		Msg("sandbox seeded")
	return result, nil
}
