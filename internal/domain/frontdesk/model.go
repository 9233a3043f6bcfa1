package frontdesk

import (
	"time"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// Patient maps to the patient table. UserID is the account id the queue
// exposes as userID.
type Patient struct {
	ID             int64     `db:"id" json:"id"`
	UserID         int64     `db:"user_id" json:"userID"`
	FirstName      string    `db:"first_name" json:"first_name"`
	LastName       string    `db:"last_name" json:"last_name"`
	HospitalNumber string    `db:"hospital_number" json:"hospital_number"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Day is today's queue as locked inside a mutation: every entry not routed to
// emergency, ordered by queue number, plus the doctors on duty.
type Day struct {
	Date    time.Time
	Entries []queue.Entry
	Doctors []queue.Doctor
}

// Find returns the index of the entry with queueID.
func (d *Day) Find(queueID int64) (int, bool) {
	for i, e := range d.Entries {
		if e.QueueID == queueID {
			return i, true
		}
	}
	return -1, false
}

// Waiting returns the active waiting entries in queue-number order.
func (d *Day) Waiting() []queue.Entry {
	var out []queue.Entry
	for _, e := range d.Entries {
		if queue.IsActiveWaiting(e) {
			out = append(out, e)
		}
	}
	return out
}

// OnDuty reports whether doctorID is on today's roster.
func (d *Day) OnDuty(doctorID int64) bool {
	for _, doc := range d.Doctors {
		if doc.DoctorID == doctorID {
			return true
		}
	}
	return false
}

// Change is a single-row update produced by a mutation. Nil fields are left
// untouched. ExpectStatus guards the update with the status the mutation
// decided on.
type Change struct {
	QueueID           int64
	ExpectStatus      *queue.Status
	QueueNumber       *int
	Status            *queue.Status
	DoctorID          *int64
	ClearDoctor       bool
	StartTime         *time.Time
	CheckupStatus     *string
	EmergencyStatus   *bool
	EmergencyPriority *int
	RoutedToEmergency bool
}

// Apply returns e with the change applied.
func (c Change) Apply(e queue.Entry) queue.Entry {
	if c.QueueNumber != nil {
		e.QueueNumber = *c.QueueNumber
	}
	if c.Status != nil {
		e.Status = *c.Status
	}
	if c.ClearDoctor {
		e.DoctorID = nil
		e.StartTime = nil
	}
	if c.DoctorID != nil {
		id := *c.DoctorID
		e.DoctorID = &id
	}
	if c.StartTime != nil {
		t := *c.StartTime
		e.StartTime = &t
	}
	if c.CheckupStatus != nil {
		s := *c.CheckupStatus
		e.CheckupStatus = &s
	}
	if c.EmergencyStatus != nil {
		e.EmergencyStatus = *c.EmergencyStatus
	}
	if c.EmergencyPriority != nil {
		e.EmergencyPriority = *c.EmergencyPriority
	}
	return e
}

// Thresholds of the emergency inference on the 28-day treatment count.
const (
	TreatmentWindow = 28 * 24 * time.Hour

	noTreatmentPriority  = 18
	lowTreatmentPriority = 12
	midTreatmentPriority = 6
)

// InferEmergency derives a treatment profile from the number of treatment
// sessions in the last 28 days. Patients who missed treatment are the most
// urgent.
func InferEmergency(count int) queue.TreatmentProfile {
	p := queue.TreatmentProfile{TreatmentCount28Days: count, Source: queue.ProfileFetched}
	switch {
	case count <= 0:
		p.EmergencyPriority = noTreatmentPriority
		p.EmergencyNote = "No treatment in the last 28 days"
	case count < 4:
		p.EmergencyPriority = lowTreatmentPriority
		p.EmergencyNote = "Low treatment frequency"
	case count < 8:
		p.EmergencyPriority = midTreatmentPriority
		p.EmergencyNote = "Reduced treatment frequency"
	default:
		p.EmergencyNote = queue.NoteNormal
	}
	p.IsEmergency = p.EmergencyPriority >= queue.HighWeight
	return p
}
