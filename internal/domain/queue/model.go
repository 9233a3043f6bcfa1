package queue

import (
	"fmt"
	"strings"
	"time"
)

// Status is the lifecycle state of a queue entry.
type Status string

const (
	StatusWaiting    Status = "waiting"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// CheckupCompleted is the terminal checkup marker. An entry carrying it is
// excluded from every active view regardless of its status.
const CheckupCompleted = "Completed"

// ParseStatus parses the wire form of a status.
func ParseStatus(s string) (Status, error) {
	switch Status(strings.ToLower(strings.TrimSpace(s))) {
	case StatusWaiting:
		return StatusWaiting, nil
	case StatusInProgress:
		return StatusInProgress, nil
	case StatusCompleted:
		return StatusCompleted, nil
	case StatusCancelled:
		return StatusCancelled, nil
	default:
		return "", fmt.Errorf("invalid status %q (valid: waiting, in-progress, completed, cancelled)", s)
	}
}

// Entry is one patient's presence in today's queue.
type Entry struct {
	QueueID           int64      `json:"queue_id"`
	PatientID         int64      `json:"patient_id"`
	UserID            int64      `json:"userID"`
	PatientName       string     `json:"patient_name"`
	HospitalNumber    string     `json:"hospital_number,omitempty"`
	QueueNumber       int        `json:"queue_number"`
	Status            Status     `json:"status"`
	DoctorID          *int64     `json:"doctor_id,omitempty"`
	StartTime         *time.Time `json:"start_time,omitempty"`
	CheckupStatus     *string    `json:"checkup_status,omitempty"`
	EmergencyStatus   bool       `json:"emergency_status"`
	EmergencyPriority int        `json:"emergency_priority"`
}

// CheckupDone reports whether the entry carries the terminal checkup marker.
func (e Entry) CheckupDone() bool {
	return e.CheckupStatus != nil && *e.CheckupStatus == CheckupCompleted
}

// Doctor is a clinician on duty today. Availability is never stored; see
// AvailableDoctors.
type Doctor struct {
	DoctorID       int64  `json:"userID"`
	FirstName      string `json:"first_name"`
	LastName       string `json:"last_name"`
	Specialization string `json:"specialization,omitempty"`
}

// Name returns the display name of the doctor.
func (d Doctor) Name() string {
	return strings.TrimSpace(d.FirstName + " " + d.LastName)
}

// ProfileSource tells whether a treatment profile came from the provider or
// was substituted.
type ProfileSource string

const (
	ProfileFetched ProfileSource = "fetched"
	ProfileDefault ProfileSource = "default"
)

// Notes attached to substituted profiles.
const (
	NoteUnavailable = "Data temporarily unavailable"
	NoteNotFound    = "No treatment data"
	NoteBadFormat   = "Data format error"
	NoteNormal      = "Normal"
)

// TreatmentProfile is the derived per-patient signal from the treatment history.
type TreatmentProfile struct {
	TreatmentCount28Days int           `json:"treatment_count_28_days"`
	IsEmergency          bool          `json:"is_emergency"`
	EmergencyPriority    int           `json:"emergency_priority"`
	EmergencyNote        string        `json:"emergency_note"`
	Source               ProfileSource `json:"source,omitempty"`
}

// DefaultProfile returns the safe default used when a lookup cannot produce a
// profile. The note distinguishes "no emergency" from "data unavailable".
func DefaultProfile(note string) TreatmentProfile {
	if note == "" {
		note = NoteUnavailable
	}
	return TreatmentProfile{EmergencyNote: note, Source: ProfileDefault}
}

// Profiles is a snapshot of treatment profiles keyed by patient user id.
type Profiles map[int64]TreatmentProfile

// For returns the profile of the entry's patient, or the default when missing.
func (p Profiles) For(e Entry) TreatmentProfile {
	if prof, ok := p[e.UserID]; ok {
		return prof
	}
	return DefaultProfile(NoteUnavailable)
}

// TodayQueue is the remote state read at the start of a cycle.
type TodayQueue struct {
	Entries []Entry  `json:"queues"`
	Doctors []Doctor `json:"doctors"`
}

// StatusUpdate is a single-entry transition request.
type StatusUpdate struct {
	QueueID       int64   `json:"queue_id"`
	Status        Status  `json:"status"`
	DoctorID      *int64  `json:"doctor_id,omitempty"`
	CheckupStatus *string `json:"checkup_status,omitempty"`
}

// NewStatusUpdate builds the request for a transition. Completing an entry also
// sets the terminal checkup marker.
func NewStatusUpdate(queueID int64, status Status, doctorID *int64) StatusUpdate {
	u := StatusUpdate{QueueID: queueID, Status: status, DoctorID: doctorID}
	if status == StatusCompleted {
		marker := CheckupCompleted
		u.CheckupStatus = &marker
	}
	return u
}
