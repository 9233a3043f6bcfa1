package queue

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("queue entry not found")
	ErrNotWaiting          = errors.New("queue entry is not currently waiting")
	ErrNoAvailableDoctors  = errors.New("no available doctors")
	ErrNoWaitingPatients   = errors.New("no waiting patients")
	ErrDoctorRequired      = errors.New("doctor_id is required for in-progress")
	ErrDoctorBusy          = errors.New("doctor already has a patient in progress")
	ErrInvalidTransition   = errors.New("invalid status transition")
	ErrNotEmergency        = errors.New("patient is not flagged as an emergency")
	ErrStaleState          = errors.New("queue entry changed concurrently")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrProfilesUnavailable = errors.New("treatment profiles unavailable")
	ErrMalformedProfile    = errors.New("malformed treatment profile")

	// ErrRejected matches every *RejectionError.
	ErrRejected = errors.New("rejected by source of truth")
)

// RejectionError is a validation or business rejection returned by the source
// of truth. It is surfaced to the operator and never retried.
type RejectionError struct {
	StatusCode int
	Message    string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("rejected (%d): %s", e.StatusCode, e.Message)
}

// Is lets errors.Is(err, ErrRejected) match any rejection.
func (e *RejectionError) Is(target error) bool {
	return target == ErrRejected
}

// IsBusinessError reports whether err is a non-fatal rejection the operator
// should see, as opposed to a transport failure.
func IsBusinessError(err error) bool {
	for _, target := range []error{
		ErrRejected, ErrNotFound, ErrNotWaiting, ErrNoAvailableDoctors,
		ErrNoWaitingPatients, ErrDoctorRequired, ErrDoctorBusy,
		ErrInvalidTransition, ErrNotEmergency, ErrStaleState,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
