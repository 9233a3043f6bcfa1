package frontdesk

import "errors"

var (
	ErrDoctorOffDuty = errors.New("doctor is not on duty today")
	ErrAlreadyQueued = errors.New("patient already has an active queue entry today")
	ErrInvalidInput  = errors.New("invalid registration")
)
