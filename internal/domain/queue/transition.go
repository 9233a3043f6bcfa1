package queue

import "fmt"

var transitions = map[Status][]Status{
	StatusWaiting:    {StatusInProgress, StatusCancelled},
	StatusInProgress: {StatusCompleted, StatusWaiting},
}

// CanTransition reports whether an entry may move from one status to another.
// completed and cancelled are absorbing.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no transition leaves s.
func IsTerminal(s Status) bool {
	return len(transitions[s]) == 0
}

// ValidateTransition checks a requested update against the current entry.
func ValidateTransition(current Entry, u StatusUpdate) error {
	if current.CheckupDone() {
		return fmt.Errorf("%w: checkup already completed", ErrInvalidTransition)
	}
	if !CanTransition(current.Status, u.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, u.Status)
	}
	if u.CheckupStatus != nil && u.Status != StatusCompleted {
		return fmt.Errorf("%w: checkup status only accompanies completion", ErrInvalidTransition)
	}
	if u.Status == StatusInProgress && u.DoctorID == nil {
		return ErrDoctorRequired
	}
	return nil
}
