package queue

import "time"

// SignalKind names a notification trigger raised by the synchronizer.
type SignalKind string

const (
	SignalConsultationCompleted SignalKind = "consultation.completed"
	SignalConsultationStarted   SignalKind = "consultation.started"
)

// Signal is a single trigger derived from the difference between two cycles.
type Signal struct {
	Kind     SignalKind `json:"kind"`
	Cycle    uint64     `json:"cycle"`
	At       time.Time  `json:"at"`
	Previous int        `json:"previous"`
	Current  int        `json:"current"`
}

// DetectSignals compares the counts of two consecutive cycles. A completed
// signal fires on any strict increase of completed entries; a started signal
// fires only when in-progress entries rise from zero.
func DetectSignals(prev, cur Counts) []SignalKind {
	var kinds []SignalKind
	if cur.Completed > prev.Completed {
		kinds = append(kinds, SignalConsultationCompleted)
	}
	if cur.InProgress > prev.InProgress && prev.InProgress == 0 {
		kinds = append(kinds, SignalConsultationStarted)
	}
	return kinds
}
