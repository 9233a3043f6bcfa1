package engine

import (
	"time"

	"github.com/google/uuid"

	"github.com/ehr/clinicqueue/internal/domain/queue"
)

// Snapshot is the read-only mirror of today's queue produced by one cycle.
// A published snapshot is never modified; each cycle builds a new one.
type Snapshot struct {
	Cycle     uint64             `json:"cycle"`
	CycleID   uuid.UUID          `json:"cycle_id"`
	FetchedAt time.Time          `json:"fetched_at"`
	Entries   []queue.Entry      `json:"entries"`
	Doctors   []queue.Doctor     `json:"doctors"`
	Profiles  queue.Profiles     `json:"-"`
	Counts    queue.Counts       `json:"counts"`
	Waiting   []queue.Ranked     `json:"waiting"`
	Available []queue.Doctor     `json:"available_doctors"`
	Next      []queue.Assignment `json:"next"`

	// Degraded is set when no treatment profile could be fetched and every
	// entry is ranked on its own emergency fields only.
	Degraded bool `json:"degraded"`
	// Stale is set when the latest cycle failed and this mirror is the last
	// good one.
	Stale     bool   `json:"stale"`
	LastError string `json:"last_error,omitempty"`

	tombstones map[int64]struct{}
	baselined  bool
}

// Ready reports whether at least one cycle has succeeded.
func (s *Snapshot) Ready() bool {
	return s != nil && s.baselined
}

// View returns the active views over the snapshot.
func (s *Snapshot) View() queue.View {
	return queue.NewView(s.Entries, s.Profiles)
}

// Entry looks up an entry by queue id.
func (s *Snapshot) Entry(queueID int64) (queue.Entry, bool) {
	for _, e := range s.Entries {
		if e.QueueID == queueID {
			return e, true
		}
	}
	return queue.Entry{}, false
}

// withError returns a copy of s marking the cycle failure. Slices are shared;
// neither copy mutates them.
func (s *Snapshot) withError(cycle uint64, id uuid.UUID, err error) *Snapshot {
	var next Snapshot
	if s != nil {
		next = *s
	}
	next.Cycle = cycle
	next.CycleID = id
	next.Stale = true
	next.LastError = err.Error()
	return &next
}

// carryTombstones marks entries seen with the checkup marker in any earlier
// cycle, so a payload that drops the marker cannot bring a finished patient
// back. It returns the marked entries and the updated tombstone set.
func carryTombstones(prev *Snapshot, in []queue.Entry) ([]queue.Entry, map[int64]struct{}) {
	tombstones := make(map[int64]struct{})
	if prev != nil {
		for qid := range prev.tombstones {
			tombstones[qid] = struct{}{}
		}
	}
	entries := make([]queue.Entry, 0, len(in))
	for _, e := range in {
		if e.CheckupDone() {
			tombstones[e.QueueID] = struct{}{}
		} else if _, ok := tombstones[e.QueueID]; ok {
			marker := queue.CheckupCompleted
			e.CheckupStatus = &marker
		}
		entries = append(entries, e)
	}
	return entries, tombstones
}

// buildSnapshot derives every view of a cycle from the fetched state.
func buildSnapshot(cycle uint64, id uuid.UUID, now time.Time, entries []queue.Entry, tombstones map[int64]struct{}, doctors []queue.Doctor, profiles queue.Profiles, degraded bool) *Snapshot {
	doctors = append([]queue.Doctor(nil), doctors...)
	if profiles == nil {
		profiles = queue.Profiles{}
	}

	waiting := queue.RankWaiting(entries, profiles)
	available := queue.AvailableDoctors(doctors, entries)

	return &Snapshot{
		Cycle:      cycle,
		CycleID:    id,
		FetchedAt:  now,
		Entries:    entries,
		Doctors:    doctors,
		Profiles:   profiles,
		Counts:     queue.CountActive(entries),
		Waiting:    waiting,
		Available:  available,
		Next:       queue.NextForConsultation(waiting, available),
		Degraded:   degraded,
		tombstones: tombstones,
		baselined:  true,
	}
}
