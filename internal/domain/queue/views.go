package queue

import "strings"

// Counts are per-status counts over the active (not checkup-completed) entries.
type Counts struct {
	All        int `json:"all"`
	Waiting    int `json:"waiting"`
	InProgress int `json:"in-progress"`
	Completed  int `json:"completed"`
	Cancelled  int `json:"cancelled"`
}

// CountActive tallies entries that do not carry the checkup marker.
func CountActive(entries []Entry) Counts {
	var c Counts
	for _, e := range entries {
		if e.CheckupDone() {
			continue
		}
		c.All++
		switch e.Status {
		case StatusWaiting:
			c.Waiting++
		case StatusInProgress:
			c.InProgress++
		case StatusCompleted:
			c.Completed++
		case StatusCancelled:
			c.Cancelled++
		}
	}
	return c
}

// View answers the read questions the front desk and doctors ask of a queue
// snapshot. Checkup-completed entries never appear in it.
type View struct {
	entries  []Entry
	profiles Profiles
}

// NewView builds a view over entries and profiles. The slices are not copied.
func NewView(entries []Entry, profiles Profiles) View {
	return View{entries: entries, profiles: profiles}
}

// Active returns every entry without the checkup marker.
func (v View) Active() []Entry {
	out := make([]Entry, 0, len(v.entries))
	for _, e := range v.entries {
		if !e.CheckupDone() {
			out = append(out, e)
		}
	}
	return out
}

// ByStatus filters the active entries by status.
func (v View) ByStatus(s Status) []Entry {
	var out []Entry
	for _, e := range v.entries {
		if !e.CheckupDone() && e.Status == s {
			out = append(out, e)
		}
	}
	return out
}

// Counts returns the per-status counts of the active entries.
func (v View) Counts() Counts {
	return CountActive(v.entries)
}

// Waiting returns the ranked waiting entries.
func (v View) Waiting() []Ranked {
	return RankWaiting(v.entries, v.profiles)
}

// Emergencies returns the ranked waiting entries flagged as emergencies by
// either source.
func (v View) Emergencies() []Ranked {
	var out []Ranked
	for _, r := range v.Waiting() {
		if r.Priority.IsEmergency {
			out = append(out, r)
		}
	}
	return out
}

// CurrentPatients returns the in-progress entries.
func (v View) CurrentPatients() []Entry {
	return v.ByStatus(StatusInProgress)
}

// AssignedTo returns the doctor's in-progress patients. A non-empty search
// matches the patient name or hospital number, case-insensitively.
func (v View) AssignedTo(doctorID int64, search string) []Entry {
	search = strings.ToLower(strings.TrimSpace(search))
	var out []Entry
	for _, e := range v.CurrentPatients() {
		if e.DoctorID == nil || *e.DoctorID != doctorID {
			continue
		}
		if search != "" &&
			!strings.Contains(strings.ToLower(e.PatientName), search) &&
			!strings.Contains(strings.ToLower(e.HospitalNumber), search) {
			continue
		}
		out = append(out, e)
	}
	return out
}
