package queue

import "sort"

// Tier is the coarse priority bucket derived from a priority weight.
type Tier int

const (
	TierNormal Tier = iota
	TierMedium
	TierHigh
	TierCritical
)

// Tier thresholds on the priority weight.
const (
	CriticalWeight = 15
	HighWeight     = 10
	MediumWeight   = 5
)

// TierFor buckets a priority weight.
func TierFor(weight int) Tier {
	switch {
	case weight >= CriticalWeight:
		return TierCritical
	case weight >= HighWeight:
		return TierHigh
	case weight >= MediumWeight:
		return TierMedium
	default:
		return TierNormal
	}
}

func (t Tier) String() string {
	switch t {
	case TierCritical:
		return "Critical"
	case TierHigh:
		return "High"
	case TierMedium:
		return "Medium"
	default:
		return "Normal"
	}
}

// MarshalText renders the tier name in JSON.
func (t Tier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// EffectivePriority is the merged emergency signal used for ranking.
type EffectivePriority struct {
	IsEmergency bool `json:"is_emergency"`
	Weight      int  `json:"priority_weight"`
	Tier        Tier `json:"priority_tier"`
}

// Resolve merges the entry's explicit emergency fields with the patient's
// treatment profile. It is the only place the two sources are reconciled.
func Resolve(e Entry, p TreatmentProfile) EffectivePriority {
	weight := e.EmergencyPriority
	if p.EmergencyPriority > weight {
		weight = p.EmergencyPriority
	}
	return EffectivePriority{
		IsEmergency: e.EmergencyStatus || p.IsEmergency,
		Weight:      weight,
		Tier:        TierFor(weight),
	}
}

// Ranked is a waiting entry annotated with its effective priority.
type Ranked struct {
	Entry
	Priority       EffectivePriority `json:"priority"`
	TreatmentCount int               `json:"treatment_count_28_days"`
	Note           string            `json:"emergency_note"`
}

// Annotate computes the ranking annotation of one entry.
func Annotate(e Entry, p TreatmentProfile) Ranked {
	note := p.EmergencyNote
	if note == "" {
		note = NoteNormal
	}
	return Ranked{
		Entry:          e,
		Priority:       Resolve(e, p),
		TreatmentCount: p.TreatmentCount28Days,
		Note:           note,
	}
}

// Less orders ranked entries: emergencies first, then higher weight, then
// lower queue number. Queue numbers are unique, so this is a strict total order.
func Less(a, b Ranked) bool {
	if a.Priority.IsEmergency != b.Priority.IsEmergency {
		return a.Priority.IsEmergency
	}
	if a.Priority.Weight != b.Priority.Weight {
		return a.Priority.Weight > b.Priority.Weight
	}
	return a.QueueNumber < b.QueueNumber
}

// Sort orders ranked entries in place.
func Sort(rs []Ranked) {
	sort.SliceStable(rs, func(i, j int) bool { return Less(rs[i], rs[j]) })
}

// IsActiveWaiting reports whether the entry is eligible for ranking.
func IsActiveWaiting(e Entry) bool {
	return e.Status == StatusWaiting && !e.CheckupDone()
}

// RankWaiting annotates and sorts every waiting, not checkup-completed entry.
func RankWaiting(entries []Entry, profiles Profiles) []Ranked {
	ranked := make([]Ranked, 0, len(entries))
	for _, e := range entries {
		if !IsActiveWaiting(e) {
			continue
		}
		ranked = append(ranked, Annotate(e, profiles.For(e)))
	}
	Sort(ranked)
	return ranked
}
