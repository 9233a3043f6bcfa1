package queue

// Assignment is an advisory pairing of a ranked waiting entry with an available
// doctor. Nothing is reserved until the entry is started.
type Assignment struct {
	Ranked
	Doctor Doctor `json:"suggested_doctor"`
}

// AvailableDoctors returns the doctors with no in-progress entry, in roster
// order.
func AvailableDoctors(doctors []Doctor, entries []Entry) []Doctor {
	busy := make(map[int64]struct{})
	for _, e := range entries {
		if e.Status == StatusInProgress && e.DoctorID != nil {
			busy[*e.DoctorID] = struct{}{}
		}
	}
	available := make([]Doctor, 0, len(doctors))
	for _, d := range doctors {
		if _, ok := busy[d.DoctorID]; !ok {
			available = append(available, d)
		}
	}
	return available
}

// NextForConsultation returns the top K ranked entries, K being the number of
// available doctors, each paired with one of them. ranked must already be
// sorted.
func NextForConsultation(ranked []Ranked, available []Doctor) []Assignment {
	k := len(available)
	if k > len(ranked) {
		k = len(ranked)
	}
	next := make([]Assignment, 0, k)
	for i := 0; i < k; i++ {
		next = append(next, Assignment{Ranked: ranked[i], Doctor: available[i]})
	}
	return next
}
