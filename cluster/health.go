package cluster

// HealthLevel is a coarse classification of a topology snapshot. It only
// drives log severity and operator visibility, never promotion decisions.
type HealthLevel string

const (
	HealthGreen    HealthLevel = "GREEN"
	HealthYellow   HealthLevel = "YELLOW"
	HealthRed      HealthLevel = "RED"
	HealthDisaster HealthLevel = "DISASTER"
	HealthUnknown  HealthLevel = "UNKNOWN"
)

// Classify derives a health level from a snapshot. Witnesses hold no data
// and are excluded from the count. Pure function of its input.
func Classify(snap *Snapshot) HealthLevel {
	if snap == nil {
		return HealthUnknown
	}

	total, online := 0, 0
	for _, n := range snap.Nodes {
		if n.Role == RoleWitness {
			continue
		}
		total++
		if n.IsRunning() {
			online++
		}
	}

	switch {
	case total == 0:
		return HealthUnknown
	case online == total:
		return HealthGreen
	case online >= total/2+1:
		return HealthYellow
	case online == 1:
		return HealthDisaster
	default:
		return HealthRed
	}
}
