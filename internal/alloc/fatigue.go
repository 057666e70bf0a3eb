package alloc

import (
	"math"
	"time"

	"plantline/internal/domain"
)

// Fatigue model constants. Fatigue is reconstructed from shift timestamps
// on every query; the persisted fatigue column is advisory only.
const (
	fullRecoveryHours = 48.0
	restedHours       = 18.0
	carryoverPerHour  = 2.5
	carryoverCeiling  = 25.0
	restedMultiplier  = 0.4
	strainExponent    = 1.35
	fatigueCeiling    = 100.0
)

// Fatigue computes the engineer's current fatigue score in [0,100] from
// shift history. More than 48 hours off since the last shift end means full
// recovery. Missing timestamps degrade to the no-prior-data defaults and
// never fail.
func Fatigue(e domain.Engineer, now time.Time) float64 {
	hoursOff := 0.0
	if e.LastShiftEnd != nil {
		hoursOff = now.Sub(*e.LastShiftEnd).Hours()
		if hoursOff > fullRecoveryHours {
			return 0.0
		}
	}

	carryover := math.Min(e.HoursWorkedYesterday*carryoverPerHour, carryoverCeiling)

	recovery := 1.0
	if hoursOff > restedHours {
		recovery = restedMultiplier
	}

	strain := 0.0
	if e.LastShiftStart != nil {
		if active := now.Sub(*e.LastShiftStart).Hours(); active > 0 {
			strain = math.Pow(active, strainExponent)
		}
	}

	total := math.Round((carryover*recovery+strain)*10) / 10
	return math.Min(math.Max(total, 0.0), fatigueCeiling)
}
