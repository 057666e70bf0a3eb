package alloc

import (
	"time"

	"plantline/internal/domain"
)

// ConstraintFatigueLimit names the legality constraint an override can
// suspend for one engineer.
const ConstraintFatigueLimit = "FATIGUE_LIMIT"

// Eligible reports whether the engineer may take an order with the given
// certification requirements. An active FATIGUE_LIMIT override targeting
// the engineer short-circuits the whole check, certifications included.
// That bypass scope mirrors the approved override semantics as shipped;
// narrowing it to the fatigue gate alone needs a product decision first.
// Otherwise the engineer needs every required certification and a fatigue
// score under the ceiling.
func Eligible(e domain.Engineer, required []string, overrides []domain.Override, now time.Time) bool {
	for _, o := range overrides {
		if o.Constraint == ConstraintFatigueLimit && o.TargetID == e.ID && o.IsActive(now) {
			return true
		}
	}
	if !hasAllCertifications(e.Certifications, required) {
		return false
	}
	return e.Fatigue < fatigueCeiling
}

func hasAllCertifications(held, required []string) bool {
	if len(required) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(held))
	for _, c := range held {
		set[c] = struct{}{}
	}
	for _, c := range required {
		if _, ok := set[c]; !ok {
			return false
		}
	}
	return true
}
