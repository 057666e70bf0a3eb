package alloc

import (
	"time"

	"plantline/internal/domain"
)

// Escalation windows: an unacknowledged alert at or past its window is
// escalated. Severities without a window never escalate.
var escalationWindows = map[string]time.Duration{
	domain.SeverityCritical: 15 * time.Minute,
	domain.SeverityWarning:  30 * time.Minute,
}

// RequiresEscalation reports whether an alert of the given severity raised
// elapsed ago must be escalated.
func RequiresEscalation(severity string, elapsed time.Duration) bool {
	window, ok := escalationWindows[severity]
	if !ok {
		return false
	}
	return elapsed >= window
}
