package alloc

import (
	"fmt"
	"log"
	"time"

	"plantline/internal/domain"
)

// Audit event types emitted during an allocation pass.
const (
	EventAssignment  = "ASSIGNMENT"
	EventCriticalGap = "CRITICAL_GAP"
)

// AuditEvent is the fixed shape handed to the audit collaborator.
type AuditEvent struct {
	Type       string
	OrderID    string
	AssetID    string
	EngineerID string
	Severity   string
	Message    string
}

// Sink receives audit events. Publishing is best effort: a sink error is
// logged and dropped, never propagated, so audit delivery can never roll
// back an allocation already made.
type Sink interface {
	Publish(event AuditEvent) error
}

// Snapshot is the immutable-at-entry input of one allocation pass. The
// allocator assumes exclusive ownership for the duration of the pass;
// concurrent passes over overlapping personnel must be serialized by the
// caller.
type Snapshot struct {
	Assets    []domain.Asset
	Orders    []domain.MaintenanceOrder
	Engineers []domain.Engineer
	Overrides []domain.Override
}

// Result carries the decisions of a pass plus the updated engineer records.
// The caller persists the new fatigue values; the snapshot passed in is
// never mutated.
type Result struct {
	Decisions []domain.AllocationDecision
	Engineers []domain.Engineer
	Unstaffed []string
}

type Allocator struct {
	Params Params
	Sink   Sink
	Logger *log.Logger
}

func New(params Params) Allocator {
	return Allocator{Params: params.Normalize()}
}

func (a Allocator) logger() *log.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return log.Default()
}

// Run executes one allocation pass: rank pending orders by priority, pick
// the least-fatigued eligible engineer per order in rank order, estimate
// duration, and charge the assignment against the engineer's fatigue.
// Orders that cannot be staffed are reported through the sink and skipped;
// the pass itself never fails for a single order.
func (a Allocator) Run(snap Snapshot, now time.Time) Result {
	assets := make(map[string]*domain.Asset, len(snap.Assets))
	for i := range snap.Assets {
		assets[snap.Assets[i].ID] = &snap.Assets[i]
	}

	// Fatigue is a derived value: rebuild it from shift history at pass
	// entry, then apply per-assignment increments on the working copy.
	engineers := make([]domain.Engineer, len(snap.Engineers))
	copy(engineers, snap.Engineers)
	for i := range engineers {
		engineers[i].Fatigue = Fatigue(engineers[i], now)
	}

	result := Result{Engineers: engineers}
	for _, order := range Rank(snap.Orders, assets) {
		asset := assets[order.AssetID]
		required := order.RequiredCertifications
		if asset != nil && len(asset.RequiredCertifications) > 0 {
			required = asset.RequiredCertifications
		}

		pool := make([]int, 0, len(engineers))
		for i := range engineers {
			if Eligible(engineers[i], required, snap.Overrides, now) {
				pool = append(pool, i)
			}
		}
		if len(pool) == 0 {
			// Relaxed pool: anyone under the fatigue ceiling, certifications
			// ignored.
			for i := range engineers {
				if engineers[i].Fatigue < fatigueCeiling {
					pool = append(pool, i)
				}
			}
		}
		if len(pool) == 0 {
			result.Unstaffed = append(result.Unstaffed, order.ID)
			a.publish(AuditEvent{
				Type:     EventCriticalGap,
				OrderID:  order.ID,
				AssetID:  order.AssetID,
				Severity: domain.SeverityCritical,
				Message:  fmt.Sprintf("No personnel available for order %s (asset %s)", order.ID, order.AssetID),
			})
			continue
		}

		best := pool[0]
		for _, i := range pool[1:] {
			if engineers[i].Fatigue < engineers[best].Fatigue {
				best = i
			}
		}

		base := order.BaseTimeMinutes
		if base <= 0 {
			base = a.Params.Normalize().BaseTimeMinutes
		}
		difficulty := order.TaskDifficulty
		if difficulty <= 0 {
			difficulty = a.Params.Normalize().TaskDifficulty
		}
		duration := EstimateDuration(engineers[best], order.TaskType, base, difficulty, a.Params)

		start := now
		end := start.Add(time.Duration(duration) * time.Minute)
		engineers[best].Fatigue += float64(duration) / 60.0
		if engineers[best].Fatigue > fatigueCeiling {
			engineers[best].Fatigue = fatigueCeiling
		}

		result.Decisions = append(result.Decisions, domain.AllocationDecision{
			OrderID:         order.ID,
			EngineerID:      engineers[best].ID,
			EngineerName:    engineers[best].Name,
			AssetID:         order.AssetID,
			DurationMinutes: duration,
			StartTime:       start,
			EndTime:         end,
		})
		a.publish(AuditEvent{
			Type:       EventAssignment,
			OrderID:    order.ID,
			AssetID:    order.AssetID,
			EngineerID: engineers[best].ID,
			Severity:   domain.SeverityCritical,
			Message:    fmt.Sprintf("EMERGENCY: Engineer %s assigned to repair %s", engineers[best].Name, order.AssetID),
		})
	}
	return result
}

func (a Allocator) publish(event AuditEvent) {
	if a.Sink == nil {
		return
	}
	if err := a.Sink.Publish(event); err != nil {
		a.logger().Printf("alloc: audit publish %s for order %s failed: %v", event.Type, event.OrderID, err)
	}
}
