package alloc

import (
	"errors"
	"testing"
	"time"

	"plantline/internal/domain"
)

type captureSink struct {
	events []AuditEvent
	fail   bool
}

func (s *captureSink) Publish(event AuditEvent) error {
	if s.fail {
		return errors.New("sink down")
	}
	s.events = append(s.events, event)
	return nil
}

// restedEngineer builds an engineer whose recomputed fatigue equals the
// given score (carryover only: score/2.5 hours worked, recent shift end,
// no running shift).
func restedEngineer(id, name string, certs []string, fatigue float64) domain.Engineer {
	return domain.Engineer{
		ID:                   id,
		Name:                 name,
		Certifications:       certs,
		LastShiftEnd:         hoursAgo(2),
		HoursWorkedYesterday: fatigue / 2.5,
	}
}

func exhaustedEngineer(id, name string) domain.Engineer {
	return domain.Engineer{ID: id, Name: name, LastShiftStart: hoursAgo(40)}
}

func TestPriorityScaledByDegradation(t *testing.T) {
	asset := &domain.Asset{ID: "A1", RiskLevel: 5, HealthScore: 20}
	if got := Priority(asset); got != 25.0 {
		t.Fatalf("priority = %v, want 25", got)
	}
	asset.HealthScore = 0.5
	if got := Priority(asset); got != 500.0 {
		t.Fatalf("priority with health floor = %v, want 500", got)
	}
	if got := Priority(nil); got != 0.0 {
		t.Fatalf("missing asset priority = %v, want 0", got)
	}
}

func TestRankStableOnTies(t *testing.T) {
	assets := map[string]*domain.Asset{
		"A1": {ID: "A1", RiskLevel: 2, HealthScore: 50},
		"A2": {ID: "A2", RiskLevel: 2, HealthScore: 50},
		"A3": {ID: "A3", RiskLevel: 4, HealthScore: 50},
	}
	orders := []domain.MaintenanceOrder{
		{ID: "O1", AssetID: "A1"},
		{ID: "O2", AssetID: "A2"},
		{ID: "O3", AssetID: "A3"},
	}
	ranked := Rank(orders, assets)
	if ranked[0].ID != "O3" || ranked[1].ID != "O1" || ranked[2].ID != "O2" {
		t.Fatalf("unexpected rank order: %s %s %s", ranked[0].ID, ranked[1].ID, ranked[2].ID)
	}
}

func TestEligibleFatigueGate(t *testing.T) {
	e := domain.Engineer{ID: "E1", Certifications: []string{"ELECT"}, Fatigue: 100}
	if Eligible(e, []string{"ELECT"}, nil, passTime) {
		t.Fatal("fatigued engineer should be ineligible regardless of certifications")
	}
	e.Fatigue = 99.9
	if !Eligible(e, []string{"ELECT"}, nil, passTime) {
		t.Fatal("rested certified engineer should be eligible")
	}
	if !Eligible(e, nil, nil, passTime) {
		t.Fatal("empty requirement set should be trivially satisfied")
	}
}

func TestEligibleOverrideBypassesAllChecks(t *testing.T) {
	e := domain.Engineer{ID: "E1", Fatigue: 100}
	override := domain.Override{
		ID:         "OV1",
		Constraint: ConstraintFatigueLimit,
		TargetID:   "E1",
		ExpiresAt:  passTime.Add(time.Hour),
	}
	if !Eligible(e, []string{"ELECT"}, []domain.Override{override}, passTime) {
		t.Fatal("active FATIGUE_LIMIT override should bypass fatigue and certification checks")
	}
	override.ExpiresAt = passTime.Add(-time.Minute)
	if Eligible(e, []string{"ELECT"}, []domain.Override{override}, passTime) {
		t.Fatal("expired override should not apply")
	}
	override.ExpiresAt = passTime.Add(time.Hour)
	override.TargetID = "E2"
	if Eligible(e, []string{"ELECT"}, []domain.Override{override}, passTime) {
		t.Fatal("override for another engineer should not apply")
	}
}

func TestEstimateDuration(t *testing.T) {
	e := domain.Engineer{ID: "E1", SkillMatrix: map[string]float64{SkillRepairSpeed: 10}}
	if got := EstimateDuration(e, TaskRepair, 120, 1.5, DefaultParams()); got != 200 {
		t.Fatalf("duration = %d, want 200", got)
	}
	// Missing skill entry falls back to the default of 5 -> 0.5.
	if got := EstimateDuration(domain.Engineer{ID: "E2"}, "Diagnostic", 120, 1.5, DefaultParams()); got != 380 {
		t.Fatalf("default-skill duration = %d, want 380", got)
	}
	// Skill floor keeps the divisor at 0.1.
	low := domain.Engineer{ID: "E3", SkillMatrix: map[string]float64{SkillDiagnostics: 0}}
	if got := EstimateDuration(low, "Diagnostic", 100, 1.0, DefaultParams()); got != 1020 {
		t.Fatalf("floored-skill duration = %d, want 1020", got)
	}
}

func TestRunAssignsQualifiedLeastFatigued(t *testing.T) {
	sink := &captureSink{}
	a := New(DefaultParams())
	a.Sink = sink
	snap := Snapshot{
		Assets: []domain.Asset{{ID: "A1", RiskLevel: 5, HealthScore: 20, RequiredCertifications: []string{"ELECT"}}},
		Orders: []domain.MaintenanceOrder{{ID: "O1", AssetID: "A1", TaskType: TaskRepair, BaseTimeMinutes: 120, TaskDifficulty: 1.5, Status: domain.OrderPending}},
		Engineers: []domain.Engineer{
			restedEngineer("E1", "Dana", nil, 0),
			restedEngineer("E2", "Riley", []string{"ELECT"}, 0.2),
		},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 1 {
		t.Fatalf("expected 1 decision, got %d", len(result.Decisions))
	}
	d := result.Decisions[0]
	if d.EngineerID != "E2" {
		t.Fatalf("expected certified E2 selected, got %s", d.EngineerID)
	}
	// Skill matrix empty: default skill 5 -> duration 120*(1.5/0.5)+20.
	if d.DurationMinutes != 380 {
		t.Fatalf("duration = %d, want 380", d.DurationMinutes)
	}
	if !d.EndTime.Equal(d.StartTime.Add(380 * time.Minute)) {
		t.Fatalf("end time not start+duration")
	}
	var updated domain.Engineer
	for _, e := range result.Engineers {
		if e.ID == "E2" {
			updated = e
		}
	}
	want := 0.2 + 380.0/60.0
	if diff := updated.Fatigue - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("fatigue after assignment = %v, want %v", updated.Fatigue, want)
	}
	if len(sink.events) != 1 || sink.events[0].Type != EventAssignment {
		t.Fatalf("expected one ASSIGNMENT event, got %+v", sink.events)
	}
	// Snapshot input must stay untouched.
	if snap.Engineers[1].Fatigue != 0 {
		t.Fatalf("snapshot engineer mutated: %v", snap.Engineers[1].Fatigue)
	}
}

func TestRunFallbackIgnoresCertifications(t *testing.T) {
	a := New(DefaultParams())
	snap := Snapshot{
		Assets:    []domain.Asset{{ID: "A1", RiskLevel: 5, HealthScore: 20, RequiredCertifications: []string{"ELECT"}}},
		Orders:    []domain.MaintenanceOrder{{ID: "O1", AssetID: "A1", TaskType: TaskRepair, Status: domain.OrderPending}},
		Engineers: []domain.Engineer{restedEngineer("E1", "Dana", nil, 0)},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 1 || result.Decisions[0].EngineerID != "E1" {
		t.Fatalf("expected fallback assignment to E1, got %+v", result.Decisions)
	}
	if len(result.Unstaffed) != 0 {
		t.Fatalf("unexpected unstaffed orders: %v", result.Unstaffed)
	}
}

func TestRunTotalStaffingFailure(t *testing.T) {
	sink := &captureSink{}
	a := New(DefaultParams())
	a.Sink = sink
	snap := Snapshot{
		Assets: []domain.Asset{{ID: "A1", RiskLevel: 5, HealthScore: 20}},
		Orders: []domain.MaintenanceOrder{
			{ID: "O1", AssetID: "A1", Status: domain.OrderPending},
			{ID: "O2", AssetID: "A1", Status: domain.OrderPending},
		},
		Engineers: []domain.Engineer{exhaustedEngineer("E1", "Dana")},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 0 {
		t.Fatalf("expected no decisions, got %d", len(result.Decisions))
	}
	if len(result.Unstaffed) != 2 {
		t.Fatalf("expected both orders unstaffed, got %v", result.Unstaffed)
	}
	if len(sink.events) != 2 {
		t.Fatalf("expected one CRITICAL_GAP per order, got %d", len(sink.events))
	}
	for _, evt := range sink.events {
		if evt.Type != EventCriticalGap || evt.Severity != domain.SeverityCritical {
			t.Fatalf("unexpected event %+v", evt)
		}
	}
}

func TestRunProcessesOrdersByPriority(t *testing.T) {
	a := New(DefaultParams())
	snap := Snapshot{
		Assets: []domain.Asset{
			{ID: "A1", RiskLevel: 1, HealthScore: 90},
			{ID: "A2", RiskLevel: 5, HealthScore: 10},
		},
		Orders: []domain.MaintenanceOrder{
			{ID: "O1", AssetID: "A1", Status: domain.OrderPending},
			{ID: "O2", AssetID: "A2", Status: domain.OrderPending},
		},
		Engineers: []domain.Engineer{restedEngineer("E1", "Dana", nil, 0)},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 2 {
		t.Fatalf("expected 2 decisions, got %d", len(result.Decisions))
	}
	if result.Decisions[0].OrderID != "O2" {
		t.Fatalf("expected highest-priority order first, got %s", result.Decisions[0].OrderID)
	}
}

func TestRunSelectionTieBreaksByInputOrder(t *testing.T) {
	a := New(DefaultParams())
	snap := Snapshot{
		Assets: []domain.Asset{{ID: "A1", RiskLevel: 2, HealthScore: 40}},
		Orders: []domain.MaintenanceOrder{{ID: "O1", AssetID: "A1", Status: domain.OrderPending}},
		Engineers: []domain.Engineer{
			restedEngineer("E1", "Dana", nil, 5),
			restedEngineer("E2", "Riley", nil, 5),
		},
	}
	result := a.Run(snap, passTime)
	if result.Decisions[0].EngineerID != "E1" {
		t.Fatalf("expected first-encountered engineer on tie, got %s", result.Decisions[0].EngineerID)
	}
}

func TestRunSinkFailureDoesNotAbortPass(t *testing.T) {
	a := New(DefaultParams())
	a.Sink = &captureSink{fail: true}
	snap := Snapshot{
		Assets:    []domain.Asset{{ID: "A1", RiskLevel: 5, HealthScore: 20}},
		Orders:    []domain.MaintenanceOrder{{ID: "O1", AssetID: "A1", Status: domain.OrderPending}},
		Engineers: []domain.Engineer{restedEngineer("E1", "Dana", nil, 0)},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 1 {
		t.Fatalf("allocation must survive audit failure, got %d decisions", len(result.Decisions))
	}
}

func TestRunUnknownAssetSinksToBack(t *testing.T) {
	a := New(DefaultParams())
	snap := Snapshot{
		Assets: []domain.Asset{{ID: "A1", RiskLevel: 1, HealthScore: 99}},
		Orders: []domain.MaintenanceOrder{
			{ID: "O1", AssetID: "GONE", Status: domain.OrderPending},
			{ID: "O2", AssetID: "A1", Status: domain.OrderPending},
		},
		Engineers: []domain.Engineer{restedEngineer("E1", "Dana", nil, 0)},
	}
	result := a.Run(snap, passTime)
	if len(result.Decisions) != 2 {
		t.Fatalf("expected orphan order still processed, got %d decisions", len(result.Decisions))
	}
	if result.Decisions[len(result.Decisions)-1].OrderID != "O1" {
		t.Fatalf("expected orphan order last, got %s", result.Decisions[len(result.Decisions)-1].OrderID)
	}
}
