package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"plantline/internal/alloc"
	"plantline/internal/config"
	"plantline/internal/domain"
	"plantline/internal/events"
	"plantline/internal/repo"
)

// ErrEngineerAssigned blocks removal of personnel with work in flight.
var ErrEngineerAssigned = errors.New("engineer has an active assignment")

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) params() alloc.Params {
	p := alloc.Params{}
	if e.Config != nil {
		p = alloc.Params{
			BaseTimeMinutes: e.Config.Allocation.BaseTimeMinutes,
			TaskDifficulty:  e.Config.Allocation.TaskDifficulty,
			OverheadMinutes: e.Config.Allocation.OverheadMinutes,
			DefaultSkill:    e.Config.Allocation.DefaultSkill,
		}
	}
	return p.Normalize()
}

func (e Engine) healthThreshold() float64 {
	if e.Config != nil && e.Config.Scheduling.HealthThreshold > 0 {
		return e.Config.Scheduling.HealthThreshold
	}
	return 50.0
}

// auditSink writes allocator events straight to the event log, outside the
// schedule transaction. A failed write is reported back to the allocator,
// which logs and keeps going; the allocation itself is never rolled back.
type auditSink struct {
	ctx    context.Context
	writer events.Writer
}

func (s auditSink) Publish(event alloc.AuditEvent) error {
	return s.writer.Append(s.ctx, nil, events.Record{
		Type:       event.Type,
		OrderID:    event.OrderID,
		AssetID:    event.AssetID,
		EngineerID: event.EngineerID,
		Severity:   event.Severity,
		Message:    event.Message,
	})
}

// --- assets ---

func (e Engine) CreateAsset(ctx context.Context, a domain.Asset) (domain.Asset, error) {
	if a.ID == "" {
		return a, errors.New("asset_id is required")
	}
	if a.Type == "" {
		return a, errors.New("asset_type is required")
	}
	if a.HealthScore == 0 {
		a.HealthScore = 100.0
	}
	if a.RiskLevel == 0 {
		a.RiskLevel = 3
	}
	a.CreatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.InsertAsset(ctx, a); err != nil {
		return a, fmt.Errorf("insert asset: %w", err)
	}
	return a, nil
}

// DecommissionAsset removes the asset and logs the removal. Open orders on
// the asset go with it.
func (e Engine) DecommissionAsset(ctx context.Context, assetID, actorID string) error {
	id := strings.TrimSpace(assetID)
	if _, err := e.Repo.GetAsset(ctx, id); err != nil {
		return err
	}
	if err := e.Repo.DeleteAsset(ctx, id); err != nil {
		return err
	}
	return e.Events.Append(ctx, nil, events.Record{
		Type:     events.TypeAssetDecommission,
		AssetID:  id,
		Severity: domain.SeverityWarning,
		Message:  fmt.Sprintf("Unit %s decommissioned by %s", id, actorID),
	})
}

// ChaosDegrade randomly decays asset health to exercise the scheduler.
// Roughly 40% of assets drop into the repair band.
func (e Engine) ChaosDegrade(ctx context.Context, actorID string) (int, error) {
	assets, err := e.Repo.ListAssets(ctx)
	if err != nil {
		return 0, err
	}
	affected := 0
	for _, a := range assets {
		if rand.Float64() >= 0.4 {
			continue
		}
		health := math.Round((10+rand.Float64()*38)*10) / 10
		risk := float64(rand.Intn(3) + 3)
		if err := e.Repo.UpdateAssetCondition(ctx, nil, a.ID, health, risk); err != nil {
			return affected, err
		}
		affected++
	}
	if affected > 0 {
		_ = e.Events.Append(ctx, nil, events.Record{
			Type:     events.TypeChaosTriggered,
			Severity: domain.SeverityWarning,
			Message:  fmt.Sprintf("Chaos protocol degraded %d units", affected),
			Payload:  events.EventPayload{"affected_units": affected, "actor": actorID},
		})
	}
	return affected, nil
}

func (e Engine) ResetHealth(ctx context.Context) error {
	return e.Repo.ResetAllAssetHealth(ctx)
}

// --- engineers ---

func (e Engine) CreateEngineer(ctx context.Context, eng domain.Engineer) (domain.Engineer, error) {
	if eng.ID == "" {
		return eng, errors.New("engineer_id is required")
	}
	if eng.Name == "" {
		return eng, errors.New("name is required")
	}
	now := e.now().UTC()
	if eng.Availability == "" {
		eng.Availability = "Day"
	}
	// Seed shift history so the fatigue model has a starting point: freshly
	// added personnel read as fully rested.
	if eng.LastShiftStart == nil {
		eng.LastShiftStart = &now
	}
	if eng.LastShiftEnd == nil {
		rested := now.Add(-49 * time.Hour)
		eng.LastShiftEnd = &rested
	}
	eng.Fatigue = alloc.Fatigue(eng, now)
	eng.CreatedAt = now.Format(time.RFC3339)
	if err := e.Repo.InsertEngineer(ctx, eng); err != nil {
		return eng, fmt.Errorf("insert engineer: %w", err)
	}
	return eng, nil
}

// RemoveEngineer deletes personnel unless an active assignment exists.
func (e Engine) RemoveEngineer(ctx context.Context, engineerID, actorID string) error {
	id := strings.TrimSpace(engineerID)
	if _, err := e.Repo.GetEngineer(ctx, id); err != nil {
		return err
	}
	if order, err := e.Repo.OpenOrderForEngineer(ctx, id); err == nil {
		return fmt.Errorf("%w: order %s", ErrEngineerAssigned, order.ID)
	} else if !errors.Is(err, repo.ErrNotFound) {
		return err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := e.Repo.DeleteEngineer(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:       events.TypePersonnelDeparture,
		EngineerID: id,
		Severity:   domain.SeverityWarning,
		Message:    fmt.Sprintf("Personnel %s removed from the authorization matrix by %s", id, actorID),
	}); err != nil {
		return err
	}
	return tx.Commit()
}

// ListEngineers returns personnel with fatigue recomputed from shift
// history; the stored column is advisory only.
func (e Engine) ListEngineers(ctx context.Context) ([]domain.Engineer, error) {
	engineers, err := e.Repo.ListEngineers(ctx)
	if err != nil {
		return nil, err
	}
	now := e.now()
	for i := range engineers {
		engineers[i].Fatigue = alloc.Fatigue(engineers[i], now)
	}
	return engineers, nil
}

// --- scheduling ---

// ScheduleResult reports one schedule run.
type ScheduleResult struct {
	Status        string                      `json:"status"`
	OrdersCreated int                         `json:"orders_created"`
	Decisions     []domain.AllocationDecision `json:"decisions"`
	Unstaffed     []string                    `json:"unstaffed,omitempty"`
}

// RunSchedule scans assets for critical degradation, raises repair orders
// for those without work in flight, and runs one allocation pass over all
// pending orders. Assignments, updated fatigue, and order state are
// persisted in one transaction; per-order audit events are fire-and-forget
// and survive even if delivery of one fails.
func (e Engine) RunSchedule(ctx context.Context, actorID string) (ScheduleResult, error) {
	now := e.now().UTC()
	assets, err := e.Repo.ListAssets(ctx)
	if err != nil {
		return ScheduleResult{}, err
	}

	created := 0
	threshold := e.healthThreshold()
	params := e.params()
	for _, a := range assets {
		if a.HealthScore >= threshold {
			continue
		}
		busy, err := e.Repo.HasOpenOrderForAsset(ctx, a.ID)
		if err != nil {
			return ScheduleResult{}, err
		}
		if busy {
			continue
		}
		order := domain.MaintenanceOrder{
			ID:                     newOrderID(a.ID),
			AssetID:                a.ID,
			RequiredCertifications: a.RequiredCertifications,
			TaskType:               alloc.TaskRepair,
			BaseTimeMinutes:        params.BaseTimeMinutes,
			TaskDifficulty:         params.TaskDifficulty,
			Status:                 domain.OrderPending,
			CreatedAt:              now.Format(time.RFC3339),
		}
		tx, err := e.DB.BeginTx(ctx, nil)
		if err != nil {
			return ScheduleResult{}, err
		}
		if err := e.Repo.InsertOrderTx(ctx, tx, order); err != nil {
			tx.Rollback()
			return ScheduleResult{}, fmt.Errorf("insert order: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return ScheduleResult{}, err
		}
		created++
	}

	orders, err := e.Repo.ListOrders(ctx, domain.OrderPending)
	if err != nil {
		return ScheduleResult{}, err
	}
	if len(orders) == 0 {
		return ScheduleResult{Status: "idle", OrdersCreated: created}, nil
	}
	engineers, err := e.Repo.ListEngineers(ctx)
	if err != nil {
		return ScheduleResult{}, err
	}
	overrides, err := e.Repo.ListOverrides(ctx)
	if err != nil {
		return ScheduleResult{}, err
	}

	allocator := alloc.New(params)
	allocator.Sink = auditSink{ctx: ctx, writer: e.Events}
	result := allocator.Run(alloc.Snapshot{
		Assets:    assets,
		Orders:    orders,
		Engineers: engineers,
		Overrides: overrides,
	}, now)

	priorities := make(map[string]float64, len(orders))
	assetIndex := make(map[string]*domain.Asset, len(assets))
	for i := range assets {
		assetIndex[assets[i].ID] = &assets[i]
	}
	for _, o := range orders {
		priorities[o.ID] = alloc.Priority(assetIndex[o.AssetID])
	}

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return ScheduleResult{}, err
	}
	defer tx.Rollback()
	for _, d := range result.Decisions {
		if err := e.Repo.AssignOrderTx(ctx, tx, d.OrderID, d.EngineerID, d.StartTime, d.EndTime, priorities[d.OrderID]); err != nil {
			return ScheduleResult{}, fmt.Errorf("assign order %s: %w", d.OrderID, err)
		}
	}
	for _, eng := range result.Engineers {
		if err := e.Repo.UpdateEngineerFatigueTx(ctx, tx, eng.ID, eng.Fatigue); err != nil {
			return ScheduleResult{}, fmt.Errorf("update fatigue %s: %w", eng.ID, err)
		}
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:     events.TypeScheduleRun,
		Severity: domain.SeverityInfo,
		Message:  fmt.Sprintf("Schedule run allocated %d of %d orders", len(result.Decisions), len(orders)),
		Payload: events.EventPayload{
			"actor":          actorID,
			"orders_created": created,
			"allocated":      len(result.Decisions),
			"unstaffed":      len(result.Unstaffed),
		},
	}); err != nil {
		return ScheduleResult{}, err
	}
	if err := tx.Commit(); err != nil {
		return ScheduleResult{}, err
	}

	return ScheduleResult{
		Status:        "success",
		OrdersCreated: created,
		Decisions:     result.Decisions,
		Unstaffed:     result.Unstaffed,
	}, nil
}

func newOrderID(assetID string) string {
	prefix := assetID
	if len(prefix) > 5 {
		prefix = prefix[:5]
	}
	return fmt.Sprintf("ORD-%s-%s", prefix, uuid.New().String()[:8])
}

// CompleteOrder closes the order and restores the asset to full health.
func (e Engine) CompleteOrder(ctx context.Context, orderID string) (domain.MaintenanceOrder, error) {
	order, err := e.Repo.GetOrder(ctx, orderID)
	if err != nil {
		return order, err
	}
	if order.Status == domain.OrderCompleted {
		return order, fmt.Errorf("order %s already completed", orderID)
	}
	asset, err := e.Repo.GetAsset(ctx, order.AssetID)
	if err != nil {
		return order, fmt.Errorf("asset for order %s: %w", orderID, err)
	}
	engineerID := ""
	if order.AssignedEngineerID != nil {
		engineerID = *order.AssignedEngineerID
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return order, err
	}
	defer tx.Rollback()
	if err := e.Repo.SetOrderStatusTx(ctx, tx, orderID, domain.OrderCompleted); err != nil {
		return order, err
	}
	if err := e.Repo.RestoreAssetHealthTx(ctx, tx, asset.ID, 100.0); err != nil {
		return order, err
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:       events.TypeRepairComplete,
		OrderID:    orderID,
		AssetID:    asset.ID,
		EngineerID: engineerID,
		Severity:   domain.SeveritySuccess,
		Message:    fmt.Sprintf("FIXED: Asset %s restored to 100%% by %s", asset.ID, engineerID),
	}); err != nil {
		return order, err
	}
	if err := tx.Commit(); err != nil {
		return order, err
	}
	order.Status = domain.OrderCompleted
	return order, nil
}

// --- overrides ---

func (e Engine) registry() alloc.Registry {
	var roles []string
	if e.Config != nil {
		roles = e.Config.Override.AuthorizedRoles
	}
	return alloc.NewRegistry(roles)
}

// ApproveOverride validates and persists a constraint override and records
// the approval in the audit log. Authorization and justification failures
// leave no trace.
func (e Engine) ApproveOverride(ctx context.Context, constraint, targetID, justification, approvedBy, role string, expiresAt time.Time) (domain.Override, error) {
	override, err := e.registry().Approve(constraint, targetID, justification, approvedBy, role, expiresAt)
	if err != nil {
		return domain.Override{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Override{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertOverrideTx(ctx, tx, override); err != nil {
		return domain.Override{}, fmt.Errorf("insert override: %w", err)
	}
	if err := e.Events.Append(ctx, tx, events.Record{
		Type:       events.TypeOverrideApproved,
		EngineerID: targetID,
		Severity:   domain.SeverityWarning,
		Message:    fmt.Sprintf("Override %s approved for %s by %s", constraint, targetID, approvedBy),
		Payload: events.EventPayload{
			"override_id": override.ID,
			"constraint":  constraint,
			"approved_by": approvedBy,
			"role":        role,
			"expires_at":  expiresAt.UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return domain.Override{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Override{}, err
	}
	return override, nil
}

func (e Engine) ListOverrides(ctx context.Context) ([]domain.Override, error) {
	return e.Repo.ListOverrides(ctx)
}

// --- alerts ---

// Alerts returns recent staffing-gap alerts, newest first.
func (e Engine) Alerts(ctx context.Context, limit int) ([]domain.Alert, error) {
	if limit <= 0 {
		limit = 10
	}
	evts, err := e.Repo.ListEventsByType(ctx, alloc.EventCriticalGap, limit)
	if err != nil {
		return nil, err
	}
	alerts := make([]domain.Alert, 0, len(evts))
	for _, evt := range evts {
		alerts = append(alerts, domain.Alert{
			ID:        evt.ID,
			Severity:  evt.Severity,
			Message:   evt.Message,
			AssetID:   evt.AssetID,
			OrderID:   evt.OrderID,
			CreatedAt: evt.TS,
		})
	}
	return alerts, nil
}

// EscalateAlerts promotes staffing-gap alerts that have sat unresolved past
// their severity's escalation window. Each source alert escalates once.
func (e Engine) EscalateAlerts(ctx context.Context) (int, error) {
	now := e.now().UTC()
	gaps, err := e.Repo.ListEventsByType(ctx, alloc.EventCriticalGap, 200)
	if err != nil {
		return 0, err
	}
	escalations, err := e.Repo.ListEventsByType(ctx, events.TypeAlertEscalated, 200)
	if err != nil {
		return 0, err
	}
	done := make(map[string]bool, len(escalations))
	for _, esc := range escalations {
		if esc.OrderID != "" {
			done[esc.OrderID] = true
		}
	}
	escalated := 0
	for _, gap := range gaps {
		if gap.OrderID == "" || done[gap.OrderID] {
			continue
		}
		raised, err := time.Parse(time.RFC3339, gap.TS)
		if err != nil {
			continue
		}
		if !alloc.RequiresEscalation(gap.Severity, now.Sub(raised)) {
			continue
		}
		if err := e.Events.Append(ctx, nil, events.Record{
			Type:     events.TypeAlertEscalated,
			OrderID:  gap.OrderID,
			AssetID:  gap.AssetID,
			Severity: domain.SeverityCritical,
			Message:  fmt.Sprintf("ESCALATION: staffing gap for order %s unresolved for %s", gap.OrderID, now.Sub(raised).Round(time.Minute)),
		}); err != nil {
			return escalated, err
		}
		escalated++
	}
	return escalated, nil
}

// --- readiness ---

// ReadinessEntry reports certification coverage for one skill.
type ReadinessEntry struct {
	Skill     string  `json:"skill"`
	Needed    int     `json:"needed"`
	Available int     `json:"available"`
	Readiness float64 `json:"readiness"`
}

// Readiness compares certifications demanded by assets against those held
// by personnel.
func (e Engine) Readiness(ctx context.Context) ([]ReadinessEntry, error) {
	assets, err := e.Repo.ListAssets(ctx)
	if err != nil {
		return nil, err
	}
	engineers, err := e.Repo.ListEngineers(ctx)
	if err != nil {
		return nil, err
	}
	needs := map[string]int{}
	var order []string
	for _, a := range assets {
		for _, cert := range a.RequiredCertifications {
			cert = strings.TrimSpace(cert)
			if cert == "" {
				continue
			}
			if _, seen := needs[cert]; !seen {
				order = append(order, cert)
			}
			needs[cert]++
		}
	}
	capabilities := map[string]int{}
	for _, eng := range engineers {
		for _, cert := range eng.Certifications {
			capabilities[strings.ToLower(strings.TrimSpace(cert))]++
		}
	}
	entries := make([]ReadinessEntry, 0, len(order))
	for _, cert := range order {
		needed := needs[cert]
		available := capabilities[strings.ToLower(cert)]
		score := 100.0
		if needed > 0 {
			score = float64(available) / float64(needed) * 100
			if score > 100 {
				score = 100
			}
		}
		entries = append(entries, ReadinessEntry{
			Skill:     cert,
			Needed:    needed,
			Available: available,
			Readiness: float64(int(score*10+0.5)) / 10,
		})
	}
	return entries, nil
}

// AuditLog returns recent audit events, newest first.
func (e Engine) AuditLog(ctx context.Context, limit int) ([]domain.Event, error) {
	return e.Repo.ListEvents(ctx, limit)
}
