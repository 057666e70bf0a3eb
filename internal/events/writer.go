package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Audit event types recorded outside the allocation pass. The pass itself
// emits ASSIGNMENT and CRITICAL_GAP through the allocator sink.
const (
	TypeScheduleRun        = "SCHEDULE_RUN"
	TypeOverrideApproved   = "OVERRIDE_APPROVED"
	TypeRepairComplete     = "REPAIR_COMPLETE"
	TypeAlertEscalated     = "ALERT_ESCALATED"
	TypePersonnelDeparture = "PERSONNEL_DEPARTURE"
	TypeAssetDecommission  = "ASSET_DECOMMISSIONED"
	TypeChaosTriggered     = "CHAOS_TRIGGERED"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

type EventPayload map[string]any

// Record describes one audit log entry. Entity references are optional;
// empty strings become NULL columns.
type Record struct {
	Type       string
	OrderID    string
	AssetID    string
	EngineerID string
	Severity   string
	Message    string
	Payload    EventPayload
}

// Append writes the record inside the given transaction, or directly on
// the connection when tx is nil.
func (w Writer) Append(ctx context.Context, tx *sql.Tx, rec Record) error {
	now := time.Now
	if w.Now != nil {
		now = w.Now
	}
	ts := now().UTC().Format(time.RFC3339)
	if rec.Severity == "" {
		rec.Severity = "INFO"
	}
	if rec.Payload == nil {
		rec.Payload = EventPayload{}
	}
	data, err := json.Marshal(rec.Payload)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}
	query := `INSERT INTO events(ts,event_type,order_id,asset_id,engineer_id,severity,message,payload_json) VALUES (?,?,?,?,?,?,?,?)`
	args := []any{ts, rec.Type, nullable(rec.OrderID), nullable(rec.AssetID), nullable(rec.EngineerID), rec.Severity, nullable(rec.Message), string(data)}
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, args...)
	} else {
		_, err = w.DB.ExecContext(ctx, query, args...)
	}
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
