package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"plantline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// --- assets ---

func (r Repo) InsertAsset(ctx context.Context, a domain.Asset) error {
	certs, err := marshalStringSlice(a.RequiredCertifications)
	if err != nil {
		return err
	}
	teams, err := marshalStringSlice(a.ResponsibleTeams)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO assets(asset_id,asset_type,required_certifications_json,responsible_teams_json,health_score,risk_level,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.Type, certs, teams, a.HealthScore, a.RiskLevel, a.CreatedAt)
	return err
}

func scanAsset(scan func(dest ...any) error) (domain.Asset, error) {
	var a domain.Asset
	var certs, teams sql.NullString
	if err := scan(&a.ID, &a.Type, &certs, &teams, &a.HealthScore, &a.RiskLevel, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return a, ErrNotFound
		}
		return a, err
	}
	var err error
	if a.RequiredCertifications, err = unmarshalStringSlice(certs); err != nil {
		return a, err
	}
	if a.ResponsibleTeams, err = unmarshalStringSlice(teams); err != nil {
		return a, err
	}
	return a, nil
}

const assetColumns = `asset_id,asset_type,required_certifications_json,responsible_teams_json,health_score,risk_level,created_at`

func (r Repo) GetAsset(ctx context.Context, id string) (domain.Asset, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+assetColumns+` FROM assets WHERE asset_id=?`, id)
	return scanAsset(row.Scan)
}

func (r Repo) ListAssets(ctx context.Context) ([]domain.Asset, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+assetColumns+` FROM assets ORDER BY asset_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var assets []domain.Asset
	for rows.Next() {
		a, err := scanAsset(rows.Scan)
		if err != nil {
			return nil, err
		}
		assets = append(assets, a)
	}
	return assets, rows.Err()
}

func (r Repo) DeleteAsset(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM assets WHERE asset_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateAssetCondition(ctx context.Context, tx *sql.Tx, id string, health, risk float64) error {
	res, err := exec(ctx, r.DB, tx, `UPDATE assets SET health_score=?, risk_level=? WHERE asset_id=?`, health, risk, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) RestoreAssetHealthTx(ctx context.Context, tx *sql.Tx, id string, health float64) error {
	res, err := tx.ExecContext(ctx, `UPDATE assets SET health_score=? WHERE asset_id=?`, health, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) ResetAllAssetHealth(ctx context.Context) error {
	_, err := r.DB.ExecContext(ctx, `UPDATE assets SET health_score=100.0, risk_level=1.0`)
	return err
}

// --- engineers ---

const engineerColumns = `engineer_id,name,team,certifications_json,skill_matrix_json,availability,fatigue,last_shift_start,last_shift_end,hours_worked_yesterday,created_at`

func (r Repo) InsertEngineer(ctx context.Context, e domain.Engineer) error {
	certs, err := marshalStringSlice(e.Certifications)
	if err != nil {
		return err
	}
	skills, err := marshalSkillMatrix(e.SkillMatrix)
	if err != nil {
		return err
	}
	_, err = r.DB.ExecContext(ctx, `INSERT INTO engineers(`+engineerColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		e.ID, e.Name, nullable(e.Team), certs, skills, nullable(e.Availability), e.Fatigue,
		nullableTime(e.LastShiftStart), nullableTime(e.LastShiftEnd), e.HoursWorkedYesterday, e.CreatedAt)
	return err
}

func scanEngineer(scan func(dest ...any) error) (domain.Engineer, error) {
	var e domain.Engineer
	var team, certs, skills, availability, shiftStart, shiftEnd sql.NullString
	if err := scan(&e.ID, &e.Name, &team, &certs, &skills, &availability, &e.Fatigue, &shiftStart, &shiftEnd, &e.HoursWorkedYesterday, &e.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return e, ErrNotFound
		}
		return e, err
	}
	e.Team = team.String
	e.Availability = availability.String
	var err error
	if e.Certifications, err = unmarshalStringSlice(certs); err != nil {
		return e, err
	}
	if e.SkillMatrix, err = unmarshalSkillMatrix(skills); err != nil {
		return e, err
	}
	if e.LastShiftStart, err = parseTime(shiftStart); err != nil {
		return e, err
	}
	if e.LastShiftEnd, err = parseTime(shiftEnd); err != nil {
		return e, err
	}
	return e, nil
}

func (r Repo) GetEngineer(ctx context.Context, id string) (domain.Engineer, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+engineerColumns+` FROM engineers WHERE engineer_id=?`, id)
	return scanEngineer(row.Scan)
}

func (r Repo) ListEngineers(ctx context.Context) ([]domain.Engineer, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+engineerColumns+` FROM engineers ORDER BY created_at, engineer_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var engineers []domain.Engineer
	for rows.Next() {
		e, err := scanEngineer(rows.Scan)
		if err != nil {
			return nil, err
		}
		engineers = append(engineers, e)
	}
	return engineers, rows.Err()
}

func (r Repo) DeleteEngineer(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := exec(ctx, r.DB, tx, `DELETE FROM engineers WHERE engineer_id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) UpdateEngineerFatigueTx(ctx context.Context, tx *sql.Tx, id string, fatigue float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE engineers SET fatigue=? WHERE engineer_id=?`, fatigue, id)
	return err
}

// --- maintenance orders ---

const orderColumns = `order_id,asset_id,assigned_engineer_id,required_certifications_json,task_type,base_time_minutes,task_difficulty,status,priority,scheduled_at,end_time,created_at`

func (r Repo) InsertOrderTx(ctx context.Context, tx *sql.Tx, o domain.MaintenanceOrder) error {
	certs, err := marshalStringSlice(o.RequiredCertifications)
	if err != nil {
		return err
	}
	var assigned any
	if o.AssignedEngineerID != nil {
		assigned = *o.AssignedEngineerID
	}
	_, err = tx.ExecContext(ctx, `INSERT INTO maintenance_orders(`+orderColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, o.AssetID, assigned, certs, o.TaskType, o.BaseTimeMinutes, o.TaskDifficulty, o.Status, o.Priority,
		nullableTime(o.ScheduledAt), nullableTime(o.EndTime), o.CreatedAt)
	return err
}

func scanOrder(scan func(dest ...any) error) (domain.MaintenanceOrder, error) {
	var o domain.MaintenanceOrder
	var assigned, certs, scheduled, end sql.NullString
	if err := scan(&o.ID, &o.AssetID, &assigned, &certs, &o.TaskType, &o.BaseTimeMinutes, &o.TaskDifficulty, &o.Status, &o.Priority, &scheduled, &end, &o.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return o, ErrNotFound
		}
		return o, err
	}
	if assigned.Valid {
		v := assigned.String
		o.AssignedEngineerID = &v
	}
	var err error
	if o.RequiredCertifications, err = unmarshalStringSlice(certs); err != nil {
		return o, err
	}
	if o.ScheduledAt, err = parseTime(scheduled); err != nil {
		return o, err
	}
	if o.EndTime, err = parseTime(end); err != nil {
		return o, err
	}
	return o, nil
}

func (r Repo) GetOrder(ctx context.Context, id string) (domain.MaintenanceOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM maintenance_orders WHERE order_id=?`, id)
	return scanOrder(row.Scan)
}

// ListOrders returns orders, optionally filtered by status.
func (r Repo) ListOrders(ctx context.Context, status string) ([]domain.MaintenanceOrder, error) {
	query := `SELECT ` + orderColumns + ` FROM maintenance_orders`
	var args []any
	if status != "" {
		query += ` WHERE status=?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at, order_id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []domain.MaintenanceOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// ListOpenOrders returns orders not yet completed.
func (r Repo) ListOpenOrders(ctx context.Context) ([]domain.MaintenanceOrder, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+orderColumns+` FROM maintenance_orders WHERE status!=? ORDER BY created_at, order_id`, domain.OrderCompleted)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var orders []domain.MaintenanceOrder
	for rows.Next() {
		o, err := scanOrder(rows.Scan)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// HasOpenOrderForAsset reports whether the asset already has work in flight.
func (r Repo) HasOpenOrderForAsset(ctx context.Context, assetID string) (bool, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT 1 FROM maintenance_orders WHERE asset_id=? AND status!=? LIMIT 1`, assetID, domain.OrderCompleted)
	var n int
	err := row.Scan(&n)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// OpenOrderForEngineer returns the first not-completed order assigned to
// the engineer, or ErrNotFound.
func (r Repo) OpenOrderForEngineer(ctx context.Context, engineerID string) (domain.MaintenanceOrder, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM maintenance_orders WHERE assigned_engineer_id=? AND status!=? LIMIT 1`, engineerID, domain.OrderCompleted)
	return scanOrder(row.Scan)
}

func (r Repo) AssignOrderTx(ctx context.Context, tx *sql.Tx, orderID, engineerID string, scheduledAt, endTime time.Time, priority float64) error {
	_, err := tx.ExecContext(ctx, `UPDATE maintenance_orders SET assigned_engineer_id=?, status=?, scheduled_at=?, end_time=?, priority=? WHERE order_id=?`,
		engineerID, domain.OrderAssigned, scheduledAt.UTC().Format(time.RFC3339), endTime.UTC().Format(time.RFC3339), priority, orderID)
	return err
}

func (r Repo) SetOrderStatusTx(ctx context.Context, tx *sql.Tx, orderID, status string) error {
	res, err := tx.ExecContext(ctx, `UPDATE maintenance_orders SET status=? WHERE order_id=?`, status, orderID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- overrides ---

const overrideColumns = `override_id,constraint_name,target_id,justification,approved_by,approver_role,expires_at`

func (r Repo) InsertOverrideTx(ctx context.Context, tx *sql.Tx, o domain.Override) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO overrides(`+overrideColumns+`) VALUES (?,?,?,?,?,?,?)`,
		o.ID, o.Constraint, o.TargetID, o.Justification, o.ApprovedBy, o.ApproverRole, o.ExpiresAt.UTC().Format(time.RFC3339))
	return err
}

func (r Repo) ListOverrides(ctx context.Context) ([]domain.Override, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+overrideColumns+` FROM overrides ORDER BY expires_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var overrides []domain.Override
	for rows.Next() {
		var o domain.Override
		var expires string
		if err := rows.Scan(&o.ID, &o.Constraint, &o.TargetID, &o.Justification, &o.ApprovedBy, &o.ApproverRole, &expires); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339, expires)
		if err != nil {
			return nil, fmt.Errorf("override %s expires_at: %w", o.ID, err)
		}
		o.ExpiresAt = t
		overrides = append(overrides, o)
	}
	return overrides, rows.Err()
}

// --- events ---

const eventColumns = `id,ts,event_type,COALESCE(order_id,''),COALESCE(asset_id,''),COALESCE(engineer_id,''),severity,COALESCE(message,''),payload_json`

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var events []domain.Event
	for rows.Next() {
		var e domain.Event
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.OrderID, &e.AssetID, &e.EngineerID, &e.Severity, &e.Message, &e.Payload); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// ListEvents returns the newest events first.
func (r Repo) ListEvents(ctx context.Context, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events ORDER BY id DESC LIMIT ?`, limit)
}

// ListEventsByType returns the newest events of one type first.
func (r Repo) ListEventsByType(ctx context.Context, eventType string, limit int) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE event_type=? ORDER BY id DESC LIMIT ?`, eventType, limit)
}

// EventsAfter returns events with id greater than cursor, oldest first.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	return r.queryEvents(ctx, `SELECT `+eventColumns+` FROM events WHERE id>? ORDER BY id LIMIT ?`, cursor, limit)
}

func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	var id sql.NullInt64
	if err := r.DB.QueryRowContext(ctx, `SELECT MAX(id) FROM events`).Scan(&id); err != nil {
		return 0, err
	}
	return id.Int64, nil
}

// --- helpers ---

func exec(ctx context.Context, db *sql.DB, tx *sql.Tx, query string, args ...any) (sql.Result, error) {
	if tx != nil {
		return tx.ExecContext(ctx, query, args...)
	}
	return db.ExecContext(ctx, query, args...)
}

func marshalStringSlice(in []string) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalStringSlice(in sql.NullString) ([]string, error) {
	if !in.Valid || in.String == "" {
		return nil, nil
	}
	var out []string
	if err := json.Unmarshal([]byte(in.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func marshalSkillMatrix(in map[string]float64) (any, error) {
	if len(in) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(in)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func unmarshalSkillMatrix(in sql.NullString) (map[string]float64, error) {
	if !in.Valid || in.String == "" {
		return nil, nil
	}
	var out map[string]float64
	if err := json.Unmarshal([]byte(in.String), &out); err != nil {
		return nil, err
	}
	return out, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func parseTime(v sql.NullString) (*time.Time, error) {
	if !v.Valid || v.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
