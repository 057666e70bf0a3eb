package domain

import "time"

// Maintenance order status values.
const (
	OrderPending   = "PENDING"
	OrderAssigned  = "ASSIGNED"
	OrderCompleted = "COMPLETED"
)

// Event severities as recorded in the audit log.
const (
	SeverityCritical = "CRITICAL"
	SeverityWarning  = "WARNING"
	SeveritySuccess  = "SUCCESS"
	SeverityInfo     = "INFO"
)

type Asset struct {
	ID                     string   `json:"asset_id"`
	Type                   string   `json:"asset_type"`
	HealthScore            float64  `json:"health_score"`
	RiskLevel              float64  `json:"risk_level"`
	RequiredCertifications []string `json:"required_certifications,omitempty"`
	ResponsibleTeams       []string `json:"responsible_teams,omitempty"`
	CreatedAt              string   `json:"created_at" format:"date-time"`
}

// Operational reports whether the asset is above the given health floor.
func (a Asset) Operational(floor float64) bool {
	return a.HealthScore > floor
}

type Engineer struct {
	ID                   string             `json:"engineer_id"`
	Name                 string             `json:"name"`
	Team                 string             `json:"team,omitempty"`
	Certifications       []string           `json:"certifications,omitempty"`
	SkillMatrix          map[string]float64 `json:"skill_matrix,omitempty"`
	Availability         string             `json:"availability,omitempty"`
	Fatigue              float64            `json:"fatigue"`
	LastShiftStart       *time.Time         `json:"last_shift_start,omitempty" format:"date-time"`
	LastShiftEnd         *time.Time         `json:"last_shift_end,omitempty" format:"date-time"`
	HoursWorkedYesterday float64            `json:"hours_worked_yesterday"`
	CreatedAt            string             `json:"created_at" format:"date-time"`
}

type MaintenanceOrder struct {
	ID                     string     `json:"order_id"`
	AssetID                string     `json:"asset_id"`
	AssignedEngineerID     *string    `json:"assigned_engineer_id,omitempty"`
	RequiredCertifications []string   `json:"required_certifications,omitempty"`
	TaskType               string     `json:"task_type"`
	BaseTimeMinutes        int        `json:"base_time_minutes"`
	TaskDifficulty         float64    `json:"task_difficulty"`
	Status                 string     `json:"status" enum:"PENDING,ASSIGNED,COMPLETED"`
	Priority               float64    `json:"priority"`
	ScheduledAt            *time.Time `json:"scheduled_at,omitempty" format:"date-time"`
	EndTime                *time.Time `json:"end_time,omitempty" format:"date-time"`
	CreatedAt              string     `json:"created_at" format:"date-time"`
}

// Override is a time-scoped exception suspending one legality constraint
// for one engineer. Never mutated after approval; it only expires.
type Override struct {
	ID            string    `json:"override_id"`
	Constraint    string    `json:"constraint"`
	TargetID      string    `json:"target_id"`
	Justification string    `json:"justification"`
	ApprovedBy    string    `json:"approved_by"`
	ApproverRole  string    `json:"approver_role"`
	ExpiresAt     time.Time `json:"expires_at" format:"date-time"`
}

func (o Override) IsActive(now time.Time) bool {
	return now.Before(o.ExpiresAt)
}

// AllocationDecision is the output of one allocator pass entry. It is
// ephemeral; callers persist what they need of it.
type AllocationDecision struct {
	OrderID         string    `json:"order_id"`
	EngineerID      string    `json:"engineer_id"`
	EngineerName    string    `json:"engineer_name"`
	AssetID         string    `json:"asset_id"`
	DurationMinutes int       `json:"duration_minutes"`
	StartTime       time.Time `json:"start_time" format:"date-time"`
	EndTime         time.Time `json:"end_time" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"event_type"`
	OrderID    string `json:"order_id,omitempty"`
	AssetID    string `json:"asset_id,omitempty"`
	EngineerID string `json:"engineer_id,omitempty"`
	Severity   string `json:"severity"`
	Message    string `json:"message,omitempty"`
	Payload    string `json:"payload_json"`
}

type Alert struct {
	ID        int64  `json:"id"`
	Severity  string `json:"severity"`
	Message   string `json:"message"`
	AssetID   string `json:"asset_id,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
