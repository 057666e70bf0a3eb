package server

import (
	"time"

	"plantline/internal/domain"
	"plantline/internal/engine"
)

// Request payloads

type CreateAssetRequest struct {
	ID                     string   `json:"asset_id"`
	Type                   string   `json:"asset_type"`
	HealthScore            *float64 `json:"health_score,omitempty"`
	RiskLevel              *float64 `json:"risk_level,omitempty"`
	RequiredCertifications []string `json:"required_certifications,omitempty"`
	ResponsibleTeams       []string `json:"responsible_teams,omitempty"`
}

type CreateEngineerRequest struct {
	ID             string             `json:"engineer_id"`
	Name           string             `json:"name"`
	Team           *string            `json:"team,omitempty"`
	Certifications []string           `json:"certifications,omitempty"`
	SkillMatrix    map[string]float64 `json:"skill_matrix,omitempty"`
	Availability   *string            `json:"availability,omitempty"`
}

type ApproveOverrideRequest struct {
	Constraint    string `json:"constraint"`
	TargetID      string `json:"target_id"`
	Justification string `json:"justification"`
	ApprovedBy    string `json:"approved_by"`
	ApproverRole  string `json:"approver_role"`
	ExpiresAt     string `json:"expires_at" format:"date-time"`
	DurationHours *int   `json:"duration_hours,omitempty"`
}

// Response payloads

type AssetResponse struct {
	ID                     string   `json:"asset_id"`
	Type                   string   `json:"asset_type"`
	HealthScore            float64  `json:"health_score"`
	RiskLevel              float64  `json:"risk_level"`
	RequiredCertifications []string `json:"required_certifications,omitempty"`
	ResponsibleTeams       []string `json:"responsible_teams,omitempty"`
	Operational            bool     `json:"operational"`
	CreatedAt              string   `json:"created_at" format:"date-time"`
}

type EngineerResponse struct {
	ID             string             `json:"engineer_id"`
	Name           string             `json:"name"`
	Team           string             `json:"team,omitempty"`
	Certifications []string           `json:"certifications,omitempty"`
	SkillMatrix    map[string]float64 `json:"skill_matrix,omitempty"`
	Availability   string             `json:"availability,omitempty"`
	Fatigue        float64            `json:"fatigue"`
	CreatedAt      string             `json:"created_at" format:"date-time"`
}

type OrderResponse struct {
	ID                 string   `json:"order_id"`
	AssetID            string   `json:"asset_id"`
	AssignedEngineerID *string  `json:"assigned_engineer_id,omitempty"`
	TaskType           string   `json:"task_type"`
	Status             string   `json:"status" enum:"PENDING,ASSIGNED,COMPLETED"`
	Priority           float64  `json:"priority"`
	Required           []string `json:"required_certifications,omitempty"`
	ScheduledAt        *string  `json:"scheduled_at,omitempty" format:"date-time"`
	EndTime            *string  `json:"end_time,omitempty" format:"date-time"`
	CreatedAt          string   `json:"created_at" format:"date-time"`
}

type OverrideResponse struct {
	ID            string `json:"override_id"`
	Constraint    string `json:"constraint"`
	TargetID      string `json:"target_id"`
	Justification string `json:"justification"`
	ApprovedBy    string `json:"approved_by"`
	ApproverRole  string `json:"approver_role"`
	ExpiresAt     string `json:"expires_at" format:"date-time"`
	Active        bool   `json:"active"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"event_type"`
	OrderID    string `json:"order_id,omitempty"`
	AssetID    string `json:"asset_id,omitempty"`
	EngineerID string `json:"engineer_id,omitempty"`
	Severity   string `json:"severity"`
	Message    string `json:"message,omitempty"`
}

func assetResponse(a domain.Asset, floor float64) AssetResponse {
	return AssetResponse{
		ID:                     a.ID,
		Type:                   a.Type,
		HealthScore:            a.HealthScore,
		RiskLevel:              a.RiskLevel,
		RequiredCertifications: a.RequiredCertifications,
		ResponsibleTeams:       a.ResponsibleTeams,
		Operational:            a.Operational(floor),
		CreatedAt:              a.CreatedAt,
	}
}

func mapAssets(items []domain.Asset, floor float64) []AssetResponse {
	out := make([]AssetResponse, 0, len(items))
	for _, a := range items {
		out = append(out, assetResponse(a, floor))
	}
	return out
}

func engineerResponse(e domain.Engineer) EngineerResponse {
	return EngineerResponse{
		ID:             e.ID,
		Name:           e.Name,
		Team:           e.Team,
		Certifications: e.Certifications,
		SkillMatrix:    e.SkillMatrix,
		Availability:   e.Availability,
		Fatigue:        e.Fatigue,
		CreatedAt:      e.CreatedAt,
	}
}

func mapEngineers(items []domain.Engineer) []EngineerResponse {
	out := make([]EngineerResponse, 0, len(items))
	for _, e := range items {
		out = append(out, engineerResponse(e))
	}
	return out
}

func orderResponse(o domain.MaintenanceOrder) OrderResponse {
	return OrderResponse{
		ID:                 o.ID,
		AssetID:            o.AssetID,
		AssignedEngineerID: o.AssignedEngineerID,
		TaskType:           o.TaskType,
		Status:             o.Status,
		Priority:           o.Priority,
		Required:           o.RequiredCertifications,
		ScheduledAt:        formatTime(o.ScheduledAt),
		EndTime:            formatTime(o.EndTime),
		CreatedAt:          o.CreatedAt,
	}
}

func mapOrders(items []domain.MaintenanceOrder) []OrderResponse {
	out := make([]OrderResponse, 0, len(items))
	for _, o := range items {
		out = append(out, orderResponse(o))
	}
	return out
}

func overrideResponse(o domain.Override, now time.Time) OverrideResponse {
	return OverrideResponse{
		ID:            o.ID,
		Constraint:    o.Constraint,
		TargetID:      o.TargetID,
		Justification: o.Justification,
		ApprovedBy:    o.ApprovedBy,
		ApproverRole:  o.ApproverRole,
		ExpiresAt:     o.ExpiresAt.UTC().Format(time.RFC3339),
		Active:        o.IsActive(now),
	}
}

func mapOverrides(items []domain.Override, now time.Time) []OverrideResponse {
	out := make([]OverrideResponse, 0, len(items))
	for _, o := range items {
		out = append(out, overrideResponse(o, now))
	}
	return out
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		OrderID:    e.OrderID,
		AssetID:    e.AssetID,
		EngineerID: e.EngineerID,
		Severity:   e.Severity,
		Message:    e.Message,
	}
}

func mapEvents(items []domain.Event) []EventResponse {
	out := make([]EventResponse, 0, len(items))
	for _, e := range items {
		out = append(out, eventResponse(e))
	}
	return out
}

func mapReadiness(items []engine.ReadinessEntry) []engine.ReadinessEntry {
	if items == nil {
		return []engine.ReadinessEntry{}
	}
	return items
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func stringOrEmpty(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
