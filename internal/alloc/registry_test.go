package alloc

import (
	"errors"
	"testing"
	"time"

	"plantline/internal/domain"
)

func TestApproveOverride(t *testing.T) {
	reg := NewRegistry(nil)
	expires := passTime.Add(4 * time.Hour)
	ov, err := reg.Approve(ConstraintFatigueLimit, "E1", "Unplanned turbine outage needs night cover", "s.ops", "PLANT_MANAGER", expires)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if ov.ID == "" {
		t.Fatal("expected generated override id")
	}
	if !ov.IsActive(passTime) {
		t.Fatal("expected override active before expiry")
	}
	if ov.IsActive(expires) {
		t.Fatal("expected override inactive at expiry")
	}
}

func TestApproveRejectsUnauthorizedRole(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Approve(ConstraintFatigueLimit, "E1", "Unplanned turbine outage needs night cover", "s.ops", "INTERN", passTime.Add(time.Hour))
	if !errors.Is(err, ErrUnauthorizedRole) {
		t.Fatalf("expected ErrUnauthorizedRole, got %v", err)
	}
}

func TestApproveRejectsShortJustification(t *testing.T) {
	reg := NewRegistry(nil)
	_, err := reg.Approve(ConstraintFatigueLimit, "E1", "too short", "s.ops", "SAFETY_OFFICER", passTime.Add(time.Hour))
	if !errors.Is(err, ErrJustificationTooShort) {
		t.Fatalf("expected ErrJustificationTooShort, got %v", err)
	}
}

func TestActiveFiltersExpired(t *testing.T) {
	overrides := []domain.Override{
		{ID: "OV1", ExpiresAt: passTime.Add(time.Hour)},
		{ID: "OV2", ExpiresAt: passTime.Add(-time.Hour)},
	}
	active := Active(overrides, passTime)
	if len(active) != 1 || active[0].ID != "OV1" {
		t.Fatalf("expected only OV1 active, got %+v", active)
	}
}

func TestRequiresEscalation(t *testing.T) {
	if RequiresEscalation(domain.SeverityCritical, 14*time.Minute) {
		t.Fatal("critical alert inside window should not escalate")
	}
	if !RequiresEscalation(domain.SeverityCritical, 15*time.Minute) {
		t.Fatal("critical alert at window should escalate")
	}
	if !RequiresEscalation(domain.SeverityWarning, 30*time.Minute) {
		t.Fatal("warning alert at window should escalate")
	}
	if RequiresEscalation(domain.SeverityInfo, time.Hour) {
		t.Fatal("info alerts never escalate")
	}
}
