package alloc

import (
	"math"
	"testing"
	"time"

	"plantline/internal/domain"
)

var passTime = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func hoursAgo(h float64) *time.Time {
	t := passTime.Add(-time.Duration(h * float64(time.Hour)))
	return &t
}

func TestFatigueFullRecoveryAfterLongBreak(t *testing.T) {
	e := domain.Engineer{
		ID:                   "E1",
		LastShiftEnd:         hoursAgo(49),
		LastShiftStart:       hoursAgo(60),
		HoursWorkedYesterday: 12,
	}
	if got := Fatigue(e, passTime); got != 0.0 {
		t.Fatalf("expected full recovery, got %v", got)
	}
}

func TestFatigueCarryoverCapped(t *testing.T) {
	e := domain.Engineer{ID: "E1", LastShiftEnd: hoursAgo(2), HoursWorkedYesterday: 16}
	// 16h * 2.5 = 40 caps at 25; short break keeps the full multiplier.
	if got := Fatigue(e, passTime); got != 25.0 {
		t.Fatalf("expected capped carryover 25, got %v", got)
	}
}

func TestFatigueRestedMultiplier(t *testing.T) {
	e := domain.Engineer{ID: "E1", LastShiftEnd: hoursAgo(20), HoursWorkedYesterday: 8}
	// 8h * 2.5 = 20, scaled by 0.4 after more than 18h off.
	if got := Fatigue(e, passTime); got != 8.0 {
		t.Fatalf("expected rested carryover 8, got %v", got)
	}
}

func TestFatigueShiftStrain(t *testing.T) {
	e := domain.Engineer{ID: "E1", LastShiftStart: hoursAgo(4)}
	want := math.Round(math.Pow(4, 1.35)*10) / 10
	if got := Fatigue(e, passTime); got != want {
		t.Fatalf("expected strain %v, got %v", want, got)
	}
}

func TestFatigueFutureShiftStartIgnored(t *testing.T) {
	e := domain.Engineer{ID: "E1", LastShiftStart: hoursAgo(-2), HoursWorkedYesterday: 2}
	if got := Fatigue(e, passTime); got != 5.0 {
		t.Fatalf("expected carryover only, got %v", got)
	}
}

func TestFatigueMissingTimestampsDefaultToZero(t *testing.T) {
	if got := Fatigue(domain.Engineer{ID: "E1", Fatigue: 42}, passTime); got != 0.0 {
		t.Fatalf("expected 0 with no shift history, got %v", got)
	}
}

func TestFatigueClampedAtCeiling(t *testing.T) {
	e := domain.Engineer{ID: "E1", LastShiftStart: hoursAgo(40)}
	if got := Fatigue(e, passTime); got != 100.0 {
		t.Fatalf("expected clamp at 100, got %v", got)
	}
}
