package alloc

import "plantline/internal/domain"

// Skill matrix keys consulted for duration estimates.
const (
	SkillRepairSpeed = "repairSpeed"
	SkillDiagnostics = "diagnostics"

	// TaskRepair selects the repairSpeed skill; every other task type
	// reads diagnostics.
	TaskRepair = "Repair"
)

// Params holds the orchestration-wide allocation constants. Values come
// from configuration; Normalize fills zero fields with the shipped
// defaults.
type Params struct {
	BaseTimeMinutes int
	TaskDifficulty  float64
	OverheadMinutes int
	DefaultSkill    float64
}

// DefaultParams are the constants the original plant deployment ran with.
func DefaultParams() Params {
	return Params{
		BaseTimeMinutes: 120,
		TaskDifficulty:  1.5,
		OverheadMinutes: 20,
		DefaultSkill:    5,
	}
}

func (p Params) Normalize() Params {
	d := DefaultParams()
	if p.BaseTimeMinutes <= 0 {
		p.BaseTimeMinutes = d.BaseTimeMinutes
	}
	if p.TaskDifficulty <= 0 {
		p.TaskDifficulty = d.TaskDifficulty
	}
	if p.OverheadMinutes <= 0 {
		p.OverheadMinutes = d.OverheadMinutes
	}
	if p.DefaultSkill <= 0 {
		p.DefaultSkill = d.DefaultSkill
	}
	return p
}

// EstimateDuration returns the estimated task minutes for the engineer.
// Skill is read from the matrix on a 0-10 scale (defaulted when missing),
// normalized to (0,1] with a 0.1 floor, then the base time is scaled by
// difficulty over skill plus a fixed overhead.
func EstimateDuration(e domain.Engineer, taskType string, base int, difficulty float64, p Params) int {
	p = p.Normalize()
	key := SkillDiagnostics
	if taskType == TaskRepair {
		key = SkillRepairSpeed
	}
	raw, ok := e.SkillMatrix[key]
	if !ok {
		raw = p.DefaultSkill
	}
	skill := raw / 10.0
	if skill < 0.1 {
		skill = 0.1
	}
	return int(float64(base)*(difficulty/skill)) + p.OverheadMinutes
}
