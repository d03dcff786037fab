package model

import (
	"time"

	"github.com/golang-sql/civil"
)

// MealPlanStatus is the lifecycle state of a meal plan.
type MealPlanStatus string

const (
	StatusPending    MealPlanStatus = "pending"
	StatusProcessing MealPlanStatus = "processing"
	StatusDone       MealPlanStatus = "done"
	StatusError      MealPlanStatus = "error"
)

// PlanDays is the number of calendar days covered by a plan.
const PlanDays = 7

func (s MealPlanStatus) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusDone, StatusError:
		return true
	}
	return false
}

// Finished reports whether the status is terminal for a generation run.
func (s MealPlanStatus) Finished() bool {
	return s == StatusDone || s == StatusError
}

type MealPlan struct {
	ID             int64          `json:"id"`
	UserID         int64          `json:"user_id"`
	StartDate      civil.Date     `json:"start_date"`
	EndDate        civil.Date     `json:"end_date"`
	Status         MealPlanStatus `json:"status"`
	GenerationMeta GenerationMeta `json:"generation_meta"`
	ArtifactPath   *string        `json:"-"`
	ArtifactSize   *int64         `json:"artifact_size"`
	LogsCount      int            `json:"logs_count"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// HasArtifact reports whether a rendered document has been recorded for the plan.
func (p *MealPlan) HasArtifact() bool {
	return p.ArtifactPath != nil && *p.ArtifactPath != ""
}

// EndDateFor returns the last day of a plan starting on start.
func EndDateFor(start civil.Date) civil.Date {
	return start.AddDays(PlanDays - 1)
}
