package model

import "time"

type GenerationLog struct {
	ID         int64          `json:"id"`
	MealPlanID int64          `json:"meal_plan_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at"`
	Status     MealPlanStatus `json:"status"`
	CreatedAt  time.Time      `json:"created_at"`
}
