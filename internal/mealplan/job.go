package mealplan

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dukerupert/weekplate/internal/queue"
)

const JobKindGenerate = "meal_plan.generate"

type GeneratePayload struct {
	MealPlanID int64 `json:"meal_plan_id"`
	Regenerate bool  `json:"regenerate"`
}

// GenerateHandler runs generation jobs from the queue.
type GenerateHandler struct {
	task *Task
}

func NewGenerateHandler(task *Task) *GenerateHandler {
	return &GenerateHandler{task: task}
}

func decodePayload(payload []byte) (GeneratePayload, error) {
	var p GeneratePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return p, fmt.Errorf("decode generate payload: %w", err)
	}
	return p, nil
}

func (h *GenerateHandler) Run(ctx context.Context, payload []byte) error {
	p, err := decodePayload(payload)
	if err != nil {
		return queue.Permanent(err)
	}
	err = h.task.Run(ctx, p.MealPlanID, p.Regenerate)
	if errors.Is(err, ErrNotFound) {
		// Deleted while queued.
		return nil
	}
	return err
}

func (h *GenerateHandler) Failed(ctx context.Context, payload []byte, cause error) {
	p, err := decodePayload(payload)
	if err != nil {
		return
	}
	h.task.Failed(ctx, p.MealPlanID, cause)
}
