package mealplan

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/store"
)

// Generator produces the document for a plan.
type Generator interface {
	Generate(ctx context.Context, plan *model.MealPlan) ([]byte, error)
	Version() string
}

// Notifier is told about every status change a task makes.
type Notifier interface {
	PlanStatusChanged(ctx context.Context, plan *model.MealPlan)
}

// Task drives one generation run of a plan from processing to done or error.
type Task struct {
	plans     *store.MealPlanStore
	logs      *store.GenerationLogStore
	artifacts artifact.Store
	generator Generator
	clock     Clock
	logger    *slog.Logger
	notifiers []Notifier
}

func NewTask(plans *store.MealPlanStore, logs *store.GenerationLogStore, artifacts artifact.Store, generator Generator, clock Clock, logger *slog.Logger, notifiers ...Notifier) *Task {
	return &Task{
		plans:     plans,
		logs:      logs,
		artifacts: artifacts,
		generator: generator,
		clock:     clock,
		logger:    logger.With("component", "generation"),
		notifiers: notifiers,
	}
}

// ArtifactKey names the object a run writes. Each run gets a fresh key so a
// failed run never clobbers the previous document.
func ArtifactKey(plan *model.MealPlan) string {
	return fmt.Sprintf("meal-plans/%d/%d-%s.pdf", plan.UserID, plan.ID, uuid.NewString())
}

// Run generates the plan. On failure the plan and its log are marked as
// errored and the error is returned so the caller can retry.
func (t *Task) Run(ctx context.Context, planID int64, regenerate bool) error {
	plan, err := t.plans.GetByID(planID)
	if err != nil {
		return err
	}
	if plan == nil {
		return ErrNotFound
	}

	log := t.logger.With("meal_plan_id", planID, "regenerate", regenerate)

	entry, err := t.logs.Start(planID, t.clock.Now())
	if err != nil {
		return fmt.Errorf("start generation log: %w", err)
	}

	if err := t.plans.MarkProcessing(planID, model.ProcessingMeta{
		StartedAt:  t.clock.Now().UTC(),
		Regenerate: regenerate,
	}); err != nil {
		return t.fail(ctx, planID, entry.ID, regenerate, err)
	}
	t.notify(ctx, planID)
	log.Info("meal plan generation started")

	data, err := t.generate(ctx, plan)
	if err != nil {
		return t.fail(ctx, planID, entry.ID, regenerate, err)
	}

	key := ArtifactKey(plan)
	if err := t.artifacts.Write(ctx, key, data); err != nil {
		return t.fail(ctx, planID, entry.ID, regenerate, fmt.Errorf("store document: %w", err))
	}

	meta := model.DoneMeta{
		GeneratedAt: t.clock.Now().UTC(),
		Regenerate:  regenerate,
		ArtifactRef: key,
		Version:     t.generator.Version(),
	}
	if err := t.plans.MarkDone(planID, meta, key, int64(len(data))); err != nil {
		t.deleteArtifact(ctx, key)
		return t.fail(ctx, planID, entry.ID, regenerate, err)
	}
	if _, err := t.logs.Finish(entry.ID, model.StatusDone, t.clock.Now()); err != nil {
		log.Error("finish generation log", "error", err)
	}

	if plan.HasArtifact() && *plan.ArtifactPath != key {
		t.deleteArtifact(ctx, *plan.ArtifactPath)
	}

	t.notify(ctx, planID)
	log.Info("meal plan generation completed", "artifact", key, "size", len(data))
	return nil
}

func (t *Task) generate(ctx context.Context, plan *model.MealPlan) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("generator panic: %v", r)
		}
	}()
	return t.generator.Generate(ctx, plan)
}

func (t *Task) fail(ctx context.Context, planID, logID int64, regenerate bool, cause error) error {
	log := t.logger.With("meal_plan_id", planID)

	meta := model.ErrorMeta{
		ErrorAt:      t.clock.Now().UTC(),
		ErrorMessage: cause.Error(),
		Regenerate:   regenerate,
	}
	if err := t.plans.MarkError(planID, meta); err != nil {
		log.Error("mark meal plan error", "error", err)
	}
	if _, err := t.logs.Finish(logID, model.StatusError, t.clock.Now()); err != nil {
		log.Error("finish generation log", "error", err)
	}

	t.notify(ctx, planID)
	log.Error("meal plan generation failed", "error", cause)
	return cause
}

// Failed is called once the job runner has given up. It only downgrades a
// plan that is still processing, so a run that finished in the meantime is
// left alone.
func (t *Task) Failed(ctx context.Context, planID int64, cause error) {
	log := t.logger.With("meal_plan_id", planID)

	msg := "generation failed"
	if cause != nil {
		msg = cause.Error()
	}
	changed, err := t.plans.FailIfProcessing(planID, model.FailedMeta{
		FailedAt:     t.clock.Now().UTC(),
		ErrorMessage: msg,
	})
	if err != nil {
		log.Error("mark meal plan failed", "error", err)
		return
	}

	log.Error("meal plan generation failed permanently", "error", msg, "updated", changed)
	if changed {
		t.notify(ctx, planID)
	}
}

func (t *Task) deleteArtifact(ctx context.Context, key string) {
	if err := t.artifacts.Delete(ctx, key); err != nil {
		t.logger.Warn("delete artifact", "key", key, "error", err)
	}
}

func (t *Task) notify(ctx context.Context, planID int64) {
	if len(t.notifiers) == 0 {
		return
	}
	plan, err := t.plans.GetByID(planID)
	if err != nil || plan == nil {
		return
	}
	for _, n := range t.notifiers {
		n.PlanStatusChanged(ctx, plan)
	}
}
