package mealplan

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/dukerupert/weekplate/internal/artifact"
	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/queue"
	"github.com/dukerupert/weekplate/internal/store"
)

// Enqueuer hands work to the background queue. Jobs for one plan share a
// unique key so that at most one of them is live at a time.
type Enqueuer interface {
	EnqueueUnique(ctx context.Context, kind, key string, payload any) (string, error)
	Live(ctx context.Context, key string) (bool, error)
}

// JobKey is the unique queue key for generation jobs of a plan.
func JobKey(planID int64) string {
	return "meal_plan:" + strconv.FormatInt(planID, 10)
}

// Service is the entry point for meal plan requests from the HTTP layer.
type Service struct {
	plans     *store.MealPlanStore
	logs      *store.GenerationLogStore
	admission *Admission
	queue     Enqueuer
	artifacts artifact.Store
	logger    *slog.Logger
}

func NewService(plans *store.MealPlanStore, logs *store.GenerationLogStore, admission *Admission, queue Enqueuer, artifacts artifact.Store, logger *slog.Logger) *Service {
	return &Service{
		plans:     plans,
		logs:      logs,
		admission: admission,
		queue:     queue,
		artifacts: artifacts,
		logger:    logger.With("component", "mealplan"),
	}
}

// Generate admits a new plan, stores it as pending and queues its generation.
func (s *Service) Generate(ctx context.Context, userID int64, rawStartDate string) (*model.MealPlan, error) {
	req, err := s.admission.AdmitGenerate(ctx, userID, rawStartDate)
	if err != nil {
		return nil, err
	}

	plan, err := s.plans.Create(req.UserID, req.StartDate)
	if errors.Is(err, store.ErrDuplicateStartDate) {
		return nil, invalid(FieldStartDate, MsgStartDateTaken)
	}
	if err != nil {
		return nil, err
	}

	if _, err := s.queue.EnqueueUnique(ctx, JobKindGenerate, JobKey(plan.ID), GeneratePayload{MealPlanID: plan.ID}); err != nil {
		if _, derr := s.plans.Delete(plan.ID); derr != nil {
			s.logger.Error("remove unqueued meal plan", "meal_plan_id", plan.ID, "error", derr)
		}
		return nil, fmt.Errorf("queue generation: %w", err)
	}

	s.logger.Info("meal plan generation queued", "meal_plan_id", plan.ID, "user_id", userID, "start_date", plan.StartDate)
	return plan, nil
}

// Regenerate resets a finished plan to pending and queues a new run.
func (s *Service) Regenerate(ctx context.Context, userID, planID int64, req RegenerateRequest) (*model.MealPlan, error) {
	plan, err := s.owned(planID, userID, CanUpdate)
	if err != nil {
		return nil, err
	}
	if plan.Status == model.StatusProcessing {
		return nil, ErrAlreadyProcessing
	}
	// A failed run waiting for its retry leaves the plan in error.
	live, err := s.queue.Live(ctx, JobKey(planID))
	if err != nil {
		return nil, fmt.Errorf("check queued generation: %w", err)
	}
	if live {
		return nil, ErrAlreadyProcessing
	}

	if err := s.admission.AdmitRegenerate(ctx, userID, plan, req); err != nil {
		return nil, err
	}

	ok, err := s.plans.ResetForRegeneration(planID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// The plan moved on between the read and the reset.
		current, err := s.plans.GetByID(planID)
		if err != nil {
			return nil, err
		}
		if current == nil {
			return nil, ErrNotFound
		}
		if current.Status == model.StatusProcessing {
			return nil, ErrAlreadyProcessing
		}
		return nil, invalid(FieldStatus, MsgNotFinished)
	}

	_, err = s.queue.EnqueueUnique(ctx, JobKindGenerate, JobKey(planID), GeneratePayload{MealPlanID: planID, Regenerate: true})
	if err != nil {
		if _, rerr := s.plans.RestoreAfterReset(planID, plan.Status, plan.GenerationMeta); rerr != nil {
			s.logger.Error("restore unqueued meal plan", "meal_plan_id", planID, "error", rerr)
		}
		if errors.Is(err, queue.ErrDuplicate) {
			return nil, ErrAlreadyProcessing
		}
		return nil, fmt.Errorf("queue regeneration: %w", err)
	}

	s.logger.Info("meal plan regeneration queued", "meal_plan_id", planID, "user_id", userID, "force", req.Force)
	return s.plans.GetByID(planID)
}

// Delete removes a plan that is not processing, together with its logs and
// stored document.
func (s *Service) Delete(ctx context.Context, userID, planID int64) error {
	plan, err := s.owned(planID, userID, CanDelete)
	if err != nil {
		return err
	}

	ok, err := s.plans.Delete(planID)
	if err != nil {
		return err
	}
	if !ok {
		current, err := s.plans.GetByID(planID)
		if err != nil {
			return err
		}
		if current == nil {
			return ErrNotFound
		}
		return ErrForbidden
	}

	if plan.HasArtifact() {
		if err := s.artifacts.Delete(ctx, *plan.ArtifactPath); err != nil {
			s.logger.Warn("delete artifact", "meal_plan_id", planID, "key", *plan.ArtifactPath, "error", err)
		}
	}

	s.logger.Info("meal plan deleted", "meal_plan_id", planID, "user_id", userID)
	return nil
}

// Document is a downloadable rendering of a plan.
type Document struct {
	Filename string
	Data     []byte
}

func (s *Service) Download(ctx context.Context, userID, planID int64) (*Document, error) {
	plan, err := s.owned(planID, userID, CanView)
	if err != nil {
		return nil, err
	}
	if plan.Status != model.StatusDone || !plan.HasArtifact() {
		return nil, ErrArtifactUnavailable
	}

	exists, err := s.artifacts.Exists(ctx, *plan.ArtifactPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrArtifactUnavailable
	}

	data, err := s.artifacts.Read(ctx, *plan.ArtifactPath)
	if errors.Is(err, artifact.ErrNotFound) {
		return nil, ErrArtifactUnavailable
	}
	if err != nil {
		return nil, err
	}

	return &Document{
		Filename: fmt.Sprintf("meal-plan-%s-%s.pdf", plan.StartDate, plan.EndDate),
		Data:     data,
	}, nil
}

// Get returns a plan with its logs, newest first.
func (s *Service) Get(_ context.Context, userID, planID int64) (*model.MealPlan, []model.GenerationLog, error) {
	plan, err := s.owned(planID, userID, CanView)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.logs.ListByMealPlan(planID)
	if err != nil {
		return nil, nil, err
	}
	return plan, logs, nil
}

func (s *Service) Logs(_ context.Context, userID, planID int64) ([]model.GenerationLog, error) {
	if _, err := s.owned(planID, userID, CanView); err != nil {
		return nil, err
	}
	return s.logs.ListByMealPlan(planID)
}

func (s *Service) List(_ context.Context, userID int64, opts store.ListOptions) (*store.MealPlanPage, error) {
	if opts.Status != "" && !opts.Status.Valid() {
		return nil, invalid(FieldStatus, "The selected status is invalid.")
	}
	return s.plans.List(userID, opts)
}

func (s *Service) owned(planID, userID int64, allowed func(int64, *model.MealPlan) bool) (*model.MealPlan, error) {
	plan, err := s.plans.GetByID(planID)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return nil, ErrNotFound
	}
	if !allowed(userID, plan) {
		return nil, ErrForbidden
	}
	return plan, nil
}
