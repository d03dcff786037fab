package mealplan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-sql/civil"

	"github.com/dukerupert/weekplate/internal/model"
	"github.com/dukerupert/weekplate/internal/ratelimit"
)

// Rate limit actions and policy.
const (
	ActionGenerate   = "generate"
	ActionRegenerate = "regenerate"
	MaxAttempts      = 5
	AttemptWindow    = time.Hour
)

// PlanLookup answers the uniqueness check for new plans.
type PlanLookup interface {
	ExistsForUserOnDate(userID int64, day civil.Date) (bool, error)
}

// Admission decides whether generate and regenerate requests may proceed.
// Rate limits are checked before anything else but only recorded once every
// other check has passed.
type Admission struct {
	plans   PlanLookup
	limiter ratelimit.Limiter
	clock   Clock
	loc     *time.Location
}

func NewAdmission(plans PlanLookup, limiter ratelimit.Limiter, clock Clock, loc *time.Location) *Admission {
	if loc == nil {
		loc = time.UTC
	}
	return &Admission{plans: plans, limiter: limiter, clock: clock, loc: loc}
}

// GenerateRequest is an admitted request for a new plan.
type GenerateRequest struct {
	UserID    int64
	StartDate civil.Date
	EndDate   civil.Date
}

// RegenerateRequest carries the regenerate form fields.
type RegenerateRequest struct {
	Regenerate bool
	Force      bool
}

// Today returns the current calendar day in the business timezone.
func (a *Admission) Today() civil.Date {
	return civil.DateOf(a.clock.Now().In(a.loc))
}

func (a *Admission) AdmitGenerate(ctx context.Context, userID int64, rawStartDate string) (*GenerateRequest, error) {
	key := ratelimit.Key(ActionGenerate, userID)
	if err := a.checkLimit(ctx, key, generateThrottled); err != nil {
		return nil, err
	}

	start, verr := a.parseStartDate(rawStartDate)
	if verr != nil {
		return nil, verr
	}

	exists, err := a.plans.ExistsForUserOnDate(userID, start)
	if err != nil {
		return nil, fmt.Errorf("check existing plan: %w", err)
	}
	if exists {
		return nil, invalid(FieldStartDate, MsgStartDateTaken)
	}

	if err := a.commitHit(ctx, key, generateThrottled); err != nil {
		return nil, err
	}

	return &GenerateRequest{
		UserID:    userID,
		StartDate: start,
		EndDate:   model.EndDateFor(start),
	}, nil
}

// AdmitRegenerate validates a regenerate request against a plan the caller
// already owns. A processing plan yields ErrAlreadyProcessing.
func (a *Admission) AdmitRegenerate(ctx context.Context, userID int64, plan *model.MealPlan, req RegenerateRequest) error {
	if !req.Regenerate {
		return invalid(FieldRegenerate, MsgRegenerateRequired)
	}
	if plan.Status == model.StatusProcessing {
		return ErrAlreadyProcessing
	}
	if !plan.Status.Finished() {
		return invalid(FieldStatus, MsgNotFinished)
	}
	if req.Force {
		return nil
	}

	key := ratelimit.Key(ActionRegenerate, userID)
	if err := a.checkLimit(ctx, key, regenerateThrottled); err != nil {
		return err
	}
	return a.commitHit(ctx, key, regenerateThrottled)
}

// commitHit records the attempt unless concurrent requests used up the
// quota after checkLimit passed.
func (a *Admission) commitHit(ctx context.Context, key string, throttled func(int) *ValidationError) error {
	ok, err := a.limiter.HitIfUnder(ctx, key, AttemptWindow, MaxAttempts)
	if err != nil {
		return fmt.Errorf("record attempt: %w", err)
	}
	if ok {
		return nil
	}
	seconds, err := a.limiter.SecondsUntilReset(ctx, key)
	if err != nil {
		return fmt.Errorf("read rate limit reset: %w", err)
	}
	return throttled(seconds)
}

func (a *Admission) checkLimit(ctx context.Context, key string, throttled func(int) *ValidationError) error {
	tooMany, err := ratelimit.TooManyAttempts(ctx, a.limiter, key, MaxAttempts)
	if err != nil {
		return fmt.Errorf("check rate limit: %w", err)
	}
	if !tooMany {
		return nil
	}
	seconds, err := a.limiter.SecondsUntilReset(ctx, key)
	if err != nil {
		return fmt.Errorf("read rate limit reset: %w", err)
	}
	return throttled(seconds)
}

func (a *Admission) parseStartDate(raw string) (civil.Date, *ValidationError) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return civil.Date{}, invalid(FieldStartDate, MsgStartDateRequired)
	}
	day, ok := ParseDate(raw, a.loc)
	if !ok {
		return civil.Date{}, invalid(FieldStartDate, MsgStartDateInvalid)
	}
	if day.Before(a.Today()) {
		return civil.Date{}, invalid(FieldStartDate, MsgStartDatePast)
	}
	return day, nil
}

// ParseDate accepts YYYY-MM-DD or an RFC 3339 timestamp, which is converted
// to loc before taking its calendar day.
func ParseDate(raw string, loc *time.Location) (civil.Date, bool) {
	if d, err := civil.ParseDate(raw); err == nil && d.IsValid() {
		return d, true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return civil.DateOf(t.In(loc)), true
	}
	return civil.Date{}, false
}

// Accepted reports whether a form value counts as an affirmative answer.
func Accepted(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x == 1
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "yes", "on", "1", "true":
			return true
		}
	}
	return false
}

// Truthy converts a loosely typed boolean field, defaulting to false.
func Truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		switch strings.ToLower(strings.TrimSpace(x)) {
		case "1", "true", "on", "yes":
			return true
		}
	}
	return false
}
