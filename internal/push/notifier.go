package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dukerupert/weekplate/internal/model"
)

// SubscriptionStore is the part of store.PushStore the notifier needs.
type SubscriptionStore interface {
	ListByUser(userID int64) ([]model.PushSubscription, error)
	DeleteByEndpoint(endpoint string) error
}

type sender interface {
	Enabled() bool
	Send(sub *model.PushSubscription, payload Payload) error
}

// Notifier pushes a notification to a plan owner's devices when generation
// finishes. Other transitions are ignored.
type Notifier struct {
	svc    sender
	subs   SubscriptionStore
	logger *slog.Logger
}

func NewNotifier(svc *Service, subs SubscriptionStore, logger *slog.Logger) *Notifier {
	return &Notifier{svc: svc, subs: subs, logger: logger.With("component", "push")}
}

// PayloadFor builds the notification for a finished plan. ok is false for
// statuses that do not notify.
func PayloadFor(plan *model.MealPlan) (Payload, bool) {
	url := fmt.Sprintf("/meal-plans/%d", plan.ID)
	tag := fmt.Sprintf("meal-plan-%d", plan.ID)
	switch plan.Status {
	case model.StatusDone:
		return Payload{
			Title: "Meal plan ready",
			Body:  fmt.Sprintf("Your meal plan for %s to %s is ready to download.", plan.StartDate, plan.EndDate),
			URL:   url,
			Tag:   tag,
		}, true
	case model.StatusError:
		return Payload{
			Title: "Meal plan failed",
			Body:  fmt.Sprintf("We couldn't generate your meal plan for %s. You can try again.", plan.StartDate),
			URL:   url,
			Tag:   tag,
		}, true
	}
	return Payload{}, false
}

// PlanStatusChanged sends the owner a push for done and error transitions.
func (n *Notifier) PlanStatusChanged(_ context.Context, plan *model.MealPlan) {
	if !n.svc.Enabled() {
		return
	}
	payload, ok := PayloadFor(plan)
	if !ok {
		return
	}

	subs, err := n.subs.ListByUser(plan.UserID)
	if err != nil {
		n.logger.Error("list subscriptions", "user_id", plan.UserID, "error", err)
		return
	}
	for i := range subs {
		sub := &subs[i]
		err := n.svc.Send(sub, payload)
		switch {
		case errors.Is(err, ErrExpired):
			if err := n.subs.DeleteByEndpoint(sub.Endpoint); err != nil {
				n.logger.Error("delete expired subscription", "id", sub.ID, "error", err)
			}
		case err != nil:
			n.logger.Warn("send push", "id", sub.ID, "meal_plan_id", plan.ID, "error", err)
		}
	}
}
