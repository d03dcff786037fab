package email

import (
	"context"
	"fmt"
	"html"
	"log/slog"

	"github.com/dukerupert/weekplate/internal/model"
)

// UserLookup finds the owner of a plan.
type UserLookup interface {
	GetByID(id int64) (*model.User, error)
}

// Notifier emails a plan's owner when generation finishes.
type Notifier struct {
	client  *Client
	users   UserLookup
	baseURL string
	logger  *slog.Logger
}

func NewNotifier(client *Client, users UserLookup, baseURL string, logger *slog.Logger) *Notifier {
	return &Notifier{client: client, users: users, baseURL: baseURL, logger: logger.With("component", "email")}
}

// PlanMessage builds the email for a finished plan. ok is false for other
// statuses.
func PlanMessage(plan *model.MealPlan, to, baseURL string) (Message, bool) {
	link := fmt.Sprintf("%s/meal-plans/%d", baseURL, plan.ID)
	var subject, text string
	switch plan.Status {
	case model.StatusDone:
		subject = fmt.Sprintf("Your meal plan for %s is ready", plan.StartDate)
		text = fmt.Sprintf("Your meal plan for %s to %s is ready to download.", plan.StartDate, plan.EndDate)
	case model.StatusError:
		subject = fmt.Sprintf("We couldn't generate your meal plan for %s", plan.StartDate)
		text = fmt.Sprintf("Generating your meal plan for %s to %s failed. You can try again from the app.", plan.StartDate, plan.EndDate)
	default:
		return Message{}, false
	}

	return Message{
		To:       to,
		Subject:  subject,
		TextBody: text + "\n\n" + link,
		HTMLBody: fmt.Sprintf(`<p>%s</p><p><a href="%s">Open meal plan</a></p>`, html.EscapeString(text), html.EscapeString(link)),
	}, true
}

func (n *Notifier) PlanStatusChanged(ctx context.Context, plan *model.MealPlan) {
	if !n.client.Configured() || !plan.Status.Finished() {
		return
	}
	user, err := n.users.GetByID(plan.UserID)
	if err != nil || user == nil {
		n.logger.Error("look up plan owner", "meal_plan_id", plan.ID, "user_id", plan.UserID, "error", err)
		return
	}
	msg, ok := PlanMessage(plan, user.Email, n.baseURL)
	if !ok {
		return
	}
	if err := n.client.Send(ctx, msg); err != nil {
		n.logger.Warn("send plan email", "meal_plan_id", plan.ID, "error", err)
	}
}
