package mealplan

import "github.com/dukerupert/weekplate/internal/model"

// CanView reports whether userID may read the plan.
func CanView(userID int64, p *model.MealPlan) bool {
	return p != nil && p.UserID == userID
}

// CanUpdate reports whether userID may regenerate the plan.
func CanUpdate(userID int64, p *model.MealPlan) bool {
	return p != nil && p.UserID == userID
}

// CanDelete reports whether userID may delete the plan. Processing plans
// cannot be deleted.
func CanDelete(userID int64, p *model.MealPlan) bool {
	return p != nil && p.UserID == userID && p.Status != model.StatusProcessing
}
