// Package render draws meal plans as PDF documents.
package render

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/golang-sql/civil"

	"github.com/dukerupert/weekplate/internal/model"
)

// Version is recorded in generation meta for documents produced here.
const Version = "fpdf-1"

// Slots are the meals drawn for each day.
var Slots = []string{"Breakfast", "Lunch", "Dinner"}

// DishFunc names the dish for a day and slot. An empty name leaves the slot
// blank for the household to fill in.
type DishFunc func(day civil.Date, slot string) string

// PDFRenderer lays out one page per plan with a row per day.
type PDFRenderer struct {
	dish DishFunc
}

func NewPDFRenderer(dish DishFunc) *PDFRenderer {
	if dish == nil {
		dish = func(civil.Date, string) string { return "" }
	}
	return &PDFRenderer{dish: dish}
}

func (r *PDFRenderer) Version() string { return Version }

func (r *PDFRenderer) Generate(ctx context.Context, plan *model.MealPlan) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pdf := fpdf.New("L", "mm", "A4", "")
	pdf.SetTitle(fmt.Sprintf("Meal plan %s to %s", plan.StartDate, plan.EndDate), false)
	pdf.SetCreator("weekplate", false)
	pdf.SetCreationDate(plan.StartDate.In(time.UTC))
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 12, fmt.Sprintf("Meal plan: %s - %s", plan.StartDate, plan.EndDate), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	const dayWidth = 55.0
	slotWidth := (277.0 - dayWidth) / float64(len(Slots))

	pdf.SetFont("Helvetica", "B", 11)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(dayWidth, 9, "Day", "1", 0, "L", true, 0, "")
	for _, slot := range Slots {
		pdf.CellFormat(slotWidth, 9, slot, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 10)
	for i := 0; i < model.PlanDays; i++ {
		day := plan.StartDate.AddDays(i)
		label := fmt.Sprintf("%s %s", day.In(time.UTC).Weekday(), day)
		pdf.CellFormat(dayWidth, 18, label, "1", 0, "L", false, 0, "")
		for _, slot := range Slots {
			pdf.CellFormat(slotWidth, 18, r.dish(day, slot), "1", 0, "L", false, 0, "")
		}
		pdf.Ln(-1)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}
