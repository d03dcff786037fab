package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/weekplate/internal/model"
)

type GenerationLogStore struct {
	db *sql.DB
}

func NewGenerationLogStore(db *sql.DB) *GenerationLogStore {
	return &GenerationLogStore{db: db}
}

const generationLogCols = `id, meal_plan_id, started_at, finished_at, status, created_at`

func scanGenerationLog(scanner interface{ Scan(...any) error }) (*model.GenerationLog, error) {
	var (
		l        model.GenerationLog
		finished sql.NullTime
		status   string
	)
	if err := scanner.Scan(&l.ID, &l.MealPlanID, &l.StartedAt, &finished, &status, &l.CreatedAt); err != nil {
		return nil, err
	}
	if finished.Valid {
		l.FinishedAt = &finished.Time
	}
	l.Status = model.MealPlanStatus(status)
	return &l, nil
}

// Start opens a processing log row for a generation run.
func (s *GenerationLogStore) Start(mealPlanID int64, startedAt time.Time) (*model.GenerationLog, error) {
	result, err := s.db.Exec(
		`INSERT INTO meal_plan_logs (meal_plan_id, started_at, status) VALUES (?, ?, ?)`,
		mealPlanID, startedAt.UTC(), string(model.StatusProcessing),
	)
	if err != nil {
		return nil, fmt.Errorf("insert generation log: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *GenerationLogStore) GetByID(id int64) (*model.GenerationLog, error) {
	row := s.db.QueryRow(`SELECT `+generationLogCols+` FROM meal_plan_logs WHERE id = ?`, id)
	l, err := scanGenerationLog(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation log: %w", err)
	}
	return l, nil
}

// Finish closes an open log row. A row that already has finished_at is left
// untouched and false is returned.
func (s *GenerationLogStore) Finish(id int64, status model.MealPlanStatus, finishedAt time.Time) (bool, error) {
	result, err := s.db.Exec(
		`UPDATE meal_plan_logs SET status = ?, finished_at = ? WHERE id = ? AND finished_at IS NULL`,
		string(status), finishedAt.UTC(), id,
	)
	if err != nil {
		return false, fmt.Errorf("finish generation log: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ListByMealPlan returns a plan's logs, newest first.
func (s *GenerationLogStore) ListByMealPlan(mealPlanID int64) ([]model.GenerationLog, error) {
	rows, err := s.db.Query(
		`SELECT `+generationLogCols+` FROM meal_plan_logs WHERE meal_plan_id = ? ORDER BY created_at DESC, id DESC`,
		mealPlanID,
	)
	if err != nil {
		return nil, fmt.Errorf("list generation logs: %w", err)
	}
	defer rows.Close()

	logs := []model.GenerationLog{}
	for rows.Next() {
		l, err := scanGenerationLog(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation log: %w", err)
		}
		logs = append(logs, *l)
	}
	return logs, rows.Err()
}

func (s *GenerationLogStore) CountByMealPlan(mealPlanID int64) (int, error) {
	var n int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM meal_plan_logs WHERE meal_plan_id = ?`, mealPlanID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count generation logs: %w", err)
	}
	return n, nil
}
