package store

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/golang-sql/civil"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dukerupert/weekplate/internal/model"
)

// ErrDuplicateStartDate is returned when a user already has a plan starting
// on the requested day.
var ErrDuplicateStartDate = errors.New("meal plan already exists for start date")

type MealPlanStore struct {
	db *sql.DB
}

func NewMealPlanStore(db *sql.DB) *MealPlanStore {
	return &MealPlanStore{db: db}
}

const mealPlanCols = `id, user_id, start_date, end_date, status, generation_meta, artifact_path, artifact_size, created_at, updated_at,
	(SELECT COUNT(*) FROM meal_plan_logs l WHERE l.meal_plan_id = meal_plans.id)`

func scanMealPlan(scanner interface{ Scan(...any) error }) (*model.MealPlan, error) {
	var (
		p            model.MealPlan
		start, end   string
		status       string
		meta         sql.NullString
		artifactPath sql.NullString
		artifactSize sql.NullInt64
	)
	err := scanner.Scan(&p.ID, &p.UserID, &start, &end, &status, &meta, &artifactPath, &artifactSize,
		&p.CreatedAt, &p.UpdatedAt, &p.LogsCount)
	if err != nil {
		return nil, err
	}

	if p.StartDate, err = civil.ParseDate(start); err != nil {
		return nil, fmt.Errorf("parse start_date: %w", err)
	}
	if p.EndDate, err = civil.ParseDate(end); err != nil {
		return nil, fmt.Errorf("parse end_date: %w", err)
	}
	p.Status = model.MealPlanStatus(status)
	if p.GenerationMeta, err = decodeMeta(meta); err != nil {
		return nil, err
	}
	if artifactPath.Valid {
		p.ArtifactPath = &artifactPath.String
	}
	if artifactSize.Valid {
		p.ArtifactSize = &artifactSize.Int64
	}
	return &p, nil
}

// Create inserts a pending plan covering seven days from start.
func (s *MealPlanStore) Create(userID int64, start civil.Date) (*model.MealPlan, error) {
	end := model.EndDateFor(start)
	result, err := s.db.Exec(
		`INSERT INTO meal_plans (user_id, start_date, end_date, status) VALUES (?, ?, ?, ?)`,
		userID, start.String(), end.String(), string(model.StatusPending),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicateStartDate
		}
		return nil, fmt.Errorf("insert meal plan: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *MealPlanStore) GetByID(id int64) (*model.MealPlan, error) {
	row := s.db.QueryRow(`SELECT `+mealPlanCols+` FROM meal_plans WHERE id = ?`, id)
	p, err := scanMealPlan(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get meal plan: %w", err)
	}
	return p, nil
}

// ExistsForUserOnDate reports whether the user has a plan starting on day.
func (s *MealPlanStore) ExistsForUserOnDate(userID int64, day civil.Date) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM meal_plans WHERE user_id = ? AND start_date = ?`,
		userID, day.String(),
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check meal plan date: %w", err)
	}
	return n > 0, nil
}

// ListOptions filters and pages a user's plans. Zero values select the defaults.
type ListOptions struct {
	Status    model.MealPlanStatus
	Sort      string
	Direction string
	Page      int
	PerPage   int
}

const (
	DefaultPerPage = 15
	MinPerPage     = 5
	MaxPerPage     = 100
)

var sortColumns = map[string]string{
	"start_date": "start_date",
	"end_date":   "end_date",
	"status":     "status",
	"created_at": "created_at",
}

func (o ListOptions) normalize() ListOptions {
	if _, ok := sortColumns[o.Sort]; !ok {
		o.Sort = "created_at"
	}
	if o.Direction != "asc" {
		o.Direction = "desc"
	}
	switch {
	case o.PerPage == 0:
		o.PerPage = DefaultPerPage
	case o.PerPage < MinPerPage:
		o.PerPage = MinPerPage
	case o.PerPage > MaxPerPage:
		o.PerPage = MaxPerPage
	}
	if o.Page < 1 {
		o.Page = 1
	}
	return o
}

// MealPlanPage is one page of a user's plans.
type MealPlanPage struct {
	Plans   []model.MealPlan `json:"data"`
	Total   int              `json:"total"`
	Page    int              `json:"current_page"`
	PerPage int              `json:"per_page"`
}

func (s *MealPlanStore) List(userID int64, opts ListOptions) (*MealPlanPage, error) {
	opts = opts.normalize()

	where := `WHERE user_id = ?`
	args := []any{userID}
	if opts.Status != "" {
		where += ` AND status = ?`
		args = append(args, string(opts.Status))
	}

	var total int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM meal_plans `+where, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("count meal plans: %w", err)
	}

	query := `SELECT ` + mealPlanCols + ` FROM meal_plans ` + where +
		` ORDER BY ` + sortColumns[opts.Sort] + ` ` + opts.Direction + `, id ` + opts.Direction +
		` LIMIT ? OFFSET ?`
	args = append(args, opts.PerPage, (opts.Page-1)*opts.PerPage)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list meal plans: %w", err)
	}
	defer rows.Close()

	plans := []model.MealPlan{}
	for rows.Next() {
		p, err := scanMealPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan meal plan: %w", err)
		}
		plans = append(plans, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate meal plans: %w", err)
	}

	return &MealPlanPage{Plans: plans, Total: total, Page: opts.Page, PerPage: opts.PerPage}, nil
}

// MarkProcessing moves a plan into processing, replacing its meta.
func (s *MealPlanStore) MarkProcessing(id int64, meta model.ProcessingMeta) error {
	return s.transition(id, model.StatusProcessing, meta)
}

// MarkDone records a successful run along with the stored artifact.
func (s *MealPlanStore) MarkDone(id int64, meta model.DoneMeta, artifactPath string, artifactSize int64) error {
	raw, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE meal_plans
		 SET status = ?, generation_meta = ?, artifact_path = ?, artifact_size = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		string(model.StatusDone), raw, artifactPath, artifactSize, id,
	)
	if err != nil {
		return fmt.Errorf("mark meal plan done: %w", err)
	}
	return nil
}

func (s *MealPlanStore) MarkError(id int64, meta model.ErrorMeta) error {
	return s.transition(id, model.StatusError, meta)
}

func (s *MealPlanStore) transition(id int64, status model.MealPlanStatus, meta model.GenerationMeta) error {
	raw, err := encodeMeta(meta)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(
		`UPDATE meal_plans SET status = ?, generation_meta = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		string(status), raw, id,
	)
	if err != nil {
		return fmt.Errorf("set meal plan %s: %w", status, err)
	}
	return nil
}

// FailIfProcessing marks the plan as errored only if it is still processing.
// It reports whether a row was changed.
func (s *MealPlanStore) FailIfProcessing(id int64, meta model.FailedMeta) (bool, error) {
	raw, err := encodeMeta(meta)
	if err != nil {
		return false, err
	}
	result, err := s.db.Exec(
		`UPDATE meal_plans SET status = ?, generation_meta = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		string(model.StatusError), raw, id, string(model.StatusProcessing),
	)
	if err != nil {
		return false, fmt.Errorf("fail meal plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// ResetForRegeneration returns a finished plan to pending and clears its meta
// in a single transaction. Artifact fields are left for the next run to
// overwrite. It reports false if the plan was not done or error.
func (s *MealPlanStore) ResetForRegeneration(id int64) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.Exec(
		`UPDATE meal_plans SET status = ?, generation_meta = NULL, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusPending), id, string(model.StatusDone), string(model.StatusError),
	)
	if err != nil {
		return false, fmt.Errorf("reset meal plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit tx: %w", err)
	}
	return true, nil
}

// RestoreAfterReset undoes ResetForRegeneration when no run could be queued.
// It only touches a plan that is still pending.
func (s *MealPlanStore) RestoreAfterReset(id int64, status model.MealPlanStatus, meta model.GenerationMeta) (bool, error) {
	raw, err := encodeMeta(meta)
	if err != nil {
		return false, err
	}
	result, err := s.db.Exec(
		`UPDATE meal_plans SET status = ?, generation_meta = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ? AND status = ?`,
		string(status), raw, id, string(model.StatusPending),
	)
	if err != nil {
		return false, fmt.Errorf("restore meal plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Delete removes a plan that is not processing. Logs cascade.
func (s *MealPlanStore) Delete(id int64) (bool, error) {
	result, err := s.db.Exec(`DELETE FROM meal_plans WHERE id = ? AND status != ?`, id, string(model.StatusProcessing))
	if err != nil {
		return false, fmt.Errorf("delete meal plan: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	return false
}
