package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"training-service/internal/models"
	"training-service/pkg/response"
)

const templateColumns = `id, center_id, court_id, trainer_id, training_type_id, client_ids,
	start_date, end_date, weekdays, start_minute, duration_hours, frequency,
	active, approved, created_by, approved_by, approved_at, created_at`

type templateRow struct {
	models.RecurringTemplate
	Clients pq.StringArray `db:"client_ids"`
	Days    pq.Int64Array  `db:"weekdays"`
}

func toTemplateRow(t *models.RecurringTemplate) templateRow {
	days := make(pq.Int64Array, 0, len(t.Weekdays))
	for _, d := range t.Weekdays {
		days = append(days, int64(d))
	}
	return templateRow{RecurringTemplate: *t, Clients: pq.StringArray(t.ClientIDs), Days: days}
}

func (r templateRow) model() *models.RecurringTemplate {
	t := r.RecurringTemplate
	t.ClientIDs = []string(r.Clients)
	t.Weekdays = make([]time.Weekday, 0, len(r.Days))
	for _, d := range r.Days {
		t.Weekdays = append(t.Weekdays, time.Weekday(d))
	}
	// DATE columns come back in the session zone.
	t.StartDate = civil(t.StartDate)
	t.EndDate = civil(t.EndDate)
	return &t
}

func civil(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Storage) CreateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error {
	const op = "storage.postgres.CreateRecurringTemplate"

	query := `INSERT INTO recurring_templates (` + templateColumns + `) VALUES (
		:id, :center_id, :court_id, :trainer_id, :training_type_id, :client_ids,
		:start_date, :end_date, :weekdays, :start_minute, :duration_hours, :frequency,
		:active, :approved, :created_by, :approved_by, :approved_at, :created_at)`

	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, toTemplateRow(t)); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (s *Storage) GetRecurringTemplate(ctx context.Context, id string) (*models.RecurringTemplate, error) {
	const op = "storage.postgres.GetRecurringTemplate"

	var row templateRow
	query := `SELECT ` + templateColumns + ` FROM recurring_templates WHERE id = $1`
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, query, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return row.model(), nil
}

func (s *Storage) UpdateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error {
	const op = "storage.postgres.UpdateRecurringTemplate"

	query := `UPDATE recurring_templates SET
		client_ids = :client_ids, start_date = :start_date, end_date = :end_date,
		weekdays = :weekdays, start_minute = :start_minute, duration_hours = :duration_hours,
		frequency = :frequency, active = :active, approved = :approved,
		approved_by = :approved_by, approved_at = :approved_at
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, toTemplateRow(t))
	if err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}

	return nil
}
