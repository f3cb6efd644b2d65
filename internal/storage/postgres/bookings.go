package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"training-service/internal/models"
	"training-service/pkg/response"
)

const bookingColumns = `id, center_id, court_id, trainer_id, training_type_id, client_ids,
	start_at, end_at, state, recurring_id,
	created_by, approved_by, approved_at, rejected_by, rejected_at, rejection_reason,
	cancelled_by, cancelled_at, completed_at,
	cancel_requested, cancel_requested_by, cancel_requested_at, cancel_reason,
	reschedule_requested, reschedule_requested_by, reschedule_requested_at, reschedule_reason,
	new_start_at, new_end_at, new_court_id, prior_state,
	price_per_hour, trainer_rate_per_hour, total_price, trainer_pay, profit,
	notification_sent, reminder_sent, created_at, updated_at`

// bookingRow carries the array column that models.Booking keeps as a plain slice.
type bookingRow struct {
	models.Booking
	Clients pq.StringArray `db:"client_ids"`
}

func toBookingRow(b *models.Booking) bookingRow {
	return bookingRow{Booking: *b, Clients: pq.StringArray(b.ClientIDs)}
}

func (r bookingRow) model() *models.Booking {
	b := r.Booking
	b.ClientIDs = []string(r.Clients)
	return &b
}

func activeStates() pq.StringArray {
	out := make(pq.StringArray, 0, len(models.ActiveStates))
	for _, st := range models.ActiveStates {
		out = append(out, string(st))
	}
	return out
}

func (s *Storage) CreateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.postgres.CreateBooking"

	query := `INSERT INTO bookings (` + bookingColumns + `) VALUES (
		:id, :center_id, :court_id, :trainer_id, :training_type_id, :client_ids,
		:start_at, :end_at, :state, :recurring_id,
		:created_by, :approved_by, :approved_at, :rejected_by, :rejected_at, :rejection_reason,
		:cancelled_by, :cancelled_at, :completed_at,
		:cancel_requested, :cancel_requested_by, :cancel_requested_at, :cancel_reason,
		:reschedule_requested, :reschedule_requested_by, :reschedule_requested_at, :reschedule_reason,
		:new_start_at, :new_end_at, :new_court_id, :prior_state,
		:price_per_hour, :trainer_rate_per_hour, :total_price, :trainer_pay, :profit,
		:notification_sent, :reminder_sent, :created_at, :updated_at)`

	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, toBookingRow(b)); err != nil {
		return fmt.Errorf("%s: %w", op, mapError(err))
	}

	return nil
}

func (s *Storage) getBooking(ctx context.Context, op, id, suffix string) (*models.Booking, error) {
	var row bookingRow
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1` + suffix
	if err := sqlx.GetContext(ctx, s.conn(ctx), &row, query, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return row.model(), nil
}

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	return s.getBooking(ctx, "storage.postgres.GetBooking", id, "")
}

func (s *Storage) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return s.getBooking(ctx, "storage.postgres.GetBookingForUpdate", id, " FOR UPDATE")
}

func (s *Storage) UpdateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.postgres.UpdateBooking"

	query := `UPDATE bookings SET
		court_id = :court_id, trainer_id = :trainer_id, client_ids = :client_ids,
		start_at = :start_at, end_at = :end_at, state = :state,
		approved_by = :approved_by, approved_at = :approved_at,
		rejected_by = :rejected_by, rejected_at = :rejected_at, rejection_reason = :rejection_reason,
		cancelled_by = :cancelled_by, cancelled_at = :cancelled_at, completed_at = :completed_at,
		cancel_requested = :cancel_requested, cancel_requested_by = :cancel_requested_by,
		cancel_requested_at = :cancel_requested_at, cancel_reason = :cancel_reason,
		reschedule_requested = :reschedule_requested, reschedule_requested_by = :reschedule_requested_by,
		reschedule_requested_at = :reschedule_requested_at, reschedule_reason = :reschedule_reason,
		new_start_at = :new_start_at, new_end_at = :new_end_at, new_court_id = :new_court_id,
		prior_state = :prior_state,
		price_per_hour = :price_per_hour, trainer_rate_per_hour = :trainer_rate_per_hour,
		total_price = :total_price, trainer_pay = :trainer_pay, profit = :profit,
		notification_sent = :notification_sent, reminder_sent = :reminder_sent,
		updated_at = :updated_at
		WHERE id = :id`

	res, err := sqlx.NamedExecContext(ctx, s.conn(ctx), query, toBookingRow(b))
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

func (s *Storage) FindOverlapping(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time, excludeID string) ([]*models.Booking, error) {
	const op = "storage.postgres.FindOverlapping"

	var column string
	switch kind {
	case models.ResourceCourt:
		column = "court_id"
	case models.ResourceTrainer:
		column = "trainer_id"
	default:
		return nil, fmt.Errorf("%s: unknown resource kind %q", op, kind)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE ` + column + ` = $1 AND state = ANY($2)
		AND start_at < $4 AND end_at > $3 AND id <> $5
		ORDER BY start_at, id`

	return s.selectBookings(ctx, op, query, resourceID, activeStates(), start, end, excludeID)
}

func (s *Storage) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	const op = "storage.postgres.ListBookings"

	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if len(f.States) > 0 {
		states := make(pq.StringArray, 0, len(f.States))
		for _, st := range f.States {
			states = append(states, string(st))
		}
		add("state = ANY($%d)", states)
	}
	if f.ClientID != "" {
		add("$%d = ANY(client_ids)", f.ClientID)
	}
	if f.TemplateID != "" {
		add("recurring_id = $%d", f.TemplateID)
	}
	if f.From != nil {
		add("start_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("start_at < $%d", *f.To)
	}

	query := `SELECT ` + bookingColumns + ` FROM bookings`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY start_at, id`

	return s.selectBookings(ctx, op, query, args...)
}

func (s *Storage) BookingExistsForTemplate(ctx context.Context, templateID string, start time.Time) (bool, error) {
	const op = "storage.postgres.BookingExistsForTemplate"

	var exists bool
	query := `SELECT EXISTS (SELECT 1 FROM bookings WHERE recurring_id = $1 AND start_at = $2)`
	if err := sqlx.GetContext(ctx, s.conn(ctx), &exists, query, templateID, start); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return exists, nil
}

func (s *Storage) ListDueForCompletion(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListDueForCompletion"

	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE state = $1 AND end_at <= $2
		ORDER BY start_at, id`

	return s.selectBookings(ctx, op, query, string(models.BookingConfirmed), now)
}

func (s *Storage) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	const op = "storage.postgres.ListDueForReminder"

	query := `SELECT ` + bookingColumns + ` FROM bookings
		WHERE state = $1 AND NOT reminder_sent AND start_at >= $2 AND start_at <= $3
		ORDER BY start_at, id`

	return s.selectBookings(ctx, op, query, string(models.BookingConfirmed), from, to)
}

func (s *Storage) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	const op = "storage.postgres.MarkReminderSent"

	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE bookings SET reminder_sent = TRUE, updated_at = now()
		WHERE id = $1 AND state = $2 AND NOT reminder_sent`,
		id, string(models.BookingConfirmed))
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return n == 1, nil
}

func (s *Storage) selectBookings(ctx context.Context, op, query string, args ...any) ([]*models.Booking, error) {
	var rows []bookingRow
	if err := sqlx.SelectContext(ctx, s.conn(ctx), &rows, query, args...); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]*models.Booking, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.model())
	}

	return out, nil
}
