package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"training-service/internal/models"
	"training-service/pkg/response"
)

func (s *Storage) GetBalance(ctx context.Context, clientID string) (int64, error) {
	const op = "storage.postgres.GetBalance"

	var balance int64
	err := sqlx.GetContext(ctx, s.conn(ctx), &balance,
		`SELECT balance FROM client_balances WHERE client_id = $1`, clientID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

// LockBalance creates the balance row if needed and holds it until the
// transaction ends.
func (s *Storage) LockBalance(ctx context.Context, clientID string) (int64, error) {
	const op = "storage.postgres.LockBalance"

	if _, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO client_balances (client_id, balance) VALUES ($1, 0) ON CONFLICT (client_id) DO NOTHING`,
		clientID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	var balance int64
	if err := sqlx.GetContext(ctx, s.conn(ctx), &balance,
		`SELECT balance FROM client_balances WHERE client_id = $1 FOR UPDATE`, clientID); err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return balance, nil
}

func (s *Storage) AppendTransaction(ctx context.Context, tx *models.LedgerTransaction) (int64, error) {
	const op = "storage.postgres.AppendTransaction"

	if tx.Amount <= 0 {
		return 0, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrBadRequest, "amount must be positive"))
	}

	if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx),
		`INSERT INTO ledger_transactions (id, client_id, type, amount, booking_id, description, created_at)
		VALUES (:id, :client_id, :type, :amount, :booking_id, :description, :created_at)`, tx); err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	var balance int64
	err := sqlx.GetContext(ctx, s.conn(ctx), &balance,
		`INSERT INTO client_balances (client_id, balance) VALUES ($1, $2)
		ON CONFLICT (client_id) DO UPDATE SET balance = client_balances.balance + EXCLUDED.balance
		RETURNING balance`, tx.ClientID, tx.Signed())
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return balance, nil
}

func (s *Storage) ListTransactions(ctx context.Context, clientID string) ([]models.LedgerTransaction, error) {
	const op = "storage.postgres.ListTransactions"

	out := []models.LedgerTransaction{}
	err := sqlx.SelectContext(ctx, s.conn(ctx), &out,
		`SELECT id, client_id, type, amount, booking_id, description, created_at
		FROM ledger_transactions WHERE client_id = $1 ORDER BY created_at, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return out, nil
}

func (s *Storage) ReplayBalance(ctx context.Context, clientID string) (int64, error) {
	const op = "storage.postgres.ReplayBalance"

	var sum int64
	err := sqlx.GetContext(ctx, s.conn(ctx), &sum,
		`SELECT COALESCE(SUM(CASE WHEN type = 'withdrawal' THEN -amount ELSE amount END), 0)
		FROM ledger_transactions WHERE client_id = $1`, clientID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}

	return sum, nil
}
