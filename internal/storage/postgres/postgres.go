package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	trmsql "github.com/avito-tech/go-transaction-manager/drivers/sql/v2"
	trmsqlx "github.com/avito-tech/go-transaction-manager/drivers/sqlx/v2"
	trmanager "github.com/avito-tech/go-transaction-manager/trm/v2/manager"
	"github.com/avito-tech/go-transaction-manager/trm/v2/settings"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"training-service/pkg/response"
)

const (
	codeUniqueViolation    = "23505"
	codeCheckViolation     = "23514"
	codeExclusionViolation = "23P01"
	codeSerialization      = "40001"
	codeDeadlock           = "40P01"
)

type Storage struct {
	db        *sqlx.DB
	getter    *trmsqlx.CtxGetter
	trManager *trmanager.Manager
	attempts  int
}

func New(storagePath string) (*Storage, error) {
	const op = "storage.postgres.New"

	db, err := sqlx.Connect("postgres", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &Storage{
		db:        db,
		getter:    trmsqlx.DefaultCtxGetter,
		trManager: trmanager.Must(trmsqlx.NewDefaultFactory(db)),
		attempts:  5,
	}, nil
}

func (s *Storage) Close() error {
	if s == nil || s.db == nil {
		return nil
	}

	return s.db.Close()
}

func (s *Storage) conn(ctx context.Context) trmsqlx.Tr {
	return s.getter.DefaultTrOrDB(ctx, s.db)
}

func (s *Storage) inTx(ctx context.Context) bool {
	_, plain := s.conn(ctx).(*sqlx.DB)
	return !plain
}

// WithinTx runs fn in a serializable transaction and retries it on
// serialization failures. Nested calls join the outer transaction.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	const op = "storage.postgres.WithinTx"

	if s.inTx(ctx) {
		return fn(ctx)
	}

	txSettings := trmsql.MustSettings(
		settings.Must(settings.WithCancelable(true)),
		trmsql.WithTxOptions(&sql.TxOptions{Isolation: sql.LevelSerializable}),
	)

	var err error
	for attempt := 0; attempt < s.attempts; attempt++ {
		err = s.trManager.DoWithSettings(ctx, txSettings, fn)
		if err == nil || !retryable(err) {
			return err
		}
	}

	return fmt.Errorf("%s: gave up after %d attempts: %w", op, s.attempts, err)
}

func retryable(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == codeSerialization || pqErr.Code == codeDeadlock
	}
	return false
}

// mapError turns driver errors the engine understands into domain errors.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return response.ErrNotFound
	}

	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}

	switch pqErr.Code {
	case codeExclusionViolation:
		return response.Invalid(response.ErrResourceOverlap, "resource busy: %s", pqErr.Constraint)
	case codeUniqueViolation:
		return fmt.Errorf("%s: %w", pqErr.Constraint, response.ErrAlreadyExists)
	case codeCheckViolation:
		if pqErr.Table == "client_balances" {
			return response.Invalid(response.ErrInsufficientBalance, "balance would become negative")
		}
		return response.Invalid(response.ErrBadRequest, "constraint %s violated", pqErr.Constraint)
	}

	return err
}
