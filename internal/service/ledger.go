package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"training-service/internal/metrics"
	"training-service/internal/models"
	"training-service/pkg/response"
)

// BalanceLedger appends client transactions. Its methods run inside the
// caller's transaction and lock the balance row they read.
type BalanceLedger struct {
	store LedgerStore
	now   func() time.Time
}

func (l BalanceLedger) deposit(ctx context.Context, clientID string, amount int64, description string) (*models.LedgerTransaction, error) {
	const op = "service.BalanceLedger.deposit"

	if amount <= 0 {
		return nil, response.Invalid(response.ErrBadRequest, "amount must be positive, got %d", amount)
	}

	if _, err := l.store.LockBalance(ctx, clientID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return l.append(ctx, clientID, models.TransactionDeposit, amount, "", description)
}

func (l BalanceLedger) withdraw(ctx context.Context, clientID string, amount int64, bookingID, description string) (*models.LedgerTransaction, error) {
	const op = "service.BalanceLedger.withdraw"

	if amount <= 0 {
		return nil, response.Invalid(response.ErrBadRequest, "amount must be positive, got %d", amount)
	}

	balance, err := l.store.LockBalance(ctx, clientID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if balance < amount {
		return nil, response.InsufficientBalance([]response.Shortfall{{ClientID: clientID, Balance: balance, Required: amount}})
	}

	return l.append(ctx, clientID, models.TransactionWithdrawal, amount, bookingID, description)
}

func (l BalanceLedger) append(ctx context.Context, clientID string, typ models.TransactionType, amount int64, bookingID, description string) (*models.LedgerTransaction, error) {
	const op = "service.BalanceLedger.append"

	tx := &models.LedgerTransaction{
		ID:          uuid.NewString(),
		ClientID:    clientID,
		Type:        typ,
		Amount:      amount,
		BookingID:   bookingID,
		Description: description,
		CreatedAt:   l.now(),
	}

	if _, err := l.store.AppendTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	metrics.LedgerOperations.WithLabelValues(string(typ)).Inc()
	metrics.LedgerAmount.WithLabelValues(string(typ)).Add(float64(amount))

	return tx, nil
}

// shortfalls lists every client whose balance is below due. With lock set
// the balance rows stay locked until the transaction ends.
func (l BalanceLedger) shortfalls(ctx context.Context, clientIDs []string, due int64, lock bool) ([]response.Shortfall, error) {
	const op = "service.BalanceLedger.shortfalls"

	var out []response.Shortfall

	// порядок блокировок одинаковый для всех транзакций
	for _, id := range uniqueSorted(clientIDs) {
		var balance int64
		var err error
		if lock {
			balance, err = l.store.LockBalance(ctx, id)
		} else {
			balance, err = l.store.GetBalance(ctx, id)
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}

		if balance < due {
			out = append(out, response.Shortfall{ClientID: id, Balance: balance, Required: due})
		}
	}

	return out, nil
}

// BalanceView is the cached balance next to the balance replayed from the
// journal. Drift is non-zero only if the cache went wrong.
type BalanceView struct {
	ClientID     string
	Balance      int64
	Replayed     int64
	Drift        int64
	Transactions []models.LedgerTransaction
}

func (s *Service) Deposit(ctx context.Context, actor models.Actor, clientID string, amount int64, description string) (*models.LedgerTransaction, error) {
	const op = "service.Deposit"

	if err := requireLedgerOperator(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrBadRequest, "client id is required"))
	}

	var tx *models.LedgerTransaction
	err := s.atomically(ctx, "deposit", []string{clientKey(clientID)}, func(ctx context.Context, _ *outbox) error {
		var err error
		tx, err = s.ledger.deposit(ctx, clientID, amount, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tx, nil
}

func (s *Service) Withdraw(ctx context.Context, actor models.Actor, clientID string, amount int64, bookingID, description string) (*models.LedgerTransaction, error) {
	const op = "service.Withdraw"

	if err := requireLedgerOperator(actor); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if clientID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrBadRequest, "client id is required"))
	}

	var tx *models.LedgerTransaction
	err := s.atomically(ctx, "withdraw", []string{clientKey(clientID)}, func(ctx context.Context, _ *outbox) error {
		var err error
		tx, err = s.ledger.withdraw(ctx, clientID, amount, bookingID, description)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return tx, nil
}

func (s *Service) Balance(ctx context.Context, clientID string) (*BalanceView, error) {
	const op = "service.Balance"

	view := &BalanceView{ClientID: clientID}

	err := s.store.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		if view.Balance, err = s.store.GetBalance(ctx, clientID); err != nil {
			return err
		}
		if view.Replayed, err = s.store.ReplayBalance(ctx, clientID); err != nil {
			return err
		}
		view.Transactions, err = s.store.ListTransactions(ctx, clientID)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	view.Drift = view.Balance - view.Replayed
	if view.Drift != 0 {
		s.log.Error("balance cache drifted from journal",
			slog.String("client_id", clientID),
			slog.Int64("cached", view.Balance),
			slog.Int64("replayed", view.Replayed),
		)
	}

	return view, nil
}
