package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"training-service/internal/lock"
	"training-service/internal/metrics"
	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/pkg/response"
)

// Directory is the read-only view of centers, courts, training types,
// trainer attachments and price tables.
type Directory interface {
	GetCenter(ctx context.Context, id string) (*models.Center, error)
	GetCourt(ctx context.Context, id string) (*models.Court, error)
	GetTrainingType(ctx context.Context, id string) (*models.TrainingType, error)
	IsTrainerAttached(ctx context.Context, trainerID, centerID string) (bool, error)
	CenterPrice(ctx context.Context, centerID, trainingTypeID string) (int64, bool, error)
	TrainerRate(ctx context.Context, trainerID, centerID, trainingTypeID string) (int64, bool, error)
}

type BookingStore interface {
	CreateBooking(ctx context.Context, b *models.Booking) error
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error)
	UpdateBooking(ctx context.Context, b *models.Booking) error
	FindOverlapping(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time, excludeID string) ([]*models.Booking, error)
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.Booking, error)
	BookingExistsForTemplate(ctx context.Context, templateID string, start time.Time) (bool, error)
	ListDueForCompletion(ctx context.Context, now time.Time) ([]*models.Booking, error)
	ListDueForReminder(ctx context.Context, from, to time.Time) ([]*models.Booking, error)
	MarkReminderSent(ctx context.Context, id string) (bool, error)
}

type TemplateStore interface {
	CreateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error
	GetRecurringTemplate(ctx context.Context, id string) (*models.RecurringTemplate, error)
	UpdateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error
}

type LedgerStore interface {
	GetBalance(ctx context.Context, clientID string) (int64, error)
	LockBalance(ctx context.Context, clientID string) (int64, error)
	AppendTransaction(ctx context.Context, tx *models.LedgerTransaction) (int64, error)
	ListTransactions(ctx context.Context, clientID string) ([]models.LedgerTransaction, error)
	ReplayBalance(ctx context.Context, clientID string) (int64, error)
}

type Store interface {
	// WithinTx runs fn in one transaction. Every store call made with the
	// ctx passed to fn joins it.
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error

	Directory
	BookingStore
	TemplateStore
	LedgerStore
}

type Notifier interface {
	Enqueue(msgs ...notify.Message)
}

type Config struct {
	Locks        lock.Options
	ReminderLead time.Duration
}

type Service struct {
	log      *slog.Logger
	store    Store
	locker   lock.Locker
	notifier Notifier
	cfg      Config

	rates     RateResolver
	conflicts ConflictDetector
	ledger    BalanceLedger

	clock func() time.Time
}

func NewService(log *slog.Logger, store Store, locker lock.Locker, notifier Notifier, cfg Config) *Service {
	if cfg.ReminderLead <= 0 {
		cfg.ReminderLead = 24 * time.Hour
	}

	s := &Service{
		log:       log.With(slog.String("component", "service")),
		store:     store,
		locker:    locker,
		notifier:  notifier,
		cfg:       cfg,
		rates:     RateResolver{dir: store},
		conflicts: ConflictDetector{store: store},
		clock:     time.Now,
	}
	s.ledger = BalanceLedger{store: store, now: s.now}

	return s
}

func (s *Service) now() time.Time {
	return s.clock().UTC()
}

// outbox collects notifications produced inside a transaction. They are
// enqueued only after commit.
type outbox struct {
	msgs []notify.Message
}

func (o *outbox) add(msgs ...notify.Message) {
	o.msgs = append(o.msgs, msgs...)
}

// atomically takes the resource locks, runs fn in a store transaction and
// flushes the outbox on success.
func (s *Service) atomically(ctx context.Context, op string, keys []string, fn func(ctx context.Context, out *outbox) error) (err error) {
	defer func() {
		metrics.BookingTransitions.WithLabelValues(op, resultLabel(err)).Inc()
	}()

	release, err := lock.AcquireAll(ctx, s.locker, s.cfg.Locks, keys...)
	if err != nil {
		return err
	}
	defer release()

	var out outbox
	err = s.store.WithinTx(ctx, func(ctx context.Context) error {
		out = outbox{}
		return fn(ctx, &out)
	})
	if err != nil {
		return err
	}

	s.notifier.Enqueue(out.msgs...)

	return nil
}

func resultLabel(err error) string {
	var verr *response.ValidationError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &verr):
		return "rejected"
	case errors.Is(err, response.ErrLocked):
		return "locked"
	}
	return "error"
}

func courtKey(id string) string   { return "court:" + id }
func trainerKey(id string) string { return "trainer:" + id }
func clientKey(id string) string  { return "client:" + id }
func bookingKey(id string) string { return "booking:" + id }

func templateKey(id string) string { return "template:" + id }

// Permissions

func requireCenterAuthority(actor models.Actor, center *models.Center) error {
	switch actor.Role {
	case models.RoleDirector:
		return nil
	case models.RoleManager:
		if center.ManagerID == actor.ID {
			return nil
		}
		return response.Invalid(response.ErrPermissionDenied, "manager %s does not manage center %s", actor.ID, center.ID)
	}

	return response.Invalid(response.ErrPermissionDenied, "role %q may not perform this operation", actor.Role)
}

func requireOwnTrainer(actor models.Actor, trainerID string) error {
	if actor.Role != models.RoleTrainer {
		return response.Invalid(response.ErrPermissionDenied, "only the trainer may request changes")
	}
	if actor.ID != trainerID {
		return response.Invalid(response.ErrPermissionDenied, "trainer %s is not assigned to this session", actor.ID)
	}
	return nil
}

// requireScheduler allows the session's own trainer or a manager of the center.
func requireScheduler(actor models.Actor, center *models.Center, trainerID string) error {
	if actor.Role == models.RoleTrainer {
		return requireOwnTrainer(actor, trainerID)
	}
	return requireCenterAuthority(actor, center)
}

func requireLedgerOperator(actor models.Actor) error {
	switch actor.Role {
	case models.RoleManager, models.RoleDirector, models.RoleSystem:
		return nil
	}
	return response.Invalid(response.ErrPermissionDenied, "role %q may not move client funds", actor.Role)
}

// bookingWithCenter reads a booking and its center outside of any lock,
// for permission checks and lock key selection.
func (s *Service) bookingWithCenter(ctx context.Context, id string) (*models.Booking, *models.Center, error) {
	const op = "service.bookingWithCenter"

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	center, err := s.store.GetCenter(ctx, b.CenterID)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, center, nil
}

func (s *Service) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "service.GetBooking"

	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// UpcomingForClient returns confirmed sessions of the client starting at or
// after from, earliest first. A trainer only sees sessions they run.
func (s *Service) UpcomingForClient(ctx context.Context, actor models.Actor, clientID string, from time.Time) ([]*models.Booking, error) {
	const op = "service.UpcomingForClient"

	switch actor.Role {
	case models.RoleManager, models.RoleDirector, models.RoleSystem, models.RoleTrainer:
	default:
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrPermissionDenied, "role %q may not read client sessions", actor.Role))
	}

	if clientID == "" {
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrBadRequest, "client id is required"))
	}

	from = from.UTC()
	bookings, err := s.store.ListBookings(ctx, models.BookingFilter{
		States:   []models.BookingState{models.BookingConfirmed},
		ClientID: clientID,
		From:     &from,
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if actor.Role == models.RoleTrainer {
		bookings = slices.DeleteFunc(bookings, func(b *models.Booking) bool {
			return b.TrainerID != actor.ID
		})
	}

	return bookings, nil
}
