// Package memory is an in-process store. Transactions are serialized on a
// single mutex and rolled back by restoring a snapshot.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"training-service/internal/models"
	"training-service/pkg/response"
)

type txKey struct{}

type pair [2]string
type triple [3]string

type state struct {
	centers     map[string]models.Center
	courts      map[string]models.Court
	types       map[string]models.TrainingType
	attachments map[pair]struct{}
	prices      map[pair]int64
	rates       map[triple]int64

	bookings  map[string]*models.Booking
	templates map[string]*models.RecurringTemplate
	balances  map[string]int64
	journal   []models.LedgerTransaction
}

func (st *state) clone() *state {
	c := &state{
		centers:     maps.Clone(st.centers),
		courts:      maps.Clone(st.courts),
		types:       maps.Clone(st.types),
		attachments: maps.Clone(st.attachments),
		prices:      maps.Clone(st.prices),
		rates:       maps.Clone(st.rates),
		bookings:    make(map[string]*models.Booking, len(st.bookings)),
		templates:   make(map[string]*models.RecurringTemplate, len(st.templates)),
		balances:    maps.Clone(st.balances),
		journal:     slices.Clone(st.journal),
	}
	for id, b := range st.bookings {
		c.bookings[id] = b.Clone()
	}
	for id, t := range st.templates {
		c.templates[id] = t.Clone()
	}
	return c
}

type Storage struct {
	mu   sync.Mutex
	data *state
}

func New() *Storage {
	return &Storage{data: &state{
		centers:     make(map[string]models.Center),
		courts:      make(map[string]models.Court),
		types:       make(map[string]models.TrainingType),
		attachments: make(map[pair]struct{}),
		prices:      make(map[pair]int64),
		rates:       make(map[triple]int64),
		bookings:    make(map[string]*models.Booking),
		templates:   make(map[string]*models.RecurringTemplate),
		balances:    make(map[string]int64),
	}}
}

func (s *Storage) Close() error {
	return nil
}

func (s *Storage) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(txKey{}).(*Storage)
	return owner == s
}

// guard takes the store mutex unless ctx already runs inside a transaction
// of this store.
func (s *Storage) guard(ctx context.Context) func() {
	if s.inTx(ctx) {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.data.clone()

	if err := fn(context.WithValue(ctx, txKey{}, s)); err != nil {
		s.data = snapshot
		return err
	}

	return nil
}

// Directory

func (s *Storage) AddCenter(c models.Center) {
	defer s.guard(context.Background())()
	s.data.centers[c.ID] = c
}

func (s *Storage) AddCourt(c models.Court) {
	defer s.guard(context.Background())()
	s.data.courts[c.ID] = c
}

func (s *Storage) AddTrainingType(t models.TrainingType) {
	defer s.guard(context.Background())()
	s.data.types[t.ID] = t
}

func (s *Storage) AttachTrainer(trainerID, centerID string) {
	defer s.guard(context.Background())()
	s.data.attachments[pair{trainerID, centerID}] = struct{}{}
}

func (s *Storage) SetCenterPrice(centerID, trainingTypeID string, price int64) {
	defer s.guard(context.Background())()
	s.data.prices[pair{centerID, trainingTypeID}] = price
}

func (s *Storage) SetTrainerRate(trainerID, centerID, trainingTypeID string, rate int64) {
	defer s.guard(context.Background())()
	s.data.rates[triple{trainerID, centerID, trainingTypeID}] = rate
}

func (s *Storage) GetCenter(ctx context.Context, id string) (*models.Center, error) {
	const op = "storage.memory.GetCenter"
	defer s.guard(ctx)()

	c, ok := s.data.centers[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	return &c, nil
}

func (s *Storage) GetCourt(ctx context.Context, id string) (*models.Court, error) {
	const op = "storage.memory.GetCourt"
	defer s.guard(ctx)()

	c, ok := s.data.courts[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	return &c, nil
}

func (s *Storage) GetTrainingType(ctx context.Context, id string) (*models.TrainingType, error) {
	const op = "storage.memory.GetTrainingType"
	defer s.guard(ctx)()

	t, ok := s.data.types[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	return &t, nil
}

func (s *Storage) IsTrainerAttached(ctx context.Context, trainerID, centerID string) (bool, error) {
	defer s.guard(ctx)()
	_, ok := s.data.attachments[pair{trainerID, centerID}]
	return ok, nil
}

func (s *Storage) CenterPrice(ctx context.Context, centerID, trainingTypeID string) (int64, bool, error) {
	defer s.guard(ctx)()
	p, ok := s.data.prices[pair{centerID, trainingTypeID}]
	return p, ok, nil
}

func (s *Storage) TrainerRate(ctx context.Context, trainerID, centerID, trainingTypeID string) (int64, bool, error) {
	defer s.guard(ctx)()
	r, ok := s.data.rates[triple{trainerID, centerID, trainingTypeID}]
	return r, ok, nil
}

// Bookings

func resourceOf(b *models.Booking, kind models.ResourceKind) string {
	if kind == models.ResourceTrainer {
		return b.TrainerID
	}
	return b.CourtID
}

func (s *Storage) overlapping(kind models.ResourceKind, resourceID string, start, end time.Time, excludeID string) []*models.Booking {
	var out []*models.Booking
	for _, b := range s.data.bookings {
		if b.ID == excludeID || !b.State.IsActive() || resourceOf(b, kind) != resourceID {
			continue
		}
		if b.Start.Before(end) && b.End.After(start) {
			out = append(out, b.Clone())
		}
	}
	sortByStart(out)
	return out
}

// checkExclusive mirrors the database exclusion constraints.
func (s *Storage) checkExclusive(b *models.Booking) error {
	if !b.State.IsActive() {
		return nil
	}
	if len(s.overlapping(models.ResourceCourt, b.CourtID, b.Start, b.End, b.ID)) > 0 {
		return response.Invalid(response.ErrResourceOverlap, "court busy: court %s is already booked", b.CourtID)
	}
	if len(s.overlapping(models.ResourceTrainer, b.TrainerID, b.Start, b.End, b.ID)) > 0 {
		return response.Invalid(response.ErrResourceOverlap, "trainer busy: trainer %s already has a session", b.TrainerID)
	}
	return nil
}

func (s *Storage) CreateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.memory.CreateBooking"
	defer s.guard(ctx)()

	if _, ok := s.data.bookings[b.ID]; ok {
		return fmt.Errorf("%s: booking %s: %w", op, b.ID, response.ErrAlreadyExists)
	}
	if b.RecurringID != "" {
		for _, other := range s.data.bookings {
			if other.RecurringID == b.RecurringID && other.Start.Equal(b.Start) {
				return fmt.Errorf("%s: %w", op, response.ErrAlreadyExists)
			}
		}
	}
	if err := s.checkExclusive(b); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.data.bookings[b.ID] = b.Clone()
	return nil
}

func (s *Storage) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	const op = "storage.memory.GetBooking"
	defer s.guard(ctx)()

	b, ok := s.data.bookings[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	return b.Clone(), nil
}

func (s *Storage) GetBookingForUpdate(ctx context.Context, id string) (*models.Booking, error) {
	return s.GetBooking(ctx, id)
}

func (s *Storage) UpdateBooking(ctx context.Context, b *models.Booking) error {
	const op = "storage.memory.UpdateBooking"
	defer s.guard(ctx)()

	if _, ok := s.data.bookings[b.ID]; !ok {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	if err := s.checkExclusive(b); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	s.data.bookings[b.ID] = b.Clone()
	return nil
}

func (s *Storage) FindOverlapping(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time, excludeID string) ([]*models.Booking, error) {
	defer s.guard(ctx)()
	return s.overlapping(kind, resourceID, start, end, excludeID), nil
}

func (s *Storage) ListBookings(ctx context.Context, f models.BookingFilter) ([]*models.Booking, error) {
	defer s.guard(ctx)()

	var out []*models.Booking
	for _, b := range s.data.bookings {
		if len(f.States) > 0 && !slices.Contains(f.States, b.State) {
			continue
		}
		if f.ClientID != "" && !b.HasClient(f.ClientID) {
			continue
		}
		if f.TemplateID != "" && b.RecurringID != f.TemplateID {
			continue
		}
		if f.From != nil && b.Start.Before(*f.From) {
			continue
		}
		if f.To != nil && !b.Start.Before(*f.To) {
			continue
		}
		out = append(out, b.Clone())
	}

	sortByStart(out)
	return out, nil
}

func (s *Storage) BookingExistsForTemplate(ctx context.Context, templateID string, start time.Time) (bool, error) {
	defer s.guard(ctx)()

	for _, b := range s.data.bookings {
		if b.RecurringID == templateID && b.Start.Equal(start) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Storage) ListDueForCompletion(ctx context.Context, now time.Time) ([]*models.Booking, error) {
	defer s.guard(ctx)()

	var out []*models.Booking
	for _, b := range s.data.bookings {
		if b.State == models.BookingConfirmed && !b.End.After(now) {
			out = append(out, b.Clone())
		}
	}

	sortByStart(out)
	return out, nil
}

func (s *Storage) ListDueForReminder(ctx context.Context, from, to time.Time) ([]*models.Booking, error) {
	defer s.guard(ctx)()

	var out []*models.Booking
	for _, b := range s.data.bookings {
		if b.State != models.BookingConfirmed || b.ReminderSent {
			continue
		}
		if b.Start.Before(from) || b.Start.After(to) {
			continue
		}
		out = append(out, b.Clone())
	}

	sortByStart(out)
	return out, nil
}

func (s *Storage) MarkReminderSent(ctx context.Context, id string) (bool, error) {
	defer s.guard(ctx)()

	b, ok := s.data.bookings[id]
	if !ok || b.State != models.BookingConfirmed || b.ReminderSent {
		return false, nil
	}

	b.ReminderSent = true
	return true, nil
}

func sortByStart(bs []*models.Booking) {
	slices.SortFunc(bs, func(a, b *models.Booking) int {
		if c := a.Start.Compare(b.Start); c != 0 {
			return c
		}
		return strings.Compare(a.ID, b.ID)
	})
}

// Recurring templates

func (s *Storage) CreateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error {
	const op = "storage.memory.CreateRecurringTemplate"
	defer s.guard(ctx)()

	if _, ok := s.data.templates[t.ID]; ok {
		return fmt.Errorf("%s: %w", op, response.ErrAlreadyExists)
	}
	s.data.templates[t.ID] = t.Clone()
	return nil
}

func (s *Storage) GetRecurringTemplate(ctx context.Context, id string) (*models.RecurringTemplate, error) {
	const op = "storage.memory.GetRecurringTemplate"
	defer s.guard(ctx)()

	t, ok := s.data.templates[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	return t.Clone(), nil
}

func (s *Storage) UpdateRecurringTemplate(ctx context.Context, t *models.RecurringTemplate) error {
	const op = "storage.memory.UpdateRecurringTemplate"
	defer s.guard(ctx)()

	if _, ok := s.data.templates[t.ID]; !ok {
		return fmt.Errorf("%s: %w", op, response.ErrNotFound)
	}
	s.data.templates[t.ID] = t.Clone()
	return nil
}

// Ledger

func (s *Storage) GetBalance(ctx context.Context, clientID string) (int64, error) {
	defer s.guard(ctx)()
	return s.data.balances[clientID], nil
}

// LockBalance reads the balance. Transactions already hold the store mutex.
func (s *Storage) LockBalance(ctx context.Context, clientID string) (int64, error) {
	return s.GetBalance(ctx, clientID)
}

func (s *Storage) AppendTransaction(ctx context.Context, tx *models.LedgerTransaction) (int64, error) {
	const op = "storage.memory.AppendTransaction"
	defer s.guard(ctx)()

	if tx.Amount <= 0 {
		return 0, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrBadRequest, "amount must be positive"))
	}

	next := s.data.balances[tx.ClientID] + tx.Signed()
	if next < 0 {
		return 0, fmt.Errorf("%s: %w", op, response.InsufficientBalance([]response.Shortfall{{
			ClientID: tx.ClientID, Balance: s.data.balances[tx.ClientID], Required: tx.Amount,
		}}))
	}

	s.data.balances[tx.ClientID] = next
	s.data.journal = append(s.data.journal, *tx)
	return next, nil
}

func (s *Storage) ListTransactions(ctx context.Context, clientID string) ([]models.LedgerTransaction, error) {
	defer s.guard(ctx)()

	out := []models.LedgerTransaction{}
	for _, tx := range s.data.journal {
		if tx.ClientID == clientID {
			out = append(out, tx)
		}
	}
	return out, nil
}

func (s *Storage) ReplayBalance(ctx context.Context, clientID string) (int64, error) {
	defer s.guard(ctx)()

	var sum int64
	for _, tx := range s.data.journal {
		if tx.ClientID == clientID {
			sum += tx.Signed()
		}
	}
	return sum, nil
}
