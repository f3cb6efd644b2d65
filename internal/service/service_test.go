package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/stretchr/testify/suite"

	"training-service/internal/lock"
	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/internal/storage/memory"
	"training-service/pkg/response"
)

type recorder struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (r *recorder) Enqueue(msgs ...notify.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, msgs...)
}

func (r *recorder) byTopic(topic notify.Topic) []notify.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []notify.Message
	for _, m := range r.msgs {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

var (
	manager  = models.Actor{ID: "manager-1", Role: models.RoleManager}
	stranger = models.Actor{ID: "manager-2", Role: models.RoleManager}
	director = models.Actor{ID: "director-1", Role: models.RoleDirector}
	trainer  = models.Actor{ID: "trainer-1", Role: models.RoleTrainer}
)

type ServiceSuite struct {
	suite.Suite

	ctx   context.Context
	store *memory.Storage
	notes *recorder
	svc   *Service
	now   time.Time
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.New()
	s.notes = &recorder{}
	s.now = time.Date(2023, 12, 31, 12, 0, 0, 0, time.UTC)

	s.store.AddCenter(models.Center{ID: "center-1", Name: "Central", ManagerID: "manager-1", Timezone: "UTC", WorkStartHour: 8, WorkEndHour: 22})
	s.store.AddCenter(models.Center{ID: "center-2", Name: "North", ManagerID: "manager-2", Timezone: "UTC", WorkStartHour: 8, WorkEndHour: 22})
	s.store.AddCourt(models.Court{ID: "court-1", CenterID: "center-1"})
	s.store.AddCourt(models.Court{ID: "court-2", CenterID: "center-1", WorkStartHour: 10, WorkEndHour: 20})
	s.store.AddCourt(models.Court{ID: "court-9", CenterID: "center-2"})
	s.store.AddTrainingType(models.TrainingType{ID: "individual", Code: models.TrainingIndividual, MinClients: 1, MaxClients: 1})
	s.store.AddTrainingType(models.TrainingType{ID: "split", Code: models.TrainingSplit, MinClients: 2, MaxClients: 2})
	s.store.AttachTrainer("trainer-1", "center-1")
	s.store.AttachTrainer("trainer-3", "center-1")
	s.store.SetCenterPrice("center-1", "individual", 300)
	s.store.SetCenterPrice("center-1", "split", 200)
	s.store.SetTrainerRate("trainer-1", "center-1", "individual", 100)

	locks := lock.Options{TTL: time.Minute, Wait: 2 * time.Second, RetryInterval: time.Millisecond}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	s.svc = NewService(log, s.store, lock.NewLocalLock(), s.notes, Config{Locks: locks, ReminderLead: 24 * time.Hour})
	s.svc.clock = func() time.Time { return s.now }
}

func at(day, hour, minute int) time.Time {
	return time.Date(2024, 1, day, hour, minute, 0, 0, time.UTC)
}

func (s *ServiceSuite) input(start, end time.Time, clients ...string) CreateBookingInput {
	if len(clients) == 0 {
		clients = []string{"client-1"}
	}
	return CreateBookingInput{
		CenterID:       "center-1",
		CourtID:        "court-1",
		TrainerID:      "trainer-1",
		TrainingTypeID: "individual",
		ClientIDs:      clients,
		Start:          start,
		End:            end,
	}
}

func (s *ServiceSuite) create(actor models.Actor, in CreateBookingInput) *models.Booking {
	b, err := s.svc.CreateBooking(s.ctx, actor, in)
	s.Require().NoError(err)
	return b
}

func (s *ServiceSuite) deposit(client string, amount int64) {
	_, err := s.svc.Deposit(s.ctx, manager, client, amount, "top up")
	s.Require().NoError(err)
}

func (s *ServiceSuite) balance(client string) int64 {
	view, err := s.svc.Balance(s.ctx, client)
	s.Require().NoError(err)
	s.Require().Zero(view.Drift)
	return view.Balance
}

func (s *ServiceSuite) withdrawals(client string) []models.LedgerTransaction {
	view, err := s.svc.Balance(s.ctx, client)
	s.Require().NoError(err)

	var out []models.LedgerTransaction
	for _, tx := range view.Transactions {
		if tx.Type == models.TransactionWithdrawal {
			out = append(out, tx)
		}
	}
	return out
}

// Scenario A
func (s *ServiceSuite) TestApproveAndCompleteWithdrawsOnce() {
	s.deposit("client-1", 500)

	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))
	s.Equal(models.BookingPendingApproval, b.State)
	s.Len(s.notes.byTopic(notify.TopicBookingPending), 1)

	b, err := s.svc.Approve(s.ctx, manager, b.ID, ApproveOptions{})
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
	s.Equal("manager-1", b.ApprovedBy)
	s.True(b.NotificationSent)

	b, err = s.svc.Complete(s.ctx, manager, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingCompleted, b.State)

	s.Equal(int64(200), s.balance("client-1"))
	w := s.withdrawals("client-1")
	s.Require().Len(w, 1)
	s.Equal(int64(300), w[0].Amount)
	s.Equal(b.ID, w[0].BookingID)
}

// Scenario B
func (s *ServiceSuite) TestCreateOverlappingCourtFails() {
	s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	in := s.input(at(1, 10, 30), at(1, 11, 30), "client-2")
	in.TrainerID = "trainer-3"
	_, err := s.svc.CreateBooking(s.ctx, manager, in)
	s.ErrorIs(err, response.ErrResourceOverlap)
}

func (s *ServiceSuite) TestCreateOverlappingTrainerFails() {
	s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	in := s.input(at(1, 10, 0), at(1, 11, 0), "client-2")
	in.CourtID = "court-2"
	_, err := s.svc.CreateBooking(s.ctx, manager, in)
	s.ErrorIs(err, response.ErrResourceOverlap)
	s.Contains(err.Error(), "trainer busy")
}

func (s *ServiceSuite) TestAdjacentBookingsDoNotConflict() {
	s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	s.create(manager, s.input(at(1, 11, 0), at(1, 12, 0), "client-2"))
}

func (s *ServiceSuite) TestCancelledBookingFreesSlot() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	_, err := s.svc.Cancel(s.ctx, manager, b.ID, "")
	s.Require().NoError(err)

	s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0), "client-2"))
}

// Scenario C
func (s *ServiceSuite) TestApproveInsufficientBalance() {
	s.deposit("client-1", 100)
	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.Approve(s.ctx, manager, b.ID, ApproveOptions{})
	s.Require().ErrorIs(err, response.ErrInsufficientBalance)

	var verr *response.ValidationError
	s.Require().True(errors.As(err, &verr))
	s.Equal([]response.Shortfall{{ClientID: "client-1", Balance: 100, Required: 300}}, verr.Shortfalls)

	got, err := s.svc.GetBooking(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingPendingApproval, got.State)
}

func (s *ServiceSuite) TestApproveWithZeroPriceNeedsNoBalance() {
	s.store.SetCenterPrice("center-1", "individual", 0)
	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))

	b, err := s.svc.Approve(s.ctx, manager, b.ID, ApproveOptions{})
	s.Require().NoError(err)
	s.Zero(b.TotalPrice)
	s.Equal(int64(-100), b.Profit)
}

// Scenario E
func (s *ServiceSuite) TestRequestCancelThenApprove() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	s.Equal(models.BookingConfirmed, b.State)

	b, err := s.svc.RequestCancel(s.ctx, trainer, b.ID, "sick")
	s.Require().NoError(err)
	s.Equal(models.BookingPendingApproval, b.State)
	s.True(b.CancelRequested)
	s.Equal("trainer-1", b.CancelRequestedBy)
	s.Len(s.notes.byTopic(notify.TopicBookingCancelRequested), 1)

	b, err = s.svc.ApproveCancel(s.ctx, manager, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingCancelled, b.State)
	s.False(b.CancelRequested)

	view, err := s.svc.Balance(s.ctx, "client-1")
	s.Require().NoError(err)
	s.Empty(view.Transactions)
}

func (s *ServiceSuite) TestRejectCancelRestoresPriorState() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestCancel(s.ctx, trainer, b.ID, "sick")
	s.Require().NoError(err)

	_, err = s.svc.Approve(s.ctx, manager, b.ID, ApproveOptions{})
	s.ErrorIs(err, response.ErrInvalidStateTransition)

	_, err = s.svc.RejectCancel(s.ctx, manager, b.ID, "")
	s.ErrorIs(err, response.ErrBadRequest)

	b, err = s.svc.RejectCancel(s.ctx, manager, b.ID, "no replacement")
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
	s.False(b.CancelRequested)
	s.Empty(b.CancelReason)
	s.Len(s.notes.byTopic(notify.TopicBookingCancelRejected), 1)
}

func (s *ServiceSuite) TestRequestCancelGuards() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestCancel(s.ctx, trainer, b.ID, "")
	s.ErrorIs(err, response.ErrBadRequest)

	other := models.Actor{ID: "trainer-3", Role: models.RoleTrainer}
	_, err = s.svc.RequestCancel(s.ctx, other, b.ID, "sick")
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.RequestCancel(s.ctx, trainer, b.ID, "sick")
	s.Require().NoError(err)
	_, err = s.svc.RequestCancel(s.ctx, trainer, b.ID, "again")
	s.ErrorIs(err, response.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestRejectRequiresReason() {
	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.Reject(s.ctx, manager, b.ID, "  ")
	s.ErrorIs(err, response.ErrBadRequest)

	b, err = s.svc.Reject(s.ctx, manager, b.ID, "court maintenance")
	s.Require().NoError(err)
	s.Equal(models.BookingCancelled, b.State)
	s.Equal("manager-1", b.RejectedBy)
	s.Equal("court maintenance", b.RejectionReason)

	_, err = s.svc.Approve(s.ctx, manager, b.ID, ApproveOptions{})
	s.ErrorIs(err, response.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestCreateValidation() {
	cases := []struct {
		name string
		in   func() CreateBookingInput
		kind error
	}{
		{"start after end", func() CreateBookingInput { return s.input(at(1, 11, 0), at(1, 10, 0)) }, response.ErrTimeRangeInvalid},
		{"partial hour", func() CreateBookingInput { return s.input(at(1, 10, 0), at(1, 11, 30)) }, response.ErrTimeRangeInvalid},
		{"cross day", func() CreateBookingInput { return s.input(at(1, 23, 0), at(2, 1, 0)) }, response.ErrTimeRangeInvalid},
		{"after closing", func() CreateBookingInput { return s.input(at(1, 21, 0), at(1, 23, 0)) }, response.ErrOutsideWorkHours},
		{"before opening", func() CreateBookingInput { return s.input(at(1, 7, 0), at(1, 9, 0)) }, response.ErrOutsideWorkHours},
		{"court window", func() CreateBookingInput {
			in := s.input(at(1, 9, 0), at(1, 10, 0))
			in.CourtID = "court-2"
			return in
		}, response.ErrOutsideWorkHours},
		{"too many clients", func() CreateBookingInput {
			return s.input(at(1, 10, 0), at(1, 11, 0), "client-1", "client-2")
		}, response.ErrClientCountOutOfRange},
		{"no clients", func() CreateBookingInput {
			in := s.input(at(1, 10, 0), at(1, 11, 0))
			in.ClientIDs = nil
			return in
		}, response.ErrClientCountOutOfRange},
		{"duplicate client", func() CreateBookingInput {
			in := s.input(at(1, 10, 0), at(1, 11, 0), "client-1", "client-1")
			in.TrainingTypeID = "split"
			return in
		}, response.ErrBadRequest},
		{"trainer not attached", func() CreateBookingInput {
			in := s.input(at(1, 10, 0), at(1, 11, 0))
			in.TrainerID = "trainer-2"
			return in
		}, response.ErrTrainerNotAttached},
		{"court of another center", func() CreateBookingInput {
			in := s.input(at(1, 10, 0), at(1, 11, 0))
			in.CourtID = "court-9"
			return in
		}, response.ErrBadRequest},
		{"unknown training type", func() CreateBookingInput {
			in := s.input(at(1, 10, 0), at(1, 11, 0))
			in.TrainingTypeID = "nope"
			return in
		}, response.ErrNotFound},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			_, err := s.svc.CreateBooking(s.ctx, manager, tc.in())
			s.ErrorIs(err, tc.kind)
		})
	}
}

func (s *ServiceSuite) TestSessionMayEndAtClosingAndMidnight() {
	s.create(manager, s.input(at(1, 20, 0), at(1, 22, 0)))

	s.store.AddCenter(models.Center{ID: "center-1", ManagerID: "manager-1", WorkStartHour: 0, WorkEndHour: 24})
	s.create(manager, s.input(at(1, 23, 0), at(2, 0, 0), "client-2"))
}

func (s *ServiceSuite) TestWorkHoursUseCenterTimezone() {
	// 08:00-22:00 in UTC+3 is 05:00-19:00 UTC
	s.store.AddCenter(models.Center{ID: "center-1", ManagerID: "manager-1", Timezone: "Europe/Moscow", WorkStartHour: 8, WorkEndHour: 22})

	s.create(manager, s.input(at(1, 5, 0), at(1, 6, 0)))

	_, err := s.svc.CreateBooking(s.ctx, manager, s.input(at(1, 19, 0), at(1, 20, 0), "client-2"))
	s.ErrorIs(err, response.ErrOutsideWorkHours)
}

func (s *ServiceSuite) TestCreatePermissions() {
	in := s.input(at(1, 10, 0), at(1, 11, 0))

	_, err := s.svc.CreateBooking(s.ctx, models.Actor{ID: "trainer-3", Role: models.RoleTrainer}, in)
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.CreateBooking(s.ctx, stranger, in)
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.CreateBooking(s.ctx, models.SystemActor(), in)
	s.ErrorIs(err, response.ErrPermissionDenied)

	b, err := s.svc.CreateBooking(s.ctx, director, in)
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
	s.Len(s.notes.byTopic(notify.TopicBookingApproved), 2)
}

func (s *ServiceSuite) TestTransitionPermissions() {
	s.deposit("client-1", 300)
	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.Approve(s.ctx, trainer, b.ID, ApproveOptions{})
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.Approve(s.ctx, stranger, b.ID, ApproveOptions{})
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.Cancel(s.ctx, trainer, b.ID, "")
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.Complete(s.ctx, trainer, b.ID)
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.Approve(s.ctx, director, b.ID, ApproveOptions{})
	s.NoError(err)
}

func (s *ServiceSuite) TestCreateAsDraft() {
	in := s.input(at(1, 10, 0), at(1, 11, 0))
	in.AsDraft = true

	b := s.create(manager, in)
	s.Equal(models.BookingDraft, b.State)

	// drafts hold the slot
	_, err := s.svc.CreateBooking(s.ctx, manager, s.input(at(1, 10, 0), at(1, 11, 0), "client-2"))
	s.ErrorIs(err, response.ErrResourceOverlap)

	_, err = s.svc.Complete(s.ctx, manager, b.ID)
	s.ErrorIs(err, response.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestMoneyFields() {
	s.store.SetTrainerRate("trainer-1", "center-1", "split", 50)
	in := s.input(at(1, 10, 0), at(1, 12, 0), "client-1", "client-2")
	in.TrainingTypeID = "split"

	b := s.create(manager, in)
	s.Equal(int64(200), b.PricePerHour)
	s.Equal(int64(50), b.TrainerRatePerHour)
	s.Equal(int64(800), b.TotalPrice)
	s.Equal(int64(200), b.TrainerPay)
	s.Equal(int64(600), b.Profit)
	s.Equal(int64(400), b.DuePerClient())
}

func (s *ServiceSuite) TestCompleteChecksAllClientsFirst() {
	in := s.input(at(1, 10, 0), at(1, 11, 0), "client-1", "client-2")
	in.TrainingTypeID = "split"
	b := s.create(manager, in)

	s.deposit("client-1", 1000)
	s.deposit("client-2", 100)

	_, err := s.svc.Complete(s.ctx, manager, b.ID)
	s.Require().ErrorIs(err, response.ErrInsufficientBalance)

	var verr *response.ValidationError
	s.Require().True(errors.As(err, &verr))
	s.Equal([]response.Shortfall{{ClientID: "client-2", Balance: 100, Required: 200}}, verr.Shortfalls)

	s.Equal(int64(1000), s.balance("client-1"))
	s.Empty(s.withdrawals("client-1"))

	got, err := s.svc.GetBooking(s.ctx, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, got.State)

	s.deposit("client-2", 100)
	_, err = s.svc.Complete(s.ctx, manager, b.ID)
	s.Require().NoError(err)
	s.Equal(int64(800), s.balance("client-1"))
	s.Zero(s.balance("client-2"))
}

func (s *ServiceSuite) TestCompleteOnlyOnce() {
	s.deposit("client-1", 1000)
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	var wg sync.WaitGroup
	var mu sync.Mutex
	var ok, invalid int

	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.svc.Complete(s.ctx, manager, b.ID)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, response.ErrInvalidStateTransition):
				invalid++
			}
		}()
	}
	wg.Wait()

	s.Equal(1, ok)
	s.Equal(5, invalid)
	s.Len(s.withdrawals("client-1"), 1)
	s.Equal(int64(700), s.balance("client-1"))
}

func (s *ServiceSuite) TestConcurrentCreatesNeverOverlap() {
	var wg sync.WaitGroup
	var mu sync.Mutex
	var created []*models.Booking

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			start := at(1, 10, 0).Add(time.Duration(i%3) * 30 * time.Minute)
			b, err := s.svc.CreateBooking(s.ctx, manager, s.input(start, start.Add(time.Hour)))
			if err != nil {
				s.True(errors.Is(err, response.ErrResourceOverlap) || errors.Is(err, response.ErrLocked), err.Error())
				return
			}
			mu.Lock()
			created = append(created, b)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	s.NotEmpty(created)
	for i, a := range created {
		for _, b := range created[i+1:] {
			s.False(Overlaps(a.Start, a.End, b.Start, b.End), "bookings %s and %s overlap", a.ID, b.ID)
		}
	}
}

func (s *ServiceSuite) TestRequestRescheduleThenApprove() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	in := RescheduleInput{Start: at(1, 14, 0), End: at(1, 16, 0), CourtID: "court-2", Reason: "exam"}
	b, err := s.svc.RequestReschedule(s.ctx, trainer, b.ID, in)
	s.Require().NoError(err)
	s.Equal(models.BookingPendingApproval, b.State)
	s.True(b.RescheduleRequested)
	s.Equal(at(1, 10, 0), b.Start)
	s.Equal(at(1, 14, 0), *b.NewStart)

	b, err = s.svc.ApproveReschedule(s.ctx, manager, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
	s.False(b.RescheduleRequested)
	s.Nil(b.NewStart)
	s.Equal(at(1, 14, 0), b.Start)
	s.Equal(at(1, 16, 0), b.End)
	s.Equal("court-2", b.CourtID)
	s.Equal(int64(600), b.TotalPrice)
	s.Len(s.notes.byTopic(notify.TopicBookingRescheduled), 2)

	// old slot is free again
	s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0), "client-2"))
}

func (s *ServiceSuite) TestRequestRescheduleValidatesNewSlot() {
	s.create(manager, s.input(at(1, 14, 0), at(1, 15, 0), "client-2"))
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 14, 0), End: at(1, 15, 0), Reason: "x"})
	s.ErrorIs(err, response.ErrResourceOverlap)

	past := s.now.Add(-2 * time.Hour)
	_, err = s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: past, End: past.Add(time.Hour), Reason: "x"})
	s.ErrorIs(err, response.ErrTimeRangeInvalid)

	_, err = s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 21, 0), End: at(1, 23, 0), Reason: "x"})
	s.ErrorIs(err, response.ErrOutsideWorkHours)

	// overlapping only its own slot is fine
	b, err = s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 10, 0), End: at(1, 12, 0), Reason: "longer"})
	s.Require().NoError(err)
	s.True(b.RescheduleRequested)
}

func (s *ServiceSuite) TestApproveRescheduleRechecksConflicts() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 14, 0), End: at(1, 15, 0), Reason: "x"})
	s.Require().NoError(err)

	// slot taken after the request
	in := s.input(at(1, 14, 0), at(1, 15, 0), "client-2")
	in.TrainerID = "trainer-3"
	s.create(manager, in)

	_, err = s.svc.ApproveReschedule(s.ctx, manager, b.ID)
	s.ErrorIs(err, response.ErrResourceOverlap)

	got, err := s.svc.GetBooking(s.ctx, b.ID)
	s.Require().NoError(err)
	s.True(got.RescheduleRequested)
	s.Equal(at(1, 10, 0), got.Start)
}

func (s *ServiceSuite) TestRejectReschedule() {
	b := s.create(trainer, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 14, 0), End: at(1, 15, 0), Reason: "x"})
	s.Require().NoError(err)

	b, err = s.svc.RejectReschedule(s.ctx, manager, b.ID, "keep it")
	s.Require().NoError(err)
	s.Equal(models.BookingPendingApproval, b.State)
	s.False(b.RescheduleRequested)
	s.Equal(at(1, 10, 0), b.Start)
	s.Len(s.notes.byTopic(notify.TopicBookingRescheduleRejected), 1)

	_, err = s.svc.RejectReschedule(s.ctx, manager, b.ID, "again")
	s.ErrorIs(err, response.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestDirectRescheduleDropsPendingRequest() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RequestReschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 14, 0), End: at(1, 15, 0), Reason: "x"})
	s.Require().NoError(err)

	_, err = s.svc.Reschedule(s.ctx, trainer, b.ID, RescheduleInput{Start: at(1, 16, 0), End: at(1, 17, 0)})
	s.ErrorIs(err, response.ErrPermissionDenied)

	b, err = s.svc.Reschedule(s.ctx, manager, b.ID, RescheduleInput{Start: at(1, 16, 0), End: at(1, 17, 0)})
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
	s.False(b.RescheduleRequested)
	s.Equal(at(1, 16, 0), b.Start)
}

func (s *ServiceSuite) TestSetDraft() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	_, err := s.svc.RequestCancel(s.ctx, trainer, b.ID, "sick")
	s.Require().NoError(err)

	b, err = s.svc.SetDraft(s.ctx, manager, b.ID)
	s.Require().NoError(err)
	s.Equal(models.BookingDraft, b.State)
	s.Empty(b.ApprovedBy)
	s.Nil(b.ApprovedAt)
	s.False(b.CancelRequested)

	_, err = s.svc.Cancel(s.ctx, manager, b.ID, "")
	s.Require().NoError(err)

	_, err = s.svc.SetDraft(s.ctx, manager, b.ID)
	s.ErrorIs(err, response.ErrInvalidStateTransition)
}

func (s *ServiceSuite) TestLedger() {
	_, err := s.svc.Deposit(s.ctx, manager, "client-1", 0, "zero")
	s.ErrorIs(err, response.ErrBadRequest)

	_, err = s.svc.Deposit(s.ctx, trainer, "client-1", 100, "no rights")
	s.ErrorIs(err, response.ErrPermissionDenied)

	s.deposit("client-1", 250)

	_, err = s.svc.Withdraw(s.ctx, manager, "client-1", 300, "", "too much")
	s.ErrorIs(err, response.ErrInsufficientBalance)
	s.Equal(int64(250), s.balance("client-1"))

	// round trip
	s.deposit("client-1", 75)
	_, err = s.svc.Withdraw(s.ctx, manager, "client-1", 75, "", "refund")
	s.Require().NoError(err)
	s.Equal(int64(250), s.balance("client-1"))

	view, err := s.svc.Balance(s.ctx, "client-1")
	s.Require().NoError(err)
	s.Len(view.Transactions, 3)
	s.Equal(view.Balance, view.Replayed)
}

func (s *ServiceSuite) TestConcurrentWithdrawalsNeverGoNegative() {
	s.deposit("client-1", 500)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.svc.Withdraw(s.ctx, models.SystemActor(), "client-1", 100, "", "session")
		}()
	}
	wg.Wait()

	s.Zero(s.balance("client-1"))
	s.Len(s.withdrawals("client-1"), 5)
}

func (s *ServiceSuite) TestUpcomingForClient() {
	late := s.create(manager, s.input(at(2, 10, 0), at(2, 11, 0)))
	early := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	s.create(trainer, s.input(at(3, 10, 0), at(3, 11, 0)))
	s.create(manager, s.input(at(4, 10, 0), at(4, 11, 0), "client-2"))

	got, err := s.svc.UpcomingForClient(s.ctx, manager, "client-1", at(1, 0, 0))
	s.Require().NoError(err)
	s.Require().Len(got, 2)
	s.Equal(early.ID, got[0].ID)
	s.Equal(late.ID, got[1].ID)

	got, err = s.svc.UpcomingForClient(s.ctx, manager, "client-1", at(1, 12, 0))
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(late.ID, got[0].ID)
}

func (s *ServiceSuite) TestUpcomingForClientLimitsTrainers() {
	own := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	other := s.input(at(2, 10, 0), at(2, 11, 0))
	other.TrainerID = "trainer-3"
	s.create(manager, other)

	got, err := s.svc.UpcomingForClient(s.ctx, director, "client-1", at(1, 0, 0))
	s.Require().NoError(err)
	s.Len(got, 2)

	got, err = s.svc.UpcomingForClient(s.ctx, trainer, "client-1", at(1, 0, 0))
	s.Require().NoError(err)
	s.Require().Len(got, 1)
	s.Equal(own.ID, got[0].ID)

	_, err = s.svc.UpcomingForClient(s.ctx, models.Actor{ID: "x", Role: "client"}, "client-1", at(1, 0, 0))
	s.ErrorIs(err, response.ErrPermissionDenied)
}
