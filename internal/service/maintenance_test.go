package service

import (
	"time"

	"training-service/internal/models"
	"training-service/internal/notify"
)

func (s *ServiceSuite) TestAutoCompleteSweep() {
	paid := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	unpaid := s.create(manager, s.input(at(1, 12, 0), at(1, 13, 0), "client-2"))
	future := s.create(manager, s.input(at(2, 10, 0), at(2, 11, 0)))
	pending := s.create(trainer, s.input(at(1, 14, 0), at(1, 15, 0)))

	s.deposit("client-1", 1000)
	s.now = at(1, 16, 0)

	report, err := s.svc.RunAutoComplete(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{paid.ID}, report.Succeeded)
	s.Require().Len(report.Skipped, 1)
	s.Equal(unpaid.ID, report.Skipped[0].BookingID)

	for id, want := range map[string]models.BookingState{
		paid.ID:    models.BookingCompleted,
		unpaid.ID:  models.BookingConfirmed,
		future.ID:  models.BookingConfirmed,
		pending.ID: models.BookingPendingApproval,
	} {
		b, err := s.svc.GetBooking(s.ctx, id)
		s.Require().NoError(err)
		s.Equal(want, b.State, id)
	}

	// re-running never charges twice
	for i := 0; i < 3; i++ {
		report, err = s.svc.RunAutoComplete(s.ctx)
		s.Require().NoError(err)
		s.Empty(report.Succeeded)
	}
	s.Len(s.withdrawals("client-1"), 1)
	s.Equal(int64(700), s.balance("client-1"))

	// funded later, completed by the next sweep
	s.deposit("client-2", 300)
	report, err = s.svc.RunAutoComplete(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{unpaid.ID}, report.Succeeded)
	s.Zero(s.balance("client-2"))
}

func (s *ServiceSuite) TestReminderSweepSendsOnce() {
	soon := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))
	s.create(manager, s.input(at(5, 10, 0), at(5, 11, 0)))
	s.create(trainer, s.input(at(1, 12, 0), at(1, 13, 0)))

	report, err := s.svc.RunReminderSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{soon.ID}, report.Succeeded)

	reminders := s.notes.byTopic(notify.TopicBookingReminder)
	s.Require().Len(reminders, 2)
	s.Equal(notify.RecipientClient, reminders[0].RecipientKind)
	s.Equal(notify.RecipientTrainer, reminders[1].RecipientKind)

	for i := 0; i < 3; i++ {
		report, err = s.svc.RunReminderSweep(s.ctx)
		s.Require().NoError(err)
		s.Zero(report.Processed)
	}
	s.Len(s.notes.byTopic(notify.TopicBookingReminder), 2)

	b, err := s.svc.GetBooking(s.ctx, soon.ID)
	s.Require().NoError(err)
	s.True(b.ReminderSent)
}

func (s *ServiceSuite) TestRescheduleResetsReminder() {
	b := s.create(manager, s.input(at(1, 10, 0), at(1, 11, 0)))

	_, err := s.svc.RunReminderSweep(s.ctx)
	s.Require().NoError(err)

	b, err = s.svc.Reschedule(s.ctx, manager, b.ID, RescheduleInput{Start: at(1, 11, 0), End: at(1, 12, 0)})
	s.Require().NoError(err)
	s.False(b.ReminderSent)

	report, err := s.svc.RunReminderSweep(s.ctx)
	s.Require().NoError(err)
	s.Equal([]string{b.ID}, report.Succeeded)
}

func (s *ServiceSuite) TestSweepsOnEmptyStore() {
	s.now = s.now.Add(48 * time.Hour)

	report, err := s.svc.RunAutoComplete(s.ctx)
	s.Require().NoError(err)
	s.Zero(report.Processed)

	report, err = s.svc.RunReminderSweep(s.ctx)
	s.Require().NoError(err)
	s.Zero(report.Processed)
}
