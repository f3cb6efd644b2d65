package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/pkg/response"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatDates(ds []time.Time) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.Format(dateLayout))
	}
	return out
}

func TestExpansionDatesWeekly(t *testing.T) {
	tpl := &models.RecurringTemplate{
		StartDate: date(2024, 1, 1),
		EndDate:   date(2024, 1, 14),
		Weekdays:  []time.Weekday{time.Monday, time.Wednesday},
		Frequency: models.FrequencyWeekly,
	}

	got := expansionDates(tpl, date(2024, 1, 1), date(2024, 1, 14))
	assert.Equal(t, []string{"2024-01-01", "2024-01-03", "2024-01-08", "2024-01-10"}, formatDates(got))

	// the request range is clipped to the template range
	got = expansionDates(tpl, date(2023, 12, 1), date(2024, 2, 1))
	assert.Len(t, got, 4)

	got = expansionDates(tpl, date(2024, 1, 4), date(2024, 1, 8))
	assert.Equal(t, []string{"2024-01-08"}, formatDates(got))
}

func TestExpansionDatesBiweeklyAcrossYearEnd(t *testing.T) {
	tpl := &models.RecurringTemplate{
		StartDate: date(2024, 12, 30),
		EndDate:   date(2025, 1, 31),
		Weekdays:  []time.Weekday{time.Monday, time.Friday},
		Frequency: models.FrequencyBiweekly,
	}

	got := expansionDates(tpl, tpl.StartDate, tpl.EndDate)
	assert.Equal(t, []string{"2024-12-30", "2025-01-03", "2025-01-13", "2025-01-17", "2025-01-27", "2025-01-31"}, formatDates(got))
}

func TestWeeksBetween(t *testing.T) {
	assert.Equal(t, 0, weeksBetween(date(2024, 1, 3), date(2024, 1, 7)))
	assert.Equal(t, 1, weeksBetween(date(2024, 1, 7), date(2024, 1, 8)))
	assert.Equal(t, 2, weeksBetween(date(2023, 12, 25), date(2024, 1, 8)))
}

// 2026 has 53 ISO weeks, so ISO week numbers would put these two Mondays
// on different parities.
func TestExpansionDatesBiweeklyAcrossLongISOYear(t *testing.T) {
	tpl := &models.RecurringTemplate{
		StartDate: date(2026, 12, 21),
		EndDate:   date(2027, 1, 31),
		Weekdays:  []time.Weekday{time.Monday},
		Frequency: models.FrequencyBiweekly,
	}

	assert.Equal(t, 2, weeksBetween(date(2026, 12, 21), date(2027, 1, 4)))

	got := expansionDates(tpl, tpl.StartDate, tpl.EndDate)
	assert.Equal(t, []string{"2026-12-21", "2027-01-04", "2027-01-18"}, formatDates(got))
}

func (s *ServiceSuite) template(actor models.Actor, in TemplateInput) *models.RecurringTemplate {
	t, err := s.svc.CreateTemplate(s.ctx, actor, in)
	s.Require().NoError(err)
	return t
}

func (s *ServiceSuite) templateInput() TemplateInput {
	return TemplateInput{
		CenterID:       "center-1",
		CourtID:        "court-1",
		TrainerID:      "trainer-1",
		TrainingTypeID: "individual",
		ClientIDs:      []string{"client-1"},
		StartDate:      date(2024, 1, 1),
		EndDate:        date(2024, 1, 14),
		Weekdays:       []time.Weekday{time.Monday, time.Wednesday},
		StartMinute:    10 * 60,
		DurationHours:  1,
		Frequency:      models.FrequencyWeekly,
	}
}

// Scenario D
func (s *ServiceSuite) TestExpandIsIdempotent() {
	tpl := s.template(manager, s.templateInput())
	s.True(tpl.Approved)

	first, err := s.svc.Expand(s.ctx, manager, tpl.ID, date(2024, 1, 1), date(2024, 1, 14))
	s.Require().NoError(err)
	s.Len(first.Created, 4)
	s.Empty(first.Skipped)

	second, err := s.svc.Expand(s.ctx, manager, tpl.ID, date(2024, 1, 1), date(2024, 1, 14))
	s.Require().NoError(err)
	s.Empty(second.Created)
	s.Require().Len(second.Skipped, 4)
	for _, sk := range second.Skipped {
		s.Equal("already exists", sk.Reason)
	}

	got, err := s.store.ListBookings(s.ctx, models.BookingFilter{TemplateID: tpl.ID})
	s.Require().NoError(err)
	s.Require().Len(got, 4)
	for _, b := range got {
		s.Equal(models.BookingConfirmed, b.State)
		s.Equal(10, b.Start.Hour())
		s.Equal(time.Hour, b.End.Sub(b.Start))
	}
}

func (s *ServiceSuite) TestExpandSkipsBusyAndClosedDates() {
	// another trainer holds the court on Jan 3
	in := s.input(at(3, 10, 0), at(3, 11, 0), "client-2")
	in.TrainerID = "trainer-3"
	s.create(manager, in)

	tpl := s.template(manager, s.templateInput())

	report, err := s.svc.Expand(s.ctx, models.SystemActor(), tpl.ID, date(2024, 1, 1), date(2024, 1, 14))
	s.Require().NoError(err)
	s.Len(report.Created, 3)
	s.Require().Len(report.Skipped, 1)
	s.Equal("2024-01-03", report.Skipped[0].Date)
	s.Contains(report.Skipped[0].Reason, "court busy")

	late := s.templateInput()
	late.StartMinute = 21 * 60
	late.DurationHours = 2
	tpl = s.template(manager, late)

	report, err = s.svc.Expand(s.ctx, manager, tpl.ID, date(2024, 1, 1), date(2024, 1, 14))
	s.Require().NoError(err)
	s.Empty(report.Created)
	s.Require().Len(report.Skipped, 4)
	for _, sk := range report.Skipped {
		s.Contains(sk.Reason, "outside work hours")
	}
}

func (s *ServiceSuite) TestTrainerTemplateNeedsExplicitApproval() {
	tpl := s.template(trainer, s.templateInput())
	s.False(tpl.Approved)
	s.Len(s.notes.byTopic(notify.TopicTemplatePending), 1)

	report, err := s.svc.Expand(s.ctx, trainer, tpl.ID, date(2024, 1, 1), date(2024, 1, 7))
	s.Require().NoError(err)
	s.Require().Len(report.Created, 2)
	s.Len(s.notes.byTopic(notify.TopicBookingPending), 2)

	s.deposit("client-1", 1000)

	// approving one instance leaves the template alone
	_, err = s.svc.Approve(s.ctx, manager, report.Created[0], ApproveOptions{})
	s.Require().NoError(err)
	got, err := s.svc.GetTemplate(s.ctx, tpl.ID)
	s.Require().NoError(err)
	s.False(got.Approved)

	_, err = s.svc.Approve(s.ctx, manager, report.Created[1], ApproveOptions{ApproveTemplate: true})
	s.Require().NoError(err)
	got, err = s.svc.GetTemplate(s.ctx, tpl.ID)
	s.Require().NoError(err)
	s.True(got.Approved)
	s.Equal("manager-1", got.ApprovedBy)

	report, err = s.svc.Expand(s.ctx, trainer, tpl.ID, date(2024, 1, 8), date(2024, 1, 14))
	s.Require().NoError(err)
	s.Require().Len(report.Created, 2)
	b, err := s.svc.GetBooking(s.ctx, report.Created[0])
	s.Require().NoError(err)
	s.Equal(models.BookingConfirmed, b.State)
}

func (s *ServiceSuite) TestApproveTemplateChecksBalances() {
	tpl := s.template(trainer, s.templateInput())

	_, err := s.svc.ApproveTemplate(s.ctx, trainer, tpl.ID)
	s.ErrorIs(err, response.ErrPermissionDenied)

	_, err = s.svc.ApproveTemplate(s.ctx, manager, tpl.ID)
	s.ErrorIs(err, response.ErrInsufficientBalance)

	s.deposit("client-1", 300)
	got, err := s.svc.ApproveTemplate(s.ctx, manager, tpl.ID)
	s.Require().NoError(err)
	s.True(got.Approved)
}

func (s *ServiceSuite) TestDeactivatedTemplateDoesNotExpand() {
	tpl := s.template(manager, s.templateInput())

	report, err := s.svc.Expand(s.ctx, manager, tpl.ID, date(2024, 1, 1), date(2024, 1, 7))
	s.Require().NoError(err)
	s.Len(report.Created, 2)

	_, err = s.svc.DeactivateTemplate(s.ctx, trainer, tpl.ID)
	s.Require().NoError(err)

	_, err = s.svc.Expand(s.ctx, manager, tpl.ID, date(2024, 1, 8), date(2024, 1, 14))
	s.ErrorIs(err, response.ErrInvalidStateTransition)

	// generated bookings survive deactivation
	got, err := s.store.ListBookings(s.ctx, models.BookingFilter{TemplateID: tpl.ID})
	s.Require().NoError(err)
	s.Len(got, 2)
}

func (s *ServiceSuite) TestCreateTemplateValidation() {
	cases := []struct {
		name   string
		mutate func(in *TemplateInput)
		kind   error
	}{
		{"no weekdays", func(in *TemplateInput) { in.Weekdays = nil }, response.ErrBadRequest},
		{"bad frequency", func(in *TemplateInput) { in.Frequency = "monthly" }, response.ErrBadRequest},
		{"reversed dates", func(in *TemplateInput) { in.EndDate = date(2023, 12, 1) }, response.ErrTimeRangeInvalid},
		{"zero duration", func(in *TemplateInput) { in.DurationHours = 0 }, response.ErrTimeRangeInvalid},
		{"past midnight", func(in *TemplateInput) { in.StartMinute = 23 * 60; in.DurationHours = 2 }, response.ErrTimeRangeInvalid},
		{"client count", func(in *TemplateInput) { in.ClientIDs = []string{"a", "b"} }, response.ErrClientCountOutOfRange},
		{"trainer not attached", func(in *TemplateInput) { in.TrainerID = "trainer-2" }, response.ErrTrainerNotAttached},
	}

	for _, tc := range cases {
		s.Run(tc.name, func() {
			in := s.templateInput()
			tc.mutate(&in)
			_, err := s.svc.CreateTemplate(s.ctx, manager, in)
			s.ErrorIs(err, tc.kind)
		})
	}
}

func (s *ServiceSuite) TestExpandKeepsLocalTimeAcrossDSTChange() {
	berlin, err := time.LoadLocation("Europe/Berlin")
	s.Require().NoError(err)

	s.store.AddCenter(models.Center{ID: "center-berlin", Name: "Berlin", ManagerID: "manager-1", Timezone: "Europe/Berlin", WorkStartHour: 8, WorkEndHour: 22})
	s.store.AddCourt(models.Court{ID: "court-berlin", CenterID: "center-berlin"})
	s.store.AttachTrainer("trainer-1", "center-berlin")

	in := s.templateInput()
	in.CenterID = "center-berlin"
	in.CourtID = "court-berlin"
	// clocks go forward on 2024-03-31
	in.StartDate = date(2024, 3, 30)
	in.EndDate = date(2024, 4, 1)
	in.Weekdays = []time.Weekday{time.Saturday, time.Sunday, time.Monday}

	for _, hour := range []int{10, 21} {
		in.StartMinute = hour * 60
		tpl := s.template(manager, in)

		report, err := s.svc.Expand(s.ctx, manager, tpl.ID, in.StartDate, in.EndDate)
		s.Require().NoError(err)
		s.Empty(report.Skipped)
		s.Len(report.Created, 3)

		got, err := s.store.ListBookings(s.ctx, models.BookingFilter{TemplateID: tpl.ID})
		s.Require().NoError(err)
		s.Require().Len(got, 3)
		for _, b := range got {
			local := b.Start.In(berlin)
			s.Equal(hour, local.Hour(), local.Format(time.RFC3339))
			s.Zero(local.Minute())
			s.Equal(time.Hour, b.End.Sub(b.Start))
		}
	}
}
