package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"training-service/internal/metrics"
	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/pkg/response"
	"training-service/pkg/sl"
)

const dateLayout = "2006-01-02"

type TemplateInput struct {
	CenterID       string
	CourtID        string
	TrainerID      string
	TrainingTypeID string
	ClientIDs      []string
	StartDate      time.Time
	EndDate        time.Time
	Weekdays       []time.Weekday
	// StartMinute is the session start as minutes after local midnight.
	StartMinute   int
	DurationHours int
	Frequency     models.Frequency
}

type ExpandSkip struct {
	Date   string
	Reason string
}

type ExpandReport struct {
	TemplateID string
	Created    []string
	Skipped    []ExpandSkip
}

// civilDate drops the clock and keeps the calendar date as UTC midnight.
func civilDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func mondayOf(d time.Time) time.Time {
	return d.AddDate(0, 0, -((int(d.Weekday()) + 6) % 7))
}

// weeksBetween counts calendar weeks (Monday based) from a to b. Unlike ISO
// week numbers it stays correct across year boundaries.
func weeksBetween(a, b time.Time) int {
	days := int(mondayOf(civilDate(b)).Sub(mondayOf(civilDate(a))).Hours() / 24)
	return days / 7
}

// expansionDates lists the template's dates within [from, to], clipped to
// the template's own range.
func expansionDates(t *models.RecurringTemplate, from, to time.Time) []time.Time {
	start := civilDate(from)
	if tplStart := civilDate(t.StartDate); start.Before(tplStart) {
		start = tplStart
	}
	end := civilDate(to)
	if tplEnd := civilDate(t.EndDate); end.After(tplEnd) {
		end = tplEnd
	}

	var out []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if !slices.Contains(t.Weekdays, d.Weekday()) {
			continue
		}
		if t.Frequency == models.FrequencyBiweekly && weeksBetween(t.StartDate, d)%2 != 0 {
			continue
		}
		out = append(out, d)
	}

	return out
}

func validateTemplateShape(in TemplateInput) error {
	switch in.Frequency {
	case models.FrequencyWeekly, models.FrequencyBiweekly:
	default:
		return response.Invalid(response.ErrBadRequest, "unknown frequency %q", in.Frequency)
	}

	if len(in.Weekdays) == 0 {
		return response.Invalid(response.ErrBadRequest, "at least one weekday is required")
	}
	for _, wd := range in.Weekdays {
		if wd < time.Sunday || wd > time.Saturday {
			return response.Invalid(response.ErrBadRequest, "invalid weekday %d", wd)
		}
	}

	if civilDate(in.EndDate).Before(civilDate(in.StartDate)) {
		return response.Invalid(response.ErrTimeRangeInvalid, "end date %s is before start date %s",
			in.EndDate.Format(dateLayout), in.StartDate.Format(dateLayout))
	}

	if in.DurationHours <= 0 {
		return response.Invalid(response.ErrTimeRangeInvalid, "duration must be at least one hour")
	}
	if in.StartMinute < 0 || in.StartMinute+in.DurationHours*60 > 24*60 {
		return response.Invalid(response.ErrTimeRangeInvalid, "session must start and end on the same day")
	}

	return nil
}

func (s *Service) CreateTemplate(ctx context.Context, actor models.Actor, in TemplateInput) (*models.RecurringTemplate, error) {
	const op = "service.CreateTemplate"

	if in.Frequency == "" {
		in.Frequency = models.FrequencyWeekly
	}

	center, err := s.store.GetCenter(ctx, in.CenterID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireScheduler(actor, center, in.TrainerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := validateTemplateShape(in); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	sc, err := s.loadSlotContext(ctx, in.CenterID, in.CourtID, in.TrainingTypeID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := checkClients(in.ClientIDs, sc.ttype); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := s.checkTrainerAttached(ctx, in.TrainerID, in.CenterID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	weekdays := slices.Clone(in.Weekdays)
	slices.Sort(weekdays)

	now := s.now()
	t := &models.RecurringTemplate{
		ID:             uuid.NewString(),
		CenterID:       in.CenterID,
		CourtID:        in.CourtID,
		TrainerID:      in.TrainerID,
		TrainingTypeID: in.TrainingTypeID,
		ClientIDs:      slices.Clone(in.ClientIDs),
		StartDate:      civilDate(in.StartDate),
		EndDate:        civilDate(in.EndDate),
		Weekdays:       slices.Compact(weekdays),
		StartMinute:    in.StartMinute,
		DurationHours:  in.DurationHours,
		Frequency:      in.Frequency,
		Active:         true,
		CreatedBy:      actor.ID,
		CreatedAt:      now,
	}

	if actor.Role != models.RoleTrainer {
		t.Approved = true
		t.ApprovedBy = actor.ID
		t.ApprovedAt = &now
	}

	err = s.atomically(ctx, "template_create", nil, func(ctx context.Context, out *outbox) error {
		if !t.Approved {
			out.add(toManager(center, notify.TopicTemplatePending, "New recurring schedule awaits approval",
				fmt.Sprintf("trainer %s, court %s, %s..%s", t.TrainerID, t.CourtID,
					t.StartDate.Format(dateLayout), t.EndDate.Format(dateLayout)), "", t.ID)...)
		}
		return s.store.CreateRecurringTemplate(ctx, t)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

func (s *Service) GetTemplate(ctx context.Context, id string) (*models.RecurringTemplate, error) {
	const op = "service.GetTemplate"

	t, err := s.store.GetRecurringTemplate(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return t, nil
}

func (s *Service) templateWithCenter(ctx context.Context, id string) (*models.RecurringTemplate, *models.Center, error) {
	t, err := s.store.GetRecurringTemplate(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	center, err := s.store.GetCenter(ctx, t.CenterID)
	if err != nil {
		return nil, nil, err
	}

	return t, center, nil
}

// ApproveTemplate approves the template itself. Instances expanded
// afterwards are created confirmed; existing instances keep their state.
func (s *Service) ApproveTemplate(ctx context.Context, actor models.Actor, id string) (*models.RecurringTemplate, error) {
	const op = "service.ApproveTemplate"

	_, center, err := s.templateWithCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireCenterAuthority(actor, center); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result *models.RecurringTemplate
	err = s.atomically(ctx, "template_approve", []string{templateKey(id)}, func(ctx context.Context, _ *outbox) error {
		t, err := s.store.GetRecurringTemplate(ctx, id)
		if err != nil {
			return err
		}
		if !t.Active {
			return response.Invalid(response.ErrInvalidStateTransition, "template %s is inactive", id)
		}

		price, err := s.rates.PriceFor(ctx, t.CenterID, t.TrainingTypeID)
		if err != nil {
			return err
		}
		if due := price * int64(t.DurationHours); due > 0 {
			short, err := s.ledger.shortfalls(ctx, t.ClientIDs, due, false)
			if err != nil {
				return err
			}
			if len(short) > 0 {
				return response.InsufficientBalance(short)
			}
		}

		if err := s.markTemplateApproved(ctx, actor, id, s.now()); err != nil {
			return err
		}

		result, err = s.store.GetRecurringTemplate(ctx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

func (s *Service) markTemplateApproved(ctx context.Context, actor models.Actor, id string, now time.Time) error {
	t, err := s.store.GetRecurringTemplate(ctx, id)
	if err != nil {
		return err
	}
	if t.Approved {
		return nil
	}

	t.Approved = true
	t.ApprovedBy = actor.ID
	t.ApprovedAt = &now

	return s.store.UpdateRecurringTemplate(ctx, t)
}

// DeactivateTemplate stops further expansion. Generated bookings stay.
func (s *Service) DeactivateTemplate(ctx context.Context, actor models.Actor, id string) (*models.RecurringTemplate, error) {
	const op = "service.DeactivateTemplate"

	t, center, err := s.templateWithCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireScheduler(actor, center, t.TrainerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var result *models.RecurringTemplate
	err = s.atomically(ctx, "template_deactivate", []string{templateKey(id)}, func(ctx context.Context, _ *outbox) error {
		t, err := s.store.GetRecurringTemplate(ctx, id)
		if err != nil {
			return err
		}

		t.Active = false
		if err := s.store.UpdateRecurringTemplate(ctx, t); err != nil {
			return err
		}

		result = t
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return result, nil
}

// instanceState is the state of a generated booking. Unapproved templates
// follow the direct creation rule; the system actor cannot approve.
func instanceState(t *models.RecurringTemplate, actor models.Actor) models.BookingState {
	if t.Approved {
		return models.BookingConfirmed
	}
	if actor.Role == models.RoleSystem {
		return models.BookingPendingApproval
	}
	return initialState(actor.Role)
}

// Expand creates the template's sessions in [from, to]. Dates that already
// have an instance, collide, or fall outside work hours are skipped with a
// reason; a failing date never stops the others.
func (s *Service) Expand(ctx context.Context, actor models.Actor, templateID string, from, to time.Time) (*ExpandReport, error) {
	const op = "service.Expand"

	log := s.log.With(slog.String("op", op), slog.String("template_id", templateID))

	t, center, err := s.templateWithCenter(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if actor.Role != models.RoleSystem {
		if err := requireScheduler(actor, center, t.TrainerID); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}
	if !t.Active {
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrInvalidStateTransition, "template %s is inactive", t.ID))
	}
	if civilDate(to).Before(civilDate(from)) {
		return nil, fmt.Errorf("%s: %w", op, response.Invalid(response.ErrTimeRangeInvalid, "range end is before range start"))
	}

	loc, err := centerLocation(center)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	state := instanceState(t, actor)
	report := &ExpandReport{TemplateID: t.ID, Created: []string{}, Skipped: []ExpandSkip{}}

	for _, d := range expansionDates(t, from, to) {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}

		start := time.Date(d.Year(), d.Month(), d.Day(), t.StartMinute/60, t.StartMinute%60, 0, 0, loc)

		b := &models.Booking{
			CenterID:       t.CenterID,
			CourtID:        t.CourtID,
			TrainerID:      t.TrainerID,
			TrainingTypeID: t.TrainingTypeID,
			ClientIDs:      slices.Clone(t.ClientIDs),
			Start:          start.UTC(),
			End:            start.Add(time.Duration(t.DurationHours) * time.Hour).UTC(),
			State:          state,
			RecurringID:    t.ID,
		}
		if t.Approved {
			b.ApprovedBy = t.ApprovedBy
		}

		err := s.createBooking(ctx, actor, center, b)
		if err == nil {
			report.Created = append(report.Created, b.ID)
			metrics.ExpandedDates.WithLabelValues("created").Inc()
			continue
		}

		reason := skipReason(err)
		report.Skipped = append(report.Skipped, ExpandSkip{Date: d.Format(dateLayout), Reason: reason})
		metrics.ExpandedDates.WithLabelValues("skipped").Inc()

		if !errors.Is(err, response.ErrAlreadyExists) {
			log.Warn("date skipped", slog.String("date", d.Format(dateLayout)), sl.Err(err))
		}
	}

	return report, nil
}

func skipReason(err error) string {
	if errors.Is(err, response.ErrAlreadyExists) {
		return "already exists"
	}

	var verr *response.ValidationError
	if errors.As(err, &verr) && verr.Reason != "" {
		return verr.Reason
	}

	return err.Error()
}
