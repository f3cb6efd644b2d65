package service

import (
	"context"
	"fmt"
	"log/slog"

	"training-service/internal/metrics"
	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/pkg/sl"
)

const (
	SweepAutoComplete = "auto_complete"
	SweepReminder     = "reminder"
)

type SweepSkip struct {
	BookingID string
	Reason    string
}

type SweepReport struct {
	Sweep     string
	Processed int
	Succeeded []string
	Skipped   []SweepSkip
}

func (r *SweepReport) ok(id string) {
	r.Processed++
	r.Succeeded = append(r.Succeeded, id)
	metrics.SweepItems.WithLabelValues(r.Sweep, "ok").Inc()
}

func (r *SweepReport) skip(id, reason string) {
	r.Processed++
	r.Skipped = append(r.Skipped, SweepSkip{BookingID: id, Reason: reason})
	metrics.SweepItems.WithLabelValues(r.Sweep, "skipped").Inc()
}

// RunAutoComplete completes every confirmed booking that has ended. A
// booking whose clients cannot pay stays confirmed for a later run.
func (s *Service) RunAutoComplete(ctx context.Context) (*SweepReport, error) {
	const op = "service.RunAutoComplete"

	log := s.log.With(slog.String("op", op))

	due, err := s.store.ListDueForCompletion(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	report := &SweepReport{Sweep: SweepAutoComplete, Succeeded: []string{}, Skipped: []SweepSkip{}}

	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}

		if _, err := s.Complete(ctx, models.SystemActor(), b.ID); err != nil {
			log.Warn("booking not completed", slog.String("booking_id", b.ID), sl.Err(err))
			report.skip(b.ID, skipReason(err))
			continue
		}

		report.ok(b.ID)
	}

	if report.Processed > 0 {
		log.Info("auto-complete sweep finished",
			slog.Int("completed", len(report.Succeeded)),
			slog.Int("skipped", len(report.Skipped)),
		)
	}

	return report, nil
}

// RunReminderSweep reminds participants of confirmed sessions starting
// within the configured lead. The reminder flag is set atomically, so each
// booking is reminded once however many sweeps run.
func (s *Service) RunReminderSweep(ctx context.Context) (*SweepReport, error) {
	const op = "service.RunReminderSweep"

	log := s.log.With(slog.String("op", op))

	now := s.now()
	due, err := s.store.ListDueForReminder(ctx, now, now.Add(s.cfg.ReminderLead))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	report := &SweepReport{Sweep: SweepReminder, Succeeded: []string{}, Skipped: []SweepSkip{}}
	centers := make(map[string]*models.Center)

	for _, b := range due {
		if err := ctx.Err(); err != nil {
			return report, fmt.Errorf("%s: %w", op, err)
		}

		center, ok := centers[b.CenterID]
		if !ok {
			center, err = s.store.GetCenter(ctx, b.CenterID)
			if err != nil {
				log.Warn("center lookup failed", slog.String("booking_id", b.ID), sl.Err(err))
				report.skip(b.ID, err.Error())
				continue
			}
			centers[b.CenterID] = center
		}

		loc, err := centerLocation(center)
		if err != nil {
			report.skip(b.ID, err.Error())
			continue
		}

		var marked bool
		err = s.atomically(ctx, SweepReminder, []string{bookingKey(b.ID)}, func(ctx context.Context, out *outbox) error {
			var err error
			marked, err = s.store.MarkReminderSent(ctx, b.ID)
			if err != nil || !marked {
				return err
			}

			fresh, err := s.store.GetBooking(ctx, b.ID)
			if err != nil {
				return err
			}

			out.add(toParticipants(fresh, notify.TopicBookingReminder, "Upcoming session", describeSession(fresh, loc))...)
			return nil
		})
		if err != nil {
			log.Warn("reminder not sent", slog.String("booking_id", b.ID), sl.Err(err))
			report.skip(b.ID, skipReason(err))
			continue
		}
		if !marked {
			report.skip(b.ID, "already reminded")
			continue
		}

		report.ok(b.ID)
	}

	return report, nil
}
