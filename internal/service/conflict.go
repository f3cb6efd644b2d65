package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"training-service/internal/models"
	"training-service/pkg/response"
)

// ConflictDetector answers whether an active booking holds a resource
// during a half-open interval. It must run in the same transaction as the
// write it guards.
type ConflictDetector struct {
	store BookingStore
}

func (d ConflictDetector) HasConflict(ctx context.Context, kind models.ResourceKind, resourceID string, start, end time.Time, excludeID string) (bool, error) {
	const op = "service.ConflictDetector.HasConflict"

	found, err := d.store.FindOverlapping(ctx, kind, resourceID, start, end, excludeID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return len(found) > 0, nil
}

// Check verifies both the court and the trainer of b are free.
func (d ConflictDetector) Check(ctx context.Context, b *models.Booking, excludeID string) error {
	busy, err := d.HasConflict(ctx, models.ResourceCourt, b.CourtID, b.Start, b.End, excludeID)
	if err != nil {
		return err
	}
	if busy {
		return response.Invalid(response.ErrResourceOverlap, "court busy: court %s is already booked for %s", b.CourtID, formatInterval(b.Start, b.End))
	}

	busy, err = d.HasConflict(ctx, models.ResourceTrainer, b.TrainerID, b.Start, b.End, excludeID)
	if err != nil {
		return err
	}
	if busy {
		return response.Invalid(response.ErrResourceOverlap, "trainer busy: trainer %s already has a session during %s", b.TrainerID, formatInterval(b.Start, b.End))
	}

	return nil
}

// Overlaps is the half-open interval test used for every resource.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

func formatInterval(start, end time.Time) string {
	return fmt.Sprintf("%s-%s", start.Format("2006-01-02 15:04"), end.Format("15:04"))
}

// slotContext is the directory data a booking is validated against.
type slotContext struct {
	center *models.Center
	court  *models.Court
	ttype  *models.TrainingType
	loc    *time.Location
}

func (s *Service) loadSlotContext(ctx context.Context, centerID, courtID, trainingTypeID string) (*slotContext, error) {
	const op = "service.loadSlotContext"

	center, err := s.store.GetCenter(ctx, centerID)
	if err != nil {
		return nil, fmt.Errorf("%s: center %s: %w", op, centerID, err)
	}

	court, err := s.store.GetCourt(ctx, courtID)
	if err != nil {
		return nil, fmt.Errorf("%s: court %s: %w", op, courtID, err)
	}
	if court.CenterID != center.ID {
		return nil, response.Invalid(response.ErrBadRequest, "court %s does not belong to center %s", court.ID, center.ID)
	}

	ttype, err := s.store.GetTrainingType(ctx, trainingTypeID)
	if err != nil {
		return nil, fmt.Errorf("%s: training type %s: %w", op, trainingTypeID, err)
	}

	loc, err := centerLocation(center)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &slotContext{center: center, court: court, ttype: ttype, loc: loc}, nil
}

func centerLocation(c *models.Center) (*time.Location, error) {
	if c.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.Timezone)
}

// validateBooking checks every booking invariant, conflicts included.
func (s *Service) validateBooking(ctx context.Context, b *models.Booking, excludeID string) (*slotContext, error) {
	sc, err := s.loadSlotContext(ctx, b.CenterID, b.CourtID, b.TrainingTypeID)
	if err != nil {
		return nil, err
	}

	if err := checkTimeRange(b.Start, b.End, sc.loc); err != nil {
		return nil, err
	}

	if err := checkWorkHours(b.Start, b.End, sc); err != nil {
		return nil, err
	}

	if err := checkClients(b.ClientIDs, sc.ttype); err != nil {
		return nil, err
	}

	if err := s.checkTrainerAttached(ctx, b.TrainerID, b.CenterID); err != nil {
		return nil, err
	}

	if err := s.conflicts.Check(ctx, b, excludeID); err != nil {
		return nil, err
	}

	return sc, nil
}

func checkTimeRange(start, end time.Time, loc *time.Location) error {
	if !start.Before(end) {
		return response.Invalid(response.ErrTimeRangeInvalid, "start %s must be before end %s", start.Format(time.RFC3339), end.Format(time.RFC3339))
	}

	if end.Sub(start)%time.Hour != 0 {
		return response.Invalid(response.ErrTimeRangeInvalid, "duration %s is not a whole number of hours", end.Sub(start))
	}

	// конец допускается ровно в полночь следующего дня
	nextMidnight := truncateToDate(start.In(loc), loc).AddDate(0, 0, 1)
	if end.After(nextMidnight) {
		return response.Invalid(response.ErrTimeRangeInvalid, "session must start and end on the same day")
	}

	return nil
}

// workWindow is the intersection of center and court hours. A court with no
// hours of its own inherits the center's.
func workWindow(center *models.Center, court *models.Court) (int, int) {
	from, to := center.WorkStartHour, center.WorkEndHour
	if to <= 0 {
		to = 24
	}

	if court != nil && court.WorkEndHour > court.WorkStartHour {
		from = max(from, court.WorkStartHour)
		to = min(to, court.WorkEndHour)
	}

	return from, to
}

func checkWorkHours(start, end time.Time, sc *slotContext) error {
	from, to := workWindow(sc.center, sc.court)

	localStart := start.In(sc.loc)
	dayStart := truncateToDate(localStart, sc.loc)

	startMin := int(localStart.Sub(dayStart) / time.Minute)
	endMin := int(end.In(sc.loc).Sub(dayStart) / time.Minute)

	if startMin < from*60 || endMin > to*60 {
		return response.Invalid(response.ErrOutsideWorkHours, "outside work hours: %s is outside %02d:00-%02d:00",
			formatInterval(localStart, end.In(sc.loc)), from, to)
	}

	return nil
}

func checkClients(clientIDs []string, ttype *models.TrainingType) error {
	seen := make(map[string]struct{}, len(clientIDs))
	for _, id := range clientIDs {
		if id == "" {
			return response.Invalid(response.ErrBadRequest, "client id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return response.Invalid(response.ErrBadRequest, "client %s is listed twice", id)
		}
		seen[id] = struct{}{}
	}

	n := len(clientIDs)
	if n == 0 || n < ttype.MinClients || (ttype.MaxClients > 0 && n > ttype.MaxClients) {
		return response.Invalid(response.ErrClientCountOutOfRange, "%s training takes %d..%d clients, got %d",
			ttype.Code, ttype.MinClients, ttype.MaxClients, n)
	}

	return nil
}

func (s *Service) checkTrainerAttached(ctx context.Context, trainerID, centerID string) error {
	const op = "service.checkTrainerAttached"

	ok, err := s.store.IsTrainerAttached(ctx, trainerID, centerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if !ok {
		return response.Invalid(response.ErrTrainerNotAttached, "trainer %s is not attached to center %s", trainerID, centerID)
	}

	return nil
}

// truncateToDate returns midnight of t's calendar day in loc.
func truncateToDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

func uniqueSorted(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
