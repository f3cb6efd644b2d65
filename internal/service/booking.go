package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"training-service/internal/models"
	"training-service/internal/notify"
	"training-service/pkg/response"
)

type CreateBookingInput struct {
	CenterID       string
	CourtID        string
	TrainerID      string
	TrainingTypeID string
	ClientIDs      []string
	Start          time.Time
	End            time.Time
	// AsDraft keeps the booking out of the approval queue.
	AsDraft bool
}

type RescheduleInput struct {
	Start time.Time
	End   time.Time
	// CourtID is optional; empty keeps the current court.
	CourtID string
	Reason  string
}

type ApproveOptions struct {
	// ApproveTemplate also approves the recurring template the booking was
	// generated from.
	ApproveTemplate bool
}

func initialState(role models.Role) models.BookingState {
	if role == models.RoleTrainer {
		return models.BookingPendingApproval
	}
	return models.BookingConfirmed
}

// restoreState returns the state held before the open request.
func restoreState(b *models.Booking) models.BookingState {
	if b.PriorState.IsActive() {
		return b.PriorState
	}
	return models.BookingConfirmed
}

func invalidTransition(action string, b *models.Booking) error {
	var open string
	switch {
	case b.CancelRequested:
		open = " with an open cancel request"
	case b.RescheduleRequested:
		open = " with an open reschedule request"
	}

	return response.Invalid(response.ErrInvalidStateTransition, "cannot %s booking %s in state %s%s", action, b.ID, b.State, open)
}

func requireReason(reason string) error {
	if strings.TrimSpace(reason) == "" {
		return response.Invalid(response.ErrBadRequest, "reason is required")
	}
	return nil
}

func (s *Service) CreateBooking(ctx context.Context, actor models.Actor, in CreateBookingInput) (*models.Booking, error) {
	const op = "service.CreateBooking"

	center, err := s.store.GetCenter(ctx, in.CenterID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := requireScheduler(actor, center, in.TrainerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	state := initialState(actor.Role)
	if in.AsDraft {
		state = models.BookingDraft
	}

	b := &models.Booking{
		CenterID:       in.CenterID,
		CourtID:        in.CourtID,
		TrainerID:      in.TrainerID,
		TrainingTypeID: in.TrainingTypeID,
		ClientIDs:      in.ClientIDs,
		Start:          in.Start.UTC(),
		End:            in.End.UTC(),
		State:          state,
	}

	if err := s.createBooking(ctx, actor, center, b); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// createBooking validates and persists b in the state it carries. Callers
// check permissions.
func (s *Service) createBooking(ctx context.Context, actor models.Actor, center *models.Center, b *models.Booking) error {
	keys := []string{courtKey(b.CourtID), trainerKey(b.TrainerID)}

	return s.atomically(ctx, "create", keys, func(ctx context.Context, out *outbox) error {
		if b.RecurringID != "" {
			exists, err := s.store.BookingExistsForTemplate(ctx, b.RecurringID, b.Start)
			if err != nil {
				return err
			}
			if exists {
				return response.ErrAlreadyExists
			}
		}

		sc, err := s.validateBooking(ctx, b, "")
		if err != nil {
			return err
		}

		if err := s.rates.Apply(ctx, b); err != nil {
			return err
		}

		now := s.now()
		b.ID = uuid.NewString()
		b.CreatedBy = actor.ID
		b.CreatedAt = now
		b.UpdatedAt = now

		switch b.State {
		case models.BookingPendingApproval:
			out.add(toManager(center, notify.TopicBookingPending, "New session awaits approval",
				describeSession(b, sc.loc), b.ID, b.RecurringID)...)
		case models.BookingConfirmed:
			if b.ApprovedBy == "" {
				b.ApprovedBy = actor.ID
			}
			b.ApprovedAt = &now
			b.NotificationSent = true
			out.add(toParticipants(b, notify.TopicBookingApproved, "Session confirmed", describeSession(b, sc.loc))...)
		}

		return s.store.CreateBooking(ctx, b)
	})
}

// transition locks the booking (plus extra keys), re-reads it for update,
// applies fn and saves the result.
func (s *Service) transition(ctx context.Context, opLabel, id string, extraKeys []string, fn func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error) (*models.Booking, error) {
	_, center, err := s.bookingWithCenter(ctx, id)
	if err != nil {
		return nil, err
	}

	loc, err := centerLocation(center)
	if err != nil {
		return nil, err
	}

	var result *models.Booking
	keys := append([]string{bookingKey(id)}, extraKeys...)

	err = s.atomically(ctx, opLabel, keys, func(ctx context.Context, out *outbox) error {
		b, err := s.store.GetBookingForUpdate(ctx, id)
		if err != nil {
			return err
		}

		if err := fn(ctx, b, loc, out); err != nil {
			return err
		}

		b.UpdatedAt = s.now()
		if err := s.store.UpdateBooking(ctx, b); err != nil {
			return err
		}

		result = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Service) authorizeCenter(ctx context.Context, actor models.Actor, id string) (*models.Booking, *models.Center, error) {
	b, center, err := s.bookingWithCenter(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if err := requireCenterAuthority(actor, center); err != nil {
		return nil, nil, err
	}
	return b, center, nil
}

func (s *Service) Approve(ctx context.Context, actor models.Actor, id string, opts ApproveOptions) (*models.Booking, error) {
	const op = "service.Approve"

	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "approve", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if b.State != models.BookingPendingApproval || b.HasOpenRequest() {
			return invalidTransition("approve", b)
		}

		if err := s.rates.Apply(ctx, b); err != nil {
			return err
		}

		if due := b.DuePerClient(); due > 0 {
			short, err := s.ledger.shortfalls(ctx, b.ClientIDs, due, false)
			if err != nil {
				return err
			}
			if len(short) > 0 {
				return response.InsufficientBalance(short)
			}
		}

		now := s.now()
		b.State = models.BookingConfirmed
		b.ApprovedBy = actor.ID
		b.ApprovedAt = &now
		b.RejectedBy = ""
		b.RejectedAt = nil
		b.RejectionReason = ""
		b.NotificationSent = true

		if opts.ApproveTemplate && b.RecurringID != "" {
			if err := s.markTemplateApproved(ctx, actor, b.RecurringID, now); err != nil {
				return err
			}
		}

		out.add(toParticipants(b, notify.TopicBookingApproved, "Session confirmed", describeSession(b, loc))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) Reject(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error) {
	const op = "service.Reject"

	if err := requireReason(reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "reject", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if b.State != models.BookingPendingApproval || b.HasOpenRequest() {
			return invalidTransition("reject", b)
		}

		now := s.now()
		b.State = models.BookingCancelled
		b.RejectedBy = actor.ID
		b.RejectedAt = &now
		b.RejectionReason = reason

		out.add(toTrainer(b, notify.TopicBookingRejected, "Session rejected",
			fmt.Sprintf("%s. Reason: %s", describeSession(b, loc), reason))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// Cancel cancels a non-terminal booking right away. No money moves since
// nothing is withdrawn before completion.
func (s *Service) Cancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error) {
	const op = "service.Cancel"

	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "cancel", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if b.State.IsTerminal() {
			return invalidTransition("cancel", b)
		}

		now := s.now()
		b.State = models.BookingCancelled
		b.CancelledBy = actor.ID
		b.CancelledAt = &now
		b.CancelRequested = false
		b.ClearRescheduleRequest()
		b.PriorState = ""
		if reason != "" {
			b.CancelReason = reason
		}

		out.add(toParticipants(b, notify.TopicBookingCancelled, "Session cancelled", describeSession(b, loc))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) RequestCancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error) {
	const op = "service.RequestCancel"

	if err := requireReason(reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	current, center, err := s.bookingWithCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireOwnTrainer(actor, current.TrainerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "cancel_request", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.State.IsActive() || b.HasOpenRequest() {
			return invalidTransition("request cancellation of", b)
		}

		now := s.now()
		b.PriorState = b.State
		b.CancelRequested = true
		b.CancelRequestedBy = actor.ID
		b.CancelRequestedAt = &now
		b.CancelReason = reason
		b.State = models.BookingPendingApproval

		out.add(toManager(center, notify.TopicBookingCancelRequested, "Cancellation requested",
			fmt.Sprintf("%s. Reason: %s", describeSession(b, loc), reason), b.ID, b.RecurringID)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) ApproveCancel(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	const op = "service.ApproveCancel"

	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "cancel_approve", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.CancelRequested || b.State.IsTerminal() {
			return invalidTransition("approve cancellation of", b)
		}

		now := s.now()
		b.State = models.BookingCancelled
		b.CancelledBy = actor.ID
		b.CancelledAt = &now
		b.CancelRequested = false
		b.PriorState = ""

		out.add(toParticipants(b, notify.TopicBookingCancelled, "Session cancelled", describeSession(b, loc))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) RejectCancel(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error) {
	const op = "service.RejectCancel"

	if err := requireReason(reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "cancel_reject", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.CancelRequested || b.State.IsTerminal() {
			return invalidTransition("reject cancellation of", b)
		}

		b.State = restoreState(b)
		b.PriorState = ""
		b.ClearCancelRequest()

		out.add(toTrainer(b, notify.TopicBookingCancelRejected, "Cancellation rejected",
			fmt.Sprintf("%s. Reason: %s", describeSession(b, loc), reason))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func rescheduleKeys(b *models.Booking, newCourtID string) []string {
	keys := []string{courtKey(b.CourtID), trainerKey(b.TrainerID)}
	if newCourtID != "" && newCourtID != b.CourtID {
		keys = append(keys, courtKey(newCourtID))
	}
	return keys
}

// candidate is b moved to the new interval and court.
func candidate(b *models.Booking, start, end time.Time, courtID string) *models.Booking {
	c := b.Clone()
	c.Start = start.UTC()
	c.End = end.UTC()
	if courtID != "" {
		c.CourtID = courtID
	}
	return c
}

// validateMove checks the moved booking against every invariant, ignoring
// the booking's own current slot.
func (s *Service) validateMove(ctx context.Context, b, moved *models.Booking) error {
	if !moved.Start.After(s.now()) {
		return response.Invalid(response.ErrTimeRangeInvalid, "new start %s is in the past", moved.Start.Format(time.RFC3339))
	}

	_, err := s.validateBooking(ctx, moved, b.ID)
	return err
}

func (s *Service) RequestReschedule(ctx context.Context, actor models.Actor, id string, in RescheduleInput) (*models.Booking, error) {
	const op = "service.RequestReschedule"

	if err := requireReason(in.Reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	current, center, err := s.bookingWithCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if err := requireOwnTrainer(actor, current.TrainerID); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keys := rescheduleKeys(current, in.CourtID)

	b, err := s.transition(ctx, "reschedule_request", id, keys, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.State.IsActive() || b.HasOpenRequest() {
			return invalidTransition("request reschedule of", b)
		}

		moved := candidate(b, in.Start, in.End, in.CourtID)
		if err := s.validateMove(ctx, b, moved); err != nil {
			return err
		}

		now := s.now()
		b.PriorState = b.State
		b.RescheduleRequested = true
		b.RescheduleRequestedBy = actor.ID
		b.RescheduleRequestedAt = &now
		b.RescheduleReason = in.Reason
		b.NewStart = &moved.Start
		b.NewEnd = &moved.End
		b.NewCourtID = moved.CourtID
		b.State = models.BookingPendingApproval

		out.add(toManager(center, notify.TopicBookingRescheduleRequested, "Reschedule requested",
			fmt.Sprintf("%s -> %s. Reason: %s", describeSession(b, loc), describeSession(moved, loc), in.Reason), b.ID, b.RecurringID)...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// applyMove swaps b onto the validated slot and notifies participants.
func (s *Service) applyMove(ctx context.Context, b, moved *models.Booking, loc *time.Location, out *outbox) error {
	if err := s.rates.Apply(ctx, moved); err != nil {
		return err
	}

	before := describeSession(b, loc)

	b.Start = moved.Start
	b.End = moved.End
	b.CourtID = moved.CourtID
	b.PricePerHour = moved.PricePerHour
	b.TrainerRatePerHour = moved.TrainerRatePerHour
	computeMoney(b)
	b.ReminderSent = false

	if b.RescheduleRequested {
		b.State = restoreState(b)
		b.PriorState = ""
		b.ClearRescheduleRequest()
	}

	out.add(toParticipants(b, notify.TopicBookingRescheduled, "Session rescheduled",
		fmt.Sprintf("%s -> %s", before, describeSession(b, loc)))...)
	return nil
}

func (s *Service) ApproveReschedule(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	const op = "service.ApproveReschedule"

	current, _, err := s.authorizeCenter(ctx, actor, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keys := rescheduleKeys(current, current.NewCourtID)

	b, err := s.transition(ctx, "reschedule_approve", id, keys, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.RescheduleRequested || b.NewStart == nil || b.NewEnd == nil || b.State.IsTerminal() {
			return invalidTransition("approve reschedule of", b)
		}

		moved := candidate(b, *b.NewStart, *b.NewEnd, b.NewCourtID)
		if err := s.validateMove(ctx, b, moved); err != nil {
			return err
		}

		return s.applyMove(ctx, b, moved, loc, out)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

func (s *Service) RejectReschedule(ctx context.Context, actor models.Actor, id, reason string) (*models.Booking, error) {
	const op = "service.RejectReschedule"

	if err := requireReason(reason); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "reschedule_reject", id, nil, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.RescheduleRequested || b.State.IsTerminal() {
			return invalidTransition("reject reschedule of", b)
		}

		b.State = restoreState(b)
		b.PriorState = ""
		b.ClearRescheduleRequest()

		out.add(toTrainer(b, notify.TopicBookingRescheduleRejected, "Reschedule rejected",
			fmt.Sprintf("%s. Reason: %s", describeSession(b, loc), reason))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// Reschedule moves an active booking immediately. A pending reschedule
// request, if any, is dropped.
func (s *Service) Reschedule(ctx context.Context, actor models.Actor, id string, in RescheduleInput) (*models.Booking, error) {
	const op = "service.Reschedule"

	current, _, err := s.authorizeCenter(ctx, actor, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	keys := rescheduleKeys(current, in.CourtID)

	b, err := s.transition(ctx, "reschedule", id, keys, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if !b.State.IsActive() || b.CancelRequested {
			return invalidTransition("reschedule", b)
		}

		moved := candidate(b, in.Start, in.End, in.CourtID)
		if err := s.validateMove(ctx, b, moved); err != nil {
			return err
		}

		return s.applyMove(ctx, b, moved, loc, out)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// Complete withdraws the session price from every client and closes the
// booking. All balances are checked before the first withdrawal.
func (s *Service) Complete(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	const op = "service.Complete"

	current, center, err := s.bookingWithCenter(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if actor.Role != models.RoleSystem {
		if err := requireCenterAuthority(actor, center); err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
	}

	keys := make([]string, 0, len(current.ClientIDs))
	for _, c := range current.ClientIDs {
		keys = append(keys, clientKey(c))
	}

	b, err := s.transition(ctx, "complete", id, keys, func(ctx context.Context, b *models.Booking, loc *time.Location, out *outbox) error {
		if b.State != models.BookingConfirmed {
			return invalidTransition("complete", b)
		}

		due := b.DuePerClient()
		if due > 0 {
			short, err := s.ledger.shortfalls(ctx, b.ClientIDs, due, true)
			if err != nil {
				return err
			}
			if len(short) > 0 {
				return response.InsufficientBalance(short)
			}

			desc := fmt.Sprintf("Training session %s", describeSession(b, loc))
			for _, clientID := range uniqueSorted(b.ClientIDs) {
				if _, err := s.ledger.withdraw(ctx, clientID, due, b.ID, desc); err != nil {
					return err
				}
			}
		}

		now := s.now()
		b.State = models.BookingCompleted
		b.CompletedAt = &now

		out.add(toClients(b, notify.TopicBookingCompleted, "Session completed",
			fmt.Sprintf("%s. Charged: %d", describeSession(b, loc), due))...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}

// SetDraft rolls a non-terminal booking back to draft and clears approval
// and any open request.
func (s *Service) SetDraft(ctx context.Context, actor models.Actor, id string) (*models.Booking, error) {
	const op = "service.SetDraft"

	if _, _, err := s.authorizeCenter(ctx, actor, id); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	b, err := s.transition(ctx, "draft", id, nil, func(ctx context.Context, b *models.Booking, _ *time.Location, _ *outbox) error {
		if b.State.IsTerminal() {
			return invalidTransition("reset to draft", b)
		}

		b.State = models.BookingDraft
		b.ApprovedBy = ""
		b.ApprovedAt = nil
		b.PriorState = ""
		b.ClearCancelRequest()
		b.ClearRescheduleRequest()
		b.NotificationSent = false
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return b, nil
}
