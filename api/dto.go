package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"training-service/internal/models"
	"training-service/internal/service"
)

const DateLayout = "2006-01-02"

// Bookings

type BookingRequest struct {
	CenterID       string    `json:"center_id"`
	CourtID        string    `json:"court_id"`
	TrainerID      string    `json:"trainer_id"`
	TrainingTypeID string    `json:"training_type_id"`
	ClientIDs      []string  `json:"client_ids"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	Draft          bool      `json:"draft,omitempty"`
}

func (r BookingRequest) Input() service.CreateBookingInput {
	return service.CreateBookingInput{
		CenterID:       r.CenterID,
		CourtID:        r.CourtID,
		TrainerID:      r.TrainerID,
		TrainingTypeID: r.TrainingTypeID,
		ClientIDs:      r.ClientIDs,
		Start:          r.Start,
		End:            r.End,
		AsDraft:        r.Draft,
	}
}

type ReasonRequest struct {
	Reason string `json:"reason"`
}

type ApproveRequest struct {
	ApproveTemplate bool `json:"approve_template,omitempty"`
}

type RescheduleRequest struct {
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	CourtID string    `json:"court_id,omitempty"`
	Reason  string    `json:"reason,omitempty"`
}

func (r RescheduleRequest) Input() service.RescheduleInput {
	return service.RescheduleInput{Start: r.Start, End: r.End, CourtID: r.CourtID, Reason: r.Reason}
}

type ChangeRequest struct {
	RequestedBy string     `json:"requested_by"`
	RequestedAt *time.Time `json:"requested_at,omitempty"`
	Reason      string     `json:"reason"`
	NewStart    *time.Time `json:"new_start,omitempty"`
	NewEnd      *time.Time `json:"new_end,omitempty"`
	NewCourtID  string     `json:"new_court_id,omitempty"`
}

type BookingResponse struct {
	ID             string     `json:"id"`
	CenterID       string     `json:"center_id"`
	CourtID        string     `json:"court_id"`
	TrainerID      string     `json:"trainer_id"`
	TrainingTypeID string     `json:"training_type_id"`
	ClientIDs      []string   `json:"client_ids"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	State          string     `json:"state"`
	RecurringID    string     `json:"recurring_id,omitempty"`
	CreatedBy      string     `json:"created_by"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	RejectedBy     string     `json:"rejected_by,omitempty"`
	RejectionNote  string     `json:"rejection_reason,omitempty"`
	CancelledBy    string     `json:"cancelled_by,omitempty"`
	CancelledAt    *time.Time `json:"cancelled_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`

	CancelRequest     *ChangeRequest `json:"cancel_request,omitempty"`
	RescheduleRequest *ChangeRequest `json:"reschedule_request,omitempty"`

	PricePerHour       int64 `json:"price_per_hour"`
	TrainerRatePerHour int64 `json:"trainer_rate_per_hour"`
	TotalPrice         int64 `json:"total_price"`
	TrainerPay         int64 `json:"trainer_pay"`
	Profit             int64 `json:"profit"`

	ReminderSent bool      `json:"reminder_sent"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func Booking(b *models.Booking) BookingResponse {
	out := BookingResponse{
		ID:                 b.ID,
		CenterID:           b.CenterID,
		CourtID:            b.CourtID,
		TrainerID:          b.TrainerID,
		TrainingTypeID:     b.TrainingTypeID,
		ClientIDs:          b.ClientIDs,
		Start:              b.Start,
		End:                b.End,
		State:              string(b.State),
		RecurringID:        b.RecurringID,
		CreatedBy:          b.CreatedBy,
		ApprovedBy:         b.ApprovedBy,
		ApprovedAt:         b.ApprovedAt,
		RejectedBy:         b.RejectedBy,
		RejectionNote:      b.RejectionReason,
		CancelledBy:        b.CancelledBy,
		CancelledAt:        b.CancelledAt,
		CompletedAt:        b.CompletedAt,
		PricePerHour:       b.PricePerHour,
		TrainerRatePerHour: b.TrainerRatePerHour,
		TotalPrice:         b.TotalPrice,
		TrainerPay:         b.TrainerPay,
		Profit:             b.Profit,
		ReminderSent:       b.ReminderSent,
		CreatedAt:          b.CreatedAt,
		UpdatedAt:          b.UpdatedAt,
	}

	if b.CancelRequested {
		out.CancelRequest = &ChangeRequest{
			RequestedBy: b.CancelRequestedBy,
			RequestedAt: b.CancelRequestedAt,
			Reason:      b.CancelReason,
		}
	}
	if b.RescheduleRequested {
		out.RescheduleRequest = &ChangeRequest{
			RequestedBy: b.RescheduleRequestedBy,
			RequestedAt: b.RescheduleRequestedAt,
			Reason:      b.RescheduleReason,
			NewStart:    b.NewStart,
			NewEnd:      b.NewEnd,
			NewCourtID:  b.NewCourtID,
		}
	}

	return out
}

func Bookings(bs []*models.Booking) []BookingResponse {
	out := make([]BookingResponse, 0, len(bs))
	for _, b := range bs {
		out = append(out, Booking(b))
	}
	return out
}

// Recurring templates

// Weekday accepts 0..6 (Sunday = 0) or an English day name, full or short.
type Weekday time.Weekday

func (d *Weekday) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var n int
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("weekday must be a number or a name")
		}
		raw = strconv.Itoa(n)
	}

	wd, ok := ParseWeekday(raw)
	if !ok {
		return fmt.Errorf("unknown weekday %q", raw)
	}

	*d = Weekday(wd)
	return nil
}

func ParseWeekday(s string) (time.Weekday, bool) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return 0, false
	}

	if n, err := strconv.Atoi(s); err == nil {
		if n >= 0 && n <= 6 {
			return time.Weekday(n), true
		}
		return 0, false
	}

	switch s {
	case "sun", "sunday":
		return time.Sunday, true
	case "mon", "monday":
		return time.Monday, true
	case "tue", "tues", "tuesday":
		return time.Tuesday, true
	case "wed", "wednesday":
		return time.Wednesday, true
	case "thu", "thur", "thursday":
		return time.Thursday, true
	case "fri", "friday":
		return time.Friday, true
	case "sat", "saturday":
		return time.Saturday, true
	default:
		return 0, false
	}
}

type TemplateRequest struct {
	CenterID       string    `json:"center_id"`
	CourtID        string    `json:"court_id"`
	TrainerID      string    `json:"trainer_id"`
	TrainingTypeID string    `json:"training_type_id"`
	ClientIDs      []string  `json:"client_ids"`
	StartDate      string    `json:"start_date"`
	EndDate        string    `json:"end_date"`
	Weekdays       []Weekday `json:"weekdays"`
	StartTime      string    `json:"start_time"`
	DurationHours  int       `json:"duration_hours"`
	Frequency      string    `json:"frequency,omitempty"`
}

func (r TemplateRequest) Input() (service.TemplateInput, error) {
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return service.TemplateInput{}, fmt.Errorf("start_date: %w", err)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return service.TemplateInput{}, fmt.Errorf("end_date: %w", err)
	}
	clock, err := time.Parse("15:04", r.StartTime)
	if err != nil {
		return service.TemplateInput{}, fmt.Errorf("start_time: %w", err)
	}

	days := make([]time.Weekday, 0, len(r.Weekdays))
	for _, d := range r.Weekdays {
		days = append(days, time.Weekday(d))
	}

	return service.TemplateInput{
		CenterID:       r.CenterID,
		CourtID:        r.CourtID,
		TrainerID:      r.TrainerID,
		TrainingTypeID: r.TrainingTypeID,
		ClientIDs:      r.ClientIDs,
		StartDate:      start,
		EndDate:        end,
		Weekdays:       days,
		StartMinute:    clock.Hour()*60 + clock.Minute(),
		DurationHours:  r.DurationHours,
		Frequency:      models.Frequency(r.Frequency),
	}, nil
}

type TemplateResponse struct {
	ID             string     `json:"id"`
	CenterID       string     `json:"center_id"`
	CourtID        string     `json:"court_id"`
	TrainerID      string     `json:"trainer_id"`
	TrainingTypeID string     `json:"training_type_id"`
	ClientIDs      []string   `json:"client_ids"`
	StartDate      string     `json:"start_date"`
	EndDate        string     `json:"end_date"`
	Weekdays       []string   `json:"weekdays"`
	StartTime      string     `json:"start_time"`
	DurationHours  int        `json:"duration_hours"`
	Frequency      string     `json:"frequency"`
	Active         bool       `json:"active"`
	Approved       bool       `json:"approved"`
	CreatedBy      string     `json:"created_by"`
	ApprovedBy     string     `json:"approved_by,omitempty"`
	ApprovedAt     *time.Time `json:"approved_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

func Template(t *models.RecurringTemplate) TemplateResponse {
	days := make([]string, 0, len(t.Weekdays))
	for _, d := range t.Weekdays {
		days = append(days, strings.ToLower(d.String()))
	}

	return TemplateResponse{
		ID:             t.ID,
		CenterID:       t.CenterID,
		CourtID:        t.CourtID,
		TrainerID:      t.TrainerID,
		TrainingTypeID: t.TrainingTypeID,
		ClientIDs:      t.ClientIDs,
		StartDate:      t.StartDate.Format(DateLayout),
		EndDate:        t.EndDate.Format(DateLayout),
		Weekdays:       days,
		StartTime:      fmt.Sprintf("%02d:%02d", t.StartMinute/60, t.StartMinute%60),
		DurationHours:  t.DurationHours,
		Frequency:      string(t.Frequency),
		Active:         t.Active,
		Approved:       t.Approved,
		CreatedBy:      t.CreatedBy,
		ApprovedBy:     t.ApprovedBy,
		ApprovedAt:     t.ApprovedAt,
		CreatedAt:      t.CreatedAt,
	}
}

type ExpandRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

func (r ExpandRequest) Range() (time.Time, time.Time, error) {
	from, err := time.Parse(DateLayout, r.From)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("from: %w", err)
	}
	to, err := time.Parse(DateLayout, r.To)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("to: %w", err)
	}
	return from, to, nil
}

type SkippedDate struct {
	Date   string `json:"date"`
	Reason string `json:"reason"`
}

type ExpandResponse struct {
	TemplateID string        `json:"template_id"`
	Created    []string      `json:"created"`
	Skipped    []SkippedDate `json:"skipped"`
}

func Expansion(r *service.ExpandReport) ExpandResponse {
	out := ExpandResponse{
		TemplateID: r.TemplateID,
		Created:    r.Created,
		Skipped:    make([]SkippedDate, 0, len(r.Skipped)),
	}
	if out.Created == nil {
		out.Created = []string{}
	}
	for _, s := range r.Skipped {
		out.Skipped = append(out.Skipped, SkippedDate{Date: s.Date, Reason: s.Reason})
	}
	return out
}

// Ledger

type MoneyRequest struct {
	Amount      int64  `json:"amount"`
	BookingID   string `json:"booking_id,omitempty"`
	Description string `json:"description,omitempty"`
}

type TransactionResponse struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Type        string    `json:"type"`
	Amount      int64     `json:"amount"`
	BookingID   string    `json:"booking_id,omitempty"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

func Transaction(tx models.LedgerTransaction) TransactionResponse {
	return TransactionResponse{
		ID:          tx.ID,
		ClientID:    tx.ClientID,
		Type:        string(tx.Type),
		Amount:      tx.Amount,
		BookingID:   tx.BookingID,
		Description: tx.Description,
		CreatedAt:   tx.CreatedAt,
	}
}

type BalanceResponse struct {
	ClientID     string                `json:"client_id"`
	Balance      int64                 `json:"balance"`
	Replayed     int64                 `json:"replayed"`
	Consistent   bool                  `json:"consistent"`
	Transactions []TransactionResponse `json:"transactions"`
}

func Balance(v *service.BalanceView) BalanceResponse {
	out := BalanceResponse{
		ClientID:     v.ClientID,
		Balance:      v.Balance,
		Replayed:     v.Replayed,
		Consistent:   v.Drift == 0,
		Transactions: make([]TransactionResponse, 0, len(v.Transactions)),
	}
	for _, tx := range v.Transactions {
		out.Transactions = append(out.Transactions, Transaction(tx))
	}
	return out
}

// Maintenance

type SweepSkipResponse struct {
	BookingID string `json:"booking_id"`
	Reason    string `json:"reason"`
}

type SweepResponse struct {
	Sweep     string              `json:"sweep"`
	Processed int                 `json:"processed"`
	Succeeded []string            `json:"succeeded"`
	Skipped   []SweepSkipResponse `json:"skipped"`
}

func Sweep(r *service.SweepReport) SweepResponse {
	out := SweepResponse{
		Sweep:     r.Sweep,
		Processed: r.Processed,
		Succeeded: r.Succeeded,
		Skipped:   make([]SweepSkipResponse, 0, len(r.Skipped)),
	}
	if out.Succeeded == nil {
		out.Succeeded = []string{}
	}
	for _, s := range r.Skipped {
		out.Skipped = append(out.Skipped, SweepSkipResponse{BookingID: s.BookingID, Reason: s.Reason})
	}
	return out
}
