package models

import (
	"slices"
	"time"
)

type BookingState string

const (
	BookingDraft           BookingState = "draft"
	BookingPendingApproval BookingState = "pending_approval"
	BookingConfirmed       BookingState = "confirmed"
	BookingCompleted       BookingState = "completed"
	BookingCancelled       BookingState = "cancelled"
)

// ActiveStates are the states that hold a court and a trainer.
var ActiveStates = []BookingState{BookingDraft, BookingPendingApproval, BookingConfirmed}

func (s BookingState) IsActive() bool {
	return slices.Contains(ActiveStates, s)
}

func (s BookingState) IsTerminal() bool {
	return s == BookingCompleted || s == BookingCancelled
}

type Role string

const (
	RoleTrainer  Role = "trainer"
	RoleManager  Role = "manager"
	RoleDirector Role = "director"
	RoleSystem   Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleTrainer, RoleManager, RoleDirector, RoleSystem:
		return true
	}
	return false
}

// Actor is the caller of every engine operation.
type Actor struct {
	ID   string
	Role Role
}

func SystemActor() Actor {
	return Actor{ID: "system", Role: RoleSystem}
}

type ResourceKind string

const (
	ResourceCourt   ResourceKind = "court"
	ResourceTrainer ResourceKind = "trainer"
)

type Booking struct {
	ID             string       `db:"id"`
	CenterID       string       `db:"center_id"`
	CourtID        string       `db:"court_id"`
	TrainerID      string       `db:"trainer_id"`
	TrainingTypeID string       `db:"training_type_id"`
	ClientIDs      []string     `db:"-"`
	Start          time.Time    `db:"start_at"`
	End            time.Time    `db:"end_at"`
	State          BookingState `db:"state"`
	RecurringID    string       `db:"recurring_id"`

	CreatedBy       string     `db:"created_by"`
	ApprovedBy      string     `db:"approved_by"`
	ApprovedAt      *time.Time `db:"approved_at"`
	RejectedBy      string     `db:"rejected_by"`
	RejectedAt      *time.Time `db:"rejected_at"`
	RejectionReason string     `db:"rejection_reason"`
	CancelledBy     string     `db:"cancelled_by"`
	CancelledAt     *time.Time `db:"cancelled_at"`
	CompletedAt     *time.Time `db:"completed_at"`

	// Open change requests. PriorState is the state to restore when a request is rejected.
	CancelRequested       bool         `db:"cancel_requested"`
	CancelRequestedBy     string       `db:"cancel_requested_by"`
	CancelRequestedAt     *time.Time   `db:"cancel_requested_at"`
	CancelReason          string       `db:"cancel_reason"`
	RescheduleRequested   bool         `db:"reschedule_requested"`
	RescheduleRequestedBy string       `db:"reschedule_requested_by"`
	RescheduleRequestedAt *time.Time   `db:"reschedule_requested_at"`
	RescheduleReason      string       `db:"reschedule_reason"`
	NewStart              *time.Time   `db:"new_start_at"`
	NewEnd                *time.Time   `db:"new_end_at"`
	NewCourtID            string       `db:"new_court_id"`
	PriorState            BookingState `db:"prior_state"`

	// Money in minor units.
	PricePerHour       int64 `db:"price_per_hour"`
	TrainerRatePerHour int64 `db:"trainer_rate_per_hour"`
	TotalPrice         int64 `db:"total_price"`
	TrainerPay         int64 `db:"trainer_pay"`
	Profit             int64 `db:"profit"`

	NotificationSent bool `db:"notification_sent"`
	ReminderSent     bool `db:"reminder_sent"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (b *Booking) DurationHours() int64 {
	return int64(b.End.Sub(b.Start) / time.Hour)
}

// DuePerClient is what every client pays when the session completes.
func (b *Booking) DuePerClient() int64 {
	return b.PricePerHour * b.DurationHours()
}

func (b *Booking) HasOpenRequest() bool {
	return b.CancelRequested || b.RescheduleRequested
}

func (b *Booking) HasClient(clientID string) bool {
	return slices.Contains(b.ClientIDs, clientID)
}

func (b *Booking) ClearCancelRequest() {
	b.CancelRequested = false
	b.CancelRequestedBy = ""
	b.CancelRequestedAt = nil
	b.CancelReason = ""
}

func (b *Booking) ClearRescheduleRequest() {
	b.RescheduleRequested = false
	b.RescheduleRequestedBy = ""
	b.RescheduleRequestedAt = nil
	b.RescheduleReason = ""
	b.NewStart = nil
	b.NewEnd = nil
	b.NewCourtID = ""
}

func (b *Booking) Clone() *Booking {
	c := *b
	c.ClientIDs = slices.Clone(b.ClientIDs)
	return &c
}

type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
)

type RecurringTemplate struct {
	ID             string         `db:"id"`
	CenterID       string         `db:"center_id"`
	CourtID        string         `db:"court_id"`
	TrainerID      string         `db:"trainer_id"`
	TrainingTypeID string         `db:"training_type_id"`
	ClientIDs      []string       `db:"-"`
	StartDate      time.Time      `db:"start_date"`
	EndDate        time.Time      `db:"end_date"`
	Weekdays       []time.Weekday `db:"-"`
	StartMinute    int            `db:"start_minute"`
	DurationHours  int            `db:"duration_hours"`
	Frequency      Frequency      `db:"frequency"`
	Active         bool           `db:"active"`
	Approved       bool           `db:"approved"`
	CreatedBy      string         `db:"created_by"`
	ApprovedBy     string         `db:"approved_by"`
	ApprovedAt     *time.Time     `db:"approved_at"`
	CreatedAt      time.Time      `db:"created_at"`
}

func (t *RecurringTemplate) Clone() *RecurringTemplate {
	c := *t
	c.ClientIDs = slices.Clone(t.ClientIDs)
	c.Weekdays = slices.Clone(t.Weekdays)
	return &c
}

type TransactionType string

const (
	TransactionDeposit    TransactionType = "deposit"
	TransactionWithdrawal TransactionType = "withdrawal"
)

type LedgerTransaction struct {
	ID          string          `db:"id"`
	ClientID    string          `db:"client_id"`
	Type        TransactionType `db:"type"`
	Amount      int64           `db:"amount"`
	BookingID   string          `db:"booking_id"`
	Description string          `db:"description"`
	CreatedAt   time.Time       `db:"created_at"`
}

// Signed is the effect of the transaction on the balance.
func (t LedgerTransaction) Signed() int64 {
	if t.Type == TransactionWithdrawal {
		return -t.Amount
	}
	return t.Amount
}

type Center struct {
	ID            string `db:"id"`
	Name          string `db:"name"`
	ManagerID     string `db:"manager_id"`
	Timezone      string `db:"timezone"`
	WorkStartHour int    `db:"work_start_hour"`
	WorkEndHour   int    `db:"work_end_hour"`
}

type Court struct {
	ID            string `db:"id"`
	CenterID      string `db:"center_id"`
	Name          string `db:"name"`
	WorkStartHour int    `db:"work_start_hour"`
	WorkEndHour   int    `db:"work_end_hour"`
}

type TrainingTypeCode string

const (
	TrainingIndividual TrainingTypeCode = "individual"
	TrainingSplit      TrainingTypeCode = "split"
	TrainingGroup      TrainingTypeCode = "group"
)

type TrainingType struct {
	ID         string           `db:"id"`
	Name       string           `db:"name"`
	Code       TrainingTypeCode `db:"code"`
	MinClients int              `db:"min_clients"`
	MaxClients int              `db:"max_clients"`
}

type BookingFilter struct {
	States     []BookingState
	ClientID   string
	From       *time.Time
	To         *time.Time
	TemplateID string
}
