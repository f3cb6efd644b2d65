package notify

import (
	"context"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"training-service/internal/metrics"
	"training-service/pkg/sl"
)

type Topic string

const (
	TopicBookingPending             Topic = "booking.pending"
	TopicBookingApproved            Topic = "booking.approved"
	TopicBookingRejected            Topic = "booking.rejected"
	TopicBookingCancelled           Topic = "booking.cancelled"
	TopicBookingCancelRequested     Topic = "booking.cancel_requested"
	TopicBookingCancelRejected      Topic = "booking.cancel_rejected"
	TopicBookingRescheduleRequested Topic = "booking.reschedule_requested"
	TopicBookingRescheduled         Topic = "booking.rescheduled"
	TopicBookingRescheduleRejected  Topic = "booking.reschedule_rejected"
	TopicBookingCompleted           Topic = "booking.completed"
	TopicBookingReminder            Topic = "booking.reminder"
	TopicTemplatePending            Topic = "template.pending"
)

type RecipientKind string

const (
	RecipientClient  RecipientKind = "client"
	RecipientTrainer RecipientKind = "trainer"
	RecipientManager RecipientKind = "manager"
)

type Message struct {
	Topic         Topic         `json:"topic"`
	RecipientKind RecipientKind `json:"recipient_kind"`
	RecipientID   string        `json:"recipient_id"`
	Subject       string        `json:"subject"`
	Body          string        `json:"body"`
	BookingID     string        `json:"booking_id,omitempty"`
	TemplateID    string        `json:"template_id,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

//go:generate mockgen -destination=mocks/mock_sender.go -package=mocks training-service/internal/notify Sender
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher is the outbound queue. Enqueue never blocks the caller and
// delivery failures never reach it.
type Dispatcher struct {
	log         *slog.Logger
	sender      Sender
	queue       chan Message
	workers     int
	sendTimeout time.Duration
}

func NewDispatcher(log *slog.Logger, sender Sender, workers, buffer int) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if buffer <= 0 {
		buffer = 64
	}

	return &Dispatcher{
		log:         log.With(slog.String("component", "notify/dispatcher")),
		sender:      sender,
		queue:       make(chan Message, buffer),
		workers:     workers,
		sendTimeout: 5 * time.Second,
	}
}

func (d *Dispatcher) Enqueue(msgs ...Message) {
	for _, msg := range msgs {
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}

		select {
		case d.queue <- msg:
		default:
			metrics.Notifications.WithLabelValues(string(msg.Topic), "dropped").Inc()
			d.log.Error("notification queue is full, message dropped",
				slog.String("topic", string(msg.Topic)),
				slog.String("recipient_id", msg.RecipientID),
			)
		}
	}
}

// Run delivers queued messages until ctx is cancelled, then drains what is
// left in the buffer.
func (d *Dispatcher) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case msg := <-d.queue:
					d.deliver(msg)
				}
			}
		})
	}

	_ = g.Wait()

	for {
		select {
		case msg := <-d.queue:
			d.deliver(msg)
		default:
			return nil
		}
	}
}

func (d *Dispatcher) deliver(msg Message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.sendTimeout)
	defer cancel()

	if err := d.sender.Send(ctx, msg); err != nil {
		metrics.Notifications.WithLabelValues(string(msg.Topic), "failed").Inc()
		d.log.Error("failed to send notification",
			slog.String("topic", string(msg.Topic)),
			slog.String("recipient_id", msg.RecipientID),
			sl.Err(err),
		)
		return
	}

	metrics.Notifications.WithLabelValues(string(msg.Topic), "sent").Inc()
}

// LogSender writes messages to the log. Used when no broker is configured.
type LogSender struct {
	log *slog.Logger
}

func NewLogSender(log *slog.Logger) *LogSender {
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.log.Info("notification",
		slog.String("topic", string(msg.Topic)),
		slog.String("recipient_kind", string(msg.RecipientKind)),
		slog.String("recipient_id", msg.RecipientID),
		slog.String("subject", msg.Subject),
		slog.String("body", msg.Body),
	)
	return nil
}
