package service

import (
	"fmt"
	"time"

	"training-service/internal/models"
	"training-service/internal/notify"
)

const timeLayout = "02.01.2006 15:04"

func describeSession(b *models.Booking, loc *time.Location) string {
	return fmt.Sprintf("%s-%s, court %s, trainer %s",
		b.Start.In(loc).Format(timeLayout), b.End.In(loc).Format("15:04"), b.CourtID, b.TrainerID)
}

func toManager(center *models.Center, topic notify.Topic, subject, body string, bookingID, templateID string) []notify.Message {
	if center.ManagerID == "" {
		return nil
	}

	return []notify.Message{{
		Topic:         topic,
		RecipientKind: notify.RecipientManager,
		RecipientID:   center.ManagerID,
		Subject:       subject,
		Body:          body,
		BookingID:     bookingID,
		TemplateID:    templateID,
	}}
}

func toClients(b *models.Booking, topic notify.Topic, subject, body string) []notify.Message {
	msgs := make([]notify.Message, 0, len(b.ClientIDs))
	for _, id := range b.ClientIDs {
		msgs = append(msgs, notify.Message{
			Topic:         topic,
			RecipientKind: notify.RecipientClient,
			RecipientID:   id,
			Subject:       subject,
			Body:          body,
			BookingID:     b.ID,
			TemplateID:    b.RecurringID,
		})
	}
	return msgs
}

func toTrainer(b *models.Booking, topic notify.Topic, subject, body string) []notify.Message {
	return []notify.Message{{
		Topic:         topic,
		RecipientKind: notify.RecipientTrainer,
		RecipientID:   b.TrainerID,
		Subject:       subject,
		Body:          body,
		BookingID:     b.ID,
		TemplateID:    b.RecurringID,
	}}
}

func toParticipants(b *models.Booking, topic notify.Topic, subject, body string) []notify.Message {
	return append(toClients(b, topic, subject, body), toTrainer(b, topic, subject, body)...)
}
