package service

import (
	"context"
	"fmt"

	"training-service/internal/models"
)

// RateResolver looks up hourly client price and trainer pay. A missing
// entry resolves to zero.
type RateResolver struct {
	dir Directory
}

func (r RateResolver) PriceFor(ctx context.Context, centerID, trainingTypeID string) (int64, error) {
	const op = "service.RateResolver.PriceFor"

	price, found, err := r.dir.CenterPrice(ctx, centerID, trainingTypeID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return 0, nil
	}

	return price, nil
}

func (r RateResolver) TrainerRateFor(ctx context.Context, trainerID, centerID, trainingTypeID string) (int64, error) {
	const op = "service.RateResolver.TrainerRateFor"

	rate, found, err := r.dir.TrainerRate(ctx, trainerID, centerID, trainingTypeID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	if !found {
		return 0, nil
	}

	return rate, nil
}

// Apply resolves both rates for b and recomputes its money fields.
func (r RateResolver) Apply(ctx context.Context, b *models.Booking) error {
	price, err := r.PriceFor(ctx, b.CenterID, b.TrainingTypeID)
	if err != nil {
		return err
	}

	rate, err := r.TrainerRateFor(ctx, b.TrainerID, b.CenterID, b.TrainingTypeID)
	if err != nil {
		return err
	}

	b.PricePerHour = price
	b.TrainerRatePerHour = rate
	computeMoney(b)

	return nil
}

// computeMoney derives the totals from the hourly rates. Both price and pay
// are per client.
func computeMoney(b *models.Booking) {
	units := b.DurationHours() * int64(len(b.ClientIDs))

	b.TotalPrice = b.PricePerHour * units
	b.TrainerPay = b.TrainerRatePerHour * units
	b.Profit = b.TotalPrice - b.TrainerPay
}
