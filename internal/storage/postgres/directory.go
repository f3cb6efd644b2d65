package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"training-service/internal/models"
)

func (s *Storage) GetCenter(ctx context.Context, id string) (*models.Center, error) {
	const op = "storage.postgres.GetCenter"

	var c models.Center
	err := sqlx.GetContext(ctx, s.conn(ctx), &c,
		`SELECT id, name, manager_id, timezone, work_start_hour, work_end_hour FROM centers WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return &c, nil
}

func (s *Storage) GetCourt(ctx context.Context, id string) (*models.Court, error) {
	const op = "storage.postgres.GetCourt"

	var c models.Court
	err := sqlx.GetContext(ctx, s.conn(ctx), &c,
		`SELECT id, center_id, name, work_start_hour, work_end_hour FROM courts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return &c, nil
}

func (s *Storage) GetTrainingType(ctx context.Context, id string) (*models.TrainingType, error) {
	const op = "storage.postgres.GetTrainingType"

	var t models.TrainingType
	err := sqlx.GetContext(ctx, s.conn(ctx), &t,
		`SELECT id, name, code, min_clients, max_clients FROM training_types WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, mapError(err))
	}

	return &t, nil
}

func (s *Storage) IsTrainerAttached(ctx context.Context, trainerID, centerID string) (bool, error) {
	const op = "storage.postgres.IsTrainerAttached"

	var ok bool
	err := sqlx.GetContext(ctx, s.conn(ctx), &ok,
		`SELECT EXISTS (SELECT 1 FROM center_trainers WHERE trainer_id = $1 AND center_id = $2)`,
		trainerID, centerID)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}

	return ok, nil
}

func (s *Storage) CenterPrice(ctx context.Context, centerID, trainingTypeID string) (int64, bool, error) {
	const op = "storage.postgres.CenterPrice"

	return s.lookupAmount(ctx, op,
		`SELECT price FROM center_training_prices WHERE center_id = $1 AND training_type_id = $2`,
		centerID, trainingTypeID)
}

func (s *Storage) TrainerRate(ctx context.Context, trainerID, centerID, trainingTypeID string) (int64, bool, error) {
	const op = "storage.postgres.TrainerRate"

	return s.lookupAmount(ctx, op,
		`SELECT rate FROM trainer_rates WHERE trainer_id = $1 AND center_id = $2 AND training_type_id = $3`,
		trainerID, centerID, trainingTypeID)
}

func (s *Storage) lookupAmount(ctx context.Context, op, query string, args ...any) (int64, bool, error) {
	var amount int64
	err := sqlx.GetContext(ctx, s.conn(ctx), &amount, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", op, err)
	}

	return amount, true, nil
}

// SeedDirectory upserts reference data. Used by local setups and tests.
func (s *Storage) SeedDirectory(ctx context.Context, centers []models.Center, courts []models.Court, types []models.TrainingType) error {
	const op = "storage.postgres.SeedDirectory"

	return s.WithinTx(ctx, func(ctx context.Context) error {
		for _, c := range centers {
			if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx),
				`INSERT INTO centers (id, name, manager_id, timezone, work_start_hour, work_end_hour)
				VALUES (:id, :name, :manager_id, :timezone, :work_start_hour, :work_end_hour)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, manager_id = EXCLUDED.manager_id,
				timezone = EXCLUDED.timezone, work_start_hour = EXCLUDED.work_start_hour,
				work_end_hour = EXCLUDED.work_end_hour`, c); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		for _, c := range courts {
			if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx),
				`INSERT INTO courts (id, center_id, name, work_start_hour, work_end_hour)
				VALUES (:id, :center_id, :name, :work_start_hour, :work_end_hour)
				ON CONFLICT (id) DO UPDATE SET center_id = EXCLUDED.center_id, name = EXCLUDED.name,
				work_start_hour = EXCLUDED.work_start_hour, work_end_hour = EXCLUDED.work_end_hour`, c); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		for _, t := range types {
			if _, err := sqlx.NamedExecContext(ctx, s.conn(ctx),
				`INSERT INTO training_types (id, name, code, min_clients, max_clients)
				VALUES (:id, :name, :code, :min_clients, :max_clients)
				ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code,
				min_clients = EXCLUDED.min_clients, max_clients = EXCLUDED.max_clients`, t); err != nil {
				return fmt.Errorf("%s: %w", op, err)
			}
		}
		return nil
	})
}

func (s *Storage) AttachTrainer(ctx context.Context, trainerID, centerID string) error {
	const op = "storage.postgres.AttachTrainer"

	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO center_trainers (trainer_id, center_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		trainerID, centerID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SetCenterPrice(ctx context.Context, centerID, trainingTypeID string, price int64) error {
	const op = "storage.postgres.SetCenterPrice"

	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO center_training_prices (center_id, training_type_id, price) VALUES ($1, $2, $3)
		ON CONFLICT (center_id, training_type_id) DO UPDATE SET price = EXCLUDED.price`,
		centerID, trainingTypeID, price)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SetTrainerRate(ctx context.Context, trainerID, centerID, trainingTypeID string, rate int64) error {
	const op = "storage.postgres.SetTrainerRate"

	_, err := s.conn(ctx).ExecContext(ctx,
		`INSERT INTO trainer_rates (trainer_id, center_id, training_type_id, rate) VALUES ($1, $2, $3, $4)
		ON CONFLICT (trainer_id, center_id, training_type_id) DO UPDATE SET rate = EXCLUDED.rate`,
		trainerID, centerID, trainingTypeID, rate)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
