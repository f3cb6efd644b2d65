package postgres

import (
	"context"
	"fmt"
)

const schema = `
CREATE EXTENSION IF NOT EXISTS btree_gist;

CREATE TABLE IF NOT EXISTS centers (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL DEFAULT '',
	manager_id      TEXT NOT NULL DEFAULT '',
	timezone        TEXT NOT NULL DEFAULT 'UTC',
	work_start_hour INT  NOT NULL DEFAULT 0,
	work_end_hour   INT  NOT NULL DEFAULT 24
);

CREATE TABLE IF NOT EXISTS courts (
	id              TEXT PRIMARY KEY,
	center_id       TEXT NOT NULL REFERENCES centers (id),
	name            TEXT NOT NULL DEFAULT '',
	work_start_hour INT  NOT NULL DEFAULT 0,
	work_end_hour   INT  NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS training_types (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL DEFAULT '',
	code        TEXT NOT NULL CHECK (code IN ('individual', 'split', 'group')),
	min_clients INT  NOT NULL,
	max_clients INT  NOT NULL
);

CREATE TABLE IF NOT EXISTS center_trainers (
	trainer_id TEXT NOT NULL,
	center_id  TEXT NOT NULL REFERENCES centers (id),
	PRIMARY KEY (trainer_id, center_id)
);

CREATE TABLE IF NOT EXISTS center_training_prices (
	center_id        TEXT   NOT NULL REFERENCES centers (id),
	training_type_id TEXT   NOT NULL REFERENCES training_types (id),
	price            BIGINT NOT NULL CHECK (price >= 0),
	PRIMARY KEY (center_id, training_type_id)
);

CREATE TABLE IF NOT EXISTS trainer_rates (
	trainer_id       TEXT   NOT NULL,
	center_id        TEXT   NOT NULL REFERENCES centers (id),
	training_type_id TEXT   NOT NULL REFERENCES training_types (id),
	rate             BIGINT NOT NULL CHECK (rate >= 0),
	PRIMARY KEY (trainer_id, center_id, training_type_id)
);

CREATE TABLE IF NOT EXISTS recurring_templates (
	id               TEXT PRIMARY KEY,
	center_id        TEXT   NOT NULL,
	court_id         TEXT   NOT NULL,
	trainer_id       TEXT   NOT NULL,
	training_type_id TEXT   NOT NULL,
	client_ids       TEXT[] NOT NULL,
	start_date       DATE   NOT NULL,
	end_date         DATE   NOT NULL,
	weekdays         INT[]  NOT NULL,
	start_minute     INT    NOT NULL,
	duration_hours   INT    NOT NULL CHECK (duration_hours > 0),
	frequency        TEXT   NOT NULL CHECK (frequency IN ('weekly', 'biweekly')),
	active           BOOLEAN NOT NULL DEFAULT TRUE,
	approved         BOOLEAN NOT NULL DEFAULT FALSE,
	created_by       TEXT   NOT NULL DEFAULT '',
	approved_by      TEXT   NOT NULL DEFAULT '',
	approved_at      TIMESTAMPTZ,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS bookings (
	id               TEXT PRIMARY KEY,
	center_id        TEXT   NOT NULL,
	court_id         TEXT   NOT NULL,
	trainer_id       TEXT   NOT NULL,
	training_type_id TEXT   NOT NULL,
	client_ids       TEXT[] NOT NULL,
	start_at         TIMESTAMPTZ NOT NULL,
	end_at           TIMESTAMPTZ NOT NULL,
	state            TEXT   NOT NULL,
	recurring_id     TEXT   NOT NULL DEFAULT '',

	created_by       TEXT NOT NULL DEFAULT '',
	approved_by      TEXT NOT NULL DEFAULT '',
	approved_at      TIMESTAMPTZ,
	rejected_by      TEXT NOT NULL DEFAULT '',
	rejected_at      TIMESTAMPTZ,
	rejection_reason TEXT NOT NULL DEFAULT '',
	cancelled_by     TEXT NOT NULL DEFAULT '',
	cancelled_at     TIMESTAMPTZ,
	completed_at     TIMESTAMPTZ,

	cancel_requested        BOOLEAN NOT NULL DEFAULT FALSE,
	cancel_requested_by     TEXT NOT NULL DEFAULT '',
	cancel_requested_at     TIMESTAMPTZ,
	cancel_reason           TEXT NOT NULL DEFAULT '',
	reschedule_requested    BOOLEAN NOT NULL DEFAULT FALSE,
	reschedule_requested_by TEXT NOT NULL DEFAULT '',
	reschedule_requested_at TIMESTAMPTZ,
	reschedule_reason       TEXT NOT NULL DEFAULT '',
	new_start_at            TIMESTAMPTZ,
	new_end_at              TIMESTAMPTZ,
	new_court_id            TEXT NOT NULL DEFAULT '',
	prior_state             TEXT NOT NULL DEFAULT '',

	price_per_hour        BIGINT NOT NULL DEFAULT 0,
	trainer_rate_per_hour BIGINT NOT NULL DEFAULT 0,
	total_price           BIGINT NOT NULL DEFAULT 0,
	trainer_pay           BIGINT NOT NULL DEFAULT 0,
	profit                BIGINT NOT NULL DEFAULT 0,

	notification_sent BOOLEAN NOT NULL DEFAULT FALSE,
	reminder_sent     BOOLEAN NOT NULL DEFAULT FALSE,

	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),

	CHECK (start_at < end_at),
	CONSTRAINT bookings_court_no_overlap EXCLUDE USING gist (
		court_id WITH =,
		tstzrange(start_at, end_at, '[)') WITH &&
	) WHERE (state IN ('draft', 'pending_approval', 'confirmed')),
	CONSTRAINT bookings_trainer_no_overlap EXCLUDE USING gist (
		trainer_id WITH =,
		tstzrange(start_at, end_at, '[)') WITH &&
	) WHERE (state IN ('draft', 'pending_approval', 'confirmed'))
);

CREATE UNIQUE INDEX IF NOT EXISTS bookings_recurring_start_uq
	ON bookings (recurring_id, start_at) WHERE recurring_id <> '';
CREATE INDEX IF NOT EXISTS bookings_state_end_idx ON bookings (state, end_at);
CREATE INDEX IF NOT EXISTS bookings_client_ids_idx ON bookings USING gin (client_ids);

CREATE TABLE IF NOT EXISTS client_balances (
	client_id TEXT PRIMARY KEY,
	balance   BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0)
);

CREATE TABLE IF NOT EXISTS ledger_transactions (
	id          TEXT PRIMARY KEY,
	client_id   TEXT   NOT NULL,
	type        TEXT   NOT NULL CHECK (type IN ('deposit', 'withdrawal')),
	amount      BIGINT NOT NULL CHECK (amount > 0),
	booking_id  TEXT   NOT NULL DEFAULT '',
	description TEXT   NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS ledger_transactions_client_idx ON ledger_transactions (client_id, created_at);
`

// Migrate creates the schema if it does not exist yet.
func (s *Storage) Migrate(ctx context.Context) error {
	const op = "storage.postgres.Migrate"

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}
