package postgres

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Bookkeeper store.
var Migrations = migrate.NewGroup("bookkeeper")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_bookkeeper_products",
			Version: "20200301000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookkeeper_products (
    id                   BIGINT PRIMARY KEY,
    object               TEXT NOT NULL DEFAULT 'product',
    active               BOOLEAN NOT NULL DEFAULT TRUE,
    name                 TEXT NOT NULL DEFAULT '',
    amount               BIGINT NOT NULL DEFAULT 0,
    currency             TEXT NOT NULL DEFAULT '',
    caption              TEXT NOT NULL DEFAULT '',
    description          TEXT NOT NULL DEFAULT '',
    interval             TEXT NOT NULL DEFAULT '',
    statement_descriptor TEXT NOT NULL DEFAULT '',
    unit_label           TEXT NOT NULL DEFAULT '',
    url                  TEXT NOT NULL DEFAULT '',
    metadata             JSONB NOT NULL DEFAULT '{}',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_bookkeeper_products_active ON bookkeeper_products (active);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bookkeeper_products`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bookkeeper_orders",
			Version: "20200301000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookkeeper_orders (
    id                 BIGINT PRIMARY KEY,
    object             TEXT NOT NULL DEFAULT 'order',
    amount             BIGINT NOT NULL DEFAULT 0,
    amount_returned    BIGINT NOT NULL DEFAULT 0,
    currency           TEXT NOT NULL DEFAULT '',
    customer           BIGINT NOT NULL DEFAULT 0,
    subject            TEXT NOT NULL DEFAULT '',
    email              TEXT NOT NULL DEFAULT '',
    series_id          TEXT NOT NULL DEFAULT '',
    start_date         TIMESTAMPTZ,
    end_date           TIMESTAMPTZ,
    charge             JSONB,
    items              JSONB NOT NULL DEFAULT '[]',
    status_transitions JSONB NOT NULL DEFAULT '{}',
    status             TEXT NOT NULL DEFAULT 'created',
    version            BIGINT NOT NULL DEFAULT 0,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at         TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_bookkeeper_orders_subject ON bookkeeper_orders (subject);
CREATE INDEX IF NOT EXISTS idx_bookkeeper_orders_status ON bookkeeper_orders (status);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bookkeeper_orders`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bookkeeper_quotas",
			Version: "20200301000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookkeeper_quotas (
    id         BIGINT PRIMARY KEY,
    object     TEXT NOT NULL DEFAULT 'quota',
    quota_type TEXT NOT NULL DEFAULT '',
    feature    TEXT NOT NULL,
    soft_limit BIGINT NOT NULL DEFAULT 0,
    hard_limit BIGINT NOT NULL DEFAULT 0,
    usage      BIGINT NOT NULL DEFAULT 0 CHECK (usage >= 0),
    unit       TEXT NOT NULL DEFAULT '',
    subject    TEXT NOT NULL,
    name       TEXT NOT NULL DEFAULT '',
    version    BIGINT NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    CHECK (soft_limit <= hard_limit)
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_bookkeeper_quotas_subject_feature ON bookkeeper_quotas (subject, feature);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bookkeeper_quotas`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bookkeeper_usage_events",
			Version: "20200301000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookkeeper_usage_events (
    id          TEXT PRIMARY KEY,
    quota_id    BIGINT NOT NULL,
    subject     TEXT NOT NULL DEFAULT '',
    feature     TEXT NOT NULL DEFAULT '',
    delta       BIGINT NOT NULL DEFAULT 0,
    usage_after BIGINT NOT NULL DEFAULT 0,
    state       TEXT NOT NULL DEFAULT 'ok',
    reference   TEXT NOT NULL DEFAULT '',
    timestamp   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_bookkeeper_usage_events_quota ON bookkeeper_usage_events (quota_id, timestamp);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bookkeeper_usage_events`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bookkeeper_payments",
			Version: "20200301000005",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bookkeeper_payments (
    id                TEXT PRIMARY KEY,
    order_id          BIGINT NOT NULL,
    transaction_id    TEXT NOT NULL DEFAULT '',
    payload           JSONB NOT NULL DEFAULT '{}',
    status            TEXT NOT NULL DEFAULT '',
    already_finalized BOOLEAN NOT NULL DEFAULT FALSE,
    received_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_bookkeeper_payments_order ON bookkeeper_payments (order_id, received_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_bookkeeper_payments_transaction ON bookkeeper_payments (transaction_id) WHERE transaction_id != '';
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bookkeeper_payments`)
				return err
			},
		},
	)
}
