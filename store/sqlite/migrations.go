package sqlite

import (
	"context"

	"github.com/xraph/grove/migrate"
)

// Migrations is the grove migration group for the Bursar store (SQLite).
var Migrations = migrate.NewGroup("bursar")

func init() {
	Migrations.MustRegister(
		&migrate.Migration{
			Name:    "create_bursar_fee_structures",
			Version: "20250101000001",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_fee_structures (
    id           TEXT PRIMARY KEY,
    school_id    TEXT NOT NULL,
    name         TEXT NOT NULL,
    level        TEXT NOT NULL DEFAULT 'ALL',
    year         INTEGER NOT NULL,
    term         INTEGER NOT NULL CHECK (term BETWEEN 1 AND 3),
    is_default   INTEGER NOT NULL DEFAULT 0,
    is_published INTEGER NOT NULL DEFAULT 0,
    published_at TEXT,
    created_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at   TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bursar_structures_name
    ON bursar_fee_structures (school_id, year, term, level, LOWER(name));
CREATE UNIQUE INDEX IF NOT EXISTS uq_bursar_structures_default
    ON bursar_fee_structures (school_id, year, term) WHERE is_default = 1;
CREATE INDEX IF NOT EXISTS idx_bursar_structures_term
    ON bursar_fee_structures (school_id, year, term);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_fee_structures`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_fee_items",
			Version: "20250101000002",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_fee_items (
    id            TEXT PRIMARY KEY,
    school_id     TEXT NOT NULL,
    structure_id  TEXT NOT NULL REFERENCES bursar_fee_structures (id) ON DELETE CASCADE,
    class_id      TEXT NOT NULL DEFAULT '',
    item_name     TEXT NOT NULL,
    amount        INTEGER NOT NULL CHECK (amount >= 0),
    currency      TEXT NOT NULL DEFAULT 'kes',
    category      TEXT NOT NULL DEFAULT 'OTHER',
    billing_cycle TEXT NOT NULL DEFAULT 'TERM',
    is_optional   INTEGER NOT NULL DEFAULT 0,
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bursar_items_key
    ON bursar_fee_items (structure_id, class_id, LOWER(item_name));
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_fee_items`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_invoices",
			Version: "20250101000003",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_invoices (
    id            TEXT PRIMARY KEY,
    school_id     TEXT NOT NULL,
    student_id    TEXT NOT NULL,
    class_id      TEXT NOT NULL DEFAULT '',
    structure_id  TEXT NOT NULL,
    year          INTEGER NOT NULL,
    term          INTEGER NOT NULL,
    total         INTEGER NOT NULL,
    currency      TEXT NOT NULL DEFAULT 'kes',
    status        TEXT NOT NULL DEFAULT 'DRAFT',
    due_date      TEXT NOT NULL,
    issued_at     TEXT,
    cancelled_at  TEXT,
    cancel_reason TEXT NOT NULL DEFAULT '',
    created_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now')),
    updated_at    TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_bursar_invoices_student_term
    ON bursar_invoices (school_id, student_id, year, term);
CREATE INDEX IF NOT EXISTS idx_bursar_invoices_status
    ON bursar_invoices (school_id, year, term, status);

CREATE TABLE IF NOT EXISTS bursar_invoice_lines (
    id         TEXT PRIMARY KEY,
    invoice_id TEXT NOT NULL REFERENCES bursar_invoices (id) ON DELETE CASCADE,
    position   INTEGER NOT NULL,
    item_name  TEXT NOT NULL,
    amount     INTEGER NOT NULL,
    currency   TEXT NOT NULL DEFAULT 'kes',
    category   TEXT NOT NULL DEFAULT 'OTHER'
);

CREATE INDEX IF NOT EXISTS idx_bursar_lines_invoice ON bursar_invoice_lines (invoice_id, position);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_invoice_lines; DROP TABLE IF EXISTS bursar_invoices`)
				return err
			},
		},
		&migrate.Migration{
			Name:    "create_bursar_payments",
			Version: "20250101000004",
			Up: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bursar_payments (
    id         TEXT PRIMARY KEY,
    school_id  TEXT NOT NULL,
    invoice_id TEXT NOT NULL REFERENCES bursar_invoices (id),
    student_id TEXT NOT NULL,
    amount     INTEGER NOT NULL CHECK (amount > 0),
    currency   TEXT NOT NULL DEFAULT 'kes',
    method     TEXT NOT NULL,
    reference  TEXT NOT NULL DEFAULT '',
    posted_by  TEXT NOT NULL DEFAULT '',
    posted_at  TEXT NOT NULL DEFAULT (strftime('%Y-%m-%dT%H:%M:%fZ', 'now'))
);

CREATE INDEX IF NOT EXISTS idx_bursar_payments_invoice ON bursar_payments (invoice_id, posted_at);
CREATE INDEX IF NOT EXISTS idx_bursar_payments_student ON bursar_payments (school_id, student_id, posted_at);
`)
				return err
			},
			Down: func(ctx context.Context, exec migrate.Executor) error {
				_, err := exec.Exec(ctx, `DROP TABLE IF EXISTS bursar_payments`)
				return err
			},
		},
	)
}
