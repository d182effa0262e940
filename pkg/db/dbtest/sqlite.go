// Package dbtest opens isolated in-memory SQLite databases carrying the
// service schema for repository and service tests.
package dbtest

import (
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/wishpot/wishpot-backend/pkg/db"
)

// Schema mirrors the Postgres migrations with SQLite types.
var Schema = []string{
	`CREATE TABLE events (
		id TEXT PRIMARY KEY,
		owner_user_id TEXT NOT NULL,
		title TEXT NOT NULL,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE items (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		title TEXT NOT NULL,
		price_cents INTEGER NOT NULL CHECK (price_cents > 0),
		accumulated_amount_cents INTEGER NOT NULL DEFAULT 0 CHECK (accumulated_amount_cents >= 0),
		fulfilled BOOLEAN NOT NULL DEFAULT 0,
		fulfilled_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE contributions (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		amount_cents INTEGER NOT NULL CHECK (amount_cents > 0),
		external_reference TEXT NOT NULL,
		contributor_name TEXT NOT NULL,
		contributor_email TEXT,
		confirmed_at DATETIME NOT NULL,
		created_at DATETIME
	)`,
	`CREATE UNIQUE INDEX contributions_external_reference_key ON contributions (external_reference)`,
	`CREATE TABLE fulfillments (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		requested_by_user_id TEXT NOT NULL,
		gross_amount_cents INTEGER NOT NULL,
		platform_fee_cents INTEGER NOT NULL,
		net_amount_cents INTEGER NOT NULL,
		method TEXT NOT NULL,
		note TEXT,
		idempotency_key TEXT NOT NULL,
		transfer_reference TEXT,
		status TEXT NOT NULL,
		processing_started_at DATETIME,
		completed_at DATETIME,
		failed_at DATETIME,
		failure_code TEXT,
		failure_reason TEXT,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE UNIQUE INDEX fulfillments_idempotency_key_key ON fulfillments (idempotency_key)`,
	`CREATE UNIQUE INDEX fulfillments_active_item_key ON fulfillments (item_id) WHERE status IN ('pending', 'processing')`,
	`CREATE TABLE payout_accounts (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL UNIQUE,
		external_account_id TEXT NOT NULL UNIQUE,
		onboarding_completed BOOLEAN NOT NULL DEFAULT 0,
		charges_enabled BOOLEAN NOT NULL DEFAULT 0,
		payouts_enabled BOOLEAN NOT NULL DEFAULT 0,
		transfers_enabled BOOLEAN NOT NULL DEFAULT 0,
		refreshed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE ledger_events (
		id TEXT PRIMARY KEY,
		item_id TEXT NOT NULL,
		fulfillment_id TEXT,
		contribution_id TEXT,
		actor_user_id TEXT,
		type TEXT NOT NULL,
		amount_cents INTEGER NOT NULL,
		metadata BLOB,
		created_at DATETIME
	)`,
	`CREATE TABLE outbox_events (
		id TEXT PRIMARY KEY,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload BLOB NOT NULL,
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
	`CREATE TABLE outbox_dlq (
		id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload_json BLOB NOT NULL,
		error_reason TEXT NOT NULL,
		error_message TEXT,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		failed_at DATETIME,
		created_at DATETIME
	)`,
}

// Open returns a fresh database with the schema applied. Each call gets its
// own named in-memory database; a single pooled connection serializes
// transactions the way row locks do on Postgres.
func Open(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_busy_timeout=5000", uuid.NewString())
	conn, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 gormlogger.Discard,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	sqlDB, err := conn.DB()
	if err != nil {
		t.Fatalf("sqlite handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	for _, stmt := range Schema {
		if err := conn.Exec(stmt).Error; err != nil {
			t.Fatalf("apply schema: %v", err)
		}
	}
	return conn
}

// OpenClient wraps Open in a db.Client so services can run real transactions.
func OpenClient(t *testing.T) (*db.Client, *gorm.DB) {
	t.Helper()
	conn := Open(t)
	return db.NewWithConn(conn), conn
}
