package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v4/stdlib"
)

// PoolConfig bounds the database/sql connection pool.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to Postgres through the pgx driver and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

// Initialize creates the account and payment tables if they do not exist.
func Initialize(ctx context.Context, db *sql.DB) error {
	// 1. Create Accounts Table
	// balance can never go negative, even if a writer bypasses the engine
	queryAccounts := `
	CREATE TABLE IF NOT EXISTS account (
		id BIGSERIAL PRIMARY KEY,
		name VARCHAR(50) UNIQUE NOT NULL,
		balance NUMERIC(18, 2) NOT NULL CHECK (balance >= 0),
		version BIGINT NOT NULL DEFAULT 0
	);`

	if _, err := db.ExecContext(ctx, queryAccounts); err != nil {
		return fmt.Errorf("create account table: %w", err)
	}

	// 2. Create Payments Table
	queryPayments := `
	CREATE TABLE IF NOT EXISTS payment (
		id BIGSERIAL PRIMARY KEY,
		sender_account_id BIGINT NOT NULL REFERENCES account (id),
		receiver_account_id BIGINT NOT NULL REFERENCES account (id),
		amount NUMERIC(18, 2) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := db.ExecContext(ctx, queryPayments); err != nil {
		return fmt.Errorf("create payment table: %w", err)
	}

	return nil
}
