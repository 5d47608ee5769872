package database

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/lib/pq"

	"github.com/AnshRaj112/shadowmatch-backend/internal/logger"
)

var PostgresDB *sql.DB

// ConnectPostgres connects to PostgreSQL and creates the trust tables.
func ConnectPostgres(postgresURI string) (*sql.DB, error) {
	db, err := sql.Open("postgres", postgresURI)
	if err != nil {
		return nil, err
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	PostgresDB = db

	logger.L().Info("connected to PostgreSQL")

	if err := InitPostgresTables(db); err != nil {
		return nil, err
	}
	return db, nil
}

// InitPostgresTables creates all necessary tables if they don't exist
func InitPostgresTables(db *sql.DB) error {
	queries := []string{
		// Users are keyed by the salted hash of the client identity token
		`CREATE TABLE IF NOT EXISTS users (
			key CHAR(64) PRIMARY KEY,
			tier VARCHAR(20) NOT NULL DEFAULT 'guest',
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			coins BIGINT NOT NULL DEFAULT 0 CHECK (coins >= 0),
			is_verified BOOLEAN NOT NULL DEFAULT FALSE,
			gender VARCHAR(10),
			preferences JSONB NOT NULL DEFAULT '{}',
			subscription JSONB NOT NULL DEFAULT '{}',
			device_meta JSONB,
			sessions BIGINT NOT NULL DEFAULT 0,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			last_active_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,

		// Ban records: hash arrays only ever grow
		`CREATE TABLE IF NOT EXISTS ban_records (
			id UUID PRIMARY KEY,
			actor_ref CHAR(64) NOT NULL,
			user_keys TEXT[] NOT NULL DEFAULT '{}',
			report_ids TEXT[] NOT NULL DEFAULT '{}',
			type VARCHAR(20) NOT NULL,
			reason TEXT NOT NULL DEFAULT '',
			expires_at TIMESTAMPTZ,
			device_hashes TEXT[] NOT NULL DEFAULT '{}',
			ip_hashes TEXT[] NOT NULL DEFAULT '{}',
			phone_hashes TEXT[] NOT NULL DEFAULT '{}',
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_users_last_active ON users(last_active_at)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_user_keys ON ban_records USING GIN(user_keys)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_device_hashes ON ban_records USING GIN(device_hashes)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_ip_hashes ON ban_records USING GIN(ip_hashes)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_phone_hashes ON ban_records USING GIN(phone_hashes)`,
		`CREATE INDEX IF NOT EXISTS idx_ban_records_active ON ban_records(is_active)`,
	}

	for _, query := range append(queries, indexes...) {
		if _, err := db.Exec(query); err != nil {
			return err
		}
	}

	logger.L().Info("PostgreSQL tables initialized")
	return nil
}

// DisconnectPostgres closes the PostgreSQL connection
func DisconnectPostgres() error {
	if PostgresDB != nil {
		return PostgresDB.Close()
	}
	return nil
}
