package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

var (
	ErrAccountNotFound   = errors.New("account not found")
	ErrMatchNotFound     = errors.New("match not found")
	ErrMatchTypeNotFound = errors.New("match type not found")
	ErrNotParticipant    = errors.New("not a participant of this match")
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadySettled    = errors.New("match already settled")
	ErrMatchFull         = errors.New("match is full")
	ErrMatchStarted      = errors.New("match already started")
	ErrUsernameTaken     = errors.New("username already taken")
)

// Match statuses as stored in the matches table.
const (
	StatusWaiting       = "WAITING"
	StatusStarting      = "STARTING"
	StatusInProgress    = "IN_PROGRESS"
	StatusCompleted     = "COMPLETED"
	StatusCancelled     = "CANCELLED"
	StatusSettlePending = "SETTLE_PENDING"
)

// Transaction types.
const (
	TxDeposit    = "DEPOSIT"
	TxMatchEntry = "MATCH_ENTRY"
	TxMatchWin   = "MATCH_WIN"
	TxRefund     = "REFUND"
)

// DB represents the database connection
type DB struct {
	*sql.DB
}

// NewDB opens (creating if needed) the sqlite database at dbPath.
//
// Every transaction is started with BEGIN IMMEDIATE, so the writer lock is
// taken up front. Concurrent balance updates therefore serialize instead of
// failing on lock upgrade, and busy_timeout makes them wait for each other.
func NewDB(dbPath string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL",
		dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{db}, nil
}

// createTables creates the necessary database tables
func createTables(db *sql.DB) error {
	stmts := []string{`
		CREATE TABLE IF NOT EXISTS accounts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			username TEXT NOT NULL UNIQUE,
			coins INTEGER NOT NULL DEFAULT 0 CHECK (coins >= 0),
			total_wins INTEGER NOT NULL DEFAULT 0,
			total_matches INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`, `
		CREATE TABLE IF NOT EXISTS match_types (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL UNIQUE,
			description TEXT NOT NULL DEFAULT '',
			entry_fee INTEGER NOT NULL,
			grid_size INTEGER NOT NULL,
			speed TEXT NOT NULL,
			players_required INTEGER NOT NULL,
			max_players INTEGER NOT NULL,
			wall_spawn_interval INTEGER NOT NULL DEFAULT 5,
			has_bot INTEGER NOT NULL DEFAULT 0,
			hit_threshold INTEGER NOT NULL DEFAULT 0,
			penalty TEXT NOT NULL DEFAULT '',
			display_order INTEGER NOT NULL DEFAULT 0,
			active INTEGER NOT NULL DEFAULT 1
		)`, `
		CREATE TABLE IF NOT EXISTS matches (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_type_id INTEGER NOT NULL REFERENCES match_types(id),
			status TEXT NOT NULL,
			grid_size INTEGER NOT NULL,
			speed TEXT NOT NULL,
			current_players INTEGER NOT NULL DEFAULT 0,
			players_required INTEGER NOT NULL,
			total_pot INTEGER NOT NULL DEFAULT 0,
			winner_account_id INTEGER REFERENCES accounts(id),
			winner_id TEXT,
			is_tie INTEGER NOT NULL DEFAULT 0,
			force_started_by INTEGER REFERENCES accounts(id),
			pending_outcome BLOB,
			replay BLOB,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`, `
		CREATE INDEX IF NOT EXISTS idx_matches_status ON matches(match_type_id, status)`, `
		CREATE TABLE IF NOT EXISTS participations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			match_id INTEGER NOT NULL REFERENCES matches(id) ON DELETE CASCADE,
			account_id INTEGER REFERENCES accounts(id),
			bot_slot INTEGER,
			username TEXT NOT NULL,
			entry_fee_paid INTEGER NOT NULL DEFAULT 0,
			placement INTEGER,
			score INTEGER NOT NULL DEFAULT 0,
			hits INTEGER NOT NULL DEFAULT 0,
			eliminations INTEGER NOT NULL DEFAULT 0,
			survival_ticks INTEGER,
			eliminated_at_tick INTEGER,
			coin_reward INTEGER NOT NULL DEFAULT 0,
			joined_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (match_id, account_id),
			UNIQUE (match_id, bot_slot),
			CHECK ((account_id IS NULL) <> (bot_slot IS NULL))
		)`, `
		CREATE TABLE IF NOT EXISTS transactions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			account_id INTEGER NOT NULL REFERENCES accounts(id),
			amount INTEGER NOT NULL,
			type TEXT NOT NULL,
			match_id INTEGER REFERENCES matches(id),
			description TEXT,
			balance_before INTEGER NOT NULL,
			balance_after INTEGER NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to create tables: %w", err)
		}
	}
	return nil
}

// inTx runs fn inside a transaction, committing on success.
func (db *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.DB.Close()
}
