package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vctt94/snakearena/pkg/server/internal/db"
)

// Records shared with the storage layer.
type (
	Account           = db.Account
	Transaction       = db.Transaction
	MatchType         = db.MatchType
	Match             = db.Match
	Participant       = db.Participant
	ParticipantResult = db.ParticipantResult
	Payout            = db.Payout
	Settlement        = db.Settlement
	PendingSettlement = db.PendingSettlement
	JoinResult        = db.JoinResult
	LeaveResult       = db.LeaveResult
	ForceStartResult  = db.ForceStartResult
)

// Storage errors callers may match with errors.Is.
var (
	ErrAccountNotFound   = db.ErrAccountNotFound
	ErrMatchNotFound     = db.ErrMatchNotFound
	ErrMatchTypeNotFound = db.ErrMatchTypeNotFound
	ErrNotParticipant    = db.ErrNotParticipant
	ErrInsufficientFunds = db.ErrInsufficientFunds
	ErrAlreadySettled    = db.ErrAlreadySettled
	ErrMatchFull         = db.ErrMatchFull
	ErrMatchStarted      = db.ErrMatchStarted
	ErrUsernameTaken     = db.ErrUsernameTaken
)

// Match statuses.
const (
	StatusWaiting       = db.StatusWaiting
	StatusStarting      = db.StatusStarting
	StatusInProgress    = db.StatusInProgress
	StatusCompleted     = db.StatusCompleted
	StatusCancelled     = db.StatusCancelled
	StatusSettlePending = db.StatusSettlePending
)

// Transaction types.
const (
	TxDeposit    = db.TxDeposit
	TxMatchEntry = db.TxMatchEntry
	TxMatchWin   = db.TxMatchWin
	TxRefund     = db.TxRefund
)

// Ledger moves coins in and out of accounts. Balances never go negative.
type Ledger interface {
	Debit(ctx context.Context, accountID, amount int64, kind string, matchID int64,
		desc string) (before, after int64, err error)
	Credit(ctx context.Context, accountID, amount int64, kind string, matchID int64,
		desc string) (before, after int64, err error)
}

// MatchStore persists match lifecycle and results.
type MatchStore interface {
	CreateMatch(ctx context.Context, matchTypeID int64) (int64, error)
	Match(ctx context.Context, id int64) (*Match, error)
	MatchesByStatus(ctx context.Context, status string) ([]*Match, error)
	SetStatus(ctx context.Context, matchID int64, status string) error
	Participants(ctx context.Context, matchID int64) ([]Participant, error)
	IsParticipant(ctx context.Context, matchID, accountID int64) (bool, error)
	RecordParticipation(ctx context.Context, matchID int64, r ParticipantResult) error

	// Settle applies a match result atomically. A second call for the
	// same match fails with ErrAlreadySettled.
	Settle(ctx context.Context, s Settlement) error
	MarkSettlePending(ctx context.Context, matchID int64, outcome []byte) error
	PendingSettlements(ctx context.Context) ([]PendingSettlement, error)
}

// LobbyStore backs the matchmaking endpoints.
type LobbyStore interface {
	MatchTypes(ctx context.Context, all bool) ([]MatchType, error)
	UpsertMatchType(ctx context.Context, mt MatchType) (int64, error)
	Join(ctx context.Context, accountID, matchTypeID int64) (*JoinResult, error)
	Leave(ctx context.Context, accountID, matchID int64) (*LeaveResult, error)
	ForceStart(ctx context.Context, accountID, matchID int64) (*ForceStartResult, error)
}

// Database defines the interface for database operations
type Database interface {
	Ledger
	MatchStore
	LobbyStore

	CreateAccount(ctx context.Context, username string, coins int64) (*Account, error)
	Account(ctx context.Context, id int64) (*Account, error)
	AccountByName(ctx context.Context, username string) (*Account, error)
	Transactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error)

	// Close closes the database connection
	Close() error
}

// NewDatabase creates a new database connection
func NewDatabase(dbPath string) (Database, error) {
	// Ensure the directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %v", err)
	}

	return db.NewDB(dbPath)
}
