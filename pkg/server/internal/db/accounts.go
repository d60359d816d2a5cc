package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Account is a player's ledger record.
type Account struct {
	ID           int64
	Username     string
	Coins        int64
	TotalWins    int
	TotalMatches int
	CreatedAt    time.Time
}

// Transaction is one ledger movement with the balance around it.
type Transaction struct {
	ID            int64
	AccountID     int64
	Amount        int64
	Type          string
	MatchID       int64 // 0 when unrelated to a match
	Description   string
	BalanceBefore int64
	BalanceAfter  int64
	CreatedAt     time.Time
}

// CreateAccount inserts a new account, recording a deposit when coins is
// positive.
func (db *DB) CreateAccount(ctx context.Context, username string, coins int64) (*Account, error) {
	if username == "" {
		return nil, errors.New("empty username")
	}
	if coins < 0 {
		return nil, errors.New("negative initial balance")
	}
	var id int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `INSERT INTO accounts (username) VALUES (?)`, username)
		if err != nil {
			if strings.Contains(err.Error(), "UNIQUE") {
				return ErrUsernameTaken
			}
			return err
		}
		if id, err = res.LastInsertId(); err != nil {
			return err
		}
		if coins > 0 {
			_, _, err = creditTx(ctx, tx, id, coins, TxDeposit, 0, "initial deposit")
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create account %q: %w", username, err)
	}
	return db.Account(ctx, id)
}

func scanAccount(row interface{ Scan(...any) error }) (*Account, error) {
	var a Account
	var created sql.NullTime
	err := row.Scan(&a.ID, &a.Username, &a.Coins, &a.TotalWins, &a.TotalMatches, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAccountNotFound
	}
	if err != nil {
		return nil, err
	}
	a.CreatedAt = created.Time
	return &a, nil
}

const accountColumns = `id, username, coins, total_wins, total_matches, created_at`

// Account returns the account with the given id.
func (db *DB) Account(ctx context.Context, id int64) (*Account, error) {
	return scanAccount(db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = ?`, id))
}

// AccountByName returns the account with the given username.
func (db *DB) AccountByName(ctx context.Context, username string) (*Account, error) {
	return scanAccount(db.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE username = ?`, username))
}

// Debit removes amount from an account, failing with ErrInsufficientFunds
// rather than going negative. It returns the balance before and after.
func (db *DB) Debit(ctx context.Context, accountID, amount int64, kind string, matchID int64,
	desc string) (before, after int64, err error) {

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		before, after, err = debitTx(ctx, tx, accountID, amount, kind, matchID, desc)
		return err
	})
	return before, after, err
}

// Credit adds amount to an account and returns the balance before and after.
func (db *DB) Credit(ctx context.Context, accountID, amount int64, kind string, matchID int64,
	desc string) (before, after int64, err error) {

	err = db.inTx(ctx, func(tx *sql.Tx) error {
		before, after, err = creditTx(ctx, tx, accountID, amount, kind, matchID, desc)
		return err
	})
	return before, after, err
}

func balanceTx(ctx context.Context, tx *sql.Tx, accountID int64) (int64, error) {
	var coins int64
	err := tx.QueryRowContext(ctx, `SELECT coins FROM accounts WHERE id = ?`, accountID).Scan(&coins)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
	}
	return coins, err
}

func debitTx(ctx context.Context, tx *sql.Tx, accountID, amount int64, kind string, matchID int64,
	desc string) (int64, int64, error) {

	if amount < 0 {
		return 0, 0, fmt.Errorf("negative debit %d", amount)
	}
	before, err := balanceTx(ctx, tx, accountID)
	if err != nil {
		return 0, 0, err
	}
	if before < amount {
		return 0, 0, fmt.Errorf("need %d, have %d: %w", amount, before, ErrInsufficientFunds)
	}
	after := before - amount
	if err := applyTx(ctx, tx, accountID, -amount, kind, matchID, desc, before, after); err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func creditTx(ctx context.Context, tx *sql.Tx, accountID, amount int64, kind string, matchID int64,
	desc string) (int64, int64, error) {

	if amount < 0 {
		return 0, 0, fmt.Errorf("negative credit %d", amount)
	}
	before, err := balanceTx(ctx, tx, accountID)
	if err != nil {
		return 0, 0, err
	}
	after := before + amount
	if err := applyTx(ctx, tx, accountID, amount, kind, matchID, desc, before, after); err != nil {
		return 0, 0, err
	}
	return before, after, nil
}

func applyTx(ctx context.Context, tx *sql.Tx, accountID, delta int64, kind string, matchID int64,
	desc string, before, after int64) error {

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET coins = ? WHERE id = ?`,
		after, accountID); err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	var mid sql.NullInt64
	if matchID > 0 {
		mid = sql.NullInt64{Int64: matchID, Valid: true}
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (account_id, amount, type, match_id, description,
			balance_before, balance_after)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		accountID, delta, kind, mid, desc, before, after)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}
	return nil
}

// Transactions returns the most recent ledger entries of an account, newest
// first.
func (db *DB) Transactions(ctx context.Context, accountID int64, limit int) ([]Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, account_id, amount, type, match_id, description, balance_before,
			balance_after, created_at
		FROM transactions WHERE account_id = ?
		ORDER BY id DESC LIMIT ?`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txs []Transaction
	for rows.Next() {
		var t Transaction
		var mid sql.NullInt64
		var desc sql.NullString
		var created sql.NullTime
		if err := rows.Scan(&t.ID, &t.AccountID, &t.Amount, &t.Type, &mid, &desc,
			&t.BalanceBefore, &t.BalanceAfter, &created); err != nil {
			return nil, err
		}
		t.MatchID = mid.Int64
		t.Description = desc.String
		t.CreatedAt = created.Time
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
