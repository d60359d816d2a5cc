package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// JoinResult describes the seat taken by Join.
type JoinResult struct {
	MatchID         int64
	CurrentPlayers  int
	PlayersRequired int
	Balance         int64
	AlreadyJoined   bool
	Starting        bool
}

// Join seats accountID in the oldest WAITING match of the given type,
// opening a new one if none exists. The entry fee is debited into the pot
// and the match flips to STARTING once enough players are seated.
func (db *DB) Join(ctx context.Context, accountID, matchTypeID int64) (*JoinResult, error) {
	var out JoinResult
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		mt, err := matchTypeTx(ctx, tx, matchTypeID)
		if err != nil {
			return err
		}
		if !mt.Active {
			return fmt.Errorf("match type %d inactive: %w", matchTypeID, ErrMatchTypeNotFound)
		}

		var matchID int64
		err = tx.QueryRowContext(ctx, `
			SELECT id FROM matches WHERE match_type_id = ? AND status = ?
			ORDER BY id LIMIT 1`, mt.ID, StatusWaiting).Scan(&matchID)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			if matchID, err = createMatchTx(ctx, tx, mt); err != nil {
				return err
			}
		case err != nil:
			return err
		}

		m, err := matchTx(ctx, tx, matchID)
		if err != nil {
			return err
		}
		out.MatchID = m.ID
		out.PlayersRequired = m.PlayersRequired

		seated, err := seatedTx(ctx, tx, matchID, accountID)
		if err != nil {
			return err
		}
		if seated {
			out.AlreadyJoined = true
			out.CurrentPlayers = m.CurrentPlayers
			out.Balance, err = balanceTx(ctx, tx, accountID)
			return err
		}
		if m.CurrentPlayers >= mt.MaxPlayers {
			return fmt.Errorf("match %d: %w", matchID, ErrMatchFull)
		}

		var username string
		if err := tx.QueryRowContext(ctx, `SELECT username FROM accounts WHERE id = ?`,
			accountID).Scan(&username); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("account %d: %w", accountID, ErrAccountNotFound)
			}
			return err
		}

		_, after, err := debitTx(ctx, tx, accountID, mt.EntryFee, TxMatchEntry, matchID,
			"Match entry: "+mt.Name)
		if err != nil {
			return err
		}
		out.Balance = after

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participations (match_id, account_id, username, entry_fee_paid)
			VALUES (?, ?, ?, ?)`, matchID, accountID, username, mt.EntryFee); err != nil {
			return fmt.Errorf("failed to add participation: %w", err)
		}

		out.CurrentPlayers = m.CurrentPlayers + 1
		status := StatusWaiting
		if out.CurrentPlayers >= m.PlayersRequired {
			status = StatusStarting
			out.Starting = true
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE matches SET total_pot = total_pot + ?, current_players = ?, status = ?
			WHERE id = ?`, mt.EntryFee, out.CurrentPlayers, status, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func seatedTx(ctx context.Context, tx *sql.Tx, matchID, accountID int64) (bool, error) {
	var n int
	err := tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participations WHERE match_id = ? AND account_id = ?`,
		matchID, accountID).Scan(&n)
	return n > 0, err
}

// LeaveResult describes the refund made by Leave.
type LeaveResult struct {
	Refund    int64
	Balance   int64
	Cancelled bool
}

// Leave refunds and removes accountID from a WAITING match. The match is
// cancelled once no human remains.
func (db *DB) Leave(ctx context.Context, accountID, matchID int64) (*LeaveResult, error) {
	var out LeaveResult
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := matchTx(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusWaiting {
			return fmt.Errorf("match %d is %s: %w", matchID, m.Status, ErrMatchStarted)
		}

		var fee int64
		err = tx.QueryRowContext(ctx, `
			SELECT entry_fee_paid FROM participations WHERE match_id = ? AND account_id = ?`,
			matchID, accountID).Scan(&fee)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("match %d: %w", matchID, ErrNotParticipant)
		}
		if err != nil {
			return err
		}

		_, after, err := creditTx(ctx, tx, accountID, fee, TxRefund, matchID,
			"Left lobby: "+m.Type.Name)
		if err != nil {
			return err
		}
		out.Refund = fee
		out.Balance = after

		if _, err := tx.ExecContext(ctx, `
			DELETE FROM participations WHERE match_id = ? AND account_id = ?`,
			matchID, accountID); err != nil {
			return err
		}

		var humans int
		if err := tx.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM participations WHERE match_id = ? AND account_id IS NOT NULL`,
			matchID).Scan(&humans); err != nil {
			return err
		}
		status := StatusWaiting
		if humans == 0 {
			status = StatusCancelled
			out.Cancelled = true
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE matches SET total_pot = total_pot - ?, current_players = current_players - 1,
				status = ?
			WHERE id = ?`, fee, status, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// ForceStartResult describes the payment made by ForceStart.
type ForceStartResult struct {
	Missing int
	Cost    int64
	Balance int64
}

// ForceStart lets a seated player pay the entry fee of every missing seat
// into the pot and flip the match to STARTING.
func (db *DB) ForceStart(ctx context.Context, accountID, matchID int64) (*ForceStartResult, error) {
	var out ForceStartResult
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := matchTx(ctx, tx, matchID)
		if err != nil {
			return err
		}
		if m.Status != StatusWaiting {
			return fmt.Errorf("match %d is %s: %w", matchID, m.Status, ErrMatchStarted)
		}
		seated, err := seatedTx(ctx, tx, matchID, accountID)
		if err != nil {
			return err
		}
		if !seated {
			return fmt.Errorf("match %d: %w", matchID, ErrNotParticipant)
		}

		out.Missing = m.PlayersRequired - m.CurrentPlayers
		if out.Missing <= 0 {
			return fmt.Errorf("match %d already has enough players: %w", matchID, ErrMatchFull)
		}
		out.Cost = m.Type.EntryFee * int64(out.Missing)

		_, after, err := debitTx(ctx, tx, accountID, out.Cost, TxMatchEntry, matchID,
			fmt.Sprintf("Force start (%d players): %s", out.Missing, m.Type.Name))
		if err != nil {
			return err
		}
		out.Balance = after

		_, err = tx.ExecContext(ctx, `
			UPDATE matches SET total_pot = total_pot + ?, force_started_by = ?, status = ?
			WHERE id = ?`, out.Cost, accountID, StatusStarting, matchID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}
