package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// MatchType is a lobby catalog entry.
type MatchType struct {
	ID                int64
	Name              string
	Description       string
	EntryFee          int64
	GridSize          int
	Speed             string
	PlayersRequired   int
	MaxPlayers        int
	WallSpawnInterval int
	HasBot            bool
	HitThreshold      int
	Penalty           string
	DisplayOrder      int
	Active            bool
}

// Match is a persisted match joined with the settings of its type.
type Match struct {
	ID              int64
	Type            MatchType
	Status          string
	GridSize        int
	Speed           string
	CurrentPlayers  int
	PlayersRequired int
	TotalPot        int64
	WinnerAccountID int64
	WinnerID        string
	IsTie           bool
	ForceStartedBy  int64
	Replay          []byte
	CreatedAt       time.Time
	StartedAt       time.Time
	CompletedAt     time.Time
}

// Participant is one row of a match's roster. Exactly one of AccountID and
// BotSlot is meaningful, selected by IsBot.
type Participant struct {
	MatchID          int64
	AccountID        int64
	BotSlot          int
	IsBot            bool
	Username         string
	EntryFeePaid     int64
	Placement        int
	Score            int
	Hits             int
	Eliminations     int
	SurvivalTicks    int
	EliminatedAtTick int
	CoinReward       int64
}

// ParticipantResult carries the final or interim stats of one participant.
type ParticipantResult struct {
	AccountID        int64
	BotSlot          int
	IsBot            bool
	Score            int
	Hits             int
	Eliminations     int
	SurvivalTicks    int
	EliminatedAtTick int // -1 while alive
}

// Payout credits one human participant during settlement.
type Payout struct {
	AccountID int64
	Amount    int64
	Placement int
}

// Settlement is everything written when a match completes.
type Settlement struct {
	MatchID         int64
	WinnerAccountID int64 // 0 unless a human won
	WinnerID        string
	IsTie           bool
	Payouts         []Payout
	Results         []ParticipantResult
	Replay          []byte
	Description     string
}

// PendingSettlement is a match whose settlement failed and must be retried.
type PendingSettlement struct {
	MatchID int64
	Outcome []byte
}

// UpsertMatchType inserts or updates a catalog entry by name and returns its
// id.
func (db *DB) UpsertMatchType(ctx context.Context, mt MatchType) (int64, error) {
	var id int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO match_types (name, description, entry_fee, grid_size, speed,
				players_required, max_players, wall_spawn_interval, has_bot, hit_threshold,
				penalty, display_order, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				description = excluded.description,
				entry_fee = excluded.entry_fee,
				grid_size = excluded.grid_size,
				speed = excluded.speed,
				players_required = excluded.players_required,
				max_players = excluded.max_players,
				wall_spawn_interval = excluded.wall_spawn_interval,
				has_bot = excluded.has_bot,
				hit_threshold = excluded.hit_threshold,
				penalty = excluded.penalty,
				display_order = excluded.display_order,
				active = excluded.active`,
			mt.Name, mt.Description, mt.EntryFee, mt.GridSize, mt.Speed, mt.PlayersRequired,
			mt.MaxPlayers, mt.WallSpawnInterval, mt.HasBot, mt.HitThreshold, mt.Penalty,
			mt.DisplayOrder, mt.Active)
		if err != nil {
			return err
		}
		return tx.QueryRowContext(ctx, `SELECT id FROM match_types WHERE name = ?`,
			mt.Name).Scan(&id)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to upsert match type %q: %w", mt.Name, err)
	}
	return id, nil
}

const matchTypeColumns = `mt.id, mt.name, mt.description, mt.entry_fee, mt.grid_size, mt.speed,
	mt.players_required, mt.max_players, mt.wall_spawn_interval, mt.has_bot, mt.hit_threshold,
	mt.penalty, mt.display_order, mt.active`

func scanMatchType(row interface{ Scan(...any) error }, mt *MatchType, extra ...any) error {
	dest := []any{&mt.ID, &mt.Name, &mt.Description, &mt.EntryFee, &mt.GridSize, &mt.Speed,
		&mt.PlayersRequired, &mt.MaxPlayers, &mt.WallSpawnInterval, &mt.HasBot, &mt.HitThreshold,
		&mt.Penalty, &mt.DisplayOrder, &mt.Active}
	return row.Scan(append(dest, extra...)...)
}

// MatchTypes returns the catalog ordered for display. Inactive entries are
// included only when all is true.
func (db *DB) MatchTypes(ctx context.Context, all bool) ([]MatchType, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+matchTypeColumns+` FROM match_types mt
		WHERE ? OR mt.active
		ORDER BY mt.display_order, mt.name`, all)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MatchType
	for rows.Next() {
		var mt MatchType
		if err := scanMatchType(rows, &mt); err != nil {
			return nil, err
		}
		out = append(out, mt)
	}
	return out, rows.Err()
}

func matchTypeTx(ctx context.Context, tx *sql.Tx, id int64) (*MatchType, error) {
	var mt MatchType
	err := scanMatchType(tx.QueryRowContext(ctx,
		`SELECT `+matchTypeColumns+` FROM match_types mt WHERE mt.id = ?`, id), &mt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("match type %d: %w", id, ErrMatchTypeNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &mt, nil
}

// CreateMatch opens a new WAITING match of the given type. A bot seat is
// added when the type asks for one.
func (db *DB) CreateMatch(ctx context.Context, matchTypeID int64) (int64, error) {
	var id int64
	err := db.inTx(ctx, func(tx *sql.Tx) error {
		mt, err := matchTypeTx(ctx, tx, matchTypeID)
		if err != nil {
			return err
		}
		id, err = createMatchTx(ctx, tx, mt)
		return err
	})
	return id, err
}

func createMatchTx(ctx context.Context, tx *sql.Tx, mt *MatchType) (int64, error) {
	res, err := tx.ExecContext(ctx, `
		INSERT INTO matches (match_type_id, status, grid_size, speed, players_required)
		VALUES (?, ?, ?, ?, ?)`,
		mt.ID, StatusWaiting, mt.GridSize, mt.Speed, mt.PlayersRequired)
	if err != nil {
		return 0, fmt.Errorf("failed to create match: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	if mt.HasBot {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO participations (match_id, bot_slot, username) VALUES (?, 0, 'Bot 1')`,
			id); err != nil {
			return 0, fmt.Errorf("failed to add bot: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE matches SET current_players = current_players + 1 WHERE id = ?`,
			id); err != nil {
			return 0, err
		}
	}
	return id, nil
}

const matchColumns = `m.id, m.status, m.grid_size, m.speed, m.current_players,
	m.players_required, m.total_pot, m.winner_account_id, m.winner_id, m.is_tie,
	m.force_started_by, m.replay, m.created_at, m.started_at, m.completed_at`

func scanMatch(row interface{ Scan(...any) error }) (*Match, error) {
	var m Match
	var winnerAcct, forcedBy sql.NullInt64
	var winnerID sql.NullString
	var created, started, completed sql.NullTime
	err := scanMatchType(row, &m.Type,
		&m.ID, &m.Status, &m.GridSize, &m.Speed, &m.CurrentPlayers, &m.PlayersRequired,
		&m.TotalPot, &winnerAcct, &winnerID, &m.IsTie, &forcedBy, &m.Replay, &created,
		&started, &completed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrMatchNotFound
	}
	if err != nil {
		return nil, err
	}
	m.WinnerAccountID = winnerAcct.Int64
	m.WinnerID = winnerID.String
	m.ForceStartedBy = forcedBy.Int64
	m.CreatedAt = created.Time
	m.StartedAt = started.Time
	m.CompletedAt = completed.Time
	return &m, nil
}

const matchQuery = `SELECT ` + matchTypeColumns + `, ` + matchColumns + `
	FROM matches m JOIN match_types mt ON mt.id = m.match_type_id`

// Match returns the match with the given id.
func (db *DB) Match(ctx context.Context, id int64) (*Match, error) {
	m, err := scanMatch(db.QueryRowContext(ctx, matchQuery+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("match %d: %w", id, err)
	}
	return m, nil
}

func matchTx(ctx context.Context, tx *sql.Tx, id int64) (*Match, error) {
	m, err := scanMatch(tx.QueryRowContext(ctx, matchQuery+` WHERE m.id = ?`, id))
	if err != nil {
		return nil, fmt.Errorf("match %d: %w", id, err)
	}
	return m, nil
}

// MatchesByStatus lists matches in the given status, oldest first.
func (db *DB) MatchesByStatus(ctx context.Context, status string) ([]*Match, error) {
	rows, err := db.QueryContext(ctx, matchQuery+` WHERE m.status = ? ORDER BY m.id`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Match
	for rows.Next() {
		m, err := scanMatch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// SetStatus updates a match's status. Moving to IN_PROGRESS stamps the start
// time.
func (db *DB) SetStatus(ctx context.Context, matchID int64, status string) error {
	q := `UPDATE matches SET status = ? WHERE id = ?`
	if status == StatusInProgress {
		q = `UPDATE matches SET status = ?, started_at = CURRENT_TIMESTAMP WHERE id = ?`
	}
	res, err := db.ExecContext(ctx, q, status, matchID)
	if err != nil {
		return fmt.Errorf("failed to set match %d status: %w", matchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %d: %w", matchID, ErrMatchNotFound)
	}
	return nil
}

const participantColumns = `match_id, account_id, bot_slot, username, entry_fee_paid, placement,
	score, hits, eliminations, survival_ticks, eliminated_at_tick, coin_reward`

// Participants returns the roster of a match in join order.
func (db *DB) Participants(ctx context.Context, matchID int64) ([]Participant, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+participantColumns+`
		FROM participations WHERE match_id = ? ORDER BY id`, matchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Participant
	for rows.Next() {
		var p Participant
		var acct, slot, placement, survival, elimAt sql.NullInt64
		if err := rows.Scan(&p.MatchID, &acct, &slot, &p.Username, &p.EntryFeePaid,
			&placement, &p.Score, &p.Hits, &p.Eliminations, &survival, &elimAt,
			&p.CoinReward); err != nil {
			return nil, err
		}
		p.AccountID = acct.Int64
		p.IsBot = slot.Valid
		p.BotSlot = int(slot.Int64)
		p.Placement = int(placement.Int64)
		p.SurvivalTicks = int(survival.Int64)
		p.EliminatedAtTick = -1
		if elimAt.Valid {
			p.EliminatedAtTick = int(elimAt.Int64)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// IsParticipant reports whether accountID holds a seat in the match.
func (db *DB) IsParticipant(ctx context.Context, matchID, accountID int64) (bool, error) {
	var n int
	err := db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM participations WHERE match_id = ? AND account_id = ?`,
		matchID, accountID).Scan(&n)
	return n > 0, err
}

// RecordParticipation stores stats for one participant.
func (db *DB) RecordParticipation(ctx context.Context, matchID int64, r ParticipantResult) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		return recordParticipationTx(ctx, tx, matchID, r)
	})
}

func recordParticipationTx(ctx context.Context, tx *sql.Tx, matchID int64, r ParticipantResult) error {
	var elimAt sql.NullInt64
	if r.EliminatedAtTick >= 0 {
		elimAt = sql.NullInt64{Int64: int64(r.EliminatedAtTick), Valid: true}
	}
	where, key := `account_id = ?`, r.AccountID
	if r.IsBot {
		where, key = `bot_slot = ?`, int64(r.BotSlot)
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE participations
		SET score = ?, hits = ?, eliminations = ?, survival_ticks = ?, eliminated_at_tick = ?
		WHERE match_id = ? AND `+where,
		r.Score, r.Hits, r.Eliminations, r.SurvivalTicks, elimAt, matchID, key)
	if err != nil {
		return fmt.Errorf("failed to record participation: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %d: %w", matchID, ErrNotParticipant)
	}
	return nil
}

// Settle applies a match outcome in one transaction: payouts are credited,
// participant stats recorded, the winner's win counter and every human's
// match counter bumped, and the match marked COMPLETED. A match that is
// already COMPLETED yields ErrAlreadySettled and nothing is written.
func (db *DB) Settle(ctx context.Context, s Settlement) error {
	return db.inTx(ctx, func(tx *sql.Tx) error {
		m, err := matchTx(ctx, tx, s.MatchID)
		if err != nil {
			return err
		}
		switch m.Status {
		case StatusCompleted:
			return fmt.Errorf("match %d: %w", s.MatchID, ErrAlreadySettled)
		case StatusCancelled:
			return fmt.Errorf("match %d is cancelled", s.MatchID)
		}

		desc := s.Description
		if desc == "" {
			desc = m.Type.Name
		}
		for _, p := range s.Payouts {
			kindDesc := "Won match: " + desc
			if s.IsTie {
				kindDesc = "Tie - Split pot: " + desc
			}
			if _, _, err := creditTx(ctx, tx, p.AccountID, p.Amount, TxMatchWin, s.MatchID,
				kindDesc); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE participations SET coin_reward = ?, placement = ?
				WHERE match_id = ? AND account_id = ?`,
				p.Amount, p.Placement, s.MatchID, p.AccountID); err != nil {
				return err
			}
		}

		for _, r := range s.Results {
			if err := recordParticipationTx(ctx, tx, s.MatchID, r); err != nil {
				return err
			}
		}

		if s.WinnerAccountID > 0 {
			if _, err := tx.ExecContext(ctx, `
				UPDATE accounts SET total_wins = total_wins + 1 WHERE id = ?`,
				s.WinnerAccountID); err != nil {
				return err
			}
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE accounts SET total_matches = total_matches + 1
			WHERE id IN (SELECT account_id FROM participations
				WHERE match_id = ? AND account_id IS NOT NULL)`, s.MatchID); err != nil {
			return err
		}

		var winner sql.NullInt64
		if s.WinnerAccountID > 0 {
			winner = sql.NullInt64{Int64: s.WinnerAccountID, Valid: true}
		}
		var winnerID sql.NullString
		if s.WinnerID != "" {
			winnerID = sql.NullString{String: s.WinnerID, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE matches SET status = ?, winner_account_id = ?, winner_id = ?, is_tie = ?,
				replay = ?, pending_outcome = NULL, completed_at = CURRENT_TIMESTAMP
			WHERE id = ?`,
			StatusCompleted, winner, winnerID, s.IsTie, s.Replay, s.MatchID)
		return err
	})
}

// MarkSettlePending stores an outcome whose settlement failed so it can be
// retried later.
func (db *DB) MarkSettlePending(ctx context.Context, matchID int64, outcome []byte) error {
	res, err := db.ExecContext(ctx, `
		UPDATE matches SET status = ?, pending_outcome = ?
		WHERE id = ? AND status <> ?`,
		StatusSettlePending, outcome, matchID, StatusCompleted)
	if err != nil {
		return fmt.Errorf("failed to mark match %d pending: %w", matchID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("match %d: %w", matchID, ErrAlreadySettled)
	}
	return nil
}

// PendingSettlements lists matches waiting for a settlement retry.
func (db *DB) PendingSettlements(ctx context.Context) ([]PendingSettlement, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, pending_outcome FROM matches WHERE status = ? ORDER BY id`,
		StatusSettlePending)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []PendingSettlement
	for rows.Next() {
		var p PendingSettlement
		if err := rows.Scan(&p.MatchID, &p.Outcome); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
