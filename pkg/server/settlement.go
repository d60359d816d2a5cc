package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/decred/slog"
	"github.com/vctt94/snakearena/pkg/arena"
)

// pendingOutcome is the stored form of a result whose settlement failed.
type pendingOutcome struct {
	WinnerID  *arena.ParticipantID  `json:"winnerId,omitempty"`
	Tie       bool                  `json:"tie"`
	Aborted   bool                  `json:"aborted,omitempty"`
	Alive     []arena.ParticipantID `json:"alive"`
	Standings []arena.Standing      `json:"standings"`
	Replay    *arena.Replay         `json:"replay,omitempty"`
}

func encodePending(res RoomResult) ([]byte, error) {
	return json.Marshal(pendingOutcome{
		WinnerID:  res.Outcome.Winner,
		Tie:       res.Outcome.Tie,
		Aborted:   res.Aborted,
		Alive:     res.Outcome.Alive,
		Standings: res.Standings,
		Replay:    res.Replay,
	})
}

func decodePending(matchID int64, b []byte) (RoomResult, error) {
	var p pendingOutcome
	if err := json.Unmarshal(b, &p); err != nil {
		return RoomResult{}, fmt.Errorf("match %d: bad pending outcome: %w", matchID, err)
	}
	return RoomResult{
		MatchID: matchID,
		Outcome: arena.Outcome{
			Terminal: true,
			Winner:   p.WinnerID,
			Tie:      p.Tie,
			Alive:    p.Alive,
		},
		Standings: p.Standings,
		Replay:    p.Replay,
		Aborted:   p.Aborted,
	}, nil
}

// Settler turns room results into ledger updates.
type Settler struct {
	log   slog.Logger
	store MatchStore
}

// NewSettler returns a settler writing to store.
func NewSettler(store MatchStore, log slog.Logger) *Settler {
	if log == nil {
		log = slog.Disabled
	}
	return &Settler{log: log, store: store}
}

// BuildSettlement computes payouts for res against the match pot.
func BuildSettlement(m *Match, res RoomResult) (Settlement, error) {
	ids := make([]arena.ParticipantID, 0, len(res.Standings))
	for _, s := range res.Standings {
		ids = append(ids, s.ID)
	}
	payouts := arena.Payouts(res.Outcome, ids, m.TotalPot)

	st := Settlement{
		MatchID:     m.ID,
		IsTie:       res.Outcome.Tie,
		Description: m.Type.Name,
	}
	if w := res.Outcome.Winner; w != nil {
		st.WinnerID = w.String()
		if acct, ok := w.AccountID(); ok {
			st.WinnerAccountID = acct
		}
	}
	for _, p := range payouts {
		acct, ok := p.ID.AccountID()
		if !ok {
			continue
		}
		st.Payouts = append(st.Payouts, Payout{AccountID: acct, Amount: p.Amount, Placement: p.Placement})
	}
	for _, s := range res.Standings {
		st.Results = append(st.Results, resultFor(s))
	}
	if res.Replay != nil {
		b, err := json.Marshal(res.Replay)
		if err != nil {
			return Settlement{}, fmt.Errorf("failed to encode replay: %w", err)
		}
		st.Replay = b
	}
	return st, nil
}

func resultFor(s arena.Standing) ParticipantResult {
	r := ParticipantResult{
		Score:            s.Score,
		Hits:             s.HitCount,
		Eliminations:     s.Eliminations,
		SurvivalTicks:    s.SurvivalTicks,
		EliminatedAtTick: s.EliminatedAtTick,
	}
	if acct, ok := s.ID.AccountID(); ok {
		r.AccountID = acct
	} else {
		r.BotSlot, _ = s.ID.Slot()
		r.IsBot = true
	}
	return r
}

// Settle applies res exactly once. On failure the outcome is parked as
// SETTLE_PENDING for a later retry. A match settled earlier yields
// ErrAlreadySettled.
func (s *Settler) Settle(ctx context.Context, res RoomResult) error {
	err := s.settle(ctx, res)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrAlreadySettled):
		s.log.Debugf("Match %d: already settled", res.MatchID)
		return err
	}

	s.log.Errorf("Match %d: settlement failed, parking outcome: %v", res.MatchID, err)
	b, encErr := encodePending(res)
	if encErr != nil {
		return fmt.Errorf("%v (and failed to encode outcome: %v)", err, encErr)
	}
	if perr := s.store.MarkSettlePending(ctx, res.MatchID, b); perr != nil &&
		!errors.Is(perr, ErrAlreadySettled) {
		s.log.Errorf("Match %d: failed to park outcome: %v", res.MatchID, perr)
	}
	return err
}

func (s *Settler) settle(ctx context.Context, res RoomResult) error {
	m, err := s.store.Match(ctx, res.MatchID)
	if err != nil {
		return err
	}
	if m.Status == StatusCompleted {
		return fmt.Errorf("match %d: %w", m.ID, ErrAlreadySettled)
	}
	st, err := BuildSettlement(m, res)
	if err != nil {
		return err
	}
	if err := s.store.Settle(ctx, st); err != nil {
		return err
	}
	var paid int64
	for _, p := range st.Payouts {
		paid += p.Amount
	}
	s.log.Infof("Match %d settled: winner=%q tie=%v paid=%d of pot %d", m.ID, st.WinnerID,
		st.IsTie, paid, m.TotalPot)
	return nil
}

// RetryPending settles every parked outcome and returns how many
// succeeded.
func (s *Settler) RetryPending(ctx context.Context) (int, error) {
	pending, err := s.store.PendingSettlements(ctx)
	if err != nil {
		return 0, err
	}
	var settled int
	for _, p := range pending {
		res, err := decodePending(p.MatchID, p.Outcome)
		if err != nil {
			s.log.Errorf("%v", err)
			continue
		}
		if err := s.settle(ctx, res); err != nil {
			if !errors.Is(err, ErrAlreadySettled) {
				s.log.Warnf("Match %d: settlement retry failed: %v", p.MatchID, err)
			}
			continue
		}
		settled++
	}
	return settled, nil
}

// RunRetryLoop retries parked settlements immediately and then every
// interval until ctx ends.
func (s *Settler) RunRetryLoop(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := s.RetryPending(ctx)
		if err != nil {
			s.log.Errorf("Failed to list pending settlements: %v", err)
		} else if n > 0 {
			s.log.Infof("Settled %d pending matches", n)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
