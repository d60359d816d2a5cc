package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
)

type matchTypeView struct {
	ID                int64  `json:"id"`
	Name              string `json:"name"`
	Description       string `json:"description"`
	EntryFee          int64  `json:"entryFee"`
	GridSize          int    `json:"gridSize"`
	Speed             string `json:"speed"`
	PlayersRequired   int    `json:"playersRequired"`
	MaxPlayers        int    `json:"maxPlayers"`
	WallSpawnInterval int    `json:"wallSpawnInterval"`
	HasBot            bool   `json:"hasBot"`
	Penalty           string `json:"penalty"`
}

type participantView struct {
	Username   string `json:"username"`
	IsBot      bool   `json:"isBot"`
	Score      int    `json:"score"`
	Hits       int    `json:"hits"`
	Placement  int    `json:"placement,omitempty"`
	CoinReward int64  `json:"coinReward"`
}

type matchView struct {
	ID              int64             `json:"id"`
	Type            string            `json:"type"`
	Status          string            `json:"status"`
	GridSize        int               `json:"gridSize"`
	Speed           string            `json:"speed"`
	CurrentPlayers  int               `json:"currentPlayers"`
	PlayersRequired int               `json:"playersRequired"`
	TotalPot        int64             `json:"totalPot"`
	WinnerID        string            `json:"winnerId,omitempty"`
	IsTie           bool              `json:"isTie"`
	Participants    []participantView `json:"participants"`
}

type accountView struct {
	ID           int64  `json:"id"`
	Username     string `json:"username"`
	Coins        int64  `json:"coins"`
	TotalWins    int    `json:"totalWins"`
	TotalMatches int    `json:"totalMatches"`
}

type joinRequest struct {
	MatchTypeID int64 `json:"matchTypeId"`
}

type joinResponse struct {
	MatchID         int64 `json:"matchId"`
	CurrentPlayers  int   `json:"currentPlayers"`
	PlayersRequired int   `json:"playersRequired"`
	Balance         int64 `json:"balance"`
	AlreadyJoined   bool  `json:"alreadyJoined"`
	Starting        bool  `json:"starting"`
}

type leaveResponse struct {
	Refund    int64 `json:"refund"`
	Balance   int64 `json:"balance"`
	Cancelled bool  `json:"cancelled"`
}

type forceStartResponse struct {
	Missing int   `json:"missing"`
	Cost    int64 `json:"cost"`
	Balance int64 `json:"balance"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusUnauthorized
	case errors.Is(err, ErrMatchNotFound), errors.Is(err, ErrMatchTypeNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrNotParticipant):
		return http.StatusForbidden
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrMatchFull), errors.Is(err, ErrMatchStarted),
		errors.Is(err, ErrAlreadySettled), errors.Is(err, ErrUsernameTaken):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusFor(err)
	msg := err.Error()
	if code == http.StatusInternalServerError {
		s.log.Errorf("Request failed: %v", err)
		msg = "internal error"
	}
	writeJSON(w, code, errorMessage{Type: msgError, Message: msg})
}

// requireAccount resolves the caller or writes a 401.
func (s *Server) requireAccount(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := accountFromRequest(r)
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, errorMessage{Type: msgError, Message: err.Error()})
		return 0, false
	}
	return id, true
}

func pathMatchID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("matchID"), 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorMessage{Type: msgError, Message: "invalid match id"})
		return 0, false
	}
	return id, true
}

func (s *Server) handleMatchTypes(w http.ResponseWriter, r *http.Request) {
	types, err := s.db.MatchTypes(r.Context(), false)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]matchTypeView, 0, len(types))
	for _, mt := range types {
		out = append(out, matchTypeView{
			ID:                mt.ID,
			Name:              mt.Name,
			Description:       mt.Description,
			EntryFee:          mt.EntryFee,
			GridSize:          mt.GridSize,
			Speed:             mt.Speed,
			PlayersRequired:   mt.PlayersRequired,
			MaxPlayers:        mt.MaxPlayers,
			WallSpawnInterval: mt.WallSpawnInterval,
			HasBot:            mt.HasBot,
			Penalty:           mt.Penalty,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleAccount(w http.ResponseWriter, r *http.Request) {
	id, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	a, err := s.db.Account(r.Context(), id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, accountView{
		ID:           a.ID,
		Username:     a.Username,
		Coins:        a.Coins,
		TotalWins:    a.TotalWins,
		TotalMatches: a.TotalMatches,
	})
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	var req joinRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.MatchTypeID <= 0 {
		writeJSON(w, http.StatusBadRequest, errorMessage{Type: msgError, Message: "matchTypeId required"})
		return
	}
	res, err := s.db.Join(r.Context(), accountID, req.MatchTypeID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !res.AlreadyJoined {
		s.log.Infof("Account %d joined match %d (%d/%d)", accountID, res.MatchID,
			res.CurrentPlayers, res.PlayersRequired)
	}
	if res.Starting {
		s.launchIfLive(res.MatchID)
	}
	writeJSON(w, http.StatusOK, joinResponse{
		MatchID:         res.MatchID,
		CurrentPlayers:  res.CurrentPlayers,
		PlayersRequired: res.PlayersRequired,
		Balance:         res.Balance,
		AlreadyJoined:   res.AlreadyJoined,
		Starting:        res.Starting,
	})
}

func (s *Server) handleLeave(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	matchID, ok := pathMatchID(w, r)
	if !ok {
		return
	}
	res, err := s.db.Leave(r.Context(), accountID, matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Infof("Account %d left match %d, refunded %d", accountID, matchID, res.Refund)
	s.leaveRoom(r.Context(), matchID, accountID, res.Cancelled)
	writeJSON(w, http.StatusOK, leaveResponse{
		Refund:    res.Refund,
		Balance:   res.Balance,
		Cancelled: res.Cancelled,
	})
}

func (s *Server) handleForceStart(w http.ResponseWriter, r *http.Request) {
	accountID, ok := s.requireAccount(w, r)
	if !ok {
		return
	}
	matchID, ok := pathMatchID(w, r)
	if !ok {
		return
	}
	res, err := s.db.ForceStart(r.Context(), accountID, matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.log.Infof("Account %d force started match %d paying %d for %d seats", accountID, matchID,
		res.Cost, res.Missing)
	s.launchIfLive(matchID)
	writeJSON(w, http.StatusOK, forceStartResponse{
		Missing: res.Missing,
		Cost:    res.Cost,
		Balance: res.Balance,
	})
}

func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	matchID, ok := pathMatchID(w, r)
	if !ok {
		return
	}
	m, err := s.db.Match(r.Context(), matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	roster, err := s.db.Participants(r.Context(), matchID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	v := matchView{
		ID:              m.ID,
		Type:            m.Type.Name,
		Status:          m.Status,
		GridSize:        m.GridSize,
		Speed:           m.Speed,
		CurrentPlayers:  m.CurrentPlayers,
		PlayersRequired: m.PlayersRequired,
		TotalPot:        m.TotalPot,
		WinnerID:        m.WinnerID,
		IsTie:           m.IsTie,
		Participants:    make([]participantView, 0, len(roster)),
	}
	for _, p := range roster {
		v.Participants = append(v.Participants, participantView{
			Username:   p.Username,
			IsBot:      p.IsBot,
			Score:      p.Score,
			Hits:       p.Hits,
			Placement:  p.Placement,
			CoinReward: p.CoinReward,
		})
	}
	writeJSON(w, http.StatusOK, v)
}
