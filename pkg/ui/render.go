package ui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/client"
)

const (
	glyphEmpty = "· "
	glyphWall  = "██"
	glyphSelf  = "◉ "
	glyphOther = "● "
	glyphDead  = "✕ "
)

// renderGrid draws the board. Every cell is two columns wide so the grid
// looks square in most terminals.
func renderGrid(snap *client.StateMsg, self arena.ParticipantID) string {
	n := snap.GridSize
	cells := make([][]string, n)
	for y := range cells {
		cells[y] = make([]string, n)
		for x := range cells[y] {
			cells[y][x] = emptyStyle.Render(glyphEmpty)
		}
	}
	put := func(x, y int, s string) {
		if x >= 0 && y >= 0 && x < n && y < n {
			cells[y][x] = s
		}
	}

	for _, w := range snap.Walls {
		put(w.X, w.Y, wallStyle.Render(glyphWall))
	}
	for _, h := range snap.PendingHazards {
		put(h.X, h.Y, pendingStyle.Render(fmt.Sprintf("%-2d", h.TicksLeft)))
	}

	// Dead first so a living head always wins the cell.
	for _, alive := range []bool{false, true} {
		for id, p := range snap.Players {
			if p.Alive != alive {
				continue
			}
			switch {
			case !p.Alive:
				put(p.X, p.Y, deadStyle.Render(glyphDead))
			case id == self:
				put(p.X, p.Y, playerStyle(p.PlayerColor, true).Render(glyphSelf))
			default:
				put(p.X, p.Y, playerStyle(p.PlayerColor, false).Render(glyphOther))
			}
		}
	}

	rows := make([]string, n)
	for y := range cells {
		rows[y] = strings.Join(cells[y], "")
	}
	return boardStyle.Render(strings.Join(rows, "\n"))
}

// sortedPlayers orders players by score, then by id.
func sortedPlayers(players map[arena.ParticipantID]arena.PlayerState) []arena.ParticipantID {
	ids := make([]arena.ParticipantID, 0, len(players))
	for id := range players {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		a, b := players[ids[i]], players[ids[j]]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		return ids[i].Less(ids[j])
	})
	return ids
}

func renderScoreboard(snap *client.StateMsg, self arena.ParticipantID) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Tick %d  Alive %d\n\n", snap.Tick, snap.AliveCount)
	for _, id := range sortedPlayers(snap.Players) {
		p := snap.Players[id]
		name := p.Username
		if id == self {
			name += " (you)"
		}
		status := playerStyle(p.PlayerColor, id == self).Render(glyphOther)
		if !p.Alive {
			status = deadStyle.Render(glyphDead)
		}
		fmt.Fprintf(&b, "%s%-16s %3d pts %3d hits\n", status, name, p.Score, p.HitCount)
	}
	return scoreboardStyle.Render(strings.TrimRight(b.String(), "\n"))
}

func (m Model) renderMainMenu() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render("Snake Arena"))
	b.WriteString("\n\n")
	if m.account != nil {
		b.WriteString(fmt.Sprintf("  %s  balance %d  wins %d/%d\n\n", m.account.Username,
			m.account.Coins, m.account.TotalWins, m.account.TotalMatches))
	}
	if len(m.types) == 0 {
		b.WriteString(blurredStyle.Render("  No match types available"))
		b.WriteString("\n")
	}
	for i, mt := range m.types {
		line := fmt.Sprintf("%s  fee %d  %dx%d %s  %d-%d players", mt.Name, mt.EntryFee,
			mt.GridSize, mt.GridSize, strings.ToLower(mt.Speed), mt.PlayersRequired, mt.MaxPlayers)
		if mt.HasBot {
			line += "  +bot"
		}
		if i == m.selectedItem {
			b.WriteString(focusedStyle.Render("> " + line))
		} else {
			b.WriteString(blurredStyle.Render("  " + line))
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • enter join • r refresh • q quit"))
	return b.String()
}

func (m Model) renderWaiting() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Match #%d", m.matchID)))
	b.WriteString("\n")
	b.WriteString(gameInfoStyle.Render(fmt.Sprintf("Waiting for players: %d/%d",
		m.currentPlayers, m.playersRequired)))
	b.WriteString("\n\n")
	for i, opt := range m.waitingOptions {
		if i == m.selectedItem {
			b.WriteString(focusedStyle.Render("> " + string(opt)))
		} else {
			b.WriteString(blurredStyle.Render("  " + string(opt)))
		}
		b.WriteString("\n")
	}
	b.WriteString(helpStyle.Render("↑/↓ select • enter confirm • q back"))
	return b.String()
}

func (m Model) renderGame() string {
	if m.snap == nil || m.snap.GridSize == 0 {
		return titleStyle.Render(fmt.Sprintf("Match #%d", m.matchID)) + "\n\n  Connecting..."
	}
	board := lipgloss.JoinHorizontal(lipgloss.Top,
		renderGrid(m.snap, m.self), renderScoreboard(m.snap, m.self))

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Match #%d", m.matchID)))
	if m.color != "" {
		b.WriteString("  you are " + playerStyle(m.color, true).Render(glyphSelf))
	}
	b.WriteString("\n")
	if m.countdown > 0 && m.snap.Tick == 0 {
		b.WriteString(countdownStyle.Render(fmt.Sprintf("Starting in %d", m.countdown)))
		b.WriteString("\n")
	}
	b.WriteString(board)
	b.WriteString(helpStyle.Render("arrows/wasd steer • q leave"))
	return b.String()
}

func (m Model) renderGameOver() string {
	over := m.over
	var headline string
	switch {
	case over.Aborted:
		headline = "Match aborted, pot split"
	case over.IsTie:
		headline = "It's a tie!"
	case over.WinnerID != nil && *over.WinnerID == m.self:
		headline = "You won!"
	case over.WinnerUsername != nil:
		headline = *over.WinnerUsername + " wins"
	default:
		headline = "Game over"
	}

	ids := make([]arena.ParticipantID, 0, len(over.FinalScores))
	for id := range over.FinalScores {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if over.FinalScores[ids[i]] != over.FinalScores[ids[j]] {
			return over.FinalScores[ids[i]] > over.FinalScores[ids[j]]
		}
		return ids[i].Less(ids[j])
	})

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("Match #%d", over.MatchID)))
	b.WriteString("\n\n")
	b.WriteString(winnerStyle.Render(headline))
	b.WriteString("\n\n")
	for _, id := range ids {
		name := id.String()
		if m.snap != nil {
			if p, ok := m.snap.Players[id]; ok {
				name = p.Username
			}
		}
		fmt.Fprintf(&b, "  %-16s %3d pts %3d hits\n", name, over.FinalScores[id], over.FinalHits[id])
	}
	if over.ReplayData != nil {
		fmt.Fprintf(&b, "\n  Replay recorded: %d frames\n", len(over.ReplayData.Frames))
	}
	b.WriteString(helpStyle.Render("enter/q back to menu"))
	return b.String()
}
