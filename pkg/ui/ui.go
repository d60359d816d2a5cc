package ui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/client"
)

type menuOption string

const (
	optionForceStart menuOption = "Force Start (pay for empty seats)"
	optionLeave      menuOption = "Leave Match"
	optionBack       menuOption = "Back to Menu"
)

// screenState represents the current screen in the UI
type screenState int

const (
	stateMainMenu screenState = iota
	stateWaiting
	stateGame
	stateGameOver
)

const pollInterval = 2 * time.Second

// Model contains all the state for our UI
type Model struct {
	ctx   context.Context
	d     *CommandDispatcher
	self  arena.ParticipantID
	state screenState
	err   error

	// Temporary message
	message string

	account      *client.Account
	types        []client.MatchType
	selectedItem int

	matchID         int64
	currentPlayers  int
	playersRequired int
	waitingOptions  []menuOption

	countdown int
	color     string
	snap      *client.StateMsg
	over      *client.GameOverMsg
}

// NewModel creates a new UI model
func NewModel(ctx context.Context, c *client.ArenaClient) Model {
	return Model{
		ctx:            ctx,
		d:              NewCommandDispatcher(ctx, c),
		self:           arena.Human(c.AccountID()),
		state:          stateMainMenu,
		waitingOptions: []menuOption{optionForceStart, optionLeave, optionBack},
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.d.accountCmd(), m.d.matchTypesCmd())
}

func pollCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
}

func (m Model) toMenu() (Model, tea.Cmd) {
	m.state = stateMainMenu
	m.selectedItem = 0
	m.matchID = 0
	m.snap = nil
	m.over = nil
	m.countdown = 0
	m.d.c.Disconnect()
	return m, tea.Batch(m.d.accountCmd(), m.d.matchTypesCmd())
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case errorMsg:
		m.err = msg
		return m, nil

	case accountMsg:
		m.account = msg
		return m, nil

	case matchTypesMsg:
		m.types = msg
		if m.selectedItem >= len(m.types) {
			m.selectedItem = 0
		}
		return m, nil

	case joinedMsg:
		m.err = nil
		m.matchID = msg.MatchID
		m.currentPlayers = msg.CurrentPlayers
		m.playersRequired = msg.PlayersRequired
		m.selectedItem = 0
		if msg.Starting {
			m.state = stateGame
			return m, m.d.connectCmd(msg.MatchID)
		}
		m.state = stateWaiting
		return m, pollCmd()

	case pollMsg:
		if m.state != stateWaiting {
			return m, nil
		}
		return m, tea.Batch(m.d.matchInfoCmd(m.matchID), pollCmd())

	case matchInfoMsg:
		if m.state != stateWaiting || msg.ID != m.matchID {
			return m, nil
		}
		m.currentPlayers = msg.CurrentPlayers
		switch msg.Status {
		case "STARTING":
			m.state = stateGame
			return m, m.d.connectCmd(m.matchID)
		case "CANCELLED":
			m.message = fmt.Sprintf("Match #%d was cancelled", m.matchID)
			return m.toMenu()
		}
		return m, nil

	case leftMsg:
		m.message = fmt.Sprintf("Left match, refunded %d", msg.Refund)
		return m.toMenu()

	case forceStartedMsg:
		m.message = fmt.Sprintf("Paid %d for %d empty seats", msg.Cost, msg.Missing)
		m.state = stateGame
		return m, m.d.connectCmd(m.matchID)

	case connectedMsg:
		m.err = nil
		return m, m.d.waitForUpdate()

	case client.StateMsg:
		m.snap = &msg
		if msg.Tick > 0 {
			m.countdown = 0
		}
		return m, m.d.waitForUpdate()

	case client.CountdownMsg:
		m.countdown = msg.Seconds
		return m, m.d.waitForUpdate()

	case client.PlayerColorMsg:
		m.color = msg.Color
		return m, m.d.waitForUpdate()

	case client.GameOverMsg:
		m.over = &msg
		m.state = stateGameOver
		return m, m.d.waitForUpdate()

	case client.ServerErrorMsg:
		m.err = fmt.Errorf("server: %s", msg.Message)
		return m, m.d.waitForUpdate()

	case client.DisconnectedMsg:
		if m.state == stateGame {
			m.message = "Disconnected from match"
			return m.toMenu()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	key := msg.String()
	if key == "ctrl+c" {
		m.d.c.Disconnect()
		return m, tea.Quit
	}

	switch m.state {
	case stateMainMenu:
		switch key {
		case "q":
			return m, tea.Quit
		case "up", "k":
			m.selectedItem = max(0, m.selectedItem-1)
		case "down", "j":
			m.selectedItem = max(0, min(len(m.types)-1, m.selectedItem+1))
		case "r":
			m.err, m.message = nil, ""
			return m, tea.Batch(m.d.accountCmd(), m.d.matchTypesCmd())
		case "enter":
			if m.selectedItem < len(m.types) {
				m.err, m.message = nil, ""
				return m, m.d.joinCmd(m.types[m.selectedItem].ID)
			}
		}

	case stateWaiting:
		switch key {
		case "q", "esc":
			return m.toMenu()
		case "up", "k":
			m.selectedItem = max(0, m.selectedItem-1)
		case "down", "j":
			m.selectedItem = min(len(m.waitingOptions)-1, m.selectedItem+1)
		case "enter":
			switch m.waitingOptions[m.selectedItem] {
			case optionForceStart:
				return m, m.d.forceStartCmd(m.matchID)
			case optionLeave:
				return m, m.d.leaveCmd(m.matchID)
			case optionBack:
				return m.toMenu()
			}
		}

	case stateGame:
		if key == "q" || key == "esc" {
			return m.toMenu()
		}
		if dir, ok := steerKeys[key]; ok {
			return m, m.d.steerCmd(dir)
		}

	case stateGameOver:
		switch key {
		case "q", "esc", "enter":
			return m.toMenu()
		}
	}
	return m, nil
}

var steerKeys = map[string]arena.Direction{
	"up": arena.Up, "w": arena.Up,
	"down": arena.Down, "s": arena.Down,
	"left": arena.Left, "a": arena.Left,
	"right": arena.Right, "d": arena.Right,
}

func (m Model) View() string {
	var view string
	switch m.state {
	case stateWaiting:
		view = m.renderWaiting()
	case stateGame:
		view = m.renderGame()
	case stateGameOver:
		view = m.renderGameOver()
	default:
		view = m.renderMainMenu()
	}
	if m.message != "" {
		view += "\n" + gameInfoStyle.Render(m.message)
	}
	if m.err != nil {
		view += "\n" + errorStyle.Render("Error: "+m.err.Error())
	}
	return view
}
