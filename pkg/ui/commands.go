package ui

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vctt94/snakearena/pkg/arena"
	"github.com/vctt94/snakearena/pkg/client"
)

type errorMsg error
type accountMsg *client.Account
type matchTypesMsg []client.MatchType
type joinedMsg *client.JoinResult
type leftMsg *client.LeaveResult
type forceStartedMsg *client.ForceStartResult
type matchInfoMsg *client.MatchInfo
type connectedMsg int64
type pollMsg struct{}

// CommandDispatcher dispatches commands from the UI to the arena client.
type CommandDispatcher struct {
	ctx context.Context
	c   *client.ArenaClient
}

// NewCommandDispatcher creates a new command dispatcher for the UI.
func NewCommandDispatcher(ctx context.Context, c *client.ArenaClient) *CommandDispatcher {
	return &CommandDispatcher{ctx: ctx, c: c}
}

func (d *CommandDispatcher) accountCmd() tea.Cmd {
	return func() tea.Msg {
		a, err := d.c.Account(d.ctx)
		if err != nil {
			return errorMsg(err)
		}
		return accountMsg(a)
	}
}

func (d *CommandDispatcher) matchTypesCmd() tea.Cmd {
	return func() tea.Msg {
		types, err := d.c.MatchTypes(d.ctx)
		if err != nil {
			return errorMsg(err)
		}
		return matchTypesMsg(types)
	}
}

func (d *CommandDispatcher) joinCmd(matchTypeID int64) tea.Cmd {
	return func() tea.Msg {
		res, err := d.c.Join(d.ctx, matchTypeID)
		if err != nil {
			return errorMsg(err)
		}
		return joinedMsg(res)
	}
}

func (d *CommandDispatcher) leaveCmd(matchID int64) tea.Cmd {
	return func() tea.Msg {
		res, err := d.c.Leave(d.ctx, matchID)
		if err != nil {
			return errorMsg(err)
		}
		return leftMsg(res)
	}
}

func (d *CommandDispatcher) forceStartCmd(matchID int64) tea.Cmd {
	return func() tea.Msg {
		res, err := d.c.ForceStart(d.ctx, matchID)
		if err != nil {
			return errorMsg(err)
		}
		return forceStartedMsg(res)
	}
}

func (d *CommandDispatcher) matchInfoCmd(matchID int64) tea.Cmd {
	return func() tea.Msg {
		m, err := d.c.Match(d.ctx, matchID)
		if err != nil {
			return errorMsg(err)
		}
		return matchInfoMsg(m)
	}
}

func (d *CommandDispatcher) connectCmd(matchID int64) tea.Cmd {
	return func() tea.Msg {
		if err := d.c.Connect(d.ctx, matchID); err != nil {
			return errorMsg(err)
		}
		return connectedMsg(matchID)
	}
}

func (d *CommandDispatcher) steerCmd(dir arena.Direction) tea.Cmd {
	return func() tea.Msg {
		if err := d.c.ChangeDirection(dir); err != nil {
			return errorMsg(err)
		}
		return nil
	}
}

// waitForUpdate blocks until the match stream delivers a message.
func (d *CommandDispatcher) waitForUpdate() tea.Cmd {
	return func() tea.Msg {
		select {
		case msg := <-d.c.UpdatesCh:
			return msg
		case <-d.ctx.Done():
			return nil
		}
	}
}
