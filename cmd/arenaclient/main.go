package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/vctt94/snakearena/pkg/client"
	"github.com/vctt94/snakearena/pkg/logging"
	"github.com/vctt94/snakearena/pkg/ui"
)

const appName = "arenaclient"

func main() {
	var (
		datadir string
		ov      client.ConfigOverrides
	)
	flag.StringVar(&datadir, "datadir", "", "Directory holding arenaclient.yaml and logs")
	flag.StringVar(&ov.ServerURL, "server", "", "Arena server base URL, e.g. http://127.0.0.1:8080")
	flag.Int64Var(&ov.AccountID, "account", 0, "Account id to play as")
	flag.StringVar(&ov.DebugLevel, "debuglevel", "", "Logging level for the log file")
	flag.Parse()

	cfg, err := client.LoadConfig(appName, datadir, ov)
	if err != nil {
		fmt.Printf("Configuration error: %v\n", err)
		os.Exit(1)
	}

	// The terminal belongs to the UI, so logs only go to the file.
	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:    cfg.LogFile,
		DebugLevel: cfg.DebugLevel,
		Quiet:      true,
	})
	if err != nil {
		fmt.Printf("Logging error: %v\n", err)
		os.Exit(1)
	}
	defer logBackend.Close()

	log := logBackend.Logger("CLNT")
	log.Infof("Using server %s as account %d", cfg.ServerURL, cfg.AccountID)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	c := client.NewArenaClient(cfg, log)
	defer c.Disconnect()

	p := tea.NewProgram(ui.NewModel(ctx, c), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil {
		log.Errorf("UI exited: %v", err)
		fmt.Printf("Error running program: %v\n", err)
		os.Exit(1)
	}
}
