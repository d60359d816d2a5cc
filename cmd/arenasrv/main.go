package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pbnjay/memory"
	"github.com/vctt94/snakearena/pkg/config"
	"github.com/vctt94/snakearena/pkg/logging"
	"github.com/vctt94/snakearena/pkg/server"
	"golang.org/x/sync/errgroup"
)

func main() {
	var (
		configPath string
		dbPath     string
		httpAddr   string
		adminAddr  string
		debugLevel string
		logFile    string
	)
	flag.StringVar(&configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&dbPath, "db", "", "Path to SQLite database file (created if missing)")
	flag.StringVar(&httpAddr, "http", "", "Address for the lobby API and match websockets")
	flag.StringVar(&adminAddr, "admin", "", "Address for the gRPC health service (empty disables)")
	flag.StringVar(&debugLevel, "debuglevel", "", "Logging level, e.g. info or ROOM=debug,info")
	flag.StringVar(&logFile, "logfile", "", "Path to rotating log file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if httpAddr != "" {
		cfg.HTTPAddr = httpAddr
	}
	if adminAddr != "" {
		cfg.AdminAddr = adminAddr
	}
	if debugLevel != "" {
		cfg.DebugLevel = debugLevel
	}
	if logFile != "" {
		cfg.LogFile = logFile
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	logBackend, err := logging.NewLogBackend(logging.LogConfig{
		LogFile:     cfg.LogFile,
		DebugLevel:  cfg.DebugLevel,
		MaxLogFiles: cfg.MaxLogFiles,
	})
	if err != nil {
		return fmt.Errorf("failed to init logging: %w", err)
	}
	defer logBackend.Close()
	log := logBackend.Logger("MAIN")
	log.Infof("Starting arena server (%d MiB system memory)", memory.TotalMemory()/(1<<20))

	db, err := server.NewDatabase(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("failed to init db: %w", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, mt := range cfg.MatchTypes {
		id, err := db.UpsertMatchType(ctx, server.MatchType{
			Name:              mt.Name,
			Description:       mt.Description,
			EntryFee:          mt.EntryFee,
			GridSize:          mt.GridSize,
			Speed:             mt.Speed,
			PlayersRequired:   mt.PlayersRequired,
			MaxPlayers:        mt.MaxPlayers,
			WallSpawnInterval: mt.WallSpawnInterval,
			HasBot:            mt.HasBot,
			HitThreshold:      mt.HitThreshold,
			Penalty:           mt.Penalty,
			DisplayOrder:      mt.DisplayOrder,
			Active:            mt.IsActive(),
		})
		if err != nil {
			return fmt.Errorf("failed to store match type %q: %w", mt.Name, err)
		}
		log.Debugf("Match type %q has id %d", mt.Name, id)
	}

	srv := server.NewServer(db, logBackend, server.Config{
		Countdown:           cfg.Countdown(),
		ReplayFrames:        cfg.ReplayFrames,
		BotAvoidancePercent: cfg.BotAvoidancePercent,
	})
	defer srv.Stop()

	if err := srv.RecoverInterrupted(ctx); err != nil {
		return fmt.Errorf("failed to recover interrupted matches: %w", err)
	}

	httpSrv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Infof("Listening on %s", cfg.HTTPAddr)
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(sctx)
	})

	if cfg.AdminAddr != "" {
		grpcSrv, health := server.NewAdminServer()
		lis, err := net.Listen("tcp", cfg.AdminAddr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", cfg.AdminAddr, err)
		}
		g.Go(func() error {
			log.Infof("Health service on %s", cfg.AdminAddr)
			return grpcSrv.Serve(lis)
		})
		g.Go(func() error {
			server.SetServing(health, true)
			<-gctx.Done()
			server.SetServing(health, false)
			grpcSrv.GracefulStop()
			return nil
		})
	}

	g.Go(func() error { return srv.RunSettlementRetry(gctx, cfg.SettleRetryInterval) })
	g.Go(func() error { return srv.RunStats(gctx, cfg.StatsInterval) })

	err = g.Wait()
	log.Infof("Arena server stopped")
	return err
}
