package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/decred/slog"
	"github.com/jrick/logrotate/rotator"
)

// LogConfig configures a LogBackend.
type LogConfig struct {
	// LogFile is the path of the rotating log file. Empty logs to stdout
	// only.
	LogFile string
	// DebugLevel is either a single level applied to every subsystem or a
	// comma separated list of SUBSYS=level pairs with an optional bare
	// default, e.g. "ROOM=debug,info".
	DebugLevel string
	// MaxLogFiles is the number of rolled files kept next to LogFile.
	MaxLogFiles int
	// MaxLogSizeKB is the size at which the log file is rolled.
	MaxLogSizeKB int64
	// Quiet disables the stdout copy.
	Quiet bool
}

// LogBackend hands out subsystem loggers that share one output.
type LogBackend struct {
	mtx          sync.Mutex
	backend      *slog.Backend
	rotator      *rotator.Rotator
	loggers      map[string]slog.Logger
	defaultLevel slog.Level
	levels       map[string]slog.Level
}

type logWriter struct {
	stdout  io.Writer
	rotator *rotator.Rotator
}

func (w logWriter) Write(p []byte) (int, error) {
	if w.stdout != nil {
		w.stdout.Write(p)
	}
	if w.rotator != nil {
		w.rotator.Write(p)
	}
	return len(p), nil
}

// NewLogBackend creates the backend described by cfg.
func NewLogBackend(cfg LogConfig) (*LogBackend, error) {
	lb := &LogBackend{
		loggers:      make(map[string]slog.Logger),
		defaultLevel: slog.LevelInfo,
		levels:       make(map[string]slog.Level),
	}
	if err := lb.parseLevels(cfg.DebugLevel); err != nil {
		return nil, err
	}

	w := logWriter{}
	if !cfg.Quiet {
		w.stdout = os.Stdout
	}
	if cfg.LogFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		maxFiles := cfg.MaxLogFiles
		if maxFiles <= 0 {
			maxFiles = 3
		}
		sizeKB := cfg.MaxLogSizeKB
		if sizeKB <= 0 {
			sizeKB = 10 * 1024
		}
		r, err := rotator.New(cfg.LogFile, sizeKB, false, maxFiles)
		if err != nil {
			return nil, fmt.Errorf("failed to create file rotator: %w", err)
		}
		lb.rotator = r
		w.rotator = r
	}
	lb.backend = slog.NewBackend(w)
	return lb, nil
}

func (lb *LogBackend) parseLevels(spec string) error {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil
	}
	for _, part := range strings.Split(spec, ",") {
		part = strings.TrimSpace(part)
		subsys, lvl, hasSubsys := strings.Cut(part, "=")
		if !hasSubsys {
			lvl = subsys
		}
		level, ok := slog.LevelFromString(lvl)
		if !ok {
			return fmt.Errorf("invalid log level %q", lvl)
		}
		if hasSubsys {
			lb.levels[strings.ToUpper(subsys)] = level
		} else {
			lb.defaultLevel = level
		}
	}
	return nil
}

// Logger returns the logger for subsystem, creating it on first use.
func (lb *LogBackend) Logger(subsystem string) slog.Logger {
	if lb == nil || lb.backend == nil {
		return slog.Disabled
	}
	lb.mtx.Lock()
	defer lb.mtx.Unlock()
	if l, ok := lb.loggers[subsystem]; ok {
		return l
	}
	l := lb.backend.Logger(subsystem)
	level, ok := lb.levels[strings.ToUpper(subsystem)]
	if !ok {
		level = lb.defaultLevel
	}
	l.SetLevel(level)
	lb.loggers[subsystem] = l
	return l
}

// SetLevels re-applies a level spec to every existing logger.
func (lb *LogBackend) SetLevels(spec string) error {
	lb.mtx.Lock()
	defer lb.mtx.Unlock()
	lb.defaultLevel = slog.LevelInfo
	lb.levels = make(map[string]slog.Level)
	if err := lb.parseLevels(spec); err != nil {
		return err
	}
	for name, l := range lb.loggers {
		level, ok := lb.levels[strings.ToUpper(name)]
		if !ok {
			level = lb.defaultLevel
		}
		l.SetLevel(level)
	}
	return nil
}

// Subsystems returns the names of the loggers handed out so far.
func (lb *LogBackend) Subsystems() []string {
	lb.mtx.Lock()
	defer lb.mtx.Unlock()
	names := make([]string, 0, len(lb.loggers))
	for name := range lb.loggers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close flushes and closes the log file, if any.
func (lb *LogBackend) Close() error {
	if lb == nil || lb.rotator == nil {
		return nil
	}
	return lb.rotator.Close()
}
