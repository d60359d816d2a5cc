package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/vctt94/snakearena/pkg/arena"
	"gopkg.in/yaml.v3"
)

// MatchType is a lobby entry describing how matches of one kind are played.
type MatchType struct {
	Name              string `yaml:"name"`
	Description       string `yaml:"description"`
	EntryFee          int64  `yaml:"entryFee"`
	GridSize          int    `yaml:"gridSize"`
	Speed             string `yaml:"speed"`
	PlayersRequired   int    `yaml:"playersRequired"`
	MaxPlayers        int    `yaml:"maxPlayers"`
	WallSpawnInterval int    `yaml:"wallSpawnInterval"` // seconds, 0 disables
	HasBot            bool   `yaml:"hasBot"`
	HitThreshold      int    `yaml:"hitThreshold"`
	Penalty           string `yaml:"penalty"`
	DisplayOrder      int    `yaml:"displayOrder"`
	Active            *bool  `yaml:"active"`
}

// IsActive reports whether the type is offered in the lobby. Types are
// active unless explicitly disabled.
func (mt MatchType) IsActive() bool {
	return mt.Active == nil || *mt.Active
}

// Validate checks one catalog entry.
func (mt MatchType) Validate() error {
	if mt.Name == "" {
		return errors.New("match type without name")
	}
	if mt.EntryFee < 0 {
		return fmt.Errorf("match type %q: negative entry fee", mt.Name)
	}
	if mt.GridSize < 5 {
		return fmt.Errorf("match type %q: grid size %d too small", mt.Name, mt.GridSize)
	}
	if _, err := arena.ParseSpeed(mt.Speed); err != nil {
		return fmt.Errorf("match type %q: %w", mt.Name, err)
	}
	if mt.PlayersRequired < 1 || mt.MaxPlayers < mt.PlayersRequired {
		return fmt.Errorf("match type %q: invalid player bounds %d..%d", mt.Name,
			mt.PlayersRequired, mt.MaxPlayers)
	}
	if mt.WallSpawnInterval < 0 {
		return fmt.Errorf("match type %q: negative wall spawn interval", mt.Name)
	}
	switch arena.PenaltyModel(mt.Penalty) {
	case "", arena.PenaltyHitCounter, arena.PenaltyInstant:
	default:
		return fmt.Errorf("match type %q: unknown penalty %q", mt.Name, mt.Penalty)
	}
	return nil
}

// DefaultMatchTypes is the catalog used when the config file has none.
func DefaultMatchTypes() []MatchType {
	return []MatchType{
		{Name: "Quick Match", Description: "Fast 4-player match", EntryFee: 5, GridSize: 25,
			Speed: "FAST", PlayersRequired: 4, MaxPlayers: 4, WallSpawnInterval: 5, HasBot: true, DisplayOrder: 1},
		{Name: "Standard Arena", Description: "Classic 6-player match", EntryFee: 10, GridSize: 30,
			Speed: "MEDIUM", PlayersRequired: 6, MaxPlayers: 6, WallSpawnInterval: 5, HasBot: true, DisplayOrder: 2},
		{Name: "Speed Demon", Description: "Extreme speed, 4 players", EntryFee: 15, GridSize: 25,
			Speed: "EXTREME", PlayersRequired: 4, MaxPlayers: 4, WallSpawnInterval: 3, HasBot: true, DisplayOrder: 3},
		{Name: "Big Arena", Description: "8-player chaos", EntryFee: 25, GridSize: 35,
			Speed: "MEDIUM", PlayersRequired: 8, MaxPlayers: 8, WallSpawnInterval: 6, HasBot: true, DisplayOrder: 4},
		{Name: "High Stakes", Description: "Winner takes all, 6 players", EntryFee: 50, GridSize: 30,
			Speed: "FAST", PlayersRequired: 6, MaxPlayers: 6, WallSpawnInterval: 4, HasBot: false,
			Penalty: string(arena.PenaltyInstant), DisplayOrder: 5},
	}
}

// Config is the arena server configuration.
type Config struct {
	HTTPAddr  string `yaml:"httpAddr"`
	AdminAddr string `yaml:"adminAddr"`
	DBPath    string `yaml:"dbPath"`

	LogFile     string `yaml:"logFile"`
	DebugLevel  string `yaml:"debugLevel"`
	MaxLogFiles int    `yaml:"maxLogFiles"`

	CountdownSeconds    int           `yaml:"countdownSeconds"`
	SettleRetryInterval time.Duration `yaml:"settleRetryInterval"`
	StatsInterval       time.Duration `yaml:"statsInterval"`
	ReplayFrames        int           `yaml:"replayFrames"`
	// BotAvoidancePercent is the chance bots notice a hazard ahead.
	BotAvoidancePercent int `yaml:"botAvoidancePercent"`

	MatchTypes []MatchType `yaml:"matchTypes"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		HTTPAddr:            "127.0.0.1:8080",
		AdminAddr:           "127.0.0.1:9090",
		DBPath:              "snakearena.sqlite",
		DebugLevel:          "info",
		MaxLogFiles:         3,
		CountdownSeconds:    10,
		SettleRetryInterval: time.Minute,
		StatsInterval:       time.Minute,
		ReplayFrames:        arena.DefaultReplayFrames,
		BotAvoidancePercent: 100,
	}
}

// Load reads the YAML file at path over the defaults. An empty path yields
// the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	if len(cfg.MatchTypes) == 0 {
		cfg.MatchTypes = DefaultMatchTypes()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the whole configuration.
func (c *Config) Validate() error {
	if c.HTTPAddr == "" {
		return errors.New("httpAddr is required")
	}
	if c.DBPath == "" {
		return errors.New("dbPath is required")
	}
	if c.CountdownSeconds < 0 {
		return errors.New("countdownSeconds must not be negative")
	}
	if c.SettleRetryInterval <= 0 {
		return errors.New("settleRetryInterval must be positive")
	}
	if c.BotAvoidancePercent < 0 || c.BotAvoidancePercent > 100 {
		return fmt.Errorf("botAvoidancePercent %d out of range", c.BotAvoidancePercent)
	}
	seen := make(map[string]bool, len(c.MatchTypes))
	for _, mt := range c.MatchTypes {
		if err := mt.Validate(); err != nil {
			return err
		}
		if seen[mt.Name] {
			return fmt.Errorf("duplicate match type %q", mt.Name)
		}
		seen[mt.Name] = true
	}
	return nil
}

// Countdown returns the pre-match countdown as a duration.
func (c *Config) Countdown() time.Duration {
	return time.Duration(c.CountdownSeconds) * time.Second
}
