// Package config loads the dqmote host configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v3"

	"github.com/fentz26/dqmote/internal/dq"
	"github.com/fentz26/dqmote/internal/fsa"
	"github.com/fentz26/dqmote/internal/mac"
	"github.com/fentz26/dqmote/internal/sim"
	"github.com/fentz26/dqmote/internal/wor"
)

// DefaultPath is where the configuration lives unless overridden.
const DefaultPath = "~/.dqmote/config.yaml"

// Config holds the host configuration.
type Config struct {
	Mote  MoteConfig  `yaml:"mote"`
	WOR   wor.Config  `yaml:"wor"`
	Sim   SimConfig   `yaml:"sim"`
	Store StoreConfig `yaml:"store"`
	API   APIConfig   `yaml:"api"`
	Probe ProbeConfig `yaml:"probe"`
}

// MoteConfig describes the experiment a gateway is started with.
type MoteConfig struct {
	// MAC is the protocol name: dq or fsa.
	MAC           string `yaml:"mac"`
	Slots         uint8  `yaml:"slots"`
	Channel       uint8  `yaml:"channel"`
	RSSIThreshold int8   `yaml:"rssi_threshold"`
	DQUnsync      uint8  `yaml:"dq_unsync_errors"`
	FSAUnsync     uint8  `yaml:"fsa_unsync_errors"`
	// Duration of an experiment in start command units (33 ticks).
	Duration uint16 `yaml:"duration"`
}

// SimConfig describes a simulated experiment.
type SimConfig struct {
	Nodes       int     `yaml:"nodes"`
	Seed        int64   `yaml:"seed"`
	Loss        float64 `yaml:"loss"`
	Rounds      int     `yaml:"rounds"`
	RSSI        int8    `yaml:"rssi"`
	Noise       int8    `yaml:"noise"`
	WakeOnRadio bool    `yaml:"wake_on_radio"`
}

// StoreConfig locates the experiment database.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Listen string `yaml:"listen"`
}

// ProbeConfig configures the serial link to a gateway.
type ProbeConfig struct {
	Port string `yaml:"port"`
	Baud uint   `yaml:"baud"`
}

// DefaultConfig returns the firmware defaults.
func DefaultConfig() *Config {
	return &Config{
		Mote: MoteConfig{
			MAC:           "dq",
			Slots:         4,
			Channel:       mac.DefaultChannel,
			RSSIThreshold: dq.RSSIThreshold,
			DQUnsync:      dq.UnsyncErrors,
			FSAUnsync:     fsa.UnsyncErrors,
		},
		WOR: wor.DefaultConfig(),
		Sim: SimConfig{
			Nodes:  4,
			Seed:   1,
			Rounds: 100,
			RSSI:   -40,
			Noise:  -100,
		},
		Store: StoreConfig{Path: "~/.dqmote/dqmote.db"},
		API:   APIConfig{Listen: "127.0.0.1:7480"},
		Probe: ProbeConfig{Port: "/dev/ttyUSB0", Baud: 115200},
	}
}

// Load reads the configuration at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	path, err := homedir.Expand(path)
	if err != nil {
		return nil, fmt.Errorf("expanding config path: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Save writes cfg to path, creating parent directories if needed.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	path, err := homedir.Expand(path)
	if err != nil {
		return fmt.Errorf("expanding config path: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if t, ok := mac.ParseType(c.Mote.MAC); !ok || t == mac.TypeNone {
		return fmt.Errorf("invalid mac %q, must be: dq or fsa", c.Mote.MAC)
	}
	if c.Mote.Slots < 1 {
		return fmt.Errorf("slots must be at least 1")
	}
	if c.Mote.Channel < 11 || c.Mote.Channel > 26 {
		return fmt.Errorf("channel %d out of range 11-26", c.Mote.Channel)
	}
	if c.Mote.DQUnsync < 1 || c.Mote.FSAUnsync < 1 {
		return fmt.Errorf("unsync error budgets must be at least 1")
	}
	if c.WOR.TxPeriod == 0 || c.WOR.RxDuration == 0 || c.WOR.RxDuration >= c.WOR.RxPeriod {
		return fmt.Errorf("wor: rx_duration must be positive and below rx_period, tx_period positive")
	}
	if c.Sim.Nodes < 0 {
		return fmt.Errorf("sim nodes cannot be negative")
	}
	if c.Sim.Loss < 0 || c.Sim.Loss > 1 {
		return fmt.Errorf("sim loss %.2f out of range 0-1", c.Sim.Loss)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path cannot be empty")
	}
	return nil
}

// MACType returns the configured protocol.
func (c *Config) MACType() mac.Type {
	t, _ := mac.ParseType(c.Mote.MAC)
	return t
}

// StorePath returns the database path with ~ expanded.
func (c *Config) StorePath() (string, error) {
	return homedir.Expand(c.Store.Path)
}

// SimConfig builds the simulator configuration.
func (c *Config) SimConfig() sim.Config {
	cfg := sim.DefaultConfig()
	cfg.Nodes = c.Sim.Nodes
	cfg.Seed = c.Sim.Seed
	cfg.Protocol = c.MACType()
	cfg.Slots = c.Mote.Slots
	cfg.Channel = c.Mote.Channel
	cfg.RSSIThreshold = c.Mote.RSSIThreshold
	cfg.DQUnsync = c.Mote.DQUnsync
	cfg.FSAUnsync = c.Mote.FSAUnsync
	cfg.Duration = c.Mote.Duration
	cfg.Loss = c.Sim.Loss
	cfg.RSSI = c.Sim.RSSI
	cfg.Noise = c.Sim.Noise
	cfg.WakeOnRadio = c.Sim.WakeOnRadio
	cfg.WOR = c.WOR
	return cfg
}
