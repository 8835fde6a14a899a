// Package config loads server settings from YAML or TOML files and TLCOPT_*
// environment variables.
package config

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"tlcopt/internal/controlid"
	"tlcopt/internal/model"
	"tlcopt/internal/storage"
	"tlcopt/internal/wire"
)

const (
	DefaultInstanceID   = 1
	DefaultBasePort     = 1234
	DefaultAPIExtension = "tlc_api"
	DefaultArtifactsDir = "sessions"
	DefaultStorePath    = "tlcopt.db"
)

type Config struct {
	InstanceID       int           `yaml:"instance_id" toml:"instance_id"`
	BasePort         int           `yaml:"base_port" toml:"base_port"`
	ListenHost       string        `yaml:"listen_host" toml:"listen_host"`
	Network          string        `yaml:"network" toml:"network"`
	Controller       string        `yaml:"controller" toml:"controller"`
	AnnounceInitDone bool          `yaml:"announce_init_done" toml:"announce_init_done"`
	Framing          string        `yaml:"framing" toml:"framing"`
	ReadSize         int           `yaml:"read_size" toml:"read_size"`
	ReadTimeout      time.Duration `yaml:"read_timeout" toml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout" toml:"write_timeout"`
	APIExtension     string        `yaml:"api_extension" toml:"api_extension"`
	ArtifactsDir     string        `yaml:"artifacts_dir" toml:"artifacts_dir"`
	MetricsAddr      string        `yaml:"metrics_addr" toml:"metrics_addr"`
	Simulator        Simulator     `yaml:"simulator" toml:"simulator"`
	Store            Store         `yaml:"store" toml:"store"`
	Log              Log           `yaml:"log" toml:"log"`
}

// Simulator configures an external simulator process. An empty command runs
// replications as dry runs.
type Simulator struct {
	Command string        `yaml:"command" toml:"command"`
	Args    []string      `yaml:"args" toml:"args"`
	Timeout time.Duration `yaml:"timeout" toml:"timeout"`
}

type Store struct {
	Kind string `yaml:"kind" toml:"kind"`
	// Path is the sqlite file; DSN the postgres connection string.
	Path string `yaml:"path" toml:"path"`
	DSN  string `yaml:"dsn" toml:"dsn"`
	// Database, Driver and User describe the simulator's result database.
	Database string `yaml:"database" toml:"database"`
	Driver   string `yaml:"driver" toml:"driver"`
	User     string `yaml:"user" toml:"user"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

func Default() Config {
	return Config{
		InstanceID:   DefaultInstanceID,
		BasePort:     DefaultBasePort,
		Controller:   string(model.ControllerFixedTime),
		Framing:      string(wire.FramingRaw),
		ReadSize:     wire.DefaultReadSize,
		APIExtension: DefaultAPIExtension,
		ArtifactsDir: DefaultArtifactsDir,
		Store: Store{
			Kind:   storage.DefaultStoreKind(),
			Path:   DefaultStorePath,
			Driver: "postgres",
			User:   "otc",
		},
		Log: Log{Level: "info", Format: "text"},
	}
}

// Load reads a config file on top of the defaults. The format follows the
// file extension.
func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && err != io.EOF {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	case ".toml":
		meta, err := toml.Decode(string(data), &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("parse config %s: unknown key %s", path, undecoded[0])
		}
	default:
		return Config{}, fmt.Errorf("unsupported config format: %s", path)
	}
	return cfg, nil
}

// ApplyEnv overrides fields from TLCOPT_* variables.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"TLCOPT_LISTEN_HOST":   &c.ListenHost,
		"TLCOPT_NETWORK":       &c.Network,
		"TLCOPT_CONTROLLER":    &c.Controller,
		"TLCOPT_FRAMING":       &c.Framing,
		"TLCOPT_API_EXTENSION": &c.APIExtension,
		"TLCOPT_ARTIFACTS_DIR": &c.ArtifactsDir,
		"TLCOPT_METRICS_ADDR":  &c.MetricsAddr,
		"TLCOPT_SIMULATOR":     &c.Simulator.Command,
		"TLCOPT_STORE":         &c.Store.Kind,
		"TLCOPT_STORE_PATH":    &c.Store.Path,
		"TLCOPT_PG_DSN":        &c.Store.DSN,
		"TLCOPT_DATABASE":      &c.Store.Database,
		"TLCOPT_LOG_LEVEL":     &c.Log.Level,
		"TLCOPT_LOG_FORMAT":    &c.Log.Format,
	}
	for key, target := range strs {
		if v, ok := lookup(key); ok {
			*target = v
		}
	}

	ints := map[string]*int{
		"TLCOPT_INSTANCE_ID": &c.InstanceID,
		"TLCOPT_BASE_PORT":   &c.BasePort,
		"TLCOPT_READ_SIZE":   &c.ReadSize,
	}
	for key, target := range ints {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*target = n
	}

	durations := map[string]*time.Duration{
		"TLCOPT_READ_TIMEOUT":  &c.ReadTimeout,
		"TLCOPT_WRITE_TIMEOUT": &c.WriteTimeout,
	}
	for key, target := range durations {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		d, err := time.ParseDuration(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*target = d
	}

	if v, ok := lookup("TLCOPT_ANNOUNCE_INIT_DONE"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("TLCOPT_ANNOUNCE_INIT_DONE: %w", err)
		}
		c.AnnounceInitDone = b
	}
	return nil
}

func (c Config) Validate() error {
	if c.InstanceID < 0 {
		return fmt.Errorf("instance id must be non-negative: %d", c.InstanceID)
	}
	if port := c.Port(); port < 1 || port > 65535 {
		return fmt.Errorf("listen port out of range: %d", port)
	}
	if _, ok := controlid.Parse(c.Controller); !ok {
		return fmt.Errorf("unsupported controller kind: %s", c.Controller)
	}
	if _, err := wire.ParseFraming(c.Framing); err != nil {
		return err
	}
	if c.ReadSize <= 0 {
		return fmt.Errorf("read size must be positive: %d", c.ReadSize)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 {
		return fmt.Errorf("timeouts must be non-negative")
	}
	switch c.Store.Kind {
	case storage.KindMemory, storage.KindSQLite:
	case storage.KindPostgres:
		if c.Store.DSN == "" {
			return fmt.Errorf("postgres store requires a dsn")
		}
	default:
		return fmt.Errorf("unsupported store backend: %s", c.Store.Kind)
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("unsupported log format: %s", c.Log.Format)
	}
	return nil
}

// Port is the listen port of this instance.
func (c Config) Port() int { return c.BasePort + c.InstanceID }

func (c Config) ListenAddr() string {
	return net.JoinHostPort(c.ListenHost, strconv.Itoa(c.Port()))
}

// ControllerKind returns the canonical controller kind.
func (c Config) ControllerKind() model.ControllerKind {
	kind, _ := controlid.Parse(c.Controller)
	return kind
}

// DatabaseName is the result database of this instance.
func (c Config) DatabaseName() string {
	if c.Store.Database != "" {
		return c.Store.Database
	}
	return fmt.Sprintf("layer2_%d", c.InstanceID)
}

// StoreTarget is the path or DSN handed to storage.NewStore.
func (c Config) StoreTarget() string {
	if c.Store.Kind == storage.KindPostgres {
		return c.Store.DSN
	}
	return c.Store.Path
}

func (c Config) WireOptions() wire.Options {
	framing, _ := wire.ParseFraming(c.Framing)
	return wire.Options{
		Framing:      framing,
		ReadSize:     c.ReadSize,
		ReadTimeout:  c.ReadTimeout,
		WriteTimeout: c.WriteTimeout,
	}
}

// NewLogger builds the process logger.
func (l Log) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := parseLevel(l.Level)
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	switch l.Format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "", "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, fmt.Errorf("unsupported log format: %s", l.Format)
	}
}

func parseLevel(name string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(name)); err != nil {
		return 0, fmt.Errorf("unsupported log level: %s", name)
	}
	return level, nil
}
