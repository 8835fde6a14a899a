package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"tlcopt/internal/model"
	"tlcopt/internal/wire"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate defaults: %v", err)
	}
	if cfg.Port() != 1235 || cfg.ListenAddr() != ":1235" {
		t.Fatalf("unexpected listen address %s", cfg.ListenAddr())
	}
	if cfg.DatabaseName() != "layer2_1" {
		t.Fatalf("database=%s", cfg.DatabaseName())
	}
	if cfg.ControllerKind() != model.ControllerFixedTime {
		t.Fatalf("controller=%s", cfg.ControllerKind())
	}
	if opts := cfg.WireOptions(); opts.Framing != wire.FramingRaw || opts.ReadSize != 1024 {
		t.Fatalf("unexpected wire options %+v", opts)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeFile(t, "tlcopt.yaml", `
instance_id: 3
network: nets/four_way.yaml
controller: nema
framing: line
read_timeout: 30s
simulator:
  command: ./simulate
  args: [--batch]
store:
  kind: memory
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.Port() != 1237 || cfg.ControllerKind() != model.ControllerActuated {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.ReadTimeout != 30*time.Second || cfg.WireOptions().Framing != wire.FramingLine {
		t.Fatalf("unexpected wire settings %+v", cfg.WireOptions())
	}
	if cfg.Simulator.Command != "./simulate" || len(cfg.Simulator.Args) != 1 {
		t.Fatalf("unexpected simulator %+v", cfg.Simulator)
	}
	if cfg.APIExtension != DefaultAPIExtension {
		t.Fatalf("expected default api extension, got %q", cfg.APIExtension)
	}
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "tlcopt.toml", `
instance_id = 2
controller = "external_ftc"
announce_init_done = true

[store]
kind = "postgres"
dsn = "postgres://otc@localhost/layer2"
database = "DB_L2_2"
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if cfg.ControllerKind() != model.ControllerExternal || !cfg.AnnounceInitDone {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if cfg.DatabaseName() != "DB_L2_2" || cfg.StoreTarget() != "postgres://otc@localhost/layer2" {
		t.Fatalf("unexpected store %+v", cfg.Store)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	for name, content := range map[string]string{
		"bad.yaml": "instance: 3\n",
		"bad.toml": "instance = 3\n",
		"bad.json": "{}",
	} {
		if _, err := Load(writeFile(t, name, content)); err == nil {
			t.Fatalf("expected error for %s", name)
		}
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"TLCOPT_INSTANCE_ID":        "4",
		"TLCOPT_CONTROLLER":         "actuated",
		"TLCOPT_READ_TIMEOUT":       "2s",
		"TLCOPT_ANNOUNCE_INIT_DONE": "true",
		"TLCOPT_LOG_LEVEL":          "warn",
	}
	cfg := Default()
	err := cfg.ApplyEnv(func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	if err != nil {
		t.Fatalf("apply env: %v", err)
	}
	if cfg.InstanceID != 4 || cfg.ControllerKind() != model.ControllerActuated || cfg.ReadTimeout != 2*time.Second {
		t.Fatalf("unexpected config %+v", cfg)
	}
	if !cfg.AnnounceInitDone || cfg.Log.Level != "warn" {
		t.Fatalf("unexpected config %+v", cfg)
	}

	bad := Default()
	err = bad.ApplyEnv(func(key string) (string, bool) {
		if key == "TLCOPT_BASE_PORT" {
			return "many", true
		}
		return "", false
	})
	if err == nil {
		t.Fatal("expected invalid integer error")
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"controller":  func(c *Config) { c.Controller = "roundabout" },
		"framing":     func(c *Config) { c.Framing = "json" },
		"read size":   func(c *Config) { c.ReadSize = 0 },
		"port":        func(c *Config) { c.BasePort = 65535 },
		"store":       func(c *Config) { c.Store.Kind = "redis" },
		"postgres":    func(c *Config) { c.Store.Kind = "postgres" },
		"log level":   func(c *Config) { c.Log.Level = "chatty" },
		"log format":  func(c *Config) { c.Log.Format = "xml" },
		"timeout":     func(c *Config) { c.ReadTimeout = -time.Second },
		"instance id": func(c *Config) { c.InstanceID = -2 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := Log{Level: "warn", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "field", "time")
	out := buf.String()
	if strings.Contains(out, "hidden") || !strings.Contains(out, `"field":"time"`) {
		t.Fatalf("unexpected log output %q", out)
	}
}
