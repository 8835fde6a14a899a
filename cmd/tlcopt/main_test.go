package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"tlcopt/internal/model"
	"tlcopt/internal/protocol"
	"tlcopt/internal/stats"
)

const fixturePath = "../../testdata/networks/four_way.yaml"

func captureStdout(fn func() error) (string, error) {
	origStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		return "", err
	}

	os.Stdout = w
	runErr := fn()
	_ = w.Close()
	os.Stdout = origStdout

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		_ = r.Close()
		return "", err
	}
	_ = r.Close()
	return buf.String(), runErr
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func envLookup(env map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestRunRejectsUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"optimize"})
	if !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error, got %v", err)
	}
	if exitCode(err) != exitBootstrap {
		t.Fatalf("exit code=%d", exitCode(err))
	}
	if err := run(context.Background(), nil); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error for missing command, got %v", err)
	}
}

func TestExitCode(t *testing.T) {
	if code := exitCode(fmt.Errorf("bootstrap: %w", protocol.ErrNetworkUnavailable)); code != exitBootstrap {
		t.Fatalf("network failure exit code=%d", code)
	}
	if code := exitCode(errors.New("boom")); code != exitRuntime {
		t.Fatalf("runtime failure exit code=%d", code)
	}
}

func TestServeConfigPositionalArgs(t *testing.T) {
	cfg, err := serveConfig([]string{"-controller", "internal_nema", "city.yaml", "3"}, envLookup(nil))
	if err != nil {
		t.Fatalf("serve config: %v", err)
	}
	if cfg.Network != "city.yaml" || cfg.InstanceID != 3 || cfg.Port() != 1237 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.ControllerKind() != model.ControllerActuated {
		t.Fatalf("controller=%s", cfg.ControllerKind())
	}
	if cfg.DatabaseName() != "layer2_3" {
		t.Fatalf("database=%s", cfg.DatabaseName())
	}
}

func TestServeConfigPrecedence(t *testing.T) {
	env := envLookup(map[string]string{
		"TLCOPT_FRAMING":    "msgpack",
		"TLCOPT_CONTROLLER": "external",
		"TLCOPT_BASE_PORT":  "4000",
	})
	cfg, err := serveConfig([]string{"-framing", "line"}, env)
	if err != nil {
		t.Fatalf("serve config: %v", err)
	}
	if cfg.Framing != "line" {
		t.Fatalf("flag should win over env, framing=%s", cfg.Framing)
	}
	if cfg.ControllerKind() != model.ControllerExternal || cfg.Port() != 4001 {
		t.Fatalf("env not applied: %+v", cfg)
	}
}

func TestServeConfigRejectsBadInvocation(t *testing.T) {
	for _, args := range [][]string{
		{"a.yaml", "1", "extra"},
		{"a.yaml", "one"},
		{"-controller", "fuzzy"},
		{"-framing", "xml"},
		{"-no-such-flag"},
	} {
		if _, err := serveConfig(args, envLookup(nil)); !errors.Is(err, errUsage) {
			t.Fatalf("args %v: expected usage error, got %v", args, err)
		}
	}
}

func TestServeAndProbe(t *testing.T) {
	artifacts := t.TempDir()
	t.Setenv("TLCOPT_ARTIFACTS_DIR", artifacts)
	t.Setenv("TLCOPT_LOG_LEVEL", "error")
	port := strconv.Itoa(freePort(t))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	served := make(chan error, 1)
	go func() {
		served <- run(ctx, []string{"serve", "-id", "0", "-port", port, "-framing", "line", "-store", "memory", fixturePath})
	}()

	output, err := captureStdout(func() error {
		return run(ctx, []string{
			"probe",
			"-addr", "127.0.0.1:" + port,
			"-framing", "line",
			"-replication", "5",
			"-time", "120",
			"-junction", "42",
			"-wait", "5s",
		})
	})
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	for _, want := range []string{
		"statuses=REPLICATION_ID_OK,TIME_OK,NODE_ID_OK,SIMDUR_OK,WARMDUR_OK,SITUATION_DONE_OK,SECTION_IDS_DONE_OK",
		"turnings=101 201 101 202 102 203 103 204 104 401 402 203",
		"phases=6 cycle=89",
		`phase=2 report="5 IP"`,
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("probe output missing %q:\n%s", want, output)
		}
	}

	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-ctx.Done():
		t.Fatal("serve did not return after the probe hung up")
	}

	index, err := stats.ListSessionIndex(artifacts)
	if err != nil {
		t.Fatalf("list index: %v", err)
	}
	if len(index) != 1 || index[0].JunctionID != 42 {
		t.Fatalf("unexpected session index: %+v", index)
	}
}

func TestInspect(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"inspect", "-network", fixturePath, "-replication", "5", "-junction", "42"})
	})
	if err != nil {
		t.Fatalf("inspect: %v", err)
	}
	for _, want := range []string{
		"motorized=101 201 101 202 102 203 103 204 104 401 402 203",
		"pedestrian=301 302",
		"control_plan=31 type=fixed",
		"phases=6 cycle=89",
	} {
		if !strings.Contains(output, want) {
			t.Fatalf("inspect output missing %q:\n%s", want, output)
		}
	}

	output, err = captureStdout(func() error {
		return run(context.Background(), []string{"inspect", "-network", fixturePath, "-replication", "5", "-junction", "42", "-time", "2000"})
	})
	if err != nil {
		t.Fatalf("inspect later: %v", err)
	}
	if !strings.Contains(output, "control_plan=32") || !strings.Contains(output, "cycle=109") {
		t.Fatalf("expected later control plan:\n%s", output)
	}
}

func TestInspectMissingNetwork(t *testing.T) {
	err := run(context.Background(), []string{"inspect", "-network", filepath.Join(t.TempDir(), "gone"), "-replication", "5", "-junction", "42"})
	if !errors.Is(err, protocol.ErrNetworkUnavailable) || exitCode(err) != exitBootstrap {
		t.Fatalf("expected bootstrap failure, got %v", err)
	}
}

func TestExportLatest(t *testing.T) {
	artifacts := t.TempDir()
	out := filepath.Join(t.TempDir(), "exports")
	started := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
	for i, id := range []string{"older", "newer"} {
		_, err := stats.WriteSessionArtifacts(artifacts, stats.SessionArtifacts{
			Session: model.SessionRecord{ID: id, StartedAt: started.Add(time.Duration(i) * time.Hour)},
		})
		if err != nil {
			t.Fatalf("write artifacts: %v", err)
		}
	}

	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"export", "-artifacts", artifacts, "-latest", "-out", out})
	})
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if !strings.Contains(output, "session_id=newer") {
		t.Fatalf("unexpected output: %s", output)
	}
	if _, err := os.Stat(filepath.Join(out, "newer", "session.json")); err != nil {
		t.Fatalf("expected exported session: %v", err)
	}
}

func TestSessionsOnEmptyMemoryStore(t *testing.T) {
	output, err := captureStdout(func() error {
		return run(context.Background(), []string{"sessions", "-store", "memory"})
	})
	if err != nil {
		t.Fatalf("sessions: %v", err)
	}
	if output != "" {
		t.Fatalf("expected no sessions, got %q", output)
	}
	if err := run(context.Background(), []string{"evaluations", "-store", "memory"}); !errors.Is(err, errUsage) {
		t.Fatalf("expected usage error without -session, got %v", err)
	}
}
