package main

import (
	"bytes"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"antai/internal/infra/config"
)

func writeTestFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestCheckConfigFile_Missing(t *testing.T) {
	result := checkConfigFile(filepath.Join(t.TempDir(), "antai.yaml"), nil)(nil)
	if result.Status != StatusWarn {
		t.Errorf("expected WARN for missing config, got %s", result.Status)
	}
}

func TestCheckConfigFile_LoadError(t *testing.T) {
	result := checkConfigFile("antai.yaml", &config.ValidationError{Errors: []string{"bad"}})(nil)
	if result.Status != StatusFail {
		t.Errorf("expected FAIL for load error, got %s", result.Status)
	}
	if result.Fix == "" {
		t.Error("expected fix suggestion")
	}
}

func TestCheckConfigFile_Valid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antai.yaml")
	writeTestFile(t, path, "gateway:\n  addr: 127.0.0.1:0\n")
	result := checkConfigFile(path, nil)(nil)
	if result.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", result.Status, result.Message)
	}
}

func TestNilConfigChecks(t *testing.T) {
	for _, fn := range []func(*config.Config) CheckResult{checkAgentCLI, checkDataDir, checkGatewayAddr} {
		if got := fn(nil).Status; got != StatusFail {
			t.Errorf("expected FAIL for nil config, got %s", got)
		}
	}
	if got := checkWatchDirs(nil).Status; got != StatusWarn {
		t.Errorf("expected WARN for nil config, got %s", got)
	}
}

func TestCheckAgentCLI(t *testing.T) {
	cfg := config.Defaults()
	cfg.Process.CLIPath = "antai-definitely-not-installed"
	if got := checkAgentCLI(cfg).Status; got != StatusFail {
		t.Errorf("expected FAIL for missing binary, got %s", got)
	}

	self, err := os.Executable()
	if err != nil {
		t.Skip(err)
	}
	cfg.Process.CLIPath = self
	if got := checkAgentCLI(cfg); got.Status != StatusPass {
		t.Errorf("expected PASS, got %s: %s", got.Status, got.Message)
	}
}

func TestCheckDataDir(t *testing.T) {
	cfg := config.Defaults()

	cfg.Server.DataDir = filepath.Join(t.TempDir(), "new")
	if got := checkDataDir(cfg).Status; got != StatusPass {
		t.Errorf("missing dir: expected PASS, got %s", got)
	}

	cfg.Server.DataDir = t.TempDir()
	if got := checkDataDir(cfg).Status; got != StatusPass {
		t.Errorf("writable dir: expected PASS, got %s", got)
	}

	file := filepath.Join(t.TempDir(), "file")
	writeTestFile(t, file, "x")
	cfg.Server.DataDir = file
	if got := checkDataDir(cfg).Status; got != StatusFail {
		t.Errorf("file: expected FAIL, got %s", got)
	}
}

func TestCheckGatewayAddr(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	cfg := config.Defaults()
	cfg.Gateway.Addr = ln.Addr().String()
	if got := checkGatewayAddr(cfg).Status; got != StatusFail {
		t.Errorf("busy port: expected FAIL, got %s", got)
	}

	cfg.Gateway.Addr = "127.0.0.1:0"
	if got := checkGatewayAddr(cfg).Status; got != StatusPass {
		t.Errorf("free port: expected PASS, got %s", got)
	}
}

func TestCheckWatchDirs(t *testing.T) {
	cfg := config.Defaults()
	cfg.Watcher.Enabled = false
	if got := checkWatchDirs(cfg).Status; got != StatusPass {
		t.Errorf("disabled: expected PASS, got %s", got)
	}

	cfg.Watcher.Enabled = true
	cfg.Watcher.TeamsDir = t.TempDir()
	cfg.Watcher.TasksDir = filepath.Join(t.TempDir(), "missing")
	got := checkWatchDirs(cfg)
	if got.Status != StatusWarn || !strings.Contains(got.Message, "missing") {
		t.Errorf("expected WARN naming the missing dir, got %s: %s", got.Status, got.Message)
	}

	cfg.Watcher.TasksDir = t.TempDir()
	if got := checkWatchDirs(cfg).Status; got != StatusPass {
		t.Errorf("present: expected PASS, got %s", got)
	}
}

func TestStatusIcon(t *testing.T) {
	tests := map[CheckStatus]string{
		StatusPass:  "[PASS]",
		StatusWarn:  "[WARN]",
		StatusFail:  "[FAIL]",
		"something": "[????]",
	}
	for status, want := range tests {
		if got := statusIcon(status); got != want {
			t.Errorf("statusIcon(%q) = %q, want %q", status, got, want)
		}
	}
}

func TestRunDoctor_ReportsFailures(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antai.yaml")
	writeTestFile(t, path, "process:\n  cli_path: antai-definitely-not-installed\nwatcher:\n  enabled: false\ngateway:\n  addr: 127.0.0.1:0\nserver:\n  data_dir: "+t.TempDir()+"\n")

	var out bytes.Buffer
	err := runDoctor(&out, path)
	if err == nil {
		t.Fatal("expected error for missing agent CLI")
	}
	if !strings.Contains(out.String(), "[FAIL] Agent CLI") {
		t.Errorf("output missing agent CLI failure:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "Results: 4 passed, 0 warnings, 1 failed") {
		t.Errorf("unexpected summary:\n%s", out.String())
	}
}

func TestVersionCommand(t *testing.T) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"version"})
	if err := cmd.Execute(); err != nil {
		t.Fatal(err)
	}
	want := config.AppName + " " + config.AppVersion
	if strings.TrimSpace(out.String()) != want {
		t.Errorf("version output = %q, want %q", out.String(), want)
	}
}

func TestLoadReportsConfigError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "antai.yaml")
	writeTestFile(t, path, "gateway: [not a map\n")
	opts := &rootOptions{configPath: path}
	if _, err := opts.load(); err == nil || !strings.Contains(err.Error(), "config") {
		t.Errorf("expected config error, got %v", err)
	}
}
