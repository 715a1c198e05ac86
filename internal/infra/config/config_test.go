package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string, perm os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "antai.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}
	if err := os.Chmod(path, perm); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Gateway.PingInterval != 30*time.Second {
		t.Errorf("PingInterval = %v, want 30s", cfg.Gateway.PingInterval)
	}
	if cfg.Process.GracefulShutdownTimeout != 5*time.Second || cfg.Process.SigkillTimeout != 10*time.Second {
		t.Errorf("process timeouts = %v/%v, want 5s/10s", cfg.Process.GracefulShutdownTimeout, cfg.Process.SigkillTimeout)
	}
	if cfg.Process.Cols != 120 || cfg.Process.Rows != 40 {
		t.Errorf("terminal size = %dx%d, want 120x40", cfg.Process.Cols, cfg.Process.Rows)
	}
	if cfg.Store.LogRetentionDays != 30 {
		t.Errorf("LogRetentionDays = %d, want 30", cfg.Store.LogRetentionDays)
	}
	if got := cfg.Store.Retention(); got != 30*24*time.Hour {
		t.Errorf("Retention() = %v", got)
	}
	if !strings.HasSuffix(cfg.Watcher.TeamsDir, filepath.Join(".claude", "teams")) {
		t.Errorf("TeamsDir = %q", cfg.Watcher.TeamsDir)
	}
}

func TestLoadNonExistentReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Addr != "127.0.0.1:3000" {
		t.Errorf("Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.Store.Path != filepath.Join("data", "antai.db") {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Server.LockFile != filepath.Join("data", "antai.lock") {
		t.Errorf("LockFile = %q", cfg.Server.LockFile)
	}
}

func TestLoadYAML(t *testing.T) {
	path := writeConfig(t, `
server:
  data_dir: /var/lib/antai
gateway:
  addr: "0.0.0.0:8080"
  ws_ping_interval: 10s
process:
  cli_path: /opt/claude/bin/claude
  graceful_shutdown_timeout: 2s
scheduler:
  reconcile_interval: "*/10 * * * *"
logger:
  level: debug
  format: json
`, 0600)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Gateway.Addr != "0.0.0.0:8080" || cfg.Gateway.PingInterval != 10*time.Second {
		t.Errorf("gateway = %+v", cfg.Gateway)
	}
	if cfg.Process.CLIPath != "/opt/claude/bin/claude" || cfg.Process.GracefulShutdownTimeout != 2*time.Second {
		t.Errorf("process = %+v", cfg.Process)
	}
	if cfg.Process.SigkillTimeout != 10*time.Second {
		t.Errorf("unset fields should keep defaults, SigkillTimeout = %v", cfg.Process.SigkillTimeout)
	}
	if cfg.Store.Path != "/var/lib/antai/antai.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Logger.Format != "json" {
		t.Errorf("Logger.Format = %q", cfg.Logger.Format)
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "gateway: [unterminated", 0600)
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "parse config") {
		t.Errorf("expected parse error, got %v", err)
	}
}

func TestLoadInsecurePermissions(t *testing.T) {
	path := writeConfig(t, "logger:\n  level: debug\n", 0666)
	if _, err := Load(path); err == nil {
		t.Error("expected error for insecure permissions")
	}
}

func TestLoadValidationFails(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\n", 0600)
	_, err := Load(path)
	ve, ok := err.(*ValidationError)
	if !ok {
		t.Fatalf("expected *ValidationError, got %T: %v", err, err)
	}
	assertContains(t, ve.Error(), `store.driver "postgres" is not supported`)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("ANTAI_GATEWAY_ADDR", "127.0.0.1:4000")
	t.Setenv("ANTAI_CLI_PATH", "/usr/local/bin/claude")
	t.Setenv("ANTAI_DATA_DIR", "/srv/antai")
	t.Setenv("ANTAI_LOG_RETENTION_DAYS", "7")
	t.Setenv("ANTAI_WATCHER_ENABLED", "false")
	t.Setenv("ANTAI_LOGGER_LEVEL", "warn")
	t.Setenv("ANTAI_TRACER_ENABLED", "true")
	t.Setenv("ANTAI_TRACER_EXPORTER", "stdout")

	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Gateway.Addr != "127.0.0.1:4000" {
		t.Errorf("Addr = %q", cfg.Gateway.Addr)
	}
	if cfg.Process.CLIPath != "/usr/local/bin/claude" {
		t.Errorf("CLIPath = %q", cfg.Process.CLIPath)
	}
	if cfg.Server.DataDir != "/srv/antai" {
		t.Errorf("DataDir = %q", cfg.Server.DataDir)
	}
	if cfg.Store.LogRetentionDays != 7 {
		t.Errorf("LogRetentionDays = %d", cfg.Store.LogRetentionDays)
	}
	if cfg.Watcher.Enabled {
		t.Error("watcher should be disabled")
	}
	if cfg.Logger.Level != "warn" {
		t.Errorf("Logger.Level = %q", cfg.Logger.Level)
	}
	if !cfg.Tracer.Enabled || cfg.Tracer.Exporter != "stdout" {
		t.Errorf("tracer = %+v", cfg.Tracer)
	}
}

func TestEnvOverridesPort(t *testing.T) {
	t.Setenv("PORT", "5555")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)
	if cfg.Gateway.Addr != "127.0.0.1:5555" {
		t.Errorf("Addr = %q, want 127.0.0.1:5555", cfg.Gateway.Addr)
	}
}

func TestEnvOverridesGatewayToken(t *testing.T) {
	t.Setenv("ANTAI_GATEWAY_TOKEN", "tok")
	t.Setenv("ANTAI_GATEWAY_ALLOWED_ORIGINS", "app.example.com, ,*.example.org")
	cfg := Defaults()
	ApplyEnvOverrides(cfg)

	if cfg.Gateway.Auth.Type != "static" || len(cfg.Gateway.Auth.Tokens) != 1 || cfg.Gateway.Auth.Tokens[0].Token != "tok" {
		t.Errorf("auth = %+v", cfg.Gateway.Auth)
	}
	if got := cfg.Gateway.AllowedOrigins; len(got) != 2 || got[1] != "*.example.org" {
		t.Errorf("AllowedOrigins = %q", got)
	}
	cfg.resolvePaths()
	if err := Validate(cfg); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("s3cret-token", "pass")
	if err != nil {
		t.Fatalf("EncryptValue: %v", err)
	}
	if strings.Contains(enc, "s3cret") {
		t.Fatal("ciphertext leaks plaintext")
	}
	got, err := DecryptValue(enc, "pass")
	if err != nil {
		t.Fatalf("DecryptValue: %v", err)
	}
	if got != "s3cret-token" {
		t.Errorf("got %q", got)
	}

	again, _ := EncryptValue("s3cret-token", "pass")
	if again == enc {
		t.Error("two encryptions should use different salt and nonce")
	}
}

func TestDecryptValueErrors(t *testing.T) {
	enc, err := EncryptValue("x", "right")
	if err != nil {
		t.Fatal(err)
	}
	tests := map[string]string{
		"wrong passphrase": enc,
		"no separator":     "abcdef",
		"bad salt":         "zz:00",
		"bad ciphertext":   "00:zz",
		"too short":        "00112233445566778899aabbccddeeff:00",
	}
	for name, value := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecryptValue(value, "wrong"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLoadWithConfigKey(t *testing.T) {
	enc, err := EncryptValue("dash-token", "load-key")
	if err != nil {
		t.Fatal(err)
	}
	path := writeConfig(t, `
gateway:
  auth:
    type: static
    tokens:
      - name: dashboard
        token: "enc:`+enc+`"
      - name: plain
        token: "not-encrypted"
`, 0600)

	t.Setenv("ANTAI_CONFIG_KEY", "load-key")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got := cfg.Gateway.Auth.Tokens[0].Token; got != "dash-token" {
		t.Errorf("token = %q, want dash-token", got)
	}
	if got := cfg.Gateway.Auth.Tokens[1].Token; got != "not-encrypted" {
		t.Errorf("plain token changed: %q", got)
	}
}

func TestLoadDecryptSecretsError(t *testing.T) {
	path := writeConfig(t, `
gateway:
  auth:
    type: static
    tokens:
      - name: broken
        token: "enc:00:00"
`, 0600)
	t.Setenv("ANTAI_CONFIG_KEY", "k")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "gateway auth token broken") {
		t.Errorf("expected decrypt error, got %v", err)
	}
}

func TestValidatePermissions(t *testing.T) {
	for _, tc := range []struct {
		perm os.FileMode
		ok   bool
	}{
		{0600, true},
		{0644, true},
		{0664, false},
		{0666, false},
	} {
		path := writeConfig(t, "x: 1\n", tc.perm)
		err := validatePermissions(path)
		if (err == nil) != tc.ok {
			t.Errorf("perm %o: err = %v, want ok=%v", tc.perm, err, tc.ok)
		}
	}

	if err := validatePermissions(filepath.Join(t.TempDir(), "gone.yaml")); err == nil {
		t.Error("expected stat error")
	}
}

func TestLoadTraceFileDefault(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, "server:\n  data_dir: "+dir+"\ntracer:\n  enabled: true\n  exporter: file\n", 0600)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if want := filepath.Join(dir, "traces.jsonl"); cfg.Tracer.File != want {
		t.Errorf("Tracer.File = %q, want %q", cfg.Tracer.File, want)
	}
}
