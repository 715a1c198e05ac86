// Package config loads the orchestrator's YAML configuration.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Application identity reported by the health endpoint and the CLI.
const (
	AppName    = "AntAI"
	AppVersion = "0.1.0"
)

// Config is the top-level application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Gateway   GatewayConfig   `yaml:"gateway"`
	Process   ProcessConfig   `yaml:"process"`
	Terminal  TerminalConfig  `yaml:"terminal"`
	Store     StoreConfig     `yaml:"store"`
	Watcher   WatcherConfig   `yaml:"watcher"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logger    LoggerConfig    `yaml:"logger"`
	Tracer    TracerConfig    `yaml:"tracer"`
}

// ServerConfig holds host process settings.
type ServerConfig struct {
	DataDir         string        `yaml:"data_dir"`
	LockFile        string        `yaml:"lock_file"`        // default: <data_dir>/antai.lock
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // forced exit after this, 15s
}

// GatewayConfig holds WebSocket and HTTP listener settings.
type GatewayConfig struct {
	Addr              string        `yaml:"addr"`
	PingInterval      time.Duration `yaml:"ws_ping_interval"`
	InputRate         float64       `yaml:"input_rate"` // terminal:input frames per second per connection
	InputBurst        int           `yaml:"input_burst"`
	APIRequestsPerMin int           `yaml:"api_requests_per_min"`
	APIBurst          int           `yaml:"api_burst"`
	TrustedProxies    []string      `yaml:"trusted_proxies,omitempty"`
	AllowedOrigins    []string      `yaml:"allowed_origins,omitempty"`
	Auth              AuthConfig    `yaml:"auth"`
}

// AuthConfig holds gateway authentication settings.
type AuthConfig struct {
	Type   string        `yaml:"type"` // "static" or ""
	Tokens []TokenConfig `yaml:"tokens,omitempty"`
}

// TokenConfig holds a single gateway auth token. Token may be "enc:" prefixed.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// ProcessConfig holds agent process settings.
type ProcessConfig struct {
	CLIPath                 string        `yaml:"cli_path"`
	GracefulShutdownTimeout time.Duration `yaml:"graceful_shutdown_timeout"`
	SigkillTimeout          time.Duration `yaml:"sigkill_timeout"`
	ReadyFallback           time.Duration `yaml:"ready_fallback"`
	Cols                    uint16        `yaml:"cols"`
	Rows                    uint16        `yaml:"rows"`
}

// TerminalConfig holds terminal replay buffer settings.
type TerminalConfig struct {
	MaxBufferBytes int `yaml:"max_buffer_bytes"`
}

// StoreConfig holds persistence settings.
type StoreConfig struct {
	Driver           string `yaml:"driver"` // "sqlite" or "memory"
	Path             string `yaml:"path"`   // default: <data_dir>/antai.db
	LogRetentionDays int    `yaml:"log_retention_days"`
}

// WatcherConfig holds settings for following the CLI's team and task files.
type WatcherConfig struct {
	Enabled      bool          `yaml:"enabled"`
	TeamsDir     string        `yaml:"teams_dir"`
	TasksDir     string        `yaml:"tasks_dir"`
	Debounce     time.Duration `yaml:"debounce"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SchedulerConfig holds maintenance job settings.
type SchedulerConfig struct {
	Enabled           bool   `yaml:"enabled"`
	ReconcileInterval string `yaml:"reconcile_interval"` // cron expression or duration
	RetentionSchedule string `yaml:"retention_schedule"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	File   string `yaml:"file,omitempty"` // optional second sink, always text
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`       // noop, stdout or file
	File     string `yaml:"file,omitempty"` // default: <data_dir>/traces.jsonl
}

// Retention returns the activity retention window.
func (s StoreConfig) Retention() time.Duration {
	return time.Duration(s.LogRetentionDays) * 24 * time.Hour
}

// Defaults returns a Config with sensible defaults. Data lives under ./data
// relative to the working directory.
func Defaults() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dataDir := "data"
	return &Config{
		Server: ServerConfig{
			DataDir:         dataDir,
			ShutdownTimeout: 15 * time.Second,
		},
		Gateway: GatewayConfig{
			Addr:              "127.0.0.1:3000",
			PingInterval:      30 * time.Second,
			InputRate:         200,
			InputBurst:        400,
			APIRequestsPerMin: 600,
			APIBurst:          100,
		},
		Process: ProcessConfig{
			CLIPath:                 "claude",
			GracefulShutdownTimeout: 5 * time.Second,
			SigkillTimeout:          10 * time.Second,
			ReadyFallback:           15 * time.Second,
			Cols:                    120,
			Rows:                    40,
		},
		Terminal: TerminalConfig{
			MaxBufferBytes: 256 * 1024,
		},
		Store: StoreConfig{
			Driver:           "sqlite",
			LogRetentionDays: 30,
		},
		Watcher: WatcherConfig{
			Enabled:      true,
			TeamsDir:     filepath.Join(home, ".claude", "teams"),
			TasksDir:     filepath.Join(home, ".claude", "tasks"),
			Debounce:     300 * time.Millisecond,
			PollInterval: 2 * time.Second,
		},
		Scheduler: SchedulerConfig{
			Enabled:           true,
			ReconcileInterval: "5m",
			RetentionSchedule: "0 3 * * *",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// resolvePaths fills the paths derived from the data directory.
func (c *Config) resolvePaths() {
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Server.DataDir, "antai.db")
	}
	if c.Server.LockFile == "" {
		c.Server.LockFile = filepath.Join(c.Server.DataDir, "antai.lock")
	}
	if c.Tracer.Exporter == "file" && c.Tracer.File == "" {
		c.Tracer.File = filepath.Join(c.Server.DataDir, "traces.jsonl")
	}
}

// Load reads a YAML config file, applies env var overrides, and decrypts
// secrets. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := validatePermissions(path); err != nil {
				return nil, err
			}
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	ApplyEnvOverrides(cfg)
	cfg.resolvePaths()

	if passphrase := os.Getenv("ANTAI_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides maps ANTAI_* env vars to config fields. PORT is honoured
// for compatibility with the usual hosting convention.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		host, _, err := net.SplitHostPort(cfg.Gateway.Addr)
		if err != nil {
			host = "127.0.0.1"
		}
		cfg.Gateway.Addr = net.JoinHostPort(host, v)
	}
	if v := os.Getenv("ANTAI_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("ANTAI_GATEWAY_TOKEN"); v != "" {
		cfg.Gateway.Auth.Type = "static"
		cfg.Gateway.Auth.Tokens = append(cfg.Gateway.Auth.Tokens, TokenConfig{Token: v, Name: "env"})
	}
	if v := os.Getenv("ANTAI_GATEWAY_ALLOWED_ORIGINS"); v != "" {
		cfg.Gateway.AllowedOrigins = splitAndTrim(v, ",")
	}
	if v := os.Getenv("ANTAI_DATA_DIR"); v != "" {
		cfg.Server.DataDir = v
	}
	if v := os.Getenv("ANTAI_CLI_PATH"); v != "" {
		cfg.Process.CLIPath = v
	}
	if v := os.Getenv("ANTAI_STORE_DRIVER"); v != "" {
		cfg.Store.Driver = v
	}
	if v := os.Getenv("ANTAI_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("ANTAI_LOG_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Store.LogRetentionDays = n
		}
	}
	if v := os.Getenv("ANTAI_WATCHER_ENABLED"); v != "" {
		cfg.Watcher.Enabled = v == "true"
	}
	if v := os.Getenv("ANTAI_LOGGER_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("ANTAI_LOGGER_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("ANTAI_LOGGER_FILE"); v != "" {
		cfg.Logger.File = v
	}
	if v := os.Getenv("ANTAI_TRACER_ENABLED"); v == "true" {
		cfg.Tracer.Enabled = true
	}
	if v := os.Getenv("ANTAI_TRACER_EXPORTER"); v != "" {
		cfg.Tracer.Exporter = v
	}
}

// splitAndTrim splits s by sep, trims each part and drops empty ones.
func splitAndTrim(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// decryptSecrets decrypts "enc:..." gateway tokens in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i := range cfg.Gateway.Auth.Tokens {
		tok := &cfg.Gateway.Auth.Tokens[i]
		if !strings.HasPrefix(tok.Token, "enc:") {
			continue
		}
		plain, err := DecryptValue(strings.TrimPrefix(tok.Token, "enc:"), passphrase)
		if err != nil {
			return fmt.Errorf("gateway auth token %s: %w", tok.Name, err)
		}
		tok.Token = plain
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
// The result is hex(salt) + ":" + hex(nonce+ciphertext).
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(sealed), nil
}

// DecryptValue decrypts a value produced by EncryptValue.
func DecryptValue(encrypted, passphrase string) (string, error) {
	saltHex, dataHex, ok := strings.Cut(encrypted, ":")
	if !ok {
		return "", fmt.Errorf("invalid encrypted format")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}
	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	gcm, err := newGCM(passphrase, salt)
	if err != nil {
		return "", err
	}
	if len(data) < gcm.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}
	return string(plaintext), nil
}

func newGCM(passphrase string, salt []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(deriveKey(passphrase, salt))
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create gcm: %w", err)
	}
	return gcm, nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions rejects config files writable by group or others. The
// file may hold gateway tokens.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	if mode&0o022 != 0 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
