package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/joho/godotenv"
	"github.com/tidwall/jsonc"
)

// Config holds the daemon configuration.
type Config struct {
	// Matrix channel
	Matrix MatrixConfig `json:"matrix"`

	// Room that receives notifications and, when set, the only room
	// commands are accepted from.
	TargetRoomID string `json:"target_room_id"`

	CommandPrefix string `json:"command_prefix"` // single character, default "!"

	// Media services; an empty URL disables the integration
	Sonarr ServiceConfig `json:"sonarr"`
	Radarr ServiceConfig `json:"radarr"`
	TVDB   TVDBConfig    `json:"tvdb"`

	VerifyTLS bool `json:"verify_tls"` // applies to Sonarr and Radarr

	Webhook WebhookConfig `json:"webhook"`

	CommandTimeout string `json:"command_timeout"` // e.g. "30s"
	StatusTimeout  string `json:"status_timeout"`  // per-probe, e.g. "5s"
	StartupReport  bool   `json:"startup_report"`  // post a status report once logged in
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Homeserver   string   `json:"homeserver"`    // e.g., http://synapse:8008
	UserID       string   `json:"user_id"`       // e.g., @arrbot:matrix.example.com or arrbot
	Password     string   `json:"password"`      // bot password
	ServerName   string   `json:"server_name"`   // e.g., matrix.example.com
	AllowedUsers []string `json:"allowed_users"` // empty allows everyone
}

// ServiceConfig locates a Sonarr or Radarr instance.
type ServiceConfig struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key"`
}

// Configured reports whether the integration is enabled.
func (s ServiceConfig) Configured() bool { return s.URL != "" }

// TVDBConfig enables TVDB posters for series.
type TVDBConfig struct {
	BaseURL string `json:"base_url"`
	APIKey  string `json:"api_key"` // empty disables TVDB
}

// WebhookConfig configures the webhook listener.
type WebhookConfig struct {
	Enabled       bool   `json:"enabled"`
	Host          string `json:"host"`
	Port          int    `json:"port"`
	EnrichTimeout string `json:"enrich_timeout"` // e.g. "10s"
}

// LoadConfig builds the configuration from environment defaults, an optional
// config file (JSON, comments allowed) and an optional private overlay file
// named by ARRBOT_PRIVATE_CONFIG. Later layers win key by key. A .env file in
// the working directory is loaded into the environment first.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	base := defaultConfig()
	merged, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}

	if path != "" {
		fileData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		merged, err = deepMergeJSON(merged, jsonc.ToJSON(fileData))
		if err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	if overlay := os.Getenv("ARRBOT_PRIVATE_CONFIG"); overlay != "" {
		overlayData, err := os.ReadFile(overlay)
		if err != nil {
			return nil, fmt.Errorf("read private config %s: %w", overlay, err)
		}
		merged, err = deepMergeJSON(merged, jsonc.ToJSON(overlayData))
		if err != nil {
			return nil, fmt.Errorf("merge private config %s: %w", overlay, err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Resolve env var references in all $-prefixed values
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.UserID = resolveEnv(cfg.Matrix.UserID)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	cfg.Matrix.ServerName = resolveEnv(cfg.Matrix.ServerName)
	for i, u := range cfg.Matrix.AllowedUsers {
		cfg.Matrix.AllowedUsers[i] = resolveEnv(u)
	}
	cfg.TargetRoomID = resolveEnv(cfg.TargetRoomID)
	cfg.Sonarr.URL = resolveEnv(cfg.Sonarr.URL)
	cfg.Sonarr.APIKey = resolveEnv(cfg.Sonarr.APIKey)
	cfg.Radarr.URL = resolveEnv(cfg.Radarr.URL)
	cfg.Radarr.APIKey = resolveEnv(cfg.Radarr.APIKey)
	cfg.TVDB.BaseURL = resolveEnv(cfg.TVDB.BaseURL)
	cfg.TVDB.APIKey = resolveEnv(cfg.TVDB.APIKey)
	cfg.Webhook.Host = resolveEnv(cfg.Webhook.Host)

	return &cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Matrix.Homeserver == "" {
		errs = append(errs, errors.New("matrix.homeserver is required"))
	}
	if c.Matrix.UserID == "" {
		errs = append(errs, errors.New("matrix.user_id is required"))
	} else if !strings.HasPrefix(c.Matrix.UserID, "@") && c.Matrix.ServerName == "" {
		errs = append(errs, errors.New("matrix.server_name is required when matrix.user_id is a localpart"))
	}
	if c.Matrix.Password == "" {
		errs = append(errs, errors.New("matrix.password is required"))
	}
	if utf8.RuneCountInString(c.CommandPrefix) != 1 || strings.TrimSpace(c.CommandPrefix) == "" {
		errs = append(errs, fmt.Errorf("command_prefix must be a single non-space character, got %q", c.CommandPrefix))
	}
	for name, svc := range map[string]ServiceConfig{"sonarr": c.Sonarr, "radarr": c.Radarr} {
		if svc.Configured() && svc.APIKey == "" {
			errs = append(errs, fmt.Errorf("%s.api_key is required when %s.url is set", name, name))
		}
	}
	if c.Webhook.Enabled {
		if c.Webhook.Port < 0 || c.Webhook.Port > 65535 {
			errs = append(errs, fmt.Errorf("webhook.port %d out of range", c.Webhook.Port))
		}
		if c.TargetRoomID == "" {
			errs = append(errs, errors.New("target_room_id is required when the webhook listener is enabled"))
		}
	}
	for name, v := range map[string]string{
		"command_timeout":        c.CommandTimeout,
		"status_timeout":         c.StatusTimeout,
		"webhook.enrich_timeout": c.Webhook.EnrichTimeout,
	} {
		if v == "" {
			continue
		}
		if d, err := time.ParseDuration(v); err != nil || d <= 0 {
			errs = append(errs, fmt.Errorf("%s: invalid duration %q", name, v))
		}
	}
	return errors.Join(errs...)
}

// duration parses s, falling back to def when s is empty or invalid.
func duration(s string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(s); err == nil && d > 0 {
		return d
	}
	return def
}

func deepMergeJSON(base, overlay []byte) ([]byte, error) {
	var baseMap map[string]interface{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]interface{}{}
	}

	var overlayMap map[string]interface{}
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &overlayMap); err != nil {
			return nil, err
		}
	}
	mergeMap(baseMap, overlayMap)
	return json.Marshal(baseMap)
}

func mergeMap(dst, src map[string]interface{}) {
	for k, v := range src {
		dstObj, dstIsObj := dst[k].(map[string]interface{})
		srcObj, srcIsObj := v.(map[string]interface{})
		if dstIsObj && srcIsObj {
			mergeMap(dstObj, srcObj)
			dst[k] = dstObj
			continue
		}
		dst[k] = v
	}
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

// defaultConfig returns a config built from environment variables, suitable
// for container deployment without a config file.
func defaultConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Homeserver:   envOr("MATRIX_HOMESERVER", ""),
			UserID:       envOr("MATRIX_USER", ""),
			Password:     envOr("MATRIX_PASSWORD", ""),
			ServerName:   envOr("MATRIX_SERVER_NAME", ""),
			AllowedUsers: splitList(envOr("ALLOWED_USERS", "")),
		},
		TargetRoomID:  envOr("TARGET_ROOM_ID", ""),
		CommandPrefix: envOr("COMMAND_PREFIX", "!"),
		Sonarr: ServiceConfig{
			URL:    envOr("SONARR_URL", ""),
			APIKey: envOr("SONARR_API_KEY", ""),
		},
		Radarr: ServiceConfig{
			URL:    envOr("RADARR_URL", ""),
			APIKey: envOr("RADARR_API_KEY", ""),
		},
		TVDB: TVDBConfig{
			BaseURL: envOr("TVDB_BASE_URL", "https://api4.thetvdb.com/v4"),
			APIKey:  envOr("TVDB_API_KEY", ""),
		},
		VerifyTLS: envBool("VERIFY_TLS", true),
		Webhook: WebhookConfig{
			Enabled:       envBool("WEBHOOK_ENABLED", true),
			Host:          envOr("WEBHOOK_HOST", "0.0.0.0"),
			Port:          envInt("WEBHOOK_PORT", 9095),
			EnrichTimeout: envOr("WEBHOOK_ENRICH_TIMEOUT", "10s"),
		},
		CommandTimeout: envOr("COMMAND_TIMEOUT", "30s"),
		StatusTimeout:  envOr("STATUS_TIMEOUT", "5s"),
		StartupReport:  envBool("STARTUP_REPORT", true),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil {
		return n
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
