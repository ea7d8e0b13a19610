package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func validConfig() *Config {
	return &Config{
		Matrix: MatrixConfig{
			Homeserver: "http://synapse:8008",
			UserID:     "arrbot",
			Password:   "secret",
			ServerName: "example.org",
		},
		TargetRoomID:   "!media:example.org",
		CommandPrefix:  "!",
		Sonarr:         ServiceConfig{URL: "http://sonarr:8989", APIKey: "s"},
		Webhook:        WebhookConfig{Enabled: true, Host: "0.0.0.0", Port: 9095, EnrichTimeout: "10s"},
		CommandTimeout: "30s",
		StatusTimeout:  "5s",
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("MATRIX_HOMESERVER", "http://synapse:8008")
	t.Setenv("ALLOWED_USERS", "@alice:example.org, @bob:example.org,")
	t.Setenv("WEBHOOK_PORT", "")
	t.Setenv("COMMAND_PREFIX", "")

	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "http://synapse:8008", cfg.Matrix.Homeserver)
	assert.Equal(t, []string{"@alice:example.org", "@bob:example.org"}, cfg.Matrix.AllowedUsers)
	assert.Equal(t, "!", cfg.CommandPrefix)
	assert.True(t, cfg.VerifyTLS)
	assert.True(t, cfg.Webhook.Enabled)
	assert.Equal(t, 9095, cfg.Webhook.Port)
	assert.Equal(t, "0.0.0.0", cfg.Webhook.Host)
	assert.Equal(t, "30s", cfg.CommandTimeout)
}

func TestLoadConfigFileWithComments(t *testing.T) {
	t.Setenv("ARRBOT_TEST_PASSWORD", "from-env")
	path := writeFile(t, "config.json", `{
		// Matrix account
		"matrix": {"user_id": "@arrbot:example.org", "password": "$ARRBOT_TEST_PASSWORD"},
		"verify_tls": false,
		/* only the port changes */
		"webhook": {"port": 8080},
		"sonarr": {"url": "http://sonarr:8989", "api_key": "abc",},
	}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "@arrbot:example.org", cfg.Matrix.UserID)
	assert.Equal(t, "from-env", cfg.Matrix.Password)
	assert.False(t, cfg.VerifyTLS, "file overrides a true default")
	assert.Equal(t, 8080, cfg.Webhook.Port)
	assert.Equal(t, "0.0.0.0", cfg.Webhook.Host, "sibling keys survive a nested merge")
	assert.True(t, cfg.Webhook.Enabled)
	assert.True(t, cfg.Sonarr.Configured())
	assert.False(t, cfg.Radarr.Configured())
}

func TestLoadConfigPrivateOverlay(t *testing.T) {
	path := writeFile(t, "config.json", `{"matrix": {"user_id": "arrbot", "password": "public"}}`)
	overlay := writeFile(t, "private.json", `{"matrix": {"password": "private"}, "radarr": {"url": "http://radarr:7878", "api_key": "r"}}`)
	t.Setenv("ARRBOT_PRIVATE_CONFIG", overlay)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "arrbot", cfg.Matrix.UserID)
	assert.Equal(t, "private", cfg.Matrix.Password)
	assert.Equal(t, "http://radarr:7878", cfg.Radarr.URL)
}

func TestLoadConfigErrors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	assert.ErrorContains(t, err, "read config")

	_, err = LoadConfig(writeFile(t, "bad.json", `{"matrix": `))
	assert.ErrorContains(t, err, "merge config")

	t.Setenv("ARRBOT_PRIVATE_CONFIG", filepath.Join(t.TempDir(), "nope.json"))
	_, err = LoadConfig("")
	assert.ErrorContains(t, err, "read private config")
}

func TestValidate(t *testing.T) {
	require.NoError(t, validConfig().Validate())

	tests := []struct {
		name   string
		mutate func(c *Config)
		want   string
	}{
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"missing password", func(c *Config) { c.Matrix.Password = "" }, "matrix.password"},
		{"localpart without server", func(c *Config) { c.Matrix.ServerName = "" }, "matrix.server_name"},
		{"empty prefix", func(c *Config) { c.CommandPrefix = "" }, "command_prefix"},
		{"long prefix", func(c *Config) { c.CommandPrefix = "!!" }, "command_prefix"},
		{"space prefix", func(c *Config) { c.CommandPrefix = " " }, "command_prefix"},
		{"sonarr without key", func(c *Config) { c.Sonarr.APIKey = "" }, "sonarr.api_key"},
		{"webhook without room", func(c *Config) { c.TargetRoomID = "" }, "target_room_id"},
		{"bad port", func(c *Config) { c.Webhook.Port = 70000 }, "webhook.port"},
		{"bad duration", func(c *Config) { c.CommandTimeout = "soon" }, "command_timeout"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			assert.ErrorContains(t, cfg.Validate(), tt.want)
		})
	}

	t.Run("webhook disabled without room", func(t *testing.T) {
		cfg := validConfig()
		cfg.Webhook.Enabled = false
		cfg.TargetRoomID = ""
		assert.NoError(t, cfg.Validate())
	})

	t.Run("multibyte prefix", func(t *testing.T) {
		cfg := validConfig()
		cfg.CommandPrefix = "§"
		assert.NoError(t, cfg.Validate())
	})
}

func TestDuration(t *testing.T) {
	assert.Equal(t, 2*time.Second, duration("2s", time.Minute))
	assert.Equal(t, time.Minute, duration("", time.Minute))
	assert.Equal(t, time.Minute, duration("-1s", time.Minute))
}

func TestResolveEnv(t *testing.T) {
	t.Setenv("ARRBOT_TEST_VALUE", "resolved")
	assert.Equal(t, "resolved", resolveEnv("$ARRBOT_TEST_VALUE"))
	assert.Equal(t, "$ARRBOT_TEST_UNSET_VALUE", resolveEnv("$ARRBOT_TEST_UNSET_VALUE"))
	assert.Equal(t, "$", resolveEnv("$"))
	assert.Equal(t, "plain", resolveEnv("plain"))
}
