package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoad_UsesDefaultsWhenFileMissing(t *testing.T) {
	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	assert.Equal(t, ":3001", cfg.Server.Address)
	assert.Equal(t, time.Hour, cfg.Rooms.RetentionTTL)
	assert.Equal(t, 60, cfg.Poll.Attempts)
	assert.Equal(t, time.Second, cfg.Poll.Interval)
	assert.Equal(t, 5, cfg.Push.ReconnectAttempts)
	assert.Equal(t, 5*time.Second, cfg.Push.ReconnectMaxDelay)
	assert.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Len(t, cfg.WebRTC.ICEServers[0].URLs, 5)
}

func TestDefaultConfig_IsValid(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())
}

func TestLoad_LoadsFromYAMLAndAppliesEnvOverrides(t *testing.T) {
	path := writeTempConfig(t, `
server:
  address: ":9000"
  read_timeout: 10s
  write_timeout: 15s

rooms:
  retention_ttl: 30m
  sweep_interval: 5m

poll:
  interval: 500ms
  attempts: 20

webrtc:
  ice_servers:
    - urls: ["stun:stun.example.org:3478"]
    - urls: ["turn:turn.example.org:3478"]
      username: "user"
      credential: "secret"

logging:
  level: "debug"
`)

	t.Setenv("PEERCALL_SERVER_ADDRESS", ":9100")
	t.Setenv("PEERCALL_LOG_LEVEL", "warn")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9100", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, 10*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 30*time.Minute, cfg.Rooms.RetentionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Rooms.SweepInterval)
	assert.Equal(t, 500*time.Millisecond, cfg.Poll.Interval)
	assert.Equal(t, 20, cfg.Poll.Attempts)
	require.Len(t, cfg.WebRTC.ICEServers, 2)
	assert.Equal(t, "secret", cfg.WebRTC.ICEServers[1].Credential)
	// untouched sections keep their defaults
	assert.Equal(t, 2, cfg.Rooms.MaxParticipants)
}

func TestLoad_ICEServersFromEnvJSON(t *testing.T) {
	t.Setenv("PEERCALL_ICE_SERVERS_JSON", `[{"urls":"stun:a.example:3478"},{"urls":["turn:b.example:3478","turns:b.example:5349"],"username":"u","credential":"p"}]`)

	cfg, err := Load("non-existent-config.yaml")
	require.NoError(t, err)
	require.Len(t, cfg.WebRTC.ICEServers, 2)
	assert.Equal(t, []string{"stun:a.example:3478"}, cfg.WebRTC.ICEServers[0].URLs)
	assert.Equal(t, []string{"turn:b.example:3478", "turns:b.example:5349"}, cfg.WebRTC.ICEServers[1].URLs)
	assert.Equal(t, "u", cfg.WebRTC.ICEServers[1].Username)
}

func TestLoad_RejectsBadRoomTTLEnv(t *testing.T) {
	t.Setenv("PEERCALL_ROOM_TTL", "forever")

	_, err := Load("non-existent-config.yaml")
	assert.Error(t, err)
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeTempConfig(t, "server: [unterminated")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestParseICEServersJSON_Errors(t *testing.T) {
	_, err := ParseICEServersJSON(`not json`)
	assert.Error(t, err)

	_, err = ParseICEServersJSON(`[{"urls":[]}]`)
	assert.Error(t, err)
}

func TestValidate_InvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{
			name:   "server address must not be empty",
			mutate: func(c *Config) { c.Server.Address = "" },
		},
		{
			name:   "pong timeout must exceed ping interval",
			mutate: func(c *Config) { c.Signal.PongTimeout = c.Signal.PingInterval },
		},
		{
			name:   "room ttl must be > 0",
			mutate: func(c *Config) { c.Rooms.RetentionTTL = 0 },
		},
		{
			name:   "rooms hold exactly two participants",
			mutate: func(c *Config) { c.Rooms.MaxParticipants = 3 },
		},
		{
			name:   "poll attempts must be > 0",
			mutate: func(c *Config) { c.Poll.Attempts = 0 },
		},
		{
			name:   "push reconnect attempts must be >= 0",
			mutate: func(c *Config) { c.Push.ReconnectAttempts = -1 },
		},
		{
			name:   "push reconnect backoff cap below base delay",
			mutate: func(c *Config) { c.Push.ReconnectMaxDelay = c.Push.ReconnectDelay / 2 },
		},
		{
			name: "ice server url scheme",
			mutate: func(c *Config) {
				c.WebRTC.ICEServers = []ICEServer{{URLs: []string{"http://example.org"}}}
			},
		},
		{
			name: "redis address required when enabled",
			mutate: func(c *Config) {
				c.Redis.Enabled = true
				c.Redis.Address = ""
			},
		},
		{
			name: "tracing sample rate range",
			mutate: func(c *Config) {
				c.Tracing.Enabled = true
				c.Tracing.SampleRate = 2
			},
		},
		{
			name: "http rps must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.HTTP.RequestsPerSecond = 0
			},
		},
		{
			name: "ws burst must be > 0",
			mutate: func(c *Config) {
				c.RateLimiting.Enabled = true
				c.RateLimiting.WebSocket.Burst = 0
			},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)

			if err := cfg.Validate(); err == nil {
				t.Fatalf("expected validation error for case %q, got nil", tc.name)
			}
		})
	}
}

func TestValidate_RateLimitingDisabled_AllowsZeroValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.RateLimiting.Enabled = false
	cfg.RateLimiting.HTTP.RequestsPerSecond = 0
	cfg.RateLimiting.HTTP.Burst = 0
	cfg.RateLimiting.WebSocket.MessagesPerSecond = 0
	cfg.RateLimiting.WebSocket.Burst = 0

	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected config to be valid when rate limiting disabled, got error: %v", err)
	}
}
