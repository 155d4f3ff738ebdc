package configuration

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigYAML(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  app_port: 9090
  allowed_origins: ["https://chat.example.com"]
store:
  driver: pebble
  pebble:
    path: /var/lib/parley
auth:
  jwt_secret: s3cret
  token_ttl: 2h
media:
  cloud_name: demo
  max_size: 10 MB
  timeout: 30
presence:
  heartbeat: "*/2 * * * *"
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr())
	assert.Equal(t, []string{"https://chat.example.com"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "pebble", cfg.Store.Driver)
	assert.Equal(t, "/var/lib/parley", cfg.Store.Pebble.Path)
	assert.Equal(t, 2*time.Hour, cfg.Auth.TokenTTL.Duration())
	assert.Equal(t, int64(10_000_000), cfg.Media.MaxSize.Int64())
	assert.Equal(t, 30*time.Second, cfg.Media.Timeout.Duration())
	assert.Equal(t, "*/2 * * * *", cfg.Presence.Heartbeat)

	// untouched sections keep their defaults
	assert.Equal(t, "chat-app/chats", cfg.Media.ChatFolder)
	assert.Equal(t, 5, cfg.Session.ProfileRetries)
	assert.Equal(t, "parley.mutations", cfg.Kafka.Topic)
}

func TestLoadConfigJSON(t *testing.T) {
	path := writeFile(t, "config.json", `{
  "server": {"app_port": 7070},
  "store": {"driver": "mongo", "mongo": {"uri": "mongodb://db:27017", "database": "chat"}},
  "auth": {"jwt_secret": "s3cret"},
  "media": {"max_size": 2048},
  "session": {"profile_retry_delay": "1s"}
}`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.AppPort)
	assert.Equal(t, "mongo", cfg.Store.Driver)
	assert.Equal(t, "mongodb://db:27017", cfg.Store.Mongo.Uri)
	assert.Equal(t, "chat", cfg.Store.Mongo.Database)
	assert.Equal(t, int64(2048), cfg.Media.MaxSize.Int64())
	assert.Equal(t, time.Second, cfg.Session.ProfileRetryDelay.Duration())
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		path func(t *testing.T) string
	}{
		{"missing file", func(t *testing.T) string { return filepath.Join(t.TempDir(), "nope.yaml") }},
		{"bad yaml", func(t *testing.T) string { return writeFile(t, "c.yaml", "server: [") }},
		{"bad json", func(t *testing.T) string { return writeFile(t, "c.json", "{") }},
		{"bad size", func(t *testing.T) string {
			return writeFile(t, "c.yaml", "auth:\n  jwt_secret: x\nmedia:\n  max_size: lots\n")
		}},
		{"no secret", func(t *testing.T) string { return writeFile(t, "c.yaml", "server:\n  app_port: 1\n") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(tt.path(t))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigEnvironment(t *testing.T) {
	path := writeFile(t, "config.yaml", "auth:\n  jwt_secret: from-file\n")
	t.Setenv("PARLEY_JWT_SECRET", "from-env")
	t.Setenv("PARLEY_SERVER_APP_PORT", "8181")
	t.Setenv("PARLEY_KAFKA_ENABLED", "true")
	t.Setenv("PARLEY_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("PARLEY_MEDIA_MAX_SIZE", "5 MiB")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Auth.JWTSecret)
	assert.Equal(t, 8181, cfg.Server.AppPort)
	assert.True(t, cfg.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, int64(5*1024*1024), cfg.Media.MaxSize.Int64())
}

func TestApplyEnv(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
		wantErr bool
	}{
		{
			name: "strings and durations",
			env: map[string]string{
				"PARLEY_STORE_DRIVER":    "redis",
				"PARLEY_REDIS_ADDR":      "cache:6379",
				"PARLEY_REDIS_DB":        "3",
				"PARLEY_TOKEN_TTL":       "90m",
				"PARLEY_LOG_DEVELOPMENT": "1",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "redis", cfg.Store.Driver)
				assert.Equal(t, "cache:6379", cfg.Store.Redis.Addr)
				assert.Equal(t, 3, cfg.Store.Redis.DB)
				assert.Equal(t, 90*time.Minute, cfg.Auth.TokenTTL.Duration())
				assert.True(t, cfg.Log.Development)
			},
		},
		{
			name:    "bad number",
			env:     map[string]string{"PARLEY_SERVER_APP_PORT": "eighty"},
			wantErr: true,
		},
		{
			name:    "bad flag",
			env:     map[string]string{"PARLEY_KAFKA_ENABLED": "sometimes"},
			wantErr: true,
		},
		{
			name:    "bad duration",
			env:     map[string]string{"PARLEY_TOKEN_TTL": "soon"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			err := cfg.applyEnv(func(key string) (string, bool) {
				v, ok := tt.env[key]
				return v, ok
			})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Auth.JWTSecret = "s3cret"
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(cfg *Config)
		wantErr bool
	}{
		{"defaults with secret", func(cfg *Config) {}, false},
		{"unknown driver", func(cfg *Config) { cfg.Store.Driver = "sqlite" }, true},
		{"no secret", func(cfg *Config) { cfg.Auth.JWTSecret = "" }, true},
		{"heartbeat", func(cfg *Config) { cfg.Presence.Heartbeat = "* * * * *" }, false},
		{"bad heartbeat", func(cfg *Config) { cfg.Presence.Heartbeat = "whenever" }, true},
		{"kafka without brokers", func(cfg *Config) { cfg.Kafka.Enabled = true }, true},
		{"kafka", func(cfg *Config) {
			cfg.Kafka.Enabled = true
			cfg.Kafka.Brokers = []string{"k1:9092"}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSizeAndDurationParsing(t *testing.T) {
	var s SizeBytes
	require.NoError(t, s.parse("25 MB"))
	assert.Equal(t, "25 MB", s.String())
	require.NoError(t, s.parse("512"))
	assert.Equal(t, int64(512), s.Int64())
	assert.Error(t, s.parse("-"))

	var d Duration
	require.NoError(t, d.parse("1.5"))
	assert.Equal(t, 1500*time.Millisecond, d.Duration())
	require.NoError(t, d.parse(""))
	assert.Equal(t, time.Duration(0), d.Duration())
}

func TestAddr(t *testing.T) {
	cfg := &Config{}
	assert.Equal(t, ":8080", cfg.Addr())
}
