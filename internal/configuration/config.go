package configuration

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

const envPrefix = "PARLEY_"

type ServerConfig struct {
	AppPort        int      `yaml:"app_port" json:"app_port"`
	AllowedOrigins []string `yaml:"allowed_origins" json:"allowed_origins"`
	RateLimit      float64  `yaml:"rate_limit" json:"rate_limit"`
	RateBurst      int      `yaml:"rate_burst" json:"rate_burst"`
}

type MongoConfig struct {
	Uri      string `yaml:"uri" json:"uri"`
	Database string `yaml:"database" json:"database"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr" json:"addr"`
	Password string `yaml:"password" json:"password"`
	DB       int    `yaml:"db" json:"db"`
	Prefix   string `yaml:"prefix" json:"prefix"`
}

type PebbleConfig struct {
	Path string `yaml:"path" json:"path"`
}

type StoreConfig struct {
	Driver string       `yaml:"driver" json:"driver"`
	Mongo  MongoConfig  `yaml:"mongo" json:"mongo"`
	Redis  RedisConfig  `yaml:"redis" json:"redis"`
	Pebble PebbleConfig `yaml:"pebble" json:"pebble"`
}

type AuthConfig struct {
	JWTSecret       string   `yaml:"jwt_secret" json:"jwt_secret"`
	FederatedSecret string   `yaml:"federated_secret" json:"federated_secret"`
	TokenTTL        Duration `yaml:"token_ttl" json:"token_ttl"`
}

type MediaConfig struct {
	BaseURL      string    `yaml:"base_url" json:"base_url"`
	CloudName    string    `yaml:"cloud_name" json:"cloud_name"`
	UploadPreset string    `yaml:"upload_preset" json:"upload_preset"`
	ChatFolder   string    `yaml:"chat_folder" json:"chat_folder"`
	AvatarFolder string    `yaml:"avatar_folder" json:"avatar_folder"`
	MaxSize      SizeBytes `yaml:"max_size" json:"max_size"`
	Timeout      Duration  `yaml:"timeout" json:"timeout"`
}

type KafkaConfig struct {
	Enabled bool     `yaml:"enabled" json:"enabled"`
	Brokers []string `yaml:"brokers" json:"brokers"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type PresenceConfig struct {
	Heartbeat string `yaml:"heartbeat" json:"heartbeat"`
}

type SessionConfig struct {
	ProfileRetries    int      `yaml:"profile_retries" json:"profile_retries"`
	ProfileRetryDelay Duration `yaml:"profile_retry_delay" json:"profile_retry_delay"`
}

type LogConfig struct {
	Level       string `yaml:"level" json:"level"`
	Development bool   `yaml:"development" json:"development"`
}

type Config struct {
	Server   ServerConfig   `yaml:"server" json:"server"`
	Store    StoreConfig    `yaml:"store" json:"store"`
	Auth     AuthConfig     `yaml:"auth" json:"auth"`
	Media    MediaConfig    `yaml:"media" json:"media"`
	Kafka    KafkaConfig    `yaml:"kafka" json:"kafka"`
	Presence PresenceConfig `yaml:"presence" json:"presence"`
	Session  SessionConfig  `yaml:"session" json:"session"`
	Log      LogConfig      `yaml:"log" json:"log"`
}

// Default returns the configuration used when nothing else is provided.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			AppPort:        8080,
			AllowedOrigins: []string{"http://localhost:5173"},
			RateLimit:      20,
			RateBurst:      40,
		},
		Store: StoreConfig{
			Driver: "memory",
			Mongo:  MongoConfig{Uri: "mongodb://localhost:27017", Database: "parley"},
			Redis:  RedisConfig{Addr: "localhost:6379", Prefix: "parley"},
			Pebble: PebbleConfig{Path: "data/parley"},
		},
		Auth: AuthConfig{TokenTTL: Duration(24 * time.Hour)},
		Media: MediaConfig{
			BaseURL:      "https://api.cloudinary.com/v1_1",
			UploadPreset: "chat app",
			ChatFolder:   "chat-app/chats",
			AvatarFolder: "chat-app/avatars",
			MaxSize:      SizeBytes(25 * humanize.MByte),
			Timeout:      Duration(60 * time.Second),
		},
		Kafka: KafkaConfig{Topic: "parley.mutations"},
		Session: SessionConfig{
			ProfileRetries:    5,
			ProfileRetryDelay: Duration(300 * time.Millisecond),
		},
		Log: LogConfig{Level: "info"},
	}
}

// LoadConfig reads path over the defaults, applies PARLEY_* environment
// overrides and validates the result. A .json file is read in the legacy
// JSON layout; anything else is YAML. An empty path skips the file.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, err
		}

		if strings.EqualFold(filepath.Ext(path), ".json") {
			err = json.Unmarshal(b, cfg)
		} else {
			err = yaml.Unmarshal(b, cfg)
		}
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	port := c.Server.AppPort
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf(":%d", port)
}

func (c *Config) Validate() error {
	switch c.Store.Driver {
	case "memory", "pebble", "redis", "mongo":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if c.Presence.Heartbeat != "" && !gronx.IsValid(c.Presence.Heartbeat) {
		return fmt.Errorf("invalid presence.heartbeat expression: %s", c.Presence.Heartbeat)
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka.brokers and kafka.topic are required when kafka is enabled")
	}
	return nil
}

type lookupFunc func(string) (string, bool)

// applyEnv overrides fields from PARLEY_<SECTION>_<FIELD> variables.
func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(envPrefix + key); ok {
			*dst = splitList(v)
		}
	}

	var errs []string
	num := func(key string, dst *int) {
		if v, ok := lookup(envPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = n
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(envPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, envPrefix+key)
				return
			}
			*dst = b
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(envPrefix + key); ok {
			if err := dst.parse(v); err != nil {
				errs = append(errs, envPrefix+key)
			}
		}
	}

	num("SERVER_APP_PORT", &c.Server.AppPort)
	list("SERVER_ALLOWED_ORIGINS", &c.Server.AllowedOrigins)
	str("STORE_DRIVER", &c.Store.Driver)
	str("MONGO_URI", &c.Store.Mongo.Uri)
	str("MONGO_DATABASE", &c.Store.Mongo.Database)
	str("REDIS_ADDR", &c.Store.Redis.Addr)
	str("REDIS_PASSWORD", &c.Store.Redis.Password)
	num("REDIS_DB", &c.Store.Redis.DB)
	str("PEBBLE_PATH", &c.Store.Pebble.Path)
	str("JWT_SECRET", &c.Auth.JWTSecret)
	str("FEDERATED_SECRET", &c.Auth.FederatedSecret)
	dur("TOKEN_TTL", &c.Auth.TokenTTL)
	str("MEDIA_CLOUD_NAME", &c.Media.CloudName)
	str("MEDIA_UPLOAD_PRESET", &c.Media.UploadPreset)
	flag("KAFKA_ENABLED", &c.Kafka.Enabled)
	list("KAFKA_BROKERS", &c.Kafka.Brokers)
	str("KAFKA_TOPIC", &c.Kafka.Topic)
	str("PRESENCE_HEARTBEAT", &c.Presence.Heartbeat)
	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEVELOPMENT", &c.Log.Development)

	if v, ok := lookup(envPrefix + "MEDIA_MAX_SIZE"); ok {
		if err := c.Media.MaxSize.parse(v); err != nil {
			errs = append(errs, envPrefix+"MEDIA_MAX_SIZE")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid environment overrides: %s", strings.Join(errs, ", "))
	}
	return nil
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// SizeBytes is a byte count written as "25 MB" or a plain integer.
type SizeBytes int64

func (s *SizeBytes) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", raw)
}

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	return s.parse(node.Value)
}

func (s *SizeBytes) UnmarshalJSON(b []byte) error {
	return s.parse(strings.Trim(string(b), `"`))
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func (s SizeBytes) String() string { return humanize.Bytes(uint64(s)) }

// Duration is a time.Duration written as "300ms" or plain seconds.
type Duration time.Duration

func (d *Duration) parse(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		*d = 0
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", raw)
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	return d.parse(node.Value)
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	return d.parse(strings.Trim(string(b), `"`))
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
