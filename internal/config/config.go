package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server     ServerConfig
	Log        LogConfig
	Gemini     GeminiConfig
	Gateway    GatewayConfig
	Room       RoomConfig
	Turns      TurnConfig
	Context    ContextConfig
	Redis      RedisConfig
	Transcript TranscriptConfig
	DB         DBConfig
	NATS       NATSConfig
	CORS       CORSConfig
}

type ServerConfig struct {
	Host string
	Port int
}

type LogConfig struct {
	Level  string
	Format string
}

type GeminiConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// GatewayConfig bounds the shared generation gateway. MaxInFlight caps
// concurrent upstream calls across every caller.
type GatewayConfig struct {
	MaxInFlight   int
	DispatchDelay time.Duration
}

type RoomConfig struct {
	// AgentPassword is the shared join secret that marks a participant as
	// an agent rather than a human.
	AgentPassword string
	// MemorySize is how many of an agent's own recent utterances are kept
	// for its "do not repeat yourself" prompt block.
	MemorySize   int
	MemoryTTLSec int
}

// TurnConfig carries the selection and scheduling constants. The score
// thresholds, delays and stagger increments are empirically tuned values
// inherited from the production deployment; treat them as data.
type TurnConfig struct {
	BaseDelay   time.Duration
	RandomDelay time.Duration
	StaggerStep time.Duration

	ScoreThreshold          int
	DirectiveScoreThreshold int
	MaxResponders           int
	DirectiveMaxResponders  int

	Cooldown      time.Duration
	CooldownSlack time.Duration

	DirectiveTTL      time.Duration
	ModeratorTurns    int
	ModeratorInterval time.Duration

	MaxQueuedFollowUps int
	QueueCeiling       int
}

type ContextConfig struct {
	MaxLength        int
	TargetLength     int
	MinRecentKeep    int
	TopicInterval    time.Duration
	MinutesMaxTokens int
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// TranscriptConfig selects the durable message log backend: "file" writes
// JSON lines to Path, "postgres" writes to the messages table.
type TranscriptConfig struct {
	Backend string
	Path    string
}

type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
}

func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode)
}

type NATSConfig struct {
	URL string
}

type CORSConfig struct {
	AllowedOrigins []string
}

func Load() (*Config, error) {
	k := koanf.New(".")

	// Load .env file if it exists (ignore error if missing)
	_ = k.Load(file.Provider(".env"), dotenv.Parser())

	// Load environment variables (override .env)
	err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(strings.ReplaceAll(s, "_", "."))
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading env vars: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: k.String("server.host"),
			Port: k.Int("server.port"),
		},
		Log: LogConfig{
			Level:  k.String("log.level"),
			Format: k.String("log.format"),
		},
		Gemini: GeminiConfig{
			APIKey:  k.String("gemini.api.key"),
			Model:   k.String("gemini.model"),
			BaseURL: k.String("gemini.base.url"),
			Timeout: secondsOr(k, "gemini.timeout.sec", 30),
		},
		Gateway: GatewayConfig{
			MaxInFlight:   intOr(k, "gateway.max.inflight", 3),
			DispatchDelay: millisOr(k, "gateway.dispatch.delay.ms", 250),
		},
		Room: RoomConfig{
			AgentPassword: k.String("room.agent.password"),
			MemorySize:    intOr(k, "room.memory.size", 2),
			MemoryTTLSec:  intOr(k, "room.memory.ttl.sec", 3600),
		},
		Turns: TurnConfig{
			BaseDelay:   millisOr(k, "turns.base.delay.ms", 4000),
			RandomDelay: millisOr(k, "turns.random.delay.ms", 2000),
			StaggerStep: millisOr(k, "turns.stagger.step.ms", 1500),

			ScoreThreshold:          intOr(k, "turns.score.threshold", 60),
			DirectiveScoreThreshold: intOr(k, "turns.directive.score.threshold", 40),
			MaxResponders:           intOr(k, "turns.max.responders", 2),
			DirectiveMaxResponders:  intOr(k, "turns.directive.max.responders", 3),

			Cooldown:      secondsOr(k, "turns.cooldown.sec", 20),
			CooldownSlack: secondsOr(k, "turns.cooldown.slack.sec", 2),

			DirectiveTTL:      secondsOr(k, "turns.directive.ttl.sec", 10),
			ModeratorTurns:    intOr(k, "turns.moderator.turns", 8),
			ModeratorInterval: secondsOr(k, "turns.moderator.interval.sec", 180),

			MaxQueuedFollowUps: intOr(k, "turns.max.queued.followups", 3),
			QueueCeiling:       intOr(k, "turns.queue.ceiling", 32),
		},
		Context: ContextConfig{
			MaxLength:        intOr(k, "context.max.length", 25),
			TargetLength:     intOr(k, "context.target.length", 15),
			MinRecentKeep:    intOr(k, "context.min.recent.keep", 7),
			TopicInterval:    secondsOr(k, "context.topic.interval.sec", 120),
			MinutesMaxTokens: intOr(k, "context.minutes.max.tokens", 4096),
		},
		Redis: RedisConfig{
			Host:     k.String("redis.host"),
			Port:     k.Int("redis.port"),
			Password: k.String("redis.password"),
			DB:       k.Int("redis.db"),
		},
		Transcript: TranscriptConfig{
			Backend: k.String("transcript.backend"),
			Path:    k.String("transcript.path"),
		},
		DB: DBConfig{
			Host:     k.String("db.host"),
			Port:     k.Int("db.port"),
			User:     k.String("db.user"),
			Password: k.String("db.password"),
			Name:     k.String("db.name"),
			SSLMode:  k.String("db.sslmode"),
			MaxConns: int32(k.Int("db.max.conns")),
		},
		NATS: NATSConfig{
			URL: k.String("nats.url"),
		},
		CORS: CORSConfig{
			AllowedOrigins: k.Strings("cors.allowed.origins"),
		},
	}

	// Apply defaults
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Gemini.Model == "" {
		cfg.Gemini.Model = "gemini-1.5-flash-latest"
	}
	if cfg.Gemini.BaseURL == "" {
		cfg.Gemini.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if cfg.Transcript.Backend == "" {
		cfg.Transcript.Backend = "file"
	}
	if cfg.Transcript.Path == "" {
		cfg.Transcript.Path = "chat.log"
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "localhost"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.DB.Host == "" {
		cfg.DB.Host = "localhost"
	}
	if cfg.DB.Port == 0 {
		cfg.DB.Port = 5432
	}
	if cfg.DB.SSLMode == "" {
		cfg.DB.SSLMode = "disable"
	}
	if cfg.DB.MaxConns == 0 {
		cfg.DB.MaxConns = 10
	}

	return cfg, nil
}

func intOr(k *koanf.Koanf, key string, def int) int {
	if v := k.Int(key); v != 0 {
		return v
	}
	return def
}

func millisOr(k *koanf.Koanf, key string, defMillis int) time.Duration {
	return time.Duration(intOr(k, key, defMillis)) * time.Millisecond
}

func secondsOr(k *koanf.Koanf, key string, defSeconds int) time.Duration {
	return time.Duration(intOr(k, key, defSeconds)) * time.Second
}
