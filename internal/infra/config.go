package infra

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/geoquest/platform/internal/domain"
)

const insecureJWTSecret = "change-me-in-production"

// Config holds all application configuration parsed from environment variables.
type Config struct {
	// Server
	APIPort int `env:"API_PORT" envDefault:"3100"`

	// Engine
	MaxSpeedKmh         float64   `env:"MAX_SPEED_KMH" envDefault:"140"`
	PointsPerKm         int64     `env:"POINTS_PER_KM" envDefault:"10"`
	BadgeMilestones     []float64 `env:"BADGE_MILESTONES" envDefault:"1000,5000,10000,25000,50000,100000" envSeparator:","`
	HistoryCapacity     int       `env:"HISTORY_CAPACITY" envDefault:"200"`
	ChallengeBonusPerKm int64     `env:"CHALLENGE_BONUS_PER_KM" envDefault:"5"`
	Challenges          string    `env:"CHALLENGES" envDefault:"daily_1k:daily:1000:Daily 1 km,weekly_5k:weekly:5000:Weekly 5 km"`

	// Snapshots
	SnapshotBackend  string        `env:"SNAPSHOT_BACKEND" envDefault:"file"`
	SnapshotPath     string        `env:"SNAPSHOT_PATH" envDefault:"data/state.json"`
	SnapshotInterval time.Duration `env:"SNAPSHOT_INTERVAL" envDefault:"10s"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`
	PGHost      string `env:"PGHOST" envDefault:"localhost"`
	PGPort      int    `env:"PGPORT" envDefault:"5432"`
	PGUser      string `env:"PGUSER" envDefault:"geoquest"`
	PGPassword  string `env:"PGPASSWORD" envDefault:"geoquest"`
	PGDatabase  string `env:"PGDATABASE" envDefault:"geoquest"`

	// Kafka
	KafkaBrokers string `env:"KAFKA_BROKERS" envDefault:"localhost:9092"`
	KafkaEnabled bool   `env:"KAFKA_ENABLED" envDefault:"false"`
	KafkaTopic   string `env:"KAFKA_TOPIC" envDefault:"geoquest.game-events"`

	// WebSocket
	WSSendBuffer int           `env:"WS_SEND_BUFFER" envDefault:"64"`
	WSRateLimit  int           `env:"WS_RATE_LIMIT" envDefault:"20"`
	WSRateWindow time.Duration `env:"WS_RATE_WINDOW" envDefault:"1s"`

	// JWT
	JWTSecret      string `env:"JWT_SECRET" envDefault:"change-me-in-production"`
	JWTRiderExpiry string `env:"JWT_RIDER_EXPIRY" envDefault:"24h"`

	// CORS
	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*"`

	// Dev
	AllowInsecureDefaults bool `env:"ALLOW_INSECURE_DEFAULTS" envDefault:"false"`
}

// LoadConfig parses environment variables into a Config struct.
func LoadConfig() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// Validate checks engine tunables and rejects insecure secrets.
// Set ALLOW_INSECURE_DEFAULTS=true to bypass the secret checks (local dev only).
func (c *Config) Validate() error {
	if c.MaxSpeedKmh <= 0 {
		return fmt.Errorf("MAX_SPEED_KMH must be positive, got %v", c.MaxSpeedKmh)
	}
	if c.HistoryCapacity <= 0 {
		return fmt.Errorf("HISTORY_CAPACITY must be positive, got %d", c.HistoryCapacity)
	}
	if c.PointsPerKm < 0 || c.ChallengeBonusPerKm < 0 {
		return fmt.Errorf("POINTS_PER_KM and CHALLENGE_BONUS_PER_KM must not be negative")
	}
	if _, err := domain.ParseChallenges(c.Challenges); err != nil {
		return fmt.Errorf("CHALLENGES: %w", err)
	}
	if c.SnapshotBackend != "file" && c.SnapshotBackend != "postgres" {
		return fmt.Errorf("SNAPSHOT_BACKEND must be file or postgres, got %q", c.SnapshotBackend)
	}
	if c.SnapshotInterval <= 0 {
		return fmt.Errorf("SNAPSHOT_INTERVAL must be positive, got %s", c.SnapshotInterval)
	}
	if _, err := time.ParseDuration(c.JWTRiderExpiry); err != nil {
		return fmt.Errorf("JWT_RIDER_EXPIRY: %w", err)
	}

	if c.AllowInsecureDefaults {
		return nil
	}
	if c.JWTSecret == insecureJWTSecret {
		return fmt.Errorf("JWT_SECRET is set to the insecure default; set a strong secret or set ALLOW_INSECURE_DEFAULTS=true for local dev")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET is too short (%d chars); minimum 32 characters required", len(c.JWTSecret))
	}
	return nil
}

// EngineConfig builds the engine tunables. Call Validate first.
func (c *Config) EngineConfig() (domain.EngineConfig, error) {
	challenges, err := domain.ParseChallenges(c.Challenges)
	if err != nil {
		return domain.EngineConfig{}, fmt.Errorf("parse challenges: %w", err)
	}
	return domain.EngineConfig{
		MaxSpeedKmh:         c.MaxSpeedKmh,
		PointsPerKm:         c.PointsPerKm,
		BadgeMilestones:     c.BadgeMilestones,
		HistoryCapacity:     c.HistoryCapacity,
		ChallengeBonusPerKm: c.ChallengeBonusPerKm,
		Challenges:          challenges,
	}, nil
}

// RiderTokenExpiry returns the parsed JWT_RIDER_EXPIRY, defaulting to 24h.
func (c *Config) RiderTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.JWTRiderExpiry)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// DSN returns the PostgreSQL connection string, preferring DATABASE_URL if set.
func (c *Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.PGUser, c.PGPassword, c.PGHost, c.PGPort, c.PGDatabase)
}
