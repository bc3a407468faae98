package config

import (
	"context"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
)

// Camera source names.
const (
	CameraSourcePush = "push"
	CameraSourceFile = "file"
)

// App holds core runtime configuration shared across services.
type App struct {
	Name                    string        `env:"APP_NAME" envDefault:"selfie-quiz"`
	Env                     string        `env:"APP_ENV" envDefault:"development"`
	HTTPAddr                string        `env:"HTTP_ADDR" envDefault:"0.0.0.0:8080"`
	GracefulShutdownTimeout time.Duration `env:"GRACEFUL_SHUTDOWN_SECONDS" envDefault:"20s"`

	Generator Generator
	Camera    Camera
	Game      Game
	Redis     Redis
	CORS      CORS
}

// Generator configures the remote image generation service.
type Generator struct {
	URL         string        `env:"IMAGEGEN_API_URL" envDefault:"https://api.nanobanana.dev/v1/generate"`
	APIKey      string        `env:"IMAGEGEN_API_KEY"`
	HTTPTimeout time.Duration `env:"IMAGEGEN_HTTP_TIMEOUT" envDefault:"60s"`
}

// Camera controls how selfies are acquired.
type Camera struct {
	Source         string        `env:"CAMERA_SOURCE" envDefault:"push"`
	File           string        `env:"CAMERA_FILE"`
	SettleDelay    time.Duration `env:"CAMERA_SETTLE_DELAY" envDefault:"500ms"`
	AcquireTimeout time.Duration `env:"CAMERA_ACQUIRE_TIMEOUT" envDefault:"20s"`
	IdealWidth     int           `env:"CAMERA_IDEAL_WIDTH" envDefault:"1280"`
	IdealHeight    int           `env:"CAMERA_IDEAL_HEIGHT" envDefault:"720"`
	JPEGQuality    int           `env:"CAMERA_JPEG_QUALITY" envDefault:"90"`
}

// Game groups gameplay defaults.
type Game struct {
	AutoAdvanceDelay time.Duration `env:"GAME_AUTO_ADVANCE_DELAY" envDefault:"0s"`
	GenerationWait   time.Duration `env:"GAME_GENERATION_WAIT" envDefault:"45s"`
	FallbackImageURL string        `env:"GAME_FALLBACK_IMAGE_URL" envDefault:"https://placehold.co/800x800?text=AI"`
	QuestionBankPath string        `env:"GAME_QUESTION_BANK_PATH"`
	SessionIdleTTL   time.Duration `env:"GAME_SESSION_IDLE_TTL" envDefault:"30m"`
	SweepInterval    time.Duration `env:"GAME_SWEEP_INTERVAL" envDefault:"1m"`
}

// Redis configures the optional snapshot mirror. An empty Addr disables it.
type Redis struct {
	Addr        string        `env:"REDIS_ADDR"`
	DB          int           `env:"REDIS_DB" envDefault:"0"`
	PoolSize    int           `env:"REDIS_POOL_SIZE" envDefault:"10"`
	SnapshotTTL time.Duration `env:"REDIS_SNAPSHOT_TTL" envDefault:"2h"`
}

// CORS holds Cross-Origin Resource Sharing configuration.
type CORS struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:5173,http://127.0.0.1:5173"`
}

// Load parses environment variables into App config.
func Load(ctx context.Context) (*App, error) {
	cfg := &App{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints env tags cannot express.
func (a *App) Validate() error {
	switch a.Camera.Source {
	case CameraSourcePush:
	case CameraSourceFile:
		if a.Camera.File == "" {
			return fmt.Errorf("CAMERA_FILE must be set when CAMERA_SOURCE=%s", CameraSourceFile)
		}
	default:
		return fmt.Errorf("unknown CAMERA_SOURCE %q", a.Camera.Source)
	}
	if a.Camera.JPEGQuality < 1 || a.Camera.JPEGQuality > 100 {
		return fmt.Errorf("CAMERA_JPEG_QUALITY must be within 1..100, got %d", a.Camera.JPEGQuality)
	}
	if a.Game.AutoAdvanceDelay < 0 {
		return fmt.Errorf("GAME_AUTO_ADVANCE_DELAY must not be negative")
	}
	return nil
}

// AllowsOrigin reports whether origin is in the CORS allow list. An empty
// origin (non-browser client) is always allowed.
func (c CORS) AllowsOrigin(origin string) bool {
	if origin == "" {
		return true
	}
	for _, o := range c.AllowedOrigins {
		if o == "*" || o == origin {
			return true
		}
	}
	return false
}
