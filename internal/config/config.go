package config

import (
	"log"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config holds runtime settings for the proactive subsystem.
// Loaded from environment variables, with .env as a convenience overlay.
type Config struct {
	DataDir     string `env:"PULSE_DATA_DIR" envDefault:"data"`
	DBPath      string `env:"PULSE_DB_PATH"`      // empty = <DataDir>/pulse.db
	PersonaPath string `env:"PULSE_PERSONA_PATH"` // empty = <DataDir>/personas.json

	// AIEngine examples: "pollinations", "g4f:gpt-oss-120b", "g4f:groq/qwen/qwen3-32b".
	AIEngine         string        `env:"AI_ENGINE" envDefault:"pollinations"`
	AIFallbackEngine string        `env:"AI_FALLBACK_ENGINE" envDefault:"g4f:gpt-oss-120b"`
	GenerateTimeout  time.Duration `env:"AI_GENERATE_TIMEOUT" envDefault:"30s"`
	GenerateTokens   int           `env:"AI_GENERATE_TOKENS" envDefault:"220"`

	StuckJobTimeout  time.Duration `env:"PULSE_STUCK_JOB_TIMEOUT" envDefault:"10m"`
	ScheduleWindow   time.Duration `env:"PULSE_SCHEDULE_WINDOW" envDefault:"30m"`
	ActiveWindow     time.Duration `env:"PULSE_ACTIVE_WINDOW" envDefault:"168h"`
	DefaultDailyCap  int           `env:"PULSE_DEFAULT_DAILY_CAP" envDefault:"3"`
	AnalysisCooldown time.Duration `env:"PULSE_ANALYSIS_COOLDOWN" envDefault:"4h"`
}

// Load reads .env (if present) and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("[CONF] no .env file found, using system environment")
	}
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "pulse.db")
	}
	if cfg.PersonaPath == "" {
		cfg.PersonaPath = filepath.Join(cfg.DataDir, "personas.json")
	}
	return cfg, nil
}
