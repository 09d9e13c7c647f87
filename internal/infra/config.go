package infra

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv       string `envconfig:"APP_ENV" default:"development"`
	PlannerPort  string `envconfig:"PLANNER_PORT" default:"8000"`
	RendererPort string `envconfig:"RENDERER_PORT" default:"8001"`
	OutputsDir   string `envconfig:"OUTPUTS_DIR" default:"outputs"`
	PresetsFile  string `envconfig:"PRESETS_FILE"`

	RendererURL            string `envconfig:"RENDERER_URL" default:"http://localhost:8001"`
	DispatchTimeoutSeconds int    `envconfig:"DISPATCH_TIMEOUT_SECONDS" default:"600"`
	RedispatchAttempts     int    `envconfig:"REDISPATCH_ATTEMPTS" default:"3"`
	RedispatchBackoffMS    int    `envconfig:"REDISPATCH_BACKOFF_MS" default:"500"`

	CORSAllowedOrigins []string `envconfig:"CORS_ALLOWED_ORIGINS"`
	SubmitRateLimit    int      `envconfig:"SUBMIT_RATE_LIMIT" default:"60"`

	RunRealEngine        bool   `envconfig:"RUN_REAL_ENGINE" default:"false"`
	EngineName           string `envconfig:"ENGINE_NAME" default:"sd35"`
	EngineBaseURL        string `envconfig:"ENGINE_BASE_URL"`
	EngineAPIKey         string `envconfig:"ENGINE_API_KEY"`
	EngineTimeoutSeconds int    `envconfig:"ENGINE_TIMEOUT_SECONDS" default:"300"`

	DatabaseURL   string `envconfig:"DATABASE_URL"`
	RedisAddr     string `envconfig:"REDIS_ADDR"`
	RedisPassword string `envconfig:"REDIS_PASSWORD"`

	ArtifactEndpoint  string `envconfig:"ARTIFACT_ENDPOINT"`
	ArtifactAccessKey string `envconfig:"ARTIFACT_ACCESS_KEY"`
	ArtifactSecretKey string `envconfig:"ARTIFACT_SECRET_KEY"`
	ArtifactBucket    string `envconfig:"ARTIFACT_BUCKET" default:"renders"`
	ArtifactUseSSL    bool   `envconfig:"ARTIFACT_USE_SSL" default:"false"`

	HTTPReadTimeoutSeconds  int `envconfig:"HTTP_READ_TIMEOUT_SECONDS" default:"15"`
	HTTPWriteTimeoutSeconds int `envconfig:"HTTP_WRITE_TIMEOUT_SECONDS" default:"660"`
	HTTPIdleTimeoutSeconds  int `envconfig:"HTTP_IDLE_TIMEOUT_SECONDS" default:"60"`
}

// LoadConfig loads .env when present, processes the environment and
// validates the result.
func LoadConfig() (*Config, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}
	cfg.RendererURL = strings.TrimRight(strings.TrimSpace(cfg.RendererURL), "/")
	cfg.EngineBaseURL = strings.TrimRight(strings.TrimSpace(cfg.EngineBaseURL), "/")

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports every configuration problem at once.
func (c *Config) Validate() error {
	var problems []string

	if strings.TrimSpace(c.OutputsDir) == "" {
		problems = append(problems, "OUTPUTS_DIR must not be empty")
	}
	for name, port := range map[string]string{"PLANNER_PORT": c.PlannerPort, "RENDERER_PORT": c.RendererPort} {
		if n, err := strconv.Atoi(port); err != nil || n <= 0 || n > 65535 {
			problems = append(problems, name+" must be a TCP port")
		}
	}
	if u, err := url.ParseRequestURI(c.RendererURL); err != nil || u.Host == "" {
		problems = append(problems, "RENDERER_URL must be an absolute URL")
	}
	if c.RunRealEngine && c.EngineBaseURL == "" {
		problems = append(problems, "ENGINE_BASE_URL is required when RUN_REAL_ENGINE is true")
	}
	if c.SubmitRateLimit < 0 {
		problems = append(problems, "SUBMIT_RATE_LIMIT must not be negative")
	}
	if c.ArtifactEndpoint != "" && (c.ArtifactAccessKey == "" || c.ArtifactSecretKey == "") {
		problems = append(problems, "ARTIFACT_ACCESS_KEY and ARTIFACT_SECRET_KEY are required with ARTIFACT_ENDPOINT")
	}
	for name, v := range map[string]int{
		"DISPATCH_TIMEOUT_SECONDS":   c.DispatchTimeoutSeconds,
		"ENGINE_TIMEOUT_SECONDS":     c.EngineTimeoutSeconds,
		"HTTP_READ_TIMEOUT_SECONDS":  c.HTTPReadTimeoutSeconds,
		"HTTP_WRITE_TIMEOUT_SECONDS": c.HTTPWriteTimeoutSeconds,
		"HTTP_IDLE_TIMEOUT_SECONDS":  c.HTTPIdleTimeoutSeconds,
		"REDISPATCH_ATTEMPTS":        c.RedispatchAttempts,
	} {
		if v <= 0 {
			problems = append(problems, name+" must be positive")
		}
	}

	if len(problems) == 0 {
		return nil
	}
	sort.Strings(problems)
	return errors.New("invalid configuration: " + strings.Join(problems, "; "))
}

func (c *Config) DispatchTimeout() time.Duration { return seconds(c.DispatchTimeoutSeconds) }
func (c *Config) EngineTimeout() time.Duration   { return seconds(c.EngineTimeoutSeconds) }
func (c *Config) RedispatchBackoff() time.Duration {
	return time.Duration(c.RedispatchBackoffMS) * time.Millisecond
}
func (c *Config) HTTPReadTimeout() time.Duration  { return seconds(c.HTTPReadTimeoutSeconds) }
func (c *Config) HTTPWriteTimeout() time.Duration { return seconds(c.HTTPWriteTimeoutSeconds) }
func (c *Config) HTTPIdleTimeout() time.Duration  { return seconds(c.HTTPIdleTimeoutSeconds) }

// LogSummary writes the effective configuration with secrets masked.
func (c *Config) LogSummary(logger zerolog.Logger) {
	logger.Info().
		Str("app_env", c.AppEnv).
		Str("outputs_dir", c.OutputsDir).
		Str("renderer_url", c.RendererURL).
		Bool("run_real_engine", c.RunRealEngine).
		Str("engine", c.EngineName).
		Str("engine_api_key", MaskSecret(c.EngineAPIKey)).
		Bool("ledger", c.DatabaseURL != "").
		Bool("redis_lock", c.RedisAddr != "").
		Bool("artifact_mirror", c.ArtifactEndpoint != "").
		Str("artifact_secret_key", MaskSecret(c.ArtifactSecretKey)).
		Msg("config: loaded")
}

// MaskSecret hides all but the edges of a secret.
func MaskSecret(secret string) string {
	if secret == "" {
		return "<not set>"
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "..." + secret[len(secret)-4:]
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}
