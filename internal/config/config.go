package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// PersonaConfig overrides or adds a grading persona.
type PersonaConfig struct {
	Label        string `mapstructure:"label"`
	Instructions string `mapstructure:"instructions"`
}

// Config holds runtime configuration values for the grading service.
type Config struct {
	AppName              string
	AppEnv               string
	AppPort              string
	DatabaseDriver       string
	DatabaseURL          string
	RedisURL             string
	NATSURL              string
	NATSSubjectPrefix    string
	JWTSecret            string
	CORSAllowOrigins     string
	AIProvider           string
	AIModel              string
	AIBaseURL            string
	AIMaxTokens          int
	AITemperature        float32
	GradingTimeout       time.Duration
	GradingCacheTTL      time.Duration
	GradingMatchEmptyIDs bool
	GradingRemoteURL     string
	UploadMaxSizeMB      int
	RateLimitMax         int
	RateLimitWindow      time.Duration
	Personas             map[string]PersonaConfig
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// HistoryEnabled reports whether grading runs are persisted.
func (c Config) HistoryEnabled() bool {
	return strings.TrimSpace(c.DatabaseURL) != ""
}

// Load reads configuration values from environment variables, an optional
// .env file and the optional YAML file named by GEMA_CONFIG_FILE.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("GEMA")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "GEMA Grader")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("nats.subject_prefix", "gema")
	v.SetDefault("cors.allow_origins", "*")
	v.SetDefault("ai.provider", "gemini")
	v.SetDefault("ai.max_tokens", 4096)
	v.SetDefault("ai.temperature", 0.2)
	v.SetDefault("grading.timeout", "3m")
	v.SetDefault("grading.cache_ttl", "24h")
	v.SetDefault("grading.match_empty_ids", false)
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("rate_limit.max", 10)
	v.SetDefault("rate_limit.window", "1m")

	if path := strings.TrimSpace(os.Getenv("GEMA_CONFIG_FILE")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	timeout, err := parseDuration(v, "grading.timeout")
	if err != nil {
		return Config{}, err
	}
	cacheTTL, err := parseDuration(v, "grading.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	window, err := parseDuration(v, "rate_limit.window")
	if err != nil {
		return Config{}, err
	}

	personas := map[string]PersonaConfig{}
	if err := v.UnmarshalKey("personas", &personas); err != nil {
		return Config{}, fmt.Errorf("invalid personas: %w", err)
	}
	if err := validatePersonas(personas); err != nil {
		return Config{}, err
	}

	cfg := Config{
		AppName:              v.GetString("app.name"),
		AppEnv:               v.GetString("app.env"),
		AppPort:              v.GetString("app.port"),
		DatabaseDriver:       strings.ToLower(v.GetString("database.driver")),
		DatabaseURL:          v.GetString("database.url"),
		RedisURL:             v.GetString("redis.url"),
		NATSURL:              v.GetString("nats.url"),
		NATSSubjectPrefix:    v.GetString("nats.subject_prefix"),
		JWTSecret:            v.GetString("jwt.secret"),
		CORSAllowOrigins:     v.GetString("cors.allow_origins"),
		AIProvider:           strings.ToLower(v.GetString("ai.provider")),
		AIModel:              v.GetString("ai.model"),
		AIBaseURL:            v.GetString("ai.base_url"),
		AIMaxTokens:          v.GetInt("ai.max_tokens"),
		AITemperature:        float32(v.GetFloat64("ai.temperature")),
		GradingTimeout:       timeout,
		GradingCacheTTL:      cacheTTL,
		GradingMatchEmptyIDs: v.GetBool("grading.match_empty_ids"),
		GradingRemoteURL:     v.GetString("grading.remote_url"),
		UploadMaxSizeMB:      v.GetInt("upload.max_size_mb"),
		RateLimitMax:         v.GetInt("rate_limit.max"),
		RateLimitWindow:      window,
		Personas:             personas,
	}

	switch cfg.DatabaseDriver {
	case "postgres", "sqlite":
	default:
		return Config{}, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := strings.TrimSpace(v.GetString(key))
	duration, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if duration <= 0 {
		return 0, fmt.Errorf("invalid %s: must be positive", key)
	}
	return duration, nil
}

var builtInPersonas = map[string]bool{"balanced": true, "strict": true, "insightful": true}

func validatePersonas(personas map[string]PersonaConfig) error {
	for key, persona := range personas {
		profile := strings.ToLower(strings.TrimSpace(key))
		switch {
		case profile == "":
			return fmt.Errorf("persona profile name must not be empty")
		case profile == "custom":
			return fmt.Errorf("persona %q is reserved for user supplied instructions", profile)
		case !builtInPersonas[profile] && strings.TrimSpace(persona.Instructions) == "":
			return fmt.Errorf("persona %q has no instructions", profile)
		}
	}
	return nil
}
