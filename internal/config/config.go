package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/Pulkitjakhmola/custlysis/internal/segmentation"
)

// Settings is the process configuration.
type Settings struct {
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	RegistryDSN string

	ArtifactBackend string
	ArtifactPath    string
	RedisAddr       string
	RedisPassword   string
	RedisKey        string

	NatsURL    string
	WebhookURL string

	Port     string
	LogLevel string

	RetrainCron string
	RescoreCron string

	Segmentation segmentation.Config
}

var defaults = map[string]interface{}{
	"DB_HOST":                "localhost",
	"DB_PORT":                "5432",
	"DB_USER":                "admin",
	"DB_PASSWORD":            "password",
	"DB_NAME":                "custlysis",
	"DB_SSLMODE":             "disable",
	"ARTIFACT_BACKEND":       "file",
	"ARTIFACT_PATH":          "models/segmentation_model.json",
	"REDIS_ADDR":             "localhost:6379",
	"REDIS_KEY":              "custlysis:segmentation:model",
	"PORT":                   "8090",
	"LOG_LEVEL":              "info",
	"RETRAIN_CRON":           "",
	"RESCORE_CRON":           "",
	"NATS_URL":               "",
	"WEBHOOK_URL":            "",
	"REGISTRY_DSN":           "",
	"REDIS_PASSWORD":         "",
	"MIN_K":                  3,
	"MAX_K":                  8,
	"SEED":                   42,
	"RESTARTS":               10,
	"MAX_ITERATIONS":         300,
	"MIN_TRAINING_CUSTOMERS": 30,
	"CONFIDENCE_MODE":        string(segmentation.ConfidenceBatch),
	"MODEL_VERSION_PREFIX":   "v1.0",
}

// Load reads .env (if present), an optional config file named by
// CUSTLYSIS_CONFIG, then the environment.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}
	v := viper.New()
	if path := os.Getenv("CUSTLYSIS_CONFIG"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}
	return FromViper(v)
}

// FromViper builds Settings from v with defaults and environment overrides applied.
func FromViper(v *viper.Viper) (*Settings, error) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	s := &Settings{
		DBHost:          v.GetString("DB_HOST"),
		DBPort:          v.GetString("DB_PORT"),
		DBUser:          v.GetString("DB_USER"),
		DBPassword:      v.GetString("DB_PASSWORD"),
		DBName:          v.GetString("DB_NAME"),
		DBSSLMode:       v.GetString("DB_SSLMODE"),
		RegistryDSN:     v.GetString("REGISTRY_DSN"),
		ArtifactBackend: strings.ToLower(v.GetString("ARTIFACT_BACKEND")),
		ArtifactPath:    v.GetString("ARTIFACT_PATH"),
		RedisAddr:       v.GetString("REDIS_ADDR"),
		RedisPassword:   v.GetString("REDIS_PASSWORD"),
		RedisKey:        v.GetString("REDIS_KEY"),
		NatsURL:         v.GetString("NATS_URL"),
		WebhookURL:      v.GetString("WEBHOOK_URL"),
		Port:            v.GetString("PORT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		RetrainCron:     v.GetString("RETRAIN_CRON"),
		RescoreCron:     v.GetString("RESCORE_CRON"),
	}
	if s.RegistryDSN == "" {
		s.RegistryDSN = s.PostgresDSN()
	}

	seg := segmentation.DefaultConfig()
	seg.MinK = v.GetInt("MIN_K")
	seg.MaxK = v.GetInt("MAX_K")
	seg.Seed = v.GetInt64("SEED")
	seg.Restarts = v.GetInt("RESTARTS")
	seg.MaxIterations = v.GetInt("MAX_ITERATIONS")
	seg.MinTrainingCustomers = v.GetInt("MIN_TRAINING_CUSTOMERS")
	seg.ConfidenceMode = segmentation.ConfidenceMode(strings.ToLower(v.GetString("CONFIDENCE_MODE")))
	seg.ModelVersionPrefix = v.GetString("MODEL_VERSION_PREFIX")
	if err := seg.Validate(); err != nil {
		return nil, err
	}
	s.Segmentation = seg

	switch s.ArtifactBackend {
	case "file", "redis":
	default:
		return nil, fmt.Errorf("config: unknown artifact backend %q", s.ArtifactBackend)
	}
	return s, nil
}

// PostgresDSN returns the lib/pq connection string for the customer database.
func (s *Settings) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		s.DBHost, s.DBPort, s.DBUser, s.DBPassword, s.DBName, s.DBSSLMode)
}
