package config

import (
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

type LookupFunc func(string) (string, bool)

type Profile string

const (
	ProfileDev  Profile = "dev"
	ProfileTest Profile = "test"
	ProfileProd Profile = "prod"
)

const (
	ProviderLlama  = "llama"
	ProviderOpenAI = "openai"
)

type Config struct {
	Profile       Profile
	Service       ServiceConfig
	HTTP          HTTPConfig
	Database      DatabaseConfig
	Schema        SchemaConfig
	Query         QueryConfig
	Completion    CompletionConfig
	History       HistoryConfig
	Export        ExportConfig
	ObjectStore   ObjectStoreConfig
	Observability ObservabilityConfig
}

type ServiceConfig struct {
	Name string
}

type HTTPConfig struct {
	Address      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type DatabaseConfig struct {
	DSN            string
	Host           string
	Port           int
	User           string
	Password       string
	Name           string
	SSLMode        string
	ConnectTimeout time.Duration
}

// ConnString returns DSN when set, otherwise a postgres URL assembled from the parts.
func (c DatabaseConfig) ConnString() string {
	if strings.TrimSpace(c.DSN) != "" {
		return strings.TrimSpace(c.DSN)
	}
	u := url.URL{
		Scheme: "postgres",
		User:   url.UserPassword(c.User, c.Password),
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/" + c.Name,
	}
	if c.SSLMode != "" {
		u.RawQuery = url.Values{"sslmode": []string{c.SSLMode}}.Encode()
	}
	return u.String()
}

type SchemaConfig struct {
	SampleRows int
}

type QueryConfig struct {
	ReadOnly bool
}

type CompletionConfig struct {
	Provider          string
	Host              string
	Port              int
	Temperature       float64
	RepetitionPenalty float64
	NPredict          int
	Timeout           time.Duration
	OpenAIBaseURL     string
	OpenAIAPIKey      string
	OpenAIModel       string
}

func (c CompletionConfig) BaseURL() string {
	return "http://" + net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

type HistoryConfig struct {
	DSN string
}

type ExportConfig struct {
	Enabled bool
}

type ObjectStoreConfig struct {
	Endpoint         string
	Region           string
	Bucket           string
	AccessKeyID      string
	SecretAccessKey  string
	UseSSL           bool
	Prefix           string
	AutoCreateBucket bool
}

type ObservabilityConfig struct {
	LogLevel slog.Level
	LogJSON  bool
}

func LoadFromEnv(serviceName string) (Config, error) {
	return Load(serviceName, os.LookupEnv)
}

func Load(serviceName string, lookup LookupFunc) (Config, error) {
	if lookup == nil {
		return Config{}, fmt.Errorf("lookup function is required")
	}

	profile := ProfileDev
	if raw, ok := lookup("PGQUERY_PROFILE"); ok {
		profile = Profile(strings.ToLower(strings.TrimSpace(raw)))
	}
	if !isValidProfile(profile) {
		return Config{}, fmt.Errorf("invalid PGQUERY_PROFILE: %q", profile)
	}

	cfg := defaultsForProfile(profile)
	if serviceName != "" {
		cfg.Service.Name = serviceName
	}

	appliers := []func() error{
		func() error { return applyString(lookup, "PGQUERY_SERVICE_NAME", &cfg.Service.Name) },
		func() error { return applyString(lookup, "PGQUERY_HTTP_ADDR", &cfg.HTTP.Address) },
		func() error { return applyDuration(lookup, "PGQUERY_HTTP_READ_TIMEOUT", &cfg.HTTP.ReadTimeout) },
		func() error { return applyDuration(lookup, "PGQUERY_HTTP_WRITE_TIMEOUT", &cfg.HTTP.WriteTimeout) },
		func() error { return applyDuration(lookup, "PGQUERY_HTTP_IDLE_TIMEOUT", &cfg.HTTP.IdleTimeout) },
		func() error { return applyString(lookup, "PGQUERY_DB_DSN", &cfg.Database.DSN) },
		func() error { return applyString(lookup, "PGQUERY_DB_HOST", &cfg.Database.Host) },
		func() error { return applyInt(lookup, "PGQUERY_DB_PORT", &cfg.Database.Port) },
		func() error { return applyString(lookup, "PGQUERY_DB_USER", &cfg.Database.User) },
		func() error { return applyString(lookup, "PGQUERY_DB_PASSWORD", &cfg.Database.Password) },
		func() error { return applyString(lookup, "PGQUERY_DB_NAME", &cfg.Database.Name) },
		func() error { return applyString(lookup, "PGQUERY_DB_SSLMODE", &cfg.Database.SSLMode) },
		func() error { return applyDuration(lookup, "PGQUERY_DB_CONNECT_TIMEOUT", &cfg.Database.ConnectTimeout) },
		func() error { return applyInt(lookup, "PGQUERY_SCHEMA_SAMPLE_ROWS", &cfg.Schema.SampleRows) },
		func() error { return applyBool(lookup, "PGQUERY_QUERY_READ_ONLY", &cfg.Query.ReadOnly) },
		func() error { return applyString(lookup, "PGQUERY_COMPLETION_PROVIDER", &cfg.Completion.Provider) },
		func() error { return applyString(lookup, "PGQUERY_COMPLETION_HOST", &cfg.Completion.Host) },
		func() error { return applyInt(lookup, "PGQUERY_COMPLETION_PORT", &cfg.Completion.Port) },
		func() error { return applyFloat(lookup, "PGQUERY_COMPLETION_TEMPERATURE", &cfg.Completion.Temperature) },
		func() error {
			return applyFloat(lookup, "PGQUERY_COMPLETION_REPETITION_PENALTY", &cfg.Completion.RepetitionPenalty)
		},
		func() error { return applyInt(lookup, "PGQUERY_COMPLETION_N_PREDICT", &cfg.Completion.NPredict) },
		func() error { return applyDuration(lookup, "PGQUERY_COMPLETION_TIMEOUT", &cfg.Completion.Timeout) },
		func() error { return applyString(lookup, "PGQUERY_OPENAI_BASE_URL", &cfg.Completion.OpenAIBaseURL) },
		func() error { return applyString(lookup, "PGQUERY_OPENAI_API_KEY", &cfg.Completion.OpenAIAPIKey) },
		func() error { return applyString(lookup, "PGQUERY_OPENAI_MODEL", &cfg.Completion.OpenAIModel) },
		func() error { return applyString(lookup, "PGQUERY_HISTORY_DSN", &cfg.History.DSN) },
		func() error { return applyBool(lookup, "PGQUERY_EXPORT_ENABLED", &cfg.Export.Enabled) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_ENDPOINT", &cfg.ObjectStore.Endpoint) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_REGION", &cfg.ObjectStore.Region) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_BUCKET", &cfg.ObjectStore.Bucket) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_ACCESS_KEY", &cfg.ObjectStore.AccessKeyID) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_SECRET_KEY", &cfg.ObjectStore.SecretAccessKey) },
		func() error { return applyBool(lookup, "PGQUERY_OBJECTSTORE_USE_SSL", &cfg.ObjectStore.UseSSL) },
		func() error { return applyString(lookup, "PGQUERY_OBJECTSTORE_PREFIX", &cfg.ObjectStore.Prefix) },
		func() error {
			return applyBool(lookup, "PGQUERY_OBJECTSTORE_AUTO_CREATE_BUCKET", &cfg.ObjectStore.AutoCreateBucket)
		},
		func() error { return applyBool(lookup, "PGQUERY_LOG_JSON", &cfg.Observability.LogJSON) },
		func() error { return applyLogLevel(lookup, "PGQUERY_LOG_LEVEL", &cfg.Observability.LogLevel) },
	}
	for _, apply := range appliers {
		if err := apply(); err != nil {
			return Config{}, err
		}
	}

	cfg.Completion.Provider = strings.ToLower(cfg.Completion.Provider)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Service.Name == "" {
		return fmt.Errorf("service name is required")
	}
	if c.HTTP.Address == "" {
		return fmt.Errorf("http address is required")
	}
	if c.Database.DSN == "" && (c.Database.Host == "" || c.Database.Name == "") {
		return fmt.Errorf("database host and name are required when PGQUERY_DB_DSN is not set")
	}
	if c.Database.Port <= 0 || c.Database.Port > 65535 {
		return fmt.Errorf("invalid PGQUERY_DB_PORT: %d", c.Database.Port)
	}
	if c.Schema.SampleRows < 0 {
		return fmt.Errorf("PGQUERY_SCHEMA_SAMPLE_ROWS must be >= 0")
	}
	switch c.Completion.Provider {
	case ProviderLlama:
		if c.Completion.Host == "" {
			return fmt.Errorf("completion host is required")
		}
		if c.Completion.Port <= 0 || c.Completion.Port > 65535 {
			return fmt.Errorf("invalid PGQUERY_COMPLETION_PORT: %d", c.Completion.Port)
		}
	case ProviderOpenAI:
		if c.Completion.OpenAIAPIKey == "" {
			return fmt.Errorf("PGQUERY_OPENAI_API_KEY is required for the openai provider")
		}
	default:
		return fmt.Errorf("invalid PGQUERY_COMPLETION_PROVIDER: %q", c.Completion.Provider)
	}
	if c.Export.Enabled && (c.ObjectStore.Endpoint == "" || c.ObjectStore.Bucket == "") {
		return fmt.Errorf("object store endpoint and bucket are required when export is enabled")
	}
	return nil
}

func defaultsForProfile(profile Profile) Config {
	cfg := Config{
		Profile: profile,
		Service: ServiceConfig{Name: "pgquery-api"},
		HTTP: HTTPConfig{
			Address:      ":8080",
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 180 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Database: DatabaseConfig{
			Host:           "localhost",
			Port:           5432,
			User:           "postgres",
			Password:       "postgres",
			Name:           "postgres",
			SSLMode:        "disable",
			ConnectTimeout: 5 * time.Second,
		},
		Schema: SchemaConfig{
			SampleRows: 3,
		},
		Completion: CompletionConfig{
			Provider:          ProviderLlama,
			Host:              "llama-service",
			Port:              8080,
			Temperature:       0.1,
			RepetitionPenalty: 1.18,
			NPredict:          500,
			Timeout:           120 * time.Second,
			OpenAIBaseURL:     "https://api.openai.com",
			OpenAIModel:       "gpt-5",
		},
		ObjectStore: ObjectStoreConfig{
			Endpoint:         "localhost:9000",
			Region:           "us-east-1",
			Bucket:           "pgquery",
			AccessKeyID:      "minio",
			SecretAccessKey:  "miniostorage",
			UseSSL:           false,
			AutoCreateBucket: true,
		},
		Observability: ObservabilityConfig{
			LogLevel: slog.LevelDebug,
			LogJSON:  true,
		},
	}

	switch profile {
	case ProfileTest:
		cfg.HTTP.Address = ":18080"
		cfg.Observability.LogLevel = slog.LevelWarn
	case ProfileProd:
		cfg.Observability.LogLevel = slog.LevelInfo
		cfg.Database.SSLMode = "require"
		cfg.Query.ReadOnly = true
		cfg.ObjectStore.UseSSL = true
		cfg.ObjectStore.AutoCreateBucket = false
	}

	return cfg
}

func isValidProfile(profile Profile) bool {
	switch profile {
	case ProfileDev, ProfileTest, ProfileProd:
		return true
	default:
		return false
	}
}

func applyString(lookup LookupFunc, key string, dst *string) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	*dst = strings.TrimSpace(raw)
	return nil
}

func applyDuration(lookup LookupFunc, key string, dst *time.Duration) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyBool(lookup LookupFunc, key string, dst *bool) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyInt(lookup LookupFunc, key string, dst *int) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyFloat(lookup LookupFunc, key string, dst *float64) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", key, err)
	}
	*dst = value
	return nil
}

func applyLogLevel(lookup LookupFunc, key string, dst *slog.Level) error {
	raw, ok := lookup(key)
	if !ok {
		return nil
	}
	level := strings.ToLower(strings.TrimSpace(raw))
	switch level {
	case "debug":
		*dst = slog.LevelDebug
	case "info":
		*dst = slog.LevelInfo
	case "warn", "warning":
		*dst = slog.LevelWarn
	case "error":
		*dst = slog.LevelError
	default:
		return fmt.Errorf("invalid %s: %q", key, raw)
	}
	return nil
}
