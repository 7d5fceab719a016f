package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/labextract/labextract/internal/platform/hl7v2"
	"github.com/labextract/labextract/internal/platform/labparse"
)

const (
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	ArchiveDir = "dir"
	ArchiveS3  = "s3"
)

type Config struct {
	Port           string   `mapstructure:"PORT"`
	Env            string   `mapstructure:"ENV"`
	Store          string   `mapstructure:"STORE"`
	DatabaseURL    string   `mapstructure:"DATABASE_URL"`
	DBMaxConns     int32    `mapstructure:"DB_MAX_CONNS"`
	DBMinConns     int32    `mapstructure:"DB_MIN_CONNS"`
	SQLitePath     string   `mapstructure:"SQLITE_PATH"`
	AuthSigningKey string   `mapstructure:"AUTH_SIGNING_KEY"`
	AuthIssuer     string   `mapstructure:"AUTH_ISSUER"`
	AuthAudience   string   `mapstructure:"AUTH_AUDIENCE"`
	CORSOrigins    []string `mapstructure:"CORS_ORIGINS"`
	RateLimitRPS   float64  `mapstructure:"RATE_LIMIT_RPS"`
	RateLimitBurst int      `mapstructure:"RATE_LIMIT_BURST"`
	BodyLimit      string   `mapstructure:"BODY_LIMIT"`
	UploadLimit    string   `mapstructure:"UPLOAD_LIMIT"`
	RequestTimeout int      `mapstructure:"REQUEST_TIMEOUT_SECONDS"`
	VocabularyFile string   `mapstructure:"VOCABULARY_FILE"`

	// Extraction thresholds; zero keeps the engine default.
	CategoryMaxLineLength int `mapstructure:"CATEGORY_MAX_LINE_LENGTH"`
	MinNameLength         int `mapstructure:"MIN_NAME_LENGTH"`
	VerticalWindow        int `mapstructure:"VERTICAL_WINDOW"`
	ValueWindow           int `mapstructure:"VALUE_WINDOW"`
	IntervalWindow        int `mapstructure:"INTERVAL_WINDOW"`
	MinMarkedLineLength   int `mapstructure:"MIN_MARKED_LINE_LENGTH"`
	HeaderFooterMaxLength int `mapstructure:"HEADER_FOOTER_MAX_LENGTH"`

	HL7ForwardAddr       string `mapstructure:"HL7_FORWARD_ADDR"`
	HL7SendingApp        string `mapstructure:"HL7_SENDING_APP"`
	HL7SendingFacility   string `mapstructure:"HL7_SENDING_FACILITY"`
	HL7ReceivingApp      string `mapstructure:"HL7_RECEIVING_APP"`
	HL7ReceivingFacility string `mapstructure:"HL7_RECEIVING_FACILITY"`
	HL7TimeoutSeconds    int    `mapstructure:"HL7_TIMEOUT_SECONDS"`

	// Original document archive; an empty backend disables archiving.
	ArchiveBackend string `mapstructure:"ARCHIVE_BACKEND"`
	ArchiveDir     string `mapstructure:"ARCHIVE_DIR"`
	S3Bucket       string `mapstructure:"S3_BUCKET"`
	S3Region       string `mapstructure:"S3_REGION"`
	S3Prefix       string `mapstructure:"S3_PREFIX"`
	S3Endpoint     string `mapstructure:"S3_ENDPOINT"`
}

var envKeys = []string{
	"PORT", "ENV", "STORE", "DATABASE_URL", "DB_MAX_CONNS", "DB_MIN_CONNS", "SQLITE_PATH",
	"AUTH_SIGNING_KEY", "AUTH_ISSUER", "AUTH_AUDIENCE", "CORS_ORIGINS",
	"RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "BODY_LIMIT", "UPLOAD_LIMIT",
	"REQUEST_TIMEOUT_SECONDS", "VOCABULARY_FILE",
	"CATEGORY_MAX_LINE_LENGTH", "MIN_NAME_LENGTH", "VERTICAL_WINDOW", "VALUE_WINDOW",
	"INTERVAL_WINDOW", "MIN_MARKED_LINE_LENGTH", "HEADER_FOOTER_MAX_LENGTH",
	"HL7_FORWARD_ADDR", "HL7_SENDING_APP", "HL7_SENDING_FACILITY",
	"HL7_RECEIVING_APP", "HL7_RECEIVING_FACILITY", "HL7_TIMEOUT_SECONDS",
	"ARCHIVE_BACKEND", "ARCHIVE_DIR", "S3_BUCKET", "S3_REGION", "S3_PREFIX", "S3_ENDPOINT",
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("PORT", "8000")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE", StorePostgres)
	v.SetDefault("DB_MAX_CONNS", 20)
	v.SetDefault("DB_MIN_CONNS", 2)
	v.SetDefault("SQLITE_PATH", "labextract.db")
	v.SetDefault("CORS_ORIGINS", "http://localhost:3000")
	v.SetDefault("RATE_LIMIT_RPS", 20)
	v.SetDefault("RATE_LIMIT_BURST", 40)
	v.SetDefault("BODY_LIMIT", "1M")
	v.SetDefault("UPLOAD_LIMIT", "20M")
	v.SetDefault("REQUEST_TIMEOUT_SECONDS", 60)
	v.SetDefault("HL7_SENDING_APP", "LABEXTRACT")
	v.SetDefault("HL7_SENDING_FACILITY", "LAB")
	v.SetDefault("HL7_TIMEOUT_SECONDS", 10)
	v.SetDefault("ARCHIVE_DIR", "archive")

	// Bind env vars explicitly so Unmarshal picks them up
	for _, key := range envKeys {
		_ = v.BindEnv(key)
	}

	// Try reading .env file, but don't fail if missing
	_ = v.ReadInConfig()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	var origins []string
	for _, entry := range cfg.CORSOrigins {
		for _, o := range strings.Split(entry, ",") {
			if o = strings.TrimSpace(o); o != "" {
				origins = append(origins, o)
			}
		}
	}
	cfg.CORSOrigins = origins
	cfg.Store = strings.ToLower(strings.TrimSpace(cfg.Store))
	cfg.ArchiveBackend = strings.ToLower(strings.TrimSpace(cfg.ArchiveBackend))

	return cfg, nil
}

func (c *Config) IsDev() bool {
	return c.Env == "development"
}

// Validate checks that the configuration is safe to run. Outside
// development a signing key of at least 32 bytes is required so that JWT
// authentication is enforced.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when STORE is %q", StorePostgres)
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("SQLITE_PATH is required when STORE is %q", StoreSQLite)
		}
	default:
		return fmt.Errorf("STORE must be %q or %q, got %q", StorePostgres, StoreSQLite, c.Store)
	}

	if !c.IsDev() && len(c.AuthSigningKey) < 32 {
		return fmt.Errorf("AUTH_SIGNING_KEY must be at least 32 bytes outside development (ENV=%q)", c.Env)
	}

	thresholds := map[string]int{
		"CATEGORY_MAX_LINE_LENGTH": c.CategoryMaxLineLength,
		"MIN_NAME_LENGTH":          c.MinNameLength,
		"VERTICAL_WINDOW":          c.VerticalWindow,
		"VALUE_WINDOW":             c.ValueWindow,
		"INTERVAL_WINDOW":          c.IntervalWindow,
		"MIN_MARKED_LINE_LENGTH":   c.MinMarkedLineLength,
		"HEADER_FOOTER_MAX_LENGTH": c.HeaderFooterMaxLength,
	}
	for key, n := range thresholds {
		if n < 0 {
			return fmt.Errorf("%s must not be negative, got %d", key, n)
		}
	}

	if c.HL7ForwardAddr != "" && c.HL7TimeoutSeconds <= 0 {
		return fmt.Errorf("HL7_TIMEOUT_SECONDS must be positive when HL7_FORWARD_ADDR is set")
	}

	switch c.ArchiveBackend {
	case "":
	case ArchiveDir:
		if c.ArchiveDir == "" {
			return fmt.Errorf("ARCHIVE_DIR is required when ARCHIVE_BACKEND is %q", ArchiveDir)
		}
	case ArchiveS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when ARCHIVE_BACKEND is %q", ArchiveS3)
		}
	default:
		return fmt.Errorf("ARCHIVE_BACKEND must be empty, %q or %q, got %q", ArchiveDir, ArchiveS3, c.ArchiveBackend)
	}
	return nil
}

// EngineOptions returns the extraction thresholds; unset values fall back
// to the engine defaults.
func (c *Config) EngineOptions() labparse.Options {
	return labparse.Options{
		CategoryMaxLineLength: c.CategoryMaxLineLength,
		MinNameLength:         c.MinNameLength,
		VerticalWindow:        c.VerticalWindow,
		ValueWindow:           c.ValueWindow,
		IntervalWindow:        c.IntervalWindow,
		MinMarkedLineLength:   c.MinMarkedLineLength,
		HeaderFooterMaxLength: c.HeaderFooterMaxLength,
	}
}

func (c *Config) ORUOptions() hl7v2.ORUOptions {
	return hl7v2.ORUOptions{
		SendingApp:        c.HL7SendingApp,
		SendingFacility:   c.HL7SendingFacility,
		ReceivingApp:      c.HL7ReceivingApp,
		ReceivingFacility: c.HL7ReceivingFacility,
	}
}

func (c *Config) HL7Timeout() time.Duration {
	return time.Duration(c.HL7TimeoutSeconds) * time.Second
}

func (c *Config) RequestTimeoutDuration() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}
