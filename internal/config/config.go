// Package config loads tap configuration from a YAML file, an optional .env
// file and GAINSIGHTPX_* environment overrides.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Widen/tap-gainsightpx/internal/connector/http"
	"github.com/Widen/tap-gainsightpx/internal/extract"
)

// Config is the complete tap configuration.
type Config struct {
	APIURL string `yaml:"api_url" validate:"required,url"`
	APIKey string `yaml:"api_key" validate:"required"`

	// PageSize of 0 uses each stream's default.
	PageSize  int    `yaml:"page_size" validate:"gte=0"`
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"`

	Streams     []string `yaml:"streams"`
	Concurrency int      `yaml:"concurrency" validate:"gte=1,lte=16"`

	RateLimit  float64       `yaml:"rate_limit" validate:"gt=0"`
	MaxRetries int           `yaml:"max_retries" validate:"gte=-1"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`

	LogLevel  string `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `yaml:"log_format" validate:"omitempty,oneof=text json"`

	State StateConfig `yaml:"state"`
	Sink  SinkConfig  `yaml:"sink"`

	MetricsAddr string `yaml:"metrics_addr" validate:"omitempty,hostname_port"`
}

// StateConfig selects the bookmark backend.
type StateConfig struct {
	Backend string `yaml:"backend" validate:"oneof=memory file postgres"`
	Path    string `yaml:"path" validate:"required_if=Backend file"`
	DSN     string `yaml:"dsn" validate:"required_if=Backend postgres"`
	Driver  string `yaml:"driver" validate:"omitempty,oneof=pgx postgres"`
}

// SinkConfig selects where records go. Singer output always goes to stdout;
// the object kind additionally lands batches in an object store.
type SinkConfig struct {
	Kind string `yaml:"kind" validate:"oneof=singer object"`

	Endpoint        string `yaml:"endpoint"`
	Region          string `yaml:"region"`
	UseSSL          bool   `yaml:"use_ssl"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`

	// LocalDir writes objects to the filesystem instead of an S3 endpoint.
	LocalDir string `yaml:"local_dir"`

	Bucket    string `yaml:"bucket" validate:"required_if=Kind object"`
	Prefix    string `yaml:"prefix"`
	Format    string `yaml:"format" validate:"omitempty,oneof=parquet jsonl"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

// Default returns a configuration with every optional value filled in.
func Default() *Config {
	return &Config{
		APIURL:      http.DefaultBaseURL,
		Concurrency: 1,
		RateLimit:   10,
		MaxRetries:  3,
		Timeout:     30 * time.Second,
		LogLevel:    "info",
		LogFormat:   "text",
		State:       StateConfig{Backend: "memory", Driver: "pgx"},
		Sink:        SinkConfig{Kind: "singer", Format: "parquet"},
	}
}

// =============================================================================
// ENVIRONMENT
// =============================================================================

// ApplyEnv overlays GAINSIGHTPX_* variables onto c.
func (c *Config) ApplyEnv() {
	c.APIURL = getEnv("GAINSIGHTPX_API_URL", c.APIURL)
	c.APIKey = getEnv("GAINSIGHTPX_API_KEY", c.APIKey)
	c.PageSize = getEnvInt("GAINSIGHTPX_PAGE_SIZE", c.PageSize)
	c.StartDate = getEnv("GAINSIGHTPX_START_DATE", c.StartDate)
	c.EndDate = getEnv("GAINSIGHTPX_END_DATE", c.EndDate)
	c.Concurrency = getEnvInt("GAINSIGHTPX_CONCURRENCY", c.Concurrency)
	c.MaxRetries = getEnvInt("GAINSIGHTPX_MAX_RETRIES", c.MaxRetries)
	c.LogLevel = getEnv("GAINSIGHTPX_LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("GAINSIGHTPX_LOG_FORMAT", c.LogFormat)
	c.MetricsAddr = getEnv("GAINSIGHTPX_METRICS_ADDR", c.MetricsAddr)
	c.State.DSN = getEnv("GAINSIGHTPX_STATE_DSN", c.State.DSN)
	c.Sink.AccessKeyID = getEnv("GAINSIGHTPX_S3_ACCESS_KEY_ID", c.Sink.AccessKeyID)
	c.Sink.SecretAccessKey = getEnv("GAINSIGHTPX_S3_SECRET_ACCESS_KEY", c.Sink.SecretAccessKey)
	if v := getEnv("GAINSIGHTPX_STREAMS", ""); v != "" {
		c.Streams = strings.Split(v, ",")
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError reports the first invalid configuration field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func init() {
	validate.RegisterTagNameFunc(yamlName)
}

// Validate checks field constraints and that the date bounds parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			return &ValidationError{Field: fieldPath(fe.Namespace()), Message: describe(fe)}
		}
		return err
	}

	start, err := parseDate(c.StartDate)
	if err != nil {
		return &ValidationError{Field: "start_date", Message: err.Error()}
	}
	end, err := parseEndDate(c.EndDate)
	if err != nil {
		return &ValidationError{Field: "end_date", Message: err.Error()}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		return &ValidationError{Field: "end_date", Message: "must not be before start_date"}
	}
	return nil
}

func yamlName(f reflect.StructField) string {
	name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// fieldPath drops the root struct name: "Config.state.dsn" becomes "state.dsn".
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "required_if":
		return fmt.Sprintf("is required when %s", strings.Replace(fe.Param(), " ", " is ", 1))
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "url":
		return "must be a URL"
	case "hostname_port":
		return "must be host:port"
	case "gt", "gte", "lte":
		return fmt.Sprintf("must be %s %s", fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("failed %q check", fe.Tag())
}

// =============================================================================
// STREAM CONFIG
// =============================================================================

// StreamConfig returns the per-sync settings shared by every stream.
func (c *Config) StreamConfig() (*extract.StreamConfig, error) {
	start, err := parseDate(c.StartDate)
	if err != nil {
		return nil, &ValidationError{Field: "start_date", Message: err.Error()}
	}
	end, err := parseEndDate(c.EndDate)
	if err != nil {
		return nil, &ValidationError{Field: "end_date", Message: err.Error()}
	}
	return &extract.StreamConfig{
		PageSize:  c.PageSize,
		StartDate: start,
		EndDate:   end,
		Params:    url.Values{},
	}, nil
}

const dateOnly = "2006-01-02"

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", dateOnly}

// parseDate accepts RFC 3339 timestamps or bare dates (UTC). Empty is zero.
func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("cannot parse %q as a date", s)
}

// parseEndDate is parseDate with a bare date covering its whole day, so
// end_date "2023-02-01" includes events on February 1st.
func parseEndDate(s string) (time.Time, error) {
	t, err := parseDate(s)
	if err != nil || t.IsZero() {
		return t, err
	}
	if _, bare := time.Parse(dateOnly, strings.TrimSpace(s)); bare == nil {
		return t.Add(24*time.Hour - time.Millisecond), nil
	}
	return t, nil
}
