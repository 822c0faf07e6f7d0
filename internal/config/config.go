// Package config loads process configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// ErrConfiguration is the base error for every invalid configuration.
var ErrConfiguration = errors.New("configuration error")

// Default values for configuration.
const (
	DefaultLogLevel             = "info"
	DefaultLogFormat            = "json"
	DefaultColdStoreBackend     = "s3"
	DefaultColdStoreBucket      = "quote-request-archive"
	DefaultMessageRetentionDays = 90
	DefaultNotificationTTLDays  = 45
	DefaultPageSize             = 100
	DefaultWriteConcurrency     = 8
	DefaultLeaseTTL             = 15 * time.Minute
	DefaultSchedule             = "0 3 * * *"
	DefaultHTTPAddr             = ":8080"
	DefaultIdentityBaseURL      = "https://identitytoolkit.googleapis.com/v1"
	DefaultAdminRole            = "admin"
)

// Config holds every setting of the archiver binaries. Keys map to
// upper-case environment variables (messages_table -> MESSAGES_TABLE).
type Config struct {
	LogLevel  string `mapstructure:"log_level"  validate:"oneof=debug info warn error"`
	LogFormat string `mapstructure:"log_format" validate:"oneof=json text"`

	MessagesTable      string `mapstructure:"messages_table"`
	NotificationsTable string `mapstructure:"notifications_table"`
	LockTable          string `mapstructure:"lock_table"`
	ParamPrefix        string `mapstructure:"param_prefix" validate:"omitempty,startswith=/"`

	ColdStoreBackend string `mapstructure:"cold_store_backend" validate:"oneof=s3 gcs memory"`
	ColdStoreBucket  string `mapstructure:"cold_store_bucket"  validate:"required"`
	S3Endpoint       string `mapstructure:"s3_endpoint"        validate:"omitempty,url"`
	S3UsePathStyle   bool   `mapstructure:"s3_use_path_style"`
	GCSEmulatorHost  string `mapstructure:"gcs_emulator_host"`

	MessageRetentionDays int           `mapstructure:"message_retention_days"    validate:"min=1"`
	NotificationTTLDays  int           `mapstructure:"notification_ttl_days"     validate:"min=1"`
	PageSize             int           `mapstructure:"archive_page_size"         validate:"min=1,max=100"`
	WriteConcurrency     int           `mapstructure:"archive_write_concurrency" validate:"min=1,max=64"`
	LeaseTTL             time.Duration `mapstructure:"archive_lease_ttl"         validate:"min=1m,max=12h"`
	Schedule             string        `mapstructure:"archive_schedule"          validate:"required"`
	RunOnStart           bool          `mapstructure:"archive_run_on_start"`

	HTTPAddr        string `mapstructure:"http_addr"         validate:"required"`
	IdentityBaseURL string `mapstructure:"identity_base_url" validate:"required,url"`
	AdminRole       string `mapstructure:"admin_role"        validate:"required"`
}

// Load reads defaults and environment variables and validates the result.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrConfiguration, err)
	}
	cfg.ParamPrefix = strings.TrimRight(strings.TrimSpace(cfg.ParamPrefix), "/")
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("log_format", DefaultLogFormat)

	// Keys without a default still need registering so AutomaticEnv
	// picks them up during Unmarshal.
	v.SetDefault("messages_table", "")
	v.SetDefault("notifications_table", "")
	v.SetDefault("lock_table", "")
	v.SetDefault("param_prefix", "")

	v.SetDefault("cold_store_backend", DefaultColdStoreBackend)
	v.SetDefault("cold_store_bucket", DefaultColdStoreBucket)
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_use_path_style", false)
	v.SetDefault("gcs_emulator_host", "")

	v.SetDefault("message_retention_days", DefaultMessageRetentionDays)
	v.SetDefault("notification_ttl_days", DefaultNotificationTTLDays)
	v.SetDefault("archive_page_size", DefaultPageSize)
	v.SetDefault("archive_write_concurrency", DefaultWriteConcurrency)
	v.SetDefault("archive_lease_ttl", DefaultLeaseTTL)
	v.SetDefault("archive_schedule", DefaultSchedule)
	v.SetDefault("archive_run_on_start", false)

	v.SetDefault("http_addr", DefaultHTTPAddr)
	v.SetDefault("identity_base_url", DefaultIdentityBaseURL)
	v.SetDefault("admin_role", DefaultAdminRole)
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrConfiguration, err)
	}
	return nil
}

// RequireLiveStore reports a configuration error unless both live-store
// tables are set. Binaries that only read the cold store skip this check.
func (c *Config) RequireLiveStore() error {
	var missing []string
	if strings.TrimSpace(c.MessagesTable) == "" {
		missing = append(missing, "MESSAGES_TABLE")
	}
	if strings.TrimSpace(c.NotificationsTable) == "" {
		missing = append(missing, "NOTIFICATIONS_TABLE")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: required environment variables not set: %s", ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}
