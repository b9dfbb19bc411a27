// Package config loads the ingestion pipeline's tunables from flags,
// environment variables, and an optional config file, with the same
// precedence order and Validator idiom the original service config used —
// generalized from an HTTP server's settings to one ingestion run's.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"vitalpipe.dev/archive"
	"vitalpipe.dev/pipeline"
)

// PipelineConfig holds everything one ingestion run needs.
type PipelineConfig struct {
	DatabaseDSN string

	ArchiveRoot    string
	MaxUploadBytes int64

	QueueDepth      int
	BatchSize       int
	ConsumerCount   int
	MonitorInterval time.Duration

	StorageBackend string // "local" or "s3"
	S3Bucket       string
	S3Region       string
	S3Endpoint     string
}

// setDefaults registers every PipelineConfig default on v, so GetString/
// GetInt return a sensible value even when nothing else set the key.
func setDefaults(v *viper.Viper) {
	v.SetDefault("archive.root", "./data/archives")
	v.SetDefault("archive.max_upload_bytes", archive.DefaultMaxSize)
	v.SetDefault("pipeline.queue_depth", pipeline.DefaultConfig().QueueDepth)
	v.SetDefault("pipeline.batch_size", pipeline.DefaultConfig().BatchSize)
	v.SetDefault("pipeline.consumer_count", pipeline.DefaultConfig().ConsumerCount)
	v.SetDefault("pipeline.monitor_interval", "2s")
	v.SetDefault("storage.backend", "local")
}

// LoadPipelineConfig reads PipelineConfig from v (flags bound via
// viper.BindPFlag take precedence over env vars, which take precedence over
// a config file, which takes precedence over the defaults set above) and
// validates the result.
func LoadPipelineConfig(v *viper.Viper) (PipelineConfig, error) {
	setDefaults(v)

	interval, err := time.ParseDuration(v.GetString("pipeline.monitor_interval"))
	if err != nil {
		interval = 2 * time.Second
	}

	cfg := PipelineConfig{
		DatabaseDSN:     v.GetString("database.dsn"),
		ArchiveRoot:     v.GetString("archive.root"),
		MaxUploadBytes:  v.GetInt64("archive.max_upload_bytes"),
		QueueDepth:      v.GetInt("pipeline.queue_depth"),
		BatchSize:       v.GetInt("pipeline.batch_size"),
		ConsumerCount:   v.GetInt("pipeline.consumer_count"),
		MonitorInterval: interval,
		StorageBackend:  v.GetString("storage.backend"),
		S3Bucket:        v.GetString("storage.s3.bucket"),
		S3Region:        v.GetString("storage.s3.region"),
		S3Endpoint:      v.GetString("storage.s3.endpoint"),
	}

	validator := NewValidator()
	validator.RequireString("Database.DSN", cfg.DatabaseDSN)
	validator.RequireString("Archive.Root", cfg.ArchiveRoot)
	validator.RequirePositiveInt("Pipeline.QueueDepth", cfg.QueueDepth)
	validator.RequirePositiveInt("Pipeline.BatchSize", cfg.BatchSize)
	validator.RequirePositiveInt("Pipeline.ConsumerCount", cfg.ConsumerCount)
	validator.RequireOneOf("Storage.Backend", cfg.StorageBackend, []string{"local", "s3"})
	if cfg.StorageBackend == "s3" {
		validator.RequireString("Storage.S3.Bucket", cfg.S3Bucket)
	}
	if err := validator.Validate(); err != nil {
		return PipelineConfig{}, err
	}
	return cfg, nil
}

// PipelineOptions converts the loaded config's concurrency knobs into a
// pipeline.Config.
func (c PipelineConfig) PipelineOptions() pipeline.Config {
	return pipeline.Config{
		QueueDepth:    c.QueueDepth,
		BatchSize:     c.BatchSize,
		ConsumerCount: c.ConsumerCount,
	}
}

// Validator accumulates configuration validation errors so every problem
// with a loaded config is reported at once instead of failing fast on the
// first one.
type Validator struct {
	errors []string
}

// NewValidator creates a new configuration validator.
func NewValidator() *Validator {
	return &Validator{errors: make([]string, 0)}
}

// RequireString validates that a string field is not empty.
func (v *Validator) RequireString(field, value string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
	}
}

// RequirePositiveInt validates that an integer field is positive.
func (v *Validator) RequirePositiveInt(field string, value int) {
	if value <= 0 {
		v.errors = append(v.errors, fmt.Sprintf("%s must be positive", field))
	}
}

// RequireOneOf validates that a value is one of the allowed options.
func (v *Validator) RequireOneOf(field, value string, allowed []string) {
	if value == "" {
		v.errors = append(v.errors, fmt.Sprintf("%s is required", field))
		return
	}
	for _, option := range allowed {
		if value == option {
			return
		}
	}
	v.errors = append(v.errors, fmt.Sprintf("%s must be one of: %s", field, strings.Join(allowed, ", ")))
}

// IsValid returns true if there are no validation errors.
func (v *Validator) IsValid() bool {
	return len(v.errors) == 0
}

// Errors returns all validation errors.
func (v *Validator) Errors() []string {
	return v.errors
}

// ErrorString returns all validation errors as a single string.
func (v *Validator) ErrorString() string {
	return strings.Join(v.errors, "; ")
}

// Validate runs validation and returns an error if invalid.
func (v *Validator) Validate() error {
	if !v.IsValid() {
		return fmt.Errorf("configuration validation failed: %s", v.ErrorString())
	}
	return nil
}
