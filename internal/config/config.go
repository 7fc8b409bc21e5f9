package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete dispatcher configuration
type Config struct {
	Scaling  ScalingConfig  `mapstructure:"scaling" yaml:"scaling"`
	Queue    QueueConfig    `mapstructure:"queue" yaml:"queue"`
	Worker   WorkerConfig   `mapstructure:"worker" yaml:"worker"`
	Metrics  MetricsConfig  `mapstructure:"metrics" yaml:"metrics"`
	Feedback FeedbackConfig `mapstructure:"feedback" yaml:"feedback"`
	Tracing  TracingConfig  `mapstructure:"tracing" yaml:"tracing"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	TUI      TUIConfig      `mapstructure:"tui" yaml:"tui"`
}

// ScalingConfig controls the autoscaler
type ScalingConfig struct {
	// MinWorkers is the number of workers kept alive even when idle
	MinWorkers int `mapstructure:"min_workers" yaml:"min_workers"`
	// MaxWorkers caps the pool size
	MaxWorkers int `mapstructure:"max_workers" yaml:"max_workers"`
	// TargetQueuePerWorker is how many queued tasks one worker should absorb.
	// Desired workers = ceil(queue length / target).
	TargetQueuePerWorker int `mapstructure:"target_queue_per_worker" yaml:"target_queue_per_worker"`
	// Epsilon is the dead-band width around the current worker count
	Epsilon int `mapstructure:"epsilon" yaml:"epsilon"`
	// ScaleOutThreshold is the number of consecutive observations wanting more
	// workers before any are spawned
	ScaleOutThreshold int `mapstructure:"scale_out_threshold" yaml:"scale_out_threshold"`
	// ScaleInThreshold is the number of consecutive observations wanting fewer
	// workers before any are stopped
	ScaleInThreshold int `mapstructure:"scale_in_threshold" yaml:"scale_in_threshold"`
	// EvaluateIntervalMs is the timer period for periodic evaluation (0 disables the timer)
	EvaluateIntervalMs int `mapstructure:"evaluate_interval_ms" yaml:"evaluate_interval_ms"`
	// EvaluateOnSubmit triggers an evaluation on every submission
	EvaluateOnSubmit bool `mapstructure:"evaluate_on_submit" yaml:"evaluate_on_submit"`
}

// QueueConfig controls the task queue and registry
type QueueConfig struct {
	// MaxDepth rejects submissions with PoolExhausted once this many tasks are
	// queued (0 = unlimited)
	MaxDepth int `mapstructure:"max_depth" yaml:"max_depth"`
	// RegistryCapacity is the number of finished task records retained
	// (0 = retain all)
	RegistryCapacity int `mapstructure:"registry_capacity" yaml:"registry_capacity"`
	// DequeueWaitMs is how long an idle worker waits for a task before
	// re-checking its stop flag
	DequeueWaitMs int `mapstructure:"dequeue_wait_ms" yaml:"dequeue_wait_ms"`
	// RecentLimit is how many records Status returns
	RecentLimit int `mapstructure:"recent_limit" yaml:"recent_limit"`
}

// WorkerConfig controls worker behavior
type WorkerConfig struct {
	// TaskTimeoutSeconds bounds a single execution (0 = no timeout)
	TaskTimeoutSeconds int `mapstructure:"task_timeout_seconds" yaml:"task_timeout_seconds"`
	// ReapIntervalMs is how often dead workers are swept and replaced
	ReapIntervalMs int `mapstructure:"reap_interval_ms" yaml:"reap_interval_ms"`
}

// MetricsConfig controls the metrics collector
type MetricsConfig struct {
	// HistoryCapacity is the fixed size of the history ring
	HistoryCapacity int `mapstructure:"history_capacity" yaml:"history_capacity"`
	// HistoryIntervalMs is how often a history entry is sampled (0 disables sampling)
	HistoryIntervalMs int `mapstructure:"history_interval_ms" yaml:"history_interval_ms"`
}

// FeedbackConfig controls where task outcomes are reported
type FeedbackConfig struct {
	// Backend is one of "none", "log", "sqlite"
	Backend string `mapstructure:"backend" yaml:"backend"`
	// SQLitePath is the database file for the sqlite backend.
	// Empty means {ConfigDir}/feedback.db.
	SQLitePath string `mapstructure:"sqlite_path" yaml:"sqlite_path"`
	// Buffer caps undelivered events; Record drops events beyond it
	Buffer int `mapstructure:"buffer" yaml:"buffer"`
}

// TracingConfig controls OpenTelemetry tracing
type TracingConfig struct {
	// Exporter is one of "none", "stdout"
	Exporter string `mapstructure:"exporter" yaml:"exporter"`
	// SampleRatio is the fraction of tasks traced (0 or 1 = all)
	SampleRatio float64 `mapstructure:"sample_ratio" yaml:"sample_ratio"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error"
	Level string `mapstructure:"level" yaml:"level"`
	// Dir is the log directory; empty logs to stderr
	Dir string `mapstructure:"dir" yaml:"dir"`
	// MaxSizeMB is the size at which the log file rotates
	MaxSizeMB int `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	// MaxBackups is the number of rotated files kept
	MaxBackups int `mapstructure:"max_backups" yaml:"max_backups"`
}

// TUIConfig controls the live dashboard
type TUIConfig struct {
	// RefreshMs is the dashboard redraw interval
	RefreshMs int `mapstructure:"refresh_ms" yaml:"refresh_ms"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Scaling: ScalingConfig{
			MinWorkers:           1,
			MaxWorkers:           8,
			TargetQueuePerWorker: 2,
			Epsilon:              0,
			ScaleOutThreshold:    3,
			ScaleInThreshold:     3,
			EvaluateIntervalMs:   1000,
			EvaluateOnSubmit:     true,
		},
		Queue: QueueConfig{
			MaxDepth:         0,
			RegistryCapacity: 1000,
			DequeueWaitMs:    250,
			RecentLimit:      20,
		},
		Worker: WorkerConfig{
			TaskTimeoutSeconds: 120,
			ReapIntervalMs:     1000,
		},
		Metrics: MetricsConfig{
			HistoryCapacity:   120,
			HistoryIntervalMs: 1000,
		},
		Feedback: FeedbackConfig{
			Backend: "log",
			Buffer:  256,
		},
		Tracing: TracingConfig{
			Exporter:    "none",
			SampleRatio: 1,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		TUI: TUIConfig{
			RefreshMs: 100,
		},
	}
}

// EvaluateInterval returns the evaluation timer period (0 means disabled)
func (c *ScalingConfig) EvaluateInterval() time.Duration {
	return time.Duration(c.EvaluateIntervalMs) * time.Millisecond
}

// DequeueWait returns the idle dequeue wait as a time.Duration
func (c *QueueConfig) DequeueWait() time.Duration {
	return time.Duration(c.DequeueWaitMs) * time.Millisecond
}

// TaskTimeout returns the per-task timeout (0 means disabled)
func (c *WorkerConfig) TaskTimeout() time.Duration {
	return time.Duration(c.TaskTimeoutSeconds) * time.Second
}

// ReapInterval returns the reaper sweep period
func (c *WorkerConfig) ReapInterval() time.Duration {
	return time.Duration(c.ReapIntervalMs) * time.Millisecond
}

// HistoryInterval returns the history sampling period (0 means disabled)
func (c *MetricsConfig) HistoryInterval() time.Duration {
	return time.Duration(c.HistoryIntervalMs) * time.Millisecond
}

// RefreshInterval returns the dashboard redraw interval
func (c *TUIConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshMs) * time.Millisecond
}

// ResolveSQLitePath returns the sqlite path, defaulting into the config directory
func (c *FeedbackConfig) ResolveSQLitePath() string {
	if c.SQLitePath != "" {
		return c.SQLitePath
	}
	return filepath.Join(ConfigDir(), "feedback.db")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	SetDefaultsOn(viper.GetViper())
}

// SetDefaultsOn registers default values with the given viper instance
func SetDefaultsOn(v *viper.Viper) {
	defaults := Default()

	// Scaling defaults
	v.SetDefault("scaling.min_workers", defaults.Scaling.MinWorkers)
	v.SetDefault("scaling.max_workers", defaults.Scaling.MaxWorkers)
	v.SetDefault("scaling.target_queue_per_worker", defaults.Scaling.TargetQueuePerWorker)
	v.SetDefault("scaling.epsilon", defaults.Scaling.Epsilon)
	v.SetDefault("scaling.scale_out_threshold", defaults.Scaling.ScaleOutThreshold)
	v.SetDefault("scaling.scale_in_threshold", defaults.Scaling.ScaleInThreshold)
	v.SetDefault("scaling.evaluate_interval_ms", defaults.Scaling.EvaluateIntervalMs)
	v.SetDefault("scaling.evaluate_on_submit", defaults.Scaling.EvaluateOnSubmit)

	// Queue defaults
	v.SetDefault("queue.max_depth", defaults.Queue.MaxDepth)
	v.SetDefault("queue.registry_capacity", defaults.Queue.RegistryCapacity)
	v.SetDefault("queue.dequeue_wait_ms", defaults.Queue.DequeueWaitMs)
	v.SetDefault("queue.recent_limit", defaults.Queue.RecentLimit)

	// Worker defaults
	v.SetDefault("worker.task_timeout_seconds", defaults.Worker.TaskTimeoutSeconds)
	v.SetDefault("worker.reap_interval_ms", defaults.Worker.ReapIntervalMs)

	// Metrics defaults
	v.SetDefault("metrics.history_capacity", defaults.Metrics.HistoryCapacity)
	v.SetDefault("metrics.history_interval_ms", defaults.Metrics.HistoryIntervalMs)

	// Feedback defaults
	v.SetDefault("feedback.backend", defaults.Feedback.Backend)
	v.SetDefault("feedback.sqlite_path", defaults.Feedback.SQLitePath)
	v.SetDefault("feedback.buffer", defaults.Feedback.Buffer)

	// Tracing defaults
	v.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	v.SetDefault("tracing.sample_ratio", defaults.Tracing.SampleRatio)

	// Logging defaults
	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.dir", defaults.Logging.Dir)
	v.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	v.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)

	// TUI defaults
	v.SetDefault("tui.refresh_ms", defaults.TUI.RefreshMs)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads and validates the configuration held by v
func LoadFrom(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	// Validate the configuration
	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "dispatch")
	}
	// Fall back to ~/.config/dispatch
	home, err := os.UserHomeDir()
	if err != nil {
		return ".dispatch"
	}
	return filepath.Join(home, ".config", "dispatch")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
