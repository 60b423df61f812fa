// Package config turns viper settings into a validated run configuration.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"codeberg.org/snonux/transbench/internal/exam"
	"codeberg.org/snonux/transbench/internal/sampling"
	"codeberg.org/snonux/transbench/internal/translation"
)

// Viper keys shared with the cli package
const (
	KeyAPIKey           = "api_key"
	KeyModel            = "model"
	KeyBaseURL          = "base_url"
	KeyTemperature      = "temperature"
	KeyMaxTokens        = "max_tokens"
	KeyTimeout          = "timeout"
	KeyMaxRetries       = "max_retries"
	KeyBackoff          = "backoff"
	KeyWorkers          = "workers"
	KeyBreakerThreshold = "breaker_threshold"
	KeyBudget           = "budget"
	KeyTasks            = "tasks"
	KeyZhEnLimit        = "zh_en_limit"
	KeyEnZhLimit        = "en_zh_limit"
	KeySeed             = "random_seed"
	KeyInput            = "input"
	KeyOutputDir        = "outdir"
	KeyLogDir           = "logdir"
	KeyHistory          = "history"
	KeyLogLevel         = "log_level"
	KeyExcelBOM         = "excel_bom"
	KeyArchive          = "archive"
)

// Defaults for settings that have one
const (
	DefaultTimeout    = 30 * time.Second
	DefaultMaxRetries = 2
	DefaultBackoff    = 500 * time.Millisecond
	DefaultWorkers    = 4
	DefaultSeed       = 42
	DefaultInput      = "exam.txt"
	DefaultOutputDir  = "outputs"
	DefaultLogDir     = "logs"
	DefaultLogLevel   = "info"
)

// ConfigError reports a missing or invalid setting
type ConfigError struct {
	Key string
	Msg string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Key, e.Msg)
}

// Config is the validated configuration of a benchmark run
type Config struct {
	APIKey      string
	Model       string
	BaseURL     string
	Temperature float32
	MaxTokens   int

	Timeout          time.Duration
	MaxRetries       int
	Backoff          time.Duration
	BreakerThreshold uint32

	Workers int
	Budget  time.Duration

	Tasks  []exam.Task
	Limits map[exam.Task]int // sampling.Unlimited for no limit
	Seed   int64

	InputFile string
	OutputDir string
	LogDir    string
	History   string
	LogLevel  string
	ExcelBOM  bool
	Archive   bool // move previous outputs to archive/ before the run
}

// SetDefaults registers the default of every setting on v
func SetDefaults(v *viper.Viper) {
	v.SetDefault(KeyTimeout, DefaultTimeout.Seconds())
	v.SetDefault(KeyMaxRetries, DefaultMaxRetries)
	v.SetDefault(KeyBackoff, DefaultBackoff.Seconds())
	v.SetDefault(KeyWorkers, DefaultWorkers)
	v.SetDefault(KeyTasks, []string{exam.ZhEn.String(), exam.EnZh.String()})
	v.SetDefault(KeyZhEnLimit, sampling.Unlimited)
	v.SetDefault(KeyEnZhLimit, sampling.Unlimited)
	v.SetDefault(KeySeed, DefaultSeed)
	v.SetDefault(KeyInput, DefaultInput)
	v.SetDefault(KeyOutputDir, DefaultOutputDir)
	v.SetDefault(KeyLogDir, DefaultLogDir)
	v.SetDefault(KeyLogLevel, DefaultLogLevel)
}

// Load reads and validates the configuration. Durations are given in
// seconds and may be fractional.
func Load(v *viper.Viper) (*Config, error) {
	cfg := &Config{
		APIKey:      strings.TrimSpace(v.GetString(KeyAPIKey)),
		Model:       strings.TrimSpace(v.GetString(KeyModel)),
		BaseURL:     strings.TrimSpace(v.GetString(KeyBaseURL)),
		Temperature: float32(v.GetFloat64(KeyTemperature)),
		MaxTokens:   v.GetInt(KeyMaxTokens),
		Timeout:     seconds(v.GetFloat64(KeyTimeout)),
		MaxRetries:  v.GetInt(KeyMaxRetries),
		Backoff:     seconds(v.GetFloat64(KeyBackoff)),
		Workers:     v.GetInt(KeyWorkers),
		Budget:      seconds(v.GetFloat64(KeyBudget)),
		Seed:        v.GetInt64(KeySeed),
		InputFile:   v.GetString(KeyInput),
		OutputDir:   v.GetString(KeyOutputDir),
		LogDir:      v.GetString(KeyLogDir),
		History:     v.GetString(KeyHistory),
		LogLevel:    v.GetString(KeyLogLevel),
		ExcelBOM:    v.GetBool(KeyExcelBOM),
		Archive:     v.GetBool(KeyArchive),
	}

	threshold := v.GetInt(KeyBreakerThreshold)
	if threshold < 0 {
		return nil, &ConfigError{Key: KeyBreakerThreshold, Msg: "must not be negative"}
	}
	cfg.BreakerThreshold = uint32(threshold)

	tasks, err := exam.ParseTasks(strings.Join(v.GetStringSlice(KeyTasks), ","))
	if err != nil {
		return nil, &ConfigError{Key: KeyTasks, Msg: err.Error()}
	}
	cfg.Tasks = tasks

	cfg.Limits = map[exam.Task]int{
		exam.ZhEn: v.GetInt(KeyZhEnLimit),
		exam.EnZh: v.GetInt(KeyEnZhLimit),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks required settings and value ranges
func (c *Config) Validate() error {
	switch {
	case c.APIKey == "":
		return &ConfigError{Key: KeyAPIKey, Msg: "OpenAI API key not found. Set OPENAI_API_KEY or LLM_API_KEY"}
	case c.Model == "":
		return &ConfigError{Key: KeyModel, Msg: "model name is required. Set MODEL_NAME or --model"}
	case c.Workers <= 0:
		return &ConfigError{Key: KeyWorkers, Msg: fmt.Sprintf("must be positive, got %d", c.Workers)}
	case c.Timeout <= 0:
		return &ConfigError{Key: KeyTimeout, Msg: "must be positive"}
	case c.MaxRetries < 0:
		return &ConfigError{Key: KeyMaxRetries, Msg: fmt.Sprintf("must not be negative, got %d", c.MaxRetries)}
	case c.Backoff < 0:
		return &ConfigError{Key: KeyBackoff, Msg: "must not be negative"}
	case c.Budget < 0:
		return &ConfigError{Key: KeyBudget, Msg: "must not be negative"}
	case c.MaxTokens < 0:
		return &ConfigError{Key: KeyMaxTokens, Msg: "must not be negative"}
	case c.Temperature < 0 || c.Temperature > 2:
		return &ConfigError{Key: KeyTemperature, Msg: "must be between 0 and 2"}
	case len(c.Tasks) == 0:
		return &ConfigError{Key: KeyTasks, Msg: "no tasks selected"}
	case c.InputFile == "":
		return &ConfigError{Key: KeyInput, Msg: "input file is required"}
	case c.OutputDir == "":
		return &ConfigError{Key: KeyOutputDir, Msg: "output directory is required"}
	}

	for task, limit := range c.Limits {
		if limit < sampling.Unlimited {
			return &ConfigError{Key: task.String() + "_limit", Msg: fmt.Sprintf("must be -1 (unlimited) or more, got %d", limit)}
		}
	}
	return nil
}

// TranslationConfig returns the client settings
func (c *Config) TranslationConfig() *translation.Config {
	tc := translation.DefaultConfig()
	tc.APIKey = c.APIKey
	tc.BaseURL = c.BaseURL
	tc.Model = c.Model
	tc.Temperature = c.Temperature
	tc.MaxTokens = c.MaxTokens
	tc.Timeout = c.Timeout
	tc.MaxRetries = c.MaxRetries
	tc.Backoff = c.Backoff
	tc.BreakerThreshold = c.BreakerThreshold
	return tc
}

// Settings returns the non-secret settings for the run history
func (c *Config) Settings() map[string]any {
	tasks := make([]string, len(c.Tasks))
	for i, task := range c.Tasks {
		tasks[i] = task.String()
	}
	return map[string]any{
		"temperature":       c.Temperature,
		"max_tokens":        c.MaxTokens,
		"timeout":           c.Timeout.Seconds(),
		"max_retries":       c.MaxRetries,
		"backoff":           c.Backoff.Seconds(),
		"breaker_threshold": c.BreakerThreshold,
		"budget":            c.Budget.Seconds(),
		"tasks":             tasks,
		"zh_en_limit":       c.Limits[exam.ZhEn],
		"en_zh_limit":       c.Limits[exam.EnZh],
		"input":             c.InputFile,
	}
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
