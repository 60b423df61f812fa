package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"codeberg.org/snonux/transbench/internal"
	"codeberg.org/snonux/transbench/internal/config"
)

// envBindings lists the environment variables read for each setting, first
// match wins
var envBindings = map[string][]string{
	config.KeyAPIKey:           {"OPENAI_API_KEY", "LLM_API_KEY"},
	config.KeyModel:            {"MODEL_NAME"},
	config.KeyBaseURL:          {"OPENAI_BASE_URL", "LLM_BASE_URL"},
	config.KeyTemperature:      {"TEMPERATURE"},
	config.KeyMaxTokens:        {"MAX_TOKENS"},
	config.KeyTimeout:          {"TIMEOUT"},
	config.KeyMaxRetries:       {"MAX_RETRIES"},
	config.KeyBackoff:          {"BACKOFF"},
	config.KeyWorkers:          {"WORKERS"},
	config.KeyBreakerThreshold: {"BREAKER_THRESHOLD"},
	config.KeyBudget:           {"BUDGET"},
	config.KeySeed:             {"RANDOM_SEED"},
	config.KeyLogLevel:         {"LOG_LEVEL"},
}

// flagKeys maps flag names to viper keys
var flagKeys = map[string]string{
	"model":             config.KeyModel,
	"base_url":          config.KeyBaseURL,
	"temperature":       config.KeyTemperature,
	"max_tokens":        config.KeyMaxTokens,
	"timeout":           config.KeyTimeout,
	"max_retries":       config.KeyMaxRetries,
	"backoff":           config.KeyBackoff,
	"workers":           config.KeyWorkers,
	"breaker_threshold": config.KeyBreakerThreshold,
	"budget":            config.KeyBudget,
	"tasks":             config.KeyTasks,
	"zh_en_limit":       config.KeyZhEnLimit,
	"en_zh_limit":       config.KeyEnZhLimit,
	"random_seed":       config.KeySeed,
	"input":             config.KeyInput,
	"outdir":            config.KeyOutputDir,
	"logdir":            config.KeyLogDir,
	"history":           config.KeyHistory,
	"log_level":         config.KeyLogLevel,
	"excel_bom":         config.KeyExcelBOM,
	"archive":           config.KeyArchive,
}

// CreateRootCommand creates and configures the root cobra command
func CreateRootCommand(flags *Flags) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "transbench",
		Short: "Chinese-English LLM translation benchmark",
		Long: `transbench benchmarks large language models on Chinese-English translation.

It reads an exam file with <zh_en> and <en_zh> blocks, sends every line to an
OpenAI compatible chat completions endpoint and writes the translations to
result_<task>.csv and result_combine.csv.

The API key is read from OPENAI_API_KEY (or LLM_API_KEY), also from a .env file.

Examples:
  transbench --model gpt-4o-mini                        # Translate exam.txt
  transbench --model qwen2.5 --base_url http://localhost:8000/v1
  transbench --tasks zh_en --zh_en_limit 50 --random_seed 7
  transbench --list_models                              # Show usable models
  transbench --history runs.db --list_runs              # Show recorded runs`,
		Args:          cobra.NoArgs,
		Version:       internal.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Set up flags
	setupFlags(rootCmd, flags)
	bindFlagsToViper(rootCmd, viper.GetViper())

	return rootCmd
}

func setupFlags(cmd *cobra.Command, flags *Flags) {
	// Global flags
	cmd.PersistentFlags().StringVar(&flags.CfgFile, "config", "", "config file (default is $HOME/.transbench.yaml or ./.transbench.yaml)")
	cmd.PersistentFlags().StringVar(&flags.EnvFile, "env_file", flags.EnvFile, "dotenv file loaded before reading the environment")

	// Input and output flags
	cmd.Flags().StringVar(&flags.InputFile, "input", flags.InputFile, "Exam file to translate")
	cmd.Flags().StringVar(&flags.OutputDir, "outdir", flags.OutputDir, "Directory for the result CSV files")
	cmd.Flags().StringVar(&flags.LogDir, "logdir", flags.LogDir, "Directory for run log files (empty disables file logging)")
	cmd.Flags().StringVar(&flags.LogLevel, "log_level", flags.LogLevel, "Log level: debug, info, warn, error")
	cmd.Flags().StringVar(&flags.History, "history", "", "SQLite database to append the run and its results to")
	cmd.Flags().BoolVar(&flags.ExcelBOM, "excel_bom", false, "Write a UTF-8 BOM so spreadsheet programs detect the encoding")
	cmd.Flags().BoolVar(&flags.Archive, "archive", false, "Move existing results in --outdir to archive/ before the run")
	cmd.Flags().BoolVar(&flags.ListModels, "list_models", false, "List chat models available at the endpoint and exit")
	cmd.Flags().BoolVar(&flags.ListRuns, "list_runs", false, "List the runs recorded in the --history database and exit")

	// Endpoint flags
	cmd.Flags().StringVar(&flags.Model, "model", "", "Model name (env MODEL_NAME)")
	cmd.Flags().StringVar(&flags.BaseURL, "base_url", "", "OpenAI compatible API base URL (env OPENAI_BASE_URL or LLM_BASE_URL)")
	cmd.Flags().Float64Var(&flags.Temperature, "temperature", 0, "Sampling temperature (0 to 2)")
	cmd.Flags().IntVar(&flags.MaxTokens, "max_tokens", 0, "Maximum tokens per translation (0 leaves it to the server)")

	// Retry and concurrency flags
	cmd.Flags().Float64Var(&flags.Timeout, "timeout", flags.Timeout, "Timeout per request attempt in seconds")
	cmd.Flags().IntVar(&flags.MaxRetries, "max_retries", flags.MaxRetries, "Retries after a failed attempt")
	cmd.Flags().Float64Var(&flags.Backoff, "backoff", flags.Backoff, "Delay before the first retry in seconds, doubled for each further retry")
	cmd.Flags().IntVar(&flags.Workers, "workers", flags.Workers, "Number of concurrent requests")
	cmd.Flags().IntVar(&flags.BreakerThreshold, "breaker_threshold", 0, "Consecutive failures that open the circuit breaker (0 disables it)")
	cmd.Flags().Float64Var(&flags.Budget, "budget", 0, "Stop sending new items after this many seconds (0 for no limit)")

	// Task selection flags
	cmd.Flags().StringSliceVar(&flags.Tasks, "tasks", flags.Tasks, "Tasks to run: zh_en, en_zh")
	cmd.Flags().IntVar(&flags.ZhEnLimit, "zh_en_limit", flags.ZhEnLimit, "Randomly sample this many zh_en items (-1 for all)")
	cmd.Flags().IntVar(&flags.EnZhLimit, "en_zh_limit", flags.EnZhLimit, "Randomly sample this many en_zh items (-1 for all)")
	cmd.Flags().Int64Var(&flags.Seed, "random_seed", flags.Seed, "Seed for sampling")
}

func bindFlagsToViper(cmd *cobra.Command, v *viper.Viper) {
	for name, key := range flagKeys {
		v.BindPFlag(key, cmd.Flags().Lookup(name))
	}
	for key, envs := range envBindings {
		v.BindEnv(append([]string{key}, envs...)...)
	}
}

// InitConfig initializes viper configuration
func InitConfig(cfgFile, envFile string) {
	initConfig(viper.GetViper(), cfgFile, envFile)
}

func initConfig(v *viper.Viper, cfgFile, envFile string) {
	// .env values never override the real environment
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Error loading %s: %v\n", envFile, err)
		}
	}

	config.SetDefaults(v)

	if cfgFile != "" {
		// Use config file from the flag
		v.SetConfigFile(cfgFile)
	} else {
		// Search config in home directory and the working directory with name ".transbench" (without extension)
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(home)
		}
		v.AddConfigPath(".")
		v.SetConfigType("yaml")
		v.SetConfigName(".transbench")
	}

	// Environment variables
	v.SetEnvPrefix("TRANSBENCH")
	v.AutomaticEnv()

	// Read config file
	if err := v.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", v.ConfigFileUsed())
	} else if cfgFile != "" {
		fmt.Fprintf(os.Stderr, "Error reading config file %s: %v\n", cfgFile, err)
	}
}

// GetOpenAIKey retrieves the API key from environment or config
func GetOpenAIKey() string {
	// First check environment variables
	for _, name := range envBindings[config.KeyAPIKey] {
		if key := os.Getenv(name); key != "" {
			return key
		}
	}

	// Then check config file
	return viper.GetString(config.KeyAPIKey)
}
