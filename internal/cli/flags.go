package cli

import "codeberg.org/snonux/transbench/internal/config"

// Flags holds all command-line flag values
type Flags struct {
	// General flags
	CfgFile    string
	EnvFile    string
	InputFile  string
	OutputDir  string
	LogDir     string
	LogLevel   string
	History    string
	ExcelBOM   bool
	Archive    bool
	ListModels bool
	ListRuns   bool

	// Endpoint flags
	Model       string
	BaseURL     string
	Temperature float64
	MaxTokens   int

	// Retry and concurrency flags
	Timeout          float64
	MaxRetries       int
	Backoff          float64
	Workers          int
	BreakerThreshold int
	Budget           float64

	// Task selection flags
	Tasks     []string
	ZhEnLimit int
	EnZhLimit int
	Seed      int64
}

// NewFlags creates a new Flags instance with default values
func NewFlags() *Flags {
	return &Flags{
		EnvFile:    ".env",
		InputFile:  config.DefaultInput,
		OutputDir:  config.DefaultOutputDir,
		LogDir:     config.DefaultLogDir,
		LogLevel:   config.DefaultLogLevel,
		Timeout:    config.DefaultTimeout.Seconds(),
		MaxRetries: config.DefaultMaxRetries,
		Backoff:    config.DefaultBackoff.Seconds(),
		Workers:    config.DefaultWorkers,
		Tasks:      []string{"zh_en", "en_zh"},
		ZhEnLimit:  -1,
		EnZhLimit:  -1,
		Seed:       config.DefaultSeed,
	}
}
