package config

import "time"

type Config struct {
	Env           string
	Addr          string
	Debug         bool
	LogFormat     string
	AgentHostname string
	Memory        MemoryConfig
	Embedder      EmbedderConfig
	LLM           LLMConfig
	Retry         RetryConfig
	Storage       StorageConfig
	Backfill      BackfillConfig
	Budget        BudgetConfig
	Timezone      *time.Location
}

// Development reports whether the query allowlist gate is relaxed.
func (c *Config) Development() bool {
	return c.Env == "development"
}

type MemoryConfig struct {
	Path       string `yaml:"path"`
	QueriesDir string `yaml:"queries_dir"`
	Metric     string `yaml:"metric"`
}

type EmbedderConfig struct {
	Provider      string `yaml:"provider"`
	BaseURL       string `yaml:"url"`
	Model         string `yaml:"model"`
	ModelPath     string `yaml:"model_path"`
	TokenizerPath string `yaml:"tokenizer_path"`
	ONNXLibrary   string `yaml:"onnx_library"`
	Dimension     int    `yaml:"dimension"`
}

type LLMConfig struct {
	Provider    string  `yaml:"provider"`
	APIKey      string  `yaml:"-"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	MaxSteps    int     `yaml:"max_steps"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
	MaxDelay   time.Duration `yaml:"max_delay"`
}

type StorageConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"-"`
	SecretKey string `yaml:"-"`
	UseSSL    bool   `yaml:"use_ssl"`
	Bucket    string `yaml:"bucket"`
}

// Enabled reports whether object storage credentials are present.
func (s StorageConfig) Enabled() bool {
	return s.AccessKey != "" && s.SecretKey != ""
}

type BackfillConfig struct {
	Schedule string `yaml:"schedule"`
	Batch    int    `yaml:"batch"`
}

// BudgetConfig caps generation tokens per day. DailyTokens of zero
// disables the cap.
type BudgetConfig struct {
	DailyTokens int     `yaml:"daily_tokens"`
	WarnAt      float64 `yaml:"warn_at"`
}
