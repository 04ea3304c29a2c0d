package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/bowerhall/mira/internal/llm"
)

// Load builds the configuration from an optional YAML file (MIRA_CONFIG)
// overlaid with the environment. Environment values win.
func Load() (*Config, error) {
	file, err := loadFile(os.Getenv("MIRA_CONFIG"))
	if err != nil {
		return nil, err
	}

	env := envOr("MIRA_ENV", file.Env)
	if env == "" {
		env = "production"
	}

	addr := envOr("MIRA_ADDR", file.Addr)
	if addr == "" {
		addr = ":8080"
	}

	debug := file.Debug
	if raw := os.Getenv("MIRA_DEBUG"); raw != "" {
		debug = raw == "true"
	}

	logFormat := envOr("MIRA_LOG_FORMAT", file.LogFormat)
	switch logFormat {
	case "":
		logFormat = "text"
	case "text", "json":
	default:
		return nil, fmt.Errorf("unknown log format: %s", logFormat)
	}

	agentHostname := envOr("MIRA_AGENT_HOSTNAME", file.AgentHostname)
	if agentHostname == "" {
		agentHostname = "mira-agent"
	}

	memoryConfig, err := loadMemoryConfig(file.Memory)
	if err != nil {
		return nil, err
	}

	embedderConfig, err := loadEmbedderConfig(file.Embedder)
	if err != nil {
		return nil, err
	}

	llmConfig, err := loadLLMConfig(file.LLM)
	if err != nil {
		return nil, err
	}

	retryConfig, err := loadRetryConfig(file.Retry)
	if err != nil {
		return nil, err
	}

	budgetConfig, err := loadBudgetConfig(file.Budget)
	if err != nil {
		return nil, err
	}

	tz := time.UTC
	if name := envOr("TZ", file.Timezone); name != "" {
		loc, err := time.LoadLocation(name)
		if err != nil {
			return nil, fmt.Errorf("invalid timezone %q: %w", name, err)
		}
		tz = loc
	}

	return &Config{
		Env:           env,
		Addr:          addr,
		Debug:         debug,
		LogFormat:     logFormat,
		AgentHostname: agentHostname,
		Memory:        memoryConfig,
		Embedder:      embedderConfig,
		LLM:           llmConfig,
		Retry:         retryConfig,
		Storage:       loadStorageConfig(file.Storage),
		Backfill:      loadBackfillConfig(file.Backfill),
		Budget:        budgetConfig,
		Timezone:      tz,
	}, nil
}

func loadMemoryConfig(file MemoryConfig) (MemoryConfig, error) {
	path := envOr("MIRA_MEMORY", file.Path)
	if path == "" {
		path = "mira.db"
	}

	metric := envOr("MIRA_METRIC", file.Metric)
	switch metric {
	case "":
		metric = "cosine"
	case "cosine", "l2":
	default:
		return MemoryConfig{}, fmt.Errorf("unknown distance metric: %s", metric)
	}

	return MemoryConfig{
		Path:       path,
		QueriesDir: envOr("MIRA_QUERIES_DIR", file.QueriesDir),
		Metric:     metric,
	}, nil
}

func loadEmbedderConfig(file EmbedderConfig) (EmbedderConfig, error) {
	provider := envOr("EMBEDDER_PROVIDER", file.Provider)
	if provider == "" {
		provider = "hash"
	}

	dimension := file.Dimension
	if raw := os.Getenv("EMBEDDER_DIMENSION"); raw != "" {
		d, err := strconv.Atoi(raw)
		if err != nil || d <= 0 {
			return EmbedderConfig{}, fmt.Errorf("invalid EMBEDDER_DIMENSION: %q", raw)
		}
		dimension = d
	}
	if dimension == 0 {
		dimension = 384
	}

	return EmbedderConfig{
		Provider:      provider,
		BaseURL:       envOr("EMBEDDER_URL", file.BaseURL),
		Model:         envOr("EMBEDDER_MODEL", file.Model),
		ModelPath:     envOr("EMBEDDER_MODEL_PATH", file.ModelPath),
		TokenizerPath: envOr("EMBEDDER_TOKENIZER_PATH", file.TokenizerPath),
		ONNXLibrary:   envOr("EMBEDDER_ONNX_LIB", file.ONNXLibrary),
		Dimension:     dimension,
	}, nil
}

func loadLLMConfig(file LLMConfig) (LLMConfig, error) {
	provider := envOr("LLM_PROVIDER", file.Provider)
	if provider == "" {
		provider = "openai"
	}
	if !llm.IsKnownProvider(provider) {
		return LLMConfig{}, fmt.Errorf("unknown LLM provider: %s", provider)
	}

	apiKey, err := getAPIKey(provider, "LLM")
	if err != nil {
		return LLMConfig{}, err
	}

	maxSteps := file.MaxSteps
	if n, err := strconv.Atoi(os.Getenv("LLM_MAX_STEPS")); err == nil && n > 0 {
		maxSteps = n
	}
	if maxSteps <= 0 {
		maxSteps = 5
	}

	maxTokens := file.MaxTokens
	if n, err := strconv.Atoi(os.Getenv("LLM_MAX_TOKENS")); err == nil && n > 0 {
		maxTokens = n
	}
	if maxTokens <= 0 {
		maxTokens = 8000
	}

	temperature := file.Temperature
	if f, err := strconv.ParseFloat(os.Getenv("LLM_TEMPERATURE"), 64); err == nil && f >= 0 {
		temperature = f
	}
	if temperature == 0 && os.Getenv("LLM_TEMPERATURE") == "" {
		temperature = 0.7
	}

	return LLMConfig{
		Provider:    provider,
		APIKey:      apiKey,
		Model:       envOr("LLM_MODEL", file.Model),
		BaseURL:     envOr("LLM_BASE_URL", file.BaseURL),
		MaxSteps:    maxSteps,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}, nil
}

func loadRetryConfig(file RetryConfig) (RetryConfig, error) {
	cfg := RetryConfig{MaxRetries: 3, BaseDelay: time.Second, MaxDelay: 10 * time.Second}

	if file.MaxRetries > 0 {
		cfg.MaxRetries = file.MaxRetries
	}
	if file.BaseDelay > 0 {
		cfg.BaseDelay = file.BaseDelay
	}
	if file.MaxDelay > 0 {
		cfg.MaxDelay = file.MaxDelay
	}

	if raw := os.Getenv("RETRY_MAX"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return RetryConfig{}, fmt.Errorf("invalid RETRY_MAX: %q", raw)
		}
		cfg.MaxRetries = n
	}

	for key, dst := range map[string]*time.Duration{
		"RETRY_BASE_DELAY": &cfg.BaseDelay,
		"RETRY_MAX_DELAY":  &cfg.MaxDelay,
	} {
		raw := os.Getenv(key)
		if raw == "" {
			continue
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			return RetryConfig{}, fmt.Errorf("invalid %s: %q", key, raw)
		}
		*dst = d
	}

	return cfg, nil
}

func loadStorageConfig(file StorageConfig) StorageConfig {
	endpoint := envOr("MINIO_ENDPOINT", file.Endpoint)
	if endpoint == "" {
		endpoint = "localhost:9000"
	}

	bucket := envOr("MINIO_BUCKET", file.Bucket)
	if bucket == "" {
		bucket = "mira-archive"
	}

	useSSL := file.UseSSL
	if raw := os.Getenv("MINIO_USE_SSL"); raw != "" {
		useSSL = raw == "true"
	}

	return StorageConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		UseSSL:    useSSL,
		Bucket:    bucket,
	}
}

func loadBackfillConfig(file BackfillConfig) BackfillConfig {
	schedule, ok := os.LookupEnv("BACKFILL_SCHEDULE")
	if !ok {
		schedule = file.Schedule
		if schedule == "" {
			schedule = "*/5 * * * *"
		}
	}

	batch := file.Batch
	if n, err := strconv.Atoi(os.Getenv("BACKFILL_BATCH")); err == nil && n > 0 {
		batch = n
	}
	if batch <= 0 {
		batch = 50
	}

	return BackfillConfig{Schedule: schedule, Batch: batch}
}

func getAPIKey(provider, prefix string) (string, error) {
	envKey := os.Getenv(prefix + "_API_KEY")
	if envKey != "" {
		return envKey, nil
	}

	switch provider {
	case "claude":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return "", fmt.Errorf("ANTHROPIC_API_KEY not set")
		}
		return key, nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return "", fmt.Errorf("OPENAI_API_KEY not set")
		}
		return key, nil
	case "kimi":
		key := os.Getenv("KIMI_API_KEY")
		if key == "" {
			return "", fmt.Errorf("KIMI_API_KEY not set")
		}
		return key, nil
	case "ollama":
		// Ollama doesn't need an API key
		return "ollama", nil
	default:
		return "", fmt.Errorf("unknown provider: %s", provider)
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func loadBudgetConfig(file BudgetConfig) (BudgetConfig, error) {
	cfg := file

	if raw := os.Getenv("LLM_DAILY_TOKEN_LIMIT"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return BudgetConfig{}, fmt.Errorf("invalid LLM_DAILY_TOKEN_LIMIT: %q", raw)
		}
		cfg.DailyTokens = n
	}

	if raw := os.Getenv("LLM_BUDGET_WARN_AT"); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil || f <= 0 || f > 1 {
			return BudgetConfig{}, fmt.Errorf("invalid LLM_BUDGET_WARN_AT: %q", raw)
		}
		cfg.WarnAt = f
	}
	if cfg.WarnAt == 0 {
		cfg.WarnAt = 0.8
	}

	return cfg, nil
}
