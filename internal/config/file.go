package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config for the optional YAML overlay. Secrets are
// only read from the environment.
type fileConfig struct {
	Env           string         `yaml:"env"`
	Addr          string         `yaml:"addr"`
	Debug         bool           `yaml:"debug"`
	LogFormat     string         `yaml:"log_format"`
	AgentHostname string         `yaml:"agent_hostname"`
	Memory        MemoryConfig   `yaml:"memory"`
	Embedder      EmbedderConfig `yaml:"embedder"`
	LLM           LLMConfig      `yaml:"llm"`
	Retry         RetryConfig    `yaml:"retry"`
	Storage       StorageConfig  `yaml:"storage"`
	Backfill      BackfillConfig `yaml:"backfill"`
	Budget        BudgetConfig   `yaml:"budget"`
	Timezone      string         `yaml:"timezone"`
}

func loadFile(path string) (fileConfig, error) {
	var fc fileConfig
	if path == "" {
		return fc, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fc, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fc, fmt.Errorf("parse config %s: %w", path, err)
	}

	return fc, nil
}
