package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// FileConfig is the optional configuration file (~/.config/alpa/config.yaml).
// Pointer fields distinguish "not set" from zero values.
type FileConfig struct {
	Checkpoint string `yaml:"checkpoint"`
	Size       string `yaml:"size"`
	Tokenizer  string `yaml:"tokenizer"`

	Temperature   *float64 `yaml:"temperature"`
	TopK          *int64   `yaml:"top_k"`
	TopP          *float64 `yaml:"top_p"`
	RepeatPenalty *float64 `yaml:"repeat_penalty"`
	Steps         *int64   `yaml:"steps"`
	Seed          *int64   `yaml:"seed"`

	ServerAddress string `yaml:"server_address"`
	LogLevel      string `yaml:"log_level"`
	LogFormat     string `yaml:"log_format"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "alpa", "config.yaml")
}

// loadFileConfig reads the config file, returning a zero config when the
// file is absent or unreadable.
func loadFileConfig() FileConfig {
	path := configPath()
	if path == "" {
		return FileConfig{}
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return FileConfig{}
	}
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return FileConfig{}
	}
	return cfg
}

// applyModelConfig fills model flags from the config file when the
// corresponding CLI flag was not explicitly set.
func applyModelConfig(c *cli.Command, cfg FileConfig) {
	if cfg.Checkpoint != "" && !c.IsSet("checkpoint") {
		checkpointPath = cfg.Checkpoint
	}
	if cfg.Size != "" && !c.IsSet("size") {
		modelSize = cfg.Size
	}
	if cfg.Tokenizer != "" && !c.IsSet("tokenizer") {
		tokenizerJSON = cfg.Tokenizer
	}
}

// applyRunConfig fills sampling flags from the config file.
func applyRunConfig(c *cli.Command, cfg FileConfig,
	temp *float64, topK, steps *int64, topP, repeatPenalty *float64, seed *int64,
) {
	applyModelConfig(c, cfg)
	if cfg.Temperature != nil && !c.IsSet("temp") && !c.IsSet("temperature") {
		*temp = *cfg.Temperature
	}
	if cfg.TopK != nil && !c.IsSet("top-k") {
		*topK = *cfg.TopK
	}
	if cfg.TopP != nil && !c.IsSet("top-p") {
		*topP = *cfg.TopP
	}
	if cfg.RepeatPenalty != nil && !c.IsSet("repeat-penalty") {
		*repeatPenalty = *cfg.RepeatPenalty
	}
	if cfg.Steps != nil && !c.IsSet("steps") {
		*steps = *cfg.Steps
	}
	if cfg.Seed != nil && !c.IsSet("seed") {
		*seed = *cfg.Seed
	}
}

// applyServeConfig fills server flags from the config file.
func applyServeConfig(c *cli.Command, cfg FileConfig, addr *string) {
	applyModelConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}
