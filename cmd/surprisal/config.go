package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the surprisal configuration file
// (~/.config/surprisal/config.yaml). Pointer fields distinguish "not set"
// from zero values.
type Config struct {
	ModelsDir      string `yaml:"models_dir"`
	Provider       string `yaml:"provider"`
	ONNXRuntimeLib string `yaml:"onnxruntime_lib"`

	// Run defaults
	OutputDirectory  string `yaml:"output_directory"`
	PrimaryDecoder   string `yaml:"primary_decoder"`
	FollowingContext *bool  `yaml:"following_context"`
	UseCPU           *bool  `yaml:"use_cpu"`
	Jobs             *int64 `yaml:"jobs"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "surprisal", "config.yaml")
}

// LoadConfig reads the config file. Returns a zero Config if the file
// doesn't exist or cannot be parsed.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	cfg, err := readConfig(path)
	if err != nil {
		return Config{}
	}
	return cfg
}

func readConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyCommonConfig applies config file defaults shared by every command
// when the corresponding flag was not set on the command line or in the
// environment.
func applyCommonConfig(c *cli.Command, cfg Config) {
	if cfg.ModelsDir != "" && !c.IsSet("models-dir") {
		modelsDir = cfg.ModelsDir
	}
	if cfg.Provider != "" && !c.IsSet("provider") {
		providerKind = cfg.Provider
	}
	if cfg.ONNXRuntimeLib != "" && !c.IsSet("onnxruntime-lib") {
		onnxLib = cfg.ONNXRuntimeLib
	}
	if cfg.UseCPU != nil && !c.IsSet("use-cpu") {
		useCPU = *cfg.UseCPU
	}
	if cfg.PrimaryDecoder != "" && !c.IsSet("primary-decoder") {
		primaryDecoder = cfg.PrimaryDecoder
	}
}

// applyRunConfig applies config file defaults to run command flags.
func applyRunConfig(c *cli.Command, cfg Config, f *runFlags) {
	applyCommonConfig(c, cfg)
	if cfg.OutputDirectory != "" && !c.IsSet("output-directory") {
		f.outputDir = cfg.OutputDirectory
	}
	if cfg.FollowingContext != nil && !c.IsSet("following-context") {
		f.followingContext = *cfg.FollowingContext
	}
	if cfg.Jobs != nil && !c.IsSet("jobs") {
		f.jobs = *cfg.Jobs
	}
}

// applyServeConfig applies config file defaults to serve command flags.
func applyServeConfig(c *cli.Command, cfg Config, addr *string, following *bool) {
	applyCommonConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
	if cfg.FollowingContext != nil && !c.IsSet("following-context") {
		*following = *cfg.FollowingContext
	}
}

// applyLogConfig applies logging defaults from the config file.
func applyLogConfig(c *cli.Command, cfg Config) {
	if cfg.LogLevel != "" && !c.IsSet("log-level") {
		logLevel = cfg.LogLevel
	}
	if cfg.LogFormat != "" && !c.IsSet("log-format") {
		logFormat = cfg.LogFormat
	}
}
