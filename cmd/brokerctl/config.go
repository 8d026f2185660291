package main

import (
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// CLIConfig holds persistent CLI settings.
type CLIConfig struct {
	Address string `yaml:"address"`
}

var cliConfig = CLIConfig{
	Address: "http://127.0.0.1:8250",
}

func configPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".credbroker", "config.yaml")
}

func loadConfig() {
	path := configPath()
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	// Ignore malformed config, defaults still apply
	_ = yaml.Unmarshal(data, &cliConfig)
}
