package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// fileConfig is the shape of the optional YAML config file, covering the
// structured keys that are awkward to express as flat environment
// variables (spec.md §6: bridge.agentCard, bridge.allowedCommands).
type fileConfig struct {
	Bridge struct {
		AgentCard       *AgentCard `yaml:"agentCard"`
		AllowedCommands []string   `yaml:"allowedCommands"`
	} `yaml:"bridge"`
}

func loadYAMLExtras(path string) (*AgentCard, []string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, err
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, nil, err
	}

	return fc.Bridge.AgentCard, fc.Bridge.AllowedCommands, nil
}
