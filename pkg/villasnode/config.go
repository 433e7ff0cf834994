package villasnode

import (
	"github.com/matthiasnowak/villasnode/internal/app/config"
	"github.com/matthiasnowak/villasnode/internal/app/registry"
)

type (
	// Config is a parsed node configuration.
	Config     = config.Config
	NodeConfig = config.NodeConfig
	PathConfig = config.PathConfig
	HookConfig = config.HookConfig
)

// LoadConfig reads and validates a YAML configuration file.
func LoadConfig(path string) (*Config, error) { return config.Load(path) }

// ParseConfig validates a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) { return config.Parse(data) }

// BuiltinRegistry returns a registry with every builtin node and hook type.
func BuiltinRegistry() *Registry { return registry.Builtin() }
