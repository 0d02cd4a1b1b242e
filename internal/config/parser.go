// Package config provides configuration file parsing and validation.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// DefaultFile is the configuration file used when none is given.
const DefaultFile = "./expdpconfig.json"

// Parser handles configuration file parsing.
type Parser struct {
	v *viper.Viper
}

// NewParser creates a new configuration parser.
func NewParser() *Parser {
	return &Parser{v: viper.New()}
}

// LoadFile loads configuration from a file path. The format follows the file
// extension (json, yaml, toml).
func (p *Parser) LoadFile(path string) (map[string]any, error) {
	p.v.SetConfigFile(path)

	if err := p.v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	return p.v.AllSettings(), nil
}

// LoadReader loads JSON configuration from a string (useful for testing).
func (p *Parser) LoadReader(content string) (map[string]any, error) {
	p.v.SetConfigType("json")
	if err := p.v.ReadConfig(strings.NewReader(content)); err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	return p.v.AllSettings(), nil
}
