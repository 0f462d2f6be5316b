/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"fmt"
	"strings"
)

// Default and restriction values.
const (
	DefaultFileRotationMaxSizeMB  = 250
	DefaultFileRotationMaxBackups = 10
)

// Level defines possible values for log levels.
type Level string

// Supported log levels.
const (
	LevelError Level = "error"
	LevelWarn  Level = "warn"
	LevelInfo  Level = "info"
	LevelDebug Level = "debug"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (l *Level) UnmarshalText(text []byte) error {
	switch level := Level(strings.ToLower(string(text))); level {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
		*l = level
		return nil
	default:
		return fmt.Errorf("unknown log level %q", string(text))
	}
}

// Format defines possible values for log formats.
type Format string

// Supported log formats.
const (
	FormatJSON Format = "json"
	FormatText Format = "text"
)

// UnmarshalText implements the encoding.TextUnmarshaler interface.
func (f *Format) UnmarshalText(text []byte) error {
	switch format := Format(strings.ToLower(string(text))); format {
	case FormatJSON, FormatText:
		*f = format
		return nil
	default:
		return fmt.Errorf("unknown log format %q", string(text))
	}
}

// Output defines possible values for log outputs.
type Output string

// Supported log outputs.
const (
	OutputStdout Output = "stdout"
	OutputStderr Output = "stderr"
	OutputFile   Output = "file"
)

// FileRotationConfig is a configuration for log file rotation.
type FileRotationConfig struct {
	MaxSizeMB  int  `mapstructure:"maxSizeMb" yaml:"maxSizeMb" json:"maxSizeMb"`
	MaxBackups int  `mapstructure:"maxBackups" yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int  `mapstructure:"maxAgeDays" yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool `mapstructure:"compress" yaml:"compress" json:"compress"`
}

// FileOutputConfig is a configuration for file log output.
type FileOutputConfig struct {
	Path     string             `mapstructure:"path" yaml:"path" json:"path"`
	Rotation FileRotationConfig `mapstructure:"rotation" yaml:"rotation" json:"rotation"`
}

// Config represents a set of configuration parameters for logging.
// Configuration can be loaded in different formats (YAML, JSON) using viper
// or with json.Unmarshal/yaml.Unmarshal functions directly.
type Config struct {
	Level   Level            `mapstructure:"level" yaml:"level" json:"level"`
	Format  Format           `mapstructure:"format" yaml:"format" json:"format"`
	Output  Output           `mapstructure:"output" yaml:"output" json:"output"`
	NoColor bool             `mapstructure:"nocolor" yaml:"nocolor" json:"nocolor"`
	File    FileOutputConfig `mapstructure:"file" yaml:"file" json:"file"`
}

// NewDefaultConfig creates a new instance of the Config with default values.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  LevelInfo,
		Format: FormatJSON,
		Output: OutputStdout,
		File: FileOutputConfig{
			Rotation: FileRotationConfig{
				MaxSizeMB:  DefaultFileRotationMaxSizeMB,
				MaxBackups: DefaultFileRotationMaxBackups,
			},
		},
	}
}

// Validate checks that all configuration parameters have valid values.
func (c *Config) Validate() error {
	switch c.Level {
	case LevelError, LevelWarn, LevelInfo, LevelDebug:
	default:
		return fmt.Errorf("unknown log level %q", c.Level)
	}
	switch c.Format {
	case FormatJSON, FormatText:
	default:
		return fmt.Errorf("unknown log format %q", c.Format)
	}
	switch c.Output {
	case OutputStdout, OutputStderr:
	case OutputFile:
		if c.File.Path == "" {
			return fmt.Errorf("log file path cannot be empty when %q output is used", OutputFile)
		}
	default:
		return fmt.Errorf("unknown log output %q", c.Output)
	}
	return nil
}
