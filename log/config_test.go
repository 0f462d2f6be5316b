/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package log

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelUnmarshalText(t *testing.T) {
	var level Level
	require.NoError(t, level.UnmarshalText([]byte("WARN")))
	require.Equal(t, LevelWarn, level)

	require.Error(t, level.UnmarshalText([]byte("trace")))
}

func TestFormatUnmarshalText(t *testing.T) {
	var format Format
	require.NoError(t, format.UnmarshalText([]byte("Text")))
	require.Equal(t, FormatText, format)

	require.Error(t, format.UnmarshalText([]byte("logfmt")))
}

func TestConfigValidate(t *testing.T) {
	cfg := NewDefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg = NewDefaultConfig()
	cfg.Level = "verbose"
	require.EqualError(t, cfg.Validate(), `unknown log level "verbose"`)

	cfg = NewDefaultConfig()
	cfg.Format = "xml"
	require.EqualError(t, cfg.Validate(), `unknown log format "xml"`)

	cfg = NewDefaultConfig()
	cfg.Output = "syslog"
	require.EqualError(t, cfg.Validate(), `unknown log output "syslog"`)

	cfg = NewDefaultConfig()
	cfg.Output = OutputFile
	require.EqualError(t, cfg.Validate(), `log file path cannot be empty when "file" output is used`)
	cfg.File.Path = "/var/log/app.log"
	require.NoError(t, cfg.Validate())
}
