// Copyright (c) 2024 The liftscan developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLoadConfigPositional ensures the positional arguments map to the script
// and inner script fields and extras are handed back to the caller.
func TestLoadConfigPositional(t *testing.T) {
	cfg, remaining, err := loadConfig([]string{"51"})
	require.NoError(t, err)
	require.Equal(t, "51", cfg.Args.Script)
	require.Equal(t, "", cfg.Args.Inner)
	require.Empty(t, remaining)
	require.Equal(t, defaultLogLevel, cfg.DebugLevel)

	cfg, remaining, err = loadConfig([]string{"0020", "51", "extra"})
	require.NoError(t, err)
	require.Equal(t, "0020", cfg.Args.Script)
	require.Equal(t, "51", cfg.Args.Inner)
	require.Equal(t, []string{"extra"}, remaining)
}

// TestLoadConfigDebugLevel ensures the debug level flag is validated.
func TestLoadConfigDebugLevel(t *testing.T) {
	cfg, _, err := loadConfig([]string{"--debuglevel=trace", "51"})
	require.NoError(t, err)
	require.Equal(t, "trace", cfg.DebugLevel)

	_, _, err = loadConfig([]string{"--debuglevel=bogus", "51"})
	require.ErrorContains(t, err, "invalid")
}

// TestValidLogLevel ensures only the supported log levels are accepted.
func TestValidLogLevel(t *testing.T) {
	for _, level := range []string{
		"trace", "debug", "info", "warn", "error", "critical",
	} {
		require.True(t, validLogLevel(level), level)
	}
	require.False(t, validLogLevel("warning"))
	require.False(t, validLogLevel(""))
}
