package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/johnayoung/go-forex-centuries/internal/validator"
)

func TestParseBuildFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    *BuildFlags
		wantErr string
	}{
		{
			name: "all flags",
			args: []string{"--config", "c.yaml", "-s", "src", "--derived", "out", "--workers", "8", "--mirror"},
			want: &BuildFlags{Config: "c.yaml", Sources: "src", Derived: "out", Workers: 8, Mirror: true},
		},
		{name: "no flags", args: nil, want: &BuildFlags{}},
		{name: "missing value", args: []string{"--sources"}, wantErr: "--sources requires a value"},
		{name: "bad workers", args: []string{"--workers", "x"}, wantErr: "invalid --workers value"},
		{name: "zero workers", args: []string{"--workers", "0"}, wantErr: "at least 1"},
		{name: "unknown flag", args: []string{"--pair", "BTC-USD"}, wantErr: "unknown flag: --pair"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBuildFlags(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseQueryFlags(t *testing.T) {
	flags, err := parseQueryFlags([]string{"--country", "Japan", "--from", "1900", "--to", "1950", "--source", "mw", "-f", "csv"})
	require.NoError(t, err)
	assert.Equal(t, &QueryFlags{Country: "Japan", From: 1900, To: 1950, Source: "MW", Format: "csv"}, flags)

	_, err = parseQueryFlags([]string{"--from", "1900"})
	assert.EqualError(t, err, "--country is required")

	_, err = parseQueryFlags([]string{"--country", "Japan", "--format", "xml"})
	assert.Error(t, err)

	flags, err = parseQueryFlags([]string{"--help"})
	require.NoError(t, err)
	assert.True(t, flags.Help)
}

func TestParseValidateFlags(t *testing.T) {
	flags, err := parseValidateFlags([]string{"-d", "out", "--strict"})
	require.NoError(t, err)
	assert.Equal(t, &ValidateFlags{Derived: "out", Strict: true}, flags)

	flags, err = parseValidateFlags(nil)
	require.NoError(t, err)
	assert.False(t, flags.Strict, "warnings are advisory by default")
}

func writeConfig(t *testing.T, root string) string {
	t.Helper()
	path := filepath.Join(root, "forex.yaml")
	content := "paths:\n" +
		"  source_dir: " + filepath.Join(root, "sources") + "\n" +
		"  derived_dir: " + filepath.Join(root, "derived") + "\n" +
		"logging:\n  level: error\n" +
		"storage:\n  type: memory\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestRunExitCodes(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sources", "fred", "daily"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sources", "fred", "daily", "fred_jpy_usd.csv"),
		[]byte("observation_date,DEXJPUS\n2024-01-02,141.5\n2024-01-03,142.1\n"), 0644))

	tests := []struct {
		name string
		args []string
		want int
	}{
		{"no command", nil, ExitUsageError},
		{"unknown command", []string{"collect"}, ExitUsageError},
		{"version", []string{"version"}, ExitSuccess},
		{"help", []string{"help", "build"}, ExitSuccess},
		{"bad flag", []string{"build", "--nope"}, ExitUsageError},
		{"build help", []string{"build", "--help"}, ExitSuccess},
		{"inverted query range", []string{"query", "--config", cfgPath, "--country", "Japan", "--from", "1950", "--to", "1900"}, ExitUsageError},
		{"broken config", []string{"build", "--config", filepath.Join(root, "broken.json")}, ExitConfigError},
		{"yearly sources missing", []string{"build", "--config", cfgPath, "--mirror"}, ExitDataError},
		{"memory mirror is empty", []string{"query", "--config", cfgPath, "--country", "Japan"}, ExitSuccess},
		{"status", []string{"status", "--config", cfgPath}, ExitSuccess},
	}
	require.NoError(t, os.WriteFile(filepath.Join(root, "broken.json"), []byte("{"), 0644))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, run(tt.args))
		})
	}

	_, err := os.Stat(filepath.Join(root, "derived", "normalized", "fred_daily_normalized.csv"))
	assert.NoError(t, err, "tables are published despite fatal source issues")
}

func TestRunValidateEmptyTree(t *testing.T) {
	root := t.TempDir()
	cfgPath := writeConfig(t, root)

	assert.Equal(t, validator.ExitErrors, run([]string{"validate", "--config", cfgPath}))
}
