package config

import (
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		setup       func()
		expectError bool
		check       func(t *testing.T, cfg *Config)
	}{
		{
			name: "successful load with defaults",
			setup: func() {
				viper.Reset()
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "src", cfg.Paths.Source)
				assert.Equal(t, "public", cfg.Paths.Public)
				assert.Equal(t, ".stagehand", cfg.Paths.Staging)
				assert.Equal(t, "build/assets.json", cfg.Paths.Manifest)
				assert.Equal(t, "localhost", cfg.Server.Host)
				assert.Equal(t, 0, cfg.Server.Port)
				assert.Equal(t, "go", cfg.Targets.Browser.Command)
				assert.Equal(t, "js", cfg.Targets.Browser.Env["GOOS"])
				assert.Equal(t, "build/public", cfg.Targets.Browser.Output)
				assert.Equal(t, "build", cfg.Targets.Server.Output)
			},
		},
		{
			name: "custom paths and port",
			setup: func() {
				viper.Reset()
				viper.Set("paths.source", "app")
				viper.Set("paths.staging", "tmp/stage")
				viper.Set("server.port", 5000)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "app", cfg.Paths.Source)
				assert.Equal(t, filepath.Join("tmp", "stage", "src"), cfg.StagingSourceDir())
				assert.Equal(t, 5000, cfg.Server.Port)
			},
		},
		{
			name: "custom target command keeps its own args",
			setup: func() {
				viper.Reset()
				viper.Set("targets.server.command", "make")
				viper.Set("targets.server.args", []string{"server"})
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "make", cfg.Targets.Server.Command)
				assert.Equal(t, []string{"server"}, cfg.Targets.Server.Args)
			},
		},
		{
			name: "inspect flag",
			setup: func() {
				viper.Reset()
				viper.Set("inspect", true)
			},
			check: func(t *testing.T, cfg *Config) {
				assert.True(t, cfg.Inspect)
			},
		},
		{
			name: "invalid viper config",
			setup: func() {
				viper.Reset()
				viper.Set("server.port", "invalid_port")
			},
			expectError: true,
		},
		{
			name: "staging equal to source",
			setup: func() {
				viper.Reset()
				viper.Set("paths.staging", "src")
			},
			expectError: true,
		},
		{
			name: "staging inside project root used as source",
			setup: func() {
				viper.Reset()
				viper.Set("paths.source", ".")
			},
			expectError: true,
		},
		{
			name: "staging inside source",
			setup: func() {
				viper.Reset()
				viper.Set("paths.staging", "src/tmp")
			},
			expectError: true,
		},
		{
			name: "source inside staging",
			setup: func() {
				viper.Reset()
				viper.Set("paths.staging", "work")
				viper.Set("paths.source", "work/src")
			},
			expectError: true,
		},
		{
			name: "staging inside public",
			setup: func() {
				viper.Reset()
				viper.Set("paths.staging", "public/.stage")
			},
			expectError: true,
		},
		{
			name: "sibling sharing a prefix is allowed",
			setup: func() {
				viper.Reset()
				viper.Set("paths.staging", "src-stage")
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "src-stage", cfg.Paths.Staging)
			},
		},
		{
			name: "path traversal in source",
			setup: func() {
				viper.Reset()
				viper.Set("paths.source", "../elsewhere")
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.setup()
			defer viper.Reset()

			cfg, err := Load()
			if tt.expectError {
				assert.Error(t, err)
				assert.Nil(t, cfg)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, cfg)
			tt.check(t, cfg)
		})
	}
}

func TestResolvePort(t *testing.T) {
	tests := []struct {
		name       string
		env        string
		configPort int
		expected   int
	}{
		{"env override plus one", "4000", 0, 4001},
		{"env wins over config", "4000", 5000, 4001},
		{"config port", "", 5000, 5000},
		{"default", "", 0, DefaultPort},
		{"non numeric env ignored", "abc", 0, DefaultPort},
		{"non numeric env falls back to config", "abc", 5000, 5000},
		{"whitespace trimmed", " 8080 ", 0, 8081},
		{"negative env falls back to config", "-1", 5000, 5000},
		{"negative env falls back to default", "-1", 0, DefaultPort},
		{"env at max port falls back to default", "65535", 0, DefaultPort},
		{"env below max port", "65534", 0, 65535},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ResolvePort(tt.env, tt.configPort))
		})
	}
}

func TestCheckLayout(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = "/project"
	require.NoError(t, cfg.CheckLayout())

	cfg.Paths.Source = "."
	assert.Error(t, cfg.CheckLayout())

	cfg.Paths.Source = "src"
	cfg.Paths.Staging = "/project/src/.stage"
	assert.Error(t, cfg.CheckLayout(), "absolute staging inside source")

	cfg.Paths.Staging = "/tmp/stage"
	assert.NoError(t, cfg.CheckLayout())
}

func TestDefaultPortIs3001(t *testing.T) {
	assert.Equal(t, 3001, ResolvePort("", 0))
}

func TestResolveJoinsRoot(t *testing.T) {
	cfg := Default()
	cfg.Paths.Root = "/work/project"

	assert.Equal(t, "/work/project/src", cfg.SourceDir())
	assert.Equal(t, "/work/project/public", cfg.PublicDir())
	assert.Equal(t, "/work/project/.stagehand/src", cfg.StagingSourceDir())
	assert.Equal(t, "/work/project/.stagehand/public", cfg.StagingPublicDir())
	assert.Equal(t, "/work/project/build/assets.json", cfg.ManifestPath())
	assert.Equal(t, "/abs/out", cfg.Resolve("/abs/out"))
}

func TestValidateServerConfig(t *testing.T) {
	assert.Error(t, validateServerConfig(&ServerConfig{Port: 70000}))
	assert.Error(t, validateServerConfig(&ServerConfig{Port: -1}))
	assert.Error(t, validateServerConfig(&ServerConfig{Host: "localhost;rm"}))
	assert.NoError(t, validateServerConfig(&ServerConfig{Host: "0.0.0.0", Port: 3000}))
}

func TestValidateTarget(t *testing.T) {
	assert.NoError(t, validateTarget("browser", &TargetSpec{Command: "go", Output: "build/public", Env: map[string]string{"GOOS": "js"}}))
	assert.Error(t, validateTarget("browser", &TargetSpec{}))
	assert.Error(t, validateTarget("server", &TargetSpec{Command: "go", Output: "../build"}))
	assert.Error(t, validateTarget("server", &TargetSpec{Command: "go", Env: map[string]string{"BAD-NAME": "1"}}))
}
