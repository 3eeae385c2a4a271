// Package config provides configuration management for stagehand sessions
// using Viper for loading from files, environment variables and command-line
// flags.
//
// The resolved Config describes where the project source, public assets and
// staging tree live, how each compilation target is invoked, and on which
// port the development server listens. It is produced once before a session
// starts and never mutated by the session.
package config

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/conneroisu/stagehand/internal/validation"
)

// DefaultPort is used when neither PORT nor server.port is set.
const DefaultPort = 3001

type Config struct {
	Paths   PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Server  ServerConfig  `yaml:"server" mapstructure:"server"`
	Targets TargetsConfig `yaml:"targets" mapstructure:"targets"`
	Modify  ModifyConfig  `yaml:"modify" mapstructure:"modify"`
	Inspect bool          `yaml:"inspect" mapstructure:"inspect"`
}

type PathsConfig struct {
	Root     string `yaml:"root" mapstructure:"root"`
	Source   string `yaml:"source" mapstructure:"source"`
	Public   string `yaml:"public" mapstructure:"public"`
	Staging  string `yaml:"staging" mapstructure:"staging"`
	Manifest string `yaml:"manifest" mapstructure:"manifest"`
	// Runtime overrides the embedded runtime support files with an on-disk directory.
	Runtime string `yaml:"runtime,omitempty" mapstructure:"runtime"`
}

type ServerConfig struct {
	Host           string   `yaml:"host" mapstructure:"host"`
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins,omitempty" mapstructure:"allowed_origins"`
}

type TargetsConfig struct {
	Browser TargetSpec `yaml:"browser" mapstructure:"browser"`
	Server  TargetSpec `yaml:"server" mapstructure:"server"`
}

// TargetSpec describes how one compilation target is built. Command runs
// with the staging root as working directory.
type TargetSpec struct {
	Command string            `yaml:"command,omitempty" mapstructure:"command"`
	Args    []string          `yaml:"args,omitempty" mapstructure:"args"`
	Output  string            `yaml:"output,omitempty" mapstructure:"output"`
	Env     map[string]string `yaml:"env,omitempty" mapstructure:"env"`
}

// ModifyConfig holds per-target overlays applied by the configuration hook.
type ModifyConfig struct {
	Browser *TargetSpec `yaml:"browser,omitempty" mapstructure:"browser"`
	Server  *TargetSpec `yaml:"server,omitempty" mapstructure:"server"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func Load() (*Config, error) {
	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Viper does not reliably unmarshal slices set through flags or env.
	if viper.IsSet("targets.browser.args") && len(config.Targets.Browser.Args) == 0 {
		config.Targets.Browser.Args = viper.GetStringSlice("targets.browser.args")
	}
	if viper.IsSet("targets.server.args") && len(config.Targets.Server.Args) == 0 {
		config.Targets.Server.Args = viper.GetStringSlice("targets.server.args")
	}
	if viper.IsSet("inspect") {
		config.Inspect = viper.GetBool("inspect")
	}

	applyDefaults(&config)

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func applyDefaults(config *Config) {
	if config.Paths.Root == "" {
		config.Paths.Root = "."
	}
	if config.Paths.Source == "" {
		config.Paths.Source = "src"
	}
	if config.Paths.Public == "" {
		config.Paths.Public = "public"
	}
	if config.Paths.Staging == "" {
		config.Paths.Staging = ".stagehand"
	}
	if config.Paths.Manifest == "" {
		config.Paths.Manifest = "build/assets.json"
	}

	if config.Server.Host == "" {
		config.Server.Host = "localhost"
	}

	browser := &config.Targets.Browser
	if browser.Command == "" {
		browser.Command = "go"
		if len(browser.Args) == 0 {
			browser.Args = []string{"build", "-o", "build/public/app.wasm", "./src/client"}
		}
		if browser.Env == nil {
			browser.Env = map[string]string{"GOOS": "js", "GOARCH": "wasm"}
		}
	}
	if browser.Output == "" {
		browser.Output = "build/public"
	}

	server := &config.Targets.Server
	if server.Command == "" {
		server.Command = "go"
		if len(server.Args) == 0 {
			server.Args = []string{"build", "-o", "build/server", "./src/server"}
		}
	}
	if server.Output == "" {
		server.Output = "build"
	}
}

// Resolve returns p relative to the project root unless it is absolute.
func (c *Config) Resolve(p string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}
	return filepath.Join(c.Paths.Root, p)
}

// SourceDir is the live project source tree.
func (c *Config) SourceDir() string { return c.Resolve(c.Paths.Source) }

// PublicDir is the live public assets tree.
func (c *Config) PublicDir() string { return c.Resolve(c.Paths.Public) }

// StagingDir is the root of the staging tree.
func (c *Config) StagingDir() string { return c.Resolve(c.Paths.Staging) }

// StagingSourceDir is where source and runtime files are staged.
func (c *Config) StagingSourceDir() string { return filepath.Join(c.StagingDir(), "src") }

// StagingPublicDir is where public assets are staged.
func (c *Config) StagingPublicDir() string { return filepath.Join(c.StagingDir(), "public") }

// ManifestPath is the stale build manifest removed at session start.
func (c *Config) ManifestPath() string { return c.Resolve(c.Paths.Manifest) }

// ResolvePort applies the port precedence: a numeric PORT environment value
// plus one, then the configured port, then DefaultPort. A config port of 0
// means unset. An env value whose successor is not a valid TCP port is
// ignored.
func ResolvePort(envPort string, configPort int) int {
	if v := strings.TrimSpace(envPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < 65535 {
			return n + 1
		}
	}
	if configPort != 0 {
		return configPort
	}
	return DefaultPort
}

// validateConfig validates configuration values for security and correctness
func validateConfig(config *Config) error {
	if err := validateServerConfig(&config.Server); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := validatePathsConfig(&config.Paths); err != nil {
		return fmt.Errorf("paths config: %w", err)
	}

	if err := validateTarget("browser", &config.Targets.Browser); err != nil {
		return fmt.Errorf("targets config: %w", err)
	}
	if err := validateTarget("server", &config.Targets.Server); err != nil {
		return fmt.Errorf("targets config: %w", err)
	}

	return nil
}

func validateServerConfig(config *ServerConfig) error {
	if config.Port < 0 || config.Port > 65535 {
		return fmt.Errorf("port %d is not in valid range 0-65535", config.Port)
	}

	if config.Host != "" {
		dangerousChars := []string{";", "&", "|", "$", "`", "(", ")", "<", ">", "\"", "'", "\\"}
		for _, char := range dangerousChars {
			if strings.Contains(config.Host, char) {
				return fmt.Errorf("host contains dangerous character: %s", char)
			}
		}
	}

	return nil
}

func validatePathsConfig(config *PathsConfig) error {
	named := map[string]string{
		"source":   config.Source,
		"public":   config.Public,
		"staging":  config.Staging,
		"manifest": config.Manifest,
	}
	for name, p := range named {
		if err := validatePath(p); err != nil {
			return fmt.Errorf("invalid %s path '%s': %w", name, p, err)
		}
	}
	if config.Runtime != "" {
		if err := validatePath(config.Runtime); err != nil {
			return fmt.Errorf("invalid runtime path '%s': %w", config.Runtime, err)
		}
	}

	return checkStagingOverlap(config)
}

// checkStagingOverlap rejects layouts where staging would copy into itself:
// staging equal to or inside source or public, or source inside staging.
func checkStagingOverlap(paths *PathsConfig) error {
	resolve := func(p string) string {
		if !filepath.IsAbs(p) {
			p = filepath.Join(paths.Root, p)
		}
		if abs, err := filepath.Abs(p); err == nil {
			return abs
		}
		return filepath.Clean(p)
	}

	source := resolve(paths.Source)
	public := resolve(paths.Public)
	staging := resolve(paths.Staging)

	if within(source, staging) {
		return fmt.Errorf("staging path '%s' must not be inside source path '%s'", paths.Staging, paths.Source)
	}
	if within(staging, source) {
		return fmt.Errorf("source path '%s' must not be inside staging path '%s'", paths.Source, paths.Staging)
	}
	if within(public, staging) {
		return fmt.Errorf("staging path '%s' must not be inside public path '%s'", paths.Staging, paths.Public)
	}
	return nil
}

// within reports whether child is parent or lies below it.
func within(parent, child string) bool {
	rel, err := filepath.Rel(parent, child)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// CheckLayout reports whether the resolved source, public and staging trees
// overlap in a way that would make staging copy into itself.
func (c *Config) CheckLayout() error {
	return checkStagingOverlap(&c.Paths)
}

func validateTarget(name string, spec *TargetSpec) error {
	if spec.Command == "" {
		return fmt.Errorf("%s target has no command", name)
	}
	if spec.Output != "" {
		if err := validatePath(spec.Output); err != nil {
			return fmt.Errorf("%s target output: %w", name, err)
		}
	}
	for key := range spec.Env {
		if err := validation.ValidateEnvName(key); err != nil {
			return fmt.Errorf("%s target env: %w", name, err)
		}
	}
	return nil
}

func validatePath(path string) error {
	return validation.ValidatePath(path)
}
