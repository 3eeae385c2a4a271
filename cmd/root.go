// Package cmd provides the command-line interface for stagehand with
// configuration management supporting multiple configuration sources.
//
// Configuration System:
//
//	Configuration is resolved from several sources with clear precedence:
//	1. Command-line flags (--port, --src, etc.) - highest priority
//	2. Individual environment variables (STAGEHAND_SERVER_PORT, etc.)
//	3. Configuration file: --config, then STAGEHAND_CONFIG_FILE, then .stagehand.yml
//	4. Built-in defaults - lowest priority
//
// A .env file in the working directory is loaded before anything else, so
// PORT and STAGEHAND_* variables may live there.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/stagehand/internal/config"
	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/logging"
)

var (
	cfgFile string

	// configErr records a configuration file that exists but could not be
	// read. It is reported when a command loads the configuration.
	configErr error
)

// envKeys are the scalar configuration keys that STAGEHAND_* variables can
// set without a matching entry in the configuration file.
var envKeys = []string{
	"paths.root",
	"paths.source",
	"paths.public",
	"paths.staging",
	"paths.manifest",
	"paths.runtime",
	"server.host",
	"server.port",
	"inspect",
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "stagehand",
	Short: "Development orchestrator for dual browser and server builds",
	Long: `stagehand stages your project into an isolated working tree, runs a browser
and a server compiler in watch mode, serves the browser bundle with live
reload and mirrors every source edit into the staging tree.

Quick Start:
  stagehand dev                 Start a development session
  stagehand config              Show the resolved configuration
  stagehand version             Show version information

Command Aliases:
  dev (start, s)`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .stagehand.yml, can also use STAGEHAND_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig initializes the configuration system.
//
// Configuration file priority (highest to lowest):
//  1. --config flag
//  2. STAGEHAND_CONFIG_FILE environment variable
//  3. .stagehand.yml in the current directory
//
// A missing default file is fine. A file that exists but cannot be parsed,
// or an explicitly named file that cannot be read, is recorded in configErr.
func initConfig() {
	// Missing .env is not an error.
	_ = godotenv.Load()

	explicit := true
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("STAGEHAND_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		explicit = false
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".stagehand")
	}

	viper.SetEnvPrefix("STAGEHAND")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	for _, key := range envKeys {
		_ = viper.BindEnv(key)
	}

	configErr = nil
	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); notFound && !explicit {
			return
		}
		path := viper.ConfigFileUsed()
		if path == "" {
			path = ".stagehand.yml"
		}
		configErr = errors.ErrInvalidConfig(path, err)
		return
	}

	fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
}

// loadConfig resolves the configuration for a command. Every failure is a
// fatal configuration error.
func loadConfig() (*config.Config, error) {
	if configErr != nil {
		return nil, configErr
	}

	cfg, err := config.Load()
	if err != nil {
		path := viper.ConfigFileUsed()
		if path == "" {
			path = "configuration"
		}
		return nil, errors.ErrInvalidConfig(path, err)
	}
	return cfg, nil
}

// newLogger builds the session logger from the persistent log flags.
func newLogger(cmd *cobra.Command) (logging.Logger, error) {
	bindFlags(cmd, map[string]string{"log-level": "log-level", "log-format": "log-format"})

	level, err := logging.ParseLevel(viper.GetString("log-level"))
	if err != nil {
		return nil, err
	}

	format := viper.GetString("log-format")
	if format != "text" && format != "json" {
		return nil, fmt.Errorf("unsupported log format: %s (supported: text, json)", format)
	}

	logConfig := logging.DefaultConfig()
	logConfig.Level = level
	logConfig.Format = format
	logConfig.Output = cmd.ErrOrStderr()
	return logging.NewLogger(logConfig), nil
}
