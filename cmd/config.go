package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/conneroisu/stagehand/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect stagehand configuration",
	Long: `Inspect the stagehand configuration resolved from flags, STAGEHAND_*
environment variables, the configuration file and built-in defaults.

Examples:
  stagehand config                      # Show the resolved configuration
  stagehand config show                 # Same as above
  stagehand config show --format json   # Show it as JSON
  stagehand config validate             # Check the configuration file`,
	RunE: runConfigShow,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runConfigShow,
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE:  runConfigValidate,
}

var configFormat string

func init() {
	rootCmd.AddCommand(configCmd)

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)

	configCmd.PersistentFlags().StringVar(&configFormat, "format", "yaml", "Output format (yaml, json)")
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return reportFatal(cmd, err)
	}

	switch configFormat {
	case "yaml", "yml":
		return showConfigYAML(cmd, cfg)
	case "json":
		encoder := json.NewEncoder(cmd.OutOrStdout())
		encoder.SetIndent("", "  ")
		return encoder.Encode(cfg)
	default:
		return fmt.Errorf("unsupported format: %s (supported: yaml, json)", configFormat)
	}
}

func showConfigYAML(cmd *cobra.Command, cfg *config.Config) error {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "# Resolved from all sources (flags, env vars, file, defaults)")

	encoder := yaml.NewEncoder(out)
	encoder.SetIndent(2)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode configuration: %w", err)
	}
	return encoder.Close()
}

func runConfigValidate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return reportFatal(cmd, err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Configuration is valid (source %s, staging %s)\n", cfg.SourceDir(), cfg.StagingDir())
	return nil
}
