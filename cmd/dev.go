package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/stagehand/internal/errors"
	"github.com/conneroisu/stagehand/internal/session"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"start", "s"},
	Short:   "Start a development session",
	Long: `Stage the project, start the server and browser compilers in watch mode,
serve the browser bundle with live reload and mirror source edits into the
staging tree until interrupted.

The dev server listens on PORT+1 when the PORT environment variable is set,
otherwise on server.port, otherwise on 3001.

Examples:
  stagehand dev                    # Start with the resolved configuration
  stagehand dev --port 8080        # Serve on a specific port
  stagehand dev --src app/src      # Use a different source directory
  stagehand dev --inspect          # Enable inspection for the server target`,
	RunE: runDev,
}

// devFlagBindings maps dev flags to configuration keys.
var devFlagBindings = map[string]string{
	"root":    "paths.root",
	"src":     "paths.source",
	"public":  "paths.public",
	"staging": "paths.staging",
	"host":    "server.host",
	"port":    "server.port",
	"inspect": "inspect",
}

func init() {
	rootCmd.AddCommand(devCmd)

	devCmd.Flags().String("root", "", "Project root directory (default is the working directory)")
	devCmd.Flags().String("src", "", "Source directory relative to the root (default src)")
	devCmd.Flags().String("public", "", "Public asset directory relative to the root (default public)")
	devCmd.Flags().String("staging", "", "Staging directory relative to the root (default .stagehand)")
	devCmd.Flags().String("host", "", "Host to bind the dev server to (default localhost)")
	devCmd.Flags().IntP("port", "p", 0, "Port to serve on when PORT is not set")
	devCmd.Flags().Bool("inspect", false, "Enable inspection for the server target")

	AddFlagValidation(devCmd, "port", ValidatePort)
}

func runDev(cmd *cobra.Command, args []string) error {
	bindFlags(cmd, devFlagBindings)

	cfg, err := loadConfig()
	if err != nil {
		return reportFatal(cmd, err)
	}

	logger, err := newLogger(cmd)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := session.New(cfg, session.Options{Logger: logger})
	if err := s.Run(ctx); err != nil {
		return reportFatal(cmd, err)
	}
	return nil
}

// reportFatal prints the remediation hint of a fatal error, if any, before
// the error is returned to cobra.
func reportFatal(cmd *cobra.Command, err error) error {
	if hint := errors.HintOf(err); hint != "" {
		fmt.Fprintln(cmd.ErrOrStderr(), hint)
	}
	return err
}

// bindFlags binds the named flags of cmd to configuration keys. Binding
// happens per invocation so flag values only take effect for the command
// that declares them.
func bindFlags(cmd *cobra.Command, bindings map[string]string) {
	for flagName, key := range bindings {
		if flag := cmd.Flags().Lookup(flagName); flag != nil {
			_ = viper.BindPFlag(key, flag)
		}
	}
}
