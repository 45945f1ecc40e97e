// Package cli implements the upack command line.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	slogcontext "github.com/veqryn/slog-context"

	_ "github.com/git-pkgs/upack/internal/dirfeed"
	_ "github.com/git-pkgs/upack/internal/upackfeed"
)

var (
	configPath string
	outputJSON bool
	logLevel   string
	logFormat  string
)

// Execute runs the root command until ctx is done.
func Execute(ctx context.Context) int {
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "upack",
		Short:             "Deploy universal packages from feeds to directories",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default $UPACK_CONFIG or the user config dir)")
	cmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "Output machine-readable JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "loglevel", "warn", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "logformat", "text", "Log format (text, json)")

	cmd.AddCommand(newDeployCmd())
	cmd.AddCommand(newDriftCmd())
	cmd.AddCommand(newVersionsCmd())
	cmd.AddCommand(newListCmd())
	cmd.AddCommand(newPackCmd())
	cmd.AddCommand(newPushCmd())

	return cmd
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	logger, err := baseLogger(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(slogcontext.NewCtx(ctx, logger))
	return nil
}

func baseLogger(cmd *cobra.Command) (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("invalid log level: %s", logLevel)
	}

	opts := &slog.HandlerOptions{Level: level}
	switch logFormat {
	case "json":
		return slog.New(slog.NewJSONHandler(cmd.ErrOrStderr(), opts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), opts)), nil
	default:
		return nil, fmt.Errorf("invalid log format: %s", logFormat)
	}
}
