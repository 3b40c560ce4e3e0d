package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"learnsync/internal/config"
	"learnsync/internal/logger"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const shutdownTimeout = 30 * time.Second

var (
	configPath string

	rootCmd = &cobra.Command{
		Use:           "learnsync",
		Short:         "Real-time progress sync client",
		Long:          `learnsync keeps a learner's xp, level, streak and leaderboard in sync over WebSocket channels and runs persistent focus and quiz timers.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of learnsync",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "learnsync version %s\n", version)
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", os.Getenv("LEARNSYNC_CONFIG_FILE"), "path to a JSON configuration file")
	rootCmd.AddCommand(versionCmd, watchCmd, focusCmd, quizStatusCmd, mockServerCmd)
}

// loadConfig resolves configuration as file > environment > defaults and
// builds the logger it describes.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.LoadConfigWithPrecedence(configPath)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.NewLogger(cfg.Logger)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create logger: %w", err)
	}
	return cfg, log, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
