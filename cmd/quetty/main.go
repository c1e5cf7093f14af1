// Package main is quetty's entry point: a cobra root command that
// launches the TUI by default and exposes profile/auth/config
// subcommands for scripted use (spec §4.9, §6.3).
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	profileName string
	configPath  string
	verbose     bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "quetty",
	Short: "A terminal client for Azure Service Bus queues",
	Long: `quetty browses, inspects, and bulk-manages Azure Service Bus
queues from the terminal. Run without a subcommand to launch the
interactive browser; use the profile/auth/config subcommands for
scripted setup.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		built, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		logger = built
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runBrowse,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&profileName, "profile", "p", "default", "Named profile to load")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Explicit config.toml path overriding the profile's own")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(profileCmd, authCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
