package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/tendant/simple-banners/pkg/simplebanners/config"
)

var (
	configPath string
	verbose    bool
)

// buildComponents is replaced in tests to share one in-memory service across
// invocations.
var buildComponents = func(ctx context.Context, cfg *config.ServerConfig, logger *slog.Logger) (*config.Components, error) {
	return cfg.BuildService(ctx, nil, logger)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bannerctl",
	Short: "bannerctl - manage banner entries and publications",
	Long: `bannerctl operates directly on the banner store configured through
BANNERS_* environment variables or a YAML file passed with --config.

It can seed pages, slots and entries, publish the current entries, duplicate
entries and show what is live.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	FParseErrWhitelist: cobra.FParseErrWhitelist{},
}

// Execute runs the root command. Errors are printed by the commands
// themselves.
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file (defaults to environment only)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log service activity to stderr")
}

func loadConfig() (*config.ServerConfig, error) {
	if configPath != "" {
		return config.LoadFile(configPath)
	}
	return config.Load()
}

func newLogger(w io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// openComponents loads configuration and builds the service for one command.
// The caller must Close the result.
func openComponents(cmd *cobra.Command) (*config.Components, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return buildComponents(cmd.Context(), cfg, newLogger(cmd.ErrOrStderr()))
}
