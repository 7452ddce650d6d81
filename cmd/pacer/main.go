package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fentz26/pacer/internal/config"
	"github.com/fentz26/pacer/internal/controlplane"
	"github.com/fentz26/pacer/internal/logging"
)

// version is set at build time via -ldflags.
var version = "0.1.0-dev"

var rootCmd = &cobra.Command{
	Use:   "pacer",
	Short: "pacer - interval workout timer",
	Long: `pacer runs interval workouts. The source daemon keeps the authoritative
timer and publishes it to a widget file and to one watch face. The watch face
mirrors the source and falls back to its own timer when the link drops.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "version" || cmd.Name() == "help" {
			return nil
		}
		return loadConfig()
	},
	// No RunE - defaults to showing help when no subcommand is provided
}

var (
	configPath string
	apiAddr    string
	logLevel   string

	cfg    *config.Config
	logger *slog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultPath(), "Path to config file")
	rootCmd.PersistentFlags().StringVar(&apiAddr, "api", "", "Source API address (defaults to follower.source_url)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level override (debug, info, warn, error)")

	// Add subcommands
	rootCmd.AddCommand(sourceCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(routineCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(workoutsCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() error {
	loaded, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		loaded.Log.Level = logLevel
	}
	cfg = loaded
	if apiAddr == "" {
		apiAddr = cfg.Follower.SourceURL
	}
	apiAddr = strings.TrimRight(apiAddr, "/")

	l, err := logging.New(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format, File: cfg.Log.File})
	if err != nil {
		return err
	}
	logger = l
	controlplane.Version = version
	return nil
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pacer version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("pacer", version)
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
