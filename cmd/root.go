package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"mvsynth/config"
	"mvsynth/logger"
)

var (
	cfg         *config.Config
	profilePath string
	verbose     bool
)

var rootCmd = &cobra.Command{
	Use:   "mvsynth",
	Short: "mvsynth turns an audio track into a beat-synchronised music video.",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		cfg = config.Load()
		if profilePath != "" {
			cfg.ProfilePath = profilePath
		}
		level := logger.LogLevel(cfg.LogLevel)
		if verbose {
			level = logger.DebugLevel
		}
		logger.InitLogger(logger.Config{
			Level:      level,
			OutputPath: cfg.LogPath,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
			Console:    true,
		})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Sync()
	},
}

// Execute executes the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&profilePath, "profile", "", "YAML render profile (overrides PROFILE_PATH)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
}
