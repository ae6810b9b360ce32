// Package cmd implements the CLI commands for livepackager.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/livepackager/internal/config"
	"github.com/jmylchreest/livepackager/internal/observability"
	"github.com/jmylchreest/livepackager/internal/version"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "livepackager",
	Short:   "Per-segment live media packager",
	Version: version.Short(),
	Long: `livepackager converts fragmented-MP4 media segments into packaged
CMAF, MPEG-2 TS or timed-text output segments, applying optional content
encryption (AES-128, SAMPLE-AES, CENC, CBCS) and DRM signaling.

Each invocation packages a single segment from an init segment and a
media segment; no state is carried between calls.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.livepackager.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		cobra.CheckErr(err)

		viper.AddConfigPath(home)
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".livepackager")
	}

	viper.SetEnvPrefix("LIVEPACKAGER")
	viper.AutomaticEnv()

	// Missing config files are fine; everything has defaults.
	_ = viper.ReadInConfig()
}

// initLogging wires the default slog logger from config and flags. CLI
// flags override config/env values only when explicitly set.
func initLogging() error {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	if f := rootCmd.PersistentFlags().Lookup("log-level"); f != nil && f.Changed {
		cfg.Logging.Level = f.Value.String()
	}
	if f := rootCmd.PersistentFlags().Lookup("log-format"); f != nil && f.Changed {
		cfg.Logging.Format = f.Value.String()
	}

	observability.SetDefault(observability.NewLogger(cfg.Logging))
	return nil
}
