// Package cmd implements the CLI commands for digwatch.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/digwatch/internal/config"
	"github.com/jmylchreest/digwatch/internal/observability"
	"github.com/jmylchreest/digwatch/internal/pipeline"
	"github.com/jmylchreest/digwatch/internal/version"
)

// cfgFile holds the config file path from the CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "digwatch",
	Short:   "Excavator work-cycle analysis from video",
	Version: version.Short(),
	Long: `digwatch analyzes excavator videos into work cycles: frames are sampled
from the source, classified by a vision model into activities (digging,
swinging, dumping, idle), and assembled into timed dig-swing-dump-return
cycles with statistics and a rendered report.

It runs one-shot from the command line, or as a server with a REST API
and an inbox watcher that picks up new videos automatically.`,
	// PersistentPreRunE is set in init() to avoid an initialization cycle.
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Set PersistentPreRunE here to avoid an initialization cycle
	// (initLogging references rootCmd.PersistentFlags).
	rootCmd.PersistentPreRunE = func(_ *cobra.Command, _ []string) error {
		return initLogging()
	}

	// Global flags.
	// These are NOT bound to viper. They are applied only when explicitly
	// set, preserving the priority: CLI flag > env var > config > default.
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default searches ., ./configs, /etc/digwatch, $HOME/.digwatch)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json, console)")
}

// initConfig primes the global viper instance with defaults, the config
// file, and DIGWATCH_ environment variables. Commands that need the full
// validated configuration call loadConfig instead; the global viper exists
// so logging can be configured before any command runs.
func initConfig() {
	config.SetDefaults(viper.GetViper())

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("digwatch")
		viper.SetConfigType("toml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("./configs")
		viper.AddConfigPath("/etc/digwatch")
		viper.AddConfigPath("$HOME/.digwatch")
	}

	viper.SetEnvPrefix("DIGWATCH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// initLogging configures the default slog logger.
//
// Priority order (highest to lowest):
//  1. CLI flags (--log-level, --log-format), only if explicitly provided
//  2. Environment variables (DIGWATCH_LOGGING_LEVEL, DIGWATCH_LOGGING_FORMAT)
//  3. Config file values
//  4. Built-in defaults (info, json)
func initLogging() error {
	level := viper.GetString("logging.level")
	format := viper.GetString("logging.format")

	// Override with CLI flags only when explicitly set. Binding the flags
	// to viper would make the flag default shadow env and config values.
	if rootCmd.PersistentFlags().Changed("log-level") {
		level, _ = rootCmd.PersistentFlags().GetString("log-level")
	}
	if rootCmd.PersistentFlags().Changed("log-format") {
		format, _ = rootCmd.PersistentFlags().GetString("log-format")
	}

	if level == "" {
		level = "info"
	}
	if format == "" {
		format = "json"
	}

	logCfg := config.LoggingConfig{
		Level:      strings.ToLower(level),
		Format:     strings.ToLower(format),
		AddSource:  viper.GetBool("logging.add_source"),
		TimeFormat: viper.GetString("logging.time_format"),
	}
	if logCfg.Level == "warning" {
		logCfg.Level = "warn"
	}

	logger := observability.NewLoggerWithWriter(logCfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName, version.Version)
	observability.SetDefault(logger)

	return nil
}

// loadConfig reads and validates the full configuration. Failures map to
// the configuration exit code.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, pipeline.NewConfigurationError("config", err.Error())
	}
	return cfg, nil
}
