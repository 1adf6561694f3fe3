package commands

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haivivi/streamx/pkg/cli"
)

var (
	configPath string
	verbose    bool
	logLevel   string
	outputFmt  string
)

var rootCmd = &cobra.Command{
	Use:   "streamx",
	Short: "Multiplexed generation streams",
	Long: `streamx - run, serve and replay bounded, deduplicated generation streams.

Configuration is read from -f or ~/.streamx/config.yaml. ${VAR} references
in the file are expanded from the environment.

Examples:
  # Run 16 synthetic streams through 4 slots
  streamx run -n 16

  # Serve streams over HTTP
  streamx serve --addr :8080
  curl 'localhost:8080/streams?prompt=hello&format=text'

  # Replay a cached stream
  streamx replay greeting --prompt hello`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		slog.SetDefault(newLogger())
		if _, err := cli.ParseOutputFormat(outputFmt); err != nil {
			return err
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "file", "f", "", "config file (default ~/.streamx/config.yaml)")
	pf.BoolVarP(&verbose, "verbose", "v", false, "verbose output, implies --log-level debug")
	pf.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	pf.StringVarP(&outputFmt, "output", "o", "text", "output format: text, yaml, json")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func outputOptions() cli.OutputOptions {
	f, _ := cli.ParseOutputFormat(outputFmt)
	return cli.OutputOptions{Format: f}
}

func loadConfig() (*cli.Config, error) {
	cfg, err := cli.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
