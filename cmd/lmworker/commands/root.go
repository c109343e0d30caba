// Package commands provides the CLI commands for lmworker.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lm-plugin/worker/internal/config"
	"github.com/lm-plugin/worker/internal/logging"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	printLogs bool
	logLevel  string
	workDir   string
)

var rootCmd = &cobra.Command{
	Use:   "lmworker",
	Short: "lmworker - summarisation worker for a local LLM",
	Long: `lmworker is the background worker of the summarisation plugin. It
accepts commands from a foreground over a websocket, streams replies from
an OpenAI-compatible backend and keeps the session across restarts.

Run 'lmworker serve' to start the worker, 'lmworker send' to drive a
running worker from the terminal, or 'lmworker inspect' to print the
persisted session.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print human-readable logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR), overrides the config")
	rootCmd.PersistentFlags().StringVar(&workDir, "directory", "", "Project directory holding lmworker config files")

	rootCmd.SetVersionTemplate(fmt.Sprintf("lmworker %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(inspectCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// getWorkDir returns the directory from the flag or the current directory.
func getWorkDir() (string, error) {
	if workDir != "" {
		return workDir, nil
	}
	return os.Getwd()
}

// loadSource resolves the configuration for the working directory.
func loadSource() (*config.Source, error) {
	dir, err := getWorkDir()
	if err != nil {
		return nil, err
	}
	return config.NewSource(dir)
}

// initLogging configures the global logger from the flags and cfgLevel.
func initLogging(cfgLevel string, toFile bool) {
	level := cfgLevel
	if logLevel != "" {
		level = logLevel
	}
	cfg := logging.DefaultConfig()
	cfg.Level = logging.ParseLevel(level)
	cfg.Pretty = printLogs
	cfg.LogToFile = toFile
	cfg.LogDir = config.GetPaths().LogPath()
	logging.Init(cfg)
}
