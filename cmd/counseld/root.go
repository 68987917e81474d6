package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ai-counsel/counsel/internal/config"
	"github.com/ai-counsel/counsel/internal/log"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "counseld",
	Short: "AI Counsel deliberation daemon",
	Long:  "counseld wires adapters, the decision graph, and the deliberation engine behind the control-plane verbs deliberate and query_decisions.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./counsel.yaml)")
	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig loads and applies the configured log level, matching the
// teacher's cobra.OnInitialize(initConfig) pattern but invoked
// explicitly per-command instead of globally, since counseld has only
// one command that needs full wiring.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if err := log.Init(cfg.LogLevel, true); err != nil {
		return nil, fmt.Errorf("counseld: init logging: %w", err)
	}
	return cfg, nil
}
