package main

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/srg/bleready/pkg/config"
)

// configureLogger creates a logger from the --log-level and --verbose flags,
// falling back to the configured level. --log-level takes precedence.
func configureLogger(cmd *cobra.Command, cfg *config.Config) (*logrus.Logger, error) {
	level := cfg.LogLevel
	if l, _ := cmd.Flags().GetString("log-level"); l != "" {
		level = l
	} else if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		level = "debug"
	}

	effective := *cfg
	effective.LogLevel = level
	return effective.NewLogger()
}
