// ext-composer fetches squashfs extension packages from a release mirror
// and remasters bootable live images with them baked in.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/microcore-linux/ext-composer/internal/config"
	"github.com/microcore-linux/ext-composer/internal/utils/logger"
)

var (
	configFile string
	logLevel   string
)

// createRootCommand creates the root command with all subcommands attached
func createRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "ext-composer",
		Short:         "Extension fetcher and live image remaster tool",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_ = cmd.Usage()
			return fmt.Errorf("a subcommand is required")
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Path to the YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "",
		"Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false,
		"Shorthand for --log-level debug")

	rootCmd.AddCommand(createFetchCommand())
	rootCmd.AddCommand(createRemasterCommand())
	rootCmd.AddCommand(createInfoCommand())
	rootCmd.AddCommand(createLogCommand())

	attachLoggingHooks(rootCmd)
	return rootCmd
}

// attachLoggingHooks wires logger setup into every subcommand so the
// level flags take effect before any RunE executes.
func attachLoggingHooks(root *cobra.Command) {
	for _, cmd := range root.Commands() {
		cmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
			level := resolveRequestedLogLevel(cmd)
			if level == "" {
				level = "info"
			}
			return logger.Setup(level)
		}
	}
}

// resolveRequestedLogLevel picks the explicit --log-level value when set,
// falling back to debug when --verbose was given.
func resolveRequestedLogLevel(cmd *cobra.Command) string {
	if logLevel != "" {
		return logLevel
	}
	if cmd == nil {
		return ""
	}
	if verbose, err := cmd.Flags().GetBool("verbose"); err == nil && verbose {
		return "debug"
	}
	return ""
}

// loadConfig reads the configured file, or defaults when none was given.
func loadConfig() (*config.GlobalConfig, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func main() {
	if err := createRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
