package main

import (
	"github.com/spf13/cobra"

	"github.com/microcore-linux/ext-composer/internal/fetcher"
)

// createFetchCommand creates the fetch subcommand
func createFetchCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch NAME...",
		Short: "Download extensions with their dependencies and verify checksums",
		Long: `Fetch resolves each named extension through its dependency
descriptor, downloads every required archive with its dependency and
checksum sidecars, and verifies the checksums. Already present archives
are skipped. Problems with individual packages are recorded in the fetch
journal without stopping the batch.`,
		Args: cobra.MinimumNArgs(1),
		RunE: executeFetch,
	}
}

func executeFetch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	f, err := fetcher.New(cfg)
	if err != nil {
		return err
	}
	defer f.Close()

	_, err = f.Run(args)
	return err
}
