package main

import (
	"github.com/spf13/cobra"

	"github.com/microcore-linux/ext-composer/internal/remaster"
)

// createRemasterCommand creates the remaster subcommand
func createRemasterCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "remaster",
		Short: "Rebuild a bootable image with extensions baked into its rootfs",
		Long: `Remaster extracts the configured base image, unpacks its
compressed root filesystem, fetches and overlays the configured
extensions, installs the optional startup script, then repacks the
rootfs and authors a new bootable image. The pipeline aborts on the
first failure.`,
		Args: cobra.NoArgs,
		RunE: executeRemaster,
	}
}

func executeRemaster(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	b, err := remaster.NewBuilder(cfg)
	if err != nil {
		return err
	}
	return b.Run()
}
