package main

import (
	"os"

	"tarun-kavipurapu/p2p-share/pkg/logger"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "p2p-share",
	Short: "P2P File Sharing Overlay",
	Long: `A minimal peer-to-peer file sharing overlay. A central registry records
which peer owns which file; peers publish their shared directory, look files
up through the registry and download them directly from each other.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		logger.Sugar.Error(err)
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
