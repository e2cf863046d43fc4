package main

import (
	"context"
	"fmt"
	"net"
	"time"

	"tarun-kavipurapu/p2p-share/pkg/discovery"

	"github.com/spf13/cobra"
)

var discoverTimeout time.Duration

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find registries advertised on the local network",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		resolver, err := discovery.NewResolver()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), discoverTimeout)
		defer cancel()

		found, err := resolver.Browse(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Browsing for registries (%s)...\n", discoverTimeout)
		seen := make(map[string]bool)
		for reg := range found {
			endpoint := reg.Endpoint()
			if seen[endpoint] {
				continue
			}
			seen[endpoint] = true
			host, port, err := net.SplitHostPort(endpoint)
			if err != nil {
				continue
			}
			fmt.Printf("- %s at %s\n  p2p-share peer %s %s <peer_id>\n", reg.InstanceName, endpoint, host, port)
		}
		if len(seen) == 0 {
			fmt.Println("No registries found.")
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(discoverCmd)
	discoverCmd.Flags().DurationVarP(&discoverTimeout, "timeout", "t", 3*time.Second, "How long to browse")
}
