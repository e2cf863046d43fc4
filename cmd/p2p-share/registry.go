package main

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	centralserver "tarun-kavipurapu/p2p-share/central-server"
	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/monitor"

	"github.com/c-bata/go-prompt"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	registryHost     string
	registryPort     int
	advertise        bool
	advertiseName    string
	prune            bool
	metricsInterval  time.Duration
	registryInteract bool
)

var registryCmd = &cobra.Command{
	Use:     "registry",
	Aliases: []string{"server"},
	Short:   "Start the registry",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if registryPort <= 0 || registryPort > 65535 {
			return fmt.Errorf("invalid port %d", registryPort)
		}
		cmd.SilenceUsage = true

		addr := net.JoinHostPort(registryHost, strconv.Itoa(registryPort))
		logger.Sugar.Infof("Starting registry on %s", addr)

		var opts []centralserver.Option
		if prune {
			opts = append(opts, centralserver.WithPruneOnDisconnect())
		}
		if advertise {
			opts = append(opts, centralserver.WithAdvertise(advertiseName))
		}
		server := centralserver.NewCentralServer(addr, opts...)

		if err := server.Listen(); err != nil {
			return err
		}

		if metricsInterval > 0 {
			stop := make(chan struct{})
			defer close(stop)
			go monitor.Global.LogPeriodic(metricsInterval, stop)
		}

		if !registryInteract {
			server.Serve()
			return nil
		}

		go server.Serve()

		fmt.Printf("P2P Registry listening on %s\n", server.Addr())
		fmt.Println("Type 'help' for commands.")

		p := prompt.New(
			func(in string) { registryExecutor(in, server) },
			registryCompleter,
			prompt.OptionPrefix("registry> "),
			prompt.OptionTitle("P2P Registry"),
		)
		p.Run()
		return server.Stop()
	},
}

func registryExecutor(in string, server *centralserver.CentralServer) {
	in = strings.TrimSpace(in)
	blocks := strings.Fields(in)
	if len(blocks) == 0 {
		return
	}

	switch blocks[0] {
	case "exit", "quit":
		fmt.Println("Stopping registry...")
		if err := server.Stop(); err != nil {
			logger.Sugar.Errorf("[Registry] stop: %v", err)
		}
		logger.Sync()
		os.Exit(0)
	case "status":
		fmt.Print(server.GetStatus())
		fmt.Printf("Started: %s\n", humanize.Time(monitor.Global.ServerStart))
	case "list":
		if len(blocks) < 2 {
			fmt.Println("Usage: list peers | list files")
			return
		}
		switch blocks[1] {
		case "peers":
			peers := server.GetPeersList()
			if len(peers) == 0 {
				fmt.Println("No peers joined.")
				return
			}
			fmt.Println("Joined Peers:")
			for _, p := range peers {
				fmt.Println("- " + p)
			}
		case "files":
			files := server.Files()
			if len(files) == 0 {
				fmt.Println("No files indexed.")
				return
			}
			fmt.Println("Indexed Files:")
			for _, f := range files {
				fmt.Printf("- %s (peer %s, %s)\n", f.Name, f.Owner, humanize.Time(f.PublishedAt))
			}
		default:
			fmt.Println("Usage: list peers | list files")
		}
	case "help":
		fmt.Println("Available commands:")
		fmt.Println("  status       - Show registry status")
		fmt.Println("  list peers   - List joined peers")
		fmt.Println("  list files   - List indexed files and their owners")
		fmt.Println("  exit         - Stop registry and exit")
	default:
		fmt.Println("Unknown command: " + blocks[0])
	}
}

func registryCompleter(d prompt.Document) []prompt.Suggest {
	s := []prompt.Suggest{
		{Text: "status", Description: "Show registry status and stats"},
		{Text: "list peers", Description: "List joined peers"},
		{Text: "list files", Description: "List indexed files"},
		{Text: "exit", Description: "Exit the registry"},
		{Text: "help", Description: "Show help"},
	}
	return prompt.FilterHasPrefix(s, d.GetWordBeforeCursor(), true)
}

func init() {
	rootCmd.AddCommand(registryCmd)
	registryCmd.Flags().StringVar(&registryHost, "host", "0.0.0.0", "IPv4 address to listen on")
	registryCmd.Flags().IntVarP(&registryPort, "port", "p", 5432, "Port to listen on")
	registryCmd.Flags().BoolVar(&advertise, "advertise", false, "Advertise the registry over mDNS")
	registryCmd.Flags().StringVar(&advertiseName, "name", "", "mDNS instance name (defaults to p2p-registry-<hostname>)")
	registryCmd.Flags().BoolVar(&prune, "prune", false, "Remove a peer's files when it disconnects")
	registryCmd.Flags().DurationVar(&metricsInterval, "metrics-interval", 0, "Log metrics at this interval (0 disables)")
	registryCmd.Flags().BoolVarP(&registryInteract, "interactive", "i", false, "Start in interactive mode")
}
