package main

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"tarun-kavipurapu/p2p-share/peer"
	"tarun-kavipurapu/p2p-share/pkg/logger"
	"tarun-kavipurapu/p2p-share/pkg/protocol"

	"github.com/c-bata/go-prompt"
	"github.com/spf13/cobra"
)

var (
	sharedDir    string
	downloadDir  string
	listenPort   int
	showProgress bool
)

var peerCmd = &cobra.Command{
	Use:   "peer <registry_host> <registry_port> <peer_id>",
	Short: "Start a peer and its interactive shell",
	Args: func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(3)(cmd, args); err != nil {
			return err
		}
		if port, err := strconv.Atoi(args[1]); err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid registry port %q", args[1])
		}
		if _, err := protocol.ParsePeerID(args[2]); err != nil {
			return fmt.Errorf("invalid peer id %q: %w", args[2], err)
		}
		return nil
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		cmd.SilenceUsage = true

		id, _ := protocol.ParsePeerID(args[2])
		cfg := peer.Config{
			RegistryAddr: net.JoinHostPort(args[0], args[1]),
			PeerID:       id,
			SharedDir:    sharedDir,
			DownloadDir:  downloadDir,
			ListenAddr:   net.JoinHostPort("0.0.0.0", strconv.Itoa(listenPort)),
		}
		if showProgress {
			cfg.Progress = os.Stdout
		}
		logger.Sugar.Infof("Starting peer %s, registry %s", id, cfg.RegistryAddr)

		p := peer.NewPeerServer(cfg)
		if err := p.Start(); err != nil {
			return err
		}

		shell := peer.NewShell(p, os.Stdout, func(label string) string {
			return prompt.Input(label, noCompletion)
		})

		fmt.Printf("P2P Peer %s serving %s on %s\n", id, sharedDir, p.FileServerAddr())
		fmt.Println("Type 'HELP' for commands.")

		prompt.New(
			func(in string) {
				if !shell.Execute(in) {
					fmt.Println("Stopping peer...")
					if err := p.Close(); err != nil {
						logger.Sugar.Errorf("[Peer] close: %v", err)
					}
					logger.Sync()
					os.Exit(0)
				}
			},
			peerCompleter,
			prompt.OptionPrefix("peer> "),
			prompt.OptionTitle("P2P Peer Node"),
		).Run()
		return p.Close()
	},
}

func peerCompleter(d prompt.Document) []prompt.Suggest {
	return prompt.FilterHasPrefix(peer.Commands, d.GetWordBeforeCursor(), true)
}

func noCompletion(prompt.Document) []prompt.Suggest {
	return nil
}

func init() {
	rootCmd.AddCommand(peerCmd)
	peerCmd.Flags().StringVarP(&sharedDir, "shared", "s", "./SharedFiles", "Directory to publish and serve")
	peerCmd.Flags().StringVarP(&downloadDir, "out", "o", ".", "Directory fetched files are written to")
	peerCmd.Flags().IntVarP(&listenPort, "listen-port", "l", 0, "Port to serve FETCH on (0 picks a free port)")
	peerCmd.Flags().BoolVar(&showProgress, "progress", false, "Show a live progress line while fetching")
}
