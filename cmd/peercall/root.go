package main

import (
	"fmt"
	"os"

	"peercall/pkg/config"

	"github.com/spf13/cobra"
)

const (
	transportPush = "push"
	transportPoll = "poll"
)

var (
	flagServer    string
	flagTransport string
	flagConfig    string
	flagLogLevel  string
	flagNoAudio   bool
	flagNoVideo   bool
)

var rootCmd = &cobra.Command{
	Use:   "peercall",
	Short: "One-to-one WebRTC calls negotiated through a PeerCall signaling server",
	Long: `peercall creates or joins a two-party call room. Offers, answers and ICE
candidates travel through the signaling server, either pushed over a websocket
or stored and polled over HTTP. Media and chat flow peer to peer.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		switch flagTransport {
		case transportPush, transportPoll:
			return nil
		}
		return fmt.Errorf("unknown transport %q, want %s or %s", flagTransport, transportPush, transportPoll)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagServer, "server", "s", "http://localhost:3001", "signaling server base URL")
	rootCmd.PersistentFlags().StringVarP(&flagTransport, "transport", "t", transportPush, "signaling transport: push or poll")
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "", "config file for ICE servers and signaling timings")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "log level written to stderr")
	rootCmd.PersistentFlags().BoolVar(&flagNoAudio, "no-audio", false, "do not open a microphone track")
	rootCmd.PersistentFlags().BoolVar(&flagNoVideo, "no-video", false, "do not open a camera track")

	rootCmd.AddCommand(createCmd, joinCmd, askCmd)
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	if flagConfig == "" {
		return config.Load("")
	}
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", flagConfig, err)
	}
	return cfg, nil
}
