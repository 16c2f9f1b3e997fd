package cmd

import (
	"github.com/spf13/cobra"

	"github.com/RazmikUnanyan/razmik-chat/internal/config"
	"github.com/RazmikUnanyan/razmik-chat/internal/relay"
	"github.com/RazmikUnanyan/razmik-chat/internal/ui"
)

var flagRelayAddr string

var relayCmd = &cobra.Command{
	Use:   "relay",
	Short: "Run the signaling relay",
	Long: `Run the rendezvous relay that participants connect to.

Endpoints:
  GET /ws      websocket for participants
  GET /health  liveness probe
  GET /rooms   JSON snapshot of open rooms`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig("razmik-relay", config.Options{Addr: flagRelayAddr})
		if err != nil {
			return err
		}

		ui.PrintInfof("Relay listening on %s", cfg.Addr)
		srv := relay.NewServer(cfg.Addr, cfg.AllowedOrigins)
		return srv.Serve(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(relayCmd)

	relayCmd.Flags().StringVar(&flagRelayAddr, "addr", "", "Listen address (default "+config.DefaultAddr+")")
}
