package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/RazmikUnanyan/razmik-chat/internal/ui"
	"github.com/RazmikUnanyan/razmik-chat/internal/version"
)

var (
	flagConfigPath string
	flagEnvFile    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "razmik",
	Short: "Peer-to-peer video rooms over WebRTC with a tiny signaling relay",
	Long: `razmik connects two participants into a direct audio/video session.

Both sides run "razmik join <room-id>". The first to arrive hosts the room,
the second dials the host. Media never passes through the relay; the relay
only forwards the negotiation messages of each room.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		ui.PrintError(err.Error())
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "YAML config file (default $CONFIG_PATH)")
	rootCmd.PersistentFlags().StringVar(&flagEnvFile, "env-file", "", "dotenv file to load (default .env)")
}
