package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/RazmikUnanyan/razmik-chat/internal/config"
	"github.com/RazmikUnanyan/razmik-chat/internal/relay"
	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/ui"
)

var flagRoomsRelayURL string

var roomsCmd = &cobra.Command{
	Use:   "rooms",
	Short: "List the rooms open on a relay",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := LoadConfig("razmik-rooms", config.Options{RelayURL: flagRoomsRelayURL})
		if err != nil {
			return err
		}

		snap, err := fetchRooms(cmd.Context(), cfg.RelayHTTPURL()+"/rooms")
		if err != nil {
			return err
		}
		ui.RenderRooms(snap)
		return nil
	},
}

func fetchRooms(ctx context.Context, endpoint string) (relay.Snapshot, error) {
	var snap relay.Snapshot

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return snap, rendezvous.NewError("list rooms", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return snap, rendezvous.WrapError("list rooms", rendezvous.ErrRelayUnreachable, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, rendezvous.WrapError("list rooms", rendezvous.ErrRelayUnreachable, fmt.Sprintf("status %s", resp.Status))
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, rendezvous.NewError("decode rooms", err)
	}
	return snap, nil
}

func init() {
	rootCmd.AddCommand(roomsCmd)

	roomsCmd.Flags().StringVar(&flagRoomsRelayURL, "relay", "", "Relay websocket URL (default "+config.DefaultRelayURL+")")
}
