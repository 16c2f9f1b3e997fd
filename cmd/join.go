package cmd

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/RazmikUnanyan/razmik-chat/internal/config"
	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/ui"
)

var (
	flagJoinRelayURL      string
	flagJoinRetryInterval time.Duration
	flagJoinMaxRetries    int
	flagJoinAudio         string
	flagJoinVideo         string
	flagJoinSTUN          string
	flagJoinTURN          string
	flagJoinTURNUser      string
	flagJoinTURNPass      string
	flagJoinForceRelay    bool
)

var joinCmd = &cobra.Command{
	Use:     "join [room-id|url]",
	Aliases: []string{"j"},
	Short:   "Create or join a room",
	Long: `Enter a room and connect to whoever else is in it.

Without a room id a fresh one is generated; share it with the other side.

Keys: m toggles the microphone, c the camera, r retries after a failure,
q leaves.

Examples:
  razmik join
  razmik join 3f1c9a2e-8d1b-4c55-9a0e-1b2c3d4e5f60
  razmik join standup --relay wss://relay.example.com/ws --video cam.ivf`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var input string
		if len(args) == 1 {
			input = args[0]
		}
		roomID, err := createOrJoinRoom(input)
		if err != nil {
			return err
		}
		return joinRoom(cmd, roomID)
	},
}

// createOrJoinRoom returns the room to enter: the given one, or a new id.
func createOrJoinRoom(input string) (string, error) {
	if strings.TrimSpace(input) == "" {
		return uuid.NewString(), nil
	}
	return parseRoomInput(input)
}

func joinRoom(cmd *cobra.Command, roomID string) error {
	opts := config.Options{
		RelayURL:      flagJoinRelayURL,
		RetryInterval: flagJoinRetryInterval,
		STUNServer:    flagJoinSTUN,
		TURNServer:    flagJoinTURN,
		TURNUser:      flagJoinTURNUser,
		TURNPass:      flagJoinTURNPass,
		ForceRelay:    flagJoinForceRelay,
		AudioFile:     flagJoinAudio,
		VideoFile:     flagJoinVideo,
	}
	if cmd.Flags().Changed("max-retries") {
		opts.MaxRetries = &flagJoinMaxRetries
	}
	cfg, err := LoadConfig("razmik-join", opts)
	if err != nil {
		return err
	}

	ctx := cmd.Context()

	fmt.Println()
	sp := ui.NewConnectionSpinner("Connecting to relay...")
	sp.Start()
	pc, err := NewParticipantContext(ctx, cfg)
	if err != nil {
		sp.Error("Could not reach the relay at " + cfg.RelayURL)
		return err
	}
	sp.Success("Connected to relay")
	defer pc.Close()

	session, err := pc.NewSession(cfg, roomID)
	if err != nil {
		return err
	}

	fmt.Println(ui.RoomBox(roomID))
	if err := session.Start(ctx); err != nil {
		return rendezvous.NewError("start session", err)
	}

	uiErr := ui.RunRoom(session)

	_ = session.Leave()
	select {
	case <-session.Done():
	case <-time.After(3 * time.Second):
	}

	if uiErr != nil {
		return uiErr
	}
	// A session that ended in error reports it even after leaving.
	if err := session.Snapshot().Err; err != nil {
		return err
	}
	ui.PrintSuccess("Left the room.")
	return nil
}

func parseRoomInput(input string) (string, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return "", fmt.Errorf("room ID cannot be empty")
	}

	if strings.Contains(input, "://") {
		roomID, err := extractRoomIDFromURL(input)
		if err != nil {
			return "", err
		}
		ui.PrintSuccessf("Extracted room ID: %s", roomID)
		return roomID, nil
	}

	return input, nil
}

func extractRoomIDFromURL(urlStr string) (string, error) {
	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", rendezvous.NewError("parse URL", err)
	}

	path := strings.TrimSuffix(parsedURL.Path, "/")
	parts := strings.Split(path, "/")

	for i, part := range parts {
		if part == "r" && i+1 < len(parts) && parts[i+1] != "" {
			return parts[i+1], nil
		}
	}
	if room := parsedURL.Query().Get("room"); room != "" {
		return room, nil
	}

	return "", fmt.Errorf("could not extract room ID from URL: %s", urlStr)
}

func init() {
	rootCmd.AddCommand(joinCmd)

	joinCmd.Flags().StringVar(&flagJoinRelayURL, "relay", "", "Relay websocket URL (default "+config.DefaultRelayURL+")")
	joinCmd.Flags().DurationVar(&flagJoinRetryInterval, "retry-interval", 0, "Delay between dial attempts (default 2s)")
	joinCmd.Flags().IntVar(&flagJoinMaxRetries, "max-retries", config.DefaultMaxRetries, "Failed dial attempts before giving up")
	joinCmd.Flags().StringVarP(&flagJoinAudio, "audio", "a", "", "Ogg/Opus file to stream as the microphone")
	joinCmd.Flags().StringVar(&flagJoinVideo, "video", "", "IVF/VP8 file to stream as the camera")
	joinCmd.Flags().StringVarP(&flagJoinSTUN, "stun", "s", "", "Custom STUN server")
	joinCmd.Flags().StringVarP(&flagJoinTURN, "turn", "t", "", "Custom TURN server")
	joinCmd.Flags().StringVar(&flagJoinTURNUser, "turn-user", "", "TURN username")
	joinCmd.Flags().StringVar(&flagJoinTURNPass, "turn-pass", "", "TURN password")
	joinCmd.Flags().BoolVar(&flagJoinForceRelay, "force-relay", false, "Send media through TURN only")
}
