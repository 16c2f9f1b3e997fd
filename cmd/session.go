package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/RazmikUnanyan/razmik-chat/internal/config"
	"github.com/RazmikUnanyan/razmik-chat/internal/logging"
	"github.com/RazmikUnanyan/razmik-chat/internal/media"
	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
	"github.com/RazmikUnanyan/razmik-chat/internal/signaling"
	"github.com/RazmikUnanyan/razmik-chat/internal/version"
)

// LoadConfig resolves configuration and reinitialises logging from it.
func LoadConfig(service string, opts config.Options) (*config.Config, error) {
	opts.ConfigPath = flagConfigPath
	opts.EnvFile = flagEnvFile

	cfg, err := config.Load(opts)
	if err != nil {
		return nil, rendezvous.NewError("load config", err)
	}

	logging.Init(logging.Config{
		Service:   service,
		Version:   version.Version,
		Env:       logging.ParseEnv(cfg.Logging.Env),
		Backend:   logging.Backend(cfg.Logging.Backend),
		Level:     cfg.Logging.Level,
		AddSource: cfg.Logging.AddSource,
	})
	return cfg, nil
}

// relayTransport adapts a signaling participant to the session's view of
// the relay.
type relayTransport struct {
	*signaling.Participant
}

var _ rendezvous.Rendezvous = relayTransport{}

func (r relayTransport) Claim(ctx context.Context, id string) (string, error) {
	got, err := r.Participant.Claim(ctx, id)
	switch {
	case errors.Is(err, signaling.ErrIDTaken):
		return "", rendezvous.WrapError("claim", rendezvous.ErrIdentityUnavailable, id)
	case errors.Is(err, signaling.ErrClosed):
		return "", rendezvous.NewError("claim", rendezvous.ErrRelayUnreachable)
	}
	return got, err
}

// ParticipantContext is everything one participant needs in a room.
type ParticipantContext struct {
	Participant *signaling.Participant
	Engine      *media.Engine

	stopEngine context.CancelFunc
}

// NewParticipantContext connects to the relay and starts the media engine.
func NewParticipantContext(ctx context.Context, cfg *config.Config) (*ParticipantContext, error) {
	p := signaling.NewParticipant(cfg.RelayURL)
	if err := p.Connect(ctx); err != nil {
		return nil, rendezvous.WrapError("connect to relay", rendezvous.ErrRelayUnreachable, err.Error())
	}

	engine := media.NewEngine(media.Config{
		STUNServers: cfg.GetSTUNServers(),
		TURNServers: cfg.GetTURNServers(),
		TURNUser:    cfg.TURNUser,
		TURNPass:    cfg.TURNPass,
		ForceRelay:  cfg.ForceRelay,
		Sources: media.Sources{
			AudioFile: cfg.AudioFile,
			VideoFile: cfg.VideoFile,
		},
	}, p)

	engineCtx, stop := context.WithCancel(context.Background())
	go engine.Run(engineCtx)

	return &ParticipantContext{Participant: p, Engine: engine, stopEngine: stop}, nil
}

// NewSession builds the rendezvous session for roomID.
func (c *ParticipantContext) NewSession(cfg *config.Config, roomID string) (*rendezvous.Session, error) {
	s, err := rendezvous.New(rendezvous.Config{
		RoomID:        roomID,
		RetryInterval: cfg.RetryInterval,
		MaxRetries:    cfg.MaxRetries,
	}, relayTransport{c.Participant}, c.Engine)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (c *ParticipantContext) Close() {
	if c.stopEngine != nil {
		c.stopEngine()
	}
	if c.Participant != nil {
		c.Participant.Close()
	}
}
