package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dkeye/VoiceMesh/internal/adapters/channel"
	"github.com/dkeye/VoiceMesh/internal/adapters/device"
	"github.com/dkeye/VoiceMesh/internal/adapters/rtc"
	"github.com/dkeye/VoiceMesh/internal/app/mesh"
	"github.com/dkeye/VoiceMesh/internal/config"
	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/dkeye/VoiceMesh/internal/domain"
)

func newJoinCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join a room and print the mesh status until interrupted",
		RunE:  runJoin,
	}
	f := cmd.Flags()
	f.String("room", "", "room id")
	f.String("id", "", "participant id (generated when empty)")
	f.String("name", "", "display name")
	f.String("backend", "", "signaling backend: ws or redis")
	f.String("redis-addr", "", "redis address")
	f.String("audio-file", "", "Ogg/Opus file used as microphone")
	f.String("video-file", "", "IVF file used as camera")
	f.StringSlice("ice-servers", nil, "STUN/TURN URIs")
	f.Duration("interval", 5*time.Second, "status refresh period")
	f.Duration("toggle-camera", 0, "toggle the camera after this delay (0 disables)")

	for key, flag := range map[string]string{
		"room":                 "room",
		"participant_id":       "id",
		"display_name":         "name",
		"signaling.backend":    "backend",
		"signaling.redis.addr": "redis-addr",
		"media.audio_file":     "audio-file",
		"media.video_file":     "video-file",
		"ice.servers":          "ice-servers",
	} {
		_ = v.BindPFlag(key, f.Lookup(flag))
	}
	return cmd
}

func runJoin(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadFrom(v)
	if err != nil {
		return err
	}
	if cfg.Room == "" {
		return fmt.Errorf("--room is required")
	}
	ctx := cmd.Context()

	ch, closeChannel, err := newChannel(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeChannel()

	factory := rtc.NewFactory(rtc.WebRTCConfig(rtc.ICEServerConfig{
		URLs:       cfg.ICE.Servers,
		Username:   cfg.ICE.Username,
		Credential: cfg.ICE.Credential,
		ForceRelay: cfg.ICE.ForceRelay,
	}))
	dev := device.NewFileDevice(cfg.Media.AudioFile, cfg.Media.VideoFile, cfg.ParticipantID)

	sess, err := mesh.Join(ctx, mesh.Config{
		Room:        domain.RoomID(cfg.Room),
		Self:        domain.ParticipantID(cfg.ParticipantID),
		DisplayName: cfg.DisplayName,
		Audio:       cfg.Media.Audio,
		Video:       cfg.Media.Video,

		NegotiationTimeout: cfg.NegotiationTimeout,
	}, mesh.Deps{Channel: ch, Connections: factory, Device: dev})
	if err != nil {
		return err
	}
	if err := sess.LastError(); err != nil {
		log.Warn().Err(err).Msg("media unavailable")
	}

	interval, _ := cmd.Flags().GetDuration("interval")
	toggleAfter, _ := cmd.Flags().GetDuration("toggle-camera")
	var toggle <-chan time.Time
	if toggleAfter > 0 {
		toggle = time.After(toggleAfter)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			// Leave is idempotent; this waits for the teardown the
			// cancelled context already started.
			if err := sess.Leave(); err != nil {
				log.Warn().Err(err).Msg("leave")
			}
			renderPeers(os.Stdout, sess)
			return nil
		case <-toggle:
			on, err := sess.ToggleCamera()
			if err != nil {
				log.Warn().Err(err).Msg("toggle camera")
				continue
			}
			log.Info().Bool("camera", on).Msg("camera toggled")
		case <-ticker.C:
			renderPeers(os.Stdout, sess)
		}
	}
}

// newChannel builds the configured signaling backend and its cleanup.
func newChannel(ctx context.Context, cfg *config.Config) (core.SignalingChannel, func(), error) {
	switch cfg.Signaling.Backend {
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Signaling.Redis.Addr,
			Password: cfg.Signaling.Redis.Password,
			DB:       cfg.Signaling.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			_ = client.Close()
			return nil, nil, fmt.Errorf("failed to connect to Redis: %w", err)
		}
		return channel.NewRedis(client), func() { _ = client.Close() }, nil
	case "ws", "":
		return channel.NewWebSocket(cfg.Signaling.URL), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown signaling backend %q", cfg.Signaling.Backend)
	}
}
