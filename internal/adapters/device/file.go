// Package device provides capture sources that produce local tracks.
package device

import (
	"context"
	"fmt"
	"os"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// FileDevice "captures" by replaying media files: Ogg/Opus for audio and
// IVF (VP8, VP9 or AV1) for video. A kind without a file behaves like a
// device the user refused to share.
type FileDevice struct {
	AudioPath string
	VideoPath string
	StreamID  string
}

func NewFileDevice(audioPath, videoPath, streamID string) *FileDevice {
	if streamID == "" {
		streamID = "mesh"
	}
	return &FileDevice{AudioPath: audioPath, VideoPath: videoPath, StreamID: streamID}
}

func (d *FileDevice) Acquire(ctx context.Context, kind webrtc.RTPCodecType) (*core.LocalTrack, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		path string
		open func(*os.File) (source, string, error)
	)
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		path, open = d.AudioPath, openOgg
	case webrtc.RTPCodecTypeVideo:
		path, open = d.VideoPath, openIVF
	default:
		return nil, fmt.Errorf("%w: %s", core.ErrUnsupportedKind, kind)
	}
	if path == "" {
		return nil, fmt.Errorf("%w: no %s source configured", core.ErrDeviceUnavailable, kind)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrDeviceUnavailable, err)
	}
	src, mime, err := open(f)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("%w: %s: %w", core.ErrDeviceUnavailable, path, err)
	}

	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: mime}, kind.String(), d.StreamID)
	if err != nil {
		_ = src.close()
		return nil, err
	}

	pumpCtx, cancel := context.WithCancel(context.Background())
	lt := core.NewLocalTrack(track, cancel)
	logger := log.With().Str("module", "device").Str("kind", kind.String()).Str("file", path).Logger()
	go newPump(lt, track, src).loop(pumpCtx, &logger)

	logger.Info().Str("mime", mime).Msg("capture started")
	return lt, nil
}
