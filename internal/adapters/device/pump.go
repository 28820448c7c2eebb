package device

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/dkeye/VoiceMesh/internal/core"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog"
)

const minSampleGap = 10 * time.Millisecond

type sampleWriter interface {
	WriteSample(media.Sample) error
}

// pump copies samples from a source into a local track at the source's
// cadence. Muted tracks keep their clock but write nothing.
type pump struct {
	track *core.LocalTrack
	out   sampleWriter
	src   source
}

func newPump(track *core.LocalTrack, out sampleWriter, src source) *pump {
	return &pump{track: track, out: out, src: src}
}

func (p *pump) loop(ctx context.Context, logger *zerolog.Logger) {
	defer func() {
		if err := p.src.close(); err != nil {
			logger.Warn().Err(err).Msg("close source")
		}
	}()

	produced := 0
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("pump ctx done")
			return
		default:
		}

		sample, err := p.src.next()
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			if produced == 0 {
				logger.Error().Msg("source has no samples, stopping")
				return
			}
			produced = 0
			if err := p.src.rewind(); err != nil {
				logger.Error().Err(err).Msg("rewind source, stopping")
				return
			}
			continue
		}
		if err != nil {
			logger.Error().Err(err).Msg("read sample, stopping")
			return
		}
		produced++

		switch p.track.State() {
		case core.TrackStateStopped:
			return
		case core.TrackStateMuted:
		case core.TrackStateLive:
			if err := p.out.WriteSample(sample); err != nil {
				logger.Error().Err(err).Msg("write sample, stopping")
				return
			}
		}

		if !sleep(ctx, max(sample.Duration, minSampleGap)) {
			return
		}
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
