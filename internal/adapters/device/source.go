package device

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"
)

// source yields samples until io.EOF; rewind restarts from the top.
type source interface {
	next() (media.Sample, error)
	rewind() error
	close() error
}

type ivfSource struct {
	f        *os.File
	r        *ivfreader.IVFReader
	frameDur time.Duration
}

func openIVF(f *os.File) (source, string, error) {
	r, header, err := ivfreader.NewWith(f)
	if err != nil {
		return nil, "", err
	}
	var mime string
	switch header.FourCC {
	case "VP80":
		mime = webrtc.MimeTypeVP8
	case "VP90":
		mime = webrtc.MimeTypeVP9
	case "AV01":
		mime = webrtc.MimeTypeAV1
	default:
		return nil, "", fmt.Errorf("unsupported ivf codec %q", header.FourCC)
	}
	dur := 33 * time.Millisecond
	if header.TimebaseDenominator != 0 {
		dur = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	return &ivfSource{f: f, r: r, frameDur: dur}, mime, nil
}

func (s *ivfSource) next() (media.Sample, error) {
	frame, _, err := s.r.ParseNextFrame()
	if err != nil {
		return media.Sample{}, err
	}
	return media.Sample{Data: frame, Duration: s.frameDur}, nil
}

func (s *ivfSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := ivfreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	return nil
}

func (s *ivfSource) close() error { return s.f.Close() }

// Opus in Ogg always runs a 48 kHz granule clock.
const oggClockRate = 48000

type oggSource struct {
	f           *os.File
	r           *oggreader.OggReader
	lastGranule uint64
}

func openOgg(f *os.File) (source, string, error) {
	r, _, err := oggreader.NewWith(f)
	if err != nil {
		return nil, "", err
	}
	return &oggSource{f: f, r: r}, webrtc.MimeTypeOpus, nil
}

func (s *oggSource) next() (media.Sample, error) {
	page, header, err := s.r.ParseNextPage()
	if err != nil {
		return media.Sample{}, err
	}
	var samples uint64
	if header.GranulePosition > s.lastGranule {
		samples = header.GranulePosition - s.lastGranule
	}
	s.lastGranule = header.GranulePosition
	return media.Sample{
		Data:     page,
		Duration: time.Duration(float64(samples) / oggClockRate * float64(time.Second)),
	}, nil
}

func (s *oggSource) rewind() error {
	if _, err := s.f.Seek(0, io.SeekStart); err != nil {
		return err
	}
	r, _, err := oggreader.NewWith(s.f)
	if err != nil {
		return err
	}
	s.r = r
	s.lastGranule = 0
	return nil
}

func (s *oggSource) close() error { return s.f.Close() }
