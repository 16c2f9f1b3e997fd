package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/pion/webrtc/v4/pkg/media/ivfreader"
	"github.com/pion/webrtc/v4/pkg/media/oggreader"

	"github.com/RazmikUnanyan/razmik-chat/internal/rendezvous"
)

const (
	streamID = "razmik"

	// opusFrame is the pacing of synthetic audio.
	opusFrame = 20 * time.Millisecond
)

// opusSilence is a single 20ms Opus frame of silence.
var opusSilence = []byte{0xf8, 0xff, 0xfe}

// Sources selects where local media comes from. Empty paths mean synthetic
// silence for audio and no video.
type Sources struct {
	AudioFile string // Ogg/Opus
	VideoFile string // IVF/VP8
}

// Tracks is the captured local media of one session.
type Tracks struct {
	Audio *webrtc.TrackLocalStaticSample
	Video *webrtc.TrackLocalStaticSample

	audioOn atomic.Bool
	videoOn atomic.Bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
	files  []*os.File
	once   sync.Once
}

// Capture creates the local tracks and starts feeding them. Unreadable
// sources fail with rendezvous.ErrCapture.
func Capture(src Sources) (*Tracks, error) {
	t := &Tracks{}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio", streamID,
	)
	if err != nil {
		return nil, captureError("create audio track", err)
	}
	t.Audio = audio

	var ogg *oggreader.OggReader
	if src.AudioFile != "" {
		f, err := os.Open(src.AudioFile)
		if err != nil {
			return nil, captureError("open audio source", err)
		}
		t.files = append(t.files, f)
		if ogg, _, err = oggreader.NewWith(f); err != nil {
			t.closeFiles()
			return nil, captureError("read audio source", err)
		}
	}

	var ivf *ivfreader.IVFReader
	var ivfHeader *ivfreader.IVFFileHeader
	if src.VideoFile != "" {
		f, err := os.Open(src.VideoFile)
		if err != nil {
			t.closeFiles()
			return nil, captureError("open video source", err)
		}
		t.files = append(t.files, f)
		if ivf, ivfHeader, err = ivfreader.NewWith(f); err != nil {
			t.closeFiles()
			return nil, captureError("read video source", err)
		}
		if ivfHeader.FourCC != "VP80" {
			t.closeFiles()
			return nil, captureError("read video source", fmt.Errorf("unsupported codec %q, want VP80", ivfHeader.FourCC))
		}

		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID,
		)
		if err != nil {
			t.closeFiles()
			return nil, captureError("create video track", err)
		}
		t.Video = video
	}

	t.audioOn.Store(true)
	t.videoOn.Store(t.Video != nil)

	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel

	t.wg.Add(1)
	if ogg != nil {
		go t.pumpOgg(ctx, ogg, t.files[0])
	} else {
		go t.pumpSilence(ctx)
	}
	if ivf != nil {
		t.wg.Add(1)
		go t.pumpIVF(ctx, ivf, ivfHeader, t.files[len(t.files)-1])
	}

	return t, nil
}

func captureError(op string, err error) error {
	return rendezvous.WrapError(op, rendezvous.ErrCapture, err.Error())
}

// Release stops the sources and closes their files. Safe to call twice.
func (t *Tracks) Release() {
	t.once.Do(func() {
		if t.cancel != nil {
			t.cancel()
		}
		t.wg.Wait()
		t.closeFiles()
	})
}

func (t *Tracks) closeFiles() {
	for _, f := range t.files {
		f.Close()
	}
	t.files = nil
}

// SetEnabled switches a track on or off in place. A disabled track stops
// producing samples; the RTP stream itself stays negotiated.
func (t *Tracks) SetEnabled(kind rendezvous.TrackKind, enabled bool) error {
	switch kind {
	case rendezvous.TrackAudio:
		t.audioOn.Store(enabled)
	case rendezvous.TrackVideo:
		if t.Video == nil {
			return errors.New("no video track")
		}
		t.videoOn.Store(enabled)
	}
	return nil
}

// Enabled reports whether a track is producing samples.
func (t *Tracks) Enabled(kind rendezvous.TrackKind) bool {
	if kind == rendezvous.TrackVideo {
		return t.videoOn.Load()
	}
	return t.audioOn.Load()
}

// local lists the tracks to attach to a peer connection.
func (t *Tracks) local() []webrtc.TrackLocal {
	out := []webrtc.TrackLocal{t.Audio}
	if t.Video != nil {
		out = append(out, t.Video)
	}
	return out
}

func (t *Tracks) pumpSilence(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(opusFrame)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !t.audioOn.Load() {
				continue
			}
			if err := t.Audio.WriteSample(pionmedia.Sample{Data: opusSilence, Duration: opusFrame}); err != nil {
				slog.Debug("media: write audio sample", "err", err)
			}
		}
	}
}

// pumpOgg plays the Ogg file in a loop, paced by page granule positions.
func (t *Tracks) pumpOgg(ctx context.Context, ogg *oggreader.OggReader, f *os.File) {
	defer t.wg.Done()

	var lastGranule uint64
	for {
		pageData, pageHeader, err := ogg.ParseNextPage()
		if errors.Is(err, io.EOF) {
			if ogg, err = rewindOgg(f); err != nil {
				slog.Warn("media: rewind audio source", "err", err)
				return
			}
			lastGranule = 0
			continue
		}
		if err != nil {
			slog.Warn("media: read audio page", "err", err)
			return
		}

		sampleCount := float64(pageHeader.GranulePosition - lastGranule)
		lastGranule = pageHeader.GranulePosition
		duration := time.Duration((sampleCount / 48000) * float64(time.Second))
		if duration <= 0 {
			continue
		}

		if t.audioOn.Load() {
			if err := t.Audio.WriteSample(pionmedia.Sample{Data: pageData, Duration: duration}); err != nil {
				slog.Debug("media: write audio sample", "err", err)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(duration):
		}
	}
}

func rewindOgg(f *os.File) (*oggreader.OggReader, error) {
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	ogg, _, err := oggreader.NewWith(f)
	return ogg, err
}

// pumpIVF plays the IVF file in a loop at its frame rate.
func (t *Tracks) pumpIVF(ctx context.Context, ivf *ivfreader.IVFReader, header *ivfreader.IVFFileHeader, f *os.File) {
	defer t.wg.Done()

	frameDuration := time.Second / 30
	if header.TimebaseDenominator != 0 && header.TimebaseNumerator != 0 {
		frameDuration = time.Duration(float64(header.TimebaseNumerator) / float64(header.TimebaseDenominator) * float64(time.Second))
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		frame, _, err := ivf.ParseNextFrame()
		if errors.Is(err, io.EOF) {
			if _, err := f.Seek(0, io.SeekStart); err != nil {
				slog.Warn("media: rewind video source", "err", err)
				return
			}
			if ivf, _, err = ivfreader.NewWith(f); err != nil {
				slog.Warn("media: rewind video source", "err", err)
				return
			}
			continue
		}
		if err != nil {
			slog.Warn("media: read video frame", "err", err)
			return
		}

		if t.videoOn.Load() {
			if err := t.Video.WriteSample(pionmedia.Sample{Data: frame, Duration: frameDuration}); err != nil {
				slog.Debug("media: write video sample", "err", err)
			}
		}
	}
}
