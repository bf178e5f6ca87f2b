package dodo

import (
	"log/slog"
	"sync"
	"time"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
)

// defaultLookahead is how far ahead of the clock the first buffer of a fresh
// (or drained) stream is scheduled, absorbing delivery jitter before audio
// starts.
const defaultLookahead = 100 * time.Millisecond

// meterWindow is how much recent audio the output level is computed over.
const meterWindow = 250 * time.Millisecond

// clipPeak is the normalized amplitude at which a buffer is reported as
// clipping.
const clipPeak = 0.99

// Clock supplies the scheduling timebase. Production uses the wall clock;
// tests substitute a fake.
type Clock interface {
	Now() time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time { return time.Now() }

// PlaybackSink renders scheduled PCM16 buffers. Schedule must not block;
// Flush discards everything scheduled but not yet played.
type PlaybackSink interface {
	Schedule(pcm []byte, at time.Time)
	Flush()
	Close() error
}

// StreamerOption configures an AudioStreamer.
type StreamerOption func(*AudioStreamer)

// WithStreamerClock substitutes the scheduling clock.
func WithStreamerClock(c Clock) StreamerOption {
	return func(s *AudioStreamer) {
		s.clock = c
	}
}

// WithStreamerLogger sets the streamer's logger.
func WithStreamerLogger(l *slog.Logger) StreamerOption {
	return func(s *AudioStreamer) {
		s.logger = l
	}
}

// WithLookahead overrides the initial scheduling lookahead.
func WithLookahead(d time.Duration) StreamerOption {
	return func(s *AudioStreamer) {
		s.lookahead = d
	}
}

// AudioStreamer schedules 24 kHz mono PCM16 buffers for gapless playback:
// each buffer starts exactly where the previous one ends. When the stream
// has drained (or never started), the next buffer is anchored at now plus a
// small lookahead instead of the stale cursor.
//
// It also meters scheduled output, emitting a volume event per buffer over a
// short trailing window.
type AudioStreamer struct {
	sink      PlaybackSink
	clock     Clock
	logger    *slog.Logger
	cfg       audio.Config
	lookahead time.Duration

	emitter

	mu        sync.Mutex
	nextStart time.Time
	window    *audio.Buffer
}

// NewAudioStreamer builds a streamer over the given sink.
func NewAudioStreamer(sink PlaybackSink, opts ...StreamerOption) *AudioStreamer {
	cfg := audio.PlaybackConfig()
	s := &AudioStreamer{
		sink:      sink,
		clock:     wallClock{},
		logger:    slog.Default(),
		cfg:       cfg,
		lookahead: defaultLookahead,
		window:    audio.NewBuffer(cfg, meterWindow),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (s *AudioStreamer) On(t EventType, h Handler) func() {
	return s.on(t, h)
}

// AddPCM16 schedules one buffer of model speech. Malformed buffers (empty or
// odd-length) are dropped with a warning; they never corrupt the schedule.
func (s *AudioStreamer) AddPCM16(pcm []byte) {
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		s.logger.Warn("streamer: dropping malformed pcm buffer", "bytes", len(pcm))
		return
	}

	buf := make([]byte, len(pcm))
	copy(buf, pcm)

	if peak := audio.PeakAmplitude(buf); peak >= clipPeak {
		s.logger.Warn("streamer: buffer is clipping", "peak", peak)
	}

	s.mu.Lock()
	now := s.clock.Now()
	if s.nextStart.Before(now.Add(s.lookahead)) {
		// Drained or fresh stream: re-anchor instead of scheduling in the
		// past.
		s.nextStart = now.Add(s.lookahead)
	}
	start := s.nextStart
	s.nextStart = start.Add(s.cfg.Duration(len(buf)))
	s.window.Write(buf)
	level := s.window.RMSEnergy()
	s.mu.Unlock()

	s.sink.Schedule(buf, start)
	s.emit(VolumeEvent{Level: level})
}

// Stop discards everything scheduled but not yet played and resets the
// scheduling cursor, so the next AddPCM16 starts a fresh stream.
func (s *AudioStreamer) Stop() {
	s.mu.Lock()
	s.nextStart = time.Time{}
	s.window.Clear()
	s.mu.Unlock()

	s.sink.Flush()
	s.emit(VolumeEvent{Level: 0})
}

// Close stops playback and releases the sink.
func (s *AudioStreamer) Close() error {
	s.Stop()
	return s.sink.Close()
}
