package dodo

import (
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
)

// NewOtoPlaybackSink opens the default output device via oto for 24 kHz mono
// PCM16 playback. The returned sink feeds an oto player from an internal
// buffer; a feeder goroutine holds each scheduled chunk back until its start
// time so the streamer's lookahead is honored.
func NewOtoPlaybackSink() (*OtoPlaybackSink, error) {
	cfg := audio.PlaybackConfig()
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   cfg.SampleRate,
		ChannelCount: cfg.Channels,
		Format:       oto.FormatSignedInt16LE,
		// ~100ms device buffer keeps latency low without underruns.
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, err
	}
	<-ready

	s := &OtoPlaybackSink{
		otoCtx: otoCtx,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	go s.feed()
	return s, nil
}

// OtoPlaybackSink is the production PlaybackSink.
type OtoPlaybackSink struct {
	otoCtx *oto.Context

	mu      sync.Mutex
	pending []scheduledPCM
	gen     int
	buf     []byte
	player  *oto.Player
	playing bool
	closed  bool

	wake chan struct{}
	done chan struct{}
}

type scheduledPCM struct {
	pcm []byte
	at  time.Time
}

// Schedule queues one chunk for playback at the given time. Chunks arrive in
// start-time order; the feeder releases them in the same order.
func (s *OtoPlaybackSink) Schedule(pcm []byte, at time.Time) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.pending = append(s.pending, scheduledPCM{pcm: pcm, at: at})
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Flush discards every pending and buffered chunk and resets the player so
// old audio never bleeds into the next stream.
func (s *OtoPlaybackSink) Flush() {
	s.mu.Lock()
	s.pending = nil
	s.buf = s.buf[:0]
	s.gen++
	player := s.player
	s.player = nil
	s.playing = false
	s.mu.Unlock()

	if player != nil {
		player.Pause()
		player.Close()
	}
}

// Close flushes and shuts the sink down.
func (s *OtoPlaybackSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	s.Flush()
	return nil
}

// feed releases pending chunks into the player buffer once their start time
// arrives. A Flush during the wait invalidates the chunk via the generation
// counter.
func (s *OtoPlaybackSink) feed() {
	for {
		s.mu.Lock()
		for len(s.pending) == 0 && !s.closed {
			s.mu.Unlock()
			select {
			case <-s.wake:
			case <-s.done:
				return
			}
			s.mu.Lock()
		}
		if s.closed {
			s.mu.Unlock()
			return
		}
		chunk := s.pending[0]
		s.pending = s.pending[1:]
		gen := s.gen
		s.mu.Unlock()

		if wait := time.Until(chunk.at); wait > 0 {
			select {
			case <-time.After(wait):
			case <-s.done:
				return
			}
		}

		s.mu.Lock()
		if s.gen != gen || s.closed {
			s.mu.Unlock()
			continue
		}
		s.buf = append(s.buf, chunk.pcm...)
		if !s.playing {
			s.playing = true
			s.player = s.otoCtx.NewPlayer(s)
			s.player.Play()
		}
		s.mu.Unlock()
	}
}

// Read implements io.Reader for the oto player, which pulls audio in real
// time. Silence is returned while the buffer is empty so the player keeps
// running between turns.
func (s *OtoPlaybackSink) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buf) == 0 {
		for i := range p {
			p[i] = 0
		}
		return len(p), nil
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}
