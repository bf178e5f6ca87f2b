package dodo

import (
	"bytes"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type scheduledChunk struct {
	pcm []byte
	at  time.Time
}

type fakeSink struct {
	mu      sync.Mutex
	chunks  []scheduledChunk
	flushes int
}

func (s *fakeSink) Schedule(pcm []byte, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = append(s.chunks, scheduledChunk{pcm: pcm, at: at})
}

func (s *fakeSink) Flush() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chunks = nil
	s.flushes++
}

func (s *fakeSink) Close() error { return nil }

func (s *fakeSink) scheduled() []scheduledChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]scheduledChunk, len(s.chunks))
	copy(out, s.chunks)
	return out
}

// pcmOfDuration builds a silent playback-rate buffer of the given length.
func pcmOfDuration(d time.Duration) []byte {
	return make([]byte, audio.PlaybackConfig().BytesForDuration(d))
}

func TestAudioStreamer_BuffersChainBackToBack(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := &fakeSink{}
	streamer := NewAudioStreamer(sink, WithStreamerClock(clock))

	streamer.AddPCM16(pcmOfDuration(120 * time.Millisecond))
	streamer.AddPCM16(pcmOfDuration(80 * time.Millisecond))
	streamer.AddPCM16(pcmOfDuration(40 * time.Millisecond))

	chunks := sink.scheduled()
	if len(chunks) != 3 {
		t.Fatalf("scheduled %d chunks, want 3", len(chunks))
	}

	wantFirst := clock.Now().Add(defaultLookahead)
	if !chunks[0].at.Equal(wantFirst) {
		t.Fatalf("first start = %v, want %v", chunks[0].at, wantFirst)
	}
	cfg := audio.PlaybackConfig()
	for i := 1; i < len(chunks); i++ {
		wantStart := chunks[i-1].at.Add(cfg.Duration(len(chunks[i-1].pcm)))
		if !chunks[i].at.Equal(wantStart) {
			t.Fatalf("chunk %d start = %v, want end of chunk %d (%v)", i, chunks[i].at, i-1, wantStart)
		}
	}
}

func TestAudioStreamer_DrainedStreamReanchorsAtNowPlusLookahead(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := &fakeSink{}
	streamer := NewAudioStreamer(sink, WithStreamerClock(clock))

	streamer.AddPCM16(pcmOfDuration(50 * time.Millisecond))

	// Let playback run well past the end of the scheduled audio.
	clock.Advance(2 * time.Second)
	streamer.AddPCM16(pcmOfDuration(50 * time.Millisecond))

	chunks := sink.scheduled()
	if len(chunks) != 2 {
		t.Fatalf("scheduled %d chunks, want 2", len(chunks))
	}
	want := clock.Now().Add(defaultLookahead)
	if !chunks[1].at.Equal(want) {
		t.Fatalf("restart start = %v, want %v", chunks[1].at, want)
	}
}

func TestAudioStreamer_StopClearsScheduleImmediately(t *testing.T) {
	t.Parallel()

	clock := newFakeClock()
	sink := &fakeSink{}
	streamer := NewAudioStreamer(sink, WithStreamerClock(clock))

	streamer.AddPCM16(pcmOfDuration(200 * time.Millisecond))
	streamer.AddPCM16(pcmOfDuration(200 * time.Millisecond))
	streamer.Stop()

	if got := len(sink.scheduled()); got != 0 {
		t.Fatalf("%d chunks still scheduled after Stop, want 0", got)
	}
	if sink.flushes != 1 {
		t.Fatalf("sink flushed %d times, want 1", sink.flushes)
	}

	// The next buffer starts a fresh stream at now+lookahead, not at the old
	// cursor.
	streamer.AddPCM16(pcmOfDuration(50 * time.Millisecond))
	chunks := sink.scheduled()
	if len(chunks) != 1 {
		t.Fatalf("scheduled %d chunks after restart, want 1", len(chunks))
	}
	want := clock.Now().Add(defaultLookahead)
	if !chunks[0].at.Equal(want) {
		t.Fatalf("restart start = %v, want %v", chunks[0].at, want)
	}
}

func TestAudioStreamer_MalformedBuffersAreDropped(t *testing.T) {
	t.Parallel()

	sink := &fakeSink{}
	streamer := NewAudioStreamer(sink,
		WithStreamerClock(newFakeClock()),
		WithStreamerLogger(slog.New(slog.DiscardHandler)))

	streamer.AddPCM16(nil)
	streamer.AddPCM16([]byte{})
	streamer.AddPCM16([]byte{0x01, 0x02, 0x03}) // odd length

	if got := len(sink.scheduled()); got != 0 {
		t.Fatalf("scheduled %d chunks from malformed input, want 0", got)
	}

	streamer.AddPCM16([]byte{0x01, 0x02})
	if got := len(sink.scheduled()); got != 1 {
		t.Fatalf("scheduled %d chunks, want 1", got)
	}
}

func TestAudioStreamer_EmitsVolumePerBuffer(t *testing.T) {
	t.Parallel()

	streamer := NewAudioStreamer(&fakeSink{}, WithStreamerClock(newFakeClock()))

	var mu sync.Mutex
	var levels []float64
	streamer.On(EventVolume, func(ev Event) {
		mu.Lock()
		levels = append(levels, ev.(VolumeEvent).Level)
		mu.Unlock()
	})

	loud := make([]byte, 512)
	for i := 0; i < len(loud); i += 2 {
		loud[i], loud[i+1] = 0x00, 0x40 // 0x4000 = half scale
	}
	streamer.AddPCM16(loud)
	streamer.Stop()

	mu.Lock()
	defer mu.Unlock()
	if len(levels) != 2 {
		t.Fatalf("got %d volume events, want 2", len(levels))
	}
	if levels[0] <= 0 {
		t.Fatalf("level for loud buffer = %v, want > 0", levels[0])
	}
	if levels[1] != 0 {
		t.Fatalf("level after Stop = %v, want 0", levels[1])
	}
}

func TestAudioStreamer_WarnsOnClippingBuffers(t *testing.T) {
	t.Parallel()

	var logs bytes.Buffer
	sink := &fakeSink{}
	streamer := NewAudioStreamer(sink,
		WithStreamerClock(newFakeClock()),
		WithStreamerLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	quiet := make([]byte, 512)
	for i := 0; i < len(quiet); i += 2 {
		quiet[i], quiet[i+1] = 0x00, 0x40 // half scale
	}
	streamer.AddPCM16(quiet)
	if strings.Contains(logs.String(), "clipping") {
		t.Fatalf("half-scale buffer flagged as clipping: %s", logs.String())
	}

	hot := make([]byte, 512)
	for i := 0; i < len(hot); i += 2 {
		hot[i], hot[i+1] = 0x00, 0x80 // full scale
	}
	streamer.AddPCM16(hot)
	if !strings.Contains(logs.String(), "clipping") {
		t.Fatalf("full-scale buffer not reported as clipping")
	}

	// Clipping buffers still play.
	if got := len(sink.scheduled()); got != 2 {
		t.Fatalf("scheduled %d chunks, want 2", got)
	}
}
