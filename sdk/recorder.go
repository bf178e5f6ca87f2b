package dodo

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
)

// captureQuantumSamples is the number of samples per emitted capture frame:
// 2048 samples of 16 kHz mono PCM16, i.e. 128 ms per frame.
const captureQuantumSamples = 2048

// captureReadPeriod matches the malgo device period, so each device delivery
// is metered individually while data frames stay quantum-sized.
const captureReadPeriod = 20 * time.Millisecond

// CaptureSource opens an audio input device. The malgo-backed implementation
// is the production source; tests substitute their own.
type CaptureSource interface {
	Open(ctx context.Context, cfg audio.Config) (CaptureStream, error)
}

// CaptureStream delivers raw PCM16 bytes from an open input device. Read
// blocks until data is available; Close releases the device and unblocks any
// pending Read with an error.
type CaptureStream interface {
	io.Reader
	io.Closer
}

// RecorderOption configures an AudioRecorder.
type RecorderOption func(*AudioRecorder)

// WithRecorderLogger sets the recorder's logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *AudioRecorder) {
		r.logger = l
	}
}

// AudioRecorder captures microphone audio as 16 kHz mono PCM16, emitting one
// base64 data event per quantum and a volume event per read for UI metering.
//
// Start is single-flight: concurrent calls share one device acquisition and
// its outcome. A Stop issued while a Start is still acquiring the device is
// deferred and applied the moment acquisition finishes, so the recorder never
// ends up half-started.
type AudioRecorder struct {
	source CaptureSource
	logger *slog.Logger
	cfg    audio.Config

	emitter

	mu            sync.Mutex
	stream        CaptureStream
	starting      chan struct{}
	startErr      error
	stopRequested bool
	done          chan struct{}
}

// NewAudioRecorder builds a recorder over the given capture source.
func NewAudioRecorder(source CaptureSource, opts ...RecorderOption) *AudioRecorder {
	r := &AudioRecorder{
		source: source,
		logger: slog.Default(),
		cfg:    audio.CaptureConfig(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// On registers a handler for one event type and returns its unsubscribe
// function.
func (r *AudioRecorder) On(t EventType, h Handler) func() {
	return r.on(t, h)
}

// Recording reports whether the capture loop is running.
func (r *AudioRecorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stream != nil
}

// Start acquires the input device and begins emitting data and volume
// events. Calling Start while already recording is a no-op. Concurrent Start
// calls coalesce into a single device acquisition and all return its result.
func (r *AudioRecorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.stream != nil {
		r.mu.Unlock()
		return nil
	}
	if r.starting != nil {
		// Another Start owns the acquisition; wait for it and share the
		// outcome.
		ch := r.starting
		r.mu.Unlock()
		<-ch
		r.mu.Lock()
		err := r.startErr
		r.mu.Unlock()
		return err
	}
	ch := make(chan struct{})
	r.starting = ch
	r.stopRequested = false
	r.mu.Unlock()

	stream, err := r.source.Open(ctx, r.cfg)

	r.mu.Lock()
	r.starting = nil
	if err != nil {
		r.startErr = err
		r.mu.Unlock()
		close(ch)
		return err
	}
	if r.stopRequested {
		// Stop arrived while the device was being acquired: release it
		// immediately and finish in the stopped state.
		r.stopRequested = false
		r.startErr = nil
		r.mu.Unlock()
		_ = stream.Close()
		close(ch)
		r.logger.Debug("recorder: start aborted by stop")
		return nil
	}
	done := make(chan struct{})
	r.stream = stream
	r.done = done
	r.startErr = nil
	r.mu.Unlock()
	close(ch)

	go r.run(stream, done)
	r.logger.Debug("recorder: capture started", "sampleRate", r.cfg.SampleRate)
	return nil
}

// Stop ends capture and releases the device. If a Start is still acquiring
// the device, the stop is deferred until acquisition completes. Stopping an
// idle recorder is a no-op.
func (r *AudioRecorder) Stop() {
	r.mu.Lock()
	if r.starting != nil {
		r.stopRequested = true
		r.mu.Unlock()
		return
	}
	stream := r.stream
	done := r.done
	r.stream = nil
	r.done = nil
	r.mu.Unlock()
	if stream == nil {
		return
	}

	_ = stream.Close()
	<-done
	r.logger.Debug("recorder: capture stopped")
}

// run meters each device read individually and accumulates reads into
// quantum-sized data frames, so volume events fire far more often than data
// events. A short tail left when the stream ends still produces a (smaller)
// final frame.
func (r *AudioRecorder) run(stream CaptureStream, done chan struct{}) {
	defer close(done)

	quantum := r.cfg.BytesForSamples(captureQuantumSamples)
	frame := make([]byte, 0, quantum)
	scratch := make([]byte, r.cfg.BytesForDuration(captureReadPeriod))
	for {
		n, err := stream.Read(scratch)
		if n > 0 {
			r.emit(VolumeEvent{Level: audio.RMSEnergy(scratch[:n])})
			frame = append(frame, scratch[:n]...)
			for len(frame) >= quantum {
				r.emit(DataEvent{Base64: base64.StdEncoding.EncodeToString(frame[:quantum])})
				frame = append(frame[:0], frame[quantum:]...)
			}
		}
		if err != nil {
			if len(frame) > 0 {
				r.emit(DataEvent{Base64: base64.StdEncoding.EncodeToString(frame)})
			}
			drained := errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
			r.mu.Lock()
			stopped := r.stream != stream
			if r.stream == stream {
				r.stream = nil
				r.done = nil
			}
			r.mu.Unlock()
			if !stopped {
				// Stop closes the stream itself, so only a natural drain
				// still holds the device here.
				_ = stream.Close()
				if !drained {
					r.logger.Warn("recorder: capture read failed", "error", err)
					r.emit(ErrorEvent{Err: err})
				}
			}
			return
		}
	}
}
