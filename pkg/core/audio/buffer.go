package audio

import (
	"sync"
	"time"
)

// Buffer accumulates PCM audio with a bounded maximum size. When the bound
// is exceeded, the oldest data is discarded, so the buffer always holds the
// most recent window of audio. Used for short-window volume metering.
type Buffer struct {
	mu       sync.Mutex
	data     []byte
	maxBytes int
	config   Config
}

// NewBuffer creates a buffer that holds up to maxWindow of audio.
func NewBuffer(config Config, maxWindow time.Duration) *Buffer {
	maxBytes := config.BytesForDuration(maxWindow)
	if maxBytes <= 0 {
		maxBytes = config.BytesPerSecond()
	}
	return &Buffer{
		data:     make([]byte, 0, maxBytes),
		maxBytes: maxBytes,
		config:   config,
	}
}

// Write appends audio data, discarding the oldest bytes past the bound.
func (b *Buffer) Write(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, data...)
	if len(b.data) > b.maxBytes {
		excess := len(b.data) - b.maxBytes
		b.data = b.data[excess:]
	}
}

// Len returns the current buffer size in bytes.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// Duration returns the duration of the buffered audio.
func (b *Buffer) Duration() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.config.Duration(len(b.data))
}

// Clear empties the buffer.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// RMSEnergy calculates the RMS energy of the buffered window.
func (b *Buffer) RMSEnergy() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return RMSEnergy(b.data)
}

// PeakAmplitude returns the peak amplitude of the buffered window.
func (b *Buffer) PeakAmplitude() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return PeakAmplitude(b.data)
}
