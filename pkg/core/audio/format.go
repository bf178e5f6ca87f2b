// Package audio provides PCM16 format math, energy metering, and bounded
// sample buffers shared by the capture and playback pipelines.
package audio

import "time"

// Config specifies audio format parameters.
type Config struct {
	// SampleRate in Hz. Capture runs at 16000; playback defaults to 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono, 2 for stereo.
	Channels int `json:"channels"`

	// BitsPerSample: typically 16 for PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// CaptureConfig returns the fixed microphone capture format.
func CaptureConfig() Config {
	return Config{
		SampleRate:    16000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// PlaybackConfig returns the default assistant playback format.
func PlaybackConfig() Config {
	return Config{
		SampleRate:    24000,
		Channels:      1,
		BitsPerSample: 16,
	}
}

// BytesPerSecond returns the audio byte rate.
func (c Config) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the playback duration of the given byte count.
func (c Config) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesForDuration returns the byte count covering d of audio.
func (c Config) BytesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(int64(c.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// BytesForSamples returns the byte count for n samples across all channels.
func (c Config) BytesForSamples(n int) int {
	return n * c.Channels * (c.BitsPerSample / 8)
}
