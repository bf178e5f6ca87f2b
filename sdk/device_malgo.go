package dodo

import (
	"context"
	"io"
	"strings"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/dodolabs/dodo-live/pkg/core/audio"
)

// MalgoCaptureSource is the production CaptureSource, backed by the system's
// default input device via malgo (miniaudio).
type MalgoCaptureSource struct{}

// Open initializes a malgo context and capture device and starts it. Failures
// to acquire the device surface as *PermissionError so callers can tell a
// denied microphone apart from other audio faults.
func (MalgoCaptureSource) Open(ctx context.Context, cfg audio.Config) (CaptureStream, error) {
	ctxConfig := malgo.ContextConfig{}
	ctxConfig.ThreadPriority = malgo.ThreadPriorityRealtime

	malgoCtx, err := malgo.InitContext(nil, ctxConfig, nil)
	if err != nil {
		return nil, &PermissionError{Device: "microphone", Err: err}
	}

	stream := &malgoStream{ctx: malgoCtx}
	stream.cond = sync.NewCond(&stream.mu)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(cfg.Channels)
	deviceConfig.SampleRate = uint32(cfg.SampleRate)
	deviceConfig.PeriodSizeInMilliseconds = 20

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, samples []byte, _ uint32) {
			stream.mu.Lock()
			if !stream.closed {
				stream.buf = append(stream.buf, samples...)
			}
			stream.mu.Unlock()
			stream.cond.Signal()
		},
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, callbacks)
	if err != nil {
		malgoCtx.Uninit()
		return nil, wrapDeviceErr(err)
	}
	stream.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		malgoCtx.Uninit()
		return nil, wrapDeviceErr(err)
	}

	if err := ctx.Err(); err != nil {
		stream.Close()
		return nil, err
	}
	return stream, nil
}

func wrapDeviceErr(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "access denied") || strings.Contains(msg, "permission") {
		return &PermissionError{Device: "microphone", Err: err}
	}
	return err
}

// malgoStream buffers capture callbacks and serves them through a blocking
// Read, matching the CaptureStream contract.
type malgoStream struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu     sync.Mutex
	cond   *sync.Cond
	buf    []byte
	closed bool
}

func (s *malgoStream) Read(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.buf) == 0 && !s.closed {
		s.cond.Wait()
	}
	if s.closed && len(s.buf) == 0 {
		return 0, io.EOF
	}

	n := copy(p, s.buf)
	s.buf = s.buf[n:]
	return n, nil
}

func (s *malgoStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.cond.Broadcast()
	s.mu.Unlock()

	s.device.Stop()
	s.device.Uninit()
	s.ctx.Uninit()
	return nil
}
