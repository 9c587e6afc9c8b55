package audio

import (
	"fmt"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"
)

// Constraints describe the requested capture configuration. The boolean
// processing flags are recorded for the session but applied only where the
// host audio stack supports them.
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
	NoiseSuppression bool
	AutoGain         bool
}

// DefaultConstraints returns the standard mono 16kHz capture configuration.
func DefaultConstraints() Constraints {
	return Constraints{
		SampleRate:       16000,
		Channels:         1,
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGain:         true,
	}
}

// Device is an acquired audio input. ReadFrame blocks until the next frame
// of PCM16 samples is available. Release is idempotent and must be called on
// every exit path.
type Device interface {
	Start() error
	ReadFrame() ([]int16, error)
	Release() error
	Constraints() Constraints
}

// deviceGuard enforces exclusive ownership of the default capture device.
// Two sessions must never silently double-acquire the microphone.
var deviceGuard struct {
	mu       sync.Mutex
	acquired bool
}

// Acquire opens the default capture device with the given constraints.
// It fails with ErrDeviceBusy if a prior handle has not been released.
func Acquire(constraints Constraints) (Device, error) {
	deviceGuard.mu.Lock()
	defer deviceGuard.mu.Unlock()

	if deviceGuard.acquired {
		return nil, ErrDeviceBusy
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupported, err)
	}

	// 20ms frames
	framesPerBuffer := constraints.SampleRate / 50
	buf := make([]int16, framesPerBuffer*constraints.Channels)

	stream, err := portaudio.OpenDefaultStream(constraints.Channels, 0, float64(constraints.SampleRate), framesPerBuffer, buf)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, classifyOpenError(err)
	}

	deviceGuard.acquired = true
	return &micDevice{stream: stream, buf: buf, constraints: constraints}, nil
}

// classifyOpenError maps PortAudio open failures onto the capture error
// taxonomy so callers can surface distinct conditions.
func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission") || strings.Contains(msg, "denied") || strings.Contains(msg, "access"):
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	case strings.Contains(msg, "no device") || strings.Contains(msg, "no default input") || strings.Contains(msg, "invalid device"):
		return fmt.Errorf("%w: %v", ErrUnsupported, err)
	default:
		return fmt.Errorf("open capture stream: %w", err)
	}
}

// micDevice wraps a PortAudio capture stream.
type micDevice struct {
	stream      *portaudio.Stream
	buf         []int16
	constraints Constraints

	mu       sync.Mutex
	started  bool
	released bool
}

func (d *micDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return ErrUnsupported
	}
	if d.started {
		return nil
	}
	if err := d.stream.Start(); err != nil {
		return fmt.Errorf("start capture stream: %w", err)
	}
	d.started = true
	return nil
}

// ReadFrame blocks for the next frame and returns a copy of the samples.
func (d *micDevice) ReadFrame() ([]int16, error) {
	if err := d.stream.Read(); err != nil {
		return nil, fmt.Errorf("read capture frame: %w", err)
	}

	frame := make([]int16, len(d.buf))
	copy(frame, d.buf)
	return frame, nil
}

// Release stops and closes the stream and frees the exclusive device guard.
// Safe to call more than once.
func (d *micDevice) Release() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.released {
		return nil
	}
	d.released = true

	if d.started {
		_ = d.stream.Stop()
		d.started = false
	}
	err := d.stream.Close()
	_ = portaudio.Terminate()

	deviceGuard.mu.Lock()
	deviceGuard.acquired = false
	deviceGuard.mu.Unlock()

	if err != nil {
		return fmt.Errorf("close capture stream: %w", err)
	}
	return nil
}

func (d *micDevice) Constraints() Constraints {
	return d.constraints
}
