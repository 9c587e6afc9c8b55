package audio

import "errors"

var (
	// ErrUnsupported indicates the platform has no usable capture capability.
	ErrUnsupported = errors.New("audio capture is not supported on this platform")

	// ErrPermissionDenied indicates the user or OS declined microphone access.
	ErrPermissionDenied = errors.New("microphone access denied")

	// ErrDeviceBusy indicates the capture device is already held by another session.
	ErrDeviceBusy = errors.New("microphone is already in use by another session")

	// ErrNoSupportedFormat indicates no encoding format from the preference
	// list is available.
	ErrNoSupportedFormat = errors.New("no supported audio format found")

	// ErrChunkerReused indicates an attempt to restart a consumed chunker.
	// A new chunker is required per recording.
	ErrChunkerReused = errors.New("chunker cannot be restarted; create a new one")
)
