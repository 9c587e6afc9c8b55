package audio

// Format identifies an audio encoding negotiated between the chunker and
// the transcription backend.
type Format string

const (
	FormatOpusWebM Format = "opus-webm"
	FormatOpusOgg  Format = "opus-ogg"
	FormatLinear16 Format = "linear16"
)

// DefaultFormatPreference is the descending-preference list used when the
// caller has no opinion. Compressed formats first, raw PCM as the generic
// fallback.
var DefaultFormatPreference = []Format{FormatOpusWebM, FormatOpusOgg, FormatLinear16}

// Encoding returns the wire encoding name the transcription backend expects
// for this format.
func (f Format) Encoding() string {
	switch f {
	case FormatOpusWebM, FormatOpusOgg:
		return "opus"
	default:
		return "linear16"
	}
}

// CapabilityProvider reports which formats the capture platform can produce.
// Test doubles implement this to exercise negotiation and fallback.
type CapabilityProvider interface {
	Supports(f Format) bool
}

// NegotiateFormat selects the first supported format from the preference
// list, or ErrNoSupportedFormat if none are available.
func NegotiateFormat(provider CapabilityProvider, preferences []Format) (Format, error) {
	if len(preferences) == 0 {
		preferences = DefaultFormatPreference
	}
	for _, f := range preferences {
		if provider.Supports(f) {
			return f, nil
		}
	}
	return "", ErrNoSupportedFormat
}

// PCMCapabilities is the capability provider for PortAudio capture, which
// yields raw PCM only; opus containers require a browser MediaRecorder.
type PCMCapabilities struct{}

func (PCMCapabilities) Supports(f Format) bool {
	return f == FormatLinear16
}
