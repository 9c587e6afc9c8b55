package audio

// ActivityConfig holds configuration for speech activity detection on the
// capture path. Detection here only feeds the UI speaking indicator; the
// transcription backend does its own endpointing.
type ActivityConfig struct {
	EnergyThreshold float64 // RMS energy threshold for speech detection
	SilenceFrames   int     // Consecutive silent frames to mark end of speech
}

// DefaultActivityConfig returns a default detection configuration tuned for
// 20ms frames at 16kHz.
func DefaultActivityConfig() *ActivityConfig {
	return &ActivityConfig{
		EnergyThreshold: 500.0,
		SilenceFrames:   15, // 300ms of silence
	}
}

// ActivityDetector tracks whether the speaker is currently talking.
type ActivityDetector struct {
	config         *ActivityConfig
	silenceCounter int
	isSpeaking     bool
}

// NewActivityDetector creates a new activity detector
func NewActivityDetector(config *ActivityConfig) *ActivityDetector {
	if config == nil {
		config = DefaultActivityConfig()
	}
	return &ActivityDetector{config: config}
}

// ProcessFrame updates the detector with one frame of samples and returns
// whether speech is currently detected.
func (a *ActivityDetector) ProcessFrame(samples []int16) bool {
	rms := CalculateRMS(samples)

	if rms > a.config.EnergyThreshold {
		a.silenceCounter = 0
		a.isSpeaking = true
		return true
	}

	a.silenceCounter++
	if a.isSpeaking && a.silenceCounter >= a.config.SilenceFrames {
		a.isSpeaking = false
		a.silenceCounter = 0
	}
	return a.isSpeaking
}

// IsSpeaking returns whether speech is currently detected
func (a *ActivityDetector) IsSpeaking() bool {
	return a.isSpeaking
}

// Reset resets the detector state
func (a *ActivityDetector) Reset() {
	a.silenceCounter = 0
	a.isSpeaking = false
}
