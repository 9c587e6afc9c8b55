package transcript

import (
	"strings"
	"sync"

	"github.com/ashahealth/dictation-gateway/internal/transcription"
)

// Segment is one finalized utterance. Once appended it never changes.
type Segment struct {
	Text       string  `json:"text"`
	Speaker    int     `json:"speaker"`
	StartTime  float64 `json:"startTime"`
	Duration   float64 `json:"duration"`
	Confidence float64 `json:"confidence"`
}

// View is a point-in-time snapshot of the aggregated transcript.
type View struct {
	Final    string    `json:"final"`
	Partial  string    `json:"partial"`
	Segments []Segment `json:"segments"`
}

// Aggregator folds streaming transcription results into a stable transcript.
// Interim results replace the partial text wholesale; final results append a
// segment and clear the partial. Results are applied in arrival order with no
// deduplication, matching what the backend emitted.
type Aggregator struct {
	mu       sync.RWMutex
	segments []Segment
	partial  string
}

func NewAggregator() *Aggregator {
	return &Aggregator{}
}

// Add applies one transcription result.
func (a *Aggregator) Add(result *transcription.Result) {
	if result == nil || result.Text == "" {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if !result.IsFinal {
		a.partial = result.Text
		return
	}

	a.segments = append(a.segments, Segment{
		Text:       result.Text,
		Speaker:    result.Speaker,
		StartTime:  result.StartTime,
		Duration:   result.Duration,
		Confidence: result.Confidence,
	})
	a.partial = ""
}

// FinalText returns the finalized transcript, segments joined by single spaces.
func (a *Aggregator) FinalText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	parts := make([]string, len(a.segments))
	for i, s := range a.segments {
		parts[i] = s.Text
	}
	return strings.Join(parts, " ")
}

// PartialText returns the in-flight hypothesis, or "" when none is pending.
func (a *Aggregator) PartialText() string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.partial
}

// Segments returns a copy of the finalized segments.
func (a *Aggregator) Segments() []Segment {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Segment(nil), a.segments...)
}

// Snapshot returns the transcript as a single consistent view.
func (a *Aggregator) Snapshot() View {
	a.mu.RLock()
	defer a.mu.RUnlock()

	parts := make([]string, len(a.segments))
	for i, s := range a.segments {
		parts[i] = s.Text
	}
	return View{
		Final:    strings.Join(parts, " "),
		Partial:  a.partial,
		Segments: append([]Segment(nil), a.segments...),
	}
}

// Reset discards all accumulated state.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.segments = nil
	a.partial = ""
}
