package session

import (
	"context"
	"time"

	"github.com/ashahealth/dictation-gateway/internal/audio"
	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/storage"
	"github.com/ashahealth/dictation-gateway/internal/transcript"
	"github.com/ashahealth/dictation-gateway/internal/transcription"
)

// State is the controller's position in the recording lifecycle.
type State int

const (
	// StateIdle means no session is in progress.
	StateIdle State = iota

	// StateRecording means audio is being captured and streamed.
	StateRecording

	// StateProcessing means the recording stopped and the transcript is
	// being finalized into a note.
	StateProcessing
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRecording:
		return "recording"
	case StateProcessing:
		return "processing"
	default:
		return "unknown"
	}
}

// Visit identifies one dictation session.
type Visit struct {
	ID        string    `json:"id"`
	PatientID string    `json:"patientId"`
	StartedAt time.Time `json:"startedAt"`
	EndedAt   time.Time `json:"endedAt,omitempty"`
}

// Snapshot is a point-in-time view of the controller for status reporting.
type Snapshot struct {
	State      State                      `json:"-"`
	StateName  string                     `json:"state"`
	Visit      *Visit                     `json:"visit,omitempty"`
	Connection transcription.StatusUpdate `json:"-"`
	Status     string                     `json:"connectionStatus"`
	Attempt    int                        `json:"reconnectAttempt,omitempty"`
	Speaking   bool                       `json:"speaking"`
	Transcript transcript.View            `json:"transcript"`
	Note       *notes.ClinicalNote        `json:"note,omitempty"`
	NoteError  string                     `json:"noteError,omitempty"`
}

// Streamer is the transcription client surface the controller drives.
type Streamer interface {
	SetStatusListener(transcription.StatusListener)
	Start() error
	SendAudio(data []byte) error
	Results() <-chan *transcription.Result
	Status() transcription.StatusUpdate
	Stop() error
	Close() error
}

// StreamerFactory builds a fresh transcription client for a negotiated
// audio encoding. One client per recording; clients are not reused.
type StreamerFactory func(encoding string) Streamer

// CaptureSource acquires the microphone.
type CaptureSource func() (audio.Device, error)

// NoteGenerator produces a clinical note from a finished transcript.
type NoteGenerator interface {
	Generate(ctx context.Context, req notes.Request) (*notes.ClinicalNote, error)
}

// RecordingStore persists completed sessions.
type RecordingStore interface {
	Save(rec storage.Recording) error
}
