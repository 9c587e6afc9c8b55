package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ashahealth/dictation-gateway/internal/audio"
	"github.com/ashahealth/dictation-gateway/internal/config"
	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/observability"
	"github.com/ashahealth/dictation-gateway/internal/storage"
	"github.com/ashahealth/dictation-gateway/internal/transcript"
	"github.com/ashahealth/dictation-gateway/internal/transcription"
)

// Controller drives the recording lifecycle: idle -> recording -> processing
// -> idle. Starting a session acquires the microphone before any network
// connection is made, so a capture failure never leaves a dangling stream.
// Stopping finalizes the transcript, generates a note when enough was said,
// and persists the recording.
type Controller struct {
	config      *config.Config
	logger      zerolog.Logger
	capture     CaptureSource
	newStreamer StreamerFactory
	noteGen     NoteGenerator
	store       RecordingStore

	aggregator *transcript.Aggregator

	mu         sync.RWMutex
	state      State
	busy       bool
	visit      *Visit
	connStatus transcription.StatusUpdate
	note       *notes.ClinicalNote
	noteErr    string

	device      audio.Device
	chunker     *audio.Chunker
	client      Streamer
	wav         *audio.WavWriter
	audioPath   string
	metrics     *observability.SessionMetrics
	resultsDone chan struct{}
}

// NewController creates a session controller with the production capture and
// transcription stack.
func NewController(cfg *config.Config, store RecordingStore, noteGen NoteGenerator) *Controller {
	c := &Controller{
		config:     cfg,
		logger:     observability.GetLogger().With().Str("component", "session").Logger(),
		noteGen:    noteGen,
		store:      store,
		aggregator: transcript.NewAggregator(),
		state:      StateIdle,
	}

	c.capture = func() (audio.Device, error) {
		constraints := audio.DefaultConstraints()
		constraints.SampleRate = cfg.SampleRate
		constraints.Channels = cfg.Channels
		return audio.Acquire(constraints)
	}
	c.newStreamer = func(encoding string) Streamer {
		return transcription.NewClient(cfg, encoding, nil)
	}

	return c
}

// Toggle starts a session when idle and stops it when recording. The returned
// state is the state after the transition completes.
func (c *Controller) Toggle(patientID string) (State, error) {
	c.mu.Lock()
	switch {
	case c.state == StateProcessing || c.busy:
		c.mu.Unlock()
		return StateProcessing, ErrSessionBusy

	case c.state == StateRecording:
		// A transcript below the note threshold goes straight back to
		// idle; processing is only observable when a note will be made.
		if c.noteGen != nil && len(c.aggregator.FinalText()) >= c.config.MinTranscriptChars {
			c.state = StateProcessing
		} else {
			c.state = StateIdle
		}
		c.busy = true
		c.mu.Unlock()
		return c.finish()

	default:
		c.busy = true
		c.mu.Unlock()
		return c.start(patientID)
	}
}

func (c *Controller) clearBusy() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

// start acquires the microphone, connects the streaming client, and begins
// chunking audio into it.
func (c *Controller) start(patientID string) (State, error) {
	defer c.clearBusy()

	if strings.TrimSpace(patientID) == "" {
		return StateIdle, ErrPatientRequired
	}
	if !c.config.TranscriptionConfigured() {
		return StateIdle, transcription.ErrNotConfigured
	}

	// Microphone first: a capture failure must abort before any
	// connection is opened.
	device, err := c.capture()
	if err != nil {
		return StateIdle, fmt.Errorf("failed to acquire microphone: %w", err)
	}

	chunker, err := audio.NewChunker(device, audio.PCMCapabilities{}, nil, c.config.ChunkTimeslice())
	if err != nil {
		_ = device.Release()
		return StateIdle, err
	}

	client := c.newStreamer(chunker.Format().Encoding())
	client.SetStatusListener(func(update transcription.StatusUpdate) {
		c.mu.Lock()
		c.connStatus = update
		c.mu.Unlock()
	})

	if err := client.Start(); err != nil {
		_ = device.Release()
		return StateIdle, err
	}

	resultsDone := make(chan struct{})
	go c.consumeResults(client, resultsDone)

	visit := &Visit{
		ID:        uuid.NewString(),
		PatientID: patientID,
		StartedAt: time.Now().UTC(),
	}

	// Keeping a local copy of the audio is best effort; a disk failure
	// must not block the session.
	var wav *audio.WavWriter
	var audioPath string
	if c.config.AudioDir != "" && chunker.Format().Encoding() == "linear16" {
		audioPath = filepath.Join(c.config.AudioDir, visit.ID+".wav")
		if wav, err = audio.NewWavWriter(audioPath, c.config.SampleRate, c.config.Channels); err != nil {
			c.logger.Warn().Err(err).Msg("Local audio capture disabled for this session")
			wav, audioPath = nil, ""
		}
	}

	sink := func(chunk audio.Chunk) {
		if wav != nil {
			if _, err := wav.Write(chunk.Data); err != nil {
				c.logger.Debug().Err(err).Msg("Failed to write local audio")
			}
		}
		if err := client.SendAudio(chunk.Data); err != nil {
			c.logger.Debug().Err(err).Msg("Dropped audio chunk")
		}
	}
	if err := chunker.Start(sink); err != nil {
		_ = client.Close()
		_ = device.Release()
		if wav != nil {
			_ = wav.Close()
			_ = os.Remove(audioPath)
		}
		return StateIdle, err
	}
	metrics := observability.NewSessionMetrics(visit.ID)
	metrics.RecordSessionStart()

	c.aggregator.Reset()

	c.mu.Lock()
	c.state = StateRecording
	c.visit = visit
	c.note = nil
	c.noteErr = ""
	c.device = device
	c.chunker = chunker
	c.client = client
	c.wav = wav
	c.audioPath = audioPath
	c.metrics = metrics
	c.resultsDone = resultsDone
	c.mu.Unlock()

	c.logger.Info().
		Str("visit_id", visit.ID).
		Str("patient_id", patientID).
		Str("format", string(chunker.Format())).
		Msg("Recording started")

	return StateRecording, nil
}

// finish tears the pipeline down, finalizes the transcript, generates the
// note when warranted, and persists the recording. The controller always
// returns to idle, even when a stage fails.
func (c *Controller) finish() (State, error) {
	c.mu.Lock()
	visit := c.visit
	device := c.device
	chunker := c.chunker
	client := c.client
	wav := c.wav
	audioPath := c.audioPath
	metrics := c.metrics
	resultsDone := c.resultsDone
	c.device = nil
	c.chunker = nil
	c.client = nil
	c.wav = nil
	c.audioPath = ""
	c.resultsDone = nil
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.state = StateIdle
		c.busy = false
		c.mu.Unlock()
	}()

	// Flush the last partial chunk before the stream closes.
	if chunker != nil {
		chunker.Stop()
	}
	if client != nil {
		_ = client.Close()
	}
	if wav != nil {
		if err := wav.Close(); err != nil {
			c.logger.Warn().Err(err).Msg("Failed to finalize local audio file")
			audioPath = ""
		}
	}
	if resultsDone != nil {
		select {
		case <-resultsDone:
		case <-time.After(2 * time.Second):
			c.logger.Warn().Msg("Timed out draining transcription results")
		}
	}
	if device != nil {
		_ = device.Release()
	}

	visit.EndedAt = time.Now().UTC()
	view := c.aggregator.Snapshot()

	note, noteErr := c.generateNote(visit, view.Final, metrics)

	rec := storage.Recording{
		ID:          visit.ID,
		PatientID:   visit.PatientID,
		Title:       "Dictation " + visit.StartedAt.Format("2006-01-02 15:04"),
		StartedAt:   visit.StartedAt,
		EndedAt:     visit.EndedAt,
		DurationSec: visit.EndedAt.Sub(visit.StartedAt).Seconds(),
		AudioPath:   audioPath,
		Transcript:  view.Final,
		Segments:    view.Segments,
		Note:        note,
	}

	var saveErr error
	if c.store != nil {
		if saveErr = c.store.Save(rec); saveErr != nil {
			c.logger.Error().Err(saveErr).Str("visit_id", visit.ID).Msg("Failed to persist recording")
		}
	}

	if metrics != nil {
		metrics.RecordSessionEnd()
	}

	c.mu.Lock()
	c.visit = visit
	c.note = note
	c.noteErr = noteErr
	c.mu.Unlock()

	c.logger.Info().
		Str("visit_id", visit.ID).
		Float64("duration_sec", rec.DurationSec).
		Int("transcript_chars", len(view.Final)).
		Bool("note_generated", note != nil).
		Msg("Recording finished")

	return StateIdle, saveErr
}

// generateNote runs note generation when the transcript clears the minimum
// length. Failures become a status message, never a stuck session.
func (c *Controller) generateNote(visit *Visit, finalText string, metrics *observability.SessionMetrics) (*notes.ClinicalNote, string) {
	if c.noteGen == nil {
		return nil, ""
	}
	if len(finalText) < c.config.MinTranscriptChars {
		return nil, fmt.Sprintf("transcript too short for note generation (%d of %d characters)",
			len(finalText), c.config.MinTranscriptChars)
	}

	// Quality issues do not block generation; they ride along as warnings
	// so the clinician knows to double-check the result.
	_, issues := notes.ValidateTranscription(finalText, c.config.MinTranscriptChars)
	if len(issues) > 0 {
		c.logger.Warn().
			Str("visit_id", visit.ID).
			Strs("issues", issues).
			Msg("Transcript quality issues detected")
	}

	if metrics != nil {
		metrics.RecordNoteStart()
	}

	note, err := c.noteGen.Generate(context.Background(), notes.Request{
		Transcription: finalText,
		Patient:       &notes.PatientContext{ID: visit.PatientID},
	})
	if err != nil {
		if metrics != nil {
			metrics.RecordNoteEnd(false)
		}
		c.logger.Error().Err(err).Str("visit_id", visit.ID).Msg("Note generation failed")
		return nil, err.Error()
	}

	if metrics != nil {
		metrics.RecordNoteEnd(true)
	}
	if note != nil {
		note.Warnings = append(note.Warnings, issues...)
	}
	return note, ""
}

// consumeResults folds streaming results into the aggregator until the
// client's result channel closes.
func (c *Controller) consumeResults(client Streamer, done chan struct{}) {
	defer close(done)
	for result := range client.Results() {
		c.aggregator.Add(result)
	}
}

// Reset abandons the current session. A recording in progress is torn down
// without note generation or persistence. Resetting while idle is a no-op.
func (c *Controller) Reset() error {
	c.mu.Lock()
	if c.state == StateProcessing || (c.busy && c.state != StateRecording) {
		c.mu.Unlock()
		return ErrSessionBusy
	}

	device := c.device
	chunker := c.chunker
	client := c.client
	wav := c.wav
	audioPath := c.audioPath
	metrics := c.metrics
	resultsDone := c.resultsDone
	c.state = StateIdle
	c.busy = false
	c.visit = nil
	c.note = nil
	c.noteErr = ""
	c.connStatus = transcription.StatusUpdate{}
	c.device = nil
	c.chunker = nil
	c.client = nil
	c.wav = nil
	c.audioPath = ""
	c.metrics = nil
	c.resultsDone = nil
	c.mu.Unlock()

	if chunker != nil {
		chunker.Stop()
	}
	if client != nil {
		_ = client.Close()
	}
	if wav != nil {
		_ = wav.Close()
		_ = os.Remove(audioPath)
	}
	if resultsDone != nil {
		select {
		case <-resultsDone:
		case <-time.After(2 * time.Second):
		}
	}
	if device != nil {
		_ = device.Release()
	}
	if metrics != nil {
		metrics.RecordSessionEnd()
	}

	c.aggregator.Reset()
	c.logger.Info().Msg("Session reset")
	return nil
}

// Status returns a consistent snapshot for the control surface.
func (c *Controller) Status() Snapshot {
	c.mu.RLock()
	state := c.state
	connStatus := c.connStatus
	note := c.note
	noteErr := c.noteErr
	chunker := c.chunker
	var visit *Visit
	if c.visit != nil {
		copied := *c.visit
		visit = &copied
	}
	c.mu.RUnlock()

	speaking := false
	if chunker != nil {
		speaking = chunker.Speaking()
	}

	return Snapshot{
		State:      state,
		StateName:  state.String(),
		Visit:      visit,
		Connection: connStatus,
		Status:     connStatus.Status.String(),
		Attempt:    connStatus.Attempt,
		Speaking:   speaking,
		Transcript: c.aggregator.Snapshot(),
		Note:       note,
		NoteError:  noteErr,
	}
}

// Transcript returns the current transcript view.
func (c *Controller) Transcript() transcript.View {
	return c.aggregator.Snapshot()
}

// Note returns the most recent note and any generation failure message.
func (c *Controller) Note() (*notes.ClinicalNote, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.note, c.noteErr
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}
