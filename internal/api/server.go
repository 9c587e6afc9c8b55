package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ashahealth/dictation-gateway/internal/audio"
	"github.com/ashahealth/dictation-gateway/internal/config"
	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/observability"
	"github.com/ashahealth/dictation-gateway/internal/session"
	"github.com/ashahealth/dictation-gateway/internal/storage"
	"github.com/ashahealth/dictation-gateway/internal/transcript"
	"github.com/ashahealth/dictation-gateway/internal/transcription"
)

// SessionControls is the controller surface the HTTP layer exposes.
type SessionControls interface {
	Toggle(patientID string) (session.State, error)
	Reset() error
	Status() session.Snapshot
	Transcript() transcript.View
	Note() (*notes.ClinicalNote, string)
}

// RecordingReader reads saved recordings.
type RecordingReader interface {
	List() ([]storage.Recording, error)
	ListByPatient(patientID string) ([]storage.Recording, error)
	Get(id string) (storage.Recording, error)
}

// NewMux builds the HTTP control surface: session lifecycle, live transcript
// and note access, the saved recording archive, and operational endpoints.
func NewMux(cfg *config.Config, controls SessionControls, recordings RecordingReader, checks map[string]observability.CheckFunc) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/sessions/toggle", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			PatientID string `json:"patientId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		state, err := controls.Toggle(body.PatientID)
		if err != nil {
			payload := map[string]string{"error": err.Error()}
			if hint := toggleErrorHint(err); hint != "" {
				payload["hint"] = hint
			}
			writeJSON(w, toggleErrorStatus(err), payload)
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"state": state.String()})
	})

	mux.HandleFunc("POST /api/sessions/reset", func(w http.ResponseWriter, r *http.Request) {
		if err := controls.Reset(); err != nil {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, controls.Status())
	})

	mux.HandleFunc("GET /api/transcript", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, controls.Transcript())
	})

	mux.HandleFunc("GET /api/note", func(w http.ResponseWriter, r *http.Request) {
		note, noteErr := controls.Note()
		if note == nil {
			msg := "no note available"
			if noteErr != "" {
				msg = noteErr
			}
			writeJSONError(w, http.StatusNotFound, msg)
			return
		}
		writeJSON(w, http.StatusOK, note)
	})

	mux.HandleFunc("GET /api/recordings", func(w http.ResponseWriter, r *http.Request) {
		patientID := r.URL.Query().Get("patient_id")

		var (
			recs []storage.Recording
			err  error
		)
		if patientID != "" {
			recs, err = recordings.ListByPatient(patientID)
		} else {
			recs, err = recordings.List()
		}
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("list recordings: %v", err))
			return
		}
		if recs == nil {
			recs = []storage.Recording{}
		}

		writeJSON(w, http.StatusOK, recs)
	})

	mux.HandleFunc("GET /api/recordings/{id}", func(w http.ResponseWriter, r *http.Request) {
		rec, err := recordings.Get(r.PathValue("id"))
		if err != nil {
			status := http.StatusInternalServerError
			if errors.Is(err, storage.ErrNotFound) {
				status = http.StatusNotFound
			}
			writeJSONError(w, status, fmt.Sprintf("get recording: %v", err))
			return
		}
		writeJSON(w, http.StatusOK, rec)
	})

	mux.HandleFunc("GET /health", observability.HealthCheckHandler())
	mux.HandleFunc("GET /ready", observability.ReadinessHandler(checks))

	if cfg.MetricsEnabled {
		mux.Handle("GET /metrics", promhttp.Handler())
	}

	return mux
}

// toggleErrorStatus maps controller failures to HTTP status codes.
func toggleErrorStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrPatientRequired):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrSessionBusy):
		return http.StatusConflict
	case errors.Is(err, transcription.ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, audio.ErrDeviceBusy):
		return http.StatusConflict
	case errors.Is(err, audio.ErrPermissionDenied), errors.Is(err, audio.ErrUnsupported):
		return http.StatusFailedDependency
	default:
		return http.StatusInternalServerError
	}
}

// toggleErrorHint adds a remediation hint for failures the operator can fix.
func toggleErrorHint(err error) string {
	switch {
	case errors.Is(err, transcription.ErrNotConfigured):
		return "set DEEPGRAM_API_KEY in the environment and restart"
	case errors.Is(err, audio.ErrPermissionDenied):
		return "grant microphone access to this process in the system audio settings"
	case errors.Is(err, audio.ErrDeviceBusy):
		return "close the application currently holding the microphone"
	case errors.Is(err, audio.ErrNoSupportedFormat):
		return "check the configured sample rate and channel count"
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
