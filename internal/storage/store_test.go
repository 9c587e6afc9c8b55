package storage

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/transcript"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecording(id, patientID string, startedAt time.Time) Recording {
	return Recording{
		ID:          id,
		PatientID:   patientID,
		StartedAt:   startedAt,
		EndedAt:     startedAt.Add(5 * time.Minute),
		DurationSec: 300,
		Transcript:  "Patient reports feeling better.",
		Segments: []transcript.Segment{
			{Text: "Patient reports feeling better.", Speaker: 0, Confidence: 0.95},
		},
		Note: &notes.ClinicalNote{
			Subjective:  "Feeling better.",
			Objective:   "No acute distress.",
			Assessment:  "Improving.",
			Plan:        "Continue current plan.",
			Confidence:  0.9,
			GeneratedAt: startedAt.Add(6 * time.Minute).UTC(),
		},
	}
}

func TestStore_SaveAndGetRoundTrip(t *testing.T) {
	store := newTestStore(t)
	start := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	rec := sampleRecording("rec-1", "patient-1", start)

	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Get("rec-1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.PatientID != "patient-1" {
		t.Errorf("Unexpected patient: %q", got.PatientID)
	}
	if !got.StartedAt.Equal(start) {
		t.Errorf("StartedAt changed across round trip: %v", got.StartedAt)
	}
	if got.Transcript != rec.Transcript {
		t.Errorf("Unexpected transcript: %q", got.Transcript)
	}
	if got.Note == nil || got.Note.Plan != "Continue current plan." {
		t.Errorf("Note did not survive the round trip: %+v", got.Note)
	}
	if len(got.Segments) != 1 || got.Segments[0].Confidence != 0.95 {
		t.Errorf("Segments did not survive the round trip: %+v", got.Segments)
	}
}

func TestStore_SaveReplacesExisting(t *testing.T) {
	store := newTestStore(t)
	start := time.Now().UTC()

	rec := sampleRecording("rec-1", "patient-1", start)
	if err := store.Save(rec); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	rec.Transcript = "Amended transcript."
	if err := store.Save(rec); err != nil {
		t.Fatalf("Second save failed: %v", err)
	}

	all, err := store.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("Expected 1 recording, got %d", len(all))
	}
	if all[0].Transcript != "Amended transcript." {
		t.Errorf("Save did not replace the existing entry: %q", all[0].Transcript)
	}
}

func TestStore_ListByPatient(t *testing.T) {
	store := newTestStore(t)
	base := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

	for i, patient := range []string{"patient-1", "patient-2", "patient-1"} {
		rec := sampleRecording(
			"rec-"+string(rune('a'+i)),
			patient,
			base.Add(time.Duration(i)*time.Hour),
		)
		if err := store.Save(rec); err != nil {
			t.Fatalf("Save failed: %v", err)
		}
	}

	recs, err := store.ListByPatient("patient-1")
	if err != nil {
		t.Fatalf("ListByPatient failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("Expected 2 recordings, got %d", len(recs))
	}
	// Newest first.
	if !recs[0].StartedAt.After(recs[1].StartedAt) {
		t.Error("Expected newest-first ordering")
	}
	for _, rec := range recs {
		if rec.PatientID != "patient-1" {
			t.Errorf("Unexpected patient in results: %q", rec.PatientID)
		}
	}
}

func TestStore_PersistsAcrossReopen(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}
	if err := store.Save(sampleRecording("rec-1", "patient-1", time.Now().UTC())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	reopened, err := NewStore(dbPath)
	if err != nil {
		t.Fatalf("Reopen failed: %v", err)
	}
	defer func() { _ = reopened.Close() }()

	all, err := reopened.List()
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != "rec-1" {
		t.Errorf("Recording did not survive reopen: %+v", all)
	}
}

func TestStore_GetMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(sampleRecording("rec-1", "patient-1", time.Now().UTC())); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	if err := store.Delete("rec-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Get("rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected recording to be gone, got %v", err)
	}

	if err := store.Delete("rec-1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Expected ErrNotFound on double delete, got %v", err)
	}
}

func TestStore_SaveRequiresID(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(Recording{}); err == nil {
		t.Error("Expected error for missing ID")
	}
}
