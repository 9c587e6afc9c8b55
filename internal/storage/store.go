package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ashahealth/dictation-gateway/internal/notes"
	"github.com/ashahealth/dictation-gateway/internal/transcript"
)

// ErrNotFound is returned when a recording does not exist.
var ErrNotFound = errors.New("recording not found")

// recordingsKey is the single key the recording collection lives under.
const recordingsKey = "recordings"

// Recording is one saved dictation session: the transcript, the generated
// note if any, and a pointer to the captured audio on disk.
type Recording struct {
	ID          string               `json:"id"`
	PatientID   string               `json:"patientId"`
	Title       string               `json:"title,omitempty"`
	StartedAt   time.Time            `json:"startedAt"`
	EndedAt     time.Time            `json:"endedAt"`
	DurationSec float64              `json:"durationSec"`
	AudioPath   string               `json:"audioPath,omitempty"`
	Transcript  string               `json:"transcript"`
	Segments    []transcript.Segment `json:"segments,omitempty"`
	Note        *notes.ClinicalNote  `json:"note,omitempty"`
}

// Store persists recordings in a local SQLite database. The collection is
// serialized as one JSON document and rewritten wholesale on every save, so a
// reader always observes a complete, consistent list.
type Store struct {
	db *sql.DB

	// mu serializes the read-modify-write cycle behind Save and Delete.
	mu sync.Mutex
}

// NewStore opens (or creates) the database at dbPath.
func NewStore(dbPath string) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		dbPath = filepath.Join("data", "dictation.db")
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &Store{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) init() error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, p := range pragmas {
		if _, err := s.db.Exec(p); err != nil {
			return fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}

	if _, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);
	`); err != nil {
		return fmt.Errorf("create kv table: %w", err)
	}

	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Save appends the recording to the collection, replacing any existing entry
// with the same ID, and writes the whole collection back.
func (s *Store) Save(rec Recording) error {
	if strings.TrimSpace(rec.ID) == "" {
		return errors.New("recording id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	recordings, err := s.load()
	if err != nil {
		return err
	}

	replaced := false
	for i := range recordings {
		if recordings[i].ID == rec.ID {
			recordings[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		recordings = append(recordings, rec)
	}

	return s.write(recordings)
}

// Delete removes one recording from the collection.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordings, err := s.load()
	if err != nil {
		return err
	}

	kept := recordings[:0]
	for _, rec := range recordings {
		if rec.ID != id {
			kept = append(kept, rec)
		}
	}
	if len(kept) == len(recordings) {
		return ErrNotFound
	}

	return s.write(kept)
}

// List returns every saved recording, newest first.
func (s *Store) List() ([]Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordings, err := s.load()
	if err != nil {
		return nil, err
	}

	sortByStartDesc(recordings)
	return recordings, nil
}

// ListByPatient returns the recordings for one patient, newest first.
func (s *Store) ListByPatient(patientID string) ([]Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordings, err := s.load()
	if err != nil {
		return nil, err
	}

	matched := make([]Recording, 0, len(recordings))
	for _, rec := range recordings {
		if rec.PatientID == patientID {
			matched = append(matched, rec)
		}
	}

	sortByStartDesc(matched)
	return matched, nil
}

// Get returns one recording by ID.
func (s *Store) Get(id string) (Recording, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	recordings, err := s.load()
	if err != nil {
		return Recording{}, err
	}

	for _, rec := range recordings {
		if rec.ID == id {
			return rec, nil
		}
	}
	return Recording{}, ErrNotFound
}

func (s *Store) load() ([]Recording, error) {
	row := s.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, recordingsKey)

	var value string
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query recordings: %w", err)
	}

	var recordings []Recording
	if err := json.Unmarshal([]byte(value), &recordings); err != nil {
		return nil, fmt.Errorf("parse stored recordings: %w", err)
	}
	return recordings, nil
}

func (s *Store) write(recordings []Recording) error {
	value, err := json.Marshal(recordings)
	if err != nil {
		return fmt.Errorf("encode recordings: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT OR REPLACE INTO kv(key, value, updated_at) VALUES(?, ?, ?)`,
		recordingsKey,
		string(value),
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("write recordings: %w", err)
	}
	return nil
}

func sortByStartDesc(recordings []Recording) {
	sort.Slice(recordings, func(i, j int) bool {
		return recordings[i].StartedAt.After(recordings[j].StartedAt)
	})
}
