package transcription

import (
	"encoding/json"
	"testing"
)

func TestEncodeControl(t *testing.T) {
	var decoded map[string]string

	if err := json.Unmarshal(encodeControl(msgTypeKeepAlive), &decoded); err != nil {
		t.Fatalf("KeepAlive frame is not valid JSON: %v", err)
	}
	if decoded["type"] != "KeepAlive" {
		t.Errorf("Expected type KeepAlive, got %q", decoded["type"])
	}

	if err := json.Unmarshal(encodeControl(msgTypeCloseStream), &decoded); err != nil {
		t.Fatalf("CloseStream frame is not valid JSON: %v", err)
	}
	if decoded["type"] != "CloseStream" {
		t.Errorf("Expected type CloseStream, got %q", decoded["type"])
	}
}

func TestParseServerMessage_Results(t *testing.T) {
	raw := `{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"start": 1.5,
		"duration": 2.25,
		"channel": {
			"alternatives": [{
				"transcript": "patient reports chest pain",
				"confidence": 0.97,
				"words": [
					{"word": "patient", "start": 1.5, "end": 1.9, "confidence": 0.99, "punctuated_word": "Patient", "speaker": 0},
					{"word": "reports", "start": 1.9, "end": 2.4, "confidence": 0.98, "punctuated_word": "reports", "speaker": 0}
				]
			}]
		}
	}`

	msg, err := parseServerMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parseServerMessage failed: %v", err)
	}
	if msg.Type != msgTypeResults {
		t.Errorf("Expected type Results, got %q", msg.Type)
	}
	if !msg.IsFinal {
		t.Error("Expected is_final to be true")
	}

	result := resultFromMessage(msg)
	if result == nil {
		t.Fatal("Expected a result")
	}
	if result.Text != "patient reports chest pain" {
		t.Errorf("Unexpected transcript: %q", result.Text)
	}
	if !result.IsFinal {
		t.Error("Expected final result")
	}
	if result.Confidence != 0.97 {
		t.Errorf("Expected confidence 0.97, got %f", result.Confidence)
	}
	if result.Speaker != 0 {
		t.Errorf("Expected speaker 0, got %d", result.Speaker)
	}
	if result.StartTime != 1.5 || result.Duration != 2.25 {
		t.Errorf("Unexpected timing: start=%f duration=%f", result.StartTime, result.Duration)
	}
}

func TestResultFromMessage_EmptyTranscript(t *testing.T) {
	msg := &ServerMessage{
		Type:    msgTypeResults,
		Channel: Channel{Alternatives: []Alternative{{Transcript: ""}}},
	}
	if resultFromMessage(msg) != nil {
		t.Error("Expected nil result for empty transcript")
	}

	msg = &ServerMessage{Type: msgTypeResults}
	if resultFromMessage(msg) != nil {
		t.Error("Expected nil result for missing alternatives")
	}
}

func TestResultFromMessage_DurationFallbackFromWords(t *testing.T) {
	msg := &ServerMessage{
		Type: msgTypeResults,
		Channel: Channel{Alternatives: []Alternative{{
			Transcript: "hello there",
			Words: []Word{
				{Word: "hello", Start: 3.0, End: 3.4, Speaker: 1},
				{Word: "there", Start: 3.5, End: 4.0, Speaker: 1},
			},
		}}},
	}

	result := resultFromMessage(msg)
	if result == nil {
		t.Fatal("Expected a result")
	}
	if result.StartTime != 3.0 {
		t.Errorf("Expected start 3.0, got %f", result.StartTime)
	}
	if result.Duration != 1.0 {
		t.Errorf("Expected duration 1.0, got %f", result.Duration)
	}
	if result.Speaker != 1 {
		t.Errorf("Expected speaker 1, got %d", result.Speaker)
	}
}

func TestResultFromMessage_NoWordsHasUnknownSpeaker(t *testing.T) {
	msg := &ServerMessage{
		Type:    msgTypeResults,
		IsFinal: false,
		Channel: Channel{Alternatives: []Alternative{{Transcript: "uh"}}},
	}

	result := resultFromMessage(msg)
	if result == nil {
		t.Fatal("Expected a result")
	}
	if result.Speaker != -1 {
		t.Errorf("Expected speaker -1, got %d", result.Speaker)
	}
	if result.IsFinal {
		t.Error("Expected interim result")
	}
}

func TestParseServerMessage_Invalid(t *testing.T) {
	if _, err := parseServerMessage([]byte("not json")); err == nil {
		t.Error("Expected error for invalid JSON")
	}
}

func TestConnectionStatusString(t *testing.T) {
	cases := map[ConnectionStatus]string{
		StatusDisconnected: "disconnected",
		StatusConnecting:   "connecting",
		StatusConnected:    "connected",
		StatusStreaming:    "streaming",
		StatusReconnecting: "reconnecting",
		StatusFailed:       "failed",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("Status %d: got %q, want %q", int(status), got, want)
		}
	}
}
