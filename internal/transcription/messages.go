package transcription

import (
	"encoding/json"
	"fmt"
)

// Control message types sent to the transcription backend as JSON text frames.
const (
	msgTypeKeepAlive   = "KeepAlive"
	msgTypeCloseStream = "CloseStream"
)

// Inbound message types.
const (
	msgTypeResults      = "Results"
	msgTypeMetadata     = "Metadata"
	msgTypeWarning      = "Warning"
	msgTypeError        = "Error"
	msgTypeSpeechStart  = "SpeechStarted"
	msgTypeUtteranceEnd = "UtteranceEnd"
)

// Backend error codes with special handling.
const (
	errCodeInvalidAuth = "INVALID_AUTH"
	errCodeBadAudio    = "DATA-0000"
	errCodeNetTimeout  = "NET-0001"
)

// controlMessage is the envelope for outbound control frames.
type controlMessage struct {
	Type string `json:"type"`
}

func encodeControl(msgType string) []byte {
	// Marshalling a flat struct of one string cannot fail.
	data, _ := json.Marshal(controlMessage{Type: msgType})
	return data
}

// ServerMessage is the envelope for every JSON text frame the backend sends.
// Fields beyond Type are populated depending on the message type.
type ServerMessage struct {
	Type string `json:"type"`

	// Results fields
	IsFinal     bool    `json:"is_final"`
	SpeechFinal bool    `json:"speech_final"`
	Channel     Channel `json:"channel"`
	Start       float64 `json:"start"`
	Duration    float64 `json:"duration"`

	// Metadata fields
	RequestID string `json:"request_id"`

	// Warning and Error fields
	Code        string `json:"code"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// Channel holds the transcription alternatives for one audio channel.
type Channel struct {
	Alternatives []Alternative `json:"alternatives"`
}

// Alternative is one candidate transcription of an audio segment.
type Alternative struct {
	Transcript string  `json:"transcript"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words"`
}

// Word carries per-word timing and diarization detail.
type Word struct {
	Word           string  `json:"word"`
	Start          float64 `json:"start"`
	End            float64 `json:"end"`
	Confidence     float64 `json:"confidence"`
	PunctuatedWord string  `json:"punctuated_word"`
	Speaker        int     `json:"speaker"`
}

// parseServerMessage decodes a text frame from the backend.
func parseServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("failed to parse server message: %w", err)
	}
	return &msg, nil
}

// Result is one transcription event delivered to consumers.
type Result struct {
	// Text is the transcribed text of the best alternative
	Text string

	// IsFinal indicates a final result (true) or an interim hypothesis (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// Speaker is the diarized speaker index of the first word, or -1 if unknown
	Speaker int

	// StartTime is the start of the segment in seconds from stream start
	StartTime float64

	// Duration is the length of the segment in seconds
	Duration float64
}

// resultFromMessage converts a Results frame into a Result, or nil when the
// frame carries no transcript text.
func resultFromMessage(msg *ServerMessage) *Result {
	if len(msg.Channel.Alternatives) == 0 {
		return nil
	}

	alt := msg.Channel.Alternatives[0]
	if alt.Transcript == "" {
		return nil
	}

	speaker := -1
	startTime := msg.Start
	duration := msg.Duration
	if len(alt.Words) > 0 {
		speaker = alt.Words[0].Speaker
		if duration == 0 {
			startTime = alt.Words[0].Start
			duration = alt.Words[len(alt.Words)-1].End - startTime
		}
	}

	return &Result{
		Text:       alt.Transcript,
		IsFinal:    msg.IsFinal,
		Confidence: alt.Confidence,
		Speaker:    speaker,
		StartTime:  startTime,
		Duration:   duration,
	}
}
