package notes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"

	"github.com/ashahealth/dictation-gateway/internal/config"
	"github.com/ashahealth/dictation-gateway/internal/observability"
	"github.com/ashahealth/dictation-gateway/internal/resilience"
)

// ErrNotConfigured is returned when no note generation credential is present.
var ErrNotConfigured = errors.New("note generation is not configured")

// ClinicalNote is a structured SOAP note produced from a visit transcript.
type ClinicalNote struct {
	Subjective  string    `json:"subjective"`
	Objective   string    `json:"objective"`
	Assessment  string    `json:"assessment"`
	Plan        string    `json:"plan"`
	Confidence  float64   `json:"confidence"`
	Warnings    []string  `json:"warnings,omitempty"`
	GeneratedAt time.Time `json:"generatedAt"`
}

// PatientContext carries optional chart details included in the prompt.
type PatientContext struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Age                int      `json:"age,omitempty"`
	MedicalHistory     []string `json:"medicalHistory,omitempty"`
	Allergies          []string `json:"allergies,omitempty"`
	CurrentMedications []string `json:"currentMedications,omitempty"`
}

// Request describes one note generation call.
type Request struct {
	Transcription  string
	Patient        *PatientContext
	VisitType      string
	ChiefComplaint string
}

// ChatCompleter is the slice of the OpenAI-compatible client the gateway uses.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Gateway generates clinical notes through an OpenAI-compatible chat
// completions endpoint. Calls are guarded by a circuit breaker and transient
// failures are retried with exponential backoff.
type Gateway struct {
	client         ChatCompleter
	model          string
	configured     bool
	timeout        time.Duration
	retryConfig    *resilience.RetryConfig
	circuitBreaker *resilience.CircuitBreaker
	logger         zerolog.Logger
}

// NewGateway creates a note gateway from configuration.
func NewGateway(cfg *config.Config) *Gateway {
	clientConfig := openai.DefaultConfig(cfg.NoteAPIKey)
	if cfg.NoteBaseURL != "" {
		clientConfig.BaseURL = cfg.NoteBaseURL
	}

	return newGateway(openai.NewClientWithConfig(clientConfig), cfg)
}

// NewGatewayWithClient creates a note gateway with an injected completion
// client.
func NewGatewayWithClient(client ChatCompleter, cfg *config.Config) *Gateway {
	return newGateway(client, cfg)
}

func newGateway(client ChatCompleter, cfg *config.Config) *Gateway {
	return &Gateway{
		client:     client,
		model:      cfg.NoteModel,
		configured: cfg.NoteGenerationConfigured(),
		timeout:    time.Duration(cfg.NoteTimeout) * time.Second,
		retryConfig: &resilience.RetryConfig{
			MaxAttempts:       cfg.RetryMaxAttempts,
			InitialBackoff:    time.Duration(cfg.RetryInitialBackoff) * time.Millisecond,
			MaxBackoff:        5 * time.Second,
			BackoffMultiplier: 2.0,
		},
		circuitBreaker: resilience.NewCircuitBreaker(
			"notes",
			cfg.CircuitBreakerMaxFailures,
			time.Duration(cfg.CircuitBreakerResetTimeout)*time.Second,
		),
		logger: observability.GetLogger().With().Str("component", "notes").Logger(),
	}
}

// noteContent is the JSON shape the model is instructed to return.
type noteContent struct {
	Subjective string   `json:"subjective"`
	Objective  string   `json:"objective"`
	Assessment string   `json:"assessment"`
	Plan       string   `json:"plan"`
	Confidence float64  `json:"confidence"`
	Warnings   []string `json:"warnings"`
}

// Generate produces a clinical note from a visit transcript.
func (g *Gateway) Generate(ctx context.Context, req Request) (*ClinicalNote, error) {
	if !g.configured {
		return nil, ErrNotConfigured
	}
	if strings.TrimSpace(req.Transcription) == "" {
		return nil, fmt.Errorf("transcription is empty")
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	chatReq := openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
		Temperature: 0.3,
		MaxTokens:   2000,
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
	}

	started := time.Now()

	var resp openai.ChatCompletionResponse
	err := g.circuitBreaker.Call(func() error {
		return resilience.Retry(func() error {
			var callErr error
			resp, callErr = g.client.CreateChatCompletion(ctx, chatReq)
			return callErr
		}, g.retryConfig, resilience.IsRetryableNetworkError)
	})
	observability.UpdateCircuitBreakerState("notes", int(g.circuitBreaker.GetState()))
	if err != nil {
		return nil, fmt.Errorf("note generation failed: %w", err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("note generation returned no choices")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return nil, fmt.Errorf("note generation returned empty content")
	}

	var parsed noteContent
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse note content: %w", err)
	}

	note := &ClinicalNote{
		Subjective:  withDefault(parsed.Subjective, "No subjective information provided."),
		Objective:   withDefault(parsed.Objective, "No objective findings documented."),
		Assessment:  withDefault(parsed.Assessment, "Assessment not completed."),
		Plan:        withDefault(parsed.Plan, "Plan to be determined."),
		Confidence:  parsed.Confidence,
		Warnings:    parsed.Warnings,
		GeneratedAt: time.Now().UTC(),
	}
	if note.Confidence == 0 {
		note.Confidence = 0.8
	}

	g.logger.Info().
		Dur("latency", time.Since(started)).
		Float64("confidence", note.Confidence).
		Int("warnings", len(note.Warnings)).
		Msg("Clinical note generated")

	return note, nil
}

func withDefault(value, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return value
}

const systemPrompt = `You are an AI assistant specialized in creating medical SOAP notes from patient-provider conversation transcriptions. Your role is to analyze the conversation and extract relevant information to create a structured SOAP note.

IMPORTANT GUIDELINES:
1. Only include information explicitly mentioned in the transcription
2. Do not make assumptions or add information not present in the conversation
3. Use medical terminology appropriately but ensure clarity
4. If information is unclear or missing, note it explicitly
5. Always include disclaimers about AI-generated content requiring physician review
6. Maintain patient confidentiality and professional medical standards

OUTPUT FORMAT:
Return a JSON object with the following structure:
{
  "subjective": "Patient's reported symptoms, concerns, and history as stated",
  "objective": "Observable findings, vital signs, physical exam results mentioned",
  "assessment": "Clinical interpretation and diagnosis based on the information provided",
  "plan": "Treatment plan, follow-up instructions, and next steps discussed",
  "confidence": 0.8,
  "warnings": ["List any concerns about missing information or unclear statements"]
}

Remember: This is AI-generated content that requires review and validation by a licensed healthcare provider.`

// buildPrompt assembles the user message from the transcript and any chart
// context supplied with the request.
func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("Please create a SOAP note from the following patient-provider conversation transcription:\n\n")
	b.WriteString("TRANSCRIPTION:\n")
	b.WriteString(req.Transcription)
	b.WriteString("\n\n")

	if p := req.Patient; p != nil {
		b.WriteString("PATIENT CONTEXT:\n")
		fmt.Fprintf(&b, "Name: %s\n", p.Name)
		if p.Age > 0 {
			fmt.Fprintf(&b, "Age: %d\n", p.Age)
		}
		if len(p.MedicalHistory) > 0 {
			fmt.Fprintf(&b, "Medical History: %s\n", strings.Join(p.MedicalHistory, ", "))
		}
		if len(p.Allergies) > 0 {
			fmt.Fprintf(&b, "Allergies: %s\n", strings.Join(p.Allergies, ", "))
		}
		if len(p.CurrentMedications) > 0 {
			fmt.Fprintf(&b, "Current Medications: %s\n", strings.Join(p.CurrentMedications, ", "))
		}
		b.WriteString("\n")
	}

	if req.VisitType != "" {
		fmt.Fprintf(&b, "VISIT TYPE: %s\n\n", req.VisitType)
	}
	if req.ChiefComplaint != "" {
		fmt.Fprintf(&b, "CHIEF COMPLAINT: %s\n\n", req.ChiefComplaint)
	}

	b.WriteString(`Please analyze this transcription and create a comprehensive SOAP note. Focus on:
- Extracting only information explicitly mentioned in the conversation
- Organizing information into appropriate SOAP sections
- Noting any areas where information is unclear or missing
- Providing a confidence score based on the clarity and completeness of the transcription

Return the response as a JSON object as specified in your system instructions.`)

	return b.String()
}
