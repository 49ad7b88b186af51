package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/prompts"
	"github.com/echonote-ai/echonote/pkg/trace"
)

const (
	geminiDefaultModel = "gemini-2.0-flash"
	geminiCallTimeout  = 30 * time.Second
	geminiMaxRetries   = 2
	geminiRetryDelay   = 500 * time.Millisecond
)

// GeminiProvider implements ChunkTranscriber with a multimodal structured
// output call: one request returns transcript, optional translation, and
// the partial/new-topic flags.
type GeminiProvider struct {
	client *genai.Client
	model  string
}

// GeminiConfig holds configuration for GeminiProvider.
type GeminiConfig struct {
	// APIKey is the Google AI API key (required).
	APIKey string
	// Model defaults to gemini-2.0-flash.
	Model string
}

// NewGeminiProvider creates the batch-structured provider.
func NewGeminiProvider(ctx context.Context, cfg GeminiConfig) (*GeminiProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "Gemini API key is required"}
	}
	if cfg.Model == "" {
		cfg.Model = geminiDefaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: cfg.APIKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, &Error{Code: ErrCodeProviderError, Message: "failed to create Gemini client", Err: err}
	}

	return &GeminiProvider{client: client, model: cfg.Model}, nil
}

func (p *GeminiProvider) Name() string {
	return "gemini"
}

// geminiTranscription mirrors the response schema.
type geminiTranscription struct {
	Transcript       string `json:"transcript"`
	Translation      string `json:"translation,omitempty"`
	DetectedLanguage string `json:"detected_language"`
	IsPartial        bool   `json:"is_partial"`
	IsNewTopic       bool   `json:"is_new_topic"`
}

// TranscribeChunk wraps the chunk in WAV and issues one structured call.
// Retries twice on transient failure with a 30s per-call budget.
func (p *GeminiProvider) TranscribeChunk(ctx context.Context, req ChunkRequest) (*Result, error) {
	if len(req.PCM) == 0 {
		return nil, &Error{Code: ErrCodeInvalidAudio, Message: "audio chunk is empty"}
	}

	prompt, err := p.buildPrompt(req)
	if err != nil {
		return nil, err
	}

	wav := audio.PCMToWAV(req.PCM, audio.SampleRate)
	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{Text: prompt},
			{InlineData: &genai.Blob{MIMEType: "audio/wav", Data: wav}},
		},
	}}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0),
		ResponseMIMEType: "application/json",
		ResponseSchema:   p.responseSchema(req),
	}

	var lastErr error
	for attempt := 0; attempt <= geminiMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(geminiRetryDelay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		result, err := p.generate(ctx, contents, config, len(wav))
		if err == nil {
			return result, nil
		}
		lastErr = err
		log.Printf("[Gemini] Transcription attempt %d/%d failed: %v", attempt+1, geminiMaxRetries+1, err)
	}

	return nil, &Error{Code: ErrCodeProviderError, Message: "Gemini transcription failed", Err: lastErr}
}

func (p *GeminiProvider) generate(ctx context.Context, contents []*genai.Content, config *genai.GenerateContentConfig, audioSize int) (*Result, error) {
	callCtx, cancel := context.WithTimeout(ctx, geminiCallTimeout)
	defer cancel()

	callCtx, span := trace.InstrumentSTTRequest(callCtx, p.Name(), audioSize)
	defer span.End()

	resp, err := p.client.Models.GenerateContent(callCtx, p.model, contents, config)
	if err != nil {
		trace.RecordError(span, err)
		return nil, err
	}

	text := firstCandidateText(resp)
	if text == "" {
		return nil, fmt.Errorf("empty model response")
	}

	var parsed geminiTranscription
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("malformed structured response: %w", err)
	}

	result := &Result{
		Transcript:   strings.TrimSpace(parsed.Transcript),
		Translation:  strings.TrimSpace(parsed.Translation),
		DetectedLang: NormalizeLanguage(parsed.DetectedLanguage),
		IsPartial:    parsed.IsPartial,
		IsNewTopic:   parsed.IsNewTopic,
	}
	if resp.UsageMetadata != nil {
		result.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		result.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return result, nil
}

func (p *GeminiProvider) buildPrompt(req ChunkRequest) (string, error) {
	rule := "Translation is disabled: leave any translation field empty."
	if req.TranslationEnabled {
		rule = fmt.Sprintf("Translate the transcript into %s in the translation field.", req.TargetLang)
	}

	prompt, err := prompts.Render("transcribe", map[string]string{
		"sourceLang":      req.SourceLang,
		"translationRule": rule,
		"context":         strings.Join(req.Context, "\n"),
	})
	if err != nil {
		return "", &Error{Code: ErrCodeInvalidConfig, Message: "missing transcribe template", Err: err}
	}
	return prompt, nil
}

// responseSchema constrains the structured output. The language enum is
// {source, target, en} with duplicates removed; the translation property
// is omitted entirely when translation is disabled.
func (p *GeminiProvider) responseSchema(req ChunkRequest) *genai.Schema {
	properties := map[string]*genai.Schema{
		"transcript": {Type: genai.TypeString},
		"detected_language": {
			Type: genai.TypeString,
			Enum: languageEnum(req.SourceLang, req.TargetLang),
		},
		"is_partial":   {Type: genai.TypeBoolean},
		"is_new_topic": {Type: genai.TypeBoolean},
	}
	required := []string{"transcript", "detected_language", "is_partial", "is_new_topic"}

	if req.TranslationEnabled {
		properties["translation"] = &genai.Schema{Type: genai.TypeString}
		required = append(required, "translation")
	}

	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: properties,
		Required:   required,
	}
}

// languageEnum returns {source, target, "en"} minus duplicates, preserving
// order.
func languageEnum(source, target string) []string {
	var out []string
	for _, lang := range []string{source, target, "en"} {
		lang = NormalizeLanguage(lang)
		if lang == "auto" {
			continue
		}
		dup := false
		for _, seen := range out {
			if seen == lang {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, lang)
		}
	}
	if len(out) == 0 {
		out = append(out, "en")
	}
	return out
}

func firstCandidateText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	return b.String()
}

func (p *GeminiProvider) Close() error {
	return nil
}
