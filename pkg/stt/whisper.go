package stt

import (
	"bytes"
	"context"
	"log"
	"os"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/trace"
)

const whisperCallTimeout = 30 * time.Second

// WhisperProvider implements ChunkTranscriber with a one-shot Whisper
// transcription call. It returns transcript and language hint only; the
// engine runs the translation post-process separately when enabled.
type WhisperProvider struct {
	client *openai.Client
	model  string
}

// WhisperConfig holds configuration for WhisperProvider.
type WhisperConfig struct {
	// APIKey is the OpenAI API key (required).
	APIKey string
	// Model defaults to whisper-1.
	Model string
}

// NewWhisperProvider creates the batch-STT provider.
func NewWhisperProvider(cfg WhisperConfig) (*WhisperProvider, error) {
	if cfg.APIKey == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "OpenAI API key is required"}
	}
	if cfg.Model == "" {
		cfg.Model = openai.Whisper1
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if baseURL := os.Getenv("OPENAI_BASE_URL"); baseURL != "" {
		clientConfig.BaseURL = baseURL
		log.Printf("[Whisper] Using BaseURL: %s", baseURL)
	}

	return &WhisperProvider{
		client: openai.NewClientWithConfig(clientConfig),
		model:  cfg.Model,
	}, nil
}

func (p *WhisperProvider) Name() string {
	return "whisper"
}

// TranscribeChunk sends the WAV-wrapped chunk to the transcription
// endpoint. Verbose JSON is requested so the detected language comes back
// with the text.
func (p *WhisperProvider) TranscribeChunk(ctx context.Context, req ChunkRequest) (*Result, error) {
	if len(req.PCM) == 0 {
		return nil, &Error{Code: ErrCodeInvalidAudio, Message: "audio chunk is empty"}
	}

	callCtx, cancel := context.WithTimeout(ctx, whisperCallTimeout)
	defer cancel()

	callCtx, span := trace.InstrumentSTTRequest(callCtx, p.Name(), len(req.PCM))
	defer span.End()

	wav := audio.PCMToWAV(req.PCM, audio.SampleRate)
	audioReq := openai.AudioRequest{
		Model:    p.model,
		FilePath: "chunk.wav", // filename hint only; data comes from Reader
		Reader:   bytes.NewReader(wav),
		Format:   openai.AudioResponseFormatVerboseJSON,
	}
	if lang := NormalizeLanguage(req.SourceLang); lang != "auto" {
		audioReq.Language = lang
	}
	if len(req.Context) > 0 {
		audioReq.Prompt = strings.Join(req.Context, " ")
	}

	resp, err := p.client.CreateTranscription(callCtx, audioReq)
	if err != nil {
		trace.RecordError(span, err)
		return nil, &Error{Code: ErrCodeProviderError, Message: "Whisper request failed", Err: err}
	}

	return &Result{
		Transcript:   strings.TrimSpace(resp.Text),
		DetectedLang: NormalizeLanguage(resp.Language),
		TokensIn:     estimateAudioTokens(len(req.PCM)),
		TokensOut:    estimateTextTokens(resp.Text),
	}, nil
}

func (p *WhisperProvider) Close() error {
	return nil
}

// estimateAudioTokens approximates billable audio tokens from PCM length.
// Whisper bills per second; the accumulator works in tokens, so one token
// per 100ms of audio keeps the cost curve proportional.
func estimateAudioTokens(pcmBytes int) int {
	return pcmBytes / (audio.SampleRate * audio.BytesPerSample / 10)
}

// estimateTextTokens approximates tokens as chars/4, the usual heuristic.
func estimateTextTokens(text string) int {
	return (len(text) + 3) / 4
}
