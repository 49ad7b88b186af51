// Package stt provides the transcription provider contract and its four
// implementations: batch structured (Gemini), batch STT (Whisper),
// realtime streaming (websocket), and local (forked worker process).
//
// Providers expose one of two capabilities:
//   - chunk mode: a segmented speech chunk in, one result out
//   - stream mode: raw PCM writes in, partial/committed events out
package stt

import (
	"context"
	"strings"
)

// Result is the outcome of transcribing one speech chunk.
type Result struct {
	// Transcript is the recognized text in the spoken language.
	Transcript string

	// Translation is the target-language rendering, empty when translation
	// is disabled or the provider does not translate.
	Translation string

	// DetectedLang is the language the provider believes was spoken.
	DetectedLang string

	// IsPartial marks a transcript that ends mid-sentence.
	IsPartial bool

	// IsNewTopic marks a clear topic change relative to the context.
	IsNewTopic bool

	// TokensIn / TokensOut are the billable token counts of the call
	// (estimated when the provider does not report usage).
	TokensIn  int
	TokensOut int
}

// ChunkRequest carries one segmented chunk to a chunk-mode provider.
type ChunkRequest struct {
	// PCM is 16 kHz mono s16le audio.
	PCM []byte

	SourceLang string
	TargetLang string

	// TranslationEnabled asks structured providers to translate into
	// TargetLang in the same call.
	TranslationEnabled bool

	// Context is the rolling window of recent transcript sentences.
	Context []string
}

// ChunkTranscriber is the chunk-mode capability.
type ChunkTranscriber interface {
	// Name returns the provider name used for pricing and logs.
	Name() string

	// TranscribeChunk transcribes one speech chunk.
	TranscribeChunk(ctx context.Context, req ChunkRequest) (*Result, error)

	// Close releases provider resources.
	Close() error
}

// StreamEventKind discriminates stream events.
type StreamEventKind int

const (
	// StreamPartial carries the latest partial transcript for the stream.
	// An empty text supersedes and clears the previous partial.
	StreamPartial StreamEventKind = iota
	// StreamCommitted carries a finalized paragraph with a language hint.
	StreamCommitted
	// StreamClosed signals the stream will emit no further events.
	StreamClosed
)

// StreamEvent is one message from a stream-mode provider.
type StreamEvent struct {
	Kind     StreamEventKind
	Text     string
	LangHint string
	Err      error
}

// Stream is a live transcription connection for one audio source.
type Stream interface {
	// Write sends raw PCM. Safe to call during reconnects; audio written
	// while the connection is down is buffered within a bounded window.
	Write(pcm []byte) error

	// Events returns the event channel. Closed when the stream closes.
	Events() <-chan StreamEvent

	// Close tears the stream down. Callers close streams before shutting
	// down capture.
	Close() error
}

// StreamTranscriber is the stream-mode capability.
type StreamTranscriber interface {
	Name() string

	// OpenStream opens one long-lived connection for the given audio
	// source label ("system" or "microphone").
	OpenStream(ctx context.Context, source, language string) (Stream, error)

	Close() error
}

// Error is the typed provider error.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

type ErrorCode int

const (
	ErrCodeUnknown ErrorCode = iota
	ErrCodeInvalidConfig
	ErrCodeInvalidAudio
	ErrCodeAuthenticationFailed
	ErrCodeNetworkError
	ErrCodeTimeout
	ErrCodeProviderError
	ErrCodeWorkerDisposed
	ErrCodeDegenerateTranscript
)

// SupportedLanguages is the fixed set of language codes the engine
// recognizes, beyond "auto".
var SupportedLanguages = []string{
	"en", "zh", "ja", "ko", "es", "fr", "de", "it", "pt", "ru", "ar", "hi", "nl",
}

// NormalizeLanguage reduces a locale-style code ("en-US", "zh_CN") to its
// ISO 639-1 base and validates it against the supported set. Unknown or
// empty codes map to "auto".
func NormalizeLanguage(code string) string {
	if code == "" || code == "auto" {
		return "auto"
	}

	base := strings.ToLower(code)
	if len(base) > 2 && (base[2] == '-' || base[2] == '_') {
		base = base[:2]
	}

	for _, l := range SupportedLanguages {
		if l == base {
			return base
		}
	}
	return "auto"
}
