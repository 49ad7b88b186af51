package session

import (
	"fmt"
	"time"

	"github.com/echonote-ai/echonote/pkg/stt"
)

// ProviderKind selects the pipeline shape.
type ProviderKind string

const (
	// ProviderBatchStructured transcribes and translates VAD chunks in one
	// structured model call.
	ProviderBatchStructured ProviderKind = "batch-structured"
	// ProviderRealtimeStream feeds raw PCM to a websocket STT connection.
	ProviderRealtimeStream ProviderKind = "realtime-stream"
	// ProviderLocal sends VAD chunks to the forked on-device worker.
	ProviderLocal ProviderKind = "local"
	// ProviderBatchSTTPost transcribes chunks with a plain STT call and
	// runs an LLM post-process for translation and flags.
	ProviderBatchSTTPost ProviderKind = "batch-stt-post"
)

// micGrace is the window after mic speech during which system audio is
// suppressed.
const micGrace = 300 * time.Millisecond

// Config assembles a Session.
type Config struct {
	// SessionID defaults to a fresh UUID.
	SessionID string

	Provider ProviderKind

	// Chunk is required for every provider kind except realtime-stream.
	Chunk stt.ChunkTranscriber
	// Stream is required for realtime-stream.
	Stream stt.StreamTranscriber

	// Analyzer runs the post-transcription model calls (required).
	Analyzer AnalysisEngine
	// Store is the persistence collaborator (required).
	Store Store

	// Cost lets the caller share one accumulator between the session and
	// the analyzer. Nil gets a fresh accumulator.
	Cost *CostAccumulator

	SourceLang         string
	TargetLang         string
	TranslationEnabled bool

	// SourceLabel / TargetLabel are display names stored on blocks.
	SourceLabel string
	TargetLabel string

	// Debug gates verbose status emissions.
	Debug bool

	// ParagraphDecisionInterval overrides the 10s default in tests.
	ParagraphDecisionInterval time.Duration
	// SchedulerOverrides tightens scheduler timings in tests.
	SchedulerOverrides *SchedulerConfig
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderRealtimeStream:
		if c.Stream == nil {
			return fmt.Errorf("provider %s requires a stream transcriber", c.Provider)
		}
	case ProviderBatchStructured, ProviderLocal, ProviderBatchSTTPost:
		if c.Chunk == nil {
			return fmt.Errorf("provider %s requires a chunk transcriber", c.Provider)
		}
	default:
		return fmt.Errorf("unknown provider kind %q", c.Provider)
	}
	if c.Analyzer == nil {
		return fmt.Errorf("analyzer is required")
	}
	if c.Store == nil {
		return fmt.Errorf("store is required")
	}
	return nil
}

// bufferingMode reports whether commits flow through the paragraph
// buffer: the realtime stream with translation off, and the local
// provider.
func (c *Config) bufferingMode() bool {
	switch c.Provider {
	case ProviderLocal:
		return true
	case ProviderRealtimeStream:
		return !c.TranslationEnabled
	}
	return false
}

// StopOptions tunes StopRecording.
type StopOptions struct {
	// FlushRemaining pushes the VAD remainder through transcription.
	FlushRemaining bool
	// CommitPending force-commits buffered paragraphs.
	CommitPending bool
	// ClearQueue drops still-queued chunks instead of letting them drain.
	ClearQueue bool
}
