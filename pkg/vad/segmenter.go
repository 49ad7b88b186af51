package vad

import (
	"github.com/echonote-ai/echonote/pkg/audio"
)

const (
	// WindowMs is the analysis window length.
	WindowMs = 100
	// WindowBytes is the window length in bytes at 16 kHz s16le mono.
	WindowBytes = audio.SampleRate * audio.BytesPerSample * WindowMs / 1000

	// DefaultSilenceThreshold is the RMS threshold for system audio.
	DefaultSilenceThreshold = 200
	// DefaultMicSilenceThreshold is the RMS threshold for microphone audio,
	// higher to reject breath and keyboard noise close to the mic.
	DefaultMicSilenceThreshold = 500

	// DefaultFlushSilenceMs of continuous silence ends an utterance.
	DefaultFlushSilenceMs = 450
	// DefaultMinChunkMs below which a buffered utterance is discarded.
	DefaultMinChunkMs = 500
	// DefaultMaxChunkMs forces a flush mid-utterance. A value of 0 disables
	// the cap; the local provider prefers natural-break chunks.
	DefaultMaxChunkMs = 4000
)

// Config holds segmenter tuning. Zero fields take the defaults above.
type Config struct {
	Classifier     Classifier
	FlushSilenceMs int
	MinChunkMs     int
	MaxChunkMs     int // 0 disables the max-length flush
	maxSet         bool
}

// DisableMaxChunk returns a copy of the config with the max-length flush
// turned off (distinct from "use default").
func (c Config) DisableMaxChunk() Config {
	c.MaxChunkMs = 0
	c.maxSet = true
	return c
}

// Stats exposes segmenter counters for observability. They must not
// influence segmentation.
type Stats struct {
	PeakScore   float64
	WindowCount int
}

// Segmenter is the per-source VAD state machine. It is not safe for
// concurrent use; each audio source owns one.
type Segmenter struct {
	classifier     Classifier
	flushSilenceMs int
	minChunkMs     int
	maxChunkMs     int

	analysisBuffer []byte
	speechBuffer   []byte
	silenceMs      int
	speechStarted  bool

	stats Stats

	// OnSpeechWindow, when set, is invoked for every window classified as
	// speech. The session uses it to drive the mic-priority rule.
	OnSpeechWindow func(score float64)
}

// NewSegmenter creates a segmenter with the given config.
func NewSegmenter(cfg Config) *Segmenter {
	if cfg.Classifier == nil {
		cfg.Classifier = NewEnergyClassifier(DefaultSilenceThreshold)
	}
	if cfg.FlushSilenceMs == 0 {
		cfg.FlushSilenceMs = DefaultFlushSilenceMs
	}
	if cfg.MinChunkMs == 0 {
		cfg.MinChunkMs = DefaultMinChunkMs
	}
	if cfg.MaxChunkMs == 0 && !cfg.maxSet {
		cfg.MaxChunkMs = DefaultMaxChunkMs
	}

	return &Segmenter{
		classifier:     cfg.Classifier,
		flushSilenceMs: cfg.FlushSilenceMs,
		minChunkMs:     cfg.MinChunkMs,
		maxChunkMs:     cfg.MaxChunkMs,
	}
}

// Write appends PCM to the segmenter and returns any chunks whose
// utterance completed inside this write. The analysis buffer never holds
// a full window after Write returns.
func (s *Segmenter) Write(pcm []byte) [][]byte {
	s.analysisBuffer = append(s.analysisBuffer, pcm...)

	var chunks [][]byte
	for len(s.analysisBuffer) >= WindowBytes {
		window := s.analysisBuffer[:WindowBytes]
		s.analysisBuffer = s.analysisBuffer[WindowBytes:]

		if chunk := s.processWindow(window); chunk != nil {
			chunks = append(chunks, chunk)
		}
	}
	return chunks
}

func (s *Segmenter) processWindow(window []byte) []byte {
	speech, score := s.classifier.Classify(window)

	s.stats.WindowCount++
	if score > s.stats.PeakScore {
		s.stats.PeakScore = score
	}

	if speech && s.OnSpeechWindow != nil {
		s.OnSpeechWindow(score)
	}

	if !s.speechStarted {
		if !speech {
			return nil // idle silence is discarded
		}
		s.speechStarted = true
		s.silenceMs = 0
		s.speechBuffer = append(s.speechBuffer[:0], window...)
		return nil
	}

	// Speaking: silent windows are kept so trailing breath survives.
	s.speechBuffer = append(s.speechBuffer, window...)
	if speech {
		s.silenceMs = 0
	} else {
		s.silenceMs += WindowMs
	}

	bufferedMs := audio.DurationMs(s.speechBuffer)
	if s.silenceMs >= s.flushSilenceMs || (s.maxChunkMs > 0 && bufferedMs >= s.maxChunkMs) {
		return s.emit()
	}
	return nil
}

// emit drains the speech buffer and returns it as a chunk if it meets the
// minimum length, returning to the idle state either way.
func (s *Segmenter) emit() []byte {
	var chunk []byte
	if audio.DurationMs(s.speechBuffer) >= s.minChunkMs {
		chunk = make([]byte, len(s.speechBuffer))
		copy(chunk, s.speechBuffer)
	}

	s.speechBuffer = s.speechBuffer[:0]
	s.speechStarted = false
	s.silenceMs = 0
	return chunk
}

// Flush forces emission of whatever speech is buffered, if it meets the
// minimum chunk length. Used at stop and shutdown.
func (s *Segmenter) Flush() []byte {
	if !s.speechStarted {
		return nil
	}
	return s.emit()
}

// Pending returns the bytes currently buffered for the open utterance.
func (s *Segmenter) Pending() int {
	return len(s.speechBuffer)
}

// Reset clears all segmenter state including statistics.
func (s *Segmenter) Reset() {
	s.analysisBuffer = nil
	s.speechBuffer = nil
	s.silenceMs = 0
	s.speechStarted = false
	s.stats = Stats{}
	s.classifier.Reset()
}

// Stats returns the current counters.
func (s *Segmenter) Stats() Stats {
	return s.stats
}
