//go:build vad

package vad

import (
	"fmt"

	"github.com/streamer45/silero-vad-go/speech"

	"github.com/echonote-ai/echonote/pkg/audio"
)

// SileroClassifier classifies windows with the Silero VAD model instead of
// RMS energy. It trades CPU for robustness against low-volume speech and
// non-speech noise. Only 16 kHz input is supported.
type SileroClassifier struct {
	detector *speech.Detector
	inSpeech bool
}

// SileroConfig holds configuration for the model-based classifier.
type SileroConfig struct {
	// ModelPath is the path to the silero_vad.onnx file (required).
	ModelPath string
	// Threshold is the speech probability threshold (default 0.5).
	Threshold float32
}

// NewSileroClassifier creates a classifier backed by the Silero VAD model.
func NewSileroClassifier(cfg SileroConfig) (*SileroClassifier, error) {
	if cfg.ModelPath == "" {
		return nil, fmt.Errorf("model path is required")
	}
	if cfg.Threshold == 0 {
		cfg.Threshold = 0.5
	}

	detector, err := speech.NewDetector(speech.DetectorConfig{
		ModelPath:            cfg.ModelPath,
		SampleRate:           audio.SampleRate,
		Threshold:            cfg.Threshold,
		MinSilenceDurationMs: WindowMs,
		SpeechPadMs:          30,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}

	return &SileroClassifier{detector: detector}, nil
}

func (c *SileroClassifier) Classify(window []byte) (bool, float64) {
	segments, err := c.detector.Detect(audio.PCMToFloat32(window))
	if err != nil {
		// Fall through to the previous state on inference errors; the
		// energy path has no failure modes and this one should not stall
		// the stream either.
		return c.inSpeech, 0
	}

	for _, seg := range segments {
		if seg.SpeechStartAt > 0 {
			c.inSpeech = true
		}
		if seg.SpeechEndAt > 0 {
			c.inSpeech = false
		}
	}

	if c.inSpeech {
		return true, 1
	}
	return false, 0
}

func (c *SileroClassifier) Reset() {
	c.detector.Reset()
	c.inSpeech = false
}

// Destroy releases the model resources.
func (c *SileroClassifier) Destroy() error {
	return c.detector.Destroy()
}
