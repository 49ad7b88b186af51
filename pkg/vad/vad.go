// Package vad segments a raw PCM stream into speech chunks.
//
// The segmenter consumes arbitrary-size writes of 16 kHz mono s16le PCM,
// classifies fixed 100 ms windows as speech or silence, and emits chunks
// bounded by a silence flush and a maximum chunk length. It is a pure
// function of the byte stream: there are no failure modes.
package vad

import (
	"github.com/echonote-ai/echonote/pkg/audio"
)

// Classifier decides whether a single analysis window contains speech.
// Score is classifier-specific (RMS energy for the default classifier,
// speech probability for the model-based one) and is exposed only for
// observability and the mic-priority rule.
type Classifier interface {
	Classify(window []byte) (speech bool, score float64)
	Reset()
}

// EnergyClassifier classifies windows by RMS energy against a threshold.
type EnergyClassifier struct {
	Threshold float64
}

// NewEnergyClassifier returns an energy classifier with the given RMS
// threshold. The microphone source conventionally uses a higher threshold
// than system loopback audio.
func NewEnergyClassifier(threshold float64) *EnergyClassifier {
	if threshold <= 0 {
		threshold = DefaultSilenceThreshold
	}
	return &EnergyClassifier{Threshold: threshold}
}

func (c *EnergyClassifier) Classify(window []byte) (bool, float64) {
	rms := audio.RMS(window)
	return rms >= c.Threshold, rms
}

func (c *EnergyClassifier) Reset() {}
