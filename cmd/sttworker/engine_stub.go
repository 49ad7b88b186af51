//go:build !whisper

package main

import (
	"fmt"

	"github.com/echonote-ai/echonote/pkg/stt/localproto"
)

// stubEngine rejects every load so a worker built without the whisper
// tag fails at session start instead of silently dropping audio.
type stubEngine struct{}

var _ localproto.Handler = stubEngine{}

func newEngine(string) localproto.Handler {
	return stubEngine{}
}

func (stubEngine) Load(modelID string) error {
	return fmt.Errorf("worker built without whisper support; rebuild with -tags whisper")
}

func (stubEngine) Transcribe(string, []float32, []string) (string, error) {
	return "", fmt.Errorf("worker built without whisper support")
}
