//go:build whisper

package main

import (
	"fmt"
	"io"
	"log"
	"path/filepath"
	"strings"
	"time"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/echonote-ai/echonote/pkg/stt/localproto"
)

// whisperEngine runs recognition through the whisper.cpp CGO bindings.
// The model is loaded once and reused; each transcribe gets a fresh
// whisper context.
type whisperEngine struct {
	modelDir string
	model    whisperlib.Model
}

var _ localproto.Handler = (*whisperEngine)(nil)

func newEngine(modelDir string) localproto.Handler {
	return &whisperEngine{modelDir: modelDir}
}

func (e *whisperEngine) Load(modelID string) error {
	if e.model != nil {
		return nil
	}
	if modelID == "" {
		modelID = "base"
	}

	path := filepath.Join(e.modelDir, fmt.Sprintf("ggml-%s.bin", modelID))
	start := time.Now()
	model, err := whisperlib.New(path)
	if err != nil {
		return fmt.Errorf("load model %q: %w", path, err)
	}

	e.model = model
	log.Printf("model %s loaded in %s", modelID, time.Since(start).Round(time.Millisecond))
	return nil
}

func (e *whisperEngine) Transcribe(modelID string, audio []float32, languageHints []string) (string, error) {
	if e.model == nil {
		if err := e.Load(modelID); err != nil {
			return "", err
		}
	}

	wctx, err := e.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("create context: %w", err)
	}

	// whisper.cpp takes a single language; the first hint wins.
	if len(languageHints) > 0 {
		if err := wctx.SetLanguage(languageHints[0]); err != nil {
			log.Printf("language hint %q rejected: %v", languageHints[0], err)
		}
	}

	if err := wctx.Process(audio, nil, nil, nil); err != nil {
		return "", fmt.Errorf("process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		parts = append(parts, strings.TrimSpace(segment.Text))
	}

	return strings.Join(parts, " "), nil
}
