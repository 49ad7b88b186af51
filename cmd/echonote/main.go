package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/echonote-ai/echonote/pkg/capture"
	"github.com/echonote-ai/echonote/pkg/llm"
	"github.com/echonote-ai/echonote/pkg/session"
	"github.com/echonote-ai/echonote/pkg/stt"
	"github.com/echonote-ai/echonote/pkg/trace"
)

var (
	providerFlag = flag.String("provider", "gemini", "transcription provider: gemini, whisper, realtime, local")
	sourceLang   = flag.String("source", "auto", "source language code")
	targetLang   = flag.String("target", "en", "target language code")
	translate    = flag.Bool("translate", true, "translate committed blocks into the target language")
	micFlag      = flag.Bool("mic", false, "also capture the microphone")
	sttModel     = flag.String("stt-model", "", "provider model override")
	llmModel     = flag.String("llm-model", "gpt-4o-mini", "analysis model")
	workerPath   = flag.String("worker", "echonote-sttworker", "local STT worker executable")
)

func main() {
	godotenv.Load()
	flag.Parse()

	ctx := context.Background()

	if os.Getenv("TRACE_EXPORTER") != "" {
		if err := trace.Initialize(ctx, trace.DefaultConfig()); err != nil {
			log.Printf("[Main] Tracing disabled: %v", err)
		} else {
			defer trace.Shutdown(context.Background())
		}
	}

	cfg, err := buildConfig(ctx)
	if err != nil {
		log.Fatal(err)
	}

	s, err := session.New(*cfg)
	if err != nil {
		log.Fatal(err)
	}
	if err := s.Initialize(ctx); err != nil {
		log.Fatal(err)
	}

	events := make(chan session.Event, 256)
	s.Bus().SubscribeAll(events)
	go printEvents(events)

	if err := s.StartRecording(ctx, false); err != nil {
		log.Fatal(err)
	}

	recorder, err := capture.NewRecorder(capture.Config{
		OnMic:    micSink(s, *micFlag),
		OnSystem: s.FeedSystemAudio,
	})
	if err != nil {
		log.Fatal(err)
	}
	if *micFlag {
		if err := s.StartMic(); err != nil {
			log.Fatal(err)
		}
	}
	if err := recorder.Start(); err != nil {
		log.Fatal(err)
	}

	log.Printf("[Main] Session %s recording, Ctrl-C to stop", s.ID())

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	recorder.Close()
	if err := s.Shutdown(context.Background()); err != nil {
		log.Printf("[Main] Shutdown error: %v", err)
	}

	cost := s.Cost()
	log.Printf("[Main] Session cost: $%.4f (%d in / %d out tokens)",
		cost.TotalCost, cost.TotalInputTokens, cost.TotalOutputTokens)
}

// micSink returns the mic callback, or nil when mic capture is off so the
// recorder skips the device entirely.
func micSink(s *session.Session, enabled bool) func([]byte) {
	if !enabled {
		return nil
	}
	return s.FeedMicAudio
}

func buildConfig(ctx context.Context) (*session.Config, error) {
	analysisClient, err := llm.New(llm.Config{
		APIKey: os.Getenv("OPENAI_API_KEY"),
		Model:  *llmModel,
	})
	if err != nil {
		return nil, fmt.Errorf("analysis client: %w", err)
	}

	cost := session.NewCostAccumulator()
	cfg := &session.Config{
		Analyzer:           session.NewAnalyzer(analysisClient, analysisClient, analysisClient, cost),
		Store:              session.NewMemoryStore(),
		Cost:               cost,
		SourceLang:         *sourceLang,
		TargetLang:         *targetLang,
		TranslationEnabled: *translate,
		Debug:              debugFromEnv(),
	}

	switch *providerFlag {
	case "gemini":
		cfg.Provider = session.ProviderBatchStructured
		cfg.Chunk, err = stt.NewGeminiProvider(ctx, stt.GeminiConfig{
			APIKey: os.Getenv("GEMINI_API_KEY"),
			Model:  *sttModel,
		})
	case "whisper":
		cfg.Provider = session.ProviderBatchSTTPost
		cfg.Chunk, err = stt.NewWhisperProvider(stt.WhisperConfig{
			APIKey: os.Getenv("OPENAI_API_KEY"),
			Model:  *sttModel,
		})
	case "realtime":
		cfg.Provider = session.ProviderRealtimeStream
		cfg.Stream, err = stt.NewRealtimeProvider(stt.RealtimeConfig{
			URL:    os.Getenv("REALTIME_STT_URL"),
			APIKey: os.Getenv("REALTIME_STT_API_KEY"),
			Model:  *sttModel,
		})
	case "local":
		cfg.Provider = session.ProviderLocal
		cfg.Chunk, err = stt.NewLocalProvider(stt.LocalConfig{
			WorkerPath: *workerPath,
			ModelID:    *sttModel,
		})
	default:
		return nil, fmt.Errorf("unknown provider %q", *providerFlag)
	}
	if err != nil {
		return nil, fmt.Errorf("provider %s: %w", *providerFlag, err)
	}

	return cfg, nil
}

// debugFromEnv reads the DEBUG environment variable.
func debugFromEnv() bool {
	switch os.Getenv("DEBUG") {
	case "1", "true":
		return true
	}
	return false
}

func printEvents(events chan session.Event) {
	for ev := range events {
		switch ev.Type {
		case session.EventBlockAdded:
			block := ev.Payload.(*session.TranscriptBlock)
			fmt.Printf("\n[%d] %s: %s\n", block.ID, block.SourceLabel, block.SourceText)
			if block.Translation != "" {
				fmt.Printf("    %s: %s\n", block.TargetLabel, block.Translation)
			}
		case session.EventPartial:
			partial := ev.Payload.(session.PartialUpdate)
			if partial.Text != "" {
				fmt.Printf("\r... %s", partial.Text)
			}
		case session.EventInsightAdded:
			insight := ev.Payload.(*session.Insight)
			fmt.Printf("  [%s] %s\n", insight.Kind, insight.Text)
		case session.EventTaskSuggested:
			task := ev.Payload.(*session.TaskSuggestion)
			fmt.Printf("  [task] %s\n", task.Text)
		case session.EventSummaryUpdated:
			summary := ev.Payload.(*session.Summary)
			fmt.Printf("  [summary] %d key points\n", len(summary.KeyPoints))
		case session.EventStatus, session.EventError:
			log.Printf("[Main] %s: %v", ev.Type, ev.Payload)
		}
	}
}
