package session

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/stt"
)

// speechPCM returns ms of constant-amplitude "speech" audio.
func speechPCM(ms int, amplitude int16) []byte {
	samples := audio.SampleRate * ms / 1000
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(amplitude))
	}
	return pcm
}

func silencePCM(ms int) []byte {
	return make([]byte, audio.SampleRate*ms/1000*2)
}

type fakeChunkProvider struct {
	mu     sync.Mutex
	calls  int
	result stt.Result
	err    error
}

func (f *fakeChunkProvider) Name() string { return "gemini" }

func (f *fakeChunkProvider) TranscribeChunk(ctx context.Context, req stt.ChunkRequest) (*stt.Result, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	result := f.result
	return &result, nil
}

func (f *fakeChunkProvider) Close() error { return nil }

func (f *fakeChunkProvider) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAnalysis struct {
	mu        sync.Mutex
	keyPoints []string
	tasks     []TaskCandidate
}

func (f *fakeAnalysis) Summarize(context.Context, []*TranscriptBlock, []string) (*SummaryAnalysis, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &SummaryAnalysis{KeyPoints: f.keyPoints}, nil
}

func (f *fakeAnalysis) ExtractTasks(context.Context, []*TranscriptBlock, []string) ([]TaskCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks, nil
}

func (f *fakeAnalysis) PostProcess(_ context.Context, transcript, detectedLang, targetLang string, _, _ []string, _ bool) (*PostProcessResult, error) {
	return &PostProcessResult{SourceLanguage: "en", Translation: "translated: " + transcript}, nil
}

func (f *fakeAnalysis) DecideParagraph(context.Context, string) (bool, bool, error) {
	return true, false, nil
}

func (f *fakeAnalysis) Polish(_ context.Context, transcript string) (string, error) {
	return transcript, nil
}

func newTestSession(t *testing.T, mutate func(*Config)) (*Session, chan Event) {
	t.Helper()

	cfg := Config{
		SessionID: "test-session",
		Provider:  ProviderBatchStructured,
		Chunk: &fakeChunkProvider{result: stt.Result{
			Transcript:   "hello world",
			Translation:  "hola mundo",
			DetectedLang: "en",
			TokensIn:     10,
			TokensOut:    5,
		}},
		Analyzer:           &fakeAnalysis{},
		Store:              NewMemoryStore(),
		SourceLang:         "en",
		TargetLang:         "es",
		TranslationEnabled: true,
		SchedulerOverrides: &SchedulerConfig{
			Debounce:   5 * time.Millisecond,
			Heartbeat:  50 * time.Millisecond,
			RetryDelay: 20 * time.Millisecond,
			TaskGap:    50 * time.Millisecond,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}

	s, err := New(cfg)
	require.NoError(t, err)

	events := make(chan Event, 256)
	s.Bus().SubscribeAll(events)
	return s, events
}

func collect(events chan Event, d time.Duration) []Event {
	var out []Event
	deadline := time.After(d)
	for {
		select {
		case ev := <-events:
			out = append(out, ev)
		case <-deadline:
			return out
		}
	}
}

func eventsOfType(events []Event, t EventType) []Event {
	var out []Event
	for _, ev := range events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func TestSilentInputProducesNoBlocks(t *testing.T) {
	s, events := newTestSession(t, nil)
	require.NoError(t, s.StartRecording(context.Background(), false))

	for i := 0; i < 10; i++ {
		s.FeedSystemAudio(silencePCM(500))
	}

	all := collect(events, 300*time.Millisecond)
	assert.Empty(t, eventsOfType(all, EventBlockAdded))
	assert.Empty(t, eventsOfType(all, EventTaskSuggested))

	statuses := eventsOfType(all, EventStatus)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "Listening...", statuses[0].Payload)

	s.StopRecording(StopOptions{})
}

func TestSingleUtteranceCommitsTranslatedBlock(t *testing.T) {
	s, events := newTestSession(t, nil)
	require.NoError(t, s.StartRecording(context.Background(), false))

	s.FeedSystemAudio(speechPCM(1200, 2000))
	s.FeedSystemAudio(silencePCM(600))

	var block *TranscriptBlock
	require.Eventually(t, func() bool {
		for _, ev := range collect(events, 50*time.Millisecond) {
			if ev.Type == EventBlockAdded {
				block = ev.Payload.(*TranscriptBlock)
			}
		}
		return block != nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, "hello world", block.SourceText)
	assert.Equal(t, "hola mundo", block.Translation)
	assert.Equal(t, SourceSystem, block.AudioSource)
	assert.False(t, block.Partial)
	assert.Equal(t, 1, block.ID)

	snap := s.Cost()
	assert.Equal(t, 10, snap.TotalInputTokens)
	assert.Equal(t, 5, snap.TotalOutputTokens)

	s.StopRecording(StopOptions{})
}

func TestMicPriorityDucksSystemAudio(t *testing.T) {
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.StartRecording(context.Background(), false))
	require.NoError(t, s.StartMic())

	// Mic speech arms the grace window.
	s.FeedMicAudio(speechPCM(200, 4000))
	assert.True(t, s.micDucked())

	// System audio inside the window is discarded before segmentation.
	s.FeedSystemAudio(speechPCM(600, 2000))
	s.FeedSystemAudio(silencePCM(600))
	assert.Zero(t, s.systemQueue.Len())

	// Past the grace window, system audio flows again.
	time.Sleep(micGrace + 50*time.Millisecond)
	assert.False(t, s.micDucked())
	s.FeedSystemAudio(speechPCM(1000, 2000))
	s.FeedSystemAudio(silencePCM(600))

	require.Eventually(t, func() bool {
		return s.systemQueue.Len() > 0 || s.ctxWindow.BlockCount() > 0
	}, 2*time.Second, 10*time.Millisecond)

	s.StopMic()
	s.StopRecording(StopOptions{ClearQueue: true})
}

func TestTaskScanOnColdSessionHydratesFromStore(t *testing.T) {
	store := NewMemoryStore()
	store.InsertBlock("test-session", &TranscriptBlock{
		ID: 1, SessionID: "test-session", SourceText: "we need to send the launch email",
	})

	s, events := newTestSession(t, func(cfg *Config) {
		cfg.Store = store
		cfg.Analyzer = &fakeAnalysis{tasks: []TaskCandidate{
			{Text: "Send the launch email", Details: "before friday"},
			{Text: "send the launch email"}, // duplicate, dropped
		}}
	})

	s.RequestTaskScan(context.Background())

	all := collect(events, 200*time.Millisecond)
	suggested := eventsOfType(all, EventTaskSuggested)
	require.Len(t, suggested, 1)
	task := suggested[0].Payload.(*TaskSuggestion)
	assert.Equal(t, "Send the launch email", task.Text)

	statuses := eventsOfType(all, EventStatus)
	require.GreaterOrEqual(t, len(statuses), 2)
	assert.Equal(t, "Task scan running...", statuses[0].Payload)
	assert.Equal(t, "Task scan complete: 1 suggestion(s)", statuses[len(statuses)-1].Payload)

	persisted, _ := store.GetTasksForSession("test-session")
	require.Len(t, persisted, 1)
}

func TestTaskSuggestionsDedupedAcrossScans(t *testing.T) {
	store := NewMemoryStore()
	store.InsertBlock("test-session", &TranscriptBlock{ID: 1, SourceText: "discussion"})

	s, events := newTestSession(t, func(cfg *Config) {
		cfg.Store = store
		cfg.Analyzer = &fakeAnalysis{tasks: []TaskCandidate{{Text: "Review the budget"}}}
	})

	s.RequestTaskScan(context.Background())
	s.RequestTaskScan(context.Background())

	all := collect(events, 200*time.Millisecond)
	assert.Len(t, eventsOfType(all, EventTaskSuggested), 1)
}

func TestStopRecordingIdempotent(t *testing.T) {
	s, _ := newTestSession(t, nil)
	require.NoError(t, s.StartRecording(context.Background(), false))
	require.NoError(t, s.StartRecording(context.Background(), false)) // no-op

	s.StopRecording(StopOptions{})
	s.StopRecording(StopOptions{}) // no-op
	assert.Equal(t, "paused", s.State())
}

func TestShutdownWritesSummary(t *testing.T) {
	store := NewMemoryStore()
	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.Store = store
		cfg.Analyzer = &fakeAnalysis{keyPoints: []string{"launch is friday"}}
	})

	require.NoError(t, s.StartRecording(context.Background(), false))
	s.FeedSystemAudio(speechPCM(1000, 2000))
	s.FeedSystemAudio(silencePCM(600))

	require.Eventually(t, func() bool {
		return s.ctxWindow.BlockCount() > 0
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, s.Shutdown(context.Background()))
	assert.Equal(t, "idle", s.State())

	require.Eventually(t, func() bool {
		return store.GetSummary("test-session") != nil
	}, time.Second, 10*time.Millisecond)
}

func TestProviderErrorSurfacesStatus(t *testing.T) {
	s, events := newTestSession(t, func(cfg *Config) {
		cfg.Chunk = &fakeChunkProvider{err: &stt.Error{Code: stt.ErrCodeTimeout, Message: "deadline"}}
	})
	require.NoError(t, s.StartRecording(context.Background(), false))

	s.FeedSystemAudio(speechPCM(1000, 2000))
	s.FeedSystemAudio(silencePCM(600))

	require.Eventually(t, func() bool {
		for _, ev := range eventsOfType(collect(events, 50*time.Millisecond), EventStatus) {
			if ev.Payload == "Transcription hiccup, continuing..." {
				return true
			}
		}
		return false
	}, 5*time.Second, 20*time.Millisecond)

	assert.Zero(t, s.ctxWindow.BlockCount())
	s.StopRecording(StopOptions{ClearQueue: true})
}

type warmupChunkProvider struct {
	fakeChunkProvider
	mu       sync.Mutex
	preloads int
}

func (p *warmupChunkProvider) Preload() {
	p.mu.Lock()
	p.preloads++
	p.mu.Unlock()
}

func (p *warmupChunkProvider) preloadCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.preloads
}

func TestStartRecordingPreloadsLocalWorker(t *testing.T) {
	provider := &warmupChunkProvider{}
	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.Provider = ProviderLocal
		cfg.Chunk = provider
	})

	require.NoError(t, s.StartRecording(context.Background(), false))
	assert.Equal(t, 1, provider.preloadCount())

	s.StopRecording(StopOptions{ClearQueue: true})
}

// gatedAnalysis parks PostProcess until the test releases it, so the
// plain block is observable before the translation lands.
type gatedAnalysis struct {
	fakeAnalysis
	release chan struct{}
}

func (g *gatedAnalysis) PostProcess(ctx context.Context, transcript, detectedLang, targetLang string, recent, keyPoints []string, strict bool) (*PostProcessResult, error) {
	<-g.release
	return g.fakeAnalysis.PostProcess(ctx, transcript, detectedLang, targetLang, recent, keyPoints, strict)
}

func TestPostProcessPublishesBlockUpdate(t *testing.T) {
	store := NewMemoryStore()
	gate := &gatedAnalysis{release: make(chan struct{})}
	s, events := newTestSession(t, func(cfg *Config) {
		cfg.Provider = ProviderBatchSTTPost
		cfg.Store = store
		cfg.Analyzer = gate
		cfg.Chunk = &fakeChunkProvider{result: stt.Result{
			Transcript:   "hello world",
			DetectedLang: "en",
		}}
	})
	require.NoError(t, s.StartRecording(context.Background(), false))

	s.FeedSystemAudio(speechPCM(1200, 2000))
	s.FeedSystemAudio(silencePCM(600))

	var added *TranscriptBlock
	require.Eventually(t, func() bool {
		for _, ev := range eventsOfType(collect(events, 50*time.Millisecond), EventBlockAdded) {
			added = ev.Payload.(*TranscriptBlock)
		}
		return added != nil
	}, 5*time.Second, 20*time.Millisecond)

	// The bare transcript commits before the post-process returns.
	assert.Equal(t, "hello world", added.SourceText)
	assert.Empty(t, added.Translation)

	close(gate.release)

	var updated *TranscriptBlock
	require.Eventually(t, func() bool {
		for _, ev := range eventsOfType(collect(events, 50*time.Millisecond), EventBlockUpdated) {
			updated = ev.Payload.(*TranscriptBlock)
		}
		return updated != nil
	}, 5*time.Second, 20*time.Millisecond)

	assert.Equal(t, added.ID, updated.ID)
	assert.Equal(t, "translated: hello world", updated.Translation)

	persisted, _ := store.GetBlocksForSession("test-session")
	require.Len(t, persisted, 1)
	assert.Equal(t, "translated: hello world", persisted[0].Translation)

	s.StopRecording(StopOptions{})
}

type fakeStream struct {
	events chan stt.StreamEvent
	once   sync.Once
}

func newFakeStream() *fakeStream {
	return &fakeStream{events: make(chan stt.StreamEvent)}
}

func (f *fakeStream) Write([]byte) error { return nil }

func (f *fakeStream) Events() <-chan stt.StreamEvent { return f.events }

func (f *fakeStream) Close() error {
	f.once.Do(func() { close(f.events) })
	return nil
}

type fakeStreamProvider struct {
	mu     sync.Mutex
	opened []string
}

func (f *fakeStreamProvider) Name() string { return "realtime" }

func (f *fakeStreamProvider) OpenStream(_ context.Context, source, _ string) (stt.Stream, error) {
	f.mu.Lock()
	f.opened = append(f.opened, source)
	f.mu.Unlock()
	return newFakeStream(), nil
}

func (f *fakeStreamProvider) Close() error { return nil }

func (f *fakeStreamProvider) openedSources() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.opened...)
}

func TestMicStreamOpensWhenMicPrecedesRecording(t *testing.T) {
	provider := &fakeStreamProvider{}
	s, _ := newTestSession(t, func(cfg *Config) {
		cfg.Provider = ProviderRealtimeStream
		cfg.Chunk = nil
		cfg.Stream = provider
	})

	require.NoError(t, s.StartMic())
	require.NoError(t, s.StartRecording(context.Background(), false))

	assert.ElementsMatch(t, []string{SourceSystem, SourceMicrophone}, provider.openedSources())

	s.StopRecording(StopOptions{})
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{Provider: ProviderRealtimeStream, Analyzer: &fakeAnalysis{}, Store: NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Config{Provider: "nope", Analyzer: &fakeAnalysis{}, Store: NewMemoryStore()})
	assert.Error(t, err)

	_, err = New(Config{Provider: ProviderBatchStructured, Chunk: &fakeChunkProvider{}, Store: NewMemoryStore()})
	assert.Error(t, err)
}
