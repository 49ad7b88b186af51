package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/stt"
	"github.com/echonote-ai/echonote/pkg/trace"
	"github.com/echonote-ai/echonote/pkg/vad"
)

const (
	shutdownDrainTimeout     = 8 * time.Second
	shutdownParagraphTimeout = 3 * time.Second
	taskScanTimeout          = 20 * time.Second
)

// Session is the capture-to-analysis orchestrator. One Session owns two
// audio-source pipelines (system and microphone), the block log, the
// cost accumulator, and the analysis scheduler; consumers observe it
// through the event bus.
type Session struct {
	cfg Config
	id  string
	bus *Bus

	ctxWindow  *ContextWindow
	cost       *CostAccumulator
	dedup      *TaskDeduper
	scheduler  *Scheduler
	paragraphs *ParagraphBuffer

	systemQueue *ChunkQueue
	micQueue    *ChunkQueue

	vadMu     sync.Mutex
	systemVAD *vad.Segmenter
	micVAD    *vad.Segmenter

	streamMu     sync.Mutex
	systemStream stt.Stream
	micStream    stt.Stream
	streamWG     sync.WaitGroup

	recording       atomic.Bool
	micEnabled      atomic.Bool
	translation     atomic.Bool
	micLastSpeechMs atomic.Int64

	runMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc

	scanMu   sync.Mutex
	scanDone chan int

	stateMu sync.Mutex
	state   string
}

// New assembles a session from its configuration.
func New(cfg Config) (*Session, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}

	cost := cfg.Cost
	if cost == nil {
		cost = NewCostAccumulator()
	}

	s := &Session{
		cfg:       cfg,
		id:        cfg.SessionID,
		bus:       NewBus(),
		ctxWindow: NewContextWindow(),
		cost:      cost,
		dedup:     NewTaskDeduper(),
		state:     "idle",
	}
	s.translation.Store(cfg.TranslationEnabled)

	schedCfg := SchedulerConfig{
		BlockCount:    s.ctxWindow.BlockCount,
		RunSummary:    s.runSummary,
		RunTasks:      s.runTasks,
		BufferingMode: cfg.bufferingMode() || cfg.Provider == ProviderRealtimeStream,
	}
	if cfg.SchedulerOverrides != nil {
		o := cfg.SchedulerOverrides
		schedCfg.Debounce = o.Debounce
		schedCfg.Heartbeat = o.Heartbeat
		schedCfg.RetryDelay = o.RetryDelay
		schedCfg.TaskGap = o.TaskGap
	}
	s.scheduler = NewScheduler(schedCfg)

	if cfg.bufferingMode() {
		paraCfg := ParagraphConfig{
			Decide:           cfg.Analyzer.DecideParagraph,
			Commit:           s.commitParagraph,
			OnPartial:        s.publishPartial,
			DecisionInterval: cfg.ParagraphDecisionInterval,
		}
		// The local model's raw output is not worth a polish call.
		if cfg.Provider != ProviderLocal {
			paraCfg.Polish = cfg.Analyzer.Polish
		}
		s.paragraphs = NewParagraphBuffer(paraCfg)
	}

	if cfg.Provider != ProviderRealtimeStream {
		s.systemQueue = NewChunkQueue(SourceSystem, s.chunkHandler(SourceSystem))
		s.micQueue = NewChunkQueue(SourceMicrophone, s.chunkHandler(SourceMicrophone))
		s.buildSegmenters()
	}

	return s, nil
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Bus returns the event bus for subscribers.
func (s *Session) Bus() *Bus {
	return s.bus
}

// Cost returns the current usage snapshot.
func (s *Session) Cost() CostSnapshot {
	return s.cost.Snapshot()
}

// Blocks returns a snapshot of the committed block log.
func (s *Session) Blocks() []*TranscriptBlock {
	return s.ctxWindow.Blocks()
}

func (s *Session) buildSegmenters() {
	vadCfg := vad.Config{}
	if s.cfg.Provider == ProviderLocal {
		// The local model does better on natural-break chunks.
		vadCfg = vadCfg.DisableMaxChunk()
	}
	s.systemVAD = vad.NewSegmenter(vadCfg)

	micCfg := vadCfg
	micCfg.Classifier = vad.NewEnergyClassifier(vad.DefaultMicSilenceThreshold)
	s.micVAD = vad.NewSegmenter(micCfg)
	s.micVAD.OnSpeechWindow = func(float64) { s.touchMicSpeech() }
}

// Initialize seeds the context history from the store and announces the
// idle state. Call once before StartRecording.
func (s *Session) Initialize(ctx context.Context) error {
	insights, err := s.cfg.Store.GetInsightsForSession(s.id)
	if err != nil {
		return fmt.Errorf("loading insight history: %w", err)
	}
	for _, insight := range insights {
		if insight.Kind == InsightKeyPoint {
			s.ctxWindow.AddKeyPoints(insight.Text)
		}
		s.ctxWindow.AddInsights(insight.Text)
	}

	tasks, err := s.cfg.Store.GetTasksForSession(s.id)
	if err != nil {
		return fmt.Errorf("loading task history: %w", err)
	}
	for _, task := range tasks {
		s.dedup.Remember(task.Text)
	}

	s.setState("idle")
	return nil
}

// StartRecording opens the system pipeline. With resume=false the
// context, cost, summary and dedup state are reset first. Idempotent
// while already recording.
func (s *Session) StartRecording(ctx context.Context, resume bool) error {
	if s.recording.Swap(true) {
		return nil
	}

	if !resume {
		s.ctxWindow.Reset()
		s.ctxWindow.ResetHistory()
		s.cost.Reset()
		s.dedup.Reset()
		s.publish(Event{Type: EventBlocksCleared})
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.runMu.Lock()
	s.runCtx = runCtx
	s.runCancel = cancel
	s.runMu.Unlock()

	s.vadMu.Lock()
	if s.systemVAD != nil {
		s.systemVAD.Reset()
		s.micVAD.Reset()
	}
	s.vadMu.Unlock()

	if s.systemQueue != nil {
		s.systemQueue.Clear()
		s.micQueue.Clear()
		s.systemQueue.Start(runCtx)
		s.micQueue.Start(runCtx)
	}
	if s.paragraphs != nil {
		s.paragraphs.Start(runCtx)
	}
	s.scheduler.Start(runCtx)

	// The local worker loads its model in the background so the first
	// utterance does not wait behind the load.
	if s.cfg.Provider == ProviderLocal {
		if warmer, ok := s.cfg.Chunk.(interface{ Preload() }); ok {
			warmer.Preload()
		}
	}

	if s.cfg.Provider == ProviderRealtimeStream {
		stream, err := s.cfg.Stream.OpenStream(runCtx, SourceSystem, s.cfg.SourceLang)
		if err != nil {
			s.recording.Store(false)
			cancel()
			s.publish(Event{Type: EventError, Payload: err.Error()})
			return err
		}
		s.streamMu.Lock()
		s.systemStream = stream
		s.streamMu.Unlock()
		s.consumeStream(SourceSystem, stream)

		// The mic may have been enabled before recording started.
		if s.micEnabled.Load() {
			if err := s.openMicStream(runCtx); err != nil {
				log.Printf("[Session] Mic stream open failed: %v", err)
			}
		}
	}

	s.setState("recording")
	s.publishStatus("Listening...")
	return nil
}

// StopRecording closes the capture side of the session.
func (s *Session) StopRecording(opts StopOptions) {
	if !s.recording.Swap(false) {
		return
	}

	if opts.FlushRemaining && s.systemVAD != nil {
		s.vadMu.Lock()
		systemTail := s.systemVAD.Flush()
		micTail := s.micVAD.Flush()
		s.vadMu.Unlock()
		if len(systemTail) > 0 {
			s.systemQueue.Push(systemTail)
		}
		if len(micTail) > 0 {
			s.micQueue.Push(micTail)
		}
	}

	s.closeStreams()
	s.scheduler.Stop()

	if s.systemQueue != nil {
		if opts.ClearQueue {
			s.systemQueue.Clear()
			s.micQueue.Clear()
		} else {
			// Let queued chunks finish transcribing before the workers stop.
			s.drainQueues(shutdownDrainTimeout)
		}
		s.systemQueue.Stop()
		s.micQueue.Stop()
	}

	if s.paragraphs != nil {
		s.paragraphs.Stop()
		if opts.CommitPending {
			s.paragraphs.ForceFlush()
		}
	}

	s.runMu.Lock()
	if s.runCancel != nil {
		s.runCancel()
	}
	s.runMu.Unlock()

	s.setState("paused")
}

// StartMic enables the microphone pipeline.
func (s *Session) StartMic() error {
	if s.micEnabled.Swap(true) {
		return nil
	}

	if s.cfg.Provider == ProviderRealtimeStream && s.recording.Load() {
		s.runMu.Lock()
		runCtx := s.runCtx
		s.runMu.Unlock()

		if err := s.openMicStream(runCtx); err != nil {
			s.micEnabled.Store(false)
			return err
		}
	}

	s.publishStatus("Microphone on")
	return nil
}

// openMicStream opens the microphone stream for the realtime provider.
func (s *Session) openMicStream(ctx context.Context) error {
	stream, err := s.cfg.Stream.OpenStream(ctx, SourceMicrophone, s.cfg.SourceLang)
	if err != nil {
		return err
	}
	s.streamMu.Lock()
	s.micStream = stream
	s.streamMu.Unlock()
	s.consumeStream(SourceMicrophone, stream)
	return nil
}

// StopMic disables the microphone pipeline.
func (s *Session) StopMic() {
	if !s.micEnabled.Swap(false) {
		return
	}

	s.streamMu.Lock()
	if s.micStream != nil {
		s.micStream.Close()
		s.micStream = nil
	}
	s.streamMu.Unlock()

	s.publishStatus("Microphone off")
}

// FeedSystemAudio accepts raw system-output PCM. Writes that land inside
// the mic-priority grace window are discarded.
func (s *Session) FeedSystemAudio(pcm []byte) {
	if !s.recording.Load() {
		return
	}
	if s.micDucked() {
		return
	}

	if s.cfg.Provider == ProviderRealtimeStream {
		s.streamMu.Lock()
		stream := s.systemStream
		s.streamMu.Unlock()
		if stream != nil {
			stream.Write(pcm)
		}
		return
	}

	s.vadMu.Lock()
	chunks := s.systemVAD.Write(pcm)
	s.vadMu.Unlock()
	for _, chunk := range chunks {
		s.systemQueue.Push(chunk)
	}
}

// FeedMicAudio accepts raw microphone PCM from an external capture.
func (s *Session) FeedMicAudio(pcm []byte) {
	if !s.recording.Load() || !s.micEnabled.Load() {
		return
	}

	if s.cfg.Provider == ProviderRealtimeStream {
		if !audio.IsSilent(pcm, vad.DefaultMicSilenceThreshold) {
			s.touchMicSpeech()
		}
		s.streamMu.Lock()
		stream := s.micStream
		s.streamMu.Unlock()
		if stream != nil {
			stream.Write(pcm)
		}
		return
	}

	s.vadMu.Lock()
	chunks := s.micVAD.Write(pcm)
	s.vadMu.Unlock()
	for _, chunk := range chunks {
		s.micQueue.Push(chunk)
	}
}

// ToggleTranslation flips translation for providers that support it.
// Pending paragraphs are committed first when switching on, so already
// buffered text is not retroactively translated.
func (s *Session) ToggleTranslation() bool {
	if s.cfg.Provider == ProviderLocal {
		s.publishStatus("Translation is not available for the local model")
		return s.translation.Load()
	}

	enabled := !s.translation.Load()
	if enabled && s.paragraphs != nil {
		s.paragraphs.ForceFlush()
	}
	s.translation.Store(enabled)

	if enabled {
		s.publishStatus("Translation on")
	} else {
		s.publishStatus("Translation off")
	}
	return enabled
}

// RequestTaskScan forces an immediate task-only analysis pass and
// reports the outcome through status events.
func (s *Session) RequestTaskScan(ctx context.Context) {
	s.publishStatus("Task scan running...")

	if s.ctxWindow.BlockCount() == 0 {
		if err := s.hydrateBlocks(); err != nil {
			s.publishStatus("Task scan failed: no transcript available")
			return
		}
	}
	if s.ctxWindow.BlockCount() == 0 {
		s.publishStatus("Task scan complete: 0 suggestion(s)")
		return
	}

	s.scheduler.WaitIdle(taskScanTimeout)

	done := make(chan int, 1)
	s.scanMu.Lock()
	s.scanDone = done
	s.scanMu.Unlock()

	s.scheduler.ForceTaskScan()

	select {
	case n := <-done:
		s.publishStatus(fmt.Sprintf("Task scan complete: %d suggestion(s)", n))
	case <-time.After(taskScanTimeout):
		s.publishStatus("Task scan timed out")
	case <-ctx.Done():
	}

	s.scanMu.Lock()
	s.scanDone = nil
	s.scanMu.Unlock()
}

// Shutdown tears the session down: capture stops, queued work drains
// within a bound, buffered paragraphs are committed, providers are
// released, and the final summary is written to the store.
func (s *Session) Shutdown(ctx context.Context) error {
	s.StopMic()
	s.StopRecording(StopOptions{FlushRemaining: true, CommitPending: true})

	if s.paragraphs != nil {
		if !s.paragraphs.WaitIdle(shutdownParagraphTimeout) {
			log.Printf("[Session] Paragraph decisions still busy at shutdown")
		}
		s.paragraphs.ForceFlush()
	}
	s.streamWG.Wait()

	if s.cfg.Chunk != nil {
		if err := s.cfg.Chunk.Close(); err != nil {
			log.Printf("[Session] Provider close: %v", err)
		}
	}
	if s.cfg.Stream != nil {
		s.cfg.Stream.Close()
	}

	summary := &Summary{KeyPoints: s.ctxWindow.KeyPoints(), UpdatedAt: time.Now()}
	if err := s.cfg.Store.SaveSummary(s.id, summary); err != nil {
		return fmt.Errorf("saving session summary: %w", err)
	}

	s.setState("idle")
	return nil
}

// --- internal plumbing ---

func (s *Session) touchMicSpeech() {
	s.micLastSpeechMs.Store(time.Now().UnixMilli())
}

// micDucked applies the mic-priority rule: while the mic is enabled,
// system audio within the grace window of the last mic speech loses.
func (s *Session) micDucked() bool {
	if !s.micEnabled.Load() {
		return false
	}
	last := s.micLastSpeechMs.Load()
	return last > 0 && time.Now().UnixMilli()-last < micGrace.Milliseconds()
}

// chunkHandler builds the queue worker callback for one source.
func (s *Session) chunkHandler(source string) chunkHandler {
	return func(ctx context.Context, chunk pendingChunk) {
		s.processChunk(ctx, source, chunk)
	}
}

func (s *Session) processChunk(ctx context.Context, source string, chunk pendingChunk) {
	req := stt.ChunkRequest{
		PCM:                chunk.pcm,
		SourceLang:         s.cfg.SourceLang,
		TargetLang:         s.cfg.TargetLang,
		TranslationEnabled: s.translation.Load() && s.cfg.Provider == ProviderBatchStructured,
		Context:            s.ctxWindow.ContextSnapshot(),
	}

	result, err := s.cfg.Chunk.TranscribeChunk(ctx, req)
	if err != nil {
		s.handleChunkError(source, err)
		return
	}

	snapshot := s.cost.Add(result.TokensIn, result.TokensOut, CostAudio, s.cfg.Chunk.Name())
	s.publish(Event{Type: EventCostUpdated, Payload: snapshot})

	if result.Transcript == "" {
		if s.cfg.Debug {
			log.Printf("[Session] Empty transcript (%s), skipping", source)
		}
		return
	}

	switch s.cfg.Provider {
	case ProviderLocal:
		s.paragraphs.Append(source, result.Transcript, result.DetectedLang)

	case ProviderBatchSTTPost:
		s.commitPostProcessed(ctx, source, result.Transcript, result.DetectedLang, chunk.capturedAt)

	default: // batch-structured
		s.commitBlock(source, result.Transcript, result.Translation,
			result.DetectedLang, result.IsPartial, result.IsNewTopic, chunk.capturedAt)
	}
}

func (s *Session) handleChunkError(source string, err error) {
	var provErr *stt.Error
	if errors.As(err, &provErr) {
		switch provErr.Code {
		case stt.ErrCodeDegenerateTranscript:
			// Noise artifact; silently discarded.
			return
		case stt.ErrCodeWorkerDisposed:
			if !s.recording.Load() {
				log.Printf("[Session] Chunk rejected after stop (%s), ignoring", source)
				return
			}
			s.publish(Event{Type: EventError, Payload: "local transcription worker stopped"})
			s.systemQueue.Clear()
			s.micQueue.Clear()
			go s.StopRecording(StopOptions{ClearQueue: true})
			return
		case stt.ErrCodeTimeout, stt.ErrCodeNetworkError:
			log.Printf("[Session] Transient transcription failure (%s): %v", source, err)
			s.publishStatus("Transcription hiccup, continuing...")
			return
		}
	}
	log.Printf("[Session] Transcription failed (%s): %v", source, err)
	s.publishStatus("Transcription error, chunk dropped")
}

// commitPostProcessed commits the bare transcript block immediately and
// runs the LLM post-process behind it. When the post-process returns,
// the block is mutated once (translation, partial/new-topic flags,
// source label) and republished as block-updated; a failed call leaves
// the plain block standing.
func (s *Session) commitPostProcessed(ctx context.Context, source, transcript, detectedLang string, capturedAt time.Time) {
	block := s.commitBlock(source, transcript, "", detectedLang, false, false, capturedAt)
	if !s.translation.Load() {
		return
	}

	post, err := s.cfg.Analyzer.PostProcess(ctx, transcript, detectedLang, s.cfg.TargetLang,
		s.ctxWindow.ContextSnapshot(), s.ctxWindow.KeyPoints(), true)
	if err != nil {
		log.Printf("[Session] Post-process failed (%s), block %d stays plain: %v", source, block.ID, err)
		return
	}

	lang := detectedLang
	if post.SourceLanguage != "" {
		lang = stt.NormalizeLanguage(post.SourceLanguage)
	}
	updated := s.ctxWindow.UpdateBlock(block.ID, func(b *TranscriptBlock) {
		b.Translation = post.Translation
		b.Partial = post.IsPartial
		b.NewTopic = post.IsNewTopic
		b.SourceLabel = s.labelFor(lang, true)
	})
	if updated == nil {
		// The log was reset between commit and post-process.
		return
	}

	if err := s.cfg.Store.UpdateBlock(s.id, updated); err != nil {
		log.Printf("[Session] Failed to persist block %d update: %v", updated.ID, err)
	}
	s.publish(Event{Type: EventBlockUpdated, Payload: updated})
}

// commitParagraph is the paragraph buffer's commit callback.
func (s *Session) commitParagraph(source, transcript, langHint string, capturedAt time.Time) {
	if s.translation.Load() && s.cfg.Provider != ProviderLocal {
		s.commitPostProcessed(context.Background(), source, transcript, langHint, capturedAt)
		return
	}
	s.commitBlock(source, transcript, "", langHint, false, false, capturedAt)
}

// commitBlock creates the block, persists it, publishes it, and nudges
// the analysis scheduler. The block event always precedes any analysis
// that could reference the block.
func (s *Session) commitBlock(source, text, translation, lang string, partial, newTopic bool, capturedAt time.Time) *TranscriptBlock {
	block := s.ctxWindow.CreateBlock(TranscriptBlock{
		SessionID:   s.id,
		AudioSource: source,
		SourceLabel: s.labelFor(lang, true),
		SourceText:  text,
		TargetLabel: s.labelFor("", false),
		Translation: translation,
		Partial:     partial,
		NewTopic:    newTopic,
		CreatedAt:   capturedAt,
	})
	s.ctxWindow.RecordContext(text)

	if err := s.cfg.Store.InsertBlock(s.id, block); err != nil {
		log.Printf("[Session] Failed to persist block %d: %v", block.ID, err)
	}

	s.publish(Event{Type: EventBlockAdded, Payload: block})
	s.scheduler.Schedule(analysisDebounce)
	return block
}

func (s *Session) labelFor(detectedLang string, source bool) string {
	if source {
		if s.cfg.SourceLabel != "" {
			return s.cfg.SourceLabel
		}
		if detectedLang != "" && detectedLang != "auto" {
			return detectedLang
		}
		return s.cfg.SourceLang
	}
	if s.cfg.TargetLabel != "" {
		return s.cfg.TargetLabel
	}
	return s.cfg.TargetLang
}

// consumeStream fans one stream's events into the session.
func (s *Session) consumeStream(source string, stream stt.Stream) {
	s.streamWG.Add(1)
	go func() {
		defer s.streamWG.Done()
		for ev := range stream.Events() {
			switch ev.Kind {
			case stt.StreamPartial:
				s.publishPartial(source, ev.Text)

			case stt.StreamCommitted:
				if source == SourceMicrophone {
					s.touchMicSpeech()
				}
				if s.paragraphs != nil && !s.translation.Load() {
					s.paragraphs.Append(source, ev.Text, ev.LangHint)
				} else {
					s.commitPostProcessed(context.Background(), source, ev.Text, ev.LangHint, time.Now())
				}

			case stt.StreamClosed:
				if ev.Err != nil && s.recording.Load() {
					s.publish(Event{Type: EventError, Payload: ev.Err.Error()})
				}
			}
		}
	}()
}

func (s *Session) closeStreams() {
	s.streamMu.Lock()
	if s.systemStream != nil {
		s.systemStream.Close()
		s.systemStream = nil
	}
	if s.micStream != nil {
		s.micStream.Close()
		s.micStream = nil
	}
	s.streamMu.Unlock()
	s.streamWG.Wait()
}

// hydrateBlocks loads persisted blocks into the context window without
// publishing events. Used when a task scan runs against a cold session.
func (s *Session) hydrateBlocks() error {
	blocks, err := s.cfg.Store.GetBlocksForSession(s.id)
	if err != nil {
		return err
	}
	for _, block := range blocks {
		s.ctxWindow.CreateBlock(*block)
		s.ctxWindow.RecordContext(block.SourceText)
	}
	return nil
}

func (s *Session) drainQueues(timeout time.Duration) {
	if s.systemQueue == nil {
		return
	}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.systemQueue.Len() == 0 && s.micQueue.Len() == 0 {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Printf("[Session] Queue drain timed out with %d+%d chunks left",
		s.systemQueue.Len(), s.micQueue.Len())
}

// runSummary is the scheduler's summary callback.
func (s *Session) runSummary(ctx context.Context) error {
	return trace.WithSpan(ctx, "analysis.summary", s.summarize, trace.WithSessionAttrs(s.id))
}

func (s *Session) summarize(ctx context.Context) error {
	blocks := s.ctxWindow.Blocks()
	if len(blocks) == 0 {
		return nil
	}
	window := recentWindow(blocks, recentBlocksWindow+recentBlocksOverlap)

	analysis, err := s.cfg.Analyzer.Summarize(ctx, window, s.ctxWindow.KeyPoints())
	if err != nil {
		return err
	}

	knownPoints := normalizedSet(s.ctxWindow.KeyPoints())
	var newPoints []string
	for _, point := range analysis.KeyPoints {
		if norm := NormalizeTask(point); norm != "" && !knownPoints[norm] {
			knownPoints[norm] = true
			newPoints = append(newPoints, point)
		}
	}
	if len(newPoints) > 0 {
		s.ctxWindow.AddKeyPoints(newPoints...)
	}

	knownInsights := normalizedSet(s.ctxWindow.Insights())
	for _, raw := range analysis.Insights {
		norm := NormalizeTask(raw.Text)
		if norm == "" || knownInsights[norm] {
			continue
		}
		knownInsights[norm] = true
		s.ctxWindow.AddInsights(raw.Text)

		insight := &Insight{
			ID:        uuid.NewString(),
			Kind:      InsightKind(raw.Kind),
			Text:      raw.Text,
			SessionID: s.id,
			CreatedAt: time.Now(),
		}
		if err := s.cfg.Store.InsertInsight(insight); err != nil {
			log.Printf("[Session] Failed to persist insight: %v", err)
		}
		s.publish(Event{Type: EventInsightAdded, Payload: insight})
	}

	if len(newPoints) > 0 {
		s.publish(Event{Type: EventSummaryUpdated, Payload: &Summary{
			KeyPoints: s.ctxWindow.KeyPoints(),
			UpdatedAt: time.Now(),
		}})
	}

	s.publish(Event{Type: EventCostUpdated, Payload: s.cost.Snapshot()})
	return nil
}

// runTasks is the scheduler's task-extraction callback.
func (s *Session) runTasks(ctx context.Context, forced bool) error {
	return trace.WithSpan(ctx, "analysis.tasks", func(ctx context.Context) error {
		return s.extractTasks(ctx, forced)
	}, trace.WithSessionAttrs(s.id))
}

func (s *Session) extractTasks(ctx context.Context, forced bool) error {
	blocks := s.ctxWindow.Blocks()
	if !forced {
		blocks = recentWindow(blocks, taskAnalysisMaxBlocks)
	}
	if len(blocks) == 0 {
		s.reportScan(0)
		return nil
	}

	persisted, err := s.cfg.Store.GetTasksForSession(s.id)
	if err != nil {
		s.reportScan(0)
		return err
	}
	existing := make([]string, 0, len(persisted))
	for _, task := range persisted {
		existing = append(existing, task.Text)
	}

	candidates, err := s.cfg.Analyzer.ExtractTasks(ctx, blocks, existing)
	if err != nil {
		s.reportScan(0)
		return err
	}

	emitted := 0
	var batch []string
	for _, cand := range candidates {
		if cand.Text == "" || s.dedup.IsDuplicate(cand.Text, existing, batch) {
			continue
		}

		task := &TaskSuggestion{
			ID:                uuid.NewString(),
			Text:              cand.Text,
			Details:           cand.Details,
			TranscriptExcerpt: cand.Excerpt,
			SessionID:         s.id,
			CreatedAt:         time.Now(),
		}
		if err := s.cfg.Store.InsertTask(task); err != nil {
			log.Printf("[Session] Failed to persist task: %v", err)
		}
		s.dedup.Remember(cand.Text)
		batch = append(batch, cand.Text)
		s.publish(Event{Type: EventTaskSuggested, Payload: task})
		emitted++
	}

	s.reportScan(emitted)
	return nil
}

func (s *Session) reportScan(count int) {
	s.scanMu.Lock()
	done := s.scanDone
	s.scanMu.Unlock()
	if done != nil {
		select {
		case done <- count:
		default:
		}
	}
}

func (s *Session) publish(evt Event) {
	s.bus.Publish(evt)
}

func (s *Session) publishStatus(text string) {
	s.publish(Event{Type: EventStatus, Payload: text})
}

func (s *Session) publishPartial(source, text string) {
	s.publish(Event{Type: EventPartial, Payload: PartialUpdate{Source: source, Text: text}})
}

func (s *Session) setState(state string) {
	s.stateMu.Lock()
	changed := s.state != state
	s.state = state
	s.stateMu.Unlock()
	if changed {
		s.publish(Event{Type: EventStateChange, Payload: state})
	}
}

// State returns the current lifecycle state.
func (s *Session) State() string {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

func recentWindow(blocks []*TranscriptBlock, n int) []*TranscriptBlock {
	if len(blocks) <= n {
		return blocks
	}
	return blocks[len(blocks)-n:]
}

func normalizedSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[NormalizeTask(item)] = true
	}
	return set
}
