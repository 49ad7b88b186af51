package session

import (
	"context"
	"log"
	"strings"
	"sync"
	"time"
)

const defaultDecisionInterval = 10 * time.Second

// pendingParagraph accumulates streamed fragments for one source until a
// commit decision lands.
type pendingParagraph struct {
	transcript    string
	langHint      string
	capturedAt    time.Time
	lastUpdatedAt time.Time
}

// ParagraphConfig wires the buffer to its collaborators.
type ParagraphConfig struct {
	// Decide asks the utility model whether the accumulated transcript is
	// a complete paragraph. A failure falls back to the punctuation
	// heuristic.
	Decide func(ctx context.Context, transcript string) (shouldCommit, isPartial bool, err error)

	// Polish cleans dictation artifacts before commit. Nil skips the
	// pass (the local provider path).
	Polish func(ctx context.Context, transcript string) (string, error)

	// Commit persists a finished paragraph as a block.
	Commit func(source, transcript, langHint string, capturedAt time.Time)

	// OnPartial publishes the latest merged text for a source. An empty
	// text clears the partial display.
	OnPartial func(source, text string)

	// DecisionInterval defaults to 10s.
	DecisionInterval time.Duration
}

// ParagraphBuffer joins sub-paragraph fragments from streaming or local
// providers into committed blocks. One pending paragraph per source;
// merging never discards content.
type ParagraphBuffer struct {
	cfg ParagraphConfig

	mu      sync.Mutex
	pending map[string]*pendingParagraph

	deciding sync.WaitGroup
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// NewParagraphBuffer creates the buffer.
func NewParagraphBuffer(cfg ParagraphConfig) *ParagraphBuffer {
	if cfg.DecisionInterval == 0 {
		cfg.DecisionInterval = defaultDecisionInterval
	}
	return &ParagraphBuffer{
		cfg:     cfg,
		pending: make(map[string]*pendingParagraph),
	}
}

// Start launches the periodic decision loop.
func (p *ParagraphBuffer) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.DecisionInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.decideAll(ctx)
			}
		}
	}()
}

// Stop halts the decision loop. Pending text survives for ForceFlush.
func (p *ParagraphBuffer) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Append merges a fragment into the source's pending paragraph and
// publishes the merged text as a partial.
func (p *ParagraphBuffer) Append(source, fragment, langHint string) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return
	}

	p.mu.Lock()
	para := p.pending[source]
	if para == nil {
		para = &pendingParagraph{capturedAt: time.Now()}
		p.pending[source] = para
	}
	para.transcript = mergeTranscripts(para.transcript, fragment)
	if langHint != "" && langHint != "auto" {
		para.langHint = langHint
	}
	para.lastUpdatedAt = time.Now()
	merged := para.transcript
	p.mu.Unlock()

	if p.cfg.OnPartial != nil {
		p.cfg.OnPartial(source, merged)
	}
}

// Pending returns the accumulated transcript for a source.
func (p *ParagraphBuffer) Pending(source string) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if para := p.pending[source]; para != nil {
		return para.transcript
	}
	return ""
}

// ForceFlush commits every pending paragraph unconditionally. Used at
// stop and shutdown; the polish pass is skipped so flushing stays fast.
func (p *ParagraphBuffer) ForceFlush() {
	for _, source := range []string{SourceSystem, SourceMicrophone} {
		p.commitSource(context.Background(), source, true, false)
	}
}

// WaitIdle blocks until no commit decision is in flight or the timeout
// elapses. Returns false on timeout.
func (p *ParagraphBuffer) WaitIdle(timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		p.deciding.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (p *ParagraphBuffer) decideAll(ctx context.Context) {
	for _, source := range []string{SourceSystem, SourceMicrophone} {
		p.commitSource(ctx, source, false, true)
	}
}

// commitSource runs one decision/commit cycle for a source. Fragments
// that arrive while the decision or polish call is running merge into a
// fresh pending paragraph and are picked up next tick.
func (p *ParagraphBuffer) commitSource(ctx context.Context, source string, force, polish bool) {
	p.mu.Lock()
	para := p.pending[source]
	if para == nil || para.transcript == "" {
		p.mu.Unlock()
		return
	}
	snapshot := *para
	p.mu.Unlock()

	p.deciding.Add(1)
	defer p.deciding.Done()

	if !force {
		shouldCommit, isPartial, err := p.cfg.Decide(ctx, snapshot.transcript)
		if err != nil {
			log.Printf("[Paragraph] Decision failed (%s), using heuristic: %v", source, err)
			shouldCommit = endsWithTerminal(snapshot.transcript)
			isPartial = false
		}
		if isPartial || !shouldCommit {
			return
		}
	}

	// Detach the decided text; later fragments start a new paragraph.
	p.mu.Lock()
	current := p.pending[source]
	if current == nil || !strings.HasPrefix(current.transcript, snapshot.transcript) {
		// The pending text changed shape under us; retry next tick.
		if !force {
			p.mu.Unlock()
			return
		}
		if current != nil {
			snapshot = *current
		}
	}
	remainder := ""
	if current != nil {
		remainder = strings.TrimSpace(strings.TrimPrefix(current.transcript, snapshot.transcript))
	}
	if remainder == "" {
		delete(p.pending, source)
	} else {
		current.transcript = remainder
		current.capturedAt = time.Now()
	}
	p.mu.Unlock()

	text := snapshot.transcript
	if polish && p.cfg.Polish != nil {
		polished, err := p.cfg.Polish(ctx, text)
		if err != nil {
			log.Printf("[Paragraph] Polish failed (%s), committing raw text: %v", source, err)
		} else if polished != "" {
			text = polished
		}
	}

	p.cfg.Commit(source, text, snapshot.langHint, snapshot.capturedAt)
	if p.cfg.OnPartial != nil {
		p.cfg.OnPartial(source, p.Pending(source))
	}
}

// mergeTranscripts combines an accumulated transcript with a new
// fragment. Overlapping spans keep the longer side; otherwise the
// fragment is appended with a single space. Content is never dropped.
func mergeTranscripts(existing, incoming string) string {
	if existing == "" {
		return incoming
	}
	if incoming == "" {
		return existing
	}
	if strings.HasSuffix(existing, incoming) || strings.Contains(existing, incoming) {
		return existing
	}
	if strings.HasPrefix(incoming, existing) {
		return incoming
	}
	return existing + " " + incoming
}

// endsWithTerminal reports whether the text ends with sentence-terminal
// punctuation. The fallback commit heuristic.
func endsWithTerminal(text string) bool {
	trimmed := strings.TrimRight(text, " \t\"'”’)")
	if trimmed == "" {
		return false
	}
	switch trimmed[len(trimmed)-1] {
	case '.', '!', '?':
		return true
	}
	for _, suffix := range []string{"。", "！", "？"} {
		if strings.HasSuffix(trimmed, suffix) {
			return true
		}
	}
	return false
}
