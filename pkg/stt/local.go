package stt

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/echonote-ai/echonote/pkg/audio"
	"github.com/echonote-ai/echonote/pkg/stt/localproto"
)

const (
	localLoadTimeout       = 60 * time.Second
	localTranscribeTimeout = 30 * time.Second
	localDisposeTimeout    = 2 * time.Second
)

// LocalProvider implements ChunkTranscriber against an on-device model
// running in a forked worker process. The worker speaks the localproto
// line protocol over its stdin/stdout; requests are correlated by id and
// each caller waits on its own one-shot reply channel.
type LocalProvider struct {
	cfg LocalConfig

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	started bool
	dead    bool

	writeMu sync.Mutex

	nextID    atomic.Int64
	pendingMu sync.Mutex
	pending   map[int64]chan localproto.Message

	readerDone chan struct{}
}

// LocalConfig holds configuration for LocalProvider.
type LocalConfig struct {
	// WorkerPath is the worker executable (required).
	WorkerPath string
	// ModelID names the model the worker should load.
	ModelID string
	// Args are extra worker arguments.
	Args []string
}

// NewLocalProvider creates the provider. The worker is forked lazily on
// the first transcription so construction stays cheap.
func NewLocalProvider(cfg LocalConfig) (*LocalProvider, error) {
	if cfg.WorkerPath == "" {
		return nil, &Error{Code: ErrCodeInvalidConfig, Message: "local worker path is required"}
	}
	if cfg.ModelID == "" {
		cfg.ModelID = "base"
	}
	return &LocalProvider{
		cfg:     cfg,
		pending: map[int64]chan localproto.Message{},
	}, nil
}

func (p *LocalProvider) Name() string {
	return "local"
}

// Preload forks the worker and loads the model in the background so the
// first chunk does not pay the load. Safe to call more than once; a
// concurrent TranscribeChunk blocks until the load completes.
func (p *LocalProvider) Preload() {
	go func() {
		if err := p.ensureStarted(); err != nil {
			log.Printf("[Local] Preload failed: %v", err)
		}
	}()
}

// TranscribeChunk forwards the chunk to the worker as float32 audio with
// up to two language hints. Degenerate output (token repetition loops or
// symbol noise) is rejected with a dedicated code so callers can fall
// back to another runtime.
func (p *LocalProvider) TranscribeChunk(ctx context.Context, req ChunkRequest) (*Result, error) {
	if len(req.PCM) == 0 {
		return nil, &Error{Code: ErrCodeInvalidAudio, Message: "audio chunk is empty"}
	}

	if err := p.ensureStarted(); err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, localTranscribeTimeout)
	defer cancel()

	reply, err := p.call(callCtx, localproto.Message{
		Type:          localproto.TypeTranscribe,
		ModelID:       p.cfg.ModelID,
		Audio:         localproto.EncodeAudio(audio.PCMToFloat32(req.PCM)),
		LanguageHints: languageHints(req.SourceLang, req.TargetLang),
	})
	if err != nil {
		return nil, err
	}
	if reply.Type == localproto.TypeError {
		return nil, &Error{Code: ErrCodeProviderError, Message: "worker transcription failed", Err: fmt.Errorf("%s", reply.Error)}
	}

	text := strings.TrimSpace(reply.Text)
	if isDegenerateTranscript(text) {
		return nil, &Error{Code: ErrCodeDegenerateTranscript, Message: "degenerate transcript from local model"}
	}

	return &Result{
		Transcript:   text,
		DetectedLang: NormalizeLanguage(req.SourceLang),
		TokensIn:     estimateAudioTokens(len(req.PCM)),
		TokensOut:    estimateTextTokens(text),
	}, nil
}

// Close disposes the worker: a dispose frame is sent, the worker is given
// a short grace to acknowledge, then the process is killed. Any pending
// requests are rejected with a stable code so shutdown races are
// recognizable upstream.
func (p *LocalProvider) Close() error {
	p.mu.Lock()
	if !p.started || p.dead {
		p.dead = true
		p.mu.Unlock()
		return nil
	}
	p.dead = true
	cmd := p.cmd
	readerDone := p.readerDone
	p.mu.Unlock()

	disposeCtx, cancel := context.WithTimeout(context.Background(), localDisposeTimeout)
	defer cancel()
	if _, err := p.call(disposeCtx, localproto.Message{Type: localproto.TypeDispose}); err != nil {
		log.Printf("[Local] Dispose not acknowledged: %v", err)
	}

	if cmd != nil && cmd.Process != nil {
		cmd.Process.Kill()
		cmd.Wait()
	}
	if readerDone != nil {
		<-readerDone
	}

	p.failPending()
	log.Printf("[Local] Worker disposed")
	return nil
}

func (p *LocalProvider) ensureStarted() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.dead {
		return &Error{Code: ErrCodeWorkerDisposed, Message: "local worker is disposed"}
	}
	if p.started {
		return nil
	}

	cmd := exec.Command(p.cfg.WorkerPath, p.cfg.Args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return &Error{Code: ErrCodeProviderError, Message: "failed to open worker stdin", Err: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return &Error{Code: ErrCodeProviderError, Message: "failed to open worker stdout", Err: err}
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return &Error{Code: ErrCodeProviderError, Message: "failed to open worker stderr", Err: err}
	}

	if err := cmd.Start(); err != nil {
		return &Error{Code: ErrCodeProviderError, Message: "failed to start local worker", Err: err}
	}

	p.cmd = cmd
	p.stdin = stdin
	p.started = true
	p.readerDone = make(chan struct{})

	go p.readLoop(stdout)
	go func() {
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			log.Printf("[Local] worker: %s", scanner.Text())
		}
	}()

	log.Printf("[Local] Worker started (pid %d, model %s)", cmd.Process.Pid, p.cfg.ModelID)

	// Load synchronously so the first transcription sees a ready model.
	loadCtx, cancel := context.WithTimeout(context.Background(), localLoadTimeout)
	defer cancel()
	reply, err := p.call(loadCtx, localproto.Message{Type: localproto.TypeLoad, ModelID: p.cfg.ModelID})
	if err != nil {
		return err
	}
	if reply.Type == localproto.TypeError {
		return &Error{Code: ErrCodeProviderError, Message: "worker failed to load model", Err: fmt.Errorf("%s", reply.Error)}
	}
	return nil
}

// call sends one frame and waits for the frame echoing its id.
func (p *LocalProvider) call(ctx context.Context, msg localproto.Message) (localproto.Message, error) {
	msg.ID = p.nextID.Add(1)

	ch := make(chan localproto.Message, 1)
	p.pendingMu.Lock()
	p.pending[msg.ID] = ch
	p.pendingMu.Unlock()
	defer func() {
		p.pendingMu.Lock()
		delete(p.pending, msg.ID)
		p.pendingMu.Unlock()
	}()

	data, err := json.Marshal(msg)
	if err != nil {
		return localproto.Message{}, &Error{Code: ErrCodeProviderError, Message: "failed to encode frame", Err: err}
	}

	p.writeMu.Lock()
	_, err = p.stdin.Write(append(data, '\n'))
	p.writeMu.Unlock()
	if err != nil {
		return localproto.Message{}, &Error{Code: ErrCodeWorkerDisposed, Message: "local worker is disposed", Err: err}
	}

	select {
	case reply, ok := <-ch:
		if !ok {
			return localproto.Message{}, &Error{Code: ErrCodeWorkerDisposed, Message: "local worker is disposed"}
		}
		return reply, nil
	case <-ctx.Done():
		return localproto.Message{}, &Error{Code: ErrCodeTimeout, Message: "local worker call timed out", Err: ctx.Err()}
	}
}

func (p *LocalProvider) readLoop(stdout io.Reader) {
	defer close(p.readerDone)
	defer p.failPending()

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg localproto.Message
		if err := json.Unmarshal(line, &msg); err != nil {
			log.Printf("[Local] Malformed worker frame: %v", err)
			continue
		}

		p.pendingMu.Lock()
		ch, ok := p.pending[msg.ID]
		p.pendingMu.Unlock()
		if ok {
			ch <- msg
		}
	}

	p.mu.Lock()
	wasDead := p.dead
	p.dead = true
	p.mu.Unlock()
	if !wasDead {
		log.Printf("[Local] Worker exited unexpectedly")
	}
}

// failPending closes every outstanding reply channel so waiters fail
// with the disposed code instead of hanging.
func (p *LocalProvider) failPending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	for id, ch := range p.pending {
		close(ch)
		delete(p.pending, id)
	}
}

// languageHints builds the hint list sent to the worker: source first,
// then target, normalized, deduplicated, "auto" excluded, at most two.
func languageHints(source, target string) []string {
	var hints []string
	for _, lang := range []string{source, target} {
		lang = NormalizeLanguage(lang)
		if lang == "auto" {
			continue
		}
		if len(hints) > 0 && hints[0] == lang {
			continue
		}
		hints = append(hints, lang)
	}
	return hints
}

// isDegenerateTranscript recognizes the two failure shapes small local
// models produce on noise: the same token looping many times, or output
// dominated by angle-bracket markup tokens.
func isDegenerateTranscript(text string) bool {
	if text == "" {
		return false
	}

	tokens := strings.Fields(text)
	run := 1
	for i := 1; i < len(tokens); i++ {
		if tokens[i] == tokens[i-1] {
			run++
			if run >= 8 {
				return true
			}
		} else {
			run = 1
		}
	}

	brackets := strings.Count(text, "<") + strings.Count(text, ">")
	nonSpace := len(strings.ReplaceAll(text, " ", ""))
	return nonSpace > 0 && brackets*2 >= nonSpace
}
