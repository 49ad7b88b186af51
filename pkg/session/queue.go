package session

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/echonote-ai/echonote/pkg/audio"
)

const (
	maxQueueSize = 20
	// Overlap prepended to each chunk so speech cut at a segmentation
	// boundary is rediscoverable. Constant for the session.
	overlapMs = 1000
)

// pendingChunk is one queued transcription unit: a VAD chunk with the
// previous chunk's tail spliced in front.
type pendingChunk struct {
	pcm        []byte
	capturedAt time.Time
}

// chunkHandler processes one chunk. Called serially per queue.
type chunkHandler func(ctx context.Context, chunk pendingChunk)

// ChunkQueue is the bounded per-source transcription queue. Pushes that
// would exceed capacity drop the oldest item; real-time behavior beats
// completeness. One worker goroutine drains it, so commits within a
// source stay chronological.
type ChunkQueue struct {
	source  string
	handler chunkHandler

	mu          sync.Mutex
	items       []pendingChunk
	prevOverlap []byte

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewChunkQueue creates a queue for one audio source.
func NewChunkQueue(source string, handler chunkHandler) *ChunkQueue {
	return &ChunkQueue{
		source:  source,
		handler: handler,
		wake:    make(chan struct{}, 1),
	}
}

// Start launches the worker.
func (q *ChunkQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		q.run(ctx)
	}()
}

// Stop halts the worker. Queued items are kept; callers that want a
// clean slate call Clear.
func (q *ChunkQueue) Stop() {
	if q.cancel != nil {
		q.cancel()
	}
	q.wg.Wait()
}

// Push splices the retained overlap in front of the chunk and enqueues
// it, dropping the oldest item when full.
func (q *ChunkQueue) Push(pcm []byte) {
	overlapBytes := audio.BytesForMs(overlapMs)

	q.mu.Lock()
	combined := make([]byte, 0, len(q.prevOverlap)+len(pcm))
	combined = append(combined, q.prevOverlap...)
	combined = append(combined, pcm...)

	// Retain this chunk's tail for the next splice.
	if len(pcm) > overlapBytes {
		q.prevOverlap = append([]byte(nil), pcm[len(pcm)-overlapBytes:]...)
	} else {
		q.prevOverlap = append([]byte(nil), pcm...)
	}

	if len(q.items) >= maxQueueSize {
		dropped := q.items[0]
		q.items = q.items[1:]
		log.Printf("[Queue] Dropped oldest chunk (%s, %dms old)",
			q.source, time.Since(dropped.capturedAt).Milliseconds())
	}
	q.items = append(q.items, pendingChunk{pcm: combined, capturedAt: time.Now()})
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// Len returns the number of queued chunks.
func (q *ChunkQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Clear drops all queued chunks and the retained overlap.
func (q *ChunkQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = nil
	q.prevOverlap = nil
}

// snapshot returns the queued chunks in order. Used by tests.
func (q *ChunkQueue) snapshot() []pendingChunk {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]pendingChunk, len(q.items))
	copy(out, q.items)
	return out
}

func (q *ChunkQueue) run(ctx context.Context) {
	for {
		chunk, ok := q.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}

		q.handler(ctx, chunk)

		select {
		case <-ctx.Done():
			return
		default:
		}
	}
}

func (q *ChunkQueue) pop() (pendingChunk, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return pendingChunk{}, false
	}
	chunk := q.items[0]
	q.items = q.items[1:]
	return chunk, true
}
