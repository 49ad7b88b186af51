package session

import (
	"sync"
	"time"
)

// contextWindowSize bounds the rolling prompt-context buffer.
const contextWindowSize = 10

// ContextWindow owns the ordered block log and the rolling context
// buffer used to prime transcription prompts, plus the append-only
// key-point and insight history the analyzer dedups against.
type ContextWindow struct {
	mu sync.RWMutex

	blocks      []*TranscriptBlock
	blockByID   map[int]*TranscriptBlock
	nextBlockID int

	contextBuffer []string

	allKeyPoints []string
	allInsights  []string
}

// NewContextWindow creates an empty window.
func NewContextWindow() *ContextWindow {
	return &ContextWindow{
		blockByID:   make(map[int]*TranscriptBlock),
		nextBlockID: 1,
	}
}

// CreateBlock assigns the next id, inserts the block and returns it.
// IDs strictly increase for the lifetime of the window, across resets.
func (c *ContextWindow) CreateBlock(block TranscriptBlock) *TranscriptBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	block.ID = c.nextBlockID
	c.nextBlockID++
	if block.CreatedAt.IsZero() {
		block.CreatedAt = time.Now()
	}

	stored := &block
	c.blocks = append(c.blocks, stored)
	c.blockByID[stored.ID] = stored
	return stored
}

// UpdateBlock applies fn to the block with the given id under the
// window lock and returns the block, or nil when the id is gone.
func (c *ContextWindow) UpdateBlock(id int, fn func(*TranscriptBlock)) *TranscriptBlock {
	c.mu.Lock()
	defer c.mu.Unlock()

	block, ok := c.blockByID[id]
	if !ok {
		return nil
	}
	fn(block)
	return block
}

// Block returns the block with the given id, or nil.
func (c *ContextWindow) Block(id int) *TranscriptBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.blockByID[id]
}

// Blocks returns a snapshot of the block log in insertion order.
func (c *ContextWindow) Blocks() []*TranscriptBlock {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*TranscriptBlock, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// BlockCount returns the number of blocks in the log.
func (c *ContextWindow) BlockCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// RecordContext appends a sentence to the rolling context buffer,
// trimming to the window size.
func (c *ContextWindow) RecordContext(text string) {
	if text == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.contextBuffer = append(c.contextBuffer, text)
	if len(c.contextBuffer) > contextWindowSize {
		c.contextBuffer = c.contextBuffer[len(c.contextBuffer)-contextWindowSize:]
	}
}

// ContextSnapshot returns a copy of the rolling context buffer.
func (c *ContextWindow) ContextSnapshot() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.contextBuffer))
	copy(out, c.contextBuffer)
	return out
}

// AddKeyPoints appends to the cumulative key-point history.
func (c *ContextWindow) AddKeyPoints(points ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allKeyPoints = append(c.allKeyPoints, points...)
}

// KeyPoints returns a snapshot of the cumulative key-point history.
func (c *ContextWindow) KeyPoints() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.allKeyPoints))
	copy(out, c.allKeyPoints)
	return out
}

// AddInsights appends insight texts to the cumulative history.
func (c *ContextWindow) AddInsights(texts ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allInsights = append(c.allInsights, texts...)
}

// Insights returns a snapshot of the cumulative insight history.
func (c *ContextWindow) Insights() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.allInsights))
	copy(out, c.allInsights)
	return out
}

// Reset clears the block log and context buffer. The cumulative
// key-point and insight history survives; ResetHistory clears it.
func (c *ContextWindow) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = nil
	c.blockByID = make(map[int]*TranscriptBlock)
	c.contextBuffer = nil
}

// ResetHistory clears the cumulative key-point and insight history.
func (c *ContextWindow) ResetHistory() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.allKeyPoints = nil
	c.allInsights = nil
}
