package session

import (
	"strings"
	"sync"
)

// Store is the persistence collaborator. All methods are synchronous;
// implementations are expected to be idempotent where natural. The
// engine works entirely through this interface, so a SQLite or remote
// store can be swapped in without touching the pipeline.
type Store interface {
	InsertBlock(sessionID string, block *TranscriptBlock) error
	UpdateBlock(sessionID string, block *TranscriptBlock) error
	InsertInsight(insight *Insight) error
	InsertTask(task *TaskSuggestion) error
	SaveSummary(sessionID string, summary *Summary) error

	GetBlocksForSession(sessionID string) ([]*TranscriptBlock, error)
	GetInsightsForSession(sessionID string) ([]*Insight, error)
	GetTasksForSession(sessionID string) ([]*TaskSuggestion, error)

	SearchBlocks(query string, limit int) ([]*TranscriptBlock, error)
}

// MemoryStore is the in-process Store used by tests and the demo runner.
type MemoryStore struct {
	mu        sync.RWMutex
	blocks    map[string][]*TranscriptBlock
	insights  map[string][]*Insight
	tasks     map[string][]*TaskSuggestion
	summaries map[string]*Summary
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		blocks:    make(map[string][]*TranscriptBlock),
		insights:  make(map[string][]*Insight),
		tasks:     make(map[string][]*TaskSuggestion),
		summaries: make(map[string]*Summary),
	}
}

func (s *MemoryStore) InsertBlock(sessionID string, block *TranscriptBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[sessionID] = append(s.blocks[sessionID], block)
	return nil
}

func (s *MemoryStore) UpdateBlock(sessionID string, block *TranscriptBlock) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, existing := range s.blocks[sessionID] {
		if existing.ID == block.ID {
			s.blocks[sessionID][i] = block
			return nil
		}
	}
	return nil
}

func (s *MemoryStore) InsertInsight(insight *Insight) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.insights[insight.SessionID] = append(s.insights[insight.SessionID], insight)
	return nil
}

func (s *MemoryStore) InsertTask(task *TaskSuggestion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.SessionID] = append(s.tasks[task.SessionID], task)
	return nil
}

func (s *MemoryStore) SaveSummary(sessionID string, summary *Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[sessionID] = summary
	return nil
}

func (s *MemoryStore) GetBlocksForSession(sessionID string) ([]*TranscriptBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*TranscriptBlock(nil), s.blocks[sessionID]...), nil
}

func (s *MemoryStore) GetInsightsForSession(sessionID string) ([]*Insight, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*Insight(nil), s.insights[sessionID]...), nil
}

func (s *MemoryStore) GetTasksForSession(sessionID string) ([]*TaskSuggestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]*TaskSuggestion(nil), s.tasks[sessionID]...), nil
}

// SearchBlocks does a case-insensitive substring scan across sessions.
func (s *MemoryStore) SearchBlocks(query string, limit int) ([]*TranscriptBlock, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []*TranscriptBlock
	for _, blocks := range s.blocks {
		for _, block := range blocks {
			if strings.Contains(strings.ToLower(block.SourceText), needle) {
				out = append(out, block)
				if limit > 0 && len(out) >= limit {
					return out, nil
				}
			}
		}
	}
	return out, nil
}

// GetSummary returns the last saved summary for a session, or nil.
func (s *MemoryStore) GetSummary(sessionID string) *Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.summaries[sessionID]
}
