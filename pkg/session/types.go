// Package session implements the capture-to-analysis engine: segmented
// audio flows through a transcription provider into an ordered block
// log, while a background scheduler keeps a rolling summary, educational
// insights, and task suggestions up to date.
package session

import "time"

// Audio source labels.
const (
	SourceSystem     = "system"
	SourceMicrophone = "microphone"
)

// TranscriptBlock is one committed unit of transcribed speech. Blocks
// are created once, updated at most once (translation, partial and
// new-topic flags), then read-only.
type TranscriptBlock struct {
	ID          int       `json:"id"`
	SessionID   string    `json:"sessionId"`
	AudioSource string    `json:"audioSource"`
	SourceLabel string    `json:"sourceLabel"`
	SourceText  string    `json:"sourceText"`
	TargetLabel string    `json:"targetLabel,omitempty"`
	Translation string    `json:"translation,omitempty"`
	Partial     bool      `json:"partial,omitempty"`
	NewTopic    bool      `json:"newTopic,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// InsightKind classifies an educational insight.
type InsightKind string

const (
	InsightDefinition InsightKind = "definition"
	InsightContext    InsightKind = "context"
	InsightFact       InsightKind = "fact"
	InsightTip        InsightKind = "tip"
	InsightKeyPoint   InsightKind = "key-point"
)

// Insight is one analyzer-produced note about the conversation.
type Insight struct {
	ID        string      `json:"id"`
	Kind      InsightKind `json:"kind"`
	Text      string      `json:"text"`
	SessionID string      `json:"sessionId"`
	CreatedAt time.Time   `json:"createdAt"`
}

// TaskSuggestion is one actionable item extracted from the transcript.
type TaskSuggestion struct {
	ID                string    `json:"id"`
	Text              string    `json:"text"`
	Details           string    `json:"details,omitempty"`
	TranscriptExcerpt string    `json:"transcriptExcerpt,omitempty"`
	SessionID         string    `json:"sessionId"`
	CreatedAt         time.Time `json:"createdAt"`
}

// Summary is the rolling key-point list for the session.
type Summary struct {
	KeyPoints []string  `json:"keyPoints"`
	UpdatedAt time.Time `json:"updatedAt"`
}
