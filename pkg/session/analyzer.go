package session

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/echonote-ai/echonote/pkg/llm"
	"github.com/echonote-ai/echonote/pkg/prompts"
)

const (
	summaryAnalysisTimeout = 30 * time.Second
	taskAnalysisTimeout    = 15 * time.Second
	postProcessTimeout     = 8 * time.Second
	paragraphCallTimeout   = 8 * time.Second
)

// AnalysisEngine is the session's view of the post-transcription model
// calls. Analyzer is the production implementation; tests substitute
// their own.
type AnalysisEngine interface {
	Summarize(ctx context.Context, blocks []*TranscriptBlock, existingKeyPoints []string) (*SummaryAnalysis, error)
	ExtractTasks(ctx context.Context, blocks []*TranscriptBlock, existingTasks []string) ([]TaskCandidate, error)
	PostProcess(ctx context.Context, transcript, detectedLang, targetLang string, contextWindow, keyPoints []string, translationEnabled bool) (*PostProcessResult, error)
	DecideParagraph(ctx context.Context, transcript string) (shouldCommit, isPartial bool, err error)
	Polish(ctx context.Context, transcript string) (string, error)
}

// Analyzer owns every LLM call the session makes after transcription:
// summary and insight extraction, task extraction, translation
// post-processing, and the paragraph commit decisions.
type Analyzer struct {
	analysisClient *llm.Client
	taskClient     *llm.Client
	utilityClient  *llm.Client
	cost           *CostAccumulator
}

var _ AnalysisEngine = (*Analyzer)(nil)

// NewAnalyzer wires the three model roles. Any client may be shared.
func NewAnalyzer(analysis, task, utility *llm.Client, cost *CostAccumulator) *Analyzer {
	return &Analyzer{
		analysisClient: analysis,
		taskClient:     task,
		utilityClient:  utility,
		cost:           cost,
	}
}

// SummaryAnalysis is the parsed output of one summary run.
type SummaryAnalysis struct {
	KeyPoints []string `json:"keyPoints"`
	Insights  []struct {
		Kind string `json:"kind"`
		Text string `json:"text"`
	} `json:"insights"`
}

// Summarize runs the summary model over the block window and returns new
// key points and insights. Dedup against history is the caller's job.
func (a *Analyzer) Summarize(ctx context.Context, blocks []*TranscriptBlock, existingKeyPoints []string) (*SummaryAnalysis, error) {
	callCtx, cancel := context.WithTimeout(ctx, summaryAnalysisTimeout)
	defer cancel()

	prompt, err := prompts.Render("summary", map[string]string{
		"existingKeyPoints": bulletList(existingKeyPoints),
		"blocks":            formatBlocks(blocks),
	})
	if err != nil {
		return nil, err
	}

	var parsed SummaryAnalysis
	resp, err := a.analysisClient.CompleteJSON(callCtx, "You maintain a live conversation summary.", prompt, &parsed)
	if err != nil {
		return nil, fmt.Errorf("summary analysis: %w", err)
	}
	a.cost.Add(resp.TokensIn, resp.TokensOut, CostText, "openai")
	return &parsed, nil
}

// TaskCandidate is one raw suggestion before dedup.
type TaskCandidate struct {
	Text    string `json:"text"`
	Details string `json:"details"`
	Excerpt string `json:"excerpt"`
}

// ExtractTasks runs the task model over the block window.
func (a *Analyzer) ExtractTasks(ctx context.Context, blocks []*TranscriptBlock, existingTasks []string) ([]TaskCandidate, error) {
	callCtx, cancel := context.WithTimeout(ctx, taskAnalysisTimeout)
	defer cancel()

	prompt, err := prompts.Render("tasks", map[string]string{
		"existingTasks": bulletList(existingTasks),
		"blocks":        formatBlocks(blocks),
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Tasks []TaskCandidate `json:"tasks"`
	}
	resp, err := a.taskClient.CompleteJSON(callCtx, "You extract actionable tasks from conversations.", prompt, &parsed)
	if err != nil {
		return nil, fmt.Errorf("task analysis: %w", err)
	}
	a.cost.Add(resp.TokensIn, resp.TokensOut, CostText, "openai")
	return parsed.Tasks, nil
}

// PostProcessResult is the output of the translation post-process that
// follows a plain STT transcript.
type PostProcessResult struct {
	SourceLanguage string `json:"sourceLanguage"`
	Translation    string `json:"translation"`
	IsPartial      bool   `json:"isPartial"`
	IsNewTopic     bool   `json:"isNewTopic"`
}

// PostProcess enriches a bare transcript with language, translation and
// the partial/new-topic flags. 8s budget.
func (a *Analyzer) PostProcess(ctx context.Context, transcript, detectedLang, targetLang string, contextWindow, keyPoints []string, translationEnabled bool) (*PostProcessResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, postProcessTimeout)
	defer cancel()

	rule := "Translation is disabled: return an empty translation."
	if translationEnabled {
		rule = fmt.Sprintf("Translate the transcript into %s.", targetLang)
	}

	prompt, err := prompts.Render("postprocess", map[string]string{
		"transcript":      transcript,
		"detectedLang":    detectedLang,
		"context":         bulletList(contextWindow),
		"keyPoints":       bulletList(keyPoints),
		"translationRule": rule,
	})
	if err != nil {
		return nil, err
	}

	var parsed PostProcessResult
	resp, err := a.utilityClient.CompleteJSON(callCtx, "You post-process live speech transcripts.", prompt, &parsed)
	if err != nil {
		return nil, fmt.Errorf("transcript post-process: %w", err)
	}
	a.cost.Add(resp.TokensIn, resp.TokensOut, CostText, "openai")
	return &parsed, nil
}

// DecideParagraph asks the utility model whether the buffered dictation
// forms a committable paragraph.
func (a *Analyzer) DecideParagraph(ctx context.Context, transcript string) (shouldCommit, isPartial bool, err error) {
	callCtx, cancel := context.WithTimeout(ctx, paragraphCallTimeout)
	defer cancel()

	prompt, err := prompts.Render("paragraph_decision", map[string]string{"transcript": transcript})
	if err != nil {
		return false, false, err
	}

	var parsed struct {
		ShouldCommit bool `json:"shouldCommit"`
		IsPartial    bool `json:"isPartial"`
	}
	resp, err := a.utilityClient.CompleteJSON(callCtx, "You segment live dictation into paragraphs.", prompt, &parsed)
	if err != nil {
		return false, false, err
	}
	a.cost.Add(resp.TokensIn, resp.TokensOut, CostText, "openai")
	return parsed.ShouldCommit, parsed.IsPartial, nil
}

// Polish cleans dictation artifacts from a paragraph before commit.
func (a *Analyzer) Polish(ctx context.Context, transcript string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, paragraphCallTimeout)
	defer cancel()

	prompt, err := prompts.Render("polish", map[string]string{"transcript": transcript})
	if err != nil {
		return "", err
	}

	resp, err := a.utilityClient.Complete(callCtx, "You clean up dictated text without changing its meaning.", prompt)
	if err != nil {
		return "", err
	}
	a.cost.Add(resp.TokensIn, resp.TokensOut, CostText, "openai")
	return resp.Text, nil
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var b strings.Builder
	for _, item := range items {
		b.WriteString("- ")
		b.WriteString(item)
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatBlocks(blocks []*TranscriptBlock) string {
	var b strings.Builder
	for _, block := range blocks {
		fmt.Fprintf(&b, "[%d][%s] %s\n", block.ID, block.AudioSource, block.SourceText)
	}
	return strings.TrimRight(b.String(), "\n")
}
