package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeTranscripts(t *testing.T) {
	cases := []struct {
		existing, incoming, want string
	}{
		{"", "hello", "hello"},
		{"hello", "", "hello"},
		{"hello", "hello world", "hello world"},   // incoming extends existing
		{"hello world", "world", "hello world"},   // suffix repeat collapses
		{"hello world", "hello", "hello world"},   // contained repeat collapses
		{"first part.", "second part.", "first part. second part."},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, mergeTranscripts(tc.existing, tc.incoming),
			"merge(%q, %q)", tc.existing, tc.incoming)
	}
}

func TestMergeNeverLosesContent(t *testing.T) {
	fragments := []string{"we should", "we should ship", "ship the fix", "the fix today.", "also update docs"}

	merged := ""
	for _, frag := range fragments {
		merged = mergeTranscripts(merged, frag)
	}

	squash := func(s string) string { return strings.Join(strings.Fields(s), " ") }
	for _, frag := range fragments {
		assert.Contains(t, squash(merged), squash(frag), "fragment %q missing", frag)
	}
}

func TestEndsWithTerminal(t *testing.T) {
	assert.True(t, endsWithTerminal("Done."))
	assert.True(t, endsWithTerminal("Really?"))
	assert.True(t, endsWithTerminal("好的。"))
	assert.True(t, endsWithTerminal(`He said "stop".`))
	assert.False(t, endsWithTerminal("and then we"))
	assert.False(t, endsWithTerminal(""))
}

type paragraphRecorder struct {
	mu       sync.Mutex
	commits  []string
	partials []string
}

func (r *paragraphRecorder) commit(source, transcript, langHint string, capturedAt time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.commits = append(r.commits, transcript)
}

func (r *paragraphRecorder) partial(source, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.partials = append(r.partials, text)
}

func (r *paragraphRecorder) snapshot() ([]string, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.commits...), append([]string(nil), r.partials...)
}

func TestParagraphCommitFlow(t *testing.T) {
	rec := &paragraphRecorder{}
	p := NewParagraphBuffer(ParagraphConfig{
		Decide: func(_ context.Context, transcript string) (bool, bool, error) {
			return strings.HasSuffix(transcript, "."), false, nil
		},
		Commit:           rec.commit,
		OnPartial:        rec.partial,
		DecisionInterval: 30 * time.Millisecond,
	})

	p.Start(context.Background())
	defer p.Stop()

	p.Append(SourceSystem, "hello", "en")
	p.Append(SourceSystem, "hello world", "en")
	p.Append(SourceSystem, "hello world.", "en")

	require.Eventually(t, func() bool {
		commits, _ := rec.snapshot()
		return len(commits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	commits, partials := rec.snapshot()
	assert.Equal(t, []string{"hello world."}, commits)
	// One partial per merge, then the empty partial after commit.
	require.GreaterOrEqual(t, len(partials), 4)
	assert.Equal(t, "hello", partials[0])
	assert.Equal(t, "hello world", partials[1])
	assert.Equal(t, "hello world.", partials[2])
	assert.Equal(t, "", partials[len(partials)-1])
	assert.Empty(t, p.Pending(SourceSystem))
}

func TestParagraphIsPartialBlocksCommit(t *testing.T) {
	rec := &paragraphRecorder{}
	p := NewParagraphBuffer(ParagraphConfig{
		Decide: func(context.Context, string) (bool, bool, error) {
			return true, true, nil // model says partial; never commit
		},
		Commit:           rec.commit,
		DecisionInterval: 20 * time.Millisecond,
	})
	p.Start(context.Background())
	defer p.Stop()

	p.Append(SourceSystem, "mid sentence", "en")
	time.Sleep(100 * time.Millisecond)

	commits, _ := rec.snapshot()
	assert.Empty(t, commits)
	assert.Equal(t, "mid sentence", p.Pending(SourceSystem))
}

func TestParagraphHeuristicFallback(t *testing.T) {
	rec := &paragraphRecorder{}
	p := NewParagraphBuffer(ParagraphConfig{
		Decide: func(context.Context, string) (bool, bool, error) {
			return false, false, fmt.Errorf("model unavailable")
		},
		Commit:           rec.commit,
		DecisionInterval: 20 * time.Millisecond,
	})
	p.Start(context.Background())
	defer p.Stop()

	p.Append(SourceSystem, "ends with a period.", "en")

	require.Eventually(t, func() bool {
		commits, _ := rec.snapshot()
		return len(commits) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestParagraphForceFlush(t *testing.T) {
	rec := &paragraphRecorder{}
	p := NewParagraphBuffer(ParagraphConfig{
		Decide: func(context.Context, string) (bool, bool, error) {
			return false, false, nil // would never commit on its own
		},
		Commit: rec.commit,
	})

	p.Append(SourceSystem, "unfinished thought", "en")
	p.Append(SourceMicrophone, "mic note", "en")
	p.ForceFlush()

	commits, _ := rec.snapshot()
	assert.ElementsMatch(t, []string{"unfinished thought", "mic note"}, commits)
	assert.Empty(t, p.Pending(SourceSystem))
	assert.Empty(t, p.Pending(SourceMicrophone))
}

func TestParagraphPolishApplied(t *testing.T) {
	rec := &paragraphRecorder{}
	p := NewParagraphBuffer(ParagraphConfig{
		Decide: func(context.Context, string) (bool, bool, error) { return true, false, nil },
		Polish: func(_ context.Context, transcript string) (string, error) {
			return strings.ToUpper(transcript), nil
		},
		Commit:           rec.commit,
		DecisionInterval: 20 * time.Millisecond,
	})
	p.Start(context.Background())
	defer p.Stop()

	p.Append(SourceSystem, "polish me.", "en")

	require.Eventually(t, func() bool {
		commits, _ := rec.snapshot()
		return len(commits) == 1
	}, 2*time.Second, 10*time.Millisecond)

	commits, _ := rec.snapshot()
	assert.Equal(t, "POLISH ME.", commits[0])
}
