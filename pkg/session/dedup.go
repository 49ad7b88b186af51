package session

import "strings"

const dedupRingCapacity = 500

var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "to": true, "of": true, "for": true,
	"in": true, "on": true, "at": true, "and": true, "or": true, "with": true,
	"about": true, "up": true, "out": true, "by": true, "from": true,
	"is": true, "are": true, "be": true, "this": true, "that": true,
	"it": true, "its": true, "my": true, "our": true, "your": true,
}

// NormalizeTask canonicalizes a task text for dedup comparison:
// lowercase, apostrophes removed, every other non-alphanumeric replaced
// by space, whitespace collapsed. Idempotent.
func NormalizeTask(text string) string {
	lower := strings.ToLower(text)

	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r == '\'' || r == '’':
			// drop apostrophes so "don't" and "dont" compare equal
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r > 127 && !isPunctRune(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

func isPunctRune(r rune) bool {
	switch r {
	case '‘', '“', '”', '–', '—', '…', '。', '，', '！', '？':
		return true
	}
	return false
}

// taskTokens tokenizes a normalized text: stop-words and single-rune
// tokens are dropped, and a crude singularization strips trailing
// "es"/"s" so "meetings" matches "meeting".
func taskTokens(normalized string) map[string]bool {
	tokens := make(map[string]bool)
	for _, tok := range strings.Fields(normalized) {
		if len(tok) <= 1 || stopWords[tok] {
			continue
		}
		if len(tok) > 3 && strings.HasSuffix(tok, "es") {
			tok = tok[:len(tok)-2]
		} else if len(tok) > 2 && strings.HasSuffix(tok, "s") {
			tok = tok[:len(tok)-1]
		}
		tokens[tok] = true
	}
	return tokens
}

// TaskDeduper suppresses near-duplicate task suggestions. It keeps a
// bounded FIFO ring of recently seen normalized texts with a set for
// O(1) exact membership; fuzzy rules scan the ring.
type TaskDeduper struct {
	ring    []string
	members map[string]bool
}

// NewTaskDeduper creates an empty deduper.
func NewTaskDeduper() *TaskDeduper {
	return &TaskDeduper{members: make(map[string]bool)}
}

// IsDuplicate reports whether candidate matches any remembered text, or
// any of the extra corpora (persisted tasks, suggestions already emitted
// in the current batch).
func (d *TaskDeduper) IsDuplicate(candidate string, extra ...[]string) bool {
	norm := NormalizeTask(candidate)
	if norm == "" {
		return true
	}
	if d.members[norm] {
		return true
	}

	for _, seen := range d.ring {
		if tasksMatch(norm, seen) {
			return true
		}
	}
	for _, corpus := range extra {
		for _, text := range corpus {
			if tasksMatch(norm, NormalizeTask(text)) {
				return true
			}
		}
	}
	return false
}

// Remember adds the candidate's normalized form to the ring, evicting
// the oldest entry past capacity.
func (d *TaskDeduper) Remember(candidate string) {
	norm := NormalizeTask(candidate)
	if norm == "" || d.members[norm] {
		return
	}

	d.ring = append(d.ring, norm)
	d.members[norm] = true
	if len(d.ring) > dedupRingCapacity {
		evicted := d.ring[0]
		d.ring = d.ring[1:]
		delete(d.members, evicted)
	}
}

// Size returns the number of remembered texts.
func (d *TaskDeduper) Size() int {
	return len(d.ring)
}

// Reset forgets everything.
func (d *TaskDeduper) Reset() {
	d.ring = nil
	d.members = make(map[string]bool)
}

// tasksMatch compares two normalized texts with the three duplicate
// rules: exact match, containment when the longer side is substantial,
// and token-set similarity.
func tasksMatch(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	if a == b {
		return true
	}

	longer, shorter := a, b
	if len(shorter) > len(longer) {
		longer, shorter = shorter, longer
	}
	if len(longer) >= 16 && strings.Contains(longer, shorter) {
		return true
	}

	tokensA := taskTokens(a)
	tokensB := taskTokens(b)
	if len(tokensA) == 0 || len(tokensB) == 0 {
		return false
	}

	overlap := 0
	for tok := range tokensA {
		if tokensB[tok] {
			overlap++
		}
	}

	smaller := len(tokensA)
	if len(tokensB) < smaller {
		smaller = len(tokensB)
	}
	containment := float64(overlap) / float64(smaller)
	union := len(tokensA) + len(tokensB) - overlap
	jaccard := float64(overlap) / float64(union)

	switch {
	case containment >= 1 && smaller >= 2:
		return true
	case containment >= 0.8 && overlap >= 3:
		return true
	case jaccard >= 0.6 && overlap >= 3:
		return true
	}
	return false
}
