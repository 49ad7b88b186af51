package session

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTaskIdempotent(t *testing.T) {
	inputs := []string{
		"Send the Q3 report!",
		"  Don't   forget the MEETING.  ",
		"review PR #42 (today)",
		"已经完成的任务。",
	}
	for _, in := range inputs {
		once := NormalizeTask(in)
		assert.Equal(t, once, NormalizeTask(once), "input %q", in)
	}
}

func TestNormalizeTask(t *testing.T) {
	assert.Equal(t, "send the q3 report", NormalizeTask("Send the Q3 report!"))
	assert.Equal(t, "dont forget", NormalizeTask("Don't forget..."))
	assert.Equal(t, "review pr 42", NormalizeTask("review PR #42"))
	assert.Equal(t, "", NormalizeTask("!!! ..."))
}

func TestDedupExactIdempotence(t *testing.T) {
	d := NewTaskDeduper()

	assert.False(t, d.IsDuplicate("Email the design doc to Sam"))
	d.Remember("Email the design doc to Sam")
	assert.True(t, d.IsDuplicate("Email the design doc to Sam"))
	assert.True(t, d.IsDuplicate("email the design doc to sam!"))
}

func TestDedupContainment(t *testing.T) {
	d := NewTaskDeduper()
	d.Remember("schedule the quarterly planning meeting with the infra team")

	assert.True(t, d.IsDuplicate("quarterly planning meeting"))
	assert.False(t, d.IsDuplicate("fly to berlin"))
}

func TestDedupTokenSetRules(t *testing.T) {
	d := NewTaskDeduper()
	d.Remember("send weekly status report to manager")

	// Same token set, different order and inflection.
	assert.True(t, d.IsDuplicate("send the weekly status reports to the manager"))
	// Mostly-overlapping token sets.
	assert.True(t, d.IsDuplicate("send weekly status report to engineering manager"))
	// Unrelated task.
	assert.False(t, d.IsDuplicate("book a flight to berlin"))
}

func TestDedupExtraCorpora(t *testing.T) {
	d := NewTaskDeduper()
	existing := []string{"Update the onboarding checklist"}

	assert.True(t, d.IsDuplicate("update the onboarding checklist", existing))
	assert.False(t, d.IsDuplicate("update the onboarding checklist"))
}

func TestDedupRingEviction(t *testing.T) {
	d := NewTaskDeduper()
	task := func(i int) string {
		// Tokens differ per entry so the fuzzy rules cannot bridge them.
		return fmt.Sprintf("alpha%d beta%d gamma%d", i, i, i)
	}
	for i := 0; i < dedupRingCapacity+50; i++ {
		d.Remember(task(i))
	}

	assert.Equal(t, dedupRingCapacity, d.Size())
	// The oldest entries were evicted and can be suggested again.
	assert.False(t, d.IsDuplicate(task(0)))
	assert.True(t, d.IsDuplicate(task(dedupRingCapacity+49)))
}
