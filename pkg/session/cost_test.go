package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCostAccumulates(t *testing.T) {
	c := NewCostAccumulator()

	first := c.Add(1000, 100, CostAudio, "gemini")
	assert.Equal(t, 1000, first.TotalInputTokens)
	assert.Equal(t, 100, first.TotalOutputTokens)
	assert.InDelta(t, 1000*0.7e-6+100*0.4e-6, first.TotalCost, 1e-12)

	second := c.Add(500, 50, CostText, "openai")
	assert.Equal(t, 1500, second.TotalInputTokens)
	assert.Equal(t, 150, second.TotalOutputTokens)
	assert.Greater(t, second.TotalCost, first.TotalCost)
}

func TestCostUnknownProviderCountsTokensOnly(t *testing.T) {
	c := NewCostAccumulator()
	snap := c.Add(100, 10, CostAudio, "someday-provider")
	assert.Equal(t, 100, snap.TotalInputTokens)
	assert.Zero(t, snap.TotalCost)
}

func TestCostReset(t *testing.T) {
	c := NewCostAccumulator()
	c.Add(10, 10, CostText, "openai")
	c.Reset()
	assert.Equal(t, CostSnapshot{}, c.Snapshot())
}
