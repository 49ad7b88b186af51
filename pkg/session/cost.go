package session

import "sync"

// CostKind distinguishes audio-token input from text-token input when
// pricing a call.
type CostKind int

const (
	CostAudio CostKind = iota
	CostText
)

// providerPricing is USD per token.
type providerPricing struct {
	audioInputPerToken float64
	textInputPerToken  float64
	outputPerToken     float64
}

// pricingTable maps provider names to their per-token rates. Unknown
// providers price at zero so cost reporting degrades to token counting.
var pricingTable = map[string]providerPricing{
	"gemini":   {audioInputPerToken: 0.7e-6, textInputPerToken: 0.1e-6, outputPerToken: 0.4e-6},
	"whisper":  {audioInputPerToken: 0.6e-6, textInputPerToken: 0.1e-6, outputPerToken: 0.2e-6},
	"realtime": {audioInputPerToken: 0.9e-6, textInputPerToken: 0.1e-6, outputPerToken: 0.3e-6},
	"local":    {},
	"openai":   {audioInputPerToken: 0.4e-6, textInputPerToken: 0.15e-6, outputPerToken: 0.6e-6},
}

// CostSnapshot is a point-in-time view of accumulated usage. Also the
// payload of EventCostUpdated.
type CostSnapshot struct {
	TotalInputTokens  int     `json:"totalInputTokens"`
	TotalOutputTokens int     `json:"totalOutputTokens"`
	TotalCost         float64 `json:"totalCost"`
}

// CostAccumulator tracks token usage and estimated spend for a session.
// Totals are monotonically non-decreasing between resets.
type CostAccumulator struct {
	mu       sync.Mutex
	snapshot CostSnapshot
}

// NewCostAccumulator creates a zeroed accumulator.
func NewCostAccumulator() *CostAccumulator {
	return &CostAccumulator{}
}

// Add records one call's usage and returns the running total.
func (c *CostAccumulator) Add(tokensIn, tokensOut int, kind CostKind, provider string) CostSnapshot {
	pricing := pricingTable[provider]

	inputRate := pricing.textInputPerToken
	if kind == CostAudio {
		inputRate = pricing.audioInputPerToken
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot.TotalInputTokens += tokensIn
	c.snapshot.TotalOutputTokens += tokensOut
	c.snapshot.TotalCost += float64(tokensIn)*inputRate + float64(tokensOut)*pricing.outputPerToken
	return c.snapshot
}

// Snapshot returns the current totals.
func (c *CostAccumulator) Snapshot() CostSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot
}

// Reset zeroes the totals for a fresh session.
func (c *CostAccumulator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshot = CostSnapshot{}
}
