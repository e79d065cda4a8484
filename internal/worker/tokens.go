package worker

import "sync"

// TokenTracker tracks token usage across API calls.
type TokenTracker struct {
	mu        sync.Mutex
	inputTok  int64
	outputTok int64
	calls     int
	perAgent  map[string]int64
}

// NewTokenTracker creates a new token tracker.
func NewTokenTracker() *TokenTracker {
	return &TokenTracker{perAgent: make(map[string]int64)}
}

// Add records token usage from one call made on behalf of agentID.
func (t *TokenTracker) Add(agentID string, input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inputTok += input
	t.outputTok += output
	t.calls++
	t.perAgent[agentID] += input + output
}

// Total returns the total input and output tokens tracked.
func (t *TokenTracker) Total() (input, output int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inputTok, t.outputTok
}

// Agent returns the combined tokens spent by one agent.
func (t *TokenTracker) Agent(agentID string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.perAgent[agentID]
}

// Calls returns the number of API calls made.
func (t *TokenTracker) Calls() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls
}
