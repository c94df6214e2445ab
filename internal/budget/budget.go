// Package budget provides token budget estimation for prompts sent to chat
// backends. Because docqa supports multiple LLM backends with different
// tokenizers, this package uses a conservative character-based heuristic:
// 1 token ≈ 4 characters (English prose and code).
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	// charsPerToken is the character-to-token ratio used for estimation.
	charsPerToken = 4

	// perMessageOverhead approximates the role/framing tokens most chat APIs
	// add to every message.
	perMessageOverhead = 4

	// DefaultMaxContextTokens is the default input context budget in tokens.
	// Fits 8k-context models (Llama 3 8B, GPT-3.5) with room for the output.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s using the character heuristic.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated total token count for a slice of
// schema.Message values, summing role + content for each message.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += perMessageOverhead
		total += Estimate(string(m.Role))
		total += Estimate(m.Content)
	}
	return total
}

// Exceeds returns the estimate for msgs and whether it is above maxTokens.
// A non-positive maxTokens means no budget.
func Exceeds(msgs []*schema.Message, maxTokens int) (int, bool) {
	est := EstimateMessages(msgs)
	return est, maxTokens > 0 && est > maxTokens
}
