// Package budget turns raw text and message history into token counts and
// produces the bounded payload plan handed to the generation call. It is
// pure: no I/O, no external tokenizer.
package budget

import (
	"unicode/utf8"

	"attune/internal/types"
)

// charsPerToken is the model-agnostic estimation ratio. Deliberately not
// tied to any real tokenizer; rounding up keeps the estimate conservative.
const charsPerToken = 4

// messageOverhead covers role framing and separators per message.
const messageOverhead = 4

// EstimateTokens estimates tokens in a string, rounding up.
func EstimateTokens(s string) int {
	if s == "" {
		return 0
	}
	runes := utf8.RuneCountInString(s)
	return (runes + charsPerToken - 1) / charsPerToken
}

// EstimateMessage estimates tokens for one message including framing.
func EstimateMessage(m types.Message) int {
	return messageOverhead + EstimateTokens(m.Content)
}

// EstimateMessages sums message estimates.
func EstimateMessages(msgs []types.Message) int {
	total := 0
	for _, m := range msgs {
		total += EstimateMessage(m)
	}
	return total
}

// maxRunesForTokens converts a token allowance back into a rune allowance.
func maxRunesForTokens(tokens int) int {
	if tokens <= 0 {
		return 0
	}
	return tokens * charsPerToken
}
