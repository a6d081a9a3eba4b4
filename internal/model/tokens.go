package model

import "unicode/utf8"

const (
	tokensPerMessage = 3
	replyPrimer      = 3
)

// ApproxTokens estimates the token count of s at about four characters per
// token.
func ApproxTokens(s string) int {
	n := utf8.RuneCountInString(s)
	return (n + 3) / 4
}

// EstimateTokens estimates the input tokens of a chat request and the output
// tokens of its one-token reply.
func EstimateTokens(history []Message) (input, output int) {
	for _, m := range history {
		input += tokensPerMessage + ApproxTokens(m.Content)
	}
	return input + replyPrimer, 1
}
