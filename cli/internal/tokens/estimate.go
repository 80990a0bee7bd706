// Package tokens estimates prompt token counts and relates them to the model
// context window. The estimate is byte based (about four bytes per token for
// English text and code); it is used for metadata and warnings, never for the
// prompt budget itself, which is counted in characters.
package tokens

import (
	"fmt"
	"math"
)

const charsPerToken = 4

// DefaultResponseReserve is the number of tokens kept free for the reply
// when comparing a prompt against the context limit. Commit messages are
// short, so this is generous.
const DefaultResponseReserve = 512

// Estimate returns ceil(len(text)/4); the empty string is 0 tokens.
func Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// CharBudget returns how many characters of user prompt fit in a context of
// contextLimit tokens once reserve tokens and the system prompt (systemChars
// bytes) are accounted for. It returns 0 when contextLimit is not positive,
// meaning no limit, and 1 when nothing fits, so callers can still report the
// overflow through the prompt builder.
func CharBudget(contextLimit, reserve, systemChars int) int {
	if contextLimit <= 0 {
		return 0
	}
	systemTokens := (max(systemChars, 0) + charsPerToken - 1) / charsPerToken
	free := contextLimit - reserve - systemTokens
	if free <= 0 {
		return 1
	}
	if free > math.MaxInt/charsPerToken {
		return math.MaxInt
	}
	return free * charsPerToken
}

// WarnIfOver returns a warning when promptTokens+responseReserve reaches
// warnThreshold (0..1) of contextLimit, and "" otherwise or when contextLimit
// is not positive.
func WarnIfOver(promptTokens, responseReserve, contextLimit int, warnThreshold float64) string {
	if contextLimit <= 0 || promptTokens < 0 || responseReserve < 0 {
		return ""
	}
	if responseReserve > math.MaxInt-promptTokens {
		return fmt.Sprintf("token estimate overflow (prompt %d + reserve %d)", promptTokens, responseReserve)
	}
	total := promptTokens + responseReserve
	threshold := int(math.Ceil(float64(contextLimit) * warnThreshold))
	if total < threshold {
		return ""
	}
	return fmt.Sprintf("estimated tokens %d (prompt %d + reserve %d) exceeds %.0f%% of context limit %d",
		total, promptTokens, responseReserve, warnThreshold*100, contextLimit)
}
