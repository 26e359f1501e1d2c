package session

import "github.com/m3rciful/multibot/core/ai"

// MaxHistoryMessages bounds how many messages a chat transcript retains.
const MaxHistoryMessages = 1000

// AppendTrimmed appends a (user, assistant) turn to the transcript and keeps
// only the most recent limit messages. The input slice is never mutated; the
// result is a fresh sequence. A limit <= 0 falls back to MaxHistoryMessages.
func AppendTrimmed(existing []ai.ChatMessage, userMsg, assistantMsg ai.ChatMessage, limit int) []ai.ChatMessage {
	if limit <= 0 {
		limit = MaxHistoryMessages
	}
	out := make([]ai.ChatMessage, 0, len(existing)+2)
	out = append(out, existing...)
	out = append(out, userMsg, assistantMsg)
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}
