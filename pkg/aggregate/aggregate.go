// Package aggregate derives conversation summary views from message sets.
// Summaries are pure functions of the store contents; nothing here mutates
// state.
package aggregate

import (
	"sort"

	"chatrelay/pkg/models"
)

// Summarize computes the summary for one conversation key from its message
// set. Messages are expected in store iteration order (sent_at ascending,
// insertion order breaking ties), so the last element is the "last message".
// The empty set reports ok=false; callers render that as an absent summary.
func Summarize(key string, msgs []models.Message) (models.Conversation, bool) {
	if len(msgs) == 0 {
		return models.Conversation{}, false
	}
	last := msgs[len(msgs)-1]
	return models.Conversation{
		Key:           key,
		DisplayName:   displayName(key, msgs),
		LastMessage:   last.Body,
		LastMessageAt: last.SentAt,
		MessageCount:  len(msgs),
	}, true
}

// displayName picks the most recent non-empty display name; outbound
// messages usually carry none, so the scan walks backwards. Falls back to
// the key itself.
func displayName(key string, msgs []models.Message) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].DisplayName != "" {
			return msgs[i].DisplayName
		}
	}
	return key
}

// SortSummaries orders summaries by last_message_at descending, key
// ascending on ties so the conversation list is stable.
func SortSummaries(out []models.Conversation) {
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastMessageAt != out[j].LastMessageAt {
			return out[i].LastMessageAt > out[j].LastMessageAt
		}
		return out[i].Key < out[j].Key
	})
}
