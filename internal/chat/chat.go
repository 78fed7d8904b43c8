// Package chat holds the transcript domain types shared by the store,
// the completion drivers, and the HTTP layer.
package chat

import "fmt"

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// titleLimit is the number of leading characters of the first message
// used as the transcript title. Truncation, not summarization.
const titleLimit = 100

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Payload is the JSONB document persisted per transcript. The message
// list is append-only history order; the last element is always the
// freshly produced assistant reply.
type Payload struct {
	Title     string    `json:"title"`
	CreatedAt int64     `json:"createdAt"`
	Path      string    `json:"path"`
	ThreadID  string    `json:"threadId,omitempty"`
	Messages  []Message `json:"messages"`
}

// TitleFor derives the transcript title from the first message.
func TitleFor(messages []Message) string {
	if len(messages) == 0 {
		return ""
	}
	runes := []rune(messages[0].Content)
	if len(runes) <= titleLimit {
		return messages[0].Content
	}
	return string(runes[:titleLimit])
}

// PathFor returns the routable locator for a transcript.
func PathFor(chatID string) string {
	return fmt.Sprintf("/chat/%s", chatID)
}

// LastUserMessage returns the newest client-submitted message. The
// client's array ordering is the canonical turn sequence; only this
// element is re-appended provider-side.
func LastUserMessage(messages []Message) (Message, bool) {
	if len(messages) == 0 {
		return Message{}, false
	}
	last := messages[len(messages)-1]
	if last.Role != RoleUser {
		return Message{}, false
	}
	return last, true
}
