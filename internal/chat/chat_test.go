package chat

import (
	"strings"
	"testing"
)

func TestTitleForShortMessage(t *testing.T) {
	title := TitleFor([]Message{{Role: RoleUser, Content: "Hello"}})
	if title != "Hello" {
		t.Fatalf("expected title Hello, got %q", title)
	}
}

func TestTitleForTruncatesAtHundredCharacters(t *testing.T) {
	long := strings.Repeat("a", 250)
	title := TitleFor([]Message{{Role: RoleUser, Content: long}})
	if len(title) != 100 {
		t.Fatalf("expected 100 characters, got %d", len(title))
	}
	if title != long[:100] {
		t.Fatalf("expected prefix truncation")
	}
}

func TestTitleForCountsRunesNotBytes(t *testing.T) {
	long := strings.Repeat("ß", 120)
	title := TitleFor([]Message{{Role: RoleUser, Content: long}})
	if got := len([]rune(title)); got != 100 {
		t.Fatalf("expected 100 runes, got %d", got)
	}
}

func TestTitleForEmptyHistory(t *testing.T) {
	if title := TitleFor(nil); title != "" {
		t.Fatalf("expected empty title, got %q", title)
	}
}

func TestPathFor(t *testing.T) {
	if path := PathFor("chat_abc"); path != "/chat/chat_abc" {
		t.Fatalf("unexpected path %q", path)
	}
}

func TestLastUserMessage(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
		{Role: RoleUser, Content: "second"},
	}
	last, ok := LastUserMessage(messages)
	if !ok || last.Content != "second" {
		t.Fatalf("expected second, got %+v ok=%v", last, ok)
	}
}

func TestLastUserMessageRejectsAssistantTail(t *testing.T) {
	messages := []Message{
		{Role: RoleUser, Content: "first"},
		{Role: RoleAssistant, Content: "reply"},
	}
	if _, ok := LastUserMessage(messages); ok {
		t.Fatalf("expected rejection when last message is not from the user")
	}
}
