package store

import (
	"time"

	"tidepool/api/internal/chat"
)

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

// Chat is one persisted transcript. The payload is stored as a single
// JSONB document and fully overwritten on every upsert. Body is the
// plain-text join of the message contents; the full-text index derives
// from it, never from the raw payload JSON.
type Chat struct {
	ID        string
	UserID    string
	Payload   chat.Payload
	Body      string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ChatSummary is the list-view projection of a transcript.
type ChatSummary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Path      string    `json:"path"`
	ThreadID  string    `json:"threadId,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}
