package assistant

import (
	"context"
	"fmt"

	openai "github.com/sashabaranov/go-openai"

	"tidepool/api/internal/chat"
)

// threadClient is the subset of the provider's thread API the resolver
// and polling driver use. The concrete *openai.Client satisfies it.
type threadClient interface {
	CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error)
	RetrieveThread(ctx context.Context, threadID string) (openai.Thread, error)
	CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error)
	CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error)
	RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error)
	ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error)
}

// Resolver resumes an existing provider thread or creates a fresh one,
// then appends the newest user message to it. A stale thread id is not
// recovered from; the provider error propagates.
type Resolver struct {
	client threadClient
}

func NewResolver(client threadClient) *Resolver {
	return &Resolver{client: client}
}

// Resolve returns the thread id the turn runs against. Only the newest
// user message is appended server-side; earlier history already lives
// in the thread.
func (r *Resolver) Resolve(ctx context.Context, existingID string, userMessage chat.Message) (string, error) {
	var threadID string
	if existingID != "" {
		thread, err := r.client.RetrieveThread(ctx, existingID)
		if err != nil {
			return "", fmt.Errorf("retrieve thread %s: %w", existingID, err)
		}
		threadID = thread.ID
	} else {
		thread, err := r.client.CreateThread(ctx, openai.ThreadRequest{})
		if err != nil {
			return "", fmt.Errorf("create thread: %w", err)
		}
		threadID = thread.ID
	}

	_, err := r.client.CreateMessage(ctx, threadID, openai.MessageRequest{
		Role:    chat.RoleUser,
		Content: userMessage.Content,
	})
	if err != nil {
		return "", fmt.Errorf("append message to thread %s: %w", threadID, err)
	}
	return threadID, nil
}
