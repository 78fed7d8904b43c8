// Package assistant produces assistant replies for conversation turns.
// Two interchangeable drivers implement the same contract: a polling
// driver over the provider's thread/run model and a streaming driver
// over stateless chat completions. One driver per deployment, selected
// by configuration.
package assistant

import (
	"context"
	"errors"

	openai "github.com/sashabaranov/go-openai"

	"tidepool/api/internal/chat"
)

// Turn is the conversation state handed to a driver. Messages is the
// full client-submitted history in turn order; the last element must be
// the newest user message. ThreadID is the provider conversation
// handle, empty for a new conversation.
type Turn struct {
	Messages []chat.Message
	ThreadID string
	// OnDelta, when set, receives each partial text chunk as it
	// arrives. Only the streaming driver emits deltas.
	OnDelta func(delta string)
}

// Reply is one completed assistant turn.
type Reply struct {
	Content  string
	ThreadID string
}

// Driver produces one assistant reply for a conversation turn.
type Driver interface {
	ProduceReply(ctx context.Context, turn Turn) (Reply, error)
}

var (
	// ErrEmptyTurn reports a turn with no trailing user message.
	ErrEmptyTurn = errors.New("turn has no user message")
	// ErrRunFailed reports a run that reached a terminal state other
	// than completed.
	ErrRunFailed = errors.New("assistant run failed")
	// ErrRunTimeout reports a run that did not reach a terminal state
	// before the polling deadline.
	ErrRunTimeout = errors.New("assistant run timed out")
	// ErrEmptyReply reports a completed run with no readable text.
	ErrEmptyReply = errors.New("assistant returned no text")
	// ErrNotConfigured reports a deployment without provider credentials.
	ErrNotConfigured = errors.New("assistant provider not configured")
)

type unconfiguredDriver struct{}

func (unconfiguredDriver) ProduceReply(context.Context, Turn) (Reply, error) {
	return Reply{}, ErrNotConfigured
}

// Unconfigured returns a driver that rejects every turn. Used when the
// provider API key or assistant id is absent, so the server still boots
// and reports the missing configuration per request.
func Unconfigured() Driver {
	return unconfiguredDriver{}
}

// UpstreamStatus extracts the provider's HTTP status from an API error,
// so the boundary can propagate upstream rejections verbatim.
func UpstreamStatus(err error) (int, bool) {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) && apiErr.HTTPStatusCode > 0 {
		return apiErr.HTTPStatusCode, true
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) && reqErr.HTTPStatusCode > 0 {
		return reqErr.HTTPStatusCode, true
	}
	return 0, false
}

// NewClient builds the provider client. baseURL overrides the API host,
// used by tests and proxy deployments.
func NewClient(apiKey, baseURL string) *openai.Client {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(cfg)
}
