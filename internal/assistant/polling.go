package assistant

import (
	"context"
	"fmt"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tidepool/api/internal/chat"
)

// PollingDriver runs the assistant through the provider's thread/run
// model: resolve the thread, start a run, poll its status at a fixed
// interval until a terminal state, then read the newest thread message
// as the reply. The poll loop is bounded by a wall-clock deadline and
// by the request context.
type PollingDriver struct {
	client      threadClient
	resolver    *Resolver
	assistantID string
	interval    time.Duration
	deadline    time.Duration
}

func NewPollingDriver(client threadClient, assistantID string, interval, deadline time.Duration) *PollingDriver {
	if interval <= 0 {
		interval = time.Second
	}
	if deadline <= 0 {
		deadline = 2 * time.Minute
	}
	return &PollingDriver{
		client:      client,
		resolver:    NewResolver(client),
		assistantID: assistantID,
		interval:    interval,
		deadline:    deadline,
	}
}

func (d *PollingDriver) ProduceReply(ctx context.Context, turn Turn) (Reply, error) {
	userMessage, ok := chat.LastUserMessage(turn.Messages)
	if !ok {
		return Reply{}, ErrEmptyTurn
	}

	threadID, err := d.resolver.Resolve(ctx, turn.ThreadID, userMessage)
	if err != nil {
		return Reply{}, err
	}

	run, err := d.client.CreateRun(ctx, threadID, openai.RunRequest{AssistantID: d.assistantID})
	if err != nil {
		return Reply{}, fmt.Errorf("create run: %w", err)
	}

	status, err := d.awaitRun(ctx, threadID, run)
	if err != nil {
		return Reply{}, err
	}
	if status != openai.RunStatusCompleted {
		return Reply{}, fmt.Errorf("%w: terminal status %s", ErrRunFailed, status)
	}

	content, err := d.latestReply(ctx, threadID)
	if err != nil {
		return Reply{}, err
	}
	return Reply{Content: content, ThreadID: threadID}, nil
}

// awaitRun re-reads the run status until it leaves the queued and
// in-progress states or the deadline elapses.
func (d *PollingDriver) awaitRun(ctx context.Context, threadID string, run openai.Run) (openai.RunStatus, error) {
	status := run.Status
	expires := time.NewTimer(d.deadline)
	defer expires.Stop()
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for status == openai.RunStatusQueued || status == openai.RunStatusInProgress {
		select {
		case <-ctx.Done():
			return status, ctx.Err()
		case <-expires.C:
			return status, fmt.Errorf("%w: run %s still %s after %s", ErrRunTimeout, run.ID, status, d.deadline)
		case <-ticker.C:
		}

		current, err := d.client.RetrieveRun(ctx, threadID, run.ID)
		if err != nil {
			return status, fmt.Errorf("retrieve run %s: %w", run.ID, err)
		}
		status = current.Status
	}
	return status, nil
}

// latestReply reads the newest message in the thread. The provider
// orders newest-first.
func (d *PollingDriver) latestReply(ctx context.Context, threadID string) (string, error) {
	limit := 1
	order := "desc"
	list, err := d.client.ListMessage(ctx, threadID, &limit, &order, nil, nil, nil)
	if err != nil {
		return "", fmt.Errorf("list thread messages: %w", err)
	}
	if len(list.Messages) == 0 {
		return "", ErrEmptyReply
	}
	for _, part := range list.Messages[0].Content {
		if part.Text != nil {
			return part.Text.Value, nil
		}
	}
	return "", ErrEmptyReply
}
