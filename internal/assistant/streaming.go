package assistant

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"tidepool/api/internal/chat"
)

// streamClient is the subset of the provider's completion API the
// streaming driver uses. The concrete *openai.Client satisfies it.
type streamClient interface {
	CreateChatCompletionStream(ctx context.Context, request openai.ChatCompletionRequest) (*openai.ChatCompletionStream, error)
}

// StreamingDriver produces the reply through a one-shot streamed chat
// completion. There is no provider-side conversation handle; the full
// message history is resent on every call. The concatenated text is
// returned once the stream ends, which is where persistence hooks in.
type StreamingDriver struct {
	client streamClient
	model  string
}

func NewStreamingDriver(client streamClient, model string) *StreamingDriver {
	return &StreamingDriver{client: client, model: model}
}

func (d *StreamingDriver) ProduceReply(ctx context.Context, turn Turn) (Reply, error) {
	if _, ok := chat.LastUserMessage(turn.Messages); !ok {
		return Reply{}, ErrEmptyTurn
	}

	request := openai.ChatCompletionRequest{
		Model:    d.model,
		Messages: make([]openai.ChatCompletionMessage, 0, len(turn.Messages)),
		Stream:   true,
	}
	for _, message := range turn.Messages {
		request.Messages = append(request.Messages, openai.ChatCompletionMessage{
			Role:    message.Role,
			Content: message.Content,
		})
	}

	stream, err := d.client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		// The upstream call was rejected before any stream opened;
		// the provider's status and diagnostics ride along.
		return Reply{}, fmt.Errorf("open completion stream: %w", err)
	}
	defer stream.Close()

	var builder strings.Builder
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Reply{}, fmt.Errorf("read completion stream: %w", err)
		}
		if len(response.Choices) == 0 {
			continue
		}
		delta := response.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		builder.WriteString(delta)
		if turn.OnDelta != nil {
			turn.OnDelta(delta)
		}
	}

	if builder.Len() == 0 {
		return Reply{}, ErrEmptyReply
	}
	return Reply{Content: builder.String()}, nil
}
