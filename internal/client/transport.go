package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"tidepool/api/internal/chat"
)

// HTTPSender implements Sender over the JSON chat API. It also reads
// text/plain streamed responses, collecting the body into one reply.
type HTTPSender struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewHTTPSender(baseURL, token string) *HTTPSender {
	return &HTTPSender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		Client:  http.DefaultClient,
	}
}

// SetToken swaps the bearer token, for use after a refresh.
func (s *HTTPSender) SetToken(token string) {
	s.Token = token
}

func (s *HTTPSender) SendTurn(ctx context.Context, chatID, threadID string, messages []chat.Message) (TurnReply, error) {
	body, err := json.Marshal(map[string]any{
		"id":       chatID,
		"threadId": threadID,
		"messages": messages,
	})
	if err != nil {
		return TurnReply{}, fmt.Errorf("marshal turn: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return TurnReply{}, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.Token != "" {
		req.Header.Set("Authorization", "Bearer "+s.Token)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return TurnReply{}, fmt.Errorf("send turn: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return TurnReply{}, ErrUnauthorized
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code  string `json:"code"`
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Code != "" {
			return TurnReply{}, fmt.Errorf("turn rejected: %s (%s)", apiErr.Error, apiErr.Code)
		}
		return TurnReply{}, fmt.Errorf("turn rejected: status %d", resp.StatusCode)
	}

	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/plain") {
		text, err := io.ReadAll(resp.Body)
		if err != nil {
			return TurnReply{}, fmt.Errorf("read stream: %w", err)
		}
		return TurnReply{
			ChatID:   resp.Header.Get("X-Chat-Id"),
			ThreadID: resp.Header.Get("X-Thread-Id"),
			Content:  string(text),
		}, nil
	}

	var payload struct {
		ID       string `json:"id"`
		ThreadID string `json:"threadId"`
		Content  string `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return TurnReply{}, fmt.Errorf("decode reply: %w", err)
	}
	return TurnReply{ChatID: payload.ID, ThreadID: payload.ThreadID, Content: payload.Content}, nil
}
