package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"tidepool/api/internal/chat"
)

// mockCompletionServer emulates the provider's streamed chat-completion
// endpoint, so the driver runs against the real client and wire format.
func mockCompletionServer(t *testing.T, chunks []string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body struct {
			Stream   bool `json:"stream"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if !body.Stream {
			t.Errorf("expected stream:true request")
		}
		if len(body.Messages) == 0 {
			t.Errorf("expected full history resent")
		}

		if status != http.StatusOK {
			w.WriteHeader(status)
			fmt.Fprintf(w, `{"error":{"message":"upstream rejected","type":"invalid_request_error"}}`)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		for _, chunk := range chunks {
			payload, _ := json.Marshal(map[string]any{
				"id":      "chunk-1",
				"object":  "chat.completion.chunk",
				"choices": []map[string]any{{"index": 0, "delta": map[string]any{"content": chunk}}},
			})
			fmt.Fprintf(w, "data: %s\n\n", payload)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

func TestStreamingDriverConcatenatesDeltas(t *testing.T) {
	server := mockCompletionServer(t, []string{"Hi ", "there"}, http.StatusOK)
	defer server.Close()

	client := NewClient("test-key", server.URL+"/v1")
	driver := NewStreamingDriver(client, "gpt-4o-mini")

	var deltas []string
	reply, err := driver.ProduceReply(context.Background(), Turn{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello"}},
		OnDelta:  func(delta string) { deltas = append(deltas, delta) },
	})
	if err != nil {
		t.Fatalf("ProduceReply: %v", err)
	}
	if reply.Content != "Hi there" {
		t.Fatalf("expected concatenated reply, got %q", reply.Content)
	}
	if reply.ThreadID != "" {
		t.Fatalf("streaming driver must not invent a thread id")
	}
	if len(deltas) != 2 || deltas[0] != "Hi " || deltas[1] != "there" {
		t.Fatalf("unexpected delta sequence %v", deltas)
	}
}

func TestStreamingDriverUpstreamRejection(t *testing.T) {
	server := mockCompletionServer(t, nil, http.StatusTooManyRequests)
	defer server.Close()

	client := NewClient("test-key", server.URL+"/v1")
	driver := NewStreamingDriver(client, "gpt-4o-mini")

	_, err := driver.ProduceReply(context.Background(), Turn{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello"}},
	})
	if err == nil {
		t.Fatalf("expected upstream rejection")
	}
	if status, ok := UpstreamStatus(err); !ok || status != http.StatusTooManyRequests {
		t.Fatalf("expected provider status to ride along, got %v (%v)", status, err)
	}
}

func TestStreamingDriverRejectsEmptyTurn(t *testing.T) {
	driver := NewStreamingDriver(nil, "gpt-4o-mini")
	if _, err := driver.ProduceReply(context.Background(), Turn{}); !errors.Is(err, ErrEmptyTurn) {
		t.Fatalf("expected ErrEmptyTurn, got %v", err)
	}
}

func TestStreamingDriverEmptyStream(t *testing.T) {
	server := mockCompletionServer(t, nil, http.StatusOK)
	defer server.Close()

	client := NewClient("test-key", server.URL+"/v1")
	driver := NewStreamingDriver(client, "gpt-4o-mini")

	_, err := driver.ProduceReply(context.Background(), Turn{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello"}},
	})
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}
