package assistant

import (
	"context"
	"errors"
	"testing"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"tidepool/api/internal/chat"
)

type fakeThreadClient struct {
	createThreadFn   func(context.Context, openai.ThreadRequest) (openai.Thread, error)
	retrieveThreadFn func(context.Context, string) (openai.Thread, error)
	createMessageFn  func(context.Context, string, openai.MessageRequest) (openai.Message, error)
	createRunFn      func(context.Context, string, openai.RunRequest) (openai.Run, error)
	retrieveRunFn    func(context.Context, string, string) (openai.Run, error)
	listMessageFn    func(context.Context, string) (openai.MessagesList, error)
}

func (f *fakeThreadClient) CreateThread(ctx context.Context, request openai.ThreadRequest) (openai.Thread, error) {
	if f.createThreadFn != nil {
		return f.createThreadFn(ctx, request)
	}
	return openai.Thread{ID: "thread_new"}, nil
}

func (f *fakeThreadClient) RetrieveThread(ctx context.Context, threadID string) (openai.Thread, error) {
	if f.retrieveThreadFn != nil {
		return f.retrieveThreadFn(ctx, threadID)
	}
	return openai.Thread{ID: threadID}, nil
}

func (f *fakeThreadClient) CreateMessage(ctx context.Context, threadID string, request openai.MessageRequest) (openai.Message, error) {
	if f.createMessageFn != nil {
		return f.createMessageFn(ctx, threadID, request)
	}
	return openai.Message{ID: "msg_user"}, nil
}

func (f *fakeThreadClient) CreateRun(ctx context.Context, threadID string, request openai.RunRequest) (openai.Run, error) {
	if f.createRunFn != nil {
		return f.createRunFn(ctx, threadID, request)
	}
	return openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil
}

func (f *fakeThreadClient) RetrieveRun(ctx context.Context, threadID, runID string) (openai.Run, error) {
	if f.retrieveRunFn != nil {
		return f.retrieveRunFn(ctx, threadID, runID)
	}
	return openai.Run{ID: runID, Status: openai.RunStatusCompleted}, nil
}

func (f *fakeThreadClient) ListMessage(ctx context.Context, threadID string, limit *int, order *string, after *string, before *string, runID *string) (openai.MessagesList, error) {
	if f.listMessageFn != nil {
		return f.listMessageFn(ctx, threadID)
	}
	return openai.MessagesList{}, nil
}

func textMessage(value string) openai.Message {
	return openai.Message{
		Role: chat.RoleAssistant,
		Content: []openai.MessageContent{
			{Type: "text", Text: &openai.MessageText{Value: value}},
		},
	}
}

func userTurn(threadID string) Turn {
	return Turn{
		Messages: []chat.Message{{Role: chat.RoleUser, Content: "Hello"}},
		ThreadID: threadID,
	}
}

func TestPollingDriverCreatesThreadWhenAbsent(t *testing.T) {
	var createdThread bool
	var appendedContent string
	var runAssistant string
	statuses := []openai.RunStatus{openai.RunStatusInProgress, openai.RunStatusCompleted}

	client := &fakeThreadClient{
		createThreadFn: func(context.Context, openai.ThreadRequest) (openai.Thread, error) {
			createdThread = true
			return openai.Thread{ID: "thread_1"}, nil
		},
		createMessageFn: func(_ context.Context, threadID string, request openai.MessageRequest) (openai.Message, error) {
			if threadID != "thread_1" {
				t.Fatalf("message appended to wrong thread %s", threadID)
			}
			appendedContent = request.Content
			return openai.Message{}, nil
		},
		createRunFn: func(_ context.Context, _ string, request openai.RunRequest) (openai.Run, error) {
			runAssistant = request.AssistantID
			return openai.Run{ID: "run_1", Status: openai.RunStatusQueued}, nil
		},
		retrieveRunFn: func(context.Context, string, string) (openai.Run, error) {
			status := statuses[0]
			if len(statuses) > 1 {
				statuses = statuses[1:]
			}
			return openai.Run{ID: "run_1", Status: status}, nil
		},
		listMessageFn: func(context.Context, string) (openai.MessagesList, error) {
			return openai.MessagesList{Messages: []openai.Message{textMessage("Hi there")}}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Second)
	reply, err := driver.ProduceReply(context.Background(), userTurn(""))
	if err != nil {
		t.Fatalf("ProduceReply: %v", err)
	}

	if !createdThread {
		t.Fatalf("expected a new thread")
	}
	if appendedContent != "Hello" {
		t.Fatalf("expected newest user message appended, got %q", appendedContent)
	}
	if runAssistant != "asst_1" {
		t.Fatalf("expected configured assistant id, got %q", runAssistant)
	}
	if reply.Content != "Hi there" || reply.ThreadID != "thread_1" {
		t.Fatalf("unexpected reply %+v", reply)
	}
}

func TestPollingDriverResumesExistingThread(t *testing.T) {
	var retrievedID string
	client := &fakeThreadClient{
		retrieveThreadFn: func(_ context.Context, threadID string) (openai.Thread, error) {
			retrievedID = threadID
			return openai.Thread{ID: threadID}, nil
		},
		createThreadFn: func(context.Context, openai.ThreadRequest) (openai.Thread, error) {
			t.Fatalf("must not create a thread when resuming")
			return openai.Thread{}, nil
		},
		listMessageFn: func(context.Context, string) (openai.MessagesList, error) {
			return openai.MessagesList{Messages: []openai.Message{textMessage("resumed")}}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Second)
	reply, err := driver.ProduceReply(context.Background(), userTurn("thread_keep"))
	if err != nil {
		t.Fatalf("ProduceReply: %v", err)
	}
	if retrievedID != "thread_keep" {
		t.Fatalf("expected thread_keep retrieved, got %q", retrievedID)
	}
	if reply.ThreadID != "thread_keep" {
		t.Fatalf("thread id must never be reassigned, got %q", reply.ThreadID)
	}
}

func TestPollingDriverStaleThreadPropagates(t *testing.T) {
	client := &fakeThreadClient{
		retrieveThreadFn: func(context.Context, string) (openai.Thread, error) {
			return openai.Thread{}, &openai.APIError{HTTPStatusCode: 404, Message: "No thread found"}
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Second)
	_, err := driver.ProduceReply(context.Background(), userTurn("thread_gone"))
	if err == nil {
		t.Fatalf("expected stale thread error")
	}
	if status, ok := UpstreamStatus(err); !ok || status != 404 {
		t.Fatalf("expected upstream 404, got %v (%v)", status, err)
	}
}

func TestPollingDriverTerminalFailure(t *testing.T) {
	var listed bool
	client := &fakeThreadClient{
		retrieveRunFn: func(context.Context, string, string) (openai.Run, error) {
			return openai.Run{ID: "run_1", Status: openai.RunStatusFailed}, nil
		},
		listMessageFn: func(context.Context, string) (openai.MessagesList, error) {
			listed = true
			return openai.MessagesList{}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Second)
	_, err := driver.ProduceReply(context.Background(), userTurn(""))
	if !errors.Is(err, ErrRunFailed) {
		t.Fatalf("expected ErrRunFailed, got %v", err)
	}
	if listed {
		t.Fatalf("must not read messages after a failed run")
	}
}

func TestPollingDriverDeadline(t *testing.T) {
	client := &fakeThreadClient{
		retrieveRunFn: func(context.Context, string, string) (openai.Run, error) {
			return openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, 20*time.Millisecond)
	_, err := driver.ProduceReply(context.Background(), userTurn(""))
	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected ErrRunTimeout, got %v", err)
	}
}

func TestPollingDriverHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	client := &fakeThreadClient{
		retrieveRunFn: func(context.Context, string, string) (openai.Run, error) {
			cancel()
			return openai.Run{ID: "run_1", Status: openai.RunStatusInProgress}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Minute)
	_, err := driver.ProduceReply(ctx, userTurn(""))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestPollingDriverRejectsEmptyTurn(t *testing.T) {
	driver := NewPollingDriver(&fakeThreadClient{}, "asst_1", time.Millisecond, time.Second)

	for _, turn := range []Turn{
		{},
		{Messages: []chat.Message{{Role: chat.RoleAssistant, Content: "tail"}}},
	} {
		if _, err := driver.ProduceReply(context.Background(), turn); !errors.Is(err, ErrEmptyTurn) {
			t.Fatalf("expected ErrEmptyTurn, got %v", err)
		}
	}
}

func TestPollingDriverEmptyThreadReply(t *testing.T) {
	client := &fakeThreadClient{
		listMessageFn: func(context.Context, string) (openai.MessagesList, error) {
			return openai.MessagesList{}, nil
		},
	}

	driver := NewPollingDriver(client, "asst_1", time.Millisecond, time.Second)
	_, err := driver.ProduceReply(context.Background(), userTurn(""))
	if !errors.Is(err, ErrEmptyReply) {
		t.Fatalf("expected ErrEmptyReply, got %v", err)
	}
}
