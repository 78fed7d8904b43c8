// Package client keeps a local view of one conversation in sync with
// the chat API: optimistic message appends, per-turn commit state, and
// auth-state tracking for consumers that render the transcript.
package client

import (
	"context"
	"errors"
	"sync"

	"tidepool/api/internal/chat"
)

// Turn commit states. A pending turn is visible locally but not yet
// acknowledged by the server.
const (
	TurnPending   = "pending"
	TurnCommitted = "committed"
	TurnFailed    = "failed"
)

// Auth states. Unknown until the first server response settles it.
const (
	AuthUnknown         = "unknown"
	AuthAuthenticated   = "authenticated"
	AuthUnauthenticated = "unauthenticated"
)

// ErrUnauthorized reports a rejected session during a turn.
var ErrUnauthorized = errors.New("unauthorized")

// ErrTurnInFlight reports a send attempted while another turn is pending.
var ErrTurnInFlight = errors.New("a turn is already in flight")

// TurnReply is the server's acknowledgement of one completed turn.
type TurnReply struct {
	ChatID   string
	ThreadID string
	Content  string
}

// Sender performs one chat turn against the API.
type Sender interface {
	SendTurn(ctx context.Context, chatID, threadID string, messages []chat.Message) (TurnReply, error)
}

// Turn is one transcript entry plus its commit state.
type Turn struct {
	Message chat.Message
	State   string
}

// Snapshot is an immutable copy of the controller's state.
type Snapshot struct {
	ChatID     string
	ThreadID   string
	AuthStatus string
	Loading    bool
	Turns      []Turn
}

// Controller tracks one conversation. Safe for concurrent use.
type Controller struct {
	mu         sync.Mutex
	api        Sender
	chatID     string
	threadID   string
	authStatus string
	loading    bool
	turns      []Turn
	// generation invalidates in-flight turns when the transcript is
	// replaced; a completed round trip from an older generation must not
	// touch the new transcript.
	generation  int
	watchers    map[int]func(Snapshot)
	nextWatcher int
}

func NewController(api Sender) *Controller {
	return &Controller{
		api:        api,
		authStatus: AuthUnknown,
		watchers:   make(map[int]func(Snapshot)),
	}
}

// Resume points the controller at an existing conversation.
func (c *Controller) Resume(chatID, threadID string, messages []chat.Message) {
	c.mu.Lock()
	c.chatID = chatID
	c.threadID = threadID
	c.turns = make([]Turn, 0, len(messages))
	for _, message := range messages {
		c.turns = append(c.turns, Turn{Message: message, State: TurnCommitted})
	}
	c.generation++
	c.mu.Unlock()
	c.notify()
}

// SendMessage appends the user message optimistically, runs the turn,
// and commits or fails the local entries based on the outcome. The
// optimistic entry stays visible in the failed state so the consumer
// can offer a retry.
func (c *Controller) SendMessage(ctx context.Context, content string) error {
	c.mu.Lock()
	if c.loading {
		c.mu.Unlock()
		return ErrTurnInFlight
	}
	c.loading = true
	c.turns = append(c.turns, Turn{
		Message: chat.Message{Role: chat.RoleUser, Content: content},
		State:   TurnPending,
	})
	pendingIndex := len(c.turns) - 1
	generation := c.generation
	history := make([]chat.Message, 0, len(c.turns))
	for _, turn := range c.turns {
		history = append(history, turn.Message)
	}
	chatID, threadID := c.chatID, c.threadID
	c.mu.Unlock()
	c.notify()

	reply, err := c.api.SendTurn(ctx, chatID, threadID, history)

	c.mu.Lock()
	c.loading = false
	// A reload while the turn was on the wire dropped the optimistic
	// entry; auth state still settles, the transcript stays cleared.
	stale := c.generation != generation
	if err != nil {
		if !stale {
			c.turns[pendingIndex].State = TurnFailed
		}
		if errors.Is(err, ErrUnauthorized) {
			c.authStatus = AuthUnauthenticated
		}
		c.mu.Unlock()
		c.notify()
		return err
	}

	c.authStatus = AuthAuthenticated
	if !stale {
		c.turns[pendingIndex].State = TurnCommitted
		c.turns = append(c.turns, Turn{
			Message: chat.Message{Role: chat.RoleAssistant, Content: reply.Content},
			State:   TurnCommitted,
		})
		if reply.ChatID != "" {
			c.chatID = reply.ChatID
		}
		if reply.ThreadID != "" {
			c.threadID = reply.ThreadID
		}
	}
	c.mu.Unlock()
	c.notify()
	return nil
}

// Reload drops the local transcript. Server-side state is untouched;
// deleting a conversation goes through the API, not through here.
func (c *Controller) Reload() {
	c.mu.Lock()
	c.chatID = ""
	c.threadID = ""
	c.turns = nil
	c.loading = false
	c.generation++
	c.mu.Unlock()
	c.notify()
}

// SetAuthStatus records an externally observed auth state, e.g. from
// the session endpoint on startup.
func (c *Controller) SetAuthStatus(status string) {
	c.mu.Lock()
	c.authStatus = status
	c.mu.Unlock()
	c.notify()
}

// Snapshot returns a copy of the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

func (c *Controller) snapshotLocked() Snapshot {
	turns := make([]Turn, len(c.turns))
	copy(turns, c.turns)
	return Snapshot{
		ChatID:     c.chatID,
		ThreadID:   c.threadID,
		AuthStatus: c.authStatus,
		Loading:    c.loading,
		Turns:      turns,
	}
}

// Subscribe registers a watcher called after every state change. The
// returned function unsubscribes.
func (c *Controller) Subscribe(fn func(Snapshot)) func() {
	c.mu.Lock()
	id := c.nextWatcher
	c.nextWatcher++
	c.watchers[id] = fn
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		delete(c.watchers, id)
		c.mu.Unlock()
	}
}

func (c *Controller) notify() {
	c.mu.Lock()
	snapshot := c.snapshotLocked()
	fns := make([]func(Snapshot), 0, len(c.watchers))
	for _, fn := range c.watchers {
		fns = append(fns, fn)
	}
	c.mu.Unlock()
	for _, fn := range fns {
		fn(snapshot)
	}
}
