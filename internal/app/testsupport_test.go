package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"tidepool/api/internal/assistant"
	"tidepool/api/internal/auth"
	"tidepool/api/internal/authpw"
	"tidepool/api/internal/chat"
	"tidepool/api/internal/config"
	"tidepool/api/internal/store"
	"tidepool/api/internal/util"
)

// fakeStore implements dataStore and authpw.UserStore with overridable
// behavior per test.
type fakeStore struct {
	getUserByIDFn       func(context.Context, string) (store.User, error)
	saveRefreshFn       func(context.Context, string, string, time.Time) error
	lookupRefreshFn     func(context.Context, string) (store.User, error)
	revokeRefreshFn     func(context.Context, string) error
	revokeAccessFn      func(context.Context, string, time.Time) error
	isAccessRevokedFn   func(context.Context, string) (bool, error)
	upsertChatFn        func(context.Context, store.Chat) error
	getChatForUserFn    func(context.Context, string, string) (store.Chat, error)
	listChatsFn         func(context.Context, string) ([]store.ChatSummary, error)
	deleteChatFn        func(context.Context, string, string) (bool, error)
	deleteChatsByUserFn func(context.Context, string) error

	getUserByEmailFn func(context.Context, string) (store.User, error)
	createUserFn     func(context.Context, store.User) error
}

func testUser(id string) store.User {
	return store.User{
		ID:              id,
		DisplayName:     "Avery",
		Email:           "avery@example.com",
		IsEmailVerified: true,
	}
}

func (f *fakeStore) GetUserByID(ctx context.Context, id string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return testUser(id), nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	if f.saveRefreshFn != nil {
		return f.saveRefreshFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, tokenHash)
	}
	return store.User{}, errors.New("refresh session not found")
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshFn != nil {
		return f.revokeRefreshFn(ctx, tokenHash)
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	if f.revokeAccessFn != nil {
		return f.revokeAccessFn(ctx, jti, exp)
	}
	return nil
}

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessRevokedFn != nil {
		return f.isAccessRevokedFn(ctx, jti)
	}
	return false, nil
}

func (f *fakeStore) UpsertChat(ctx context.Context, record store.Chat) error {
	if f.upsertChatFn != nil {
		return f.upsertChatFn(ctx, record)
	}
	return nil
}

func (f *fakeStore) GetChatForUser(ctx context.Context, chatID, userID string) (store.Chat, error) {
	if f.getChatForUserFn != nil {
		return f.getChatForUserFn(ctx, chatID, userID)
	}
	return store.Chat{}, store.ErrChatNotFound
}

func (f *fakeStore) ListChatsByUser(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	if f.listChatsFn != nil {
		return f.listChatsFn(ctx, userID)
	}
	return nil, nil
}

func (f *fakeStore) DeleteChat(ctx context.Context, chatID, userID string) (bool, error) {
	if f.deleteChatFn != nil {
		return f.deleteChatFn(ctx, chatID, userID)
	}
	return true, nil
}

func (f *fakeStore) DeleteChatsByUser(ctx context.Context, userID string) error {
	if f.deleteChatsByUserFn != nil {
		return f.deleteChatsByUserFn(ctx, userID)
	}
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

func (f *fakeStore) GetUserByEmail(ctx context.Context, email string) (store.User, error) {
	if f.getUserByEmailFn != nil {
		return f.getUserByEmailFn(ctx, email)
	}
	return store.User{}, errors.New("user not found")
}

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) error {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	return nil
}

func (f *fakeStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeStore) VerifyUserEmail(ctx context.Context, token string) error { return nil }

func (f *fakeStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	return nil
}

func (f *fakeStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	return nil
}

func (f *fakeStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	return "", errors.New("reset not found")
}

func (f *fakeStore) MarkPasswordResetUsed(ctx context.Context, token string) error { return nil }

// fakeDriver implements assistant.Driver.
type fakeDriver struct {
	produceReplyFn func(context.Context, assistant.Turn) (assistant.Reply, error)
}

func (f *fakeDriver) ProduceReply(ctx context.Context, turn assistant.Turn) (assistant.Reply, error) {
	if f.produceReplyFn != nil {
		return f.produceReplyFn(ctx, turn)
	}
	return assistant.Reply{Content: "Hi there", ThreadID: "thread_1"}, nil
}

func testConfig(mode string) config.Config {
	return config.Config{
		JWTSecret:      "test-secret",
		AccessTTL:      time.Hour,
		RefreshTTL:     24 * time.Hour,
		CompletionMode: mode,
	}
}

func newTestService(st *fakeStore, driver assistant.Driver, mode string) *Service {
	return &Service{
		cfg:      testConfig(mode),
		store:    st,
		sessions: st,
		driver:   driver,
		authpw:   authpw.NewService(st),
	}
}

func newTestServer(t *testing.T, service *Service) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(NewHTTPServer(service, "*").Handler())
	t.Cleanup(server.Close)
	return server
}

func authTokenFor(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.IssueToken([]byte("test-secret"), auth.Claims{
		Sub:  userID,
		Name: "Avery",
		JTI:  util.NewID("jti"),
		Exp:  time.Now().Add(time.Hour).Unix(),
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return token
}

func userMessages(contents ...string) []chat.Message {
	messages := make([]chat.Message, 0, len(contents))
	for i, content := range contents {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		messages = append(messages, chat.Message{Role: role, Content: content})
	}
	return messages
}
