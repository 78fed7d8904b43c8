package app

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"tidepool/api/internal/assistant"
	"tidepool/api/internal/auth"
	"tidepool/api/internal/authpw"
	"tidepool/api/internal/chat"
	"tidepool/api/internal/config"
	"tidepool/api/internal/email"
	"tidepool/api/internal/search"
	"tidepool/api/internal/session"
	"tidepool/api/internal/store"
	"tidepool/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	JTI          string
	ExpiresAt    time.Time
}

// dataStore is the Postgres surface the service depends on.
type dataStore interface {
	GetUserByID(context.Context, string) (store.User, error)
	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	UpsertChat(context.Context, store.Chat) error
	GetChatForUser(context.Context, string, string) (store.Chat, error)
	ListChatsByUser(context.Context, string) ([]store.ChatSummary, error)
	DeleteChat(context.Context, string, string) (bool, error)
	DeleteChatsByUser(context.Context, string) error
	Ping(ctx context.Context) error
}

// refreshStore holds refresh tokens. Redis when configured, otherwise the
// Postgres store serves double duty.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	driver   assistant.Driver
	authpw   *authpw.Service
	search   *search.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, driver assistant.Driver, authService *authpw.Service, searchService *search.Service, emailService *email.Service) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: dataStore,
		driver:   driver,
		authpw:   authService,
		search:   searchService,
		email:    emailService,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, driver assistant.Driver, authService *authpw.Service, searchService *search.Service, emailService *email.Service) *Service {
	service := New(cfg, dataStore, driver, authService, searchService, emailService)
	service.sessions = sessions
	return service
}

// SMTPConfigured reports whether account emails can be delivered.
func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the verification link asynchronously.
func (s *Service) SendVerificationEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/auth/verify?token=" + token
	go func() {
		if err := s.email.SendVerificationEmail(to, userName, url); err != nil {
			log.Printf("email: send verification to %s: %v", to, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset link asynchronously.
func (s *Service) SendPasswordResetEmail(to, userName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := s.cfg.AppBaseURL + "/auth/reset?token=" + token
	go func() {
		if err := s.email.SendPasswordResetEmail(to, userName, url); err != nil {
			log.Printf("email: send password reset to %s: %v", to, err)
		}
	}()
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

// Streaming reports whether this deployment delivers replies as a text
// stream rather than a single JSON response.
func (s *Service) Streaming() bool {
	return s.cfg.CompletionMode == config.ModeStreaming
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	found, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The token record may carry only the user id; resolve the full user.
	user, err := s.store.GetUserByID(ctx, found.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// TurnInput is the client-submitted body for one chat turn. Messages is
// the full history in turn order, ending with the newest user message.
type TurnInput struct {
	ChatID   string
	ThreadID string
	Messages []chat.Message
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	ChatID   string
	ThreadID string
	Message  chat.Message
}

// CompleteTurn runs one conversation turn end to end: resolve the
// provider conversation handle, produce the assistant reply, persist the
// updated transcript, and feed the search index. onDelta, when non-nil,
// receives partial reply text as it arrives.
//
// A PERSIST_FAILED error still carries a usable TurnResult — when the
// reply already reached the client as a stream, the caller can log the
// failure instead of aborting.
func (s *Service) CompleteTurn(ctx context.Context, sess Session, input TurnInput, onDelta func(string)) (TurnResult, error) {
	if _, ok := chat.LastUserMessage(input.Messages); !ok {
		return TurnResult{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "last message must be a user message", nil)
	}

	chatID := strings.TrimSpace(input.ChatID)
	threadID := strings.TrimSpace(input.ThreadID)
	if chatID == "" {
		chatID = util.NewID("chat")
	} else if threadID == "" {
		// Resuming a known chat: recover the conversation handle from
		// the persisted transcript.
		existing, err := s.store.GetChatForUser(ctx, chatID, sess.UserID)
		if err == nil {
			threadID = existing.Payload.ThreadID
		} else if !errors.Is(err, store.ErrChatNotFound) {
			return TurnResult{}, err
		}
	}

	reply, err := s.driver.ProduceReply(ctx, assistant.Turn{
		Messages: input.Messages,
		ThreadID: threadID,
		OnDelta:  onDelta,
	})
	if err != nil {
		return TurnResult{ChatID: chatID}, err
	}
	if reply.ThreadID != "" {
		threadID = reply.ThreadID
	}

	messages := make([]chat.Message, 0, len(input.Messages)+1)
	messages = append(messages, input.Messages...)
	messages = append(messages, chat.Message{Role: chat.RoleAssistant, Content: reply.Content})

	payload := chat.Payload{
		Title:     chat.TitleFor(input.Messages),
		CreatedAt: time.Now().UnixMilli(),
		Path:      chat.PathFor(chatID),
		ThreadID:  threadID,
		Messages:  messages,
	}
	result := TurnResult{
		ChatID:   chatID,
		ThreadID: threadID,
		Message:  messages[len(messages)-1],
	}

	body := transcriptBody(messages)
	if err := s.store.UpsertChat(ctx, store.Chat{ID: chatID, UserID: sess.UserID, Payload: payload, Body: body}); err != nil {
		return result, domainError(http.StatusInternalServerError, "PERSIST_FAILED", "Could not persist transcript", nil)
	}

	s.indexTranscript(chatID, sess.UserID, payload, body)
	return result, nil
}

func (s *Service) ListChats(ctx context.Context, userID string) ([]store.ChatSummary, error) {
	return s.store.ListChatsByUser(ctx, userID)
}

func (s *Service) GetChat(ctx context.Context, chatID, userID string) (store.Chat, error) {
	return s.store.GetChatForUser(ctx, chatID, userID)
}

func (s *Service) DeleteChat(ctx context.Context, chatID, userID string) error {
	deleted, err := s.store.DeleteChat(ctx, chatID, userID)
	if err != nil {
		return err
	}
	if !deleted {
		return store.ErrChatNotFound
	}
	if s.search != nil {
		s.search.DeleteTranscript(chatID)
	}
	return nil
}

func (s *Service) ClearChats(ctx context.Context, userID string) error {
	summaries, err := s.store.ListChatsByUser(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteChatsByUser(ctx, userID); err != nil {
		return err
	}
	if s.search != nil {
		ids := make([]string, 0, len(summaries))
		for _, summary := range summaries {
			ids = append(ids, summary.ID)
		}
		s.search.DeleteTranscripts(ids)
	}
	return nil
}

func (s *Service) SearchChats(ctx context.Context, userID, query string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: query}
	}
	return s.search.Search(ctx, search.Query{
		Text:   query,
		UserID: userID,
		Limit:  limit,
		Offset: offset,
	})
}

func (s *Service) indexTranscript(chatID, userID string, payload chat.Payload, body string) {
	if s.search == nil {
		return
	}
	s.search.IndexTranscript(search.TranscriptRecord{
		ID:     chatID,
		UserID: userID,
		Title:  payload.Title,
		Path:   payload.Path,
		Body:   body,
	})
}

func transcriptBody(messages []chat.Message) string {
	parts := make([]string, 0, len(messages))
	for _, message := range messages {
		if strings.TrimSpace(message.Content) == "" {
			continue
		}
		parts = append(parts, message.Content)
	}
	return strings.Join(parts, "\n")
}
