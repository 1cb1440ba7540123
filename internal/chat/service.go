package chat

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/ideagen/backend/internal/ai"
)

// Summarizer produces the short idea title shown on idea-anchored sessions.
// Optional; a nil summarizer leaves the field empty.
type Summarizer interface {
	Summarize(ctx context.Context, ideaID uint64, content string) (string, error)
}

// Service is the conversation orchestrator. Per message: validate, moderate
// (free chat only), window, generate, account, persist.
type Service struct {
	repo       *Repo
	sessions   *SessionManager
	provider   ai.Provider
	history    *HistoryBuilder
	gate       *ModerationGate
	summarizer Summarizer
	limits     Limits
}

func NewService(repo *Repo, sessions *SessionManager, provider ai.Provider, summarizer Summarizer, limits Limits) *Service {
	if limits.MaxTokensPerChat <= 0 {
		limits = DefaultLimits()
	}
	return &Service{
		repo:       repo,
		sessions:   sessions,
		provider:   provider,
		history:    NewHistoryBuilder(repo, limits.MaxHistoryMessages),
		gate:       NewModerationGate(provider),
		summarizer: summarizer,
		limits:     limits,
	}
}

// StartOrResume finds or creates the session for the user (free chat when
// ideaID is nil) and returns its current state with the initial message page.
func (s *Service) StartOrResume(ctx context.Context, userID uint64, ideaID *uint64) (*SessionView, error) {
	session, err := s.sessions.StartOrResume(ctx, userID, ideaID)
	if err != nil {
		return nil, err
	}
	return s.buildSessionView(ctx, session)
}

// GetSession returns session detail for its owner.
func (s *Service) GetSession(ctx context.Context, userID uint64, sessionID string) (*SessionView, error) {
	session, err := s.sessions.ResolveOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	return s.buildSessionView(ctx, session)
}

// Send processes one user message end to end. Once the user message commits,
// its token cost is sunk: a later generation failure surfaces an error but
// never rolls the user message back.
func (s *Service) Send(ctx context.Context, userID uint64, sessionID string, text string) (*TurnResult, error) {
	msgTokens, err := s.validateMessage(text)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.ResolveOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	if session.Kind == KindFree {
		if err := s.gate.Check(ctx, text); err != nil {
			return nil, err
		}
	}

	total, err := s.totalTokensSince(ctx, session.SessionID, session.LastResetAt)
	if err != nil {
		return nil, err
	}
	if total+msgTokens >= s.limits.MaxTokensPerChat {
		return nil, fmt.Errorf("%w: limit %d tokens", ErrBudgetExceeded, s.limits.MaxTokensPerChat)
	}

	// Window is read before the user message commits, so it holds only
	// messages strictly before this turn.
	window, err := s.history.Window(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}

	userMsg := &Message{
		SessionID:  session.SessionID,
		Role:       RoleUser,
		Content:    text,
		TokensUsed: msgTokens,
	}
	session, err = s.sessions.Mutate(ctx, session.SessionID, func(fresh *Session) (map[string]any, []*Message, error) {
		freshTotal, err := s.totalTokensSince(ctx, fresh.SessionID, fresh.LastResetAt)
		if err != nil {
			return nil, nil, err
		}
		if freshTotal+msgTokens >= s.limits.MaxTokensPerChat {
			return nil, nil, fmt.Errorf("%w: limit %d tokens", ErrBudgetExceeded, s.limits.MaxTokensPerChat)
		}
		return nil, []*Message{userMsg}, nil
	})
	if err != nil {
		return nil, err
	}

	prompt := make([]ai.Message, 0, len(window)+2)
	prompt = append(prompt, ai.Message{Role: "system", Content: systemPromptFor(session)})
	prompt = append(prompt, window...)
	prompt = append(prompt, ai.Message{Role: "user", Content: text})

	started := time.Now()
	reply, err := s.provider.Chat(ctx, prompt)
	if err != nil {
		log.Printf("[chat] generation failed session_id=%s latency_ms=%d err=%v",
			session.SessionID, time.Since(started).Milliseconds(), err)
		return nil, fmt.Errorf("%w: %v", ErrUpstream, err)
	}

	reply = scrubModerationTags(reply)
	if reply == "" {
		return nil, fmt.Errorf("%w: empty response", ErrUpstream)
	}
	if utf8.RuneCountInString(reply) > s.limits.MaxResponseLength {
		return nil, fmt.Errorf("%w: response exceeds %d characters", ErrUpstream, s.limits.MaxResponseLength)
	}

	replyTokens := EstimateTokens(reply)
	assistantMsg := &Message{
		SessionID:  session.SessionID,
		Role:       RoleAssistant,
		Content:    reply,
		TokensUsed: replyTokens,
	}
	var remaining int
	session, err = s.sessions.Mutate(ctx, session.SessionID, func(fresh *Session) (map[string]any, []*Message, error) {
		freshTotal, err := s.totalTokensSince(ctx, fresh.SessionID, fresh.LastResetAt)
		if err != nil {
			return nil, nil, err
		}
		if freshTotal+replyTokens > s.limits.MaxTokensPerChat {
			// The user message stays with its cost sunk; committing the
			// assistant reply would break the budget invariant.
			return nil, nil, fmt.Errorf("%w: limit %d tokens", ErrBudgetExceeded, s.limits.MaxTokensPerChat)
		}
		remaining = s.limits.MaxTokensPerChat - freshTotal - replyTokens
		assistantMsg.TokensRemaining = &remaining
		return nil, []*Message{assistantMsg}, nil
	})
	if err != nil {
		return nil, err
	}

	return &TurnResult{
		SessionID:        session.SessionID,
		UserMessage:      messageView(userMsg),
		AssistantMessage: messageView(assistantMsg),
		TokensInput:      msgTokens,
		TokensOutput:     replyTokens,
		TotalTokens:      msgTokens + replyTokens,
		TokensRemaining:  remaining,
	}, nil
}

// GetOlderMessages pages backwards from a timestamp cursor.
func (s *Service) GetOlderMessages(ctx context.Context, userID uint64, sessionID string, before string, limit int) (*OlderMessagesPage, error) {
	session, err := s.sessions.ResolveOwned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}

	cursor, err := parseCursor(before)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid before timestamp, use RFC 3339", ErrValidation)
	}

	if limit <= 0 {
		limit = 20
	} else if limit > 50 {
		limit = 50
	}

	msgs, hasMore, err := s.repo.ListMessagesBefore(ctx, session.SessionID, cursor, limit)
	if err != nil {
		return nil, err
	}

	page := &OlderMessagesPage{Messages: make([]MessageView, 0, len(msgs)), HasMore: hasMore}
	for i := range msgs {
		page.Messages = append(page.Messages, messageView(&msgs[i]))
	}
	return page, nil
}

func (s *Service) validateMessage(text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("%w: message must not be empty", ErrValidation)
	}
	if n := utf8.RuneCountInString(text); n > s.limits.MaxCharsPerMessage {
		return 0, fmt.Errorf("%w: message exceeds the %d character limit (found %d)",
			ErrValidation, s.limits.MaxCharsPerMessage, n)
	}
	tokens := EstimateTokens(text)
	if tokens > s.limits.MaxTokensPerMessage {
		return 0, fmt.Errorf("%w: message exceeds the %d token limit", ErrValidation, s.limits.MaxTokensPerMessage)
	}
	return tokens, nil
}

func (s *Service) totalTokensSince(ctx context.Context, sessionID string, since time.Time) (int, error) {
	in, err := s.repo.SumTokensSince(ctx, sessionID, RoleUser, since)
	if err != nil {
		return 0, err
	}
	out, err := s.repo.SumTokensSince(ctx, sessionID, RoleAssistant, since)
	if err != nil {
		return 0, err
	}
	return in + out, nil
}

func (s *Service) buildSessionView(ctx context.Context, session *Session) (*SessionView, error) {
	in, err := s.repo.SumTokensSince(ctx, session.SessionID, RoleUser, session.LastResetAt)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.SumTokensSince(ctx, session.SessionID, RoleAssistant, session.LastResetAt)
	if err != nil {
		return nil, err
	}
	remaining := s.limits.MaxTokensPerChat - in - out
	if remaining < 0 {
		remaining = 0
	}

	recentDesc, err := s.repo.ListRecentMessagesDesc(ctx, session.SessionID, s.limits.MaxInitialMessages)
	if err != nil {
		return nil, err
	}
	total, err := s.repo.CountMessages(ctx, session.SessionID)
	if err != nil {
		return nil, err
	}

	views := make([]MessageView, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		views = append(views, messageView(&recentDesc[i]))
	}

	var summary string
	if session.IdeaID != nil && s.summarizer != nil {
		summary, err = s.summarizer.Summarize(ctx, *session.IdeaID, session.CachedIdeaContent)
		if err != nil {
			log.Printf("[chat] idea summary failed session_id=%s idea_id=%d err=%v",
				session.SessionID, *session.IdeaID, err)
			summary = ""
		}
	}

	return &SessionView{
		SessionID:       session.SessionID,
		ChatType:        string(session.Kind),
		IdeaID:          session.IdeaID,
		IdeaSummary:     summary,
		TokensInput:     in,
		TokensOutput:    out,
		TotalTokens:     in + out,
		TokensRemaining: remaining,
		LastResetAt:     session.LastResetAt,
		Messages:        views,
		HasMoreMessages: total > int64(len(views)),
	}, nil
}

func parseCursor(value string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	// bare local timestamp without zone, e.g. 2025-11-08T13:00:00
	return time.ParseInLocation("2006-01-02T15:04:05", value, time.Local)
}
