package chat

import (
	"strings"
	"time"
)

// MessageView is the wire shape of one persisted message.
type MessageView struct {
	ID              uint64    `json:"id"`
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	TokensUsed      int       `json:"tokens_used"`
	TokensRemaining *int      `json:"tokens_remaining,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// SessionView is the response shape shared by start-or-resume and session
// detail: identity, budget accounting since the last reset, and the initial
// page of messages.
type SessionView struct {
	SessionID       string        `json:"session_id"`
	ChatType        string        `json:"chat_type"`
	IdeaID          *uint64       `json:"idea_id,omitempty"`
	IdeaSummary     string        `json:"idea_summary,omitempty"`
	TokensInput     int           `json:"tokens_input"`
	TokensOutput    int           `json:"tokens_output"`
	TotalTokens     int           `json:"total_tokens"`
	TokensRemaining int           `json:"tokens_remaining"`
	LastResetAt     time.Time     `json:"last_reset_at"`
	Messages        []MessageView `json:"messages"`
	HasMoreMessages bool          `json:"has_more_messages"`
}

// TurnResult reports one committed exchange and its accounting.
type TurnResult struct {
	SessionID        string      `json:"session_id"`
	UserMessage      MessageView `json:"user_message"`
	AssistantMessage MessageView `json:"assistant_message"`
	TokensInput      int         `json:"tokens_input"`
	TokensOutput     int         `json:"tokens_output"`
	TotalTokens      int         `json:"total_tokens"`
	TokensRemaining  int         `json:"tokens_remaining"`
}

// OlderMessagesPage is a backwards pagination step through session history.
type OlderMessagesPage struct {
	Messages []MessageView `json:"messages"`
	HasMore  bool          `json:"has_more"`
}

func messageView(m *Message) MessageView {
	return MessageView{
		ID:              m.ID,
		Role:            strings.ToLower(string(m.Role)),
		Content:         m.Content,
		TokensUsed:      m.TokensUsed,
		TokensRemaining: m.TokensRemaining,
		CreatedAt:       m.CreatedAt,
	}
}
