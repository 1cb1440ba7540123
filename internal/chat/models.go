package chat

import (
	"fmt"
	"time"
)

type Kind string

const (
	KindFree      Kind = "FREE"
	KindIdeaBased Kind = "IDEA_BASED"
)

type Role string

const (
	RoleUser      Role = "USER"
	RoleAssistant Role = "ASSISTANT"
)

// Session is one conversation thread. A user holds at most one FREE session
// and at most one session per idea; the (user_id, slot) unique index enforces
// that even under concurrent find-or-create. Version backs the optimistic
// concurrency check on every mutation.
type Session struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64 `gorm:"not null;uniqueIndex:uniq_chat_session_slot,priority:1" json:"-"`
	Kind      Kind   `gorm:"type:varchar(16);not null" json:"kind"`
	Slot      string `gorm:"type:varchar(32);not null;uniqueIndex:uniq_chat_session_slot,priority:2" json:"-"`

	IdeaID *uint64 `gorm:"index" json:"idea_id,omitempty"`

	// Snapshot of the idea taken at session creation; later edits or
	// deletion of the idea never affect an existing conversation.
	CachedIdeaContent string `gorm:"type:text" json:"-"`
	CachedIdeaContext string `gorm:"type:text" json:"-"`

	LastResetAt time.Time `gorm:"not null" json:"last_reset_at"`
	Version     uint64    `gorm:"not null;default:0" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "chat_sessions" }

func FreeSlot() string { return "free" }

func IdeaSlot(ideaID uint64) string { return fmt.Sprintf("idea:%d", ideaID) }

// Message is one turn half, immutable once persisted. TokensRemaining is a
// snapshot written on assistant messages only; authoritative accounting is
// always derived by summing TokensUsed since the session's LastResetAt.
type Message struct {
	ID              uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID       string    `gorm:"type:varchar(26);not null;index:idx_chat_msg_session_created,priority:1" json:"-"`
	Role            Role      `gorm:"type:varchar(16);not null" json:"role"`
	Content         string    `gorm:"type:text;not null" json:"content"`
	TokensUsed      int       `gorm:"not null" json:"tokens_used"`
	TokensRemaining *int      `json:"tokens_remaining,omitempty"`
	CreatedAt       time.Time `gorm:"index:idx_chat_msg_session_created,priority:2" json:"created_at"`
}

func (Message) TableName() string { return "chat_messages" }

// Limits carries the configurable chat ceilings (see internal/config for the
// environment surface and defaults).
type Limits struct {
	MaxTokensPerMessage int
	MaxCharsPerMessage  int
	MaxTokensPerChat    int
	MaxHistoryMessages  int
	MaxInitialMessages  int
	MaxResponseLength   int
}

func DefaultLimits() Limits {
	return Limits{
		MaxTokensPerMessage: 1000,
		MaxCharsPerMessage:  1000,
		MaxTokensPerChat:    10000,
		MaxHistoryMessages:  3,
		MaxInitialMessages:  10,
		MaxResponseLength:   100000,
	}
}
