package chat

import (
	"context"
	"strings"

	"github.com/ideagen/backend/internal/ai"
)

// HistoryBuilder selects the bounded window of prior turns presented to the
// model. It never enforces the token budget; that is the orchestrator's job
// against the session total.
type HistoryBuilder struct {
	repo        *Repo
	maxMessages int
}

func NewHistoryBuilder(repo *Repo, maxMessages int) *HistoryBuilder {
	if maxMessages <= 0 {
		maxMessages = 3
	}
	return &HistoryBuilder{repo: repo, maxMessages: maxMessages}
}

// Window returns the most recent turns in chronological order, oldest first.
// Empty for a brand-new session.
func (b *HistoryBuilder) Window(ctx context.Context, sessionID string) ([]ai.Message, error) {
	recentDesc, err := b.repo.ListRecentMessagesDesc(ctx, sessionID, b.maxMessages)
	if err != nil {
		return nil, err
	}

	window := make([]ai.Message, 0, len(recentDesc))
	for i := len(recentDesc) - 1; i >= 0; i-- {
		m := recentDesc[i]
		if strings.TrimSpace(m.Content) == "" {
			continue
		}
		window = append(window, ai.Message{
			Role:    providerRole(m.Role),
			Content: m.Content,
		})
	}
	return window, nil
}

func providerRole(r Role) string {
	if r == RoleAssistant {
		return "assistant"
	}
	return "user"
}
