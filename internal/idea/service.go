package idea

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/ideagen/backend/internal/ai"
	"github.com/ideagen/backend/internal/chat"
)

const maxSummaryWords = 5

const summarySystemPrompt = `You write short, complete, descriptive titles.
The title must be a complete phrase, never cut mid-word.`

const summaryUserPrompt = `Write a short title (at most 5 words) for this idea: %s

Rules:
- at most 5 words
- the title must read as a complete phrase
- reply with the title only, no quotes, no trailing punctuation`

// SummaryCache is the redis-backed store for generated titles. Cache errors
// degrade to recomputation, never to request failure.
type SummaryCache interface {
	GetIdeaSummary(ctx context.Context, ideaID uint64) (string, bool, error)
	SetIdeaSummary(ctx context.Context, ideaID uint64, summary string, ttl time.Duration) error
}

// Service resolves ideas for the chat core and produces per-idea summaries.
type Service struct {
	repo     *Repo
	provider ai.Provider
	cache    SummaryCache
	cacheTTL time.Duration
}

func NewService(repo *Repo, provider ai.Provider, cache SummaryCache, cacheTTL time.Duration) *Service {
	if cacheTTL <= 0 {
		cacheTTL = 24 * time.Hour
	}
	return &Service{repo: repo, provider: provider, cache: cache, cacheTTL: cacheTTL}
}

// Lookup implements chat.IdeaDirectory. Not-found propagates the gorm
// sentinel so the caller can map it.
func (s *Service) Lookup(ctx context.Context, ideaID uint64) (*chat.IdeaRef, error) {
	i, err := s.repo.GetByID(ctx, ideaID)
	if err != nil {
		return nil, err
	}
	return &chat.IdeaRef{
		ID:      i.ID,
		OwnerID: i.UserID,
		Content: i.GeneratedContent,
		Context: i.Context,
	}, nil
}

// ListSummaries returns the current user's ideas, newest first, each with a
// short title.
func (s *Service) ListSummaries(ctx context.Context, userID uint64) ([]Summary, error) {
	ideas, err := s.repo.ListByUserDesc(ctx, userID)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(ideas))
	for _, i := range ideas {
		title, err := s.Summarize(ctx, i.ID, i.GeneratedContent)
		if err != nil {
			log.Printf("[idea] summarize failed idea_id=%d err=%v", i.ID, err)
			title = fallbackSummary(i.GeneratedContent)
		}
		out = append(out, Summary{
			ID:        i.ID,
			Summary:   title,
			Theme:     i.Theme,
			CreatedAt: i.CreatedAt,
		})
	}
	return out, nil
}

// Summarize returns a title of at most five words for the idea content. Short
// content is returned as-is; longer content goes through the model once and
// the result is cached. The heuristic fallback keeps the listing usable when
// the model is down.
func (s *Service) Summarize(ctx context.Context, ideaID uint64, content string) (string, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", nil
	}
	if len(strings.Fields(trimmed)) <= 10 {
		return trimmed, nil
	}

	if s.cache != nil {
		if cached, ok, err := s.cache.GetIdeaSummary(ctx, ideaID); err != nil {
			log.Printf("[idea] summary cache read failed idea_id=%d err=%v", ideaID, err)
		} else if ok {
			return cached, nil
		}
	}

	title := s.generateTitle(ctx, trimmed)
	if title == "" {
		title = fallbackSummary(trimmed)
	}

	if s.cache != nil && title != "" {
		if err := s.cache.SetIdeaSummary(ctx, ideaID, title, s.cacheTTL); err != nil {
			log.Printf("[idea] summary cache write failed idea_id=%d err=%v", ideaID, err)
		}
	}
	return title, nil
}

func (s *Service) generateTitle(ctx context.Context, content string) string {
	if s.provider == nil {
		return ""
	}
	reply, err := s.provider.Chat(ctx, []ai.Message{
		{Role: "system", Content: summarySystemPrompt},
		{Role: "user", Content: fmt.Sprintf(summaryUserPrompt, content)},
	})
	if err != nil {
		log.Printf("[idea] title generation failed err=%v", err)
		return ""
	}
	return cleanTitle(reply)
}

func cleanTitle(raw string) string {
	title := strings.TrimSpace(raw)
	title = strings.Trim(title, "\"'")
	title = strings.TrimRight(title, ".,;:!?")
	title = strings.TrimSpace(title)

	words := strings.Fields(title)
	if len(words) > maxSummaryWords {
		words = words[:maxSummaryWords]
	}
	words = dropTrailingConnective(words)
	if len(words) == 0 {
		return ""
	}
	title = strings.Join(words, " ")
	if len(title) <= 3 {
		return ""
	}
	return title
}

// fallbackSummary takes the leading words up to the first clause boundary,
// capped at five words.
func fallbackSummary(content string) string {
	words := strings.Fields(strings.TrimSpace(content))
	if len(words) == 0 {
		return ""
	}

	n := len(words)
	if n > maxSummaryWords {
		n = maxSummaryWords
	}
	head := make([]string, 0, n)
	for _, w := range words[:n] {
		clean := strings.TrimRight(w, ".,;:!?")
		head = append(head, clean)
		if clean != w {
			break
		}
	}
	head = dropTrailingConnective(head)
	return strings.Join(head, " ")
}

var connectives = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "and": {}, "or": {}, "of": {}, "to": {},
	"in": {}, "on": {}, "for": {}, "with": {}, "by": {}, "at": {}, "that": {},
	"more": {}, "less": {}, "better": {},
}

func dropTrailingConnective(words []string) []string {
	for len(words) > 1 {
		last := strings.ToLower(strings.TrimRight(words[len(words)-1], ".,;:!?"))
		if _, ok := connectives[last]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return words
}
