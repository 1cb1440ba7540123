package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	gormsqlite "github.com/glebarez/sqlite"
	"github.com/ideagen/backend/internal/ai"
	"gorm.io/gorm"
)

// scriptedProvider replays queued replies/errors in call order. Exhausted
// scripts fall back to a plain "ok" reply, which also passes moderation.
type scriptedProvider struct {
	replies []string
	errs    []error
	calls   [][]ai.Message
}

func (p *scriptedProvider) Chat(ctx context.Context, messages []ai.Message) (string, error) {
	_ = ctx
	p.calls = append(p.calls, append([]ai.Message(nil), messages...))
	i := len(p.calls) - 1
	if i < len(p.errs) && p.errs[i] != nil {
		return "", p.errs[i]
	}
	if i < len(p.replies) {
		return p.replies[i], nil
	}
	return "ok", nil
}

type fakeIdeas struct {
	refs map[uint64]*IdeaRef
}

func (f *fakeIdeas) Lookup(ctx context.Context, ideaID uint64) (*IdeaRef, error) {
	_ = ctx
	ref, ok := f.refs[ideaID]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return ref, nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(gormsqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Message{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return db
}

func newTestService(t *testing.T, db *gorm.DB, prov ai.Provider, ideas IdeaDirectory, limits Limits) (*Service, *SessionManager, *Repo) {
	t.Helper()
	repo := NewRepo(db)
	if ideas == nil {
		ideas = &fakeIdeas{}
	}
	sessions := NewSessionManager(repo, ideas)
	svc := NewService(repo, sessions, prov, nil, limits)
	return svc, sessions, repo
}

func seedMessage(t *testing.T, db *gorm.DB, sessionID string, role Role, content string, tokens int, at time.Time) {
	t.Helper()
	m := &Message{
		SessionID:  sessionID,
		Role:       role,
		Content:    content,
		TokensUsed: tokens,
		CreatedAt:  at,
	}
	if err := db.Create(m).Error; err != nil {
		t.Fatalf("seed message: %v", err)
	}
}

func countMessages(t *testing.T, db *gorm.DB, sessionID string) int {
	t.Helper()
	var n int64
	if err := db.Model(&Message{}).Where("session_id = ?", sessionID).Count(&n).Error; err != nil {
		t.Fatalf("count messages: %v", err)
	}
	return int(n)
}

func TestStartOrResume_FreeSessionIsIdempotent(t *testing.T) {
	db := openTestDB(t)
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())

	first, err := svc.StartOrResume(context.Background(), 101, nil)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	if first.ChatType != string(KindFree) {
		t.Fatalf("chat_type = %q, want %q", first.ChatType, KindFree)
	}
	if first.SessionID == "" {
		t.Fatalf("expected session id")
	}

	second, err := svc.StartOrResume(context.Background(), 101, nil)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected same session, got %q and %q", first.SessionID, second.SessionID)
	}
}

func TestStartOrResume_IdeaSession(t *testing.T) {
	db := openTestDB(t)
	ideas := &fakeIdeas{refs: map[uint64]*IdeaRef{
		7: {ID: 7, OwnerID: 102, Content: "a pocket garden planner", Context: "urban balconies"},
	}}
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, ideas, DefaultLimits())

	ideaID := uint64(7)
	first, err := svc.StartOrResume(context.Background(), 102, &ideaID)
	if err != nil {
		t.Fatalf("start idea session: %v", err)
	}
	if first.ChatType != string(KindIdeaBased) {
		t.Fatalf("chat_type = %q, want %q", first.ChatType, KindIdeaBased)
	}
	if first.IdeaID == nil || *first.IdeaID != 7 {
		t.Fatalf("idea_id not carried: %+v", first.IdeaID)
	}

	second, err := svc.StartOrResume(context.Background(), 102, &ideaID)
	if err != nil {
		t.Fatalf("resume idea session: %v", err)
	}
	if second.SessionID != first.SessionID {
		t.Fatalf("expected same session for the same idea")
	}
}

func TestStartOrResume_UnknownIdea(t *testing.T) {
	db := openTestDB(t)
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, &fakeIdeas{}, DefaultLimits())

	ideaID := uint64(999)
	_, err := svc.StartOrResume(context.Background(), 103, &ideaID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestStartOrResume_ForeignIdea(t *testing.T) {
	db := openTestDB(t)
	ideas := &fakeIdeas{refs: map[uint64]*IdeaRef{
		8: {ID: 8, OwnerID: 1, Content: "someone else's idea"},
	}}
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, ideas, DefaultLimits())

	ideaID := uint64(8)
	_, err := svc.StartOrResume(context.Background(), 104, &ideaID)
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
}

func TestSend_PersistsUserAndAssistant(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{replies: []string{"[MODERATION: SAFE]", "here is a reply"}}
	svc, _, _ := newTestService(t, db, prov, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 105, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	result, err := svc.Send(context.Background(), 105, view.SessionID, "Hello there")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.UserMessage.Role != "user" || result.UserMessage.Content != "Hello there" {
		t.Fatalf("unexpected user message: %+v", result.UserMessage)
	}
	if result.AssistantMessage.Role != "assistant" || result.AssistantMessage.Content != "here is a reply" {
		t.Fatalf("unexpected assistant message: %+v", result.AssistantMessage)
	}
	if result.TokensInput <= 0 || result.TokensOutput <= 0 {
		t.Fatalf("token accounting missing: in=%d out=%d", result.TokensInput, result.TokensOutput)
	}
	if result.TokensRemaining != DefaultLimits().MaxTokensPerChat-result.TotalTokens {
		t.Fatalf("remaining = %d, want %d", result.TokensRemaining, DefaultLimits().MaxTokensPerChat-result.TotalTokens)
	}
	if result.AssistantMessage.TokensRemaining == nil {
		t.Fatalf("assistant message should carry the remaining snapshot")
	}
	if result.UserMessage.TokensRemaining != nil {
		t.Fatalf("user message should not carry a remaining snapshot")
	}

	if got := countMessages(t, db, view.SessionID); got != 2 {
		t.Fatalf("persisted %d messages, want 2", got)
	}

	// free chat: call 1 is the moderation classification, call 2 the generation
	if len(prov.calls) != 2 {
		t.Fatalf("provider calls = %d, want 2", len(prov.calls))
	}
	if prov.calls[0][0].Role != "system" || prov.calls[0][0].Content != moderationSystemPrompt {
		t.Fatalf("first call should be the moderation classification")
	}
	gen := prov.calls[1]
	if gen[0].Content != freeChatSystemPrompt {
		t.Fatalf("generation system prompt = %q", gen[0].Content)
	}
	if gen[len(gen)-1].Role != "user" || gen[len(gen)-1].Content != "Hello there" {
		t.Fatalf("generation should end with the current user message")
	}
}

func TestSend_IdeaSessionSkipsModeration(t *testing.T) {
	db := openTestDB(t)
	ideas := &fakeIdeas{refs: map[uint64]*IdeaRef{
		11: {ID: 11, OwnerID: 106, Content: "solar powered bike lights", Context: "night commuting"},
	}}
	prov := &scriptedProvider{replies: []string{"sure, about the bike lights"}}
	svc, _, _ := newTestService(t, db, prov, ideas, DefaultLimits())

	ideaID := uint64(11)
	view, err := svc.StartOrResume(context.Background(), 106, &ideaID)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := svc.Send(context.Background(), 106, view.SessionID, "how bright should they be?"); err != nil {
		t.Fatalf("send: %v", err)
	}

	if len(prov.calls) != 1 {
		t.Fatalf("idea chat should call the provider once, got %d", len(prov.calls))
	}
	system := prov.calls[0][0].Content
	if system == freeChatSystemPrompt {
		t.Fatalf("idea chat must use the idea system prompt")
	}
	if want := "solar powered bike lights"; !strings.Contains(system, want) {
		t.Fatalf("system prompt lacks the idea snapshot: %q", system)
	}
}

func TestSend_ModerationRejectedPersistsNothing(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{replies: []string{"[MODERATION: DANGEROUS]"}}
	svc, _, _ := newTestService(t, db, prov, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 107, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = svc.Send(context.Background(), 107, view.SessionID, "something nasty")
	if !errors.Is(err, ErrModerationRejected) {
		t.Fatalf("err = %v, want ErrModerationRejected", err)
	}
	if got := countMessages(t, db, view.SessionID); got != 0 {
		t.Fatalf("rejected message must not persist, found %d rows", got)
	}
}

func TestSend_ModerationFailureFailsClosed(t *testing.T) {
	db := openTestDB(t)
	prov := &scriptedProvider{errs: []error{errors.New("classifier down")}}
	svc, _, _ := newTestService(t, db, prov, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 108, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = svc.Send(context.Background(), 108, view.SessionID, "hello")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}
	if got := countMessages(t, db, view.SessionID); got != 0 {
		t.Fatalf("no rows expected after moderation failure, found %d", got)
	}
}

func TestSend_ValidationErrors(t *testing.T) {
	db := openTestDB(t)
	limits := DefaultLimits()
	limits.MaxCharsPerMessage = 10
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, limits)

	view, err := svc.StartOrResume(context.Background(), 109, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	for _, text := range []string{"", "   ", "this message is far past ten characters"} {
		_, err := svc.Send(context.Background(), 109, view.SessionID, text)
		if !errors.Is(err, ErrValidation) {
			t.Fatalf("Send(%q) err = %v, want ErrValidation", text, err)
		}
	}
	if got := countMessages(t, db, view.SessionID); got != 0 {
		t.Fatalf("invalid input must not persist, found %d rows", got)
	}
}

func TestSend_BudgetExceededAtCeiling(t *testing.T) {
	db := openTestDB(t)
	limits := DefaultLimits()
	limits.MaxTokensPerChat = 10
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, limits)

	view, err := svc.StartOrResume(context.Background(), 110, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// "hi" costs 1 token; at 9 consumed, 9+1 reaches the ceiling and is refused
	seedMessage(t, db, view.SessionID, RoleUser, "earlier turn", 9, time.Now())

	_, err = svc.Send(context.Background(), 110, view.SessionID, "hi")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("err = %v, want ErrBudgetExceeded", err)
	}
	if got := countMessages(t, db, view.SessionID); got != 1 {
		t.Fatalf("over-budget message must not persist, found %d rows", got)
	}
}

func TestSend_JustUnderCeilingSucceeds(t *testing.T) {
	db := openTestDB(t)
	limits := DefaultLimits()
	limits.MaxTokensPerChat = 10
	prov := &scriptedProvider{replies: []string{"[MODERATION: SAFE]", "ok"}}
	svc, _, _ := newTestService(t, db, prov, nil, limits)

	view, err := svc.StartOrResume(context.Background(), 111, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// 8 consumed + 1 for "hi" stays below the ceiling; the 1-token reply
	// lands exactly on it, which is still allowed
	seedMessage(t, db, view.SessionID, RoleUser, "earlier turn", 8, time.Now())

	result, err := svc.Send(context.Background(), 111, view.SessionID, "hi")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if result.TokensRemaining != 0 {
		t.Fatalf("remaining = %d, want 0", result.TokensRemaining)
	}
}

func TestSend_ProviderFailureKeepsUserMessage(t *testing.T) {
	db := openTestDB(t)
	upstream := errors.New("model exploded")
	prov := &scriptedProvider{
		replies: []string{"[MODERATION: SAFE]"},
		errs:    []error{nil, upstream, upstream, upstream},
	}
	svc, _, _ := newTestService(t, db, prov, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 112, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = svc.Send(context.Background(), 112, view.SessionID, "hello")
	if !errors.Is(err, ErrUpstream) {
		t.Fatalf("err = %v, want ErrUpstream", err)
	}

	// the user message commits before generation; its cost is sunk
	var msgs []Message
	if err := db.Where("session_id = ?", view.SessionID).Find(&msgs).Error; err != nil {
		t.Fatalf("query messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].Role != RoleUser {
		t.Fatalf("expected only the user message, got %+v", msgs)
	}
}

func TestSend_ForeignSessionDenied(t *testing.T) {
	db := openTestDB(t)
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 113, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	_, err = svc.Send(context.Background(), 114, view.SessionID, "hello")
	if !errors.Is(err, ErrPermission) {
		t.Fatalf("err = %v, want ErrPermission", err)
	}
	if got := countMessages(t, db, view.SessionID); got != 0 {
		t.Fatalf("foreign send must not persist, found %d rows", got)
	}
}

func TestSend_WindowExcludesCurrentTurn(t *testing.T) {
	db := openTestDB(t)
	limits := DefaultLimits()
	limits.MaxHistoryMessages = 3
	prov := &scriptedProvider{replies: []string{"[MODERATION: SAFE]", "ok"}}
	svc, _, _ := newTestService(t, db, prov, nil, limits)

	view, err := svc.StartOrResume(context.Background(), 115, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		role := RoleUser
		if i%2 == 1 {
			role = RoleAssistant
		}
		seedMessage(t, db, view.SessionID, role, fmt.Sprintf("seed %d", i), 1, base.Add(time.Duration(i)*time.Second))
	}

	if _, err := svc.Send(context.Background(), 115, view.SessionID, "new question"); err != nil {
		t.Fatalf("send: %v", err)
	}

	gen := prov.calls[1]
	// system + 3 history messages + the current user message
	if len(gen) != 5 {
		t.Fatalf("prompt length = %d, want 5", len(gen))
	}
	if gen[1].Content != "seed 2" || gen[2].Content != "seed 3" || gen[3].Content != "seed 4" {
		t.Fatalf("window should hold the 3 most recent prior turns: %+v", gen[1:4])
	}
	if gen[4].Content != "new question" {
		t.Fatalf("current message must come last, got %q", gen[4].Content)
	}
}

func TestGetOlderMessages_Pagination(t *testing.T) {
	db := openTestDB(t)
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())

	view, err := svc.StartOrResume(context.Background(), 116, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	base := time.Now().Add(-time.Hour).UTC()
	for i := 0; i < 10; i++ {
		seedMessage(t, db, view.SessionID, RoleUser, fmt.Sprintf("m%d", i), 1, base.Add(time.Duration(i)*time.Second))
	}

	cursor := base.Add(7 * time.Second).Format(time.RFC3339Nano)
	page, err := svc.GetOlderMessages(context.Background(), 116, view.SessionID, cursor, 3)
	if err != nil {
		t.Fatalf("older messages: %v", err)
	}
	if len(page.Messages) != 3 {
		t.Fatalf("page size = %d, want 3", len(page.Messages))
	}
	// chronological order, the 3 newest among those strictly older than m7
	if page.Messages[0].Content != "m4" || page.Messages[2].Content != "m6" {
		t.Fatalf("unexpected page: %+v", page.Messages)
	}
	if !page.HasMore {
		t.Fatalf("older rows exist, HasMore should be true")
	}

	cursor = base.Add(1 * time.Second).Format(time.RFC3339Nano)
	page, err = svc.GetOlderMessages(context.Background(), 116, view.SessionID, cursor, 20)
	if err != nil {
		t.Fatalf("older messages: %v", err)
	}
	if len(page.Messages) != 1 || page.Messages[0].Content != "m0" {
		t.Fatalf("unexpected final page: %+v", page.Messages)
	}
	if page.HasMore {
		t.Fatalf("nothing precedes m0, HasMore should be false")
	}

	_, err = svc.GetOlderMessages(context.Background(), 116, view.SessionID, "not-a-time", 3)
	if !errors.Is(err, ErrValidation) {
		t.Fatalf("bad cursor err = %v, want ErrValidation", err)
	}
}

func TestGetSession_InitialPageAndHasMore(t *testing.T) {
	db := openTestDB(t)
	limits := DefaultLimits()
	limits.MaxInitialMessages = 4
	svc, _, _ := newTestService(t, db, &scriptedProvider{}, nil, limits)

	view, err := svc.StartOrResume(context.Background(), 117, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	// inside the current budget window so the sums count them
	base := time.Now()
	for i := 0; i < 6; i++ {
		seedMessage(t, db, view.SessionID, RoleUser, fmt.Sprintf("m%d", i), 2, base.Add(time.Duration(i)*time.Second))
	}

	got, err := svc.GetSession(context.Background(), 117, view.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if len(got.Messages) != 4 {
		t.Fatalf("initial page = %d messages, want 4", len(got.Messages))
	}
	if got.Messages[0].Content != "m2" || got.Messages[3].Content != "m5" {
		t.Fatalf("initial page should hold the newest messages in order: %+v", got.Messages)
	}
	if !got.HasMoreMessages {
		t.Fatalf("expected has_more_messages")
	}
	if got.TokensInput != 12 || got.TotalTokens != 12 {
		t.Fatalf("accounting wrong: in=%d total=%d", got.TokensInput, got.TotalTokens)
	}
	if got.TokensRemaining != limits.MaxTokensPerChat-12 {
		t.Fatalf("remaining = %d", got.TokensRemaining)
	}
}

func TestCommitTurn_StaleVersionConflicts(t *testing.T) {
	db := openTestDB(t)
	_, _, repo := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())
	sessions := NewSessionManager(repo, &fakeIdeas{})

	created, err := sessions.StartOrResume(context.Background(), 118, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	stale, err := repo.GetSessionBySessionID(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	current, err := repo.GetSessionBySessionID(context.Background(), created.SessionID)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	// another writer commits first
	if err := repo.CommitTurn(context.Background(), current, nil); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	err = repo.CommitTurn(context.Background(), stale, nil, &Message{
		SessionID: created.SessionID, Role: RoleUser, Content: "lost?", TokensUsed: 1,
	})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("err = %v, want ErrConflict", err)
	}
	if got := countMessages(t, db, created.SessionID); got != 0 {
		t.Fatalf("conflicted commit must write nothing, found %d rows", got)
	}
}

func TestMutate_RetriesFromFreshRead(t *testing.T) {
	db := openTestDB(t)
	_, sessions, repo := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())

	created, err := sessions.StartOrResume(context.Background(), 119, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	attempts := 0
	_, err = sessions.Mutate(context.Background(), created.SessionID, func(fresh *Session) (map[string]any, []*Message, error) {
		attempts++
		if attempts == 1 {
			// a concurrent writer lands between this read and our commit
			other, err := repo.GetSessionBySessionID(context.Background(), fresh.SessionID)
			if err != nil {
				return nil, nil, err
			}
			if err := repo.CommitTurn(context.Background(), other, nil); err != nil {
				return nil, nil, err
			}
		}
		return nil, []*Message{{
			SessionID: fresh.SessionID, Role: RoleUser, Content: "kept", TokensUsed: 1,
		}}, nil
	})
	if err != nil {
		t.Fatalf("mutate: %v", err)
	}
	if attempts != 2 {
		t.Fatalf("attempts = %d, want 2", attempts)
	}
	if got := countMessages(t, db, created.SessionID); got != 1 {
		t.Fatalf("exactly one message should land, found %d", got)
	}
}

func TestResetIfExpired_AdvancesWindowKeepsHistory(t *testing.T) {
	db := openTestDB(t)
	svc, sessions, _ := newTestService(t, db, &scriptedProvider{}, nil, DefaultLimits())

	start := time.Now().Add(-25 * time.Hour)
	sessions.now = func() time.Time { return start }

	created, err := sessions.StartOrResume(context.Background(), 120, nil)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	seedMessage(t, db, created.SessionID, RoleUser, "old turn", 500, start)

	// a day later the window has lapsed
	sessions.now = time.Now

	resolved, err := sessions.ResolveOwned(context.Background(), 120, created.SessionID)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !resolved.LastResetAt.After(start.Add(resetProbe)) {
		t.Fatalf("window did not advance: %v", resolved.LastResetAt)
	}

	view, err := svc.GetSession(context.Background(), 120, created.SessionID)
	if err != nil {
		t.Fatalf("get session: %v", err)
	}
	if view.TotalTokens != 0 {
		t.Fatalf("totals should restart after the reset, got %d", view.TotalTokens)
	}
	if len(view.Messages) != 1 || view.Messages[0].Content != "old turn" {
		t.Fatalf("history must survive the reset: %+v", view.Messages)
	}
}

// resetProbe guards the LastResetAt comparison against clock granularity.
const resetProbe = time.Hour
