package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ideagen/backend/internal/common"
	"gorm.io/gorm"
)

// IdeaRef is the slice of an idea the chat core needs at session creation.
type IdeaRef struct {
	ID      uint64
	OwnerID uint64
	Content string
	Context string
}

// IdeaDirectory is the external idea collaborator, consulted only when an
// IDEA_BASED session is created.
type IdeaDirectory interface {
	Lookup(ctx context.Context, ideaID uint64) (*IdeaRef, error)
}

// SessionManager owns session lifecycle: atomic find-or-create, the lazy
// 24-hour budget-window reset, and the optimistic-concurrency write loop.
type SessionManager struct {
	repo          *Repo
	ideas         IdeaDirectory
	resetInterval time.Duration
	maxRetries    int
	now           func() time.Time
}

func NewSessionManager(repo *Repo, ideas IdeaDirectory) *SessionManager {
	return &SessionManager{
		repo:          repo,
		ideas:         ideas,
		resetInterval: 24 * time.Hour,
		maxRetries:    3,
		now:           time.Now,
	}
}

// StartOrResume resolves the session for (user, FREE) or (user, idea),
// creating it if absent. Creation for an idea validates existence and
// ownership first and snapshots the idea content onto the session.
func (m *SessionManager) StartOrResume(ctx context.Context, userID uint64, ideaID *uint64) (*Session, error) {
	var (
		slot string
		kind Kind
		ref  *IdeaRef
	)
	if ideaID == nil {
		slot, kind = FreeSlot(), KindFree
	} else {
		var err error
		ref, err = m.ideas.Lookup(ctx, *ideaID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: idea %d", ErrNotFound, *ideaID)
			}
			return nil, err
		}
		if ref.OwnerID != userID {
			return nil, fmt.Errorf("%w: idea %d belongs to another user", ErrPermission, *ideaID)
		}
		slot, kind = IdeaSlot(*ideaID), KindIdeaBased
	}

	s, err := m.repo.GetSessionByUserAndSlot(ctx, userID, slot)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		sid, err := common.NewULID()
		if err != nil {
			return nil, err
		}
		candidate := &Session{
			SessionID:   sid,
			UserID:      userID,
			Kind:        kind,
			Slot:        slot,
			IdeaID:      ideaID,
			LastResetAt: m.now(),
		}
		if ref != nil {
			candidate.CachedIdeaContent = ref.Content
			candidate.CachedIdeaContext = ref.Context
		}
		s, _, err = m.repo.CreateSessionOrGetExisting(ctx, candidate)
		if err != nil {
			return nil, err
		}
	}

	return m.ResetIfExpired(ctx, s)
}

// ResolveOwned loads a session by its public id and enforces ownership,
// advancing an expired budget window as part of the same access.
func (m *SessionManager) ResolveOwned(ctx context.Context, userID uint64, sessionID string) (*Session, error) {
	s, err := m.repo.GetSessionBySessionID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
		}
		return nil, err
	}
	if s.UserID != userID {
		return nil, fmt.Errorf("%w: session %s belongs to another user", ErrPermission, sessionID)
	}
	return m.ResetIfExpired(ctx, s)
}

// ResetIfExpired lazily advances the budget window: more than resetInterval
// after LastResetAt the timestamp moves to now and the derived totals start
// over. No messages are deleted; the accounting window simply moves.
func (m *SessionManager) ResetIfExpired(ctx context.Context, s *Session) (*Session, error) {
	if m.now().Sub(s.LastResetAt) < m.resetInterval {
		return s, nil
	}
	return m.Mutate(ctx, s.SessionID, func(fresh *Session) (map[string]any, []*Message, error) {
		if m.now().Sub(fresh.LastResetAt) < m.resetInterval {
			// another request already advanced the window
			return nil, nil, nil
		}
		now := m.now()
		fresh.LastResetAt = now
		return map[string]any{"last_reset_at": now}, nil, nil
	})
}

// Mutate runs fn against a fresh session snapshot and commits its result with
// a version check, retrying from a new read on conflict. fn may return nil
// updates and messages to commit a bare version bump, which still serializes
// against concurrent writers.
func (m *SessionManager) Mutate(ctx context.Context, sessionID string, fn func(fresh *Session) (map[string]any, []*Message, error)) (*Session, error) {
	for attempt := 0; attempt <= m.maxRetries; attempt++ {
		s, err := m.repo.GetSessionBySessionID(ctx, sessionID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, fmt.Errorf("%w: session %s", ErrNotFound, sessionID)
			}
			return nil, err
		}

		updates, msgs, err := fn(s)
		if err != nil {
			return nil, err
		}

		err = m.repo.CommitTurn(ctx, s, updates, msgs...)
		if errors.Is(err, ErrConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return s, nil
	}
	return nil, fmt.Errorf("%w: session %s not committed after %d retries", ErrConflict, sessionID, m.maxRetries)
}
