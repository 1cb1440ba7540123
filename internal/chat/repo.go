package chat

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) GetSessionBySessionID(ctx context.Context, sessionID string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *Repo) GetSessionByUserAndSlot(ctx context.Context, userID uint64, slot string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("user_id = ? AND slot = ?", userID, slot).
		First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

// CreateSessionOrGetExisting tries to create a session; if the (user_id, slot)
// unique index rejects it, another request created the session first and that
// one is returned instead. This makes find-or-create atomic.
func (r *Repo) CreateSessionOrGetExisting(ctx context.Context, s *Session) (*Session, bool, error) {
	err := r.db.WithContext(ctx).Create(s).Error
	if err == nil {
		return s, true, nil
	}

	existing, getErr := r.GetSessionByUserAndSlot(ctx, s.UserID, s.Slot)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, gorm.ErrRecordNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// CommitTurn is the single write path for session state: it bumps the version
// conditioned on the snapshot's version being current, applies any column
// updates, and inserts the turn's messages in the same transaction. A stale
// snapshot yields ErrConflict and nothing is written.
func (r *Repo) CommitTurn(ctx context.Context, s *Session, updates map[string]any, msgs ...*Message) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		vals := map[string]any{"version": s.Version + 1}
		for k, v := range updates {
			vals[k] = v
		}
		res := tx.Model(&Session{}).
			Where("id = ? AND version = ?", s.ID, s.Version).
			Updates(vals)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		for _, m := range msgs {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Version++
	return nil
}

// SumTokensSince derives token consumption for the current budget window.
func (r *Repo) SumTokensSince(ctx context.Context, sessionID string, role Role, since time.Time) (int, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ? AND role = ? AND created_at >= ?", sessionID, role, since).
		Select("COALESCE(SUM(tokens_used), 0)").
		Scan(&total).Error
	if err != nil {
		return 0, err
	}
	return int(total), nil
}

// ListRecentMessagesDesc returns the most recent messages, newest first.
func (r *Repo) ListRecentMessagesDesc(ctx context.Context, sessionID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&msgs).Error; err != nil {
		return nil, err
	}
	return msgs, nil
}

func (r *Repo) CountMessages(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&Message{}).
		Where("session_id = ?", sessionID).
		Count(&n).Error
	return n, err
}

// ListMessagesBefore pages backwards through history. It returns up to limit
// messages strictly older than the cursor in chronological order, plus
// whether still-older messages exist beyond the returned page.
func (r *Repo) ListMessagesBefore(ctx context.Context, sessionID string, before time.Time, limit int) ([]Message, bool, error) {
	if limit <= 0 {
		limit = 20
	}
	var msgs []Message
	if err := r.db.WithContext(ctx).
		Where("session_id = ? AND created_at < ?", sessionID, before).
		Order("created_at DESC, id DESC").
		Limit(limit + 1).
		Find(&msgs).Error; err != nil {
		return nil, false, err
	}

	hasMore := len(msgs) > limit
	if hasMore {
		msgs = msgs[:limit]
	}
	// reverse to ASC (oldest -> newest)
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, hasMore, nil
}
