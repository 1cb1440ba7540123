package idea

import (
	"context"

	"gorm.io/gorm"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Create(ctx context.Context, i *Idea) error {
	return r.db.WithContext(ctx).Create(i).Error
}

func (r *Repo) GetByID(ctx context.Context, id uint64) (*Idea, error) {
	var i Idea
	if err := r.db.WithContext(ctx).First(&i, id).Error; err != nil {
		return nil, err
	}
	return &i, nil
}

func (r *Repo) ListByUserDesc(ctx context.Context, userID uint64) ([]Idea, error) {
	var ideas []Idea
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&ideas).Error; err != nil {
		return nil, err
	}
	return ideas, nil
}
