package idea

import "time"

// Idea is a previously generated idea artifact. The chat core reads it only
// once, at session creation; conversations run against the snapshot taken
// there.
type Idea struct {
	ID               uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID           uint64    `gorm:"index;not null" json:"-"`
	Theme            string    `gorm:"type:varchar(64);not null" json:"theme"`
	Context          string    `gorm:"type:text;not null" json:"context"`
	GeneratedContent string    `gorm:"type:text;not null" json:"generated_content"`
	ModelUsed        string    `gorm:"type:varchar(64)" json:"model_used"`
	CreatedAt        time.Time `json:"created_at"`
}

func (Idea) TableName() string { return "ideas" }

// Summary is the listing row for the idea-selection UI.
type Summary struct {
	ID        uint64    `json:"id"`
	Summary   string    `json:"summary"`
	Theme     string    `json:"theme"`
	CreatedAt time.Time `json:"created_at"`
}
