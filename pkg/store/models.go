package store

import (
	"time"

	"gorm.io/datatypes"
)

// GORM models used for persistence.
type UserModel struct {
	ID         string    `gorm:"primaryKey"`
	Name       string    `gorm:"uniqueIndex;not null"`
	SecretHash string    `gorm:"not null"`
	Role       string    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"not null"`
	UpdatedAt  time.Time
}

// ThreadModel carries the (thread_id, owner_id) composite uniqueness
// invariant: the same threadID may exist once per distinct owner.
type ThreadModel struct {
	ID        string    `gorm:"primaryKey"`
	ThreadID  string    `gorm:"not null;uniqueIndex:idx_thread_owner"`
	OwnerID   string    `gorm:"not null;uniqueIndex:idx_thread_owner"`
	Title     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null;index"`
}

type ThreadMessageModel struct {
	ID        string `gorm:"primaryKey"`
	ThreadKey string `gorm:"not null;index"`
	Seq       int    `gorm:"not null"`
	Role      string `gorm:"not null"`
	Content   string `gorm:"type:text;not null"`
	// AuthorID is indexed for the legacy ownership fallback that scans
	// message authorship on threads created before owner scoping existed.
	AuthorID    string `gorm:"index"`
	AuthorName  string
	Attachments datatypes.JSON
	CreatedAt   time.Time `gorm:"not null;index"`
}
