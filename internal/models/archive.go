package models

import (
	"time"

	"github.com/segmentio/ksuid"
	"gorm.io/gorm"
)

// Archive records mirror the in-memory change log and comment threads into
// Postgres for audit and recovery. The engine never reads them back; they are
// written fire-and-forget by the archiver worker pool.

// ChangeRecord is the durable form of a stamped Change.
type ChangeRecord struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	SessionID  string    `json:"session_id" gorm:"type:char(36);index;not null"`
	DocumentID string    `json:"document_id" gorm:"type:text;index;not null"`
	UserID     string    `json:"user_id" gorm:"type:text;index;not null"`
	Sequence   int64     `json:"sequence" gorm:"not null"`
	Operation  string    `json:"operation" gorm:"type:varchar(16);not null"`
	Position   int       `json:"position" gorm:"not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	Timestamp  time.Time `json:"timestamp" gorm:"index;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate hook generates a KSUID before inserting.
func (r *ChangeRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}

// CommentRecord is the durable form of a Comment. Replies are folded into
// rows sharing the parent's comment ID.
type CommentRecord struct {
	ID         string    `json:"id" gorm:"type:char(27);primaryKey"`
	CommentID  string    `json:"comment_id" gorm:"type:char(27);index;not null"`
	ParentID   string    `json:"parent_id,omitempty" gorm:"type:char(27);index"`
	SessionID  string    `json:"session_id" gorm:"type:char(36);index;not null"`
	DocumentID string    `json:"document_id" gorm:"type:text;index;not null"`
	UserID     string    `json:"user_id" gorm:"type:text;not null"`
	Position   int       `json:"position" gorm:"not null"`
	Content    string    `json:"content" gorm:"type:text;not null"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
}

// BeforeCreate hook generates a KSUID before inserting.
func (r *CommentRecord) BeforeCreate(tx *gorm.DB) error {
	if r.ID == "" {
		r.ID = ksuid.New().String()
	}
	return nil
}
