package repository

import (
	"context"
	"fmt"

	"collab-engine/internal/models"

	"gorm.io/gorm"
)

// HistoryRepositoryImpl persists the durable mirror of session activity:
// every stamped change and every comment/reply, append-only.
//
// Query patterns:
// - SaveChange / SaveComment / SaveReply: archive writes from the worker pool
// - ChangesBySession: offline audit of a session's full edit history
type HistoryRepositoryImpl struct {
	db *gorm.DB
}

// NewHistoryRepository creates a new history repository.
func NewHistoryRepository(db *gorm.DB) *HistoryRepositoryImpl {
	return &HistoryRepositoryImpl{db: db}
}

// SaveChange archives one stamped change.
func (r *HistoryRepositoryImpl) SaveChange(ctx context.Context, sessionID string, change models.Change) error {
	record := &models.ChangeRecord{
		SessionID:  sessionID,
		DocumentID: change.DocumentID,
		UserID:     change.UserID,
		Sequence:   change.Sequence,
		Operation:  string(change.Operation),
		Position:   change.Position,
		Content:    change.Content,
		Timestamp:  change.Timestamp,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to archive change: %w", err)
	}
	return nil
}

// SaveComment archives a new comment thread root.
func (r *HistoryRepositoryImpl) SaveComment(ctx context.Context, comment models.Comment) error {
	record := &models.CommentRecord{
		CommentID:  comment.ID,
		SessionID:  comment.SessionID,
		DocumentID: comment.DocumentID,
		UserID:     comment.UserID,
		Position:   comment.Position,
		Content:    comment.Content,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to archive comment: %w", err)
	}
	return nil
}

// SaveReply archives a reply as a child row of its parent comment.
func (r *HistoryRepositoryImpl) SaveReply(ctx context.Context, parent models.Comment, reply models.Reply) error {
	record := &models.CommentRecord{
		CommentID:  parent.ID,
		ParentID:   parent.ID,
		SessionID:  parent.SessionID,
		DocumentID: parent.DocumentID,
		UserID:     reply.UserID,
		Position:   parent.Position,
		Content:    reply.Content,
	}

	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("failed to archive reply: %w", err)
	}
	return nil
}

// ChangesBySession retrieves a session's archived changes in sequence order.
func (r *HistoryRepositoryImpl) ChangesBySession(ctx context.Context, sessionID string) ([]*models.ChangeRecord, error) {
	var records []*models.ChangeRecord

	err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("sequence ASC").
		Find(&records).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load archived changes: %w", err)
	}

	return records, nil
}
