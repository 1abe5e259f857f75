package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"

	"gorm.io/gorm/clause"
)

func (s *Store) FindTyping(ctx context.Context, conversationID, userID string) (*models.TypingIndicator, error) {
	var t models.TypingIndicator
	err := s.db.WithContext(ctx).
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		First(&t).Error
	if err != nil {
		return nil, translate(err)
	}
	return &t, nil
}

// InsertTyping relies on the unique (conversation_id, user_id) index: a
// concurrent insert for the same pair degrades to a timestamp update.
func (s *Store) InsertTyping(ctx context.Context, t *models.TypingIndicator) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "conversation_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"timestamp"}),
	}).Create(t).Error
	if err != nil {
		return fmt.Errorf("insert typing indicator: %w", err)
	}
	return nil
}

func (s *Store) TouchTyping(ctx context.Context, id string, ts time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.TypingIndicator{}).Where("id = ?", id).
		Update("timestamp", ts)
	return affected(res)
}

func (s *Store) DeleteTyping(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Delete(&models.TypingIndicator{}, "id = ?", id).Error; err != nil {
		return fmt.Errorf("delete typing indicator: %w", err)
	}
	return nil
}

func (s *Store) ListTyping(ctx context.Context, conversationID string) ([]models.TypingIndicator, error) {
	var rows []models.TypingIndicator
	err := s.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("timestamp").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list typing indicators: %w", err)
	}
	return rows, nil
}

func (s *Store) DeleteTypingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Where("timestamp < ?", cutoff).Delete(&models.TypingIndicator{})
	if res.Error != nil {
		return 0, fmt.Errorf("sweep typing indicators: %w", res.Error)
	}
	return res.RowsAffected, nil
}
