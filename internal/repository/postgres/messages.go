package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func orderedReactions(db *gorm.DB) *gorm.DB {
	return db.Order("created_at, emoji, user_id")
}

func (s *Store) CreateMessage(ctx context.Context, m *models.Message) error {
	if err := s.db.WithContext(ctx).Create(m).Error; err != nil {
		return fmt.Errorf("create message: %w", err)
	}
	return nil
}

func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var m models.Message
	err := s.db.WithContext(ctx).
		Preload("ReadBy").
		Preload("Reactions", orderedReactions).
		First(&m, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &m, nil
}

func (s *Store) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	q := s.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if !before.IsZero() {
		q = q.Where("created_at < ?", before)
	}
	var msgs []models.Message
	err := q.Preload("ReadBy").
		Preload("Reactions", orderedReactions).
		Order("created_at desc").
		Limit(limit).
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) ListConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	var msgs []models.Message
	err := s.db.WithContext(ctx).
		Preload("ReadBy").
		Where("conversation_id = ?", conversationID).
		Order("created_at").
		Find(&msgs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation messages: %w", err)
	}
	return msgs, nil
}

func (s *Store) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Updates(map[string]interface{}{"content": content, "edited_at": editedAt})
	return affected(res)
}

func (s *Store) SoftDeleteMessage(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Model(&models.Message{}).Where("id = ?", id).
		Update("is_deleted", true)
	return affected(res)
}

func (s *Store) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	var added bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Message{}).Where("id = ?", messageID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return repository.ErrNotFound
		}
		res := tx.Where("message_id = ? AND emoji = ? AND user_id = ?", messageID, emoji, userID).
			Delete(&models.Reaction{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected > 0 {
			return nil
		}
		added = true
		return tx.Clauses(clause.OnConflict{DoNothing: true}).
			Create(&models.Reaction{MessageID: messageID, Emoji: emoji, UserID: userID}).Error
	})
	return added, err
}

// MarkConversationRead inserts the missing (message, user) read markers in
// one statement; existing markers are left untouched.
func (s *Store) MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	res := s.db.WithContext(ctx).Exec(`
		INSERT INTO message_reads (message_id, user_id, read_at)
		SELECT m.id, ?, ? FROM messages m
		WHERE m.conversation_id = ?
		ON CONFLICT (message_id, user_id) DO NOTHING`,
		userID, at, conversationID)
	if res.Error != nil {
		return 0, fmt.Errorf("mark conversation read: %w", res.Error)
	}
	return res.RowsAffected, nil
}
