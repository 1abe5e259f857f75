package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"

	"gorm.io/gorm"
)

func orderedParticipants(db *gorm.DB) *gorm.DB {
	return db.Order("joined_at, user_id")
}

func (s *Store) CreateConversation(ctx context.Context, c *models.Conversation) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create conversation: %w", err)
	}
	return nil
}

func (s *Store) GetConversation(ctx context.Context, id string) (*models.Conversation, error) {
	var c models.Conversation
	err := s.db.WithContext(ctx).Preload("Participants", orderedParticipants).First(&c, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &c, nil
}

func (s *Store) FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error) {
	var row struct{ ID string }
	err := s.db.WithContext(ctx).Model(&models.Conversation{}).
		Select("conversations.id").
		Joins("JOIN conversation_participants a ON a.conversation_id = conversations.id AND a.user_id = ?", userA).
		Joins("JOIN conversation_participants b ON b.conversation_id = conversations.id AND b.user_id = ?", userB).
		Where("conversations.is_group = ?", false).
		Take(&row).Error
	if err != nil {
		return nil, translate(err)
	}
	return s.GetConversation(ctx, row.ID)
}

func (s *Store) ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error) {
	var convs []models.Conversation
	err := s.db.WithContext(ctx).
		Preload("Participants", orderedParticipants).
		Joins("JOIN conversation_participants p ON p.conversation_id = conversations.id AND p.user_id = ?", userID).
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Find(&convs).Error
	if err != nil {
		return nil, fmt.Errorf("list conversations for user: %w", err)
	}
	return convs, nil
}

func (s *Store) ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error) {
	var ids []string
	err := s.db.WithContext(ctx).Model(&models.ConversationParticipant{}).
		Where("user_id = ?", userID).
		Order("joined_at").
		Pluck("conversation_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list conversation ids for user: %w", err)
	}
	return ids, nil
}

func (s *Store) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res := s.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", id).
		Update("last_message_at", at)
	return affected(res)
}
