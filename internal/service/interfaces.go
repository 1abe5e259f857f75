package service

import (
	"context"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"
)

// --- Storage interfaces ---
//
// Lookups of a single record return repository.ErrNotFound when it is absent.

// TypingStore persists typing indicators, one row per (conversation, user).
type TypingStore interface {
	FindTyping(ctx context.Context, conversationID, userID string) (*models.TypingIndicator, error)
	InsertTyping(ctx context.Context, t *models.TypingIndicator) error
	TouchTyping(ctx context.Context, id string, ts time.Time) error
	DeleteTyping(ctx context.Context, id string) error
	ListTyping(ctx context.Context, conversationID string) ([]models.TypingIndicator, error)
	DeleteTypingBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// UserStore is the user directory plus the refresh tokens issued to users.
type UserStore interface {
	CreateUser(ctx context.Context, u *models.User) error
	GetUser(ctx context.Context, id string) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)
	GetUsersByIDs(ctx context.Context, ids []string) ([]models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	SetOnline(ctx context.Context, id string, online bool, at time.Time) error
	UpdateProfile(ctx context.Context, id, name, imageURL string) error

	SaveRefreshToken(ctx context.Context, rt *models.RefreshToken) error
	// ConsumeRefreshToken revokes a live token and returns it. Expired,
	// revoked and unknown tokens all yield repository.ErrNotFound.
	ConsumeRefreshToken(ctx context.Context, token string, now time.Time) (*models.RefreshToken, error)
}

// ConversationStore is the conversation registry.
type ConversationStore interface {
	CreateConversation(ctx context.Context, c *models.Conversation) error
	GetConversation(ctx context.Context, id string) (*models.Conversation, error)
	FindDirectConversation(ctx context.Context, userA, userB string) (*models.Conversation, error)
	// ListConversationsForUser orders by last activity, most recent first.
	ListConversationsForUser(ctx context.Context, userID string) ([]models.Conversation, error)
	ListConversationIDsForUser(ctx context.Context, userID string) ([]string, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error
}

// MessageStore holds messages together with their read markers and reactions.
type MessageStore interface {
	// CreateMessage stores m including the readers already listed in m.ReadBy.
	CreateMessage(ctx context.Context, m *models.Message) error
	GetMessage(ctx context.Context, id string) (*models.Message, error)
	// ListMessages returns up to limit messages created strictly before
	// before (zero means no bound), oldest first.
	ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error)
	// ListConversationMessages returns every message of the conversation with
	// ReadBy populated.
	ListConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error)
	UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error
	SoftDeleteMessage(ctx context.Context, id string) error
	// ToggleReaction adds userID to the emoji's reactors, or removes it when
	// already present. It reports whether the reaction now exists.
	ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error)
	// MarkConversationRead adds userID to readBy of every message in the
	// conversation and returns how many messages were newly marked.
	MarkConversationRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)
}

// Clock lets tests pin the current instant.
type Clock func() time.Time
