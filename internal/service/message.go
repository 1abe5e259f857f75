package service

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"github.com/sanaka-srujana/tars-chat/internal/metrics"
	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

const (
	DefaultMessagePageSize = 50
	MaxMessagePageSize     = 200
	MaxMessageLength       = 4000
	maxEmojiLength         = 32
)

// MessageService sends, lists, edits and reacts to messages.
type MessageService struct {
	messages MessageStore
	convs    ConversationStore
	users    UserStore
	access   *ConversationService
	typing   *TypingService
	now      Clock
}

func NewMessageService(messages MessageStore, convs ConversationStore, users UserStore, access *ConversationService, typing *TypingService) *MessageService {
	return &MessageService{messages: messages, convs: convs, users: users, access: access, typing: typing, now: time.Now}
}

func (s *MessageService) SetClock(c Clock) { s.now = c }

// MessageDTO is the outward shape of a message.
type MessageDTO struct {
	ID             string                 `json:"id"`
	ConversationID string                 `json:"conversation_id"`
	SenderID       string                 `json:"sender_id"`
	SenderName     string                 `json:"sender_name"`
	Content        string                 `json:"content"`
	ReplyToID      *string                `json:"reply_to_id,omitempty"`
	EditedAt       *time.Time             `json:"edited_at,omitempty"`
	IsDeleted      bool                   `json:"is_deleted"`
	ReadBy         []string               `json:"read_by"`
	Reactions      []models.ReactionGroup `json:"reactions"`
	CreatedAt      time.Time              `json:"created_at"`
}

func toMessageDTO(m models.Message, senderName string) MessageDTO {
	content := m.Content
	if m.IsDeleted {
		content = ""
	}
	return MessageDTO{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		SenderName:     senderName,
		Content:        content,
		ReplyToID:      m.ReplyToID,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		ReadBy:         m.ReaderIDs(),
		Reactions:      models.GroupReactions(m.Reactions),
		CreatedAt:      m.CreatedAt,
	}
}

func cleanContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if utf8.RuneCountInString(content) > MaxMessageLength {
		return "", ErrContentTooLong
	}
	return content, nil
}

// Send stores a message from senderID. The sender is recorded as a reader
// and their typing indicator in the conversation is cleared.
func (s *MessageService) Send(ctx context.Context, conversationID, senderID, content string, replyToID *string) (*MessageDTO, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, senderID, conversationID); err != nil {
		return nil, err
	}
	if replyToID != nil && *replyToID != "" {
		parent, err := s.getMessage(ctx, *replyToID)
		if err != nil {
			return nil, err
		}
		if parent.ConversationID != conversationID {
			return nil, ErrReplyOutsideThread
		}
	} else {
		replyToID = nil
	}

	now := s.now()
	m := models.Message{
		ConversationID: conversationID,
		SenderID:       senderID,
		Content:        content,
		ReplyToID:      replyToID,
		ReadBy:         []models.MessageRead{{UserID: senderID, ReadAt: now}},
		CreatedAt:      now,
	}
	if err := s.messages.CreateMessage(ctx, &m); err != nil {
		return nil, err
	}
	metrics.MessagesSentTotal.Inc()
	if err := s.convs.TouchConversation(ctx, conversationID, now); err != nil {
		log.Warn().Err(err).Str("conversation_id", conversationID).Msg("touch conversation")
	}
	if s.typing != nil {
		if err := s.typing.SetTyping(ctx, conversationID, senderID, false); err != nil {
			log.Warn().Err(err).Str("conversation_id", conversationID).Msg("clear typing after send")
		}
	}
	dto := toMessageDTO(m, s.senderName(ctx, senderID))
	return &dto, nil
}

// List returns a page of messages, oldest first. limit is clamped to
// [1, MaxMessagePageSize] with DefaultMessagePageSize for zero.
func (s *MessageService) List(ctx context.Context, viewerID, conversationID string, limit int, before time.Time) ([]MessageDTO, error) {
	if _, err := s.access.Require(ctx, viewerID, conversationID); err != nil {
		return nil, err
	}
	switch {
	case limit <= 0:
		limit = DefaultMessagePageSize
	case limit > MaxMessagePageSize:
		limit = MaxMessagePageSize
	}
	msgs, err := s.messages.ListMessages(ctx, conversationID, limit, before)
	if err != nil {
		return nil, err
	}
	names, err := s.senderNames(ctx, msgs)
	if err != nil {
		return nil, err
	}
	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, toMessageDTO(m, names[m.SenderID]))
	}
	return out, nil
}

// Edit replaces the content of one of the caller's own messages.
func (s *MessageService) Edit(ctx context.Context, messageID, userID, content string) (*MessageDTO, error) {
	content, err := cleanContent(content)
	if err != nil {
		return nil, err
	}
	m, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, ErrMessageDeleted
	}
	now := s.now()
	if err := s.messages.UpdateMessageContent(ctx, messageID, content, now); err != nil {
		return nil, err
	}
	m.Content, m.EditedAt = content, &now
	dto := toMessageDTO(*m, s.senderName(ctx, userID))
	return &dto, nil
}

// Delete soft-deletes one of the caller's own messages. The row stays so
// replies and read markers keep pointing at something.
func (s *MessageService) Delete(ctx context.Context, messageID, userID string) (*MessageDTO, error) {
	m, err := s.ownMessage(ctx, messageID, userID)
	if err != nil {
		return nil, err
	}
	if !m.IsDeleted {
		if err := s.messages.SoftDeleteMessage(ctx, messageID); err != nil {
			return nil, err
		}
		m.IsDeleted = true
	}
	dto := toMessageDTO(*m, s.senderName(ctx, userID))
	return &dto, nil
}

// React toggles userID's emoji reaction on a message and returns the
// message with its updated reaction groups.
func (s *MessageService) React(ctx context.Context, messageID, userID, emoji string) (*MessageDTO, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" || len(emoji) > maxEmojiLength {
		return nil, ErrInvalidReaction
	}
	m, err := s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if _, err := s.access.Require(ctx, userID, m.ConversationID); err != nil {
		return nil, err
	}
	if m.IsDeleted {
		return nil, ErrMessageDeleted
	}
	if _, err := s.messages.ToggleReaction(ctx, messageID, userID, emoji); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	m, err = s.getMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	dto := toMessageDTO(*m, s.senderName(ctx, m.SenderID))
	return &dto, nil
}

func (s *MessageService) getMessage(ctx context.Context, id string) (*models.Message, error) {
	m, err := s.messages.GetMessage(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, err
	}
	return m, nil
}

func (s *MessageService) ownMessage(ctx context.Context, id, userID string) (*models.Message, error) {
	m, err := s.getMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	if m.SenderID != userID {
		return nil, ErrForbidden
	}
	return m, nil
}

func (s *MessageService) senderName(ctx context.Context, userID string) string {
	u, err := s.users.GetUser(ctx, userID)
	if err != nil {
		return ""
	}
	return u.DisplayName()
}

func (s *MessageService) senderNames(ctx context.Context, msgs []models.Message) (map[string]string, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, m := range msgs {
		if _, ok := seen[m.SenderID]; ok {
			continue
		}
		seen[m.SenderID] = struct{}{}
		ids = append(ids, m.SenderID)
	}
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	for _, u := range users {
		out[u.ID] = u.DisplayName()
	}
	return out, nil
}
