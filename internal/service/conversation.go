package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

// ConversationService is the conversation registry: who talks to whom.
type ConversationService struct {
	convs  ConversationStore
	users  UserStore
	unread *UnreadService
}

func NewConversationService(convs ConversationStore, users UserStore, unread *UnreadService) *ConversationService {
	return &ConversationService{convs: convs, users: users, unread: unread}
}

// ConversationDTO is a conversation as seen by one user.
type ConversationDTO struct {
	ID            string     `json:"id"`
	Name          string     `json:"name"`
	IsGroup       bool       `json:"is_group"`
	CreatedBy     string     `json:"created_by"`
	Participants  []UserDTO  `json:"participants"`
	LastMessageAt *time.Time `json:"last_message_at"`
	UnreadCount   int        `json:"unread_count"`
	CreatedAt     time.Time  `json:"created_at"`
}

// Create opens a conversation between creatorID and participantIDs. Two
// people and no name make a direct conversation, which is reused when one
// already exists for the pair.
func (s *ConversationService) Create(ctx context.Context, creatorID string, participantIDs []string, name string) (*ConversationDTO, error) {
	members := []string{creatorID}
	seen := map[string]struct{}{creatorID: {}}
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		members = append(members, id)
	}
	if len(members) < 2 {
		return nil, ErrInvalidParticipants
	}
	found, err := s.users.GetUsersByIDs(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(found) != len(members) {
		return nil, ErrUserNotFound
	}

	name = strings.TrimSpace(name)
	isGroup := len(members) > 2 || name != ""
	if !isGroup {
		existing, err := s.convs.FindDirectConversation(ctx, members[0], members[1])
		if err == nil {
			return s.view(ctx, creatorID, existing)
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	conv := models.Conversation{Name: name, IsGroup: isGroup, CreatedBy: creatorID}
	for _, id := range members {
		conv.Participants = append(conv.Participants, models.ConversationParticipant{UserID: id})
	}
	if err := s.convs.CreateConversation(ctx, &conv); err != nil {
		return nil, err
	}
	return s.view(ctx, creatorID, &conv)
}

// Get returns the conversation as seen by viewerID, who must be a participant.
func (s *ConversationService) Get(ctx context.Context, viewerID, conversationID string) (*ConversationDTO, error) {
	conv, err := s.Require(ctx, viewerID, conversationID)
	if err != nil {
		return nil, err
	}
	return s.view(ctx, viewerID, conv)
}

// Require loads the conversation and checks that userID participates in it.
func (s *ConversationService) Require(ctx context.Context, userID, conversationID string) (*models.Conversation, error) {
	conv, err := s.convs.GetConversation(ctx, conversationID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}
	if !conv.HasParticipant(userID) {
		return nil, ErrNotParticipant
	}
	return conv, nil
}

// ListForUser returns the user's conversations, most recently active first,
// each carrying the user's unread count.
func (s *ConversationService) ListForUser(ctx context.Context, userID string) ([]ConversationDTO, error) {
	convs, err := s.convs.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.ID)
	}
	counts, err := s.unread.UnreadCounts(ctx, userID, ids)
	if err != nil {
		return nil, err
	}
	users, err := s.participantDirectory(ctx, convs...)
	if err != nil {
		return nil, err
	}
	out := make([]ConversationDTO, 0, len(convs))
	for _, c := range convs {
		out = append(out, toConversationDTO(c, users, counts[c.ID]))
	}
	return out, nil
}

func (s *ConversationService) view(ctx context.Context, viewerID string, conv *models.Conversation) (*ConversationDTO, error) {
	n, err := s.unread.UnreadCount(ctx, viewerID, conv.ID)
	if err != nil {
		return nil, err
	}
	users, err := s.participantDirectory(ctx, *conv)
	if err != nil {
		return nil, err
	}
	dto := toConversationDTO(*conv, users, n)
	return &dto, nil
}

func (s *ConversationService) participantDirectory(ctx context.Context, convs ...models.Conversation) (map[string]models.User, error) {
	seen := make(map[string]struct{})
	var ids []string
	for _, c := range convs {
		for _, id := range c.ParticipantIDs() {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	out := make(map[string]models.User, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

func toConversationDTO(c models.Conversation, users map[string]models.User, unread int) ConversationDTO {
	dto := ConversationDTO{
		ID:            c.ID,
		Name:          c.Name,
		IsGroup:       c.IsGroup,
		CreatedBy:     c.CreatedBy,
		Participants:  make([]UserDTO, 0, len(c.Participants)),
		LastMessageAt: c.LastMessageAt,
		UnreadCount:   unread,
		CreatedAt:     c.CreatedAt,
	}
	for _, id := range c.ParticipantIDs() {
		if u, ok := users[id]; ok {
			dto.Participants = append(dto.Participants, toUserDTO(u))
		}
	}
	return dto
}
