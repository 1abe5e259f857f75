package service

import (
	"context"
	"fmt"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/metrics"
)

// UnreadService derives unread counts from each message's read marker set.
// Nothing is cached: every count is computed from the store at call time.
type UnreadService struct {
	messages MessageStore
	now      Clock
}

func NewUnreadService(messages MessageStore) *UnreadService {
	return &UnreadService{messages: messages, now: time.Now}
}

func (s *UnreadService) SetClock(c Clock) { s.now = c }

// UnreadCount is the number of messages in conversationID whose readBy set
// does not contain userID. The sender is put into readBy when a message is
// sent, so a user's own messages never count as unread.
func (s *UnreadService) UnreadCount(ctx context.Context, userID, conversationID string) (int, error) {
	msgs, err := s.messages.ListConversationMessages(ctx, conversationID)
	if err != nil {
		return 0, fmt.Errorf("list messages: %w", err)
	}
	n := 0
	for _, m := range msgs {
		if !m.ReadByUser(userID) {
			n++
		}
	}
	return n, nil
}

// UnreadCounts computes UnreadCount for several conversations.
func (s *UnreadService) UnreadCounts(ctx context.Context, userID string, conversationIDs []string) (map[string]int, error) {
	out := make(map[string]int, len(conversationIDs))
	for _, id := range conversationIDs {
		n, err := s.UnreadCount(ctx, userID, id)
		if err != nil {
			return nil, err
		}
		out[id] = n
	}
	return out, nil
}

// MarkAsRead adds userID to readBy of every message in conversationID and
// returns how many messages changed. Calling it again is a no-op.
func (s *UnreadService) MarkAsRead(ctx context.Context, conversationID, userID string) (int64, error) {
	n, err := s.messages.MarkConversationRead(ctx, conversationID, userID, s.now())
	if err != nil {
		return 0, err
	}
	metrics.MessagesMarkedReadTotal.Add(float64(n))
	return n, nil
}
