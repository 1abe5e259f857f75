package memory

import (
	"context"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/models"
)

// Test hooks. None of these belong to a store interface.

// DeleteUser removes a user without touching the conversations or messages
// that reference it, leaving dangling ids behind.
func (s *Store) DeleteUser(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		delete(s.usernames, u.Username)
		delete(s.users, id)
	}
}

// TypingCount reports how many indicator rows exist.
func (s *Store) TypingCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.typing)
}

// PutTyping writes an indicator with an arbitrary timestamp, so stale rows
// can be seeded without going through the typing service.
func (s *Store) PutTyping(conversationID, userID string, ts time.Time) {
	_ = s.InsertTyping(context.Background(), &models.TypingIndicator{ConversationID: conversationID, UserID: userID, Timestamp: ts})
}
