// Package memory is a process-local backend for every store interface. It
// backs the service tests and single-process dev runs.
//
// The methods in hooks.go (DeleteUser, TypingCount, PutTyping) are test
// hooks. They bypass the store interfaces and no production code calls them.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

type Store struct {
	mu sync.RWMutex

	users      map[string]*models.User
	usernames  map[string]string // username -> userID
	tokens     map[string]*models.RefreshToken
	tokenSeq   uint
	convs      map[string]*models.Conversation
	userConvs  map[string][]string // userID -> []conversationID, join order
	messages   map[string]*models.Message
	convMsgs   map[string][]string // conversationID -> []messageID, insertion order
	typing     map[string]*models.TypingIndicator
	typingKeys map[[2]string]string // (conversationID, userID) -> indicatorID
	typingSeq  []string             // indicator ids in insertion order
}

func NewStore() *Store {
	return &Store{
		users:      make(map[string]*models.User),
		usernames:  make(map[string]string),
		tokens:     make(map[string]*models.RefreshToken),
		convs:      make(map[string]*models.Conversation),
		userConvs:  make(map[string][]string),
		messages:   make(map[string]*models.Message),
		convMsgs:   make(map[string][]string),
		typing:     make(map[string]*models.TypingIndicator),
		typingKeys: make(map[[2]string]string),
	}
}

// --- users ---

func (s *Store) CreateUser(_ context.Context, u *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	now := time.Now()
	u.CreatedAt, u.UpdatedAt = now, now
	cp := *u
	s.users[u.ID] = &cp
	s.usernames[u.Username] = u.ID
	return nil
}

func (s *Store) GetUser(_ context.Context, id string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	id, ok := s.usernames[username]
	s.mu.RUnlock()
	if !ok {
		return nil, repository.ErrNotFound
	}
	return s.GetUser(ctx, id)
}

func (s *Store) GetUsersByIDs(_ context.Context, ids []string) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out = append(out, *u)
		}
	}
	return out, nil
}

func (s *Store) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (s *Store) SetOnline(_ context.Context, id string, online bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsOnline = online
	u.LastSeen = at
	u.UpdatedAt = at
	return nil
}

func (s *Store) UpdateProfile(_ context.Context, id, name, imageURL string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.Name = name
	u.ImageURL = imageURL
	u.UpdatedAt = time.Now()
	return nil
}

func (s *Store) SaveRefreshToken(_ context.Context, rt *models.RefreshToken) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokenSeq++
	rt.ID = s.tokenSeq
	rt.CreatedAt = time.Now()
	cp := *rt
	s.tokens[rt.Token] = &cp
	return nil
}

func (s *Store) ConsumeRefreshToken(_ context.Context, token string, now time.Time) (*models.RefreshToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rt, ok := s.tokens[token]
	if !ok || rt.RevokedAt != nil || !rt.ExpiresAt.After(now) {
		return nil, repository.ErrNotFound
	}
	revoked := now
	rt.RevokedAt = &revoked
	cp := *rt
	return &cp, nil
}

// --- conversations ---

func (s *Store) CreateConversation(_ context.Context, c *models.Conversation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	c.CreatedAt, c.UpdatedAt = now, now
	for i := range c.Participants {
		c.Participants[i].ConversationID = c.ID
		c.Participants[i].JoinedAt = now
		uid := c.Participants[i].UserID
		s.userConvs[uid] = append(s.userConvs[uid], c.ID)
	}
	s.convs[c.ID] = cloneConversation(c)
	return nil
}

func (s *Store) GetConversation(_ context.Context, id string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.convs[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneConversation(c), nil
}

func (s *Store) FindDirectConversation(_ context.Context, userA, userB string) (*models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.userConvs[userA] {
		c := s.convs[id]
		if c.IsGroup || len(c.Participants) != 2 {
			continue
		}
		if c.HasParticipant(userA) && c.HasParticipant(userB) {
			return cloneConversation(c), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *Store) ListConversationsForUser(_ context.Context, userID string) ([]models.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Conversation, 0, len(s.userConvs[userID]))
	for _, id := range s.userConvs[userID] {
		out = append(out, *cloneConversation(s.convs[id]))
	}
	sort.SliceStable(out, func(i, j int) bool { return lastActivity(out[i]).After(lastActivity(out[j])) })
	return out, nil
}

func (s *Store) ListConversationIDsForUser(_ context.Context, userID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.userConvs[userID]...), nil
}

func (s *Store) TouchConversation(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.convs[id]
	if !ok {
		return repository.ErrNotFound
	}
	c.LastMessageAt = &at
	c.UpdatedAt = at
	return nil
}

func lastActivity(c models.Conversation) time.Time {
	if c.LastMessageAt != nil {
		return *c.LastMessageAt
	}
	return c.CreatedAt
}

func cloneConversation(c *models.Conversation) *models.Conversation {
	cp := *c
	cp.Participants = append([]models.ConversationParticipant(nil), c.Participants...)
	return &cp
}

// --- messages ---

func (s *Store) CreateMessage(_ context.Context, m *models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	for i := range m.ReadBy {
		m.ReadBy[i].MessageID = m.ID
	}
	s.messages[m.ID] = cloneMessage(m)
	s.convMsgs[m.ConversationID] = append(s.convMsgs[m.ConversationID], m.ID)
	return nil
}

func (s *Store) GetMessage(_ context.Context, id string) (*models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return cloneMessage(m), nil
}

func (s *Store) ListMessages(_ context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.convMsgs[conversationID]
	out := make([]models.Message, 0, limit)
	for i := len(ids) - 1; i >= 0 && len(out) < limit; i-- {
		m := s.messages[ids[i]]
		if !before.IsZero() && !m.CreatedAt.Before(before) {
			continue
		}
		out = append(out, *cloneMessage(m))
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *Store) ListConversationMessages(_ context.Context, conversationID string) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.convMsgs[conversationID]
	out := make([]models.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, *cloneMessage(s.messages[id]))
	}
	return out, nil
}

func (s *Store) UpdateMessageContent(_ context.Context, id, content string, editedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Content = content
	m.EditedAt = &editedAt
	return nil
}

func (s *Store) SoftDeleteMessage(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.IsDeleted = true
	return nil
}

func (s *Store) ToggleReaction(_ context.Context, messageID, userID, emoji string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.messages[messageID]
	if !ok {
		return false, repository.ErrNotFound
	}
	for i, r := range m.Reactions {
		if r.Emoji == emoji && r.UserID == userID {
			m.Reactions = append(m.Reactions[:i], m.Reactions[i+1:]...)
			return false, nil
		}
	}
	m.Reactions = append(m.Reactions, models.Reaction{MessageID: messageID, Emoji: emoji, UserID: userID, CreatedAt: time.Now()})
	return true, nil
}

func (s *Store) MarkConversationRead(_ context.Context, conversationID, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, id := range s.convMsgs[conversationID] {
		m := s.messages[id]
		if m.ReadByUser(userID) {
			continue
		}
		m.ReadBy = append(m.ReadBy, models.MessageRead{MessageID: id, UserID: userID, ReadAt: at})
		n++
	}
	return n, nil
}

func cloneMessage(m *models.Message) *models.Message {
	cp := *m
	cp.ReadBy = append([]models.MessageRead(nil), m.ReadBy...)
	cp.Reactions = append([]models.Reaction(nil), m.Reactions...)
	return &cp
}

// --- typing indicators ---

func (s *Store) FindTyping(_ context.Context, conversationID, userID string) (*models.TypingIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.typingKeys[[2]string{conversationID, userID}]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *s.typing[id]
	return &cp, nil
}

// InsertTyping keeps the (conversation, user) key unique the way a unique
// index would: a second insert for the same pair overwrites the timestamp.
func (s *Store) InsertTyping(_ context.Context, t *models.TypingIndicator) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{t.ConversationID, t.UserID}
	if id, ok := s.typingKeys[key]; ok {
		t.ID = id
		s.typing[id].Timestamp = t.Timestamp
		return nil
	}
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	cp := *t
	s.typing[t.ID] = &cp
	s.typingKeys[key] = t.ID
	s.typingSeq = append(s.typingSeq, t.ID)
	return nil
}

func (s *Store) TouchTyping(_ context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.typing[id]
	if !ok {
		return repository.ErrNotFound
	}
	t.Timestamp = ts
	return nil
}

func (s *Store) DeleteTyping(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deleteTypingLocked(id)
	return nil
}

func (s *Store) deleteTypingLocked(id string) bool {
	t, ok := s.typing[id]
	if !ok {
		return false
	}
	delete(s.typing, id)
	delete(s.typingKeys, [2]string{t.ConversationID, t.UserID})
	for i, v := range s.typingSeq {
		if v == id {
			s.typingSeq = append(s.typingSeq[:i], s.typingSeq[i+1:]...)
			break
		}
	}
	return true
}

func (s *Store) ListTyping(_ context.Context, conversationID string) ([]models.TypingIndicator, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TypingIndicator
	for _, id := range s.typingSeq {
		if t := s.typing[id]; t.ConversationID == conversationID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (s *Store) DeleteTypingBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stale []string
	for id, t := range s.typing {
		if t.Timestamp.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	for _, id := range stale {
		s.deleteTypingLocked(id)
	}
	return int64(len(stale)), nil
}
