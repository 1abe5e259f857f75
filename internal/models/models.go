package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type User struct {
	ID           string    `gorm:"primaryKey;size:36" json:"id"`
	Username     string    `gorm:"uniqueIndex;size:64;not null" json:"username"`
	Name         string    `gorm:"size:128" json:"name"`
	ImageURL     string    `gorm:"size:512" json:"image_url"`
	PasswordHash string    `gorm:"not null" json:"-"`
	IsOnline     bool      `gorm:"not null;default:false" json:"is_online"`
	LastSeen     time.Time `json:"last_seen"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (u *User) BeforeCreate(*gorm.DB) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	return nil
}

// DisplayName is what other users see next to typing and message events.
func (u User) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.Username
}

type Conversation struct {
	ID            string                    `gorm:"primaryKey;size:36" json:"id"`
	Name          string                    `gorm:"size:128" json:"name"`
	IsGroup       bool                      `gorm:"not null;default:false" json:"is_group"`
	CreatedBy     string                    `gorm:"size:36;not null" json:"created_by"`
	Participants  []ConversationParticipant `gorm:"foreignKey:ConversationID;constraint:OnDelete:CASCADE" json:"-"`
	LastMessageAt *time.Time                `gorm:"index" json:"last_message_at"`
	CreatedAt     time.Time                 `json:"created_at"`
	UpdatedAt     time.Time                 `json:"updated_at"`
}

func (c *Conversation) BeforeCreate(*gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}

// ParticipantIDs returns the participant user ids in join order.
func (c Conversation) ParticipantIDs() []string {
	out := make([]string, 0, len(c.Participants))
	for _, p := range c.Participants {
		out = append(out, p.UserID)
	}
	return out
}

func (c Conversation) HasParticipant(userID string) bool {
	for _, p := range c.Participants {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

type ConversationParticipant struct {
	ConversationID string    `gorm:"primaryKey;size:36"`
	UserID         string    `gorm:"primaryKey;size:36;index"`
	JoinedAt       time.Time `gorm:"autoCreateTime"`
}

type Message struct {
	ID             string        `gorm:"primaryKey;size:36" json:"id"`
	ConversationID string        `gorm:"size:36;index:idx_msg_conversation;not null" json:"conversation_id"`
	SenderID       string        `gorm:"size:36;index;not null" json:"sender_id"`
	Content        string        `gorm:"type:text;not null" json:"content"`
	ReplyToID      *string       `gorm:"size:36" json:"reply_to_id,omitempty"`
	EditedAt       *time.Time    `json:"edited_at,omitempty"`
	IsDeleted      bool          `gorm:"not null;default:false" json:"is_deleted"`
	ReadBy         []MessageRead `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	Reactions      []Reaction    `gorm:"foreignKey:MessageID;constraint:OnDelete:CASCADE" json:"-"`
	CreatedAt      time.Time     `gorm:"index:idx_msg_conversation" json:"created_at"`
}

func (m *Message) BeforeCreate(*gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// ReadByUser reports whether userID is in the message's read marker set.
func (m Message) ReadByUser(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

func (m Message) ReaderIDs() []string {
	out := make([]string, 0, len(m.ReadBy))
	for _, r := range m.ReadBy {
		out = append(out, r.UserID)
	}
	return out
}

type MessageRead struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	UserID    string    `gorm:"primaryKey;size:36;index"`
	ReadAt    time.Time `gorm:"autoCreateTime"`
}

type Reaction struct {
	MessageID string    `gorm:"primaryKey;size:36"`
	Emoji     string    `gorm:"primaryKey;size:32"`
	UserID    string    `gorm:"primaryKey;size:36"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// ReactionGroup is the canonical outward shape of a message's reactions.
type ReactionGroup struct {
	Emoji   string   `json:"emoji"`
	UserIDs []string `json:"user_ids"`
}

// GroupReactions folds reaction rows into one group per emoji, keeping the
// order in which each emoji was first used.
func GroupReactions(rs []Reaction) []ReactionGroup {
	out := make([]ReactionGroup, 0)
	idx := make(map[string]int)
	for _, r := range rs {
		i, ok := idx[r.Emoji]
		if !ok {
			i = len(out)
			idx[r.Emoji] = i
			out = append(out, ReactionGroup{Emoji: r.Emoji})
		}
		out[i].UserIDs = append(out[i].UserIDs, r.UserID)
	}
	return out
}

type TypingIndicator struct {
	ID             string    `gorm:"primaryKey;size:36"`
	ConversationID string    `gorm:"size:36;not null;uniqueIndex:idx_typing_conversation_user"`
	UserID         string    `gorm:"size:36;not null;uniqueIndex:idx_typing_conversation_user"`
	Timestamp      time.Time `gorm:"index;not null"`
}

func (t *TypingIndicator) BeforeCreate(*gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

type RefreshToken struct {
	ID        uint      `gorm:"primaryKey"`
	UserID    string    `gorm:"size:36;index;not null"`
	Token     string    `gorm:"uniqueIndex;size:128;not null"`
	ExpiresAt time.Time `gorm:"index;not null"`
	RevokedAt *time.Time
	CreatedAt time.Time
}
