package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

const messageCollection = "messages"

type reactionDoc struct {
	Emoji   string   `bson:"emoji"`
	UserIDs []string `bson:"user_ids"`
}

type messageDoc struct {
	ID             string        `bson:"_id"`
	ConversationID string        `bson:"conversation_id"`
	SenderID       string        `bson:"sender_id"`
	Content        string        `bson:"content"`
	ReplyToID      *string       `bson:"reply_to_id,omitempty"`
	EditedAt       *time.Time    `bson:"edited_at,omitempty"`
	IsDeleted      bool          `bson:"is_deleted"`
	ReadBy         []string      `bson:"read_by"`
	Reactions      []reactionDoc `bson:"reactions"`
	Timestamp      time.Time     `bson:"timestamp"`
}

func toDoc(m *models.Message) messageDoc {
	d := messageDoc{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		SenderID:       m.SenderID,
		Content:        m.Content,
		ReplyToID:      m.ReplyToID,
		EditedAt:       m.EditedAt,
		IsDeleted:      m.IsDeleted,
		ReadBy:         m.ReaderIDs(),
		Reactions:      []reactionDoc{},
		Timestamp:      m.CreatedAt,
	}
	for _, g := range models.GroupReactions(m.Reactions) {
		d.Reactions = append(d.Reactions, reactionDoc{Emoji: g.Emoji, UserIDs: g.UserIDs})
	}
	return d
}

func (d messageDoc) toModel() models.Message {
	m := models.Message{
		ID:             d.ID,
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Content:        d.Content,
		ReplyToID:      d.ReplyToID,
		EditedAt:       d.EditedAt,
		IsDeleted:      d.IsDeleted,
		CreatedAt:      d.Timestamp,
	}
	for _, uid := range d.ReadBy {
		m.ReadBy = append(m.ReadBy, models.MessageRead{MessageID: d.ID, UserID: uid})
	}
	for _, r := range d.Reactions {
		for _, uid := range r.UserIDs {
			m.Reactions = append(m.Reactions, models.Reaction{MessageID: d.ID, Emoji: r.Emoji, UserID: uid})
		}
	}
	return m
}

// MessageRepository implements service.MessageStore.
type MessageRepository struct {
	DB *mongo.Database
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{DB: db}
}

func (r *MessageRepository) coll() *mongo.Collection {
	return r.DB.Collection(messageCollection)
}

func (r *MessageRepository) CreateMessage(ctx context.Context, m *models.Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now()
	}
	for i := range m.ReadBy {
		m.ReadBy[i].MessageID = m.ID
	}
	if _, err := r.coll().InsertOne(ctx, toDoc(m)); err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	var d messageDoc
	if err := r.coll().FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, repository.ErrNotFound
		}
		return nil, fmt.Errorf("find message: %w", err)
	}
	m := d.toModel()
	return &m, nil
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.Message, error) {
	cursor, err := r.coll().Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}
	out := make([]models.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toModel())
	}
	return out, nil
}

func (r *MessageRepository) ListMessages(ctx context.Context, conversationID string, limit int, before time.Time) ([]models.Message, error) {
	filter := bson.M{"conversation_id": conversationID}
	if !before.IsZero() {
		filter["timestamp"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: -1}}).SetLimit(int64(limit))
	msgs, err := r.find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (r *MessageRepository) ListConversationMessages(ctx context.Context, conversationID string) ([]models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}})
	return r.find(ctx, bson.M{"conversation_id": conversationID}, opts)
}

func (r *MessageRepository) updateOne(ctx context.Context, id string, update bson.M) error {
	res, err := r.coll().UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update message: %w", err)
	}
	if res.MatchedCount == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (r *MessageRepository) UpdateMessageContent(ctx context.Context, id, content string, editedAt time.Time) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{"content": content, "edited_at": editedAt}})
}

func (r *MessageRepository) SoftDeleteMessage(ctx context.Context, id string) error {
	return r.updateOne(ctx, id, bson.M{"$set": bson.M{"is_deleted": true}})
}

// ToggleReaction works on the embedded reactions list with positional
// updates, so each step is atomic on the single document.
func (r *MessageRepository) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	coll := r.coll()

	res, err := coll.UpdateOne(ctx,
		bson.M{"_id": messageID, "reactions": bson.M{"$elemMatch": bson.M{"emoji": emoji, "user_ids": userID}}},
		bson.M{"$pull": bson.M{"reactions.$.user_ids": userID}})
	if err != nil {
		return false, fmt.Errorf("remove reaction: %w", err)
	}
	if res.ModifiedCount > 0 {
		_, err := coll.UpdateOne(ctx,
			bson.M{"_id": messageID},
			bson.M{"$pull": bson.M{"reactions": bson.M{"user_ids": bson.M{"$size": 0}}}})
		if err != nil {
			return false, fmt.Errorf("prune reactions: %w", err)
		}
		return false, nil
	}

	for attempt := 0; attempt < 2; attempt++ {
		res, err = coll.UpdateOne(ctx,
			bson.M{"_id": messageID, "reactions.emoji": emoji},
			bson.M{"$addToSet": bson.M{"reactions.$.user_ids": userID}})
		if err != nil {
			return false, fmt.Errorf("add reaction: %w", err)
		}
		if res.MatchedCount > 0 {
			return true, nil
		}
		res, err = coll.UpdateOne(ctx,
			bson.M{"_id": messageID, "reactions.emoji": bson.M{"$ne": emoji}},
			bson.M{"$push": bson.M{"reactions": reactionDoc{Emoji: emoji, UserIDs: []string{userID}}}})
		if err != nil {
			return false, fmt.Errorf("push reaction: %w", err)
		}
		if res.MatchedCount > 0 {
			return true, nil
		}
		// Either the message is gone or another writer created the group
		// between the two updates; the next pass tells them apart.
		n, err := coll.CountDocuments(ctx, bson.M{"_id": messageID})
		if err != nil {
			return false, fmt.Errorf("count message: %w", err)
		}
		if n == 0 {
			return false, repository.ErrNotFound
		}
	}
	return false, fmt.Errorf("add reaction: concurrent update on message %s", messageID)
}

// MarkConversationRead is a set union on read_by, so concurrent calls from
// several devices converge.
func (r *MessageRepository) MarkConversationRead(ctx context.Context, conversationID, userID string, _ time.Time) (int64, error) {
	res, err := r.coll().UpdateMany(ctx,
		bson.M{"conversation_id": conversationID, "read_by": bson.M{"$ne": userID}},
		bson.M{"$addToSet": bson.M{"read_by": userID}})
	if err != nil {
		return 0, fmt.Errorf("mark conversation read: %w", err)
	}
	return res.ModifiedCount, nil
}
