// Package valkey stores typing indicators in Valkey, one hash per
// conversation mapping user id to the last activity in unix milliseconds.
package valkey

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

const (
	keyPrefix = "typing:"
	idSep     = "|"
)

// TypingStore implements service.TypingStore. Indicator ids are
// "<conversationID>|<userID>", which is also the hash key and field.
type TypingStore struct {
	client valkey.Client
	// keyTTL bounds how long an idle conversation hash survives when no
	// reader ever comes back to expire its fields.
	keyTTL time.Duration
}

func NewClient(addr string) (valkey.Client, error) {
	client, err := valkey.NewClient(valkey.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to valkey: %w", err)
	}
	return client, nil
}

func NewTypingStore(client valkey.Client, keyTTL time.Duration) *TypingStore {
	if keyTTL <= 0 {
		keyTTL = time.Minute
	}
	return &TypingStore{client: client, keyTTL: keyTTL}
}

func hashKey(conversationID string) string { return keyPrefix + conversationID }

func indicatorID(conversationID, userID string) string {
	return conversationID + idSep + userID
}

func splitID(id string) (conversationID, userID string, ok bool) {
	return strings.Cut(id, idSep)
}

func (s *TypingStore) FindTyping(ctx context.Context, conversationID, userID string) (*models.TypingIndicator, error) {
	c := s.client
	ms, err := c.Do(ctx, c.B().Hget().Key(hashKey(conversationID)).Field(userID).Build()).AsInt64()
	if valkey.IsValkeyNil(err) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("hget typing: %w", err)
	}
	return &models.TypingIndicator{
		ID:             indicatorID(conversationID, userID),
		ConversationID: conversationID,
		UserID:         userID,
		Timestamp:      time.UnixMilli(ms),
	}, nil
}

func (s *TypingStore) write(ctx context.Context, conversationID, userID string, ts time.Time) error {
	c := s.client
	key := hashKey(conversationID)
	for _, resp := range c.DoMulti(ctx,
		c.B().Hset().Key(key).FieldValue().FieldValue(userID, strconv.FormatInt(ts.UnixMilli(), 10)).Build(),
		c.B().Pexpire().Key(key).Milliseconds(s.keyTTL.Milliseconds()).Build(),
	) {
		if err := resp.Error(); err != nil {
			return fmt.Errorf("write typing: %w", err)
		}
	}
	return nil
}

func (s *TypingStore) InsertTyping(ctx context.Context, t *models.TypingIndicator) error {
	t.ID = indicatorID(t.ConversationID, t.UserID)
	return s.write(ctx, t.ConversationID, t.UserID, t.Timestamp)
}

func (s *TypingStore) TouchTyping(ctx context.Context, id string, ts time.Time) error {
	conversationID, userID, ok := splitID(id)
	if !ok {
		return repository.ErrNotFound
	}
	return s.write(ctx, conversationID, userID, ts)
}

func (s *TypingStore) DeleteTyping(ctx context.Context, id string) error {
	conversationID, userID, ok := splitID(id)
	if !ok {
		return nil
	}
	c := s.client
	if err := c.Do(ctx, c.B().Hdel().Key(hashKey(conversationID)).Field(userID).Build()).Error(); err != nil {
		return fmt.Errorf("hdel typing: %w", err)
	}
	return nil
}

func (s *TypingStore) ListTyping(ctx context.Context, conversationID string) ([]models.TypingIndicator, error) {
	c := s.client
	fields, err := c.Do(ctx, c.B().Hgetall().Key(hashKey(conversationID)).Build()).AsStrMap()
	if err != nil && !valkey.IsValkeyNil(err) {
		return nil, fmt.Errorf("hgetall typing: %w", err)
	}
	out := make([]models.TypingIndicator, 0, len(fields))
	for userID, raw := range fields {
		ms, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// Unparseable rows count as infinitely old so readers expire them.
			ms = 0
		}
		out = append(out, models.TypingIndicator{
			ID:             indicatorID(conversationID, userID),
			ConversationID: conversationID,
			UserID:         userID,
			Timestamp:      time.UnixMilli(ms),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].UserID < out[j].UserID
	})
	return out, nil
}

func (s *TypingStore) DeleteTypingBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	c := s.client
	var (
		cursor  uint64
		deleted int64
	)
	for {
		entry, err := c.Do(ctx, c.B().Scan().Cursor(cursor).Match(keyPrefix+"*").Count(100).Build()).AsScanEntry()
		if err != nil {
			return deleted, fmt.Errorf("scan typing keys: %w", err)
		}
		for _, key := range entry.Elements {
			rows, err := s.ListTyping(ctx, strings.TrimPrefix(key, keyPrefix))
			if err != nil {
				return deleted, err
			}
			var stale []string
			for _, r := range rows {
				if r.Timestamp.Before(cutoff) {
					stale = append(stale, r.UserID)
				}
			}
			if len(stale) == 0 {
				continue
			}
			n, err := c.Do(ctx, c.B().Hdel().Key(key).Field(stale...).Build()).AsInt64()
			if err != nil {
				return deleted, fmt.Errorf("hdel stale typing: %w", err)
			}
			deleted += n
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return deleted, nil
		}
	}
}
