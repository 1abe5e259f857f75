package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/sanaka-srujana/tars-chat/internal/metrics"
	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
)

// TypingExpiry is how long a typing indicator stays visible after its last
// refresh.
const TypingExpiry = 2000 * time.Millisecond

const defaultTypingFanout = 8

// TypingUser is one entry of a conversation's "is typing" list.
type TypingUser struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// TypingService owns the ephemeral typing state. Nothing expires in the
// background by default: every read deletes the stale rows it encounters
// before answering.
type TypingService struct {
	typing TypingStore
	users  UserStore
	convs  ConversationStore
	now    Clock
	fanout int
}

func NewTypingService(typing TypingStore, users UserStore, convs ConversationStore) *TypingService {
	return &TypingService{typing: typing, users: users, convs: convs, now: time.Now, fanout: defaultTypingFanout}
}

// SetClock replaces the time source.
func (s *TypingService) SetClock(c Clock) { s.now = c }

// SetTyping starts, refreshes or stops the indicator of userID in
// conversationID. Repeating the same call is harmless.
func (s *TypingService) SetTyping(ctx context.Context, conversationID, userID string, isTyping bool) error {
	existing, err := s.typing.FindTyping(ctx, conversationID, userID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("find typing indicator: %w", err)
	}

	if !isTyping {
		if existing == nil {
			return nil
		}
		if err := s.typing.DeleteTyping(ctx, existing.ID); err != nil {
			return err
		}
		metrics.TypingUpdatesTotal.WithLabelValues("stop").Inc()
		return nil
	}

	now := s.now()
	if existing != nil {
		err := s.typing.TouchTyping(ctx, existing.ID, now)
		if err == nil {
			metrics.TypingUpdatesTotal.WithLabelValues("refresh").Inc()
			return nil
		}
		// A concurrent reader expired the row between find and touch.
		if !errors.Is(err, repository.ErrNotFound) {
			return fmt.Errorf("refresh typing indicator: %w", err)
		}
	}
	t := &models.TypingIndicator{ConversationID: conversationID, UserID: userID, Timestamp: now}
	if err := s.typing.InsertTyping(ctx, t); err != nil {
		return err
	}
	metrics.TypingUpdatesTotal.WithLabelValues("start").Inc()
	return nil
}

// TypingUsers returns who is typing in conversationID. Stale indicators are
// deleted as part of the call and users that no longer exist are skipped.
func (s *TypingService) TypingUsers(ctx context.Context, conversationID string) ([]TypingUser, error) {
	return s.typingUsersAt(ctx, conversationID, s.now())
}

// AllTypingIndicators answers TypingUsers for every conversation userID is
// part of, keyed by conversation id. Conversations are queried concurrently
// against one shared instant.
func (s *TypingService) AllTypingIndicators(ctx context.Context, userID string) (map[string][]TypingUser, error) {
	ids, err := s.convs.ListConversationIDsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	now := s.now()

	var mu sync.Mutex
	out := make(map[string][]TypingUser, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.fanout)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			users, err := s.typingUsersAt(gctx, id, now)
			if err != nil {
				return err
			}
			mu.Lock()
			out[id] = users
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *TypingService) typingUsersAt(ctx context.Context, conversationID string, now time.Time) ([]TypingUser, error) {
	rows, err := s.typing.ListTyping(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	fresh := make([]models.TypingIndicator, 0, len(rows))
	for _, t := range rows {
		if now.Sub(t.Timestamp) > TypingExpiry {
			if err := s.typing.DeleteTyping(ctx, t.ID); err != nil {
				return nil, fmt.Errorf("expire typing indicator: %w", err)
			}
			metrics.TypingExpiredTotal.WithLabelValues("read").Inc()
			continue
		}
		fresh = append(fresh, t)
	}

	out := make([]TypingUser, 0, len(fresh))
	if len(fresh) == 0 {
		return out, nil
	}
	ids := make([]string, 0, len(fresh))
	for _, t := range fresh {
		ids = append(ids, t.UserID)
	}
	users, err := s.users.GetUsersByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("resolve typing users: %w", err)
	}
	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	for _, t := range fresh {
		u, ok := byID[t.UserID]
		if !ok {
			continue
		}
		out = append(out, TypingUser{ID: u.ID, Name: u.DisplayName()})
	}
	return out, nil
}

// SweepExpired deletes every indicator older than the expiry window across
// all conversations. Reads stay correct without it.
func (s *TypingService) SweepExpired(ctx context.Context) (int64, error) {
	n, err := s.typing.DeleteTypingBefore(ctx, s.now().Add(-TypingExpiry))
	if err != nil {
		return 0, err
	}
	metrics.TypingExpiredTotal.WithLabelValues("sweep").Add(float64(n))
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *TypingService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("sweep typing indicators")
				continue
			}
			if n > 0 {
				log.Debug().Int64("deleted", n).Msg("sweep typing indicators")
			}
		}
	}
}
