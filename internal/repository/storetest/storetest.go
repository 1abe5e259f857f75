// Package storetest holds behaviour checks shared by every storage backend.
// Backend packages call these from their own tests.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository"
	"github.com/sanaka-srujana/tars-chat/internal/service"
)

// base is millisecond aligned so every backend stores it exactly.
var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// TypingStore exercises a service.TypingStore. It only touches rows of
// conversations it creates, plus rows older than the year 2001.
func TypingStore(t *testing.T, s service.TypingStore) {
	ctx := context.Background()
	conv := uuid.NewString()
	alice, bob := uuid.NewString(), uuid.NewString()

	t.Run("find missing", func(t *testing.T) {
		if _, err := s.FindTyping(ctx, conv, alice); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("FindTyping = %v, want ErrNotFound", err)
		}
		rows, err := s.ListTyping(ctx, conv)
		if err != nil || len(rows) != 0 {
			t.Fatalf("ListTyping on empty conversation = %v, %v", rows, err)
		}
	})

	t.Run("insert upserts per pair", func(t *testing.T) {
		first := &models.TypingIndicator{ConversationID: conv, UserID: alice, Timestamp: base}
		if err := s.InsertTyping(ctx, first); err != nil {
			t.Fatalf("InsertTyping: %v", err)
		}
		if first.ID == "" {
			t.Fatal("InsertTyping did not assign an id")
		}
		again := &models.TypingIndicator{ConversationID: conv, UserID: alice, Timestamp: base.Add(time.Second)}
		if err := s.InsertTyping(ctx, again); err != nil {
			t.Fatalf("second InsertTyping: %v", err)
		}
		rows, _ := s.ListTyping(ctx, conv)
		if len(rows) != 1 || !rows[0].Timestamp.Equal(base.Add(time.Second)) {
			t.Fatalf("rows after upsert = %+v", rows)
		}
	})

	t.Run("touch and delete", func(t *testing.T) {
		got, err := s.FindTyping(ctx, conv, alice)
		if err != nil {
			t.Fatalf("FindTyping: %v", err)
		}
		if err := s.TouchTyping(ctx, got.ID, base.Add(2*time.Second)); err != nil {
			t.Fatalf("TouchTyping: %v", err)
		}
		got, _ = s.FindTyping(ctx, conv, alice)
		if !got.Timestamp.Equal(base.Add(2 * time.Second)) {
			t.Fatalf("timestamp after touch = %v", got.Timestamp)
		}
		if err := s.DeleteTyping(ctx, got.ID); err != nil {
			t.Fatalf("DeleteTyping: %v", err)
		}
		if err := s.DeleteTyping(ctx, got.ID); err != nil {
			t.Fatalf("DeleteTyping twice: %v", err)
		}
		if _, err := s.FindTyping(ctx, conv, alice); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("FindTyping after delete = %v", err)
		}
	})

	t.Run("delete before cutoff", func(t *testing.T) {
		ancient := time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)
		_ = s.InsertTyping(ctx, &models.TypingIndicator{ConversationID: conv, UserID: alice, Timestamp: ancient})
		_ = s.InsertTyping(ctx, &models.TypingIndicator{ConversationID: conv, UserID: bob, Timestamp: base})
		n, err := s.DeleteTypingBefore(ctx, time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC))
		if err != nil {
			t.Fatalf("DeleteTypingBefore: %v", err)
		}
		if n < 1 {
			t.Fatalf("DeleteTypingBefore = %d, want at least 1", n)
		}
		rows, _ := s.ListTyping(ctx, conv)
		if len(rows) != 1 || rows[0].UserID != bob {
			t.Fatalf("rows after sweep = %+v, want only bob", rows)
		}
	})

	t.Run("concurrent inserts keep one row per pair", func(t *testing.T) {
		fresh := uuid.NewString()
		users := []string{alice, bob}
		var wg sync.WaitGroup
		for i := 0; i < 10; i++ {
			for _, u := range users {
				wg.Add(1)
				go func(u string, i int) {
					defer wg.Done()
					ti := &models.TypingIndicator{ConversationID: fresh, UserID: u, Timestamp: base.Add(time.Duration(i) * time.Millisecond)}
					if err := s.InsertTyping(ctx, ti); err != nil {
						t.Errorf("InsertTyping: %v", err)
					}
				}(u, i)
			}
		}
		wg.Wait()
		rows, err := s.ListTyping(ctx, fresh)
		if err != nil {
			t.Fatalf("ListTyping: %v", err)
		}
		if len(rows) != len(users) {
			t.Fatalf("rows = %+v, want one per user", rows)
		}
		for _, u := range users {
			if _, err := s.FindTyping(ctx, fresh, u); err != nil {
				t.Errorf("FindTyping(%s): %v", u, err)
			}
		}
	})
}

// MessageStore exercises a service.MessageStore inside a fresh conversation id.
func MessageStore(t *testing.T, s service.MessageStore) {
	ctx := context.Background()
	conv := uuid.NewString()
	alice, bob := uuid.NewString(), uuid.NewString()

	var ids []string
	for i := 0; i < 3; i++ {
		at := base.Add(time.Duration(i) * time.Minute)
		m := &models.Message{
			ConversationID: conv,
			SenderID:       alice,
			Content:        string(rune('a' + i)),
			ReadBy:         []models.MessageRead{{UserID: alice, ReadAt: at}},
			CreatedAt:      at,
		}
		if err := s.CreateMessage(ctx, m); err != nil {
			t.Fatalf("CreateMessage: %v", err)
		}
		ids = append(ids, m.ID)
	}

	t.Run("get", func(t *testing.T) {
		m, err := s.GetMessage(ctx, ids[0])
		if err != nil {
			t.Fatalf("GetMessage: %v", err)
		}
		if m.Content != "a" || !m.ReadByUser(alice) || m.ReadByUser(bob) {
			t.Fatalf("GetMessage = %+v", m)
		}
		if _, err := s.GetMessage(ctx, uuid.NewString()); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("GetMessage missing = %v", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		page, err := s.ListMessages(ctx, conv, 2, time.Time{})
		if err != nil {
			t.Fatalf("ListMessages: %v", err)
		}
		if len(page) != 2 || page[0].ID != ids[1] || page[1].ID != ids[2] {
			t.Fatalf("latest page = %+v", page)
		}
		older, _ := s.ListMessages(ctx, conv, 10, base.Add(time.Minute))
		if len(older) != 1 || older[0].ID != ids[0] {
			t.Fatalf("older page = %+v", older)
		}
		all, _ := s.ListConversationMessages(ctx, conv)
		if len(all) != 3 {
			t.Fatalf("ListConversationMessages = %d messages", len(all))
		}
	})

	t.Run("mark read", func(t *testing.T) {
		n, err := s.MarkConversationRead(ctx, conv, bob, base.Add(time.Hour))
		if err != nil || n != 3 {
			t.Fatalf("MarkConversationRead = %d, %v; want 3", n, err)
		}
		n, err = s.MarkConversationRead(ctx, conv, bob, base.Add(2*time.Hour))
		if err != nil || n != 0 {
			t.Fatalf("second MarkConversationRead = %d, %v; want 0", n, err)
		}
		n, _ = s.MarkConversationRead(ctx, conv, alice, base.Add(time.Hour))
		if n != 0 {
			t.Fatalf("sender MarkConversationRead = %d, want 0", n)
		}
		all, _ := s.ListConversationMessages(ctx, conv)
		for _, m := range all {
			if !m.ReadByUser(bob) || len(m.ReadBy) != 2 {
				t.Fatalf("readBy of %s = %v", m.ID, m.ReaderIDs())
			}
		}
	})

	t.Run("concurrent mark read converges", func(t *testing.T) {
		fresh := uuid.NewString()
		carol := uuid.NewString()
		for i := 0; i < 3; i++ {
			m := &models.Message{
				ConversationID: fresh,
				SenderID:       alice,
				Content:        "m",
				ReadBy:         []models.MessageRead{{UserID: alice, ReadAt: base}},
				CreatedAt:      base.Add(time.Duration(i) * time.Second),
			}
			if err := s.CreateMessage(ctx, m); err != nil {
				t.Fatalf("CreateMessage: %v", err)
			}
		}
		var (
			wg    sync.WaitGroup
			mu    sync.Mutex
			total int64
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				n, err := s.MarkConversationRead(ctx, fresh, carol, base.Add(time.Hour))
				if err != nil {
					t.Errorf("MarkConversationRead: %v", err)
					return
				}
				mu.Lock()
				total += n
				mu.Unlock()
			}()
		}
		wg.Wait()
		if total != 3 {
			t.Errorf("messages marked across calls = %d, want 3", total)
		}
		all, _ := s.ListConversationMessages(ctx, fresh)
		for _, m := range all {
			seen := 0
			for _, r := range m.ReaderIDs() {
				if r == carol {
					seen++
				}
			}
			if seen != 1 || len(m.ReadBy) != 2 {
				t.Errorf("readBy of %s = %v, want alice and carol once", m.ID, m.ReaderIDs())
			}
		}
	})

	t.Run("edit and delete", func(t *testing.T) {
		if err := s.UpdateMessageContent(ctx, ids[0], "edited", base.Add(time.Hour)); err != nil {
			t.Fatalf("UpdateMessageContent: %v", err)
		}
		if err := s.SoftDeleteMessage(ctx, ids[1]); err != nil {
			t.Fatalf("SoftDeleteMessage: %v", err)
		}
		m, _ := s.GetMessage(ctx, ids[0])
		if m.Content != "edited" || m.EditedAt == nil {
			t.Fatalf("after edit = %+v", m)
		}
		m, _ = s.GetMessage(ctx, ids[1])
		if !m.IsDeleted {
			t.Fatal("message not soft-deleted")
		}
		missing := uuid.NewString()
		if err := s.UpdateMessageContent(ctx, missing, "x", base); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("edit missing = %v", err)
		}
		if err := s.SoftDeleteMessage(ctx, missing); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("delete missing = %v", err)
		}
	})

	t.Run("toggle reaction", func(t *testing.T) {
		id := ids[2]
		steps := []struct {
			user  string
			emoji string
			added bool
		}{
			{bob, "👍", true},
			{alice, "👍", true},
			{alice, "🎉", true},
			{bob, "👍", false},
		}
		for i, st := range steps {
			added, err := s.ToggleReaction(ctx, id, st.user, st.emoji)
			if err != nil || added != st.added {
				t.Fatalf("step %d: ToggleReaction = %v, %v; want %v", i, added, err, st.added)
			}
		}
		m, _ := s.GetMessage(ctx, id)
		groups := models.GroupReactions(m.Reactions)
		counts := map[string][]string{}
		for _, g := range groups {
			counts[g.Emoji] = g.UserIDs
		}
		if len(counts) != 2 || len(counts["👍"]) != 1 || counts["👍"][0] != alice || len(counts["🎉"]) != 1 {
			t.Fatalf("reactions = %+v", groups)
		}
		if _, err := s.ToggleReaction(ctx, uuid.NewString(), bob, "👍"); !errors.Is(err, repository.ErrNotFound) {
			t.Fatalf("reaction on missing message = %v", err)
		}
	})
}
