package service

import (
	"context"
	"sync"
	"testing"

	"github.com/sanaka-srujana/tars-chat/internal/models"
)

func TestUnread_MarkAsRead(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)

	if _, err := e.msgs.Send(ctx, conv, a, "hi", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := e.unread.UnreadCount(ctx, b, conv); n != 1 {
		t.Fatalf("bob unread = %d, want 1", n)
	}
	if n, _ := e.unread.UnreadCount(ctx, a, conv); n != 0 {
		t.Fatalf("alice unread = %d, want 0 (own message)", n)
	}

	marked, err := e.unread.MarkAsRead(ctx, conv, b)
	if err != nil {
		t.Fatalf("MarkAsRead: %v", err)
	}
	if marked != 1 {
		t.Errorf("marked = %d, want 1", marked)
	}
	if n, _ := e.unread.UnreadCount(ctx, b, conv); n != 0 {
		t.Fatalf("bob unread after read = %d, want 0", n)
	}

	// a second call changes nothing
	marked, err = e.unread.MarkAsRead(ctx, conv, b)
	if err != nil || marked != 0 {
		t.Fatalf("second MarkAsRead = %d, %v; want 0, nil", marked, err)
	}
	msgs, _ := e.store.ListConversationMessages(ctx, conv)
	if readers := msgs[0].ReaderIDs(); len(readers) != 2 {
		t.Fatalf("readBy = %v, want sender and bob once each", readers)
	}
}

func TestUnread_CountsOnlyUnreadMessages(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	conv := e.conversation(t, a, b, c)

	for _, from := range []string{a, b, a} {
		if _, err := e.msgs.Send(ctx, conv, from, "msg", nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	tests := []struct {
		user string
		want int
	}{
		{a, 1},
		{b, 2},
		{c, 3},
	}
	for _, tt := range tests {
		if n, _ := e.unread.UnreadCount(ctx, tt.user, conv); n != tt.want {
			t.Errorf("UnreadCount(%s) = %d, want %d", tt.user, n, tt.want)
		}
	}

	_, _ = e.unread.MarkAsRead(ctx, conv, c)
	if _, err := e.msgs.Send(ctx, conv, a, "later", nil); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if n, _ := e.unread.UnreadCount(ctx, c, conv); n != 1 {
		t.Errorf("carol unread after new message = %d, want 1", n)
	}
}

func TestUnread_EmptyAndUnknownConversation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)

	if n, err := e.unread.UnreadCount(ctx, a, conv); err != nil || n != 0 {
		t.Fatalf("empty conversation: %d, %v", n, err)
	}
	if n, err := e.unread.MarkAsRead(ctx, "nope", a); err != nil || n != 0 {
		t.Fatalf("MarkAsRead on unknown conversation: %d, %v", n, err)
	}
}

func TestUnread_DeletedMessagesStillCount(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	m, _ := e.msgs.Send(ctx, conv, a, "oops", nil)
	if _, err := e.msgs.Delete(ctx, m.ID, a); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if n, _ := e.unread.UnreadCount(ctx, b, conv); n != 1 {
		t.Fatalf("bob unread = %d, want 1", n)
	}
}

func TestUnreadCounts(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	ab := e.conversation(t, a, b)
	ac := e.conversation(t, a, c)
	_, _ = e.msgs.Send(ctx, ab, b, "one", nil)
	_, _ = e.msgs.Send(ctx, ab, b, "two", nil)

	counts, err := e.unread.UnreadCounts(ctx, a, []string{ab, ac})
	if err != nil {
		t.Fatalf("UnreadCounts: %v", err)
	}
	if counts[ab] != 2 || counts[ac] != 0 || len(counts) != 2 {
		t.Fatalf("UnreadCounts = %v", counts)
	}
}

func TestUnread_ConcurrentMarkAsReadConverges(t *testing.T) {
	tests := []struct {
		name    string
		readBy  [][]string // per message, "a" or "b"
		workers int
	}{
		{"mixed read state", [][]string{{"a"}, {"a", "b"}, {"b"}}, 20},
		{"nothing read", [][]string{{"b"}, {"b"}, {"b"}, {"b"}}, 8},
		{"everything read", [][]string{{"a"}, {"a", "b"}}, 8},
		{"no messages", nil, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			ids := map[string]string{"a": e.user(t, "alice", "Alice"), "b": e.user(t, "bob", "Bob")}
			conv := e.conversation(t, ids["a"], ids["b"])
			for i, readers := range tt.readBy {
				m := &models.Message{ConversationID: conv, SenderID: ids[readers[0]], Content: "m", CreatedAt: e.clock.Now()}
				for _, r := range readers {
					m.ReadBy = append(m.ReadBy, models.MessageRead{UserID: ids[r]})
				}
				if err := e.store.CreateMessage(ctx, m); err != nil {
					t.Fatalf("create message %d: %v", i, err)
				}
			}
			before, _ := e.unread.UnreadCount(ctx, ids["a"], conv)

			var (
				wg     sync.WaitGroup
				mu     sync.Mutex
				marked int64
			)
			for i := 0; i < tt.workers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					n, err := e.unread.MarkAsRead(ctx, conv, ids["a"])
					if err != nil {
						t.Errorf("MarkAsRead: %v", err)
						return
					}
					mu.Lock()
					marked += n
					mu.Unlock()
				}()
			}
			wg.Wait()

			if marked != int64(before) {
				t.Errorf("messages marked across calls = %d, want %d", marked, before)
			}
			if n, _ := e.unread.UnreadCount(ctx, ids["a"], conv); n != 0 {
				t.Errorf("unread after concurrent MarkAsRead = %d, want 0", n)
			}
			msgs, _ := e.store.ListConversationMessages(ctx, conv)
			for _, m := range msgs {
				seen := 0
				for _, r := range m.ReaderIDs() {
					if r == ids["a"] {
						seen++
					}
				}
				if seen != 1 {
					t.Errorf("message %s has reader %s %d times, readBy = %v", m.ID, ids["a"], seen, m.ReaderIDs())
				}
			}
		})
	}
}
