package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/sanaka-srujana/tars-chat/internal/config"
	"github.com/sanaka-srujana/tars-chat/internal/models"
	"github.com/sanaka-srujana/tars-chat/internal/repository/memory"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type env struct {
	store  *memory.Store
	clock  *fakeClock
	users  *UserService
	convs  *ConversationService
	typing *TypingService
	unread *UnreadService
	msgs   *MessageService
}

func newEnv(t *testing.T) *env {
	t.Helper()
	store := memory.NewStore()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	e := &env{store: store, clock: clock}
	e.users = NewUserService(store, config.Config{JWTSecret: "test", AccessTokenTTLMinutes: 5, RefreshTokenTTLDays: 1})
	e.unread = NewUnreadService(store)
	e.convs = NewConversationService(store, store, e.unread)
	e.typing = NewTypingService(store, store, store)
	e.msgs = NewMessageService(store, store, store, e.convs, e.typing)
	e.users.SetClock(clock.Now)
	e.unread.SetClock(clock.Now)
	e.typing.SetClock(clock.Now)
	e.msgs.SetClock(clock.Now)
	return e
}

// user creates a user directly in the store; password hashing is not under
// test here.
func (e *env) user(t *testing.T, username, name string) string {
	t.Helper()
	u := models.User{Username: username, Name: name, PasswordHash: "x"}
	if err := e.store.CreateUser(context.Background(), &u); err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return u.ID
}

func (e *env) conversation(t *testing.T, creator string, others ...string) string {
	t.Helper()
	name := ""
	if len(others) > 1 {
		name = "group"
	}
	c, err := e.convs.Create(context.Background(), creator, others, name)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c.ID
}

func names(users []TypingUser) []string {
	out := make([]string, 0, len(users))
	for _, u := range users {
		out = append(out, u.Name)
	}
	return out
}

func TestSetTyping_UpsertKeepsOneRow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)

	if err := e.typing.SetTyping(ctx, conv, a, true); err != nil {
		t.Fatalf("SetTyping: %v", err)
	}
	first, _ := e.store.FindTyping(ctx, conv, a)
	e.clock.Advance(500 * time.Millisecond)
	if err := e.typing.SetTyping(ctx, conv, a, true); err != nil {
		t.Fatalf("SetTyping again: %v", err)
	}
	if n := e.store.TypingCount(); n != 1 {
		t.Fatalf("rows = %d, want 1", n)
	}
	second, _ := e.store.FindTyping(ctx, conv, a)
	if second.ID != first.ID {
		t.Errorf("indicator id changed from %s to %s", first.ID, second.ID)
	}
	if !second.Timestamp.After(first.Timestamp) {
		t.Errorf("timestamp not refreshed: %v then %v", first.Timestamp, second.Timestamp)
	}
}

func TestSetTyping_ConcurrentUpsertKeepsOneRowPerUser(t *testing.T) {
	tests := []struct {
		name    string
		typists int
		workers int
	}{
		{"one user", 1, 20},
		{"two users", 2, 10},
		{"three users", 3, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			owner := e.user(t, "owner", "Owner")
			var users []string
			for i := 0; i < tt.typists; i++ {
				users = append(users, e.user(t, fmt.Sprintf("typist%d", i), ""))
			}
			conv := e.conversation(t, owner, users...)

			var wg sync.WaitGroup
			for _, u := range users {
				for i := 0; i < tt.workers; i++ {
					wg.Add(1)
					go func(u string) {
						defer wg.Done()
						if err := e.typing.SetTyping(ctx, conv, u, true); err != nil {
							t.Errorf("SetTyping: %v", err)
						}
					}(u)
				}
			}
			wg.Wait()

			if n := e.store.TypingCount(); n != tt.typists {
				t.Fatalf("rows = %d, want %d", n, tt.typists)
			}
			got, err := e.typing.TypingUsers(ctx, conv)
			if err != nil {
				t.Fatalf("TypingUsers: %v", err)
			}
			if len(got) != tt.typists {
				t.Errorf("TypingUsers = %v, want %d entries", names(got), tt.typists)
			}
		})
	}
}

func TestSetTyping_StopRemovesRow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)

	// stopping without an indicator is a no-op
	if err := e.typing.SetTyping(ctx, conv, a, false); err != nil {
		t.Fatalf("SetTyping(false) with no row: %v", err)
	}
	_ = e.typing.SetTyping(ctx, conv, a, true)
	if err := e.typing.SetTyping(ctx, conv, a, false); err != nil {
		t.Fatalf("SetTyping(false): %v", err)
	}
	if n := e.store.TypingCount(); n != 0 {
		t.Fatalf("rows = %d, want 0", n)
	}
	users, _ := e.typing.TypingUsers(ctx, conv)
	if len(users) != 0 {
		t.Fatalf("TypingUsers = %v, want empty", users)
	}
}

func TestTypingUsers_ExpiryBoundary(t *testing.T) {
	tests := []struct {
		name     string
		age      time.Duration
		wantSeen bool
		wantRows int
	}{
		{"fresh", 0, true, 1},
		{"just inside window", 1999 * time.Millisecond, true, 1},
		{"exactly at window", 2000 * time.Millisecond, true, 1},
		{"just past window", 2001 * time.Millisecond, false, 0},
		{"long stale", time.Minute, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newEnv(t)
			ctx := context.Background()
			a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
			conv := e.conversation(t, a, b)
			e.store.PutTyping(conv, a, e.clock.Now().Add(-tt.age))

			users, err := e.typing.TypingUsers(ctx, conv)
			if err != nil {
				t.Fatalf("TypingUsers: %v", err)
			}
			if seen := len(users) == 1; seen != tt.wantSeen {
				t.Errorf("seen = %v, want %v", seen, tt.wantSeen)
			}
			if n := e.store.TypingCount(); n != tt.wantRows {
				t.Errorf("rows after read = %d, want %d", n, tt.wantRows)
			}
		})
	}
}

func TestTypingUsers_MixedAges(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", ""), e.user(t, "carol", "Carol")
	conv := e.conversation(t, a, b, c)
	now := e.clock.Now()
	e.store.PutTyping(conv, a, now.Add(-1000*time.Millisecond))
	e.store.PutTyping(conv, b, now.Add(-500*time.Millisecond))
	e.store.PutTyping(conv, c, now.Add(-2500*time.Millisecond))

	users, err := e.typing.TypingUsers(ctx, conv)
	if err != nil {
		t.Fatalf("TypingUsers: %v", err)
	}
	got := names(users)
	// bob has no display name, so the username stands in
	if len(got) != 2 || got[0] != "Alice" || got[1] != "bob" {
		t.Fatalf("TypingUsers = %v, want [Alice bob]", got)
	}
	if n := e.store.TypingCount(); n != 2 {
		t.Errorf("rows = %d, want 2 (stale row deleted)", n)
	}
}

func TestTypingUsers_SkipsMissingUser(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	_ = e.typing.SetTyping(ctx, conv, a, true)
	_ = e.typing.SetTyping(ctx, conv, b, true)
	e.store.DeleteUser(b)

	users, err := e.typing.TypingUsers(ctx, conv)
	if err != nil {
		t.Fatalf("TypingUsers: %v", err)
	}
	if got := names(users); len(got) != 1 || got[0] != "Alice" {
		t.Fatalf("TypingUsers = %v, want [Alice]", got)
	}
}

func TestTypingUsers_ExpiresAfterWindow(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	_ = e.typing.SetTyping(ctx, conv, a, true)

	e.clock.Advance(1500 * time.Millisecond)
	if users, _ := e.typing.TypingUsers(ctx, conv); len(users) != 1 {
		t.Fatalf("after 1.5s: %v, want alice", users)
	}
	// the read above must not refresh the indicator
	e.clock.Advance(600 * time.Millisecond)
	if users, _ := e.typing.TypingUsers(ctx, conv); len(users) != 0 {
		t.Fatalf("after 2.1s: %v, want empty", users)
	}
}

func TestAllTypingIndicators(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	ab := e.conversation(t, a, b)
	ac := e.conversation(t, a, c)
	bc := e.conversation(t, b, c)

	_ = e.typing.SetTyping(ctx, ab, b, true)
	_ = e.typing.SetTyping(ctx, bc, b, true)
	e.store.PutTyping(ac, c, e.clock.Now().Add(-3*time.Second))

	all, err := e.typing.AllTypingIndicators(ctx, a)
	if err != nil {
		t.Fatalf("AllTypingIndicators: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("keys = %v, want exactly alice's two conversations", all)
	}
	if got := names(all[ab]); len(got) != 1 || got[0] != "Bob" {
		t.Errorf("%s = %v, want [Bob]", ab, got)
	}
	list, ok := all[ac]
	if !ok || len(list) != 0 {
		t.Errorf("%s = %v (present %v), want empty list", ac, list, ok)
	}
	if _, ok := all[bc]; ok {
		t.Errorf("conversation %s does not include alice", bc)
	}
	// the stale row in ac was deleted as a side effect
	if n := e.store.TypingCount(); n != 2 {
		t.Errorf("rows = %d, want 2", n)
	}
}

func TestAllTypingIndicators_NoConversations(t *testing.T) {
	e := newEnv(t)
	a := e.user(t, "alice", "Alice")
	all, err := e.typing.AllTypingIndicators(context.Background(), a)
	if err != nil {
		t.Fatalf("AllTypingIndicators: %v", err)
	}
	if all == nil || len(all) != 0 {
		t.Fatalf("AllTypingIndicators = %v, want empty map", all)
	}
}

func TestSweepExpired(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	other := e.conversation(t, b, e.user(t, "carol", "Carol"))
	now := e.clock.Now()
	e.store.PutTyping(conv, a, now.Add(-5*time.Second))
	e.store.PutTyping(other, b, now.Add(-2001*time.Millisecond))
	e.store.PutTyping(conv, b, now.Add(-time.Second))

	n, err := e.typing.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired: %v", err)
	}
	if n != 2 {
		t.Fatalf("SweepExpired = %d, want 2", n)
	}
	if rows := e.store.TypingCount(); rows != 1 {
		t.Fatalf("rows = %d, want 1", rows)
	}
}

func TestRunSweeper_StopsWithContext(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.typing.RunSweeper(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RunSweeper did not return after cancel")
	}
}

type failingTyping struct {
	memory.Store
	err error
}

func (f *failingTyping) ListTyping(context.Context, string) ([]models.TypingIndicator, error) {
	return nil, f.err
}

func TestTypingUsers_PropagatesStoreError(t *testing.T) {
	boom := errors.New("connection refused")
	store := memory.NewStore()
	svc := NewTypingService(&failingTyping{err: boom}, store, store)
	if _, err := svc.TypingUsers(context.Background(), "c"); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
}
