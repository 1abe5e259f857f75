package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSend_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	conv := e.conversation(t, a, b)
	other := e.conversation(t, a, c)
	elsewhere, _ := e.msgs.Send(ctx, other, a, "elsewhere", nil)
	empty := ""

	tests := []struct {
		name    string
		conv    string
		sender  string
		content string
		replyTo *string
		wantErr error
	}{
		{"blank content", conv, a, "   \n\t", nil, ErrEmptyContent},
		{"too long", conv, a, strings.Repeat("x", MaxMessageLength+1), nil, ErrContentTooLong},
		{"outsider", conv, c, "hi", nil, ErrNotParticipant},
		{"unknown conversation", "nope", a, "hi", nil, ErrConversationNotFound},
		{"reply across conversations", conv, a, "hi", &elsewhere.ID, ErrReplyOutsideThread},
		{"empty reply id", conv, a, "hi", &empty, nil},
		{"ok", conv, b, "hi", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.msgs.Send(ctx, tt.conv, tt.sender, tt.content, tt.replyTo)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("Send err = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSend_SideEffects(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	_ = e.typing.SetTyping(ctx, conv, a, true)

	e.clock.Advance(time.Second)
	m, err := e.msgs.Send(ctx, conv, a, "  hello  ", nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Content != "hello" {
		t.Errorf("content = %q, want trimmed", m.Content)
	}
	if m.SenderName != "Alice" {
		t.Errorf("sender name = %q", m.SenderName)
	}
	if len(m.ReadBy) != 1 || m.ReadBy[0] != a {
		t.Errorf("readBy = %v, want [sender]", m.ReadBy)
	}
	if e.store.TypingCount() != 0 {
		t.Errorf("sender's typing indicator not cleared")
	}
	c, _ := e.store.GetConversation(ctx, conv)
	if c.LastMessageAt == nil || !c.LastMessageAt.Equal(e.clock.Now()) {
		t.Errorf("last_message_at = %v, want %v", c.LastMessageAt, e.clock.Now())
	}

	reply, err := e.msgs.Send(ctx, conv, b, "hey", &m.ID)
	if err != nil {
		t.Fatalf("reply: %v", err)
	}
	if reply.ReplyToID == nil || *reply.ReplyToID != m.ID {
		t.Errorf("reply_to_id = %v, want %s", reply.ReplyToID, m.ID)
	}
}

func TestList_PagingAndAccess(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	conv := e.conversation(t, a, b)
	var stamps []time.Time
	for i := 0; i < 5; i++ {
		e.clock.Advance(time.Second)
		stamps = append(stamps, e.clock.Now())
		if _, err := e.msgs.Send(ctx, conv, a, string(rune('a'+i)), nil); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}

	page, err := e.msgs.List(ctx, b, conv, 2, time.Time{})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(page) != 2 || page[0].Content != "d" || page[1].Content != "e" {
		t.Fatalf("latest page = %v", contents(page))
	}
	older, _ := e.msgs.List(ctx, b, conv, 2, stamps[3])
	if len(older) != 2 || older[0].Content != "b" || older[1].Content != "c" {
		t.Fatalf("older page = %v", contents(older))
	}
	all, _ := e.msgs.List(ctx, b, conv, 0, time.Time{})
	if len(all) != 5 {
		t.Fatalf("default page size returned %d", len(all))
	}
	if _, err := e.msgs.List(ctx, c, conv, 10, time.Time{}); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider List err = %v", err)
	}
}

func contents(ms []MessageDTO) []string {
	out := make([]string, 0, len(ms))
	for _, m := range ms {
		out = append(out, m.Content)
	}
	return out
}

func TestEditAndDelete(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob")
	conv := e.conversation(t, a, b)
	m, _ := e.msgs.Send(ctx, conv, a, "frist", nil)

	if _, err := e.msgs.Edit(ctx, m.ID, b, "hijack"); !errors.Is(err, ErrForbidden) {
		t.Fatalf("edit by other = %v, want ErrForbidden", err)
	}
	if _, err := e.msgs.Edit(ctx, m.ID, a, " "); !errors.Is(err, ErrEmptyContent) {
		t.Fatalf("blank edit = %v, want ErrEmptyContent", err)
	}
	e.clock.Advance(time.Minute)
	edited, err := e.msgs.Edit(ctx, m.ID, a, "first")
	if err != nil {
		t.Fatalf("Edit: %v", err)
	}
	if edited.Content != "first" || edited.EditedAt == nil || !edited.EditedAt.Equal(e.clock.Now()) {
		t.Fatalf("edited = %+v", edited)
	}

	if _, err := e.msgs.Delete(ctx, m.ID, b); !errors.Is(err, ErrForbidden) {
		t.Fatalf("delete by other = %v, want ErrForbidden", err)
	}
	deleted, err := e.msgs.Delete(ctx, m.ID, a)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if !deleted.IsDeleted || deleted.Content != "" {
		t.Fatalf("deleted = %+v", deleted)
	}
	if _, err := e.msgs.Delete(ctx, m.ID, a); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := e.msgs.Edit(ctx, m.ID, a, "back"); !errors.Is(err, ErrMessageDeleted) {
		t.Fatalf("edit after delete = %v, want ErrMessageDeleted", err)
	}
	if _, err := e.msgs.Edit(ctx, "missing", a, "x"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("edit missing = %v, want ErrMessageNotFound", err)
	}
}

func TestReact_Toggle(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	a, b, c := e.user(t, "alice", "Alice"), e.user(t, "bob", "Bob"), e.user(t, "carol", "Carol")
	conv := e.conversation(t, a, b)
	m, _ := e.msgs.Send(ctx, conv, a, "nice", nil)

	steps := []struct {
		user  string
		emoji string
		want  map[string]int
	}{
		{b, "👍", map[string]int{"👍": 1}},
		{a, "👍", map[string]int{"👍": 2}},
		{a, "🎉", map[string]int{"👍": 2, "🎉": 1}},
		{b, "👍", map[string]int{"👍": 1, "🎉": 1}},
		{a, "👍", map[string]int{"🎉": 1}},
		{a, "🎉", map[string]int{}},
	}
	for i, s := range steps {
		got, err := e.msgs.React(ctx, m.ID, s.user, s.emoji)
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		counts := map[string]int{}
		for _, g := range got.Reactions {
			counts[g.Emoji] = len(g.UserIDs)
		}
		if len(counts) != len(s.want) {
			t.Fatalf("step %d: reactions = %v, want %v", i, counts, s.want)
		}
		for k, v := range s.want {
			if counts[k] != v {
				t.Fatalf("step %d: reactions = %v, want %v", i, counts, s.want)
			}
		}
	}

	if _, err := e.msgs.React(ctx, m.ID, a, ""); !errors.Is(err, ErrInvalidReaction) {
		t.Fatalf("empty emoji = %v", err)
	}
	if _, err := e.msgs.React(ctx, m.ID, c, "👍"); !errors.Is(err, ErrNotParticipant) {
		t.Fatalf("outsider reaction = %v", err)
	}
	if _, err := e.msgs.React(ctx, "missing", a, "👍"); !errors.Is(err, ErrMessageNotFound) {
		t.Fatalf("missing message = %v", err)
	}
}
