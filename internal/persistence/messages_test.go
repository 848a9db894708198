package persistence_test

import (
	"context"
	"testing"

	"github.com/basket/crewctl/internal/persistence"
)

func TestInboxMixesDirectsAndBroadcasts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mustOK(t)(s.Send(ctx, "alice", "bob", "check the docs task", persistence.MsgComment, 0))
	mustOK(t)(s.Send(ctx, "alice", "carol", "not for bob", persistence.MsgComment, 0))
	mustOK(t)(s.Broadcast(ctx, "alice", "deploy at noon"))

	inbox, err := s.Inbox(ctx, "bob", false)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 2 {
		t.Fatalf("inbox = %d messages, want direct + broadcast", len(inbox))
	}
	// Newest first: the broadcast was sent last.
	if inbox[0].Body != "deploy at noon" || inbox[0].Type != persistence.MsgAlert {
		t.Fatalf("inbox[0] = %+v", inbox[0])
	}
	if inbox[0].ToAgent != "" {
		t.Fatalf("broadcast to_agent = %q, want empty", inbox[0].ToAgent)
	}
	if inbox[1].Body != "check the docs task" {
		t.Fatalf("inbox[1] = %+v", inbox[1])
	}
}

func TestUnreadCountIgnoresBroadcasts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mustOK(t)(s.Send(ctx, "alice", "bob", "one", persistence.MsgComment, 0))
	mustOK(t)(s.Send(ctx, "alice", "bob", "two", persistence.MsgComment, 0))
	mustOK(t)(s.Broadcast(ctx, "alice", "everyone look"))

	n, err := s.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 2 {
		t.Fatalf("unread = %d, want 2 (broadcasts carry no read state)", n)
	}
}

func TestMarkReadOnlyTouchesDirects(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	mustOK(t)(s.Send(ctx, "alice", "bob", "one", persistence.MsgComment, 0))
	mustOK(t)(s.Send(ctx, "alice", "bob", "two", persistence.MsgComment, 0))
	mustOK(t)(s.Broadcast(ctx, "alice", "everyone look"))

	marked, err := s.MarkRead(ctx, "bob")
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked != 2 {
		t.Fatalf("marked = %d, want 2", marked)
	}

	n, err := s.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 0 {
		t.Fatalf("unread = %d after mark read", n)
	}

	// The broadcast keeps showing in the unread-only view.
	inbox, err := s.Inbox(ctx, "bob", true)
	if err != nil {
		t.Fatalf("inbox: %v", err)
	}
	if len(inbox) != 1 || inbox[0].Type != persistence.MsgAlert {
		t.Fatalf("unread-only inbox = %+v", inbox)
	}
}

func TestMarkReadSpecificIDs(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	first, err := s.Send(ctx, "alice", "bob", "one", persistence.MsgComment, 0)
	if err != nil || !first.OK() {
		t.Fatalf("send one: %v %+v", err, first)
	}
	second, err := s.Send(ctx, "alice", "bob", "two", persistence.MsgComment, 0)
	if err != nil || !second.OK() {
		t.Fatalf("send two: %v %+v", err, second)
	}
	other, err := s.Send(ctx, "alice", "carol", "not yours", persistence.MsgComment, 0)
	if err != nil || !other.OK() {
		t.Fatalf("send other: %v %+v", err, other)
	}

	marked, err := s.MarkRead(ctx, "bob", first.TaskID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked != 1 {
		t.Fatalf("marked = %d, want exactly the named message", marked)
	}
	n, err := s.UnreadCount(ctx, "bob")
	if err != nil {
		t.Fatalf("unread count: %v", err)
	}
	if n != 1 {
		t.Fatalf("unread = %d, want the other direct untouched", n)
	}

	// Someone else's message id is not markable on bob's behalf.
	marked, err = s.MarkRead(ctx, "bob", other.TaskID)
	if err != nil {
		t.Fatalf("mark read: %v", err)
	}
	if marked != 0 {
		t.Fatalf("marked = %d marking carol's message as bob", marked)
	}
}

func TestSendValidation(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()

	res, err := s.Send(ctx, "alice", "bob", "", persistence.MsgComment, 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Code != persistence.CodeInvalid {
		t.Fatalf("code = %d, want invalid for empty body", res.Code)
	}

	res, err = s.Send(ctx, "alice", "bob", "hi", "shout", 0)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Code != persistence.CodeInvalid {
		t.Fatalf("code = %d, want invalid for unknown type", res.Code)
	}

	res, err = s.Send(ctx, "alice", "bob", "hi", persistence.MsgComment, 123)
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if res.Code != persistence.CodeNotFound {
		t.Fatalf("code = %d, want not found for missing task reference", res.Code)
	}
}

func TestSendAttachesToTask(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	id := mustCreate(t, s, "Implement auth", persistence.CreateTaskOptions{})

	mustOK(t)(s.Send(ctx, "alice", "bob", "see task notes", persistence.MsgComment, id))

	msgs, err := s.TaskMessages(ctx, id)
	if err != nil {
		t.Fatalf("task messages: %v", err)
	}
	if len(msgs) != 1 || msgs[0].TaskID == nil || *msgs[0].TaskID != id {
		t.Fatalf("task messages = %+v", msgs)
	}
}
