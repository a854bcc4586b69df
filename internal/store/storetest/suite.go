package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/store"
)

// Run exercises a minimal compliance suite against a store.Store
// implementation. Implementations should provide a clean, isolated store
// and return it from makeStore.
func Run(t *testing.T, makeStore func(t *testing.T) store.Store) {
	t.Helper()

	s := makeStore(t)
	ctx := context.Background()

	workspaceID := "ws-" + time.Now().UTC().Format("20060102150405.000000000")

	// Streams
	stream, err := s.Streams().Create(ctx, nil, &model.Stream{WorkspaceID: workspaceID, Title: "general", NeedsName: true})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if stream.StreamID == "" {
		t.Fatalf("CreateStream: empty stream id")
	}
	if got, err := s.Streams().GetByID(ctx, stream.StreamID); err != nil || got == nil || got.Title != "general" {
		t.Fatalf("GetStream: got=%v err=%v", got, err)
	}
	if err := s.Streams().AddMember(ctx, nil, &model.StreamMember{StreamID: stream.StreamID, ActorID: "actor-1", IsHuman: true}); err != nil {
		t.Fatalf("AddMember: %v", err)
	}
	if members, err := s.Streams().Members(ctx, stream.StreamID); err != nil || len(members) != 1 {
		t.Fatalf("Members: n=%d err=%v", len(members), err)
	}
	if err := s.Streams().ClearNeedsName(ctx, nil, stream.StreamID); err != nil {
		t.Fatalf("ClearNeedsName: %v", err)
	}
	if got, err := s.Streams().GetByID(ctx, stream.StreamID); err != nil || got.NeedsName {
		t.Fatalf("ClearNeedsName did not persist: got=%v err=%v", got, err)
	}
	if ids, err := s.Streams().ForWorkspace(ctx, workspaceID); err != nil || len(ids) != 1 || ids[0] != stream.StreamID {
		t.Fatalf("ForWorkspace: ids=%v err=%v", ids, err)
	}
	if ids, err := s.Streams().ForAnyMember(ctx, []string{"actor-1"}); err != nil || len(ids) != 1 || ids[0] != stream.StreamID {
		t.Fatalf("ForAnyMember: ids=%v err=%v", ids, err)
	}

	// Messages
	m1, err := s.Messages().Create(ctx, nil, &model.Message{StreamID: stream.StreamID, WorkspaceID: workspaceID, AuthorID: "actor-1", AuthorIsHuman: true, Body: "hello"})
	if err != nil {
		t.Fatalf("CreateMessage m1: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	m2, err := s.Messages().Create(ctx, nil, &model.Message{StreamID: stream.StreamID, WorkspaceID: workspaceID, AuthorID: "actor-1", AuthorIsHuman: true, Body: "world"})
	if err != nil {
		t.Fatalf("CreateMessage m2: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	m3, err := s.Messages().Create(ctx, nil, &model.Message{StreamID: stream.StreamID, WorkspaceID: workspaceID, AuthorID: "actor-1", AuthorIsHuman: true, Body: "again"})
	if err != nil {
		t.Fatalf("CreateMessage m3: %v", err)
	}

	if err := s.Messages().AddVersion(ctx, nil, &model.MessageVersion{MessageID: m1.MessageID, Body: "hello, edited"}); err != nil {
		t.Fatalf("AddVersion: %v", err)
	}

	if neighbors, err := s.Messages().Neighbors(ctx, stream.StreamID, m2.MessageID, 1, 1); err != nil || len(neighbors) != 2 {
		t.Fatalf("Neighbors: n=%d err=%v", len(neighbors), err)
	}
	if recent, err := s.Messages().Recent(ctx, stream.StreamID, 2); err != nil || len(recent) != 2 || recent[0].MessageID != m3.MessageID {
		t.Fatalf("Recent: got=%v err=%v", recent, err)
	}

	// Conversations
	conv, err := s.Conversations().Create(ctx, nil, &model.Conversation{StreamID: stream.StreamID, WorkspaceID: workspaceID, Title: "onboarding", Summary: "discussing onboarding"})
	if err != nil {
		t.Fatalf("CreateConversation: %v", err)
	}
	if open, err := s.Conversations().OpenForStream(ctx, stream.StreamID); err != nil || len(open) != 1 {
		t.Fatalf("OpenForStream: n=%d err=%v", len(open), err)
	}
	conv.Complete = true
	conv.Summary = "onboarding wrapped up"
	if err := s.Conversations().Update(ctx, nil, conv); err != nil {
		t.Fatalf("UpdateConversation: %v", err)
	}
	if got, err := s.Conversations().GetByID(ctx, conv.ConversationID); err != nil || !got.Complete {
		t.Fatalf("GetConversation after update: got=%v err=%v", got, err)
	}
	if open, err := s.Conversations().OpenForStream(ctx, stream.StreamID); err != nil || len(open) != 0 {
		t.Fatalf("OpenForStream after complete: n=%d err=%v", len(open), err)
	}

	// Memos
	memo, err := s.Memos().Upsert(ctx, nil, &model.Memo{StreamID: stream.StreamID, WorkspaceID: workspaceID, Body: "summary so far", ThroughMessageID: m2.MessageID})
	if err != nil {
		t.Fatalf("UpsertMemo: %v", err)
	}
	if got, err := s.Memos().GetByStream(ctx, stream.StreamID); err != nil || got.MemoID != memo.MemoID {
		t.Fatalf("GetMemoByStream: got=%v err=%v", got, err)
	}
	memo2, err := s.Memos().Upsert(ctx, nil, &model.Memo{StreamID: stream.StreamID, WorkspaceID: workspaceID, Body: "summary updated", ThroughMessageID: m3.MessageID})
	if err != nil {
		t.Fatalf("UpsertMemo (update): %v", err)
	}
	if memo2.MemoID != memo.MemoID {
		t.Fatalf("UpsertMemo should update in place: first=%s second=%s", memo.MemoID, memo2.MemoID)
	}

	if err := s.Memos().EnqueuePending(ctx, nil, &model.MemoPendingItem{StreamID: stream.StreamID, WorkspaceID: workspaceID, SourceType: "message", SourceID: m3.MessageID}); err != nil {
		t.Fatalf("EnqueuePending: %v", err)
	}
	pending, err := s.Memos().PendingForStream(ctx, stream.StreamID)
	if err != nil || len(pending) != 1 {
		t.Fatalf("PendingForStream: n=%d err=%v", len(pending), err)
	}
	if err := s.Memos().ClearPending(ctx, nil, stream.StreamID, []int64{pending[0].ID}); err != nil {
		t.Fatalf("ClearPending: %v", err)
	}
	if pending, err := s.Memos().PendingForStream(ctx, stream.StreamID); err != nil || len(pending) != 0 {
		t.Fatalf("PendingForStream after clear: n=%d err=%v", len(pending), err)
	}

	// Attachments
	att, err := s.Attachments().Create(ctx, nil, &model.Attachment{MessageID: m1.MessageID, StreamID: stream.StreamID, WorkspaceID: workspaceID, Filename: "invoice.pdf", ExtractionText: "total due $42"})
	if err != nil {
		t.Fatalf("CreateAttachment: %v", err)
	}
	if got, err := s.Attachments().GetByID(ctx, att.AttachmentID); err != nil || got.Filename != "invoice.pdf" {
		t.Fatalf("GetAttachment: got=%v err=%v", got, err)
	}
	if list, err := s.Attachments().ListByMessage(ctx, m1.MessageID); err != nil || len(list) != 1 {
		t.Fatalf("ListByMessage: n=%d err=%v", len(list), err)
	}
}
