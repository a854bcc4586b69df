// Package store defines the persistence surface used by the Three-Phase
// Runner handlers. It provides typed accessors for each resource area
// (streams, messages, conversations, memos, attachments) and hides concrete
// database details behind simple method contracts. Drivers (e.g., Postgres)
// live under internal/store/<driver>/ and implement these interfaces.
package store

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/eventsub/internal/model"
)

// Store is the persistence surface business-logic handlers depend on. It
// never appends Event Log rows itself — that discipline belongs to
// internal/runner.Commit, which is always given the same pgx.Tx a Store
// write used, so the two land in a single transaction.
type Store interface {
	Streams() Streams
	Messages() Messages
	Conversations() Conversations
	Memos() Memos
	Attachments() Attachments
}

type Streams interface {
	Create(ctx context.Context, tx pgx.Tx, s *model.Stream) (*model.Stream, error)
	GetByID(ctx context.Context, streamID string) (*model.Stream, error)
	AddMember(ctx context.Context, tx pgx.Tx, m *model.StreamMember) error
	Members(ctx context.Context, streamID string) ([]*model.StreamMember, error)
	ClearNeedsName(ctx context.Context, tx pgx.Tx, streamID string) error
	// ForWorkspace returns every stream id in workspaceID — the "allStreams"
	// Retrieval Loop access specification.
	ForWorkspace(ctx context.Context, workspaceID string) ([]string, error)
	// ForAnyMember returns the union of stream ids that any of actorIDs
	// belongs to — the "memberUnion" Retrieval Loop access specification.
	ForAnyMember(ctx context.Context, actorIDs []string) ([]string, error)
}

type Messages interface {
	Create(ctx context.Context, tx pgx.Tx, m *model.Message) (*model.Message, error)
	GetByID(ctx context.Context, messageID string) (*model.Message, error)
	AddVersion(ctx context.Context, tx pgx.Tx, v *model.MessageVersion) error
	// Neighbors returns up to before/after messages immediately surrounding
	// messageID in its stream, ordered by creation_time ascending — the
	// neighbor-message enrichment rule the Retrieval Loop applies to hits.
	Neighbors(ctx context.Context, streamID, messageID string, before, after int) ([]*model.Message, error)
	// Recent returns the most recent limit messages in a stream, newest first.
	Recent(ctx context.Context, streamID string, limit int) ([]*model.Message, error)
}

type Conversations interface {
	Create(ctx context.Context, tx pgx.Tx, c *model.Conversation) (*model.Conversation, error)
	GetByID(ctx context.Context, conversationID string) (*model.Conversation, error)
	Update(ctx context.Context, tx pgx.Tx, c *model.Conversation) error
	OpenForStream(ctx context.Context, streamID string) ([]*model.Conversation, error)
}

type Memos interface {
	Upsert(ctx context.Context, tx pgx.Tx, m *model.Memo) (*model.Memo, error)
	GetByStream(ctx context.Context, streamID string) (*model.Memo, error)
	EnqueuePending(ctx context.Context, tx pgx.Tx, item *model.MemoPendingItem) error
	PendingForStream(ctx context.Context, streamID string) ([]*model.MemoPendingItem, error)
	ClearPending(ctx context.Context, tx pgx.Tx, streamID string, ids []int64) error
}

type Attachments interface {
	Create(ctx context.Context, tx pgx.Tx, a *model.Attachment) (*model.Attachment, error)
	GetByID(ctx context.Context, attachmentID string) (*model.Attachment, error)
	ListByMessage(ctx context.Context, messageID string) ([]*model.Attachment, error)
}
