// Package postgres is the pgxpool-backed Store implementation, grounded on
// the teacher's database/sql store rewritten onto pgx/v5 pgxpool so it
// shares a connection pool with internal/eventlog, internal/jobqueue and
// internal/cursorlock rather than opening a second driver stack.
package postgres

import (
	"context"
	_ "embed"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/store"
)

//go:embed schema.sql
var schemaSQL string

// Open connects a pgxpool.Pool and verifies connectivity with a ping.
func Open(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	if dsn == "" {
		return nil, fmt.Errorf("postgres DSN is empty")
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

// Bootstrap applies the embedded schema. Every statement is idempotent
// (CREATE TABLE/INDEX IF NOT EXISTS), so Bootstrap is safe to run on every
// process start rather than requiring a separate migration step.
func Bootstrap(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, schemaSQL)
	return err
}

// NewWithPool constructs a Postgres-backed Store over an existing pool.
func NewWithPool(pool *pgxpool.Pool) store.Store { return &pgStore{pool: pool} }

type pgStore struct{ pool *pgxpool.Pool }

func (s *pgStore) Streams() store.Streams           { return &streams{pool: s.pool} }
func (s *pgStore) Messages() store.Messages         { return &messages{pool: s.pool} }
func (s *pgStore) Conversations() store.Conversations { return &conversations{pool: s.pool} }
func (s *pgStore) Memos() store.Memos               { return &memos{pool: s.pool} }
func (s *pgStore) Attachments() store.Attachments   { return &attachments{pool: s.pool} }

// HealthPing implements health.HealthPinger for a Postgres-backed store.
func (s *pgStore) HealthPing(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting every store
// method run inside a caller-supplied transaction (the common case — a
// Three-Phase Runner Commit phase always has one) or fall back to the pool
// directly for read-only accessors that take no tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func queryer(tx pgx.Tx, pool *pgxpool.Pool) querier {
	if tx != nil {
		return tx
	}
	return pool
}

// --- Streams ---
type streams struct{ pool *pgxpool.Pool }

func (st *streams) Create(ctx context.Context, tx pgx.Tx, s *model.Stream) (*model.Stream, error) {
	q := queryer(tx, st.pool)
	var out model.Stream
	err := q.QueryRow(ctx, `
		INSERT INTO streams (workspace_id, title, needs_name)
		VALUES ($1, $2, $3)
		RETURNING stream_id, workspace_id, title, needs_name, creation_time
	`, s.WorkspaceID, s.Title, s.NeedsName).Scan(&out.StreamID, &out.WorkspaceID, &out.Title, &out.NeedsName, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (st *streams) GetByID(ctx context.Context, streamID string) (*model.Stream, error) {
	var out model.Stream
	err := st.pool.QueryRow(ctx, `
		SELECT stream_id, workspace_id, title, needs_name, creation_time
		FROM streams WHERE stream_id = $1
	`, streamID).Scan(&out.StreamID, &out.WorkspaceID, &out.Title, &out.NeedsName, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (st *streams) AddMember(ctx context.Context, tx pgx.Tx, m *model.StreamMember) error {
	_, err := queryer(tx, st.pool).Exec(ctx, `
		INSERT INTO stream_members (stream_id, actor_id, is_human)
		VALUES ($1, $2, $3)
		ON CONFLICT (stream_id, actor_id) DO NOTHING
	`, m.StreamID, m.ActorID, m.IsHuman)
	return err
}

func (st *streams) Members(ctx context.Context, streamID string) ([]*model.StreamMember, error) {
	rows, err := st.pool.Query(ctx, `
		SELECT stream_id, actor_id, is_human, joined_at FROM stream_members WHERE stream_id = $1
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.StreamMember
	for rows.Next() {
		var m model.StreamMember
		if err := rows.Scan(&m.StreamID, &m.ActorID, &m.IsHuman, &m.JoinedAt); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (st *streams) ClearNeedsName(ctx context.Context, tx pgx.Tx, streamID string) error {
	_, err := queryer(tx, st.pool).Exec(ctx, `UPDATE streams SET needs_name = false WHERE stream_id = $1`, streamID)
	return err
}

func (st *streams) ForWorkspace(ctx context.Context, workspaceID string) ([]string, error) {
	rows, err := st.pool.Query(ctx, `SELECT stream_id FROM streams WHERE workspace_id = $1`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStreamIDs(rows)
}

func (st *streams) ForAnyMember(ctx context.Context, actorIDs []string) ([]string, error) {
	if len(actorIDs) == 0 {
		return nil, nil
	}
	rows, err := st.pool.Query(ctx, `
		SELECT DISTINCT stream_id FROM stream_members WHERE actor_id = ANY($1)
	`, actorIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanStreamIDs(rows)
}

func scanStreamIDs(rows pgx.Rows) ([]string, error) {
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// --- Messages ---
type messages struct{ pool *pgxpool.Pool }

func (m *messages) Create(ctx context.Context, tx pgx.Tx, msg *model.Message) (*model.Message, error) {
	q := queryer(tx, m.pool)
	var out model.Message
	err := q.QueryRow(ctx, `
		INSERT INTO messages (stream_id, workspace_id, author_id, author_is_human, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING message_id, stream_id, workspace_id, author_id, author_is_human, body, creation_time
	`, msg.StreamID, msg.WorkspaceID, msg.AuthorID, msg.AuthorIsHuman, msg.Body).Scan(
		&out.MessageID, &out.StreamID, &out.WorkspaceID, &out.AuthorID, &out.AuthorIsHuman, &out.Body, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) GetByID(ctx context.Context, messageID string) (*model.Message, error) {
	var out model.Message
	err := m.pool.QueryRow(ctx, `
		SELECT message_id, stream_id, workspace_id, author_id, author_is_human, body, creation_time
		FROM messages WHERE message_id = $1
	`, messageID).Scan(&out.MessageID, &out.StreamID, &out.WorkspaceID, &out.AuthorID, &out.AuthorIsHuman, &out.Body, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *messages) AddVersion(ctx context.Context, tx pgx.Tx, v *model.MessageVersion) error {
	_, err := queryer(tx, m.pool).Exec(ctx, `
		INSERT INTO message_versions (message_id, body) VALUES ($1, $2)
	`, v.MessageID, v.Body)
	return err
}

func (m *messages) Neighbors(ctx context.Context, streamID, messageID string, before, after int) ([]*model.Message, error) {
	rows, err := m.pool.Query(ctx, `
		WITH target AS (
			SELECT creation_time FROM messages WHERE message_id = $2
		),
		before_rows AS (
			SELECT * FROM messages
			WHERE stream_id = $1 AND creation_time < (SELECT creation_time FROM target)
			ORDER BY creation_time DESC LIMIT $3
		),
		after_rows AS (
			SELECT * FROM messages
			WHERE stream_id = $1 AND creation_time > (SELECT creation_time FROM target)
			ORDER BY creation_time ASC LIMIT $4
		)
		SELECT message_id, stream_id, workspace_id, author_id, author_is_human, body, creation_time
		FROM (SELECT * FROM before_rows UNION ALL SELECT * FROM after_rows) combined
		ORDER BY creation_time ASC
	`, streamID, messageID, before, after)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func (m *messages) Recent(ctx context.Context, streamID string, limit int) ([]*model.Message, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT message_id, stream_id, workspace_id, author_id, author_is_human, body, creation_time
		FROM messages WHERE stream_id = $1 ORDER BY creation_time DESC LIMIT $2
	`, streamID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]*model.Message, error) {
	var out []*model.Message
	for rows.Next() {
		var msg model.Message
		if err := rows.Scan(&msg.MessageID, &msg.StreamID, &msg.WorkspaceID, &msg.AuthorID, &msg.AuthorIsHuman, &msg.Body, &msg.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// --- Conversations ---
type conversations struct{ pool *pgxpool.Pool }

func (c *conversations) Create(ctx context.Context, tx pgx.Tx, conv *model.Conversation) (*model.Conversation, error) {
	q := queryer(tx, c.pool)
	var out model.Conversation
	err := q.QueryRow(ctx, `
		INSERT INTO conversations (stream_id, workspace_id, title, summary, complete)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING conversation_id, stream_id, workspace_id, title, summary, complete, creation_time, updated_at
	`, conv.StreamID, conv.WorkspaceID, conv.Title, conv.Summary, conv.Complete).Scan(
		&out.ConversationID, &out.StreamID, &out.WorkspaceID, &out.Title, &out.Summary, &out.Complete, &out.CreationTime, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) GetByID(ctx context.Context, conversationID string) (*model.Conversation, error) {
	var out model.Conversation
	err := c.pool.QueryRow(ctx, `
		SELECT conversation_id, stream_id, workspace_id, title, summary, complete, creation_time, updated_at
		FROM conversations WHERE conversation_id = $1
	`, conversationID).Scan(&out.ConversationID, &out.StreamID, &out.WorkspaceID, &out.Title, &out.Summary, &out.Complete, &out.CreationTime, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *conversations) Update(ctx context.Context, tx pgx.Tx, conv *model.Conversation) error {
	_, err := queryer(tx, c.pool).Exec(ctx, `
		UPDATE conversations SET title = $2, summary = $3, complete = $4, updated_at = now()
		WHERE conversation_id = $1
	`, conv.ConversationID, conv.Title, conv.Summary, conv.Complete)
	return err
}

func (c *conversations) OpenForStream(ctx context.Context, streamID string) ([]*model.Conversation, error) {
	rows, err := c.pool.Query(ctx, `
		SELECT conversation_id, stream_id, workspace_id, title, summary, complete, creation_time, updated_at
		FROM conversations WHERE stream_id = $1 AND complete = false ORDER BY creation_time ASC
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Conversation
	for rows.Next() {
		var conv model.Conversation
		if err := rows.Scan(&conv.ConversationID, &conv.StreamID, &conv.WorkspaceID, &conv.Title, &conv.Summary, &conv.Complete, &conv.CreationTime, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

// --- Memos ---
type memos struct{ pool *pgxpool.Pool }

func (m *memos) Upsert(ctx context.Context, tx pgx.Tx, memo *model.Memo) (*model.Memo, error) {
	q := queryer(tx, m.pool)
	var out model.Memo
	err := q.QueryRow(ctx, `
		INSERT INTO memos (stream_id, workspace_id, body, through_message_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (stream_id) DO UPDATE SET
			body = EXCLUDED.body, through_message_id = EXCLUDED.through_message_id, updated_at = now()
		RETURNING memo_id, stream_id, workspace_id, body, through_message_id, updated_at
	`, memo.StreamID, memo.WorkspaceID, memo.Body, memo.ThroughMessageID).Scan(
		&out.MemoID, &out.StreamID, &out.WorkspaceID, &out.Body, &out.ThroughMessageID, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *memos) GetByStream(ctx context.Context, streamID string) (*model.Memo, error) {
	var out model.Memo
	err := m.pool.QueryRow(ctx, `
		SELECT memo_id, stream_id, workspace_id, body, through_message_id, updated_at
		FROM memos WHERE stream_id = $1
	`, streamID).Scan(&out.MemoID, &out.StreamID, &out.WorkspaceID, &out.Body, &out.ThroughMessageID, &out.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (m *memos) EnqueuePending(ctx context.Context, tx pgx.Tx, item *model.MemoPendingItem) error {
	_, err := queryer(tx, m.pool).Exec(ctx, `
		INSERT INTO memo_pending_items (stream_id, workspace_id, source_type, source_id)
		VALUES ($1, $2, $3, $4)
	`, item.StreamID, item.WorkspaceID, item.SourceType, item.SourceID)
	return err
}

func (m *memos) PendingForStream(ctx context.Context, streamID string) ([]*model.MemoPendingItem, error) {
	rows, err := m.pool.Query(ctx, `
		SELECT id, stream_id, workspace_id, source_type, source_id, created_at
		FROM memo_pending_items WHERE stream_id = $1 ORDER BY created_at ASC
	`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.MemoPendingItem
	for rows.Next() {
		var item model.MemoPendingItem
		if err := rows.Scan(&item.ID, &item.StreamID, &item.WorkspaceID, &item.SourceType, &item.SourceID, &item.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &item)
	}
	return out, rows.Err()
}

func (m *memos) ClearPending(ctx context.Context, tx pgx.Tx, streamID string, ids []int64) error {
	_, err := queryer(tx, m.pool).Exec(ctx, `
		DELETE FROM memo_pending_items WHERE stream_id = $1 AND id = ANY($2)
	`, streamID, ids)
	return err
}

// --- Attachments ---
type attachments struct{ pool *pgxpool.Pool }

func (a *attachments) Create(ctx context.Context, tx pgx.Tx, att *model.Attachment) (*model.Attachment, error) {
	q := queryer(tx, a.pool)
	var out model.Attachment
	err := q.QueryRow(ctx, `
		INSERT INTO attachments (message_id, stream_id, workspace_id, filename, extraction_text)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING attachment_id, message_id, stream_id, workspace_id, filename, extraction_text, creation_time
	`, att.MessageID, att.StreamID, att.WorkspaceID, att.Filename, att.ExtractionText).Scan(
		&out.AttachmentID, &out.MessageID, &out.StreamID, &out.WorkspaceID, &out.Filename, &out.ExtractionText, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *attachments) GetByID(ctx context.Context, attachmentID string) (*model.Attachment, error) {
	var out model.Attachment
	err := a.pool.QueryRow(ctx, `
		SELECT attachment_id, message_id, stream_id, workspace_id, filename, extraction_text, creation_time
		FROM attachments WHERE attachment_id = $1
	`, attachmentID).Scan(&out.AttachmentID, &out.MessageID, &out.StreamID, &out.WorkspaceID, &out.Filename, &out.ExtractionText, &out.CreationTime)
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (a *attachments) ListByMessage(ctx context.Context, messageID string) ([]*model.Attachment, error) {
	rows, err := a.pool.Query(ctx, `
		SELECT attachment_id, message_id, stream_id, workspace_id, filename, extraction_text, creation_time
		FROM attachments WHERE message_id = $1 ORDER BY creation_time ASC
	`, messageID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Attachment
	for rows.Next() {
		var att model.Attachment
		if err := rows.Scan(&att.AttachmentID, &att.MessageID, &att.StreamID, &att.WorkspaceID, &att.Filename, &att.ExtractionText, &att.CreationTime); err != nil {
			return nil, err
		}
		out = append(out, &att)
	}
	return out, rows.Err()
}
