package workers

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/runner"
)

// embedderHandler embeds a single message and indexes it for hybrid search.
// Like namerHandler and memoProcessorHandler, its Commit appends no Event
// Log row — indexing is a side effect of message:created, not an event of
// its own in the closed taxonomy.
type embedderHandler struct {
	w           *Workers
	messageID   string
	streamID    string
	workspaceID string
}

func (w *Workers) EmbeddingJobHandler() jobqueue.Handler {
	return func(ctx context.Context, j *model.Job) error {
		h := &embedderHandler{
			w:           w,
			messageID:   payloadString(j.Payload, "messageId"),
			streamID:    payloadString(j.Payload, "streamId"),
			workspaceID: payloadString(j.Payload, "workspaceId"),
		}
		return runner.Run(ctx, w.pool, h)
	}
}

type embedSnapshot struct {
	message *model.Message
}

func (h *embedderHandler) Fetch(ctx context.Context, r runner.Reader) (runner.Snapshot, error) {
	msg, err := h.w.store.Messages().GetByID(ctx, h.messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, fmt.Errorf("workers: embedding message %s not found", h.messageID)
	}
	return &embedSnapshot{message: msg}, nil
}

type embedEffect struct {
	messageID string
	vec       []float32
	payload   map[string]interface{}
}

func (h *embedderHandler) Compute(ctx context.Context, snap runner.Snapshot) (runner.Effect, error) {
	s := snap.(*embedSnapshot)

	vec, err := h.w.embedder.Embed(ctx, s.message.Body)
	if err != nil {
		return nil, err
	}

	return &embedEffect{
		messageID: s.message.MessageID,
		vec:       vec,
		payload: map[string]interface{}{
			"streamId":    s.message.StreamID,
			"workspaceId": s.message.WorkspaceID,
			"snippet":     s.message.Body,
		},
	}, nil
}

// Commit runs the search index upsert inside the same transaction window as
// every other handler's business write, even though the Weaviate write
// itself is not transactional with Postgres — consistent with the
// teacher's outbox worker, which treats the downstream side effect as
// best-effort once the business row is durable.
func (h *embedderHandler) Commit(ctx context.Context, tx pgx.Tx, eff runner.Effect) error {
	e := eff.(*embedEffect)
	return h.w.searcher.UpsertMessage(ctx, e.messageID, e.vec, e.payload)
}
