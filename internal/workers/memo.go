package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/runner"
)

var memoSchema = aicost.Schema{
	Required: []string{"body"},
	Types:    map[string]string{"body": "string"},
}

// MemoBatchCheckJobHandler re-reads a stream's pending memo item count and
// enqueues a memo-batch-process job once it has reached the configured
// threshold. It runs outside the Three-Phase Runner: there is no model call
// and nothing to Fetch beyond the one count query.
func (w *Workers) MemoBatchCheckJobHandler() jobqueue.Handler {
	return func(ctx context.Context, j *model.Job) error {
		streamID := payloadString(j.Payload, "streamId")
		workspaceID := payloadString(j.Payload, "workspaceId")

		pending, err := w.store.Memos().PendingForStream(ctx, streamID)
		if err != nil {
			return err
		}
		if len(pending) < w.cfg.MemoBatchThreshold {
			return nil
		}

		return w.withTx(ctx, func(tx pgx.Tx) error {
			_, err := w.queue.Send(ctx, tx, jobqueue.QueueMemoBatchProcess, map[string]interface{}{
				"streamId":    streamID,
				"workspaceId": workspaceID,
			}, jobqueue.SendOptions{SingletonKey: "memo-process-" + streamID, Priority: jobqueue.PriorityLow})
			return err
		})
	}
}

// memoProcessorHandler folds a stream's pending items into its running Memo
// summary. Like namerHandler, its Commit appends no Event Log row: the
// closed taxonomy has no memo-updated event and nothing consumes one.
type memoProcessorHandler struct {
	w           *Workers
	streamID    string
	workspaceID string
}

func (w *Workers) MemoBatchProcessJobHandler() jobqueue.Handler {
	return func(ctx context.Context, j *model.Job) error {
		h := &memoProcessorHandler{
			w:           w,
			streamID:    payloadString(j.Payload, "streamId"),
			workspaceID: payloadString(j.Payload, "workspaceId"),
		}
		return runner.Run(ctx, w.pool, h)
	}
}

type memoSnapshot struct {
	existing *model.Memo
	pending  []*model.MemoPendingItem
	streamID string
}

func (h *memoProcessorHandler) Fetch(ctx context.Context, r runner.Reader) (runner.Snapshot, error) {
	pending, err := h.w.store.Memos().PendingForStream(ctx, h.streamID)
	if err != nil {
		return nil, err
	}
	if len(pending) == 0 {
		return nil, nil
	}

	existing, err := h.w.store.Memos().GetByStream(ctx, h.streamID)
	if err != nil {
		return nil, err
	}

	return &memoSnapshot{existing: existing, pending: pending, streamID: h.streamID}, nil
}

type memoEffect struct {
	body             string
	throughMessageID string
	pendingIDs       []int64
}

func (h *memoProcessorHandler) Compute(ctx context.Context, snap runner.Snapshot) (runner.Effect, error) {
	s := snap.(*memoSnapshot)

	cc := aicost.CallContext{
		WorkspaceID: h.workspaceID,
		FunctionID:  "workers.memo_processor",
		Origin:      aicost.OriginSystem,
	}
	obj, err := h.w.ai.GenerateObject(ctx, cc, h.w.cfg.MemoModel, memoPrompt(s), memoSchema)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}
	body, _ := obj["body"].(string)
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, nil
	}

	ids := make([]int64, len(s.pending))
	throughMessageID := ""
	for i, p := range s.pending {
		ids[i] = p.ID
		if p.SourceType == "message" {
			throughMessageID = p.SourceID
		}
	}

	return &memoEffect{body: body, throughMessageID: throughMessageID, pendingIDs: ids}, nil
}

func (h *memoProcessorHandler) Commit(ctx context.Context, tx pgx.Tx, eff runner.Effect) error {
	e := eff.(*memoEffect)

	m := &model.Memo{
		StreamID:         h.streamID,
		WorkspaceID:      h.workspaceID,
		Body:             e.body,
		ThroughMessageID: e.throughMessageID,
	}
	if _, err := h.w.store.Memos().Upsert(ctx, tx, m); err != nil {
		return err
	}
	return h.w.store.Memos().ClearPending(ctx, tx, h.streamID, e.pendingIDs)
}

func memoPrompt(s *memoSnapshot) string {
	var b strings.Builder
	b.WriteString("Produce an updated running summary for this stream.\n")
	if s.existing != nil {
		fmt.Fprintf(&b, "Current summary: %s\n", s.existing.Body)
	}
	b.WriteString("New activity to fold in:\n")
	for _, p := range s.pending {
		fmt.Fprintf(&b, "- %s %s\n", p.SourceType, p.SourceID)
	}
	b.WriteString(`Reply with {"body": "..."}.`)
	return b.String()
}
