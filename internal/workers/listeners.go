package workers

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/eventsub/internal/cursorlock"
	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/model"
)

// boundaryExtractionListener enqueues a boundary-extract job for every
// message:created event whose author is a human stream member, per the
// listener table in spec.md §4.C.
type boundaryExtractionListener struct{ w *Workers }

func (w *Workers) BoundaryExtractionListener() *boundaryExtractionListener {
	return &boundaryExtractionListener{w: w}
}

func (l *boundaryExtractionListener) ID() string { return "boundary-extraction" }

func (l *boundaryExtractionListener) LockConfig() cursorlock.Config { return cursorlock.Config{} }

func (l *boundaryExtractionListener) ProcessEvents(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult {
	return processEvents(ctx, l.w, cur, func(e model.Event) error {
		if e.EventType != model.EventMessageCreated {
			return nil
		}
		if !payloadBool(e.Payload, "authorIsHuman") {
			return nil
		}
		return l.w.withTx(ctx, func(tx pgx.Tx) error {
			_, err := l.w.queue.Send(ctx, tx, jobqueue.QueueBoundaryExtract, map[string]interface{}{
				"messageId":   payloadString(e.Payload, "messageId"),
				"streamId":    payloadString(e.Payload, "streamId"),
				"workspaceId": payloadString(e.Payload, "workspaceId"),
			}, jobqueue.SendOptions{MessageID: "boundary-" + payloadString(e.Payload, "messageId"), Priority: jobqueue.PriorityNormal})
			return err
		})
	})
}

// namingListener enqueues a naming-generate job for message:created events in
// streams that still need a generated display name.
type namingListener struct{ w *Workers }

func (w *Workers) NamingListener() *namingListener { return &namingListener{w: w} }

func (l *namingListener) ID() string { return "naming" }

func (l *namingListener) LockConfig() cursorlock.Config { return cursorlock.Config{} }

func (l *namingListener) ProcessEvents(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult {
	return processEvents(ctx, l.w, cur, func(e model.Event) error {
		if e.EventType != model.EventMessageCreated {
			return nil
		}
		streamID := payloadString(e.Payload, "streamId")
		stream, err := l.w.store.Streams().GetByID(ctx, streamID)
		if err != nil {
			return err
		}
		if stream == nil || !stream.NeedsName {
			return nil
		}
		required := !payloadBool(e.Payload, "authorIsHuman")
		return l.w.withTx(ctx, func(tx pgx.Tx) error {
			_, err := l.w.queue.Send(ctx, tx, jobqueue.QueueNamingGenerate, map[string]interface{}{
				"messageId":   payloadString(e.Payload, "messageId"),
				"streamId":    streamID,
				"workspaceId": payloadString(e.Payload, "workspaceId"),
				"required":    required,
			}, jobqueue.SendOptions{SingletonKey: "naming-" + streamID, Priority: jobqueue.PriorityNormal})
			return err
		})
	})
}

// memoAccumulatorListener records pending memo items on message:created and
// conversation:updated, then batch-triggers memo processing once a stream's
// pending count reaches the configured threshold.
type memoAccumulatorListener struct{ w *Workers }

func (w *Workers) MemoAccumulatorListener() *memoAccumulatorListener {
	return &memoAccumulatorListener{w: w}
}

func (l *memoAccumulatorListener) ID() string { return "memo-accumulator" }

func (l *memoAccumulatorListener) LockConfig() cursorlock.Config { return cursorlock.Config{} }

func (l *memoAccumulatorListener) ProcessEvents(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult {
	return processEvents(ctx, l.w, cur, func(e model.Event) error {
		var sourceType, sourceID, streamID, workspaceID string
		switch e.EventType {
		case model.EventMessageCreated:
			sourceType = "message"
			sourceID = payloadString(e.Payload, "messageId")
			streamID = payloadString(e.Payload, "streamId")
			workspaceID = payloadString(e.Payload, "workspaceId")
		case model.EventConversationUpdated:
			sourceType = "conversation"
			sourceID = payloadString(e.Payload, "conversationId")
			streamID = payloadString(e.Payload, "streamId")
			workspaceID = payloadString(e.Payload, "workspaceId")
		default:
			return nil
		}

		if err := l.w.withTx(ctx, func(tx pgx.Tx) error {
			if err := l.w.store.Memos().EnqueuePending(ctx, tx, &model.MemoPendingItem{
				StreamID:    streamID,
				WorkspaceID: workspaceID,
				SourceType:  sourceType,
				SourceID:    sourceID,
			}); err != nil {
				return err
			}
			// The check job re-reads the pending count and decides whether the
			// batch threshold is met, keeping this listener's own work cheap.
			_, err := l.w.queue.Send(ctx, tx, jobqueue.QueueMemoBatchCheck, map[string]interface{}{
				"streamId":    streamID,
				"workspaceId": workspaceID,
			}, jobqueue.SendOptions{SingletonKey: "memo-check-" + streamID, Priority: jobqueue.PriorityLow})
			return err
		}); err != nil {
			return err
		}
		return nil
	})
}

// embeddingListener enqueues an embedding job for every message:created
// event so search indexes stay current.
type embeddingListener struct{ w *Workers }

func (w *Workers) EmbeddingListener() *embeddingListener { return &embeddingListener{w: w} }

func (l *embeddingListener) ID() string { return "embedding" }

func (l *embeddingListener) LockConfig() cursorlock.Config { return cursorlock.Config{} }

func (l *embeddingListener) ProcessEvents(ctx context.Context, cur cursorlock.Cursor) cursorlock.ProcessResult {
	return processEvents(ctx, l.w, cur, func(e model.Event) error {
		if e.EventType != model.EventMessageCreated {
			return nil
		}
		messageID := payloadString(e.Payload, "messageId")
		return l.w.withTx(ctx, func(tx pgx.Tx) error {
			_, err := l.w.queue.Send(ctx, tx, jobqueue.QueueEmbedding, map[string]interface{}{
				"messageId":   messageID,
				"streamId":    payloadString(e.Payload, "streamId"),
				"workspaceId": payloadString(e.Payload, "workspaceId"),
			}, jobqueue.SendOptions{MessageID: "embed-" + messageID, Priority: jobqueue.PriorityLow})
			return err
		})
	})
}

// processEvents is the shared ProcessEvents shape every listener in this
// package follows: fetch the next batch after the cursor, apply fn to each,
// and translate the outcome into the four-variant cursorlock.ProcessResult.
// A per-event failure stops the batch there and reports ErrorPartial with
// everything processed so far, so the next lease holder resumes cleanly.
func processEvents(ctx context.Context, w *Workers, cur cursorlock.Cursor, fn func(model.Event) error) cursorlock.ProcessResult {
	events, err := w.events.FetchAfter(ctx, cur.LastProcessedID, w.cfg.FetchBatchSize, cur.ProcessedIDs)
	if err != nil {
		return cursorlock.ProcessResult{Kind: cursorlock.ErrorPartial, Err: err}
	}
	if len(events) == 0 {
		return cursorlock.ProcessResult{Kind: cursorlock.NoEvents}
	}

	var maxID int64
	for _, e := range events {
		if err := fn(e); err != nil {
			return cursorlock.ProcessResult{Kind: cursorlock.ErrorPartial, NewCursor: maxID, Err: err}
		}
		maxID = e.ID
	}
	return cursorlock.ProcessResult{Kind: cursorlock.Processed, NewCursor: maxID}
}
