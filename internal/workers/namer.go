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

const (
	namerSentinel   = "NOT_ENOUGH_CONTEXT"
	namerMaxNameLen = 100
)

var namerSchema = aicost.Schema{
	Required: []string{"name"},
	Types:    map[string]string{"name": "string"},
}

// namerHandler generates a display name for a stream that still needs one.
// When the triggering message came from a human author the model may decline
// with namerSentinel and nothing is set (optional mode). When the trigger
// came from a non-human author the same decline is a hard failure (required
// mode) — per spec.md §4.H's optional/required distinction.
type namerHandler struct {
	w           *Workers
	messageID   string
	streamID    string
	workspaceID string
	required    bool
}

func (w *Workers) NamingJobHandler() jobqueue.Handler {
	return func(ctx context.Context, j *model.Job) error {
		h := &namerHandler{
			w:           w,
			messageID:   payloadString(j.Payload, "messageId"),
			streamID:    payloadString(j.Payload, "streamId"),
			workspaceID: payloadString(j.Payload, "workspaceId"),
			required:    payloadBool(j.Payload, "required"),
		}
		return runner.Run(ctx, w.pool, h)
	}
}

type namerSnapshot struct {
	stream   *model.Stream
	recent   []*model.Message
	required bool
}

func (h *namerHandler) Fetch(ctx context.Context, r runner.Reader) (runner.Snapshot, error) {
	stream, err := h.w.store.Streams().GetByID(ctx, h.streamID)
	if err != nil {
		return nil, err
	}
	if stream == nil || !stream.NeedsName {
		// Already named (or raced with another naming pass) — nothing to do.
		return nil, nil
	}

	recent, err := h.w.store.Messages().Recent(ctx, h.streamID, 10)
	if err != nil {
		return nil, err
	}

	return &namerSnapshot{stream: stream, recent: recent, required: h.required}, nil
}

type namerEffect struct {
	name string
}

func (h *namerHandler) Compute(ctx context.Context, snap runner.Snapshot) (runner.Effect, error) {
	s := snap.(*namerSnapshot)

	cc := aicost.CallContext{
		WorkspaceID: h.workspaceID,
		FunctionID:  "workers.namer",
		Origin:      aicost.OriginSystem,
	}
	obj, err := h.w.ai.GenerateObject(ctx, cc, h.w.cfg.NamerModel, namerPrompt(s), namerSchema)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		if s.required {
			return nil, fmt.Errorf("workers: naming required but model call produced no result for stream %s", h.streamID)
		}
		return nil, nil
	}

	name, _ := obj["name"].(string)
	name = strings.Trim(strings.TrimSpace(name), `"'`)
	if name == "" || strings.EqualFold(name, namerSentinel) {
		if s.required {
			return nil, fmt.Errorf("workers: naming required but model declined with %q for stream %s", namerSentinel, h.streamID)
		}
		return nil, nil
	}
	if len(name) > namerMaxNameLen {
		name = name[:namerMaxNameLen]
	}

	return &namerEffect{name: name}, nil
}

// Commit only updates the streams row. The closed event taxonomy (spec.md
// §6) has no stream-naming event and nothing downstream subscribes to one,
// so, like the memo processor and embedder commits and unlike Boundary
// Extraction's, this commit deliberately appends no Event Log row.
func (h *namerHandler) Commit(ctx context.Context, tx pgx.Tx, eff runner.Effect) error {
	e := eff.(*namerEffect)
	if err := h.w.store.Streams().ClearNeedsName(ctx, tx, h.streamID); err != nil {
		return err
	}
	_, err := tx.Exec(ctx, `UPDATE streams SET title = $1 WHERE stream_id = $2`, e.name, h.streamID)
	return err
}

func namerPrompt(s *namerSnapshot) string {
	var b strings.Builder
	b.WriteString("Generate a short display name (at most 100 characters) for this conversation stream, based on its recent messages.\n")
	for _, m := range s.recent {
		fmt.Fprintf(&b, "- %s\n", m.Body)
	}
	fmt.Fprintf(&b, "If there is not enough context to name it, reply with exactly %q.\n", namerSentinel)
	b.WriteString(`Reply with {"name": "..."}.`)
	return b.String()
}
