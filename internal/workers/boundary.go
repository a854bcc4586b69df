package workers

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/eventlog"
	"github.com/chatcore/eventsub/internal/jobqueue"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/runner"
)

var boundarySchema = aicost.Schema{
	Required: []string{"conversations"},
	Types:    map[string]string{"conversations": "array"},
}

// boundaryHandler carves knowledge-worthy Conversation boundaries out of a
// Stream's messages. Its Fetch phase captures the set of conversation ids
// that are legitimately open for completeness updates; Commit rejects any
// model-proposed update outside that set, per spec.md §4.H's security rule —
// a conversation id must have been visible during Fetch to be mutated.
type boundaryHandler struct {
	w           *Workers
	messageID   string
	streamID    string
	workspaceID string
}

func (w *Workers) BoundaryExtractJobHandler() jobqueue.Handler {
	return func(ctx context.Context, j *model.Job) error {
		h := &boundaryHandler{
			w:           w,
			messageID:   payloadString(j.Payload, "messageId"),
			streamID:    payloadString(j.Payload, "streamId"),
			workspaceID: payloadString(j.Payload, "workspaceId"),
		}
		return runner.Run(ctx, w.pool, h)
	}
}

type boundarySnapshot struct {
	trigger        *model.Message
	history        []*model.Message
	openConvos     []*model.Conversation
	validTargets   map[string]struct{}
	streamID       string
	workspaceID    string
}

func (h *boundaryHandler) Fetch(ctx context.Context, r runner.Reader) (runner.Snapshot, error) {
	trigger, err := h.w.store.Messages().GetByID(ctx, h.messageID)
	if err != nil {
		return nil, err
	}
	if trigger == nil {
		return nil, fmt.Errorf("workers: boundary extraction message %s not found", h.messageID)
	}

	history, err := h.w.store.Messages().Recent(ctx, h.streamID, 20)
	if err != nil {
		return nil, err
	}

	open, err := h.w.store.Conversations().OpenForStream(ctx, h.streamID)
	if err != nil {
		return nil, err
	}

	valid := make(map[string]struct{}, len(open))
	for _, c := range open {
		valid[c.ConversationID] = struct{}{}
	}

	return &boundarySnapshot{
		trigger:      trigger,
		history:      history,
		openConvos:   open,
		validTargets: valid,
		streamID:     h.streamID,
		workspaceID:  h.workspaceID,
	}, nil
}

type conversationUpdate struct {
	action         string // create | update
	conversationID string
	title          string
	summary        string
	complete       bool
}

type boundaryEffect struct {
	updates      []conversationUpdate
	validTargets map[string]struct{}
}

func (h *boundaryHandler) Compute(ctx context.Context, snap runner.Snapshot) (runner.Effect, error) {
	s := snap.(*boundarySnapshot)

	cc := aicost.CallContext{
		WorkspaceID: s.workspaceID,
		FunctionID:  "workers.boundary_extract",
		Origin:      aicost.OriginSystem,
	}
	obj, err := h.w.ai.GenerateObject(ctx, cc, h.w.cfg.BoundaryModel, boundaryPrompt(s), boundarySchema)
	if err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, nil
	}

	updates := parseConversationUpdates(obj["conversations"])
	if len(updates) == 0 {
		return nil, nil
	}
	return &boundaryEffect{updates: updates, validTargets: s.validTargets}, nil
}

// Commit applies every model-proposed fragment in its own right: a fragment
// that fails validation (an update targeting a conversation outside the valid
// open set, or an action the model invented) is dropped and logged, and the
// loop continues with the valid remainder rather than aborting the whole
// transaction — per spec.md §7's security-violation handling.
func (h *boundaryHandler) Commit(ctx context.Context, tx pgx.Tx, eff runner.Effect) error {
	e := eff.(*boundaryEffect)

	for _, u := range e.updates {
		switch u.action {
		case "create":
			if err := h.commitCreate(ctx, tx, u); err != nil {
				return err
			}
		case "update":
			if err := h.commitUpdate(ctx, tx, u, e.validTargets); err != nil {
				return err
			}
		default:
			h.w.log.Warn().
				Str("action", u.action).
				Str("stream_id", h.streamID).
				Msg("workers: boundary extraction dropped fragment with unknown action")
		}
	}
	return nil
}

func (h *boundaryHandler) commitCreate(ctx context.Context, tx pgx.Tx, u conversationUpdate) error {
	c := &model.Conversation{
		StreamID:    h.streamID,
		WorkspaceID: h.workspaceID,
		Title:       u.title,
		Summary:     u.summary,
		Complete:    u.complete,
	}
	created, err := h.w.store.Conversations().Create(ctx, tx, c)
	if err != nil {
		return err
	}
	if _, err := eventlog.Append(ctx, tx, model.EventConversationCreated, created.ConversationID, map[string]interface{}{
		"conversationId": created.ConversationID,
		"streamId":       h.streamID,
		"workspaceId":    h.workspaceID,
	}); err != nil {
		return err
	}
	return eventlog.NotifyChange(ctx, tx, h.w.cfg.NotifyChannel)
}

// commitUpdate applies a completeness update, rejecting any conversation id
// that was not among the open, valid-update-target set captured during
// Fetch — the model cannot mutate a conversation it never legitimately saw.
// A rejected target is a dropped fragment, not a Commit failure: it is logged
// with the attempted target and commitUpdate returns nil so Commit's loop
// keeps processing the valid remainder, per spec.md §7/§4.H.
func (h *boundaryHandler) commitUpdate(ctx context.Context, tx pgx.Tx, u conversationUpdate, validTargets map[string]struct{}) error {
	if _, ok := validTargets[u.conversationID]; !ok {
		h.w.log.Warn().
			Str("attempted_target", u.conversationID).
			Str("stream_id", h.streamID).
			Msg("workers: boundary extraction rejected completeness update: not a valid open target")
		return nil
	}

	existing, err := h.w.store.Conversations().GetByID(ctx, u.conversationID)
	if err != nil {
		return err
	}
	if existing == nil || existing.StreamID != h.streamID {
		h.w.log.Warn().
			Str("attempted_target", u.conversationID).
			Str("stream_id", h.streamID).
			Msg("workers: boundary extraction rejected completeness update: target not found in stream")
		return nil
	}

	existing.Title = u.title
	existing.Summary = u.summary
	existing.Complete = u.complete
	if err := h.w.store.Conversations().Update(ctx, tx, existing); err != nil {
		return err
	}
	if _, err := eventlog.Append(ctx, tx, model.EventConversationUpdated, existing.ConversationID, map[string]interface{}{
		"conversationId": existing.ConversationID,
		"streamId":       h.streamID,
		"workspaceId":    h.workspaceID,
		"complete":       existing.Complete,
	}); err != nil {
		return err
	}
	return eventlog.NotifyChange(ctx, tx, h.w.cfg.NotifyChannel)
}

func boundaryPrompt(s *boundarySnapshot) string {
	var b strings.Builder
	b.WriteString("Identify the knowledge-worthy conversation boundaries this message belongs to.\n")
	if len(s.history) > 0 {
		b.WriteString("Recent stream history:\n")
		for _, m := range s.history {
			fmt.Fprintf(&b, "- %s\n", m.Body)
		}
	}
	fmt.Fprintf(&b, "Trigger message: %s\n", s.trigger.Body)
	if len(s.openConvos) > 0 {
		b.WriteString("Currently open conversations (valid update targets):\n")
		for _, c := range s.openConvos {
			fmt.Fprintf(&b, "- %s: %s\n", c.ConversationID, c.Title)
		}
	}
	b.WriteString("Reply with {conversations: [{action: \"create\"|\"update\", conversationId?, title, summary, complete}]}.")
	return b.String()
}

func parseConversationUpdates(raw interface{}) []conversationUpdate {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]conversationUpdate, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		action, _ := m["action"].(string)
		if action == "" {
			continue
		}
		id, _ := m["conversationId"].(string)
		title, _ := m["title"].(string)
		summary, _ := m["summary"].(string)
		complete, _ := m["complete"].(bool)
		if action == "update" && id == "" {
			continue
		}
		out = append(out, conversationUpdate{
			action:         action,
			conversationID: id,
			title:          title,
			summary:        summary,
			complete:       complete,
		})
	}
	return out
}
