package retrieval

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/chatcore/eventsub/internal/model"
)

// accumulator holds deduplicated cross-iteration results. Writes come from
// concurrent per-query goroutines, so every method is mutex-guarded; results
// are monotonic within an invocation per spec.md §4.G's stated invariant —
// nothing here ever removes an entry once added.
type accumulator struct {
	mu          sync.Mutex
	memos       map[string]*model.Memo
	messages    map[string]*model.Message
	attachments map[string]*model.Attachment
}

func newAccumulator() *accumulator {
	return &accumulator{
		memos:       make(map[string]*model.Memo),
		messages:    make(map[string]*model.Message),
		attachments: make(map[string]*model.Attachment),
	}
}

func (a *accumulator) addMemo(m *model.Memo) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.memos[m.MemoID] = m
}

func (a *accumulator) addMessage(m *model.Message) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.messages[m.MessageID] = m
}

func (a *accumulator) addAttachment(att *model.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attachments[att.AttachmentID] = att
}

func (a *accumulator) empty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.memos) == 0 && len(a.messages) == 0 && len(a.attachments) == 0
}

func (a *accumulator) snapshot() ([]*model.Memo, []*model.Message, []*model.Attachment) {
	a.mu.Lock()
	defer a.mu.Unlock()

	memos := make([]*model.Memo, 0, len(a.memos))
	for _, m := range a.memos {
		memos = append(memos, m)
	}
	sort.Slice(memos, func(i, j int) bool { return memos[i].MemoID < memos[j].MemoID })

	messages := make([]*model.Message, 0, len(a.messages))
	for _, m := range a.messages {
		messages = append(messages, m)
	}
	sort.Slice(messages, func(i, j int) bool { return messages[i].CreationTime.Before(messages[j].CreationTime) })

	attachments := make([]*model.Attachment, 0, len(a.attachments))
	for _, att := range a.attachments {
		attachments = append(attachments, att)
	}
	sort.Slice(attachments, func(i, j int) bool { return attachments[i].AttachmentID < attachments[j].AttachmentID })

	return memos, messages, attachments
}

// execute runs every pending query in parallel (one goroutine each),
// isolating per-query failures: a failing search logs, contributes zero
// results, and never aborts the others, per spec.md §4.G's explicit
// failure-isolation invariant.
func (l *Loop) execute(ctx context.Context, s *fetchSnapshot, pending []query, acc *accumulator) []model.SearchExecuted {
	executed := make([]model.SearchExecuted, len(pending))
	var wg sync.WaitGroup
	for i, q := range pending {
		i, q := i, q
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := l.executeOne(ctx, s, q, acc)
			if err != nil {
				l.log.Warn().Err(err).Str("target", q.Target).Str("type", q.Type).Msg("retrieval query failed; isolated")
				n = 0
			}
			executed[i] = model.SearchExecuted{Target: q.Target, Type: q.Type, QueryText: q.QueryText, ResultCount: n}
		}()
	}
	wg.Wait()
	return executed
}

// executeOne dispatches a single query per its per-target execution rule
// (spec.md §4.G.execution) and returns the number of results it merged.
func (l *Loop) executeOne(ctx context.Context, s *fetchSnapshot, q query, acc *accumulator) (int, error) {
	switch q.Target {
	case "memos":
		return l.searchMemos(ctx, s, q, acc)
	case "messages":
		return l.searchMessages(ctx, s, q, acc)
	case "attachments":
		return l.searchAttachments(ctx, s, q, acc)
	default:
		return 0, fmt.Errorf("retrieval: unknown search target %q", q.Target)
	}
}

// searchMemos implements the memos,semantic and memos,exact rules: exact is
// always full-text; semantic embeds the text and falls back to full-text
// when the hybrid search returns nothing.
func (l *Loop) searchMemos(ctx context.Context, s *fetchSnapshot, q query, acc *accumulator) (int, error) {
	var vec []float32
	alpha := float32(0)
	if q.Type == "semantic" {
		if v, err := l.embedder.Embed(ctx, q.QueryText); err == nil {
			vec = v
			alpha = l.cfg.SearchAlpha
		}
	}

	hits, err := l.searcher.SearchMemos(ctx, s.inv.WorkspaceID, s.streamIDs, q.QueryText, vec, l.cfg.ResultCap, alpha)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 && alpha > 0 {
		hits, err = l.searcher.SearchMemos(ctx, s.inv.WorkspaceID, s.streamIDs, q.QueryText, nil, l.cfg.ResultCap, 0)
		if err != nil {
			return 0, err
		}
	}
	for _, h := range hits {
		acc.addMemo(&model.Memo{MemoID: h.ID, StreamID: h.StreamID, WorkspaceID: h.WorkspaceID, Body: h.Snippet})
	}
	return len(hits), nil
}

// searchMessages implements the messages,* rule: exact wraps the text in
// quotes for a phrase match; hybrid full-text+semantic search retries
// full-text-only if the hybrid pass is empty; top hits are enriched with
// immediate neighbors and each hit stream's most recent messages.
func (l *Loop) searchMessages(ctx context.Context, s *fetchSnapshot, q query, acc *accumulator) (int, error) {
	text := q.QueryText
	if q.Type == "exact" {
		text = `"` + text + `"`
	}

	var vec []float32
	alpha := l.cfg.SearchAlpha
	if v, err := l.embedder.Embed(ctx, text); err == nil {
		vec = v
	} else {
		alpha = 0
	}

	hits, err := l.searcher.SearchMessages(ctx, s.inv.WorkspaceID, s.streamIDs, text, vec, l.cfg.ResultCap, alpha)
	if err != nil {
		return 0, err
	}
	if len(hits) == 0 && alpha > 0 {
		hits, err = l.searcher.SearchMessages(ctx, s.inv.WorkspaceID, s.streamIDs, text, nil, l.cfg.ResultCap, 0)
		if err != nil {
			return 0, err
		}
	}

	triggerID := ""
	if s.inv.TriggerMessage != nil {
		triggerID = s.inv.TriggerMessage.MessageID
	}

	var kept []searchHitRef
	for _, h := range hits {
		if h.ID == triggerID {
			continue
		}
		kept = append(kept, searchHitRef{id: h.ID, streamID: h.StreamID, snippet: h.Snippet})
		acc.addMessage(&model.Message{MessageID: h.ID, StreamID: h.StreamID, WorkspaceID: h.WorkspaceID, Body: h.Snippet})
	}

	l.enrichMessageNeighbors(ctx, kept, acc)
	l.enrichRecentMessages(ctx, kept, acc)

	return len(kept), nil
}

type searchHitRef struct {
	id       string
	streamID string
	snippet  string
}

// enrichMessageNeighbors adds 1 message before and 1 after each of the top 3
// hits, same stream, per spec.md §4.G.execution.
func (l *Loop) enrichMessageNeighbors(ctx context.Context, hits []searchHitRef, acc *accumulator) {
	for i, h := range hits {
		if i >= 3 {
			break
		}
		neighbors, err := l.store.Messages().Neighbors(ctx, h.streamID, h.id, 1, 1)
		if err != nil {
			l.log.Warn().Err(err).Str("message_id", h.id).Msg("retrieval neighbor enrichment failed; isolated")
			continue
		}
		for _, m := range neighbors {
			acc.addMessage(m)
		}
	}
}

// enrichRecentMessages adds the 5 most recent messages of each of the top 2
// hit streams, per spec.md §4.G.execution.
func (l *Loop) enrichRecentMessages(ctx context.Context, hits []searchHitRef, acc *accumulator) {
	seen := make(map[string]struct{})
	count := 0
	for _, h := range hits {
		if count >= 2 {
			break
		}
		if _, ok := seen[h.streamID]; ok {
			continue
		}
		seen[h.streamID] = struct{}{}
		count++

		recent, err := l.store.Messages().Recent(ctx, h.streamID, 5)
		if err != nil {
			l.log.Warn().Err(err).Str("stream_id", h.streamID).Msg("retrieval recent-message enrichment failed; isolated")
			continue
		}
		for _, m := range recent {
			acc.addMessage(m)
		}
	}
}

// searchAttachments implements the attachments,* rule: keyword search over
// filename and extraction text only, no semantic component.
func (l *Loop) searchAttachments(ctx context.Context, s *fetchSnapshot, q query, acc *accumulator) (int, error) {
	hits, err := l.searcher.SearchAttachments(ctx, s.inv.WorkspaceID, s.streamIDs, q.QueryText, l.cfg.ResultCap)
	if err != nil {
		return 0, err
	}
	for _, h := range hits {
		acc.addAttachment(&model.Attachment{
			AttachmentID:   h.ID,
			StreamID:       h.StreamID,
			WorkspaceID:    h.WorkspaceID,
			Filename:       filenameFromSnippet(h.Snippet),
			ExtractionText: h.Snippet,
		})
	}
	return len(hits), nil
}

func filenameFromSnippet(snippet string) string {
	if i := strings.Index(snippet, "\n"); i >= 0 {
		return snippet[:i]
	}
	return snippet
}
