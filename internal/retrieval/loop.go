// Package retrieval implements the agentic Retrieval Loop: a cached,
// budget-aware DECIDE/EXECUTE/EVALUATE state machine that plans and runs
// hybrid searches over memos, messages, and attachments on behalf of a
// triggering message, grounded on the hybrid-search shape of
// internal/search/waviate.go and run through the Three-Phase Runner like
// every other AI-calling handler in this codebase.
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/model"
	"github.com/chatcore/eventsub/internal/runner"
	"github.com/chatcore/eventsub/internal/search"
	"github.com/chatcore/eventsub/internal/store"
)

// objectGenerator is the narrow slice of aicost.Facade the loop depends on,
// letting tests substitute a fake planner/evaluator without a live model
// provider.
type objectGenerator interface {
	GenerateObject(ctx context.Context, cc aicost.CallContext, modelName, prompt string, schema aicost.Schema) (map[string]interface{}, error)
}

// Config tunes the loop, mirroring spec.md §4.G's named parameters.
type Config struct {
	MaxIterations int
	ResultCap     int
	SearchAlpha   float32
	DecideModel   string
	EvaluateModel string
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = 5
	}
	if c.ResultCap <= 0 {
		c.ResultCap = 5
	}
	if c.SearchAlpha <= 0 {
		c.SearchAlpha = 0.6
	}
	if c.DecideModel == "" {
		c.DecideModel = "gpt-4o-mini"
	}
	if c.EvaluateModel == "" {
		c.EvaluateModel = c.DecideModel
	}
	return c
}

// Loop is the Retrieval Loop. One Loop is shared across invocations; each
// Invoke call builds a fresh invocationHandler carrying just that call's
// input and output.
type Loop struct {
	pool     *pgxpool.Pool
	store    store.Store
	searcher search.Searcher
	embedder search.Embedder
	ai       objectGenerator
	cache    *cacheStore
	cfg      Config
	log      zerolog.Logger
}

func New(pool *pgxpool.Pool, st store.Store, searcher search.Searcher, embedder search.Embedder, ai objectGenerator, cfg Config, log zerolog.Logger) *Loop {
	return &Loop{
		pool:     pool,
		store:    st,
		searcher: searcher,
		embedder: embedder,
		ai:       ai,
		cache:    newCacheStore(pool),
		cfg:      cfg.withDefaults(),
		log:      log,
	}
}

// Invoke runs the Retrieval Loop for inv through the Three-Phase Runner and
// returns its Result.
func (l *Loop) Invoke(ctx context.Context, inv Invocation) (Result, error) {
	h := &invocationHandler{loop: l, inv: inv}
	if err := runner.Run(ctx, l.pool, h); err != nil {
		return Result{}, err
	}
	return h.result, nil
}

// invocationHandler is a runner.Handler scoped to a single Invoke call.
type invocationHandler struct {
	loop   *Loop
	inv    Invocation
	result Result
}

type fetchSnapshot struct {
	inv       Invocation
	streamIDs []string
	noAccess  bool
}

type computeEffect struct {
	result Result
}

func (h *invocationHandler) Fetch(ctx context.Context, r runner.Reader) (runner.Snapshot, error) {
	if h.inv.TriggerMessage == nil {
		return nil, fmt.Errorf("retrieval: invocation missing trigger message")
	}

	cached, err := h.loop.cache.get(ctx, r, h.inv.WorkspaceID, h.inv.TriggerMessage.MessageID)
	if err != nil {
		return nil, err
	}
	if cached != nil {
		h.result = Result{
			ShouldSearch:      cached.ShouldSearch,
			RetrievedContext:  cached.RetrievedContext,
			Sources:           cached.Sources,
			SearchesPerformed: cached.SearchesPerformed,
		}
		return nil, nil
	}

	streamIDs, err := h.loop.resolveAccessSpec(ctx, h.inv)
	if err != nil {
		return nil, err
	}
	return &fetchSnapshot{inv: h.inv, streamIDs: streamIDs, noAccess: len(streamIDs) == 0}, nil
}

// resolveAccessSpec materializes the concrete accessible stream id set for
// one of the three access specifications spec.md §4.G names: memberUnion
// when the invocation carries DM participants, streamIds(set) for the
// ordinary single-stream case, and allStreams when the caller explicitly
// asks for a workspace-wide search (e.g. a command dispatched with no
// stream context).
func (l *Loop) resolveAccessSpec(ctx context.Context, inv Invocation) ([]string, error) {
	if len(inv.DMParticipantIDs) > 0 {
		return l.store.Streams().ForAnyMember(ctx, inv.DMParticipantIDs)
	}
	if inv.StreamID == "" {
		return l.store.Streams().ForWorkspace(ctx, inv.WorkspaceID)
	}
	return []string{inv.StreamID}, nil
}

func (h *invocationHandler) Compute(ctx context.Context, snap runner.Snapshot) (runner.Effect, error) {
	s := snap.(*fetchSnapshot)
	if s.noAccess {
		return &computeEffect{result: Result{}}, nil
	}

	acc := newAccumulator()
	var searchesPerformed []model.SearchExecuted
	var pending []query
	state := stateDecide
	iteration := 0

	for {
		switch state {
		case stateDecide:
			resp, err := h.loop.decide(ctx, s)
			baseline := baselineQueries(s.inv.TriggerMessage)
			switch {
			case err != nil || resp.DecisionFailed:
				pending = baseline
			case !resp.NeedsSearch:
				// Model decided no search is needed and returned no queries:
				// per spec.md §4.G this finalizes empty, it does not fall
				// back to baseline (baseline is reserved for planner failure
				// or a needsSearch=true decision with no queries).
				pending = nil
			case len(resp.Queries) == 0:
				pending = baseline
			default:
				pending = mergeDedup(resp.Queries, baseline)
			}
			if len(pending) == 0 {
				state = stateFinalize
				continue
			}
			state = stateExecute

		case stateExecute:
			executed := h.loop.execute(ctx, s, pending, acc)
			searchesPerformed = append(searchesPerformed, executed...)
			iteration++
			pending = nil
			state = stateEvaluate

		case stateEvaluate:
			if iteration >= h.loop.cfg.MaxIterations {
				state = stateFinalize
				continue
			}
			resp, err := h.loop.evaluate(ctx, s, acc)
			if err != nil {
				if acc.empty() {
					if baseline := baselineQueries(s.inv.TriggerMessage); len(baseline) > 0 {
						pending = baseline
						state = stateExecute
						continue
					}
				}
				state = stateFinalize
				continue
			}
			if resp.Sufficient || len(resp.AdditionalQueries) == 0 {
				state = stateFinalize
				continue
			}
			pending = resp.AdditionalQueries
			state = stateExecute

		case stateFinalize:
			result := h.loop.render(acc, searchesPerformed)
			return &computeEffect{result: result}, nil
		}
	}
}

func (h *invocationHandler) Commit(ctx context.Context, tx pgx.Tx, eff runner.Effect) error {
	result := eff.(*computeEffect).result
	h.result = result

	entry := &model.RetrievalCacheEntry{
		WorkspaceID:       h.inv.WorkspaceID,
		TriggerMessageID:  h.inv.TriggerMessage.MessageID,
		ShouldSearch:      result.ShouldSearch,
		RetrievedContext:  result.RetrievedContext,
		Sources:           result.Sources,
		SearchesPerformed: result.SearchesPerformed,
	}
	return h.loop.cache.put(ctx, tx, entry)
}

// render flattens the accumulator into the final Result. The cached entry
// never carries the enriched memo/message/attachment detail — only a
// rendered context string and the source id list — per spec.md §9's
// explicit note that this asymmetry is deliberate; downstream consumers
// needing the detail must refetch by id.
func (l *Loop) render(acc *accumulator, searchesPerformed []model.SearchExecuted) Result {
	memos, messages, attachments := acc.snapshot()

	var sb strings.Builder
	var sources []string
	for _, m := range memos {
		sb.WriteString(m.Body)
		sb.WriteString("\n")
		sources = append(sources, m.MemoID)
	}
	for _, m := range messages {
		sb.WriteString(m.Body)
		sb.WriteString("\n")
		sources = append(sources, m.MessageID)
	}
	for _, a := range attachments {
		sb.WriteString(a.ExtractionText)
		sb.WriteString("\n")
		sources = append(sources, a.AttachmentID)
	}

	return Result{
		ShouldSearch:      len(searchesPerformed) > 0,
		RetrievedContext:  strings.TrimSpace(sb.String()),
		Sources:           sources,
		Memos:             memos,
		Messages:          messages,
		Attachments:       attachments,
		SearchesPerformed: searchesPerformed,
	}
}

// mergeDedup merges planned queries with baseline queries, deduping on
// (target, type, text) per spec.md §4.G DECIDE.
func mergeDedup(planned, baseline []query) []query {
	seen := make(map[string]struct{}, len(planned)+len(baseline))
	out := make([]query, 0, len(planned)+len(baseline))
	for _, q := range append(append([]query{}, planned...), baseline...) {
		k := dedupKey(q)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, q)
	}
	return out
}
