package retrieval

import (
	"github.com/chatcore/eventsub/internal/model"
)

// Invocation is the input to a single Retrieval Loop run.
type Invocation struct {
	WorkspaceID         string
	StreamID            string
	TriggerMessage      *model.Message
	ConversationHistory []*model.Message
	ActorID             string
	// DMParticipantIDs, when non-empty, narrows the access specification to
	// the memberUnion of these actor ids instead of the trigger stream alone.
	DMParticipantIDs []string
}

// Result is the output a Retrieval Loop invocation produces, matching
// spec.md §4.G's {retrievedContext, sources, memos, messages, attachments,
// searchesPerformed} tuple.
type Result struct {
	ShouldSearch      bool
	RetrievedContext  string
	Sources           []string
	Memos             []*model.Memo
	Messages          []*model.Message
	Attachments       []*model.Attachment
	SearchesPerformed []model.SearchExecuted
}

// query is one planned or baseline search, per (target, type, queryText).
// It is an alias of model.SearchQuery; a query that has run is recorded as a
// model.SearchExecuted.
type query = model.SearchQuery

func dedupKey(q query) string { return q.Target + "|" + q.Type + "|" + q.QueryText }

// decideResponse is the DECIDE state's structured model output.
type decideResponse struct {
	NeedsSearch    bool
	DecisionFailed bool
	Reasoning      string
	Queries        []query
}

// evaluateResponse is the EVALUATE state's structured model output.
type evaluateResponse struct {
	Sufficient        bool
	Reasoning         string
	AdditionalQueries []query
}

// loopState names the states of the DECIDE/EXECUTE/EVALUATE machine.
type loopState int

const (
	stateDecide loopState = iota
	stateExecute
	stateEvaluate
	stateFinalize
)

// hit is an internal accumulator entry before enrichment/rendering.
type hit struct {
	ID      string
	Snippet string
	Score   float64
}
