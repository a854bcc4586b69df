package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/chatcore/eventsub/internal/aicost"
	"github.com/chatcore/eventsub/internal/model"
)

var decideSchema = aicost.Schema{
	Required: []string{"needsSearch", "queries"},
	Types: map[string]string{
		"needsSearch": "bool",
		"queries":     "array",
	},
}

var evaluateSchema = aicost.Schema{
	Required: []string{"sufficient"},
	Types: map[string]string{
		"sufficient": "bool",
	},
}

// decide runs the DECIDE state's planning model call.
func (l *Loop) decide(ctx context.Context, s *fetchSnapshot) (decideResponse, error) {
	cc := aicost.CallContext{
		WorkspaceID: s.inv.WorkspaceID,
		ActorID:     s.inv.ActorID,
		FunctionID:  "retrieval.decide",
		Origin:      aicost.OriginSystem,
	}
	obj, err := l.ai.GenerateObject(ctx, cc, l.cfg.DecideModel, decidePrompt(s.inv), decideSchema)
	if err != nil {
		return decideResponse{}, err
	}
	if obj == nil {
		return decideResponse{DecisionFailed: true}, nil
	}
	return parseDecideResponse(obj), nil
}

// evaluate runs the EVALUATE state's sufficiency model call.
func (l *Loop) evaluate(ctx context.Context, s *fetchSnapshot, acc *accumulator) (evaluateResponse, error) {
	cc := aicost.CallContext{
		WorkspaceID: s.inv.WorkspaceID,
		ActorID:     s.inv.ActorID,
		FunctionID:  "retrieval.evaluate",
		Origin:      aicost.OriginSystem,
	}
	obj, err := l.ai.GenerateObject(ctx, cc, l.cfg.EvaluateModel, evaluatePrompt(s.inv, acc), evaluateSchema)
	if err != nil {
		return evaluateResponse{}, err
	}
	if obj == nil {
		return evaluateResponse{}, fmt.Errorf("retrieval: evaluate call returned no structured result")
	}
	return parseEvaluateResponse(obj), nil
}

func decidePrompt(inv Invocation) string {
	var b strings.Builder
	b.WriteString("Decide whether additional context is needed to respond to this message.\n")
	fmt.Fprintf(&b, "Trigger message: %s\n", inv.TriggerMessage.Body)
	if len(inv.ConversationHistory) > 0 {
		b.WriteString("Recent history:\n")
		for _, m := range inv.ConversationHistory {
			fmt.Fprintf(&b, "- %s\n", m.Body)
		}
	}
	b.WriteString("Reply with {needsSearch, reasoning, queries: [{target, type, queryText}]}.")
	return b.String()
}

func evaluatePrompt(inv Invocation, acc *accumulator) string {
	memos, messages, attachments := acc.snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "Trigger message: %s\n", inv.TriggerMessage.Body)
	fmt.Fprintf(&b, "Results so far: %d memos, %d messages, %d attachments.\n", len(memos), len(messages), len(attachments))
	b.WriteString("Reply with {sufficient, reasoning, additionalQueries: [{target, type, queryText}] | null}.")
	return b.String()
}

// baselineQueries derives the deterministic fallback query set from the
// trigger message text: the trimmed full text, plus, when it has at least
// four words, its first and second half, one semantic query per variant
// against memos and against messages, per spec.md §4.G DECIDE/EVALUATE fallback
// rules and the baseline-query-fallback testable property in spec.md §8.
func baselineQueries(trigger *model.Message) []query {
	if trigger == nil {
		return nil
	}
	text := strings.TrimSpace(trigger.Body)
	if text == "" {
		return nil
	}

	variants := []string{text}
	words := strings.Fields(text)
	if len(words) >= 4 {
		mid := len(words) / 2
		variants = append(variants, strings.Join(words[:mid], " "), strings.Join(words[mid:], " "))
	}

	targets := []string{"memos", "messages"}
	var out []query
	for _, v := range variants {
		for _, t := range targets {
			out = append(out, query{Target: t, Type: "semantic", QueryText: v})
		}
	}
	return out
}

func parseDecideResponse(obj map[string]interface{}) decideResponse {
	var resp decideResponse
	resp.NeedsSearch, _ = obj["needsSearch"].(bool)
	resp.Reasoning, _ = obj["reasoning"].(string)
	if raw, ok := obj["decisionFailed"].(bool); ok {
		resp.DecisionFailed = raw
	}
	resp.Queries = parseQueries(obj["queries"])
	return resp
}

func parseEvaluateResponse(obj map[string]interface{}) evaluateResponse {
	var resp evaluateResponse
	resp.Sufficient, _ = obj["sufficient"].(bool)
	resp.Reasoning, _ = obj["reasoning"].(string)
	resp.AdditionalQueries = parseQueries(obj["additionalQueries"])
	return resp
}

func parseQueries(raw interface{}) []query {
	list, ok := raw.([]interface{})
	if !ok {
		return nil
	}
	out := make([]query, 0, len(list))
	for _, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		target, _ := m["target"].(string)
		qtype, _ := m["type"].(string)
		text, _ := m["queryText"].(string)
		if target == "" || text == "" {
			continue
		}
		if qtype == "" {
			qtype = "semantic"
		}
		out = append(out, query{Target: target, Type: qtype, QueryText: text})
	}
	return out
}
