// Package aicost wraps calls to the model provider with budget enforcement
// and per-call usage recording, grounded on the resty-based HTTP provider
// pattern used elsewhere in this codebase for embeddings, generalized from a
// single /api/embeddings endpoint to the four-operation AI facade the spec
// names (generateText, generateObject, embed, embedMany).
package aicost

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/chatcore/eventsub/internal/model"
)

// CallContext is threaded explicitly through every facade call, carrying the
// attribution the cost accumulator needs. This replaces the source's
// thread-local/async-local cost accumulator with an explicit value passed
// through the context handle the core already threads.
type CallContext struct {
	WorkspaceID string
	ActorID     string
	SessionID   string
	FunctionID  string
	Origin      Origin
}

type Origin string

const (
	OriginSystem Origin = "system"
	OriginUser   Origin = "user"
)

// Usage is the terminating usage block extracted from a provider response.
type Usage struct {
	PromptTokens     int64
	CompletionTokens int64
	TotalTokens      int64
	CostUSD          *float64
}

// Facade is the AI surface handlers call through. It is always routed through
// checkBudget before issuing any HTTP request, and throttled by limiter ahead
// of the job-queue's own retry-with-backoff layer so a burst of handlers
// never hammers the provider faster than it can take.
type Facade struct {
	client   *resty.Client
	budget   *Enforcer
	recorder *Recorder
	log      zerolog.Logger
	limiter  *rate.Limiter
}

// NewFacade builds a Facade. ratePerSecond <= 0 disables throttling
// (rate.Inf); burst <= 0 is treated as 1.
func NewFacade(baseURL, apiKey string, timeout time.Duration, budget *Enforcer, recorder *Recorder, log zerolog.Logger, ratePerSecond float64, burst int) *Facade {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		c.SetAuthToken(apiKey)
	}
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	if burst <= 0 {
		burst = 1
	}
	return &Facade{client: c, budget: budget, recorder: recorder, log: log, limiter: rate.NewLimiter(limit, burst)}
}

// GenerateText calls the chat-completions endpoint and returns the raw text
// reply.
func (f *Facade) GenerateText(ctx context.Context, cc CallContext, model string, prompt string) (string, error) {
	model, err := f.precheck(ctx, cc, model)
	if err != nil {
		return "", err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return "", err
	}

	var result struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int64    `json:"prompt_tokens"`
			CompletionTokens int64    `json:"completion_tokens"`
			TotalTokens      int64    `json:"total_tokens"`
			CostUSD          *float64 `json:"cost,omitempty"`
		} `json:"usage"`
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"model":    model,
			"messages": []map[string]string{{"role": "user", "content": prompt}},
		}).
		SetResult(&result).
		Post("/chat/completions")
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("model provider error: %s", resp.Status())
	}

	f.record(ctx, cc, model, Usage{
		PromptTokens:     result.Usage.PromptTokens,
		CompletionTokens: result.Usage.CompletionTokens,
		TotalTokens:      result.Usage.TotalTokens,
		CostUSD:          result.Usage.CostUSD,
	})

	if len(result.Choices) == 0 {
		return "", nil
	}
	return result.Choices[0].Message.Content, nil
}

// GenerateObject calls GenerateText, then validates the reply against schema,
// running the Repair Pass once on failure.
func (f *Facade) GenerateObject(ctx context.Context, cc CallContext, modelName string, prompt string, schema Schema) (map[string]interface{}, error) {
	raw, err := f.GenerateText(ctx, cc, modelName, prompt)
	if err != nil {
		return nil, err
	}

	obj, err := parseAndValidate(raw, schema)
	if err == nil {
		return obj, nil
	}

	repaired, ok := Repair(raw)
	if !ok {
		f.log.Warn().Str("function_id", cc.FunctionID).Msg("structured output repair failed; returning empty result")
		return nil, nil
	}
	obj, err = parseAndValidate(repaired, schema)
	if err != nil {
		f.log.Warn().Err(err).Str("function_id", cc.FunctionID).Msg("structured output invalid even after repair")
		return nil, nil
	}
	return obj, nil
}

// Embed calls the embeddings endpoint for a single input.
func (f *Facade) Embed(ctx context.Context, cc CallContext, embedModel string, text string) ([]float32, error) {
	vecs, err := f.EmbedMany(ctx, cc, embedModel, []string{text})
	if err != nil || len(vecs) == 0 {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedMany calls the embeddings endpoint for a batch of inputs.
func (f *Facade) EmbedMany(ctx context.Context, cc CallContext, embedModel string, texts []string) ([][]float32, error) {
	embedModel, err := f.precheck(ctx, cc, embedModel)
	if err != nil {
		return nil, err
	}
	if err := f.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var result struct {
		Data []struct {
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
		Usage struct {
			PromptTokens int64    `json:"prompt_tokens"`
			TotalTokens  int64    `json:"total_tokens"`
			CostUSD      *float64 `json:"cost,omitempty"`
		} `json:"usage"`
	}

	resp, err := f.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"model": embedModel, "input": texts}).
		SetResult(&result).
		Post("/embeddings")
	if err != nil {
		return nil, err
	}
	if resp.IsError() {
		return nil, fmt.Errorf("model provider error: %s", resp.Status())
	}

	f.record(ctx, cc, embedModel, Usage{
		PromptTokens: result.Usage.PromptTokens,
		TotalTokens:  result.Usage.TotalTokens,
		CostUSD:      result.Usage.CostUSD,
	})

	out := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		out[i] = d.Embedding
	}
	return out, nil
}

// precheck runs the budget check and returns the (possibly substituted) model
// to use, or model.ErrBudgetExceeded.
func (f *Facade) precheck(ctx context.Context, cc CallContext, requestedModel string) (string, error) {
	status, err := f.budget.CheckBudget(ctx, cc.WorkspaceID, requestedModel)
	if err != nil {
		return "", err
	}
	if !status.Allowed {
		f.log.Error().
			Str("workspace_id", cc.WorkspaceID).
			Str("model", requestedModel).
			Float64("percent_used", percentUsed(status)).
			Str("function_id", cc.FunctionID).
			Msg("budget hard limit blocked model call")
		return "", model.ErrBudgetExceeded
	}
	if status.SoftExceeded && status.RecommendedModel != "" {
		f.log.Warn().
			Str("workspace_id", cc.WorkspaceID).
			Str("from_model", requestedModel).
			Str("to_model", status.RecommendedModel).
			Float64("percent_used", percentUsed(status)).
			Str("function_id", cc.FunctionID).
			Msg("budget soft limit: substituting model")
		return status.RecommendedModel, nil
	}
	return requestedModel, nil
}

func (f *Facade) record(ctx context.Context, cc CallContext, modelName string, u Usage) {
	if f.recorder == nil || cc.WorkspaceID == "" {
		return
	}
	if err := f.recorder.RecordUsage(ctx, cc, modelName, u); err != nil {
		f.log.Error().Stack().Err(err).
			Str("workspace_id", cc.WorkspaceID).
			Str("function_id", cc.FunctionID).
			Msg("cost recording failed; call already completed")
	}
}

func percentUsed(s BudgetStatus) float64 {
	if s.HardLimitCents == 0 {
		return 0
	}
	return s.SpentCents / float64(s.HardLimitCents) * 100
}

func parseAndValidate(raw string, schema Schema) (map[string]interface{}, error) {
	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(raw), &obj); err != nil {
		return nil, err
	}
	if err := schema.Validate(obj); err != nil {
		return nil, err
	}
	return obj, nil
}

// Recorder persists CostRecord rows. It writes through its own pool rather
// than through internal/store, keeping this package free of a dependency on
// internal/store.
type Recorder struct {
	pool *pgxpool.Pool
}

func NewRecorder(pool *pgxpool.Pool) *Recorder {
	return &Recorder{pool: pool}
}

// RecordUsage writes a CostRecord row. Failures are the caller's
// responsibility to log-and-swallow; this method only returns the error.
func (r *Recorder) RecordUsage(ctx context.Context, cc CallContext, modelName string, u Usage) error {
	cost := 0.0
	if u.CostUSD != nil {
		cost = *u.CostUSD
	}
	_, err := r.pool.Exec(ctx, `
		INSERT INTO cost_records (workspace_id, actor_id, session_id, function_id, model, origin, prompt_tokens, completion_tokens, total_tokens, cost_cents)
		VALUES ($1, NULLIF($2, ''), NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10)
	`, cc.WorkspaceID, cc.ActorID, cc.SessionID, cc.FunctionID, modelName, string(cc.Origin), u.PromptTokens, u.CompletionTokens, u.TotalTokens, cost*100)
	return err
}
