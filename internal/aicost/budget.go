package aicost

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// BudgetStatus is the Budget Enforcer's verdict for one prospective call.
type BudgetStatus struct {
	WorkspaceID      string
	SpentCents       float64
	SoftLimitCents   int
	HardLimitCents   int
	SoftExceeded     bool
	HardExceeded     bool
	Allowed          bool
	RecommendedModel string
}

// Enforcer checks accumulated spend for a workspace's billing window against
// configured soft/hard thresholds before any model call is issued.
type Enforcer struct {
	pool             *pgxpool.Pool
	windowDuration   time.Duration
	softLimitCents   int
	hardLimitCents   int
	substitutions    map[string]string
}

func NewEnforcer(pool *pgxpool.Pool, window time.Duration, softLimitCents, hardLimitCents int, substitutions map[string]string) *Enforcer {
	return &Enforcer{
		pool:           pool,
		windowDuration: window,
		softLimitCents: softLimitCents,
		hardLimitCents: hardLimitCents,
		substitutions:  substitutions,
	}
}

// CheckBudget is the precheck every facade call makes before issuing any
// provider HTTP request. When the hard limit is exceeded, Allowed is false
// and no HTTP request may be issued — enforced by Facade.precheck returning
// an error before the client call.
func (e *Enforcer) CheckBudget(ctx context.Context, workspaceID, requestedModel string) (BudgetStatus, error) {
	var spentCents float64
	// pgx/v5 does not encode time.Duration as interval; pass seconds and
	// build the interval in SQL with make_interval, per the teacher's
	// outbox-worker idiom.
	err := e.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(cost_cents), 0)
		FROM cost_records
		WHERE workspace_id = $1 AND created_at > now() - make_interval(secs => $2)
	`, workspaceID, e.windowDuration.Seconds()).Scan(&spentCents)
	if err != nil {
		return BudgetStatus{}, err
	}

	status := BudgetStatus{
		WorkspaceID:    workspaceID,
		SpentCents:     spentCents,
		SoftLimitCents: e.softLimitCents,
		HardLimitCents: e.hardLimitCents,
		Allowed:        true,
	}

	if e.hardLimitCents > 0 && spentCents >= float64(e.hardLimitCents) {
		status.HardExceeded = true
		status.Allowed = false
		return status, nil
	}
	if e.softLimitCents > 0 && spentCents >= float64(e.softLimitCents) {
		status.SoftExceeded = true
		if m, ok := e.substitutions[requestedModel]; ok {
			status.RecommendedModel = m
		}
	}
	return status, nil
}
