// Package verify implements automatic execution checks. Checks run
// asynchronously: RequestCheck returns as soon as the work is enqueued and
// the outcome is delivered later through the ResultSink, never synchronously.
package verify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/taskpool/taskpool/internal/config"
	"github.com/taskpool/taskpool/internal/domain"
)

// ResultSink receives check outcomes. The execution pipeline satisfies it.
type ResultSink interface {
	ApplyAutoCheckResult(ctx context.Context, executionID int64, passed bool, details string) error
}

// Check is a single verification strategy for one check type.
type Check interface {
	Check(ctx context.Context, target string, userID int64) (passed bool, details string, err error)
}

// Router dispatches check requests by task check type and feeds results back
// into the sink. The sink is bound after construction because the pipeline
// and the verifier reference each other.
type Router struct {
	checks map[domain.CheckType]Check
	sink   ResultSink
}

func NewRouter() *Router {
	return &Router{checks: make(map[domain.CheckType]Check)}
}

// Register binds a strategy to a check type.
func (r *Router) Register(ct domain.CheckType, c Check) {
	r.checks[ct] = c
}

// SetSink binds the result receiver; must be called before RequestCheck.
func (r *Router) SetSink(sink ResultSink) {
	r.sink = sink
}

// RequestCheck enqueues the verification and returns. An unknown check type
// or missing sink is a synchronous error so the caller can route the
// execution to manual review instead.
func (r *Router) RequestCheck(ctx context.Context, executionID int64, checkType domain.CheckType, target string, userID int64) error {
	check, ok := r.checks[checkType]
	if !ok {
		return fmt.Errorf("no verifier registered for check type %q", checkType)
	}
	if r.sink == nil {
		return fmt.Errorf("verifier has no result sink")
	}

	go r.run(check, executionID, target, userID)
	return nil
}

func (r *Router) run(check Check, executionID int64, target string, userID int64) {
	ctx, cancel := context.WithTimeout(context.Background(), config.CheckRequestTimeout)
	defer cancel()

	passed, details, err := check.Check(ctx, target, userID)
	if err != nil {
		// An unreachable target is not a verdict; route to manual review
		// by reporting a failed check.
		slog.Warn("automatic check errored", "execution_id", executionID, "error", err)
		passed, details = false, fmt.Sprintf("check error: %v", err)
	}

	if err := r.sink.ApplyAutoCheckResult(ctx, executionID, passed, details); err != nil {
		if domain.IsTransitionConflict(err) {
			slog.Debug("check result arrived after resolution", "execution_id", executionID)
			return
		}
		slog.Error("failed to apply check result", "execution_id", executionID, "error", err)
	}
}
