// Package action implements the Action Router / Report Agent: a
// bounded-queue worker that serializes moderation decisions into calls
// against the remote moderation service.
package action

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/littleironwaltz/moderation-agent/internal/metrics"
	"github.com/littleironwaltz/moderation-agent/internal/model"
)

// DecisionKind distinguishes a rule-match decision, (repo_did, path to
// match_results), from an account-level overflow report,
// account_report(repo_did, reason).
type DecisionKind int

const (
	DecisionMatches DecisionKind = iota
	DecisionReport
)

// Decision is one unit of work accepted by the router.
type Decision struct {
	Kind         DecisionKind
	RepoDID      string
	PathMatches  map[string][]model.MatchResult // DecisionMatches
	ReportReason string                          // DecisionReport
}

// Emitter is the Client Facade's subset of typed operations the router
// needs. Routing through an interface keeps this package independent of
// the Facade's construction (session + transport wiring).
type Emitter interface {
	Emit(ctx context.Context, event model.ModerationEvent) (model.EmitResponse, error)
	SendReport(ctx context.Context, event model.ModerationEvent) (model.EmitResponse, error)
}

// Router is the Action Router / Report Agent singleton: one bounded queue,
// one worker goroutine, FIFO across producers.
type Router struct {
	queue       chan Decision
	emitter     Emitter
	operatorDID string
	logger      *slog.Logger
	wg          sync.WaitGroup
}

// New constructs a Router with the given queue_limit and the
// operator DID used as createdBy on every emitted event.
func New(queueLimit int, emitter Emitter, operatorDID string, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		queue:       make(chan Decision, queueLimit),
		emitter:     emitter,
		operatorDID: operatorDID,
		logger:      logger,
	}
}

// Start launches the router's single worker goroutine. It runs until ctx is
// canceled, at which point it drains any decisions already in the channel
// before returning (graceful shutdown).
func (r *Router) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case d, ok := <-r.queue:
				if !ok {
					return
				}
				metrics.ActionRouterBacklog.Dec()
				r.process(ctx, d)
			case <-ctx.Done():
				r.drain(ctx)
				return
			}
		}
	}()
}

// drain processes any decisions already enqueued before the router exits.
func (r *Router) drain(ctx context.Context) {
	for {
		select {
		case d, ok := <-r.queue:
			if !ok {
				return
			}
			metrics.ActionRouterBacklog.Dec()
			r.process(context.Background(), d)
		default:
			return
		}
	}
}

// Enqueue blocks if the queue is full (backpressure) until ctx
// is canceled or room is available.
func (r *Router) Enqueue(ctx context.Context, d Decision) error {
	select {
	case r.queue <- d:
		metrics.ActionRouterBacklog.Inc()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until the worker goroutine has returned after Start's context
// was canceled.
func (r *Router) Wait() {
	r.wg.Wait()
}

// process maps one decision to moderation API calls. For a match decision,
// each path's matched rules become label values on a single label event per
// path (one emitEvent call per path with matches); for a report decision,
// exactly one account-level report is submitted with the overflow reason.
func (r *Router) process(ctx context.Context, d Decision) {
	switch d.Kind {
	case DecisionReport:
		r.emitReport(ctx, d)
	case DecisionMatches:
		r.emitMatches(ctx, d)
	default:
		r.logger.Error("action: unknown decision kind", "kind", d.Kind)
	}
}

func (r *Router) emitReport(ctx context.Context, d Decision) {
	event := model.NewReportEvent(d.RepoDID, r.operatorDID, "com.atproto.moderation.defs#reasonOther", d.ReportReason)
	_, err := r.emitter.SendReport(ctx, event)
	r.countEmission(model.EventReport, err)
	if err != nil {
		r.logger.Error("action: report emission failed", "repo_did", d.RepoDID, "err", err)
	}
}

func (r *Router) emitMatches(ctx context.Context, d Decision) {
	for path, matches := range d.PathMatches {
		if len(matches) == 0 {
			continue
		}
		labels := make([]string, 0, len(matches))
		for _, m := range matches {
			labels = append(labels, m.Rule)
		}
		event := model.NewLabelEvent(d.RepoDID, r.operatorDID, labels, nil)
		_, err := r.emitter.Emit(ctx, event)
		r.countEmission(model.EventLabel, err)
		if err != nil {
			r.logger.Error("action: label emission failed", "repo_did", d.RepoDID, "path", path, "err", fmt.Errorf("%w", err))
		}
	}
}

func (r *Router) countEmission(kind model.EventKind, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.EmissionsTotal.WithLabelValues(kind.String(), outcome).Inc()
}
