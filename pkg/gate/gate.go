// Package gate is the request entry point. It filters incoming URLs
// through the active-root scope, exemption patterns, and policy rules
// before consulting the delegation verdict store. It never returns an
// error: anything unparseable or out of scope is allowed through.
package gate

import (
	"context"
	"time"

	"zonegate/pkg/delegation"
	"zonegate/pkg/domain"
	"zonegate/pkg/logging"
	"zonegate/pkg/policy"
	"zonegate/pkg/storage"
	"zonegate/pkg/telemetry"
)

// Gate decides whether a request should be blocked
type Gate struct {
	evaluator *delegation.Evaluator
	verdicts  *delegation.Verdicts
	policy    *policy.Engine
	roots     *ActiveRoots
	exempt    *ExemptList
	store     storage.Storage
	logger    *logging.Logger
	metrics   *telemetry.Metrics
}

// New wires the gate. policy may be nil when no rules are configured;
// store may be nil when the decision log is disabled.
func New(
	evaluator *delegation.Evaluator,
	verdicts *delegation.Verdicts,
	policyEngine *policy.Engine,
	roots *ActiveRoots,
	exempt *ExemptList,
	store storage.Storage,
	logger *logging.Logger,
	metrics *telemetry.Metrics,
) *Gate {
	if store == nil {
		store = storage.NewNoOpStorage()
	}
	return &Gate{
		evaluator: evaluator,
		verdicts:  verdicts,
		policy:    policyEngine,
		roots:     roots,
		exempt:    exempt,
		store:     store,
		logger:    logger,
		metrics:   metrics,
	}
}

// Roots exposes the active root set for the host adapter
func (g *Gate) Roots() *ActiveRoots {
	return g.roots
}

// Exempt exposes the exemption list for reloads
func (g *Gate) Exempt() *ExemptList {
	return g.exempt
}

// ShouldBlock decides the fate of a request URL. URL parse failures
// and out-of-scope hosts are allowed through without a lookup.
func (g *Gate) ShouldBlock(ctx context.Context, rawURL string) bool {
	start := time.Now()

	if g.metrics != nil {
		g.metrics.GateRequestsTotal.Add(ctx, 1)
	}

	host, err := domain.ExtractHostname(rawURL)
	if err != nil {
		g.logger.Debug("Unparseable request URL allowed", "url", rawURL)
		g.record(ctx, &storage.Decision{
			Host:       rawURL,
			Source:     storage.SourceInvalidURL,
			DurationMs: msSince(start),
		})
		return false
	}

	root := domain.Root(host)

	if host == root || !g.roots.Contains(root) {
		if g.metrics != nil {
			g.metrics.GateOutOfScope.Add(ctx, 1)
		}
		g.record(ctx, &storage.Decision{
			Host:       host,
			Root:       root,
			Source:     storage.SourceOutOfScope,
			DurationMs: msSince(start),
		})
		return false
	}

	if g.exempt != nil && g.exempt.Match(host) {
		if g.metrics != nil {
			g.metrics.GateExempted.Add(ctx, 1)
		}
		g.logger.Debug("Hostname exempted", "host", host)
		g.record(ctx, &storage.Decision{
			Host:       host,
			Root:       root,
			Source:     storage.SourceExempt,
			DurationMs: msSince(start),
		})
		return false
	}

	if g.policy != nil {
		if matched, rule := g.policy.Evaluate(policy.NewContext(host, root)); matched {
			blocked := rule.Action == policy.ActionBlock
			if g.metrics != nil {
				g.metrics.GatePolicyMatches.Add(ctx, 1)
			}
			g.logger.Debug("Policy rule matched",
				"host", host,
				"rule", rule.Name,
				"blocked", blocked)
			g.record(ctx, &storage.Decision{
				Host:       host,
				Root:       root,
				Blocked:    blocked,
				Source:     storage.SourcePolicy,
				Rule:       rule.Name,
				DurationMs: msSince(start),
			})
			return blocked
		}
	}

	_, cached := g.verdicts.Peek(host)
	blocked := g.verdicts.Get(ctx, host, func(ctx context.Context) bool {
		return g.evaluator.Evaluate(ctx, host)
	})

	source := storage.SourceEvaluated
	if cached {
		source = storage.SourceVerdict
	}
	g.record(ctx, &storage.Decision{
		Host:       host,
		Root:       root,
		Blocked:    blocked,
		Source:     source,
		DurationMs: msSince(start),
	})

	return blocked
}

// record writes the decision to the log. Log failures never affect the
// verdict.
func (g *Gate) record(ctx context.Context, decision *storage.Decision) {
	if err := g.store.LogDecision(ctx, decision); err != nil &&
		err != storage.ErrBufferFull && err != storage.ErrClosed {
		g.logger.Warn("Decision log write failed", "error", err)
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
