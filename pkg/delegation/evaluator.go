// Package delegation implements the core decision engine: given a
// hostname, decide whether its authoritative nameservers diverge from
// those of its registrable root domain.
package delegation

import (
	"context"
	"strings"
	"time"

	"zonegate/pkg/cache"
	"zonegate/pkg/doh"
	"zonegate/pkg/domain"
	"zonegate/pkg/logging"
	"zonegate/pkg/telemetry"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Lookuper issues NS lookups. Satisfied by *doh.Client.
type Lookuper interface {
	LookupNS(ctx context.Context, name string) doh.Result
}

// Evaluator decides delegation verdicts, resolving NS records through
// the answer cache.
type Evaluator struct {
	client  Lookuper
	cache   *cache.Cache
	logger  *logging.Logger
	metrics *telemetry.Metrics
}

// NewEvaluator creates a delegation evaluator. The cache may be nil, in
// which case every resolve goes to the lookup client.
func NewEvaluator(client Lookuper, answerCache *cache.Cache, logger *logging.Logger, metrics *telemetry.Metrics) *Evaluator {
	return &Evaluator{
		client:  client,
		cache:   answerCache,
		logger:  logger,
		metrics: metrics,
	}
}

// resolve returns the NS lookup result for name, consulting the answer
// cache first.
func (e *Evaluator) resolve(ctx context.Context, name string) doh.Result {
	if e.cache != nil {
		if result, ok := e.cache.Get(name); ok {
			if e.metrics != nil {
				e.metrics.AnswerCacheHits.Add(ctx, 1)
			}
			return result
		}
		if e.metrics != nil {
			e.metrics.AnswerCacheMisses.Add(ctx, 1)
		}
	}

	result := e.client.LookupNS(ctx, name)

	if e.metrics != nil {
		e.metrics.NSLookupsTotal.Add(ctx, 1)
		if !result.HasServers() && result.Authority == "" {
			e.metrics.NSLookupsEmpty.Add(ctx, 1)
		}
	}

	if e.cache != nil {
		e.cache.Set(name, result)
	}

	return result
}

// Evaluate reports whether hostname is delegated away from its root
// domain. The function is total: every internal failure degrades to a
// conservative verdict rather than an error.
func (e *Evaluator) Evaluate(ctx context.Context, hostname string) bool {
	start := time.Now()
	hostname = domain.Normalize(hostname)
	root := domain.Root(hostname)

	// A root domain cannot be delegated from itself
	if hostname == root {
		return e.finish(ctx, hostname, "self_root", false, start)
	}

	domainResult := e.resolve(ctx, hostname)
	rootResult := e.resolve(ctx, root)

	// Without a trustworthy baseline for the root there is no confident
	// delegation claim to make; fail open toward not blocking.
	if !rootResult.HasServers() {
		return e.finish(ctx, hostname, "no_root_baseline", false, start)
	}

	// An authority zone outside the root's zone tree means the name is
	// delegated to a foreign zone.
	if auth := domainResult.Authority; auth != "" {
		if auth != root && !strings.HasSuffix(auth, "."+root) {
			e.logger.Debug("Foreign authority zone",
				"host", hostname,
				"authority", auth,
				"root", root)
			return e.finish(ctx, hostname, "foreign_authority", true, start)
		}
	}

	// Any single shared nameserver is sufficient to allow
	if domainResult.HasServers() {
		shared := domainResult.SharesServerWith(rootResult)
		e.logger.Debug("Nameserver set comparison",
			"host", hostname,
			"host_servers", serverList(domainResult),
			"root_servers", serverList(rootResult),
			"shared", shared)
		if shared {
			return e.finish(ctx, hostname, "shared_server", false, start)
		}
		return e.finish(ctx, hostname, "disjoint_servers", true, start)
	}

	// The root is properly delegated but the subdomain has no DNS
	// presence of its own; record absence is itself the block signal.
	e.logger.Debug("No records for subdomain with delegated root",
		"host", hostname,
		"root", root)
	return e.finish(ctx, hostname, "no_records", true, start)
}

// finish records metrics for a completed evaluation and returns the verdict
func (e *Evaluator) finish(ctx context.Context, hostname, branch string, delegated bool, start time.Time) bool {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	if e.metrics != nil {
		e.metrics.EvaluationsTotal.Add(ctx, 1,
			metric.WithAttributes(attribute.String("branch", branch)))
		e.metrics.EvaluationDuration.Record(ctx, elapsed)
	}

	e.logger.Debug("Delegation evaluated",
		"host", hostname,
		"branch", branch,
		"delegated", delegated,
		"duration_ms", elapsed)

	return delegated
}

func serverList(r doh.Result) []string {
	out := make([]string, 0, len(r.Servers))
	for ns := range r.Servers {
		out = append(out, ns)
	}
	return out
}
