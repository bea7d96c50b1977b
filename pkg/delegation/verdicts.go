package delegation

import (
	"context"
	"sync"

	"zonegate/pkg/logging"
	"zonegate/pkg/telemetry"
)

// Verdicts is the per-hostname verdict cache with in-flight
// deduplication: verdicts persist for the process lifetime, and at most
// one evaluation runs concurrently per hostname.
type Verdicts struct {
	mu       sync.Mutex
	verdicts map[string]bool
	inflight map[string]chan struct{}
	logger   *logging.Logger
	metrics  *telemetry.Metrics
}

// NewVerdicts creates an empty verdict store
func NewVerdicts(logger *logging.Logger, metrics *telemetry.Metrics) *Verdicts {
	return &Verdicts{
		verdicts: make(map[string]bool),
		inflight: make(map[string]chan struct{}),
		logger:   logger,
		metrics:  metrics,
	}
}

// Get returns the verdict for hostname, computing it with eval on first
// use. Concurrent callers for the same hostname share one evaluation;
// waiters suspend until it completes and observe the identical result.
// The verdict is stored unconditionally before waiters are released.
func (v *Verdicts) Get(ctx context.Context, hostname string, eval func(context.Context) bool) bool {
	for {
		v.mu.Lock()

		if verdict, ok := v.verdicts[hostname]; ok {
			v.mu.Unlock()
			if v.metrics != nil {
				v.metrics.VerdictCacheHits.Add(ctx, 1)
			}
			return verdict
		}

		if ch, ok := v.inflight[hostname]; ok {
			v.mu.Unlock()
			if v.metrics != nil {
				v.metrics.InFlightWaits.Add(ctx, 1)
			}
			// The in-flight evaluation runs to completion even if this
			// caller's context is cancelled; re-check the store once it
			// finishes.
			<-ch
			continue
		}

		ch := make(chan struct{})
		v.inflight[hostname] = ch
		v.mu.Unlock()

		// The evaluation must run to completion even if the triggering
		// caller's request is cancelled; waiters and the stored verdict
		// depend on it.
		evalCtx := context.WithoutCancel(ctx)

		verdict := false
		func() {
			// Store the verdict and release waiters even if eval
			// panics; the in-flight marker must never leak.
			defer func() {
				v.mu.Lock()
				v.verdicts[hostname] = verdict
				delete(v.inflight, hostname)
				v.mu.Unlock()
				close(ch)
			}()
			verdict = eval(evalCtx)
		}()

		if v.metrics != nil {
			if verdict {
				v.metrics.VerdictsBlocked.Add(ctx, 1)
			} else {
				v.metrics.VerdictsAllowed.Add(ctx, 1)
			}
		}

		return verdict
	}
}

// Peek returns the stored verdict for hostname without computing one
func (v *Verdicts) Peek(hostname string) (bool, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	verdict, ok := v.verdicts[hostname]
	return verdict, ok
}

// Len returns the number of stored verdicts
func (v *Verdicts) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.verdicts)
}

// Clear drops all stored verdicts. In-flight evaluations are not
// interrupted; their results land in the fresh store.
func (v *Verdicts) Clear() {
	v.mu.Lock()
	v.verdicts = make(map[string]bool)
	v.mu.Unlock()

	v.logger.Info("Verdict cache cleared")
}
