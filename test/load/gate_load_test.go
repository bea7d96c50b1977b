package load

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"zonegate/pkg/cache"
	"zonegate/pkg/config"
	"zonegate/pkg/delegation"
	"zonegate/pkg/doh"
	"zonegate/pkg/gate"
	"zonegate/pkg/logging"
)

// canned NS data keyed by hostname; half the subdomains are delegated
type cannedLookuper struct {
	mu      sync.Mutex
	results map[string]doh.Result
	lookups atomic.Int64
	delay   time.Duration
}

func (c *cannedLookuper) LookupNS(ctx context.Context, name string) doh.Result {
	c.lookups.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if r, ok := c.results[name]; ok {
		return r
	}
	return doh.Empty()
}

func withServers(servers ...string) doh.Result {
	r := doh.Empty()
	for _, s := range servers {
		r.Servers[s] = struct{}{}
	}
	return r
}

func newLoadGate(b *testing.B, hosts int, delay time.Duration) (*gate.Gate, []string) {
	b.Helper()
	logger, _ := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})

	lookuper := &cannedLookuper{
		results: map[string]doh.Result{"a.com": withServers("ns1.reg.com")},
		delay:   delay,
	}

	urls := make([]string, 0, hosts)
	for i := 0; i < hosts; i++ {
		host := fmt.Sprintf("sub%d.a.com", i)
		if i%2 == 0 {
			lookuper.results[host] = withServers("ns1.reg.com")
		} else {
			lookuper.results[host] = withServers(fmt.Sprintf("ns%d.other.net", i))
		}
		urls = append(urls, "https://"+host+"/path")
	}

	answerCache, err := cache.New(&config.CacheConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: hosts * 2,
	}, logger)
	if err != nil {
		b.Fatalf("cache.New() failed: %v", err)
	}
	b.Cleanup(func() { _ = answerCache.Close() })

	evaluator := delegation.NewEvaluator(lookuper, answerCache, logger, nil)
	verdicts := delegation.NewVerdicts(logger, nil)
	exempt, _ := gate.NewExemptList(nil)

	g := gate.New(
		evaluator,
		verdicts,
		nil,
		gate.NewActiveRoots([]string{"a.com"}, logger),
		exempt,
		nil,
		logger,
		nil,
	)
	return g, urls
}

// BenchmarkGateColdStart measures first-hit evaluations with an empty
// verdict store
func BenchmarkGateColdStart(b *testing.B) {
	g, urls := newLoadGate(b, b.N+1, 0)
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g.ShouldBlock(ctx, urls[i%len(urls)])
	}
}

// BenchmarkGateWarmVerdicts measures steady state where every hostname
// already has a stored verdict
func BenchmarkGateWarmVerdicts(b *testing.B) {
	g, urls := newLoadGate(b, 256, 0)
	ctx := context.Background()

	for _, u := range urls {
		g.ShouldBlock(ctx, u)
	}

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		r := rand.New(rand.NewSource(time.Now().UnixNano()))
		for pb.Next() {
			g.ShouldBlock(ctx, urls[r.Intn(len(urls))])
		}
	})
}

// TestGateUnderConcurrentLoad hammers a small hostname set from many
// goroutines and checks verdict consistency and lookup dedup
func TestGateUnderConcurrentLoad(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping load test in short mode")
	}

	logger, _ := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})

	lookuper := &cannedLookuper{
		results: map[string]doh.Result{
			"a.com":         withServers("ns1.reg.com"),
			"good.a.com":    withServers("ns1.reg.com"),
			"tracker.a.com": withServers("ns1.evil.net"),
		},
		delay: time.Millisecond,
	}

	evaluator := delegation.NewEvaluator(lookuper, nil, logger, nil)
	verdicts := delegation.NewVerdicts(logger, nil)
	exempt, _ := gate.NewExemptList(nil)
	g := gate.New(
		evaluator,
		verdicts,
		nil,
		gate.NewActiveRoots([]string{"a.com"}, logger),
		exempt,
		nil,
		logger,
		nil,
	)

	const clients = 64
	const requests = 50

	var wrongAllow, wrongBlock atomic.Int64
	var wg sync.WaitGroup
	ctx := context.Background()

	for i := 0; i < clients; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < requests; j++ {
				if g.ShouldBlock(ctx, "https://good.a.com/") {
					wrongBlock.Add(1)
				}
				if !g.ShouldBlock(ctx, "https://tracker.a.com/") {
					wrongAllow.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	if wrongBlock.Load() != 0 || wrongAllow.Load() != 0 {
		t.Errorf("inconsistent verdicts under load: %d wrong blocks, %d wrong allows",
			wrongBlock.Load(), wrongAllow.Load())
	}

	// Without an answer cache each hostname still evaluates once; the
	// in-flight dedup bounds lookups to one per name plus the shared root
	if lookups := lookuper.lookups.Load(); lookups > 6 {
		t.Errorf("lookups = %d, want <= 6 with verdict dedup", lookups)
	}
}
