package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"zonegate/pkg/api"
	"zonegate/pkg/cache"
	"zonegate/pkg/config"
	"zonegate/pkg/delegation"
	"zonegate/pkg/doh"
	"zonegate/pkg/gate"
	"zonegate/pkg/logging"
	"zonegate/pkg/policy"
	"zonegate/pkg/storage"
)

// fakeDoH serves the Google JSON resolve format for canned zones
type fakeDoH struct {
	answers map[string]string // name -> JSON body
}

func (f *fakeDoH) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	w.Header().Set("Content-Type", "application/dns-json")
	if body, ok := f.answers[name]; ok {
		fmt.Fprint(w, body)
		return
	}
	// NXDOMAIN
	fmt.Fprint(w, `{"Status":3}`)
}

func nsAnswer(name string, servers ...string) string {
	answers := ""
	for i, s := range servers {
		if i > 0 {
			answers += ","
		}
		answers += fmt.Sprintf(`{"name":"%s.","type":2,"TTL":300,"data":"%s."}`, name, s)
	}
	return fmt.Sprintf(`{"Status":0,"Answer":[%s]}`, answers)
}

func soaAuthority(zone string) string {
	return fmt.Sprintf(
		`{"Status":0,"Authority":[{"name":"%s.","type":6,"TTL":300,"data":"ns1.%s. admin.%s. 1 7200 3600 1209600 300"}]}`,
		zone, zone, zone,
	)
}

type stack struct {
	server   *api.Server
	handler  http.Handler
	store    storage.Storage
	verdicts *delegation.Verdicts
}

// newStack wires the full pipeline the way the daemon does: DoH client
// against a fake resolver, answer cache, evaluator, verdict store,
// policy engine, gate, SQLite decision log, and the adapter API.
func newStack(t *testing.T, dohURL string) (*gate.Gate, *stack) {
	t.Helper()

	logger, _ := logging.New(&config.LoggingConfig{Level: "error", Format: "text", Output: "stdout"})

	answerCache, err := cache.New(&config.CacheConfig{
		Enabled:    true,
		TTL:        5 * time.Minute,
		MaxEntries: 1000,
	}, logger)
	if err != nil {
		t.Fatalf("cache.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = answerCache.Close() })

	client := doh.NewClient(dohURL, &http.Client{Timeout: 5 * time.Second}, logger)
	evaluator := delegation.NewEvaluator(client, answerCache, logger, nil)
	verdicts := delegation.NewVerdicts(logger, nil)

	engine, err := policy.NewEngine([]config.PolicyRule{
		{Name: "pin-cdn", When: `host == "cdn.a.com"`, Action: "allow"},
	}, logger)
	if err != nil {
		t.Fatalf("policy.NewEngine() failed: %v", err)
	}

	exempt, err := gate.NewExemptList([]string{"*.static.a.com"})
	if err != nil {
		t.Fatalf("gate.NewExemptList() failed: %v", err)
	}

	store, err := storage.New(&config.StorageConfig{
		Enabled:      true,
		DatabasePath: filepath.Join(t.TempDir(), "decisions.db"),
		BufferSize:   100,
		BusyTimeout:  5000,
		WALMode:      true,
	}, nil)
	if err != nil {
		t.Fatalf("storage.New() failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	g := gate.New(
		evaluator,
		verdicts,
		engine,
		gate.NewActiveRoots([]string{"a.com"}, logger),
		exempt,
		store,
		logger,
		nil,
	)

	server := api.New(&api.Config{
		ListenAddress: "127.0.0.1:0",
		Gate:          g,
		Verdicts:      verdicts,
		AnswerCache:   answerCache,
		Storage:       store,
		Logger:        logger,
		Version:       "integration",
	})

	return g, &stack{server: server, store: store, verdicts: verdicts}
}

func TestIntegration_DelegationDetection(t *testing.T) {
	dohSrv := httptest.NewServer(&fakeDoH{answers: map[string]string{
		"a.com":          nsAnswer("a.com", "ns1.registrar.com", "ns2.registrar.com"),
		"www.a.com":      nsAnswer("www.a.com", "ns1.registrar.com"),
		"tracker.a.com":  nsAnswer("tracker.a.com", "ns1.trackerdns.net"),
		"external.a.com": soaAuthority("thirdparty.net"),
	}})
	defer dohSrv.Close()

	g, _ := newStack(t, dohSrv.URL)
	ctx := context.Background()

	tests := []struct {
		name string
		url  string
		want bool
	}{
		{"root itself allowed", "https://a.com/", false},
		{"shared nameserver allowed", "https://www.a.com/page", false},
		{"disjoint nameservers blocked", "https://tracker.a.com/collect", true},
		{"foreign authority blocked", "https://external.a.com/sdk.js", true},
		{"no records blocked", "https://ghost.a.com/x", true},
		{"out of scope allowed", "https://tracker.b.com/collect", false},
		{"exempt pattern allowed", "https://img.static.a.com/logo.png", false},
		{"policy pin allowed", "https://cdn.a.com/bundle.js", false},
		{"invalid url allowed", "://broken", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := g.ShouldBlock(ctx, tt.url); got != tt.want {
				t.Errorf("ShouldBlock(%q) = %v, want %v", tt.url, got, tt.want)
			}
		})
	}
}

func TestIntegration_VerdictStability(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		name := r.URL.Query().Get("name")
		if name == "flaky.a.com" {
			calls++
			if calls > 1 {
				// Later answers diverge; the stored verdict must not change
				fmt.Fprint(w, nsAnswer("flaky.a.com", "ns1.registrar.com"))
				return
			}
			fmt.Fprint(w, nsAnswer("flaky.a.com", "ns1.evil.net"))
			return
		}
		fmt.Fprint(w, nsAnswer("a.com", "ns1.registrar.com"))
	})
	dohSrv := httptest.NewServer(mux)
	defer dohSrv.Close()

	g, st := newStack(t, dohSrv.URL)
	ctx := context.Background()

	if !g.ShouldBlock(ctx, "https://flaky.a.com/") {
		t.Fatal("first evaluation should block (disjoint servers)")
	}
	st.verdicts.Clear()
	// Cached answers also pin the result; only the verdict store was
	// cleared, so the evaluation reruns over the same cached records
	if !g.ShouldBlock(ctx, "https://flaky.a.com/") {
		t.Error("cached answers must yield the same verdict")
	}
}

func TestIntegration_APIRoundTrip(t *testing.T) {
	dohSrv := httptest.NewServer(&fakeDoH{answers: map[string]string{
		"a.com":         nsAnswer("a.com", "ns1.registrar.com"),
		"tracker.a.com": nsAnswer("tracker.a.com", "ns1.evil.net"),
	}})
	defer dohSrv.Close()

	_, st := newStack(t, dohSrv.URL)

	apiSrv := httptest.NewServer(st.server.Handler())
	defer apiSrv.Close()

	resp, err := http.Get(apiSrv.URL + "/api/check?url=https://tracker.a.com/pixel")
	if err != nil {
		t.Fatalf("check request failed: %v", err)
	}
	defer resp.Body.Close()

	var check struct {
		Blocked bool   `json:"blocked"`
		Host    string `json:"host"`
		Root    string `json:"root"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&check); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if !check.Blocked || check.Host != "tracker.a.com" || check.Root != "a.com" {
		t.Errorf("check = %+v, want blocked tracker.a.com under a.com", check)
	}

	// The decision lands in the log after a flush
	if err := st.store.(*storage.SQLiteStorage).Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	decisions, err := st.store.RecentDecisions(context.Background(), 10, 0)
	if err != nil {
		t.Fatalf("RecentDecisions() failed: %v", err)
	}
	if len(decisions) == 0 || decisions[0].Host != "tracker.a.com" || !decisions[0].Blocked {
		t.Errorf("decisions = %+v, want logged blocked decision", decisions)
	}
}
