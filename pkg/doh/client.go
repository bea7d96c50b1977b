// Package doh implements a JSON DNS-over-HTTPS client used to fetch
// NS records. Compatible with the Google/Cloudflare resolve API shape.
package doh

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"zonegate/pkg/domain"
	"zonegate/pkg/logging"

	"github.com/miekg/dns"
)

// Record represents a DNS resource record in JSON format.
// For NS records the target lives in Data; for SOA records the zone of
// authority lives in Name.
type Record struct {
	Name string `json:"name"`
	Type uint16 `json:"type"`
	TTL  uint32 `json:"TTL"`
	Data string `json:"data"`
}

// jsonResponse represents the JSON resolve response (Google/Cloudflare compatible)
type jsonResponse struct {
	Status    int      `json:"Status"`
	Answer    []Record `json:"Answer,omitempty"`
	Authority []Record `json:"Authority,omitempty"`
}

// Result is the normalized outcome of an NS lookup. It is immutable once
// constructed; a failed lookup yields Empty(), never a partial mix.
type Result struct {
	// Servers is the set of lowercase nameserver hostnames
	Servers map[string]struct{}

	// Authority is the lowercase zone name from a Start-of-Authority
	// record in the Authority section, or "" if none was present
	Authority string
}

// Empty returns the canonical empty result
func Empty() Result {
	return Result{Servers: map[string]struct{}{}}
}

// HasServers reports whether the result carries any nameservers
func (r Result) HasServers() bool {
	return len(r.Servers) > 0
}

// SharesServerWith reports whether any nameserver appears in both results
func (r Result) SharesServerWith(other Result) bool {
	for ns := range r.Servers {
		if _, ok := other.Servers[ns]; ok {
			return true
		}
	}
	return false
}

// Client issues NS-record queries against a DNS-over-HTTPS endpoint
type Client struct {
	endpoint string
	client   *http.Client
	logger   *logging.Logger
}

// NewClient creates a DoH client for the given resolve endpoint.
// The HTTP client should be configured with appropriate DNS resolution
// (e.g., using pkg/resolver) and a request timeout; if nil, a default
// client with a 10s timeout is used.
func NewClient(endpoint string, client *http.Client, logger *logging.Logger) *Client {
	if client == nil {
		logger.Warn("No HTTP client provided, using default client with system DNS resolver")
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		endpoint: endpoint,
		client:   client,
		logger:   logger,
	}
}

// LookupNS queries NS records for name. Lookups are best-effort: network
// failures, non-2xx statuses and DNS-level errors all degrade to Empty()
// and are never surfaced as errors.
func (c *Client) LookupNS(ctx context.Context, name string) Result {
	reqURL := fmt.Sprintf("%s?name=%s&type=NS", c.endpoint, url.QueryEscape(name))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		c.logger.Warn("Failed to build DoH request", "name", name, "error", err)
		return Empty()
	}
	req.Header.Set("Accept", "application/dns-json")

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Warn("DoH request failed", "name", name, "error", err)
		return Empty()
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("DoH request returned non-2xx status", "name", name, "status", resp.StatusCode)
		return Empty()
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Warn("Failed to read DoH response", "name", name, "error", err)
		return Empty()
	}

	var parsed jsonResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		c.logger.Warn("Failed to parse DoH response", "name", name, "error", err)
		return Empty()
	}

	if parsed.Status != dns.RcodeSuccess {
		c.logger.Debug("DoH response carries DNS error", "name", name, "status", parsed.Status)
		return Empty()
	}

	// An Answer-section NS hit is authoritative and short-circuits the
	// Authority section.
	answer := Empty()
	for _, rec := range parsed.Answer {
		if rec.Type == dns.TypeNS {
			answer.Servers[domain.Normalize(rec.Data)] = struct{}{}
		}
	}
	if answer.HasServers() {
		c.logger.Debug("NS lookup answered", "name", name, "servers", len(answer.Servers))
		return answer
	}

	// An Authority-section SOA marks the zone that answered negatively
	// for the queried name; that zone is the delegation signal.
	authority := Empty()
	for _, rec := range parsed.Authority {
		switch rec.Type {
		case dns.TypeSOA:
			if authority.Authority == "" {
				authority.Authority = domain.Normalize(rec.Name)
			}
		case dns.TypeNS:
			authority.Servers[domain.Normalize(rec.Data)] = struct{}{}
		}
	}

	if authority.HasServers() || authority.Authority != "" {
		c.logger.Debug("NS lookup resolved via authority section",
			"name", name,
			"servers", len(authority.Servers),
			"authority", authority.Authority)
		return authority
	}

	return Empty()
}
