package resolver

import (
	"net/http"
	"time"
)

// NewHTTPClient creates an HTTP client whose hostname resolution goes
// through the bootstrap resolver. The DoH client uses this to reach its
// endpoint without consulting the host resolver.
func (b *Bootstrap) NewHTTPClient(timeout time.Duration) *http.Client {
	if len(b.servers) == 0 {
		b.logger.Debug("Creating HTTP client with system default DNS resolver")
		return &http.Client{
			Timeout: timeout,
		}
	}

	b.logger.Debug("Creating HTTP client with bootstrap DNS resolver",
		"servers", b.servers,
		"timeout", timeout,
	)

	transport := &http.Transport{
		DialContext:           b.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}
}
