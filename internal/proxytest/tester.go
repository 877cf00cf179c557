// Package proxytest probes proxies for reachability and speed before they
// are trusted with real traffic.
package proxytest

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/smahud/traffic-buster/pkg/models"
)

// schemes are tried in order until one answers.
var schemes = []string{"socks5", "https", "http"}

const (
	defaultProbeURL   = "https://www.google.com/generate_204"
	defaultTimeout    = 10 * time.Second
	defaultMaxLatency = 8 * time.Second
)

// Result is the outcome of probing one proxy.
type Result struct {
	Proxy     models.Proxy `json:"proxy"`
	OK        bool         `json:"ok"`
	Scheme    string       `json:"scheme,omitempty"`
	LatencyMs int64        `json:"latencyMs"`
	Error     string       `json:"error,omitempty"`
}

// Tester issues a probe request through each proxy, walking the scheme
// fallback chain. A proxy that answers but exceeds MaxLatency is rejected.
type Tester struct {
	ProbeURL   string
	Timeout    time.Duration
	MaxLatency time.Duration
}

func NewTester() *Tester {
	return &Tester{
		ProbeURL:   defaultProbeURL,
		Timeout:    defaultTimeout,
		MaxLatency: defaultMaxLatency,
	}
}

func (t *Tester) proxyURL(scheme string, p models.Proxy) *url.URL {
	u := &url.URL{
		Scheme: scheme,
		Host:   net.JoinHostPort(p.Host, strconv.Itoa(p.Port)),
	}
	if p.Username != "" {
		u.User = url.UserPassword(p.Username, p.Password)
	}
	return u
}

// Test probes one proxy and reports the first scheme that worked.
func (t *Tester) Test(ctx context.Context, p models.Proxy) Result {
	res := Result{Proxy: p}
	var lastErr error

	for _, scheme := range schemes {
		if ctx.Err() != nil {
			res.Error = ctx.Err().Error()
			return res
		}
		latency, err := t.probe(ctx, scheme, p)
		if err != nil {
			lastErr = err
			continue
		}
		res.LatencyMs = latency.Milliseconds()
		if latency > t.MaxLatency {
			res.Error = fmt.Sprintf("answered over %s but too slow: %s", scheme, latency.Round(time.Millisecond))
			return res
		}
		res.OK = true
		res.Scheme = scheme
		return res
	}

	if lastErr != nil {
		res.Error = lastErr.Error()
	}
	return res
}

func (t *Tester) probe(ctx context.Context, scheme string, p models.Proxy) (time.Duration, error) {
	transport := &http.Transport{
		Proxy:             http.ProxyURL(t.proxyURL(scheme, p)),
		DisableKeepAlives: true,
	}
	client := &http.Client{Transport: transport, Timeout: t.Timeout}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.ProbeURL, nil)
	if err != nil {
		return 0, fmt.Errorf("building probe request: %w", err)
	}

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%s probe: %w", scheme, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return 0, fmt.Errorf("%s probe: status %d", scheme, resp.StatusCode)
	}
	return time.Since(start), nil
}

// TestAll probes proxies with bounded concurrency, preserving input order
// in the results.
func (t *Tester) TestAll(ctx context.Context, proxies []models.Proxy, concurrency int) []Result {
	if concurrency < 1 {
		concurrency = 1
	}
	results := make([]Result, len(proxies))
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup
	for i, p := range proxies {
		wg.Add(1)
		go func(i int, p models.Proxy) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			results[i] = t.Test(ctx, p)
		}(i, p)
	}
	wg.Wait()
	return results
}
