package proxytest

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smahud/traffic-buster/pkg/models"
)

// proxyFrom parses an httptest server address into a Proxy record.
func proxyFrom(t *testing.T, addr string) models.Proxy {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return models.Proxy{ID: "p1", Host: host, Port: port, Enabled: true}
}

func TestProxyURLCarriesCredentials(t *testing.T) {
	tester := NewTester()
	u := tester.proxyURL("socks5", models.Proxy{Host: "10.0.0.1", Port: 1080, Username: "u", Password: "s"})
	assert.Equal(t, "socks5://u:s@10.0.0.1:1080", u.String())

	u = tester.proxyURL("http", models.Proxy{Host: "10.0.0.1", Port: 8080})
	assert.Nil(t, u.User)
}

func TestFallsBackToHTTPProxy(t *testing.T) {
	// A plain HTTP proxy that forwards nothing and answers 204 itself.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tester := NewTester()
	tester.Timeout = 2 * time.Second
	tester.ProbeURL = "http://example.invalid/generate_204"

	res := tester.Test(context.Background(), proxyFrom(t, srv.Listener.Addr().String()))
	require.True(t, res.OK, "error: %s", res.Error)
	assert.Equal(t, "http", res.Scheme)
	assert.GreaterOrEqual(t, res.LatencyMs, int64(0))
}

func TestSpeedGateRejectsSlowProxy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(60 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	tester := NewTester()
	tester.Timeout = 2 * time.Second
	tester.MaxLatency = 10 * time.Millisecond
	tester.ProbeURL = "http://example.invalid/generate_204"

	res := tester.Test(context.Background(), proxyFrom(t, srv.Listener.Addr().String()))
	assert.False(t, res.OK)
	assert.Contains(t, res.Error, "too slow")
}

func TestUnreachableProxyFails(t *testing.T) {
	tester := NewTester()
	tester.Timeout = 200 * time.Millisecond

	res := tester.Test(context.Background(), models.Proxy{Host: "127.0.0.1", Port: 1})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}

func TestTestAllPreservesOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	good := proxyFrom(t, srv.Listener.Addr().String())
	bad := models.Proxy{ID: "dead", Host: "127.0.0.1", Port: 1}

	tester := NewTester()
	tester.Timeout = 500 * time.Millisecond
	tester.ProbeURL = "http://example.invalid/generate_204"

	results := tester.TestAll(context.Background(), []models.Proxy{bad, good, bad}, 3)
	require.Len(t, results, 3)
	assert.False(t, results[0].OK)
	assert.True(t, results[1].OK)
	assert.False(t, results[2].OK)
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	tester := NewTester()
	res := tester.Test(ctx, models.Proxy{Host: "127.0.0.1", Port: 1})
	assert.False(t, res.OK)
	assert.NotEmpty(t, res.Error)
}
