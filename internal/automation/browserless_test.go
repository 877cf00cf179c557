package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/smahud/traffic-buster/pkg/models"
)

func TestLaunchArgsProxyAndViewport(t *testing.T) {
	b := &Browserless{}

	args := b.launchArgs(FlowRequest{
		Proxy:    &models.Proxy{Host: "10.0.0.1", Port: 8080},
		Viewport: "1280x720",
	})
	assert.Contains(t, args, "--proxy-server=10.0.0.1:8080")
	assert.Contains(t, args, "--window-size=1280,720")

	args = b.launchArgs(FlowRequest{})
	for _, a := range args {
		assert.NotContains(t, a, "--proxy-server")
		assert.NotContains(t, a, "--window-size")
	}
}

func TestSessionContextCarriesProxyCredentials(t *testing.T) {
	b := &Browserless{}
	req := FlowRequest{
		Target:  models.Target{URL: "https://a.example"},
		DwellMs: 1500,
		Scroll:  true,
		Proxy:   &models.Proxy{Host: "10.0.0.1", Port: 8080, Username: "u", Password: "s"},
	}

	ctx := b.sessionContext(req)
	assert.Equal(t, "https://a.example", ctx["url"])
	assert.Equal(t, 1500, ctx["dwellMs"])
	assert.Equal(t, true, ctx["scroll"])
	assert.Equal(t, "u", ctx["proxyUser"])
	assert.Equal(t, "s", ctx["proxyPass"])
}

func TestSessionContextOmitsCredentialsWithoutUsername(t *testing.T) {
	b := &Browserless{}

	ctx := b.sessionContext(FlowRequest{
		Target: models.Target{URL: "https://a.example"},
		Proxy:  &models.Proxy{Host: "10.0.0.1", Port: 8080},
	})
	_, hasUser := ctx["proxyUser"]
	assert.False(t, hasUser)

	ctx = b.sessionContext(FlowRequest{Target: models.Target{URL: "https://a.example"}})
	_, hasUser = ctx["proxyUser"]
	assert.False(t, hasUser)
}
