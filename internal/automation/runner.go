// Package automation executes one browsing session per flow unit. The job
// engine only sees success or failure; everything about how a page is driven
// lives behind the Runner interface.
package automation

import (
	"context"
	"errors"

	"github.com/smahud/traffic-buster/pkg/models"
)

// ErrProxy marks a failure attributable to the proxy the flow ran through.
// The worker pool reacts by disabling that proxy and retrying the same flow
// with another one.
var ErrProxy = errors.New("proxy failure")

// FlowRequest parameterizes one browsing session.
type FlowRequest struct {
	Target   models.Target
	Proxy    *models.Proxy    // nil when the run uses no proxies
	Platform *models.Platform // nil when no profile applies
	Viewport string           // "WxH", empty for the runner default
	DwellMs  int
	Scroll   bool
}

// FlowResult reports a completed session.
type FlowResult struct {
	DurationMs int64
}

// Runner runs one session against a target. The call blocks for the page
// navigation and dwell, and must honor ctx cancellation.
type Runner interface {
	Run(ctx context.Context, req FlowRequest) (FlowResult, error)
}
