package automation

import (
	"context"
	"time"
)

// Simulator is a deterministic Runner that sleeps for the requested dwell
// (scaled) and succeeds. It backs simulator-mode jobs and the tests.
type Simulator struct {
	// SpeedFactor scales the dwell; 0.01 turns a 3 s dwell into 30 ms.
	// Zero means run at full dwell speed.
	SpeedFactor float64
}

func (s *Simulator) Run(ctx context.Context, req FlowRequest) (FlowResult, error) {
	factor := s.SpeedFactor
	if factor <= 0 {
		factor = 1
	}
	dwell := time.Duration(float64(req.DwellMs)*factor) * time.Millisecond

	start := time.Now()
	timer := time.NewTimer(dwell)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return FlowResult{}, ctx.Err()
	case <-timer.C:
	}
	return FlowResult{DurationMs: time.Since(start).Milliseconds()}, nil
}
