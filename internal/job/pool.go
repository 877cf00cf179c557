package job

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/smahud/traffic-buster/internal/automation"
	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/internal/license"
	"github.com/smahud/traffic-buster/pkg/models"
)

// flowUnit is one visit owed to one target. A target with flowTarget N
// contributes N units to the queue.
type flowUnit struct {
	target models.Target
}

// workQueue hands out pending flow units. Workers pop until it is empty;
// a popped unit is never requeued, proxy retries stay inside the worker.
type workQueue struct {
	mu    sync.Mutex
	units []flowUnit
}

func newWorkQueue(targets []models.Target) *workQueue {
	q := &workQueue{}
	for _, t := range targets {
		for i := 0; i < t.FlowTarget; i++ {
			q.units = append(q.units, flowUnit{target: t})
		}
	}
	return q
}

func (q *workQueue) pop() (flowUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.units)
	if n == 0 {
		return flowUnit{}, false
	}
	u := q.units[n-1]
	q.units = q.units[:n-1]
	return u, true
}

func (q *workQueue) remaining() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.units)
}

// runPool expands the targets into flow units, spawns the capped worker
// set and waits for the queue to drain. If the job is still running when
// all units are settled, the run completed naturally and its history
// outcome is written before the stop path can.
func (j *Job) runPool() {
	j.mu.Lock()
	cfg := j.config
	j.mu.Unlock()

	queue := newWorkQueue(cfg.Targets)
	if queue.remaining() == 0 {
		j.emitLog("warn", "No flows to execute, stopping.")
		j.writeTerminalHistory("completed")
		j.Stop()
		return
	}

	workers := cfg.InstanceCount
	if workers < 1 {
		workers = 1
	}
	if j.Matrix.MaxInstances != license.Unlimited && workers > j.Matrix.MaxInstances {
		j.emitLog("warn", fmt.Sprintf("Instance count %d exceeds license limit, running with %d.", workers, j.Matrix.MaxInstances))
		log.Printf("[jobs] job %s downgraded from %d to %d instances", j.ID, workers, j.Matrix.MaxInstances)
		workers = j.Matrix.MaxInstances
	}

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			j.workerLoop(queue)
		}()
	}
	wg.Wait()

	if j.Status() == models.StatusRunning {
		j.emitLog("info", "All flows completed.")
		j.writeTerminalHistory("completed")
		j.Stop()
	}
}

func (j *Job) workerLoop(queue *workQueue) {
	flowsSinceFlush := 0
	for j.Status() == models.StatusRunning {
		unit, ok := queue.pop()
		if !ok {
			return
		}
		j.executeUnit(unit)

		flowsSinceFlush++
		if flowsSinceFlush >= 10 {
			flowsSinceFlush = 0
			j.flushHistoryStats()
		}
		if !j.sleepBetweenFlows() {
			return
		}
	}
}

// executeUnit runs one flow unit to a settled outcome: success, failed, or
// abandoned because the job stopped mid-flight. A proxy-classified error
// burns the drawn proxy and retries the same unit with a fresh draw until
// the pool is exhausted.
func (j *Job) executeUnit(unit flowUnit) {
	j.mu.Lock()
	cfg := j.config
	pool := j.proxies
	j.mu.Unlock()

	for {
		if j.runCtx.Err() != nil || j.Status() != models.StatusRunning {
			return
		}

		var proxy *models.Proxy
		if pool != nil {
			p, ok := pool.DrawRandom()
			if !ok {
				j.fail.Add(1)
				j.emitLog("warn", fmt.Sprintf("No proxies left, flow for %s counted as failed.", unit.target.URL))
				j.emitStatus()
				return
			}
			proxy = &p
		}

		req := j.buildRequest(cfg, unit.target, proxy)
		_, err := j.deps.Runner.Run(j.runCtx, req)
		if err == nil {
			j.doneFlows.Add(1)
			j.success.Add(1)
			j.emitFlowDone(unit.target)
			j.emitStatus()
			return
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			// Stop cut the flow short. It counts neither way.
			return
		}
		if errors.Is(err, automation.ErrProxy) && proxy != nil {
			pool.MarkFailed(*proxy)
			j.emitLog("warn", fmt.Sprintf("Proxy %s:%d failed, retrying flow with another proxy.", proxy.Host, proxy.Port))
			continue
		}

		j.fail.Add(1)
		j.emitLog("error", fmt.Sprintf("Flow for %s failed: %v", unit.target.URL, err))
		j.emitStatus()
		return
	}
}

func (j *Job) buildRequest(cfg *Config, target models.Target, proxy *models.Proxy) automation.FlowRequest {
	req := automation.FlowRequest{
		Target:  target,
		Proxy:   proxy,
		DwellMs: sampleRange(cfg.SessionDuration),
		Scroll:  cfg.HumanSurfing.AutoPageScrolling && j.Matrix.AllowHumanSurfing,
	}
	if len(cfg.Platforms) > 0 {
		pf := cfg.Platforms[rand.Intn(len(cfg.Platforms))]
		req.Platform = &pf
		if len(pf.Resolutions) > 0 {
			req.Viewport = pf.Resolutions[rand.Intn(len(pf.Resolutions))]
		}
	}
	return req
}

func (j *Job) emitFlowDone(target models.Target) {
	j.mu.Lock()
	counter := j.perTarget[target.ID]
	j.mu.Unlock()
	var done int64
	if counter != nil {
		done = counter.Add(1)
	}
	j.emit(events.TypeFlowDone, map[string]any{
		"targetId": target.ID,
		"url":      target.URL,
		"flowDone": done,
	})
}

// sleepBetweenFlows paces the worker by the configured inter-flow delay.
// It returns false when the job stopped during the wait.
func (j *Job) sleepBetweenFlows() bool {
	j.mu.Lock()
	delay := sampleRange(j.config.DelayBetweenFlows)
	j.mu.Unlock()
	if delay <= 0 {
		return j.Status() == models.StatusRunning
	}
	timer := time.NewTimer(time.Duration(delay) * time.Millisecond)
	defer timer.Stop()
	select {
	case <-timer.C:
		return j.Status() == models.StatusRunning
	case <-j.runCtx.Done():
		return false
	}
}

// flushHistoryStats pushes the live counters into the history entry so a
// crash does not lose a long run's progress.
func (j *Job) flushHistoryStats() {
	j.mu.Lock()
	historyID := j.historyID
	j.mu.Unlock()
	if historyID == "" {
		return
	}
	if err := j.deps.Recorder.Update(historyID, models.HistoryUpdate{Stats: j.historyStats()}); err != nil {
		log.Printf("[jobs] periodic history flush for %s failed: %v", j.ID, err)
	}
}

func sampleRange(r models.MinMax) int {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + rand.Intn(r.Max-r.Min+1)
}
