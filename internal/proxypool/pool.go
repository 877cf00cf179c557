// Package proxypool holds the per-run view of a job's usable proxies.
//
// The pool is shared by all of a job's workers: a proxy marked failed by one
// worker is never drawn again by any of them for the rest of the run.
package proxypool

import (
	"log"
	"math/rand"
	"sync"

	"github.com/smahud/traffic-buster/internal/events"
	"github.com/smahud/traffic-buster/pkg/models"
)

// PersistFunc flips the proxy's stored enabled flag so the outage survives
// the run. Errors are the persister's problem; the pool does not retry.
type PersistFunc func(proxyID string)

// Pool is the mutable in-memory projection of a job's enabled proxies.
type Pool struct {
	mu        sync.Mutex
	available []models.Proxy
	failed    map[string]struct{}
	userID    string
	sink      events.Sink
	persist   PersistFunc
}

// New builds a pool from the job's configured proxies, keeping only the ones
// currently enabled. persist may be nil.
func New(proxies []models.Proxy, userID string, sink events.Sink, persist PersistFunc) *Pool {
	p := &Pool{
		failed:  make(map[string]struct{}),
		userID:  userID,
		sink:    sink,
		persist: persist,
	}
	if sink == nil {
		p.sink = events.NopSink{}
	}
	for _, proxy := range proxies {
		if proxy.Enabled {
			p.available = append(p.available, proxy)
		}
	}
	return p
}

// DrawRandom returns a uniformly random proxy still available in this run.
// ok is false once the pool is exhausted.
func (p *Pool) DrawRandom() (proxy models.Proxy, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.available) == 0 {
		return models.Proxy{}, false
	}
	return p.available[rand.Intn(len(p.available))], true
}

// MarkFailed permanently removes the proxy from this run, persists the
// disabled flag and notifies observers. Calling it again for the same proxy
// is a no-op and emits nothing.
func (p *Pool) MarkFailed(proxy models.Proxy) {
	p.mu.Lock()
	if _, done := p.failed[proxy.ID]; done {
		p.mu.Unlock()
		return
	}
	p.failed[proxy.ID] = struct{}{}
	for i, candidate := range p.available {
		if candidate.ID == proxy.ID {
			p.available = append(p.available[:i], p.available[i+1:]...)
			break
		}
	}
	remaining := len(p.available)
	p.mu.Unlock()

	log.Printf("[proxypool] proxy %s:%d marked off for user %s (%d left)",
		proxy.Host, proxy.Port, p.userID, remaining)

	if p.persist != nil {
		p.persist(proxy.ID)
	}
	p.sink.Emit(p.userID, events.TypeProxyStatus, map[string]any{
		"proxyId": proxy.ID,
		"host":    proxy.Host,
		"enabled": false,
	})
}

// Remaining reports how many proxies are still drawable.
func (p *Pool) Remaining() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.available)
}
