// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package governance

import (
	"sync"
	"time"

	"github.com/agenticmail/agentcore/pkg/clock"
)

// BreakerState is one of the three circuit-breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig configures a per-(agent,tool) circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening; default 5
	Cooldown         time.Duration // time in open before probing; default 30s
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 30 * time.Second
	}
	return c
}

type breakerEntry struct {
	state           BreakerState
	consecutiveFail int
	openedAt        time.Time
	halfOpenProbing bool
}

// CircuitBreakers tracks one breaker per (agent, tool) pair: closed ->
// open (after FailureThreshold consecutive failures) -> half-open (after
// Cooldown, single probe) -> closed (on success) or open (on failure).
type CircuitBreakers struct {
	cfg BreakerConfig
	clk clock.Clock

	mu      sync.Mutex
	entries map[string]*breakerEntry
}

// NewCircuitBreakers creates a CircuitBreakers governor. clk defaults to
// clock.Real{} if nil.
func NewCircuitBreakers(cfg BreakerConfig, clk clock.Clock) *CircuitBreakers {
	if clk == nil {
		clk = clock.Real{}
	}
	return &CircuitBreakers{cfg: cfg.withDefaults(), clk: clk, entries: make(map[string]*breakerEntry)}
}

func key(agentID, toolName string) string { return agentID + ":" + toolName }

func (c *CircuitBreakers) entry(agentID, toolName string) *breakerEntry {
	k := key(agentID, toolName)
	e, ok := c.entries[k]
	if !ok {
		e = &breakerEntry{state: BreakerClosed}
		c.entries[k] = e
	}
	return e
}

// Allow reports whether a call to (agentID, toolName) may proceed right
// now. If the breaker is open but Cooldown has elapsed, exactly one caller
// is let through as the half-open probe; concurrent callers during that
// probe are still rejected.
func (c *CircuitBreakers) Allow(agentID, toolName string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(agentID, toolName)
	switch e.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if c.clk.Now().Sub(e.openedAt) < c.cfg.Cooldown {
			return false
		}
		e.state = BreakerHalfOpen
		e.halfOpenProbing = true
		return true
	case BreakerHalfOpen:
		if e.halfOpenProbing {
			return false
		}
		e.halfOpenProbing = true
		return true
	default:
		return false
	}
}

// RecordSuccess closes the breaker and resets its failure count.
func (c *CircuitBreakers) RecordSuccess(agentID, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(agentID, toolName)
	e.state = BreakerClosed
	e.consecutiveFail = 0
	e.halfOpenProbing = false
}

// RecordFailure increments the failure count, opening the breaker if the
// threshold is reached, or re-opening it immediately if the half-open
// probe itself failed.
func (c *CircuitBreakers) RecordFailure(agentID, toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e := c.entry(agentID, toolName)
	if e.state == BreakerHalfOpen {
		e.state = BreakerOpen
		e.openedAt = c.clk.Now()
		e.halfOpenProbing = false
		return
	}

	e.consecutiveFail++
	if e.consecutiveFail >= c.cfg.FailureThreshold {
		e.state = BreakerOpen
		e.openedAt = c.clk.Now()
	}
}

// State reports the current breaker state for (agentID, toolName).
func (c *CircuitBreakers) State(agentID, toolName string) BreakerState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.entry(agentID, toolName).state
}
