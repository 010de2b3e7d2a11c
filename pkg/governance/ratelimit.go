// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel

package governance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/agenticmail/agentcore/pkg/clock"
)

// Scope distinguishes which dimension a rate limit rule applies to.
type Scope string

const (
	ScopeAgentTool   Scope = "agent_tool"
	ScopeAgentGlobal Scope = "agent_global"
)

// BucketRule configures one token bucket: it refills at RefillPerSecond and
// holds at most BurstCapacity tokens.
type BucketRule struct {
	BurstCapacity    int64
	RefillPerSecond  float64
}

// RateLimitConfig holds the rules for both scopes. A zero BucketRule
// (BurstCapacity == 0) means that scope is unlimited.
type RateLimitConfig struct {
	PerAgentTool   BucketRule
	PerAgentGlobal BucketRule
}

// bucket is one token bucket's mutable state.
type bucket struct {
	tokens     float64
	lastRefill time.Time
}

// RateLimitStore persists token-bucket state across process restarts. The in-memory
// implementation below is the reference; a real deployment may back this
// with the same store as sessions, keyed by (scope, identifier).
type RateLimitStore interface {
	GetBucket(ctx context.Context, scope Scope, identifier string) (tokens float64, lastRefill time.Time, ok bool, err error)
	SetBucket(ctx context.Context, scope Scope, identifier string, tokens float64, lastRefill time.Time) error
}

// RateLimiter enforces a token bucket per (agent, tool) and per
// (agent, global), per spec §4.E. Tokens are only ever deducted for calls
// that reach this gate — calls failing an earlier resolution, schema, or
// policy gate are never charged (see SPEC_FULL.md open-question
// resolutions).
type RateLimiter struct {
	cfg   RateLimitConfig
	store RateLimitStore
	clk   clock.Clock

	mu sync.Mutex
}

// NewRateLimiter creates a RateLimiter. clk defaults to clock.Real{} if nil.
func NewRateLimiter(cfg RateLimitConfig, store RateLimitStore, clk clock.Clock) *RateLimiter {
	if clk == nil {
		clk = clock.Real{}
	}
	return &RateLimiter{cfg: cfg, store: store, clk: clk}
}

// CheckResult is the outcome of a rate-limit check.
type CheckResult struct {
	Allowed    bool
	Scope      Scope
	RetryAfter time.Duration
}

// Allow checks and, if allowed, deducts cost tokens from both the
// per-(agent,tool) and per-(agent,global) buckets atomically. On rejection
// by either bucket, neither is deducted.
func (r *RateLimiter) Allow(ctx context.Context, agentID, toolName string, cost float64) (CheckResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	toolKey := agentID + ":" + toolName
	globalKey := agentID

	toolOK, toolRetry, err := r.peek(ctx, ScopeAgentTool, toolKey, r.cfg.PerAgentTool, cost)
	if err != nil {
		return CheckResult{}, err
	}
	if !toolOK {
		return CheckResult{Allowed: false, Scope: ScopeAgentTool, RetryAfter: toolRetry}, nil
	}

	globalOK, globalRetry, err := r.peek(ctx, ScopeAgentGlobal, globalKey, r.cfg.PerAgentGlobal, cost)
	if err != nil {
		return CheckResult{}, err
	}
	if !globalOK {
		return CheckResult{Allowed: false, Scope: ScopeAgentGlobal, RetryAfter: globalRetry}, nil
	}

	if err := r.commit(ctx, ScopeAgentTool, toolKey, r.cfg.PerAgentTool, cost); err != nil {
		return CheckResult{}, err
	}
	if err := r.commit(ctx, ScopeAgentGlobal, globalKey, r.cfg.PerAgentGlobal, cost); err != nil {
		return CheckResult{}, err
	}

	return CheckResult{Allowed: true}, nil
}

func (r *RateLimiter) refill(rule BucketRule, tokens float64, lastRefill time.Time) float64 {
	if rule.BurstCapacity == 0 {
		return float64(^uint(0) >> 1) // unlimited scope: never block
	}
	elapsed := r.clk.Now().Sub(lastRefill).Seconds()
	tokens += elapsed * rule.RefillPerSecond
	if tokens > float64(rule.BurstCapacity) {
		tokens = float64(rule.BurstCapacity)
	}
	return tokens
}

func (r *RateLimiter) peek(ctx context.Context, scope Scope, identifier string, rule BucketRule, cost float64) (bool, time.Duration, error) {
	if rule.BurstCapacity == 0 {
		return true, 0, nil
	}

	tokens, lastRefill, ok, err := r.store.GetBucket(ctx, scope, identifier)
	if err != nil {
		return false, 0, fmt.Errorf("governance: get bucket %s/%s: %w", scope, identifier, err)
	}
	if !ok {
		tokens, lastRefill = float64(rule.BurstCapacity), r.clk.Now()
	}

	tokens = r.refill(rule, tokens, lastRefill)
	if tokens >= cost {
		return true, 0, nil
	}

	deficit := cost - tokens
	retryAfter := time.Duration(deficit/rule.RefillPerSecond*1000) * time.Millisecond
	return false, retryAfter, nil
}

func (r *RateLimiter) commit(ctx context.Context, scope Scope, identifier string, rule BucketRule, cost float64) error {
	if rule.BurstCapacity == 0 {
		return nil
	}

	tokens, lastRefill, ok, err := r.store.GetBucket(ctx, scope, identifier)
	if err != nil {
		return fmt.Errorf("governance: get bucket %s/%s: %w", scope, identifier, err)
	}
	now := r.clk.Now()
	if !ok {
		tokens, lastRefill = float64(rule.BurstCapacity), now
	}

	tokens = r.refill(rule, tokens, lastRefill)
	tokens -= cost
	return r.store.SetBucket(ctx, scope, identifier, tokens, now)
}

// MemoryRateLimitStore is the in-memory reference RateLimitStore.
type MemoryRateLimitStore struct {
	mu      sync.Mutex
	buckets map[string]bucket
}

func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{buckets: make(map[string]bucket)}
}

func bucketKey(scope Scope, identifier string) string { return string(scope) + "|" + identifier }

func (m *MemoryRateLimitStore) GetBucket(_ context.Context, scope Scope, identifier string) (float64, time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.buckets[bucketKey(scope, identifier)]
	return b.tokens, b.lastRefill, ok, nil
}

func (m *MemoryRateLimitStore) SetBucket(_ context.Context, scope Scope, identifier string, tokens float64, lastRefill time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.buckets[bucketKey(scope, identifier)] = bucket{tokens: tokens, lastRefill: lastRefill}
	return nil
}

var _ RateLimitStore = (*MemoryRateLimitStore)(nil)
