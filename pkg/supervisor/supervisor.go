// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package supervisor implements the Session Supervisor of spec.md §4.A: it
// owns the set of live sessions, routes spawn/resume/pause/cancel/subscribe
// commands to them, drives each one's Reasoning Loop, and recovers sessions
// left stranded by a crash or restart.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/agenticmail/agentcore/pkg/clock"
	"github.com/agenticmail/agentcore/pkg/reasoning"
	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

var tracer = otel.Tracer("github.com/agenticmail/agentcore/pkg/supervisor")

// Config tunes startup recovery and the heartbeat sweep.
type Config struct {
	// StaleThreshold is how old LastHeartbeatAt must be before a
	// non-terminal session found at startup (or during a sweep) is
	// considered abandoned and adopted. Zero defaults to 60s (spec.md §4.A).
	StaleThreshold time.Duration
	// SweepInterval is how often the background sweep re-checks for stale
	// sessions beyond the one-time startup recovery. Zero defaults to half
	// of StaleThreshold.
	SweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.StaleThreshold <= 0 {
		c.StaleThreshold = 60 * time.Second
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = c.StaleThreshold / 2
	}
	return c
}

// task is the Supervisor's bookkeeping for one session's live Reasoning
// Loop drive: the cancellation signal §4.A's cancel() fires, and the
// cooperative pause flag pause() sets for the drive loop to observe at its
// next suspension point (between steps).
type task struct {
	cancel context.CancelFunc
	pause  atomic.Bool
	// graceful distinguishes a process Shutdown from a business Cancel:
	// both fire the same cancellation signal, but only Cancel asserts the
	// cancelled terminal state afterwards. A gracefully-stopped session is
	// left exactly as the loop last persisted it, to be reclaimed by
	// Recover on the next process start.
	graceful atomic.Bool
	done     chan struct{}
}

// Supervisor is the Session Supervisor of spec.md §4.A. It never advances a
// session itself; every step is delegated to Loop, and the Supervisor's own
// job is lifecycle: which sessions have a goroutine driving them right now,
// and routing external commands to that goroutine.
type Supervisor struct {
	store session.Store
	loop  *reasoning.Loop
	hub   *streamevent.Hub
	clk   clock.Clock
	log   *slog.Logger
	cfg   Config

	mu    sync.Mutex
	tasks map[string]*task
}

// New wires a Supervisor over a Store, the Reasoning Loop that advances
// sessions, and the Hub that fans StreamEvents to subscribers. log defaults
// to slog.Default() and clk defaults to clock.Real{} when nil.
func New(store session.Store, loop *reasoning.Loop, hub *streamevent.Hub, clk clock.Clock, log *slog.Logger, cfg Config) *Supervisor {
	if log == nil {
		log = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Supervisor{
		store: store,
		loop:  loop,
		hub:   hub,
		clk:   clk,
		log:   log,
		cfg:   cfg.withDefaults(),
		tasks: make(map[string]*task),
	}
}

// Spawn creates a new session in pending, persists it and its initial
// message, and enqueues a Reasoning Loop task for it, per spec.md §4.A.
func (s *Supervisor) Spawn(ctx context.Context, agentID, orgID string, initialInput session.Message, cfg session.Config) (string, error) {
	ctx, span := tracer.Start(ctx, "supervisor.spawn", trace.WithAttributes(attribute.String("agent_id", agentID)))
	defer span.End()

	now := s.clk.Now()
	sess := &session.Session{
		ID:              uuid.New().String(),
		AgentID:         agentID,
		OrgID:           orgID,
		Config:          cfg,
		State:           session.StatePending,
		CreatedAt:       now,
		LastHeartbeatAt: now,
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("supervisor: spawn: save session: %w", err)
	}
	if err := s.store.AppendMessage(ctx, session.MessageDelta{SessionID: sess.ID, Step: 0, Message: initialInput}); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("supervisor: spawn: append initial message: %w", err)
	}

	s.adopt(sess.ID)
	return sess.ID, nil
}

// Resume re-enqueues the loop from the last persisted step for a session
// that is paused, or that was left running with no live task (the startup
// recovery and sweep paths call this directly), per spec.md §4.A.
func (s *Supervisor) Resume(ctx context.Context, sessionID string) error {
	ctx, span := tracer.Start(ctx, "supervisor.resume", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	s.mu.Lock()
	_, live := s.tasks[sessionID]
	s.mu.Unlock()
	if live {
		return nil
	}

	sess, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("supervisor: resume: %w", err)
	}
	if sess.State.Terminal() {
		return fmt.Errorf("supervisor: resume: session %s is already terminal (%s)", sessionID, sess.State)
	}
	if sess.State == session.StatePaused {
		sess.State = session.StateRunning
		if err := s.store.SaveSession(ctx, sess); err != nil {
			span.SetStatus(codes.Error, err.Error())
			return fmt.Errorf("supervisor: resume: %w", err)
		}
	}

	s.adopt(sessionID)
	return nil
}

// Pause requests cooperative suspension: the drive loop observes the flag
// at its next suspension point, between steps, and transitions the session
// to paused there rather than being cancelled mid-step, per spec.md §4.A.
func (s *Supervisor) Pause(sessionID string) error {
	s.mu.Lock()
	t, ok := s.tasks[sessionID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("supervisor: pause: session %s has no live task", sessionID)
	}
	t.pause.Store(true)
	return nil
}

// Cancel hard-cancels a session: any in-flight LLM stream or tool call is
// aborted via the per-session cancellation signal, and the drive loop
// persists the cancelled terminal state once it observes ctx.Err(), per
// spec.md §4.A.
func (s *Supervisor) Cancel(ctx context.Context, sessionID, reason string) error {
	ctx, span := tracer.Start(ctx, "supervisor.cancel", trace.WithAttributes(attribute.String("session_id", sessionID)))
	defer span.End()

	s.mu.Lock()
	t, ok := s.tasks[sessionID]
	s.mu.Unlock()
	if ok {
		t.cancel()
		<-t.done
		return nil
	}

	// No live task: the session is already idle (paused, or crashed without
	// cleanup). Persist the cancellation directly.
	sess, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("supervisor: cancel: %w", err)
	}
	if sess.State.Terminal() {
		return nil
	}
	sess.State = session.StateCancelled
	sess.Reason = reason
	sess.TerminalAt = s.clk.Now()
	if err := s.store.SaveSession(ctx, sess); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("supervisor: cancel: %w", err)
	}
	s.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopCancelled, streamevent.Usage{}, nil))
	s.hub.Close(sessionID)
	return nil
}

// Subscribe fans StreamEvents for sessionID out to the caller, per spec.md
// §4.A. It delegates directly to the Hub; the Supervisor adds no buffering
// of its own.
func (s *Supervisor) Subscribe(sessionID string) *streamevent.Subscription {
	return s.hub.Subscribe(sessionID)
}

// adopt starts (or restarts) the goroutine that drives sessionID's
// Reasoning Loop, registering a task so Pause/Cancel can reach it.
func (s *Supervisor) adopt(sessionID string) {
	ctx, cancel := context.WithCancel(context.Background())
	t := &task{cancel: cancel, done: make(chan struct{})}

	s.mu.Lock()
	s.tasks[sessionID] = t
	s.mu.Unlock()

	go s.drive(ctx, sessionID, t)
}

// drive is the goroutine body that repeatedly calls Loop.Step for
// sessionID, checking the pause flag and the cancellation signal between
// steps (the "next suspension point" spec.md §4.A pause() describes), and
// recovering a panic inside the loop into a failed session rather than
// crashing the process, per spec.md §4.A's failure semantics.
func (s *Supervisor) drive(ctx context.Context, sessionID string, t *task) {
	defer close(t.done)
	defer t.cancel()
	defer func() {
		s.mu.Lock()
		delete(s.tasks, sessionID)
		s.mu.Unlock()
	}()
	defer func() {
		if r := recover(); r != nil {
			s.failFromPanic(sessionID, r)
		}
	}()

	for {
		if ctx.Err() != nil {
			if !t.graceful.Load() {
				s.finishCancelled(sessionID)
			}
			return
		}
		if t.pause.Load() {
			s.finishPaused(sessionID)
			return
		}

		done, err := s.loop.Step(ctx, sessionID)
		if err != nil {
			if ctx.Err() != nil && !t.graceful.Load() {
				// Step returns a cancelled context's error without
				// marking the session failed, so a hard cancel() (spec.md
				// §4.A) leaves "cancelled" as the terminal state.
				s.finishCancelled(sessionID)
				return
			}
			s.log.Error("supervisor: reasoning loop step failed", "session_id", sessionID, "error", err)
			return
		}
		if done {
			return
		}
	}
}

func (s *Supervisor) finishPaused(sessionID string) {
	ctx := context.Background()
	sess, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		s.log.Error("supervisor: pause: load session", "session_id", sessionID, "error", err)
		return
	}
	if sess.State.Terminal() {
		return
	}
	sess.State = session.StatePaused
	sess.Reason = "pause_requested"
	if err := s.store.SaveSession(ctx, sess); err != nil {
		s.log.Error("supervisor: pause: save session", "session_id", sessionID, "error", err)
		return
	}
	s.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopPaused, streamevent.Usage{}, nil))
}

func (s *Supervisor) finishCancelled(sessionID string) {
	ctx := context.Background()
	sess, err := s.store.LoadSession(ctx, sessionID)
	if err != nil {
		s.log.Error("supervisor: cancel: load session", "session_id", sessionID, "error", err)
		return
	}
	if sess.State.Terminal() {
		return
	}
	sess.State = session.StateCancelled
	sess.TerminalAt = s.clk.Now()
	if sess.Reason == "" {
		sess.Reason = "cancelled"
	}
	if err := s.store.SaveSession(ctx, sess); err != nil {
		s.log.Error("supervisor: cancel: save session", "session_id", sessionID, "error", err)
		return
	}
	s.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopCancelled, streamevent.Usage{}, nil))
	s.hub.Close(sessionID)
}

// failFromPanic implements spec.md §4.A's panic failure semantics: the
// Supervisor catches the failure, marks the session failed with the error,
// and emits a terminal step_end{stopReason=error} to subscribers.
func (s *Supervisor) failFromPanic(sessionID string, r any) {
	ctx := context.Background()
	err := fmt.Errorf("panic: %v", r)
	s.log.Error("supervisor: reasoning loop panicked", "session_id", sessionID, "error", err)

	sess, loadErr := s.store.LoadSession(ctx, sessionID)
	if loadErr != nil {
		s.log.Error("supervisor: failFromPanic: load session", "session_id", sessionID, "error", loadErr)
		return
	}
	sess.State = session.StateFailed
	sess.Reason = err.Error()
	sess.TerminalAt = s.clk.Now()
	if saveErr := s.store.SaveSession(ctx, sess); saveErr != nil {
		s.log.Error("supervisor: failFromPanic: save session", "session_id", sessionID, "error", saveErr)
	}
	s.hub.Publish(streamevent.NewStepEnd(sessionID, streamevent.StopError, streamevent.Usage{}, err))
	s.hub.Close(sessionID)
}

// Recover performs spec.md §4.A's startup recovery: it enumerates sessions
// in non-terminal states and adopts any whose last heartbeat is older than
// Config.StaleThreshold (heartbeats are written by the loop at every step
// boundary, so a stale one means no process is currently driving it).
func (s *Supervisor) Recover(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "supervisor.recover")
	defer span.End()

	sessions, err := s.store.EnumerateNonTerminalSessions(ctx)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("supervisor: recover: %w", err)
	}

	now := s.clk.Now()
	var adopted int
	for _, sess := range sessions {
		s.mu.Lock()
		_, live := s.tasks[sess.ID]
		s.mu.Unlock()
		if live {
			continue
		}
		if now.Sub(sess.LastHeartbeatAt) < s.cfg.StaleThreshold {
			continue
		}
		s.adopt(sess.ID)
		adopted++
	}
	span.SetAttributes(attribute.Int("sessions.adopted", adopted), attribute.Int("sessions.non_terminal", len(sessions)))
	s.log.Info("supervisor: startup recovery complete", "adopted", adopted, "non_terminal", len(sessions))
	return nil
}

// RunSweep runs Recover on Config.SweepInterval until ctx is cancelled. It
// is the ongoing half of spec.md §4.A's "detect and recover stale sessions"
// responsibility: Recover alone only ever runs once, at process start, but
// a session can still be orphaned mid-run (e.g. its driving process was
// killed) and needs the same adoption logic to reclaim it.
func (s *Supervisor) RunSweep(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(s.cfg.SweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := s.Recover(ctx); err != nil {
					s.log.Error("supervisor: heartbeat sweep recovery failed", "error", err)
				}
			}
		}
	})
	return g.Wait()
}

// Shutdown stops every live session task and waits for its drive goroutine
// to exit. Unlike Cancel, it does not assert the cancelled terminal state:
// a clean process shutdown is not a business cancellation, and a session
// interrupted this way is expected to be adopted again by Recover on the
// next start.
func (s *Supervisor) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	tasks := make([]*task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	s.mu.Unlock()

	for _, t := range tasks {
		t.graceful.Store(true)
		t.cancel()
	}
	for _, t := range tasks {
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
