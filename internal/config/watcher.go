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

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounceDelay coalesces the burst of write events a single save often
// produces (truncate + write + chmod) into one reload, matching the
// teacher's pkg/config/provider/file.go debounce window.
const debounceDelay = 100 * time.Millisecond

// PolicyWatcher holds the live CompiledPolicy and keeps it current as the
// backing file changes. Reload swaps an atomic pointer: a session already
// in flight keeps the snapshot it started with until its next preflight
// check reads Current again, per SPEC_FULL.md §10.3.
type PolicyWatcher struct {
	path    string
	current atomic.Pointer[CompiledPolicy]
	log     *slog.Logger
}

// WatchPolicyDocument loads path once synchronously, then starts a
// background watch that reloads and swaps the pointer on every change.
// Watching stops when ctx is cancelled. log defaults to slog.Default().
func WatchPolicyDocument(ctx context.Context, path string, log *slog.Logger) (*PolicyWatcher, error) {
	if log == nil {
		log = slog.Default()
	}
	policy, err := LoadPolicyDocument(path)
	if err != nil {
		return nil, err
	}

	w := &PolicyWatcher{path: path, log: log}
	w.current.Store(policy)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, err
	}

	go w.watchLoop(ctx, watcher)
	return w, nil
}

// Current returns the most recently loaded CompiledPolicy.
func (w *PolicyWatcher) Current() *CompiledPolicy {
	return w.current.Load()
}

func (w *PolicyWatcher) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	configFile := filepath.Base(w.path)
	var debounce *time.Timer

	reload := func() {
		policy, err := LoadPolicyDocument(w.path)
		if err != nil {
			w.log.Warn("config: policy reload failed, keeping previous snapshot", "path", w.path, "error", err)
			return
		}
		w.current.Store(policy)
		w.log.Info("config: policy reloaded", "path", w.path)
	}

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != configFile {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(debounceDelay, reload)

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("config: policy watcher error", "error", err)
		}
	}
}
