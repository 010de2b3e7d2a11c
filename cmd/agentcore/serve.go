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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/agenticmail/agentcore/internal/config"
)

// ServeCmd runs a full Agent Runtime Core and exposes it over
// internal/httpapi until it receives SIGINT/SIGTERM.
type ServeCmd struct {
	Config     string `short:"c" help:"Path to a .env file to load before reading the environment." type:"path"`
	PolicyPath string `name:"policy" help:"Path to a YAML policy document (guardrail rules, permission profiles, provider registry extras)." type:"path"`
}

func (c *ServeCmd) Run(cli *CLI) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		slog.Info("agentcore: shutting down")
		cancel()
	}()

	cfg, err := config.Load(c.Config)
	if err != nil {
		return fmt.Errorf("agentcore: load config: %w", err)
	}
	if c.PolicyPath != "" {
		cfg.PolicyPath = c.PolicyPath
	}

	log := slog.Default()
	rt, err := buildRuntime(ctx, cfg, log)
	if err != nil {
		return err
	}

	if err := rt.sup.Recover(ctx); err != nil {
		return fmt.Errorf("agentcore: startup recovery: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rt.sup.RunSweep(ctx) })
	g.Go(func() error { return rt.server.ListenAndServe(ctx) })

	log.Info("agentcore: serving", "addr", cfg.HTTPAddr)
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		return err
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.StaleThreshold)
	defer shutdownCancel()
	rt.closeSkillAdapters()
	if err := rt.sup.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return rt.obs.Shutdown(shutdownCtx)
}
