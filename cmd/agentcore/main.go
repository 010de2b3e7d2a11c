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

// Command agentcore is the CLI for the Agent Runtime Core.
//
// Usage:
//
//	agentcore serve --config .env --policy policy.yaml
//	agentcore spawn --agent assistant --org acme --input "summarize this PR"
//	agentcore status <session-id>
//	agentcore resume|pause|cancel <session-id>
package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/alecthomas/kong"
)

// CLI defines the command-line interface. Serve embeds a full Agent
// Runtime Core and exposes it over internal/httpapi; the other commands
// are a thin client against a running server's control API.
type CLI struct {
	Version VersionCmd `cmd:"" help:"Show version information."`
	Serve   ServeCmd   `cmd:"" help:"Run the Agent Runtime Core and serve its control API."`
	Spawn   SpawnCmd   `cmd:"" help:"Spawn a new session."`
	Status  StatusCmd  `cmd:"" help:"Show a session's status."`
	Resume  ResumeCmd  `cmd:"" help:"Resume a paused or awaiting-tool session."`
	Pause   PauseCmd   `cmd:"" help:"Pause a running session."`
	Cancel  CancelCmd  `cmd:"" help:"Cancel a session."`

	ServerURL string `name:"server-url" help:"Base URL of a running agentcore serve instance." default:"http://localhost:8080"`
	Token     string `help:"Bearer token for the control API, when auth is enabled." env:"AGENTCORE_TOKEN"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

func (c *VersionCmd) Run() error {
	version := "dev"
	if info, ok := debug.ReadBuildInfo(); ok {
		if info.Main.Version != "(devel)" && info.Main.Version != "" {
			version = info.Main.Version
		}
	}
	fmt.Printf("agentcore version %s\n", version)
	return nil
}

func main() {
	cli := CLI{}
	ctx := kong.Parse(&cli,
		kong.Name("agentcore"),
		kong.Description("Agent Runtime Core - interleaved LLM calls, tool execution, and session persistence"),
		kong.UsageOnError(),
	)

	err := ctx.Run(&cli)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
