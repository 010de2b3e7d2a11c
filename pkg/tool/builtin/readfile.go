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

// Package builtin holds the Handler implementations bundled with the
// runtime by default: filesystem and HTTP tools whose path/URL arguments
// are declared for the Executor's path- and network-sandbox gates rather
// than validated ad hoc inside the tool, the way the teacher's
// functiontool-based filetool/webtool validated paths and domains inline.
package builtin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/agenticmail/agentcore/pkg/tool"
)

// ReadFileConfig bounds a ReadFile tool instance.
type ReadFileConfig struct {
	MaxFileSize      int64
	WorkingDirectory string
}

func (c ReadFileConfig) withDefaults() ReadFileConfig {
	if c.MaxFileSize == 0 {
		c.MaxFileSize = 10 * 1024 * 1024
	}
	if c.WorkingDirectory == "" {
		c.WorkingDirectory = "./"
	}
	return c
}

// ReadFile reads the contents of a file, with optional line-range
// selection. Path-sandbox enforcement is the Executor's job (via
// PathArguments); ReadFile only resolves the path relative to its working
// directory and performs the read.
type ReadFile struct {
	cfg ReadFileConfig
}

func NewReadFile(cfg ReadFileConfig) *ReadFile {
	return &ReadFile{cfg: cfg.withDefaults()}
}

func (t *ReadFile) Name() string { return "read_file" }

func (t *ReadFile) Description() string {
	return "Read the contents of a file with optional line numbers and range selection."
}

// ReadFileArgs is ReadFile's declared argument shape: its jsonschema tags
// generate Schema(), and its json tags drive decodeArgs.
type ReadFileArgs struct {
	Path        string `json:"path" jsonschema:"required,description=File path to read, relative to the working directory"`
	StartLine   int    `json:"start_line,omitempty" jsonschema:"minimum=1"`
	EndLine     int    `json:"end_line,omitempty" jsonschema:"minimum=1"`
	LineNumbers *bool  `json:"line_numbers,omitempty" jsonschema:"default=true"`
}

var readFileSchema = generateSchema[ReadFileArgs]()

func (t *ReadFile) Schema() map[string]any { return readFileSchema }

func (t *ReadFile) RiskLevel() tool.RiskLevel      { return tool.RiskLow }
func (t *ReadFile) SideEffects() []tool.SideEffect { return []tool.SideEffect{tool.SideEffectFilesystemRead} }
func (t *ReadFile) Mutates() bool                  { return false }
func (t *ReadFile) PathArguments() []string        { return []string{"path"} }

func (t *ReadFile) Call(_ context.Context, _ tool.ExecutionContext, rawArgs map[string]any) (map[string]any, error) {
	args, err := decodeArgs[ReadFileArgs](rawArgs)
	if err != nil {
		return nil, err
	}
	if args.Path == "" {
		return nil, fmt.Errorf("path is required")
	}
	fullPath := filepath.Join(t.cfg.WorkingDirectory, args.Path)

	info, err := os.Stat(fullPath)
	if err != nil {
		return nil, fmt.Errorf("stat file: %w", err)
	}
	if info.Size() > t.cfg.MaxFileSize {
		return nil, fmt.Errorf("file too large: %d bytes (max %d)", info.Size(), t.cfg.MaxFileSize)
	}

	content, err := os.ReadFile(fullPath)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	lines := strings.Split(string(content), "\n")
	total := len(lines)

	start := args.StartLine
	if start <= 0 {
		start = 1
	}
	if start > total {
		return nil, fmt.Errorf("start_line (%d) exceeds file length (%d lines)", start, total)
	}
	end := args.EndLine
	if end <= 0 {
		end = total
	}
	if end > total {
		end = total
	}
	if start > end {
		return nil, fmt.Errorf("invalid range: start_line (%d) > end_line (%d)", start, end)
	}

	showLineNumbers := args.LineNumbers == nil || *args.LineNumbers

	var out strings.Builder
	for i := start - 1; i < end && i < len(lines); i++ {
		if showLineNumbers {
			fmt.Fprintf(&out, "%6d| %s\n", i+1, lines[i])
		} else {
			fmt.Fprintf(&out, "%s\n", lines[i])
		}
	}

	return map[string]any{
		"content":     out.String(),
		"path":        args.Path,
		"total_lines": total,
		"start_line":  start,
		"end_line":    end,
		"file_size":   info.Size(),
	}, nil
}

var _ tool.Handler = (*ReadFile)(nil)
var _ tool.PathSandboxed = (*ReadFile)(nil)
