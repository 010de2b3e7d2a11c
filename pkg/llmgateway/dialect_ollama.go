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

package llmgateway

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// ollamaDialect implements Dialect for a local Ollama server: a dedicated
// tool role keyed by tool name rather than a call id, structured tool-call
// objects instead of JSON-fragment deltas, and newline-delimited JSON
// framing rather than SSE — each line is read with bufio.Reader.ReadBytes,
// not bufio.Scanner, since Ollama's lines carry no "data: " prefix to
// filter on and can legitimately be large.
type ollamaDialect struct{}

type ollamaToolFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type ollamaTool struct {
	Type     string             `json:"type"`
	Function ollamaToolFunction `json:"function"`
}

type ollamaToolCallFunction struct {
	Index     int            `json:"index,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type ollamaToolCall struct {
	Type     string                 `json:"type"`
	Function ollamaToolCallFunction `json:"function"`
}

type ollamaMessage struct {
	Role       string            `json:"role"`
	Content    string            `json:"content"`
	ToolCalls  []ollamaToolCall  `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature,omitempty"`
	NumPredict  int     `json:"num_predict,omitempty"`
}

type ollamaRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
	Options  *ollamaOptions  `json:"options,omitempty"`
	Tools    []ollamaTool    `json:"tools,omitempty"`
}

type ollamaStreamChunk struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
	Error           string        `json:"error,omitempty"`
}

func (ollamaDialect) BuildRequest(provider ProviderDefinition, req Request) (string, string, map[string]string, []byte, error) {
	messages := make([]ollamaMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, ollamaMessage{Role: "system", Content: req.SystemPrompt})
	}

	for _, m := range req.Messages {
		var resultBlocks []session.ToolResultBlock
		for _, b := range m.Blocks {
			if rb, ok := b.(session.ToolResultBlock); ok {
				resultBlocks = append(resultBlocks, rb)
			}
		}
		if len(resultBlocks) > 0 {
			for _, rb := range resultBlocks {
				messages = append(messages, ollamaMessage{Role: "tool", Content: rb.Payload, ToolCallID: rb.RefID, ToolName: rb.RefID})
			}
			continue
		}

		om := ollamaMessage{Role: string(m.Role), Content: m.Text()}
		for i, inv := range m.ToolInvocations() {
			om.ToolCalls = append(om.ToolCalls, ollamaToolCall{
				Type: "function",
				Function: ollamaToolCallFunction{Index: i, Name: inv.Name, Arguments: inv.Arguments},
			})
		}
		messages = append(messages, om)
	}

	oreq := ollamaRequest{
		Model:    req.Model.ModelID,
		Messages: messages,
		Stream:   true,
		Options:  &ollamaOptions{Temperature: req.Temperature, NumPredict: req.MaxOutputTokens},
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, ollamaTool{Type: "function", Function: ollamaToolFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("llmgateway: marshal ollama request: %w", err)
	}
	return "POST", "/api/chat", nil, body, nil
}

func (ollamaDialect) ParseStream(ctx context.Context, sessionID string, body io.Reader, emit func(streamevent.Event)) (FinalResponse, error) {
	reader := bufio.NewReader(body)
	toolCallsMap := make(map[int]*ollamaToolCall)
	var text string
	var usage streamevent.Usage

	for {
		if ctxDone(ctx) {
			return FinalResponse{}, ctx.Err()
		}

		line, err := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			if err == io.EOF {
				break
			}
			if err != nil {
				return FinalResponse{}, fmt.Errorf("llmgateway: read ollama stream: %w", err)
			}
			continue
		}

		var chunk ollamaStreamChunk
		if jsonErr := json.Unmarshal(line, &chunk); jsonErr != nil {
			return FinalResponse{}, fmt.Errorf("llmgateway: decode ollama stream line: %w", jsonErr)
		}
		if chunk.Error != "" {
			return FinalResponse{}, fmt.Errorf("llmgateway: ollama stream error: %s", chunk.Error)
		}

		if chunk.Message.Content != "" {
			text += chunk.Message.Content
			emit(streamevent.NewTextDelta(sessionID, chunk.Message.Content))
		}

		for _, tc := range chunk.Message.ToolCalls {
			idx := tc.Function.Index
			if idx < 0 {
				idx = len(toolCallsMap)
			}
			if existing, ok := toolCallsMap[idx]; ok {
				for k, v := range tc.Function.Arguments {
					if existing.Function.Arguments == nil {
						existing.Function.Arguments = map[string]any{}
					}
					existing.Function.Arguments[k] = v
				}
				continue
			}
			tcCopy := tc
			toolCallsMap[idx] = &tcCopy
			emit(streamevent.NewToolCallStart(sessionID, tc.Function.Name, fmt.Sprintf("ollama-%d", idx)))
		}

		if chunk.Done {
			usage.InputTokens = chunk.PromptEvalCount
			usage.OutputTokens = chunk.EvalCount
			if err == io.EOF {
				break
			}
			break
		}
		if err == io.EOF {
			break
		}
	}

	resp := FinalResponse{StopReason: streamevent.StopEndTurn, Text: text, Usage: usage}
	for i := 0; i < len(toolCallsMap); i++ {
		tc, ok := toolCallsMap[i]
		if !ok {
			continue
		}
		resp.ToolCalls = append(resp.ToolCalls, session.ToolInvocationBlock{
			ID:        fmt.Sprintf("ollama-%d", i),
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return resp, nil
}

var _ Dialect = ollamaDialect{}
