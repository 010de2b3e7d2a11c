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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// openAIDialect implements Dialect for the Chat Completions wire format
// shared by OpenAI and the many OpenAI-compatible gateways fronting other
// vendors: system/user/assistant/tool roles, tool results keyed by
// tool_call_id, and a chunked delta stream whose tool-call arguments arrive
// as JSON fragments concatenated per array index.
type openAIDialect struct{}

type openAIFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type openAITool struct {
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIToolCall struct {
	Index    int    `json:"index"`
	ID       string `json:"id,omitempty"`
	Type     string `json:"type,omitempty"`
	Function struct {
		Name      string `json:"name,omitempty"`
		Arguments string `json:"arguments,omitempty"`
	} `json:"function"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
	Tools       []openAITool    `json:"tools,omitempty"`
}

type openAIChunk struct {
	Choices []struct {
		Delta struct {
			Content   string           `json:"content,omitempty"`
			ToolCalls []openAIToolCall `json:"tool_calls,omitempty"`
		} `json:"delta"`
		FinishReason string `json:"finish_reason,omitempty"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage,omitempty"`
}

func (openAIDialect) BuildRequest(provider ProviderDefinition, req Request) (string, string, map[string]string, []byte, error) {
	messages := make([]openAIMessage, 0, len(req.Messages)+1)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
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
				messages = append(messages, openAIMessage{Role: "tool", Content: rb.Payload, ToolCallID: rb.RefID})
			}
			continue
		}

		role := string(m.Role)
		om := openAIMessage{Role: role, Content: m.Text()}
		for i, inv := range m.ToolInvocations() {
			args, _ := json.Marshal(inv.Arguments)
			tc := openAIToolCall{Index: i, ID: inv.ID, Type: "function"}
			tc.Function.Name = inv.Name
			tc.Function.Arguments = string(args)
			om.ToolCalls = append(om.ToolCalls, tc)
		}
		messages = append(messages, om)
	}

	oreq := openAIRequest{
		Model:       req.Model.ModelID,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		Stream:      true,
	}
	for _, t := range req.Tools {
		oreq.Tools = append(oreq.Tools, openAITool{Type: "function", Function: openAIFunction{Name: t.Name, Description: t.Description, Parameters: t.Parameters}})
	}

	body, err := json.Marshal(oreq)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("llmgateway: marshal openai request: %w", err)
	}
	return "POST", "/chat/completions", nil, body, nil
}

func (openAIDialect) ParseStream(ctx context.Context, sessionID string, body io.Reader, emit func(streamevent.Event)) (FinalResponse, error) {
	type accumCall struct {
		id, name string
		args     strings.Builder
	}
	calls := make(map[int]*accumCall)
	var text strings.Builder
	var usage streamevent.Usage
	stopReason := streamevent.StopEndTurn

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctxDone(ctx) {
			return FinalResponse{}, ctx.Err()
		}
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, ":") || !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			break
		}

		var chunk openAIChunk
		if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
			return FinalResponse{}, fmt.Errorf("llmgateway: decode openai stream chunk: %w", err)
		}
		if chunk.Usage != nil {
			usage.InputTokens = chunk.Usage.PromptTokens
			usage.OutputTokens = chunk.Usage.CompletionTokens
		}
		for _, choice := range chunk.Choices {
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				emit(streamevent.NewTextDelta(sessionID, choice.Delta.Content))
			}
			for _, tc := range choice.Delta.ToolCalls {
				acc, ok := calls[tc.Index]
				if !ok {
					acc = &accumCall{}
					calls[tc.Index] = acc
					if tc.ID != "" {
						emit(streamevent.NewToolCallStart(sessionID, tc.Function.Name, tc.ID))
					}
				}
				if tc.ID != "" {
					acc.id = tc.ID
				}
				if tc.Function.Name != "" {
					acc.name = tc.Function.Name
				}
				acc.args.WriteString(tc.Function.Arguments)
			}
			switch choice.FinishReason {
			case "length":
				stopReason = streamevent.StopMaxTokens
			case "tool_calls", "stop", "":
				stopReason = streamevent.StopEndTurn
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return FinalResponse{}, fmt.Errorf("llmgateway: read openai stream: %w", err)
	}

	indices := make([]int, 0, len(calls))
	for idx := range calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	resp := FinalResponse{StopReason: stopReason, Text: text.String(), Usage: usage}
	for _, idx := range indices {
		acc := calls[idx]
		var args map[string]any
		if acc.args.Len() > 0 {
			_ = json.Unmarshal([]byte(acc.args.String()), &args)
		}
		resp.ToolCalls = append(resp.ToolCalls, session.ToolInvocationBlock{ID: acc.id, Name: acc.name, Arguments: args})
	}
	return resp, nil
}

var _ Dialect = openAIDialect{}
