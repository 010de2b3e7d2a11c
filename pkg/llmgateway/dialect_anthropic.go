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
	"strings"

	"github.com/agenticmail/agentcore/pkg/session"
	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// anthropicDialect implements Dialect for Anthropic's Messages API:
// content-block arrays over SSE, a top-level system field, and partial-JSON
// tool-argument deltas keyed by content-block index.
type anthropicDialect struct{}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicMessage struct {
	Role    string             `json:"role"`
	Content []anthropicContent `json:"content"`
}

type anthropicContent struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     *map[string]any `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Stream      bool               `json:"stream"`
	System      string             `json:"system,omitempty"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
}

type anthropicStreamEvent struct {
	Type         string            `json:"type"`
	Index        int               `json:"index"`
	Delta        *anthropicDelta   `json:"delta,omitempty"`
	ContentBlock *anthropicContent `json:"content_block,omitempty"`
	Usage        *anthropicUsage   `json:"usage,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

func (anthropicDialect) BuildRequest(provider ProviderDefinition, req Request) (string, string, map[string]string, []byte, error) {
	var systemParts []string
	if req.SystemPrompt != "" {
		systemParts = append(systemParts, req.SystemPrompt)
	}

	messages := make([]anthropicMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == session.RoleSystem {
			if t := m.Text(); t != "" {
				systemParts = append(systemParts, t)
			}
			continue
		}

		var resultBlocks []session.ToolResultBlock
		for _, b := range m.Blocks {
			if rb, ok := b.(session.ToolResultBlock); ok {
				resultBlocks = append(resultBlocks, rb)
			}
		}
		if len(resultBlocks) > 0 {
			content := make([]anthropicContent, 0, len(resultBlocks))
			for _, rb := range resultBlocks {
				content = append(content, anthropicContent{
					Type:      "tool_result",
					ToolUseID: rb.RefID,
					Content:   rb.Payload,
					IsError:   rb.IsError,
				})
			}
			messages = append(messages, anthropicMessage{Role: "user", Content: content})
			continue
		}

		role := "user"
		if m.Role == session.RoleAssistant {
			role = "assistant"
		}

		var content []anthropicContent
		if t := m.Text(); t != "" {
			content = append(content, anthropicContent{Type: "text", Text: t})
		}
		for _, inv := range m.ToolInvocations() {
			input := inv.Arguments
			if input == nil {
				input = make(map[string]any)
			}
			content = append(content, anthropicContent{Type: "tool_use", ID: inv.ID, Name: inv.Name, Input: &input})
		}
		if len(content) == 0 {
			continue
		}
		messages = append(messages, anthropicMessage{Role: role, Content: content})
	}

	areq := anthropicRequest{
		Model:       req.Model.ModelID,
		Messages:    messages,
		MaxTokens:   req.MaxOutputTokens,
		Temperature: req.Temperature,
		Stream:      true,
		System:      strings.Join(systemParts, "\n\n"),
	}
	for _, t := range req.Tools {
		areq.Tools = append(areq.Tools, anthropicTool{Name: t.Name, Description: t.Description, InputSchema: t.Parameters})
	}

	body, err := json.Marshal(areq)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("llmgateway: marshal anthropic request: %w", err)
	}
	return "POST", "/v1/messages", map[string]string{"anthropic-version": "2023-06-01"}, body, nil
}

func (anthropicDialect) ParseStream(ctx context.Context, sessionID string, body io.Reader, emit func(streamevent.Event)) (FinalResponse, error) {
	toolCalls := make(map[int]*session.ToolInvocationBlock)
	toolJSON := make(map[int]string)
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

		var evt anthropicStreamEvent
		if err := json.Unmarshal([]byte(payload), &evt); err != nil {
			return FinalResponse{}, fmt.Errorf("llmgateway: decode anthropic stream event: %w", err)
		}

		switch evt.Type {
		case "content_block_start":
			if evt.ContentBlock != nil && evt.ContentBlock.Type == "tool_use" {
				toolCalls[evt.Index] = &session.ToolInvocationBlock{ID: evt.ContentBlock.ID, Name: evt.ContentBlock.Name}
				toolJSON[evt.Index] = ""
				emit(streamevent.NewToolCallStart(sessionID, evt.ContentBlock.Name, evt.ContentBlock.ID))
			}
		case "content_block_delta":
			if evt.Delta == nil {
				continue
			}
			if evt.Delta.Text != "" {
				text.WriteString(evt.Delta.Text)
				emit(streamevent.NewTextDelta(sessionID, evt.Delta.Text))
			}
			if evt.Delta.Type == "input_json_delta" && evt.Delta.PartialJSON != "" {
				toolJSON[evt.Index] += evt.Delta.PartialJSON
			}
		case "content_block_stop":
			if tc, ok := toolCalls[evt.Index]; ok {
				if frag := toolJSON[evt.Index]; frag != "" {
					var args map[string]any
					if err := json.Unmarshal([]byte(frag), &args); err == nil {
						tc.Arguments = args
					}
				}
			}
		case "message_delta":
			if evt.Delta != nil && evt.Delta.StopReason != "" {
				stopReason = mapAnthropicStopReason(evt.Delta.StopReason)
			}
			if evt.Usage != nil {
				usage.OutputTokens = evt.Usage.OutputTokens
			}
		case "message_stop":
			resp := FinalResponse{StopReason: stopReason, Text: text.String(), Usage: usage}
			for _, tc := range orderedToolCalls(toolCalls) {
				resp.ToolCalls = append(resp.ToolCalls, *tc)
			}
			return resp, nil
		}
	}
	if err := scanner.Err(); err != nil {
		return FinalResponse{}, fmt.Errorf("llmgateway: read anthropic stream: %w", err)
	}

	resp := FinalResponse{StopReason: stopReason, Text: text.String(), Usage: usage}
	for _, tc := range orderedToolCalls(toolCalls) {
		resp.ToolCalls = append(resp.ToolCalls, *tc)
	}
	return resp, nil
}

func mapAnthropicStopReason(r string) streamevent.StopReason {
	switch r {
	case "tool_use":
		return streamevent.StopEndTurn // dispatch is decided by the presence of tool calls, not this tag
	case "max_tokens":
		return streamevent.StopMaxTokens
	default:
		return streamevent.StopEndTurn
	}
}

func orderedToolCalls(m map[int]*session.ToolInvocationBlock) []*session.ToolInvocationBlock {
	out := make([]*session.ToolInvocationBlock, 0, len(m))
	maxIdx := -1
	for idx := range m {
		if idx > maxIdx {
			maxIdx = idx
		}
	}
	for i := 0; i <= maxIdx; i++ {
		if tc, ok := m[i]; ok {
			out = append(out, tc)
		}
	}
	return out
}

var _ Dialect = anthropicDialect{}
