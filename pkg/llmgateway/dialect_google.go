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

// googleDialect implements Dialect for Google's Gemini generateContent
// streaming API: untyped parts (text/functionCall/functionResponse), a
// separate top-level systemInstruction, and roles user/model.
type googleDialect struct{}

// geminiPart is untyped on the wire: {"text":...}, {"functionCall":{...}}
// or {"functionResponse":{...}}, per spec.md §4.C.
type geminiPart map[string]any

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature,omitempty"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  geminiGenerationConfig  `json:"generationConfig"`
	Tools             []geminiTool            `json:"tools,omitempty"`
}

type geminiStreamResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (googleDialect) BuildRequest(provider ProviderDefinition, req Request) (string, string, map[string]string, []byte, error) {
	var contents []geminiContent
	var systemParts []geminiPart

	for _, m := range req.Messages {
		if m.Role == session.RoleSystem {
			if t := m.Text(); t != "" {
				systemParts = append(systemParts, geminiPart{"text": t})
			}
			continue
		}

		role := "user"
		if m.Role == session.RoleAssistant {
			role = "model"
		}

		var parts []geminiPart
		if t := m.Text(); t != "" {
			parts = append(parts, geminiPart{"text": t})
		}
		for _, inv := range m.ToolInvocations() {
			parts = append(parts, geminiPart{"functionCall": map[string]any{"name": inv.Name, "args": inv.Arguments}})
		}
		for _, b := range m.Blocks {
			rb, ok := b.(session.ToolResultBlock)
			if !ok {
				continue
			}
			parts = append(parts, geminiPart{"functionResponse": map[string]any{
				"name":     rb.RefID,
				"response": map[string]any{"content": rb.Payload},
			}})
		}

		if len(parts) > 0 {
			contents = append(contents, geminiContent{Role: role, Parts: parts})
		}
	}

	if req.SystemPrompt != "" {
		systemParts = append([]geminiPart{{"text": req.SystemPrompt}}, systemParts...)
	}

	greq := geminiRequest{
		Contents: contents,
		GenerationConfig: geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxOutputTokens,
		},
	}
	if len(systemParts) > 0 {
		greq.SystemInstruction = &geminiContent{Parts: systemParts}
	}
	if len(req.Tools) > 0 {
		decls := make([]geminiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, geminiFunctionDeclaration{Name: t.Name, Description: t.Description, Parameters: t.Parameters})
		}
		greq.Tools = []geminiTool{{FunctionDeclarations: decls}}
	}

	body, err := json.Marshal(greq)
	if err != nil {
		return "", "", nil, nil, fmt.Errorf("llmgateway: marshal gemini request: %w", err)
	}
	path := fmt.Sprintf("/models/%s:streamGenerateContent?alt=sse", req.Model.ModelID)
	return "POST", path, nil, body, nil
}

func (googleDialect) ParseStream(ctx context.Context, sessionID string, body io.Reader, emit func(streamevent.Event)) (FinalResponse, error) {
	var text strings.Builder
	var toolCalls []session.ToolInvocationBlock
	var usage streamevent.Usage
	stopReason := streamevent.StopEndTurn
	callSeq := 0

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		if ctxDone(ctx) {
			return FinalResponse{}, ctx.Err()
		}
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimPrefix(line, "data: ")

		var resp geminiStreamResponse
		if err := json.Unmarshal([]byte(data), &resp); err != nil {
			return FinalResponse{}, fmt.Errorf("llmgateway: decode gemini stream chunk: %w", err)
		}
		if resp.Error != nil {
			return FinalResponse{}, fmt.Errorf("llmgateway: gemini stream error: %s", resp.Error.Message)
		}

		for _, cand := range resp.Candidates {
			for _, part := range cand.Content.Parts {
				if t, ok := part["text"].(string); ok && t != "" {
					text.WriteString(t)
					emit(streamevent.NewTextDelta(sessionID, t))
				}
				if fc, ok := part["functionCall"].(map[string]any); ok {
					name, _ := fc["name"].(string)
					args, _ := fc["args"].(map[string]any)
					id := fmt.Sprintf("call_%d", callSeq)
					callSeq++
					emit(streamevent.NewToolCallStart(sessionID, name, id))
					toolCalls = append(toolCalls, session.ToolInvocationBlock{ID: id, Name: name, Arguments: args})
				}
			}
			if cand.FinishReason == "MAX_TOKENS" {
				stopReason = streamevent.StopMaxTokens
			}
		}

		if resp.UsageMetadata != nil {
			usage.InputTokens = resp.UsageMetadata.PromptTokenCount
			usage.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
		}
	}
	if err := scanner.Err(); err != nil {
		return FinalResponse{}, fmt.Errorf("llmgateway: read gemini stream: %w", err)
	}

	return FinalResponse{StopReason: stopReason, Text: text.String(), ToolCalls: toolCalls, Usage: usage}, nil
}

var _ Dialect = googleDialect{}
