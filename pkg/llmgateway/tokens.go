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
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/agenticmail/agentcore/pkg/session"
)

// TokenEstimator estimates input-token counts for budget preflight, per
// spec.md §4.C: "not for billing" — a dialect's own usage report, once the
// step completes, is always authoritative over this estimate. Encodings
// are cached per model since tiktoken.EncodingForModel is not free.
type TokenEstimator struct {
	mu        sync.RWMutex
	encodings map[string]*tiktoken.Tiktoken
}

// NewTokenEstimator returns an estimator with an empty encoding cache.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{encodings: make(map[string]*tiktoken.Tiktoken)}
}

func (te *TokenEstimator) encodingFor(model string) *tiktoken.Tiktoken {
	te.mu.RLock()
	enc, ok := te.encodings[model]
	te.mu.RUnlock()
	if ok {
		return enc
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil
		}
	}

	te.mu.Lock()
	te.encodings[model] = enc
	te.mu.Unlock()
	return enc
}

// EstimateText counts text's tokens for model, falling back to spec.md
// §4.C's ~4-characters-per-token rule when no encoding can be resolved
// (e.g. an offline test run with no tiktoken ranks file cached).
func (te *TokenEstimator) EstimateText(model, text string) int {
	enc := te.encodingFor(model)
	if enc == nil {
		return fallbackEstimate(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func fallbackEstimate(text string) int {
	return len(text) / 4
}

// EstimateMessages estimates the total prompt token count for msgs against
// model: each message's role/content plus OpenAI's 3-token message-framing
// overhead, and a final 3-token reply-priming allowance. This mirrors the
// counting convention most dialects' own tokenizers use closely enough for
// a budget preflight, which only needs to reject steps that are grossly
// over cap before the expensive network call.
func (te *TokenEstimator) EstimateMessages(model string, msgs []session.Message) int {
	total := 0
	for _, m := range msgs {
		total += 3
		total += te.EstimateText(model, string(m.Role))
		total += te.EstimateText(model, blockText(m))
	}
	total += 3
	return total
}

func blockText(m session.Message) string {
	var s string
	for _, b := range m.Blocks {
		switch v := b.(type) {
		case session.TextBlock:
			s += v.Text
		case session.ReasoningBlock:
			s += v.Text
		case session.ToolResultBlock:
			s += v.Payload
		}
	}
	return s
}
