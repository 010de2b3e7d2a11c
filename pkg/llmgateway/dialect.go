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
	"context"
	"io"

	"github.com/agenticmail/agentcore/pkg/streamevent"
)

// Dialect translates the Gateway's uniform Request/FinalResponse across one
// wire format. Every transport concern (retry, backoff, auth, connection
// reuse) is owned by the Gateway; a Dialect only knows how to shape a
// request body and how to read the bytes that come back.
type Dialect interface {
	// BuildRequest returns the HTTP method, request path (relative to the
	// provider's BaseURL), extra headers beyond auth/content-type, and the
	// JSON request body for req against provider.
	BuildRequest(provider ProviderDefinition, req Request) (method, path string, headers map[string]string, body []byte, err error)

	// ParseStream consumes body as the HTTP response streams, emitting a
	// StreamEvent for every text/reasoning delta and tool_call_start as it
	// arrives, and returns the finalization record once the stream ends.
	// ctx cancellation must abort parsing promptly (spec.md §5, suspension
	// point "stream read").
	ParseStream(ctx context.Context, sessionID string, body io.Reader, emit func(streamevent.Event)) (FinalResponse, error)
}

// ctxDone reports whether ctx has already been cancelled, used by each
// dialect's stream-reading loop to bail out between chunks without waiting
// for the next byte to arrive.
func ctxDone(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}
