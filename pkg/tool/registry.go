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

package tool

import "github.com/agenticmail/agentcore/pkg/registry"

// Registry holds the built-in tools and enabled skill adapters available
// to an agent. It reuses the generic registry infrastructure unmodified —
// a tool registry is pure name-to-Handler lookup with no domain logic of
// its own (spec.md §4.D step 1: "Look up name in the agent's effective
// tool catalog").
type Registry struct {
	*registry.BaseRegistry[Handler]
}

// NewRegistry constructs an empty tool Registry.
func NewRegistry() *Registry {
	return &Registry{BaseRegistry: registry.NewBaseRegistry[Handler]()}
}

// EffectiveCatalog resolves the names an agent's ToolAllowList permits,
// defaulting to every registered tool when the allow-list is empty. This
// composes "built-in tools ∪ enabled skill adapters ∪ per-agent overrides"
// (spec.md §4.D step 1) once a registry has been assembled from the
// built-ins plus any registered skill adapters for that agent.
func (r *Registry) EffectiveCatalog(allowList []string) []Handler {
	if len(allowList) == 0 {
		return r.List()
	}
	out := make([]Handler, 0, len(allowList))
	for _, name := range allowList {
		if h, ok := r.Get(name); ok {
			out = append(out, h)
		}
	}
	return out
}
