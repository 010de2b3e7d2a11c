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

package builtin

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
	"github.com/mitchellh/mapstructure"
)

// generateSchema reflects T's json/jsonschema struct tags into the
// map[string]any shape tool.Handler.Schema returns, so a built-in tool's
// declared schema and its argument struct can never drift apart.
func generateSchema[T any]() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))

	data, err := json.Marshal(schema)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}

// decodeArgs decodes an LLM-supplied tool-call argument payload into T,
// after validateSchema has already checked required properties. Weakly
// typed input is needed because JSON-decoded numbers arrive as float64
// where T declares an int field.
func decodeArgs[T any](args map[string]any) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return out, fmt.Errorf("build argument decoder: %w", err)
	}
	if err := decoder.Decode(args); err != nil {
		return out, fmt.Errorf("decode arguments: %w", err)
	}
	return out, nil
}
