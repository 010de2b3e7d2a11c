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

// Package credential resolves named credential references to secret values
// for the LLM Gateway and Tool Executor. The backing vault, environment, or
// OAuth token store is an external collaborator; this package only defines
// the consumed interface and two small concrete sources. Resolved secrets
// are never persisted in the Journal and are not subject to DLP scanning
// themselves (they never appear in tool arguments).
package credential

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwt"
)

var jwtSigAlg = jwa.HS256

// Resolver returns a secret for a named credential reference.
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// EnvResolver resolves a reference by reading an environment variable named
// prefix+ref, uppercased. It is the baseline source for local/dev use.
type EnvResolver struct {
	Prefix string
}

func (e EnvResolver) Resolve(_ context.Context, ref string) (string, error) {
	key := strings.ToUpper(e.Prefix + ref)
	val, ok := os.LookupEnv(key)
	if !ok {
		return "", fmt.Errorf("credential: no environment variable %s for reference %q", key, ref)
	}
	return val, nil
}

// JWTSource issues short-lived bearer tokens signed with a shared key. It
// is used when the vault backing a deployment issues per-agent identity as
// a JWT rather than a static secret.
type JWTSource struct {
	Key    []byte
	Issuer string
}

// IssueForAgent mints a bearer token asserting agentID as the subject.
func (j JWTSource) IssueForAgent(ctx context.Context, agentID string) (string, error) {
	tok, err := jwt.NewBuilder().
		Issuer(j.Issuer).
		Subject(agentID).
		Build()
	if err != nil {
		return "", fmt.Errorf("credential: build jwt: %w", err)
	}

	signed, err := jwt.Sign(tok, jwt.WithKey(jwtSigAlg, j.Key))
	if err != nil {
		return "", fmt.Errorf("credential: sign jwt: %w", err)
	}
	return string(signed), nil
}

// VerifyAgent validates a bearer token previously issued by IssueForAgent
// and returns the asserted agent id.
func (j JWTSource) VerifyAgent(ctx context.Context, token string) (string, error) {
	tok, err := jwt.Parse([]byte(token), jwt.WithKey(jwtSigAlg, j.Key))
	if err != nil {
		return "", fmt.Errorf("credential: verify jwt: %w", err)
	}
	return tok.Subject(), nil
}

// Chain tries each Resolver in order, returning the first successful
// resolution.
type Chain []Resolver

func (c Chain) Resolve(ctx context.Context, ref string) (string, error) {
	var lastErr error
	for _, r := range c {
		val, err := r.Resolve(ctx, ref)
		if err == nil {
			return val, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("credential: no resolver configured")
	}
	return "", fmt.Errorf("credential: unresolved reference %q: %w", ref, lastErr)
}

var _ Resolver = EnvResolver{}
var _ Resolver = Chain{}
