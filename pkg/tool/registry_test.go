package tool

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubHandler struct {
	name    string
	risk    RiskLevel
	effects []SideEffect
	mutates bool
}

func (s stubHandler) Name() string              { return s.name }
func (s stubHandler) Description() string       { return "stub" }
func (s stubHandler) Schema() map[string]any     { return nil }
func (s stubHandler) RiskLevel() RiskLevel       { return s.risk }
func (s stubHandler) SideEffects() []SideEffect  { return s.effects }
func (s stubHandler) Mutates() bool              { return s.mutates }
func (s stubHandler) Call(context.Context, ExecutionContext, map[string]any) (map[string]any, error) {
	return map[string]any{"ok": true}, nil
}

func TestRegistryEffectiveCatalogDefaultsToEverything(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubHandler{name: "a"}))
	require.NoError(t, r.Register("b", stubHandler{name: "b"}))

	require.Len(t, r.EffectiveCatalog(nil), 2)
}

func TestRegistryEffectiveCatalogHonorsAllowList(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("a", stubHandler{name: "a"}))
	require.NoError(t, r.Register("b", stubHandler{name: "b"}))

	got := r.EffectiveCatalog([]string{"b", "missing"})
	require.Len(t, got, 1)
	require.Equal(t, "b", got[0].Name())
}
