package builtin

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateSchemaMarksRequiredAndOptionalFields(t *testing.T) {
	schema := generateSchema[ReadFileArgs]()
	require.Equal(t, "object", schema["type"])
	required, ok := schema["required"].([]any)
	require.True(t, ok)
	require.Contains(t, required, "path")
	require.NotContains(t, required, "start_line")
}

func TestDecodeArgsConvertsWeaklyTypedNumbers(t *testing.T) {
	args, err := decodeArgs[ReadFileArgs](map[string]any{
		"path":       "a.txt",
		"start_line": float64(2),
	})
	require.NoError(t, err)
	require.Equal(t, "a.txt", args.Path)
	require.Equal(t, 2, args.StartLine)
}
