package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func runValidateCmd(t *testing.T, format, path string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewValidateCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{path})
	err := cmd.Execute()
	return buf.String(), err
}

const brushYAML = `params:
  - name: brush
    select: {type: interval}
  - name: opacity
    value: 0.5
`

func TestValidate_ValidSpec(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chart.yaml", brushYAML)

	out, err := runValidateCmd(t, "text", path)
	require.NoError(t, err)
	assert.Equal(t, "✓ Spec valid (yaml)\n  selection brush (interval)\n  param opacity\n", out)
}

func TestValidate_ValidSpecJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chart.yaml", brushYAML)

	out, err := runValidateCmd(t, "json", path)
	require.NoError(t, err)

	resp := decodeResponse(t, []byte(out))
	assert.Equal(t, "ok", resp.Status)
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, map[string]any{"brush": "interval"}, data["selections"])
	assert.Equal(t, []any{"opacity"}, data["params"])
}

func TestValidate_GraphError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chart.json", `{"data": [{"name": "table", "values": "oops"}]}`)

	out, err := runValidateCmd(t, "text", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Validation failed")
	assert.Contains(t, out, ErrCodeGraph+": spec.data[0]: values must be an array")
}

func TestValidate_ParamsError(t *testing.T) {
	path := writeFile(t, t.TempDir(), "chart.cue", `params: [{name: "brush", select: {type: "lasso"}}]`)

	out, err := runValidateCmd(t, "json", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	resp := decodeResponse(t, []byte(out))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeParams, resp.Error.Code)
	assert.Contains(t, resp.Error.Message, `unexpected selection type "lasso"`)
}

func TestValidate_MissingFile(t *testing.T) {
	out, err := runValidateCmd(t, "text", filepath.Join(t.TempDir(), "missing.cue"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [E005]")
}
