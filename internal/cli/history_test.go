package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/chartsync/internal/model"
	"github.com/roach88/chartsync/internal/store"
)

func seedHistory(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chartsync.db")
	st, err := store.Open(path)
	require.NoError(t, err)
	defer st.Close()

	ctx := context.Background()
	require.NoError(t, st.Push(ctx, model.Flush{Seq: 3, Values: map[string]any{
		"_params":     map[string]any{"opacity": 0.5},
		"_selections": map[string]any{},
	}}))
	require.NoError(t, st.Push(ctx, model.Flush{Seq: 5, Values: map[string]any{
		"_params": map[string]any{"opacity": 0.2},
	}}))
	require.NoError(t, st.RecordEmbed(ctx, store.EmbedRecord{
		Session: "session-1",
		Mount:   "default",
		Status:  store.EmbedLive,
		Params:  []string{"opacity"},
	}))
	return path
}

func runHistoryCmd(t *testing.T, format string, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewHistoryCommand(&RootOptions{Format: format})
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return buf.String(), err
}

func TestHistory_Text(t *testing.T) {
	db := seedHistory(t)

	out, err := runHistoryCmd(t, "text", "--db", db)
	require.NoError(t, err)
	assert.Equal(t,
		"[3] _params = {\"opacity\":0.5}\n"+
			"[3] _selections = {}\n"+
			"[5] _params = {\"opacity\":0.2}\n",
		out)
}

func TestHistory_KeyAndEmbeds(t *testing.T) {
	db := seedHistory(t)

	out, err := runHistoryCmd(t, "text", "--db", db, "--key", "_selections", "--embeds")
	require.NoError(t, err)
	assert.Contains(t, out, "[3] _selections = {}\n")
	assert.NotContains(t, out, "_params =")
	assert.Contains(t, out, "session-1 live on default (selections [], params [opacity])")
}

func TestHistory_JSON(t *testing.T) {
	db := seedHistory(t)

	out, err := runHistoryCmd(t, "json", "--db", db, "--key", "_params")
	require.NoError(t, err)

	resp := decodeResponse(t, []byte(out))
	data, ok := resp.Data.(map[string]any)
	require.True(t, ok)
	entries, ok := data["entries"].([]any)
	require.True(t, ok)
	require.Len(t, entries, 2)
	assert.Equal(t, map[string]any{
		"seq":   float64(5),
		"key":   "_params",
		"value": map[string]any{"opacity": 0.2},
	}, entries[1])
}

func TestHistory_MissingDatabase(t *testing.T) {
	_, err := runHistoryCmd(t, "text", "--db", filepath.Join(t.TempDir(), "none.db"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestHistory_RequiresDB(t *testing.T) {
	_, err := runHistoryCmd(t, "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}
