package registry

import (
	"testing"

	"github.com/relaykit/clauded/internal/apierr"
	"github.com/relaykit/clauded/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToolsFor_StableOrder(t *testing.T) {
	r := build()
	a := r.ToolsFor(config.OSUnix)
	b := r.ToolsFor(config.OSUnix)

	require.Equal(t, len(a), len(b))
	for i := range a {
		assert.Equal(t, a[i].Name, b[i].Name)
	}
}

func TestToolsFor_OSTemplating(t *testing.T) {
	r := build()

	unix := r.ToolsFor(config.OSUnix)
	windows := r.ToolsFor(config.OSWindows)

	findDesc := func(entries []Entry, name string) string {
		for _, e := range entries {
			if e.Name == name {
				return e.Description
			}
		}
		return ""
	}

	assert.Contains(t, findDesc(unix, "run_bash"), "RECOMMENDED")
	assert.Contains(t, findDesc(windows, "run_cmd"), "RECOMMENDED")
	assert.NotContains(t, findDesc(windows, "run_bash"), "RECOMMENDED")
}

// S2 — tool round-trip: model emits read_file with {"path": "/tmp/x"},
// proxy must produce name read_file with input {"file_path": "/tmp/x"}.
func TestCanonicalArgs_S2ToolRoundTrip(t *testing.T) {
	r := build()

	name, args, err := r.CanonicalArgs("read_file", map[string]any{"path": "/tmp/x"}, config.OSUnix)
	require.NoError(t, err)
	assert.Equal(t, "read_file", name)
	assert.Equal(t, map[string]any{"file_path": "/tmp/x"}, args)
}

// S3 — malformed tool arguments self-healing.
func TestCanonicalArgs_S3TodoSelfHealing(t *testing.T) {
	r := build()

	name, args, err := r.CanonicalArgs("manage_todos", map[string]any{
		"tasks": []any{"write spec", "review"},
	}, config.OSUnix)
	require.NoError(t, err)
	assert.Equal(t, "manage_todos", name)

	todos, ok := args["todos"].([]any)
	require.True(t, ok)
	require.Len(t, todos, 2)

	first := todos[0].(map[string]any)
	assert.Equal(t, "write spec", first["content"])
	assert.Equal(t, "pending", first["status"])
	assert.Equal(t, "writing spec", first["activeForm"])

	second := todos[1].(map[string]any)
	assert.Equal(t, "review", second["content"])
	assert.Equal(t, "reviewing", second["activeForm"])
}

func TestCanonicalArgs_DropsExplicitNulls(t *testing.T) {
	r := build()
	_, args, err := r.CanonicalArgs("read_file", map[string]any{
		"file_path": "/tmp/x",
		"limit":     nil,
	}, config.OSUnix)
	require.NoError(t, err)
	_, hasLimit := args["limit"]
	assert.False(t, hasLimit)
}

func TestCanonicalArgs_MissingRequiredFailsWithInvalidArgs(t *testing.T) {
	r := build()
	_, _, err := r.CanonicalArgs("write_file", map[string]any{"path": "/tmp/x"}, config.OSUnix)
	require.Error(t, err)

	var apiErr *apierr.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, apierr.KindInvalidArgs, apiErr.Kind)
}

func TestCanonicalArgs_TodoWriteAliasSharesSchema(t *testing.T) {
	r := build()
	name, args, err := r.CanonicalArgs("todo_write", map[string]any{
		"tasks": []any{"ship it"},
	}, config.OSUnix)
	require.NoError(t, err)
	assert.Equal(t, "todo_write", name)
	todos := args["todos"].([]any)
	require.Len(t, todos, 1)
}

func TestReverseToolName_StripsFunctionsPrefix(t *testing.T) {
	assert.Equal(t, "read_file", ReverseToolName("functions/read_file"))
	assert.Equal(t, "read_file", ReverseToolName("read_file"))
	assert.Equal(t, "some_unknown_tool", ReverseToolName("some_unknown_tool"))
}

func TestCanonicalArgs_WindowsCommandAutoWrap(t *testing.T) {
	r := build()

	_, args, err := r.CanonicalArgs("run_cmd", map[string]any{"command": "dir C:\\project"}, config.OSWindows)
	require.NoError(t, err)
	assert.Equal(t, `cmd /c "dir C:\project"`, args["command"])

	// Not windows: left untouched.
	_, args, err = r.CanonicalArgs("run_bash", map[string]any{"command": "ls -la"}, config.OSUnix)
	require.NoError(t, err)
	assert.Equal(t, "ls -la", args["command"])

	// Already wrapped: not double-wrapped.
	_, args, err = r.CanonicalArgs("run_cmd", map[string]any{"command": `cmd /c "dir"`}, config.OSWindows)
	require.NoError(t, err)
	assert.Equal(t, `cmd /c "dir"`, args["command"])
}

func TestCanonicalArgs_ExitPlanModeUnescapesEntities(t *testing.T) {
	r := build()
	_, args, err := r.CanonicalArgs("exit_plan_mode", map[string]any{
		"plan": "run `a &amp;&amp; b` then check x &lt; y &gt; z",
	}, config.OSUnix)
	require.NoError(t, err)
	assert.Equal(t, "run `a && b` then check x < y > z", args["plan"])
}

// Invariant 3: for every registry entry, canonicalising a minimal sample of
// its own required arguments yields arguments satisfying the schema.
func TestCanonicalArgs_RoundTripInvariant(t *testing.T) {
	r := build()
	for _, e := range r.ToolsFor(config.OSUnix) {
		sample := map[string]any{}
		for _, req := range e.Schema.Required {
			prop := e.Schema.Properties[req]
			switch prop.Type {
			case "array":
				sample[req] = []any{}
			case "boolean":
				sample[req] = true
			case "number":
				sample[req] = 1
			default:
				sample[req] = "x"
			}
		}

		_, args, err := r.CanonicalArgs(e.Name, sample, config.OSUnix)
		require.NoError(t, err, e.Name)

		schemaSource := e
		if e.SharesSchemaWith != "" {
			schemaSource, _ = r.Get(e.SharesSchemaWith)
		}
		for _, req := range schemaSource.Schema.Required {
			_, ok := args[req]
			assert.True(t, ok, "%s missing required %q after round-trip", e.Name, req)
		}
	}
}
