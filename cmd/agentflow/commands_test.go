package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the CLI with an isolated config and returns stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("AGENTFLOW_LOG_LEVEL", "")

	var out, errOut bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{
		"--config", filepath.Join(dir, "settings.json"),
		"--env-file", filepath.Join(dir, ".env"),
		"--log-level", "error",
	}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestListCommand(t *testing.T) {
	out, err := execute(t, "list")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(out, "NAME"))
	for _, name := range []string{"qa", "summarize", "review", "triage", "greetings"} {
		assert.Contains(t, out, name)
	}
}

func TestRunCommand(t *testing.T) {
	out, err := execute(t, "run", "greetings", "--input", `{"name":"Ada","languages":["es"]}`)
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &body))
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, "Hola, Ada", body["output"].(map[string]any)["greetings"].(map[string]any)["es"])
}

func TestRunCommandInputFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "in.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"topic":"go","min_revisions":1}`), 0o644))

	out, err := execute(t, "run", "review", "--input-file", path, "--diagram")
	require.NoError(t, err)
	assert.Contains(t, out, `"status": "completed"`)
	assert.Contains(t, out, "[OK]")
	assert.Contains(t, out, "decide ─[approved]→ publish")
}

func TestRunCommandInvalidInput(t *testing.T) {
	_, err := execute(t, "run", "qa", "--input", `[1,2]`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JSON object")

	_, err = execute(t, "run", "qa", "--input", `{}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SCHEMA_MISMATCH")
}

func TestRunCommandUnknownWorkflow(t *testing.T) {
	_, err := execute(t, "run", "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestDiagramCommand(t *testing.T) {
	out, err := execute(t, "diagram", "triage")
	require.NoError(t, err)
	assert.Contains(t, out, "graph TD")
	assert.Contains(t, out, "route -->|billing| billing_desk")

	out, err = execute(t, "diagram", "qa", "--format", "ascii")
	require.NoError(t, err)
	assert.Contains(t, out, "│ normalize")
}

func TestDiagramCommandPNG(t *testing.T) {
	_, err := execute(t, "diagram", "qa", "--format", "png")
	require.Error(t, err)

	path := filepath.Join(t.TempDir(), "qa.png")
	out, err := execute(t, "diagram", "qa", "--format", "png", "--output", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Diagram written to")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 'P', 'N', 'G'}, data[:4])
}

func TestVersionFlag(t *testing.T) {
	out, err := execute(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, "agentflow version dev\n", out)
}
