package cli

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutil "image-sage-server-go/internal/platform/testing"
)

func newTestCLI(env map[string]string) (*CLI, *bytes.Buffer, *bytes.Buffer) {
	var stdout, stderr bytes.Buffer
	c := &CLI{
		Stdin:  strings.NewReader(""),
		Stdout: &stdout,
		Stderr: &stderr,
		Lookup: func(key string) (string, bool) {
			v, ok := env[key]
			return v, ok
		},
	}
	return c, &stdout, &stderr
}

func TestAnalyze_LocalFile(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "dot.gif", testutil.GIFBytes(t, 3, 2))

	c, stdout, _ := newTestCLI(map[string]string{
		"IMAGE_SAGE_ALLOWED_FS_ROOTS": dir,
		"IMAGE_SAGE_BACKENDS":         "openai",
	})
	require.NoError(t, c.Execute(context.Background(), []string{"analyze", path, "--ocr=false", "--detail", "high"}))

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal(stdout.Bytes(), &payload))
	assert.Equal(t, "stub", payload["backend_used"])
	meta, ok := payload["metadata"].(map[string]any)
	require.True(t, ok)
	assert.EqualValues(t, 3, meta["width"])
	assert.EqualValues(t, 2, meta["height"])
}

func TestAnalyze_RejectedPath(t *testing.T) {
	c, stdout, _ := newTestCLI(map[string]string{
		"IMAGE_SAGE_ALLOWED_FS_ROOTS": t.TempDir(),
	})
	require.NoError(t, c.Execute(context.Background(), []string{"analyze", "/etc/passwd"}))

	var payload struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, sonic.Unmarshal(stdout.Bytes(), &payload))
	assert.Equal(t, "INVALID_URL", payload.Error.Code)
}

func TestAnalyze_BadDetailFallsBack(t *testing.T) {
	dir := t.TempDir()
	path := testutil.WriteFile(t, dir, "dot.gif", testutil.GIFBytes(t, 1, 1))

	c, stdout, stderr := newTestCLI(map[string]string{"IMAGE_SAGE_ALLOWED_FS_ROOTS": dir})
	require.NoError(t, c.Execute(context.Background(), []string{"analyze", path, "--detail", "ultra"}))
	assert.Contains(t, stderr.String(), `unknown detail level "ultra"`)
	assert.Contains(t, stdout.String(), `"backend_used":"stub"`)
}

func TestAnalyze_RequiresArgument(t *testing.T) {
	c, _, _ := newTestCLI(nil)
	assert.Error(t, c.Execute(context.Background(), []string{"analyze"}))
}

func TestBackends(t *testing.T) {
	c, stdout, _ := newTestCLI(map[string]string{
		"IMAGE_SAGE_BACKENDS": "openrouter,ollama",
		"OLLAMA_URL":          "http://127.0.0.1:11434",
	})
	require.NoError(t, c.Execute(context.Background(), []string{"backends"}))

	out := stdout.String()
	assert.Contains(t, out, "1. ollama\n2. stub\n")
	assert.Contains(t, out, "skipped openrouter:")
	assert.Contains(t, out, "cache: enabled=true ttl=3600s")
}

func TestVersionFlag(t *testing.T) {
	c, stdout, _ := newTestCLI(nil)
	require.NoError(t, c.Execute(context.Background(), []string{"--version"}))
	assert.Contains(t, stdout.String(), "dev")
}
