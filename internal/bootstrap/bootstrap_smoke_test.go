package bootstrap

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-sage-server-go/internal/domain/vision"
	platformerrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/utils"
)

func testLookup(extra map[string]string) func(string) (string, bool) {
	env := map[string]string{
		"IMAGE_SAGE_BACKENDS": "openrouter,openai,anthropic",
	}
	for k, v := range extra {
		env[k] = v
	}
	return func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
}

func TestInitGraphOrder(t *testing.T) {
	steps := InitGraph()
	want := []string{
		"config:load",
		"logging:init-provider",
		"observability:setup-hooks",
		"eventbus:init-handlers",
		"providers:init-manager",
		"services:init-analyzer",
	}
	if len(steps) != len(want) {
		t.Fatalf("unexpected step count: got %d want %d", len(steps), len(want))
	}
	for i, step := range steps {
		if step.ID != want[i] {
			t.Fatalf("step %d mismatch: got %s want %s", i, step.ID, want[i])
		}
	}
}

func TestExecuteInitGraph(t *testing.T) {
	state := &appState{opts: Options{Lookup: testLookup(nil), LogConsole: io.Discard}}
	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))
	defer state.close()

	require.NotNil(t, state.config)
	require.NotNil(t, state.logger)
	require.NotNil(t, state.events)
	require.NotNil(t, state.observabilityShutdown)
	require.NotNil(t, state.analyzer)

	// 无凭据时只剩 stub
	assert.Equal(t, []string{"stub"}, state.analyzer.Backends())
	assert.Equal(t, "env", state.configPath)
}

func TestExecuteInitGraph_DebugLineIgnoresLogLevel(t *testing.T) {
	var console bytes.Buffer
	state := &appState{opts: Options{
		Lookup: testLookup(map[string]string{
			"IMAGE_SAGE_DEBUG": "1",
			"IMAGE_SAGE_LOG":   "ERROR",
		}),
		LogConsole: &console,
	}}
	require.NoError(t, executeInitSteps(context.Background(), InitGraph(), state))
	defer state.close()

	out := console.String()
	assert.Contains(t, out, "[image-sage-mcp] starting (pid=")
	// INFO 级别日志被过滤
	assert.NotContains(t, out, "日志模块就绪")

	console.Reset()
	state.analyzer.Analyze(context.Background(), "ftp://example.com/a.png", vision.DefaultOptions())
	assert.Contains(t, console.String(), "[image-sage-mcp] tool call: url=ftp://example.com/a.png")
}

func TestExecuteInitSteps_MissingDependency(t *testing.T) {
	steps := []initStep{{
		ID:        "services:init-analyzer",
		DependsOn: []string{"providers:init-manager"},
		Execute:   func(context.Context, *appState) error { return nil },
	}}
	err := executeInitSteps(context.Background(), steps, &appState{})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindBootstrap))
	assert.Contains(t, err.Error(), "providers:init-manager")
}

func TestExecuteInitSteps_ConfigError(t *testing.T) {
	state := &appState{opts: Options{
		Lookup:     testLookup(map[string]string{"IMAGE_SAGE_HTTP_PORT": "70000"}),
		LogConsole: io.Discard,
	}}
	err := executeInitSteps(context.Background(), InitGraph(), state)
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
	assert.Nil(t, state.logger)
}

func TestPrepare_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "image-sage.yaml")
	content := `
server:
  name: sage-test
vision:
  backends: ["ollama"]
  request_timeout_seconds: 3
VLLLM:
  ollama:
    type: ollama
    model_name: llava
    url: http://127.0.0.1:11434
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	app, err := Prepare(context.Background(), Options{
		ConfigPath: path,
		Lookup:     testLookup(map[string]string{"IMAGE_SAGE_BACKENDS": ""}),
		LogConsole: io.Discard,
	})
	require.NoError(t, err)
	defer app.Close()

	assert.Equal(t, "sage-test", app.Config.Server.Name)
	assert.Equal(t, []string{"ollama", "stub"}, app.Analyzer.Backends())
	assert.NoError(t, app.Close())
	assert.NoError(t, app.Close(), "close is idempotent")
}

func TestRun_StdioExitsOnEOF(t *testing.T) {
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() {
		done <- Run(context.Background(), Options{
			Transport:  "stdio",
			Lookup:     testLookup(nil),
			LogConsole: io.Discard,
			Stdin:      strings.NewReader(""),
			Stdout:     &out,
		})
	}()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after stdin closed")
	}
	assert.Empty(t, out.String(), "nothing but protocol frames may reach stdout")
}

func TestRun_UnknownTransport(t *testing.T) {
	err := Run(context.Background(), Options{
		Transport:  "grpc",
		Lookup:     testLookup(nil),
		LogConsole: io.Discard,
	})
	require.Error(t, err)
	assert.True(t, platformerrors.IsKind(err, platformerrors.KindConfig))
}

func TestPublicBaseURL(t *testing.T) {
	state := &appState{opts: Options{Lookup: testLookup(map[string]string{"IMAGE_SAGE_HTTP_PORT": "9191"}), LogConsole: io.Discard}}
	require.NoError(t, loadConfigStep(context.Background(), state))
	assert.Equal(t, "http://localhost:9191", publicBaseURL(state.config))

	state.config.Web.IP = "10.1.2.3"
	assert.Equal(t, "http://10.1.2.3:9191", publicBaseURL(state.config))
}

func TestLogBootstrapGraphOutput(t *testing.T) {
	tmp := t.TempDir()
	logCfg := &utils.LogCfg{
		LogLevel: "info",
		LogDir:   tmp,
		LogFile:  "graph.log",
		Console:  io.Discard,
	}
	logger, err := utils.NewLogger(logCfg)
	if err != nil {
		t.Fatalf("new logger: %v", err)
	}
	logBootstrapGraph(InitGraph(), logger)
	logger.Close()

	data, err := os.ReadFile(filepath.Join(tmp, "graph.log"))
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	content := string(data)
	for _, step := range InitGraph() {
		if !strings.Contains(content, step.ID) {
			t.Fatalf("log output missing step %s: %s", step.ID, content)
		}
	}
}
