package mcp

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/bytedance/sonic"
	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-sage-server-go/internal/app/services"
	"image-sage-server-go/internal/domain/vision"
	apperrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/utils"
)

type fakeAnalyzer struct {
	input string
	opts  vision.Options
	reqID string
	resp  services.Response
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, input string, opts vision.Options) services.Response {
	f.input = input
	f.opts = opts
	f.reqID = utils.RequestID(ctx)
	return f.resp
}

func callRequest(args map[string]any) mcpgo.CallToolRequest {
	req := mcpgo.CallToolRequest{}
	req.Params.Name = ToolName
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, res *mcpgo.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, res.Content)
	text, ok := res.Content[0].(mcpgo.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestTool_Schema(t *testing.T) {
	tool := Tool()
	assert.Equal(t, ToolName, tool.Name)
	assert.Equal(t, ToolDescription, tool.Description)
	assert.Equal(t, []string{"url"}, tool.InputSchema.Required)
	assert.Contains(t, tool.InputSchema.Properties, "url")
	assert.Contains(t, tool.InputSchema.Properties, "options")
}

func TestHandleImageSage_Success(t *testing.T) {
	fa := &fakeAnalyzer{resp: services.Response{Result: &vision.AnalysisResult{
		ObjectsDetected: []string{},
		SceneType:       "unknown",
		Confidence:      0.25,
		BackendUsed:     vision.StubName,
	}}}
	s := NewServer("image-sage-mcp", "test", fa, utils.NewDiscardLogger())

	res, err := s.HandleImageSage(context.Background(), callRequest(map[string]any{
		"url":     "https://example.com/cat.jpg",
		"options": map[string]any{"include_ocr": false, "detail_level": "HIGH"},
	}))
	require.NoError(t, err)
	assert.False(t, res.IsError)

	assert.Equal(t, "https://example.com/cat.jpg", fa.input)
	assert.Equal(t, vision.Options{IncludeOCR: false, DetailLevel: vision.DetailHigh}, fa.opts)
	assert.NotEmpty(t, fa.reqID)

	var payload map[string]any
	require.NoError(t, sonic.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.Equal(t, "stub", payload["backend_used"])
	assert.InDelta(t, 0.25, payload["confidence"], 1e-9)
}

func TestHandleImageSage_DefaultsAndBadOptions(t *testing.T) {
	fa := &fakeAnalyzer{resp: services.Response{Result: &vision.AnalysisResult{}}}
	s := NewServer("image-sage-mcp", "test", fa, utils.NewDiscardLogger())

	_, err := s.HandleImageSage(context.Background(), callRequest(map[string]any{"url": "/tmp/x.png"}))
	require.NoError(t, err)
	assert.Equal(t, vision.DefaultOptions(), fa.opts)

	_, err = s.HandleImageSage(context.Background(), callRequest(map[string]any{
		"url":     "/tmp/x.png",
		"options": map[string]any{"detail_level": "ultra"},
	}))
	require.NoError(t, err)
	assert.Equal(t, vision.DetailMedium, fa.opts.DetailLevel)
}

func TestHandleImageSage_ErrorIsToolError(t *testing.T) {
	fa := &fakeAnalyzer{resp: services.ErrorResult(apperrors.CodeInvalidURL, "File access denied or path invalid", map[string]any{"url": "/etc/passwd"})}
	s := NewServer("image-sage-mcp", "test", fa, utils.NewDiscardLogger())

	res, err := s.HandleImageSage(context.Background(), callRequest(map[string]any{"url": "/etc/passwd"}))
	require.NoError(t, err)
	assert.True(t, res.IsError)

	var payload struct {
		Error services.ErrorBody `json:"error"`
	}
	require.NoError(t, sonic.Unmarshal([]byte(resultText(t, res)), &payload))
	assert.Equal(t, apperrors.CodeInvalidURL, payload.Error.Code)
	assert.Contains(t, payload.Error.Tips, "try_file_url")
}

func TestServer_ListsTool(t *testing.T) {
	s := NewServer("image-sage-mcp", "test", &fakeAnalyzer{}, utils.NewDiscardLogger())

	msg := s.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list","params":{}}`))
	out, err := sonic.Marshal(msg)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(out), `"image_sage"`), string(out))
}

func TestServeStdio_StopsOnCancel(t *testing.T) {
	s := NewServer("image-sage-mcp", "test", &fakeAnalyzer{}, utils.NewDiscardLogger())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r, w := strings.NewReader(""), &strings.Builder{}
	assert.NoError(t, s.ServeStdio(ctx, r, w))
}
