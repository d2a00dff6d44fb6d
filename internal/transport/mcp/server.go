package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cast"

	"image-sage-server-go/internal/app/services"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/utils"
)

// 工具定义
const (
	ToolName        = "image_sage"
	ToolTitle       = "Image Sage"
	ToolDescription = "Analyze an image from a URL or local file path and return structured information about its contents"
)

// Analyzer runs one image_sage call.
type Analyzer interface {
	Analyze(ctx context.Context, input string, opts vision.Options) services.Response
}

// Server exposes the image_sage tool over MCP.
type Server struct {
	mcp      *server.MCPServer
	analyzer Analyzer
	logger   *utils.Logger
}

// NewServer 创建 MCP 服务并注册 image_sage 工具
func NewServer(name, version string, analyzer Analyzer, logger *utils.Logger) *Server {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	s := &Server{
		mcp: server.NewMCPServer(name, version,
			server.WithToolCapabilities(false),
			server.WithRecovery(),
		),
		analyzer: analyzer,
		logger:   logger,
	}
	s.mcp.AddTool(Tool(), s.HandleImageSage)
	return s
}

// Tool returns the image_sage tool definition.
func Tool() mcpgo.Tool {
	return mcpgo.NewTool(ToolName,
		mcpgo.WithDescription(ToolDescription),
		mcpgo.WithTitleAnnotation(ToolTitle),
		mcpgo.WithReadOnlyHintAnnotation(true),
		mcpgo.WithString("url",
			mcpgo.Required(),
			mcpgo.Description("URL or local file path to the image to analyze"),
		),
		mcpgo.WithObject("options",
			mcpgo.Description("Analysis options"),
			mcpgo.Properties(map[string]any{
				"include_ocr": map[string]any{
					"type":        "boolean",
					"description": "Whether to extract text from the image",
					"default":     true,
				},
				"detail_level": map[string]any{
					"type":        "string",
					"enum":        []string{"low", "medium", "high"},
					"description": "Level of detail for analysis",
					"default":     "medium",
				},
			}),
		),
	)
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer { return s.mcp }

// HandleImageSage is the tool handler. Analysis failures are tool results
// with isError set, not protocol errors.
func (s *Server) HandleImageSage(ctx context.Context, request mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	args := arguments(request.Params.Arguments)
	input := cast.ToString(args["url"])

	opts, warnings := vision.OptionsFromMap(cast.ToStringMap(args["options"]))
	for _, w := range warnings {
		s.logger.WarnTag("MCP", "参数修正: %s", w)
	}

	ctx = utils.WithRequestID(ctx, utils.NewRequestID())
	resp := s.analyzer.Analyze(ctx, input, opts)

	data, err := resp.JSON()
	if err != nil {
		s.logger.ErrorTag("MCP", "结果序列化失败: %v", err)
		return mcpgo.NewToolResultError("failed to encode result: " + err.Error()), nil
	}
	if resp.IsError() {
		return mcpgo.NewToolResultError(string(data)), nil
	}
	return mcpgo.NewToolResultText(string(data)), nil
}

func arguments(raw any) map[string]any {
	switch v := raw.(type) {
	case map[string]any:
		return v
	case nil:
		return map[string]any{}
	default:
		return cast.ToStringMap(v)
	}
}

// ServeStdio serves MCP over in/out until ctx is done. Logs never go to out.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := server.NewStdioServer(s.mcp)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Slog().Handler(), slog.LevelError))

	s.logger.InfoTag("MCP", "stdio 传输已启动")
	err := stdio.Listen(ctx, in, out)
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// NewSSEServer returns an SSE transport whose message endpoint is
// advertised under baseURL. Its handlers are mounted by the HTTP server.
func (s *Server) NewSSEServer(baseURL string) *server.SSEServer {
	return server.NewSSEServer(s.mcp, server.WithBaseURL(baseURL))
}
