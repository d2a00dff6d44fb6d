package httptransport

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mark3labs/mcp-go/server"
	"github.com/shirou/gopsutil/v3/process"

	"image-sage-server-go/internal/app/services"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/platform/observability"
	"image-sage-server-go/internal/utils"
)

// Analyzer is the analysis service behind the HTTP API.
type Analyzer interface {
	Analyze(ctx context.Context, input string, opts vision.Options) services.Response
	Backends() []string
}

// AnalyzeRequest mirrors the image_sage tool arguments.
type AnalyzeRequest struct {
	URL     string         `json:"url" binding:"required"`
	Options map[string]any `json:"options"`
}

// HealthData /health 返回内容
type HealthData struct {
	Status        string                      `json:"status"`
	Name          string                      `json:"name"`
	Version       string                      `json:"version"`
	UptimeSeconds int64                       `json:"uptime_seconds"`
	Backends      []string                    `json:"backends"`
	RSSBytes      uint64                      `json:"rss_bytes,omitempty"`
	Metrics       []observability.MetricPoint `json:"metrics,omitempty"`
}

// Handler 图片分析 HTTP 接口
type Handler struct {
	analyzer Analyzer
	logger   *utils.Logger
	name     string
	version  string
	started  time.Time
}

// NewHandler 创建 HTTP 处理器
func NewHandler(analyzer Analyzer, name, version string, logger *utils.Logger) *Handler {
	if logger == nil {
		logger = utils.DefaultLogger
	}
	return &Handler{
		analyzer: analyzer,
		logger:   logger,
		name:     name,
		version:  version,
		started:  time.Now(),
	}
}

// Register 注册路由
func (h *Handler) Register(router *Router) {
	router.Engine.GET("/health", h.handleHealth)
	router.API.GET("/backends", h.handleBackends)
	router.API.POST("/analyze", h.handleAnalyze)

	h.logger.InfoTag("HTTP", "分析接口路由注册完成")
}

// MountSSE 挂载 MCP SSE 传输
func MountSSE(router *Router, sse *server.SSEServer) {
	router.Engine.GET("/sse", gin.WrapH(sse.SSEHandler()))
	router.Engine.POST("/message", gin.WrapH(sse.MessageHandler()))
}

func (h *Handler) handleHealth(c *gin.Context) {
	data := HealthData{
		Status:        "ok",
		Name:          h.name,
		Version:       h.version,
		UptimeSeconds: int64(time.Since(h.started).Seconds()),
		Backends:      h.analyzer.Backends(),
		Metrics:       observability.Snapshot(),
	}
	if rss, err := processRSS(c.Request.Context()); err == nil {
		data.RSSBytes = rss
	} else {
		h.logger.DebugTag("HTTP", "读取进程内存失败: %v", err)
	}
	RespondSuccess(c, http.StatusOK, data, "")
}

func processRSS(ctx context.Context) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, int32(os.Getpid()))
	if err != nil {
		return 0, err
	}
	mem, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return mem.RSS, nil
}

func (h *Handler) handleBackends(c *gin.Context) {
	RespondSuccess(c, http.StatusOK, gin.H{"backends": h.analyzer.Backends()}, "")
}

func (h *Handler) handleAnalyze(c *gin.Context) {
	var req AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid request: "+err.Error(), gin.H{})
		return
	}

	opts, warnings := vision.OptionsFromMap(req.Options)
	for _, w := range warnings {
		h.logger.WarnTag("HTTP", "参数修正: %s", w)
	}

	RespondAnalysis(c, h.analyzer.Analyze(c.Request.Context(), req.URL, opts))
}
