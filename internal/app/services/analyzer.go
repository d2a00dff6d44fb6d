package services

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"image-sage-server-go/internal/domain/eventbus"
	"image-sage-server-go/internal/domain/image"
	"image-sage-server-go/internal/domain/resource"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/platform/config"
	apperrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/platform/observability"
	"image-sage-server-go/internal/utils"
)

// 错误提示
const (
	TipTryFileURL     = "Use a file:// URL with forward slashes, e.g. file:///C:/path/to/image.jpg"
	TipAllowFSRootEnv = "Set IMAGE_SAGE_ALLOWED_FS_ROOTS to include the folder, e.g. C:\\Users\\You\\Desktop"
	TipHTTPOnly       = "Ensure the URL uses http or https and is publicly reachable (no private IPs)."
	TipSizeLimit      = "Image may exceed size limit. Adjust IMAGE_SAGE_MAX_MB if needed."
	TipTryModel       = "Try a different OPENROUTER_MODEL if the provider rejects data URLs."
)

// ErrorBody is the error object returned to callers.
type ErrorBody struct {
	Code    apperrors.Code    `json:"code"`
	Message string            `json:"message"`
	Details map[string]any    `json:"details"`
	Tips    map[string]string `json:"tips"`
}

// ErrorResponse wraps ErrorBody under the "error" key.
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// Response is either a result or an error, never both.
type Response struct {
	Result *vision.AnalysisResult
	Err    *ErrorResponse
}

// IsError reports whether the response carries an error.
func (r Response) IsError() bool { return r.Err != nil }

// Payload returns the value to encode for the caller.
func (r Response) Payload() any {
	if r.Err != nil {
		return r.Err
	}
	return r.Result
}

// JSON encodes the payload. Map keys are sorted.
func (r Response) JSON() ([]byte, error) {
	return sonic.ConfigStd.Marshal(r.Payload())
}

// AnalyzerConfig 分析服务配置
type AnalyzerConfig struct {
	Logger    *utils.Logger
	Validator *resource.Validator
	Fetcher   *image.Fetcher
	Pipeline  *vision.Pipeline
	// Debug 每次调用向 DebugOut 写一行，不受日志级别影响
	Debug    bool
	DebugOut io.Writer
	// Name 调试行前缀
	Name string
}

// AnalyzerService 处理单次图片分析：校验、获取、视觉分析、格式化
type AnalyzerService struct {
	logger    *utils.Logger
	validator *resource.Validator
	fetcher   *image.Fetcher
	pipeline  *vision.Pipeline
	debug     bool
	debugOut  io.Writer
	name      string
}

// NewAnalyzerService 创建新的分析服务
func NewAnalyzerService(config *AnalyzerConfig) *AnalyzerService {
	logger := config.Logger
	if logger == nil {
		logger = utils.DefaultLogger
	}
	debugOut := config.DebugOut
	if debugOut == nil {
		debugOut = os.Stderr
	}
	name := config.Name
	if name == "" {
		name = "image-sage"
	}
	return &AnalyzerService{
		logger:    logger,
		validator: config.Validator,
		fetcher:   config.Fetcher,
		pipeline:  config.Pipeline,
		debug:     config.Debug,
		debugOut:  debugOut,
		name:      name,
	}
}

// BuildAnalyzer wires validator, fetcher and pipeline from cfg. backends
// must already include the stub.
func BuildAnalyzer(cfg *config.Config, backends []vision.Backend, events eventbus.Publisher, logger *utils.Logger) *AnalyzerService {
	validator := resource.NewValidator(cfg.AllowedRoots(), resource.WithLogger(logger))
	fetcher := image.NewFetcher(cfg.MaxImageBytes(), cfg.RequestTimeout(),
		image.WithHostChecker(validator),
		image.WithMaxRedirects(cfg.Security.MaxRedirects),
		image.WithFetchLogger(logger),
		image.WithAllowedFormats(cfg.Security.AllowedFormats),
	)
	pipeline := vision.NewPipeline(backends,
		vision.WithBackendTimeout(cfg.RequestTimeout()),
		vision.WithEvents(events),
		vision.WithPipelineLogger(logger),
	)
	return NewAnalyzerService(&AnalyzerConfig{
		Logger:    logger,
		Validator: validator,
		Fetcher:   fetcher,
		Pipeline:  pipeline,
		Debug:     cfg.Server.Debug,
		Name:      cfg.Server.Name,
	})
}

// SetDebugOutput redirects the per-call debug line. Call before serving.
func (s *AnalyzerService) SetDebugOutput(w io.Writer) {
	if w != nil {
		s.debugOut = w
	}
}

// Backends returns the pipeline order, stub last.
func (s *AnalyzerService) Backends() []string {
	return s.pipeline.Names()
}

// Analyze runs one request end to end. Failures are reported in the
// response, never as a Go error.
func (s *AnalyzerService) Analyze(ctx context.Context, input string, opts vision.Options) Response {
	reqID := utils.RequestID(ctx)
	if reqID == "" {
		reqID = utils.NewRequestID()
		ctx = utils.WithRequestID(ctx, reqID)
	}
	if s.debug {
		fmt.Fprintf(s.debugOut, "[%s] tool call: url=%s request_id=%s\n", s.name, input, reqID)
	}

	start := time.Now()
	resp := s.analyze(ctx, input, opts)

	code := "ok"
	if resp.Err != nil {
		code = string(resp.Err.Error.Code)
	}
	observability.RecordMetric(ctx, "image_sage.calls", 1, map[string]string{"code": code})
	s.logger.DebugTag("MCP", "请求完成 request_id=%s code=%s elapsed=%s", reqID, code, time.Since(start))
	return resp
}

func (s *AnalyzerService) analyze(ctx context.Context, input string, opts vision.Options) Response {
	outcome := s.validator.Validate(ctx, input)
	if !outcome.OK {
		s.logger.InfoTag("校验", "拒绝输入 %s: %s", utils.TruncateString(input, 120), outcome.Reason)
		return ErrorResult(apperrors.CodeInvalidURL, outcome.Reason, map[string]any{"url": input})
	}

	img, err := s.fetcher.Fetch(ctx, input, outcome)
	if err != nil {
		s.logger.WarnTag("获取", "获取图片失败 %s: %v", utils.TruncateString(input, 120), err)
		return ErrorResult(apperrors.CodeFetchError, image.FetchMessage, map[string]any{
			"url":    input,
			"reason": apperrors.Reason(err),
		})
	}

	result, err := s.pipeline.Analyze(ctx, img, opts)
	if err != nil {
		s.logger.ErrorTag("视觉", "视觉分析失败: %v", err)
		return ErrorResult(apperrors.CodeProcessingError, vision.ProcessingMessage, map[string]any{
			"reason": apperrors.Reason(err),
		})
	}
	return Response{Result: &result}
}

// ErrorResult builds an error response with tips for code.
func ErrorResult(code apperrors.Code, message string, details map[string]any) Response {
	if details == nil {
		details = map[string]any{}
	}
	return Response{Err: &ErrorResponse{Error: ErrorBody{
		Code:    code,
		Message: message,
		Details: details,
		Tips:    Tips(code, details),
	}}}
}

// Tips returns remediation hints for an error code, using details["url"]
// when present.
func Tips(code apperrors.Code, details map[string]any) map[string]string {
	tips := map[string]string{}
	url, hasURL := details["url"].(string)
	if (code == apperrors.CodeInvalidURL || code == apperrors.CodeFetchError) && hasURL {
		if strings.HasPrefix(strings.ToLower(url), "file://") || strings.Contains(url, `:\`) || strings.HasPrefix(url, "/") {
			tips["try_file_url"] = TipTryFileURL
			tips["allow_fs_root_env"] = TipAllowFSRootEnv
		} else {
			tips["http_https_only"] = TipHTTPOnly
		}
	}
	switch code {
	case apperrors.CodeFetchError:
		tips["size_limit_mb"] = TipSizeLimit
	case apperrors.CodeProcessingError:
		tips["try_model"] = TipTryModel
	}
	return tips
}
