package vision

import (
	"context"
	"fmt"
	"time"

	"image-sage-server-go/internal/domain/eventbus"
	"image-sage-server-go/internal/domain/image"
	apperrors "image-sage-server-go/internal/platform/errors"
	"image-sage-server-go/internal/platform/observability"
	"image-sage-server-go/internal/utils"
)

// Pipeline tries backends strictly in order and returns the first result.
type Pipeline struct {
	backends []Backend
	timeout  time.Duration
	events   eventbus.Publisher
	logger   *utils.Logger
}

type PipelineOption func(*Pipeline)

// WithBackendTimeout bounds each backend call independently.
func WithBackendTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) { p.timeout = d }
}

// WithEvents publishes lifecycle events to pub.
func WithEvents(pub eventbus.Publisher) PipelineOption {
	return func(p *Pipeline) {
		if pub != nil {
			p.events = pub
		}
	}
}

// WithPipelineLogger sets the logger.
func WithPipelineLogger(l *utils.Logger) PipelineOption {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPipeline creates a pipeline over backends, in the given order. Callers
// that need the guaranteed fallback pass WithStub(backends).
func NewPipeline(backends []Backend, opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		backends: append([]Backend(nil), backends...),
		events:   eventbus.Nop,
		logger:   utils.DefaultLogger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Names returns the backend order.
func (p *Pipeline) Names() []string {
	names := make([]string, 0, len(p.backends))
	for _, b := range p.backends {
		names = append(names, b.Name())
	}
	return names
}

// Analyze runs img through the backends. A failing or declining backend is
// recorded and the next one is tried. When none produced a result the last
// backend error is returned, or ErrNoBackendAvailable if none failed.
func (p *Pipeline) Analyze(ctx context.Context, img *image.FetchedImage, opts Options) (AnalysisResult, error) {
	reqID := utils.RequestID(ctx)
	source := ""
	if img != nil {
		source = img.Source
	}
	p.events.Publish(eventbus.EventVisionStarted, eventbus.VisionEventData{
		RequestID: reqID,
		Source:    source,
		Backends:  p.Names(),
	})

	start := time.Now()
	var lastErr error
	for i, backend := range p.backends {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		name := backend.Name()
		result, err := p.attempt(ctx, backend, img, opts)
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
			lastErr = fmt.Errorf("%s: %w", name, err)
			p.logger.WarnTag("视觉", "后端 %s 分析失败，尝试下一个: %v", name, err)
			p.events.Publish(eventbus.EventVisionBackendFailed, eventbus.VisionEventData{
				RequestID: reqID, Backend: name, Attempt: i + 1, Error: err.Error(),
			})
		case result == nil:
			outcome = "declined"
			p.logger.DebugTag("视觉", "后端 %s 未返回结果", name)
			p.events.Publish(eventbus.EventVisionBackendDeclined, eventbus.VisionEventData{
				RequestID: reqID, Backend: name, Attempt: i + 1,
			})
		}
		observability.RecordMetric(ctx, "vision.backend.attempts", 1, map[string]string{
			"backend": name,
			"outcome": outcome,
		})
		if outcome != "ok" {
			continue
		}

		elapsed := time.Since(start).Milliseconds()
		observability.RecordMetric(ctx, "vision.analysis.duration_ms", float64(elapsed), map[string]string{"backend": name})
		p.events.Publish(eventbus.EventVisionCompleted, eventbus.VisionEventData{
			RequestID: reqID, Backend: name, Attempt: i + 1, ElapsedMs: elapsed,
		})
		return *result, nil
	}

	cause := lastErr
	if cause == nil {
		cause = ErrNoBackendAvailable
	}
	p.events.Publish(eventbus.EventVisionFailed, eventbus.VisionEventData{
		RequestID: reqID,
		Source:    source,
		ElapsedMs: time.Since(start).Milliseconds(),
		Error:     cause.Error(),
	})
	return AnalysisResult{}, &apperrors.Error{
		Kind:    apperrors.KindAnalysis,
		Op:      "vision.analyze",
		Message: ProcessingMessage,
		Cause:   cause,
	}
}

func (p *Pipeline) attempt(ctx context.Context, backend Backend, img *image.FetchedImage, opts Options) (result *AnalysisResult, err error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	ctx, end := observability.StartSpan(ctx, "vision", "backend."+backend.Name())
	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("backend panic: %v", r)
		}
		end(err)
	}()

	return backend.Analyze(ctx, img, opts)
}
