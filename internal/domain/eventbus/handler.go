package eventbus

import (
	"context"

	"image-sage-server-go/internal/platform/observability"
	"image-sage-server-go/internal/utils"
)

// VisionEventHandler 记录视觉分析事件日志和请求计数
type VisionEventHandler struct {
	logger *utils.Logger
}

// NewVisionEventHandler 创建事件处理器
func NewVisionEventHandler(logger *utils.Logger) *VisionEventHandler {
	return &VisionEventHandler{logger: logger}
}

// Handle 处理事件
func (h *VisionEventHandler) Handle(eventType string, data VisionEventData) {
	switch eventType {
	case EventVisionStarted:
		h.logger.DebugTag("事件", "分析开始: req=%s source=%s backends=%v", data.RequestID, data.Source, data.Backends)
	case EventVisionBackendFailed:
		h.logger.WarnTag("事件", "后端失败: req=%s backend=%s attempt=%d err=%s", data.RequestID, data.Backend, data.Attempt, data.Error)
	case EventVisionBackendDeclined:
		h.logger.InfoTag("事件", "后端未返回结果: req=%s backend=%s attempt=%d", data.RequestID, data.Backend, data.Attempt)
	case EventVisionCompleted:
		h.logger.InfoTag("事件", "分析完成: req=%s backend=%s elapsed=%dms", data.RequestID, data.Backend, data.ElapsedMs)
		observability.RecordMetric(context.Background(), "vision.requests", 1, map[string]string{"outcome": "ok", "backend": data.Backend})
	case EventVisionFailed:
		h.logger.ErrorTag("事件", "分析失败: req=%s err=%s", data.RequestID, data.Error)
		observability.RecordMetric(context.Background(), "vision.requests", 1, map[string]string{"outcome": "error"})
	default:
		h.logger.DebugTag("事件", "未处理的事件类型: %s", eventType)
	}
}

// SetupEventHandlers 为所有视觉事件订阅处理器
func SetupEventHandlers(bus Subscriber, handler *VisionEventHandler) error {
	for _, topic := range VisionTopics {
		topic := topic
		if err := bus.Subscribe(topic, func(data VisionEventData) {
			handler.Handle(topic, data)
		}); err != nil {
			return err
		}
	}
	return nil
}
