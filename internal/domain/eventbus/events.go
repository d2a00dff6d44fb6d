package eventbus

// 视觉分析事件
const (
	EventVisionStarted         = "vision:started"
	EventVisionBackendFailed   = "vision:backend_failed"
	EventVisionBackendDeclined = "vision:backend_declined"
	EventVisionCompleted       = "vision:completed"
	EventVisionFailed          = "vision:failed"
)

// VisionTopics lists every topic published by the analysis pipeline.
var VisionTopics = []string{
	EventVisionStarted,
	EventVisionBackendFailed,
	EventVisionBackendDeclined,
	EventVisionCompleted,
	EventVisionFailed,
}

// VisionEventData 视觉分析事件数据
type VisionEventData struct {
	RequestID string   `json:"request_id,omitempty"`
	Source    string   `json:"source,omitempty"`
	Backend   string   `json:"backend,omitempty"`
	Backends  []string `json:"backends,omitempty"`
	Attempt   int      `json:"attempt,omitempty"`
	ElapsedMs int64    `json:"elapsed_ms,omitempty"`
	Error     string   `json:"error,omitempty"`
}
