package vlllm

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/sashabaranov/go-openai"

	"image-sage-server-go/internal/domain/image"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/utils"
)

// 支持的后端类型
const (
	TypeOpenAI    = "openai"
	TypeAnthropic = "anthropic"
	TypeOllama    = "ollama"
)

// AnthropicVersion is sent as the anthropic-version header.
const AnthropicVersion = "2023-06-01"

// Config VLLLM配置结构
type Config struct {
	// Name 对外暴露的后端名，即 backend_used
	Name        string
	Type        string
	ModelName   string
	BaseURL     string
	APIKey      string
	Temperature float64
	MaxTokens   int
	TopP        float64
	// Headers 每个请求附加的额外请求头
	Headers map[string]string
	Timeout time.Duration
}

// Provider VLLLM提供者，直接调用多模态API
type Provider struct {
	config *Config
	logger *utils.Logger

	openaiClient *openai.Client
	httpClient   *http.Client
}

// OllamaRequest Ollama API请求结构
type OllamaRequest struct {
	Model    string                 `json:"model"`
	Messages []OllamaMessage        `json:"messages"`
	Stream   bool                   `json:"stream"`
	Format   string                 `json:"format,omitempty"`
	Options  map[string]interface{} `json:"options,omitempty"`
}

// OllamaMessage Ollama消息结构
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"` // base64编码的图片
}

// OllamaResponse Ollama API响应结构
type OllamaResponse struct {
	Model     string `json:"model"`
	CreatedAt string `json:"created_at"`
	Message   struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// AnthropicRequest Messages API 请求结构
type AnthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Temperature *float64           `json:"temperature,omitempty"`
	Messages    []AnthropicMessage `json:"messages"`
}

type AnthropicMessage struct {
	Role    string             `json:"role"`
	Content []AnthropicContent `json:"content"`
}

type AnthropicContent struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *AnthropicImageSource `json:"source,omitempty"`
}

type AnthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

// AnthropicResponse Messages API 响应结构
type AnthropicResponse struct {
	ID         string `json:"id"`
	StopReason string `json:"stop_reason"`
	Content    []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// headerTransport 为每个请求附加固定请求头
type headerTransport struct {
	base    http.RoundTripper
	headers map[string]string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	for k, v := range t.headers {
		req.Header.Set(k, v)
	}
	return t.base.RoundTrip(req)
}

// NewProvider 创建新的VLLLM提供者
func NewProvider(config *Config, logger *utils.Logger) (*Provider, error) {
	if config == nil {
		return nil, fmt.Errorf("vlllm config is required")
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}
	if config.Name == "" {
		config.Name = strings.ToLower(config.Type)
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	var transport http.RoundTripper = http.DefaultTransport
	if len(config.Headers) > 0 {
		transport = &headerTransport{base: transport, headers: config.Headers}
	}

	return &Provider{
		config:     config,
		logger:     logger,
		httpClient: &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

// Initialize 初始化Provider
func (p *Provider) Initialize() error {
	// 根据类型初始化对应的客户端
	switch strings.ToLower(p.config.Type) {
	case TypeOpenAI:
		if p.config.APIKey == "" {
			return fmt.Errorf("%s API key is required", p.config.Name)
		}
		clientConfig := openai.DefaultConfig(p.config.APIKey)
		if p.config.BaseURL != "" {
			clientConfig.BaseURL = p.config.BaseURL
		}
		clientConfig.HTTPClient = p.httpClient
		p.openaiClient = openai.NewClientWithConfig(clientConfig)

	case TypeAnthropic:
		if p.config.APIKey == "" {
			return fmt.Errorf("%s API key is required", p.config.Name)
		}
		if p.config.BaseURL == "" {
			p.config.BaseURL = "https://api.anthropic.com/v1"
		}
		if p.config.MaxTokens <= 0 {
			p.config.MaxTokens = 1024
		}

	case TypeOllama:
		// Ollama不需要API key，只需要确保有BaseURL
		if p.config.BaseURL == "" {
			return fmt.Errorf("%s base url is required", p.config.Name)
		}

	default:
		return fmt.Errorf("不支持的VLLLM类型: %s", p.config.Type)
	}

	p.logger.DebugTag("视觉", "VLLLM Provider初始化成功: name=%s type=%s model_name=%s",
		p.config.Name, p.config.Type, p.config.ModelName)
	return nil
}

// Cleanup 释放资源
func (p *Provider) Cleanup() error {
	p.httpClient.CloseIdleConnections()
	return nil
}

// Name returns the backend name reported in backend_used.
func (p *Provider) Name() string {
	return p.config.Name
}

// GetConfig 获取配置信息
func (p *Provider) GetConfig() *Config {
	return p.config
}

// Analyze sends the image to the remote model and normalizes its reply.
// Transport and status failures are returned as errors; a reply that is
// not valid JSON degrades to default fields.
func (p *Provider) Analyze(ctx context.Context, img *image.FetchedImage, opts vision.Options) (*vision.AnalysisResult, error) {
	if img == nil {
		return nil, fmt.Errorf("image is required")
	}

	p.logger.DebugTag("视觉", "调用视觉API: name=%s model=%s image_bytes=%d detail=%s",
		p.config.Name, p.config.ModelName, img.Size, opts.DetailLevel)

	var (
		content string
		err     error
	)
	switch strings.ToLower(p.config.Type) {
	case TypeOpenAI:
		content, err = p.analyzeWithOpenAI(ctx, img, opts)
	case TypeAnthropic:
		content, err = p.analyzeWithAnthropic(ctx, img, opts)
	case TypeOllama:
		content, err = p.analyzeWithOllama(ctx, img, opts)
	default:
		return nil, fmt.Errorf("unsupported VLLLM provider: %s", p.config.Type)
	}
	if err != nil {
		return nil, err
	}

	p.logger.DebugTag("视觉", "%s 原始输出: %s", p.config.Name, utils.TruncateString(content, 200))
	result := vision.Normalize(stripThinkTags(content), img, p.config.Name, 0)
	return &result, nil
}

func openAIDetail(level vision.DetailLevel) openai.ImageURLDetail {
	switch level {
	case vision.DetailLow:
		return openai.ImageURLDetailLow
	case vision.DetailHigh:
		return openai.ImageURLDetailHigh
	default:
		return openai.ImageURLDetailAuto
	}
}

// analyzeWithOpenAI 使用 OpenAI 兼容的 Chat Completions 接口（含 OpenRouter）
func (p *Provider) analyzeWithOpenAI(ctx context.Context, img *image.FetchedImage, opts vision.Options) (string, error) {
	if p.openaiClient == nil {
		return "", fmt.Errorf("%s provider not initialized", p.config.Name)
	}

	request := openai.ChatCompletionRequest{
		Model: p.config.ModelName,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleSystem,
				Content: vision.SystemPrompt,
			},
			{
				Role: openai.ChatMessageRoleUser,
				MultiContent: []openai.ChatMessagePart{
					{
						Type: openai.ChatMessagePartTypeText,
						Text: vision.UserPrompt(opts),
					},
					{
						Type: openai.ChatMessagePartTypeImageURL,
						ImageURL: &openai.ChatMessageImageURL{
							URL:    img.DataURI(),
							Detail: openAIDetail(opts.DetailLevel),
						},
					},
				},
			},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: float32(p.config.Temperature),
		TopP:        float32(p.config.TopP),
		MaxTokens:   p.config.MaxTokens,
	}

	resp, err := p.openaiClient.CreateChatCompletion(ctx, request)
	if err != nil {
		return "", fmt.Errorf("%s chat completion: %w", p.config.Name, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%s malformed response: no choices", p.config.Name)
	}
	return resp.Choices[0].Message.Content, nil
}

// analyzeWithAnthropic 使用 Anthropic Messages API
func (p *Provider) analyzeWithAnthropic(ctx context.Context, img *image.FetchedImage, opts vision.Options) (string, error) {
	request := AnthropicRequest{
		Model:     p.config.ModelName,
		MaxTokens: p.config.MaxTokens,
		System:    vision.SystemPrompt,
		Messages: []AnthropicMessage{{
			Role: "user",
			Content: []AnthropicContent{
				{
					Type: "image",
					Source: &AnthropicImageSource{
						Type:      "base64",
						MediaType: img.UploadMimeType(),
						Data:      img.Base64(),
					},
				},
				{Type: "text", Text: vision.UserPrompt(opts)},
			},
		}},
	}
	if p.config.Temperature > 0 {
		t := p.config.Temperature
		request.Temperature = &t
	}

	headers := map[string]string{
		"x-api-key":         p.config.APIKey,
		"anthropic-version": AnthropicVersion,
	}
	var response AnthropicResponse
	if err := p.postJSON(ctx, strings.TrimSuffix(p.config.BaseURL, "/")+"/messages", headers, request, &response); err != nil {
		return "", err
	}

	var text strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", fmt.Errorf("%s malformed response: no text content", p.config.Name)
	}
	return text.String(), nil
}

// analyzeWithOllama 使用 Ollama /api/chat，非流式并要求 JSON 输出
func (p *Provider) analyzeWithOllama(ctx context.Context, img *image.FetchedImage, opts vision.Options) (string, error) {
	request := OllamaRequest{
		Model: p.config.ModelName,
		Messages: []OllamaMessage{
			{Role: "system", Content: vision.SystemPrompt},
			{
				Role:    "user",
				Content: vision.UserPrompt(opts),
				Images:  []string{img.Base64()}, // Ollama需要纯base64，不需要data URL前缀
			},
		},
		Stream: false,
		Format: "json",
	}
	options := map[string]interface{}{}
	if p.config.Temperature > 0 {
		options["temperature"] = p.config.Temperature
	}
	if p.config.TopP > 0 {
		options["top_p"] = p.config.TopP
	}
	if len(options) > 0 {
		request.Options = options
	}

	var response OllamaResponse
	if err := p.postJSON(ctx, strings.TrimSuffix(p.config.BaseURL, "/")+"/api/chat", nil, request, &response); err != nil {
		return "", err
	}
	return response.Message.Content, nil
}

func (p *Provider) postJSON(ctx context.Context, url string, headers map[string]string, body, out interface{}) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("请求序列化失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("创建请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s API调用失败: %w", p.config.Name, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return fmt.Errorf("%s 读取响应失败: %w", p.config.Name, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%s API返回错误: status=%d body=%s", p.config.Name, resp.StatusCode, utils.TruncateString(string(data), 200))
	}
	if err := sonic.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%s malformed response: %w", p.config.Name, err)
	}
	return nil
}

var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>`)

// stripThinkTags 去掉推理模型输出的思考片段
func stripThinkTags(content string) string {
	if !strings.Contains(content, "<think>") {
		return content
	}
	return strings.TrimSpace(thinkBlock.ReplaceAllString(content, ""))
}
