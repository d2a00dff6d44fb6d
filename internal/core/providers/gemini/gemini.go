package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"image-sage-server-go/internal/domain/image"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/utils"
)

// Name is the backend name reported in backend_used.
const Name = "gemini"

// Config Gemini 后端配置
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
}

// generator is the part of *genai.GenerativeModel the backend calls.
type generator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// Backend calls Gemini with the image inline and a JSON response type.
type Backend struct {
	client *genai.Client
	model  generator
	name   string
	logger *utils.Logger
}

// New creates the Gemini client. The client is long lived; call Close on
// shutdown.
func New(ctx context.Context, cfg Config, logger *utils.Logger) (*Backend, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("GEMINI_API_KEY is empty")
	}
	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		return nil, errors.New("gemini: model is empty")
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}

	cl, err := genai.NewClient(ctx, option.WithAPIKey(key))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}

	m := cl.GenerativeModel(modelName)
	// 要求严格 JSON 输出
	m.GenerationConfig = genai.GenerationConfig{
		Temperature:      ptrFloat32(cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	m.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(vision.SystemPrompt)},
	}

	logger.DebugTag("视觉", "Gemini 后端初始化成功: model=%s", modelName)
	return &Backend{client: cl, model: m, name: Name, logger: logger}, nil
}

func (b *Backend) Name() string { return b.name }

// Analyze sends one GenerateContent call. A response with no text
// candidate declines so the next backend is tried.
func (b *Backend) Analyze(ctx context.Context, img *image.FetchedImage, opts vision.Options) (*vision.AnalysisResult, error) {
	if img == nil {
		return nil, errors.New("image is required")
	}

	resp, err := b.model.GenerateContent(ctx,
		genai.Text(vision.UserPrompt(opts)),
		genai.Blob{MIMEType: img.UploadMimeType(), Data: img.Bytes},
	)
	if err != nil {
		return nil, fmt.Errorf("gemini generate: %w", err)
	}

	txt := firstText(resp)
	if txt == "" {
		b.logger.DebugTag("视觉", "Gemini 返回空结果")
		return nil, nil
	}

	result := vision.Normalize(stripCodeFences(txt), img, b.name, 0)
	return &result, nil
}

// Close releases the underlying client.
func (b *Backend) Close() error {
	if b.client == nil {
		return nil
	}
	return b.client.Close()
}

func firstText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	for _, c := range resp.Candidates {
		if c == nil || c.Content == nil {
			continue
		}
		for _, p := range c.Content.Parts {
			if t, ok := p.(genai.Text); ok && strings.TrimSpace(string(t)) != "" {
				return string(t)
			}
		}
	}
	return ""
}

// stripCodeFences 去掉 ```json ... ``` 包裹
func stripCodeFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func ptrFloat32(v float32) *float32 { return &v }
