package config

// 默认后端模型与地址
const (
	DefaultOpenRouterModel = "openai/gpt-4o-mini"
	DefaultOpenAIModel     = "gpt-4o-mini"
	DefaultAnthropicModel  = "claude-3-5-haiku-latest"
	DefaultGeminiModel     = "gemini-1.5-flash"
	DefaultOllamaModel     = "llava"

	OpenRouterBaseURL = "https://openrouter.ai/api/v1"
	AnthropicBaseURL  = "https://api.anthropic.com/v1"
)

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:      "image-sage-mcp",
			Version:   "1.0.0",
			Transport: "stdio",
		},
		Log: LogConfig{
			Level: "INFO",
			File:  "image-sage.log",
		},
		Web: WebConfig{
			IP:   "0.0.0.0",
			Port: 8080,
		},
		Security: SecurityConfig{
			MaxImageSizeMB: 10,
			AllowedFormats: []string{"jpeg", "png", "gif", "webp"},
			MaxRedirects:   5,
		},
		Vision: VisionConfig{
			Backends:              []string{"openrouter", "openai", "anthropic"},
			RequestTimeoutSeconds: 10,
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLSeconds: 3600,
		},
		VLLLM: map[string]VLLLMConfig{
			"openrouter": {
				Type:      "openai",
				ModelName: DefaultOpenRouterModel,
				BaseURL:   OpenRouterBaseURL,
			},
			"openai": {
				Type:      "openai",
				ModelName: DefaultOpenAIModel,
			},
			"anthropic": {
				Type:      "anthropic",
				ModelName: DefaultAnthropicModel,
				BaseURL:   AnthropicBaseURL,
				MaxTokens: 1024,
			},
			"gemini": {
				Type:      "gemini",
				ModelName: DefaultGeminiModel,
			},
			"ollama": {
				Type:      "ollama",
				ModelName: DefaultOllamaModel,
			},
		},
	}
}
