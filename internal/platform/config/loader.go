package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"
)

// 环境变量名
const (
	EnvConfigFile     = "IMAGE_SAGE_CONFIG"
	EnvBackends       = "IMAGE_SAGE_BACKENDS"
	EnvMaxMB          = "IMAGE_SAGE_MAX_MB"
	EnvTimeout        = "IMAGE_SAGE_TIMEOUT"
	EnvCache          = "IMAGE_SAGE_CACHE"
	EnvCacheTTL       = "IMAGE_SAGE_CACHE_TTL"
	EnvLogLevel       = "IMAGE_SAGE_LOG"
	EnvLogDir         = "IMAGE_SAGE_LOG_DIR"
	EnvAllowedFSRoots = "IMAGE_SAGE_ALLOWED_FS_ROOTS"
	EnvTransport      = "IMAGE_SAGE_TRANSPORT"
	EnvHTTPPort       = "IMAGE_SAGE_HTTP_PORT"
	EnvDebug          = "IMAGE_SAGE_DEBUG"

	EnvOpenRouterKey   = "OPENROUTER_API_KEY"
	EnvOpenRouterModel = "OPENROUTER_MODEL"
	EnvOpenAIKey       = "OPENAI_API_KEY"
	EnvOpenAIModel     = "OPENAI_MODEL"
	EnvAnthropicKey    = "ANTHROPIC_API_KEY"
	EnvAnthropicModel  = "ANTHROPIC_MODEL"
	EnvGeminiKey       = "GEMINI_API_KEY"
	EnvGeminiModel     = "GEMINI_MODEL"
	EnvOllamaURL       = "OLLAMA_URL"
	EnvOllamaModel     = "OLLAMA_MODEL"
)

// LookupFunc reads a single environment variable.
type LookupFunc func(key string) (string, bool)

// Loader builds a Config from defaults, an optional YAML file and the
// process environment, in that order of precedence.
type Loader struct {
	useDotEnv bool
	lookup    LookupFunc
	filePath  string
}

// NewLoader creates a loader that reads the real process environment.
func NewLoader() *Loader {
	return &Loader{
		useDotEnv: true,
		lookup:    os.LookupEnv,
	}
}

// WithDotEnv toggles loading variables from a .env file before reading config.
func (l *Loader) WithDotEnv(enabled bool) *Loader {
	l.useDotEnv = enabled
	return l
}

// WithLookup overrides the environment source (useful for tests).
func (l *Loader) WithLookup(fn LookupFunc) *Loader {
	if fn != nil {
		l.lookup = fn
	}
	return l
}

// WithFile forces a YAML config file instead of IMAGE_SAGE_CONFIG.
func (l *Loader) WithFile(path string) *Loader {
	l.filePath = path
	return l
}

// Result captures the loaded configuration and its origin path.
type Result struct {
	Config   *Config
	Path     string
	Warnings []string
}

// Load resolves the effective configuration.
func (l *Loader) Load() (*Result, error) {
	var warnings []string
	if l.useDotEnv {
		if err := godotenv.Load(); err != nil {
			warnings = append(warnings, "未找到 .env 文件，使用系统环境变量")
		}
	}

	cfg := DefaultConfig()

	path := l.filePath
	if path == "" {
		path, _ = l.get(EnvConfigFile)
	}
	if path != "" {
		if err := loadYAML(path, cfg); err != nil {
			return nil, err
		}
	}

	warnings = append(warnings, l.applyEnv(cfg)...)

	if err := l.validate(cfg); err != nil {
		return nil, err
	}

	return &Result{
		Config:   cfg,
		Path:     path,
		Warnings: warnings,
	}, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("读取配置文件失败 %s: %w", path, err)
	}
	defaults := cfg.VLLLM
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("解析配置文件失败 %s: %w", path, err)
	}
	// VLLLM: ~ 会把表置空
	if cfg.VLLLM == nil {
		cfg.VLLLM = make(map[string]VLLLMConfig, len(defaults))
	}
	// 文件中只覆盖部分后端时保留其余默认项
	for name, def := range defaults {
		if _, ok := cfg.VLLLM[name]; !ok {
			cfg.VLLLM[name] = def
		}
	}
	return nil
}

func (l *Loader) get(key string) (string, bool) {
	v, ok := l.lookup(key)
	if !ok {
		return "", false
	}
	v = strings.TrimSpace(v)
	return v, v != ""
}

func (l *Loader) applyEnv(cfg *Config) []string {
	var warnings []string

	intVar := func(key string, dst *int) {
		raw, ok := l.get(key)
		if !ok {
			return
		}
		n, err := cast.ToIntE(raw)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("%s=%q 不是整数，使用默认值 %d", key, raw, *dst))
			return
		}
		*dst = n
	}

	if v, ok := l.get(EnvBackends); ok {
		cfg.Vision.Backends = SplitList(v, ",")
	}
	intVar(EnvMaxMB, &cfg.Security.MaxImageSizeMB)
	intVar(EnvTimeout, &cfg.Vision.RequestTimeoutSeconds)
	intVar(EnvCacheTTL, &cfg.Cache.TTLSeconds)
	intVar(EnvHTTPPort, &cfg.Web.Port)

	if v, ok := l.lookup(EnvCache); ok {
		cfg.Cache.Enabled = !isFalseFlag(v)
	}
	if v, ok := l.get(EnvLogLevel); ok {
		cfg.Log.Level = strings.ToUpper(v)
	}
	if v, ok := l.get(EnvLogDir); ok {
		cfg.Log.Dir = v
	}
	if v, ok := l.get(EnvAllowedFSRoots); ok {
		cfg.Security.AllowedFSRoots = SplitList(v, ";")
	}
	if v, ok := l.get(EnvTransport); ok {
		cfg.Server.Transport = strings.ToLower(v)
	}
	if v, ok := l.get(EnvDebug); ok {
		cfg.Server.Debug = cast.ToBool(v)
	}

	l.applyBackend(cfg, "openrouter", EnvOpenRouterKey, EnvOpenRouterModel, "")
	l.applyBackend(cfg, "openai", EnvOpenAIKey, EnvOpenAIModel, "")
	l.applyBackend(cfg, "anthropic", EnvAnthropicKey, EnvAnthropicModel, "")
	l.applyBackend(cfg, "gemini", EnvGeminiKey, EnvGeminiModel, "")
	l.applyBackend(cfg, "ollama", "", EnvOllamaModel, EnvOllamaURL)

	return warnings
}

func (l *Loader) applyBackend(cfg *Config, name, keyEnv, modelEnv, urlEnv string) {
	if cfg.VLLLM == nil {
		cfg.VLLLM = make(map[string]VLLLMConfig)
	}
	bc := cfg.VLLLM[name]
	if keyEnv != "" {
		if v, ok := l.get(keyEnv); ok {
			bc.APIKey = v
		}
	}
	if v, ok := l.get(modelEnv); ok {
		bc.ModelName = v
	}
	if urlEnv != "" {
		if v, ok := l.get(urlEnv); ok {
			bc.BaseURL = strings.TrimRight(v, "/")
		}
	}
	cfg.VLLLM[name] = bc
}

// isFalseFlag 仅 "0"、"false"、"False" 视为关闭
func isFalseFlag(v string) bool {
	switch v {
	case "0", "false", "False":
		return true
	}
	return false
}

// SplitList splits s on sep, trimming blanks and dropping empty entries.
func SplitList(s, sep string) []string {
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (l *Loader) validate(cfg *Config) error {
	switch cfg.Server.Transport {
	case "stdio", "sse", "http":
	default:
		return fmt.Errorf("invalid transport %q (stdio|sse|http)", cfg.Server.Transport)
	}
	if cfg.Web.Port <= 0 || cfg.Web.Port > 65535 {
		return fmt.Errorf("invalid web port: %d", cfg.Web.Port)
	}
	if cfg.Security.MaxImageSizeMB <= 0 {
		return fmt.Errorf("invalid max image size: %d MB", cfg.Security.MaxImageSizeMB)
	}
	if cfg.Vision.RequestTimeoutSeconds <= 0 {
		return fmt.Errorf("invalid request timeout: %ds", cfg.Vision.RequestTimeoutSeconds)
	}
	if cfg.Security.MaxRedirects < 0 {
		return fmt.Errorf("invalid max redirects: %d", cfg.Security.MaxRedirects)
	}
	return nil
}
