package config

import (
	"strings"
	"time"

	"image-sage-server-go/internal/utils"
)

type Config struct {
	Server   ServerConfig           `yaml:"server" mapstructure:"server"`
	Log      LogConfig              `yaml:"log" mapstructure:"log"`
	Web      WebConfig              `yaml:"web" mapstructure:"web"`
	Security SecurityConfig         `yaml:"security" mapstructure:"security"`
	Vision   VisionConfig           `yaml:"vision" mapstructure:"vision"`
	Cache    CacheConfig            `yaml:"cache" mapstructure:"cache"`
	VLLLM    map[string]VLLLMConfig `yaml:"VLLLM" mapstructure:"VLLLM"`
}

type ServerConfig struct {
	Name      string `yaml:"name" mapstructure:"name"`
	Version   string `yaml:"version" mapstructure:"version"`
	Transport string `yaml:"transport" mapstructure:"transport"` // stdio | sse | http
	Debug     bool   `yaml:"debug" mapstructure:"debug"`
}

type LogConfig struct {
	Level string `yaml:"log_level" mapstructure:"log_level"`
	Dir   string `yaml:"log_dir" mapstructure:"log_dir"`
	File  string `yaml:"log_file" mapstructure:"log_file"`
}

type WebConfig struct {
	IP   string `yaml:"ip" mapstructure:"ip"`
	Port int    `yaml:"port" mapstructure:"port"`
}

// SecurityConfig 资源访问安全配置
type SecurityConfig struct {
	MaxImageSizeMB int      `yaml:"max_image_size_mb" mapstructure:"max_image_size_mb"`
	AllowedFSRoots []string `yaml:"allowed_fs_roots" mapstructure:"allowed_fs_roots"`
	AllowedFormats []string `yaml:"allowed_formats" mapstructure:"allowed_formats"`
	MaxRedirects   int      `yaml:"max_redirects" mapstructure:"max_redirects"`
}

// VisionConfig 视觉分析后端配置
type VisionConfig struct {
	// Backends 后端优先级列表，按顺序尝试；stub 总是最后追加
	Backends              []string `yaml:"backends" mapstructure:"backends"`
	RequestTimeoutSeconds int      `yaml:"request_timeout_seconds" mapstructure:"request_timeout_seconds"`
}

// CacheConfig is loaded for compatibility with existing deployments.
// No component reads it.
type CacheConfig struct {
	Enabled    bool `yaml:"enabled" mapstructure:"enabled"`
	TTLSeconds int  `yaml:"ttl_seconds" mapstructure:"ttl_seconds"`
}

type VLLLMConfig struct {
	Type        string                 `yaml:"type" mapstructure:"type"`
	ModelName   string                 `yaml:"model_name" mapstructure:"model_name"`
	BaseURL     string                 `yaml:"url" mapstructure:"url"`
	APIKey      string                 `yaml:"api_key" mapstructure:"api_key"`
	Temperature float64                `yaml:"temperature" mapstructure:"temperature"`
	MaxTokens   int                    `yaml:"max_tokens" mapstructure:"max_tokens"`
	TopP        float64                `yaml:"top_p" mapstructure:"top_p"`
	Extra       map[string]interface{} `yaml:",inline" mapstructure:",remain"`
}

// MaxImageBytes returns the configured image size limit in bytes.
func (c *Config) MaxImageBytes() int64 {
	return int64(c.Security.MaxImageSizeMB) * 1024 * 1024
}

// RequestTimeout returns the per-call network timeout.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.Vision.RequestTimeoutSeconds) * time.Second
}

// AllowedRoots returns the filesystem allow-list. When nothing is
// configured the working directory is the only root.
func (c *Config) AllowedRoots() []string {
	roots := make([]string, 0, len(c.Security.AllowedFSRoots))
	for _, root := range c.Security.AllowedFSRoots {
		if root = strings.TrimSpace(root); root != "" {
			roots = append(roots, root)
		}
	}
	if len(roots) == 0 {
		if wd := utils.GetProjectDir(); wd != "" {
			roots = append(roots, wd)
		}
	}
	return roots
}

// Backend returns the provider settings for name and whether any exist.
func (c *Config) Backend(name string) (VLLLMConfig, bool) {
	cfg, ok := c.VLLLM[strings.ToLower(strings.TrimSpace(name))]
	return cfg, ok
}
