package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"image-sage-server-go/internal/core/providers/gemini"
	"image-sage-server-go/internal/core/providers/vlllm"
	"image-sage-server-go/internal/domain/vision"
	"image-sage-server-go/internal/platform/config"
	"image-sage-server-go/internal/utils"
)

// OpenRouter 署名请求头
var openRouterHeaders = map[string]string{
	"HTTP-Referer": "https://local.image-sage-mcp",
	"X-Title":      "Image Sage MCP",
}

// closer is implemented by backends holding network clients.
type closer interface {
	Close() error
}

// Manager owns the vision backends built from configuration. The set is
// built once and read-only afterwards, so it can be shared by concurrent
// requests.
type Manager struct {
	logger   *utils.Logger
	backends []vision.Backend
	skipped  map[string]string

	closed atomic.Bool
}

// NewManager builds every eligible backend in the configured order and
// appends the stub. A backend is eligible when it is listed in
// vision.backends and its credential (API key, or URL for ollama) is set.
// Ineligible or broken entries are skipped with a reason, never fatal.
func NewManager(ctx context.Context, cfg *config.Config, logger *utils.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("providers manager requires config")
	}
	if logger == nil {
		logger = utils.DefaultLogger
	}

	mgr := &Manager{
		logger:  logger,
		skipped: make(map[string]string),
	}

	seen := make(map[string]bool)
	var backends []vision.Backend
	for _, raw := range cfg.Vision.Backends {
		name := strings.ToLower(strings.TrimSpace(raw))
		if name == "" || seen[name] {
			continue
		}
		seen[name] = true
		if name == vision.StubName {
			continue
		}

		backend, err := newBackend(ctx, name, cfg, logger)
		if err != nil {
			mgr.skipped[name] = err.Error()
			logger.DebugTag("视觉", "跳过后端 %s: %v", name, err)
			continue
		}
		backends = append(backends, backend)
	}
	mgr.backends = vision.WithStub(backends)

	logger.InfoTag("视觉", "可用后端: %s", strings.Join(mgr.Names(), " -> "))
	return mgr, nil
}

var errNoCredential = errors.New("credential not configured")

func newBackend(ctx context.Context, name string, cfg *config.Config, logger *utils.Logger) (vision.Backend, error) {
	bc, ok := cfg.Backend(name)
	if !ok {
		return nil, fmt.Errorf("unknown backend %q", name)
	}

	switch strings.ToLower(bc.Type) {
	case "gemini":
		if bc.APIKey == "" {
			return nil, errNoCredential
		}
		return gemini.New(ctx, gemini.Config{
			APIKey:      bc.APIKey,
			Model:       bc.ModelName,
			Temperature: float32(bc.Temperature),
		}, logger)

	case vlllm.TypeOllama:
		if bc.BaseURL == "" {
			return nil, errNoCredential
		}

	case vlllm.TypeOpenAI, vlllm.TypeAnthropic:
		if bc.APIKey == "" {
			return nil, errNoCredential
		}

	default:
		return nil, fmt.Errorf("unsupported backend type %q", bc.Type)
	}

	pc := &vlllm.Config{
		Name:        name,
		Type:        bc.Type,
		ModelName:   bc.ModelName,
		BaseURL:     bc.BaseURL,
		APIKey:      bc.APIKey,
		Temperature: bc.Temperature,
		MaxTokens:   bc.MaxTokens,
		TopP:        bc.TopP,
		Timeout:     cfg.RequestTimeout(),
	}
	if name == "openrouter" {
		pc.Headers = openRouterHeaders
	}

	provider, err := vlllm.NewProvider(pc, logger)
	if err != nil {
		return nil, err
	}
	if err := provider.Initialize(); err != nil {
		return nil, err
	}
	return provider, nil
}

// Backends returns the ordered backends, stub last.
func (m *Manager) Backends() []vision.Backend {
	out := make([]vision.Backend, len(m.backends))
	copy(out, m.backends)
	return out
}

// Names returns the ordered backend names, stub last.
func (m *Manager) Names() []string {
	names := make([]string, 0, len(m.backends))
	for _, b := range m.backends {
		names = append(names, b.Name())
	}
	return names
}

// Skipped reports configured backends that were not built and why.
func (m *Manager) Skipped() map[string]string {
	out := make(map[string]string, len(m.skipped))
	for k, v := range m.skipped {
		out[k] = v
	}
	return out
}

// Close releases backend clients. It is safe to call more than once.
func (m *Manager) Close() error {
	if !m.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	for _, b := range m.backends {
		switch c := b.(type) {
		case closer:
			if err := c.Close(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			}
		case *vlllm.Provider:
			if err := c.Cleanup(); err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", b.Name(), err))
			}
		}
	}
	return errors.Join(errs...)
}
