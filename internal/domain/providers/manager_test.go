package providers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"image-sage-server-go/internal/core/providers/vlllm"
	"image-sage-server-go/internal/platform/config"
	"image-sage-server-go/internal/utils"
)

func setKey(cfg *config.Config, name, key string) {
	bc := cfg.VLLLM[name]
	bc.APIKey = key
	cfg.VLLLM[name] = bc
}

func TestNewManager_NoCredentialsOnlyStub(t *testing.T) {
	cfg := config.DefaultConfig()
	mgr, err := NewManager(context.Background(), cfg, utils.NewDiscardLogger())
	require.NoError(t, err)
	defer mgr.Close()

	assert.Equal(t, []string{"stub"}, mgr.Names())
	assert.Len(t, mgr.Skipped(), 3)
}

func TestNewManager_OrderFollowsConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vision.Backends = []string{"anthropic", "OpenRouter", "openai", "openrouter", "stub", "bogus"}
	setKey(cfg, "anthropic", "ak")
	setKey(cfg, "openrouter", "ok")

	mgr, err := NewManager(context.Background(), cfg, utils.NewDiscardLogger())
	require.NoError(t, err)
	defer mgr.Close()

	assert.Equal(t, []string{"anthropic", "openrouter", "stub"}, mgr.Names())
	skipped := mgr.Skipped()
	assert.Contains(t, skipped, "openai")
	assert.Contains(t, skipped, "bogus")

	or, ok := mgr.Backends()[1].(*vlllm.Provider)
	require.True(t, ok)
	assert.Equal(t, "Image Sage MCP", or.GetConfig().Headers["X-Title"])
	assert.Equal(t, config.OpenRouterBaseURL, or.GetConfig().BaseURL)
}

func TestNewManager_OllamaNeedsURL(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Vision.Backends = []string{"ollama"}

	mgr, err := NewManager(context.Background(), cfg, utils.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"stub"}, mgr.Names())

	bc := cfg.VLLLM["ollama"]
	bc.BaseURL = "http://localhost:11434"
	cfg.VLLLM["ollama"] = bc
	mgr, err = NewManager(context.Background(), cfg, utils.NewDiscardLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"ollama", "stub"}, mgr.Names())
	assert.NoError(t, mgr.Close())
	assert.NoError(t, mgr.Close())
}

func TestNewManager_RequiresConfig(t *testing.T) {
	_, err := NewManager(context.Background(), nil, nil)
	assert.Error(t, err)
}
