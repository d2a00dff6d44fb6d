package vision

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"image-sage-server-go/internal/domain/eventbus"
	"image-sage-server-go/internal/domain/image"
	apperrors "image-sage-server-go/internal/platform/errors"
)

type MockBackend struct {
	mock.Mock
	name string
}

func (m *MockBackend) Name() string { return m.name }

func (m *MockBackend) Analyze(ctx context.Context, img *image.FetchedImage, opts Options) (*AnalysisResult, error) {
	args := m.Called(ctx, img, opts)
	var res *AnalysisResult
	if v := args.Get(0); v != nil {
		res = v.(*AnalysisResult)
	}
	return res, args.Error(1)
}

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
}

func (r *recordingPublisher) Publish(topic string, _ ...interface{}) {
	r.mu.Lock()
	r.topics = append(r.topics, topic)
	r.mu.Unlock()
}

func testImage() *image.FetchedImage {
	return &image.FetchedImage{
		Bytes:    []byte{0x89, 0x50},
		MimeType: "image/jpeg",
		Format:   image.FormatJPEG,
		Width:    640,
		Height:   480,
		Size:     2048,
		Source:   "https://example.com/cat.jpg",
	}
}

func TestPipeline_FallsBackToStub(t *testing.T) {
	failing := &MockBackend{name: "openrouter"}
	failing.On("Analyze", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("401 unauthorized")).Once()

	events := &recordingPublisher{}
	p := NewPipeline(WithStub([]Backend{failing}), WithEvents(events))

	res, err := p.Analyze(context.Background(), testImage(), DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, StubName, res.BackendUsed)
	assert.Equal(t, 0.25, res.Confidence)
	assert.Equal(t, "unknown", res.SceneType)
	assert.NotNil(t, res.ObjectsDetected)
	assert.Empty(t, res.ObjectsDetected)
	assert.Equal(t, 640, res.Metadata.Width)
	failing.AssertExpectations(t)

	assert.Equal(t, []string{
		eventbus.EventVisionStarted,
		eventbus.EventVisionBackendFailed,
		eventbus.EventVisionCompleted,
	}, events.topics)
}

func TestPipeline_FirstSuccessWins(t *testing.T) {
	declining := &MockBackend{name: "gemini"}
	declining.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()

	winner := &MockBackend{name: "openai"}
	want := &AnalysisResult{SceneType: "park", ObjectsDetected: []string{"dog"}, Confidence: 0.9, BackendUsed: "openai"}
	winner.On("Analyze", mock.Anything, mock.Anything, Options{IncludeOCR: false, DetailLevel: DetailHigh}).Return(want, nil).Once()

	never := &MockBackend{name: "anthropic"}

	p := NewPipeline(WithStub([]Backend{declining, winner, never}))
	res, err := p.Analyze(context.Background(), testImage(), Options{IncludeOCR: false, DetailLevel: DetailHigh})
	require.NoError(t, err)
	assert.Equal(t, *want, res)

	declining.AssertExpectations(t)
	winner.AssertExpectations(t)
	never.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipeline_AllFailReturnsLastError(t *testing.T) {
	first := &MockBackend{name: "openrouter"}
	first.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("first"))
	second := &MockBackend{name: "openai"}
	second.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("second"))
	declines := &MockBackend{name: "gemini"}
	declines.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	events := &recordingPublisher{}
	p := NewPipeline([]Backend{first, second, declines}, WithEvents(events))
	_, err := p.Analyze(context.Background(), testImage(), DefaultOptions())
	require.Error(t, err)

	assert.Equal(t, apperrors.CodeProcessingError, apperrors.CodeOf(err))
	assert.Equal(t, "openai: second", apperrors.Reason(err))
	assert.False(t, errors.Is(err, ErrNoBackendAvailable))
	assert.Equal(t, eventbus.EventVisionFailed, events.topics[len(events.topics)-1])
}

func TestPipeline_AllDeclineOrEmpty(t *testing.T) {
	declines := &MockBackend{name: "gemini"}
	declines.On("Analyze", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil)

	for _, backends := range [][]Backend{nil, {declines}} {
		_, err := NewPipeline(backends).Analyze(context.Background(), testImage(), DefaultOptions())
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrNoBackendAvailable))
		assert.Equal(t, apperrors.CodeProcessingError, apperrors.CodeOf(err))
	}
}

type slowBackend struct{ name string }

func (s slowBackend) Name() string { return s.name }

func (s slowBackend) Analyze(ctx context.Context, _ *image.FetchedImage, _ Options) (*AnalysisResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestPipeline_TimeoutFallsThrough(t *testing.T) {
	p := NewPipeline(WithStub([]Backend{slowBackend{name: "ollama"}}), WithBackendTimeout(20*time.Millisecond))

	res, err := p.Analyze(context.Background(), testImage(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StubName, res.BackendUsed)
}

func TestPipeline_CallerCancellationStops(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stub := &MockBackend{name: "never"}
	_, err := NewPipeline([]Backend{stub}).Analyze(ctx, testImage(), DefaultOptions())
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	stub.AssertNotCalled(t, "Analyze", mock.Anything, mock.Anything, mock.Anything)
}

type panickyBackend struct{}

func (panickyBackend) Name() string { return "panicky" }
func (panickyBackend) Analyze(context.Context, *image.FetchedImage, Options) (*AnalysisResult, error) {
	panic("nil map write")
}

func TestPipeline_PanicIsABackendFailure(t *testing.T) {
	res, err := NewPipeline(WithStub([]Backend{panickyBackend{}})).Analyze(context.Background(), testImage(), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StubName, res.BackendUsed)
}

func TestWithStub(t *testing.T) {
	b := &MockBackend{name: "openai"}
	list := WithStub([]Backend{nil, b})
	require.Len(t, list, 2)
	assert.Equal(t, StubName, list[1].Name())
	assert.Equal(t, []string{"openai", "stub"}, NewPipeline(list).Names())
}
