package vision

import (
	"context"
	"time"

	"image-sage-server-go/internal/domain/image"
)

// StubName is the backend_used value of the fallback backend.
const StubName = "stub"

// StubBackend always answers with a low-confidence placeholder result. It
// is the last entry of every pipeline so analysis never fails outright.
type StubBackend struct{}

func (StubBackend) Name() string { return StubName }

func (StubBackend) Analyze(_ context.Context, img *image.FetchedImage, _ Options) (*AnalysisResult, error) {
	start := time.Now()
	result := AnalysisResult{
		ContainsPerson:  false,
		ObjectsDetected: []string{},
		SceneType:       defaultSceneType,
		Confidence:      0.25,
		Metadata:        img.Metadata(),
		BackendUsed:     StubName,
	}
	result.ProcessingTimeMs = time.Since(start).Milliseconds()
	return &result, nil
}

// WithStub returns backends followed by the stub.
func WithStub(backends []Backend) []Backend {
	out := make([]Backend, 0, len(backends)+1)
	for _, b := range backends {
		if b != nil {
			out = append(out, b)
		}
	}
	return append(out, StubBackend{})
}
