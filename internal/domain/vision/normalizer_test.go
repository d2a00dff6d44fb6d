package vision

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize_WellFormed(t *testing.T) {
	raw := `{"contains_person": true, "objects_detected": ["person", "bicycle"], "scene_type": "street",
		"description": "A cyclist on a city street", "ocr_text": "STOP", "confidence": 0.87}`

	res := Normalize(raw, testImage(), "openai", 0)

	assert.True(t, res.ContainsPerson)
	assert.Equal(t, []string{"person", "bicycle"}, res.ObjectsDetected)
	assert.Equal(t, "street", res.SceneType)
	assert.Equal(t, "A cyclist on a city street", res.Description)
	assert.Equal(t, "STOP", res.OCRText)
	assert.InDelta(t, 0.87, res.Confidence, 1e-9)
	assert.Equal(t, "openai", res.BackendUsed)
	assert.Equal(t, int64(0), res.ProcessingTimeMs)
	assert.Equal(t, testImage().Metadata(), res.Metadata)
}

func TestNormalize_MalformedYieldsDefaults(t *testing.T) {
	for _, raw := range []any{
		"not json at all",
		"```json\n{\"scene_type\":\"beach\"}\n```",
		"[1,2,3]",
		"null",
		[]byte("{truncated"),
		42,
		nil,
	} {
		res := Normalize(raw, testImage(), "openrouter", 0)
		assert.False(t, res.ContainsPerson)
		assert.Equal(t, []string{}, res.ObjectsDetected)
		assert.Equal(t, "unknown", res.SceneType)
		assert.Equal(t, "", res.Description)
		assert.Equal(t, "", res.OCRText)
		assert.Equal(t, 0.5, res.Confidence)
	}
}

func TestNormalize_Coercion(t *testing.T) {
	raw := map[string]any{
		"contains_person":  "true",
		"objects_detected": []any{"cat", 3, nil, map[string]any{"x": 1}, "lamp"},
		"scene_type":       []any{"indoor"},
		"description":      12,
		"ocr_text":         nil,
		"confidence":       "0.7",
	}
	res := Normalize(raw, testImage(), "ollama", 5)

	assert.True(t, res.ContainsPerson)
	assert.Equal(t, []string{"cat", "3", "lamp"}, res.ObjectsDetected)
	assert.Equal(t, "unknown", res.SceneType)
	assert.Equal(t, "12", res.Description)
	assert.Equal(t, "", res.OCRText)
	assert.InDelta(t, 0.7, res.Confidence, 1e-9)
	assert.Equal(t, int64(5), res.ProcessingTimeMs)
}

func TestNormalize_UncoercibleFallsBack(t *testing.T) {
	raw := map[string]any{
		"contains_person":  "maybe",
		"objects_detected": "cat, dog",
		"confidence":       "high",
	}
	res := Normalize(raw, testImage(), "gemini", 0)
	assert.False(t, res.ContainsPerson)
	assert.Equal(t, []string{}, res.ObjectsDetected)
	assert.Equal(t, 0.5, res.Confidence)
}

func TestNormalize_ConfidenceNotClamped(t *testing.T) {
	assert.Equal(t, 1.7, Normalize(`{"confidence": 1.7}`, testImage(), "x", 0).Confidence)
	assert.Equal(t, -0.2, Normalize(`{"confidence": -0.2}`, testImage(), "x", 0).Confidence)
}

func TestNormalize_Deterministic(t *testing.T) {
	raw := `{"objects_detected":["a","b"],"scene_type":"office","confidence":0.4}`
	assert.Equal(t, Normalize(raw, testImage(), "openai", 0), Normalize(raw, testImage(), "openai", 0))
	assert.Equal(t, Normalize("{", testImage(), "openai", 0), Normalize("{", testImage(), "openai", 0))
}

func TestOptionsFromMap(t *testing.T) {
	opts, warnings := OptionsFromMap(nil)
	assert.Equal(t, DefaultOptions(), opts)
	assert.Empty(t, warnings)

	opts, warnings = OptionsFromMap(map[string]any{"include_ocr": false, "detail_level": "HIGH"})
	assert.Equal(t, Options{IncludeOCR: false, DetailLevel: DetailHigh}, opts)
	assert.Empty(t, warnings)

	opts, warnings = OptionsFromMap(map[string]any{"include_ocr": "nope", "detail_level": "ultra"})
	assert.Equal(t, DefaultOptions(), opts)
	assert.Len(t, warnings, 2)
}

func TestUserPrompt(t *testing.T) {
	assert.Equal(t,
		"Analyze the image with high detail. Include OCR text in 'ocr_text'. Do not include any text outside of the JSON object.",
		UserPrompt(Options{IncludeOCR: true, DetailLevel: DetailHigh}))
	assert.Equal(t,
		"Analyze the image with medium detail. Set 'ocr_text' to an empty string. Do not include any text outside of the JSON object.",
		UserPrompt(Options{}))
}
