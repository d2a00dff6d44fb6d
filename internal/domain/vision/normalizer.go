package vision

import (
	"github.com/bytedance/sonic"
	"github.com/spf13/cast"

	"image-sage-server-go/internal/domain/image"
)

const (
	defaultSceneType  = "unknown"
	defaultConfidence = 0.5
)

// Normalize turns raw provider output into an AnalysisResult. raw may be
// JSON text, JSON bytes or an already decoded object. Anything that does
// not decode to a JSON object yields the defaults. Confidence is passed
// through unclamped.
func Normalize(raw any, img *image.FetchedImage, backend string, elapsedMs int64) AnalysisResult {
	fields := decodeObject(raw)

	return AnalysisResult{
		ContainsPerson:   boolField(fields, "contains_person", false),
		ObjectsDetected:  stringsField(fields, "objects_detected"),
		SceneType:        stringField(fields, "scene_type", defaultSceneType),
		Description:      stringField(fields, "description", ""),
		OCRText:          stringField(fields, "ocr_text", ""),
		Confidence:       floatField(fields, "confidence", defaultConfidence),
		Metadata:         img.Metadata(),
		ProcessingTimeMs: elapsedMs,
		BackendUsed:      backend,
	}
}

func decodeObject(raw any) map[string]any {
	var data []byte
	switch v := raw.(type) {
	case map[string]any:
		if v == nil {
			return map[string]any{}
		}
		return v
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return map[string]any{}
	}

	var out map[string]any
	if err := sonic.ConfigStd.Unmarshal(data, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func boolField(m map[string]any, key string, def bool) bool {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	b, err := cast.ToBoolE(v)
	if err != nil {
		return def
	}
	return b
}

func stringField(m map[string]any, key, def string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	switch v.(type) {
	case map[string]any, []any:
		return def
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return def
	}
	return s
}

func floatField(m map[string]any, key string, def float64) float64 {
	v, ok := m[key]
	if !ok || v == nil {
		return def
	}
	if _, isBool := v.(bool); isBool {
		return def
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return def
	}
	return f
}

// stringsField never returns nil so the result always encodes as an array.
func stringsField(m map[string]any, key string) []string {
	out := []string{}
	switch list := m[key].(type) {
	case []any:
		for _, item := range list {
			switch item.(type) {
			case nil, map[string]any, []any:
				continue
			}
			if s, err := cast.ToStringE(item); err == nil {
				out = append(out, s)
			}
		}
	case []string:
		out = append(out, list...)
	}
	return out
}
