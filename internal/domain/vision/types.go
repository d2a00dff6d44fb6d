package vision

import (
	"context"
	"errors"
	"strings"

	"github.com/spf13/cast"

	"image-sage-server-go/internal/domain/image"
)

// ErrNoBackendAvailable is returned when every backend declined or none
// was configured.
var ErrNoBackendAvailable = errors.New("no vision backend produced a result")

// ProcessingMessage is the caller-facing message for analysis failures.
const ProcessingMessage = "Vision processing failed"

// DetailLevel controls how thorough the requested analysis is.
type DetailLevel string

const (
	DetailLow    DetailLevel = "low"
	DetailMedium DetailLevel = "medium"
	DetailHigh   DetailLevel = "high"
)

// ParseDetailLevel accepts low, medium or high in any case.
func ParseDetailLevel(s string) (DetailLevel, bool) {
	switch DetailLevel(strings.ToLower(strings.TrimSpace(s))) {
	case DetailLow:
		return DetailLow, true
	case DetailMedium:
		return DetailMedium, true
	case DetailHigh:
		return DetailHigh, true
	}
	return DetailMedium, false
}

// Options 单次分析参数
type Options struct {
	IncludeOCR  bool        `json:"include_ocr"`
	DetailLevel DetailLevel `json:"detail_level"`
}

// DefaultOptions returns include_ocr=true, detail_level=medium.
func DefaultOptions() Options {
	return Options{IncludeOCR: true, DetailLevel: DetailMedium}
}

// OptionsFromMap reads tool options. Unknown or malformed values fall back
// to defaults and are reported as warnings.
func OptionsFromMap(raw map[string]any) (Options, []string) {
	opts := DefaultOptions()
	var warnings []string
	if raw == nil {
		return opts, nil
	}

	if v, ok := raw["include_ocr"]; ok && v != nil {
		b, err := cast.ToBoolE(v)
		if err != nil {
			warnings = append(warnings, "include_ocr is not a boolean, using true")
		} else {
			opts.IncludeOCR = b
		}
	}
	if v, ok := raw["detail_level"]; ok && v != nil {
		level, valid := ParseDetailLevel(cast.ToString(v))
		if !valid {
			warnings = append(warnings, "detail_level must be low, medium or high, using medium")
		}
		opts.DetailLevel = level
	}
	return opts, warnings
}

// AnalysisResult 归一化后的分析结果
type AnalysisResult struct {
	ContainsPerson   bool           `json:"contains_person"`
	ObjectsDetected  []string       `json:"objects_detected"`
	SceneType        string         `json:"scene_type"`
	Description      string         `json:"description"`
	OCRText          string         `json:"ocr_text"`
	Confidence       float64        `json:"confidence"`
	Metadata         image.Metadata `json:"metadata"`
	ProcessingTimeMs int64          `json:"processing_time_ms"`
	BackendUsed      string         `json:"backend_used"`
}

// Backend analyzes one image. Returning (nil, nil) declines, letting the
// pipeline move on to the next backend.
type Backend interface {
	Name() string
	Analyze(ctx context.Context, img *image.FetchedImage, opts Options) (*AnalysisResult, error)
}
