package vision

import "strings"

// SystemPrompt fixes the JSON key set every remote backend must return.
const SystemPrompt = "You are an image analysis engine. Return only a compact JSON object with keys: " +
	"contains_person (bool), objects_detected (array of strings), scene_type (string), " +
	"description (string, a concise natural language summary), ocr_text (string), confidence (0..1)."

// UserPrompt builds the per-request instruction.
func UserPrompt(opts Options) string {
	level := opts.DetailLevel
	if level == "" {
		level = DetailMedium
	}
	var b strings.Builder
	b.WriteString("Analyze the image with ")
	b.WriteString(string(level))
	b.WriteString(" detail. ")
	if opts.IncludeOCR {
		b.WriteString("Include OCR text in 'ocr_text'. ")
	} else {
		b.WriteString("Set 'ocr_text' to an empty string. ")
	}
	b.WriteString("Do not include any text outside of the JSON object.")
	return b.String()
}
