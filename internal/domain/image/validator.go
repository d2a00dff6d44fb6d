package image

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"strings"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/webp"

	"image-sage-server-go/internal/utils"
)

// ErrUnsupportedFormat is returned for payloads that are not JPEG, PNG, GIF
// or WEBP.
var ErrUnsupportedFormat = errors.New("unsupported image format")

var imageSignatures = map[Format][]byte{
	FormatJPEG: {0xFF, 0xD8},
	FormatPNG:  {0x89, 0x50, 0x4E, 0x47, 0x0D, 0x0A, 0x1A, 0x0A},
	FormatGIF:  {0x47, 0x49, 0x46, 0x38},
	FormatWEBP: {0x52, 0x49, 0x46, 0x46},
}

var decoderFormats = map[string]Format{
	"jpeg": FormatJPEG,
	"png":  FormatPNG,
	"gif":  FormatGIF,
	"webp": FormatWEBP,
}

// FormatValidator sniffs image headers and enforces the format allow-list.
type FormatValidator struct {
	allowed map[Format]bool
	logger  *utils.Logger
}

// NewFormatValidator builds a validator. An empty allow-list permits every
// decodable format.
func NewFormatValidator(allowed []string, logger *utils.Logger) *FormatValidator {
	v := &FormatValidator{allowed: map[Format]bool{}, logger: logger}
	for _, name := range allowed {
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "jpg" {
			name = "jpeg"
		}
		if f, ok := decoderFormats[name]; ok {
			v.allowed[f] = true
		}
	}
	return v
}

// Inspect decodes only the header of data and returns a FetchedImage.
// declaredMime is the server reported type, possibly empty.
func (v *FormatValidator) Inspect(data []byte, declaredMime string) (*FetchedImage, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image payload")
	}

	cfg, name, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: unrecognized header %x", ErrUnsupportedFormat, data[:min(len(data), 8)])
		}
		return nil, fmt.Errorf("decode image header: %w", err)
	}

	format, ok := decoderFormats[name]
	if !ok || (len(v.allowed) > 0 && !v.allowed[format]) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, strings.ToUpper(name))
	}

	if !hasSignature(data, format) {
		v.logger.WarnTag("获取", "文件签名与解码格式不一致: format=%s header=%x", format, data[:min(len(data), 16)])
	}

	mime := stripMimeParams(declaredMime)
	if mime != "" && mime != format.MimeType() {
		v.logger.DebugTag("获取", "声明类型与实际格式不一致: declared=%s actual=%s", mime, format)
	}
	if mime == "" {
		mime = format.MimeType()
	}
	if mime == "" {
		mime = "application/octet-stream"
	}

	v.logger.DebugTag("获取", "图片校验通过: format=%s width=%d height=%d size=%d",
		format, cfg.Width, cfg.Height, len(data))

	return &FetchedImage{
		Bytes:    data,
		MimeType: mime,
		Format:   format,
		Width:    cfg.Width,
		Height:   cfg.Height,
		Size:     int64(len(data)),
	}, nil
}

func hasSignature(data []byte, format Format) bool {
	sig, ok := imageSignatures[format]
	if !ok {
		return true
	}
	return bytes.HasPrefix(data, sig)
}

func stripMimeParams(ct string) string {
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = ct[:i]
	}
	return strings.ToLower(strings.TrimSpace(ct))
}
