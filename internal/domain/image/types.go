package image

import (
	"encoding/base64"
	"strings"
)

// Format is the sniffed container format of a fetched image.
type Format string

const (
	FormatJPEG Format = "JPEG"
	FormatPNG  Format = "PNG"
	FormatGIF  Format = "GIF"
	FormatWEBP Format = "WEBP"
)

// MimeType returns the canonical MIME type for the format.
func (f Format) MimeType() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatPNG:
		return "image/png"
	case FormatGIF:
		return "image/gif"
	case FormatWEBP:
		return "image/webp"
	}
	return ""
}

// FetchedImage is the validated payload handed to vision backends.
type FetchedImage struct {
	Bytes    []byte
	MimeType string
	Format   Format
	Width    int
	Height   int
	Size     int64
	// Source is the input the image was read from, for logging.
	Source string
}

// Metadata describes an image in analysis results.
type Metadata struct {
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	MimeType      string `json:"mime_type"`
	FileSizeBytes int64  `json:"file_size_bytes"`
	Format        string `json:"format"`
}

// Metadata returns the result metadata for the image.
func (f *FetchedImage) Metadata() Metadata {
	if f == nil {
		return Metadata{}
	}
	return Metadata{
		Width:         f.Width,
		Height:        f.Height,
		MimeType:      f.MimeType,
		FileSizeBytes: f.Size,
		Format:        string(f.Format),
	}
}

// UploadMimeType is the MIME type sent to vision providers. A server
// reported type that is not image/* is replaced by the sniffed one.
func (f *FetchedImage) UploadMimeType() string {
	if strings.HasPrefix(f.MimeType, "image/") {
		return f.MimeType
	}
	if m := f.Format.MimeType(); m != "" {
		return m
	}
	return f.MimeType
}

// Base64 returns the standard base64 encoding of the image bytes.
func (f *FetchedImage) Base64() string {
	return base64.StdEncoding.EncodeToString(f.Bytes)
}

// DataURI returns the image as a data: URI.
func (f *FetchedImage) DataURI() string {
	return "data:" + f.UploadMimeType() + ";base64," + f.Base64()
}
