// Package ocr extracts plain text from uploaded images.
package ocr

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"net/http"
	"strings"

	// Decoders accepted for uploads
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Failure kinds reported by recognizers. Callers must not project text when
// Recognize returns any of them.
var (
	ErrEngineUnavailable = errors.New("ocr engine unavailable")
	ErrUnsupportedImage  = errors.New("unsupported image")
	ErrRecognition       = errors.New("text recognition failed")
)

// IsFailure reports whether err is one of the OCR failure kinds.
func IsFailure(err error) bool {
	return errors.Is(err, ErrEngineUnavailable) ||
		errors.Is(err, ErrUnsupportedImage) ||
		errors.Is(err, ErrRecognition)
}

// Image is an uploaded image payload
type Image struct {
	Data        []byte
	ContentType string   // MIME type, sniffed when empty
	Languages   []string // Engine language hints, e.g. "eng"
}

// Recognizer turns an image into a single text blob.
type Recognizer interface {
	Name() string
	Recognize(ctx context.Context, img Image) (string, error)
}

// Available reports whether r can recognize anything. Recognizers that may be
// compiled out implement Available() bool.
func Available(r Recognizer) bool {
	if a, ok := r.(interface{ Available() bool }); ok {
		return a.Available()
	}
	return true
}

// EngineType identifies the OCR backend
type EngineType string

const (
	EngineTesseract  EngineType = "tesseract"
	EngineDocumentAI EngineType = "documentai"
)

// Config holds OCR configuration
type Config struct {
	Engine     EngineType
	Languages  []string
	DocumentAI DocumentAIConfig
}

// DocumentAIConfig identifies a Google Document AI OCR processor
type DocumentAIConfig struct {
	ProjectID       string
	Location        string
	ProcessorID     string
	CredentialsFile string
}

// New creates the Recognizer selected by configuration.
func New(ctx context.Context, cfg Config) (Recognizer, error) {
	switch cfg.Engine {
	case EngineDocumentAI:
		r, err := NewDocumentAIRecognizer(ctx, cfg.DocumentAI)
		if err != nil {
			return nil, err
		}
		return r, nil
	case EngineTesseract, "":
		return NewTesseractRecognizer(cfg.Languages), nil
	default:
		return nil, fmt.Errorf("unknown OCR engine %q", cfg.Engine)
	}
}

// ReadImage reads an upload and validates it.
func ReadImage(r io.Reader, contentType string, languages []string) (Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Image{}, fmt.Errorf("failed to read image: %w", err)
	}

	img := Image{Data: data, ContentType: contentType, Languages: languages}
	if err := Validate(&img); err != nil {
		return Image{}, err
	}
	return img, nil
}

// Validate checks that the payload decodes as a supported image format and
// fills in the content type from the decoded format.
func Validate(img *Image) error {
	if len(img.Data) == 0 {
		return fmt.Errorf("%w: empty payload", ErrUnsupportedImage)
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}
	if cfg.Width == 0 || cfg.Height == 0 {
		return fmt.Errorf("%w: zero-sized image", ErrUnsupportedImage)
	}

	if img.ContentType == "" || !strings.HasPrefix(img.ContentType, "image/") {
		img.ContentType = mimeFromFormat(format, img.Data)
	}
	return nil
}

func mimeFromFormat(format string, data []byte) string {
	switch format {
	case "png", "jpeg", "gif", "bmp", "tiff", "webp":
		return "image/" + format
	default:
		return http.DetectContentType(data)
	}
}
