//go:build ocr

package ocr

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// TesseractRecognizer runs the local Tesseract engine through gosseract.
// Building it requires the "ocr" tag and libtesseract headers.
type TesseractRecognizer struct {
	languages     []string
	clientFactory func() *gosseract.Client
}

// NewTesseractRecognizer creates a recognizer using the given default languages.
func NewTesseractRecognizer(languages []string) *TesseractRecognizer {
	return &TesseractRecognizer{
		languages:     languages,
		clientFactory: gosseract.NewClient,
	}
}

func (r *TesseractRecognizer) Name() string { return string(EngineTesseract) }

func (r *TesseractRecognizer) Available() bool { return true }

// Recognize performs OCR on a single image. gosseract calls cannot be
// interrupted, so cancellation is only observed before and after recognition.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img Image) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	c := r.clientFactory()
	defer c.Close()

	langs := img.Languages
	if len(langs) == 0 {
		langs = r.languages
	}
	if len(langs) > 0 {
		if err := c.SetLanguage(langs...); err != nil {
			return "", fmt.Errorf("%w: set languages: %v", ErrEngineUnavailable, err)
		}
	}
	if err := c.SetImageFromBytes(img.Data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	}

	text, err := c.Text()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRecognition, err)
	}

	if err := ctx.Err(); err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// Close is a no-op; clients are created per call.
func (r *TesseractRecognizer) Close() error { return nil }
