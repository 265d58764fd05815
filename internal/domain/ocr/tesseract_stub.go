//go:build !ocr

package ocr

import (
	"context"
	"fmt"
)

// TesseractRecognizer is the stub used when the binary is built without the
// "ocr" tag. Rebuild with -tags ocr (and libtesseract installed) to enable it.
type TesseractRecognizer struct {
	languages []string
}

// NewTesseractRecognizer creates the stub recognizer.
func NewTesseractRecognizer(languages []string) *TesseractRecognizer {
	return &TesseractRecognizer{languages: languages}
}

func (r *TesseractRecognizer) Name() string { return string(EngineTesseract) }

// Available is false: every call to Recognize fails.
func (r *TesseractRecognizer) Available() bool { return false }

// Recognize always fails with ErrEngineUnavailable.
func (r *TesseractRecognizer) Recognize(ctx context.Context, img Image) (string, error) {
	return "", fmt.Errorf("%w: tesseract support not compiled in; rebuild with -tags ocr", ErrEngineUnavailable)
}

// Close is a no-op.
func (r *TesseractRecognizer) Close() error { return nil }
