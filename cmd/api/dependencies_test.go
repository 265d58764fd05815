package main

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
)

type stubEngine struct {
	available bool
}

func (s stubEngine) Name() string { return "stub" }

func (s stubEngine) Recognize(ctx context.Context, img ocr.Image) (string, error) { return "", nil }

func (s stubEngine) Available() bool { return s.available }

func TestWarnUnavailableOCR(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))

	warnUnavailableOCR(logger, stubEngine{available: true})
	assert.Empty(t, logs.String())

	warnUnavailableOCR(logger, stubEngine{available: false})
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "ocr_engine=stub")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}
