package ocr

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestValidate(t *testing.T) {
	t.Run("png with sniffed content type", func(t *testing.T) {
		img := Image{Data: pngBytes(t, 4, 3)}
		require.NoError(t, Validate(&img))
		assert.Equal(t, "image/png", img.ContentType)
	})

	t.Run("keeps declared image content type", func(t *testing.T) {
		img := Image{Data: pngBytes(t, 4, 3), ContentType: "image/x-png"}
		require.NoError(t, Validate(&img))
		assert.Equal(t, "image/x-png", img.ContentType)
	})

	t.Run("overrides non-image content type", func(t *testing.T) {
		img := Image{Data: pngBytes(t, 4, 3), ContentType: "application/octet-stream"}
		require.NoError(t, Validate(&img))
		assert.Equal(t, "image/png", img.ContentType)
	})

	t.Run("empty payload", func(t *testing.T) {
		err := Validate(&Image{})
		assert.ErrorIs(t, err, ErrUnsupportedImage)
		assert.True(t, IsFailure(err))
	})

	t.Run("not an image", func(t *testing.T) {
		err := Validate(&Image{Data: []byte("%PDF-1.7 not an image")})
		assert.ErrorIs(t, err, ErrUnsupportedImage)
	})
}

func TestReadImage(t *testing.T) {
	img, err := ReadImage(bytes.NewReader(pngBytes(t, 2, 2)), "", []string{"eng"})
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
	assert.Equal(t, []string{"eng"}, img.Languages)

	_, err = ReadImage(strings.NewReader("plain text"), "text/plain", nil)
	assert.ErrorIs(t, err, ErrUnsupportedImage)
}

type plainRecognizer struct{}

func (plainRecognizer) Name() string { return "plain" }

func (plainRecognizer) Recognize(ctx context.Context, img Image) (string, error) { return "", nil }

func TestAvailable(t *testing.T) {
	assert.True(t, Available(plainRecognizer{}))
}

func TestIsFailure(t *testing.T) {
	assert.True(t, IsFailure(ErrEngineUnavailable))
	assert.True(t, IsFailure(ErrRecognition))
	assert.False(t, IsFailure(context.Canceled))
	assert.False(t, IsFailure(errors.New("boom")))
}

func TestNew(t *testing.T) {
	r, err := New(context.Background(), Config{Engine: EngineTesseract, Languages: []string{"eng"}})
	require.NoError(t, err)
	assert.Equal(t, "tesseract", r.Name())

	_, err = New(context.Background(), Config{Engine: "paper"})
	assert.Error(t, err)

	_, err = New(context.Background(), Config{Engine: EngineDocumentAI})
	assert.Error(t, err, "missing project and processor")
}

type fakeProcessor struct {
	req    *documentaipb.ProcessRequest
	resp   *documentaipb.ProcessResponse
	err    error
	closed bool
}

func (f *fakeProcessor) ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error) {
	f.req = req
	return f.resp, f.err
}

func (f *fakeProcessor) Close() error {
	f.closed = true
	return nil
}

func TestDocumentAIRecognizer(t *testing.T) {
	cfg := DocumentAIConfig{ProjectID: "p", Location: "eu", ProcessorID: "proc"}

	t.Run("returns document text", func(t *testing.T) {
		fake := &fakeProcessor{resp: &documentaipb.ProcessResponse{
			Document: &documentaipb.Document{Text: "INV-001 total 42.00"},
		}}
		r := newDocumentAIRecognizer(fake, cfg)

		text, err := r.Recognize(context.Background(), Image{Data: []byte{1}, ContentType: "image/png"})
		require.NoError(t, err)
		assert.Equal(t, "INV-001 total 42.00", text)

		assert.Equal(t, "projects/p/locations/eu/processors/proc", fake.req.GetName())
		assert.Equal(t, "image/png", fake.req.GetRawDocument().GetMimeType())
		assert.True(t, fake.req.GetSkipHumanReview())

		require.NoError(t, r.Close())
		assert.True(t, fake.closed)
	})

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"invalid argument", status.Error(codes.InvalidArgument, "bad image"), ErrUnsupportedImage},
		{"unavailable", status.Error(codes.Unavailable, "down"), ErrEngineUnavailable},
		{"permission", status.Error(codes.PermissionDenied, "no"), ErrEngineUnavailable},
		{"internal", status.Error(codes.Internal, "oops"), ErrRecognition},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newDocumentAIRecognizer(&fakeProcessor{err: tt.err}, cfg)
			_, err := r.Recognize(context.Background(), Image{Data: []byte{1}})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("cancelled context is not an OCR failure", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := newDocumentAIRecognizer(&fakeProcessor{err: status.Error(codes.Canceled, "cancelled")}, cfg)

		_, err := r.Recognize(ctx, Image{Data: []byte{1}})
		assert.ErrorIs(t, err, context.Canceled)
		assert.False(t, IsFailure(err))
	})

	t.Run("missing document", func(t *testing.T) {
		r := newDocumentAIRecognizer(&fakeProcessor{resp: &documentaipb.ProcessResponse{}}, cfg)
		_, err := r.Recognize(context.Background(), Image{Data: []byte{1}})
		assert.ErrorIs(t, err, ErrRecognition)
	})
}
