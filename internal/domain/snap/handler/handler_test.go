package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/FACorreiaa/data-snap/internal/domain/ocr"
	"github.com/FACorreiaa/data-snap/internal/domain/projection"
	"github.com/FACorreiaa/data-snap/internal/domain/snap/repository"
	"github.com/FACorreiaa/data-snap/internal/domain/snap/service"
	"github.com/FACorreiaa/data-snap/pkg/metrics"
	"github.com/FACorreiaa/data-snap/pkg/storage"
)

type stubRecognizer struct {
	text string
	err  error
}

func (s *stubRecognizer) Name() string { return "stub" }

func (s *stubRecognizer) Recognize(ctx context.Context, img ocr.Image) (string, error) {
	return s.text, s.err
}

func newTestServer(t *testing.T, rec *stubRecognizer, maxUpload int64) *httptest.Server {
	t.Helper()

	files, err := storage.NewLocalStorage(t.TempDir(), 0)
	require.NoError(t, err)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	svc := service.NewSnapService(repository.NewMemorySessionRepository(), rec, files, metrics.New(), logger)
	h := NewSnapHandler(svc, logger, maxUpload)

	r := chi.NewRouter()
	r.Route("/api", h.Routes)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body any) *http.Response {
	t.Helper()

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, url, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createSession(t *testing.T, srv *httptest.Server) string {
	t.Helper()
	resp := doJSON(t, http.MethodPost, srv.URL+"/api/sessions", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[repository.Snapshot](t, resp).ID.String()
}

func uploadImage(t *testing.T, url string, field string, data []byte) *http.Response {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(field, "scan.png")
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	resp, err := http.Post(url, mw.FormDataContentType(), &body)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func pngImage(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
	return buf.Bytes()
}

func TestSnapHandler_ColumnEditing(t *testing.T) {
	srv := newTestServer(t, &stubRecognizer{}, 1<<20)
	base := srv.URL + "/api/sessions/" + createSession(t, srv)

	resp := doJSON(t, http.MethodPost, base+"/columns", columnRequest{Name: "Invoice"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/columns/0/rules", ruleRequest{Rule: "startsWith"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodPut, base+"/columns/0/match-value", matchValueRequest{Value: "INV"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cols := decode[columnsResponse](t, resp).Columns
	require.Len(t, cols, 1)
	assert.Equal(t, "INV", cols[0].Value())
	assert.Equal(t, []projection.MatchMode{projection.StartsWith}, cols[0].Rules)

	// Rejected edits answer 200 with the unchanged layout
	noops := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"empty column name", http.MethodPost, "/columns", columnRequest{Name: " "}},
		{"index out of range", http.MethodDelete, "/columns/3", nil},
		{"non-numeric index", http.MethodPut, "/columns/abc/match-value", matchValueRequest{Value: "x"}},
		{"unknown rule", http.MethodPost, "/columns/0/rules", ruleRequest{Rule: "regex"}},
		{"remove unknown rule", http.MethodDelete, "/columns/0/rules/fuzzy", nil},
	}
	for _, tt := range noops {
		t.Run(tt.name, func(t *testing.T) {
			resp := doJSON(t, tt.method, base+tt.path, tt.body)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, cols, decode[columnsResponse](t, resp).Columns)
		})
	}

	t.Run("remove rule", func(t *testing.T) {
		resp := doJSON(t, http.MethodDelete, base+"/columns/0/rules/startsWith", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Empty(t, decode[columnsResponse](t, resp).Columns[0].Rules)
	})

	t.Run("malformed body", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, base+"/columns", strings.NewReader("{"))
		require.NoError(t, err)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestSnapHandler_OCRAndExport(t *testing.T) {
	rec := &stubRecognizer{text: "INV-1 x INV-2"}
	srv := newTestServer(t, rec, 1<<20)
	base := srv.URL + "/api/sessions/" + createSession(t, srv)

	doJSON(t, http.MethodPost, base+"/columns", columnRequest{Name: "Invoice"})
	doJSON(t, http.MethodPost, base+"/columns/0/rules", ruleRequest{Rule: "startsWith"})
	doJSON(t, http.MethodPut, base+"/columns/0/match-value", matchValueRequest{Value: "INV"})

	resp := doJSON(t, http.MethodGet, base+"/export?format=csv", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = uploadImage(t, base+"/ocr", "image", pngImage(t))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	snap := decode[repository.Snapshot](t, resp)
	assert.Equal(t, [][]string{{"INV-1"}, {"INV-2"}}, snap.Rows)

	resp = doJSON(t, http.MethodGet, base+"/export?format=csv", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="ocr_results.csv"`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Invoice\nINV-1\nINV-2\n", string(body))

	resp = doJSON(t, http.MethodGet, base+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, `attachment; filename="ocr_results.xlsx"`, resp.Header.Get("Content-Disposition"))

	resp = doJSON(t, http.MethodGet, base+"/export?format=pdf", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	t.Run("reproject after edit", func(t *testing.T) {
		doJSON(t, http.MethodPut, base+"/columns/0/match-value", matchValueRequest{Value: "INV-2"})
		resp := doJSON(t, http.MethodPost, base+"/project", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, [][]string{{"INV-2"}}, decode[repository.Snapshot](t, resp).Rows)
	})

	t.Run("ocr failure", func(t *testing.T) {
		rec.err = fmt.Errorf("%w: no text layer", ocr.ErrRecognition)
		defer func() { rec.err = nil }()

		resp := uploadImage(t, base+"/ocr", "image", pngImage(t))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("not an image", func(t *testing.T) {
		resp := uploadImage(t, base+"/ocr", "image", []byte("plain text"))
		assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	})

	t.Run("stored image", func(t *testing.T) {
		resp := doJSON(t, http.MethodGet, base+"/image", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
		body, err := io.ReadAll(resp.Body)
		require.NoError(t, err)
		assert.Equal(t, pngImage(t), body)
	})

	t.Run("rerun without image part", func(t *testing.T) {
		doJSON(t, http.MethodPut, base+"/columns/0/match-value", matchValueRequest{Value: "INV"})
		rec.text = "INV-3 INV-4"
		resp := uploadImage(t, base+"/ocr", "file", pngImage(t))
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, [][]string{{"INV-3"}, {"INV-4"}}, decode[repository.Snapshot](t, resp).Rows)

		rec.text = "INV-5"
		resp = doJSON(t, http.MethodPost, base+"/ocr", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, [][]string{{"INV-5"}}, decode[repository.Snapshot](t, resp).Rows)
	})
}

func TestSnapHandler_RerunWithoutStoredImage(t *testing.T) {
	srv := newTestServer(t, &stubRecognizer{text: "x"}, 1<<20)
	base := srv.URL + "/api/sessions/" + createSession(t, srv)

	resp := doJSON(t, http.MethodPost, base+"/ocr", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = uploadImage(t, base+"/ocr", "file", pngImage(t))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, base+"/image", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestSnapHandler_UploadTooLarge(t *testing.T) {
	srv := newTestServer(t, &stubRecognizer{text: "x"}, 512)
	base := srv.URL + "/api/sessions/" + createSession(t, srv)

	resp := uploadImage(t, base+"/ocr", "image", bytes.Repeat([]byte{0x89}, 4096))
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestSnapHandler_Sessions(t *testing.T) {
	srv := newTestServer(t, &stubRecognizer{}, 1<<20)
	id := createSession(t, srv)

	resp := doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp = doJSON(t, http.MethodDelete, srv.URL+"/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/"+id, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodGet, srv.URL+"/api/sessions/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+uuid.NewString()+"/columns", columnRequest{Name: "A"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, srv.URL+"/api/sessions/"+createSession(t, srv)+"/template/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{repository.ErrSessionNotFound, http.StatusNotFound},
		{fmt.Errorf("x: %w", ocr.ErrEngineUnavailable), http.StatusUnprocessableEntity},
		{fmt.Errorf("failed to store image: %w", storage.ErrFileTooLarge), http.StatusRequestEntityTooLarge},
		{service.ErrNoText, http.StatusConflict},
		{fmt.Errorf("%w: gone", service.ErrNoImage), http.StatusConflict},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{fmt.Errorf("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}
