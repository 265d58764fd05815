package ocr

import (
	"context"
	"fmt"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// documentProcessor is the subset of the Document AI client used here
type documentProcessor interface {
	ProcessDocument(ctx context.Context, req *documentaipb.ProcessRequest, opts ...gax.CallOption) (*documentaipb.ProcessResponse, error)
	Close() error
}

// DocumentAIRecognizer sends images to a Google Document AI OCR processor.
type DocumentAIRecognizer struct {
	client documentProcessor
	name   string // projects/{project}/locations/{location}/processors/{processor}
}

// NewDocumentAIRecognizer creates a Document AI client for the configured processor.
func NewDocumentAIRecognizer(ctx context.Context, cfg DocumentAIConfig) (*DocumentAIRecognizer, error) {
	if cfg.ProjectID == "" || cfg.ProcessorID == "" {
		return nil, fmt.Errorf("document ai project and processor are required")
	}
	if cfg.Location == "" {
		cfg.Location = "us"
	}

	opts := []option.ClientOption{
		option.WithEndpoint(fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)),
	}
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	client, err := documentai.NewDocumentProcessorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Document AI client: %w", err)
	}

	return newDocumentAIRecognizer(client, cfg), nil
}

func newDocumentAIRecognizer(client documentProcessor, cfg DocumentAIConfig) *DocumentAIRecognizer {
	return &DocumentAIRecognizer{
		client: client,
		name: fmt.Sprintf(
			"projects/%s/locations/%s/processors/%s",
			cfg.ProjectID, cfg.Location, cfg.ProcessorID,
		),
	}
}

func (r *DocumentAIRecognizer) Name() string { return string(EngineDocumentAI) }

// Recognize processes the raw image and returns the document text.
func (r *DocumentAIRecognizer) Recognize(ctx context.Context, img Image) (string, error) {
	req := &documentaipb.ProcessRequest{
		Name: r.name,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:  img.Data,
				MimeType: img.ContentType,
			},
		},
		SkipHumanReview: true,
	}

	resp, err := r.client.ProcessDocument(ctx, req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		return "", classifyDocumentAIError(err)
	}

	if resp.GetDocument() == nil {
		return "", fmt.Errorf("%w: empty document in response", ErrRecognition)
	}
	return resp.GetDocument().GetText(), nil
}

// Close releases the underlying gRPC connection.
func (r *DocumentAIRecognizer) Close() error {
	return r.client.Close()
}

func classifyDocumentAIError(err error) error {
	switch status.Code(err) {
	case codes.InvalidArgument:
		return fmt.Errorf("%w: %v", ErrUnsupportedImage, err)
	case codes.Unavailable, codes.Unauthenticated, codes.PermissionDenied, codes.NotFound, codes.ResourceExhausted:
		return fmt.Errorf("%w: %v", ErrEngineUnavailable, err)
	default:
		return fmt.Errorf("%w: %v", ErrRecognition, err)
	}
}
