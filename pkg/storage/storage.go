// Package storage keeps uploaded images on disk, namespaced per owner.
package storage

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/google/uuid"
)

var ErrFileNotFound = errors.New("file not found")

// FileInfo contains metadata about a stored file
type FileInfo struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     uuid.UUID `json:"owner_id"`
	Name        string    `json:"name"`
	Size        int64     `json:"size"`
	ContentType string    `json:"content_type"`
	Path        string    `json:"path"` // Relative to the owner directory
	CreatedAt   time.Time `json:"created_at"`
}

// Storage defines the interface for file storage operations
type Storage interface {
	// Upload stores a file and returns its metadata
	Upload(ctx context.Context, ownerID uuid.UUID, filename string, contentType string, r io.Reader) (*FileInfo, error)

	// Open returns a reader for a stored file
	Open(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (io.ReadCloser, *FileInfo, error)

	// Delete removes a file by its ID
	Delete(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) error

	// DeleteOwner removes every file of an owner
	DeleteOwner(ctx context.Context, ownerID uuid.UUID) error

	// List returns all files of an owner
	List(ctx context.Context, ownerID uuid.UUID) ([]*FileInfo, error)

	// GetInfo returns metadata for a file without opening it
	GetInfo(ctx context.Context, ownerID uuid.UUID, fileID uuid.UUID) (*FileInfo, error)
}

// Config holds storage configuration
type Config struct {
	LocalPath string
	MaxSize   int64 // Upload size cap in bytes, 0 for unlimited
}

// New creates the local filesystem Storage
func New(cfg *Config) (Storage, error) {
	return NewLocalStorage(cfg.LocalPath, cfg.MaxSize)
}
