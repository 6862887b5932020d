// Package blobstore stores the insurance card images uploaded during
// check-in. Backends keep the image bytes; the insurance record keeps only
// the returned IDs.
package blobstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrBlobNotFound       = errors.New("blob not found")
	ErrFileTooLarge       = errors.New("file exceeds maximum allowed size")
	ErrInvalidContentType = errors.New("Only JPG, PNG, and PDF files are allowed")
	ErrMissingFileName    = errors.New("file name is required")
	ErrTooManyFiles       = errors.New("too many files")
)

const (
	// MaxFileSize is the per-file limit for card images (5 MB).
	MaxFileSize = 5 * 1024 * 1024
	// MaxFiles covers the front and back of a card.
	MaxFiles = 2
)

// AllowedContentTypes lists the accepted card image MIME types.
var AllowedContentTypes = map[string]bool{
	"image/jpeg":      true,
	"image/jpg":       true,
	"image/png":       true,
	"application/pdf": true,
}

var allowedExtensions = map[string]bool{
	".jpeg": true,
	".jpg":  true,
	".png":  true,
	".pdf":  true,
}

// BlobMetadata describes a stored blob.
type BlobMetadata struct {
	ID          string    `json:"id"`
	FileName    string    `json:"file_name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	CreatedAt   time.Time `json:"created_at"`
}

// BlobStore defines the contract for blob storage backends.
type BlobStore interface {
	Upload(ctx context.Context, meta BlobMetadata, content io.Reader) (*BlobMetadata, error)
	Download(ctx context.Context, id string) (io.ReadCloser, *BlobMetadata, error)
	Delete(ctx context.Context, id string) error
}

// Validate checks a single upload before any bytes are stored. Both the
// extension and the declared content type must be in the allow list.
func Validate(fileName, contentType string, size int64) error {
	if fileName == "" {
		return ErrMissingFileName
	}
	ext := strings.ToLower(filepath.Ext(fileName))
	ct := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if !allowedExtensions[ext] || !AllowedContentTypes[ct] {
		return ErrInvalidContentType
	}
	if size > MaxFileSize {
		return ErrFileTooLarge
	}
	return nil
}

// ValidateCount enforces MaxFiles.
func ValidateCount(n int) error {
	if n > MaxFiles {
		return ErrTooManyFiles
	}
	return nil
}

// NewID returns a collision-resistant object key that keeps the original
// extension, e.g. "insurance-1760430000000-3f2a9c1e.png".
func NewID(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	return fmt.Sprintf("insurance-%d-%s%s", time.Now().UnixMilli(), uuid.New().String()[:8], ext)
}

// readAll reads at most MaxFileSize bytes and fills in size, hash, ID and
// timestamp on meta.
func readAll(meta *BlobMetadata, content io.Reader) ([]byte, error) {
	if meta.FileName == "" {
		return nil, ErrMissingFileName
	}
	data, err := io.ReadAll(io.LimitReader(content, MaxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading content: %w", err)
	}
	if int64(len(data)) > MaxFileSize {
		return nil, ErrFileTooLarge
	}

	if meta.ID == "" {
		meta.ID = NewID(meta.FileName)
	}
	meta.Size = int64(len(data))
	meta.Hash = fmt.Sprintf("%x", sha256.Sum256(data))
	meta.CreatedAt = time.Now().UTC()
	return data, nil
}

func nopCloser(data []byte) io.ReadCloser {
	return io.NopCloser(bytes.NewReader(data))
}
