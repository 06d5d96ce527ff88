// Package storage provides the S3-compatible object store for submitted
// document images.
package storage

import (
	"context"
	"errors"
	"sync"
	"time"

	appextraction "github.com/facturio/backend/internal/application/extraction"
)

// StubDocumentStorage is an in-memory placeholder for local development
// without an S3 backend. Uploaded documents are held in a map and download
// URLs are fabricated from BaseURL.
type StubDocumentStorage struct {
	// BaseURL is the base URL for generating download URLs.
	// Defaults to "https://storage.example.com" if not set
	BaseURL string

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewStubDocumentStorage creates a new StubDocumentStorage
func NewStubDocumentStorage() *StubDocumentStorage {
	return &StubDocumentStorage{
		BaseURL: "https://storage.example.com",
		objects: make(map[string][]byte),
	}
}

// Ensure StubDocumentStorage implements the application port
var _ appextraction.DocumentStore = (*StubDocumentStorage)(nil)

// Upload stores the document bytes in memory
func (s *StubDocumentStorage) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[storageKey] = data
	return nil
}

// GenerateDownloadURL fabricates a download URL for a stored document
func (s *StubDocumentStorage) GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	if storageKey == "" {
		return "", time.Time{}, errors.New("storage key is required")
	}

	expiresAt := time.Now().Add(expiresIn)
	url := s.BaseURL + "/download/" + storageKey + "?expires=" + expiresAt.Format(time.RFC3339)

	return url, expiresAt, nil
}

// DeleteObject removes a stored document
func (s *StubDocumentStorage) DeleteObject(ctx context.Context, storageKey string) error {
	if storageKey == "" {
		return errors.New("storage key is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, storageKey)
	return nil
}

// ObjectExists reports whether a document was uploaded to this stub
func (s *StubDocumentStorage) ObjectExists(ctx context.Context, storageKey string) (bool, error) {
	if storageKey == "" {
		return false, errors.New("storage key is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.objects[storageKey]
	return ok, nil
}
