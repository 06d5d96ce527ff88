package extraction

import (
	"context"
	"fmt"
	"path"
	"time"

	appcredits "github.com/facturio/backend/internal/application/credits"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/domain/shared"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// CreditGate is the slice of the ledger engine the submission flow consumes
type CreditGate interface {
	HasCredits(ctx context.Context, userID string, creditType credits.CreditType) bool
	UseCredits(ctx context.Context, userID string, creditType credits.CreditType) (appcredits.DebitResult, error)
}

// DocumentStore persists submitted document images
type DocumentStore interface {
	Upload(ctx context.Context, storageKey string, data []byte, contentType string) error
	GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error)
}

// Extractor calls the external AI extraction API
type Extractor interface {
	Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error)
}

// ExtractRequest is the payload sent to the extraction API
type ExtractRequest struct {
	DocumentType string
	Filename     string
	ContentType  string
	Content      []byte
}

// ExtractResult holds the structured fields read from a document
type ExtractResult struct {
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
}

// SubmitInput is a document submission from the HTTP layer
type SubmitInput struct {
	UserID      string
	DocType     credits.CreditType
	Filename    string
	ContentType string
	Content     []byte
}

// SubmitResult is returned to the client after a successful extraction
type SubmitResult struct {
	DocumentID string            `json:"document_id"`
	StorageKey string            `json:"storage_key"`
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
	Remaining  int64             `json:"remaining_credits"`
	Charged    bool              `json:"charged"`
}

// Submission errors
var (
	ErrNoCredits      = shared.NewDomainError("NO_CREDITS", "No credits available for this operation")
	ErrInvalidDocType = shared.NewDomainError("INVALID_DOC_TYPE", "Unsupported document type")
	ErrEmptyDocument  = shared.NewDomainError("EMPTY_DOCUMENT", "Document content is empty")
)

// DocumentService runs the metered extraction flow: availability gate,
// storage, extraction, then the debit. Only completed extractions are
// charged.
type DocumentService struct {
	gate      CreditGate
	store     DocumentStore
	extractor Extractor
	logger    *zap.Logger
}

// NewDocumentService creates a new DocumentService
func NewDocumentService(gate CreditGate, store DocumentStore, extractor Extractor, logger *zap.Logger) *DocumentService {
	return &DocumentService{
		gate:      gate,
		store:     store,
		extractor: extractor,
		logger:    logger,
	}
}

// Submit processes one photographed document. The credit check runs before
// any work; storage or extraction failures surface without a debit.
func (s *DocumentService) Submit(ctx context.Context, input SubmitInput) (*SubmitResult, error) {
	if input.DocType != credits.CreditTypeInvoices && input.DocType != credits.CreditTypeTickets {
		return nil, ErrInvalidDocType
	}
	if len(input.Content) == 0 {
		return nil, ErrEmptyDocument
	}

	if !s.gate.HasCredits(ctx, input.UserID, input.DocType) {
		return nil, ErrNoCredits
	}

	documentID := uuid.New().String()
	storageKey := storageKeyFor(input.UserID, documentID, input.Filename)

	if err := s.store.Upload(ctx, storageKey, input.Content, input.ContentType); err != nil {
		return nil, fmt.Errorf("failed to store document: %w", err)
	}

	extracted, err := s.extractor.Extract(ctx, ExtractRequest{
		DocumentType: input.DocType.String(),
		Filename:     input.Filename,
		ContentType:  input.ContentType,
		Content:      input.Content,
	})
	if err != nil {
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	result := &SubmitResult{
		DocumentID: documentID,
		StorageKey: storageKey,
		Fields:     extracted.Fields,
		Confidence: extracted.Confidence,
	}

	debit, err := s.gate.UseCredits(ctx, input.UserID, input.DocType)
	if err != nil {
		return nil, fmt.Errorf("failed to debit credit: %w", err)
	}
	if !debit.Success {
		// A concurrent request consumed the last unit between the check and
		// the debit. The work is done but not charged; the client still gets
		// a quota error so its next attempt goes through the gate again.
		s.logger.Warn("Credit consumed concurrently, extraction not charged",
			zap.String("user_id", input.UserID),
			zap.String("credit_type", input.DocType.String()),
			zap.String("document_id", documentID))
		return nil, ErrNoCredits
	}

	result.Remaining = debit.Remaining
	result.Charged = true

	s.logger.Info("Document processed",
		zap.String("user_id", input.UserID),
		zap.String("credit_type", input.DocType.String()),
		zap.String("document_id", documentID),
		zap.Int64("remaining", debit.Remaining))
	return result, nil
}

// DocumentURL returns a presigned download link for a stored document
func (s *DocumentService) DocumentURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	return s.store.GenerateDownloadURL(ctx, storageKey, expiresIn)
}

func storageKeyFor(userID, documentID, filename string) string {
	ext := path.Ext(filename)
	return fmt.Sprintf("documents/%s/%s%s", userID, documentID, ext)
}
