package extraction

import (
	"context"
	"errors"
	"testing"
	"time"

	appcredits "github.com/facturio/backend/internal/application/credits"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type mockCreditGate struct {
	mock.Mock
}

func (m *mockCreditGate) HasCredits(ctx context.Context, userID string, creditType credits.CreditType) bool {
	args := m.Called(ctx, userID, creditType)
	return args.Bool(0)
}

func (m *mockCreditGate) UseCredits(ctx context.Context, userID string, creditType credits.CreditType) (appcredits.DebitResult, error) {
	args := m.Called(ctx, userID, creditType)
	return args.Get(0).(appcredits.DebitResult), args.Error(1)
}

type mockDocumentStore struct {
	mock.Mock
}

func (m *mockDocumentStore) Upload(ctx context.Context, storageKey string, data []byte, contentType string) error {
	args := m.Called(ctx, storageKey, data, contentType)
	return args.Error(0)
}

func (m *mockDocumentStore) GenerateDownloadURL(ctx context.Context, storageKey string, expiresIn time.Duration) (string, time.Time, error) {
	args := m.Called(ctx, storageKey, expiresIn)
	return args.String(0), args.Get(1).(time.Time), args.Error(2)
}

type mockExtractor struct {
	mock.Mock
}

func (m *mockExtractor) Extract(ctx context.Context, req ExtractRequest) (*ExtractResult, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*ExtractResult), args.Error(1)
}

func newTestDocumentService(gate *mockCreditGate, store *mockDocumentStore, extractor *mockExtractor) *DocumentService {
	logger, _ := zap.NewDevelopment()
	return NewDocumentService(gate, store, extractor, logger)
}

func testSubmitInput() SubmitInput {
	return SubmitInput{
		UserID:      "user_1",
		DocType:     credits.CreditTypeInvoices,
		Filename:    "invoice.jpg",
		ContentType: "image/jpeg",
		Content:     []byte("jpeg bytes"),
	}
}

func TestDocumentService_Submit(t *testing.T) {
	ctx := context.Background()

	t.Run("stores, extracts and debits on success", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(true)
		store.On("Upload", ctx, mock.MatchedBy(func(key string) bool {
			return len(key) > 0
		}), []byte("jpeg bytes"), "image/jpeg").Return(nil)
		extractor.On("Extract", ctx, mock.AnythingOfType("extraction.ExtractRequest")).Return(&ExtractResult{
			Fields:     map[string]string{"total": "42.00", "vendor": "ACME"},
			Confidence: 0.97,
		}, nil)
		gate.On("UseCredits", ctx, "user_1", credits.CreditTypeInvoices).
			Return(appcredits.DebitResult{Success: true, Remaining: 7}, nil)

		result, err := service.Submit(ctx, testSubmitInput())

		require.NoError(t, err)
		assert.True(t, result.Charged)
		assert.Equal(t, int64(7), result.Remaining)
		assert.Equal(t, "42.00", result.Fields["total"])
		assert.NotEmpty(t, result.DocumentID)
		assert.Contains(t, result.StorageKey, "documents/user_1/")
		gate.AssertExpectations(t)
		store.AssertExpectations(t)
		extractor.AssertExpectations(t)
	})

	t.Run("rejects exhausted users before any work", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(false)

		_, err := service.Submit(ctx, testSubmitInput())

		assert.ErrorIs(t, err, ErrNoCredits)
		store.AssertNotCalled(t, "Upload")
		extractor.AssertNotCalled(t, "Extract")
		gate.AssertNotCalled(t, "UseCredits")
	})

	t.Run("rejects non-document credit types", func(t *testing.T) {
		service := newTestDocumentService(new(mockCreditGate), new(mockDocumentStore), new(mockExtractor))

		input := testSubmitInput()
		input.DocType = credits.CreditTypeAnalyses

		_, err := service.Submit(ctx, input)

		assert.ErrorIs(t, err, ErrInvalidDocType)
	})

	t.Run("rejects empty uploads", func(t *testing.T) {
		service := newTestDocumentService(new(mockCreditGate), new(mockDocumentStore), new(mockExtractor))

		input := testSubmitInput()
		input.Content = nil

		_, err := service.Submit(ctx, input)

		assert.ErrorIs(t, err, ErrEmptyDocument)
	})

	t.Run("storage failure surfaces without a debit", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(true)
		store.On("Upload", ctx, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("bucket unavailable"))

		_, err := service.Submit(ctx, testSubmitInput())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to store document")
		extractor.AssertNotCalled(t, "Extract")
		gate.AssertNotCalled(t, "UseCredits")
	})

	t.Run("extraction failure surfaces without a debit", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(true)
		store.On("Upload", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		extractor.On("Extract", ctx, mock.Anything).Return(nil, errors.New("model timeout"))

		_, err := service.Submit(ctx, testSubmitInput())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "extraction failed")
		gate.AssertNotCalled(t, "UseCredits")
	})

	t.Run("concurrent exhaustion after extraction returns quota error", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(true)
		store.On("Upload", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		extractor.On("Extract", ctx, mock.Anything).Return(&ExtractResult{Fields: map[string]string{}}, nil)
		gate.On("UseCredits", ctx, "user_1", credits.CreditTypeInvoices).
			Return(appcredits.DebitResult{Success: false, Remaining: 0}, nil)

		_, err := service.Submit(ctx, testSubmitInput())

		assert.ErrorIs(t, err, ErrNoCredits)
	})

	t.Run("debit persistence failure surfaces", func(t *testing.T) {
		gate := new(mockCreditGate)
		store := new(mockDocumentStore)
		extractor := new(mockExtractor)
		service := newTestDocumentService(gate, store, extractor)

		gate.On("HasCredits", ctx, "user_1", credits.CreditTypeInvoices).Return(true)
		store.On("Upload", ctx, mock.Anything, mock.Anything, mock.Anything).Return(nil)
		extractor.On("Extract", ctx, mock.Anything).Return(&ExtractResult{Fields: map[string]string{}}, nil)
		gate.On("UseCredits", ctx, "user_1", credits.CreditTypeInvoices).
			Return(appcredits.DebitResult{}, errors.New("connection reset"))

		_, err := service.Submit(ctx, testSubmitInput())

		assert.Error(t, err)
		assert.Contains(t, err.Error(), "failed to debit credit")
	})
}
