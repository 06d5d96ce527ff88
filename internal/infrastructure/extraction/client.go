// Package extraction provides the HTTP adapter for the external AI document
// extraction API.
package extraction

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	appextraction "github.com/facturio/backend/internal/application/extraction"
	infraconfig "github.com/facturio/backend/internal/infrastructure/config"
	"go.uber.org/zap"
)

// Client calls the extraction API over HTTP
type Client struct {
	config     *infraconfig.ExtractionConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// Ensure Client implements the application port
var _ appextraction.Extractor = (*Client)(nil)

// NewClient creates a new extraction API client
func NewClient(config *infraconfig.ExtractionConfig, logger *zap.Logger) (*Client, error) {
	if config == nil || config.BaseURL == "" {
		return nil, errors.New("extraction: base URL is required")
	}
	if config.APIKey == "" {
		return nil, errors.New("extraction: API key is required")
	}

	timeout := time.Duration(config.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger,
	}, nil
}

type extractRequestBody struct {
	DocumentType string `json:"document_type"`
	Filename     string `json:"filename"`
	ContentType  string `json:"content_type"`
	Content      string `json:"content"` // base64
}

type extractResponseBody struct {
	Fields     map[string]string `json:"fields"`
	Confidence float64           `json:"confidence"`
	Error      string            `json:"error,omitempty"`
}

// Extract sends a document to the extraction API and returns the structured
// fields. The call is bounded by the client timeout and the caller's context.
func (c *Client) Extract(ctx context.Context, req appextraction.ExtractRequest) (*appextraction.ExtractResult, error) {
	body, err := json.Marshal(extractRequestBody{
		DocumentType: req.DocumentType,
		Filename:     req.Filename,
		ContentType:  req.ContentType,
		Content:      base64.StdEncoding.EncodeToString(req.Content),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode extraction request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/extract", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build extraction request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("extraction request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read extraction response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("Extraction API returned an error",
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)))
		return nil, fmt.Errorf("extraction API returned status %d", resp.StatusCode)
	}

	var parsed extractResponseBody
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode extraction response: %w", err)
	}
	if parsed.Error != "" {
		return nil, fmt.Errorf("extraction API error: %s", parsed.Error)
	}

	c.logger.Debug("Document extracted",
		zap.String("document_type", req.DocumentType),
		zap.Int("fields", len(parsed.Fields)),
		zap.Float64("confidence", parsed.Confidence),
		zap.Duration("elapsed", time.Since(start)))

	return &appextraction.ExtractResult{
		Fields:     parsed.Fields,
		Confidence: parsed.Confidence,
	}, nil
}
