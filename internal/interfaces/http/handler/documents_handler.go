package handler

import (
	"context"
	"io"

	"github.com/facturio/backend/internal/application/extraction"
	"github.com/facturio/backend/internal/domain/credits"
	"github.com/facturio/backend/internal/interfaces/http/dto"
	"github.com/gin-gonic/gin"
)

// DocumentSubmitter runs the metered extraction flow for one document
type DocumentSubmitter interface {
	Submit(ctx context.Context, input extraction.SubmitInput) (*extraction.SubmitResult, error)
}

// DocumentsHandler handles metered document submission HTTP requests
type DocumentsHandler struct {
	BaseHandler
	documents DocumentSubmitter
}

// NewDocumentsHandler creates a new documents handler
func NewDocumentsHandler(documents DocumentSubmitter) *DocumentsHandler {
	return &DocumentsHandler{documents: documents}
}

// Submit godoc
//
//	@ID				submitDocument
//	@Summary		Submit a document for extraction
//	@Description	Upload a photographed invoice or ticket. The document is stored, the AI extraction runs, and one credit of the matching type is debited only when extraction succeeds.
//	@Tags			documents
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			file	formData	file	true	"Document image"
//	@Param			type	formData	string	true	"Document type"	Enums(invoices, tickets)
//	@Success		200		{object}	APIResponse[dto.DocumentSubmitResponse]
//	@Failure		400		{object}	ErrorResponse
//	@Failure		401		{object}	ErrorResponse
//	@Failure		402		{object}	ErrorResponse
//	@Failure		500		{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/documents [post]
func (h *DocumentsHandler) Submit(c *gin.Context) {
	userID, err := getUserID(c)
	if err != nil {
		h.Unauthorized(c, "Authentication required")
		return
	}

	docTypeParam := c.PostForm("type")
	if docTypeParam == "" {
		h.BadRequest(c, "Missing type field")
		return
	}
	docType, err := credits.ParseCreditType(docTypeParam)
	if err != nil {
		h.HandleError(c, err)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.BadRequest(c, "Missing file upload")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.BadRequest(c, "Unable to read uploaded file")
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.BadRequest(c, "Unable to read uploaded file")
		return
	}

	result, err := h.documents.Submit(c.Request.Context(), extraction.SubmitInput{
		UserID:      userID,
		DocType:     docType,
		Filename:    fileHeader.Filename,
		ContentType: fileHeader.Header.Get("Content-Type"),
		Content:     content,
	})
	if err != nil {
		h.HandleError(c, err)
		return
	}

	h.Success(c, dto.DocumentSubmitResponse{
		DocumentID: result.DocumentID,
		StorageKey: result.StorageKey,
		Fields:     result.Fields,
		Confidence: result.Confidence,
		Remaining:  result.Remaining,
	})
}
