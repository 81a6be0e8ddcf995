package handler

import (
	"errors"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"

	"ragchat/internal/app"
	"ragchat/internal/engine"
	"ragchat/internal/pkg/pdfextract"
	"ragchat/internal/transport/http/middleware"
	"ragchat/internal/transport/http/response"
)

const maxPDFSize = 10 << 20 // 10 MB

type RAGHandler struct {
	engine        *engine.Engine
	conversations *app.ConversationService
}

type IngestDocumentRequest struct {
	Filename string `json:"filename"`
	Content  string `json:"content" binding:"required"`
}

type QueryRequest struct {
	Question string `json:"question" binding:"required"`
	TopK     int    `json:"top_k"`
}

type ConversationQueryRequest struct {
	Question       string `json:"question" binding:"required"`
	ConversationID string `json:"conversation_id"`
	TopK           int    `json:"top_k"`
}

func NewRAGHandler(eng *engine.Engine, conversations *app.ConversationService) *RAGHandler {
	return &RAGHandler{engine: eng, conversations: conversations}
}

func (h *RAGHandler) IngestDocument(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	var req IngestDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}
	filename := strings.TrimSpace(req.Filename)
	if filename == "" {
		filename = "untitled.txt"
	}

	result, err := h.engine.Ingest(c.Request.Context(), req.Content, filename, userID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyDocument):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
		}
		return
	}
	response.OK(c, result)
}

// UploadPDF accepts a multipart form with "file" (PDF), extracts the text
// and ingests it under the uploaded filename.
func (h *RAGHandler) UploadPDF(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}

	file, err := c.FormFile("file")
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "missing file")
		return
	}
	if file.Size > maxPDFSize {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "file too large (max 10MB)")
		return
	}
	if ext := strings.ToLower(filepath.Ext(file.Filename)); ext != ".pdf" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "only PDF files are supported")
		return
	}

	f, err := file.Open()
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "failed to read file")
		return
	}
	defer f.Close()

	text, err := pdfextract.ExtractText(f)
	if err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "failed to extract text from PDF: "+err.Error())
		return
	}
	if strings.TrimSpace(text) == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "PDF contains no extractable text")
		return
	}

	result, err := h.engine.Ingest(c.Request.Context(), text, file.Filename, userID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyDocument):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "ingest failed: "+err.Error())
		}
		return
	}
	response.OK(c, result)
}

func (h *RAGHandler) ListDocuments(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docs, err := h.engine.ListDocuments(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list documents failed")
		return
	}
	response.OK(c, docs)
}

func (h *RAGHandler) DeleteDocument(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	docID := strings.TrimSpace(c.Param("id"))
	if docID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid document id")
		return
	}

	deleted, err := h.engine.DeleteDocument(c.Request.Context(), docID, userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "delete document failed")
		return
	}
	if !deleted {
		response.Error(c, http.StatusNotFound, response.CodeDocumentNotFound, "document not found")
		return
	}
	response.OK(c, gin.H{"deleted_doc_id": docID})
}

func (h *RAGHandler) Query(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req QueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	result, err := h.engine.Query(c.Request.Context(), req.Question, req.TopK, userID)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyQuestion):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed: "+err.Error())
		}
		return
	}
	response.OK(c, result)
}

// ConversationQuery answers within a conversation: history is folded into
// the prompt and the new turn is appended. A missing conversation_id starts
// a fresh conversation whose id is returned.
func (h *RAGHandler) ConversationQuery(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	var req ConversationQueryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid request payload")
		return
	}

	conversation, err := h.conversations.EnsureConversation(userID, strings.TrimSpace(req.ConversationID))
	if err != nil {
		switch {
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		case errors.Is(err, app.ErrInvalidInput):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "resolve conversation failed")
		}
		return
	}

	result, err := h.engine.QueryWithHistory(c.Request.Context(), req.Question, conversation.ID, userID, req.TopK)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyQuestion):
			response.Error(c, http.StatusBadRequest, response.CodeBadRequest, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "query failed: "+err.Error())
		}
		return
	}

	response.OK(c, gin.H{
		"conversation_id": conversation.ID,
		"answer":          result.Answer,
		"sources":         result.Sources,
	})
}

func (h *RAGHandler) ListConversations(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	conversations, err := h.conversations.ListConversations(userID)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "list conversations failed")
		return
	}
	response.OK(c, conversations)
}

func (h *RAGHandler) GetConversationMessages(c *gin.Context) {
	userID, ok := getUserIDFromContext(c)
	if !ok {
		response.Error(c, http.StatusUnauthorized, response.CodeUnauthorized, "invalid token payload")
		return
	}
	conversationID := strings.TrimSpace(c.Param("id"))
	if conversationID == "" {
		response.Error(c, http.StatusBadRequest, response.CodeBadRequest, "invalid conversation id")
		return
	}

	if _, err := h.conversations.EnsureConversation(userID, conversationID); err != nil {
		switch {
		case errors.Is(err, app.ErrConversationNotFound):
			response.Error(c, http.StatusNotFound, response.CodeConversationNotFound, err.Error())
		default:
			response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "resolve conversation failed")
		}
		return
	}

	messages, err := h.conversations.RecentMessages(c.Request.Context(), conversationID, 0)
	if err != nil {
		response.Error(c, http.StatusInternalServerError, response.CodeInternalServer, "load messages failed")
		return
	}
	response.OK(c, messages)
}

func getUserIDFromContext(c *gin.Context) (uint, bool) {
	userIDAny, exists := c.Get(middleware.ContextUserIDKey)
	if !exists {
		return 0, false
	}
	userID, ok := userIDAny.(uint)
	return userID, ok
}
