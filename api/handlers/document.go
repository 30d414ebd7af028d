package handlers

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/vectordocs/api/middleware"
	"github.com/feichai0017/vectordocs/internal/service/document"
	"github.com/feichai0017/vectordocs/pkg/logger"
)

type DocumentHandler struct {
	service       document.DocumentManager
	maxUploadSize int64
	logger        logger.Logger
}

func NewDocumentHandler(service document.DocumentManager, maxUploadSize int64, log logger.Logger) *DocumentHandler {
	return &DocumentHandler{
		service:       service,
		maxUploadSize: maxUploadSize,
		logger:        log,
	}
}

// Upload 上传单个文档
func (h *DocumentHandler) Upload(c *gin.Context) {
	file, header, err := c.Request.FormFile("file")
	if err != nil {
		badRequest(c, h.logger, "Invalid file upload", err)
		return
	}
	defer file.Close()

	if h.maxUploadSize > 0 && header.Size > h.maxUploadSize {
		h.logger.Warn("Upload too large", logger.String("filename", header.Filename), logger.Int64("size", header.Size))
		c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, ErrorResponse{
			Error:   "file exceeds the upload limit",
			Message: "File too large",
		})
		return
	}

	data, err := io.ReadAll(file)
	if err != nil {
		badRequest(c, h.logger, "Failed to read file", err)
		return
	}

	doc, err := h.service.Upload(c.Request.Context(), document.UploadRequest{
		UserID:      middleware.UserID(c),
		FileName:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		handleError(c, h.logger, "Failed to upload file", err)
		return
	}

	c.JSON(http.StatusAccepted, doc)
}

// GetStatus 获取处理状态
func (h *DocumentHandler) GetStatus(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}

	status, err := h.service.GetStatus(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		handleError(c, h.logger, "Failed to get status", err)
		return
	}
	c.JSON(http.StatusOK, status)
}

// Delete 删除文档并取消处理
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := h.documentID(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), middleware.UserID(c), id); err != nil {
		handleError(c, h.logger, "Failed to delete document", err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{
		"message":    "Document deleted",
		"documentId": id,
	})
}

func (h *DocumentHandler) documentID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, h.logger, "Invalid document id", errors.New("document id must be a UUID"))
		return uuid.Nil, false
	}
	return id, true
}
