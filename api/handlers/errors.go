package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	agentdoc "github.com/feichai0017/vectordocs/internal/agent/document"
	"github.com/feichai0017/vectordocs/internal/utils/validator"
	"github.com/feichai0017/vectordocs/pkg/logger"
	"github.com/feichai0017/vectordocs/pkg/store"
)

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, validator.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agentdoc.ErrUnsupportedFormat):
		return http.StatusUnsupportedMediaType
	default:
		return http.StatusInternalServerError
	}
}

// handleError 统一错误处理
func handleError(c *gin.Context, log logger.Logger, message string, err error) {
	status := statusFor(err)
	fields := []logger.Field{logger.String("path", c.Request.URL.Path), logger.Int("status", status)}
	if err != nil {
		fields = append(fields, logger.Error(err))
	}
	if status >= http.StatusInternalServerError {
		log.Error(message, fields...)
	} else {
		log.Warn(message, fields...)
	}

	response := ErrorResponse{Message: message}
	if err != nil {
		response.Error = err.Error()
	}
	c.AbortWithStatusJSON(status, response)
}

func badRequest(c *gin.Context, log logger.Logger, message string, err error) {
	if err == nil {
		err = validator.ErrInvalid
	}
	handleError(c, log, message, errors.Join(validator.ErrInvalid, err))
}
