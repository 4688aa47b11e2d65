package handler

import (
	"net/http"

	"github.com/claimflow/backend/internal/infrastructure/logger"
	"github.com/claimflow/backend/internal/interfaces/http/dto"
	"github.com/claimflow/backend/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// HandleError maps err onto a status code and error body. Server side
// failures are logged with the request logger.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	status := dto.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		logger.GetGinLogger(c).Error("request failed", zap.Int("status", status), zap.Error(err))
	}
	_ = c.Error(err)
	c.JSON(status, dto.ErrorResponse(err, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 response
func (h *BaseHandler) BadRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, dto.NewErrorResponse(code, "", message, middleware.GetRequestID(c)))
}

// bindClaimID parses the :id path parameter, writing a 400 on failure
func (h *BaseHandler) bindClaimID(c *gin.Context) (uuid.UUID, bool) {
	var req dto.IDRequest
	if err := c.ShouldBindUri(&req); err != nil {
		middleware.HandleValidationError(c, err)
		return uuid.Nil, false
	}
	return uuid.MustParse(req.ID), true
}
