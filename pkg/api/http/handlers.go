package http

import (
	"errors"
	"net/http"

	"github.com/aescanero/chatd/pkg/domain"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// handleHealth reports the latest backend probe
func (s *Server) handleHealth(c *gin.Context) {
	status := s.health.GetStatus()

	checks := gin.H{"backend": "ok"}
	code := http.StatusOK
	state := "healthy"
	if !status.Healthy {
		code = http.StatusServiceUnavailable
		state = "unhealthy"
		checks["backend"] = status.Error
		if status.Error == "" {
			checks["backend"] = "not checked yet"
		}
	}

	c.JSON(code, gin.H{
		"status":    state,
		"timestamp": status.Timestamp,
		"checks":    checks,
	})
}

// handleChat handles chat completion requests
func (s *Server) handleChat(c *gin.Context) {
	req := domain.NewChatRequest(s.defaultMaxTokens, s.defaultTemperature)
	if err := c.ShouldBindJSON(req); err != nil {
		s.logger.Info("invalid chat request body", zap.Error(err))
		detail := ErrorDetail{
			Code:    "INVALID_REQUEST",
			Message: err.Error(),
		}
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			detail.Details = gin.H{"field": ve.Field}
		}
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: detail})
		return
	}

	resp, err := s.chat.Complete(c.Request.Context(), req)
	if err != nil {
		var ve *domain.ValidationError
		if errors.As(err, &ve) {
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Error: ErrorDetail{
					Code:    "INVALID_REQUEST",
					Message: ve.Error(),
					Details: gin.H{"field": ve.Field},
				},
			})
			return
		}

		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "GENERATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, resp)
}
