package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/confops/confops/pkg/apiserver/middleware"
	"github.com/confops/confops/pkg/engine"
	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/store/postgres"
)

const timeRFC3339Nano = time.RFC3339Nano

func parseLimit(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func parseOffset(value string) int {
	if value == "" {
		return 0
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0
	}
	return parsed
}

func parseID(value string) (uint, bool) {
	parsed, err := strconv.ParseUint(value, 10, 32)
	if err != nil || parsed == 0 {
		return 0, false
	}
	return uint(parsed), true
}

func formatTime(value *time.Time) *string {
	if value == nil {
		return nil
	}
	formatted := value.UTC().Format(timeRFC3339Nano)
	return &formatted
}

// principalFrom returns the authenticated actor. Bodies that carry a user id
// may override the actor id in dev mode only; a token-verified identity
// always wins, so members cannot act as someone else.
func principalFrom(c *gin.Context, bodyUserID string) engine.Principal {
	principal := engine.Principal{Role: engine.RoleMember}
	if value, ok := c.Get(middleware.PrincipalKey); ok {
		if p, ok := value.(engine.Principal); ok {
			principal = p
		}
	}
	if bodyUserID != "" && !c.GetBool(middleware.PrincipalVerifiedKey) {
		principal.ID = bodyUserID
	}
	return principal
}

// workflowExists enforces the 404 contract on workflow-scoped collection
// endpoints. When the workflow is missing (or the lookup fails) it writes the
// response itself and returns false.
func workflowExists(c *gin.Context, db *postgres.Store, logger *zap.Logger, workflowID uint) bool {
	var workflow model.ApprovalWorkflow
	if err := db.DB().WithContext(c.Request.Context()).First(&workflow, workflowID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"error": "workflow not found"})
			return false
		}
		logger.Error("failed to load workflow", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load workflow"})
		return false
	}
	return true
}

// respondError maps the engine error taxonomy onto the HTTP surface.
// Unexpected failures are logged with full context and surfaced as a generic
// 500 body.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	var validation *engine.ValidationError
	var missing *engine.NotFoundError
	var transition *engine.InvalidTransitionError
	var forbidden *engine.PermissionError

	switch {
	case errors.As(err, &validation):
		c.JSON(http.StatusBadRequest, gin.H{"error": validation.Error()})
	case errors.As(err, &missing):
		c.JSON(http.StatusNotFound, gin.H{"error": missing.Error()})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, gin.H{"error": transition.Error()})
	case errors.As(err, &forbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": forbidden.Error()})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
