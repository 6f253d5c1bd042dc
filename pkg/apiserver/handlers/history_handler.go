package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/confops/confops/pkg/model"
	"github.com/confops/confops/pkg/store/postgres"
)

type HistoryHandler struct {
	db     *postgres.Store
	logger *zap.Logger
}

func NewHistoryHandler(db *postgres.Store, logger *zap.Logger) *HistoryHandler {
	return &HistoryHandler{db: db, logger: logger}
}

type historyResponse struct {
	ID          uint   `json:"id"`
	WorkflowID  uint   `json:"workflowId"`
	Action      string `json:"action"`
	PerformedBy string `json:"performedBy"`
	Details     string `json:"details,omitempty"`
	PerformedAt string `json:"performedAt"`
}

func (h *HistoryHandler) ListByWorkflow(c *gin.Context) {
	workflowID, ok := parseID(c.Param("workflowId"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid workflow id"})
		return
	}

	if !workflowExists(c, h.db, h.logger, workflowID) {
		return
	}

	entries, err := postgres.NewHistoryRepository(h.db.DB()).ListByWorkflow(c.Request.Context(), workflowID)
	if err != nil {
		h.logger.Error("failed to list history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list history"})
		return
	}

	response := make([]historyResponse, 0, len(entries))
	for i := range entries {
		response = append(response, mapHistory(&entries[i]))
	}

	c.JSON(http.StatusOK, response)
}

func mapHistory(entry *model.WorkflowHistory) historyResponse {
	return historyResponse{
		ID:          entry.ID,
		WorkflowID:  entry.WorkflowID,
		Action:      entry.Action,
		PerformedBy: entry.PerformedBy,
		Details:     entry.Details,
		PerformedAt: entry.PerformedAt.UTC().Format(timeRFC3339Nano),
	}
}
