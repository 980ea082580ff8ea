package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/service"
)

// JobsHandler lets the operator trigger one batch driver on demand and see
// its per-lead report, instead of waiting for the next timer tick.
type JobsHandler struct {
	orch   *service.Orchestrator
	logger *zap.Logger
}

func NewJobsHandler(orch *service.Orchestrator, logger *zap.Logger) *JobsHandler {
	return &JobsHandler{orch: orch, logger: logger}
}

// RunJob executes the named driver synchronously.
// POST /jobs/:name/run
func (h *JobsHandler) RunJob(c *gin.Context) {
	name := c.Param("name")
	ctx := c.Request.Context()

	var report service.BatchReport
	switch name {
	case "enrich":
		report = h.orch.EnrichCollectedLeads(ctx)
	case "send-initial":
		report = h.orch.SendInitialEmails(ctx)
	case "send-followups":
		report = h.orch.SendFollowups(ctx)
	case "check-replies":
		report = h.orch.CheckReplies(ctx)
	case "close-stale":
		report = h.orch.CloseStaleLeads(ctx)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job", "name": name})
		return
	}

	h.logger.Info("Job triggered manually", zap.String("job", name))
	c.JSON(http.StatusOK, report)
}
