package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/zaihebian/LeadGenNewVersion/internal/model"
	"github.com/zaihebian/LeadGenNewVersion/internal/repository"
	"github.com/zaihebian/LeadGenNewVersion/internal/service"
	"github.com/zaihebian/LeadGenNewVersion/pkg/logger"
)

type LeadHandler struct {
	orch      *service.Orchestrator
	leadRepo  *repository.LeadRepository
	campaigns *repository.CampaignRepository
	threads   *repository.ThreadRepository
	logger    *zap.Logger
}

func NewLeadHandler(
	orch *service.Orchestrator,
	leadRepo *repository.LeadRepository,
	campaigns *repository.CampaignRepository,
	threads *repository.ThreadRepository,
	logger *zap.Logger,
) *LeadHandler {
	return &LeadHandler{
		orch:      orch,
		leadRepo:  leadRepo,
		campaigns: campaigns,
		threads:   threads,
		logger:    logger,
	}
}

func leadID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid lead id"})
		return 0, false
	}
	return id, true
}

// GetLeadStatus returns the lead, its lifecycle summary and its threads.
// GET /leads/:id
func (h *LeadHandler) GetLeadStatus(c *gin.Context) {
	id, ok := leadID(c)
	if !ok {
		return
	}

	lead, summary, err := h.orch.LeadSummary(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lead not found"})
			return
		}
		logger.WithTrace(c.Request.Context(), h.logger).Error("Failed to load lead", zap.Int64("lead_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load lead"})
		return
	}

	threads, err := h.threads.ListByLead(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("Failed to load threads", zap.Int64("lead_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load threads"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"lead":    lead,
		"status":  summary,
		"threads": threads,
	})
}

type ingestLeadRequest struct {
	CampaignID  int64  `json:"campaign_id" binding:"required"`
	FirstName   string `json:"first_name" binding:"required"`
	LastName    string `json:"last_name"`
	Email       string `json:"email" binding:"required,email"`
	ProfileURL  string `json:"profile_url"`
	JobTitle    string `json:"job_title"`
	CompanyName string `json:"company_name"`
	Industry    string `json:"industry"`
}

// IngestLead creates one lead in COLLECTED.
// POST /leads
func (h *LeadHandler) IngestLead(c *gin.Context) {
	var req ingestLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	id, err := h.leadRepo.Create(c.Request.Context(), model.LeadCreateParams{
		CampaignID:  req.CampaignID,
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		Email:       req.Email,
		ProfileURL:  req.ProfileURL,
		JobTitle:    req.JobTitle,
		CompanyName: req.CompanyName,
		Industry:    req.Industry,
	})
	if err != nil {
		h.logger.Error("Failed to ingest lead", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create lead"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"lead_id": id, "state": model.StateCollected})
}

// SendNow triggers a manual send for one lead. Guard and rate-limit refusals
// come back as 409 with the human-readable reason.
// POST /leads/:id/send
func (h *LeadHandler) SendNow(c *gin.Context) {
	id, ok := leadID(c)
	if !ok {
		return
	}

	result, err := h.orch.SendManual(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrLeadNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "lead not found"})
			return
		}
		logger.WithTrace(c.Request.Context(), h.logger).Error("Manual send failed", zap.Int64("lead_id", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "send failed", "details": err.Error()})
		return
	}

	if result.Action == "blocked" || result.Action == "rate_limited" {
		c.JSON(http.StatusConflict, gin.H{"action": result.Action, "reason": result.Error})
		return
	}

	c.JSON(http.StatusOK, gin.H{"action": result.Action, "lead_id": result.LeadID})
}

type createCampaignRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateCampaign registers a new campaign.
// POST /campaigns
func (h *LeadHandler) CreateCampaign(c *gin.Context) {
	var req createCampaignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	id, err := h.campaigns.Create(c.Request.Context(), req.Name)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create campaign"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"campaign_id": id})
}

// ListCampaigns returns all campaigns with their counters.
// GET /campaigns
func (h *LeadHandler) ListCampaigns(c *gin.Context) {
	campaigns, err := h.campaigns.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list campaigns"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"campaigns": campaigns})
}

// GetStats returns the pipeline and rate-limiter snapshot.
// GET /stats
func (h *LeadHandler) GetStats(c *gin.Context) {
	counts, err := h.orch.PipelineCounts(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to count pipeline", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"pipeline":   counts,
		"send_limit": h.orch.RateStats(),
	})
}
