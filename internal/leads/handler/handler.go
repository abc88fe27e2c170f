// Package handler exposes the lead pipeline over HTTP.
package handler

import (
	"context"
	"errors"
	"net/http"

	"leadflow_backend/internal/leads/agent"
	"leadflow_backend/internal/leads/service"
	"leadflow_backend/internal/leads/transport"
	"leadflow_backend/platform/httpkit"
	"leadflow_backend/platform/validator"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	msgInvalidRequest   = "invalid request"
	msgValidationFailed = "validation failed"
)

// Scan runs one full pass of a periodic scanner.
type Scan interface {
	RunOnce(ctx context.Context) error
}

type Handler struct {
	svc        *service.Service
	registry   *agent.Registry
	staleScan  Scan
	noShowScan Scan
	validate   *validator.Validator
}

func New(svc *service.Service, registry *agent.Registry, staleScan, noShowScan Scan, validate *validator.Validator) *Handler {
	return &Handler{
		svc:        svc,
		registry:   registry,
		staleScan:  staleScan,
		noShowScan: noShowScan,
		validate:   validate,
	}
}

// RegisterRoutes mounts the authenticated lead routes.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("", h.List)
	rg.POST("", h.Create)
	rg.GET("/:id", h.GetByID)
	rg.POST("/:id/process", h.TriggerStep)
	rg.POST("/:id/capabilities/:name", h.ExecuteCapability)
	rg.POST("/:id/meetings", h.ScheduleMeeting)
	rg.GET("/:id/escalations", h.ListEscalations)
}

// RegisterMeetingRoutes mounts meeting resolution.
func (h *Handler) RegisterMeetingRoutes(rg *gin.RouterGroup) {
	rg.POST("/:id/outcome", h.RecordMeetingOutcome)
}

// RegisterScanRoutes mounts manual scan triggers for operators.
func (h *Handler) RegisterScanRoutes(rg *gin.RouterGroup) {
	rg.POST("/stale", h.RunStaleScan)
	rg.POST("/no-show", h.RunNoShowScan)
}

// RegisterWebhookRoutes mounts the unauthenticated inbound surface.
func (h *Handler) RegisterWebhookRoutes(rg *gin.RouterGroup) {
	rg.POST("/inbound-message", h.InboundMessage)
}

func (h *Handler) Create(c *gin.Context) {
	var req transport.CreateLeadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.CreateLead(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, transport.ToLeadResponse(lead))
}

func (h *Handler) List(c *gin.Context) {
	var query transport.ListLeadsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	resp, err := h.svc.ListLeads(c.Request.Context(), query)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, resp)
}

func (h *Handler) GetByID(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	detail, err := h.svc.GetLeadDetail(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, detail)
}

func (h *Handler) TriggerStep(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.ProcessStepRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if httpkit.HandleError(c, h.svc.TriggerStep(c.Request.Context(), id, req.Step)) {
		return
	}

	httpkit.JSON(c, http.StatusAccepted, gin.H{"status": "queued", "step": req.Step})
}

func (h *Handler) ExecuteCapability(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.ExecuteCapabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	result, err := h.registry.Execute(c.Request.Context(), c.Param("name"), req.Input, agent.Context{
		LeadID: id,
		Manual: true,
	})
	if err != nil {
		var unknown *agent.UnknownCapabilityError
		if errors.As(err, &unknown) {
			httpkit.Error(c, http.StatusNotFound, unknown.Error(), nil)
			return
		}
		httpkit.HandleError(c, err)
		return
	}

	httpkit.OK(c, result)
}

func (h *Handler) ScheduleMeeting(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.CreateMeetingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	meeting, err := h.svc.ScheduleMeeting(c.Request.Context(), id, req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.JSON(c, http.StatusCreated, meeting)
}

func (h *Handler) RecordMeetingOutcome(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	var req transport.MeetingOutcomeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	if httpkit.HandleError(c, h.svc.RecordMeetingOutcome(c.Request.Context(), id, req.Outcome)) {
		return
	}

	httpkit.OK(c, gin.H{"status": "resolved", "outcome": req.Outcome})
}

func (h *Handler) ListEscalations(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}

	escalations, err := h.svc.ListEscalations(c.Request.Context(), id)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, escalations)
}

func (h *Handler) InboundMessage(c *gin.Context) {
	var req transport.InboundMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgInvalidRequest, nil)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpkit.Error(c, http.StatusBadRequest, msgValidationFailed, err.Error())
		return
	}

	lead, err := h.svc.RecordInboundMessage(c.Request.Context(), req)
	if httpkit.HandleError(c, err) {
		return
	}

	httpkit.OK(c, gin.H{"leadId": lead.ID})
}

func (h *Handler) RunStaleScan(c *gin.Context) {
	if httpkit.HandleError(c, h.staleScan.RunOnce(c.Request.Context())) {
		return
	}
	httpkit.OK(c, transport.ScanResponse{Status: "completed"})
}

func (h *Handler) RunNoShowScan(c *gin.Context) {
	if httpkit.HandleError(c, h.noShowScan.RunOnce(c.Request.Context())) {
		return
	}
	httpkit.OK(c, transport.ScanResponse{Status: "completed"})
}
