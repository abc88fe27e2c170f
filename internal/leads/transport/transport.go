// Package transport defines the request and response shapes of the leads
// HTTP API.
package transport

import (
	"time"

	"leadflow_backend/internal/leads/repository"

	"github.com/google/uuid"
)

type CreateLeadRequest struct {
	FirstName string `json:"firstName" validate:"max=100"`
	LastName  string `json:"lastName" validate:"max=100"`
	Email     string `json:"email" validate:"required,email"`
	Phone     string `json:"phone" validate:"max=32"`
	Company   string `json:"company" validate:"max=200"`
	Source    string `json:"source" validate:"max=50"`
}

type LeadResponse struct {
	ID        uuid.UUID `json:"id"`
	FirstName string    `json:"firstName"`
	LastName  string    `json:"lastName"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone"`
	Company   string    `json:"company"`
	Source    string    `json:"source"`
	Score     int       `json:"score"`
	Stage     string    `json:"stage"`
	Category  string    `json:"category"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func ToLeadResponse(lead *repository.Lead) LeadResponse {
	return LeadResponse{
		ID:        lead.ID,
		FirstName: lead.FirstName,
		LastName:  lead.LastName,
		Email:     lead.Email,
		Phone:     lead.Phone,
		Company:   lead.Company,
		Source:    lead.Source,
		Score:     lead.Score,
		Stage:     lead.Stage,
		Category:  lead.Category,
		CreatedAt: lead.CreatedAt,
		UpdatedAt: lead.UpdatedAt,
	}
}

type LeadDetailResponse struct {
	LeadResponse
	StageHistory   []repository.StageHistoryEntry `json:"stageHistory"`
	Activities     []repository.Activity          `json:"activities"`
	Meetings       []repository.Meeting           `json:"meetings"`
	Communications []repository.Communication     `json:"communications"`
}

type ListLeadsQuery struct {
	Stage    string `form:"stage"`
	Page     int    `form:"page"`
	PageSize int    `form:"pageSize"`
}

type ListLeadsResponse struct {
	Leads []LeadResponse `json:"leads"`
	Total int            `json:"total"`
}

type ProcessStepRequest struct {
	Step string `json:"step" validate:"required,oneof=qualification enrichment follow_up"`
}

type ExecuteCapabilityRequest struct {
	Input map[string]any `json:"input"`
}

type CreateMeetingRequest struct {
	Title     string    `json:"title" validate:"required,max=200"`
	StartTime time.Time `json:"startTime" validate:"required"`
	EndTime   time.Time `json:"endTime" validate:"required"`
}

type MeetingOutcomeRequest struct {
	Outcome string `json:"outcome" validate:"required,oneof=completed cancelled rescheduled no_show"`
}

type InboundMessageRequest struct {
	Email   string `json:"email" validate:"required,email"`
	Subject string `json:"subject" validate:"max=500"`
	Body    string `json:"body" validate:"required"`
}

type ScanResponse struct {
	Status string `json:"status"`
}
