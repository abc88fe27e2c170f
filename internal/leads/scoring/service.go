// Package scoring derives a 0-100 qualification score and tier for a lead
// from deterministic factors. The score feeds the stage-machine guards, so
// changing weights changes which leads auto-promote to HOT_ENGAGED.
package scoring

import (
	"context"
	"math"
	"strings"
	"time"

	"leadflow_backend/internal/leads/domain"
	"leadflow_backend/internal/leads/repository"
)

const (
	// scoreVersion tracks the scoring model for debugging and analysis.
	// Bump this when changing scoring logic significantly.
	scoreVersion = "2026-v1"

	// Leads start at 50 and factors add/subtract from this.
	baseScore = 50.0

	maxContactContribution      = 20.0 // completeness of contact data
	maxFirmographicContribution = 15.0 // company presence, source quality
	maxEngagementContribution   = 25.0 // replies, meetings held
	maxRecencyContribution      = 10.0 // newer leads score higher
)

// sourceQuality weights lead sources by historical conversion.
var sourceQuality = map[string]float64{
	"referral":  1.0,
	"webinar":   0.8,
	"website":   0.6,
	"import":    0.3,
	"cold_list": 0.1,
}

// Input is everything the scorer looks at. Engagement aggregates are read
// fresh by the caller; the scorer itself does no I/O.
type Input struct {
	Lead         repository.Lead
	InboundCount int
	MeetingsHeld int
	NoShowCount  int
}

// Result is the scoring outcome.
type Result struct {
	TotalScore int
	Category   string
	Breakdown  map[string]float64
	Version    string
}

// Service computes lead scores.
type Service struct{}

// New creates a scoring service.
func New() *Service {
	return &Service{}
}

// Score computes the lead's qualification score and derived category.
func (s *Service) Score(_ context.Context, in Input) Result {
	breakdown := map[string]float64{
		"contact":      s.contactFactor(in.Lead) * maxContactContribution,
		"firmographic": s.firmographicFactor(in.Lead) * maxFirmographicContribution,
		"engagement":   s.engagementFactor(in) * maxEngagementContribution,
		"recency":      s.recencyFactor(in.Lead) * maxRecencyContribution,
	}

	total := baseScore
	for _, v := range breakdown {
		total += v
	}

	score := int(math.Round(math.Max(0, math.Min(100, total))))

	return Result{
		TotalScore: score,
		Category:   domain.DeriveCategory(score),
		Breakdown:  breakdown,
		Version:    scoreVersion,
	}
}

// contactFactor rewards complete, reachable contact data. Range [-1, 1].
func (s *Service) contactFactor(lead repository.Lead) float64 {
	factor := -0.5
	if strings.TrimSpace(lead.Email) != "" {
		factor += 0.75
	}
	if strings.TrimSpace(lead.Phone) != "" {
		factor += 0.5
	}
	if strings.TrimSpace(lead.FirstName) != "" && strings.TrimSpace(lead.LastName) != "" {
		factor += 0.25
	}
	return clamp(factor)
}

// firmographicFactor rewards a named company and a high-quality source.
func (s *Service) firmographicFactor(lead repository.Lead) float64 {
	factor := 0.0
	if strings.TrimSpace(lead.Company) != "" {
		factor += 0.5
	}
	if quality, ok := sourceQuality[strings.ToLower(lead.Source)]; ok {
		factor += quality - 0.5
	}
	return clamp(factor)
}

// engagementFactor rewards replies and held meetings, penalizes no-shows.
func (s *Service) engagementFactor(in Input) float64 {
	factor := 0.0
	factor += math.Min(float64(in.InboundCount)*0.4, 0.8)
	factor += math.Min(float64(in.MeetingsHeld)*0.5, 1.0)
	factor -= math.Min(float64(in.NoShowCount)*0.4, 0.8)
	return clamp(factor)
}

// recencyFactor decays linearly over 30 days.
func (s *Service) recencyFactor(lead repository.Lead) float64 {
	age := time.Since(lead.CreatedAt)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return clamp(1.0 - days/30.0)
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}
