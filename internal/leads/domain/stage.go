// Package domain holds the pure pipeline rules for leads: the stage machine,
// categories, and no-show policy. Nothing in here touches I/O.
package domain

import "fmt"

const (
	StageNew              = "NEW"
	StageQualifying       = "QUALIFYING"
	StageHotEngaged       = "HOT_ENGAGED"
	StageWarmNurturing    = "WARM_NURTURING"
	StageColdArchived     = "COLD_ARCHIVED"
	StageMeetingScheduled = "MEETING_SCHEDULED"
	StageProposalSent     = "PROPOSAL_SENT"
	StageNegotiation      = "NEGOTIATION"
	StageClosedWon        = "CLOSED_WON"
	StageClosedLost       = "CLOSED_LOST"
	StageDisqualified     = "DISQUALIFIED"
)

// Category is the derived lead tier set by scoring.
const (
	CategoryHot  = "HOT_ENGAGED"
	CategoryWarm = "WARM_NURTURING"
	CategoryCold = "COLD"
)

// Score thresholds for category derivation and stage guards.
const (
	HotScoreThreshold  = 80
	WarmScoreThreshold = 50
	HighValueThreshold = 70
)

var knownStages = map[string]struct{}{
	StageNew:              {},
	StageQualifying:       {},
	StageHotEngaged:       {},
	StageWarmNurturing:    {},
	StageColdArchived:     {},
	StageMeetingScheduled: {},
	StageProposalSent:     {},
	StageNegotiation:      {},
	StageClosedWon:        {},
	StageClosedLost:       {},
	StageDisqualified:     {},
}

// IsKnownStage reports whether the value is one of the pipeline stages.
func IsKnownStage(stage string) bool {
	_, ok := knownStages[stage]
	return ok
}

var terminalStages = map[string]struct{}{
	StageColdArchived: {},
	StageClosedWon:    {},
	StageClosedLost:   {},
	StageDisqualified: {},
}

// IsTerminal reports whether automated processing must leave the lead alone.
// Humans can still revive a COLD_ARCHIVED lead through the manual edge.
func IsTerminal(stage string) bool {
	_, ok := terminalStages[stage]
	return ok
}

// DeriveCategory maps a score to the lead tier.
func DeriveCategory(score int) string {
	switch {
	case score >= HotScoreThreshold:
		return CategoryHot
	case score >= WarmScoreThreshold:
		return CategoryWarm
	default:
		return CategoryCold
	}
}

// LeadSnapshot is the minimal lead view guards evaluate against.
type LeadSnapshot struct {
	Score    int
	Stage    string
	Category string
}

// InvalidTransitionError is returned when a requested stage change has no
// matching edge in the transition table, its guard rejects the lead, or the
// lead moved concurrently. Automated callers skip on it; manual callers
// surface it.
type InvalidTransitionError struct {
	From   string
	To     string
	Reason string
}

func (e *InvalidTransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid stage transition %s -> %s: %s", e.From, e.To, e.Reason)
	}
	return fmt.Sprintf("invalid stage transition %s -> %s", e.From, e.To)
}

// transitionRule is one edge set in the static transition table.
type transitionRule struct {
	from  []string
	to    string
	guard func(LeadSnapshot) bool
}

func scoreAtLeast(min int) func(LeadSnapshot) bool {
	return func(l LeadSnapshot) bool { return l.Score >= min }
}

// transitionTable is the complete set of legal stage edges. Guards encode
// score-based branching; edges without a guard are unconditional.
var transitionTable = []transitionRule{
	{from: []string{StageNew}, to: StageQualifying},
	{from: []string{StageNew, StageQualifying}, to: StageDisqualified},

	{from: []string{StageQualifying, StageWarmNurturing}, to: StageHotEngaged, guard: scoreAtLeast(HotScoreThreshold)},
	{from: []string{StageQualifying}, to: StageWarmNurturing},
	{from: []string{StageNew, StageQualifying, StageHotEngaged, StageWarmNurturing}, to: StageColdArchived},

	{from: []string{StageHotEngaged, StageWarmNurturing}, to: StageMeetingScheduled},
	{from: []string{StageHotEngaged}, to: StageWarmNurturing},

	{from: []string{StageMeetingScheduled}, to: StageHotEngaged},
	{from: []string{StageMeetingScheduled}, to: StageWarmNurturing},
	{from: []string{StageMeetingScheduled}, to: StageColdArchived},
	{from: []string{StageMeetingScheduled}, to: StageProposalSent},

	{from: []string{StageProposalSent}, to: StageNegotiation},
	{from: []string{StageProposalSent, StageNegotiation}, to: StageClosedWon},
	{from: []string{StageProposalSent, StageNegotiation}, to: StageClosedLost},

	{from: []string{StageHotEngaged, StageWarmNurturing, StageMeetingScheduled, StageProposalSent, StageNegotiation}, to: StageDisqualified},

	// Manual revive edge. Automated flows never take it because archived
	// leads are terminal for scanners and pipeline steps.
	{from: []string{StageColdArchived}, to: StageQualifying},
}

// ValidateTransition checks the table and guards. It returns nil when some
// edge permits fromStage -> toStage for the given lead.
func ValidateTransition(lead LeadSnapshot, fromStage, toStage string) error {
	if !IsKnownStage(fromStage) || !IsKnownStage(toStage) {
		return &InvalidTransitionError{From: fromStage, To: toStage, Reason: "unknown stage"}
	}

	guardRejected := false
	for _, rule := range transitionTable {
		if rule.to != toStage {
			continue
		}
		for _, from := range rule.from {
			if from != fromStage {
				continue
			}
			if rule.guard == nil || rule.guard(lead) {
				return nil
			}
			guardRejected = true
		}
	}

	if guardRejected {
		return &InvalidTransitionError{From: fromStage, To: toStage, Reason: "guard rejected lead"}
	}
	return &InvalidTransitionError{From: fromStage, To: toStage, Reason: "no matching edge"}
}
