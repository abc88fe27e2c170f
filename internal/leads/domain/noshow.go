package domain

import "time"

// Meeting status values.
const (
	MeetingScheduled   = "scheduled"
	MeetingConfirmed   = "confirmed"
	MeetingCompleted   = "completed"
	MeetingNoShow      = "no_show"
	MeetingCancelled   = "cancelled"
	MeetingRescheduled = "rescheduled"
)

// No-show follow-up step names.
const (
	NoShowStepApology          = "apology"
	NoShowStepRepCall          = "rep_call"
	NoShowStepFormalReschedule = "formal_reschedule"
	NoShowStepFinalize         = "finalize"
)

// NoShowStrategy describes how to chase a lead after a missed meeting.
// Steps are enqueued all at once with their individual delays; each step
// re-checks meeting state at execution time.
type NoShowStrategy struct {
	Name     string
	Escalate bool
	Steps    []NoShowStep
}

// NoShowStep is one delayed follow-up task in a strategy.
type NoShowStep struct {
	Step  string
	Delay time.Duration
}

// SelectNoShowStrategy picks the recovery strategy from the lead's total
// no-show count (including the meeting being processed). The ladder gets
// progressively less demanding of the lead's time, and from the third miss
// on a human is pulled in.
func SelectNoShowStrategy(noShowCount int) NoShowStrategy {
	switch {
	case noShowCount <= 1:
		return NoShowStrategy{
			Name: "gentle_reminder",
			Steps: []NoShowStep{
				{Step: NoShowStepApology, Delay: 2 * time.Hour},
				{Step: NoShowStepFormalReschedule, Delay: 24 * time.Hour},
				{Step: NoShowStepFinalize, Delay: 72 * time.Hour},
			},
		}
	case noShowCount == 2:
		return NoShowStrategy{
			Name: "shorter_meeting",
			Steps: []NoShowStep{
				{Step: NoShowStepApology, Delay: time.Hour},
				{Step: NoShowStepRepCall, Delay: 24 * time.Hour},
				{Step: NoShowStepFinalize, Delay: 48 * time.Hour},
			},
		}
	case noShowCount == 3:
		return NoShowStrategy{
			Name:     "async_option",
			Escalate: true,
			Steps: []NoShowStep{
				{Step: NoShowStepApology, Delay: time.Hour},
				{Step: NoShowStepFinalize, Delay: 24 * time.Hour},
			},
		}
	default:
		return NoShowStrategy{
			Name:     "deprioritize",
			Escalate: true,
			Steps: []NoShowStep{
				{Step: NoShowStepFinalize, Delay: time.Hour},
			},
		}
	}
}

// NoShowFinalizeOutcome is the derived result of finalizing a no-show
// sequence for a lead.
type NoShowFinalizeOutcome struct {
	NewScore    int
	TargetStage string
	Escalate    bool
}

// FinalizeNoShow applies the deterministic score penalty and derives the
// target stage. High-value leads (score >= 70 after penalty, or already
// HOT_ENGAGED) are parked in WARM_NURTURING instead of being demoted, and
// raise an escalation for human review. Low-value leads (score < 50) go to
// COLD_ARCHIVED. Everyone else lands in WARM_NURTURING.
func FinalizeNoShow(lead LeadSnapshot, penalty int) NoShowFinalizeOutcome {
	newScore := lead.Score - penalty
	if newScore < 0 {
		newScore = 0
	}

	isHigh := newScore >= HighValueThreshold || lead.Stage == StageHotEngaged || lead.Category == CategoryHot
	if isHigh {
		return NoShowFinalizeOutcome{NewScore: newScore, TargetStage: StageWarmNurturing, Escalate: true}
	}

	if newScore < WarmScoreThreshold {
		return NoShowFinalizeOutcome{NewScore: newScore, TargetStage: StageColdArchived}
	}

	return NoShowFinalizeOutcome{NewScore: newScore, TargetStage: StageWarmNurturing}
}
