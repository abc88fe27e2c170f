package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const TaskNewLeadPipeline = "lead.pipeline.new"

const TaskProcessLead = "lead.process"

const TaskNoShowFollowUp = "lead.noshow.followup"

const TaskCapabilityHandoff = "agent.handoff"

type NewLeadPipelinePayload struct {
	LeadID string `json:"leadId"`
}

type ProcessLeadPayload struct {
	LeadID string `json:"leadId"`
	Step   string `json:"step"`
}

type NoShowFollowUpPayload struct {
	LeadID    string `json:"leadId"`
	MeetingID string `json:"meetingId"`
	Step      string `json:"step"`
}

type CapabilityHandoffPayload struct {
	LeadID     string         `json:"leadId"`
	Capability string         `json:"capability"`
	Input      map[string]any `json:"input,omitempty"`
}

func NewNewLeadPipelineTask(payload NewLeadPipelinePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNewLeadPipeline, data), nil
}

func ParseNewLeadPipelinePayload(task *asynq.Task) (NewLeadPipelinePayload, error) {
	var payload NewLeadPipelinePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NewLeadPipelinePayload{}, err
	}
	return payload, nil
}

func NewProcessLeadTask(payload ProcessLeadPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProcessLead, data), nil
}

func ParseProcessLeadPayload(task *asynq.Task) (ProcessLeadPayload, error) {
	var payload ProcessLeadPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return ProcessLeadPayload{}, err
	}
	return payload, nil
}

func NewNoShowFollowUpTask(payload NoShowFollowUpPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNoShowFollowUp, data), nil
}

func ParseNoShowFollowUpPayload(task *asynq.Task) (NoShowFollowUpPayload, error) {
	var payload NoShowFollowUpPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return NoShowFollowUpPayload{}, err
	}
	return payload, nil
}

func NewCapabilityHandoffTask(payload CapabilityHandoffPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskCapabilityHandoff, data), nil
}

func ParseCapabilityHandoffPayload(task *asynq.Task) (CapabilityHandoffPayload, error) {
	var payload CapabilityHandoffPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return CapabilityHandoffPayload{}, err
	}
	return payload, nil
}
