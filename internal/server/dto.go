package server

import (
	"taskpilot/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	ID               *string  `json:"id,omitempty"`
	ClientID         *string  `json:"client_id,omitempty"`
	ParentID         *string  `json:"parent_id,omitempty"`
	Title            string   `json:"title"`
	Description      *string  `json:"description,omitempty"`
	Priority         *string  `json:"priority,omitempty" enum:"low,medium,high,urgent"`
	Tag              *string  `json:"tag,omitempty"`
	AssigneeIDs      []string `json:"assignee_ids,omitempty"`
	DueDate          *string  `json:"due_date,omitempty"`
	EstimatedMinutes *int     `json:"estimated_minutes,omitempty"`
}

type SetTaskStatusRequest struct {
	Status string `json:"status" enum:"pending,in_progress,completed,cancelled"`
}

type LogTimeRequest struct {
	DurationMinutes int     `json:"duration_minutes" minimum:"1"`
	Description     *string `json:"description,omitempty"`
}

type FireEventRequest struct {
	Event    string         `json:"event" enum:"task_completed,task_overdue,status_changed,time_tracked,due_date_approaching"`
	Metadata map[string]any `json:"metadata,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type RuleActionRequest struct {
	Type       string         `json:"type"`
	Parameters map[string]any `json:"parameters,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type RuleRequest struct {
	Name        string              `json:"name"`
	Description *string             `json:"description,omitempty"`
	Trigger     string              `json:"trigger" enum:"task_completed,task_overdue,status_changed,time_tracked,due_date_approaching"`
	Conditions  map[string]any      `json:"conditions,omitempty" jsonschema:"type=object,additionalProperties=true"`
	Actions     []RuleActionRequest `json:"actions"`
	IsActive    *bool               `json:"is_active,omitempty"`
}

type TestRuleRequest struct {
	TaskID string `json:"task_id"`
}

// Response payloads

type RuleResponse struct {
	Rule     domain.AutomationRule `json:"rule"`
	Warnings []string              `json:"warnings,omitempty"`
}

type ExecutionListResponse struct {
	Executions []domain.ExecutionRecord `json:"executions"`
}

type EventResponse struct {
	Records []domain.ExecutionRecord `json:"records"`
}

type TaskWithRecordsResponse struct {
	Task    domain.Task              `json:"task"`
	Records []domain.ExecutionRecord `json:"records,omitempty"`
}

func (r RuleRequest) toDomain(userID string) domain.AutomationRule {
	rule := domain.AutomationRule{
		UserID:     userID,
		Name:       r.Name,
		Trigger:    r.Trigger,
		Conditions: r.Conditions,
		IsActive:   true,
	}
	if r.Description != nil {
		rule.Description = *r.Description
	}
	if r.IsActive != nil {
		rule.IsActive = *r.IsActive
	}
	for _, a := range r.Actions {
		rule.Actions = append(rule.Actions, domain.Action{Type: a.Type, Parameters: a.Parameters})
	}
	return rule
}
