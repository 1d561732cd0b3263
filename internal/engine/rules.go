package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"taskpilot/internal/domain"
)

// RuleValidationError carries the validator's full report when a rule
// definition is rejected at authoring time.
type RuleValidationError struct {
	Result ValidationResult
}

func (e RuleValidationError) Error() string {
	return "invalid rule: " + strings.Join(e.Result.Errors, "; ")
}

// CreateRule validates and persists a new automation rule. Validator errors
// reject the rule wholesale; warnings are returned on the stored rule's
// behalf through the validation report in the error-free path.
func (e Engine) CreateRule(ctx context.Context, rule domain.AutomationRule) (domain.AutomationRule, ValidationResult, error) {
	if rule.UserID == "" {
		return domain.AutomationRule{}, ValidationResult{}, fmt.Errorf("user is required")
	}
	res := Validate(rule)
	if !res.IsValid {
		return domain.AutomationRule{}, res, RuleValidationError{Result: res}
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	now := e.now().UTC().Format(time.RFC3339)
	rule.CreatedAt = now
	rule.UpdatedAt = now
	rule.ExecutionCount = 0
	rule.LastExecuted = nil
	if err := e.Repo.InsertRule(ctx, rule); err != nil {
		return domain.AutomationRule{}, res, err
	}
	return rule, res, nil
}

// UpdateRule validates and saves changes to an existing rule. Execution
// statistics are owned by the orchestrator and never touched here.
func (e Engine) UpdateRule(ctx context.Context, rule domain.AutomationRule) (domain.AutomationRule, ValidationResult, error) {
	existing, err := e.Repo.GetRule(ctx, rule.ID)
	if err != nil {
		return domain.AutomationRule{}, ValidationResult{}, err
	}
	rule.UserID = existing.UserID
	res := Validate(rule)
	if !res.IsValid {
		return domain.AutomationRule{}, res, RuleValidationError{Result: res}
	}
	rule.CreatedAt = existing.CreatedAt
	rule.ExecutionCount = existing.ExecutionCount
	rule.LastExecuted = existing.LastExecuted
	rule.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateRule(ctx, rule); err != nil {
		return domain.AutomationRule{}, res, err
	}
	return rule, res, nil
}
