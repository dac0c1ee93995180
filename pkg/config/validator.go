package config

import (
	"fmt"

	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// Validator performs structural validation over a loaded Config: no
// struct-tag validation library, a hand-rolled ValidateAll() walking each
// component, matching the teacher's own choice for its config package.
type Validator struct {
	cfg *Config
}

// NewValidator builds a Validator bound to cfg.
func NewValidator(cfg *Config) *Validator {
	return &Validator{cfg: cfg}
}

// ValidateAll validates every component of the configuration, returning the
// first failure encountered.
func (v *Validator) ValidateAll() error {
	if err := v.validateTopLevel(); err != nil {
		return err
	}
	if err := v.validateReactions("global", v.cfg.Reactions); err != nil {
		return err
	}
	if err := v.validateNotificationRouting(); err != nil {
		return err
	}
	for id, p := range v.cfg.Projects {
		if err := v.validateProject(id, p); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateTopLevel() error {
	if v.cfg.IntervalMs <= 0 {
		return NewValidationError("config", "-", "intervalMs", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	if v.cfg.PRScanEvery <= 0 {
		return NewValidationError("config", "-", "prScanEvery", fmt.Errorf("%w: must be positive", ErrInvalidValue))
	}
	return nil
}

func (v *Validator) validateNotificationRouting() error {
	for priority := range v.cfg.NotificationRouting {
		if !validPriority(priority) {
			return NewValidationError("notificationRouting", string(priority), "", fmt.Errorf("%w: unknown priority %q", ErrInvalidValue, priority))
		}
	}
	return nil
}

func (v *Validator) validateReactions(component string, reactions map[model.ReactionKey]model.ReactionConfig) error {
	for key, cfg := range reactions {
		if err := v.validateReaction(component, key, cfg); err != nil {
			return err
		}
	}
	return nil
}

func (v *Validator) validateReaction(component string, key model.ReactionKey, cfg model.ReactionConfig) error {
	if !validAction(cfg.Action) {
		return NewValidationError(component, string(key), "action", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Action))
	}
	if cfg.HasRetries && cfg.Retries < 0 {
		return NewValidationError(component, string(key), "retries", fmt.Errorf("%w: must be >= 0", ErrInvalidValue))
	}
	if cfg.Priority != "" && !validPriority(cfg.Priority) {
		return NewValidationError(component, string(key), "priority", fmt.Errorf("%w: %q", ErrInvalidValue, cfg.Priority))
	}
	switch cfg.Action {
	case model.ActionSendToAgent, model.ActionNotify:
		if cfg.Message == "" {
			return NewValidationError(component, string(key), "message", fmt.Errorf("%w", ErrMissingRequiredField))
		}
	case model.ActionSpawnReviewer, model.ActionSpawnAgent:
		if cfg.Script == "" {
			return NewValidationError(component, string(key), "script", fmt.Errorf("%w", ErrMissingRequiredField))
		}
	}
	return nil
}

func (v *Validator) validateProject(id string, p Project) error {
	if p.Repo == "" {
		return NewValidationError("project", id, "repo", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if p.Path == "" {
		return NewValidationError("project", id, "path", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	if err := v.validateReactions(fmt.Sprintf("project %s", id), p.Reactions); err != nil {
		return err
	}
	if p.Automation.MergeGate.Enabled && !validMergeMethod(p.Automation.MergeGate.Method) {
		return NewValidationError("project", id, "automation.mergeGate.method", fmt.Errorf("%w: %q", ErrInvalidValue, p.Automation.MergeGate.Method))
	}
	if p.Automation.QueuePickup.Enabled && p.Automation.QueuePickup.PickupStateName == "" {
		return NewValidationError("project", id, "automation.queuePickup.pickupStateName", fmt.Errorf("%w", ErrMissingRequiredField))
	}
	return nil
}

func validPriority(p model.EventPriority) bool {
	switch p {
	case model.PriorityUrgent, model.PriorityAction, model.PriorityWarning, model.PriorityInfo:
		return true
	}
	return false
}

func validAction(a model.ReactionAction) bool {
	switch a {
	case model.ActionNotify, model.ActionSendToAgent, model.ActionAutoMerge, model.ActionSpawnReviewer,
		model.ActionSpawnAgent, model.ActionCompleteTrackerIssue, model.ActionUpdateTrackerProgress:
		return true
	}
	return false
}

func validMergeMethod(m plugin.MergeMethod) bool {
	switch m {
	case plugin.MergeMerge, plugin.MergeSquash, plugin.MergeRebase:
		return true
	}
	return false
}
