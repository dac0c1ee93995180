package config

import (
	"fmt"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// convertReaction turns one parsed reactionYAML into a model.ReactionConfig,
// resolving the `escalateAfter: int|duration-string` tagged union and the
// `cooldown` duration string via clock.ParseDuration (§9's \d+(s|m|h) grammar).
func convertReaction(key string, y reactionYAML) (model.ReactionConfig, error) {
	cfg := model.ReactionConfig{
		Auto:    y.Auto,
		Action:  model.ReactionAction(y.Action),
		Message: y.Message,
		Script:  y.Script,
	}

	if y.Retries != nil {
		cfg.Retries = *y.Retries
		cfg.HasRetries = true
	}

	if y.EscalateAfter != nil {
		ea, err := convertEscalateAfter(y.EscalateAfter)
		if err != nil {
			return cfg, fmt.Errorf("reaction %q: escalateAfter: %w", key, err)
		}
		cfg.EscalateAfter = ea
	}

	if y.Cooldown != "" {
		// An unparseable cooldown leaves HasCooldown false: no cooldown applies.
		if d, ok := clock.ParseDuration(y.Cooldown); ok {
			cfg.Cooldown = d
			cfg.HasCooldown = true
		}
	}

	if y.Priority != "" {
		cfg.Priority = model.EventPriority(y.Priority)
	}

	if y.Filter != nil {
		cfg.Filter = &model.ReviewFilter{Labels: y.Filter.Labels, Authors: y.Filter.Authors}
	}

	return cfg, nil
}

// convertEscalateAfter accepts either a YAML integer (attempt count) or a
// YAML string matching the duration grammar. A string outside that grammar
// yields an unset EscalateAfter, which disables time-based escalation.
func convertEscalateAfter(v any) (model.EscalateAfter, error) {
	switch t := v.(type) {
	case int:
		return model.NewEscalateAfterCount(t), nil
	case int64:
		return model.NewEscalateAfterCount(int(t)), nil
	case string:
		d, ok := clock.ParseDuration(t)
		if !ok {
			return model.EscalateAfter{}, nil
		}
		return model.NewEscalateAfterDuration(d), nil
	default:
		return model.EscalateAfter{}, fmt.Errorf("%w: must be an attempt count or a duration string", ErrInvalidValue)
	}
}

func convertReactionMap(m map[string]reactionYAML) (map[model.ReactionKey]model.ReactionConfig, error) {
	out := make(map[model.ReactionKey]model.ReactionConfig, len(m))
	for k, y := range m {
		cfg, err := convertReaction(k, y)
		if err != nil {
			return nil, err
		}
		out[model.ReactionKey(k)] = cfg
	}
	return out, nil
}

func convertNotificationRouting(m map[string][]string) map[model.EventPriority][]string {
	out := make(map[model.EventPriority][]string, len(m))
	for k, v := range m {
		out[model.EventPriority(k)] = v
	}
	return out
}

func convertPluginRef(p *pluginRefYAML) *PluginRef {
	if p == nil {
		return nil
	}
	return &PluginRef{Plugin: p.Plugin}
}

func convertAutomation(a automationYAML) Automation {
	return Automation{
		QueuePickup: QueuePickup{
			Enabled:             boolOr(a.QueuePickup.Enabled, true),
			IntervalSec:         a.QueuePickup.IntervalSec,
			PickupStateName:     a.QueuePickup.PickupStateName,
			TransitionStateName: a.QueuePickup.TransitionStateName,
			RequireAoMetaQueued: boolOr(a.QueuePickup.RequireAoMetaQueued, true),
			MaxActiveSessions:   a.QueuePickup.MaxActiveSessions,
			MaxSpawnPerCycle:    a.QueuePickup.MaxSpawnPerCycle,
		},
		MergeGate: MergeGate{
			Enabled:          boolOr(a.MergeGate.Enabled, true),
			Method:           plugin.MergeMethod(a.MergeGate.Method),
			RetryCooldownSec: a.MergeGate.RetryCooldownSec,
			Strict: Strict{
				RequireVerifyMarker:               boolOr(a.MergeGate.Strict.RequireVerifyMarker, false),
				RequireBrowserMarker:              boolOr(a.MergeGate.Strict.RequireBrowserMarker, false),
				RequireApprovedReviewOrNoRequests: boolOr(a.MergeGate.Strict.RequireApprovedReviewOrNoRequests, true),
				RequireNoUnresolvedThreads:        boolOr(a.MergeGate.Strict.RequireNoUnresolvedThreads, false),
				RequirePassingChecks:              boolOr(a.MergeGate.Strict.RequirePassingChecks, true),
				RequireCompletionDryRun:           boolOr(a.MergeGate.Strict.RequireCompletionDryRun, false),
			},
		},
		CompletionGate: CompletionGate{
			Enabled:                   boolOr(a.CompletionGate.Enabled, true),
			EvidencePattern:           a.CompletionGate.EvidencePattern,
			SyncChecklistFromEvidence: a.CompletionGate.SyncChecklistFromEvidence,
		},
		StuckRecovery: StuckRecovery{
			Enabled:      boolOr(a.StuckRecovery.Enabled, true),
			Pattern:      a.StuckRecovery.Pattern,
			ThresholdSec: a.StuckRecovery.ThresholdSec,
			CooldownSec:  a.StuckRecovery.CooldownSec,
			Message:      a.StuckRecovery.Message,
		},
	}
}

func convertProject(id string, p projectYAML) (Project, error) {
	reactions, err := convertReactionMap(p.Reactions)
	if err != nil {
		return Project{}, err
	}
	return Project{
		ID:            id,
		Name:          p.Name,
		Repo:          p.Repo,
		Path:          p.Path,
		DefaultBranch: p.DefaultBranch,
		SessionPrefix: p.SessionPrefix,
		Runtime:       p.Runtime,
		Agent:         p.Agent,
		Workspace:     p.Workspace,
		Tracker:       convertPluginRef(p.Tracker),
		SCM:           convertPluginRef(p.SCM),
		Reactions:     reactions,
		Automation:    convertAutomation(p.Automation),
	}, nil
}

// convertFile converts a fully defaulted yamlFile into the resolved Config,
// merging each project's reactions over the global set at the YAML-DTO level
// before converting to domain types (see mergeReactionYAML).
func convertFile(f *yamlFile) (*Config, error) {
	cfg := &Config{
		IntervalMs:          f.IntervalMs,
		PRScanEvery:         f.PRScanEvery,
		AllowedUsers:        f.AllowedUsers,
		Defaults:            Defaults(f.Defaults),
		NotificationRouting: convertNotificationRouting(f.NotificationRouting),
		Projects:            make(map[string]Project, len(f.Projects)),
	}

	globalReactions, err := convertReactionMap(f.Reactions)
	if err != nil {
		return nil, err
	}
	cfg.Reactions = globalReactions

	for id, p := range f.Projects {
		mergedYAML := mergeReactionYAML(f.Reactions, p.Reactions)
		p.Reactions = mergedYAML
		proj, err := convertProject(id, p)
		if err != nil {
			return nil, err
		}
		cfg.Projects[id] = proj
	}

	return cfg, nil
}
