package config

import (
	"dario.cat/mergo"

	"github.com/codeready-toolchain/agentctl/pkg/model"
)

// mergeReactionYAML overlays project reactions on top of global reactions at
// the YAML-DTO level, project winning per populated field (§4.2 step 5:
// "Merge config.reactions[key] with project.reactions[key] (project
// overrides)"). Uses the teacher's exact merge dependency (dario.cat/mergo),
// WithOverride so project-set fields replace rather than skip global ones.
//
// Merging happens before conversion to model.ReactionConfig, not after:
// reactionYAML's fields are all exported (pointers/strings/any), which mergo
// can read and set via reflection; model.ReactionConfig's EscalateAfter
// carries unexported bookkeeping fields mergo cannot touch, so merging it
// directly would silently drop a project-level override.
func mergeReactionYAML(global, project map[string]reactionYAML) map[string]reactionYAML {
	result := make(map[string]reactionYAML, len(global)+len(project))
	for k, v := range global {
		result[k] = v
	}
	for k, projCfg := range project {
		merged, ok := result[k]
		if !ok {
			result[k] = projCfg
			continue
		}
		if err := mergo.Merge(&merged, projCfg, mergo.WithOverride); err != nil {
			// mergo only fails on fundamentally unmergeable types, which
			// reactionYAML's plain-field shape never triggers; fall back to
			// a full project override rather than propagate a panic path
			// into a config load.
			result[k] = projCfg
			continue
		}
		result[k] = merged
	}
	return result
}

// mergeReactions overlays already-converted project reactions on global
// ones for Config.EffectiveReactions: a project entry replaces the global
// entry for the same key as a whole, with no per-field merge.
func mergeReactions(global, project map[model.ReactionKey]model.ReactionConfig) map[model.ReactionKey]model.ReactionConfig {
	result := make(map[model.ReactionKey]model.ReactionConfig, len(global)+len(project))
	for k, v := range global {
		result[k] = v
	}
	for k, v := range project {
		result[k] = v
	}
	return result
}
