// Package config loads, expands, merges, and validates agentctl's YAML
// configuration into the plain Go structs the Lifecycle Engine consumes.
// Modeled on the teacher's pkg/config: a YAML-shaped file struct parsed with
// gopkg.in/yaml.v3, environment-variable expansion before parse, an
// applyDefaults pass, and a hand-rolled Validator — no struct-tag validation
// library, matching the teacher's own choice to hand-roll ValidateAll()
// despite go-playground/validator being reachable in its dependency graph.
package config

import (
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

// yamlFile is the top-level shape of the agentctl configuration file.
type yamlFile struct {
	IntervalMs          int                     `yaml:"intervalMs"`
	PRScanEvery         int                     `yaml:"prScanEvery"`
	AllowedUsers        []string                `yaml:"allowedUsers"`
	Defaults            defaultsYAML            `yaml:"defaults"`
	NotificationRouting map[string][]string     `yaml:"notificationRouting"`
	Reactions           map[string]reactionYAML `yaml:"reactions"`
	Projects            map[string]projectYAML  `yaml:"projects"`
}

type defaultsYAML struct {
	Runtime   string   `yaml:"runtime"`
	Agent     string   `yaml:"agent"`
	Workspace string   `yaml:"workspace"`
	Notifiers []string `yaml:"notifiers"`
}

type reviewFilterYAML struct {
	Labels  []string `yaml:"labels"`
	Authors []string `yaml:"authors"`
}

type reactionYAML struct {
	Auto          *bool             `yaml:"auto"`
	Action        string            `yaml:"action"`
	Message       string            `yaml:"message"`
	Script        string            `yaml:"script"`
	Retries       *int              `yaml:"retries"`
	EscalateAfter any               `yaml:"escalateAfter"`
	Cooldown      string            `yaml:"cooldown"`
	Priority      string            `yaml:"priority"`
	Filter        *reviewFilterYAML `yaml:"filter"`
}

type pluginRefYAML struct {
	Plugin string `yaml:"plugin"`
}

type projectYAML struct {
	Name          string                  `yaml:"name"`
	Repo          string                  `yaml:"repo"`
	Path          string                  `yaml:"path"`
	DefaultBranch string                  `yaml:"defaultBranch"`
	SessionPrefix string                  `yaml:"sessionPrefix"`
	Runtime       string                  `yaml:"runtime"`
	Agent         string                  `yaml:"agent"`
	Workspace     string                  `yaml:"workspace"`
	Tracker       *pluginRefYAML          `yaml:"tracker"`
	SCM           *pluginRefYAML          `yaml:"scm"`
	Reactions     map[string]reactionYAML `yaml:"reactions"`
	Automation    automationYAML          `yaml:"automation"`
}

type queuePickupYAML struct {
	Enabled             *bool  `yaml:"enabled"`
	IntervalSec         int    `yaml:"intervalSec"`
	PickupStateName     string `yaml:"pickupStateName"`
	TransitionStateName string `yaml:"transitionStateName"`
	RequireAoMetaQueued *bool  `yaml:"requireAoMetaQueued"`
	MaxActiveSessions   int    `yaml:"maxActiveSessions"`
	MaxSpawnPerCycle    int    `yaml:"maxSpawnPerCycle"`
}

type strictYAML struct {
	RequireVerifyMarker               *bool `yaml:"requireVerifyMarker"`
	RequireBrowserMarker              *bool `yaml:"requireBrowserMarker"`
	RequireApprovedReviewOrNoRequests *bool `yaml:"requireApprovedReviewOrNoRequests"`
	RequireNoUnresolvedThreads        *bool `yaml:"requireNoUnresolvedThreads"`
	RequirePassingChecks              *bool `yaml:"requirePassingChecks"`
	RequireCompletionDryRun           *bool `yaml:"requireCompletionDryRun"`
}

type mergeGateYAML struct {
	Enabled          *bool      `yaml:"enabled"`
	Method           string     `yaml:"method"`
	RetryCooldownSec int        `yaml:"retryCooldownSec"`
	Strict           strictYAML `yaml:"strict"`
}

type completionGateYAML struct {
	Enabled                   *bool  `yaml:"enabled"`
	EvidencePattern           string `yaml:"evidencePattern"`
	SyncChecklistFromEvidence bool   `yaml:"syncChecklistFromEvidence"`
}

type stuckRecoveryYAML struct {
	Enabled      *bool  `yaml:"enabled"`
	Pattern      string `yaml:"pattern"`
	ThresholdSec int    `yaml:"thresholdSec"`
	CooldownSec  int    `yaml:"cooldownSec"`
	Message      string `yaml:"message"`
}

type automationYAML struct {
	QueuePickup    queuePickupYAML    `yaml:"queuePickup"`
	MergeGate      mergeGateYAML      `yaml:"mergeGate"`
	CompletionGate completionGateYAML `yaml:"completionGate"`
	StuckRecovery  stuckRecoveryYAML  `yaml:"stuckRecovery"`
}

// --- Resolved (post-load) configuration consumed by the engine. ---

// Config is the fully loaded, merged, defaulted, validated configuration.
type Config struct {
	IntervalMs          int
	PRScanEvery         int
	AllowedUsers        []string
	Defaults            Defaults
	NotificationRouting map[model.EventPriority][]string
	Reactions           map[model.ReactionKey]model.ReactionConfig
	Projects            map[string]Project
}

// Defaults holds the fallback plugin names and notifier list.
type Defaults struct {
	Runtime   string
	Agent     string
	Workspace string
	Notifiers []string
}

// PluginRef names a single plugin instance within a slot.
type PluginRef struct {
	Plugin string
}

// Project is one project's resolved configuration.
type Project struct {
	ID            string
	Name          string
	Repo          string
	Path          string
	DefaultBranch string
	SessionPrefix string
	Runtime       string
	Agent         string
	Workspace     string
	Tracker       *PluginRef
	SCM           *PluginRef
	Reactions     map[model.ReactionKey]model.ReactionConfig
	Automation    Automation
}

// Automation groups the per-project gate/pickup configuration (§6).
type Automation struct {
	QueuePickup    QueuePickup
	MergeGate      MergeGate
	CompletionGate CompletionGate
	StuckRecovery  StuckRecovery
}

// QueuePickup configures the Queue Pickup loop (§4.7).
type QueuePickup struct {
	Enabled             bool
	IntervalSec         int
	PickupStateName     string
	TransitionStateName string
	RequireAoMetaQueued bool
	MaxActiveSessions   int
	MaxSpawnPerCycle    int
}

// Strict groups the merge gate's independently toggleable sub-gates (§4.4).
type Strict struct {
	RequireVerifyMarker               bool
	RequireBrowserMarker              bool
	RequireApprovedReviewOrNoRequests bool
	RequireNoUnresolvedThreads        bool
	RequirePassingChecks              bool
	RequireCompletionDryRun           bool
}

// MergeGate configures the auto-merge action (§4.4).
type MergeGate struct {
	Enabled          bool
	Method           plugin.MergeMethod
	RetryCooldownSec int
	Strict           Strict
}

// CompletionGate configures the complete-tracker-issue action (§4.5).
type CompletionGate struct {
	Enabled                   bool
	EvidencePattern           string
	SyncChecklistFromEvidence bool
}

// StuckRecovery configures the classifier's stuck-recovery sub-procedure (§4.1).
type StuckRecovery struct {
	Enabled      bool
	Pattern      string
	ThresholdSec int
	CooldownSec  int
	Message      string
}

// EffectiveReactions merges a project's reactions over the global reactions,
// project winning per-key (§4.2 step 5). Keys present only globally are kept
// as-is; keys present only on the project are added.
func (c *Config) EffectiveReactions(projectID string) map[model.ReactionKey]model.ReactionConfig {
	return mergeReactions(c.Reactions, c.Projects[projectID].Reactions)
}
