// Package classifier implements the State Classifier (§4.1): the ordered
// decision procedure that derives the SessionStatus that should hold now
// from runtime/agent/SCM probes.
package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
)

const terminalProbeLines = 10

// StuckRecoveryConfig configures the classifier's stuck-recovery
// sub-procedure (§6 automation.stuckRecovery).
type StuckRecoveryConfig struct {
	Enabled      bool
	Pattern      string
	ThresholdSec int
	CooldownSec  int
	Message      string
}

// ReviewDecisionFunc resolves a PR's (optionally allowed-authors-filtered)
// review decision; see pkg/review for the concrete implementation wired by
// the engine.
type ReviewDecisionFunc func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error)

// Input bundles everything one Classify call needs for a single session.
type Input struct {
	Session       *model.Session
	ProjectID     string
	SessionsDir   string
	Runtime       plugin.Runtime // nil for adopted sessions
	Agent         plugin.Agent   // nil for adopted sessions
	SCM           plugin.SCM     // nil if project has no SCM plugin
	StuckRecovery StuckRecoveryConfig
	ReviewDecision ReviewDecisionFunc // defaults to scm.GetReviewDecision when nil
}

// Classifier derives the SessionStatus that should hold now for a session,
// given read-only plugin probes (§4.1).
type Classifier struct {
	clock    clock.Clock
	metadata plugin.MetadataPort
	logger   *slog.Logger
}

// New builds a Classifier.
func New(c clock.Clock, metadata plugin.MetadataPort) *Classifier {
	return &Classifier{clock: c, metadata: metadata, logger: slog.Default()}
}

var codexRateLimitMarkers = []string{"Approaching rate limits", "Press enter to confirm"}

// Classify runs the §4.1 decision procedure, evaluated in order, first
// concrete answer wins. Plugin errors are swallowed; stuck/needs_input is
// preserved rather than coerced to working when a probe fails.
func (c *Classifier) Classify(ctx context.Context, in Input) model.SessionStatus {
	s := in.Session

	// 1. Runtime liveness.
	if s.RuntimeHandle != nil && in.Runtime != nil {
		alive, err := in.Runtime.IsAlive(ctx, s.RuntimeHandle)
		if err != nil {
			c.logger.Warn("classifier: runtime liveness probe failed", "session", s.ID, "error", err)
		} else if !alive {
			return model.StatusKilled
		}
	}

	// 2. Agent terminal probe.
	if s.RuntimeHandle != nil && in.Runtime != nil && in.Agent != nil {
		if status, ok := c.classifyAgentProbe(ctx, in); ok {
			return status
		}
	}

	// 3. PR auto-detect.
	if s.PR == nil && s.Branch != "" && in.SCM != nil {
		pr, err := in.SCM.DetectPR(ctx, s, in.ProjectID)
		if err != nil {
			c.logger.Warn("classifier: PR auto-detect failed", "session", s.ID, "error", err)
		} else if pr != nil {
			s.PR = pr
			c.persist(ctx, in.SessionsDir, s.ID, map[string]string{"pr": pr.URL})
		}
	}

	// 4. PR state.
	if s.PR != nil && in.SCM != nil {
		if status, ok := c.classifyPRState(ctx, in); ok {
			return status
		}
	}

	// 5. Fallback.
	switch s.Status {
	case model.StatusSpawning, model.StatusStuck, model.StatusNeedsInput:
		return model.StatusWorking
	default:
		return s.Status
	}
}

// classifyAgentProbe implements step 2. ok is false when the probe yields no
// concrete status and the procedure should fall through to PR detection.
func (c *Classifier) classifyAgentProbe(ctx context.Context, in Input) (model.SessionStatus, bool) {
	s := in.Session

	output, err := in.Runtime.GetOutput(ctx, s.RuntimeHandle, terminalProbeLines)
	if err != nil || output == "" {
		if err != nil {
			c.logger.Warn("classifier: terminal probe failed", "session", s.ID, "error", err)
		}
		if s.Status == model.StatusStuck || s.Status == model.StatusNeedsInput {
			return s.Status, true
		}
		return "", false
	}

	if status, ok := c.checkStuckRecovery(ctx, in, output); ok {
		return status, true
	}

	autoDismissed := c.checkCodexRateLimit(ctx, in, output)

	activity, err := in.Agent.DetectActivity(ctx, output)
	if err != nil {
		c.logger.Warn("classifier: detectActivity failed", "session", s.ID, "error", err)
	}

	running, err := in.Agent.IsProcessRunning(ctx, s.RuntimeHandle)
	if err != nil {
		c.logger.Warn("classifier: isProcessRunning failed", "session", s.ID, "error", err)
	} else if !running {
		return model.StatusKilled, true
	}

	if activity == plugin.ActivityWaitingInput && !autoDismissed {
		return model.StatusNeedsInput, true
	}

	return "", false
}

// checkStuckRecovery implements the stuck-recovery sub-procedure: detection
// timestamp bookkeeping lives in session metadata, per §9's note that this
// cooldown is persistent rather than in-memory.
func (c *Classifier) checkStuckRecovery(ctx context.Context, in Input, output string) (model.SessionStatus, bool) {
	cfg := in.StuckRecovery
	if !cfg.Enabled || cfg.Pattern == "" {
		return "", false
	}
	pattern, err := regexp.Compile(cfg.Pattern)
	if err != nil {
		c.logger.Warn("classifier: invalid stuckRecovery pattern", "error", err)
		return "", false
	}

	s := in.Session
	now := c.clock.Now()

	if !pattern.MatchString(output) {
		if s.MetaGet("stuck_detected_at") != "" {
			c.persist(ctx, in.SessionsDir, s.ID, map[string]string{"stuck_detected_at": ""})
		}
		return "", false
	}

	detectedAt, ok := clock.ParseUnix(s.MetaGet("stuck_detected_at"))
	if !ok {
		detectedAt = now
		c.persist(ctx, in.SessionsDir, s.ID, map[string]string{"stuck_detected_at": clock.FormatUnix(now)})
		s.Metadata = setMeta(s.Metadata, "stuck_detected_at", clock.FormatUnix(now))
	}

	elapsed := now.Sub(detectedAt)
	if elapsed < time.Duration(cfg.ThresholdSec)*time.Second {
		return "", false
	}

	lastSent, ok := clock.ParseUnix(s.MetaGet("stuck_recovery_sent_at"))
	outsideCooldown := !ok || now.Sub(lastSent) > time.Duration(cfg.CooldownSec)*time.Second
	if outsideCooldown {
		if in.Runtime != nil && cfg.Message != "" {
			if err := in.Runtime.SendMessage(ctx, s.RuntimeHandle, cfg.Message); err != nil {
				c.logger.Warn("classifier: stuck recovery message failed", "session", s.ID, "error", err)
			}
		}
		c.persist(ctx, in.SessionsDir, s.ID, map[string]string{"stuck_recovery_sent_at": clock.FormatUnix(now)})
	}

	return model.StatusStuck, true
}

// checkCodexRateLimit implements the codex rate-limit auto-dismiss special
// case. Returns true when the prompt was detected and dismissed this cycle.
func (c *Classifier) checkCodexRateLimit(ctx context.Context, in Input, output string) bool {
	if in.Agent.Name() != "codex" {
		return false
	}
	if !containsAllMarkers(output, codexRateLimitMarkers) {
		return false
	}

	s := in.Session
	if err := in.Runtime.SendMessage(ctx, s.RuntimeHandle, "3\n"); err != nil {
		c.logger.Warn("classifier: codex rate-limit auto-dismiss send failed", "session", s.ID, "error", err)
	}
	c.persist(ctx, in.SessionsDir, s.ID, map[string]string{"codex_rate_limit_prompt_autodismiss_choice": "3"})
	return true
}

func (c *Classifier) classifyPRState(ctx context.Context, in Input) (model.SessionStatus, bool) {
	s := in.Session
	pr := s.PR

	if prState, err := in.SCM.GetPRState(ctx, pr); err != nil {
		c.logger.Warn("classifier: getPRState failed", "session", s.ID, "error", err)
	} else {
		switch prState {
		case plugin.PRStateMerged:
			return model.StatusMerged, true
		case plugin.PRStateClosed:
			return model.StatusKilled, true
		}
	}

	if ciSummary, err := in.SCM.GetCISummary(ctx, pr); err != nil {
		c.logger.Warn("classifier: getCISummary failed", "session", s.ID, "error", err)
	} else if ciSummary == plugin.CISummaryFailing {
		return model.StatusCIFailed, true
	}

	decisionFn := in.ReviewDecision
	if decisionFn == nil {
		decisionFn = func(ctx context.Context, scm plugin.SCM, pr *model.PRInfo) (plugin.ReviewDecision, error) {
			return scm.GetReviewDecision(ctx, pr)
		}
	}

	decision, err := decisionFn(ctx, in.SCM, pr)
	if err != nil {
		c.logger.Warn("classifier: review decision failed", "session", s.ID, "error", err)
		return "", false
	}

	switch decision {
	case plugin.ReviewChangesRequested:
		return model.StatusChangesRequested, true
	case plugin.ReviewApproved:
		mergeability, err := in.SCM.GetMergeability(ctx, pr)
		if err != nil {
			c.logger.Warn("classifier: getMergeability failed", "session", s.ID, "error", err)
			return model.StatusApproved, true
		}
		if mergeability.Mergeable {
			return model.StatusMergeable, true
		}
		return model.StatusApproved, true
	case plugin.ReviewPending:
		return model.StatusReviewPending, true
	default:
		return model.StatusPROpen, true
	}
}

func (c *Classifier) persist(ctx context.Context, sessionsDir string, id model.SessionID, partial map[string]string) {
	if c.metadata == nil {
		return
	}
	if err := c.metadata.UpdateMetadata(ctx, sessionsDir, id, partial); err != nil {
		c.logger.Warn("classifier: metadata persist failed", "session", id, "error", err)
	}
}

func containsAllMarkers(output string, markers []string) bool {
	for _, m := range markers {
		if !strings.Contains(output, m) {
			return false
		}
	}
	return true
}

func setMeta(m map[string]string, key, value string) map[string]string {
	if m == nil {
		m = make(map[string]string)
	}
	m[key] = value
	return m
}
