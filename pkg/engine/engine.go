// Package engine implements the Lifecycle Engine facade (§5): a
// re-entrancy-guarded poller that fans each cycle out across live sessions,
// driving each through classifier → transition router → reaction executor,
// plus the per-project queue-pickup and external-PR-adoption passes that run
// ahead of the fanout.
package engine

import (
	"context"
	"log/slog"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/codeready-toolchain/agentctl/pkg/classifier"
	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/config"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/gate"
	"github.com/codeready-toolchain/agentctl/pkg/model"
	"github.com/codeready-toolchain/agentctl/pkg/pickup"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
	"github.com/codeready-toolchain/agentctl/pkg/reaction"
	"github.com/codeready-toolchain/agentctl/pkg/review"
	"github.com/codeready-toolchain/agentctl/pkg/router"
)

// intervalJitterFraction smooths the cycle timer so multiple engine
// instances (or a restarted one) don't all sample plugins at the exact same
// instant, the same rationale as the teacher's pollInterval jitter in
// pkg/queue/worker.go.
const intervalJitterFraction = 0.1

// trackerKey is reactionTrackers' composite key (§3).
type trackerKey struct {
	session model.SessionID
	key     model.ReactionKey
}

// Deps bundles the engine's plugin-facing and collaborator dependencies.
type Deps struct {
	Config         *config.Config
	Registry       *plugin.Registry
	SessionManager plugin.SessionManager
	Metadata       plugin.MetadataPort
	Clock          clock.Clock
	SessionsDir    string
	// Hub, when set, receives every OrchestratorEvent dispatched through
	// notifyHuman and the reaction executor — the optional live-dashboard
	// hook (§4 pkg/eventbus).
	Hub interface {
		Broadcast(eventbus.OrchestratorEvent)
	}
}

// Engine is the Lifecycle Engine: owns all in-memory cycle state (§3) and
// drives the poll loop.
type Engine struct {
	deps       Deps
	classifier *classifier.Classifier
	router     *router.Router
	logger     *slog.Logger

	polling  sync.Mutex // held for the duration of one cycle; TryLock is the re-entrancy guard
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	cycleMu     sync.Mutex
	cancelCycle context.CancelFunc

	stateMu                 sync.Mutex
	states                  map[model.SessionID]model.SessionStatus
	reactionTrackers        map[trackerKey]model.ReactionTracker
	mergeRetryCooldownUntil map[model.SessionID]int64
	queuePickupLastRunAt    map[string]time.Time
	lastCommentTimestamps   map[model.SessionID]time.Time
	allCompleteEmitted      bool
	prScanCounter           int
}

// New builds an Engine. The classifier and router are constructed here
// (rather than injected) since they're stateless beyond deps.Metadata/Clock.
func New(deps Deps) *Engine {
	return &Engine{
		deps:                    deps,
		classifier:              classifier.New(deps.Clock, deps.Metadata),
		router:                  router.New(deps.Metadata),
		logger:                  slog.Default().With("component", "engine"),
		stopCh:                  make(chan struct{}),
		states:                  make(map[model.SessionID]model.SessionStatus),
		reactionTrackers:        make(map[trackerKey]model.ReactionTracker),
		mergeRetryCooldownUntil: make(map[model.SessionID]int64),
		queuePickupLastRunAt:    make(map[string]time.Time),
		lastCommentTimestamps:   make(map[model.SessionID]time.Time),
		allCompleteEmitted:      true,
	}
}

// Start begins the interval loop in a background goroutine.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Add(1)
	go e.run(ctx)
}

// Stop cancels any in-flight cycle and waits for the loop goroutine to
// drain. Safe to call more than once.
func (e *Engine) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
	e.cycleMu.Lock()
	if e.cancelCycle != nil {
		e.cancelCycle()
	}
	e.cycleMu.Unlock()
	e.wg.Wait()
}

// Check force-polls a single session, bypassing the cycle re-entrancy guard
// (§5: "shares the same code path as the cycle but bypasses the re-entrancy
// guard"). Useful for tests and a CLI trigger.
func (e *Engine) Check(ctx context.Context, id model.SessionID) error {
	s, err := e.deps.SessionManager.Get(ctx, id)
	if err != nil {
		return err
	}
	proj, _ := e.project(s.ProjectID)
	result := e.checkSession(ctx, s, proj)
	e.applySessionResult(ctx, result)
	return nil
}

// GetStates returns a snapshot of every session's last-classified status.
func (e *Engine) GetStates() map[model.SessionID]model.SessionStatus {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := make(map[model.SessionID]model.SessionStatus, len(e.states))
	for k, v := range e.states {
		out[k] = v
	}
	return out
}

func (e *Engine) run(ctx context.Context) {
	defer e.wg.Done()
	interval := time.Duration(e.deps.Config.IntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = 30 * time.Second
	}

	for {
		select {
		case <-e.stopCh:
			return
		case <-ctx.Done():
			return
		case <-e.deps.Clock.After(jittered(interval)):
			e.tick(ctx)
		}
	}
}

func jittered(base time.Duration) time.Duration {
	jitter := time.Duration(float64(base) * intervalJitterFraction)
	if jitter <= 0 {
		return base
	}
	offset := time.Duration(rand.Int64N(int64(2 * jitter)))
	return base - jitter + offset
}

// tick is one re-entrancy-guarded cycle attempt; a tick that finds a cycle
// already in flight is dropped silently (§5, §8).
func (e *Engine) tick(ctx context.Context) {
	if !e.polling.TryLock() {
		return
	}
	defer e.polling.Unlock()

	cycleCtx, cancel := context.WithCancel(ctx)
	e.cycleMu.Lock()
	e.cancelCycle = cancel
	e.cycleMu.Unlock()
	defer func() {
		e.cycleMu.Lock()
		e.cancelCycle = nil
		e.cycleMu.Unlock()
		cancel()
	}()

	e.runCycle(cycleCtx)
}

// runCycle implements §5's ordering: adoption, then queue pickup, then the
// per-session fanout. Sessions are listed again after adoption and after
// pickup, so each stage sees the sessions the previous one created.
func (e *Engine) runCycle(ctx context.Context) {
	sessions, err := e.deps.SessionManager.List(ctx, "")
	if err != nil {
		e.logger.Warn("cycle: list sessions failed", "error", err)
		return
	}

	e.pruneStale(sessions)

	scanCycle := review.ShouldScanForAdoption(e.prScanCounter, e.deps.Config.PRScanEvery)
	e.prScanCounter++

	if scanCycle {
		e.runExternalAdoption(ctx)
		sessions, err = e.deps.SessionManager.List(ctx, "")
		if err != nil {
			e.logger.Warn("cycle: re-list sessions after adoption failed", "error", err)
			return
		}
	}

	e.runQueuePickupForAllProjects(ctx, sessions)

	sessions, err = e.deps.SessionManager.List(ctx, "")
	if err != nil {
		e.logger.Warn("cycle: re-list sessions after pickup failed", "error", err)
		return
	}

	var wg sync.WaitGroup
	results := make([]sessionResult, len(sessions))
	for i, s := range sessions {
		proj, _ := e.project(s.ProjectID)
		wg.Add(1)
		go func(i int, s *model.Session) {
			defer wg.Done()
			results[i] = e.checkSession(ctx, s, proj)
		}(i, s)
	}
	wg.Wait()

	for _, r := range results {
		e.applySessionResult(ctx, r)
	}

	e.finalizeAllComplete()
}

// pruneStale drops states/reactionTrackers/cooldown bookkeeping for any
// sessionId absent from the latest listing (§3: "states[sid] exists only
// while sid appears in the most recent SessionManager.list()").
func (e *Engine) pruneStale(sessions []*model.Session) {
	live := make(map[model.SessionID]bool, len(sessions))
	for _, s := range sessions {
		live[s.ID] = true
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	for id := range e.states {
		if !live[id] {
			delete(e.states, id)
		}
	}
	for k := range e.reactionTrackers {
		if !live[k.session] {
			delete(e.reactionTrackers, k)
		}
	}
	for id := range e.mergeRetryCooldownUntil {
		if !live[id] {
			delete(e.mergeRetryCooldownUntil, id)
		}
	}
	for id := range e.lastCommentTimestamps {
		if !live[id] {
			delete(e.lastCommentTimestamps, id)
		}
	}
}

func (e *Engine) finalizeAllComplete() {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	if len(e.states) == 0 {
		return
	}
	allTerminal := true
	for _, st := range e.states {
		if !st.IsTerminal() {
			allTerminal = false
			break
		}
	}
	e.allCompleteEmitted = allTerminal
}

// project looks up a project's resolved configuration by id.
func (e *Engine) project(id string) (config.Project, bool) {
	p, ok := e.deps.Config.Projects[id]
	return p, ok
}

func (e *Engine) notifyHuman(ctx context.Context, ev eventbus.OrchestratorEvent) {
	if e.deps.Hub != nil {
		e.deps.Hub.Broadcast(ev)
	}

	names := e.deps.Config.NotificationRouting[ev.Priority]
	if len(names) == 0 {
		names = e.deps.Config.Defaults.Notifiers
	}
	for _, name := range names {
		n, ok := e.deps.Registry.Notifier(name)
		if !ok {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			e.logger.Warn("notify failed", "notifier", name, "error", err)
		}
	}
}

// runQueuePickupForAllProjects runs §4.7 for every project whose automation
// config enables it, not more often than its configured interval.
func (e *Engine) runQueuePickupForAllProjects(ctx context.Context, sessions []*model.Session) {
	byProject := make(map[string][]*model.Session)
	allByProject := make(map[string][]*model.Session)
	for _, s := range sessions {
		allByProject[s.ProjectID] = append(allByProject[s.ProjectID], s)
		if !s.Status.IsTerminal() {
			byProject[s.ProjectID] = append(byProject[s.ProjectID], s)
		}
	}

	for id, proj := range e.deps.Config.Projects {
		cfg := proj.Automation.QueuePickup
		if !cfg.Enabled {
			continue
		}
		tracker, ok := e.trackerFor(proj)
		if !ok {
			continue
		}

		e.stateMu.Lock()
		lastRun, hasLastRun := e.queuePickupLastRunAt[id]
		e.stateMu.Unlock()

		result := pickup.Run(ctx, pickup.Input{
			ProjectID:      id,
			Tracker:        tracker,
			SessionManager: e.deps.SessionManager,
			ActiveSessions: byProject[id],
			Config: pickup.Config{
				Enabled:             cfg.Enabled,
				IntervalSec:         cfg.IntervalSec,
				PickupStateName:     cfg.PickupStateName,
				TransitionStateName: cfg.TransitionStateName,
				RequireAoMetaQueued: cfg.RequireAoMetaQueued,
				MaxSpawnPerCycle:    cfg.MaxSpawnPerCycle,
				MaxActiveSessions:   cfg.MaxActiveSessions,
			},
			Now:             e.deps.Clock.Now(),
			LastRunAt:       lastRun,
			HasLastRun:      hasLastRun,
			ResolveWorktree: e.resolveWorktreeFor(allByProject[id]),
			DestroyWorktree: destroyWorktree,
		})
		if !result.Ran {
			continue
		}

		e.stateMu.Lock()
		e.queuePickupLastRunAt[id] = result.NewLastRunAt
		e.stateMu.Unlock()
	}
}

// resolveWorktreeFor builds a pickup.ResolveWorktreeFunc scoped to one
// project's sessions: a worktree is destroyable if no session claims it as
// its WorkspacePath, or if the session that does is terminal.
func (e *Engine) resolveWorktreeFor(projectSessions []*model.Session) pickup.ResolveWorktreeFunc {
	return func(path string) (model.SessionID, bool) {
		for _, s := range projectSessions {
			if s.WorkspacePath == path {
				return s.ID, s.Status.IsTerminal()
			}
		}
		return "", true
	}
}

// destroyWorktree removes a conflicting worktree directory so queue pickup
// can retry the spawn once (§4.7).
func destroyWorktree(ctx context.Context, path string) error {
	return os.RemoveAll(path)
}

// runExternalAdoption implements §4.8's every-Nth-cycle scan.
func (e *Engine) runExternalAdoption(ctx context.Context) {
	allowed := e.deps.Config.AllowedUsers
	if len(allowed) == 0 {
		return
	}
	adopter, canAdopt := e.deps.SessionManager.(plugin.SessionAdopter)
	if !canAdopt {
		return
	}

	for id, proj := range e.deps.Config.Projects {
		scm, ok := e.scmFor(proj)
		if !ok {
			continue
		}
		prs, err := scm.ListOpenPRs(ctx, id)
		if err != nil {
			if err == plugin.ErrNotSupported {
				continue
			}
			e.logger.Warn("adoption: listOpenPRs failed", "project", id, "error", err)
			continue
		}

		existing, err := e.deps.SessionManager.List(ctx, id)
		if err != nil {
			continue
		}
		tracked := make(map[string]bool, len(existing))
		for _, s := range existing {
			if s.PR != nil {
				tracked[s.PR.URL] = true
			}
		}

		for _, pr := range review.FilterAllowedAuthors(prs, allowed) {
			if tracked[pr.URL] {
				continue
			}
			pr := pr
			if _, err := adopter.AdoptSession(ctx, id, &pr, review.AdoptedMetadata(pr)); err != nil {
				e.logger.Warn("adoption: adopt failed", "project", id, "pr", pr.URL, "error", err)
			}
		}
	}
}

func (e *Engine) trackerFor(proj config.Project) (plugin.Tracker, bool) {
	if proj.Tracker == nil {
		return nil, false
	}
	return e.deps.Registry.Tracker(proj.Tracker.Plugin)
}

func (e *Engine) scmFor(proj config.Project) (plugin.SCM, bool) {
	if proj.SCM == nil {
		return nil, false
	}
	return e.deps.Registry.SCM(proj.SCM.Plugin)
}

func (e *Engine) runtimeFor(proj config.Project) plugin.Runtime {
	name := proj.Runtime
	if name == "" {
		name = e.deps.Config.Defaults.Runtime
	}
	if name == "" {
		return nil
	}
	rt, err := e.deps.Registry.Runtime(name)
	if err != nil {
		return nil
	}
	return rt
}

func (e *Engine) agentFor(proj config.Project) plugin.Agent {
	name := proj.Agent
	if name == "" {
		name = e.deps.Config.Defaults.Agent
	}
	if name == "" {
		return nil
	}
	a, err := e.deps.Registry.Agent(name)
	if err != nil {
		return nil
	}
	return a
}

func (e *Engine) mergeConfigFor(proj config.Project) gate.MergeConfig {
	mg := proj.Automation.MergeGate
	return gate.MergeConfig{
		Enabled:          mg.Enabled,
		Method:           mg.Method,
		RetryCooldownSec: mg.RetryCooldownSec,
		Strict: gate.MergeStrictConfig{
			RequireVerifyMarker:               mg.Strict.RequireVerifyMarker,
			RequireBrowserMarker:              mg.Strict.RequireBrowserMarker,
			RequireApprovedReviewOrNoRequests: mg.Strict.RequireApprovedReviewOrNoRequests,
			RequireNoUnresolvedThreads:        mg.Strict.RequireNoUnresolvedThreads,
			RequirePassingChecks:              mg.Strict.RequirePassingChecks,
			RequireCompletionDryRun:           mg.Strict.RequireCompletionDryRun,
		},
	}
}

func (e *Engine) completionConfigFor(proj config.Project) gate.CompletionConfig {
	cg := proj.Automation.CompletionGate
	return gate.CompletionConfig{
		Enabled:                   cg.Enabled,
		EvidencePattern:           cg.EvidencePattern,
		SyncChecklistFromEvidence: cg.SyncChecklistFromEvidence,
	}
}

// reactionDeps builds the reaction executor's Deps for one project.
func (e *Engine) reactionDeps(proj config.Project) reaction.Deps {
	scm, _ := e.scmFor(proj)
	tracker, _ := e.trackerFor(proj)
	return reaction.Deps{
		SessionManager: e.deps.SessionManager,
		SCM:            scm,
		Tracker:        tracker,
		Metadata:       e.deps.Metadata,
		Clock:          e.deps.Clock,
		SessionsDir:    e.deps.SessionsDir,
		NotifyHuman:    e.notifyHuman,
		ReviewDecision: review.Filter(e.deps.Config.AllowedUsers),
	}
}
