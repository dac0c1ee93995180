// agentctld supervises AI coding-agent sessions across a set of projects,
// polling each one's runtime/agent/scm/tracker plugins and driving it
// through the lifecycle: classify state, route the transition, run any
// triggered reaction, notify a human when nothing handles it.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/agentctl/pkg/clock"
	"github.com/codeready-toolchain/agentctl/pkg/config"
	"github.com/codeready-toolchain/agentctl/pkg/engine"
	"github.com/codeready-toolchain/agentctl/pkg/eventbus"
	"github.com/codeready-toolchain/agentctl/pkg/metadata"
	notifierslack "github.com/codeready-toolchain/agentctl/pkg/notifier/slack"
	"github.com/codeready-toolchain/agentctl/pkg/plugin"
	"github.com/codeready-toolchain/agentctl/pkg/plugin/memory"
	scmgithub "github.com/codeready-toolchain/agentctl/pkg/scm/github"
	trackergithubissues "github.com/codeready-toolchain/agentctl/pkg/tracker/githubissues"
)

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	configPath := flag.String("config", getEnv("AGENTCTL_CONFIG", "./agentctl.yaml"), "Path to the agentctl configuration file")
	sessionsDir := flag.String("sessions-dir", getEnv("AGENTCTL_SESSIONS_DIR", "./sessions"), "Directory holding per-session metadata sidecar files")
	dryRun := flag.Bool("dry-run", os.Getenv("AGENTCTL_DRY_RUN") == "true", "Use an in-memory session manager instead of a real runtime")
	flag.Parse()

	logger := slog.Default().With("component", "agentctld")

	envPath := filepath.Join(filepath.Dir(*configPath), ".env")
	if err := godotenv.Load(envPath); err != nil {
		logger.Warn("could not load .env file", "path", envPath, "error", err)
	} else {
		logger.Info("loaded environment from .env file", "path", envPath)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load configuration", "path", *configPath, "error", err)
		os.Exit(1)
	}
	logger.Info("configuration loaded", "path", *configPath, "projects", len(cfg.Projects))

	registry := buildRegistry(cfg, logger)

	metaStore := metadata.NewFileStore()

	var sessionManager plugin.SessionManager
	if *dryRun {
		logger.Warn("dry-run mode: sessions are synthesized in memory, no real runtime is driven")
		sessionManager = memory.NewManager("agentctl", nil, nil)
	} else {
		logger.Error("no real SessionManager is wired for this build; pass -dry-run to exercise the engine against synthesized sessions")
		os.Exit(1)
	}

	hub := eventbus.NewHub(5 * time.Second)

	eng := engine.New(engine.Deps{
		Config:         cfg,
		Registry:       registry,
		SessionManager: sessionManager,
		Metadata:       metaStore,
		Clock:          clock.Real{},
		SessionsDir:    *sessionsDir,
		Hub:            hub,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	eng.Start(ctx)
	logger.Info("agentctld started", "interval_ms", cfg.IntervalMs)

	<-ctx.Done()
	logger.Info("shutdown signal received, draining in-flight cycle")
	eng.Stop()
	logger.Info("agentctld stopped")
}

// buildRegistry registers one concrete plugin instance per project's
// configured tracker/scm plugin name, plus every configured notifier. The
// runtime/agent slots have no ready-made HTTP-backed implementation in this
// build (per-agent process supervision is plugin territory, §6), so they're
// left unregistered; a deployment wires its own by calling
// Registry.RegisterRuntime/RegisterAgent before startup.
func buildRegistry(cfg *config.Config, logger *slog.Logger) *plugin.Registry {
	registry := plugin.NewRegistry()

	seenSCM := make(map[string]bool)
	seenTracker := make(map[string]bool)

	for _, proj := range cfg.Projects {
		if proj.SCM != nil && !seenSCM[proj.SCM.Plugin] {
			seenSCM[proj.SCM.Plugin] = true
			registerGitHubSCM(registry, proj.SCM.Plugin, proj, logger)
		}
		if proj.Tracker != nil && !seenTracker[proj.Tracker.Plugin] {
			seenTracker[proj.Tracker.Plugin] = true
			registerGitHubTracker(registry, proj.Tracker.Plugin, proj, logger)
		}
	}

	for _, name := range cfg.Defaults.Notifiers {
		registerNotifier(registry, name, logger)
	}
	for _, names := range cfg.NotificationRouting {
		for _, name := range names {
			registerNotifier(registry, name, logger)
		}
	}

	return registry
}

// registerGitHubSCM wires a pkg/scm/github.Client for plugin name using
// owner/repo parsed out of the project's repo field ("owner/repo") and a
// token from <PLUGIN_NAME>_GITHUB_TOKEN (upper-cased), falling back to
// GITHUB_TOKEN.
func registerGitHubSCM(registry *plugin.Registry, name string, proj config.Project, logger *slog.Logger) {
	owner, repo, ok := splitOwnerRepo(proj.Repo)
	if !ok {
		logger.Warn("scm plugin skipped: project repo is not owner/repo", "plugin", name, "repo", proj.Repo)
		return
	}
	token := githubTokenFor(name)
	registry.RegisterSCM(name, scmgithub.New(token, owner, repo))
	logger.Info("registered github scm plugin", "plugin", name, "owner", owner, "repo", repo)
}

func registerGitHubTracker(registry *plugin.Registry, name string, proj config.Project, logger *slog.Logger) {
	owner, repo, ok := splitOwnerRepo(proj.Repo)
	if !ok {
		logger.Warn("tracker plugin skipped: project repo is not owner/repo", "plugin", name, "repo", proj.Repo)
		return
	}
	token := githubTokenFor(name)
	registry.RegisterTracker(name, trackergithubissues.New(token, owner, repo))
	logger.Info("registered github issues tracker plugin", "plugin", name, "owner", owner, "repo", repo)
}

func registerNotifier(registry *plugin.Registry, name string, logger *slog.Logger) {
	if _, ok := registry.Notifier(name); ok {
		return
	}
	token := os.Getenv("SLACK_BOT_TOKEN")
	channel := getEnv("SLACK_CHANNEL", "#agentctl")
	if token == "" {
		logger.Warn("notifier plugin skipped: SLACK_BOT_TOKEN not set", "plugin", name)
		return
	}
	registry.RegisterNotifier(name, notifierslack.New(notifierslack.Config{
		Token:        token,
		Channel:      channel,
		DashboardURL: os.Getenv("AGENTCTL_DASHBOARD_URL"),
	}))
	logger.Info("registered slack notifier plugin", "plugin", name, "channel", channel)
}

func githubTokenFor(pluginName string) string {
	if v := os.Getenv(envNameFor(pluginName) + "_GITHUB_TOKEN"); v != "" {
		return v
	}
	return os.Getenv("GITHUB_TOKEN")
}

func envNameFor(name string) string {
	out := make([]byte, len(name))
	for i := 0; i < len(name); i++ {
		c := name[i]
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		} else if c == '-' {
			c = '_'
		}
		out[i] = c
	}
	return string(out)
}

func splitOwnerRepo(repo string) (owner, name string, ok bool) {
	for i := 0; i < len(repo); i++ {
		if repo[i] == '/' {
			return repo[:i], repo[i+1:], true
		}
	}
	return "", "", false
}
