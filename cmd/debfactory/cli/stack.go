package cli

import (
	"github.com/davarch/debfactory/internal/application"
	"github.com/davarch/debfactory/internal/infrastructure/archive_fs"
	"github.com/davarch/debfactory/internal/infrastructure/config"
	"github.com/davarch/debfactory/internal/infrastructure/github_http"
	"github.com/davarch/debfactory/internal/infrastructure/mirror_git"
	"github.com/davarch/debfactory/internal/infrastructure/state_sqlite"
	"github.com/davarch/debfactory/internal/infrastructure/summary_fs"
	"github.com/davarch/debfactory/internal/infrastructure/trigger_exec"
	"go.uber.org/zap"
)

// stack is the fully wired pipeline plus the resources that need
// closing when it is torn down.
type stack struct {
	pipe   *application.Pipeline
	ledger *state_sqlite.Store
}

func (s *stack) Close() error {
	return s.ledger.Close()
}

// buildStack assembles the pipeline from configuration: GitHub
// directory, git mirrors, content-addressed archive store, SQLite
// ledger and the external build trigger.
func buildStack(log *zap.Logger, cfg config.Config) (*stack, error) {
	ledger, err := state_sqlite.Open(cfg.StatePath(), state_sqlite.Options{
		Cooldown:    cfg.Build.Cooldown,
		MaxAttempts: cfg.Build.MaxAttempts,
	})
	if err != nil {
		return nil, err
	}

	store, err := archive_fs.New(cfg.ArchiveDir())
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	rules, err := cfg.Rules()
	if err != nil {
		_ = ledger.Close()
		return nil, err
	}

	gh := github_http.New(cfg.GitHub.BaseURL, cfg.GitHub.Token, cfg.GitHub.Timeout)
	mirror := mirror_git.New()
	trigger := trigger_exec.New(cfg.Build.Trigger, cfg.Build.UnavailableExit)

	registry := application.NewRegistry(log, gh, mirror, ledger,
		cfg.GitHub.Organization, cfg.MirrorDir(), cfg.Build.SyncWorkers, cfg.GitHub.ExcludePrefixes)
	snapshots := application.NewSnapshotGenerator(log, mirror, store, ledger)
	builds := application.NewOrchestrator(log, ledger, trigger, cfg.Build.Slots)
	pipe := application.NewPipeline(log, registry, snapshots, rules, ledger, builds, cfg.Build.SyncWorkers)
	pipe.PublishSummaries(summary_fs.New(cfg.SummaryPath()))

	return &stack{pipe: pipe, ledger: ledger}, nil
}
