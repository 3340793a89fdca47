package application

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	"go.uber.org/zap"
)

// Pipeline runs one full pass: reconcile stale state, sync the
// organization, snapshot and bind every advanced branch head, then
// dispatch pending builds. Per-update failures are contained and
// retried next pass; only the organization listing, the ledger, or a
// cancelled context abort the pass.
type Pipeline struct {
	log       *zap.Logger
	registry  *Registry
	snapshots *SnapshotGenerator
	rules     *domain.RuleSet
	ledger    domain.Ledger
	builds    *Orchestrator
	workers   int
	summary   domain.SummaryWriter
}

func NewPipeline(log *zap.Logger, registry *Registry, snapshots *SnapshotGenerator,
	rules *domain.RuleSet, ledger domain.Ledger, builds *Orchestrator, workers int) *Pipeline {
	if workers <= 0 {
		workers = 1
	}
	return &Pipeline{
		log: log, registry: registry, snapshots: snapshots,
		rules: rules, ledger: ledger, builds: builds, workers: workers,
	}
}

func (p *Pipeline) Run(ctx context.Context) error {
	if n, err := p.ledger.Reconcile(ctx); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	} else if n > 0 {
		p.log.Info("reverted stale in-progress records", zap.Int("count", n))
	}

	updates, err := p.registry.Sync(ctx)
	if err != nil {
		return fmt.Errorf("sync: %w", err)
	}

	var mu sync.Mutex
	var results []passResult

	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for u := range updates {
				res, err := p.inspect(ctx, u)
				if err != nil {
					p.log.Warn("branch update failed, will retry next pass",
						zap.String("repo", u.Repo.Name),
						zap.String("branch", u.Branch),
						zap.String("commit", u.Commit),
						zap.Error(err))
					continue
				}
				mu.Lock()
				results = append(results, res)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.record(ctx, results)

	if err := p.builds.Run(ctx); err != nil {
		return err
	}

	p.publishSummary(ctx)
	return nil
}

// PublishSummaries makes every completed pass write its ledger counts
// through w.
func (p *Pipeline) PublishSummaries(w domain.SummaryWriter) {
	p.summary = w
}

func (p *Pipeline) publishSummary(ctx context.Context) {
	if p.summary == nil {
		return
	}

	records, err := p.ledger.Records(ctx, false)
	if err != nil {
		p.log.Warn("loading records for summary failed", zap.Error(err))
		return
	}

	s := domain.PassSummary{FinishedAt: time.Now()}
	for _, rec := range records {
		switch rec.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInProgress:
			s.InProgress++
		case domain.StatusSucceeded:
			s.Succeeded++
		case domain.StatusFailed:
			s.Failed++
		}
	}

	if err := p.summary.Write(ctx, s); err != nil {
		p.log.Warn("writing pass summary failed", zap.Error(err))
	}
}

// passResult is one advanced branch with the pockets it wants to bind.
type passResult struct {
	update domain.RefUpdate
	refs   []domain.PocketRef
}

// inspect snapshots the commit and matches the branch against the
// pocket rules. Nothing is written to the build records yet; bindings
// are applied in record after the whole pass has been inspected.
func (p *Pipeline) inspect(ctx context.Context, u domain.RefUpdate) (passResult, error) {
	snap, err := p.snapshots.Ensure(ctx, u.Repo, u.Commit)
	if err != nil {
		return passResult{}, err
	}

	res := passResult{update: u}
	if snap.Buildable {
		res.refs = p.rules.Match(u.Branch)
	}
	return res, nil
}

// record applies the pass's bindings and persists branch heads. When
// two branches of one repository match the same target in a single
// pass, exactly one binds: the branch that matched the earlier pattern
// of its rule, ties going to the lexicographically smaller name. The
// losing branch's head is still persisted, so the target stays on the
// winning commit until either branch advances again.
func (p *Pipeline) record(ctx context.Context, results []passResult) {
	sort.Slice(results, func(i, j int) bool {
		a, b := results[i].update, results[j].update
		if a.Repo.Name != b.Repo.Name {
			return a.Repo.Name < b.Repo.Name
		}
		return a.Branch < b.Branch
	})

	type claim struct {
		branch   string
		priority int
	}
	winners := make(map[domain.BuildTarget]claim)
	for _, res := range results {
		for _, ref := range res.refs {
			t := domain.BuildTarget{Repo: res.update.Repo.Name, Codename: ref.Codename, Pocket: ref.Pocket}
			w, ok := winners[t]
			if !ok || ref.Priority < w.priority ||
				(ref.Priority == w.priority && res.update.Branch < w.branch) {
				winners[t] = claim{branch: res.update.Branch, priority: ref.Priority}
			}
		}
	}

	for _, res := range results {
		u := res.update
		recorded := true
		for _, ref := range res.refs {
			t := domain.BuildTarget{Repo: u.Repo.Name, Codename: ref.Codename, Pocket: ref.Pocket}
			if w := winners[t]; w.branch != u.Branch {
				p.log.Info("target contended, bound by another branch",
					zap.String("repo", u.Repo.Name),
					zap.String("codename", t.Codename),
					zap.String("pocket", t.Pocket),
					zap.String("branch", u.Branch),
					zap.String("winner", w.branch))
				continue
			}
			if err := p.ledger.RecordDesired(ctx, t, u.Commit); err != nil {
				p.log.Warn("recording binding failed, will retry next pass",
					zap.String("repo", u.Repo.Name),
					zap.String("branch", u.Branch),
					zap.Error(err))
				recorded = false
				break
			}
		}
		if !recorded {
			continue
		}

		// The head is persisted last: if anything above failed or the
		// process died, the branch replays on the next pass instead of
		// being silently dropped.
		if err := p.ledger.SetBranchHead(ctx, u.Repo.Name, u.Branch, u.Commit); err != nil {
			p.log.Warn("persisting branch head failed, will retry next pass",
				zap.String("repo", u.Repo.Name),
				zap.String("branch", u.Branch),
				zap.Error(err))
		}
	}
}
