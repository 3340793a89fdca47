package application

import (
	"context"
	"path/filepath"
	"strings"
	"sync"

	"github.com/davarch/debfactory/internal/domain"
	"go.uber.org/zap"
)

// Registry discovers the organization's repositories, keeps their
// local mirrors current, and emits every branch head that advanced
// since the last pass. A repository that fails to list or fetch is
// skipped for the pass and retried on the next one; it never blocks
// the others.
type Registry struct {
	log       *zap.Logger
	dir       domain.Directory
	mirror    domain.Mirror
	ledger    domain.Ledger
	org       string
	mirrorDir string
	workers   int
	exclude   []string
}

func NewRegistry(log *zap.Logger, dir domain.Directory, mirror domain.Mirror, ledger domain.Ledger,
	org, mirrorDir string, workers int, exclude []string) *Registry {
	if workers <= 0 {
		workers = 1
	}
	return &Registry{
		log: log, dir: dir, mirror: mirror, ledger: ledger,
		org: org, mirrorDir: mirrorDir, workers: workers, exclude: exclude,
	}
}

// Sync lists the organization and streams advanced branch heads.
// Repositories are processed by a bounded worker pool; each repository
// is handled by exactly one worker, which keeps its git operations
// serialized. The returned channel closes when the pass is complete
// or ctx is cancelled. Only the organization listing itself is fatal
// for the pass.
func (r *Registry) Sync(ctx context.Context) (<-chan domain.RefUpdate, error) {
	repos, err := r.dir.ListRepositories(ctx, r.org)
	if err != nil {
		return nil, err
	}

	out := make(chan domain.RefUpdate)
	jobs := make(chan domain.RemoteRepo)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for repo := range jobs {
				r.syncRepo(ctx, repo, out)
			}
		}()
	}

	go func() {
		defer close(out)
	feed:
		for _, repo := range repos {
			if r.excluded(repo.Name) {
				continue
			}
			select {
			case jobs <- repo:
			case <-ctx.Done():
				break feed
			}
		}
		close(jobs)
		wg.Wait()
	}()

	return out, nil
}

func (r *Registry) syncRepo(ctx context.Context, remote domain.RemoteRepo, out chan<- domain.RefUpdate) {
	repo := domain.Repository{
		Name:       remote.Name,
		RemoteURL:  remote.CloneURL,
		MirrorPath: filepath.Join(r.mirrorDir, remote.Name+".git"),
	}

	branches, err := r.dir.ListBranches(ctx, r.org, repo.Name)
	if err != nil {
		r.log.Warn("branch listing failed, skipping repository this pass",
			zap.String("repo", repo.Name), zap.Error(err))
		return
	}

	heads, err := r.ledger.BranchHeads(ctx, repo.Name)
	if err != nil {
		r.log.Warn("loading branch heads failed",
			zap.String("repo", repo.Name), zap.Error(err))
		return
	}

	var advanced []domain.RemoteBranch
	for _, b := range branches {
		// Slash-named refs (feature/..., wip/...) never feed pockets.
		if strings.Contains(b.Name, "/") {
			continue
		}
		if heads[b.Name] != b.Head {
			advanced = append(advanced, b)
		}
	}
	if len(advanced) == 0 {
		return
	}

	if err := r.mirror.Ensure(ctx, repo); err != nil {
		r.log.Warn("mirror sync failed, skipping repository this pass",
			zap.String("repo", repo.Name), zap.Error(err))
		return
	}

	for _, b := range advanced {
		select {
		case out <- domain.RefUpdate{Repo: repo, Branch: b.Name, Commit: b.Head}:
		case <-ctx.Done():
			return
		}
	}
}

func (r *Registry) excluded(name string) bool {
	for _, prefix := range r.exclude {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}
