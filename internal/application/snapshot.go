package application

import (
	"context"
	"io"

	"github.com/davarch/debfactory/internal/domain"
	"go.uber.org/zap"
)

// packagingPath is the marker whose presence makes a commit buildable.
const packagingPath = "debian/control"

// SnapshotGenerator materializes commits as content-addressed source
// archives, exactly once per commit. Commits without a packaging
// directory are recorded as non-buildable and get no archive.
type SnapshotGenerator struct {
	log    *zap.Logger
	mirror domain.Mirror
	store  domain.ArchiveStore
	ledger domain.Ledger
}

func NewSnapshotGenerator(log *zap.Logger, mirror domain.Mirror, store domain.ArchiveStore, ledger domain.Ledger) *SnapshotGenerator {
	return &SnapshotGenerator{log: log, mirror: mirror, store: store, ledger: ledger}
}

// Ensure returns the snapshot for the commit, creating it if needed.
// Idempotent: an already-recorded commit is returned as-is and the
// archive is never rebuilt. On storage failure the commit stays
// unsnapshotted so the next pass retries it.
func (g *SnapshotGenerator) Ensure(ctx context.Context, repo domain.Repository, commitID string) (domain.Snapshot, error) {
	if snap, ok, err := g.ledger.SnapshotRecord(ctx, commitID); err != nil {
		return domain.Snapshot{}, err
	} else if ok {
		return snap, nil
	}

	buildable, err := g.mirror.HasPath(ctx, repo, commitID, packagingPath)
	if err != nil {
		return domain.Snapshot{}, err
	}

	var snap domain.Snapshot
	if !buildable {
		g.log.Info("commit has no packaging directory, recording as non-buildable",
			zap.String("repo", repo.Name), zap.String("commit", commitID))
		snap = domain.Snapshot{CommitID: commitID}
	} else {
		snap, err = g.store.Publish(commitID, func(w io.Writer) error {
			return g.mirror.Archive(ctx, repo, commitID, w)
		})
		if err != nil {
			return domain.Snapshot{}, err
		}
		g.log.Debug("snapshot published",
			zap.String("repo", repo.Name),
			zap.String("commit", commitID),
			zap.String("digest", snap.Digest))
	}

	if err := g.ledger.RecordSnapshot(ctx, snap); err != nil {
		return domain.Snapshot{}, err
	}
	return snap, nil
}
