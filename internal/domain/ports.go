package domain

import (
	"context"
	"io"
)

// Directory lists an organization's repositories and branch heads.
// Failures are retriable per repository, never pipeline-fatal.
type Directory interface {
	ListRepositories(ctx context.Context, org string) ([]RemoteRepo, error)
	ListBranches(ctx context.Context, org, repo string) ([]RemoteBranch, error)
}

// Mirror manages the local clone of one repository. Callers must not
// run two operations against the same repository concurrently; the
// registry serializes per-repo access.
type Mirror interface {
	// Ensure clones the repository if absent, fetches otherwise.
	// A corrupted mirror is removed and re-cloned.
	Ensure(ctx context.Context, repo Repository) error
	// HasPath reports whether path exists in the commit's tree.
	HasPath(ctx context.Context, repo Repository, commitID, path string) (bool, error)
	// Archive writes a deterministic tar of the commit's tree to w.
	Archive(ctx context.Context, repo Repository, commitID string, w io.Writer) error
}

// ArchiveStore is the content-addressed blob store for snapshots,
// keyed by commit id. Writes are staged and published atomically;
// publishing an already-stored commit is a no-op returning the
// existing snapshot.
type ArchiveStore interface {
	Lookup(commitID string) (Snapshot, bool, error)
	Publish(commitID string, write func(io.Writer) error) (Snapshot, error)
}

// Ledger is the single source of truth for branch heads, snapshot
// records, and build records. All status transitions go through it;
// Claim is atomic so two workers can never take the same record.
type Ledger interface {
	BranchHeads(ctx context.Context, repo string) (map[string]string, error)
	SetBranchHead(ctx context.Context, repo, branch, commitID string) error

	SnapshotRecord(ctx context.Context, commitID string) (Snapshot, bool, error)
	RecordSnapshot(ctx context.Context, s Snapshot) error

	// RecordDesired binds a commit to a target. A differing in-flight
	// record for the target is superseded; binding the already-tracked
	// commit is a no-op.
	RecordDesired(ctx context.Context, target BuildTarget, commitID string) error
	// PendingWork returns claimable records: pending ones plus failed
	// ones whose cooldown elapsed and attempt budget remains.
	PendingWork(ctx context.Context) ([]BuildRecord, error)
	// Claim transitions a record to in_progress. Returns false if the
	// record was already claimed, superseded, or otherwise no longer
	// claimable.
	Claim(ctx context.Context, id int64) (bool, error)
	// RecordOutcome finalizes an attempt. A failed outcome consumes
	// one unit of the attempt budget; recording pending releases the
	// claim without cost (builder unavailable).
	RecordOutcome(ctx context.Context, id int64, status BuildStatus, reason string) error
	// Reconcile reverts stale in_progress records to pending. Run at
	// startup: an unconfirmed build cannot be assumed successful.
	Reconcile(ctx context.Context) (int, error)
	// Override resets a failed target to pending regardless of
	// cooldown or attempt budget.
	Override(ctx context.Context, target BuildTarget) (bool, error)
	Records(ctx context.Context, includeHistory bool) ([]BuildRecord, error)
}

// Trigger is the boundary to the actual package builder. The error
// return is for invocation plumbing only; build results travel in
// TriggerResult.
type Trigger interface {
	Trigger(ctx context.Context, target BuildTarget, snap Snapshot) (TriggerResult, error)
}

// SummaryWriter publishes the state of the ledger after a pass for
// external consumers (dashboards, monitoring scrapers).
type SummaryWriter interface {
	Write(ctx context.Context, s PassSummary) error
}
