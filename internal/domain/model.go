package domain

import "time"

// BuildStatus is the lifecycle state of a build record. A record starts
// as pending, is claimed to in_progress by the orchestrator, and ends
// as succeeded or failed. Failed records become claimable again after
// the cooldown elapses, until the attempt budget runs out.
type BuildStatus string

const (
	StatusPending    BuildStatus = "pending"
	StatusInProgress BuildStatus = "in_progress"
	StatusSucceeded  BuildStatus = "succeeded"
	StatusFailed     BuildStatus = "failed"
)

// Repository is a discovered organization project with its local mirror.
type Repository struct {
	Name       string
	RemoteURL  string
	MirrorPath string
}

// RemoteRepo is a repository as reported by the directory listing.
type RemoteRepo struct {
	Name     string
	CloneURL string
}

// RemoteBranch is a branch head as reported by the directory listing.
type RemoteBranch struct {
	Name string
	Head string
}

// RefUpdate is one advanced branch head: this branch of this repository
// now points at this commit, and the previous pass had not seen it.
type RefUpdate struct {
	Repo   Repository
	Branch string
	Commit string
}

// Snapshot is the content-addressed source archive of one commit.
// Non-buildable commits (no packaging directory) are recorded with
// Buildable false and carry no archive.
type Snapshot struct {
	CommitID  string
	Digest    string
	Location  string
	Buildable bool
}

// BuildTarget identifies a repository's packaging destination within a
// release pocket.
type BuildTarget struct {
	Repo     string
	Codename string
	Pocket   string
}

// BuildRecord tracks the most recent commit bound to a target. History
// is append-only: a newer commit supersedes the old record instead of
// rewriting it.
type BuildRecord struct {
	ID          int64
	Target      BuildTarget
	CommitID    string
	Status      BuildStatus
	Attempts    int
	LastAttempt time.Time
	Reason      string
	Superseded  bool
	UpdatedAt   time.Time
}

// TriggerOutcome classifies a build-trigger invocation. Unavailable
// means the builder could not be reached at all; it is retried in place
// and does not count against the attempt budget.
type TriggerOutcome int

const (
	OutcomeSucceeded TriggerOutcome = iota
	OutcomeFailed
	OutcomeUnavailable
)

// TriggerResult is what the build-trigger collaborator reported.
type TriggerResult struct {
	Outcome TriggerOutcome
	Reason  string
}

// PassSummary is the ledger's shape at the end of one pipeline pass.
type PassSummary struct {
	FinishedAt time.Time
	Pending    int
	InProgress int
	Succeeded  int
	Failed     int
}
