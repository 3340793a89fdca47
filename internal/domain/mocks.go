package domain

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"
)

type MockDirectory struct {
	Repos    []RemoteRepo
	Branches map[string][]RemoteBranch
	RepoErr  error
	// BranchErr fails ListBranches for the named repositories only.
	BranchErr map[string]error
	Called    int
}

func (d *MockDirectory) ListRepositories(ctx context.Context, org string) ([]RemoteRepo, error) {
	d.Called++
	if d.RepoErr != nil {
		return nil, d.RepoErr
	}
	return d.Repos, nil
}

func (d *MockDirectory) ListBranches(ctx context.Context, org, repo string) ([]RemoteBranch, error) {
	if err := d.BranchErr[repo]; err != nil {
		return nil, err
	}
	return d.Branches[repo], nil
}

type MockMirror struct {
	mu        sync.Mutex
	Ensured   []string
	EnsureErr map[string]error
	// Trees maps commit id to the paths present in that commit.
	Trees    map[string][]string
	Archives map[string][]byte
}

func (m *MockMirror) Ensure(ctx context.Context, repo Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.EnsureErr[repo.Name]; err != nil {
		return err
	}
	m.Ensured = append(m.Ensured, repo.Name)
	return nil
}

func (m *MockMirror) HasPath(ctx context.Context, repo Repository, commitID, path string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.Trees[commitID] {
		if p == path {
			return true, nil
		}
	}
	return false, nil
}

func (m *MockMirror) Archive(ctx context.Context, repo Repository, commitID string, w io.Writer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	content, ok := m.Archives[commitID]
	if !ok {
		content = []byte("tar:" + commitID)
	}
	_, err := w.Write(content)
	return err
}

type MockArchiveStore struct {
	mu    sync.Mutex
	Blobs map[string][]byte
	Err   error
}

func (s *MockArchiveStore) Lookup(commitID string) (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.Blobs[commitID]; ok {
		return Snapshot{CommitID: commitID, Digest: "digest-" + commitID, Location: commitID, Buildable: true}, true, nil
	}
	return Snapshot{}, false, nil
}

func (s *MockArchiveStore) Publish(commitID string, write func(io.Writer) error) (Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Err != nil {
		return Snapshot{}, s.Err
	}
	if _, ok := s.Blobs[commitID]; !ok {
		var buf bytes.Buffer
		if err := write(&buf); err != nil {
			return Snapshot{}, err
		}
		if s.Blobs == nil {
			s.Blobs = make(map[string][]byte)
		}
		s.Blobs[commitID] = buf.Bytes()
	}
	return Snapshot{CommitID: commitID, Digest: "digest-" + commitID, Location: commitID, Buildable: true}, nil
}

type MockTrigger struct {
	mu      sync.Mutex
	Results map[string]TriggerResult
	Err     error
	Delay   time.Duration
	Calls   []BuildTarget
}

func (t *MockTrigger) Trigger(ctx context.Context, target BuildTarget, snap Snapshot) (TriggerResult, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, target)
	res, ok := t.Results[target.Repo+"/"+target.Codename+"/"+target.Pocket]
	err := t.Err
	delay := t.Delay
	t.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return TriggerResult{}, ctx.Err()
		}
	}
	if err != nil {
		return TriggerResult{}, err
	}
	if !ok {
		return TriggerResult{Outcome: OutcomeSucceeded}, nil
	}
	return res, nil
}

func (t *MockTrigger) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// MockLedger is an in-memory Ledger with the same claim and
// supersession semantics as the SQLite implementation. Safe for
// concurrent use so orchestrator tests can hammer Claim from many
// workers.
type MockLedger struct {
	mu        sync.Mutex
	nextID    int64
	heads     map[string]map[string]string
	snapshots map[string]Snapshot
	records   []*BuildRecord

	Cooldown    time.Duration
	MaxAttempts int
}

func NewMockLedger() *MockLedger {
	return &MockLedger{
		heads:       make(map[string]map[string]string),
		snapshots:   make(map[string]Snapshot),
		Cooldown:    time.Hour,
		MaxAttempts: 3,
	}
}

func (l *MockLedger) BranchHeads(ctx context.Context, repo string) (map[string]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make(map[string]string, len(l.heads[repo]))
	for k, v := range l.heads[repo] {
		out[k] = v
	}
	return out, nil
}

func (l *MockLedger) SetBranchHead(ctx context.Context, repo, branch, commitID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.heads[repo] == nil {
		l.heads[repo] = make(map[string]string)
	}
	l.heads[repo][branch] = commitID
	return nil
}

func (l *MockLedger) SnapshotRecord(ctx context.Context, commitID string) (Snapshot, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	s, ok := l.snapshots[commitID]
	return s, ok, nil
}

func (l *MockLedger) RecordSnapshot(ctx context.Context, s Snapshot) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.snapshots[s.CommitID] = s
	return nil
}

func (l *MockLedger) RecordDesired(ctx context.Context, target BuildTarget, commitID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if active := l.active(target); active != nil {
		if active.CommitID == commitID {
			return nil
		}
		active.Superseded = true
	}
	l.nextID++
	l.records = append(l.records, &BuildRecord{
		ID:        l.nextID,
		Target:    target,
		CommitID:  commitID,
		Status:    StatusPending,
		UpdatedAt: time.Now(),
	})
	return nil
}

func (l *MockLedger) active(target BuildTarget) *BuildRecord {
	for _, r := range l.records {
		if !r.Superseded && r.Target == target {
			return r
		}
	}
	return nil
}

func (l *MockLedger) claimable(r *BuildRecord, now time.Time) bool {
	if r.Superseded {
		return false
	}
	switch r.Status {
	case StatusPending:
		return true
	case StatusFailed:
		return r.Attempts < l.MaxAttempts && now.Sub(r.LastAttempt) >= l.Cooldown
	default:
		return false
	}
}

func (l *MockLedger) PendingWork(ctx context.Context) ([]BuildRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	var out []BuildRecord
	for _, r := range l.records {
		if l.claimable(r, now) {
			out = append(out, *r)
		}
	}
	return out, nil
}

func (l *MockLedger) Claim(ctx context.Context, id int64) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == id {
			if !l.claimable(r, time.Now()) {
				return false, nil
			}
			r.Status = StatusInProgress
			r.LastAttempt = time.Now()
			r.UpdatedAt = time.Now()
			return true, nil
		}
	}
	return false, nil
}

func (l *MockLedger) RecordOutcome(ctx context.Context, id int64, status BuildStatus, reason string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, r := range l.records {
		if r.ID == id {
			r.Status = status
			r.Reason = reason
			if status == StatusFailed {
				r.Attempts++
			}
			r.UpdatedAt = time.Now()
			return nil
		}
	}
	return fmt.Errorf("no record %d", id)
}

func (l *MockLedger) Reconcile(ctx context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, r := range l.records {
		if !r.Superseded && r.Status == StatusInProgress {
			r.Status = StatusPending
			n++
		}
	}
	return n, nil
}

func (l *MockLedger) Override(ctx context.Context, target BuildTarget) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r := l.active(target); r != nil && r.Status == StatusFailed {
		r.Status = StatusPending
		r.Attempts = 0
		r.UpdatedAt = time.Now()
		return true, nil
	}
	return false, nil
}

func (l *MockLedger) Records(ctx context.Context, includeHistory bool) ([]BuildRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []BuildRecord
	for _, r := range l.records {
		if r.Superseded && !includeHistory {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}
