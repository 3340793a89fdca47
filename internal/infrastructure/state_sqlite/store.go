package state_sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

const currentSchemaVersion = 1

// Options carry the retry policy the ledger applies when deciding
// which failed records are claimable again.
type Options struct {
	Cooldown    time.Duration
	MaxAttempts int
}

// Store is the durable ledger behind the build state tracker. SQLite
// with WAL mode; a single writer connection avoids SQLITE_BUSY, and
// all status transitions are guarded UPDATEs so claims stay atomic.
type Store struct {
	db          *sql.DB
	cooldown    time.Duration
	maxAttempts int
	now         func() time.Time
}

func Open(path string, opts Options) (*Store, error) {
	if opts.Cooldown <= 0 {
		return nil, errors.New("cooldown must be positive")
	}
	if opts.MaxAttempts <= 0 {
		return nil, errors.New("max attempts must be positive")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set user_version: %w", err)
	}

	return &Store{
		db:          db,
		cooldown:    opts.Cooldown,
		maxAttempts: opts.MaxAttempts,
		now:         time.Now,
	}, nil
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) BranchHeads(ctx context.Context, repo string) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT branch, commit_id FROM branch_heads WHERE repo = ?`, repo)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	heads := make(map[string]string)
	for rows.Next() {
		var branch, commit string
		if err := rows.Scan(&branch, &commit); err != nil {
			return nil, err
		}
		heads[branch] = commit
	}
	return heads, rows.Err()
}

func (s *Store) SetBranchHead(ctx context.Context, repo, branch, commitID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO branch_heads (repo, branch, commit_id, seen_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (repo, branch) DO UPDATE SET commit_id = excluded.commit_id, seen_at = excluded.seen_at`,
		repo, branch, commitID, s.now().UnixMilli())
	return err
}

func (s *Store) SnapshotRecord(ctx context.Context, commitID string) (domain.Snapshot, bool, error) {
	var snap domain.Snapshot
	var buildable int
	err := s.db.QueryRowContext(ctx, `
		SELECT commit_id, digest, location, buildable FROM snapshots WHERE commit_id = ?`,
		commitID).Scan(&snap.CommitID, &snap.Digest, &snap.Location, &buildable)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Snapshot{}, false, nil
	}
	if err != nil {
		return domain.Snapshot{}, false, err
	}
	snap.Buildable = buildable != 0
	return snap, true, nil
}

func (s *Store) RecordSnapshot(ctx context.Context, snap domain.Snapshot) error {
	// Snapshots are immutable: re-recording the same commit is a no-op.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (commit_id, digest, location, buildable, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (commit_id) DO NOTHING`,
		snap.CommitID, snap.Digest, snap.Location, boolInt(snap.Buildable), s.now().UnixMilli())
	return err
}

func (s *Store) RecordDesired(ctx context.Context, target domain.BuildTarget, commitID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var activeID int64
	var activeCommit string
	err = tx.QueryRowContext(ctx, `
		SELECT id, commit_id FROM build_records
		WHERE repo = ? AND codename = ? AND pocket = ? AND superseded = 0`,
		target.Repo, target.Codename, target.Pocket).Scan(&activeID, &activeCommit)

	now := s.now().UnixMilli()
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// First binding for this target.
	case err != nil:
		return err
	case activeCommit == commitID:
		return nil
	default:
		// A newer commit cancels the stale binding; the old row stays
		// as history.
		if _, err := tx.ExecContext(ctx, `
			UPDATE build_records SET superseded = 1, updated_at = ? WHERE id = ?`,
			now, activeID); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO build_records (repo, codename, pocket, commit_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		target.Repo, target.Codename, target.Pocket, commitID, domain.StatusPending, now, now); err != nil {
		return err
	}

	return tx.Commit()
}

// claimableWhere matches records the orchestrator may take: pending,
// or failed past cooldown with attempt budget left.
const claimableWhere = `superseded = 0 AND (
	status = 'pending'
	OR (status = 'failed' AND attempts < ? AND last_attempt <= ?)
)`

func (s *Store) PendingWork(ctx context.Context) ([]domain.BuildRecord, error) {
	cutoff := s.now().Add(-s.cooldown).UnixMilli()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, repo, codename, pocket, commit_id, status, attempts, last_attempt, reason, superseded, updated_at
		FROM build_records WHERE `+claimableWhere+` ORDER BY id`,
		s.maxAttempts, cutoff)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func (s *Store) Claim(ctx context.Context, id int64) (bool, error) {
	now := s.now()
	cutoff := now.Add(-s.cooldown).UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		UPDATE build_records
		SET status = 'in_progress', last_attempt = ?, updated_at = ?
		WHERE id = ? AND `+claimableWhere,
		now.UnixMilli(), now.UnixMilli(), id, s.maxAttempts, cutoff)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// RecordOutcome finalizes a build attempt. Only a recorded failure
// consumes the attempt budget; releasing a record back to pending
// (builder unavailable) costs nothing.
func (s *Store) RecordOutcome(ctx context.Context, id int64, status domain.BuildStatus, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE build_records
		SET status = ?, reason = ?, updated_at = ?,
		    attempts = attempts + (CASE WHEN ? = 'failed' THEN 1 ELSE 0 END)
		WHERE id = ?`,
		status, reason, s.now().UnixMilli(), status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("no build record %d", id)
	}
	return nil
}

func (s *Store) Reconcile(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE build_records SET status = 'pending', updated_at = ?
		WHERE status = 'in_progress' AND superseded = 0`,
		s.now().UnixMilli())
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) Override(ctx context.Context, target domain.BuildTarget) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE build_records SET status = 'pending', attempts = 0, reason = '', updated_at = ?
		WHERE repo = ? AND codename = ? AND pocket = ? AND superseded = 0 AND status = 'failed'`,
		s.now().UnixMilli(), target.Repo, target.Codename, target.Pocket)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

func (s *Store) Records(ctx context.Context, includeHistory bool) ([]domain.BuildRecord, error) {
	query := `
		SELECT id, repo, codename, pocket, commit_id, status, attempts, last_attempt, reason, superseded, updated_at
		FROM build_records`
	if !includeHistory {
		query += ` WHERE superseded = 0`
	}
	query += ` ORDER BY repo, codename, pocket, id`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	return scanRecords(rows)
}

func scanRecords(rows *sql.Rows) ([]domain.BuildRecord, error) {
	var out []domain.BuildRecord
	for rows.Next() {
		var r domain.BuildRecord
		var lastAttempt, updatedAt int64
		var superseded int
		if err := rows.Scan(&r.ID, &r.Target.Repo, &r.Target.Codename, &r.Target.Pocket,
			&r.CommitID, &r.Status, &r.Attempts, &lastAttempt, &r.Reason, &superseded, &updatedAt); err != nil {
			return nil, err
		}
		if lastAttempt > 0 {
			r.LastAttempt = time.UnixMilli(lastAttempt)
		}
		r.UpdatedAt = time.UnixMilli(updatedAt)
		r.Superseded = superseded != 0
		out = append(out, r)
	}
	return out, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
