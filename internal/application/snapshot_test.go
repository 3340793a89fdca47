package application

import (
	"context"
	"errors"
	"testing"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSnapshotEnsure_PublishesBuildableCommit(t *testing.T) {
	mirror := &domain.MockMirror{Trees: map[string][]string{"abc": {"debian/control", "src/main.rs"}}}
	store := &domain.MockArchiveStore{}
	ledger := domain.NewMockLedger()

	g := NewSnapshotGenerator(zap.NewNop(), mirror, store, ledger)
	snap, err := g.Ensure(context.Background(), domain.Repository{Name: "shell"}, "abc")
	require.NoError(t, err)

	assert.True(t, snap.Buildable)
	assert.Equal(t, "abc", snap.CommitID)
	assert.NotEmpty(t, snap.Digest)
	assert.Contains(t, store.Blobs, "abc")

	recorded, ok, err := ledger.SnapshotRecord(context.Background(), "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, snap, recorded)
}

func TestSnapshotEnsure_Idempotent(t *testing.T) {
	mirror := &domain.MockMirror{Trees: map[string][]string{"abc": {"debian/control"}}}
	store := &domain.MockArchiveStore{}
	ledger := domain.NewMockLedger()

	g := NewSnapshotGenerator(zap.NewNop(), mirror, store, ledger)
	first, err := g.Ensure(context.Background(), domain.Repository{Name: "shell"}, "abc")
	require.NoError(t, err)

	// Second call must come straight from the ledger, not the mirror.
	mirror.Trees = nil
	again, err := g.Ensure(context.Background(), domain.Repository{Name: "shell"}, "abc")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestSnapshotEnsure_NonBuildableGetsNoArchive(t *testing.T) {
	mirror := &domain.MockMirror{Trees: map[string][]string{"abc": {"README.md"}}}
	store := &domain.MockArchiveStore{}
	ledger := domain.NewMockLedger()

	g := NewSnapshotGenerator(zap.NewNop(), mirror, store, ledger)
	snap, err := g.Ensure(context.Background(), domain.Repository{Name: "docs"}, "abc")
	require.NoError(t, err)

	assert.False(t, snap.Buildable)
	assert.Empty(t, snap.Digest)
	assert.Empty(t, store.Blobs)

	_, ok, err := ledger.SnapshotRecord(context.Background(), "abc")
	require.NoError(t, err)
	assert.True(t, ok, "non-buildable commit still recorded so it is not re-inspected")
}

func TestSnapshotEnsure_StorageFailureLeavesCommitUnsnapshotted(t *testing.T) {
	mirror := &domain.MockMirror{Trees: map[string][]string{"abc": {"debian/control"}}}
	store := &domain.MockArchiveStore{Err: errors.New("disk full")}
	ledger := domain.NewMockLedger()

	g := NewSnapshotGenerator(zap.NewNop(), mirror, store, ledger)
	_, err := g.Ensure(context.Background(), domain.Repository{Name: "shell"}, "abc")
	require.Error(t, err)

	_, ok, err := ledger.SnapshotRecord(context.Background(), "abc")
	require.NoError(t, err)
	assert.False(t, ok, "failed publish must not leave a ledger record")
}
