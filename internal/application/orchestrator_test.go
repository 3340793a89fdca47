package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/davarch/debfactory/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var shellMain = domain.BuildTarget{Repo: "shell", Codename: "jammy", Pocket: "main"}

func seedRecord(t *testing.T, ledger *domain.MockLedger, target domain.BuildTarget, commitID string) {
	t.Helper()
	require.NoError(t, ledger.RecordSnapshot(context.Background(), domain.Snapshot{
		CommitID: commitID, Digest: "digest-" + commitID, Location: "/archives/" + commitID, Buildable: true,
	}))
	require.NoError(t, ledger.RecordDesired(context.Background(), target, commitID))
}

func activeRecord(t *testing.T, ledger *domain.MockLedger, target domain.BuildTarget) domain.BuildRecord {
	t.Helper()
	records, err := ledger.Records(context.Background(), false)
	require.NoError(t, err)
	for _, r := range records {
		if r.Target == target {
			return r
		}
	}
	t.Fatalf("no active record for %+v", target)
	return domain.BuildRecord{}
}

func TestOrchestratorRun_SuccessRecorded(t *testing.T) {
	ledger := domain.NewMockLedger()
	seedRecord(t, ledger, shellMain, "abc")
	trigger := &domain.MockTrigger{}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 2)
	require.NoError(t, o.Run(context.Background()))

	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusSucceeded, rec.Status)
	assert.Equal(t, 0, rec.Attempts)
	assert.Equal(t, 1, trigger.CallCount())
}

func TestOrchestratorRun_FailureCountsAttempt(t *testing.T) {
	ledger := domain.NewMockLedger()
	seedRecord(t, ledger, shellMain, "abc")
	trigger := &domain.MockTrigger{Results: map[string]domain.TriggerResult{
		"shell/jammy/main": {Outcome: domain.OutcomeFailed, Reason: "dpkg-buildpackage: error"},
	}}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 2)
	require.NoError(t, o.Run(context.Background()))

	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusFailed, rec.Status)
	assert.Equal(t, 1, rec.Attempts)
	assert.Equal(t, "dpkg-buildpackage: error", rec.Reason)
}

func TestOrchestratorRun_UnavailableReleasedUncounted(t *testing.T) {
	ledger := domain.NewMockLedger()
	seedRecord(t, ledger, shellMain, "abc")
	trigger := &domain.MockTrigger{Results: map[string]domain.TriggerResult{
		"shell/jammy/main": {Outcome: domain.OutcomeUnavailable, Reason: "builder offline"},
	}}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 2)
	o.unavailableRetry = 50 * time.Millisecond
	require.NoError(t, o.Run(context.Background()))

	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Equal(t, 0, rec.Attempts, "unavailability must not consume the attempt budget")
	assert.GreaterOrEqual(t, trigger.CallCount(), 2, "unavailable builder is retried in place")
}

func TestOrchestratorRun_MissingSnapshotReleases(t *testing.T) {
	ledger := domain.NewMockLedger()
	require.NoError(t, ledger.RecordDesired(context.Background(), shellMain, "abc"))
	trigger := &domain.MockTrigger{}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 2)
	require.NoError(t, o.Run(context.Background()))

	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusPending, rec.Status)
	assert.Zero(t, trigger.CallCount())
}

func TestOrchestratorRun_ConcurrentPassesDispatchOnce(t *testing.T) {
	ledger := domain.NewMockLedger()
	seedRecord(t, ledger, shellMain, "abc")
	trigger := &domain.MockTrigger{Delay: 50 * time.Millisecond}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 4)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, o.Run(context.Background()))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, trigger.CallCount(), "only one pass may claim the record")
	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusSucceeded, rec.Status)
}

func TestOrchestratorRun_ShutdownReleasesClaimUncounted(t *testing.T) {
	ledger := domain.NewMockLedger()
	seedRecord(t, ledger, shellMain, "abc")
	trigger := &domain.MockTrigger{Delay: time.Minute}

	o := NewOrchestrator(zap.NewNop(), ledger, trigger, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	require.Error(t, o.Run(ctx))

	rec := activeRecord(t, ledger, shellMain)
	assert.Equal(t, domain.StatusPending, rec.Status, "interrupted build goes back to pending")
	assert.Equal(t, 0, rec.Attempts, "shutdown must not consume the attempt budget")
}

func TestOrchestratorRun_NothingPendingIsNoop(t *testing.T) {
	trigger := &domain.MockTrigger{}
	o := NewOrchestrator(zap.NewNop(), domain.NewMockLedger(), trigger, 2)
	require.NoError(t, o.Run(context.Background()))
	assert.Zero(t, trigger.CallCount())
}
