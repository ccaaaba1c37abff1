package correlation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/HerbHall/netcorrelate/internal/correlation"
	"github.com/HerbHall/netcorrelate/internal/services"
	"github.com/HerbHall/netcorrelate/internal/testutil"
	"github.com/HerbHall/netcorrelate/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedConflict(t *testing.T, f *fixture) (models.Host, models.Host, models.Conflict) {
	t.Helper()
	x := f.seed(t, testutil.WithIP("10.0.0.1"), testutil.WithHostname("web01"), testutil.WithMAC(macA))
	y := f.seed(t, testutil.WithIP("10.0.0.2"), testutil.WithHostname("web01"), testutil.WithMAC(macB))
	f.run(t)
	open := f.conflicts(t, services.ConflictFilter{Status: models.ConflictUnresolved})
	require.Len(t, open, 1)
	return x, y, open[0]
}

func TestService_ResolveConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _, c := seedConflict(t, f)

	_, err := f.service.ResolveConflict(ctx, c.ID, "two boxes", "  ")
	require.ErrorIs(t, err, correlation.ErrValidation)

	got, err := f.service.ResolveConflict(ctx, c.ID, "two boxes", "alice")
	require.NoError(t, err)
	assert.Equal(t, models.ConflictResolved, got.Status)
	assert.Equal(t, models.ResolutionManual, got.ResolutionMethod)
	assert.Equal(t, "two boxes", got.Resolution)
	assert.Equal(t, "alice", got.ResolvedBy)
	assert.Len(t, f.hosts(t), 2, "resolving never merges")

	_, err = f.service.ResolveConflict(ctx, c.ID, "again", "bob")
	assert.ErrorIs(t, err, correlation.ErrAlreadyResolved)

	_, err = f.service.ResolveConflict(ctx, "missing", "x", "bob")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestService_ListConflictsFilters(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x, _, c := seedConflict(t, f)

	byHost := f.conflicts(t, services.ConflictFilter{HostGUID: x.GUID})
	require.Len(t, byHost, 1)
	assert.Equal(t, c.ID, byHost[0].ID)

	assert.Empty(t, f.conflicts(t, services.ConflictFilter{Status: models.ConflictResolved}))

	_, err := f.service.ListConflicts(ctx, services.ConflictFilter{Status: "bogus"}, services.ListOptions{})
	assert.ErrorIs(t, err, correlation.ErrValidation)
}

func TestService_MergeHostsValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.seed(t, testutil.WithIP("10.0.0.1"))

	_, err := f.service.MergeHosts(ctx, x.GUID, x.GUID, "alice")
	assert.ErrorIs(t, err, correlation.ErrValidation)

	_, err = f.service.MergeHosts(ctx, x.GUID, "missing", "alice")
	assert.ErrorIs(t, err, services.ErrNotFound)

	_, err = f.service.MergeHosts(ctx, "", x.GUID, "alice")
	assert.ErrorIs(t, err, correlation.ErrValidation)

	assert.Len(t, f.hosts(t), 1)
}

// rollbackMerger runs the caller's in-transaction work and then fails, so
// the whole merge must roll back.
type rollbackMerger struct {
	next correlation.Merger
}

func (m *rollbackMerger) Merge(ctx context.Context, survivor string, donors []string, opts correlation.MergeOptions) (*models.Host, error) {
	inner := opts.InTx
	opts.InTx = func(ctx context.Context, tx services.DBTX) error {
		if inner != nil {
			if err := inner(ctx, tx); err != nil {
				return err
			}
		}
		return errors.New("commit refused")
	}
	return m.next.Merge(ctx, survivor, donors, opts)
}

func TestService_MergeHostsResolvesConflictAtomically(t *testing.T) {
	ctx := context.Background()

	t.Run("commit", func(t *testing.T) {
		f := newFixture(t)
		x, y, c := seedConflict(t, f)

		merged, err := f.service.MergeHosts(ctx, x.GUID, y.GUID, "alice")
		require.NoError(t, err)
		assert.Equal(t, x.GUID, merged.GUID)

		got, err := f.service.GetConflict(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConflictResolved, got.Status)
		assert.Equal(t, models.ResolutionManualMerge, got.ResolutionMethod)
		assert.Equal(t, "alice", got.ResolvedBy)
	})

	t.Run("rollback", func(t *testing.T) {
		rm := &rollbackMerger{}
		f := newFixture(t, correlation.WithMerger(rm))
		rm.next = correlation.NewMerger(f.store, f.clock.Now)
		x, y, c := seedConflict(t, f)

		_, err := f.service.MergeHosts(ctx, x.GUID, y.GUID, "alice")
		require.Error(t, err)

		assert.ElementsMatch(t, []string{x.GUID, y.GUID}, guidsOf(f.hosts(t)))
		got, err := f.service.GetConflict(ctx, c.ID)
		require.NoError(t, err)
		assert.Equal(t, models.ConflictUnresolved, got.Status, "a failed merge leaves the conflict open")
		assert.Empty(t, f.mergeEvents(t, services.MergeEventFilter{Method: models.MergeManual}))
	})
}

func TestService_UnifiedHostView(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	x := f.seed(t, testutil.WithIP("10.0.0.1"), testutil.WithMAC(macA))
	y := f.seed(t, testutil.WithIP("10.0.0.3"), testutil.WithMAC(macA))
	z := f.seed(t, testutil.WithIP("10.0.0.2"), testutil.WithMAC(macA))
	alone := f.seed(t, testutil.WithIP("10.0.0.9"))
	f.run(t)

	view, err := f.service.GetUnifiedHostView(ctx, x.GUID)
	require.NoError(t, err)
	assert.Equal(t, x.GUID, view.Host.GUID)
	assert.Equal(t, []string{z.GUID, y.GUID}, guidsOf(view.LinkedDevices), "siblings ordered by IP")
	require.Len(t, view.Identities, 1)
	assert.Equal(t, macA, view.Identities[0].MACAddress)

	solo, err := f.service.GetUnifiedHostView(ctx, alone.GUID)
	require.NoError(t, err)
	assert.Empty(t, solo.LinkedDevices)
	assert.Empty(t, solo.Identities)

	_, err = f.service.GetUnifiedHostView(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
}
