package zbd_test

import (
	"testing"
	"time"

	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/buildbarn/bb-zoned-storage/internal/mock"
	"github.com/buildbarn/bb-zoned-storage/pkg/zbd"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func resetIOZone(t *testing.T, z *zbd.Zone) {
	require.True(t, z.Acquire())
	require.NoError(t, z.Reset())
	require.NoError(t, z.CheckRelease())
}

func TestWearLevelingTrigger(t *testing.T) {
	// 35 zones, reset ratio threshold of 10%. The wear-leveling
	// worker must be woken exactly when the reset rate crosses the
	// threshold, not on every reset.
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{
		ResetRatioThreshold: 10,
	})
	z := device.GetIOZone(3 * testZoneSize)

	// No triggers until the total reset count exceeds the zone
	// count and the diff reaches one reset per zone.
	for i := 0; i < 69; i++ {
		resetIOZone(t, z)
	}
	require.Equal(t, uint64(0), device.WearLevelingWakeupCount())

	// Reset 70: diff = 70-35 = 35 >= 35 and 100*35 > 70*10.
	resetIOZone(t, z)
	require.Equal(t, uint64(1), device.WearLevelingWakeupCount())
	require.Equal(t, uint32(70), device.GetCheckResetCount())

	// No further wakeups until the next crossing at 105.
	for i := 0; i < 34; i++ {
		resetIOZone(t, z)
	}
	require.Equal(t, uint64(1), device.WearLevelingWakeupCount())
	resetIOZone(t, z)
	require.Equal(t, uint64(2), device.WearLevelingWakeupCount())
	require.Equal(t, float64(10), device.GetResetRatioThreshold())

	// The third consecutive trigger damps the threshold, as the
	// reset count spread keeps growing.
	for i := 0; i < 35; i++ {
		resetIOZone(t, z)
	}
	require.Equal(t, uint64(3), device.WearLevelingWakeupCount())
	require.Less(t, device.GetResetRatioThreshold(), float64(10))
}

func TestGetLeastResetCountZone(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	t.Run("NoCandidate", func(t *testing.T) {
		_, err := device.GetLeastResetCountZone()
		testutil.RequireEqualStatus(
			t,
			status.Error(codes.NotFound, "The zone with the fewest resets was not found"),
			err)
	})

	// zWorn and zFresh both hold live long-lived data with
	// reclaimable garbage; zPinned has no garbage to reclaim.
	zWorn := device.GetIOZone(3 * testZoneSize)
	zFresh := device.GetIOZone(4 * testZoneSize)
	zPinned := device.GetIOZone(5 * testZoneSize)
	for _, z := range []*zbd.Zone{zWorn, zFresh, zPinned} {
		require.True(t, z.Acquire())
		require.NoError(t, z.Append(make([]byte, 4*testBlockSize)))
		z.SetLifetimeHint(zbd.WriteLifetimeExtreme)
		require.NoError(t, z.CheckRelease())
	}
	zWorn.AdjustUsedCapacity(2 * testBlockSize)
	zFresh.AdjustUsedCapacity(2 * testBlockSize)
	zPinned.AdjustUsedCapacity(4 * testBlockSize)

	resetCounts := make([]uint32, device.NrIOZones())
	resetCounts[0] = 4
	resetCounts[1] = 1
	resetCounts[2] = 8
	require.NoError(t, device.SetIOZoneResetCounts(resetCounts))

	t.Run("LowestScoreWins", func(t *testing.T) {
		// zFresh has the lowest reset_count*max/reclaimable
		// score: a barely worn zone pinned by live long-lived
		// data.
		z, err := device.GetLeastResetCountZone()
		require.NoError(t, err)
		require.Same(t, zFresh, z)
	})
}

func TestGetLifetimeZeroZones(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	zTagged := device.GetIOZone(3 * testZoneSize)
	zUntagged := device.GetIOZone(4 * testZoneSize)
	for _, z := range []*zbd.Zone{zTagged, zUntagged} {
		require.True(t, z.Acquire())
		require.NoError(t, z.Append(make([]byte, testBlockSize)))
		z.AdjustUsedCapacity(testBlockSize)
		require.NoError(t, z.CheckRelease())
	}
	zTagged.SetLifetimeHint(zbd.WriteLifetimeLong)

	require.Equal(t, []*zbd.Zone{zUntagged}, device.GetLifetimeZeroZones())
}

func TestGetMigrateTargetZone(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	// All zones are empty; the most worn one must be picked, so
	// that cold migrated data stops its wear from increasing.
	resetCounts := make([]uint32, device.NrIOZones())
	resetCounts[0] = 2
	resetCounts[5] = 7
	require.NoError(t, device.SetIOZoneResetCounts(resetCounts))

	target, err := device.GetMigrateTargetZone(zbd.WriteLifetimeShort, 1<<20)
	require.NoError(t, err)
	require.Equal(t, uint32(7), target.ResetCount())
	require.True(t, target.IsBusy())
	require.Equal(t, zbd.WriteLifetimeShort, target.LifetimeHint())
	require.Equal(t, int64(1), device.OpenIOZoneCount())
	require.Equal(t, int64(1), device.ActiveIOZoneCount())

	// A concurrent migration must wait until the first one is
	// released.
	taken := make(chan *zbd.Zone, 1)
	go func() {
		z, _ := device.TakeMigrateZone(zbd.WriteLifetimeShort, testBlockSize)
		taken <- z
	}()
	select {
	case <-taken:
		t.Fatal("A second migration should not have started while the first is in flight")
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, device.ReleaseMigrateZone(target))
	require.False(t, target.IsBusy())

	// The waiter wakes up. No open zone holds live data, so it
	// legitimately finds nothing.
	require.Nil(t, <-taken)
}

func TestGetMigrateTargetZoneNonEmptyFallback(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	// Leave no zone empty, so that the target must be an already
	// active zone with a compatible lifetime.
	for i := 0; i < device.NrIOZones(); i++ {
		z := device.GetIOZone(uint64(3+i) * testZoneSize)
		require.True(t, z.Acquire())
		require.NoError(t, z.Append(make([]byte, 128*testBlockSize)))
		require.NoError(t, z.CheckRelease())
	}

	zSmallGarbage := device.GetIOZone(3 * testZoneSize)
	zSmallGarbage.AdjustUsedCapacity(120 * testBlockSize)
	zSmallGarbage.SetLifetimeHint(zbd.WriteLifetimeMedium)
	zBigGarbage := device.GetIOZone(4 * testZoneSize)
	zBigGarbage.AdjustUsedCapacity(8 * testBlockSize)
	zBigGarbage.SetLifetimeHint(zbd.WriteLifetimeMedium)

	resetCounts := make([]uint32, device.NrIOZones())
	resetCounts[0] = 8
	resetCounts[1] = 4
	require.NoError(t, device.SetIOZoneResetCounts(resetCounts))

	// zBigGarbage maximizes reset_count * reclaimable /
	// max_capacity.
	target, err := device.GetMigrateTargetZone(zbd.WriteLifetimeMedium, testBlockSize)
	require.NoError(t, err)
	require.Same(t, zBigGarbage, target)
	// The open zone token was returned: the zone is already open.
	require.Equal(t, int64(0), device.OpenIOZoneCount())

	require.NoError(t, device.ReleaseMigrateZone(target))
}

func TestWearLevelerWorker(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	// A zone holding live long-lived data next to garbage: the
	// migration source.
	source := device.GetIOZone(3 * testZoneSize)
	require.True(t, source.Acquire())
	require.NoError(t, source.Append(make([]byte, 4*testBlockSize)))
	source.SetLifetimeHint(zbd.WriteLifetimeExtreme)
	require.NoError(t, source.CheckRelease())
	source.AdjustUsedCapacity(2 * testBlockSize)

	idleJudge := mock.NewMockIdleJudge(ctrl)
	migrator := mock.NewMockZoneMigrator(ctrl)
	migrated := make(chan struct{})
	gomock.InOrder(
		// First wakeup: the device is busy, nothing happens.
		idleJudge.EXPECT().JudgeQpsTrend().Return(0),
		// Second wakeup: idle, so the source zone is migrated.
		idleJudge.EXPECT().JudgeQpsTrend().Return(1),
		migrator.EXPECT().MigrateZone(source).DoAndReturn(func(z *zbd.Zone) error {
			close(migrated)
			return nil
		}))

	wearLeveler := zbd.NewWearLeveler(device, idleJudge, migrator)
	device.WakeupWearLevelingWorker()
	device.WakeupWearLevelingWorker()
	<-migrated
	wearLeveler.Stop()
}

func TestWearLevelerWorkerLatchesMigrationFailures(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	source := device.GetIOZone(3 * testZoneSize)
	require.True(t, source.Acquire())
	require.NoError(t, source.Append(make([]byte, 4*testBlockSize)))
	source.SetLifetimeHint(zbd.WriteLifetimeExtreme)
	require.NoError(t, source.CheckRelease())
	source.AdjustUsedCapacity(2 * testBlockSize)

	idleJudge := mock.NewMockIdleJudge(ctrl)
	migrator := mock.NewMockZoneMigrator(ctrl)
	idleJudge.EXPECT().JudgeQpsTrend().Return(1)
	migrator.EXPECT().MigrateZone(source).
		Return(status.Error(codes.Internal, "Device disconnected during migration"))

	wearLeveler := zbd.NewWearLeveler(device, idleJudge, migrator)
	device.WakeupWearLevelingWorker()
	wearLeveler.Stop()

	// The failure is latched, so allocations fail fast.
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.Internal, "Device disconnected during migration"),
		device.GetZoneDeferredStatus())
}
