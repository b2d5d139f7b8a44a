package zbd_test

import (
	"testing"

	"github.com/buildbarn/bb-storage/pkg/testutil"
	"github.com/buildbarn/bb-zoned-storage/pkg/zbd"
	"github.com/stretchr/testify/require"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// makeOpenZone allocates a zone, writes a number of blocks of live
// data into it and releases the busy flag, the way the file layer
// leaves a zone behind between writes. The open and active zone tokens
// remain held.
func makeOpenZone(t *testing.T, device *zbd.Device, lifetime zbd.WriteLifetimeHint, blocks int) *zbd.Zone {
	z, err := device.AllocateIOZone(lifetime, zbd.IOTypeData)
	require.NoError(t, err)
	require.NotNil(t, z)
	require.NoError(t, z.Append(make([]byte, blocks*testBlockSize)))
	z.AdjustUsedCapacity(int64(blocks * testBlockSize))
	require.NoError(t, z.CheckRelease())
	return z
}

func TestAllocateIOZoneBasic(t *testing.T) {
	// A freshly opened device with 32 zones of 64 MiB. The first
	// allocation opens an empty zone, consuming one open and one
	// active zone token.
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{
		NrZones:        32,
		ZoneSize:       64 << 20,
		BlockSize:      4096,
		MaxActiveZones: 8,
		MaxOpenZones:   4,
	}, zbd.DeviceOptions{})

	z, err := device.AllocateIOZone(zbd.WriteLifetimeMedium, zbd.IOTypeData)
	require.NoError(t, err)
	require.NotNil(t, z)
	require.True(t, z.IsBusy())
	require.True(t, z.IsEmpty())
	require.Equal(t, zbd.WriteLifetimeMedium, z.LifetimeHint())
	require.Equal(t, int64(1), device.OpenIOZoneCount())
	require.Equal(t, int64(1), device.ActiveIOZoneCount())

	// Fill the zone completely.
	for i := 0; i < 16; i++ {
		require.NoError(t, z.Append(make([]byte, 4<<20)))
	}
	require.Equal(t, uint64(64<<20), z.WritePointer()-z.Start())
	require.Equal(t, uint64(0), z.CapacityLeft())
	require.True(t, z.IsFull())

	// On release of a full zone, the file layer hands both tokens
	// back.
	require.NoError(t, z.CheckRelease())
	device.PutActiveIOZoneToken()
	device.PutOpenIOZoneToken()
	require.Equal(t, int64(0), device.OpenIOZoneCount())
	require.Equal(t, int64(0), device.ActiveIOZoneCount())
}

func TestAllocateIOZoneLifetimeMatch(t *testing.T) {
	// Two open zones with hints SHORT and LONG, and no active zone
	// tokens left.
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{
		MaxActiveZones: 4,
		MaxOpenZones:   10,
	}, zbd.DeviceOptions{})
	zShort := makeOpenZone(t, device, zbd.WriteLifetimeShort, 2)
	zLong := makeOpenZone(t, device, zbd.WriteLifetimeLong, 1)
	require.Equal(t, int64(2), device.ActiveIOZoneCount())

	// A request with the same hint as an open zone matches it at
	// the same-lifetime distance. As no active zone token is
	// available, reusing it beats finishing another zone.
	z, err := device.AllocateIOZone(zbd.WriteLifetimeLong, zbd.IOTypeData)
	require.NoError(t, err)
	require.Same(t, zLong, z)
	require.NoError(t, z.CheckRelease())
	device.PutOpenIOZoneToken()

	// A zone with a slightly longer hint is an even better match
	// and is reused regardless of token availability.
	z, err = device.AllocateIOZone(zbd.WriteLifetimeMedium, zbd.IOTypeData)
	require.NoError(t, err)
	require.Same(t, zLong, z)
	require.NoError(t, z.CheckRelease())
	device.PutOpenIOZoneToken()

	// A zone with a shorter hint than requested is never matched.
	_ = zShort
}

func TestAllocateIOZoneFinishCheapest(t *testing.T) {
	// Two open zones and an exhausted active zone budget. An
	// allocation that matches neither zone forces the cheapest one
	// to be finished to make room.
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{
		MaxActiveZones: 4,
		MaxOpenZones:   10,
	}, zbd.DeviceOptions{})
	zShort := makeOpenZone(t, device, zbd.WriteLifetimeShort, 2)
	zMedium := makeOpenZone(t, device, zbd.WriteLifetimeMedium, 1)
	require.Equal(t, int64(2), device.ActiveIOZoneCount())

	z, err := device.AllocateIOZone(zbd.WriteLifetimeExtreme, zbd.IOTypeData)
	require.NoError(t, err)
	require.NotNil(t, z)
	require.NotSame(t, zShort, z)
	require.NotSame(t, zMedium, z)
	require.Equal(t, zbd.WriteLifetimeExtreme, z.LifetimeHint())

	// The zone with the least remaining capacity was sacrificed;
	// its active zone token now belongs to the new zone.
	require.True(t, zShort.IsFull())
	require.False(t, zMedium.IsFull())
	require.Equal(t, int64(2), device.ActiveIOZoneCount())
	require.Equal(t, int64(3), device.OpenIOZoneCount())

	require.NoError(t, z.CheckRelease())
}

func TestAllocateIOZoneFinishThresholdSweep(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{
		MaxActiveZones: 16,
		MaxOpenZones:   16,
	}, zbd.DeviceOptions{
		FinishThreshold: 50,
	})

	// zNearlyFull has less than half of its capacity left,
	// zFresh has more.
	zNearlyFull := makeOpenZone(t, device, zbd.WriteLifetimeShort, 192)
	zFresh := makeOpenZone(t, device, zbd.WriteLifetimeShort, 64)

	// Any non-WAL allocation sweeps zones below the threshold.
	z, err := device.AllocateIOZone(zbd.WriteLifetimeShort, zbd.IOTypeData)
	require.NoError(t, err)
	require.NotNil(t, z)
	require.True(t, zNearlyFull.IsFull())
	require.False(t, zFresh.IsFull())

	require.NoError(t, z.CheckRelease())
}

func TestAllocateIOZoneWALSkipsSweep(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{
		MaxActiveZones: 16,
		MaxOpenZones:   16,
	}, zbd.DeviceOptions{
		FinishThreshold: 50,
	})
	zNearlyFull := makeOpenZone(t, device, zbd.WriteLifetimeShort, 192)

	// Write-ahead log allocations are latency critical and do not
	// run the sweep.
	z, err := device.AllocateIOZone(zbd.WriteLifetimeShort, zbd.IOTypeWAL)
	require.NoError(t, err)
	require.NotNil(t, z)
	require.False(t, zNearlyFull.IsFull())

	require.NoError(t, z.CheckRelease())
}

func TestAllocateEmptyZoneWearAware(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	resetCounts := make([]uint32, device.NrIOZones())
	resetCounts[0] = 5
	resetCounts[1] = 9
	resetCounts[2] = 1
	require.NoError(t, device.SetIOZoneResetCounts(resetCounts))

	// Data without a usable lifetime hint is assumed to be cold:
	// it goes to the most worn empty zone, where it stops the zone
	// from accumulating further resets.
	z, err := device.AllocateIOZone(zbd.WriteLifetimeNone, zbd.IOTypeData)
	require.NoError(t, err)
	require.Equal(t, uint32(9), z.ResetCount())
	require.NoError(t, z.CheckRelease())

	// Hot, short-lived data goes to the least worn empty zone.
	z, err = device.AllocateIOZone(zbd.WriteLifetimeShort, zbd.IOTypeData)
	require.NoError(t, err)
	require.Equal(t, uint32(0), z.ResetCount())
	require.NoError(t, z.CheckRelease())
}

func TestAllocateMetaZone(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	// Claim all three metadata zones, leaving live data in each.
	seen := map[*zbd.Zone]bool{}
	for i := 0; i < 3; i++ {
		m, err := device.AllocateMetaZone()
		require.NoError(t, err)
		require.NotNil(t, m)
		require.False(t, seen[m])
		seen[m] = true
		require.NoError(t, m.Append(make([]byte, testBlockSize)))
		m.AdjustUsedCapacity(testBlockSize)
		require.NoError(t, m.CheckRelease())
	}

	// With all meta zones used, allocation reports exhaustion.
	_, err := device.AllocateMetaZone()
	testutil.RequireEqualStatus(
		t,
		status.Error(codes.ResourceExhausted, "Out of metadata zones"),
		err)

	// Once a meta zone's data dies, it is reset and reused.
	var recycled *zbd.Zone
	for m := range seen {
		m.AdjustUsedCapacity(-int64(testBlockSize))
		recycled = m
		break
	}
	m, err := device.AllocateMetaZone()
	require.NoError(t, err)
	require.Same(t, recycled, m)
	require.True(t, m.IsEmpty())
	require.Equal(t, uint32(1), m.ResetCount())
	require.NoError(t, m.CheckRelease())
}

func TestAllocateIOZoneNeverHandsOutMetaZones(t *testing.T) {
	device, _ := openInMemoryDevice(t, zbd.InMemoryZoneBackendOptions{}, zbd.DeviceOptions{})

	// Exhaustively allocate every empty zone; none of them may be
	// a metadata zone.
	for i := 0; i < device.NrIOZones(); i++ {
		z, err := device.AllocateIOZone(zbd.WriteLifetimeMedium, zbd.IOTypeData)
		require.NoError(t, err)
		require.NotNil(t, z)
		require.GreaterOrEqual(t, z.Start(), uint64(3*testZoneSize))
		require.NoError(t, z.Append(make([]byte, testBlockSize)))
		z.AdjustUsedCapacity(testBlockSize)
		require.NoError(t, z.CheckRelease())
	}
}
