package zbd

import (
	"fmt"
	"io"
	"sync/atomic"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Zone is a single sequential-write-required region of a zoned block
// device. Writes land at the write pointer and the zone can only be
// reclaimed by resetting it as a whole.
//
// A zone is leased for exclusive use by atomically setting its busy
// flag through Acquire(). All mutating operations (Append, Reset,
// Finish, Close, lifetime changes) require the caller to hold the busy
// flag. The busy flag is not a lock: callers that fail to acquire a
// zone skip it and move on to the next one, they never block.
type Zone struct {
	device  *Device
	backend ZoneBackend

	busy  atomic.Bool
	start uint64

	// Mutated only while the busy flag is held.
	maxCapacity uint64
	wp          uint64
	capacity    uint64
	lifetime    WriteLifetimeHint

	// Adjusted concurrently by the file layer as extents die.
	usedCapacity atomic.Int64
	resetCount   atomic.Uint32
}

func newZone(device *Device, backend ZoneBackend, info ZoneInfo) *Zone {
	z := &Zone{
		device:      device,
		backend:     backend,
		start:       info.Start,
		maxCapacity: info.MaxCapacity,
		wp:          info.WritePointer,
	}
	if !info.Offline && info.WritePointer <= info.Start+info.MaxCapacity {
		z.capacity = info.MaxCapacity - (info.WritePointer - info.Start)
	}
	return z
}

// Start returns the byte offset of the first block of the zone.
func (z *Zone) Start() uint64 { return z.start }

// WritePointer returns the byte offset at which the next append will
// land.
func (z *Zone) WritePointer() uint64 { return z.wp }

// MaxCapacity returns the number of bytes the zone can hold after a
// reset.
func (z *Zone) MaxCapacity() uint64 { return z.maxCapacity }

// CapacityLeft returns the number of bytes that can still be appended.
func (z *Zone) CapacityLeft() uint64 { return z.capacity }

// UsedCapacity returns the number of bytes in the zone that are still
// live according to the file layer.
func (z *Zone) UsedCapacity() int64 { return z.usedCapacity.Load() }

// AdjustUsedCapacity is called by the file layer when extents inside
// the zone are written or invalidated.
func (z *Zone) AdjustUsedCapacity(delta int64) { z.usedCapacity.Add(delta) }

// ResetCount returns the number of times the zone has been reset since
// the counter was last restored.
func (z *Zone) ResetCount() uint32 { return z.resetCount.Load() }

// SetResetCount restores a persisted reset counter, e.g. after
// reopening the device.
func (z *Zone) SetResetCount(resetCount uint32) { z.resetCount.Store(resetCount) }

// LifetimeHint returns the lifetime hint currently assigned to the
// zone.
func (z *Zone) LifetimeHint() WriteLifetimeHint { return z.lifetime }

// SetLifetimeHint assigns a lifetime hint. The caller must hold the
// zone busy.
func (z *Zone) SetLifetimeHint(lifetime WriteLifetimeHint) { z.lifetime = lifetime }

// IsUsed reports whether the zone still contains live data.
func (z *Zone) IsUsed() bool { return z.usedCapacity.Load() > 0 }

// IsFull reports whether no more data can be appended to the zone.
func (z *Zone) IsFull() bool { return z.capacity == 0 }

// IsEmpty reports whether nothing has been written since the last
// reset.
func (z *Zone) IsEmpty() bool { return z.wp == z.start }

// IsBusy reports whether the zone is currently leased.
func (z *Zone) IsBusy() bool { return z.busy.Load() }

// ZoneNr returns the physical zone number.
func (z *Zone) ZoneNr() uint64 { return z.start / z.backend.ZoneSize() }

// ReclaimableSpace returns the number of bytes that would be freed by
// resetting the zone once its remaining live data has been migrated.
func (z *Zone) ReclaimableSpace() uint64 {
	used := uint64(z.usedCapacity.Load())
	if z.IsFull() {
		return z.maxCapacity - used
	}
	return z.wp - z.start - used
}

// Acquire attempts to take the exclusive lease on the zone. It never
// blocks.
func (z *Zone) Acquire() bool {
	return z.busy.CompareAndSwap(false, true)
}

// Release drops the exclusive lease. It reports whether the lease was
// actually held.
func (z *Zone) Release() bool {
	return z.busy.CompareAndSwap(true, false)
}

// CheckRelease drops the exclusive lease, turning a missing lease into
// a data loss error, as it means some other party mutated the zone
// while we considered it ours.
func (z *Zone) CheckRelease() error {
	if !z.Release() {
		return status.Errorf(codes.DataLoss, "Failed to unset busy flag of zone %d", z.ZoneNr())
	}
	return nil
}

// Append writes data at the zone's write pointer. The caller must hold
// the zone busy and len(data) must be a multiple of the backend's
// block size. Partial writes by the backend are continued until all
// bytes are persisted.
func (z *Zone) Append(data []byte) error {
	z.device.qps.Report(QpsWrite, 1)

	if uint64(len(data)) > z.capacity {
		return status.Error(codes.ResourceExhausted, "Not enough capacity for append")
	}
	if blockSize := z.backend.BlockSize(); uint64(len(data))%blockSize != 0 {
		return status.Errorf(codes.InvalidArgument, "Append size %d is not a multiple of the block size %d", len(data), blockSize)
	}

	for len(data) > 0 {
		n, err := z.backend.Write(data, z.wp)
		if err != nil {
			return err
		}
		data = data[n:]
		z.wp += uint64(n)
		z.capacity -= uint64(n)
		z.device.addBytesWritten(uint64(n))
	}
	return nil
}

// Reset rewinds the zone to the empty state. The caller must hold the
// zone busy and the zone must not contain live data. The wear-leveling
// trigger is evaluated on every successful reset.
func (z *Zone) Reset() error {
	offline, maxCapacity, err := z.backend.Reset(z.start)
	if err != nil {
		return err
	}

	if offline {
		z.capacity = 0
	} else {
		z.maxCapacity = maxCapacity
		z.capacity = maxCapacity
	}
	z.wp = z.start
	z.lifetime = WriteLifetimeNotSet

	z.resetCount.Add(1)
	z.device.totalResetCount.Add(1)
	deviceZoneResetsTotal.Inc()

	z.device.checkWearLevelingTrigger()
	return nil
}

// Finish transitions the zone to the full state. The caller must hold
// the zone busy.
func (z *Zone) Finish() error {
	if err := z.backend.Finish(z.start); err != nil {
		return err
	}
	z.capacity = 0
	z.wp = z.start + z.backend.ZoneSize()
	return nil
}

// Close transitions an open zone to the closed state. Empty and full
// zones hold no open resources, so closing them is a no-op that does
// not touch the backend. The caller must hold the zone busy.
func (z *Zone) Close() error {
	if !(z.IsEmpty() || z.IsFull()) {
		if err := z.backend.Close(z.start); err != nil {
			return err
		}
	}
	return nil
}

// EncodeJSON writes the zone's state as a JSON object. Field order and
// formatting are stable, as the output is consumed by external
// tooling.
func (z *Zone) EncodeJSON(w io.Writer) error {
	_, err := fmt.Fprintf(
		w,
		"{\"start\":%d,\"capacity\":%d,\"max_capacity\":%d,\"wp\":%d,\"lifetime\":%d,\"used_capacity\":%d,\"reset_count\":%d}",
		z.start, z.capacity, z.maxCapacity, z.wp, z.lifetime,
		z.usedCapacity.Load(), z.resetCount.Load())
	return err
}

// Snapshot captures the zone's scalar state for external consumers.
func (z *Zone) Snapshot() ZoneSnapshot {
	return ZoneSnapshot{
		Start:        z.start,
		Capacity:     z.capacity,
		MaxCapacity:  z.maxCapacity,
		WritePointer: z.wp,
		Lifetime:     z.lifetime,
		UsedCapacity: z.usedCapacity.Load(),
		ResetCount:   z.resetCount.Load(),
	}
}
