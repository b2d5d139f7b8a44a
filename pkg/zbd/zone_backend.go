package zbd

// ZoneInfo describes a single zone as reported by a ZoneBackend's zone
// listing. Offsets and sizes are in bytes.
type ZoneInfo struct {
	// Byte offset of the first block of the zone.
	Start uint64
	// Number of bytes that can be written to the zone after a
	// reset. On zoned devices this may be smaller than the zone
	// size.
	MaxCapacity uint64
	// Current write pointer. Finished zones report a write pointer
	// at or beyond Start+MaxCapacity.
	WritePointer uint64
	// Whether the zone must be written sequentially at the write
	// pointer. Only sequential-write-required zones are managed.
	SequentialWriteRequired bool
	// Whether the device has marked the zone unusable.
	Offline bool
	// Whether the zone holds device write resources.
	Active bool
	// Whether the zone is explicitly or implicitly open.
	Open bool
}

// ZoneBackend is the driver interface through which Device talks to the
// actual zoned storage. This package implements it for zonefs mounts,
// conventional block devices (emulated zones) and in-memory emulation;
// it has no implementation for raw zoned block devices. Errors are
// mostly gRPC status errors, but errors of the underlying system calls
// or block device may be passed through unchanged (ZonefsZoneBackend's
// Read and Write return raw errnos, e.g. EINTR), so callers classify
// errnos themselves.
type ZoneBackend interface {
	// Open prepares the backing device for use and reports the
	// device's limits on concurrently active and open zones. A
	// reported limit of zero means the device imposes no limit.
	Open(readonly, exclusive bool) (maxActiveZones, maxOpenZones uint32, err error)
	// ListZones reports all zones of the device in physical order.
	ListZones() ([]ZoneInfo, error)
	// Write stores data at the given byte offset, which must be
	// equal to the containing zone's write pointer. Short writes
	// are permitted; the number of bytes written is returned.
	Write(p []byte, offset uint64) (int, error)
	// Read fills p with data starting at the given byte offset. A
	// count of zero with a nil error indicates end of data. When
	// direct is set, implementations should bypass any page cache.
	Read(p []byte, offset uint64, direct bool) (int, error)
	// Reset rewinds the zone starting at the given offset to the
	// empty state. It reports whether the device took the zone
	// offline, and if not, the zone's new maximum capacity.
	Reset(start uint64) (offline bool, maxCapacity uint64, err error)
	// Finish transitions the zone to the full state, releasing the
	// device resources it holds.
	Finish(start uint64) error
	// Close transitions an open zone to the closed state. The zone
	// remains active.
	Close(start uint64) error
	// InvalidateCache drops any cached pages for the given byte
	// range, forcing subsequent reads to hit the device.
	InvalidateCache(offset, size uint64) error

	BlockSize() uint64
	ZoneSize() uint64
	NrZones() uint32
	Filename() string
}
