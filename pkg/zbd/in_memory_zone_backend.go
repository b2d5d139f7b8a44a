package zbd

import (
	"sync"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// InMemoryZoneBackendOptions configures the shape of an emulated zoned
// device.
type InMemoryZoneBackendOptions struct {
	NrZones   uint32
	ZoneSize  uint64
	BlockSize uint64
	// ZoneCapacity is the writable size of each zone. Zero means
	// the full zone size, as on devices without a capacity gap.
	ZoneCapacity uint64
	// Device limits reported by Open(). Zero means unlimited.
	MaxActiveZones uint32
	MaxOpenZones   uint32
}

type inMemoryZone struct {
	data     []byte
	finished bool
	offline  bool
	active   bool
	open     bool
}

// InMemoryZoneBackend emulates a sequential-write-required zoned block
// device in memory. It enforces the same write pointer discipline as
// real hardware, which makes it suitable both for tests and for
// running the full stack on machines without zoned storage.
type InMemoryZoneBackend struct {
	options InMemoryZoneBackendOptions

	lock  sync.Mutex
	zones []inMemoryZone
}

var _ ZoneBackend = (*InMemoryZoneBackend)(nil)

// NewInMemoryZoneBackend creates an emulated zoned device with all
// zones empty.
func NewInMemoryZoneBackend(options InMemoryZoneBackendOptions) *InMemoryZoneBackend {
	if options.ZoneCapacity == 0 {
		options.ZoneCapacity = options.ZoneSize
	}
	return &InMemoryZoneBackend{
		options: options,
		zones:   make([]inMemoryZone, options.NrZones),
	}
}

func (b *InMemoryZoneBackend) zoneAt(offset uint64) (*inMemoryZone, uint64, error) {
	index := offset / b.options.ZoneSize
	if index >= uint64(len(b.zones)) {
		return nil, 0, status.Errorf(codes.InvalidArgument, "Offset %d exceeds the device size", offset)
	}
	return &b.zones[index], index * b.options.ZoneSize, nil
}

// SetZoneOffline marks a zone as dead, as a drive would when its media
// wears out. The next reset of the zone reports it offline.
func (b *InMemoryZoneBackend) SetZoneOffline(start uint64) {
	b.lock.Lock()
	defer b.lock.Unlock()
	z, _, err := b.zoneAt(start)
	if err == nil {
		z.offline = true
	}
}

func (b *InMemoryZoneBackend) Open(readonly, exclusive bool) (uint32, uint32, error) {
	return b.options.MaxActiveZones, b.options.MaxOpenZones, nil
}

func (b *InMemoryZoneBackend) ListZones() ([]ZoneInfo, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	zones := make([]ZoneInfo, 0, len(b.zones))
	for i := range b.zones {
		z := &b.zones[i]
		start := uint64(i) * b.options.ZoneSize
		wp := start + uint64(len(z.data))
		if z.finished {
			wp = start + b.options.ZoneSize
		}
		zones = append(zones, ZoneInfo{
			Start:                   start,
			MaxCapacity:             b.options.ZoneCapacity,
			WritePointer:            wp,
			SequentialWriteRequired: true,
			Offline:                 z.offline,
			Active:                  z.active,
			Open:                    z.open,
		})
	}
	return zones, nil
}

func (b *InMemoryZoneBackend) Write(p []byte, offset uint64) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	z, start, err := b.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	if z.offline {
		return 0, status.Errorf(codes.Internal, "Zone at %d is offline", start)
	}
	if z.finished {
		return 0, status.Errorf(codes.Internal, "Zone at %d is finished", start)
	}
	wp := start + uint64(len(z.data))
	if offset != wp {
		return 0, status.Errorf(codes.Internal, "Write at %d does not match the write pointer %d", offset, wp)
	}
	if uint64(len(z.data))+uint64(len(p)) > b.options.ZoneCapacity {
		return 0, status.Errorf(codes.Internal, "Write at %d exceeds the zone capacity", offset)
	}

	z.data = append(z.data, p...)
	if uint64(len(z.data)) == b.options.ZoneCapacity {
		z.open = false
		z.active = false
	} else {
		z.open = true
		z.active = true
	}
	return len(p), nil
}

func (b *InMemoryZoneBackend) Read(p []byte, offset uint64, direct bool) (int, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	z, start, err := b.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	within := offset - start
	if within >= uint64(len(z.data)) {
		return 0, nil
	}
	return copy(p, z.data[within:]), nil
}

func (b *InMemoryZoneBackend) Reset(start uint64) (bool, uint64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	z, _, err := b.zoneAt(start)
	if err != nil {
		return false, 0, err
	}
	if z.offline {
		return true, 0, nil
	}
	z.data = nil
	z.finished = false
	z.open = false
	z.active = false
	return false, b.options.ZoneCapacity, nil
}

func (b *InMemoryZoneBackend) Finish(start uint64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	z, _, err := b.zoneAt(start)
	if err != nil {
		return err
	}
	if z.offline {
		return status.Errorf(codes.Internal, "Zone at %d is offline", start)
	}
	z.finished = true
	z.open = false
	z.active = false
	return nil
}

func (b *InMemoryZoneBackend) Close(start uint64) error {
	b.lock.Lock()
	defer b.lock.Unlock()

	z, _, err := b.zoneAt(start)
	if err != nil {
		return err
	}
	z.open = false
	return nil
}

func (b *InMemoryZoneBackend) InvalidateCache(offset, size uint64) error {
	return nil
}

func (b *InMemoryZoneBackend) BlockSize() uint64 { return b.options.BlockSize }
func (b *InMemoryZoneBackend) ZoneSize() uint64  { return b.options.ZoneSize }
func (b *InMemoryZoneBackend) NrZones() uint32   { return b.options.NrZones }
func (b *InMemoryZoneBackend) Filename() string  { return "in-memory" }
