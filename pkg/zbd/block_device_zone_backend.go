package zbd

import (
	"io"
	"sync"

	"github.com/buildbarn/bb-storage/pkg/blockdevice"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// BlockDeviceZoneBackend emulates sequential-write-required zones on
// top of a conventional block device or regular file. The write
// pointers only live in memory: a reset does not erase any data, it
// merely declares the zone's contents invalid, just like a real zone
// reset does. This backend is meant for development machines without
// zoned storage; it provides the same write discipline, but none of
// the durability properties of a real zoned device across restarts.
type BlockDeviceZoneBackend struct {
	device         blockdevice.BlockDevice
	filename       string
	blockSize      uint64
	zoneSize       uint64
	nrZones        uint32
	maxActiveZones uint32
	maxOpenZones   uint32

	lock          sync.Mutex
	writePointers []uint64
	finished      []bool
}

var _ ZoneBackend = (*BlockDeviceZoneBackend)(nil)

// NewBlockDeviceZoneBackend creates a ZoneBackend on top of an opened
// block device. The sector size and count are the ones reported when
// the block device was opened, e.g. by
// blockdevice.NewBlockDeviceFromFile().
func NewBlockDeviceZoneBackend(device blockdevice.BlockDevice, filename string, sectorSizeBytes int, sectorCount int64, zoneSize uint64, maxActiveZones, maxOpenZones uint32) (*BlockDeviceZoneBackend, error) {
	if zoneSize == 0 || zoneSize%uint64(sectorSizeBytes) != 0 {
		return nil, status.Errorf(codes.InvalidArgument, "Zone size %d is not a multiple of the sector size %d", zoneSize, sectorSizeBytes)
	}
	nrZones := uint64(sectorCount) * uint64(sectorSizeBytes) / zoneSize
	b := &BlockDeviceZoneBackend{
		device:         device,
		filename:       filename,
		blockSize:      uint64(sectorSizeBytes),
		zoneSize:       zoneSize,
		nrZones:        uint32(nrZones),
		maxActiveZones: maxActiveZones,
		maxOpenZones:   maxOpenZones,
		writePointers:  make([]uint64, nrZones),
		finished:       make([]bool, nrZones),
	}
	for i := range b.writePointers {
		b.writePointers[i] = uint64(i) * zoneSize
	}
	return b, nil
}

func (b *BlockDeviceZoneBackend) zoneIndex(offset uint64) (int, error) {
	index := offset / b.zoneSize
	if index >= uint64(b.nrZones) {
		return 0, status.Errorf(codes.InvalidArgument, "Offset %d exceeds the device size", offset)
	}
	return int(index), nil
}

func (b *BlockDeviceZoneBackend) Open(readonly, exclusive bool) (uint32, uint32, error) {
	return b.maxActiveZones, b.maxOpenZones, nil
}

func (b *BlockDeviceZoneBackend) ListZones() ([]ZoneInfo, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	zones := make([]ZoneInfo, 0, b.nrZones)
	for i := uint32(0); i < b.nrZones; i++ {
		start := uint64(i) * b.zoneSize
		wp := b.writePointers[i]
		if b.finished[i] {
			wp = start + b.zoneSize
		}
		zones = append(zones, ZoneInfo{
			Start:                   start,
			MaxCapacity:             b.zoneSize,
			WritePointer:            wp,
			SequentialWriteRequired: true,
		})
	}
	return zones, nil
}

func (b *BlockDeviceZoneBackend) Write(p []byte, offset uint64) (int, error) {
	b.lock.Lock()
	index, err := b.zoneIndex(offset)
	if err != nil {
		b.lock.Unlock()
		return 0, err
	}
	start := uint64(index) * b.zoneSize
	if b.finished[index] {
		b.lock.Unlock()
		return 0, status.Errorf(codes.Internal, "Zone at %d is finished", start)
	}
	if wp := b.writePointers[index]; offset != wp {
		b.lock.Unlock()
		return 0, status.Errorf(codes.Internal, "Write at %d does not match the write pointer %d", offset, wp)
	}
	if offset+uint64(len(p)) > start+b.zoneSize {
		b.lock.Unlock()
		return 0, status.Errorf(codes.Internal, "Write at %d exceeds the zone capacity", offset)
	}
	b.lock.Unlock()

	n, err := b.device.WriteAt(p, int64(offset))
	if n > 0 {
		b.lock.Lock()
		b.writePointers[index] += uint64(n)
		b.lock.Unlock()
	}
	return n, err
}

func (b *BlockDeviceZoneBackend) Read(p []byte, offset uint64, direct bool) (int, error) {
	n, err := b.device.ReadAt(p, int64(offset))
	if err == io.EOF {
		err = nil
	}
	return n, err
}

func (b *BlockDeviceZoneBackend) Reset(start uint64) (bool, uint64, error) {
	b.lock.Lock()
	defer b.lock.Unlock()

	index, err := b.zoneIndex(start)
	if err != nil {
		return false, 0, err
	}
	b.writePointers[index] = start
	b.finished[index] = false
	return false, b.zoneSize, nil
}

func (b *BlockDeviceZoneBackend) Finish(start uint64) error {
	b.lock.Lock()
	index, err := b.zoneIndex(start)
	if err != nil {
		b.lock.Unlock()
		return err
	}
	b.finished[index] = true
	b.lock.Unlock()

	return b.device.Sync()
}

func (b *BlockDeviceZoneBackend) Close(start uint64) error {
	return nil
}

func (b *BlockDeviceZoneBackend) InvalidateCache(offset, size uint64) error {
	// The underlying block device performs no caching of its own.
	return nil
}

func (b *BlockDeviceZoneBackend) BlockSize() uint64 { return b.blockSize }
func (b *BlockDeviceZoneBackend) ZoneSize() uint64  { return b.zoneSize }
func (b *BlockDeviceZoneBackend) NrZones() uint32   { return b.nrZones }
func (b *BlockDeviceZoneBackend) Filename() string  { return b.filename }
