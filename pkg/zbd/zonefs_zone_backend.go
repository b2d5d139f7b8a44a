package zbd

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/buildbarn/bb-storage/pkg/util"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ZonefsZoneBackendOptions configures a ZonefsZoneBackend.
type ZonefsZoneBackendOptions struct {
	// MountDir is the root of the zonefs mount. Sequential zones
	// are exposed as one file per zone under its "seq"
	// subdirectory.
	MountDir  string
	ZoneSize  uint64
	BlockSize uint64
	// Device limits. zonefs does not expose these through the file
	// system, so they must be configured explicitly. Zero means
	// unlimited.
	MaxActiveZones uint32
	MaxOpenZones   uint32
}

type zonefsZone struct {
	fd int
}

// ZonefsZoneBackend implements ZoneBackend on top of a zonefs mount of
// a zoned block device. Every sequential zone is a file whose size is
// the zone's write pointer: appending grows the file, truncating to
// zero resets the zone and truncating to the maximum size finishes it.
type ZonefsZoneBackend struct {
	options ZonefsZoneBackendOptions
	zones   []zonefsZone
}

var _ ZoneBackend = (*ZonefsZoneBackend)(nil)

// NewZonefsZoneBackend creates a ZoneBackend for the given zonefs
// mount. The backend is unusable until Open() has been called.
func NewZonefsZoneBackend(options ZonefsZoneBackendOptions) *ZonefsZoneBackend {
	return &ZonefsZoneBackend{options: options}
}

func (b *ZonefsZoneBackend) zoneAt(offset uint64) (*zonefsZone, uint64, error) {
	index := offset / b.options.ZoneSize
	if index >= uint64(len(b.zones)) {
		return nil, 0, status.Errorf(codes.InvalidArgument, "Offset %d exceeds the device size", offset)
	}
	return &b.zones[index], offset - index*b.options.ZoneSize, nil
}

func (b *ZonefsZoneBackend) Open(readonly, exclusive bool) (uint32, uint32, error) {
	seqDir := filepath.Join(b.options.MountDir, "seq")
	entries, err := os.ReadDir(seqDir)
	if err != nil {
		return 0, 0, util.StatusWrapfWithCode(err, codes.Internal, "Failed to list %#v", seqDir)
	}

	// Zone files are named by zone index. Sort numerically, so that
	// the physical zone order is preserved.
	indices := make([]int, 0, len(entries))
	for _, entry := range entries {
		index, err := strconv.Atoi(entry.Name())
		if err != nil {
			return 0, 0, status.Errorf(codes.Internal, "Unexpected file %#v in %#v", entry.Name(), seqDir)
		}
		indices = append(indices, index)
	}
	sort.Ints(indices)

	flags := unix.O_RDWR
	if readonly {
		flags = unix.O_RDONLY
	}
	for _, index := range indices {
		fd, err := unix.Open(filepath.Join(seqDir, strconv.Itoa(index)), flags, 0)
		if err != nil {
			b.closeAll()
			return 0, 0, util.StatusWrapfWithCode(err, codes.Internal, "Failed to open zone file %d", index)
		}
		b.zones = append(b.zones, zonefsZone{fd: fd})
	}
	return b.options.MaxActiveZones, b.options.MaxOpenZones, nil
}

func (b *ZonefsZoneBackend) closeAll() {
	for _, z := range b.zones {
		unix.Close(z.fd)
	}
	b.zones = nil
}

// CloseDevice releases all zone file descriptors. The backend must not
// be used afterwards.
func (b *ZonefsZoneBackend) CloseDevice() {
	b.closeAll()
}

func (b *ZonefsZoneBackend) ListZones() ([]ZoneInfo, error) {
	zones := make([]ZoneInfo, 0, len(b.zones))
	for i, z := range b.zones {
		var stat unix.Stat_t
		if err := unix.Fstat(z.fd, &stat); err != nil {
			return nil, util.StatusWrapfWithCode(err, codes.Internal, "Failed to stat zone file %d", i)
		}
		start := uint64(i) * b.options.ZoneSize
		zones = append(zones, ZoneInfo{
			Start:                   start,
			MaxCapacity:             b.options.ZoneSize,
			WritePointer:            start + uint64(stat.Size),
			SequentialWriteRequired: true,
			Active:                  stat.Size > 0 && uint64(stat.Size) < b.options.ZoneSize,
		})
	}
	return zones, nil
}

func (b *ZonefsZoneBackend) Write(p []byte, offset uint64) (int, error) {
	z, within, err := b.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	return unix.Pwrite(z.fd, p, int64(within))
}

func (b *ZonefsZoneBackend) Read(p []byte, offset uint64, direct bool) (int, error) {
	z, within, err := b.zoneAt(offset)
	if err != nil {
		return 0, err
	}
	// Direct I/O on zonefs is governed by the mount options; a
	// per-read toggle is not available through the file interface.
	return unix.Pread(z.fd, p, int64(within))
}

func (b *ZonefsZoneBackend) Reset(start uint64) (bool, uint64, error) {
	z, _, err := b.zoneAt(start)
	if err != nil {
		return false, 0, err
	}
	if err := unix.Ftruncate(z.fd, 0); err != nil {
		// zonefs reports EPERM when the zone has gone offline.
		if err == unix.EPERM {
			return true, 0, nil
		}
		return false, 0, util.StatusWrapfWithCode(err, codes.Internal, "Failed to reset zone at %d", start)
	}
	return false, b.options.ZoneSize, nil
}

func (b *ZonefsZoneBackend) Finish(start uint64) error {
	z, _, err := b.zoneAt(start)
	if err != nil {
		return err
	}
	if err := unix.Ftruncate(z.fd, int64(b.options.ZoneSize)); err != nil {
		return util.StatusWrapfWithCode(err, codes.Internal, "Failed to finish zone at %d", start)
	}
	return nil
}

func (b *ZonefsZoneBackend) Close(start uint64) error {
	// zonefs closes zones implicitly when their file descriptors
	// are released; an explicit close is not needed while the
	// backend keeps the zone files open.
	return nil
}

func (b *ZonefsZoneBackend) InvalidateCache(offset, size uint64) error {
	z, within, err := b.zoneAt(offset)
	if err != nil {
		return err
	}
	if err := unix.Fadvise(z.fd, int64(within), int64(size), unix.FADV_DONTNEED); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to invalidate cache")
	}
	return nil
}

func (b *ZonefsZoneBackend) BlockSize() uint64 { return b.options.BlockSize }
func (b *ZonefsZoneBackend) ZoneSize() uint64  { return b.options.ZoneSize }
func (b *ZonefsZoneBackend) NrZones() uint32   { return uint32(len(b.zones)) }
func (b *ZonefsZoneBackend) Filename() string  { return b.options.MountDir }
