package zbd

import (
	"errors"
	"fmt"
	"io"
	"log"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/prometheus/client_golang/prometheus"

	"golang.org/x/sys/unix"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	// MetaZones is the number of zones reserved for metadata. Two
	// non-offline meta zones are needed to roll the metadata log
	// safely; one extra covers for a zone going offline.
	MetaZones = 3
	// MinZones is the minimum number of zones for which managing
	// the device makes sense.
	MinZones = 32

	// One zone is reserved for metadata and another one for extent
	// migration, so they never count against the I/O zone limits.
	reservedZones = 2

	megabyte = 1 << 20
)

var (
	devicePrometheusMetrics sync.Once

	deviceZoneResetsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "zone_resets_total",
			Help:      "Number of times a zone was reset.",
		})
	deviceBytesWrittenTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "bytes_written_total",
			Help:      "Number of bytes appended to zones.",
		})
	deviceZoneAllocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "zone_allocations_total",
			Help:      "Number of I/O zone allocation requests, by I/O class.",
		},
		[]string{"io_type"})
	deviceOpenZones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "open_zones",
			Help:      "Number of I/O zones currently holding an open zone token.",
		})
	deviceActiveZones = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "active_zones",
			Help:      "Number of I/O zones currently holding an active zone token.",
		})
	deviceWearLevelingTriggersTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "wear_leveling_triggers_total",
			Help:      "Number of times the reset rate crossed the wear-leveling threshold and the worker was woken up.",
		})
)

// DeviceOptions contains tunables of a Device.
type DeviceOptions struct {
	// FinishThreshold is the capacity percentage below which
	// non-open zones are finished proactively to free up active
	// zone resources. Zero disables the sweep.
	FinishThreshold uint64
	// ResetRatioThreshold is the initial reset rate percentage at
	// which the wear-leveling worker is woken up. It is damped
	// adaptively as the reset count distribution widens.
	ResetRatioThreshold float64
}

// Device manages all zones of one zoned block device: the reserved
// metadata zones, the I/O zones handed out to the file layer, the
// device-wide open/active zone accounting and the wear-leveling
// machinery.
type Device struct {
	backend         ZoneBackend
	clock           clock.Clock
	qps             QpsRecorder
	finishThreshold uint64

	metaZones []*Zone
	ioZones   []*Zone

	maxActiveIOZones int64
	maxOpenIOZones   int64

	// Token accounting. The counters are atomic so that statistics
	// can read them without locking, but they are only mutated
	// while holding zoneResourcesLock so that waiters observe
	// consistent counts.
	zoneResourcesLock sync.Mutex
	zoneResources     *sync.Cond
	openIOZones       atomic.Int64
	activeIOZones     atomic.Int64

	// At most one migration may be in flight.
	migrateLock sync.Mutex
	migrateCond *sync.Cond
	migrating   bool

	// Wear-leveling worker wakeups.
	wlLock           sync.Mutex
	wlCond           *sync.Cond
	wlPendingWakeups int
	wlStopped        bool
	wlWakeupCount    atomic.Uint64

	// Wear-leveling trigger bookkeeping.
	wlTriggerLock       sync.Mutex
	resetRatioThreshold float64
	wlTriggerCount      int
	checkResetCount     uint32

	deferredLock   sync.Mutex
	deferredStatus error

	totalResetCount atomic.Uint32
	bytesWritten    atomic.Uint64
	startTime       time.Time
}

// NewDevice creates a Device on top of a ZoneBackend. The device is
// not usable until Open() has been called.
func NewDevice(backend ZoneBackend, clk clock.Clock, qps QpsRecorder, options DeviceOptions) *Device {
	devicePrometheusMetrics.Do(func() {
		prometheus.MustRegister(deviceZoneResetsTotal)
		prometheus.MustRegister(deviceBytesWrittenTotal)
		prometheus.MustRegister(deviceZoneAllocationsTotal)
		prometheus.MustRegister(deviceOpenZones)
		prometheus.MustRegister(deviceActiveZones)
		prometheus.MustRegister(deviceWearLevelingTriggersTotal)
	})

	d := &Device{
		backend:             backend,
		clock:               clk,
		qps:                 qps,
		finishThreshold:     options.FinishThreshold,
		resetRatioThreshold: options.ResetRatioThreshold,
	}
	d.zoneResources = sync.NewCond(&d.zoneResourcesLock)
	d.migrateCond = sync.NewCond(&d.migrateLock)
	d.wlCond = sync.NewCond(&d.wlLock)
	return d
}

// Open queries the backend for its limits, enumerates its zones and
// populates the meta and I/O zone sets. Accounting starts from a clean
// slate: zero open zones and zero active zones. Unless the device is
// opened read-only, I/O zones that the device reports as active and
// open are closed to match; read-only opens leave them as they are.
func (d *Device) Open(readonly, exclusive bool) error {
	if !readonly && !exclusive {
		return status.Error(codes.InvalidArgument, "Write opens must be exclusive")
	}

	maxActiveZones, maxOpenZones, err := d.backend.Open(readonly, exclusive)
	if err != nil {
		return err
	}

	nrZones := d.backend.NrZones()
	if nrZones < MinZones {
		return status.Errorf(codes.Unimplemented, "Too few zones on zoned backend (%d required)", MinZones)
	}

	if maxActiveZones == 0 {
		d.maxActiveIOZones = int64(nrZones)
	} else {
		d.maxActiveIOZones = int64(maxActiveZones) - reservedZones
	}
	if maxOpenZones == 0 {
		d.maxOpenIOZones = int64(nrZones)
	} else {
		d.maxOpenIOZones = int64(maxOpenZones) - reservedZones
	}

	log.Printf("Zoned block device %s: %d zones, max active: %d, max open: %d", d.backend.Filename(), nrZones, maxActiveZones, maxOpenZones)

	zones, err := d.backend.ListZones()
	if err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to list zones")
	}
	if uint32(len(zones)) != nrZones {
		return status.Error(codes.Internal, "Failed to list zones")
	}

	// The first MetaZones sequential-write-required zones are
	// reserved for metadata. Offline ones still count against the
	// reservation, so that the I/O zone set does not shift when a
	// meta zone dies.
	i := 0
	for m := 0; m < MetaZones && i < len(zones); i++ {
		if !zones[i].SequentialWriteRequired {
			continue
		}
		if !zones[i].Offline {
			d.metaZones = append(d.metaZones, newZone(d, d.backend, zones[i]))
		}
		m++
	}

	for ; i < len(zones); i++ {
		info := zones[i]
		if !info.SequentialWriteRequired || info.Offline {
			continue
		}
		z := newZone(d, d.backend, info)
		if !z.Acquire() {
			return status.Errorf(codes.DataLoss, "Failed to set busy flag of zone %d", z.ZoneNr())
		}
		d.ioZones = append(d.ioZones, z)
		if info.Active && info.Open && !readonly {
			// Normalize the device state, so that the open
			// and active counts can start at zero.
			if err := z.Close(); err != nil {
				z.Release()
				return err
			}
		}
		if err := z.CheckRelease(); err != nil {
			return err
		}
	}

	d.startTime = d.clock.Now()
	return nil
}

// GetIOZone returns the I/O zone containing the given byte offset, or
// nil if the offset falls outside all I/O zones.
func (d *Device) GetIOZone(offset uint64) *Zone {
	zoneSize := d.backend.ZoneSize()
	for _, z := range d.ioZones {
		if z.start <= offset && offset < z.start+zoneSize {
			return z
		}
	}
	return nil
}

// Filename returns the name of the backing device.
func (d *Device) Filename() string { return d.backend.Filename() }

// BlockSize returns the backend's block size in bytes.
func (d *Device) BlockSize() uint64 { return d.backend.BlockSize() }

// ZoneSize returns the backend's zone size in bytes.
func (d *Device) ZoneSize() uint64 { return d.backend.ZoneSize() }

// NrZones returns the total number of zones on the backing device.
func (d *Device) NrZones() uint32 { return d.backend.NrZones() }

// NrIOZones returns the number of zones managed as I/O zones.
func (d *Device) NrIOZones() int { return len(d.ioZones) }

// NrMetaZones returns the number of usable metadata zones.
func (d *Device) NrMetaZones() int { return len(d.metaZones) }

// MaxOpenIOZones returns the open zone budget available to I/O zone
// allocation.
func (d *Device) MaxOpenIOZones() int64 { return d.maxOpenIOZones }

// MaxActiveIOZones returns the active zone budget available to I/O
// zone allocation.
func (d *Device) MaxActiveIOZones() int64 { return d.maxActiveIOZones }

// OpenIOZoneCount returns the number of open zone tokens currently
// handed out.
func (d *Device) OpenIOZoneCount() int64 { return d.openIOZones.Load() }

// ActiveIOZoneCount returns the number of active zone tokens currently
// handed out.
func (d *Device) ActiveIOZoneCount() int64 { return d.activeIOZones.Load() }

func (d *Device) addBytesWritten(n uint64) {
	d.bytesWritten.Add(n)
	deviceBytesWrittenTotal.Add(float64(n))
}

// BytesWritten returns the total number of bytes appended to zones
// since the device was opened.
func (d *Device) BytesWritten() uint64 { return d.bytesWritten.Load() }

// WaitForOpenIOZoneToken blocks until an open zone token is available
// and takes it. Non-prioritized callers leave one token of headroom,
// so that prioritized callers (write-ahead log writes) cannot be
// starved. The caller must return the token through
// PutOpenIOZoneToken once the zone no longer needs to be open.
func (d *Device) WaitForOpenIOZoneToken(prioritized bool) {
	limit := d.maxOpenIOZones
	if !prioritized {
		limit--
	}

	d.zoneResourcesLock.Lock()
	for d.openIOZones.Load() >= limit {
		d.zoneResources.Wait()
	}
	d.openIOZones.Add(1)
	deviceOpenZones.Set(float64(d.openIOZones.Load()))
	d.zoneResourcesLock.Unlock()
}

// GetActiveIOZoneTokenIfAvailable takes an active zone token if one is
// available. It never blocks: callers that need a token finish zones
// to create slack instead.
func (d *Device) GetActiveIOZoneTokenIfAvailable() bool {
	d.zoneResourcesLock.Lock()
	defer d.zoneResourcesLock.Unlock()

	if d.activeIOZones.Load() < d.maxActiveIOZones {
		d.activeIOZones.Add(1)
		deviceActiveZones.Set(float64(d.activeIOZones.Load()))
		return true
	}
	return false
}

// PutOpenIOZoneToken returns an open zone token.
func (d *Device) PutOpenIOZoneToken() {
	d.zoneResourcesLock.Lock()
	d.openIOZones.Add(-1)
	deviceOpenZones.Set(float64(d.openIOZones.Load()))
	d.zoneResourcesLock.Unlock()
	// Waiters have differing admission limits, so a single wakeup
	// could land on a waiter whose limit is still exceeded.
	d.zoneResources.Broadcast()
}

// PutActiveIOZoneToken returns an active zone token.
func (d *Device) PutActiveIOZoneToken() {
	d.zoneResourcesLock.Lock()
	d.activeIOZones.Add(-1)
	deviceActiveZones.Set(float64(d.activeIOZones.Load()))
	d.zoneResourcesLock.Unlock()
	d.zoneResources.Broadcast()
}

// FreeSpace returns the number of bytes that can still be appended
// across all I/O zones.
func (d *Device) FreeSpace() uint64 {
	var free uint64
	for _, z := range d.ioZones {
		free += z.capacity
	}
	return free
}

// UsedSpace returns the number of live bytes across all I/O zones.
func (d *Device) UsedSpace() uint64 {
	var used uint64
	for _, z := range d.ioZones {
		used += uint64(z.usedCapacity.Load())
	}
	return used
}

// ReclaimableSpace returns the number of bytes in full I/O zones that
// would be freed by resetting them.
func (d *Device) ReclaimableSpace() uint64 {
	var reclaimable uint64
	for _, z := range d.ioZones {
		if z.IsFull() {
			reclaimable += z.maxCapacity - uint64(z.usedCapacity.Load())
		}
	}
	return reclaimable
}

// Read fills p with data starting at the given byte offset, looping
// over short reads. Reads interrupted by a signal are resumed
// transparently; all other errors are returned verbatim.
func (d *Device) Read(p []byte, offset uint64, direct bool) (int, error) {
	d.qps.Report(QpsRead, 1)

	read := 0
	for read < len(p) {
		n, err := d.backend.Read(p[read:], offset, direct)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return read, err
		}
		if n == 0 {
			break
		}
		read += n
		offset += uint64(n)
	}
	return read, nil
}

// InvalidateCache drops cached pages for the given byte range.
func (d *Device) InvalidateCache(offset, size uint64) error {
	if err := d.backend.InvalidateCache(offset, size); err != nil {
		return util.StatusWrapWithCode(err, codes.Internal, "Failed to invalidate cache")
	}
	return nil
}

// ResetUnusedIOZones resets every I/O zone that no longer holds live
// data. It is the entry point of the garbage collector. Active zone
// tokens of non-full zones are returned to the pool.
func (d *Device) ResetUnusedIOZones() error {
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if !z.IsEmpty() && !z.IsUsed() {
			full := z.IsFull()
			resetErr := z.Reset()
			releaseErr := z.CheckRelease()
			if resetErr != nil {
				return resetErr
			}
			if releaseErr != nil {
				return releaseErr
			}
			if !full {
				d.PutActiveIOZoneToken()
			}
		} else if err := z.CheckRelease(); err != nil {
			return err
		}
	}
	return nil
}

// GetZoneDeferredStatus returns the sticky error recorded by a
// previous background failure, if any.
func (d *Device) GetZoneDeferredStatus() error {
	d.deferredLock.Lock()
	defer d.deferredLock.Unlock()
	return d.deferredStatus
}

// SetZoneDeferredStatus latches a background failure. The first
// failure wins; later ones are ignored until the latch is cleared.
func (d *Device) SetZoneDeferredStatus(err error) {
	d.deferredLock.Lock()
	defer d.deferredLock.Unlock()
	if d.deferredStatus == nil {
		d.deferredStatus = err
	}
}

// ClearZoneDeferredStatus clears the sticky error latch. Only a higher
// layer that has repaired or acknowledged the failure should call
// this.
func (d *Device) ClearZoneDeferredStatus() {
	d.deferredLock.Lock()
	defer d.deferredLock.Unlock()
	d.deferredStatus = nil
}

// GetTotalResetCount returns the number of zone resets (meta and I/O)
// performed since the Device was created.
func (d *Device) GetTotalResetCount() uint32 {
	return d.totalResetCount.Load()
}

// GetIOZoneResetCountNow sums the current per-zone reset counters of
// all I/O zones.
func (d *Device) GetIOZoneResetCountNow() uint32 {
	var total uint32
	for _, z := range d.ioZones {
		total += z.resetCount.Load()
	}
	return total
}

// GetMetaZoneResetCountNow sums the current per-zone reset counters of
// all metadata zones.
func (d *Device) GetMetaZoneResetCountNow() uint32 {
	var total uint32
	for _, z := range d.metaZones {
		total += z.resetCount.Load()
	}
	return total
}

// GetIOZoneResetCounts returns the per-zone reset counters of all I/O
// zones in zone order, for persistence by the layer above.
func (d *Device) GetIOZoneResetCounts() []uint32 {
	resetCounts := make([]uint32, 0, len(d.ioZones))
	for _, z := range d.ioZones {
		resetCounts = append(resetCounts, z.resetCount.Load())
	}
	return resetCounts
}

// SetIOZoneResetCounts restores persisted per-zone reset counters.
func (d *Device) SetIOZoneResetCounts(resetCounts []uint32) error {
	if len(resetCounts) != len(d.ioZones) {
		return status.Errorf(codes.InvalidArgument, "Got %d reset counters for %d I/O zones", len(resetCounts), len(d.ioZones))
	}
	for i, z := range d.ioZones {
		z.resetCount.Store(resetCounts[i])
	}
	return nil
}

// GetResetCountStdDev returns the standard deviation of the per-zone
// reset counters of the I/O zones.
func (d *Device) GetResetCountStdDev() float64 {
	n := len(d.ioZones)
	if n == 0 {
		return 0
	}
	mean := float64(d.GetIOZoneResetCountNow()) / float64(n)
	var sum float64
	for _, z := range d.ioZones {
		diff := float64(z.resetCount.Load()) - mean
		sum += diff * diff
	}
	return math.Sqrt(sum / float64(n))
}

// GetCheckResetCount returns the I/O zone reset count at which the
// wear-leveling trigger last fired.
func (d *Device) GetCheckResetCount() uint32 {
	d.wlTriggerLock.Lock()
	defer d.wlTriggerLock.Unlock()
	return d.checkResetCount
}

// SetCheckResetCount restores the persisted trigger watermark.
func (d *Device) SetCheckResetCount(checkResetCount uint32) {
	d.wlTriggerLock.Lock()
	defer d.wlTriggerLock.Unlock()
	d.checkResetCount = checkResetCount
}

// GetResetRatioThreshold returns the current, possibly damped,
// wear-leveling trigger threshold.
func (d *Device) GetResetRatioThreshold() float64 {
	d.wlTriggerLock.Lock()
	defer d.wlTriggerLock.Unlock()
	return d.resetRatioThreshold
}

// LogZoneStats writes a one-line summary of the device's space usage
// to the log.
func (d *Device) LogZoneStats() {
	var usedCapacity, reclaimableCapacity, reclaimablesMaxCapacity, active uint64
	for _, z := range d.ioZones {
		used := uint64(z.usedCapacity.Load())
		usedCapacity += used
		if used > 0 {
			reclaimableCapacity += z.maxCapacity - used
			reclaimablesMaxCapacity += z.maxCapacity
		}
		if !(z.IsFull() || z.IsEmpty()) {
			active++
		}
	}
	if reclaimablesMaxCapacity == 0 {
		reclaimablesMaxCapacity = 1
	}

	log.Printf(
		"[Zonestats:time(s),used_cap(MB),reclaimable_cap(MB), avg_reclaimable(%%), active(#), active_zones(#), open_zones(#)] %d %d %d %d %d %d %d",
		int64(d.clock.Now().Sub(d.startTime)/time.Second),
		usedCapacity/megabyte,
		reclaimableCapacity/megabyte,
		100*reclaimableCapacity/reclaimablesMaxCapacity,
		active,
		d.activeIOZones.Load(),
		d.openIOZones.Load())
}

// LogZoneUsage writes the live byte count of every used I/O zone to
// the log.
func (d *Device) LogZoneUsage() {
	for _, z := range d.ioZones {
		if used := z.usedCapacity.Load(); used > 0 {
			log.Printf("Zone 0x%X used capacity: %d bytes (%d MB)", z.start, used, used/megabyte)
		}
	}
}

// GarbageStats returns a histogram of per-zone garbage rates. Bucket 0
// counts empty zones, bucket 11 counts zones consisting entirely of
// garbage, and buckets 1 through 10 count zones with less than 10%,
// 20%, ... garbage. Busy zones are skipped; the result is a
// best-effort sample, not a consistent snapshot.
func (d *Device) GarbageStats() [12]int {
	var zoneGarbageStats [12]int
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.IsEmpty() {
			zoneGarbageStats[0]++
			z.Release()
			continue
		}

		var garbageRate float64
		if z.IsFull() {
			garbageRate = float64(z.maxCapacity-uint64(z.usedCapacity.Load())) / float64(z.maxCapacity)
		} else {
			garbageRate = float64(z.wp-z.start-uint64(z.usedCapacity.Load())) / float64(z.maxCapacity)
		}
		zoneGarbageStats[int((garbageRate+0.1)*10)]++
		z.Release()
	}
	return zoneGarbageStats
}

// LogGarbageInfo writes the garbage rate histogram to the log.
func (d *Device) LogGarbageInfo() {
	zoneGarbageStats := d.GarbageStats()
	var sb strings.Builder
	sb.WriteString("Zone Garbage Stats: [")
	for _, count := range zoneGarbageStats {
		fmt.Fprintf(&sb, "%d ", count)
	}
	sb.WriteString("]")
	log.Print(sb.String())
}

// EncodeJSON writes the state of all zones as a JSON document with a
// "meta" and an "io" zone list, in device zone order.
func (d *Device) EncodeJSON(w io.Writer) error {
	if _, err := io.WriteString(w, "{\"meta\":"); err != nil {
		return err
	}
	if err := encodeJSONZones(w, d.metaZones); err != nil {
		return err
	}
	if _, err := io.WriteString(w, ",\"io\":"); err != nil {
		return err
	}
	if err := encodeJSONZones(w, d.ioZones); err != nil {
		return err
	}
	_, err := io.WriteString(w, "}")
	return err
}

func encodeJSONZones(w io.Writer, zones []*Zone) error {
	if _, err := io.WriteString(w, "["); err != nil {
		return err
	}
	for i, z := range zones {
		if i > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return err
			}
		}
		if err := z.EncodeJSON(w); err != nil {
			return err
		}
	}
	_, err := io.WriteString(w, "]")
	return err
}
