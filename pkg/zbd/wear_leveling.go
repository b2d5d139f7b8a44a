package zbd

import (
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// checkWearLevelingTrigger is evaluated on every zone reset. When the
// I/O zone reset rate since the last trigger exceeds the configured
// percentage of all I/O zone resets, and the absolute number of resets
// is at least one per zone, the wear-leveling worker is woken up.
// After repeated triggers the threshold is damped, so that a device
// whose reset counts keep diverging wear-levels more aggressively.
func (d *Device) checkWearLevelingTrigger() {
	totalResets := d.totalResetCount.Load()
	nrZones := d.backend.NrZones()
	if totalResets <= nrZones {
		return
	}

	d.wlTriggerLock.Lock()
	defer d.wlTriggerLock.Unlock()

	ioZoneResets := totalResets - d.GetMetaZoneResetCountNow()
	if d.checkResetCount < nrZones {
		d.checkResetCount = nrZones
	}
	if ioZoneResets < d.checkResetCount {
		return
	}
	resetCountDiff := ioZoneResets - d.checkResetCount

	if 100*float64(resetCountDiff) > float64(ioZoneResets)*d.resetRatioThreshold &&
		resetCountDiff >= nrZones {
		if d.wlTriggerCount >= 2 {
			d.wlTriggerCount = 0
			// Damp the threshold as the reset count spread
			// grows, using 1.5 as the reference standard
			// deviation. The divisor is clamped so it can
			// never become negative.
			divisor := 1 + (d.GetResetCountStdDev()-1.5)/1.5
			if divisor < 0.1 {
				divisor = 0.1
			}
			d.resetRatioThreshold /= divisor
		} else {
			d.wlTriggerCount++
		}
		d.WakeupWearLevelingWorker()
		d.checkResetCount = ioZoneResets
	}
}

// WakeupWearLevelingWorker makes the wear-leveling worker run another
// pass. Wakeups are counted, not coalesced, so a wakeup delivered
// while the worker is running is not lost.
func (d *Device) WakeupWearLevelingWorker() {
	d.wlLock.Lock()
	d.wlPendingWakeups++
	d.wlLock.Unlock()
	d.wlCond.Signal()

	d.wlWakeupCount.Add(1)
	deviceWearLevelingTriggersTotal.Inc()
}

// WearLevelingWakeupCount returns the total number of wear-leveling
// wakeups delivered since the device was opened.
func (d *Device) WearLevelingWakeupCount() uint64 {
	return d.wlWakeupCount.Load()
}

// waitForWearLevelingWakeup blocks until a wakeup is pending or the
// worker is stopped. It reports whether the worker should run another
// pass.
func (d *Device) waitForWearLevelingWakeup() bool {
	d.wlLock.Lock()
	defer d.wlLock.Unlock()

	for d.wlPendingWakeups == 0 && !d.wlStopped {
		d.wlCond.Wait()
	}
	if d.wlPendingWakeups > 0 {
		d.wlPendingWakeups--
		return true
	}
	return false
}

func (d *Device) stopWearLevelingWorker() {
	d.wlLock.Lock()
	d.wlStopped = true
	d.wlLock.Unlock()
	d.wlCond.Broadcast()
}

// GetLeastResetCountZone selects the migration source: among I/O zones
// holding live long-lived data that cannot reclaim themselves, the one
// with the lowest reset_count * max_capacity / reclaimable score. A
// low score means a zone whose wear stopped increasing because it is
// pinned by live data; migrating that data elsewhere lets the zone be
// reset again. Ties are broken in favor of the larger reclaimable
// space.
func (d *Device) GetLeastResetCountZone() (*Zone, error) {
	var leastResetCountZone *Zone
	var leastResetCountZoneScore uint64

	for _, z := range d.ioZones {
		if z.IsEmpty() || !z.IsUsed() || z.lifetime != WriteLifetimeExtreme {
			continue
		}
		reclaimableSpace := z.ReclaimableSpace()
		if reclaimableSpace == 0 {
			continue
		}
		zoneScore := uint64(z.resetCount.Load()) * z.maxCapacity / reclaimableSpace
		if leastResetCountZone == nil ||
			zoneScore < leastResetCountZoneScore ||
			(zoneScore == leastResetCountZoneScore &&
				reclaimableSpace > leastResetCountZone.ReclaimableSpace()) {
			leastResetCountZone = z
			leastResetCountZoneScore = zoneScore
		}
	}

	if leastResetCountZone == nil {
		return nil, status.Error(codes.NotFound, "The zone with the fewest resets was not found")
	}
	return leastResetCountZone, nil
}

// GetLifetimeZeroZones returns all used I/O zones that never got a
// lifetime hint assigned, so that the file layer can retag their
// extents.
func (d *Device) GetLifetimeZeroZones() []*Zone {
	var zeroLifetimeZones []*Zone
	for _, z := range d.ioZones {
		if z.IsUsed() && z.LifetimeHint() == WriteLifetimeNotSet {
			zeroLifetimeZones = append(zeroLifetimeZones, z)
		}
	}
	return zeroLifetimeZones
}

// GetMigrateTargetZone selects the zone that wear-leveling migration
// should copy live data into, serialized with all other migrations.
// Empty zones with the highest reset count are preferred, so that wear
// is balanced upward. If no empty zone is available, the non-empty
// zone with the highest reset_count * reclaimable / max_capacity score
// among lifetime-compatible zones is used. The zone is returned busy;
// the caller hands it back through ReleaseMigrateZone.
func (d *Device) GetMigrateTargetZone(fileLifetime WriteLifetimeHint, minCapacity uint64) (*Zone, error) {
	d.migrateLock.Lock()
	for d.migrating {
		d.migrateCond.Wait()
	}
	d.migrating = true
	d.migrateLock.Unlock()

	targetZone, err := d.findMigrationTarget(fileLifetime, minCapacity)
	if err == nil && targetZone == nil {
		err = status.Error(codes.NotFound, "The migrate target zone was not found")
	}
	if err != nil {
		d.migrateLock.Lock()
		d.migrating = false
		d.migrateLock.Unlock()
		d.migrateCond.Signal()
		return nil, err
	}
	log.Printf("Take wear-leveling migrate zone: %d", targetZone.start)
	return targetZone, nil
}

func (d *Device) findMigrationTarget(fileLifetime WriteLifetimeHint, minCapacity uint64) (*Zone, error) {
	d.WaitForOpenIOZoneToken(true)

	var targetZone *Zone
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.IsEmpty() &&
			(targetZone == nil || z.resetCount.Load() > targetZone.resetCount.Load()) {
			if targetZone != nil {
				if err := targetZone.CheckRelease(); err != nil {
					z.Release()
					d.PutOpenIOZoneToken()
					return nil, err
				}
			}
			targetZone = z
		} else if err := z.CheckRelease(); err != nil {
			d.PutOpenIOZoneToken()
			return nil, err
		}
	}

	if targetZone != nil {
		if d.GetActiveIOZoneTokenIfAvailable() {
			targetZone.lifetime = fileLifetime
			return targetZone, nil
		}
		// Without an active zone resource an empty zone cannot
		// be opened. Fall back to an already active one.
		targetZone.Release()
		targetZone = nil
	}

	var targetZoneScore uint64
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.usedCapacity.Load() > 0 && !z.IsFull() && z.capacity >= minCapacity {
			zoneScore := uint64(z.resetCount.Load()) * z.ReclaimableSpace() / z.maxCapacity
			better := targetZone == nil ||
				zoneScore > targetZoneScore ||
				(zoneScore == targetZoneScore &&
					z.resetCount.Load() > targetZone.resetCount.Load())
			if better && GetLifetimeDiff(z.lifetime, fileLifetime) != lifetimeDiffNotGood {
				if targetZone != nil {
					if err := targetZone.CheckRelease(); err != nil {
						z.Release()
						d.PutOpenIOZoneToken()
						return nil, err
					}
				}
				targetZone = z
				targetZoneScore = zoneScore
				continue
			}
		}
		if err := z.CheckRelease(); err != nil {
			d.PutOpenIOZoneToken()
			return nil, err
		}
	}

	// A non-empty target is already open and active; an open zone
	// token is only needed when opening an empty zone.
	d.PutOpenIOZoneToken()
	return targetZone, nil
}

// TakeMigrateZone selects the zone that garbage-collection migration
// should copy live extents into, serialized with wear-leveling
// migration. A nil zone with a nil error means no compatible zone has
// enough remaining capacity.
func (d *Device) TakeMigrateZone(fileLifetime WriteLifetimeHint, minCapacity uint64) (*Zone, error) {
	d.migrateLock.Lock()
	for d.migrating {
		d.migrateCond.Wait()
	}
	d.migrating = true
	d.migrateLock.Unlock()

	_, targetZone, err := d.getBestOpenZoneMatch(fileLifetime, minCapacity)
	if err != nil || targetZone == nil {
		d.migrateLock.Lock()
		d.migrating = false
		d.migrateLock.Unlock()
		d.migrateCond.Signal()
		return nil, err
	}
	log.Printf("TakeMigrateZone: %d", targetZone.start)
	return targetZone, nil
}

// ReleaseMigrateZone ends the migration that was started by
// GetMigrateTargetZone or TakeMigrateZone, releasing the target zone
// and letting the next migration proceed.
func (d *Device) ReleaseMigrateZone(zone *Zone) error {
	d.migrateLock.Lock()
	d.migrating = false
	var err error
	if zone != nil {
		err = zone.CheckRelease()
		log.Printf("ReleaseMigrateZone: %d", zone.start)
	}
	d.migrateLock.Unlock()
	d.migrateCond.Signal()
	return err
}
