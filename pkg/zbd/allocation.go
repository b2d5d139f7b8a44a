package zbd

import (
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// IOType classifies an allocation request. Write-ahead log writes are
// latency critical and may use the full open zone budget; all other
// writers leave one open zone of headroom.
type IOType int

// Allocation request classes.
const (
	IOTypeData IOType = iota
	IOTypeWAL
)

func (t IOType) String() string {
	if t == IOTypeWAL {
		return "wal"
	}
	return "data"
}

// AllocateIOZone returns a zone to append data with the given lifetime
// hint to. The zone is returned with its busy flag held; the caller
// must release it when done writing and return the open/active tokens
// as the zone transitions state. A nil zone with a nil error means
// nothing is allocatable right now.
func (d *Device) AllocateIOZone(fileLifetime WriteLifetimeHint, ioType IOType) (*Zone, error) {
	deviceZoneAllocationsTotal.WithLabelValues(ioType.String()).Inc()

	if err := d.GetZoneDeferredStatus(); err != nil {
		return nil, err
	}

	if ioType != IOTypeWAL {
		if err := d.applyFinishThreshold(); err != nil {
			return nil, err
		}
	}

	d.WaitForOpenIOZoneToken(ioType == IOTypeWAL)

	// Try to fill an already open zone with the best lifetime
	// match. If one matches better than the same-lifetime
	// distance, no new device resources are needed.
	bestDiff, allocatedZone, err := d.getBestOpenZoneMatch(fileLifetime, 0)
	if err != nil {
		d.PutOpenIOZoneToken()
		return nil, err
	}

	if bestDiff >= lifetimeDiffCouldBeWorse {
		gotToken := d.GetActiveIOZoneTokenIfAvailable()

		if allocatedZone != nil {
			if !gotToken && bestDiff == lifetimeDiffCouldBeWorse {
				// No active zone resources are left.
				// Using the same-lifetime zone is a
				// better choice than finishing an
				// existing zone to open a new one.
			} else {
				if err := allocatedZone.CheckRelease(); err != nil {
					d.PutOpenIOZoneToken()
					if gotToken {
						d.PutActiveIOZoneToken()
					}
					return nil, err
				}
				allocatedZone = nil
			}
		}

		if allocatedZone == nil {
			// Opening an empty zone consumes an active zone
			// resource. Finish zones until one is free.
			for !gotToken && !d.GetActiveIOZoneTokenIfAvailable() {
				if err := d.finishCheapestIOZone(); err != nil {
					d.PutOpenIOZoneToken()
					return nil, err
				}
			}

			z, err := d.allocateEmptyZone(fileLifetime)
			if err != nil {
				d.PutActiveIOZoneToken()
				d.PutOpenIOZoneToken()
				return nil, err
			}
			if z != nil {
				z.lifetime = fileLifetime
				allocatedZone = z
			} else {
				d.PutActiveIOZoneToken()
			}
		}
	}

	if allocatedZone == nil {
		d.PutOpenIOZoneToken()
	}

	if ioType != IOTypeWAL {
		d.LogZoneStats()
	}
	return allocatedZone, nil
}

// applyFinishThreshold finishes every non-open zone whose remaining
// capacity dropped below the configured percentage of its maximum
// capacity, returning their active zone tokens to the pool.
func (d *Device) applyFinishThreshold() error {
	if d.finishThreshold == 0 {
		return nil
	}

	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		withinFinishThreshold := z.capacity < z.maxCapacity*d.finishThreshold/100
		if !(z.IsEmpty() || z.IsFull()) && withinFinishThreshold {
			if err := z.Finish(); err != nil {
				z.Release()
				return err
			}
			if err := z.CheckRelease(); err != nil {
				return err
			}
			d.PutActiveIOZoneToken()
		} else if err := z.CheckRelease(); err != nil {
			return err
		}
	}
	return nil
}

// finishCheapestIOZone finishes the acquirable zone with the least
// remaining capacity, freeing up an active zone token at the smallest
// cost in lost capacity. If all acquirable zones are empty or full
// there is nothing to finish, which is not an error.
func (d *Device) finishCheapestIOZone() error {
	var finishVictim *Zone
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.IsEmpty() || z.IsFull() {
			if err := z.CheckRelease(); err != nil {
				return err
			}
			continue
		}
		if finishVictim == nil {
			finishVictim = z
			continue
		}
		if finishVictim.capacity > z.capacity {
			if err := finishVictim.CheckRelease(); err != nil {
				return err
			}
			finishVictim = z
		} else if err := z.CheckRelease(); err != nil {
			return err
		}
	}

	if finishVictim == nil {
		log.Print("All non-busy zones are empty or full, skip finishing")
		return nil
	}

	finishErr := finishVictim.Finish()
	releaseErr := finishVictim.CheckRelease()
	if finishErr == nil {
		d.PutActiveIOZoneToken()
	}
	if releaseErr != nil {
		return releaseErr
	}
	return finishErr
}

// getBestOpenZoneMatch scans the I/O zones for the open zone whose
// lifetime hint is the closest match to the requested one. The
// returned zone is held busy; all other scanned zones are released
// again. Ties are broken in favor of the first zone encountered.
func (d *Device) getBestOpenZoneMatch(fileLifetime WriteLifetimeHint, minCapacity uint64) (uint32, *Zone, error) {
	bestDiff := uint32(lifetimeDiffNotGood)
	var allocatedZone *Zone

	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if z.usedCapacity.Load() > 0 && !z.IsFull() && z.capacity >= minCapacity {
			if diff := GetLifetimeDiff(z.lifetime, fileLifetime); diff < bestDiff {
				if allocatedZone != nil {
					if err := allocatedZone.CheckRelease(); err != nil {
						z.Release()
						return 0, nil, err
					}
				}
				allocatedZone = z
				bestDiff = diff
			} else if err := z.CheckRelease(); err != nil {
				return 0, nil, err
			}
		} else if err := z.CheckRelease(); err != nil {
			return 0, nil, err
		}
	}
	return bestDiff, allocatedZone, nil
}

// allocateEmptyZone picks an empty zone for data with the given
// lifetime hint, balancing wear: data without a usable hint (NOT_SET,
// NONE) is treated as cold and goes to the empty zone with the highest
// reset count (worn zones stop accumulating resets once they hold cold
// data), while data with any explicit hint (SHORT and longer) goes to
// the zone with the lowest reset count. The returned zone is held busy.
func (d *Device) allocateEmptyZone(fileLifetime WriteLifetimeHint) (*Zone, error) {
	preferHighResetCount := fileLifetime < WriteLifetimeShort

	var allocatedZone *Zone
	for _, z := range d.ioZones {
		if !z.Acquire() {
			continue
		}
		if !z.IsEmpty() {
			if err := z.CheckRelease(); err != nil {
				return nil, err
			}
			continue
		}

		better := false
		if allocatedZone == nil {
			better = true
		} else if preferHighResetCount {
			better = z.resetCount.Load() > allocatedZone.resetCount.Load()
		} else {
			better = z.resetCount.Load() < allocatedZone.resetCount.Load()
		}

		if better {
			if allocatedZone != nil {
				if err := allocatedZone.CheckRelease(); err != nil {
					z.Release()
					return nil, err
				}
			}
			allocatedZone = z
			if !preferHighResetCount && allocatedZone.resetCount.Load() == 0 {
				// A never-reset zone cannot be beaten.
				break
			}
		} else if err := z.CheckRelease(); err != nil {
			return nil, err
		}
	}
	return allocatedZone, nil
}

// AllocateMetaZone returns a metadata zone to write the next metadata
// log to, resetting it first if it contains stale data. Metadata zones
// have their own reservation and do not consume open or active zone
// tokens.
func (d *Device) AllocateMetaZone() (*Zone, error) {
	unusable := 0
	for _, z := range d.metaZones {
		if !z.Acquire() {
			continue
		}
		if z.IsUsed() {
			if err := z.CheckRelease(); err != nil {
				return nil, err
			}
			continue
		}
		if z.capacity == 0 && z.IsEmpty() {
			// The device took this zone offline on a
			// previous reset.
			unusable++
			if err := z.CheckRelease(); err != nil {
				return nil, err
			}
			continue
		}
		if !z.IsEmpty() {
			if err := z.Reset(); err != nil {
				log.Printf("Failed resetting meta zone %d: %v", z.ZoneNr(), err)
				if err := z.CheckRelease(); err != nil {
					return nil, err
				}
				continue
			}
			if z.capacity == 0 {
				// The reset took the zone offline.
				unusable++
				if err := z.CheckRelease(); err != nil {
					return nil, err
				}
				continue
			}
		}
		return z, nil
	}

	if unusable+(MetaZones-len(d.metaZones)) >= MetaZones-1 {
		log.Printf("%d of %d metadata zones are offline; the device is one failure away from becoming read-only", unusable+(MetaZones-len(d.metaZones)), MetaZones)
	}
	log.Print("Out of metadata zones, we should go to read only now")
	return nil, status.Error(codes.ResourceExhausted, "Out of metadata zones")
}
