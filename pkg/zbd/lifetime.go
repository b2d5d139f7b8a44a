package zbd

// WriteLifetimeHint is the caller's estimate of how soon data written
// to a zone will become garbage. The numbering matches the write life
// time hints used by the layers above, so that hints can be passed
// through without translation.
type WriteLifetimeHint int32

// Valid write lifetime hints, ordered from "no estimate" to "longest
// expected lifetime".
const (
	WriteLifetimeNotSet WriteLifetimeHint = iota
	WriteLifetimeNone
	WriteLifetimeShort
	WriteLifetimeMedium
	WriteLifetimeLong
	WriteLifetimeExtreme
)

const (
	// lifetimeDiffNotGood is a sentinel distance. Zones at this
	// distance are never selected as append targets.
	lifetimeDiffNotGood = 100
	// lifetimeDiffCouldBeWorse is the distance between a zone and a
	// file with the exact same hint. Reusing such a zone is
	// acceptable, but a zone with a slightly longer hint is a
	// better fit, as the file's data will not outlive the zone's.
	lifetimeDiffCouldBeWorse = 50
)

// GetLifetimeDiff computes the placement distance between the lifetime
// hint already assigned to a zone and the hint of a file that is about
// to be written. Smaller values are better matches. Files without a
// usable hint (NOT_SET, NONE) only match zones carrying the identical
// hint.
func GetLifetimeDiff(zoneLifetime, fileLifetime WriteLifetimeHint) uint32 {
	if fileLifetime == WriteLifetimeNotSet || fileLifetime == WriteLifetimeNone {
		if fileLifetime == zoneLifetime {
			return 0
		}
		return lifetimeDiffNotGood
	}

	if zoneLifetime > fileLifetime {
		return uint32(zoneLifetime - fileLifetime)
	}
	if zoneLifetime == fileLifetime {
		return lifetimeDiffCouldBeWorse
	}
	return lifetimeDiffNotGood
}
