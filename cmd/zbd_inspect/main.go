package main

import (
	"context"
	"os"

	"github.com/buildbarn/bb-storage/pkg/blockdevice"
	"github.com/buildbarn/bb-storage/pkg/clock"
	"github.com/buildbarn/bb-storage/pkg/program"
	"github.com/buildbarn/bb-storage/pkg/util"
	"github.com/buildbarn/bb-zoned-storage/pkg/zbd"
	"github.com/spf13/pflag"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// zbd_inspect opens a zoned storage backend read-only and dumps the
// state of all of its zones as JSON, followed by the garbage rate
// histogram and the zone statistics log line.

func main() {
	program.RunMain(func(ctx context.Context, siblingsGroup, dependenciesGroup program.Group) error {
		var (
			backendType    = pflag.String("backend", "memory", "Backend to inspect: \"memory\", \"blockdev\" or \"zonefs\"")
			path           = pflag.String("path", "", "Path of the block device file or zonefs mount directory")
			zoneSizeBytes  = pflag.Uint64("zone-size-bytes", 64<<20, "Size of a single zone in bytes")
			blockSizeBytes = pflag.Uint64("block-size-bytes", 4096, "Block size in bytes")
			nrZones        = pflag.Uint32("nr-zones", 64, "Number of zones of the emulated in-memory device; for \"blockdev\", the file is sized to hold this many zones")
			maxActiveZones = pflag.Uint32("max-active-zones", 0, "Maximum number of active zones, zero meaning unlimited")
			maxOpenZones   = pflag.Uint32("max-open-zones", 0, "Maximum number of open zones, zero meaning unlimited")
		)
		pflag.Parse()

		var backend zbd.ZoneBackend
		switch *backendType {
		case "memory":
			backend = zbd.NewInMemoryZoneBackend(zbd.InMemoryZoneBackendOptions{
				NrZones:        *nrZones,
				ZoneSize:       *zoneSizeBytes,
				BlockSize:      *blockSizeBytes,
				MaxActiveZones: *maxActiveZones,
				MaxOpenZones:   *maxOpenZones,
			})
		case "blockdev":
			device, sectorSizeBytes, sectorCount, err := blockdevice.NewBlockDeviceFromFile(*path, int(*zoneSizeBytes)*int(*nrZones), false)
			if err != nil {
				return util.StatusWrapf(err, "Failed to open block device %#v", *path)
			}
			backend, err = zbd.NewBlockDeviceZoneBackend(device, *path, sectorSizeBytes, sectorCount, *zoneSizeBytes, *maxActiveZones, *maxOpenZones)
			if err != nil {
				return err
			}
		case "zonefs":
			backend = zbd.NewZonefsZoneBackend(zbd.ZonefsZoneBackendOptions{
				MountDir:       *path,
				ZoneSize:       *zoneSizeBytes,
				BlockSize:      *blockSizeBytes,
				MaxActiveZones: *maxActiveZones,
				MaxOpenZones:   *maxOpenZones,
			})
		default:
			return status.Errorf(codes.InvalidArgument, "Unknown backend type %#v", *backendType)
		}

		device := zbd.NewDevice(
			backend,
			clock.SystemClock,
			zbd.NewMetricsQpsRecorder(zbd.NewInMemoryQpsRecorder()),
			zbd.DeviceOptions{})
		if err := device.Open( /* readonly = */ true, /* exclusive = */ false); err != nil {
			return util.StatusWrap(err, "Failed to open zoned block device")
		}

		if err := device.EncodeJSON(os.Stdout); err != nil {
			return util.StatusWrap(err, "Failed to write zone snapshot")
		}
		if _, err := os.Stdout.WriteString("\n"); err != nil {
			return err
		}
		device.LogGarbageInfo()
		device.LogZoneStats()
		return nil
	})
}
