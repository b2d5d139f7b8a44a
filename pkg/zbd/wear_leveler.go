package zbd

import (
	"log"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	wearLevelerPrometheusMetrics sync.Once

	wearLevelerMigrationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "buildbarn",
			Subsystem: "zbd",
			Name:      "wear_leveler_migrations_total",
			Help:      "Number of wear-leveling migrations performed, by outcome.",
		},
		[]string{"outcome"})
)

// IdleJudge reports whether the device is idle enough to run
// background maintenance. IdleDetector is the production
// implementation.
type IdleJudge interface {
	JudgeQpsTrend() int
}

// ZoneMigrator moves all live extents out of a source zone. It is
// implemented by the file layer, which knows which byte ranges are
// live and obtains a target through Device.GetMigrateTargetZone. After
// a successful migration the source zone no longer holds live data, so
// the garbage collector can reset it.
type ZoneMigrator interface {
	MigrateZone(source *Zone) error
}

// WearLeveler runs the wear-leveling control loop in a background
// goroutine. Each time the device's reset rate trigger fires, it asks
// the IdleJudge whether the device is idle. If so, it picks the most
// profitable source zone and migrates its live data away; if not, that
// wakeup is dropped without migrating anything.
type WearLeveler struct {
	device    *Device
	idleJudge IdleJudge
	migrator  ZoneMigrator
	done      chan struct{}
}

// NewWearLeveler creates a WearLeveler and starts its worker
// goroutine.
func NewWearLeveler(device *Device, idleJudge IdleJudge, migrator ZoneMigrator) *WearLeveler {
	wearLevelerPrometheusMetrics.Do(func() {
		prometheus.MustRegister(wearLevelerMigrationsTotal)
	})

	wl := &WearLeveler{
		device:    device,
		idleJudge: idleJudge,
		migrator:  migrator,
		done:      make(chan struct{}),
	}
	go wl.run()
	return wl
}

func (wl *WearLeveler) run() {
	defer close(wl.done)

	for wl.device.waitForWearLevelingWakeup() {
		if wl.idleJudge.JudgeQpsTrend() != 1 {
			wearLevelerMigrationsTotal.WithLabelValues("deferred_busy").Inc()
			continue
		}

		source, err := wl.device.GetLeastResetCountZone()
		if err != nil {
			// Not finding a migration source is the common
			// case on a balanced device.
			wearLevelerMigrationsTotal.WithLabelValues("no_source").Inc()
			continue
		}

		if err := wl.migrator.MigrateZone(source); err != nil {
			log.Printf("Failed to migrate live data out of zone %d: %v", source.ZoneNr(), err)
			wl.device.SetZoneDeferredStatus(err)
			wearLevelerMigrationsTotal.WithLabelValues("failure").Inc()
			continue
		}
		wearLevelerMigrationsTotal.WithLabelValues("success").Inc()
	}
}

// Stop terminates the worker goroutine. Pending wakeups are processed
// before the worker exits. Stop does not interrupt a migration that is
// already in flight.
func (wl *WearLeveler) Stop() {
	wl.device.stopWearLevelingWorker()
	<-wl.done
}
