package zbd

import (
	"time"

	"github.com/buildbarn/bb-storage/pkg/clock"
)

// Default QPS levels below which the device is considered idle. The
// values were determined empirically on write-heavy key-value store
// workloads.
const (
	DefaultIdleQpsWriteThreshold = 76
	DefaultIdleQpsReadThreshold  = 5000

	qpsSampleInterval = 100 * time.Millisecond

	// Number of consecutive verdicts after which the thresholds are
	// adapted.
	qpsVerdictWindow = 5
)

// IdleDetector classifies the device as idle or busy by sampling the
// read and write QPS over two consecutive windows. Its thresholds are
// adaptive: when the device never looks idle, they are raised toward
// the observed load so that wear-leveling is not starved forever; once
// verdicts succeed against raised thresholds, they fall back to the
// defaults.
//
// IdleDetector is not safe for concurrent use; it is meant to be owned
// by the single wear-leveling worker.
type IdleDetector struct {
	clock clock.Clock
	qps   QpsRecorder

	writeThreshold uint64
	readThreshold  uint64

	windowWriteMax  uint64
	windowReadMax   uint64
	failCount       int
	successiveCount int
}

// NewIdleDetector creates an IdleDetector with the given initial QPS
// thresholds.
func NewIdleDetector(clk clock.Clock, qps QpsRecorder, writeThreshold, readThreshold uint64) *IdleDetector {
	return &IdleDetector{
		clock:          clk,
		qps:            qps,
		writeThreshold: writeThreshold,
		readThreshold:  readThreshold,
	}
}

func (d *IdleDetector) sample() (qpsWrite, qpsRead uint64) {
	d.qps.Clear()
	_, t := d.clock.NewTimer(qpsSampleInterval)
	<-t
	return d.qps.Now(QpsWrite), d.qps.Now(QpsRead)
}

// JudgeQpsTrend samples the device load twice and returns 1 when the
// device is idle enough to wear-level now, 0 otherwise.
func (d *IdleDetector) JudgeQpsTrend() int {
	qpsWrite1, qpsRead1 := d.sample()
	qpsWrite2, qpsRead2 := d.sample()

	if max(qpsWrite1, qpsWrite2) > d.windowWriteMax {
		d.windowWriteMax = max(qpsWrite1, qpsWrite2)
	}
	if max(qpsRead1, qpsRead2) > d.windowReadMax {
		d.windowReadMax = max(qpsRead1, qpsRead2)
	}

	if d.failCount >= qpsVerdictWindow {
		// The device never looks idle against the current
		// thresholds. Raise them toward the observed load.
		if d.windowWriteMax > d.writeThreshold {
			d.writeThreshold = (d.writeThreshold + d.windowWriteMax) / 2
		}
		if d.windowReadMax > d.readThreshold {
			d.readThreshold = (d.readThreshold + d.windowReadMax) / 2
		}
		d.windowWriteMax = 0
		d.windowReadMax = 0
		d.failCount = 0
	}

	if d.writeThreshold != DefaultIdleQpsWriteThreshold || d.readThreshold != DefaultIdleQpsReadThreshold {
		if d.successiveCount >= qpsVerdictWindow {
			d.writeThreshold = DefaultIdleQpsWriteThreshold
			d.readThreshold = DefaultIdleQpsReadThreshold
			d.successiveCount = 0
		}
	}

	verdict := d.judge(qpsWrite1, qpsRead1, qpsWrite2, qpsRead2)
	if verdict == 1 {
		d.successiveCount++
		d.failCount = 0
	} else {
		d.failCount++
		d.successiveCount = 0
	}
	return verdict
}

func (d *IdleDetector) judge(qpsWrite1, qpsRead1, qpsWrite2, qpsRead2 uint64) int {
	if qpsWrite1 < d.writeThreshold && qpsWrite2 < d.writeThreshold {
		if qpsRead1 < d.readThreshold && qpsRead2 < d.readThreshold {
			return 1
		}
		if qpsRead2 > qpsRead1 {
			return 0
		}
		if 100*(qpsRead1-qpsRead2) > d.readThreshold*5 {
			// Reads are falling off sharply; the burst is
			// ending.
			return 1
		}
	} else {
		if qpsWrite2 > qpsWrite1 {
			return 0
		}
		if qpsRead1 < d.readThreshold && qpsRead2 < d.readThreshold {
			if 100*(qpsWrite1-qpsWrite2) > d.writeThreshold*5 {
				return 1
			}
		}
	}
	return 0
}
