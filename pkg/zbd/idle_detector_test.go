package zbd_test

import (
	"testing"
	"time"

	"github.com/buildbarn/bb-zoned-storage/internal/mock"
	"github.com/buildbarn/bb-zoned-storage/pkg/zbd"
	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/require"
)

// expectQpsWindows scripts one JudgeQpsTrend() call: two sampling
// windows of 100 ms each, with the given write and read counts.
func expectQpsWindows(clk *mock.MockClock, qps *mock.MockQpsRecorder, w1, r1, w2, r2 uint64) {
	for _, window := range []struct{ w, r uint64 }{{w1, r1}, {w2, r2}} {
		timerChannel := make(chan time.Time, 1)
		timerChannel <- time.Unix(0, 0)
		qps.EXPECT().Clear()
		clk.EXPECT().NewTimer(100*time.Millisecond).Return(nil, timerChannel)
		qps.EXPECT().Now(zbd.QpsWrite).Return(window.w)
		qps.EXPECT().Now(zbd.QpsRead).Return(window.r)
	}
}

func TestIdleDetectorVerdicts(t *testing.T) {
	for _, tc := range []struct {
		name           string
		w1, r1, w2, r2 uint64
		verdict        int
	}{
		{"AllBelowThresholds", 10, 100, 10, 100, 1},
		{"ReadsRising", 10, 6000, 10, 6001, 0},
		{"ReadsFallingSharply", 10, 6000, 10, 100, 1},
		{"WritesRising", 80, 100, 90, 100, 0},
		{"WritesFallingSharply", 80, 100, 10, 100, 1},
		{"WritesFallingSlowly", 80, 100, 79, 100, 0},
		{"WritesHighReadsHigh", 80, 6000, 80, 6000, 0},
	} {
		t.Run(tc.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			clk := mock.NewMockClock(ctrl)
			qps := mock.NewMockQpsRecorder(ctrl)
			detector := zbd.NewIdleDetector(clk, qps, zbd.DefaultIdleQpsWriteThreshold, zbd.DefaultIdleQpsReadThreshold)

			expectQpsWindows(clk, qps, tc.w1, tc.r1, tc.w2, tc.r2)
			require.Equal(t, tc.verdict, detector.JudgeQpsTrend())
		})
	}
}

func TestIdleDetectorRaisesThresholdsUnderSustainedLoad(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clk := mock.NewMockClock(ctrl)
	qps := mock.NewMockQpsRecorder(ctrl)
	detector := zbd.NewIdleDetector(clk, qps, zbd.DefaultIdleQpsWriteThreshold, zbd.DefaultIdleQpsReadThreshold)

	// Five consecutive failing verdicts at a steady 1000 writes/s.
	for i := 0; i < 5; i++ {
		expectQpsWindows(clk, qps, 1000, 0, 1000, 0)
		require.Equal(t, 0, detector.JudgeQpsTrend())
	}

	// On the next call, the write threshold is raised toward the
	// observed maximum: (76 + 1000) / 2 = 538. A load of 500
	// writes/s now counts as idle.
	expectQpsWindows(clk, qps, 500, 0, 500, 0)
	require.Equal(t, 1, detector.JudgeQpsTrend())
}

func TestIdleDetectorResetsThresholdsAfterSuccesses(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clk := mock.NewMockClock(ctrl)
	qps := mock.NewMockQpsRecorder(ctrl)
	detector := zbd.NewIdleDetector(clk, qps, zbd.DefaultIdleQpsWriteThreshold, zbd.DefaultIdleQpsReadThreshold)

	// Push the write threshold up to 538.
	for i := 0; i < 5; i++ {
		expectQpsWindows(clk, qps, 1000, 0, 1000, 0)
		require.Equal(t, 0, detector.JudgeQpsTrend())
	}

	// Five consecutive successes against the raised threshold.
	for i := 0; i < 5; i++ {
		expectQpsWindows(clk, qps, 500, 0, 500, 0)
		require.Equal(t, 1, detector.JudgeQpsTrend())
	}

	// The thresholds snap back to their defaults: 500 writes/s is
	// busy again.
	expectQpsWindows(clk, qps, 500, 0, 500, 0)
	require.Equal(t, 0, detector.JudgeQpsTrend())
}
