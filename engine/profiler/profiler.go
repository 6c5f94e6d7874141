package profiler

import (
	"runtime"
	"time"

	"github.com/sirupsen/logrus"
)

// Profiler tracks frame rate, memory and ownership-transfer latency.
// Outputs stats to the log at a configurable interval.
type Profiler struct {
	frameCount     int
	lastTime       time.Time
	updateInterval time.Duration
	memStats       runtime.MemStats
	lastGCCount    uint32
	lastTotalAlloc uint64

	transferCount int
	transferTotal time.Duration
	transferMax   time.Duration

	logger *logrus.Entry
}

// ProfilerBuilderOption is a functional option for configuring a Profiler.
type ProfilerBuilderOption func(*Profiler)

// WithInterval sets how often statistics are logged. Values <= 0 are ignored.
//
// Parameters:
//   - d: the reporting interval (default 1s)
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithInterval(d time.Duration) ProfilerBuilderOption {
	return func(p *Profiler) {
		if d > 0 {
			p.updateInterval = d
		}
	}
}

// WithLogger sets the logger statistics are written to.
//
// Parameters:
//   - logger: the logrus entry
//
// Returns:
//   - ProfilerBuilderOption: option function to apply
func WithLogger(logger *logrus.Entry) ProfilerBuilderOption {
	return func(p *Profiler) {
		p.logger = logger
	}
}

// NewProfiler creates a new Profiler. The update interval defaults to 1 second.
//
// Parameters:
//   - options: functional options (interval, logger)
//
// Returns:
//   - *Profiler: the newly created profiler instance
func NewProfiler(options ...ProfilerBuilderOption) *Profiler {
	p := &Profiler{
		lastTime:       time.Now(),
		updateInterval: time.Second,
	}
	for _, opt := range options {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return p
}

// RecordTransfer records the wall time of one batched push or pop.
//
// Parameters:
//   - d: the time the transfer blocked for
func (p *Profiler) RecordTransfer(d time.Duration) {
	p.transferCount++
	p.transferTotal += d
	if d > p.transferMax {
		p.transferMax = d
	}
}

// Tick should be called once per frame to track frame timing.
// Logs FPS, heap usage, allocation rate, GC pauses and transfer latency when the interval has elapsed.
//
// Returns:
//   - bool: true if stats were logged this tick, false otherwise
func (p *Profiler) Tick() bool {
	p.frameCount++
	currentTime := time.Now()
	elapsed := currentTime.Sub(p.lastTime)
	if elapsed < p.updateInterval {
		return false
	}

	fps := float64(p.frameCount) / elapsed.Seconds()

	runtime.ReadMemStats(&p.memStats)
	allocMB := float64(p.memStats.Alloc) / 1024 / 1024
	sysMB := float64(p.memStats.Sys) / 1024 / 1024
	allocDelta := p.memStats.TotalAlloc - p.lastTotalAlloc
	allocRateMB := float64(allocDelta) / 1024 / 1024 / elapsed.Seconds()

	gcCount := p.memStats.NumGC
	var lastPauseUs, maxPauseUs uint64
	if gcCount > 0 {
		// PauseNs is a circular buffer of the last 256 GC pauses.
		lastPauseUs = p.memStats.PauseNs[(gcCount-1)%256] / 1000
		startIdx := p.lastGCCount
		if gcCount-startIdx > 256 {
			startIdx = gcCount - 256
		}
		for i := startIdx; i < gcCount; i++ {
			if pause := p.memStats.PauseNs[i%256] / 1000; pause > maxPauseUs {
				maxPauseUs = pause
			}
		}
	}

	var meanTransfer time.Duration
	if p.transferCount > 0 {
		meanTransfer = p.transferTotal / time.Duration(p.transferCount)
	}

	p.logger.WithFields(logrus.Fields{
		"fps":            fps,
		"heap_mb":        allocMB,
		"alloc_rate_mbs": allocRateMB,
		"gc":             gcCount,
		"gc_last_us":     lastPauseUs,
		"gc_max_us":      maxPauseUs,
		"sys_mb":         sysMB,
		"transfers":      p.transferCount,
		"transfer_mean":  meanTransfer,
		"transfer_max":   p.transferMax,
	}).Info("profiler")

	p.frameCount = 0
	p.lastTime = currentTime
	p.lastGCCount = gcCount
	p.lastTotalAlloc = p.memStats.TotalAlloc
	p.transferCount = 0
	p.transferTotal = 0
	p.transferMax = 0
	return true
}
