package ui

import (
	"sync"
	"time"
)

// speedSampleInterval throttles speed recalculation so per-file jitter
// does not swamp the display.
const speedSampleInterval = 500 * time.Millisecond

// speedSmoothing weights new speed samples in the rolling average.
const speedSmoothing = 0.2

// etaSmoothing weights new ETA estimates; batch embedding times vary
// enough that raw estimates jump around.
const etaSmoothing = 0.3

// ProgressTracker accumulates progress across the pipeline stages.
// Safe for concurrent use.
type ProgressTracker struct {
	mu          sync.Mutex
	stage       Stage
	current     int
	total       int
	currentFile string
	startTime   time.Time
	stageStart  time.Time
	errors      []ErrorEvent
	warnings    []ErrorEvent

	lastETA time.Duration

	lastCurrent  int
	lastSample   time.Time
	currentSpeed float64
	avgSpeed     float64
	peakSpeed    float64
	samples      int
	spark        *Sparkline
}

// SpeedStats is a snapshot of throughput in items per second.
type SpeedStats struct {
	Current float64
	Avg     float64
	Peak    float64
}

// ProgressStats is a point-in-time view for rendering.
type ProgressStats struct {
	Stage       Stage
	Current     int
	Total       int
	Progress    float64
	ETA         time.Duration
	CurrentFile string
	ErrorCount  int
	WarnCount   int
	Speed       SpeedStats
}

// NewProgressTracker starts tracking at the scanning stage.
func NewProgressTracker() *ProgressTracker {
	now := time.Now()
	return &ProgressTracker{
		stage:      StageScanning,
		startTime:  now,
		stageStart: now,
		lastSample: now,
		spark:      NewSparkline(60),
	}
}

// SetStage moves to a new stage and resets per-stage state.
func (p *ProgressTracker) SetStage(stage Stage, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	p.stage = stage
	p.total = total
	p.current = 0
	p.currentFile = ""
	p.stageStart = now
	p.lastETA = 0

	p.lastCurrent = 0
	p.lastSample = now
	p.currentSpeed = 0
	p.avgSpeed = 0
	p.peakSpeed = 0
	p.samples = 0
	p.spark.Clear()
}

// Update records progress within the current stage.
func (p *ProgressTracker) Update(current int, file string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.current = current
	if file != "" {
		p.currentFile = file
	}

	now := time.Now()
	elapsed := now.Sub(p.lastSample)
	if elapsed < speedSampleInterval {
		return
	}
	if delta := current - p.lastCurrent; delta > 0 {
		speed := float64(delta) / elapsed.Seconds()
		p.currentSpeed = speed
		p.samples++
		if p.samples == 1 {
			p.avgSpeed = speed
		} else {
			p.avgSpeed = speedSmoothing*speed + (1-speedSmoothing)*p.avgSpeed
		}
		if speed > p.peakSpeed {
			p.peakSpeed = speed
		}
		p.spark.Add(speed)
	}
	p.lastCurrent = current
	p.lastSample = now
}

// AddError records a per-file error or warning.
func (p *ProgressTracker) AddError(event ErrorEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if event.IsWarn {
		p.warnings = append(p.warnings, event)
	} else {
		p.errors = append(p.errors, event)
	}
}

// Elapsed returns time since the tracker was created.
func (p *ProgressTracker) Elapsed() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return time.Since(p.startTime)
}

// Stats snapshots the tracker for rendering.
func (p *ProgressTracker) Stats() ProgressStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	progress := 0.0
	if p.total > 0 {
		progress = float64(p.current) / float64(p.total)
		if progress > 1 {
			progress = 1
		}
	}
	return ProgressStats{
		Stage:       p.stage,
		Current:     p.current,
		Total:       p.total,
		Progress:    progress,
		ETA:         p.eta(),
		CurrentFile: p.currentFile,
		ErrorCount:  len(p.errors),
		WarnCount:   len(p.warnings),
		Speed: SpeedStats{
			Current: p.currentSpeed,
			Avg:     p.avgSpeed,
			Peak:    p.peakSpeed,
		},
	}
}

// eta estimates remaining time with exponential smoothing. Caller
// holds the lock.
func (p *ProgressTracker) eta() time.Duration {
	if p.current == 0 || p.total == 0 {
		return 0
	}
	progress := float64(p.current) / float64(p.total)
	if progress <= 0 || progress >= 1 {
		return 0
	}
	elapsed := time.Since(p.stageStart)
	raw := time.Duration(float64(elapsed)/progress) - elapsed
	if raw < 0 {
		return 0
	}
	if p.lastETA == 0 {
		p.lastETA = raw
		return raw
	}
	p.lastETA = time.Duration(etaSmoothing*float64(raw) + (1-etaSmoothing)*float64(p.lastETA))
	return p.lastETA
}

// Errors returns a copy of recorded errors.
func (p *ProgressTracker) Errors() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.errors))
	copy(out, p.errors)
	return out
}

// Warnings returns a copy of recorded warnings.
func (p *ProgressTracker) Warnings() []ErrorEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ErrorEvent, len(p.warnings))
	copy(out, p.warnings)
	return out
}

// RenderSparkline draws the throughput sparkline at the given width.
func (p *ProgressTracker) RenderSparkline(width int) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.spark.RenderWidth(width)
}
