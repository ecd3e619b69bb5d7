package reliability

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"github.com/pampax/pampax/internal/errors"
)

// ServiceLevel is the operating mode derived from component health.
type ServiceLevel int

const (
	// LevelFull permits every strategy.
	LevelFull ServiceLevel = iota
	// LevelDegraded prefers caches before primary work.
	LevelDegraded
	// LevelMinimal skips primary work entirely.
	LevelMinimal
	// LevelEmergency serves fallbacks only.
	LevelEmergency
)

// String returns the level name used in logs and health reports.
func (l ServiceLevel) String() string {
	switch l {
	case LevelFull:
		return "full"
	case LevelDegraded:
		return "degraded"
	case LevelMinimal:
		return "minimal"
	case LevelEmergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Health score cut-offs per level. At or above the cut the level holds.
const (
	fullCut     = 0.85
	degradedCut = 0.55
	minimalCut  = 0.25
)

// LevelForScore maps a health score in [0, 1] to a service level.
func LevelForScore(score float64) ServiceLevel {
	switch {
	case score >= fullCut:
		return LevelFull
	case score >= degradedCut:
		return LevelDegraded
	case score >= minimalCut:
		return LevelMinimal
	default:
		return LevelEmergency
	}
}

// StrategyKind orders execution strategies by cost and fidelity.
type StrategyKind string

const (
	// StrategyPrimary is the normal, full-fidelity path.
	StrategyPrimary StrategyKind = "primary"
	// StrategyCache serves previously computed results.
	StrategyCache StrategyKind = "cache"
	// StrategyFallback is the reduced-fidelity path of last resort.
	StrategyFallback StrategyKind = "fallback"
)

// permittedOrder lists, per level, which strategies may run and in what
// order. Degraded levels try caches before spending primary effort.
var permittedOrder = map[ServiceLevel][]StrategyKind{
	LevelFull:      {StrategyPrimary, StrategyCache, StrategyFallback},
	LevelDegraded:  {StrategyCache, StrategyPrimary, StrategyFallback},
	LevelMinimal:   {StrategyCache, StrategyFallback},
	LevelEmergency: {StrategyFallback},
}

// Strategy is one way to satisfy an operation.
type Strategy[T any] struct {
	Kind StrategyKind
	Run  func(ctx context.Context) (T, error)
}

// Degrader tracks per-component health scores and derives the current
// service level. Safe for concurrent use.
type Degrader struct {
	mu     sync.RWMutex
	scores map[string]float64
	log    *slog.Logger
}

// NewDegrader starts with no component reports, which counts as fully
// healthy.
func NewDegrader(log *slog.Logger) *Degrader {
	if log == nil {
		log = slog.Default()
	}
	return &Degrader{
		scores: make(map[string]float64),
		log:    log,
	}
}

// Report records a component's health score in [0, 1]. Out-of-range
// values are clamped.
func (d *Degrader) Report(component string, score float64) {
	if score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}

	d.mu.Lock()
	prev, had := d.scores[component]
	d.scores[component] = score
	level := LevelForScore(d.scoreLocked())
	d.mu.Unlock()

	if had && prev != score {
		d.log.Debug("health_report",
			slog.String("component", component),
			slog.Float64("score", score),
			slog.String("level", level.String()))
	}
}

// ReportBreaker folds a circuit breaker's state into the component
// score: closed is healthy, half-open is suspect, open is down.
func (d *Degrader) ReportBreaker(cb *CircuitBreaker) {
	switch cb.State() {
	case StateClosed:
		d.Report(cb.Name(), 1.0)
	case StateHalfOpen:
		d.Report(cb.Name(), 0.5)
	default:
		d.Report(cb.Name(), 0.0)
	}
}

// Score returns the aggregate health score: the mean of component
// scores, 1.0 when nothing has reported.
func (d *Degrader) Score() float64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.scoreLocked()
}

func (d *Degrader) scoreLocked() float64 {
	if len(d.scores) == 0 {
		return 1.0
	}
	sum := 0.0
	for _, s := range d.scores {
		sum += s
	}
	return sum / float64(len(d.scores))
}

// Level returns the current service level.
func (d *Degrader) Level() ServiceLevel {
	return LevelForScore(d.Score())
}

// Components returns the reported scores, sorted by component name.
func (d *Degrader) Components() []ComponentScore {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]ComponentScore, 0, len(d.scores))
	for name, score := range d.scores {
		out = append(out, ComponentScore{Component: name, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Component < out[j].Component })
	return out
}

// ComponentScore is one component's last reported health.
type ComponentScore struct {
	Component string  `json:"component"`
	Score     float64 `json:"score"`
}

// Execute tries the given strategies in the order the current service
// level permits and returns the first success. Strategies the level
// forbids are skipped. When every permitted strategy fails, the last
// failure is returned; when the level permits none of the offered
// strategies, the error is Unavailable.
func Execute[T any](ctx context.Context, d *Degrader, op string, strategies ...Strategy[T]) (T, error) {
	var zero T
	level := d.Level()

	byKind := make(map[StrategyKind][]Strategy[T], len(strategies))
	for _, s := range strategies {
		if s.Run == nil {
			continue
		}
		byKind[s.Kind] = append(byKind[s.Kind], s)
	}

	var lastErr error
	tried := 0
	for _, kind := range permittedOrder[level] {
		for _, s := range byKind[kind] {
			if err := ctx.Err(); err != nil {
				return zero, errors.Wrap(errors.KindCancelled, op, err)
			}
			tried++
			result, err := s.Run(ctx)
			if err == nil {
				return result, nil
			}
			lastErr = err
			d.log.Debug("strategy_failed",
				slog.String("op", op),
				slog.String("strategy", string(kind)),
				slog.String("level", level.String()),
				slog.String("error", err.Error()))
		}
	}

	if tried == 0 {
		return zero, errors.E(errors.KindUnavailable, op,
			"no strategy permitted at service level "+level.String(), nil).
			WithHint("wait for component health to recover or lower the request's requirements")
	}
	return zero, errors.Wrap(errors.KindOf(lastErr), op, lastErr)
}
