// Package antilag detects correlated tick-rate surges across instrument
// pairs. A synchronized surge on both legs is an anti-lag event (momentum is
// propagating); a surge on the primary leg without the correlated leg is a
// contra event (the pair decoupled, momentum signals are suspect).
package antilag

import (
	"sort"
	"time"
)

const (
	EventAntiLag       = "anti_lag"
	EventContraAntiLag = "contra_anti_lag"
)

type Config struct {
	// MinIncreasePct is the burst-over-baseline tick rate increase, in
	// percent, required to call a leg surging.
	MinIncreasePct float64
	// ConfirmTicks is how many burst-window ticks the primary leg needs
	// before the event counts as confirmed.
	ConfirmTicks   int
	BaselineWindow time.Duration
	BurstWindow    time.Duration
}

// Series is the recent tick history of one instrument. Timestamps need not
// be ordered.
type Series struct {
	Symbol string
	Ticks  []time.Time
}

// Result is one pair evaluation. Type is empty when the primary leg is not
// surging.
type Result struct {
	Type                  string
	PrimaryIncreasePct    float64
	CorrelatedIncreasePct float64
	ConfirmingTicks       int
	Confirmed             bool
	DetectedAt            time.Time
}

type Detector struct {
	cfg Config
}

func New(cfg Config) *Detector {
	if cfg.ConfirmTicks <= 0 {
		cfg.ConfirmTicks = 3
	}
	if cfg.BaselineWindow <= 0 {
		cfg.BaselineWindow = time.Minute
	}
	if cfg.BurstWindow <= 0 || cfg.BurstWindow >= cfg.BaselineWindow {
		cfg.BurstWindow = 5 * time.Second
	}
	return &Detector{cfg: cfg}
}

// Detect evaluates the pair as of now. Returns nil when the primary leg shows
// no qualifying surge.
func (d *Detector) Detect(now time.Time, primary, correlated Series) *Result {
	if d == nil {
		return nil
	}
	pInc, pBurst := d.increase(now, primary.Ticks)
	if pInc < d.cfg.MinIncreasePct || pBurst == 0 {
		return nil
	}
	cInc, _ := d.increase(now, correlated.Ticks)

	res := &Result{
		PrimaryIncreasePct:    pInc,
		CorrelatedIncreasePct: cInc,
		ConfirmingTicks:       pBurst,
		Confirmed:             pBurst >= d.cfg.ConfirmTicks,
		DetectedAt:            now,
	}
	if cInc >= d.cfg.MinIncreasePct {
		res.Type = EventAntiLag
	} else {
		res.Type = EventContraAntiLag
	}
	return res
}

// increase returns the burst-over-baseline rate increase in percent and the
// burst tick count. A silent baseline with burst activity reads as a full
// MinIncreasePct surge so cold instruments can still trigger.
func (d *Detector) increase(now time.Time, ticks []time.Time) (float64, int) {
	burstStart := now.Add(-d.cfg.BurstWindow)
	baseStart := now.Add(-d.cfg.BaselineWindow)

	var baseCount, burstCount int
	for _, t := range ticks {
		if t.After(now) || t.Before(baseStart) {
			continue
		}
		if t.After(burstStart) {
			burstCount++
		} else {
			baseCount++
		}
	}

	baseDur := (d.cfg.BaselineWindow - d.cfg.BurstWindow).Seconds()
	baseRate := float64(baseCount) / baseDur
	burstRate := float64(burstCount) / d.cfg.BurstWindow.Seconds()

	if baseRate == 0 {
		if burstCount == 0 {
			return 0, 0
		}
		return d.cfg.MinIncreasePct, burstCount
	}
	return (burstRate/baseRate - 1) * 100, burstCount
}

// TickBuffer accumulates ticks per symbol and trims history older than the
// baseline window. Not safe for concurrent use; callers serialize.
type TickBuffer struct {
	retain time.Duration
	ticks  map[string][]time.Time
}

func NewTickBuffer(retain time.Duration) *TickBuffer {
	if retain <= 0 {
		retain = time.Minute
	}
	return &TickBuffer{retain: retain, ticks: map[string][]time.Time{}}
}

func (b *TickBuffer) Add(symbol string, at time.Time) {
	if b == nil || symbol == "" {
		return
	}
	b.ticks[symbol] = append(b.ticks[symbol], at)
	b.trim(symbol, at)
}

func (b *TickBuffer) Series(symbol string) Series {
	if b == nil {
		return Series{Symbol: symbol}
	}
	src := b.ticks[symbol]
	out := make([]time.Time, len(src))
	copy(out, src)
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return Series{Symbol: symbol, Ticks: out}
}

func (b *TickBuffer) trim(symbol string, now time.Time) {
	cutoff := now.Add(-b.retain)
	src := b.ticks[symbol]
	kept := src[:0]
	for _, t := range src {
		if !t.Before(cutoff) {
			kept = append(kept, t)
		}
	}
	b.ticks[symbol] = kept
}
