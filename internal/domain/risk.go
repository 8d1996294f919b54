package domain

import "time"

// RiskLevel is the circuit-breaker level, ordered by severity.
type RiskLevel string

const (
	RiskGreen  RiskLevel = "GREEN"
	RiskYellow RiskLevel = "YELLOW"
	RiskOrange RiskLevel = "ORANGE"
	RiskRed    RiskLevel = "RED"
)

// Severity maps levels to an ordinal for comparisons.
func (l RiskLevel) Severity() int {
	switch l {
	case RiskYellow:
		return 1
	case RiskOrange:
		return 2
	case RiskRed:
		return 3
	default:
		return 0
	}
}

// BaseMultiplier is the sizing multiplier the level imposes, before any
// demotion discount. ORANGE and RED are settle-only.
func (l RiskLevel) BaseMultiplier() float64 {
	switch l {
	case RiskGreen:
		return 1.0
	case RiskYellow:
		return 0.5
	default:
		return 0.0
	}
}

// AllowsNewEntries reports whether initial directional/hedge placements
// are permitted at this level. YELLOW still trades, at half size; the
// veto starts at ORANGE (settle-only).
func (l RiskLevel) AllowsNewEntries() bool {
	return l == RiskGreen || l == RiskYellow
}

// AllowsDCA reports whether follow-on DCA entries are permitted.
// YELLOW blocks new DCA; ORANGE lets existing groups run only when the
// config opts in; RED force-stops everything.
func (l RiskLevel) AllowsDCA(orangeContinues bool) bool {
	switch l {
	case RiskGreen:
		return true
	case RiskOrange:
		return orangeContinues
	default:
		return false
	}
}

// RiskSnapshot is the persisted risk state at the end of a tick. The most
// recent snapshot is the authoritative state between ticks.
type RiskSnapshot struct {
	ID               int64
	CreatedAt        time.Time
	Level            RiskLevel
	SizingMultiplier float64
	Bankroll         float64
	DailyPnL         float64
	WeeklyPnL        float64
	ConsecLosses     int
	MaxDrawdownPct   float64
	DriftZMax        float64
	Degraded         bool
	Reason           string
}

// CalibrationSample joins a settled result with the calibration estimate
// recorded at entry. Input to the drift detector.
type CalibrationSample struct {
	Price    float64
	Expected float64 // calibration point estimate at placement
	Won      bool
}

// BreakerEvent records a level transition; the hysteresis dwell times are
// computed from these rows. RED → ORANGE requires Acked.
type BreakerEvent struct {
	ID        int64
	FromLevel RiskLevel
	ToLevel   RiskLevel
	Reason    string
	Acked     bool
	CreatedAt time.Time
}
