package assembler

import (
	"attune/internal/types"
)

// Trend directions.
const (
	TrendEscalating   = "escalating"
	TrendStable       = "stable"
	TrendDeescalating = "de-escalating"
)

// majorShiftDelta flags an intensity swing this large between the first
// and latest readings.
const majorShiftDelta = 3.0

// EmotionalTrend summarizes the intensity samples of a session.
type EmotionalTrend struct {
	Initial   float64
	Current   float64
	Direction string

	// MajorShift is set when intensity moved three or more points since
	// the session opened.
	MajorShift bool
}

// AnalyzeTrend classifies the session's emotional trajectory by comparing
// rolling 3-point averages of the earliest and latest readings. Returns nil
// when there are no readings.
func AnalyzeTrend(readings []types.EmotionalReading) *EmotionalTrend {
	if len(readings) == 0 {
		return nil
	}

	trend := &EmotionalTrend{
		Initial: readings[0].Intensity,
		Current: readings[len(readings)-1].Intensity,
	}
	trend.MajorShift = abs(trend.Current-trend.Initial) >= majorShiftDelta

	window := 3
	if len(readings) < window {
		window = len(readings)
	}
	early := average(readings[:window])
	late := average(readings[len(readings)-window:])

	switch delta := late - early; {
	case delta >= 1.0:
		trend.Direction = TrendEscalating
	case delta <= -1.0:
		trend.Direction = TrendDeescalating
	default:
		trend.Direction = TrendStable
	}
	return trend
}

func average(readings []types.EmotionalReading) float64 {
	if len(readings) == 0 {
		return 0
	}
	var sum float64
	for _, r := range readings {
		sum += r.Intensity
	}
	return sum / float64(len(readings))
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
