package patterns

import (
	"math"

	"sensor-fdd/internal/models"
)

// DefaultThreshold порог сравнения значений и наклонов по умолчанию
const DefaultThreshold = 1e-3

// Индексы паттернов в матрице активаций
const (
	StuckAtIndex = 0
	DriftIndex   = 1
)

// StuckAt возвращает true, если соседние измерения отличаются не более чем на threshold
func StuckAt(measurements []float64, threshold float64) bool {
	for i := 1; i < len(measurements); i++ {
		if math.Abs(measurements[i]-measurements[i-1]) > threshold {
			return false
		}
	}
	return true
}

// Drift возвращает true, если наклон измерений меняется больше чем на threshold
// ровно один раз и затем остается постоянным
func Drift(measurements, timestamps []float64, threshold float64) (bool, error) {
	if len(measurements) < 2 {
		return false, &models.InsufficientDataError{Operation: "drift", Required: 2, Actual: len(measurements)}
	}
	if len(timestamps) != len(measurements) {
		return false, &models.DimensionMismatchError{What: "timestamps", Expected: len(measurements), Actual: len(timestamps)}
	}

	prevSlope := slope(measurements, timestamps, 1)
	changed := false
	for i := 2; i < len(measurements); i++ {
		s := slope(measurements, timestamps, i)
		if math.Abs(s-prevSlope) > threshold {
			if changed {
				return false, nil
			}
			changed = true
		}
		prevSlope = s
	}
	return changed, nil
}

func slope(m, t []float64, i int) float64 {
	return (m[i] - m[i-1]) / (t[i] - t[i-1])
}

// Detector проверяет один паттерн на окне измерений одного датчика
type Detector interface {
	Name() string
	Detect(measurements, timestamps []float64) (bool, error)
}

type stuckAt struct{ threshold float64 }

func (d stuckAt) Name() string { return "stuck_at" }

func (d stuckAt) Detect(measurements, _ []float64) (bool, error) {
	return StuckAt(measurements, d.threshold), nil
}

type drift struct{ threshold float64 }

func (d drift) Name() string { return "drift" }

func (d drift) Detect(measurements, timestamps []float64) (bool, error) {
	return Drift(measurements, timestamps, d.threshold)
}

// WithThreshold возвращает библиотеку паттернов с заданным порогом в порядке индексов: stuck_at, drift
func WithThreshold(threshold float64) []Detector {
	return []Detector{
		stuckAt{threshold: threshold},
		drift{threshold: threshold},
	}
}
