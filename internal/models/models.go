package models

import (
	"time"

	"gonum.org/v1/gonum/mat"
)

// Sample представляет одно измерение всех датчиков платформы
type Sample struct {
	PlatformID string    `json:"platform_id"`
	Timestamp  float64   `json:"timestamp"`
	Values     []float64 `json:"values"`
}

// Window окно измерений: строки - моменты времени, столбцы - датчики
type Window struct {
	Timestamps []float64   `json:"timestamps"`
	Values     [][]float64 `json:"values"`
	CorrWindow *int        `json:"corr_window,omitempty"`
}

// Matrix собирает окно в плотную матрицу gonum
func (w Window) Matrix(sensorCount int) (*mat.Dense, error) {
	if len(w.Values) == 0 {
		return nil, &InsufficientDataError{Operation: "window", Required: 1, Actual: 0}
	}
	if len(w.Timestamps) != len(w.Values) {
		return nil, &DimensionMismatchError{What: "timestamps", Expected: len(w.Values), Actual: len(w.Timestamps)}
	}

	data := make([]float64, 0, len(w.Values)*sensorCount)
	for _, row := range w.Values {
		if len(row) != sensorCount {
			return nil, &DimensionMismatchError{What: "columns", Expected: sensorCount, Actual: len(row)}
		}
		data = append(data, row...)
	}
	return mat.NewDense(len(w.Values), sensorCount, data), nil
}

// FaultReport результат проверки одного окна
type FaultReport struct {
	ID            string    `json:"id"`
	PlatformID    string    `json:"platform_id"`
	Mode          string    `json:"mode"`
	WindowStart   float64   `json:"window_start"`
	WindowEnd     float64   `json:"window_end"`
	FaultySensors []string  `json:"faulty_sensors"`
	DetectedAt    time.Time `json:"detected_at"`
}

// HasFaults сообщает, найден ли хотя бы один неисправный датчик
func (r FaultReport) HasFaults() bool {
	return len(r.FaultySensors) > 0
}

// LearnRequest обучающие данные для POST /learn
type LearnRequest struct {
	Timestamps []float64   `json:"timestamps"`
	Values     [][]float64 `json:"values"`
	WindowSize int         `json:"window_size"`
}
