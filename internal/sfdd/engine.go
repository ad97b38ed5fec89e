package sfdd

import (
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"sensor-fdd/internal/models"
	"sensor-fdd/internal/patterns"
	"sensor-fdd/internal/structure"
)

// ErrNotLearned расширенный мониторинг и обучение паттернов требуют выученных корреляций
var ErrNotLearned = errors.New("sfdd: correlations have not been learned")

// Engine детектор неисправных датчиков.
//
// Карта независимости и структурная модель неизменяемы после создания,
// поэтому режимы basic и extended можно вызывать параллельно на разных окнах.
// Состояние режима stateful защищено мьютексом, но окна должны подаваться
// в хронологическом порядке.
type Engine struct {
	sensors     []string
	index       map[string]int
	model       *structure.Model
	threshold   float64
	detectors   []patterns.Detector
	independent [][]bool
	logger      *zap.Logger

	healthMu sync.Mutex
	working  []bool

	learnedMu    sync.RWMutex
	correlated   [][]int
	correlations models.CorrelationMap
	normal       models.PatternPairMap
}

// Option настройка движка
type Option func(*options)

type options struct {
	patternThreshold float64
}

// WithPatternThreshold задает порог библиотеки паттернов
func WithPatternThreshold(threshold float64) Option {
	return func(o *options) {
		o.patternThreshold = threshold
	}
}

// New создает движок и заранее вычисляет карту независимости датчиков
func New(sensors []string, model *structure.Model, threshold float64, patternCount int, logger *zap.Logger, opts ...Option) (*Engine, error) {
	o := options{patternThreshold: patterns.DefaultThreshold}
	for _, opt := range opts {
		opt(&o)
	}

	if threshold <= 0 || threshold > 1 {
		return nil, fmt.Errorf("correlation threshold must be in (0, 1], got %v", threshold)
	}
	library := patterns.WithThreshold(o.patternThreshold)
	if patternCount < 1 || patternCount > len(library) {
		return nil, fmt.Errorf("pattern count must be in [1, %d], got %d", len(library), patternCount)
	}
	if len(sensors) == 0 {
		return nil, &models.ConfigurationError{Message: "sensor list is empty"}
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	e := &Engine{
		sensors:   append([]string(nil), sensors...),
		index:     make(map[string]int, len(sensors)),
		model:     model,
		threshold: threshold,
		detectors: library[:patternCount],
		logger:    logger.With(zap.String("component", "sfdd")),
		working:   make([]bool, len(sensors)),
	}

	for i, name := range e.sensors {
		if _, dup := e.index[name]; dup {
			return nil, &models.ConfigurationError{Component: name, Message: "sensor listed twice"}
		}
		kind, err := model.Kind(name)
		if err != nil {
			return nil, err
		}
		if kind != structure.KindSensor {
			return nil, &models.ConfigurationError{Component: name, Message: "component is not a sensor"}
		}
		e.index[name] = i
		e.working[i] = true
	}

	e.independent = make([][]bool, len(e.sensors))
	for i, name := range e.sensors {
		others, err := model.IndependentSensors(name, e.sensors)
		if err != nil {
			return nil, err
		}
		row := make([]bool, len(e.sensors))
		for _, other := range others {
			// датчик никогда не подтверждает сам себя
			if j := e.index[other]; j != i {
				row[j] = true
			}
		}
		e.independent[i] = row
	}

	e.logger.Info("Fault detection engine created",
		zap.Int("sensors", len(e.sensors)),
		zap.Float64("correlation_threshold", threshold),
		zap.Int("patterns", patternCount),
	)
	return e, nil
}

// Fork возвращает движок с той же конфигурацией и выученными артефактами,
// но с собственными флагами работоспособности (все датчики исправны)
func (e *Engine) Fork() *Engine {
	e.learnedMu.RLock()
	defer e.learnedMu.RUnlock()

	f := &Engine{
		sensors:      e.sensors,
		index:        e.index,
		model:        e.model,
		threshold:    e.threshold,
		detectors:    e.detectors,
		independent:  e.independent,
		logger:       e.logger,
		working:      make([]bool, len(e.sensors)),
		correlated:   e.correlated,
		correlations: e.correlations,
		normal:       e.normal,
	}
	for i := range f.working {
		f.working[i] = true
	}
	return f
}

// Sensors возвращает упорядоченный список датчиков
func (e *Engine) Sensors() []string {
	return append([]string(nil), e.sensors...)
}

// PatternNames возвращает имена паттернов в порядке индексов
func (e *Engine) PatternNames() []string {
	names := make([]string, len(e.detectors))
	for i, d := range e.detectors {
		names[i] = d.Name()
	}
	return names
}

// Independent возвращает датчики, структурно независимые от sensor
func (e *Engine) Independent(sensor string) ([]string, error) {
	i, ok := e.index[sensor]
	if !ok {
		return nil, &models.ConfigurationError{Component: sensor, Message: "unknown sensor"}
	}
	var names []string
	for j, ok := range e.independent[i] {
		if ok {
			names = append(names, e.sensors[j])
		}
	}
	return names, nil
}

// Parents возвращает прямых родителей датчика в структурной модели
func (e *Engine) Parents(sensor string) ([]string, error) {
	if _, ok := e.index[sensor]; !ok {
		return nil, &models.ConfigurationError{Component: sensor, Message: "unknown sensor"}
	}
	return e.model.Parents(sensor)
}

// Components возвращает все компоненты структурной модели
func (e *Engine) Components() []string {
	return e.model.Components()
}

// ComputePatterns вычисляет матрицу активаций датчик x паттерн
func (e *Engine) ComputePatterns(window *mat.Dense, timestamps []float64) ([][]bool, error) {
	if err := e.validate(window, timestamps); err != nil {
		return nil, err
	}
	rows, cols := window.Dims()
	if rows < 2 {
		return nil, &models.InsufficientDataError{Operation: "patterns", Required: 2, Actual: rows}
	}

	activations := make([][]bool, cols)
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, window)
		activations[j] = make([]bool, len(e.detectors))
		for p, d := range e.detectors {
			active, err := d.Detect(column, timestamps)
			if err != nil {
				return nil, fmt.Errorf("pattern %s on sensor %s: %w", d.Name(), e.sensors[j], err)
			}
			activations[j][p] = active
		}
	}
	return activations, nil
}

func (e *Engine) validate(window *mat.Dense, timestamps []float64) error {
	rows, cols := window.Dims()
	if cols != len(e.sensors) {
		return &models.DimensionMismatchError{What: "columns", Expected: len(e.sensors), Actual: cols}
	}
	if len(timestamps) != rows {
		return &models.DimensionMismatchError{What: "timestamps", Expected: rows, Actual: len(timestamps)}
	}
	return nil
}

// firstActive возвращает индекс первого активного паттерна датчика или -1
func firstActive(activations [][]bool) []int {
	first := make([]int, len(activations))
	for i, row := range activations {
		first[i] = -1
		for p, active := range row {
			if active {
				first[i] = p
				break
			}
		}
	}
	return first
}

func anyActive(row []bool) bool {
	for _, active := range row {
		if active {
			return true
		}
	}
	return false
}
