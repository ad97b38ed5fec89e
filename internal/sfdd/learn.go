package sfdd

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"sensor-fdd/internal/correlation"
	"sensor-fdd/internal/models"
)

// LearnCorrelations вычисляет корреляции по всем обучающим данным и запоминает
// для каждого датчика остальные датчики с корреляцией выше порога.
// Ранее выученные нормальные паттерны сбрасываются.
func (e *Engine) LearnCorrelations(data *mat.Dense) (models.CorrelationMap, error) {
	correlated, learned, err := e.computeCorrelations(data)
	if err != nil {
		return nil, err
	}

	e.learnedMu.Lock()
	e.correlated = correlated
	e.correlations = learned
	e.normal = nil
	e.learnedMu.Unlock()

	rows, _ := data.Dims()
	e.logger.Info("Correlations learned", zap.Int("samples", rows))
	return copyCorrelations(learned), nil
}

// LearnNormalPatterns скользит окном размера windowSize с шагом 1 по обучающим
// данным и запоминает комбинации паттернов коррелирующих независимых датчиков.
// Эти комбинации считаются нормальными в MonitorExtended.
func (e *Engine) LearnNormalPatterns(data *mat.Dense, timestamps []float64, windowSize int) (models.PatternPairMap, error) {
	if err := e.checkPatternInput(data, timestamps, windowSize); err != nil {
		return nil, err
	}

	e.learnedMu.RLock()
	correlated := e.correlated
	e.learnedMu.RUnlock()
	if correlated == nil {
		return nil, ErrNotLearned
	}

	learned, err := e.computeNormalPatterns(data, timestamps, windowSize, correlated)
	if err != nil {
		return nil, err
	}

	e.learnedMu.Lock()
	e.normal = learned
	e.learnedMu.Unlock()
	return copyPatternPairs(learned), nil
}

// Learn вычисляет корреляции и нормальные паттерны и устанавливает их вместе.
// При ошибке ранее выученное состояние не меняется.
func (e *Engine) Learn(data *mat.Dense, timestamps []float64, windowSize int) (models.CorrelationMap, models.PatternPairMap, error) {
	if err := e.checkPatternInput(data, timestamps, windowSize); err != nil {
		return nil, nil, err
	}
	correlated, correlations, err := e.computeCorrelations(data)
	if err != nil {
		return nil, nil, err
	}
	normal, err := e.computeNormalPatterns(data, timestamps, windowSize, correlated)
	if err != nil {
		return nil, nil, err
	}

	e.learnedMu.Lock()
	e.correlated = correlated
	e.correlations = correlations
	e.normal = normal
	e.learnedMu.Unlock()

	rows, _ := data.Dims()
	e.logger.Info("Correlations learned", zap.Int("samples", rows))
	return copyCorrelations(correlations), copyPatternPairs(normal), nil
}

func (e *Engine) computeCorrelations(data *mat.Dense) ([][]int, models.CorrelationMap, error) {
	_, cols := data.Dims()
	if cols != len(e.sensors) {
		return nil, nil, &models.DimensionMismatchError{What: "columns", Expected: len(e.sensors), Actual: cols}
	}

	corr, err := correlation.Pairwise(data)
	if err != nil {
		return nil, nil, err
	}
	correlation.Normalize(corr)

	correlated := make([][]int, cols)
	learned := make(models.CorrelationMap, cols)
	for i, name := range e.sensors {
		names := []string{}
		for _, j := range correlation.Correlated(corr, i, e.threshold) {
			if j == i {
				continue
			}
			correlated[i] = append(correlated[i], j)
			names = append(names, e.sensors[j])
		}
		learned[name] = names
	}
	return correlated, learned, nil
}

func (e *Engine) checkPatternInput(data *mat.Dense, timestamps []float64, windowSize int) error {
	if err := e.validate(data, timestamps); err != nil {
		return err
	}
	rows, _ := data.Dims()
	if windowSize < 2 {
		return &models.InsufficientDataError{Operation: "pattern window", Required: 2, Actual: windowSize}
	}
	if windowSize > rows {
		return &models.InsufficientDataError{Operation: "normal pattern learning", Required: windowSize, Actual: rows}
	}
	return nil
}

func (e *Engine) computeNormalPatterns(data *mat.Dense, timestamps []float64, windowSize int, correlated [][]int) (models.PatternPairMap, error) {
	rows, cols := data.Dims()
	learned := make(models.PatternPairMap, cols)
	for _, name := range e.sensors {
		learned[name] = []models.PatternPair{}
	}

	windows := 0
	for start := 0; start+windowSize <= rows; start++ {
		window := data.Slice(start, start+windowSize, 0, cols).(*mat.Dense)
		activations, err := e.ComputePatterns(window, timestamps[start:start+windowSize])
		if err != nil {
			return nil, fmt.Errorf("window at %d: %w", start, err)
		}
		windows++

		first := firstActive(activations)
		for i, p := range first {
			if p < 0 {
				continue
			}
			for _, j := range correlated[i] {
				q := first[j]
				if q < 0 || !e.independent[i][j] {
					continue
				}
				pair := models.PatternPair{Pattern: p, Sensor: e.sensors[j], OtherPattern: q}
				if !learned.Contains(e.sensors[i], pair) {
					learned[e.sensors[i]] = append(learned[e.sensors[i]], pair)
				}
			}
		}
	}

	e.logger.Info("Normal patterns learned",
		zap.Int("windows", windows),
		zap.Int("window_size", windowSize),
	)
	return learned, nil
}

// SetCorrelations загружает сохраненную карту корреляций и сбрасывает нормальные паттерны
func (e *Engine) SetCorrelations(learned models.CorrelationMap) error {
	correlated, err := e.resolveCorrelations(learned)
	if err != nil {
		return err
	}

	e.learnedMu.Lock()
	e.correlated = correlated
	e.correlations = copyCorrelations(learned)
	e.normal = nil
	e.learnedMu.Unlock()
	return nil
}

// SetNormalPatterns загружает сохраненную карту нормальных пар паттернов
func (e *Engine) SetNormalPatterns(learned models.PatternPairMap) error {
	if err := e.checkPatternPairs(learned); err != nil {
		return err
	}

	e.learnedMu.Lock()
	e.normal = copyPatternPairs(learned)
	e.learnedMu.Unlock()
	return nil
}

// SetLearned проверяет и устанавливает оба сохраненных артефакта вместе
func (e *Engine) SetLearned(correlations models.CorrelationMap, pairs models.PatternPairMap) error {
	correlated, err := e.resolveCorrelations(correlations)
	if err != nil {
		return err
	}
	if err := e.checkPatternPairs(pairs); err != nil {
		return err
	}

	e.learnedMu.Lock()
	e.correlated = correlated
	e.correlations = copyCorrelations(correlations)
	e.normal = copyPatternPairs(pairs)
	e.learnedMu.Unlock()
	return nil
}

// Learned сообщает, выучены ли корреляции и нормальные паттерны
func (e *Engine) Learned() bool {
	e.learnedMu.RLock()
	defer e.learnedMu.RUnlock()
	return e.correlated != nil && e.normal != nil
}

func (e *Engine) resolveCorrelations(learned models.CorrelationMap) ([][]int, error) {
	correlated := make([][]int, len(e.sensors))
	for name, others := range learned {
		i, ok := e.index[name]
		if !ok {
			return nil, &models.ConfigurationError{Component: name, Message: "correlation artifact references unknown sensor"}
		}
		for _, other := range others {
			j, ok := e.index[other]
			if !ok {
				return nil, &models.ConfigurationError{Component: other, Message: "correlation artifact references unknown sensor"}
			}
			correlated[i] = append(correlated[i], j)
		}
	}
	return correlated, nil
}

func (e *Engine) checkPatternPairs(learned models.PatternPairMap) error {
	for name, pairs := range learned {
		if _, ok := e.index[name]; !ok {
			return &models.ConfigurationError{Component: name, Message: "pattern artifact references unknown sensor"}
		}
		for _, pair := range pairs {
			if _, ok := e.index[pair.Sensor]; !ok {
				return &models.ConfigurationError{Component: pair.Sensor, Message: "pattern artifact references unknown sensor"}
			}
			if !e.validPattern(pair.Pattern) || !e.validPattern(pair.OtherPattern) {
				return &models.ConfigurationError{Component: name, Message: fmt.Sprintf("pattern index out of range in %v", pair)}
			}
		}
	}
	return nil
}

// Correlations возвращает копию выученной карты корреляций
func (e *Engine) Correlations() (models.CorrelationMap, bool) {
	e.learnedMu.RLock()
	defer e.learnedMu.RUnlock()
	if e.correlated == nil {
		return nil, false
	}
	return copyCorrelations(e.correlations), true
}

// NormalPatterns возвращает копию выученной карты пар паттернов
func (e *Engine) NormalPatterns() (models.PatternPairMap, bool) {
	e.learnedMu.RLock()
	defer e.learnedMu.RUnlock()
	if e.normal == nil {
		return nil, false
	}
	return copyPatternPairs(e.normal), true
}

func (e *Engine) validPattern(p int) bool {
	return p >= 0 && p < len(e.detectors)
}

func copyCorrelations(m models.CorrelationMap) models.CorrelationMap {
	out := make(models.CorrelationMap, len(m))
	for k, v := range m {
		out[k] = append([]string{}, v...)
	}
	return out
}

func copyPatternPairs(m models.PatternPairMap) models.PatternPairMap {
	out := make(models.PatternPairMap, len(m))
	for k, v := range m {
		out[k] = append([]models.PatternPair{}, v...)
	}
	return out
}
