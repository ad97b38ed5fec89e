package sfdd

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"sensor-fdd/internal/correlation"
	"sensor-fdd/internal/models"
)

// Mode режим мониторинга
type Mode string

const (
	ModeBasic    Mode = "basic"
	ModeStateful Mode = "stateful"
	ModeExtended Mode = "extended"
)

// ParseMode разбирает имя режима
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case ModeBasic, ModeStateful, ModeExtended:
		return m, nil
	}
	return "", fmt.Errorf("unknown monitoring mode %q", s)
}

// Monitor вызывает режим мониторинга по имени. corrWindow используется только режимами basic и stateful.
func (e *Engine) Monitor(mode Mode, window *mat.Dense, timestamps []float64, corrWindow int) ([]string, error) {
	switch mode {
	case ModeBasic:
		return e.MonitorBasic(window, timestamps, corrWindow)
	case ModeStateful:
		return e.MonitorBasicStateful(window, timestamps, corrWindow)
	case ModeExtended:
		return e.MonitorExtended(window, timestamps)
	}
	return nil, fmt.Errorf("unknown monitoring mode %q", mode)
}

type verdict int

const (
	noPattern verdict = iota
	corroborated
	uncorroborated
)

// MonitorBasic возвращает датчики, у которых ни один активный паттерн не подтверждается
// коррелирующим структурно независимым датчиком. Корреляции считаются по первым
// corrWindow строкам окна (по умолчанию половина), паттерны по остальным строкам
// с их собственными отметками времени timestamps[corrWindow:].
func (e *Engine) MonitorBasic(window *mat.Dense, timestamps []float64, corrWindow int) ([]string, error) {
	verdicts, err := e.evaluateBasic(window, timestamps, corrWindow)
	if err != nil {
		return nil, err
	}

	var anomalous []string
	for i, v := range verdicts {
		if v == uncorroborated {
			anomalous = append(anomalous, e.sensors[i])
		}
	}
	e.logAnomalies(ModeBasic, anomalous)
	return anomalous, nil
}

// MonitorBasicStateful проверяет окно как MonitorBasic и обновляет флаг
// работоспособности каждого датчика:
//   - нет паттерна или паттерн подтвержден: датчик исправен;
//   - неподтвержденный паттерн: флаг инвертируется.
//
// Инверсия означает, что две подряд неподтвержденные детекции возвращают
// датчик в исправное состояние. Возвращает все датчики, помеченные неисправными.
func (e *Engine) MonitorBasicStateful(window *mat.Dense, timestamps []float64, corrWindow int) ([]string, error) {
	verdicts, err := e.evaluateBasic(window, timestamps, corrWindow)
	if err != nil {
		return nil, err
	}

	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	var faulty []string
	for i, v := range verdicts {
		before := e.working[i]
		switch v {
		case noPattern, corroborated:
			e.working[i] = true
		case uncorroborated:
			e.working[i] = !e.working[i]
		}
		if before != e.working[i] {
			e.logger.Debug("Sensor health changed",
				zap.String("sensor", e.sensors[i]),
				zap.Bool("working", e.working[i]),
			)
		}
		if !e.working[i] {
			faulty = append(faulty, e.sensors[i])
		}
	}
	e.logAnomalies(ModeStateful, faulty)
	return faulty, nil
}

// Health возвращает текущие флаги работоспособности режима stateful
func (e *Engine) Health() map[string]bool {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	health := make(map[string]bool, len(e.sensors))
	for i, name := range e.sensors {
		health[name] = e.working[i]
	}
	return health
}

// ResetHealth помечает все датчики исправными
func (e *Engine) ResetHealth() {
	e.healthMu.Lock()
	defer e.healthMu.Unlock()

	for i := range e.working {
		e.working[i] = true
	}
}

func (e *Engine) evaluateBasic(window *mat.Dense, timestamps []float64, corrWindow int) ([]verdict, error) {
	if err := e.validate(window, timestamps); err != nil {
		return nil, err
	}
	rows, cols := window.Dims()
	if corrWindow < 0 {
		corrWindow = rows / 2
	}
	if corrWindow > rows {
		return nil, &models.InsufficientDataError{Operation: "investigation window", Required: corrWindow + 2, Actual: rows}
	}
	if rows-corrWindow < 2 {
		return nil, &models.InsufficientDataError{Operation: "investigation window", Required: 2, Actual: rows - corrWindow}
	}
	if corrWindow < correlation.MinSamples {
		return nil, &models.InsufficientDataError{Operation: "correlation window", Required: correlation.MinSamples, Actual: corrWindow}
	}

	corr, err := correlation.Pairwise(window.Slice(0, corrWindow, 0, cols).(*mat.Dense))
	if err != nil {
		return nil, err
	}
	correlation.Normalize(corr)

	activations, err := e.ComputePatterns(window.Slice(corrWindow, rows, 0, cols).(*mat.Dense), timestamps[corrWindow:])
	if err != nil {
		return nil, err
	}

	verdicts := make([]verdict, cols)
	for i := range e.sensors {
		if !anyActive(activations[i]) {
			verdicts[i] = noPattern
			continue
		}

		correlated := correlation.Correlated(corr, i, e.threshold)
		verdicts[i] = uncorroborated
		for p, active := range activations[i] {
			if active && e.corroborated(i, p, correlated, activations) {
				verdicts[i] = corroborated
				break
			}
		}
	}
	return verdicts, nil
}

// corroborated сообщает, показывает ли паттерн p хотя бы один коррелирующий независимый датчик
func (e *Engine) corroborated(i, p int, correlated []int, activations [][]bool) bool {
	for _, j := range correlated {
		if activations[j][p] && e.independent[i][j] {
			return true
		}
	}
	return false
}

// MonitorExtended возвращает датчики, чей активный паттерн образует с паттерном
// коррелирующего независимого датчика комбинацию, не встречавшуюся при обучении
func (e *Engine) MonitorExtended(window *mat.Dense, timestamps []float64) ([]string, error) {
	activations, err := e.ComputePatterns(window, timestamps)
	if err != nil {
		return nil, err
	}

	e.learnedMu.RLock()
	defer e.learnedMu.RUnlock()
	if e.correlated == nil || e.normal == nil {
		return nil, ErrNotLearned
	}

	first := firstActive(activations)
	var anomalous []string
	for i, p := range first {
		if p < 0 {
			continue
		}
		for _, j := range e.correlated[i] {
			q := first[j]
			if q < 0 || !e.independent[i][j] {
				continue
			}
			pair := models.PatternPair{Pattern: p, Sensor: e.sensors[j], OtherPattern: q}
			if !e.normal.Contains(e.sensors[i], pair) {
				anomalous = append(anomalous, e.sensors[i])
				break
			}
		}
	}
	e.logAnomalies(ModeExtended, anomalous)
	return anomalous, nil
}

func (e *Engine) logAnomalies(mode Mode, sensors []string) {
	if len(sensors) == 0 {
		return
	}
	e.logger.Debug("Anomalous sensors detected",
		zap.String("mode", string(mode)),
		zap.Strings("sensors", sensors),
	)
}
