package analytics

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"sensor-fdd/internal/metrics"
	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
)

// ErrQueueFull очередь измерений переполнена, измерение отброшено
var ErrQueueFull = errors.New("sample queue is full")

// SampleWindow хранит скользящее окно измерений одной платформы
type SampleWindow struct {
	timestamps []float64
	values     [][]float64
	maxSize    int
}

// push добавляет измерение и возвращает true, когда окно заполнено
func (w *SampleWindow) push(sample models.Sample) bool {
	w.timestamps = append(w.timestamps, sample.Timestamp)
	w.values = append(w.values, sample.Values)

	// Ограничиваем размер окна
	if len(w.timestamps) > w.maxSize {
		w.timestamps = w.timestamps[1:]
		w.values = w.values[1:]
	}
	return len(w.timestamps) == w.maxSize
}

// snapshot копирует окно в задачу анализа
func (w *SampleWindow) snapshot(platformID string, sensorCount int) windowJob {
	data := make([]float64, 0, len(w.values)*sensorCount)
	for _, row := range w.values {
		data = append(data, row...)
	}
	return windowJob{
		platformID: platformID,
		timestamps: append([]float64(nil), w.timestamps...),
		window:     mat.NewDense(len(w.values), sensorCount, data),
	}
}

type windowJob struct {
	platformID string
	timestamps []float64
	window     *mat.Dense
}

// Analyzer потоковый анализатор: собирает измерения в окна и проверяет их движком
type Analyzer struct {
	engine     *sfdd.Engine
	mode       sfdd.Mode
	windowSize int
	corrWindow int
	logger     *zap.Logger

	windows  map[string]*SampleWindow
	trackers map[string]*sfdd.Engine
	mu       sync.RWMutex

	samplesChan chan models.Sample
	jobsChan    chan windowJob
	resultsChan chan models.FaultReport
	stopChan    chan struct{}
	wg          sync.WaitGroup

	samplesSeen      atomic.Int64
	windowsEvaluated atomic.Int64
	evaluationErrors atomic.Int64
	droppedResults   atomic.Int64
}

// NewAnalyzer создает новый анализатор
func NewAnalyzer(engine *sfdd.Engine, mode sfdd.Mode, windowSize, corrWindow int, logger *zap.Logger) *Analyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Analyzer{
		engine:      engine,
		mode:        mode,
		windowSize:  windowSize,
		corrWindow:  corrWindow,
		logger:      logger.With(zap.String("component", "analyzer")),
		windows:     make(map[string]*SampleWindow),
		trackers:    make(map[string]*sfdd.Engine),
		samplesChan: make(chan models.Sample, 1000),
		jobsChan:    make(chan windowJob, 100),
		resultsChan: make(chan models.FaultReport, 1000),
		stopChan:    make(chan struct{}),
	}
}

// Start запускает горутину сборки окон и обработчики.
// В режиме stateful окна проверяются по порядку в горутине сборки.
func (a *Analyzer) Start(workers int) {
	a.wg.Add(1)
	go a.collectSamples()

	if a.mode == sfdd.ModeStateful {
		workers = 0
	}
	for i := 0; i < workers; i++ {
		a.wg.Add(1)
		go a.processWindows()
	}
	a.logger.Info("Analyzer started",
		zap.String("mode", string(a.mode)),
		zap.Int("window_size", a.windowSize),
		zap.Int("workers", workers),
	)
}

// Stop останавливает анализатор
func (a *Analyzer) Stop() {
	close(a.stopChan)
	a.wg.Wait()
	close(a.resultsChan)
}

// AddSample добавляет измерение для анализа
func (a *Analyzer) AddSample(sample models.Sample) error {
	if sensors := len(a.engine.Sensors()); len(sample.Values) != sensors {
		return &models.DimensionMismatchError{What: "values", Expected: sensors, Actual: len(sample.Values)}
	}

	select {
	case a.samplesChan <- sample:
		return nil
	default:
		// Если канал полон, пропускаем измерение
		return ErrQueueFull
	}
}

// GetResultsChan возвращает канал с отчетами
func (a *Analyzer) GetResultsChan() <-chan models.FaultReport {
	return a.resultsChan
}

// collectSamples раскладывает измерения по окнам платформ
func (a *Analyzer) collectSamples() {
	defer a.wg.Done()
	sensorCount := len(a.engine.Sensors())

	for {
		select {
		case <-a.stopChan:
			return
		case sample := <-a.samplesChan:
			a.samplesSeen.Add(1)

			a.mu.Lock()
			window, exists := a.windows[sample.PlatformID]
			if !exists {
				window = &SampleWindow{
					timestamps: make([]float64, 0, a.windowSize+1),
					values:     make([][]float64, 0, a.windowSize+1),
					maxSize:    a.windowSize,
				}
				a.windows[sample.PlatformID] = window
				metrics.ActivePlatforms.Set(float64(len(a.windows)))
			}
			a.mu.Unlock()

			if last := len(window.timestamps) - 1; last >= 0 && sample.Timestamp <= window.timestamps[last] {
				a.logger.Warn("Out of order sample dropped",
					zap.String("platform_id", sample.PlatformID),
					zap.Float64("timestamp", sample.Timestamp),
				)
				continue
			}
			if !window.push(sample) {
				continue
			}

			job := window.snapshot(sample.PlatformID, sensorCount)
			if a.mode == sfdd.ModeStateful {
				a.evaluate(job)
				continue
			}
			select {
			case a.jobsChan <- job:
			case <-a.stopChan:
				return
			}
		}
	}
}

// processWindows проверяет окна из очереди
func (a *Analyzer) processWindows() {
	defer a.wg.Done()

	for {
		select {
		case <-a.stopChan:
			return
		case job := <-a.jobsChan:
			a.evaluate(job)
		}
	}
}

// evaluate проверяет окно и публикует отчет
func (a *Analyzer) evaluate(job windowJob) {
	start := time.Now()

	engine := a.engine
	if a.mode == sfdd.ModeStateful {
		engine = a.tracker(job.platformID)
	}

	faulty, err := engine.Monitor(a.mode, job.window, job.timestamps, a.corrWindow)
	metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		a.evaluationErrors.Add(1)
		a.logger.Warn("Window evaluation failed",
			zap.String("platform_id", job.platformID),
			zap.Error(err),
		)
		return
	}
	a.windowsEvaluated.Add(1)
	metrics.RecordVerdict(string(a.mode), engine.Sensors(), faulty)

	report := models.FaultReport{
		ID:            uuid.NewString(),
		PlatformID:    job.platformID,
		Mode:          string(a.mode),
		WindowStart:   job.timestamps[0],
		WindowEnd:     job.timestamps[len(job.timestamps)-1],
		FaultySensors: faulty,
		DetectedAt:    time.Now().UTC(),
	}

	select {
	case a.resultsChan <- report:
	default:
		// Канал результатов полон
		a.droppedResults.Add(1)
	}
}

// tracker возвращает движок с состоянием stateful для платформы
func (a *Analyzer) tracker(platformID string) *sfdd.Engine {
	a.mu.Lock()
	defer a.mu.Unlock()

	t, ok := a.trackers[platformID]
	if !ok {
		t = a.engine.Fork()
		a.trackers[platformID] = t
	}
	return t
}

// Health возвращает флаги работоспособности режима stateful для платформы
func (a *Analyzer) Health(platformID string) (map[string]bool, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	t, ok := a.trackers[platformID]
	if !ok {
		return nil, false
	}
	return t.Health(), true
}

// GetStats возвращает статистику анализатора
func (a *Analyzer) GetStats() map[string]interface{} {
	a.mu.RLock()
	defer a.mu.RUnlock()

	return map[string]interface{}{
		"platforms_tracked": len(a.windows),
		"mode":              string(a.mode),
		"window_size":       a.windowSize,
		"queue_size":        len(a.samplesChan),
		"pending_windows":   len(a.jobsChan),
		"samples_seen":      a.samplesSeen.Load(),
		"windows_evaluated": a.windowsEvaluated.Load(),
		"evaluation_errors": a.evaluationErrors.Load(),
		"dropped_results":   a.droppedResults.Load(),
	}
}
