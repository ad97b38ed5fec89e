package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	ghandlers "github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sensor-fdd/internal/analytics"
	"sensor-fdd/internal/artifacts"
	"sensor-fdd/internal/metrics"
	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
)

// FaultHistory хранилище измерений и отчетов (cache.RedisCache)
type FaultHistory interface {
	StoreSample(ctx context.Context, sample models.Sample) error
	GetRecentFaults(ctx context.Context, platformID string, limit int) ([]models.FaultReport, error)
	GetFaultCounts(ctx context.Context, platformID string) (map[string]int64, error)
	Ping(ctx context.Context) error
	GetStats() map[string]interface{}
}

// Handler обработчик HTTP запросов
type Handler struct {
	engine   *sfdd.Engine
	analyzer *analytics.Analyzer
	store    artifacts.Store
	history  FaultHistory
	logger   *zap.Logger
}

// NewHandler создает новый обработчик. history может быть nil, если Redis отключен.
func NewHandler(engine *sfdd.Engine, analyzer *analytics.Analyzer, store artifacts.Store, history FaultHistory, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		engine:   engine,
		analyzer: analyzer,
		store:    store,
		history:  history,
		logger:   logger.With(zap.String("component", "http")),
	}
}

// Routes возвращает router с access log и восстановлением после panic
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(instrument)

	r.HandleFunc("/samples", h.SubmitSample).Methods(http.MethodPost)
	r.HandleFunc("/samples/batch", h.BatchSubmitSamples).Methods(http.MethodPost)
	r.HandleFunc("/monitor/{mode}", h.MonitorWindow).Methods(http.MethodPost)
	r.HandleFunc("/learn", h.Learn).Methods(http.MethodPost)
	r.HandleFunc("/faults", h.GetFaults).Methods(http.MethodGet)
	r.HandleFunc("/sensors", h.GetSensors).Methods(http.MethodGet)
	r.HandleFunc("/platforms/{platform_id}/health", h.GetPlatformHealth).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheck).Methods(http.MethodGet)
	r.HandleFunc("/stats", h.GetStats).Methods(http.MethodGet)

	// Prometheus metrics endpoint
	r.Handle("/prometheus", promhttp.Handler())

	stdLog := zap.NewStdLog(h.logger)
	return ghandlers.RecoveryHandler(ghandlers.RecoveryLogger(stdLog))(
		ghandlers.LoggingHandler(stdLog.Writer(), r),
	)
}

// SubmitSample обрабатывает POST /samples
func (h *Handler) SubmitSample(w http.ResponseWriter, r *http.Request) {
	var sample models.Sample
	if err := json.NewDecoder(r.Body).Decode(&sample); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if sample.PlatformID == "" {
		writeError(w, http.StatusBadRequest, "platform_id is required")
		return
	}

	if err := h.accept(sample); err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":      "accepted",
		"platform_id": sample.PlatformID,
	})
}

// BatchSubmitSamples обрабатывает POST /samples/batch
func (h *Handler) BatchSubmitSamples(w http.ResponseWriter, r *http.Request) {
	var batch []models.Sample
	if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	accepted := 0
	for _, sample := range batch {
		if sample.PlatformID == "" {
			continue
		}
		if err := h.accept(sample); err != nil {
			h.logger.Debug("Batch sample rejected", zap.String("platform_id", sample.PlatformID), zap.Error(err))
			continue
		}
		accepted++
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "accepted",
		"total":    len(batch),
		"accepted": accepted,
	})
}

// accept передает измерение в анализатор и сохраняет его в Redis
func (h *Handler) accept(sample models.Sample) error {
	if err := h.analyzer.AddSample(sample); err != nil {
		metrics.IngestErrors.WithLabelValues("http").Inc()
		return err
	}
	metrics.SamplesReceived.WithLabelValues("http").Inc()

	if h.history != nil {
		// Сохраняем в Redis асинхронно, не блокируем ответ
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			metrics.RedisResult("store_sample", h.history.StoreSample(ctx, sample))
		}()
	}
	return nil
}

// MonitorWindow обрабатывает POST /monitor/{mode}
func (h *Handler) MonitorWindow(w http.ResponseWriter, r *http.Request) {
	mode, err := sfdd.ParseMode(mux.Vars(r)["mode"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var window models.Window
	if err := json.NewDecoder(r.Body).Decode(&window); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	data, err := window.Matrix(len(h.engine.Sensors()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	corrWindow := -1
	if window.CorrWindow != nil {
		corrWindow = *window.CorrWindow
	}

	start := time.Now()
	faulty, err := h.engine.Monitor(mode, data, window.Timestamps, corrWindow)
	metrics.AnalysisLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	metrics.RecordVerdict(string(mode), h.engine.Sensors(), faulty)

	if faulty == nil {
		faulty = []string{}
	}
	resp := map[string]interface{}{
		"mode":           mode,
		"faulty_sensors": faulty,
	}
	if mode == sfdd.ModeStateful {
		resp["health"] = h.engine.Health()
	}
	writeJSON(w, http.StatusOK, resp)
}

// Learn обрабатывает POST /learn: корреляции и нормальные паттерны
// вычисляются по обучающим данным и сохраняются в хранилище артефактов
func (h *Handler) Learn(w http.ResponseWriter, r *http.Request) {
	var req models.LearnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	data, err := models.Window{Timestamps: req.Timestamps, Values: req.Values}.Matrix(len(h.engine.Sensors()))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	correlations, pairs, err := h.engine.Learn(data, req.Timestamps, req.WindowSize)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}

	if err := h.store.SaveCorrelations(r.Context(), correlations); err != nil {
		h.logger.Error("Failed to persist correlations", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to persist correlations")
		return
	}
	if err := h.store.SavePatternPairs(r.Context(), pairs); err != nil {
		h.logger.Error("Failed to persist pattern pairs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Failed to persist pattern pairs")
		return
	}

	pairCount := 0
	for _, p := range pairs {
		pairCount += len(p)
	}
	h.logger.Info("Artifacts learned",
		zap.Int("samples", len(req.Timestamps)),
		zap.Int("pattern_pairs", pairCount),
	)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"correlations":  correlations,
		"pattern_pairs": pairCount,
	})
}

// GetFaults обрабатывает GET /faults
func (h *Handler) GetFaults(w http.ResponseWriter, r *http.Request) {
	platformID := r.URL.Query().Get("platform_id")
	if platformID == "" {
		writeError(w, http.StatusBadRequest, "platform_id parameter is required")
		return
	}
	limit := 10
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}
	if h.history == nil {
		writeError(w, http.StatusServiceUnavailable, "fault history is disabled")
		return
	}

	// Получаем последние отчеты из кэша
	reports, err := h.history.GetRecentFaults(r.Context(), platformID, limit)
	metrics.RedisResult("get_faults", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve faults")
		return
	}
	counts, err := h.history.GetFaultCounts(r.Context(), platformID)
	metrics.RedisResult("get_fault_counts", err)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve fault counts")
		return
	}

	if reports == nil {
		reports = []models.FaultReport{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platform_id":  platformID,
		"fault_count":  len(reports),
		"faults":       reports,
		"sensor_count": counts,
	})
}

type sensorInfo struct {
	Name        string   `json:"name"`
	Parents     []string `json:"parents"`
	Independent []string `json:"independent"`
	Correlated  []string `json:"correlated,omitempty"`
}

// GetSensors обрабатывает GET /sensors
func (h *Handler) GetSensors(w http.ResponseWriter, r *http.Request) {
	correlations, _ := h.engine.Correlations()

	sensors := make([]sensorInfo, 0, len(h.engine.Sensors()))
	for _, name := range h.engine.Sensors() {
		parents, err := h.engine.Parents(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		independent, err := h.engine.Independent(name)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if parents == nil {
			parents = []string{}
		}
		if independent == nil {
			independent = []string{}
		}
		sensors = append(sensors, sensorInfo{
			Name:        name,
			Parents:     parents,
			Independent: independent,
			Correlated:  correlations[name],
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sensors":    sensors,
		"components": h.engine.Components(),
		"patterns":   h.engine.PatternNames(),
		"learned":    h.engine.Learned(),
	})
}

// GetPlatformHealth обрабатывает GET /platforms/{platform_id}/health
func (h *Handler) GetPlatformHealth(w http.ResponseWriter, r *http.Request) {
	platformID := mux.Vars(r)["platform_id"]
	health, ok := h.analyzer.Health(platformID)
	if !ok {
		writeError(w, http.StatusNotFound, "no stateful history for platform")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platform_id": platformID,
		"health":      health,
	})
}

// HealthCheck обрабатывает GET /health
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	httpStatus := http.StatusOK

	// Проверяем Redis
	redisOK := true
	if h.history != nil {
		redisOK = h.history.Ping(r.Context()) == nil
	}
	if !redisOK {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}
	writeJSON(w, httpStatus, map[string]interface{}{
		"status":    status,
		"redis":     redisOK,
		"learned":   h.engine.Learned(),
		"timestamp": time.Now(),
	})
}

// GetStats обрабатывает GET /stats
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"analyzer":  h.analyzer.GetStats(),
		"timestamp": time.Now(),
	}
	if h.history != nil {
		stats["redis"] = h.history.GetStats()
	}
	writeJSON(w, http.StatusOK, stats)
}

// statusFor сопоставляет ошибку HTTP статусу
func statusFor(err error) int {
	var (
		cfgErr  *models.ConfigurationError
		dataErr *models.InsufficientDataError
		dimErr  *models.DimensionMismatchError
	)
	switch {
	case errors.As(err, &cfgErr), errors.As(err, &dataErr), errors.As(err, &dimErr):
		return http.StatusBadRequest
	case errors.Is(err, sfdd.ErrNotLearned):
		return http.StatusConflict
	case errors.Is(err, analytics.ErrQueueFull):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
