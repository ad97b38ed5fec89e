package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal общее количество запросов
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	// RequestDuration продолжительность запросов
	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// SamplesReceived получено измерений
	SamplesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfdd_samples_received_total",
			Help: "Total number of measurement samples received",
		},
		[]string{"transport"},
	)

	// WindowsEvaluated проверено окон
	WindowsEvaluated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfdd_windows_evaluated_total",
			Help: "Total number of measurement windows evaluated",
		},
		[]string{"mode"},
	)

	// FaultsDetected обнаруженные неисправности
	FaultsDetected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfdd_faults_detected_total",
			Help: "Total number of times a sensor was reported faulty",
		},
		[]string{"mode", "sensor"},
	)

	// AnalysisLatency задержка анализа окна
	AnalysisLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sfdd_analysis_latency_seconds",
			Help:    "Window analysis latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
	)

	// SensorFaulty последний вердикт по датчику (1 - неисправен)
	SensorFaulty = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sfdd_sensor_faulty",
			Help: "Latest verdict per sensor, 1 when reported faulty",
		},
		[]string{"mode", "sensor"},
	)

	// ActivePlatforms платформы с открытым окном измерений
	ActivePlatforms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sfdd_active_platforms",
			Help: "Number of platforms with an open measurement window",
		},
	)

	// QueueSize размер очереди обработки
	QueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sfdd_processing_queue_size",
			Help: "Current size of the sample processing queue",
		},
	)

	// RedisOperations операции с Redis
	RedisOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "redis_operations_total",
			Help: "Total number of Redis operations",
		},
		[]string{"operation", "status"},
	)

	// IngestErrors ошибки разбора входящих сообщений
	IngestErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sfdd_ingest_errors_total",
			Help: "Total number of rejected ingest messages",
		},
		[]string{"transport"},
	)
)

// RecordVerdict обновляет счетчики и gauge по результату проверки окна
func RecordVerdict(mode string, sensors, faulty []string) {
	WindowsEvaluated.WithLabelValues(mode).Inc()

	flagged := make(map[string]bool, len(faulty))
	for _, s := range faulty {
		flagged[s] = true
		FaultsDetected.WithLabelValues(mode, s).Inc()
	}
	for _, s := range sensors {
		if flagged[s] {
			SensorFaulty.WithLabelValues(mode, s).Set(1)
		} else {
			SensorFaulty.WithLabelValues(mode, s).Set(0)
		}
	}
}

// RedisResult учитывает результат операции с Redis
func RedisResult(operation string, err error) {
	if err != nil {
		RedisOperations.WithLabelValues(operation, "error").Inc()
		return
	}
	RedisOperations.WithLabelValues(operation, "success").Inc()
}
