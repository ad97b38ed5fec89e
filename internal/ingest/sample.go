package ingest

import (
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sensor-fdd/internal/metrics"
	"sensor-fdd/internal/models"
)

// Sink принимает разобранные измерения (analytics.Analyzer)
type Sink interface {
	AddSample(sample models.Sample) error
}

// DecodeSample разбирает JSON измерение. platformID используется,
// если в сообщении не указан platform_id (ключ Kafka, топик MQTT).
func DecodeSample(payload []byte, platformID string) (models.Sample, error) {
	var sample models.Sample
	if err := json.Unmarshal(payload, &sample); err != nil {
		return models.Sample{}, fmt.Errorf("invalid sample json: %w", err)
	}
	if sample.PlatformID == "" {
		sample.PlatformID = platformID
	}
	if sample.PlatformID == "" {
		return models.Sample{}, errors.New("platform_id is required")
	}
	if len(sample.Values) == 0 {
		return models.Sample{}, errors.New("values are required")
	}
	return sample, nil
}

// deliver разбирает сообщение и передает его в sink
func deliver(sink Sink, logger *zap.Logger, transport string, payload []byte, platformID string) {
	sample, err := DecodeSample(payload, platformID)
	if err == nil {
		err = sink.AddSample(sample)
	}
	if err != nil {
		metrics.IngestErrors.WithLabelValues(transport).Inc()
		logger.Warn("Sample rejected",
			zap.String("transport", transport),
			zap.String("platform_id", platformID),
			zap.Error(err),
		)
		return
	}
	metrics.SamplesReceived.WithLabelValues(transport).Inc()
}
