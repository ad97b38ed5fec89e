package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordVerdict(t *testing.T) {
	before := testutil.ToFloat64(FaultsDetected.WithLabelValues("basic", "imu"))
	windows := testutil.ToFloat64(WindowsEvaluated.WithLabelValues("basic"))

	RecordVerdict("basic", []string{"imu", "laser"}, []string{"imu"})

	assert.Equal(t, before+1, testutil.ToFloat64(FaultsDetected.WithLabelValues("basic", "imu")))
	assert.Equal(t, windows+1, testutil.ToFloat64(WindowsEvaluated.WithLabelValues("basic")))
	assert.Equal(t, 1.0, testutil.ToFloat64(SensorFaulty.WithLabelValues("basic", "imu")))
	assert.Equal(t, 0.0, testutil.ToFloat64(SensorFaulty.WithLabelValues("basic", "laser")))

	RecordVerdict("basic", []string{"imu", "laser"}, nil)
	assert.Equal(t, 0.0, testutil.ToFloat64(SensorFaulty.WithLabelValues("basic", "imu")))
}

func TestRedisResult(t *testing.T) {
	ok := testutil.ToFloat64(RedisOperations.WithLabelValues("op", "success"))
	failed := testutil.ToFloat64(RedisOperations.WithLabelValues("op", "error"))

	RedisResult("op", nil)
	RedisResult("op", errors.New("boom"))

	assert.Equal(t, ok+1, testutil.ToFloat64(RedisOperations.WithLabelValues("op", "success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(RedisOperations.WithLabelValues("op", "error")))
}
