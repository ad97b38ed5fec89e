package analytics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
	"sensor-fdd/internal/structure"
)

const twoSubsystems = `
components:
  - {name: x, type: subsystem}
  - {name: y, type: subsystem}
  - {name: a, type: sensor, parents: [x]}
  - {name: b, type: sensor, parents: [x]}
  - {name: c, type: sensor, parents: [y]}
  - {name: d, type: sensor, parents: [y]}
`

// a и b коррелируют в первой половине и застревают во второй, c и d шумят
var faultyRows = [][]float64{
	{1, 2, 5, 3},
	{2, 4, 1, 1},
	{3, 6, 4, 2},
	{4, 8.1, 2, 5},
	{4, 8, 1, 2},
	{4, 8, 3, 6},
	{4, 8, 2, 1},
	{4, 8, 5, 4},
}

func newTestAnalyzer(t *testing.T, mode sfdd.Mode) *Analyzer {
	t.Helper()
	model, err := structure.Load(strings.NewReader(twoSubsystems))
	require.NoError(t, err)
	engine, err := sfdd.New(model.Sensors(), model, 0.8, 2, zaptest.NewLogger(t))
	require.NoError(t, err)

	a := NewAnalyzer(engine, mode, len(faultyRows), -1, zaptest.NewLogger(t))
	a.Start(2)
	t.Cleanup(a.Stop)
	return a
}

func feed(t *testing.T, a *Analyzer, platform string, start float64, rows [][]float64) {
	t.Helper()
	for i, row := range rows {
		require.NoError(t, a.AddSample(models.Sample{
			PlatformID: platform,
			Timestamp:  start + float64(i),
			Values:     row,
		}))
	}
}

func receive(t *testing.T, a *Analyzer) models.FaultReport {
	t.Helper()
	select {
	case report := <-a.GetResultsChan():
		return report
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for a fault report")
	}
	return models.FaultReport{}
}

func TestAnalyzerEvaluatesFullWindow(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeBasic)

	feed(t, a, "robot-1", 0, faultyRows)

	report := receive(t, a)
	assert.Equal(t, "robot-1", report.PlatformID)
	assert.Equal(t, "basic", report.Mode)
	assert.Equal(t, []string{"a", "b"}, report.FaultySensors)
	assert.Equal(t, 0.0, report.WindowStart)
	assert.Equal(t, 7.0, report.WindowEnd)
	assert.NotEmpty(t, report.ID)

	stats := a.GetStats()
	assert.Equal(t, int64(8), stats["samples_seen"])
	assert.Equal(t, int64(1), stats["windows_evaluated"])
	assert.Equal(t, 1, stats["platforms_tracked"])
}

func TestAnalyzerPartialWindowIsNotEvaluated(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeBasic)

	feed(t, a, "robot-1", 0, faultyRows[:7])

	assert.Eventually(t, func() bool {
		return a.GetStats()["samples_seen"] == int64(7)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.GetStats()["windows_evaluated"])
}

func TestAnalyzerStatefulPreservesOrder(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeStateful)

	rows := append(append([][]float64{}, faultyRows...), faultyRows[:4]...)
	feed(t, a, "robot-1", 0, rows)

	first := receive(t, a)
	assert.Equal(t, []string{"a", "b"}, first.FaultySensors)

	for want := 1.0; want <= 4; want++ {
		report := receive(t, a)
		assert.Equal(t, want, report.WindowStart)
		assert.Equal(t, want+7, report.WindowEnd)
	}
}

func TestAnalyzerStatefulTracksPlatformsSeparately(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeStateful)

	feed(t, a, "robot-1", 0, faultyRows)
	assert.Equal(t, []string{"a", "b"}, receive(t, a).FaultySensors)

	feed(t, a, "robot-2", 0, faultyRows)
	assert.Equal(t, []string{"a", "b"}, receive(t, a).FaultySensors)

	health, ok := a.Health("robot-2")
	require.True(t, ok)
	assert.False(t, health["a"])
	assert.True(t, health["c"])

	_, ok = a.Health("robot-3")
	assert.False(t, ok)
}

func TestAnalyzerDropsOutOfOrderSamples(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeBasic)

	feed(t, a, "robot-1", 0, faultyRows[:4])
	require.NoError(t, a.AddSample(models.Sample{PlatformID: "robot-1", Timestamp: 1, Values: faultyRows[4]}))
	feed(t, a, "robot-1", 4, faultyRows[4:])

	report := receive(t, a)
	assert.Equal(t, 0.0, report.WindowStart)
	assert.Equal(t, []string{"a", "b"}, report.FaultySensors)
}

func TestAnalyzerRejectsWrongDimension(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeBasic)

	err := a.AddSample(models.Sample{PlatformID: "robot-1", Values: []float64{1, 2, 3}})
	var dim *models.DimensionMismatchError
	require.ErrorAs(t, err, &dim)
	assert.Equal(t, 4, dim.Expected)
}

func TestAnalyzerCountsEvaluationErrors(t *testing.T) {
	a := newTestAnalyzer(t, sfdd.ModeExtended)

	feed(t, a, "robot-1", 0, faultyRows)

	assert.Eventually(t, func() bool {
		return a.GetStats()["evaluation_errors"] == int64(1)
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int64(0), a.GetStats()["windows_evaluated"])
}
