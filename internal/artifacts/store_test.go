package artifacts

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sensor-fdd/internal/models"
)

func TestFileStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(filepath.Join(t.TempDir(), "learned"))
	require.NoError(t, err)

	correlations := models.CorrelationMap{
		"odometry": {"imu", "laser"},
		"imu":      {"odometry"},
		"laser":    {},
	}
	pairs := models.PatternPairMap{
		"odometry": {{Pattern: 0, Sensor: "imu", OtherPattern: 0}, {Pattern: 1, Sensor: "imu", OtherPattern: 1}},
		"imu":      {},
	}

	require.NoError(t, store.SaveCorrelations(ctx, correlations))
	require.NoError(t, store.SavePatternPairs(ctx, pairs))

	loadedCorr, err := store.LoadCorrelations(ctx)
	require.NoError(t, err)
	assert.Equal(t, correlations, loadedCorr)

	loadedPairs, err := store.LoadPatternPairs(ctx)
	require.NoError(t, err)
	assert.Equal(t, pairs, loadedPairs)
}

func TestFileStoreDocumentFormat(t *testing.T) {
	dir := t.TempDir()
	store, err := NewFileStore(dir)
	require.NoError(t, err)

	require.NoError(t, store.SavePatternPairs(context.Background(), models.PatternPairMap{
		"imu": {{Pattern: 0, Sensor: "laser", OtherPattern: 1}},
	}))

	raw, err := os.ReadFile(filepath.Join(dir, PatternsFile))
	require.NoError(t, err)
	assert.Contains(t, string(raw), "imu:")
	assert.Contains(t, string(raw), "[0, laser, 1]")

	_, err = os.Stat(filepath.Join(dir, PatternsFile+".tmp"))
	assert.True(t, os.IsNotExist(err))
}

func TestFileStoreNotFound(t *testing.T) {
	store, err := NewFileStore(t.TempDir())
	require.NoError(t, err)

	_, err = store.LoadCorrelations(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.LoadPatternPairs(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStoreMalformedDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, PatternsFile), []byte("imu:\n  - [0, laser]\n"), 0o644))

	store, err := NewFileStore(dir)
	require.NoError(t, err)

	_, err = store.LoadPatternPairs(context.Background())
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
