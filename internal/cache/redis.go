package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sensor-fdd/internal/artifacts"
	"sensor-fdd/internal/models"
)

const (
	correlationsKey = "sfdd:artifact:correlations"
	patternsKey     = "sfdd:artifact:patterns"
)

// RedisCache обертка для Redis клиента: артефакты обучения, отчеты о неисправностях, измерения
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ artifacts.Store = (*RedisCache)(nil)

// NewRedisCache создает новый Redis кэш
func NewRedisCache(ctx context.Context, addr, password string, db int, ttl time.Duration) (*RedisCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		PoolSize:     100,
		MinIdleConns: 10,
		MaxRetries:   3,
	})

	// Проверяем подключение
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

// SaveCorrelations сохраняет карту корреляций без срока жизни
func (r *RedisCache) SaveCorrelations(ctx context.Context, correlations models.CorrelationMap) error {
	return r.setDocument(ctx, correlationsKey, correlations)
}

// LoadCorrelations читает карту корреляций
func (r *RedisCache) LoadCorrelations(ctx context.Context) (models.CorrelationMap, error) {
	var correlations models.CorrelationMap
	if err := r.getDocument(ctx, correlationsKey, &correlations); err != nil {
		return nil, err
	}
	return correlations, nil
}

// SavePatternPairs сохраняет нормальные пары паттернов без срока жизни
func (r *RedisCache) SavePatternPairs(ctx context.Context, pairs models.PatternPairMap) error {
	return r.setDocument(ctx, patternsKey, pairs)
}

// LoadPatternPairs читает нормальные пары паттернов
func (r *RedisCache) LoadPatternPairs(ctx context.Context) (models.PatternPairMap, error) {
	var pairs models.PatternPairMap
	if err := r.getDocument(ctx, patternsKey, &pairs); err != nil {
		return nil, err
	}
	return pairs, nil
}

func (r *RedisCache) setDocument(ctx context.Context, key string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	return r.client.Set(ctx, key, data, 0).Err()
}

func (r *RedisCache) getDocument(ctx context.Context, key string, v interface{}) error {
	data, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return artifacts.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return nil
}

// StoreSample сохраняет измерение в Redis
func (r *RedisCache) StoreSample(ctx context.Context, sample models.Sample) error {
	key := fmt.Sprintf("sample:%s:%v", sample.PlatformID, sample.Timestamp)

	jsonData, err := json.Marshal(sample)
	if err != nil {
		return fmt.Errorf("failed to marshal sample: %w", err)
	}

	return r.client.Set(ctx, key, jsonData, r.ttl).Err()
}

// StoreFaultReport сохраняет отчет о неисправности (с более длительным TTL)
// и увеличивает счетчики неисправностей по датчикам
func (r *RedisCache) StoreFaultReport(ctx context.Context, report models.FaultReport) error {
	key := fmt.Sprintf("fault:%s:%s", report.PlatformID, report.ID)

	jsonData, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal fault report: %w", err)
	}

	// Отчеты хранятся дольше измерений
	faultTTL := r.ttl * 24

	// Добавляем в sorted set для легкого извлечения
	score := float64(report.DetectedAt.UnixNano())
	listKey := fmt.Sprintf("fault_list:%s", report.PlatformID)
	countKey := fmt.Sprintf("fault_counts:%s", report.PlatformID)

	pipe := r.client.Pipeline()
	pipe.Set(ctx, key, jsonData, faultTTL)
	pipe.ZAdd(ctx, listKey, redis.Z{Score: score, Member: key})
	pipe.Expire(ctx, listKey, faultTTL)
	for _, sensor := range report.FaultySensors {
		pipe.HIncrBy(ctx, countKey, sensor, 1)
	}

	_, err = pipe.Exec(ctx)
	return err
}

// GetRecentFaults получает последние отчеты о неисправностях платформы
func (r *RedisCache) GetRecentFaults(ctx context.Context, platformID string, limit int) ([]models.FaultReport, error) {
	if limit <= 0 {
		return nil, nil
	}
	listKey := fmt.Sprintf("fault_list:%s", platformID)

	keys, err := r.client.ZRevRange(ctx, listKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get faults: %w", err)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load faults: %w", err)
	}

	reports := make([]models.FaultReport, 0, len(values))
	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// отчет истек раньше индекса
			continue
		}
		var report models.FaultReport
		if err := json.Unmarshal([]byte(s), &report); err != nil {
			return nil, fmt.Errorf("failed to unmarshal fault report: %w", err)
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// GetFaultCounts возвращает число отчетов, в которых фигурировал каждый датчик
func (r *RedisCache) GetFaultCounts(ctx context.Context, platformID string) (map[string]int64, error) {
	raw, err := r.client.HGetAll(ctx, fmt.Sprintf("fault_counts:%s", platformID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to get fault counts: %w", err)
	}

	counts := make(map[string]int64, len(raw))
	for sensor, v := range raw {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid fault count for %s: %w", sensor, err)
		}
		counts[sensor] = n
	}
	return counts, nil
}

// Close закрывает соединение с Redis
func (r *RedisCache) Close() error {
	return r.client.Close()
}

// Ping проверяет доступность Redis
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// GetStats возвращает статистику Redis
func (r *RedisCache) GetStats() map[string]interface{} {
	stats := r.client.PoolStats()

	return map[string]interface{}{
		"hits":        stats.Hits,
		"misses":      stats.Misses,
		"timeouts":    stats.Timeouts,
		"total_conns": stats.TotalConns,
		"idle_conns":  stats.IdleConns,
		"stale_conns": stats.StaleConns,
	}
}
