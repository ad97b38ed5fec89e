package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "SFDD"

// Config конфигурация приложения
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Model     ModelConfig     `mapstructure:"model"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Artifacts ArtifactsConfig `mapstructure:"artifacts"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	MQTT      MQTTConfig      `mapstructure:"mqtt"`
	Log       LogConfig       `mapstructure:"log"`
}

// ServerConfig параметры HTTP сервера
type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// ModelConfig путь к описанию структурной модели
type ModelConfig struct {
	Path string `mapstructure:"path"`
}

// EngineConfig пороги движка и число используемых паттернов
type EngineConfig struct {
	CorrelationThreshold float64 `mapstructure:"correlation_threshold"`
	PatternCount         int     `mapstructure:"pattern_count"`
	PatternThreshold     float64 `mapstructure:"pattern_threshold"`
}

// AnalyzerConfig режим и окна потокового анализатора
type AnalyzerConfig struct {
	Mode       string `mapstructure:"mode"`
	WindowSize int    `mapstructure:"window_size"`
	CorrWindow int    `mapstructure:"corr_window"`
	Workers    int    `mapstructure:"workers"`
}

// ArtifactsConfig где хранятся выученные корреляции и пары паттернов
type ArtifactsConfig struct {
	Backend string `mapstructure:"backend"`
	Dir     string `mapstructure:"dir"`
}

// RedisConfig подключение к Redis и срок хранения истории неисправностей
type RedisConfig struct {
	Enabled   bool          `mapstructure:"enabled"`
	Addr      string        `mapstructure:"addr"`
	Password  string        `mapstructure:"password"`
	DB        int           `mapstructure:"db"`
	Retention time.Duration `mapstructure:"retention"`
}

// KafkaConfig включается, если заданы брокеры
type KafkaConfig struct {
	Brokers      []string `mapstructure:"brokers"`
	GroupID      string   `mapstructure:"group_id"`
	SamplesTopic string   `mapstructure:"samples_topic"`
	FaultsTopic  string   `mapstructure:"faults_topic"`
}

// MQTTConfig включается, если задан брокер
type MQTTConfig struct {
	Broker   string `mapstructure:"broker"`
	ClientID string `mapstructure:"client_id"`
	Topic    string `mapstructure:"topic"`
	QoS      int    `mapstructure:"qos"`
}

// LogConfig уровень логирования
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Backend хранилища артефактов
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// New создает viper с префиксом окружения и значениями по умолчанию
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("model.path", "model.yaml")
	v.SetDefault("engine.correlation_threshold", 0.8)
	v.SetDefault("engine.pattern_count", 2)
	v.SetDefault("engine.pattern_threshold", 1e-3)
	v.SetDefault("analyzer.mode", string(sfdd.ModeBasic))
	v.SetDefault("analyzer.window_size", 50)
	v.SetDefault("analyzer.corr_window", -1)
	v.SetDefault("analyzer.workers", 4)
	v.SetDefault("artifacts.backend", BackendFile)
	v.SetDefault("artifacts.dir", "learned")
	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.retention", time.Hour)
	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.group_id", "sfdd")
	v.SetDefault("kafka.samples_topic", "sfdd.samples")
	v.SetDefault("kafka.faults_topic", "sfdd.faults")
	v.SetDefault("mqtt.broker", "")
	v.SetDefault("mqtt.client_id", "sfdd")
	v.SetDefault("mqtt.topic", "sfdd/samples/#")
	v.SetDefault("mqtt.qos", 1)
	v.SetDefault("log.level", "info")
	return v
}

// Load читает необязательный YAML файл, переменные окружения SFDD_* и проверяет результат
func Load(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	var errs []error
	invalid := func(component, format string, args ...interface{}) {
		errs = append(errs, &models.ConfigurationError{Component: component, Message: fmt.Sprintf(format, args...)})
	}

	if c.Engine.CorrelationThreshold <= 0 || c.Engine.CorrelationThreshold > 1 {
		invalid("engine.correlation_threshold", "must be in (0, 1], got %v", c.Engine.CorrelationThreshold)
	}
	if c.Engine.PatternCount < 1 {
		invalid("engine.pattern_count", "must be positive, got %d", c.Engine.PatternCount)
	}
	if _, err := sfdd.ParseMode(c.Analyzer.Mode); err != nil {
		invalid("analyzer.mode", "%v", err)
	}
	// обе половины окна должны содержать хотя бы две строки
	if c.Analyzer.WindowSize < 4 {
		invalid("analyzer.window_size", "must be at least 4, got %d", c.Analyzer.WindowSize)
	}
	if c.Analyzer.CorrWindow >= c.Analyzer.WindowSize {
		invalid("analyzer.corr_window", "must be smaller than window_size")
	}
	if c.Analyzer.Workers < 1 {
		invalid("analyzer.workers", "must be positive, got %d", c.Analyzer.Workers)
	}
	switch c.Artifacts.Backend {
	case BackendFile:
		if c.Artifacts.Dir == "" {
			invalid("artifacts.dir", "required for the file backend")
		}
	case BackendRedis:
		if !c.Redis.Enabled {
			invalid("artifacts.backend", "redis backend requires redis.enabled")
		}
	default:
		invalid("artifacts.backend", "unknown backend %q", c.Artifacts.Backend)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		invalid("mqtt.qos", "must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}

	return errors.Join(errs...)
}

// KafkaEnabled сообщает, настроен ли Kafka
func (c *Config) KafkaEnabled() bool {
	return len(c.Kafka.Brokers) > 0
}

// MQTTEnabled сообщает, настроен ли MQTT
func (c *Config) MQTTEnabled() bool {
	return c.MQTT.Broker != ""
}
