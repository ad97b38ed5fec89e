package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"sensor-fdd/internal/analytics"
	"sensor-fdd/internal/artifacts"
	"sensor-fdd/internal/cache"
	"sensor-fdd/internal/config"
	"sensor-fdd/internal/handlers"
	"sensor-fdd/internal/ingest"
	"sensor-fdd/internal/metrics"
	"sensor-fdd/internal/models"
	"sensor-fdd/internal/sfdd"
	"sensor-fdd/internal/structure"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	v := config.New()
	var configPath string

	cmd := &cobra.Command{
		Use:          "sfdd-server",
		Short:        "Sensor fault detection service",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v, configPath)
			if err != nil {
				return err
			}
			return run(cfg)
		},
	}

	cmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("model", "model.yaml", "Path to the structural model description")
	cmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("port", "8080", "HTTP server port")
	bindFlag(v, cmd, "model.path", "model")
	bindFlag(v, cmd, "log.level", "log-level")
	bindFlag(v, cmd, "server.port", "port")
	return cmd
}

func bindFlag(v *viper.Viper, cmd *cobra.Command, key, flag string) {
	if err := v.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(fmt.Sprintf("bind flag %s: %v", flag, err))
	}
}

// newLogger выбирает development или production конфигурацию по уровню
func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	zcfg := zap.NewProductionConfig()
	if lvl == zapcore.DebugLevel {
		zcfg = zap.NewDevelopmentConfig()
	}
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func run(cfg *config.Config) error {
	logger, err := newLogger(cfg.Log.Level)
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting sensor fault detection service...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	model, err := structure.LoadFile(cfg.Model.Path)
	if err != nil {
		return err
	}
	engine, err := sfdd.New(model.Sensors(), model,
		cfg.Engine.CorrelationThreshold,
		cfg.Engine.PatternCount,
		logger,
		sfdd.WithPatternThreshold(cfg.Engine.PatternThreshold),
	)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	// Инициализация Redis
	var redisCache *cache.RedisCache
	var history handlers.FaultHistory
	if cfg.Redis.Enabled {
		redisCache, err = cache.NewRedisCache(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Retention)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		history = redisCache
		logger.Info("Connected to Redis", zap.String("addr", cfg.Redis.Addr))
	}

	store, err := newArtifactStore(cfg, redisCache)
	if err != nil {
		return err
	}
	if err := loadArtifacts(ctx, store, engine, logger); err != nil {
		return err
	}

	var publisher *ingest.Publisher
	if cfg.KafkaEnabled() {
		publisher = ingest.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.FaultsTopic)
		defer publisher.Close()
	}

	// Инициализация анализатора
	mode, _ := sfdd.ParseMode(cfg.Analyzer.Mode)
	analyzer := analytics.NewAnalyzer(engine, mode, cfg.Analyzer.WindowSize, cfg.Analyzer.CorrWindow, logger)
	analyzer.Start(cfg.Analyzer.Workers)

	// Обработка отчетов анализатора. Анализатор останавливается и отчеты
	// дообрабатываются до закрытия Redis и Kafka
	processor := &reportProcessor{logger: logger, timeout: reportTimeout}
	if redisCache != nil {
		processor.history = redisCache
	}
	if publisher != nil {
		processor.publisher = publisher
	}
	processed := make(chan struct{})
	go func() {
		defer close(processed)
		processor.run(analyzer.GetResultsChan())
	}()
	defer func() {
		analyzer.Stop()
		<-processed
		logger.Info("Analyzer stopped")
	}()

	if cfg.KafkaEnabled() {
		consumer := ingest.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.GroupID, cfg.Kafka.SamplesTopic, analyzer, logger)
		defer consumer.Close()
		go consumer.Run(ctx)
	}
	if cfg.MQTTEnabled() {
		subscriber := ingest.NewSubscriber(cfg.MQTT.Broker, cfg.MQTT.ClientID, cfg.MQTT.Topic, byte(cfg.MQTT.QoS), analyzer, logger)
		if err := subscriber.Connect(); err != nil {
			return err
		}
		defer subscriber.Close()
	}

	handler := handlers.NewHandler(engine, analyzer, store, history, logger)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", zap.String("port", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Периодическое обновление метрик
	go updateMetrics(ctx, analyzer)

	select {
	case <-ctx.Done():
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	logger.Info("Server stopped gracefully")
	return nil
}

func newArtifactStore(cfg *config.Config, redisCache *cache.RedisCache) (artifacts.Store, error) {
	if cfg.Artifacts.Backend == config.BackendRedis {
		if redisCache == nil {
			return nil, errors.New("redis artifact backend requires redis")
		}
		return redisCache, nil
	}
	return artifacts.NewFileStore(cfg.Artifacts.Dir)
}

// loadArtifacts загружает ранее выученные артефакты, если сохранены оба
func loadArtifacts(ctx context.Context, store artifacts.Store, engine *sfdd.Engine, logger *zap.Logger) error {
	correlations, err := store.LoadCorrelations(ctx)
	if errors.Is(err, artifacts.ErrNotFound) {
		logger.Info("No learned correlations, extended monitoring disabled until POST /learn")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load correlations: %w", err)
	}

	pairs, err := store.LoadPatternPairs(ctx)
	if errors.Is(err, artifacts.ErrNotFound) {
		logger.Warn("Correlations found without normal patterns, extended monitoring disabled until POST /learn")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load pattern pairs: %w", err)
	}
	if err := engine.SetLearned(correlations, pairs); err != nil {
		return err
	}

	logger.Info("Learned artifacts loaded", zap.Int("sensors", len(correlations)))
	return nil
}

type faultSink interface {
	StoreFaultReport(ctx context.Context, report models.FaultReport) error
}

type faultPublisher interface {
	PublishFault(ctx context.Context, report models.FaultReport) error
}

// reportTimeout ограничивает сохранение и публикацию одного отчета
const reportTimeout = 5 * time.Second

// reportProcessor сохраняет и публикует отчеты анализатора.
// Работает до закрытия канала отчетов и не зависит от контекста сигналов.
type reportProcessor struct {
	history   faultSink
	publisher faultPublisher
	timeout   time.Duration
	logger    *zap.Logger
}

func (p *reportProcessor) run(reports <-chan models.FaultReport) {
	for report := range reports {
		p.handle(report)
	}
}

func (p *reportProcessor) handle(report models.FaultReport) {
	if !report.HasFaults() {
		return
	}

	p.logger.Warn("FAULT DETECTED",
		zap.String("platform_id", report.PlatformID),
		zap.String("mode", report.Mode),
		zap.Strings("sensors", report.FaultySensors),
		zap.Float64("window_start", report.WindowStart),
		zap.Float64("window_end", report.WindowEnd),
	)

	ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
	defer cancel()

	if p.history != nil {
		metrics.RedisResult("store_fault", p.history.StoreFaultReport(ctx, report))
	}
	if p.publisher != nil {
		if err := p.publisher.PublishFault(ctx, report); err != nil {
			p.logger.Error("Failed to publish fault report", zap.String("id", report.ID), zap.Error(err))
		}
	}
}

// updateMetrics периодически обновляет метрики
func updateMetrics(ctx context.Context, analyzer *analytics.Analyzer) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := analyzer.GetStats()
			if queueSize, ok := stats["queue_size"].(int); ok {
				metrics.QueueSize.Set(float64(queueSize))
			}
		}
	}
}
