// Package application 组装网关的全部组件。
package application

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/nexchat/gateway/internal/application/usecase"
	"github.com/nexchat/gateway/internal/domain/repository"
	"github.com/nexchat/gateway/internal/domain/service"
	domaintool "github.com/nexchat/gateway/internal/domain/tool"
	"github.com/nexchat/gateway/internal/infrastructure/config"
	"github.com/nexchat/gateway/internal/infrastructure/embedding"
	"github.com/nexchat/gateway/internal/infrastructure/llm"
	_ "github.com/nexchat/gateway/internal/infrastructure/llm/ark"    // register ark provider factory
	_ "github.com/nexchat/gateway/internal/infrastructure/llm/ollama" // register ollama provider factory
	"github.com/nexchat/gateway/internal/infrastructure/llm/protocol"
	"github.com/nexchat/gateway/internal/infrastructure/monitoring"
	"github.com/nexchat/gateway/internal/infrastructure/persistence"
	"github.com/nexchat/gateway/internal/infrastructure/scheduler"
	toolpkg "github.com/nexchat/gateway/internal/infrastructure/tool"
	httpServer "github.com/nexchat/gateway/internal/interfaces/http"
	"github.com/nexchat/gateway/internal/interfaces/http/handlers"
	"github.com/nexchat/gateway/internal/interfaces/http/sse"
	"github.com/nexchat/gateway/internal/interfaces/ws"
)

// App 应用程序
type App struct {
	config *config.Config
	logger *zap.Logger
	db     *gorm.DB
	redis  *redis.Client

	// 仓储层
	users         repository.UserRepository
	conversations repository.ConversationRepository
	messages      repository.MessageRepository
	plans         repository.PlanRepository
	progress      repository.StreamProgressRepository
	sessions      repository.AgentSessionRepository
	uploads       repository.UploadRepository

	// 领域服务
	admission *service.AdmissionLimiter

	// 基础设施
	monitor         *monitoring.Monitor
	queue           *llm.Queue
	llmRouter       *llm.Router
	adapters        *protocol.Registry
	toolRegistry    *toolpkg.PluginRegistry
	toolExecutor    *toolpkg.Executor
	embedder        embedding.Embedder
	archiver        *scheduler.LRUScheduler
	manifestWatcher *config.ManifestWatcher

	// 应用服务
	chatUseCase     *usecase.ChatStreamUseCase
	agentUseCase    *usecase.MultiAgentUseCase
	longTextUseCase *usecase.LongTextUseCase

	// 接口层
	httpServer *httpServer.Server

	cancelBackground context.CancelFunc
}

// NewApp 创建应用程序（依赖注入容器）
func NewApp(cfg *config.Config, logger *zap.Logger) (*App, error) {
	app := &App{
		config: cfg,
		logger: logger,
	}

	if err := app.initRepositories(); err != nil {
		return nil, fmt.Errorf("failed to init repositories: %w", err)
	}

	if err := app.initDomainServices(); err != nil {
		return nil, fmt.Errorf("failed to init domain services: %w", err)
	}

	if err := app.initInfrastructure(); err != nil {
		return nil, fmt.Errorf("failed to init infrastructure: %w", err)
	}

	if err := app.initApplicationServices(); err != nil {
		return nil, fmt.Errorf("failed to init application services: %w", err)
	}

	if err := app.initInterfaces(); err != nil {
		return nil, fmt.Errorf("failed to init interfaces: %w", err)
	}

	return app, nil
}

// initRepositories 初始化仓储层。
// driver=memory 时全部仓储落在进程内，供开发和测试使用；
// Redis 配置存在时，流进度和代理会话改走 Redis，跨实例断点续传生效。
func (app *App) initRepositories() error {
	cfg := app.config

	switch cfg.Database.Driver {
	case "", "memory":
		app.logger.Info("Using in-memory repositories")
		app.users = persistence.NewMemoryUserRepository()
		app.conversations = persistence.NewMemoryConversationRepository()
		app.messages = persistence.NewMemoryMessageRepository()
		app.plans = persistence.NewMemoryPlanRepository()
		app.progress = persistence.NewMemoryStreamProgressRepository()
		app.sessions = persistence.NewMemoryAgentSessionRepository()
	default:
		db, err := persistence.NewDBConnection(cfg.Database)
		if err != nil {
			return err
		}
		app.db = db
		app.logger.Info("Database connected", zap.String("driver", cfg.Database.Driver))

		app.users = persistence.NewGormUserRepository(db)
		app.conversations = persistence.NewGormConversationRepository(db)
		app.messages = persistence.NewGormMessageRepository(db)
		app.plans = persistence.NewGormPlanRepository(db)
		app.progress = persistence.NewGormStreamProgressRepository(db)
		app.sessions = persistence.NewGormAgentSessionRepository(db)
	}

	if cfg.Redis.Addr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		app.redis = client
		app.progress = persistence.NewRedisStreamProgressRepository(client)
		app.sessions = persistence.NewRedisAgentSessionRepository(client)
		app.logger.Info("Redis connected, stream progress and agent sessions moved to Redis",
			zap.String("addr", cfg.Redis.Addr))
	}

	dataDir := cfg.Upload.DataDir
	if dataDir == "" {
		dataDir = "./data/uploads"
	}
	uploads, err := persistence.NewFSUploadRepository(dataDir)
	if err != nil {
		return fmt.Errorf("init upload repository: %w", err)
	}
	app.uploads = uploads

	return nil
}

// initDomainServices 初始化领域服务
func (app *App) initDomainServices() error {
	cfg := app.config.Admission
	app.admission = service.NewAdmissionLimiter(service.AdmissionConfig{
		MaxConnections:   cfg.MaxConnections,
		MaxPerUser:       cfg.MaxPerUser,
		ReleasePerSecond: cfg.ReleasePerSecond,
		TokenTTL:         cfg.TokenTTL,
		AbuseWindow:      cfg.AbuseWindow,
		AbuseThreshold:   cfg.AbuseThreshold,
		Cooldown:         cfg.Cooldown,
	}, app.logger)
	return nil
}

// initInfrastructure 初始化基础设施
func (app *App) initInfrastructure() error {
	cfg := app.config

	app.monitor = monitoring.NewMonitor(app.logger)
	app.queue = llm.NewQueue(cfg.LLM.MaxConcurrent, cfg.LLM.MaxRPM, cfg.LLM.Timeout, app.logger)

	if err := app.initProviders(); err != nil {
		return err
	}

	app.adapters = protocol.NewRegistry(protocol.NewArkAdapter(), protocol.NewOllamaAdapter())

	if err := app.initTools(); err != nil {
		return err
	}

	app.initEmbedder()

	app.archiver = scheduler.NewLRUScheduler(app.conversations, scheduler.Limits{
		MaxActivePerUser:        cfg.Scheduler.MaxActivePerUser,
		AutoArchiveAfterDays:    cfg.Scheduler.AutoArchiveAfterDays,
		MaxArchivedPerUser:      cfg.Scheduler.MaxArchivedPerUser,
		DeleteArchivedAfterDays: cfg.Scheduler.DeleteArchivedAfterDays,
		SweepInterval:           cfg.Scheduler.SweepInterval,
	}, app.logger)

	return nil
}

// initProviders 注册模型 Provider。
// modelType=local → Ollama，modelType=volcano → 方舟；方舟缺 API Key 时只注册本地。
func (app *App) initProviders() error {
	cfg := app.config.LLM
	app.llmRouter = llm.NewRouter(app.logger)

	ollamaProvider, err := llm.CreateProvider("ollama", llm.ProviderConfig{
		Name:    "ollama",
		BaseURL: cfg.Ollama.APIURL,
		Model:   cfg.Ollama.Model,
	}, app.logger)
	if err != nil {
		return fmt.Errorf("create ollama provider: %w", err)
	}
	app.llmRouter.Register("local", ollamaProvider)

	if cfg.Ark.APIKey != "" {
		arkProvider, err := llm.CreateProvider("ark", llm.ProviderConfig{
			Name:    "ark",
			BaseURL: cfg.Ark.APIURL,
			APIKey:  cfg.Ark.APIKey,
			Model:   cfg.Ark.Model,
		}, app.logger)
		if err != nil {
			return fmt.Errorf("create ark provider: %w", err)
		}
		app.llmRouter.Register("volcano", arkProvider)
	} else {
		app.logger.Warn("ARK_API_KEY not set, volcano model type falls back to local")
	}

	return nil
}

// initTools 注册工具插件并组装执行管线。
// tools.yaml 覆盖每个工具的限流/缓存/熔断/降级配置。
func (app *App) initTools() error {
	cfg := app.config.Tools

	app.toolRegistry = toolpkg.NewRegistry(app.logger)

	manifest, err := config.LoadToolManifest(cfg.ManifestPath)
	if err != nil {
		return err
	}

	plugins := []domaintool.Plugin{
		toolpkg.NewWebSearchPlugin(cfg.TavilyAPIKey, app.logger),
		toolpkg.NewPlanCreatePlugin(app.plans),
		toolpkg.NewPlanListPlugin(app.plans),
		toolpkg.NewPlanUpdatePlugin(app.plans),
		toolpkg.NewPlanDeletePlugin(app.plans),
		toolpkg.NewCurrentTimePlugin(),
		toolpkg.NewDateDiffPlugin(),
	}
	for _, plugin := range plugins {
		settings, err := manifest.SettingsFor(plugin.Name(), domaintool.DefaultSettings())
		if err != nil {
			return fmt.Errorf("tool manifest for %s: %w", plugin.Name(), err)
		}
		if err := app.toolRegistry.Register(plugin, settings); err != nil {
			return fmt.Errorf("register tool %s: %w", plugin.Name(), err)
		}
	}

	app.toolExecutor = toolpkg.NewExecutor(
		app.toolRegistry,
		toolpkg.NewResultCache(500),
		toolpkg.NewRateLimiter(),
		toolpkg.NewBreakerBoard(cfg.BreakerMode),
		app.logger,
	)

	// tools.yaml 变更即时生效，不用重启进程
	if cfg.ManifestPath != "" {
		app.manifestWatcher = config.NewManifestWatcher(cfg.ManifestPath, func(m *config.ToolManifest) {
			for _, name := range app.toolRegistry.Names() {
				settings, err := m.SettingsFor(name, domaintool.DefaultSettings())
				if err != nil {
					app.logger.Warn("Tool manifest entry invalid, keeping previous settings",
						zap.String("tool", name), zap.Error(err))
					continue
				}
				if err := app.toolRegistry.ApplySettings(name, settings); err != nil {
					app.logger.Warn("Apply tool settings failed",
						zap.String("tool", name), zap.Error(err))
				}
			}
		}, app.logger)
	}

	return nil
}

// initEmbedder 组装向量化客户端，缺配置时禁用语义去重
func (app *App) initEmbedder() {
	cfg := app.config.Embedding

	var err error
	switch cfg.Provider {
	case "ark":
		app.embedder, err = embedding.NewArkEmbedder(cfg.APIURL, app.config.LLM.Ark.APIKey, cfg.Model, app.logger)
	case "ollama":
		app.embedder, err = embedding.NewOllamaEmbedder(cfg.APIURL, cfg.Model, app.logger)
	case "":
		return
	default:
		app.logger.Warn("Unknown embedding provider, semantic dedup disabled",
			zap.String("provider", cfg.Provider))
		return
	}
	if err != nil {
		app.logger.Warn("Embedder init failed, semantic dedup disabled", zap.Error(err))
		app.embedder = nil
	}
}

// initApplicationServices 初始化应用服务
func (app *App) initApplicationServices() error {
	heartbeat := app.config.Stream.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = 15 * time.Second
	}

	app.chatUseCase = usecase.NewChatStreamUseCase(
		app.conversations,
		app.messages,
		app.progress,
		app.queue,
		app.llmRouter,
		app.adapters,
		app.toolExecutor,
		app.toolRegistry,
		app.archiver,
		app.monitor,
		heartbeat,
		app.logger,
	)

	app.agentUseCase = usecase.NewMultiAgentUseCase(
		app.conversations,
		app.messages,
		app.progress,
		app.sessions,
		app.queue,
		app.llmRouter,
		app.archiver,
		app.monitor,
		heartbeat,
		app.logger,
	)

	app.longTextUseCase = usecase.NewLongTextUseCase(
		app.conversations,
		app.messages,
		app.progress,
		app.queue,
		app.llmRouter,
		app.embedder,
		app.archiver,
		app.monitor,
		heartbeat,
		app.logger,
	)

	return nil
}

// initInterfaces 初始化接口层
func (app *App) initInterfaces() error {
	cfg := app.config

	writerOpt := sse.Options{
		CharDelay:             cfg.Stream.CharDelay,
		BackpressureThreshold: cfg.Stream.BackpressureThreshold,
		Adaptive:              true,
	}

	chatHandler := handlers.NewChatHandler(
		app.admission,
		app.chatUseCase,
		app.agentUseCase,
		app.longTextUseCase,
		app.monitor,
		writerOpt,
		app.logger,
	)
	userHandler := handlers.NewUserHandler(app.users, app.logger)
	conversationHandler := handlers.NewConversationHandler(app.conversations, app.messages, app.archiver, app.logger)
	uploadHandler := handlers.NewUploadHandler(app.uploads, app.logger)
	metricsHandler := handlers.NewMetricsHandler(
		app.monitor,
		app.admission,
		app.queue,
		app.toolExecutor,
		app.toolRegistry,
		app.archiver,
		app.logger,
	)

	wsHandler := ws.NewHandler(
		app.admission,
		app.chatUseCase,
		app.agentUseCase,
		app.longTextUseCase,
		app.monitor,
		writerOpt,
		app.logger,
	)

	app.httpServer = httpServer.NewServer(
		httpServer.Config{Addr: cfg.Server.Addr, Mode: cfg.Server.Mode},
		httpServer.Handlers{
			Chat:          chatHandler,
			User:          userHandler,
			Conversations: conversationHandler,
			Uploads:       uploadHandler,
			Metrics:       metricsHandler,
			WebSocketChat: wsHandler.HandleChat,
			Prometheus:    app.monitor.PrometheusHandler(),
		},
		app.logger,
	)

	return nil
}

// Start 启动应用
func (app *App) Start(ctx context.Context) error {
	app.logger.Info("Starting gateway")

	background, cancel := context.WithCancel(context.Background())
	app.cancelBackground = cancel
	app.archiver.Start(background)
	if app.manifestWatcher != nil {
		if err := app.manifestWatcher.Start(background); err != nil {
			app.logger.Warn("Tool manifest watcher failed to start", zap.Error(err))
		}
	}

	return app.httpServer.Start(ctx)
}

// Stop 停止应用，按依赖反序收尾
func (app *App) Stop(ctx context.Context) error {
	app.logger.Info("Stopping gateway")

	if err := app.httpServer.Stop(ctx); err != nil {
		app.logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	app.archiver.Stop()
	if app.cancelBackground != nil {
		app.cancelBackground()
	}
	app.queue.Stop()

	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn("Redis close error", zap.Error(err))
		}
	}
	if app.db != nil {
		if sqlDB, err := app.db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}

	return nil
}

// Config 返回应用配置
func (app *App) Config() *config.Config { return app.config }
