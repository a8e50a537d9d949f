package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"EchoFM/cache"
	"EchoFM/config"
	"EchoFM/core/adingest"
	"EchoFM/core/resolver"
	"EchoFM/core/tabsync"
	"EchoFM/db"
	"EchoFM/logger"
	"EchoFM/model"
	"EchoFM/repository"
	"EchoFM/storage"

	"github.com/gorilla/mux"
)

// Start initializes and starts the HTTP server.
func Start() {
	cfg := config.Load()

	logger.InitLogger(logger.Config{
		Level:      logger.InfoLevel,
		OutputPath: "logs/echofm.log",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
	})

	// 设置服务器超时
	server := &http.Server{
		Addr:         cfg.ListenAddr,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// 初始化 MinIO 客户端
	if err := storage.InitMinio(); err != nil {
		logger.Fatal("Failed to initialize MinIO", logger.ErrorField(err))
	}

	// Connect to the database
	if err := db.ConnectDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database", logger.ErrorField(err))
	}
	defer db.DB.Close()

	if err := db.ConnectGormDB(cfg); err != nil {
		logger.Fatal("Failed to connect to database with GORM", logger.ErrorField(err))
	}
	defer db.CloseGormDB()

	// Connect to Redis
	if err := cache.ConnectRedis(cfg); err != nil {
		logger.Fatal("Failed to connect to Redis", logger.ErrorField(err))
	}
	defer cache.CloseRedis()
	logger.Info("Successfully connected to Redis")

	// Initialize database schema. The catalog keeps hand-written DDL;
	// ads, policy state and episodes are migrated through GORM.
	if err := db.InitDB(); err != nil {
		logger.Fatal("Failed to initialize database", logger.ErrorField(err))
	}
	if err := db.AutoMigrateModels(&model.Ad{}, &model.AdPolicyState{}, &model.Episode{}); err != nil {
		logger.Fatal("Failed to migrate models", logger.ErrorField(err))
	}

	trackRepo := repository.NewMySQLTrackRepository()
	userRepo := repository.NewMySQLUserRepository(db.DB)
	adRepo := repository.NewGormAdRepository()
	episodeRepo := repository.NewGormEpisodeRepository()
	policyRepo := repository.NewGormPolicyRepository()

	res := resolver.New(storage.NewMinioSigner(), episodeRepo, cfg.MinioEndpoint, cfg.SignedURLTTL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 跨标签页同步：Hub 管本实例的标签页，Worker 管持久化和跨实例转发
	hub := tabsync.NewHub()
	go hub.Run()
	defer hub.Stop()

	worker, err := tabsync.NewWorker(cfg, hub)
	if err != nil {
		logger.Fatal("Failed to start sync worker", logger.ErrorField(err))
	}
	go worker.Run(ctx)
	go worker.Subscribe(ctx)
	defer worker.Stop()

	// 广告素材投放目录监听
	watcher, err := adingest.NewWatcher(cfg.AdDropDir, adRepo)
	if err != nil {
		logger.Fatal("Failed to start ad creative watcher", logger.ErrorField(err))
	}
	go watcher.Run(ctx)
	defer watcher.Close()

	// 初始化处理器
	apiHandler := NewAPIHandler(userRepo, adRepo, cfg)
	playerHandler := NewPlayerHandler(hub, worker, cfg, trackRepo, episodeRepo, adRepo, policyRepo, res)

	// 使用 gorilla/mux 创建路由器
	router := mux.NewRouter()

	// 添加 CORS 中间件
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, HEAD")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}

			next.ServeHTTP(w, r)
		})
	})

	// 用户认证相关的API端点
	router.HandleFunc("/api/auth/login", apiHandler.LoginHandler).Methods(http.MethodPost)
	router.HandleFunc("/api/auth/register", apiHandler.RegisterHandler).Methods(http.MethodPost)

	// 播放器 WebSocket 端点，每个标签页一条连接
	router.HandleFunc("/ws/player", playerHandler.ServeWS)

	// 广告点击
	router.HandleFunc("/api/ads/{id}/click", apiHandler.AuthMiddleware(apiHandler.AdClickHandler)).Methods(http.MethodPost)

	router.HandleFunc("/api/health", apiHandler.HealthHandler).Methods(http.MethodGet)

	server.Handler = router

	// 创建一个通道来接收操作系统信号
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// 在goroutine中启动服务器
	go func() {
		logger.Info("Server starting", logger.String("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", logger.ErrorField(err))
		}
	}()

	// 等待中断信号
	<-stop
	logger.Info("Shutting down server...")

	// 创建一个5秒超时的上下文
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	// 优雅关闭服务器
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("Server forced to shutdown", logger.ErrorField(err))
	}

	logger.Info("Server stopped")
}
