package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"taskmanager/internal/api/auth"
	"taskmanager/internal/api/httperr"
	"taskmanager/internal/api/middleware"
	"taskmanager/internal/config"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/notify"
	"taskmanager/internal/pkg/password"
	"taskmanager/internal/pkg/ratelimit"
	"taskmanager/internal/store"
	"taskmanager/internal/token"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// Server 封装了 API 服务所需的依赖和路由处理。
//
// 它持有存储、可选的 Redis 客户端、令牌服务以及 Gin 路由引擎。
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	store   *store.Store
	rdb     *redis.Client
	router  *gin.Engine
	auth    *auth.Handler
	authn   *middleware.Authenticator
	hasher  password.Hasher
	limiter *ratelimit.Limiter
	tasks   TaskStore
	users   UserLister
}

// TaskStore 是任务接口所需的存储操作，全部按所有者过滤。
type TaskStore interface {
	ListTasks(ctx context.Context, ownerID string) ([]model.Task, error)
	CreateTask(ctx context.Context, task *model.Task) error
	FindTask(ctx context.Context, id, ownerID string) (*model.Task, error)
	UpdateTask(ctx context.Context, id, ownerID string, update store.TaskUpdate) (*model.Task, error)
	DeleteTask(ctx context.Context, id, ownerID string) error
}

// UserLister 列出全部用户。
type UserLister interface {
	ListUsers(ctx context.Context) ([]model.User, error)
}

// Deps 是 Server 的外部依赖。Redis 与 Notifier 可以为 nil。
type Deps struct {
	Store    *store.Store
	Redis    *redis.Client
	Tokens   *token.Service
	Hasher   password.Hasher
	Notifier notify.Notifier
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 打开数据库并执行自动迁移
// 2. 连接 Redis（配置了地址时）
// 3. 创建令牌服务、密码哈希器与邮件通知
// 4. 初始化 Gin 路由引擎
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       0,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
	}

	tokens, err := token.NewService(cfg.Security.JWTSecret, cfg.App.TokenTTL)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	var notifier notify.Notifier = notify.Nop{}
	if email := notify.NewEmailNotifier(&cfg.Email, logger); email.Configured() {
		notifier = email
	}

	gin.SetMode(gin.ReleaseMode)
	return New(cfg, logger, Deps{
		Store:    st,
		Redis:    rdb,
		Tokens:   tokens,
		Hasher:   password.NewBcryptHasher(cfg.Security.BcryptCost),
		Notifier: notifier,
	}), nil
}

// New 使用已经准备好的依赖组装服务器。
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	metrics.InitMetrics()

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	var limiter *ratelimit.Limiter
	if deps.Redis != nil && cfg.App.LoginRate > 0 {
		limiter = ratelimit.NewLimiter(deps.Redis, "auth", cfg.App.LoginRate, cfg.App.LoginBurst)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   deps.Store,
		rdb:     deps.Redis,
		router:  r,
		auth:    auth.NewHandler(deps.Store, deps.Tokens, deps.Hasher, deps.Notifier, logger),
		authn:   middleware.NewAuthenticator(deps.Tokens, deps.Store, logger),
		hasher:  deps.Hasher,
		limiter: limiter,
		tasks:   deps.Store,
		users:   deps.Store,
	}
	s.registerRoutes()
	return s
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	s.router.GET("/healthz", s.handleHealthz)

	public := s.router.Group("/auth")
	public.Use(middleware.RateLimit(s.limiter, s.logger))
	public.POST("/register", s.auth.Register)
	public.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(s.authn.Middleware())
	authed.POST("/auth/logout", s.auth.Logout)
	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", s.handleCreateTask)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	authed.GET("/users", s.handleListUsers)

	s.router.NoMethod(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusMethodNotAllowed, httperr.Body{Success: false, Message: "Method not allowed"})
	})
	s.router.NoRoute(func(c *gin.Context) {
		c.AbortWithStatusJSON(http.StatusNotFound, httperr.Body{Success: false, Message: "Not found"})
	})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("health check: database unavailable", slog.String("error", err.Error()))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if s.rdb != nil {
		if err := s.rdb.Ping(ctx).Err(); err != nil {
			s.logger.Warn("health check: redis unavailable", slog.String("error", err.Error()))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
