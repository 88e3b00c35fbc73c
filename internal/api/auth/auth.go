package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"taskmanager/internal/api/httperr"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/notify"
	"taskmanager/internal/pkg/password"
	"taskmanager/internal/store"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
)

// UserStore 注册与登录所需的用户存储。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindUserByEmail(ctx context.Context, email string) (*model.User, error)
}

// TokenIssuer 签发令牌。
type TokenIssuer interface {
	Issue(userID string) (string, error)
	TTL() time.Duration
}

// Handler 提供注册、登录与注销接口。
type Handler struct {
	users    UserStore
	tokens   TokenIssuer
	hasher   password.Hasher
	notifier notify.Notifier
	logger   *slog.Logger
}

// NewHandler 创建 Auth Handler。notifier 可以为 nil。
func NewHandler(users UserStore, tokens TokenIssuer, hasher password.Hasher, notifier notify.Notifier, logger *slog.Logger) *Handler {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Handler{
		users:    users,
		tokens:   tokens,
		hasher:   hasher,
		notifier: notifier,
		logger:   logger,
	}
}

type registerRequest struct {
	Name     string `json:"name" binding:"required"`
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// UserResponse 用户的公开字段（不含密码哈希）。
type UserResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// NewUserResponse 将用户模型转换为公开视图。
func NewUserResponse(u *model.User) UserResponse {
	return UserResponse{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
}

type authResponse struct {
	Success   bool         `json:"success"`
	Token     string       `json:"token"`
	ExpiresIn int64        `json:"expiresIn"`
	User      UserResponse `json:"user"`
}

var errInvalidEmail = httperr.New(httperr.Validation, "email must be a valid email")

// NormalizeEmail 去除空白并转为小写。
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// validEmail 在规范化之后校验邮箱格式，使用与请求绑定相同的校验器。
func validEmail(email string) bool {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return email != ""
	}
	return v.Var(email, "required,email") == nil
}

func (h *Handler) respond(c *gin.Context, status int, token string, user *model.User) {
	c.JSON(status, authResponse{
		Success:   true,
		Token:     token,
		ExpiresIn: int64(h.tokens.TTL() / time.Second),
		User:      NewUserResponse(user),
	})
}

// Register 创建新用户并签发令牌。
//
// POST /auth/register
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Abort(c, httperr.FromBinding(err))
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		httperr.Abort(c, httperr.New(httperr.Validation, "name is required"))
		return
	}
	email := NormalizeEmail(req.Email)
	if !validEmail(email) {
		httperr.Abort(c, errInvalidEmail)
		return
	}
	ctx := c.Request.Context()

	_, err := h.users.FindUserByEmail(ctx, email)
	if err == nil {
		httperr.Abort(c, httperr.New(httperr.Conflict, "User already exists"))
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	hash, err := h.hasher.Hash(req.Password)
	if err != nil {
		h.logger.Error("hash password failed", slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	user := model.User{
		Name:         name,
		Email:        email,
		PasswordHash: hash,
	}
	if err := h.users.CreateUser(ctx, &user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			httperr.Abort(c, httperr.New(httperr.Conflict, "User already exists"))
			return
		}
		h.logger.Error("create user failed", slog.String("email", email), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	metrics.UsersRegisteredTotal.Inc()
	h.logger.Info("user registered", slog.String("user_id", user.ID), slog.String("email", email))
	h.sendWelcome(user)

	h.respond(c, http.StatusCreated, token, &user)
}

// Login 校验用户并返回令牌。
//
// POST /auth/login
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httperr.Abort(c, httperr.FromBinding(err))
		return
	}
	email := NormalizeEmail(req.Email)
	if !validEmail(email) {
		httperr.Abort(c, errInvalidEmail)
		return
	}

	user, err := h.users.FindUserByEmail(c.Request.Context(), email)
	if errors.Is(err, store.ErrNotFound) {
		h.rejectLogin(c, email, "unknown_email")
		return
	}
	if err != nil {
		h.logger.Error("query user failed", slog.String("email", email), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	ok, err := h.hasher.Verify(req.Password, user.PasswordHash)
	if err != nil {
		h.logger.Error("verify password failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}
	if !ok {
		h.rejectLogin(c, email, "wrong_password")
		return
	}

	token, err := h.tokens.Issue(user.ID)
	if err != nil {
		h.logger.Error("sign token failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		httperr.Abort(c, httperr.Wrap(httperr.Internal, "Server error", err))
		return
	}

	metrics.LoginAttemptsTotal.WithLabelValues("success").Inc()
	h.logger.Info("user logged in", slog.String("user_id", user.ID))
	h.respond(c, http.StatusOK, token, user)
}

// Logout 处理注销请求（令牌无状态，客户端负责清除会话）。
//
// POST /auth/logout
func (h *Handler) Logout(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Logged out"})
}

func (h *Handler) rejectLogin(c *gin.Context, email, reason string) {
	metrics.LoginAttemptsTotal.WithLabelValues("invalid").Inc()
	h.logger.Info("login rejected", slog.String("email", email), slog.String("reason", reason))
	httperr.Abort(c, httperr.New(httperr.Unauthenticated, "Invalid credentials"))
}

// sendWelcome 异步发送欢迎邮件，失败只记录日志。
func (h *Handler) sendWelcome(user model.User) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		err := h.notifier.SendWelcome(ctx, &user)
		switch {
		case err == nil:
		case errors.Is(err, notify.ErrNotConfigured):
			h.logger.Debug("welcome email skipped", slog.String("user_id", user.ID))
		default:
			h.logger.Warn("send welcome email failed", slog.String("user_id", user.ID), slog.String("error", err.Error()))
		}
	}()
}
