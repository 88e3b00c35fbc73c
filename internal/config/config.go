package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/spf13/viper"
)

// Config 保存应用程序配置。
type Config struct {
	App      AppConfig      `json:"app"`
	Database DatabaseConfig `json:"database"`
	Redis    RedisConfig    `json:"redis"`
	Email    EmailConfig    `json:"email"`
	Security SecurityConfig `json:"security"`
}

// AppConfig 应用程序基础配置。
type AppConfig struct {
	Env        string        `json:"env"`         // 运行环境: local / prod
	LogLevel   string        `json:"log_level"`   // 日志级别: debug / info / warn / error
	LogFormat  string        `json:"log_format"`  // 日志格式: json / text
	HTTPAddr   string        `json:"http_addr"`   // API 服务监听地址
	LoginRate  float64       `json:"login_rate"`  // 登录/注册限流速率（token/s，0 表示关闭）
	LoginBurst float64       `json:"login_burst"` // 登录/注册限流桶容量
	TokenTTL   time.Duration `json:"token_ttl"`   // 令牌有效期（如 "168h"）
	SeedDemo   bool          `json:"seed_demo"`   // 启动时创建演示账号（prod 下忽略）
}

// DatabaseConfig 数据库配置。
type DatabaseConfig struct {
	Driver string `json:"driver"` // mysql / sqlite
	DSN    string `json:"dsn"`    // 数据库连接字符串
}

// RedisConfig Redis 配置（仅用于限流，Addr 为空表示不启用）。
type RedisConfig struct {
	Addr     string `json:"addr"`     // Redis 地址 (host:port)
	Password string `json:"password"` // Redis 密码
}

// EmailConfig 邮件通知配置。
type EmailConfig struct {
	SMTPHost  string `json:"smtp_host"`
	SMTPPort  int    `json:"smtp_port"`
	SMTPUser  string `json:"smtp_user"`
	SMTPPass  string `json:"smtp_pass"`
	FromEmail string `json:"from_email"`
}

// SecurityConfig 安全相关配置。
type SecurityConfig struct {
	JWTSecret  string `json:"jwt_secret"`  // 令牌签名密钥
	BcryptCost int    `json:"bcrypt_cost"` // 密码哈希成本
}

const defaultJWTSecret = "dev_secret_change_me"

// Load 从 JSON 文件加载配置。
//
// 它会尝试读取 configs/config.json 文件，如果不存在则使用默认值。
// 环境变量始终覆盖文件中的值。
//
// 参数:
//
//	configPath: 配置文件路径（如果为空则使用默认路径 "configs/config.json")
//
// 返回值:
//
//	*Config: 加载完成的配置对象
//	error: 加载失败返回错误
func Load(configPath ...string) (*Config, error) {
	path := "configs/config.json"
	if len(configPath) > 0 && configPath[0] != "" {
		path = configPath[0]
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := getDefaultConfig()
		applyEnvOverrides(cfg)
		return cfg, cfg.Validate()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 检查配置是否可以启动服务。
//
// 生产环境禁止使用默认签名密钥。
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Security.JWTSecret) == "" {
		return fmt.Errorf("security.jwt_secret is required")
	}
	if c.App.Env == "prod" && c.Security.JWTSecret == defaultJWTSecret {
		return fmt.Errorf("security.jwt_secret must be changed in prod")
	}
	if c.App.TokenTTL <= 0 {
		return fmt.Errorf("app.token_ttl must be positive")
	}
	switch c.Database.Driver {
	case "mysql", "sqlite":
	default:
		return fmt.Errorf("unsupported database.driver %q", c.Database.Driver)
	}
	return nil
}

// getDefaultConfig 返回默认配置。
func getDefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Env:        "local",
			LogLevel:   "info",
			LogFormat:  "json",
			HTTPAddr:   ":8080",
			LoginRate:  0.5,
			LoginBurst: 5,
			TokenTTL:   7 * 24 * time.Hour,
		},
		Database: DatabaseConfig{
			Driver: "mysql",
			DSN:    "root:password@tcp(localhost:3306)/taskmanager?parseTime=true&loc=Local",
		},
		Redis: RedisConfig{
			Addr:     "",
			Password: "",
		},
		Email: EmailConfig{
			SMTPHost:  "",
			SMTPPort:  587,
			SMTPUser:  "",
			SMTPPass:  "",
			FromEmail: "",
		},
		Security: SecurityConfig{
			JWTSecret:  defaultJWTSecret,
			BcryptCost: 10,
		},
	}
}

// applyDefaults 对未设置的字段应用默认值。
func applyDefaults(cfg *Config) {
	defaults := getDefaultConfig()

	if cfg.App.Env == "" {
		cfg.App.Env = defaults.App.Env
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = defaults.App.LogLevel
	}
	if cfg.App.LogFormat == "" {
		cfg.App.LogFormat = defaults.App.LogFormat
	}
	if cfg.App.HTTPAddr == "" {
		cfg.App.HTTPAddr = defaults.App.HTTPAddr
	}
	if cfg.App.LoginBurst == 0 {
		cfg.App.LoginBurst = defaults.App.LoginBurst
	}
	if cfg.App.TokenTTL == 0 {
		cfg.App.TokenTTL = defaults.App.TokenTTL
	}
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = defaults.Database.Driver
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "mysql" {
		cfg.Database.DSN = defaults.Database.DSN
	}
	if cfg.Email.SMTPPort == 0 {
		cfg.Email.SMTPPort = defaults.Email.SMTPPort
	}
	if cfg.Security.JWTSecret == "" {
		cfg.Security.JWTSecret = defaults.Security.JWTSecret
	}
	if cfg.Security.BcryptCost == 0 {
		cfg.Security.BcryptCost = defaults.Security.BcryptCost
	}
}

func applyEnvOverrides(cfg *Config) {
	v := viper.New()
	v.AutomaticEnv()

	_ = v.BindEnv("db_host", "DB_HOST")
	_ = v.BindEnv("db_password", "DB_PASSWORD")
	_ = v.BindEnv("redis_addr", "REDIS_ADDR")
	_ = v.BindEnv("redis_password", "REDIS_PASSWORD")
	_ = v.BindEnv("smtp_pass", "SMTP_PASS")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")

	if s := os.Getenv("APP_ENV"); s != "" {
		cfg.App.Env = s
	}
	if s := os.Getenv("APP_LOG_LEVEL"); s != "" {
		cfg.App.LogLevel = s
	}
	if s := os.Getenv("APP_LOG_FORMAT"); s != "" {
		cfg.App.LogFormat = s
	}
	if s := os.Getenv("APP_HTTP_ADDR"); s != "" {
		cfg.App.HTTPAddr = s
	}
	if s := os.Getenv("APP_LOGIN_RATE"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.LoginRate = f
		}
	}
	if s := os.Getenv("APP_LOGIN_BURST"); s != "" {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			cfg.App.LoginBurst = f
		}
	}
	if s := os.Getenv("APP_SEED_DEMO"); s != "" {
		if b, err := strconv.ParseBool(s); err == nil {
			cfg.App.SeedDemo = b
		}
	}
	if s := os.Getenv("APP_TOKEN_TTL"); s != "" {
		if d, err := time.ParseDuration(s); err == nil {
			cfg.App.TokenTTL = d
		}
	}

	if s := v.GetString("jwt_secret"); s != "" {
		cfg.Security.JWTSecret = s
	}
	if s := os.Getenv("APP_BCRYPT_COST"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Security.BcryptCost = i
		}
	}

	if s := os.Getenv("DB_DRIVER"); s != "" {
		cfg.Database.Driver = strings.ToLower(s)
	}
	if s := os.Getenv("DB_DSN"); s != "" {
		cfg.Database.DSN = s
	} else if cfg.Database.Driver == "mysql" &&
		(hasAnyEnv("DB_PORT", "DB_USER", "DB_NAME") || v.GetString("db_host") != "" || v.GetString("db_password") != "") {
		parsed := parseMySQLDSN(cfg.Database.DSN)
		if s := v.GetString("db_host"); s != "" {
			parsed.Addr = s + ":" + getenvDefault("DB_PORT", parsed.Addr, "3306")
		} else if s := os.Getenv("DB_PORT"); s != "" {
			host := parsed.Addr
			if strings.Contains(host, ":") {
				host = strings.Split(host, ":")[0]
			}
			parsed.Addr = host + ":" + s
		}
		if s := os.Getenv("DB_USER"); s != "" {
			parsed.User = s
		}
		if s := v.GetString("db_password"); s != "" {
			parsed.Passwd = s
		}
		if s := os.Getenv("DB_NAME"); s != "" {
			parsed.DBName = s
		}
		cfg.Database.DSN = parsed.FormatDSN()
	}

	if s := v.GetString("redis_addr"); s != "" {
		cfg.Redis.Addr = s
	}
	if s := v.GetString("redis_password"); s != "" {
		cfg.Redis.Password = s
	}

	if s := os.Getenv("SMTP_HOST"); s != "" {
		cfg.Email.SMTPHost = s
	}
	if s := os.Getenv("SMTP_PORT"); s != "" {
		if i, err := strconv.Atoi(s); err == nil {
			cfg.Email.SMTPPort = i
		}
	}
	if s := os.Getenv("SMTP_USER"); s != "" {
		cfg.Email.SMTPUser = s
	}
	if s := v.GetString("smtp_pass"); s != "" {
		cfg.Email.SMTPPass = s
	}
	if s := os.Getenv("SMTP_FROM"); s != "" {
		cfg.Email.FromEmail = s
	}
}

func hasAnyEnv(keys ...string) bool {
	for _, key := range keys {
		if os.Getenv(key) != "" {
			return true
		}
	}
	return false
}

func getenvDefault(envKey, fallbackAddr, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if strings.Contains(fallbackAddr, ":") {
		parts := strings.Split(fallbackAddr, ":")
		if len(parts) == 2 && parts[1] != "" {
			return parts[1]
		}
	}
	return defaultValue
}

func parseMySQLDSN(dsn string) *mysql.Config {
	if dsn != "" {
		if parsed, err := mysql.ParseDSN(dsn); err == nil {
			return parsed
		}
	}
	fallback := mysql.NewConfig()
	fallback.User = "root"
	fallback.Net = "tcp"
	fallback.Addr = "localhost:3306"
	fallback.DBName = "taskmanager"
	fallback.ParseTime = true
	return fallback
}

// UnmarshalJSON 自定义 JSON 解析，支持时间 Duration 字符串。
func (a *AppConfig) UnmarshalJSON(data []byte) error {
	type Alias AppConfig
	aux := &struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		Alias: (*Alias)(a),
	}

	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if aux.TokenTTL != "" {
		duration, err := time.ParseDuration(aux.TokenTTL)
		if err != nil {
			return fmt.Errorf("invalid token_ttl format: %w", err)
		}
		a.TokenTTL = duration
	}
	return nil
}

// MarshalJSON 自定义 JSON 序列化，将 Duration 转为字符串。
func (a AppConfig) MarshalJSON() ([]byte, error) {
	type Alias AppConfig
	return json.Marshal(&struct {
		TokenTTL string `json:"token_ttl"`
		*Alias
	}{
		TokenTTL: a.TokenTTL.String(),
		Alias:    (*Alias)(&a),
	})
}
