package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

// BinanceConfig 币安现货API配置
type BinanceConfig struct {
	APIKey       string `validate:"required"`
	SecretKey    string `validate:"required"`
	Testnet      bool
	RecvWindowMs int64 `validate:"gt=0,lte=60000"`
}

// MailConfig 告警邮箱配置
type MailConfig struct {
	User           string `validate:"required"`
	Password       string `validate:"required"`
	Host           string `validate:"required,hostname_rfc1123|ip"`
	Port           int    `validate:"gt=0,lte=65535"`
	Mailbox        string `validate:"required"`
	ReconnectDelay time.Duration
}

// AlertConfig 告警过滤与分发配置
type AlertConfig struct {
	TrustedSender string        `validate:"required,email"`
	MaxAge        time.Duration `validate:"gt=0"`
	QueueSize     int           `validate:"gt=0"`
	DedupSize     int           `validate:"gt=0"`
}

// FillConfig 成交确认轮询配置
type FillConfig struct {
	PollInterval time.Duration `validate:"gte=0"`
	Timeout      time.Duration `validate:"gt=0"`
	MaxAttempts  int           `validate:"gt=0"`
}

type Config struct {
	Binance     BinanceConfig
	Mail        MailConfig
	Alert       AlertConfig
	Fill        FillConfig
	JournalPath string
	APIPort     int `validate:"gte=0,lte=65535"`
	LogDir      string
	Debug       bool
}

// Load 从环境变量读取配置；若存在 .env 文件会先加载（不覆盖已有环境变量）
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if _, err := os.Stat(f); err == nil {
			if err := godotenv.Load(f); err != nil {
				return nil, fmt.Errorf("加载 %s 失败: %w", f, err)
			}
		}
	}

	cfg := &Config{
		Binance: BinanceConfig{
			APIKey:       getEnv("BINANCE_API_KEY", ""),
			SecretKey:    getEnv("BINANCE_SECRET_KEY", ""),
			Testnet:      getEnvBool("BINANCE_TESTNET", false),
			RecvWindowMs: int64(getEnvInt("BINANCE_RECV_WINDOW_MS", 60000)),
		},
		Mail: MailConfig{
			User:           getEnv("MAIL_USER", ""),
			Password:       getEnv("MAIL_PASSWORD", ""),
			Host:           getEnv("MAIL_HOST", "imap.gmail.com"),
			Port:           getEnvInt("MAIL_PORT", 993),
			Mailbox:        getEnv("MAIL_MAILBOX", "INBOX"),
			ReconnectDelay: getEnvDuration("MAIL_RECONNECT_DELAY", 5*time.Second),
		},
		Alert: AlertConfig{
			TrustedSender: getEnv("ALERT_SENDER", "noreply@tradingview.com"),
			MaxAge:        time.Duration(getEnvInt("MAIL_MAX_AGE_SECONDS", 60)) * time.Second,
			QueueSize:     getEnvInt("ALERT_QUEUE_SIZE", 64),
			DedupSize:     getEnvInt("ALERT_DEDUP_SIZE", 1024),
		},
		Fill: FillConfig{
			PollInterval: getEnvDuration("FILL_POLL_INTERVAL", 0),
			Timeout:      getEnvDuration("FILL_TIMEOUT", 2*time.Minute),
			MaxAttempts:  getEnvInt("FILL_MAX_ATTEMPTS", 600),
		},
		JournalPath: getEnv("JOURNAL_PATH", ""),
		APIPort:     getEnvInt("API_PORT", 8080),
		LogDir:      getEnv("LOG_DIR", "logs"),
		Debug:       getEnvBool("DEBUG", false),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置，返回第一处错误的字段名
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		if errs, ok := err.(validator.ValidationErrors); ok && len(errs) > 0 {
			return fmt.Errorf("配置无效: %s (%s)", errs[0].Namespace(), errs[0].Tag())
		}
		return fmt.Errorf("配置无效: %w", err)
	}
	return nil
}

// MailAddr IMAP 服务器地址 host:port
func (c *Config) MailAddr() string {
	return fmt.Sprintf("%s:%d", c.Mail.Host, c.Mail.Port)
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "y", "yes":
		return true
	case "0", "false", "n", "no":
		return false
	default:
		return def
	}
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
