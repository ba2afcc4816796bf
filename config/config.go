package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
)

var AppConfig Config

type RedisConfig struct {
	Address  string `json:"address"`
	Password string `json:"-"`
	DB       int    `json:"db"`
}

type IMAPConfig struct {
	Host           string        `json:"host"`
	Port           int           `json:"port"`
	Username       string        `json:"username"`
	Password       string        `json:"-"`
	Encryption     string        `json:"encryption"` // SSL, TLS, STARTTLS or NONE
	Timeout        time.Duration `json:"timeout"`
	PoolSize       int           `json:"pool_size"` // 0 disables pooling
	AcquireTimeout time.Duration `json:"acquire_timeout"`
	DialsPerSecond float64       `json:"dials_per_second"`
}

type SMTPConfig struct {
	Host      string `json:"host"`
	Port      int    `json:"port"`
	Username  string `json:"username"`
	Password  string `json:"-"`
	FromEmail string `json:"from_email"`
	FromName  string `json:"from_name"`
}

// FolderNames maps logical folder keys to provider folder names.
type FolderNames map[string]string

type Config struct {
	Environment   string        `json:"environment"`
	ServerPort    string        `json:"server_port"`
	AppURL        string        `json:"app_url"`
	JWTSecret     string        `json:"-"`
	CORSOrigins   []string      `json:"cors_origins"`
	LogLevel      string        `json:"log_level"`
	LogFormat     string        `json:"log_format"`
	SentryDSN     string        `json:"-"`
	Redis         RedisConfig   `json:"redis"`
	IMAP          IMAPConfig    `json:"imap"`
	SMTP          SMTPConfig    `json:"smtp"`
	Folders       FolderNames   `json:"folders"`
	CacheTTL      time.Duration `json:"cache_ttl"`
	PageSize      int           `json:"page_size"`
	FetchWorkers  int           `json:"fetch_workers"`
	SyncInterval  time.Duration `json:"sync_interval"`
	SendRateLimit int           `json:"send_rate_limit"`
	BodyLimit     int           `json:"body_limit"`
}

func init() {
	// Try to load .env file, but don't fail if it doesn't exist
	if err := godotenv.Load(); err != nil {
		logrus.Debug("No .env file found, using process environment")
	}
}

func LoadConfig() error {
	cfg, err := Load()
	if err != nil {
		return err
	}
	AppConfig = cfg
	logConfig()
	return nil
}

// Load reads the configuration from the environment without touching AppConfig.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		ServerPort:  getEnv("SERVER_PORT", "5000"),
		AppURL:      strings.TrimRight(getEnv("APP_URL", "http://localhost:5000"), "/"),
		JWTSecret:   getEnv("JWT_SECRET", ""),
		CORSOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),
		SentryDSN:   getEnv("SENTRY_DSN", ""),
		Redis: RedisConfig{
			Address:  getEnv("REDIS_ADDRESS", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		IMAP: IMAPConfig{
			Host:           getEnv("IMAP_HOST", ""),
			Port:           getEnvAsInt("IMAP_PORT", 993),
			Username:       getEnv("IMAP_USERNAME", ""),
			Password:       getEnv("IMAP_PASSWORD", ""),
			Encryption:     strings.ToUpper(getEnv("IMAP_ENCRYPTION", "SSL")),
			Timeout:        getEnvAsDuration("IMAP_TIMEOUT", 30*time.Second),
			PoolSize:       getEnvAsInt("IMAP_POOL_SIZE", 4),
			AcquireTimeout: getEnvAsDuration("IMAP_ACQUIRE_TIMEOUT", 10*time.Second),
			DialsPerSecond: getEnvAsFloat("IMAP_DIAL_RATE", 2),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", ""),
			Port:     getEnvAsInt("SMTP_PORT", 587),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			FromName: getEnv("FROM_NAME", ""),
		},
		Folders: FolderNames{
			"inbox":   getEnv("FOLDER_INBOX", "INBOX"),
			"sent":    getEnv("FOLDER_SENT", "Sent Items"),
			"draft":   getEnv("FOLDER_DRAFT", "Drafts"),
			"deleted": getEnv("FOLDER_DELETED", "Deleted Items"),
			"junk":    getEnv("FOLDER_JUNK", "Junk Mail"),
			"archive": getEnv("FOLDER_ARCHIVE", "Archive"),
		},
		CacheTTL:      getEnvAsDuration("CACHE_TTL", time.Hour),
		PageSize:      getEnvAsInt("PAGE_SIZE", 50),
		FetchWorkers:  getEnvAsInt("FETCH_WORKERS", 3),
		SyncInterval:  getEnvAsDuration("SYNC_INTERVAL", time.Minute),
		SendRateLimit: getEnvAsInt("SEND_RATE_LIMIT", 10),
		BodyLimit:     getEnvAsInt("BODY_LIMIT", 25*1024*1024),
	}
	cfg.SMTP.FromEmail = getEnv("FROM_EMAIL", cfg.IMAP.Username)

	// Validate required configurations
	if cfg.JWTSecret == "" {
		return cfg, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.IMAP.Host == "" {
		return cfg, fmt.Errorf("IMAP_HOST is required")
	}
	if cfg.IMAP.Username == "" {
		return cfg, fmt.Errorf("IMAP_USERNAME is required")
	}
	if cfg.PageSize <= 0 {
		return cfg, fmt.Errorf("PAGE_SIZE must be positive, got %d", cfg.PageSize)
	}
	if cfg.CacheTTL <= 0 {
		return cfg, fmt.Errorf("CACHE_TTL must be positive")
	}
	return cfg, nil
}

// Helper functions
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.Atoi(strings.TrimSpace(valueStr))
	if err != nil {
		return fallback
	}
	return value
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(valueStr), 64)
	if err != nil {
		return fallback
	}
	return value
}

// getEnvAsDuration accepts Go durations ("90s") or a bare number of seconds ("3600").
func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	valueStr := strings.TrimSpace(getEnv(key, ""))
	if valueStr == "" {
		return fallback
	}
	if secs, err := strconv.Atoi(valueStr); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(valueStr)
	if err != nil {
		return fallback
	}
	return d
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func maskSecret(s string) string {
	if s == "" {
		return "(unset)"
	}
	return "*****"
}

func logConfig() {
	logrus.WithFields(logrus.Fields{
		"environment":   AppConfig.Environment,
		"server_port":   AppConfig.ServerPort,
		"redis":         fmt.Sprintf("%s/%d", AppConfig.Redis.Address, AppConfig.Redis.DB),
		"imap":          fmt.Sprintf("%s@%s:%d (%s)", AppConfig.IMAP.Username, AppConfig.IMAP.Host, AppConfig.IMAP.Port, AppConfig.IMAP.Encryption),
		"imap_password": maskSecret(AppConfig.IMAP.Password),
		"imap_pool":     AppConfig.IMAP.PoolSize,
		"smtp":          fmt.Sprintf("%s:%d from=%s", AppConfig.SMTP.Host, AppConfig.SMTP.Port, AppConfig.SMTP.FromEmail),
		"cache_ttl":     AppConfig.CacheTTL.String(),
		"page_size":     AppConfig.PageSize,
		"sync_interval": AppConfig.SyncInterval.String(),
		"sentry":        AppConfig.SentryDSN != "",
	}).Info("🔧 Loaded configuration")
}
