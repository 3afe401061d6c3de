package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseDSN string
	// CORSOrigins 是非 dev 环境允许的跨域来源。
	CORSOrigins []string

	// AccessTokenValidity is the lease length granted by a (re)authentication.
	AccessTokenValidity  time.Duration
	RefreshTokenValidity time.Duration
	// LeaseWarnLead is how long before lease expiry the AuthInfo warning is sent.
	LeaseWarnLead time.Duration

	HandlerConcurrency int
	HandlerTimeout     time.Duration
	FrameRate          float64
	FrameBurst         int
	SearchLimit        int

	PushBackend        string
	FCMCredentialsFile string
	RedisURL           string
	PushRetries        int

	AvatarBackend string
	AvatarDir     string
	S3Endpoint    string
	S3Region      string
	S3Bucket      string
	S3AccessKey   string
	S3SecretKey   string
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

// getint falls back to def when the variable is unset, malformed or not positive.
func getlist(key string) []string {
	var out []string
	for _, v := range strings.Split(os.Getenv(key), ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func getint(key string, def int) int {
	n, err := strconv.Atoi(getenv(key, ""))
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func getfloat(key string, def float64) float64 {
	f, err := strconv.ParseFloat(getenv(key, ""), 64)
	if err != nil || f <= 0 {
		return def
	}
	return f
}

// Load 读取环境变量（以及可选的 .env 文件）并填充默认值。
func Load() Config {
	_ = godotenv.Load()
	return Config{
		Port:        getenv("APP_PORT", "8080"),
		Env:         getenv("APP_ENV", "dev"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
		DatabaseDSN: getenv("DATABASE_DSN", "host=localhost user=postgres password=postgres dbname=chatandschedule port=5432 sslmode=disable TimeZone=UTC"),
		CORSOrigins: getlist("CORS_ORIGINS"),

		AccessTokenValidity:  time.Duration(getint("ACCESS_TOKEN_VALIDITY_HOURS", 1)) * time.Hour,
		RefreshTokenValidity: time.Duration(getint("REFRESH_TOKEN_VALIDITY_HOURS", 720)) * time.Hour,
		LeaseWarnLead:        time.Duration(getint("LEASE_WARN_SECONDS", 600)) * time.Second,

		HandlerConcurrency: getint("HANDLER_CONCURRENCY", 16),
		HandlerTimeout:     time.Duration(getint("HANDLER_TIMEOUT_SECONDS", 30)) * time.Second,
		FrameRate:          getfloat("FRAME_RATE", 20),
		FrameBurst:         getint("FRAME_BURST", 40),
		SearchLimit:        getint("SEARCH_LIMIT", 20),

		PushBackend:        getenv("PUSH_BACKEND", "none"),
		FCMCredentialsFile: getenv("FCM_CREDENTIALS_FILE", ""),
		RedisURL:           getenv("REDIS_URL", "redis://localhost:6379/0"),
		PushRetries:        getint("PUSH_RETRIES", 3),

		AvatarBackend: getenv("AVATAR_BACKEND", "local"),
		AvatarDir:     getenv("AVATAR_DIR", "../avatars"),
		S3Endpoint:    getenv("S3_ENDPOINT", ""),
		S3Region:      getenv("S3_REGION", "us-east-1"),
		S3Bucket:      getenv("S3_BUCKET", ""),
		S3AccessKey:   getenv("S3_ACCESS_KEY", ""),
		S3SecretKey:   getenv("S3_SECRET_KEY", ""),
	}
}

// Validate 检查启动前必须满足的约束。
func Validate(cfg Config) error {
	if cfg.Port == "" {
		return errors.New("APP_PORT is required")
	}
	if cfg.DatabaseDSN == "" {
		return errors.New("DATABASE_DSN is required")
	}
	if cfg.AccessTokenValidity <= 0 {
		return errors.New("ACCESS_TOKEN_VALIDITY_HOURS must be positive")
	}
	if cfg.LeaseWarnLead <= 0 || cfg.LeaseWarnLead >= cfg.AccessTokenValidity {
		return errors.New("LEASE_WARN_SECONDS must be positive and shorter than the access token validity")
	}
	switch cfg.PushBackend {
	case "none", "redis":
	case "fcm":
		if cfg.FCMCredentialsFile == "" {
			return errors.New("FCM_CREDENTIALS_FILE is required for the fcm push backend")
		}
	default:
		return errors.New("PUSH_BACKEND must be one of none, fcm, redis")
	}
	switch cfg.AvatarBackend {
	case "local":
	case "s3":
		if cfg.S3Bucket == "" {
			return errors.New("S3_BUCKET is required for the s3 avatar backend")
		}
	default:
		return errors.New("AVATAR_BACKEND must be one of local, s3")
	}
	return nil
}
