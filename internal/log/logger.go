// Package log 配置进程级的 zerolog 全局 logger。
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const service = "chat-and-schedule"

// New 构造一个 logger：dev 环境输出人类可读格式，其它环境输出 JSON。
func New(w io.Writer, env string) zerolog.Logger {
	if env == "dev" {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).With().Timestamp().Str("service", service).Logger()
}

// Init 设置全局 logger 与日志级别，无法解析的级别按 info 处理。
func Init(env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = New(os.Stdout, env)
}
