package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/maguro923/chat-and-schedule-backend/internal/avatar"
	"github.com/maguro923/chat-and-schedule-backend/internal/config"
	"github.com/maguro923/chat-and-schedule-backend/internal/db"
	"github.com/maguro923/chat-and-schedule-backend/internal/hub"
	clog "github.com/maguro923/chat-and-schedule-backend/internal/log"
	"github.com/maguro923/chat-and-schedule-backend/internal/mw"
	"github.com/maguro923/chat-and-schedule-backend/internal/push"
	"github.com/maguro923/chat-and-schedule-backend/internal/server"
	"github.com/maguro923/chat-and-schedule-backend/internal/service"
	"github.com/maguro923/chat-and-schedule-backend/internal/store"
	"github.com/maguro923/chat-and-schedule-backend/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

func newPush(ctx context.Context, cfg config.Config) (push.Gateway, error) {
	var g push.Gateway
	switch cfg.PushBackend {
	case "fcm":
		f, err := push.NewFCM(ctx, cfg.FCMCredentialsFile)
		if err != nil {
			return nil, err
		}
		g = f
	case "redis":
		r, err := push.NewRedis(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		g = r
	default:
		return push.Nop{}, nil
	}
	return push.WithRetry(g, cfg.PushRetries, 200*time.Millisecond), nil
}

func newAvatars(cfg config.Config) avatar.Store {
	if cfg.AvatarBackend == "s3" {
		return avatar.NewS3(avatar.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Region:    cfg.S3Region,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
		})
	}
	return avatar.NewLocal(cfg.AvatarDir)
}

func main() {
	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)
	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	gateway, err := newPush(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.PushBackend).Msg("push gateway")
	}

	h := hub.New()
	effects := service.NewEffects(cfg.HandlerConcurrency, cfg.HandlerTimeout)
	deps := service.Deps{
		Store:                store.New(gdb),
		Hub:                  h,
		Push:                 gateway,
		Avatars:              newAvatars(cfg),
		AccessTokenValidity:  cfg.AccessTokenValidity,
		RefreshTokenValidity: cfg.RefreshTokenValidity,
		SearchLimit:          cfg.SearchLimit,
		Effects:              effects,
	}
	users := service.NewUserService(deps)
	wsSrv := ws.NewServer(h, ws.Services{
		Users:    users,
		Messages: service.NewMessageService(deps),
		Rooms:    service.NewRoomService(deps),
		Friends:  service.NewFriendService(deps),
	}, ws.Options{
		WarnLead:           cfg.LeaseWarnLead,
		HandlerConcurrency: cfg.HandlerConcurrency,
		HandlerTimeout:     cfg.HandlerTimeout,
		FrameRate:          cfg.FrameRate,
		FrameBurst:         cfg.FrameBurst,
	})

	// 控制单个 IP+路由的登录速率。
	limiters := mw.NewLimiters(rate.Every(time.Second/5), 10, 10*time.Minute)
	r := server.SetupRouter(cfg, server.NewHandler(users), wsSrv, limiters)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		limiters.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		// 等待推送和头像清理收尾
		return effects.Wait(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
	log.Info().Msg("server stopped")
}
