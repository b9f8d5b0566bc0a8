package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/npezzotti/spark-chat/internal/api"
	"github.com/npezzotti/spark-chat/internal/cache"
	"github.com/npezzotti/spark-chat/internal/config"
	"github.com/npezzotti/spark-chat/internal/database"
	"github.com/npezzotti/spark-chat/internal/events"
	"github.com/npezzotti/spark-chat/internal/media"
	"github.com/npezzotti/spark-chat/internal/messaging"
	"github.com/npezzotti/spark-chat/internal/server"
	"github.com/npezzotti/spark-chat/internal/signaling"
	"github.com/npezzotti/spark-chat/internal/stats"
	"github.com/npezzotti/spark-chat/internal/store"
)

func newLogger(dev bool) (*zap.SugaredLogger, error) {
	var (
		l   *zap.Logger
		err error
	)
	if dev {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return l.Sugar().Named("spark-chat"), nil
}

func openBackend(ctx context.Context, cfg *config.Config) (store.Backend, error) {
	if cfg.StorageEngine == config.StorageMongo {
		return store.NewMongoBackend(ctx, cfg.MongoURI, cfg.MongoDatabase, cfg.StorageTimeout)
	}
	return store.NewFileBackend(cfg.DataDir, database.Collections...)
}

func openMedia(ctx context.Context, logger *zap.SugaredLogger, cfg *config.Config) (media.Store, *media.LocalStore, error) {
	if cfg.MediaBackend == config.MediaS3 {
		s3, err := media.NewS3Store(ctx, logger, media.S3Config{
			Bucket:   cfg.S3Bucket,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
		return s3, nil, err
	}

	local, err := media.NewLocalStore(logger, cfg.MediaDir, "/media")
	return local, local, err
}

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		// the logger is configured from cfg
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(2)
	}

	logger, err := newLogger(cfg.Development)
	if err != nil {
		os.Stderr.WriteString("logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()

	backend, err := openBackend(ctx, cfg)
	if err != nil {
		logger.Fatalw("storage open", "engine", cfg.StorageEngine, "error", err)
	}
	defer func() {
		if err := backend.Close(context.Background()); err != nil {
			logger.Errorw("storage close", "error", err)
		}
	}()

	userColl, err := store.Open[database.User](backend, database.UsersCollection)
	if err != nil {
		logger.Fatalw("open users", "error", err)
	}
	chatColl, err := store.Open[database.Chat](backend, database.ChatsCollection)
	if err != nil {
		logger.Fatalw("open chats", "error", err)
	}

	users := database.NewUserRepository(userColl)
	chats, err := database.NewChatRepository(ctx, logger, chatColl, users)
	if err != nil {
		logger.Fatalw("chat repository", "error", err)
	}

	health := map[string]api.Pinger{"storage": backend}

	var mirror cache.PresenceMirror
	if cfg.RedisAddr != "" {
		presence := cache.NewPresenceCache(redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}), cfg.RedisPrefix)
		defer presence.Close()
		mirror = presence
		health["redis"] = presence
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp, err := events.NewKafkaPublisher(logger, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			logger.Fatalw("kafka publisher", "error", err)
		}
		publisher = kp
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Errorw("event publisher close", "error", err)
		}
	}()

	blobs, localMedia, err := openMedia(ctx, logger, cfg)
	if err != nil {
		logger.Fatalw("media store", "backend", cfg.MediaBackend, "error", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	chatServer, err := server.NewChatServer(logger, users, statsUpdater, server.Options{
		Mirror:     mirror,
		EventRate:  cfg.EventRate,
		EventBurst: cfg.EventBurst,
	})
	if err != nil {
		logger.Fatalw("new chat server", "error", err)
	}

	gateway := messaging.NewGateway(logger, chats, chatServer, blobs, publisher, cfg.MaxUploadBytes)
	coordinator := signaling.NewCoordinator(logger, chatServer)
	coordinator.OnChange(func(active int) {
		statsUpdater.Set(stats.ActiveCalls, int64(active))
	})
	chatServer.SetHandlers(gateway, coordinator)

	deps := api.Deps{
		ChatServer: chatServer,
		Chats:      chats,
		Users:      users,
		Messenger:  gateway,
		Stats:      statsUpdater,
		Health:     health,
	}
	if localMedia != nil {
		deps.Media = localMedia
	}
	srv := api.NewApp(mux, logger, deps, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go chatServer.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Infow("received signal", "signal", sig.String())
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			logger.Errorw("server", "error", err)
		}
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("HTTP server shutdown", "error", err)
	}

	logger.Info("shutting down chat server")
	if err := chatServer.Shutdown(shutDownCtx); err != nil {
		logger.Errorw("chat server shutdown", "error", err)
	}

	logger.Info("shutdown complete")
}
