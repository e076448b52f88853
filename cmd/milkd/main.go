package main

import (
	"context"
	"errors"
	"flag"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/milkmarket/milkd/internal/config"
	"github.com/milkmarket/milkd/internal/domain"
	"github.com/milkmarket/milkd/internal/infra/database"
	"github.com/milkmarket/milkd/internal/infra/mint"
	"github.com/milkmarket/milkd/internal/infra/relay"
	"github.com/milkmarket/milkd/internal/infra/repository"
	"github.com/milkmarket/milkd/internal/infra/signer"
	"github.com/milkmarket/milkd/internal/present/rest"
	"github.com/milkmarket/milkd/internal/service"
	"github.com/milkmarket/milkd/internal/usecase"
)

func main() {
	configPath := flag.String("c", "config.yaml", "path to config file")
	flag.Parse()

	conf, err := config.Load(*configPath)
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	db, err := database.NewPostgres(conf.Server.PostgresDsn)
	if err != nil {
		panic("failed to connect database")
	}

	err = database.MigratePostgres(db)
	if err != nil {
		panic("failed to migrate database")
	}

	rdb := database.NewRedis(conf.Server.RedisAddr, "", conf.Server.RedisDB)

	var kv repository.KV
	switch conf.Server.CacheBackend {
	case "redis":
		kv = repository.NewRedisKV(rdb)
	case "memcached":
		kv = repository.NewMemcacheKV(database.NewMemcached(conf.Server.MemcachedAddr))
	default:
		kv = repository.NewMemoryKV()
	}

	localSigner, err := signer.NewLocalSigner(conf.Node.PrivateKey)
	if err != nil {
		panic("failed to load node key: " + err.Error())
	}

	ctx := context.Background()

	coordinator := relay.NewCoordinator(ctx)
	defer coordinator.Close()

	eventRepo := repository.NewEventRepository(db)
	messageRepo := repository.NewMessageRepository(db)
	settingsRepo := repository.NewSettingsRepository(db, kv)

	seedSettings(ctx, settingsRepo, conf.Node)

	pipeline := usecase.NewMessagePipeline(localSigner, messageRepo)
	trust := usecase.NewTrustGraphBuilder(coordinator, conf.Node.SeedPubKey)
	mintClient := mint.NewClient()
	wallet := usecase.NewWalletEngine(coordinator, localSigner, mintClient)

	orchestrator := usecase.NewOrchestrator(
		coordinator,
		localSigner,
		eventRepo,
		settingsRepo,
		pipeline,
		trust,
		wallet,
		conf.Node.Relays,
	)

	signalService := service.NewSignalService(rdb)
	refreshService := service.NewRefreshService(
		orchestrator,
		signalService,
		time.Duration(conf.Node.RefreshMinute)*time.Minute,
	)
	go refreshService.Run(ctx)

	handler := rest.NewHandler(
		refreshService,
		signalService,
		pipeline,
		coordinator,
		settingsRepo,
		messageRepo,
		mintClient,
		conf.Node.Relays,
	)

	e := echo.New()
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	handler.RegisterRoutes(e)

	e.Logger.Fatal(e.Start(conf.Server.Listen))
}

// seedSettings writes configured defaults for keys the store does not hold
// yet, so a fresh install has relays and mints before the first cycle.
func seedSettings(ctx context.Context, settings *repository.SettingsRepository, node config.Node) {
	if _, err := settings.GetStrings(ctx, usecase.SettingRelays); isNotFound(err) && len(node.Relays) > 0 {
		settings.SetStrings(ctx, usecase.SettingRelays, node.Relays)
		settings.SetStrings(ctx, usecase.SettingReadRelays, node.Relays)
		settings.SetStrings(ctx, usecase.SettingWriteRelays, node.Relays)
	}
	if _, err := settings.GetStrings(ctx, usecase.SettingMints); isNotFound(err) && len(node.Mints) > 0 {
		settings.SetStrings(ctx, usecase.SettingMints, node.Mints)
	}
	if _, err := settings.GetInt(ctx, usecase.SettingWot); isNotFound(err) {
		settings.SetInt(ctx, usecase.SettingWot, node.WotLevel)
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, domain.ErrNotFound)
}
