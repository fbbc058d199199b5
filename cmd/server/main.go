package main

import (
	"context"
	"log"

	"github.com/go-co-op/gocron/v2"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/lineci/lineci/internal"
	"github.com/lineci/lineci/internal/handler"
	"github.com/lineci/lineci/internal/notify"
	"github.com/lineci/lineci/internal/pipeline"
	"github.com/lineci/lineci/internal/security"
	"github.com/lineci/lineci/internal/settings"
	"github.com/lineci/lineci/internal/store"

	_ "modernc.org/sqlite"
)

func main() {
	settings.ReadDotenv(internal.DotEnvPath)
	settings.Settings = settings.NewSettings()

	rdb := store.InitDatabase(true)
	defer rdb.Close()
	rwdb := store.InitDatabase(false)
	defer rwdb.Close()
	store.RunMigrations(rwdb)

	scheduler, err := gocron.NewScheduler()
	if err != nil {
		log.Fatal("err creating scheduler:", err)
	}
	defer func() {
		if err := scheduler.Shutdown(); err != nil {
			log.Println("err shutting down scheduler:", err)
		}
	}()

	smtpConfig := notify.SMTPConfig{
		Host:     settings.Settings.SMTPHost,
		Port:     settings.Settings.SMTPPort,
		From:     settings.Settings.SMTPFrom,
		Username: settings.Settings.SMTPUsername,
		Password: settings.Settings.SMTPPassword,
	}

	pipelineSvc := pipeline.NewService(
		store.NewPipelineSQLStore(rdb, rwdb),
		store.NewRunSQLStore(rdb, rwdb),
		store.NewPipelineStatusSQLStore(rdb, rwdb),
		scheduler,
		security.NewAESEncrypter(security.NewKey()),
		smtpConfig,
		settings.Settings.Workspace,
	)
	defer pipelineSvc.ShutdownAll()

	ctx := context.Background()
	if err := pipelineSvc.InitializeRunQueues(ctx, settings.Settings.QueueSize); err != nil {
		log.Fatal(err)
	}
	if err := pipelineSvc.SchedulePipelines(ctx); err != nil {
		log.Println("err scheduling stored pipelines:", err)
	}
	scheduler.Start()

	e := setupEcho()
	handler.SetupPipelineRoutes(
		e.Group("/api"),
		pipelineSvc,
		settings.Settings.WebhookKey,
		settings.Settings.QueueSize,
	)

	internal.GracefulShutdown(e, settings.Settings.Port)
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HTTPErrorHandler = handler.ErrorHandler
	e.Use(
		middleware.CORSWithConfig(internal.GetCORSConfig()),
		middleware.RateLimiterWithConfig(internal.GetRateLimiterConfig()),
	)
	return e
}
