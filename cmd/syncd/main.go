package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/kbsync/app/bootstrap"
	"github.com/aihub/kbsync/app/router"
	"github.com/aihub/kbsync/internal/config"
	"github.com/aihub/kbsync/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	if err := router.Init(app.Container); err != nil {
		log.Fatalf("failed to register routes: %v", err)
	}

	web.BConfig.AppName = "KB Sync Service"
	web.BConfig.CopyRequestBody = true
	if p, err := strconv.Atoi(config.AppConfig.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = p
	}

	logger.Info("starting kb sync service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
