package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/relabs-tech/ninedof_driver/internal/app"
	"github.com/relabs-tech/ninedof_driver/internal/config"
)

func main() {
	configPath := flag.String("config", "./ninedof_config.txt", "path to configuration file")
	flag.Parse()

	log.Info("starting ninedof console (MQTT subscriber)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	cfg.ApplyLogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunConsoleMQTT(ctx, cfg); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
