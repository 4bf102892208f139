// Copyright (c) 2026 Daniel Alarcon Rubio / Relabs Tech
// SPDX-License-Identifier: MIT
// See LICENSE file for full license text

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
	port := flag.Int("port", 8081, "listen port")
	flag.Parse()

	log.Info("starting MPU9250/AK8963 register debug tool (standalone)")

	if err := config.InitGlobal(*configPath); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	cfg := config.Get()
	cfg.ApplyLogLevel()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Infof("open http://localhost:%d in your browser", *port)
	if err := app.RunRegisterDebug(ctx, cfg, *port); err != nil {
		log.Fatalf("fatal: %v", err)
	}
}
