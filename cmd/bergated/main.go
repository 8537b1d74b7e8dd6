package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"example.com/bergate/internal/common"
	"example.com/bergate/internal/config"
	"example.com/bergate/internal/server"
)

func loadConfig(path string) (config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		common.Log().Warnf("config %s not found, using defaults", path)
		return config.Default(), nil
	}
	return cfg, err
}

func main() {
	configPath := pflag.String("config", "config/bergated.yaml", "path to configuration file")
	addr := pflag.String("addr", "", "listen address (overrides config port)")
	readTimeout := pflag.Duration("read-timeout", 60*time.Second, "HTTP read timeout")
	writeTimeout := pflag.Duration("write-timeout", 5*time.Minute, "HTTP write timeout")
	pflag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		common.Fatalf("load config: %v", err)
	}
	if err := os.MkdirAll(cfg.StorageDir, 0o755); err != nil {
		common.Fatalf("storage dir: %v", err)
	}
	if err := common.SetupLogging(cfg.Logs); err != nil {
		common.Fatalf("setup logging: %v", err)
	}
	defer common.CloseLogging()
	common.Logf("bergated starting: config %s, gate BER <= %g, prefix %d", *configPath, cfg.Scoring.Threshold, cfg.Scoring.Prefix)

	listenAddr := fmt.Sprintf(":%d", cfg.Port)
	if *addr != "" {
		listenAddr = *addr
	}
	opts, err := server.OptionsFromConfig(cfg)
	if err != nil {
		common.Fatalf("server options: %v", err)
	}
	srv, err := server.NewServer(opts)
	if err != nil {
		common.Fatalf("server init: %v", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:         listenAddr,
		Handler:      server.NewRouter(srv),
		ReadTimeout:  *readTimeout,
		WriteTimeout: *writeTimeout,
	}

	log := common.Log()
	log.WithFields(map[string]any{
		"addr":      listenAddr,
		"storage":   cfg.StorageDir,
		"threshold": cfg.Scoring.Threshold,
		"marker":    cfg.PacketMarker().String(),
	}).Info("bergated listening")
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Errorf("shutdown: %v", err)
	}
	log.Info("bergated stopped")
}
