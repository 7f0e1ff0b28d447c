package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cryptvault/api/src/config"
	"github.com/cryptvault/api/src/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.WithFields(logrus.Fields{
		"port":        cfg.Port,
		"environment": cfg.Environment,
		"log_level":   cfg.LogLevel,
	}).Info("starting cryptvault API server")

	srv, err := server.New(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize server")
	}
	defer srv.Close()

	if err := srv.Run(); err != nil {
		logger.WithError(err).Fatal("server exited with error")
	}

	logger.Info("server exited")
}
