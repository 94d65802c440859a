// Copyright (c) 2013-2017 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/btcnode/btcnode/config"
	"github.com/btcnode/btcnode/infrastructure/logger"
	"github.com/btcnode/btcnode/node"
)

func main() {
	if err := run(); err != nil {
		os.Exit(1)
	}
}

func run() error {
	cfg, _, err := config.LoadConfig()
	if err != nil {
		return err
	}

	backend, log, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	node.UseLogger(log)

	controller, err := node.New(cfg, net.LookupIP)
	if err != nil {
		log.Errorf("failed to initialize controller: %s", err)
		return err
	}

	if err := controller.Start(); err != nil {
		log.Errorf("failed to start controller: %s", err)
		return err
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	log.Infof("shutting down")
	return controller.Stop()
}

// setupLogging builds one process-wide logger Backend writing to three
// files under cfg.LogDir: btcnode.log at the --debuglevel level, errors.log
// at error level, and peers.log at trace level. It returns the "NODE"
// logger, set to the --debuglevel level.
func setupLogging(cfg *config.Config) (*logger.Backend, *logger.Logger, error) {
	backend := logger.NewBackend()

	level, ok := logger.LevelFromString(cfg.DebugLevel)
	if !ok {
		level = logger.LevelInfo
	}

	if err := backend.AddLogFile(filepath.Join(cfg.LogDir, "btcnode.log"), level); err != nil {
		return nil, nil, err
	}
	if err := backend.AddLogFile(filepath.Join(cfg.LogDir, "errors.log"), logger.LevelError); err != nil {
		return nil, nil, err
	}
	if err := backend.AddLogFile(filepath.Join(cfg.LogDir, "peers.log"), logger.LevelTrace); err != nil {
		return nil, nil, err
	}

	if err := backend.Run(); err != nil {
		return nil, nil, err
	}

	log := backend.Logger("NODE")
	log.SetLevel(level)
	return backend, log, nil
}
