// Command bridge runs a single ENR coordination bridge node: it joins the
// overlay, wires up the four subsystems, and serves until terminated.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/vudo/enr-bridge/core"
	"github.com/vudo/enr-bridge/pkg/config"
)

func main() {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		log.Fatalf("config load: %v", err)
	}

	logger := log.New()
	if lvl, err := log.ParseLevel(cfg.Logging.Level); err == nil {
		logger.SetLevel(lvl)
	}

	node, err := core.NewNode(*cfg)
	if err != nil {
		logger.Fatalf("node init: %v", err)
	}

	bridge := core.NewBridge(node.Self(), node, cfg.Bridge, logger, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigc
		logger.Info("bridge: shutdown signal received")
		bridge.Stop()
		cancel()
		_ = node.Close()
	}()

	logger.Infof("bridge: node %s listening on %s", node.Self(), cfg.Network.ListenAddr)
	if err := bridge.Run(ctx, node); err != nil {
		logger.Fatalf("bridge run: %v", err)
	}
}
