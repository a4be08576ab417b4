package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/stackvault/stackvault/internal/core/container"
	"github.com/stackvault/stackvault/internal/core/events"
	"github.com/stackvault/stackvault/internal/core/registry"
	"github.com/stackvault/stackvault/internal/server"
)

func main() {
	var (
		listenAddr = flag.String("listen", "127.0.0.1:8080", "feed listen address")
		configPath = flag.String("config", "configs/items.yaml", "item definitions file")
		capacity   = flag.Int("capacity", 27, "capacity of the bootstrap container")
	)
	flag.Parse()

	defs, err := loadRegistry(*configPath)
	if err != nil {
		fmt.Println("Error loading item definitions:", err)
		os.Exit(1)
	}

	cfg := server.DefaultConfig()
	cfg.ListenAddr = *listenAddr
	srv := server.New(cfg, events.NewHub())

	// One world container so feeds have something to attach to; real
	// deployments expose containers from game state instead.
	world := container.NewSlotted(*capacity, defs)
	srv.Expose(world)
	fmt.Println("World container:", world.ID())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	if err := srv.Start(ctx); err != nil {
		fmt.Println("Error starting server:", err)
		os.Exit(1)
	}

	<-stopCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		fmt.Println("Error stopping server:", err)
	}
	_ = srv.Close()
}

func loadRegistry(path string) (*registry.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			// No config is fine; unknown items fall back to the default
			// stack limit.
			return registry.New(), nil
		}
		return nil, err
	}
	defer f.Close()
	return registry.LoadYAML(f)
}
