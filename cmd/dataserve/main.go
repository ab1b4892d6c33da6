package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/dataserve/dataserve-sub000/config"
	"github.com/dataserve/dataserve-sub000/pkg/di"
)

func main() {
	configPath := flag.String("config", "dataserve.yaml", "path to the YAML or JSON configuration file")
	concurrency := flag.Int("concurrency", 1, "number of commands processed at once; >1 answers out of order")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := di.NewContainer(ctx, cfg)
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	defer container.Close()

	if err := serve(ctx, container.Engine(), os.Stdin, os.Stdout, *concurrency); err != nil {
		fmt.Fprintf(os.Stderr, "serve: %v\n", err)
		container.Close()
		os.Exit(1)
	}
}
