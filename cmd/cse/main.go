// Command cse runs a standalone oneM2M Common Services Entity,
// exposing Mcx over HTTP.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/onem2m/cse/config"
	"github.com/onem2m/cse/core"
	"github.com/onem2m/cse/gateway"
	"github.com/onem2m/cse/logging"
)

func main() {
	var (
		configPath = flag.String("config", "cse.yaml", "path to the CSE's YAML configuration file")
		addr       = flag.String("addr", ":8080", "HTTP listen address for the Mcx interface")
		dev        = flag.Bool("development", false, "use a development logger and in-memory storage")
	)
	flag.Parse()

	log := logging.NewZapLogger(*dev)

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error(err, "failed to load configuration")
		os.Exit(1)
	}
	if *dev {
		cfg.Development = true
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := core.New(ctx, cfg, log)
	if err != nil {
		log.Error(err, "failed to initialize CSE core")
		os.Exit(1)
	}

	go c.Run(ctx)

	handler := gateway.NewHandler(c.Dispatcher, gateway.JSONCodec{})
	server := &http.Server{
		Addr:              *addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("serving Mcx", "addr", *addr, "cseID", cfg.CSE.CSEID)
		serveErr <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			log.Error(err, "HTTP server exited unexpectedly")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "graceful shutdown failed")
	}
}
