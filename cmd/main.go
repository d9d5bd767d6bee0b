package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/arkvault/arkvault-backend/internal/app"
)

func main() {
	a, err := app.New()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	a.Log.Info("arkvault backend ready",
		"ipfs_service", a.Cfg.IPFS.ServiceURL,
		"ledger_service", a.Cfg.Ledger.ServiceURL,
		"pending_ttl", a.Cfg.PendingTTL)

	// Services are consumed by an embedding transport layer; keep the
	// process alive until asked to stop.
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	a.Log.Info("Shutting down")
}
