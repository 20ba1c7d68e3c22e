package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wolfman30/tatamali-wallet/cmd/mainconfig"
	"github.com/wolfman30/tatamali-wallet/internal/app/bootstrap"
	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	"github.com/wolfman30/tatamali-wallet/internal/inbound"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	if cfg.InboundQueue != "sqs" {
		logger.Error("inbound worker requires INBOUND_QUEUE=sqs", "queue", cfg.InboundQueue)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rt, err := bootstrap.Build(ctx, cfg, logger, nil, mainconfig.AWSLoader(cfg))
	if err != nil {
		logger.Error("failed to build wallet runtime", "error", err)
		os.Exit(1)
	}
	defer rt.Close()

	worker := inbound.NewWorker(
		rt.Pipeline,
		rt.Queue,
		logger,
		inbound.WithWorkerCount(cfg.WorkerCount),
		inbound.WithReceiveWaitSeconds(20),
		inbound.WithReceiveBatchSize(10),
	)
	worker.Start(ctx)
	logger.Info("inbound worker started", "workers", cfg.WorkerCount)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down inbound worker...")
	cancel()

	doneCtx, doneCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer doneCancel()

	waitCh := make(chan struct{})
	go func() {
		worker.Wait()
		close(waitCh)
	}()

	select {
	case <-waitCh:
		logger.Info("inbound worker stopped")
	case <-doneCtx.Done():
		logger.Error("inbound worker shutdown timed out", "error", doneCtx.Err())
	}
}
