package main

import (
	"context"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/wolfman30/tatamali-wallet/cmd/mainconfig"
	"github.com/wolfman30/tatamali-wallet/internal/app/bootstrap"
	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	"github.com/wolfman30/tatamali-wallet/internal/inbound"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// The Lambda is triggered by the inbound SQS queue and reports per-record
// failures so only those messages are redelivered.
func main() {
	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)

	worker, err := newWorker(context.Background(), cfg, logger)
	if err != nil {
		panic(err)
	}
	lambda.Start(worker.HandleSQSEvent)
}

func newWorker(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*inbound.Worker, error) {
	rt, err := bootstrap.Build(ctx, cfg, logger, nil, mainconfig.AWSLoader(cfg))
	if err != nil {
		return nil, err
	}
	return inbound.NewWorker(rt.Pipeline, rt.Queue, logger), nil
}
