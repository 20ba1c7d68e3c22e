package inbound

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/aws/aws-lambda-go/events"

	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// Processor handles one inbound event; *conversation.Pipeline implements it.
type Processor interface {
	Process(ctx context.Context, ev whatsapp.InboundEvent) error
}

const (
	defaultWorkerCount  = 4
	defaultWaitSeconds  = 2
	defaultBatchSize    = 5
	maxWaitSeconds      = 20
	maxReceiveBatchSize = 10
	deleteTimeout       = 5 * time.Second
)

type workerConfig struct {
	workers          int
	receiveWaitSecs  int
	receiveBatchSize int
	jobTimeout       time.Duration
}

// WorkerOption customizes worker behavior.
type WorkerOption func(*workerConfig)

// WithWorkerCount sets the number of concurrent consumer goroutines.
func WithWorkerCount(count int) WorkerOption {
	return func(cfg *workerConfig) {
		if count > 0 {
			cfg.workers = count
		}
	}
}

// WithReceiveWaitSeconds sets the long-poll wait duration.
func WithReceiveWaitSeconds(seconds int) WorkerOption {
	return func(cfg *workerConfig) {
		if seconds < 0 {
			return
		}
		if seconds > maxWaitSeconds {
			seconds = maxWaitSeconds
		}
		cfg.receiveWaitSecs = seconds
	}
}

// WithReceiveBatchSize sets how many messages to fetch per poll.
func WithReceiveBatchSize(size int) WorkerOption {
	return func(cfg *workerConfig) {
		if size <= 0 {
			return
		}
		if size > maxReceiveBatchSize {
			size = maxReceiveBatchSize
		}
		cfg.receiveBatchSize = size
	}
}

// WithJobTimeout bounds the time spent on one event.
func WithJobTimeout(d time.Duration) WorkerOption {
	return func(cfg *workerConfig) {
		if d > 0 {
			cfg.jobTimeout = d
		}
	}
}

// Worker consumes inbound jobs from the queue and runs the processor.
type Worker struct {
	processor Processor
	queue     Queue
	logger    *logging.Logger
	cfg       workerConfig
	wg        sync.WaitGroup
}

func NewWorker(processor Processor, queue Queue, logger *logging.Logger, opts ...WorkerOption) *Worker {
	if processor == nil {
		panic("inbound: processor cannot be nil")
	}
	if queue == nil {
		panic("inbound: queue cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	cfg := workerConfig{
		workers:          defaultWorkerCount,
		receiveWaitSecs:  defaultWaitSeconds,
		receiveBatchSize: defaultBatchSize,
		jobTimeout:       30 * time.Second,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Worker{processor: processor, queue: queue, logger: logger, cfg: cfg}
}

// Start launches worker goroutines until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) {
	for i := 0; i < w.cfg.workers; i++ {
		w.wg.Add(1)
		go w.run(ctx, i+1)
	}
}

// Wait blocks until all worker goroutines exit.
func (w *Worker) Wait() {
	w.wg.Wait()
}

func (w *Worker) run(ctx context.Context, workerID int) {
	defer w.wg.Done()
	w.logger.Debug("inbound worker started", "worker_id", workerID)

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			w.logger.Debug("inbound worker stopping", "worker_id", workerID)
			return
		default:
		}

		messages, err := w.queue.Receive(ctx, w.cfg.receiveBatchSize, w.cfg.receiveWaitSecs)
		if err != nil {
			if errors.Is(err, context.Canceled) || ctx.Err() != nil {
				return
			}
			w.logger.Error("failed to receive inbound jobs", "error", err, "worker_id", workerID)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, msg := range messages {
			w.handleMessage(ctx, msg)
		}
	}
}

func (w *Worker) handleMessage(ctx context.Context, msg Message) {
	if err := w.Handle(ctx, msg.Body); err != nil && !permanent(err) {
		// left on the queue for redelivery
		return
	}
	deleteCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), deleteTimeout)
	defer cancel()
	if err := w.queue.Delete(deleteCtx, msg.ReceiptHandle); err != nil {
		w.logger.Error("failed to delete inbound job", "error", err, "msg_id", msg.ID)
	}
}

// Handle decodes one job body and processes its event. Errors that a
// redelivery cannot fix are wrapped with wallet.ErrValidation.
func (w *Worker) Handle(ctx context.Context, body string) error {
	job, err := decodeJob(body)
	if err != nil {
		w.logger.Error("dropping undecodable inbound job", "error", err)
		return errors.Join(wallet.ErrValidation, err)
	}
	log := w.logger.With("job_id", job.ID, "event_id", job.Event.EventID)

	jobCtx, cancel := context.WithTimeout(ctx, w.cfg.jobTimeout)
	defer cancel()
	if err := w.processor.Process(jobCtx, job.Event); err != nil {
		if permanent(err) {
			log.Warn("dropping invalid inbound event", "error", err)
		} else {
			log.Error("inbound event failed, will be redelivered", "error", err)
		}
		return err
	}
	log.Debug("inbound job processed", "queued_for", time.Since(job.EnqueuedAt).String())
	return nil
}

// HandleSQSEvent processes a Lambda SQS batch and reports retryable
// failures individually so only those records are redelivered.
func (w *Worker) HandleSQSEvent(ctx context.Context, ev events.SQSEvent) (events.SQSEventResponse, error) {
	var resp events.SQSEventResponse
	for _, record := range ev.Records {
		if err := w.Handle(ctx, record.Body); err != nil && !permanent(err) {
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.SQSBatchItemFailure{ItemIdentifier: record.MessageId})
		}
	}
	return resp, nil
}

func permanent(err error) bool {
	return errors.Is(err, wallet.ErrValidation)
}
