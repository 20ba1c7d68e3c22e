package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/tatamali-wallet/internal/archive"
	"github.com/wolfman30/tatamali-wallet/internal/audit"
	"github.com/wolfman30/tatamali-wallet/internal/channels/whatsapp"
	appconfig "github.com/wolfman30/tatamali-wallet/internal/config"
	"github.com/wolfman30/tatamali-wallet/internal/conversation"
	"github.com/wolfman30/tatamali-wallet/internal/events"
	"github.com/wolfman30/tatamali-wallet/internal/http/handlers"
	"github.com/wolfman30/tatamali-wallet/internal/inbound"
	"github.com/wolfman30/tatamali-wallet/internal/ledger"
	"github.com/wolfman30/tatamali-wallet/internal/notify"
	"github.com/wolfman30/tatamali-wallet/internal/observability/metrics"
	"github.com/wolfman30/tatamali-wallet/internal/transfer"
	"github.com/wolfman30/tatamali-wallet/internal/wallet"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// AWSLoader resolves the shared AWS configuration. It is only called when a
// selected driver needs AWS.
type AWSLoader func(ctx context.Context) (aws.Config, error)

// Runtime is the wired wallet core shared by the API server, the queue
// worker and the Lambda handler.
type Runtime struct {
	Ledger       ledger.Client
	Dispatcher   *notify.Dispatcher
	Orchestrator *transfer.Orchestrator
	Pipeline     *conversation.Pipeline
	Dedup        events.Deduper
	Queue        inbound.Queue
	Publisher    *inbound.Publisher
	// Audit and Archive are nil when their backing store is not configured.
	Audit   *audit.Service
	Archive *archive.Store
	Redis   *redis.Client
	Pool    *pgxpool.Pool
	DB      *sql.DB

	closers []func()
}

// Build wires every component selected by cfg.
func Build(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, m *metrics.WalletMetrics, loadAWS AWSLoader) (*Runtime, error) {
	if cfg == nil {
		return nil, errors.New("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("bootstrap: invalid config: %w", err)
	}
	maxAmount, err := wallet.ParseAmount(cfg.MaxTransferAmount)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: MAX_TRANSFER_AMOUNT: %w", err)
	}

	rt := &Runtime{}
	ok := false
	defer func() {
		if !ok {
			rt.Close()
		}
	}()

	var awsCfg *aws.Config
	awsConfig := func() (aws.Config, error) {
		if awsCfg != nil {
			return *awsCfg, nil
		}
		if loadAWS == nil {
			return aws.Config{}, errors.New("bootstrap: AWS driver selected but no AWS loader given")
		}
		c, err := loadAWS(ctx)
		if err != nil {
			return aws.Config{}, fmt.Errorf("bootstrap: load aws config: %w", err)
		}
		awsCfg = &c
		return c, nil
	}

	if cfg.SessionStore == "redis" || cfg.DedupStore == "redis" || cfg.TransferVelocityLimit > 0 {
		rt.Redis = BuildRedisClient(ctx, cfg, logger, false)
		if rt.Redis != nil {
			rt.closers = append(rt.closers, func() { _ = rt.Redis.Close() })
		}
	}
	if cfg.DatabaseURL != "" {
		if rt.Pool, err = BuildPostgresPool(ctx, cfg.DatabaseURL, logger); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, rt.Pool.Close)
		if rt.DB, err = BuildSQLDB(cfg.DatabaseURL); err != nil {
			return nil, err
		}
		rt.closers = append(rt.closers, func() { _ = rt.DB.Close() })
		rt.Audit = audit.NewService(rt.DB)
	}

	if rt.Ledger, err = buildLedger(cfg, logger); err != nil {
		return nil, err
	}

	sender, err := whatsapp.NewClient(whatsapp.Config{
		Token:         cfg.WhatsAppToken,
		PhoneNumberID: cfg.WhatsAppPhoneNumberID,
		BaseURL:       cfg.WhatsAppGraphBaseURL,
		APIVersion:    cfg.WhatsAppAPIVersion,
		Logger:        logger,
	})
	if err != nil {
		return nil, err
	}
	rt.Dispatcher = notify.NewDispatcher(sender, logger).
		WithMaxAttempts(cfg.NotifyMaxAttempts).
		WithBaseDelay(cfg.NotifyBackoff).
		WithCurrencySymbol(cfg.CurrencySymbol).
		WithMetrics(m)

	deps := transfer.Deps{
		Ledger:   rt.Ledger,
		Notifier: rt.Dispatcher,
		Metrics:  m,
		Logger:   logger,
	}
	if rt.Pool != nil {
		deps.Journal = transfer.NewPostgresJournal(rt.Pool)
	}
	if rt.Audit != nil {
		deps.Auditor = rt.Audit
	}
	if cfg.TransferVelocityLimit > 0 && rt.Redis != nil {
		deps.Limiter = transfer.NewVelocityChecker(rt.Redis, cfg.TransferVelocityLimit, cfg.TransferVelocityWindow, logger)
	}
	alerter, err := buildAlerter(cfg, logger, awsConfig)
	if err != nil {
		return nil, err
	}
	deps.Alerter = alerter
	rt.Orchestrator = transfer.NewOrchestrator(deps, transfer.Config{
		MaxAmount:      maxAmount,
		NotifyInterval: cfg.BulkNotifyInterval,
	})

	sessions, err := buildSessionStore(cfg, rt.Redis, logger, awsConfig)
	if err != nil {
		return nil, err
	}
	if rt.Dedup, err = rt.buildDeduper(cfg); err != nil {
		return nil, err
	}

	pipelineDeps := conversation.PipelineDeps{
		Store:      sessions,
		Classifier: conversation.NewClassifier(rt.Ledger),
		Engine: conversation.NewEngine(rt.Ledger, conversation.EngineConfig{
			MaxAmount:      maxAmount,
			CurrencySymbol: cfg.CurrencySymbol,
			RegisterURL:    cfg.RegisterURL,
			CallbackURL:    cfg.PublicBaseURL + "/api/v1/registration/callback",
			DownloadURL:    cfg.DownloadURL,
		}, logger),
		Transfers: rt.Orchestrator,
		Coupons:   rt.Ledger,
		Messenger: rt.Dispatcher,
		Metrics:   m,
		Logger:    logger,
	}
	if rt.Audit != nil {
		pipelineDeps.Audit = rt.Audit
	}
	rt.Pipeline = conversation.NewPipeline(pipelineDeps)

	switch cfg.InboundQueue {
	case "sqs":
		c, err := awsConfig()
		if err != nil {
			return nil, err
		}
		rt.Queue = inbound.NewSQSQueue(sqs.NewFromConfig(c), cfg.SQSQueueURL)
	default:
		rt.Queue = inbound.NewMemoryQueue(0)
	}
	rt.Publisher = inbound.NewPublisher(rt.Queue)

	if cfg.WebhookArchiveBucket != "" {
		c, err := awsConfig()
		if err != nil {
			return nil, err
		}
		client := s3.NewFromConfig(c, func(o *s3.Options) {
			o.UsePathStyle = cfg.AWSEndpointOverride != ""
		})
		rt.Archive = archive.NewStore(client, cfg.WebhookArchiveBucket, logger)
	}

	logger.Info("wallet runtime ready",
		"ledger", cfg.LedgerDriver,
		"sessions", cfg.SessionStore,
		"dedup", cfg.DedupStore,
		"queue", cfg.InboundQueue,
		"journal", deps.Journal != nil,
		"audit", rt.Audit != nil,
		"archive", rt.Archive != nil,
	)
	ok = true
	return rt, nil
}

// Close releases connections in reverse order of creation.
func (r *Runtime) Close() {
	if r == nil {
		return
	}
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
	r.closers = nil
}

// ReadinessChecks returns one probe per configured backing store.
func (r *Runtime) ReadinessChecks() map[string]handlers.Check {
	checks := map[string]handlers.Check{}
	if r.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return r.Redis.Ping(ctx).Err() }
	}
	if r.Pool != nil {
		checks["postgres"] = r.Pool.Ping
	}
	return checks
}

func buildLedger(cfg *appconfig.Config, logger *logging.Logger) (ledger.Client, error) {
	if cfg.LedgerDriver == "memory" {
		logger.Warn("using in-memory ledger; balances are not persisted")
		return ledger.NewMemoryLedger(), nil
	}
	client, err := ledger.NewHTTPClient(ledger.Config{
		BaseURL:     cfg.LedgerBaseURL,
		APIToken:    cfg.LedgerAPIToken,
		EmailDomain: cfg.LedgerEmailDomain,
		TokenSymbol: cfg.LedgerTokenSymbol,
		StatusPath:  cfg.LedgerStatusPath,
		Timeout:     cfg.LedgerTimeout,
		MaxRetries:  2,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return client, nil
}

func buildSessionStore(cfg *appconfig.Config, redisClient *redis.Client, logger *logging.Logger, awsConfig func() (aws.Config, error)) (conversation.Store, error) {
	switch cfg.SessionStore {
	case "redis":
		if redisClient == nil {
			return nil, errors.New("bootstrap: SESSION_STORE=redis requires REDIS_ADDR")
		}
		return conversation.NewRedisStore(redisClient, cfg.SessionTTL), nil
	case "dynamodb":
		c, err := awsConfig()
		if err != nil {
			return nil, err
		}
		return conversation.NewDynamoStore(dynamodb.NewFromConfig(c), cfg.SessionsTable, cfg.SessionTTL, logger), nil
	default:
		return conversation.NewMemoryStore(), nil
	}
}

func (r *Runtime) buildDeduper(cfg *appconfig.Config) (events.Deduper, error) {
	switch cfg.DedupStore {
	case "redis":
		if r.Redis == nil {
			return nil, errors.New("bootstrap: DEDUP_STORE=redis requires REDIS_ADDR")
		}
		return events.NewRedisDeduper(r.Redis, cfg.DedupTTL), nil
	case "postgres":
		if r.Pool == nil {
			return nil, errors.New("bootstrap: DEDUP_STORE=postgres requires DATABASE_URL")
		}
		return events.NewProcessedStore(r.Pool), nil
	default:
		cache := events.NewMemoryCache(cfg.DedupTTL, cfg.DedupMaxSize)
		r.closers = append(r.closers, cache.Close)
		return cache, nil
	}
}

// buildAlerter prefers SES, then SendGrid; without either, ambiguous
// transfers are only logged.
func buildAlerter(cfg *appconfig.Config, logger *logging.Logger, awsConfig func() (aws.Config, error)) (*notify.AlertService, error) {
	var sender notify.EmailSender
	switch {
	case cfg.OpsAlertEmail == "":
	case cfg.SESFromEmail != "":
		c, err := awsConfig()
		if err != nil {
			return nil, err
		}
		if ses := notify.NewSESSender(sesv2.NewFromConfig(c), notify.SESConfig{
			FromEmail:        cfg.SESFromEmail,
			FromName:         cfg.AlertFromName,
			ConfigurationSet: cfg.SESConfigSet,
		}, logger); ses != nil {
			sender = ses
		}
	case cfg.SendGridAPIKey != "":
		if sg := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.AlertFromName,
		}, logger); sg != nil {
			sender = sg
		}
	}
	return notify.NewAlertService(sender, cfg.OpsAlertEmail, cfg.CurrencySymbol, logger), nil
}
