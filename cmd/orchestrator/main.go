// Command orchestrator is the process entry point: it loads
// configuration, wires every store/gateway/subgraph into a pkg/engine.Engine,
// and serves the HTTP ingress and Prometheus metrics endpoints until
// signaled to shut down.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/pbrandaoquorum/whatsapp-orchestrator/internal/config"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/audit"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/backend"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/bootstrap"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/engine"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/fiscal"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/ingress"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/llm"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/metrics"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/router"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/auxiliar"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/clinico"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/escala"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/finalizar"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/subgraph/operacional"
	pgstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/postgres"
	redisstore "github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/store/redis"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/symptoms"
	"github.com/pbrandaoquorum/whatsapp-orchestrator/pkg/webhook"
)

const (
	bufferTTL      = 24 * time.Hour
	idempotencyTTL = 10 * time.Minute
)

func main() {
	configPath := os.Getenv("ORCHESTRATOR_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	log := newLogger(cfg.Logging)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := sqlx.Connect("pgx", cfg.Store.PostgresDSN)
	if err != nil {
		log.WithError(err).Fatal("failed to connect to postgres")
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Store.RedisAddr, DB: cfg.Store.RedisDB})
	defer redisClient.Close()

	metricsRegistry := prometheus.NewRegistry()

	eng, err := buildEngine(ctx, cfg, db, redisClient, metricsRegistry, log)
	if err != nil {
		log.WithError(err).Fatal("failed to build engine")
	}
	defer eng.Audit.Stop(context.Background())

	templateFired := &ingress.TemplateFiredHandler{
		Sessions: eng.Sessions,
		Locks:    eng.Locks,
		Log:      log,
	}

	httpHandler, err := ingress.NewRouter(&ingress.Router{
		Engine:        eng,
		TemplateFired: templateFired,
		Readiness: []ingress.Pinger{
			func(ctx context.Context) error { return db.PingContext(ctx) },
			func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		Log: log,
	})
	if err != nil {
		log.WithError(err).Fatal("failed to build ingress router")
	}

	webhookSrv := &http.Server{Addr: ":" + cfg.Server.WebhookPort, Handler: httpHandler}
	metricsSrv := &http.Server{Addr: ":" + cfg.Server.MetricsPort, Handler: metrics.Handler(metricsRegistry)}

	go func() {
		log.WithField("port", cfg.Server.WebhookPort).Info("webhook server listening")
		if err := webhookSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("webhook server stopped")
		}
	}()
	go func() {
		log.WithField("port", cfg.Server.MetricsPort).Info("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("metrics server stopped")
		}
	}()

	if cfg.ConfigWatch {
		if _, err := config.Watch(configPath, func(*config.Config) {
			log.Info("configuration file changed and validated; running components keep the configuration loaded at startup")
		}, func(err error) {
			log.WithError(err).Warn("config reload failed")
		}); err != nil {
			log.WithError(err).Warn("failed to start config watcher")
		}
	}

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = webhookSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}

func newLogger(cfg config.LoggingConfig) *logrus.Logger {
	log := logrus.New()
	if level, err := logrus.ParseLevel(cfg.Level); err == nil {
		log.SetLevel(level)
	}
	if cfg.Format == "text" {
		log.SetFormatter(&logrus.TextFormatter{})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{})
	}
	return log
}

// buildEngine constructs every collaborator pkg/engine.Engine needs.
func buildEngine(ctx context.Context, cfg *config.Config, db *sqlx.DB, redisClient *redis.Client, metricsRegistry *prometheus.Registry, log *logrus.Logger) (*engine.Engine, error) {
	gateway, err := llm.NewClient(ctx, llm.Config{
		Provider:         cfg.LLM.Provider,
		OpenAIAPIKey:     cfg.LLM.OpenAIAPIKey,
		AnthropicAPIKey:  cfg.LLM.AnthropicAPIKey,
		AWSRegion:        cfg.LLM.AWSRegion,
		BedrockModelID:   cfg.LLM.BedrockModelID,
		IntentModel:      cfg.LLM.IntentModel,
		ExtractorModel:   cfg.LLM.ExtractorModel,
		MaxMalformedJSON: cfg.LLM.MaxMalformedJSON,
	}, log)
	if err != nil {
		return nil, err
	}

	adapter := backend.NewAdapter(backend.Endpoints{
		GetScheduleStarted:     cfg.Backend.GetScheduleStarted,
		UpdateWorkScheduleResp: cfg.Backend.UpdateWorkScheduleResp,
		UpdateClinicalData:     cfg.Backend.UpdateClinicalData,
		UpdateReportSummary:    cfg.Backend.UpdateReportSummary,
		GetNoteReport:          cfg.Backend.GetNoteReport,
	}, cfg.Backend.Timeout, cfg.Backend.MaxRetries, cfg.CircuitBreaker.FailureThreshold, cfg.CircuitBreaker.Cooldown, log)

	webhookClient := webhook.NewClient(cfg.Webhook.URL, log)

	sessions := pgstore.NewSessionStore(db, log)
	pendingActions := pgstore.NewPendingActionStore(db, log)
	auditStore := pgstore.NewAuditStore(db)

	locks := redisstore.NewLockStore(redisClient, log)
	idempotency := redisstore.NewIdempotencyStore(redisClient, idempotencyTTL, log)
	buffer := redisstore.NewBufferStore(redisClient, bufferTTL, log)

	hydrator := bootstrap.NewHydrator(adapter, log)

	consolidator, err := fiscal.New(gateway, log)
	if err != nil {
		return nil, err
	}

	auditWriter := audit.NewWriter(auditStore, log)

	symptomMatcher := buildSymptomMatcher(ctx, cfg.Store.PostgresDSN, log)

	escalaHandler := escala.NewHandler(adapter, hydrator, gateway.ConfirmationClassify)
	clinicoHandler := clinico.NewHandler(adapter, webhookClient, gateway, symptomMatcher)
	operacionalHandler := operacional.NewHandler(webhookClient, gateway)
	finalizarHandler := finalizar.NewHandler(adapter, webhookClient, gateway)
	auxiliarHandler := auxiliar.NewHandler()

	return &engine.Engine{
		Sessions:      sessions,
		PendingAction: pendingActions,
		Locks:         locks,
		Idempotency:   idempotency,
		Buffer:        buffer,
		Gateway:       gateway,
		Bootstrapper:  hydrator,
		Consolidator:  consolidator,
		Audit:         auditWriter,
		Metrics:       metrics.NewRegistry(metricsRegistry),
		Subgraphs: map[router.Subgraph]subgraph.Handler{
			router.SubgraphEscala:      escalaHandler,
			router.SubgraphClinico:     clinicoHandler,
			router.SubgraphOperacional: operacionalHandler,
			router.SubgraphFinalizar:   finalizarHandler,
			router.SubgraphAuxiliar:    auxiliarHandler,
		},
		Log: log,
	}, nil
}

// buildSymptomMatcher connects a pgvector-backed symptom table on a
// best-effort basis: a connection failure here only disables the
// optional enrichment, per pkg/symptoms' "optional collaborator"
// contract — it never blocks process startup.
func buildSymptomMatcher(ctx context.Context, dsn string, log *logrus.Logger) *symptoms.Matcher {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		log.WithError(err).Warn("symptom vector pool unavailable, enrichment disabled")
		return symptoms.NewMatcher(nil, symptoms.NewBagOfWordsEmbedder(0), symptoms.DefaultThreshold, log)
	}
	return symptoms.NewMatcher(pool, symptoms.NewBagOfWordsEmbedder(0), symptoms.DefaultThreshold, log)
}
