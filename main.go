package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	alarmapp "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/application"
	alarms "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/domain"
	alarmmemory "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/infrastructure/memory"
	alarmredis "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/infrastructure/redis"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/infrastructure/rulefile"
	alarmhttp "github.com/Viniciusjohn/cnc-telemetry/internal/alarms/interfaces/http"
	"github.com/Viniciusjohn/cnc-telemetry/internal/alarms/notify"
	analyticsapp "github.com/Viniciusjohn/cnc-telemetry/internal/analytics/application"
	analyticsinterfaces "github.com/Viniciusjohn/cnc-telemetry/internal/analytics/interfaces"
	oeeapp "github.com/Viniciusjohn/cnc-telemetry/internal/oee/application"
	oeehttp "github.com/Viniciusjohn/cnc-telemetry/internal/oee/interfaces/http"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/health"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/metrics"
	"github.com/Viniciusjohn/cnc-telemetry/internal/observability/tracing"
	telemetryapp "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/application"
	telemetry "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/domain"
	samplememory "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/infrastructure/memory"
	telemetrypostgres "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/infrastructure/postgres"
	"github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/interfaces/collector"
	telemetryhttp "github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/interfaces/http"
	"github.com/Viniciusjohn/cnc-telemetry/internal/telemetry/livestatus"
)

const serviceName = "cnc-telemetry"

// sampleStore is the full store surface main wires into services.
type sampleStore interface {
	telemetry.SampleReader
	telemetry.SampleWriter
	telemetry.BucketWriter
}

type pgStore struct {
	*telemetrypostgres.SampleQuery
	*telemetrypostgres.SampleRepository
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("config: .env load error: %v", err)
	}
	cfg := loadConfig()
	logger := log.New(os.Stdout, "", log.LstdFlags)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := tracing.Setup(ctx, cfg.OTLPEndpoint, serviceName, logger)
	if err != nil {
		logger.Fatalf("tracing setup error: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	var (
		db    *sql.DB
		store sampleStore
	)
	if cfg.DatabaseURL != "" {
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			logger.Fatalf("db open error: %v", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			logger.Fatalf("db ping error: %v", err)
		}
		store = pgStore{
			SampleQuery:      telemetrypostgres.NewSampleQuery(db),
			SampleRepository: telemetrypostgres.NewSampleRepository(db),
		}
	} else {
		logger.Printf("storage: DATABASE_URL not set, using in-memory sample store")
		store = samplememory.NewStore()
	}
	metrics.Init(db, logger)

	workers := health.NewRegistry(nil)
	statusCache := livestatus.NewCache()

	// telemetry
	ingestService, err := telemetryapp.NewIngestService(store, statusCache, logger)
	if err != nil {
		logger.Fatalf("ingest service error: %v", err)
	}
	ingestHandler, err := telemetryhttp.NewIngestHandler(ingestService, logger)
	if err != nil {
		logger.Fatalf("ingest handler error: %v", err)
	}
	historyService, err := telemetryapp.NewHistoryService(store,
		telemetryapp.WithHistoryLogger(logger),
		telemetryapp.WithSampleInterval(cfg.SampleInterval),
	)
	if err != nil {
		logger.Fatalf("history service error: %v", err)
	}

	// oee
	calculator, err := oeeapp.NewCalculator(store,
		oeeapp.WithProgrammedRPM(cfg.ProgrammedRPM),
		oeeapp.WithSampleInterval(cfg.SampleInterval),
		oeeapp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("oee calculator error: %v", err)
	}
	oeeHandler, err := oeehttp.NewHandler(calculator, logger)
	if err != nil {
		logger.Fatalf("oee handler error: %v", err)
	}
	machinesHandler, err := telemetryhttp.NewMachinesHandler(historyService, statusCache,
		telemetryhttp.WithMachineRoute("oee", oeeHandler),
		telemetryhttp.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("machines handler error: %v", err)
	}

	// alerts
	var dedup alarms.DedupStore
	if cfg.RedisURL != "" {
		client, err := alarmredis.NewClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Fatalf("redis connect error: %v", err)
		}
		defer client.Close()
		dedup, err = alarmredis.NewDedupStore(client, "")
		if err != nil {
			logger.Fatalf("redis dedup store error: %v", err)
		}
	} else {
		logger.Printf("alarms: REDIS_URL not set, using in-memory dedup store")
		dedup = alarmmemory.NewDedupStore(nil)
	}
	alertBroker := alarmhttp.NewSSEBroker()
	dispatcherOpts := []notify.DispatcherOption{notify.WithLogger(logger)}
	if cfg.WebhookSigningKey != "" {
		dispatcherOpts = append(dispatcherOpts, notify.WithWebhookSigningKey([]byte(cfg.WebhookSigningKey)))
	}
	engine, err := alarmapp.NewEngine(
		rulefile.NewLoader(cfg.AlertsConfig, logger),
		store,
		dedup,
		notify.NewDispatcher(dispatcherOpts...),
		alarmapp.WithNotifier(alarmapp.NewMultiNotifier(alertBroker)),
		alarmapp.WithLogger(logger),
		alarmapp.WithActiveWindow(cfg.AlertActiveWindow),
		alarmapp.WithSampleInterval(cfg.SampleInterval),
		alarmapp.WithDispatchTimeout(cfg.AlertDispatchTimeout),
	)
	if err != nil {
		logger.Fatalf("alert engine error: %v", err)
	}
	alertHandler, err := alarmhttp.NewHandler(engine, logger)
	if err != nil {
		logger.Fatalf("alert handler error: %v", err)
	}
	workers.Register(alarmapp.WorkerName, cfg.AlertInterval > 0)
	if cfg.AlertInterval > 0 {
		go alarmapp.NewScheduler(engine, cfg.AlertInterval, workers, logger).Start(ctx)
	}

	// rollups
	rollupService, err := analyticsapp.NewRollupService(store, store, logger)
	if err != nil {
		logger.Fatalf("rollup service error: %v", err)
	}
	windowCloseHandler, err := analyticsinterfaces.NewWindowCloseHandler(rollupService, logger)
	if err != nil {
		logger.Fatalf("window close handler error: %v", err)
	}
	workers.Register(analyticsapp.RollupWorkerName, cfg.RollupEnabled)
	if cfg.RollupEnabled {
		go analyticsapp.NewRollupScheduler(rollupService, cfg.RollupInterval, analyticsapp.DefaultRollupLag, nil, workers, logger).Start(ctx)
	}

	// collector
	if stopCollector := startCollector(ctx, cfg, ingestService, workers, logger); stopCollector != nil {
		defer stopCollector()
	}

	mux := http.NewServeMux()
	mux.Handle("/v1/telemetry/ingest", ingestHandler)
	mux.Handle("/v1/machines", machinesHandler)
	mux.Handle("/v1/machines/", machinesHandler)
	mux.Handle("/v1/alerts/rules", alertHandler)
	mux.Handle("/v1/alerts/evaluate", alertHandler)
	mux.Handle("/v1/alerts/stream", alarmhttp.NewStreamHandler(alertBroker))
	mux.Handle("/v1/rollups/close", windowCloseHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthzHandler(workers, db != nil, cfg.RedisURL != ""))

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(mux, logger),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	logger.Printf("http listening on %s", cfg.HTTPAddr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal(err)
	}
}

// startCollector launches the configured collector and returns its stop hook.
func startCollector(ctx context.Context, cfg config, ingest collector.Ingester, workers *health.Registry, logger *log.Logger) func() {
	var (
		source collector.Source
		stop   func()
	)
	switch cfg.CollectorMode {
	case "simulator":
		sim, err := collector.NewSimulator(cfg.CollectorMachineID, nil)
		if err != nil {
			logger.Fatalf("collector simulator error: %v", err)
		}
		source = sim
	case "opcua":
		opc, err := collector.NewOPCUASource(collector.OPCUAConfig{
			Endpoint:       cfg.OPCUA.Endpoint,
			Username:       cfg.OPCUA.Username,
			Password:       cfg.OPCUA.Password,
			SecurityMode:   cfg.OPCUA.SecurityMode,
			SecurityPolicy: cfg.OPCUA.SecurityPolicy,
			MachineID:      cfg.CollectorMachineID,
			RPMNode:        cfg.OPCUA.RPMNode,
			FeedNode:       cfg.OPCUA.FeedNode,
			StateNode:      cfg.OPCUA.StateNode,
		}, nil, logger)
		if err != nil {
			logger.Fatalf("collector opcua config error: %v", err)
		}
		if err := opc.Start(ctx); err != nil {
			logger.Fatalf("collector opcua start error: %v", err)
		}
		source = opc
		stop = func() {
			if err := opc.Stop(); err != nil {
				logger.Printf("collector: opcua stop error: %v", err)
			}
		}
	default:
		workers.Register(collector.WorkerName, false)
		return nil
	}

	worker, err := collector.NewWorker(cfg.CollectorMode, source, ingest,
		collector.WithInterval(cfg.CollectorInterval),
		collector.WithHealth(workers),
		collector.WithLogger(logger),
	)
	if err != nil {
		logger.Fatalf("collector worker error: %v", err)
	}
	workers.Register(collector.WorkerName, true)
	go worker.Start(ctx)
	logger.Printf("collector: started: mode=%s machine=%s interval=%s", cfg.CollectorMode, cfg.CollectorMachineID, cfg.CollectorInterval)
	return stop
}

func healthzHandler(workers *health.Registry, postgres, redis bool) http.HandlerFunc {
	storage := "memory"
	if postgres {
		storage = "postgres"
	}
	dedup := "memory"
	if redis {
		dedup = "redis"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-store")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"service":   serviceName,
			"storage":   storage,
			"dedup":     dedup,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"workers":   workers.List(),
		})
	}
}

type opcuaConfig struct {
	Endpoint       string
	Username       string
	Password       string
	SecurityMode   string
	SecurityPolicy string
	RPMNode        string
	FeedNode       string
	StateNode      string
}

type config struct {
	DatabaseURL          string
	HTTPAddr             string
	RedisURL             string
	OTLPEndpoint         string
	SampleInterval       time.Duration
	ProgrammedRPM        float64
	AlertsConfig         string
	AlertInterval        time.Duration
	AlertActiveWindow    time.Duration
	AlertDispatchTimeout time.Duration
	WebhookSigningKey    string
	CollectorMode        string
	CollectorMachineID   string
	CollectorInterval    time.Duration
	RollupEnabled        bool
	RollupInterval       time.Duration
	OPCUA                opcuaConfig
}

func loadConfig() config {
	sampleSeconds := getenvFloatDefault("SAMPLE_INTERVAL_SEC", 2)
	if sampleSeconds < 0.1 {
		sampleSeconds = 0.1
	}
	cfg := config{
		DatabaseURL:          getenvDefault("DATABASE_URL", getenvDefault("PG_DSN", "")),
		HTTPAddr:             getenvDefault("HTTP_ADDR", ":8000"),
		RedisURL:             getenvDefault("REDIS_URL", ""),
		OTLPEndpoint:         getenvDefault("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		SampleInterval:       time.Duration(sampleSeconds * float64(time.Second)),
		ProgrammedRPM:        getenvFloatDefault("PROGRAMMED_RPM", 4500),
		AlertsConfig:         getenvDefault("ALERTS_CONFIG", rulefile.DefaultPath),
		AlertInterval:        getenvDuration("ALERT_INTERVAL", alarmapp.DefaultCycleInterval),
		AlertActiveWindow:    getenvDuration("ALERT_ACTIVE_WINDOW", alarmapp.DefaultActiveWindow),
		AlertDispatchTimeout: getenvDuration("ALERT_DISPATCH_TIMEOUT", alarmapp.DefaultDispatchTimeout),
		WebhookSigningKey:    getenvDefault("ALERT_WEBHOOK_SIGNING_KEY", ""),
		CollectorMode:        strings.ToLower(getenvDefault("COLLECTOR_MODE", "off")),
		CollectorMachineID:   getenvDefault("COLLECTOR_MACHINE_ID", "CNC-SIM-001"),
		CollectorInterval:    getenvDuration("COLLECTOR_INTERVAL", collector.DefaultInterval),
		RollupEnabled:        getenvBool("ROLLUP_ENABLED", true),
		RollupInterval:       getenvDuration("ROLLUP_INTERVAL", analyticsapp.DefaultRollupInterval),
		OPCUA: opcuaConfig{
			Endpoint:       getenvDefault("OPCUA_ENDPOINT", ""),
			Username:       getenvDefault("OPCUA_USERNAME", ""),
			Password:       getenvDefault("OPCUA_PASSWORD", ""),
			SecurityMode:   getenvDefault("OPCUA_SECURITY_MODE", "None"),
			SecurityPolicy: getenvDefault("OPCUA_SECURITY_POLICY", "None"),
			RPMNode:        getenvDefault("OPCUA_NODE_RPM", ""),
			FeedNode:       getenvDefault("OPCUA_NODE_FEED", ""),
			StateNode:      getenvDefault("OPCUA_NODE_STATE", ""),
		},
	}
	switch cfg.CollectorMode {
	case "off", "simulator", "opcua":
	default:
		log.Fatalf("COLLECTOR_MODE must be off, simulator or opcua, got %q", cfg.CollectorMode)
	}
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func loggingMiddleware(next http.Handler, logger *log.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		logger.Printf("http %s %s %d %s request_id=%s", r.Method, r.URL.Path, resp.status, time.Since(start), requestID)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Flush keeps server-sent event streams working through the middleware.
func (w *statusWriter) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}
