// Package loop is the public API for embedding the loop analysis server.
//
// Operators who want the server as a library rather than the loopd binary
// construct and run it like this:
//
//	app, err := loop.New(
//	    loop.WithVersion(version),
//	    loop.WithLogger(logger),
//	    loop.WithDetector(myCVDetector),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: loop (root) imports
// internal/*, but internal/* never imports loop (root). Public extension
// types (Detector, DefectCounts) are standalone; the adapters that bridge
// them to internal interfaces live here because this is the only file that
// sees both sides of the boundary.
package loop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/loopphones/loop/internal/auth"
	"github.com/loopphones/loop/internal/config"
	"github.com/loopphones/loop/internal/ingest"
	"github.com/loopphones/loop/internal/ledger"
	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/observability"
	"github.com/loopphones/loop/internal/ratelimit"
	"github.com/loopphones/loop/internal/server"
	"github.com/loopphones/loop/internal/service/analysis"
	"github.com/loopphones/loop/internal/service/grading"
	"github.com/loopphones/loop/internal/service/health"
	"github.com/loopphones/loop/internal/service/lifecycle"
	"github.com/loopphones/loop/internal/service/pricing"
	"github.com/loopphones/loop/internal/storage"
	"github.com/loopphones/loop/migrations"
)

// DefectCounts is the per-class defect tally reported by an external damage
// detector.
type DefectCounts struct {
	ScreenScratches int
	ScreenCracks    int
	BodyScratches   int
	BodyDents       int
	Confidence      float64 // detector self-reported confidence, 0-1
}

// Detector replaces the built-in synthetic damage detector with a real CV
// backend. Implementations receive the image URLs submitted for grading and
// return defect counts per class.
type Detector interface {
	Detect(ctx context.Context, imageURLs []string) (DefectCounts, error)
}

// App is the loop server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg          config.Config
	db           *storage.DB
	srv          *server.Server
	consumer     *ingest.Consumer // nil when MQTT ingestion is disabled
	limiter      *ratelimit.Limiter
	otelShutdown observability.Shutdown
	logger       *slog.Logger
	version      string
}

// New initialises the loop server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept connections — call Run().
func New(opts ...Option) (*App, error) {
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.brokerURL != "" {
		cfg.MQTTBrokerURL = o.brokerURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("loop starting", "version", version, "port", cfg.Port)

	otelShutdown, err := observability.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("observability: %w", err)
	}

	db, err := storage.New(context.Background(), cfg.DatabaseURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("migrations: %w", err)
	}

	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, cfg.JWTExpiration)
	if err != nil {
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("auth: %w", err)
	}

	// Damage detector — external override takes priority over the built-in
	// synthetic one.
	var detector grading.Detector
	if o.detector != nil {
		detector = &detectorAdapter{d: o.detector}
		logger.Info("damage detector: external")
	} else {
		detector = grading.NewSyntheticDetector(nil)
		logger.Info("damage detector: synthetic (no CV backend configured)")
	}

	grader := grading.NewEngine(detector, logger)
	pricer := pricing.NewEngine(rand.New(rand.NewSource(rand.Int63())))
	analysisSvc := analysis.New(db, health.NewHeuristic(), grader, pricer,
		cfg.TelemetryWindowDays, cfg.TelemetrySnapshots, logger)

	recorder := ledger.NewDevnetRecorder(cfg.LedgerNetwork, logger)
	tracker := lifecycle.NewTracker(db, db, recorder, logger)
	logger.Info("ledger recorder: devnet simulation", "network", cfg.LedgerNetwork)

	var limiter *ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.New(logger)
		logger.Info("rate limiting: in-memory fixed window",
			"auth", cfg.AuthRateLimit, "ingest", cfg.IngestRateLimit, "api", cfg.APIRateLimit)
	} else {
		logger.Info("rate limiting: disabled")
	}

	srv := server.New(server.ServerConfig{
		DB:                  db,
		JWTMgr:              jwtMgr,
		AnalysisSvc:         analysisSvc,
		Grader:              grader,
		Tracker:             tracker,
		Logger:              logger,
		Limiter:             limiter,
		AuthRateLimit:       cfg.AuthRateLimit,
		IngestRateLimit:     cfg.IngestRateLimit,
		APIRateLimit:        cfg.APIRateLimit,
		Port:                cfg.Port,
		ReadTimeout:         cfg.ReadTimeout,
		WriteTimeout:        cfg.WriteTimeout,
		Version:             version,
		MaxRequestBodyBytes: cfg.MaxRequestBodyBytes,
		MQTTEnabled:         cfg.MQTTBrokerURL != "",
	})

	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminClientID, cfg.AdminAPIKey); err != nil {
		if limiter != nil {
			limiter.Close()
		}
		db.Close()
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("admin seed: %w", err)
	}

	// MQTT consumer (optional — disabled when no broker URL is configured).
	var consumer *ingest.Consumer
	if cfg.MQTTBrokerURL != "" {
		consumer, err = ingest.NewConsumer(ingest.Config{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topic:     cfg.MQTTTopic,
		}, analysisSvc, logger)
		if err != nil {
			if limiter != nil {
				limiter.Close()
			}
			db.Close()
			_ = otelShutdown(context.Background())
			return nil, fmt.Errorf("ingest: %w", err)
		}
	} else {
		logger.Info("mqtt ingestion: disabled (no LOOP_MQTT_BROKER_URL)")
	}

	return &App{
		cfg:          cfg,
		db:           db,
		srv:          srv,
		consumer:     consumer,
		limiter:      limiter,
		otelShutdown: otelShutdown,
		logger:       logger,
		version:      version,
	}, nil
}

// Run subscribes the MQTT consumer (when configured) and serves HTTP until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown has
// been called — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	if a.consumer != nil {
		if err := a.consumer.Start(); err != nil {
			_ = a.Shutdown(context.Background())
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.Shutdown(context.Background())
	})
	return g.Wait()
}

// Shutdown drains in-flight HTTP requests, disconnects the MQTT consumer,
// then closes the limiter, database pool, and OTEL providers.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("loop shutting down")

	httpCtx, cancel := context.WithTimeout(ctx, a.cfg.WriteTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	cancel()

	if a.consumer != nil {
		a.consumer.Close()
	}
	if a.limiter != nil {
		a.limiter.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close()

	a.logger.Info("loop stopped")
	return nil
}

// detectorAdapter wraps a public Detector to satisfy grading.Detector.
// Converts the flat count struct to the per-class detection set at the
// boundary.
type detectorAdapter struct {
	d Detector
}

func (a *detectorAdapter) Detect(ctx context.Context, imageURLs []string) (model.DetectionSet, error) {
	counts, err := a.d.Detect(ctx, imageURLs)
	if err != nil {
		return nil, err
	}
	conf := counts.Confidence
	if conf <= 0 || conf > 1 {
		conf = 0.9
	}
	return model.DetectionSet{
		model.DefectScreenScratches: model.Detection{Count: counts.ScreenScratches, Confidence: conf},
		model.DefectScreenCracks:    model.Detection{Count: counts.ScreenCracks, Confidence: conf},
		model.DefectBodyScratches:   model.Detection{Count: counts.BodyScratches, Confidence: conf},
		model.DefectBodyDents:       model.Detection{Count: counts.BodyDents, Confidence: conf},
	}, nil
}
