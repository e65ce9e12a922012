// Package analysis orchestrates the full device analysis pipeline.
//
// Both the HTTP API and the MQTT ingest consumer delegate to this service,
// eliminating duplicated logic and ensuring consistent behavior (health
// prediction, grading, pricing, recommendation synthesis, persistence)
// across all interfaces.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/loopphones/loop/internal/model"
	"github.com/loopphones/loop/internal/observability"
	"github.com/loopphones/loop/internal/service/grading"
	"github.com/loopphones/loop/internal/service/health"
	"github.com/loopphones/loop/internal/service/pricing"
	"github.com/loopphones/loop/internal/service/recommend"
	"github.com/loopphones/loop/internal/storage"
)

// Defaults used when a device has no telemetry or hardware specs on record.
const (
	defaultBatteryHealth = 85.0
	defaultBatteryCycles = 100
	defaultStorageGB     = 128
	defaultRAMGB         = 6
)

// Store is the persistence surface the orchestrator needs.
type Store interface {
	GetDevice(ctx context.Context, id string) (model.Device, error)
	ListTelemetrySince(ctx context.Context, deviceID string, since time.Time, limit int) ([]model.TelemetrySnapshot, error)
	ListRecentTelemetry(ctx context.Context, deviceID string, limit int) ([]model.TelemetrySnapshot, error)
	InsertTelemetry(ctx context.Context, s model.TelemetrySnapshot) (model.TelemetrySnapshot, error)
	InsertGrading(ctx context.Context, deviceID string, g model.GradingResult) (model.GradingResult, error)
	LatestGrading(ctx context.Context, deviceID string) (model.GradingResult, error)
	InsertPriceEstimate(ctx context.Context, deviceID string, p model.PriceEstimate) (model.PriceEstimate, error)
}

// Options selects which analysis stages run. Grading and pricing default to
// on at the API layer; the zero value here means "skip".
type Options struct {
	IncludeGrading bool
	IncludePricing bool
	ImageURLs      []string
}

// Service encapsulates the analysis pipeline shared by HTTP and MQTT handlers.
type Service struct {
	store     Store
	predictor health.Predictor
	grader    *grading.Engine
	pricer    *pricing.Engine
	logger    *slog.Logger

	windowDays    int
	snapshotLimit int

	analysisDuration metric.Float64Histogram
}

// New creates an analysis Service. windowDays bounds how far back telemetry
// feeds the health predictor; snapshotLimit caps how many snapshots are
// loaded per analysis.
func New(store Store, predictor health.Predictor, grader *grading.Engine, pricer *pricing.Engine, windowDays, snapshotLimit int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	meter := observability.Meter("loop/analysis")
	dur, _ := meter.Float64Histogram("loop.analysis.duration",
		metric.WithDescription("Time to run a full device analysis (ms)"),
		metric.WithUnit("ms"),
	)
	return &Service{
		store:            store,
		predictor:        predictor,
		grader:           grader,
		pricer:           pricer,
		logger:           logger,
		windowDays:       windowDays,
		snapshotLimit:    snapshotLimit,
		analysisDuration: dur,
	}
}

// Analyze runs the full pipeline for one device: health prediction over the
// telemetry window, optional grading and pricing, and recommendation
// synthesis. An unknown device is terminal (storage.ErrNotFound); failures
// in individual stages degrade to defaults rather than failing the report.
func (s *Service) Analyze(ctx context.Context, deviceID string, opts Options) (model.AnalysisReport, error) {
	start := time.Now()

	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("loop.device_id", deviceID),
		attribute.Bool("loop.include_grading", opts.IncludeGrading),
		attribute.Bool("loop.include_pricing", opts.IncludePricing),
	)

	device, err := s.store.GetDevice(ctx, deviceID)
	if err != nil {
		return model.AnalysisReport{}, fmt.Errorf("analysis: get device: %w", err)
	}

	now := time.Now().UTC()
	since := now.AddDate(0, 0, -s.windowDays)
	history, err := s.store.ListTelemetrySince(ctx, deviceID, since, s.snapshotLimit)
	if err != nil {
		return model.AnalysisReport{}, fmt.Errorf("analysis: load telemetry: %w", err)
	}

	// Health prediction and grading are independent; run them concurrently.
	// Both degrade to a default on failure, so the group never aborts.
	var (
		prediction  model.HealthPrediction
		gradeResult *model.GradingResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p, err := s.predictor.Predict(gctx, history)
		if err != nil {
			s.logger.Warn("analysis: health prediction failed, using default", "device_id", deviceID, "error", err)
			p = health.DefaultPrediction()
		}
		prediction = p
		return nil
	})
	if opts.IncludeGrading {
		g.Go(func() error {
			gr := s.gradeDevice(gctx, deviceID, opts.ImageURLs)
			gradeResult = &gr
			return nil
		})
	}
	_ = g.Wait()

	var price *model.PriceEstimate
	if opts.IncludePricing {
		est := s.priceDevice(ctx, device, history, gradeResult, now)
		price = &est
	}

	recs := recommend.Synthesize(prediction, gradeResult, price)

	report := model.AnalysisReport{
		DeviceID:  deviceID,
		Timestamp: now,
		DeviceInfo: model.DeviceInfo{
			Model:        device.Model,
			Manufacturer: device.Manufacturer,
			AgeDays:      device.AgeDays(now),
			Status:       device.Status,
		},
		HealthPrediction: prediction,
		Grading:          gradeResult,
		PriceEstimate:    price,
		Recommendations:  recs,
	}

	s.analysisDuration.Record(ctx, float64(time.Since(start).Milliseconds()))
	s.logger.Info("analysis: completed",
		"device_id", deviceID,
		"rul_days", prediction.PredictedRULDays,
		"primary_action", recs.PrimaryAction,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return report, nil
}

// gradeDevice produces the grading stage result. Fresh images run the
// detector and persist the result; without images the latest stored grading
// is reused, and a device never graded gets the neutral default.
func (s *Service) gradeDevice(ctx context.Context, deviceID string, imageURLs []string) model.GradingResult {
	if len(imageURLs) > 0 {
		gr, err := s.grader.Grade(ctx, imageURLs)
		if err != nil {
			s.logger.Warn("analysis: grading failed, falling back to stored result", "device_id", deviceID, "error", err)
			return s.storedOrDefaultGrading(ctx, deviceID)
		}
		stored, err := s.store.InsertGrading(ctx, deviceID, gr)
		if err != nil {
			s.logger.Warn("analysis: persist grading failed", "device_id", deviceID, "error", err)
			return gr
		}
		return stored
	}
	return s.storedOrDefaultGrading(ctx, deviceID)
}

func (s *Service) storedOrDefaultGrading(ctx context.Context, deviceID string) model.GradingResult {
	gr, err := s.store.LatestGrading(ctx, deviceID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Warn("analysis: load stored grading failed", "device_id", deviceID, "error", err)
		}
		return grading.DefaultResult()
	}
	return gr
}

// priceDevice builds the pricing feature vector from the device record,
// latest telemetry, and grading, then persists the estimate. Persistence
// failure downgrades to a warning; the estimate is still reported.
func (s *Service) priceDevice(ctx context.Context, device model.Device, history []model.TelemetrySnapshot, gradeResult *model.GradingResult, now time.Time) model.PriceEstimate {
	in := pricing.Input{
		DeviceModel:   device.Model,
		Manufacturer:  device.Manufacturer,
		AgeDays:       device.AgeDays(now),
		StorageGB:     defaultStorageGB,
		RAMGB:         defaultRAMGB,
		BatteryHealth: defaultBatteryHealth,
		BatteryCycles: defaultBatteryCycles,
		GradeScore:    model.GradeScore(model.GradeGood),
		OriginalPrice: device.OriginalPrice,
	}
	if device.StorageGB != nil {
		in.StorageGB = *device.StorageGB
	}
	if device.RAMGB != nil {
		in.RAMGB = *device.RAMGB
	}
	if len(history) > 0 {
		latest := history[len(history)-1]
		in.BatteryHealth = latest.BatteryHealthPct
		in.BatteryCycles = latest.BatteryCycleCount
	}
	if gradeResult != nil {
		in.GradeScore = model.GradeScore(gradeResult.Grade)
		in.ScreenDamageScore = gradeResult.ScreenDamage()
		in.BodyDamageScore = gradeResult.BodyDamage()
	}

	est := s.pricer.Estimate(in)
	stored, err := s.store.InsertPriceEstimate(ctx, device.ID, est)
	if err != nil {
		s.logger.Warn("analysis: persist price estimate failed", "device_id", device.ID, "error", err)
		return est
	}
	return stored
}

// IngestSnapshot stores one telemetry snapshot annotated with a fresh health
// prediction over the device's recent history. The HTTP ingest endpoint and
// the MQTT consumer both route through here.
func (s *Service) IngestSnapshot(ctx context.Context, snap model.TelemetrySnapshot) (model.TelemetrySnapshot, error) {
	if _, err := s.store.GetDevice(ctx, snap.DeviceID); err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("analysis: get device: %w", err)
	}

	recent, err := s.store.ListRecentTelemetry(ctx, snap.DeviceID, s.snapshotLimit)
	if err != nil {
		s.logger.Warn("analysis: load recent telemetry failed, predicting from single snapshot", "device_id", snap.DeviceID, "error", err)
		recent = nil
	}

	// Recent telemetry comes back newest first; the predictor wants
	// chronological order with the new snapshot last.
	history := make([]model.TelemetrySnapshot, 0, len(recent)+1)
	for i := len(recent) - 1; i >= 0; i-- {
		history = append(history, recent[i])
	}
	history = append(history, snap)

	prediction, err := s.predictor.Predict(ctx, history)
	if err != nil {
		s.logger.Warn("analysis: ingest prediction failed, using default", "device_id", snap.DeviceID, "error", err)
		prediction = health.DefaultPrediction()
	}
	snap.PredictedRULDays = &prediction.PredictedRULDays
	snap.FailureProbability = &prediction.FailureProbability

	stored, err := s.store.InsertTelemetry(ctx, snap)
	if err != nil {
		return model.TelemetrySnapshot{}, fmt.Errorf("analysis: insert telemetry: %w", err)
	}
	return stored, nil
}
