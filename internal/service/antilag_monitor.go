package service

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"autopilot/internal/antilag"
	"autopilot/internal/config"
	"autopilot/internal/models"
	"autopilot/internal/proposal"
	"autopilot/internal/repository"
)

// AntiLagMonitor feeds tick samples into the detector and persists detected
// events so the risk gate can consult them.
type AntiLagMonitor struct {
	mu       sync.Mutex
	buffer   *antilag.TickBuffer
	detector *antilag.Detector

	repo      repository.Repository
	logger    *zap.Logger
	retention time.Duration
	now       func() time.Time
}

func NewAntiLagMonitor(repo repository.Repository, cfg config.AntiLagConfig, logger *zap.Logger) *AntiLagMonitor {
	retention := cfg.Retention
	if retention <= 0 {
		retention = 24 * time.Hour
	}
	return &AntiLagMonitor{
		buffer: antilag.NewTickBuffer(cfg.BaselineWindow),
		detector: antilag.New(antilag.Config{
			MinIncreasePct: cfg.MinIncreasePct,
			ConfirmTicks:   cfg.ConfirmTicks,
			BaselineWindow: cfg.BaselineWindow,
			BurstWindow:    cfg.BurstWindow,
		}),
		repo:      repo,
		logger:    logger,
		retention: retention,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Ingest records tick timestamps for a pair and evaluates it. A detected
// surge is persisted and returned; nil means no qualifying surge.
func (s *AntiLagMonitor) Ingest(ctx context.Context, primary, correlated string, primaryTicks, correlatedTicks []time.Time) (*models.AntiLagEvent, error) {
	if primary == "" || correlated == "" {
		return nil, proposal.Validationf("primary and correlated symbols are required")
	}

	s.mu.Lock()
	for _, t := range primaryTicks {
		s.buffer.Add(primary, t)
	}
	for _, t := range correlatedTicks {
		s.buffer.Add(correlated, t)
	}
	res := s.detector.Detect(s.now(), s.buffer.Series(primary), s.buffer.Series(correlated))
	s.mu.Unlock()

	if res == nil {
		return nil, nil
	}

	ev := &models.AntiLagEvent{
		PrimarySymbol:         primary,
		CorrelatedSymbol:      correlated,
		EventType:             models.AntiLagEventType(res.Type),
		PrimaryIncreasePct:    res.PrimaryIncreasePct,
		CorrelatedIncreasePct: res.CorrelatedIncreasePct,
		ConfirmingTicks:       res.ConfirmingTicks,
		Confirmed:             res.Confirmed,
		DetectedAt:            res.DetectedAt,
	}
	if err := s.repo.UpsertAntiLagEvent(ctx, ev); err != nil {
		return nil, err
	}
	if s.logger != nil {
		s.logger.Info("anti-lag event detected",
			zap.String("pair", primary+"/"+correlated),
			zap.String("type", res.Type),
			zap.Bool("confirmed", res.Confirmed))
	}
	return ev, nil
}

func (s *AntiLagMonitor) List(ctx context.Context, params repository.ListAntiLagEventsParams) ([]models.AntiLagEvent, error) {
	return s.repo.ListAntiLagEvents(ctx, params)
}

// Prune drops events older than the retention horizon. Cron entry point.
func (s *AntiLagMonitor) Prune(ctx context.Context) (int64, error) {
	n, err := s.repo.DeleteStaleAntiLagEvents(ctx, s.now().Add(-s.retention))
	if err != nil {
		return 0, err
	}
	if n > 0 && s.logger != nil {
		s.logger.Info("pruned anti-lag events", zap.Int64("count", n))
	}
	return n, nil
}
