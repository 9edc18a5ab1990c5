package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/config"
	"github.com/Dan9191/tsf-backend/internal/metrics"
	"github.com/Dan9191/tsf-backend/internal/models"
)

// Repository is the storage the service reads series and metadata from
type Repository interface {
	DailySeries(ctx context.Context, parameter, agg string, filters models.SeriesFilters) (models.DailySeries, error)
	Targets(ctx context.Context) ([]string, error)
	FilterValues(ctx context.Context, parameter string) (map[string][]string, error)
	LastDate(ctx context.Context, state, parameter string) (null.Time, error)
	InsertObservations(ctx context.Context, rows []models.Observation, failFast bool) (models.UploadResult, []error)
	Ping(ctx context.Context) error
}

type seriesKey struct {
	parameter string
	agg       string
	filters   models.SeriesFilters
}

// Service handles business logic
type Service struct {
	repo  Repository
	log   *logrus.Logger
	cache *expirable.LRU[seriesKey, models.DailySeries]
}

// NewService initializes a new service. A zero cache size or TTL disables series caching.
func NewService(repo Repository, log *logrus.Logger, cfg *config.Config) *Service {
	s := &Service{repo: repo, log: log}
	if cfg.SeriesCacheSize > 0 && cfg.SeriesCacheTTL > 0 {
		s.cache = expirable.NewLRU[seriesKey, models.DailySeries](cfg.SeriesCacheSize, nil, cfg.SeriesCacheTTL)
	}
	return s
}

// LoadDailySeries returns the daily aggregate of parameter under the given filters
func (s *Service) LoadDailySeries(ctx context.Context, parameter, agg string, filters models.SeriesFilters) (models.DailySeries, error) {
	parameter = strings.TrimSpace(parameter)
	if parameter == "" {
		return nil, fmt.Errorf("parameter is required: %w", models.ErrValidation)
	}
	if agg == "" {
		agg = "mean"
	}

	key := seriesKey{parameter: parameter, agg: agg, filters: filters}
	if s.cache != nil {
		if daily, ok := s.cache.Get(key); ok {
			metrics.SeriesCache.WithLabelValues("hit").Inc()
			return daily, nil
		}
		metrics.SeriesCache.WithLabelValues("miss").Inc()
	}

	start := time.Now()
	daily, err := s.repo.DailySeries(ctx, parameter, agg, filters)
	if err != nil {
		return nil, err
	}
	if len(daily) == 0 {
		return nil, fmt.Errorf("no rows for that selection: %w", models.ErrNotFound)
	}

	s.log.WithFields(logrus.Fields{
		"parameter": parameter,
		"days":      len(daily),
		"first":     daily.First().Format(models.DateLayout),
		"last":      daily.Last().Format(models.DateLayout),
		"elapsed":   time.Since(start).String(),
	}).Info("Daily series loaded")

	if s.cache != nil {
		s.cache.Add(key, daily)
	}
	return daily, nil
}

// Targets lists the parameters that can be forecast
func (s *Service) Targets(ctx context.Context) ([]string, error) {
	return s.repo.Targets(ctx)
}

// Filters lists the geographic filter values available for a parameter
func (s *Service) Filters(ctx context.Context, target string) (map[string][]string, error) {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil, fmt.Errorf("target is required: %w", models.ErrValidation)
	}
	return s.repo.FilterValues(ctx, target)
}

// LastDate returns the latest observation date of a parameter within a state
func (s *Service) LastDate(ctx context.Context, state, parameter string) (null.Time, error) {
	if strings.TrimSpace(state) == "" || strings.TrimSpace(parameter) == "" {
		return null.Time{}, fmt.Errorf("state and parameter are required: %w", models.ErrValidation)
	}
	return s.repo.LastDate(ctx, strings.TrimSpace(state), strings.TrimSpace(parameter))
}

// Ping checks database connectivity
func (s *Service) Ping(ctx context.Context) error {
	return s.repo.Ping(ctx)
}
