package service

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Dan9191/tsf-backend/internal/metrics"
	"github.com/Dan9191/tsf-backend/internal/models"
)

var requiredUploadColumns = []string{"Date Local", "Parameter Name", "Arithmetic Mean", "State Name"}

// accepted spellings of "Date Local"
var uploadDateLayouts = []string{models.DateLayout, "2006/01/02", "01/02/2006", time.RFC3339}

func parseUploadDate(s string) (time.Time, error) {
	for _, layout := range uploadDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return models.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

// ParseObservations reads raw observation rows from CSV. Columns are matched by header
// name; rows whose date or mean cannot be parsed are skipped and counted.
func ParseObservations(r io.Reader) ([]models.Observation, int, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err != nil {
		return nil, 0, fmt.Errorf("cannot read CSV: %w", models.ErrValidation)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		index[strings.TrimSpace(h)] = i
	}
	var missing []string
	for _, c := range requiredUploadColumns {
		if _, ok := index[c]; !ok {
			missing = append(missing, c)
		}
	}
	if len(missing) > 0 {
		return nil, 0, fmt.Errorf("missing required columns %v: %w", missing, models.ErrValidation)
	}

	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var out []models.Observation
	skipped := 0
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("cannot read CSV: %v: %w", err, models.ErrValidation)
		}
		date, err := parseUploadDate(field(rec, "Date Local"))
		if err != nil {
			skipped++
			continue
		}
		mean, err := strconv.ParseFloat(field(rec, "Arithmetic Mean"), 64)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, models.Observation{
			DateLocal:      date,
			ParameterName:  field(rec, "Parameter Name"),
			ArithmeticMean: mean,
			LocalSiteName:  field(rec, "Local Site Name"),
			StateName:      field(rec, "State Name"),
			CountyName:     field(rec, "County Name"),
			CityName:       field(rec, "City Name"),
			CBSAName:       field(rec, "CBSA Name"),
		})
	}
	return out, skipped, nil
}

// UploadObservations parses a CSV upload and stores it. With failFast the whole file
// is rejected on the first insert error.
func (s *Service) UploadObservations(ctx context.Context, r io.Reader, failFast bool) (models.UploadResult, error) {
	rows, skipped, err := ParseObservations(r)
	if err != nil {
		return models.UploadResult{}, err
	}

	res, errs := s.repo.InsertObservations(ctx, rows, failFast)
	if res.RowsInserted > 0 && s.cache != nil {
		s.cache.Purge()
	}
	res.RowsRejected += skipped
	metrics.UploadRowsRejected.Add(float64(res.RowsRejected))
	for _, e := range errs {
		s.log.WithError(e).Warn("Observation row rejected")
	}
	if failFast && len(errs) > 0 {
		return res, fmt.Errorf("upload rolled back: %v: %w", errs[0], models.ErrValidation)
	}

	s.log.WithFields(logrus.Fields{
		"inserted": res.RowsInserted,
		"rejected": res.RowsRejected,
	}).Info("Observations uploaded")
	return res, nil
}
