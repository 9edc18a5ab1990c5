package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/guregu/null/v6"
	"github.com/lib/pq"

	"github.com/Dan9191/tsf-backend/internal/models"
)

// Quoted source columns of the raw observation table
const (
	colDateLocal      = "Date Local"
	colParameterName  = "Parameter Name"
	colArithmeticMean = "Arithmetic Mean"
	colLocalSiteName  = "Local Site Name"
	colStateName      = "State Name"
	colCountyName     = "County Name"
	colCityName       = "City Name"
	colCBSAName       = "CBSA Name"
)

// FilterColumns are the geographic columns a series can be narrowed by
var FilterColumns = []string{colStateName, colCountyName, colCityName, colCBSAName}

// Repository provides database operations
type Repository struct {
	db       *sql.DB
	relation string
}

// NewRepository initializes a new repository over schema.table
func NewRepository(db *sql.DB, schema, table string) *Repository {
	return &Repository{db: db, relation: qualify(schema, table)}
}

func qualify(schema, table string) string {
	if schema == "" {
		return pq.QuoteIdentifier(table)
	}
	return pq.QuoteIdentifier(schema) + "." + pq.QuoteIdentifier(table)
}

func col(name string) string {
	return pq.QuoteIdentifier(name)
}

// buildSeriesQuery returns the daily aggregation query and its positional arguments.
// Values are always bound, never interpolated.
func buildSeriesQuery(relation, parameter, agg string, f models.SeriesFilters) (string, []any) {
	fn := "AVG"
	if agg == "sum" {
		fn = "SUM"
	}
	where := []string{col(colParameterName) + " = $1"}
	args := []any{parameter}
	for _, c := range []struct {
		name  string
		value string
	}{
		{colStateName, f.State},
		{colCountyName, f.County},
		{colCityName, f.City},
		{colCBSAName, f.CBSA},
	} {
		if c.value == "" {
			continue
		}
		args = append(args, c.value)
		where = append(where, fmt.Sprintf("%s = $%d", col(c.name), len(args)))
	}

	query := fmt.Sprintf(`
		SELECT DATE(%s) AS d, %s(%s) AS v
		FROM %s
		WHERE %s
		GROUP BY 1
		ORDER BY 1`,
		col(colDateLocal), fn, col(colArithmeticMean), relation, strings.Join(where, " AND "))
	return query, args
}

// DailySeries retrieves one aggregated value per calendar day, ascending
func (r *Repository) DailySeries(ctx context.Context, parameter, agg string, filters models.SeriesFilters) (models.DailySeries, error) {
	query, args := buildSeriesQuery(r.relation, parameter, agg, filters)
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query daily series: %w", err)
	}
	defer rows.Close()

	var out models.DailySeries
	for rows.Next() {
		var d time.Time
		var v sql.NullFloat64
		if err := rows.Scan(&d, &v); err != nil {
			return nil, fmt.Errorf("failed to scan daily series: %w", err)
		}
		// days whose every mean is NULL carry no value
		if !v.Valid {
			continue
		}
		out = append(out, models.DailyPoint{Date: models.Day(d), Value: v.Float64})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read daily series: %w", err)
	}
	return out, nil
}

// Targets retrieves the distinct parameter names
func (r *Repository) Targets(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM %[2]s WHERE %[1]s IS NOT NULL ORDER BY 1`,
		col(colParameterName), r.relation)
	return r.distinct(ctx, query)
}

// FilterValues retrieves the distinct non-null values of every filter column for a parameter
func (r *Repository) FilterValues(ctx context.Context, parameter string) (map[string][]string, error) {
	out := make(map[string][]string, len(FilterColumns))
	for _, name := range FilterColumns {
		query := fmt.Sprintf(`SELECT DISTINCT %[1]s FROM %[2]s WHERE %[3]s = $1 AND %[1]s IS NOT NULL ORDER BY 1`,
			col(name), r.relation, col(colParameterName))
		vals, err := r.distinct(ctx, query, parameter)
		if err != nil {
			return nil, err
		}
		out[name] = vals
	}
	return out, nil
}

func (r *Repository) distinct(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query distinct values: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("failed to scan distinct value: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// LastDate retrieves the latest observation date for a state and parameter
func (r *Repository) LastDate(ctx context.Context, state, parameter string) (null.Time, error) {
	query := fmt.Sprintf(`SELECT MAX(%s) FROM %s WHERE %s = $1 AND %s = $2`,
		col(colDateLocal), r.relation, col(colStateName), col(colParameterName))
	var last sql.NullTime
	if err := r.db.QueryRowContext(ctx, query, state, parameter).Scan(&last); err != nil {
		return null.Time{}, fmt.Errorf("failed to query last date: %w", err)
	}
	return null.NewTime(last.Time, last.Valid), nil
}

func (r *Repository) insertQuery() string {
	return fmt.Sprintf(`
		INSERT INTO %s (%s, %s, %s, %s, %s, %s, %s, %s)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		r.relation, col(colDateLocal), col(colParameterName), col(colArithmeticMean), col(colLocalSiteName),
		col(colStateName), col(colCountyName), col(colCityName), col(colCBSAName))
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertOne(ctx context.Context, ex execer, query string, o models.Observation) error {
	_, err := ex.ExecContext(ctx, query,
		o.DateLocal, o.ParameterName, o.ArithmeticMean, nullable(o.LocalSiteName),
		o.StateName, nullable(o.CountyName), nullable(o.CityName), nullable(o.CBSAName))
	return err
}

func nullable(s string) null.String {
	return null.NewString(s, s != "")
}

// InsertObservations stores raw rows. With failFast every row goes into one transaction
// that is rolled back on the first error. Otherwise rows are inserted independently
// and failures are returned alongside the counts.
func (r *Repository) InsertObservations(ctx context.Context, rows []models.Observation, failFast bool) (models.UploadResult, []error) {
	var res models.UploadResult
	query := r.insertQuery()

	if !failFast {
		var errs []error
		for i, o := range rows {
			if err := insertOne(ctx, r.db, query, o); err != nil {
				res.RowsRejected++
				errs = append(errs, fmt.Errorf("row %d: %w", i+1, err))
				continue
			}
			res.RowsInserted++
		}
		return res, errs
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return res, []error{fmt.Errorf("failed to begin transaction: %w", err)}
	}
	for i, o := range rows {
		if err := insertOne(ctx, tx, query, o); err != nil {
			tx.Rollback()
			return models.UploadResult{RowsRejected: len(rows)}, []error{fmt.Errorf("row %d: %w", i+1, err)}
		}
	}
	if err := tx.Commit(); err != nil {
		return models.UploadResult{RowsRejected: len(rows)}, []error{fmt.Errorf("failed to commit upload: %w", err)}
	}
	res.RowsInserted = len(rows)
	return res, nil
}

// Ping checks database connectivity
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}
