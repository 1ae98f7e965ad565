package events

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/analysis"
)

// Frame is an immutable view over the events of a sample.  Filter and Define return new frames; the terminal
// operations run a query.
type Frame struct {
	engine *Engine
	source string
	query  string
	depth  int
	// err is returned by every terminal operation.
	err error
}

func (f *Frame) wrap(query string) *Frame {
	return &Frame{
		engine: f.engine,
		source: f.source,
		query:  query,
		depth:  f.depth + 1,
		err:    f.err,
	}
}

func (f *Frame) alias() string {
	return fmt.Sprintf("f%d", f.depth)
}

// Filter keeps the events for which the SQL boolean expression holds.
func (f *Frame) Filter(expr string) *Frame {
	return f.wrap(fmt.Sprintf("SELECT * FROM (%s) AS %s WHERE (%s)", f.query, f.alias(), expr))
}

// Define adds a column computed by the SQL expression, which may refer to earlier columns.
func (f *Frame) Define(name, expr string) *Frame {
	return f.wrap(fmt.Sprintf("SELECT *, (%s) AS %s FROM (%s) AS %s", expr, quoteIdent(name), f.query, f.alias()))
}

func (f *Frame) Count(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	var n int64
	q := fmt.Sprintf("SELECT count(*) FROM (%s) AS %s", f.query, f.alias())
	if err := f.engine.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, f.queryError(err, "count")
	}
	return n, nil
}

// Columns returns the column names of the frame.
func (f *Frame) Columns(ctx context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	rows, err := f.engine.db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM (%s) AS %s LIMIT 0", f.query, f.alias()))
	if err != nil {
		return nil, f.queryError(err, "columns")
	}
	defer rows.Close()
	columns, err := rows.Columns()
	return columns, errors.WithStack(err)
}

// AggregateFunc is an SQL aggregate function.
type AggregateFunc string

const (
	SumOf   AggregateFunc = "sum"
	MinOf   AggregateFunc = "min"
	MaxOf   AggregateFunc = "max"
	CountOf AggregateFunc = "count"
)

// AggregateSpec names the result of applying Func to Expr over all events.
type AggregateSpec struct {
	Name string
	Func AggregateFunc
	Expr string
}

// Aggregate evaluates all specs in a single pass.  Aggregates over no events are reported as absent.
func (f *Frame) Aggregate(ctx context.Context, specs ...AggregateSpec) (map[string]float64, error) {
	if f.err != nil {
		return nil, f.err
	}
	if len(specs) == 0 {
		return map[string]float64{}, nil
	}
	columns := make([]string, len(specs))
	for i, spec := range specs {
		columns[i] = fmt.Sprintf("CAST(%s(%s) AS DOUBLE)", spec.Func, spec.Expr)
	}
	q := fmt.Sprintf("SELECT %s FROM (%s) AS %s", strings.Join(columns, ", "), f.query, f.alias())

	values := make([]sql.NullFloat64, len(specs))
	dest := make([]interface{}, len(specs))
	for i := range values {
		dest[i] = &values[i]
	}
	if err := f.engine.db.QueryRowContext(ctx, q).Scan(dest...); err != nil {
		return nil, f.queryError(err, "aggregate")
	}
	rv := make(map[string]float64, len(specs))
	for i, spec := range specs {
		if values[i].Valid {
			rv[spec.Name] = values[i].Float64
		}
	}
	return rv, nil
}

// HistoSpec defines a histogram of an expression, either by explicit bin edges or by a number of equal bins
// between Min and Max.
type HistoSpec struct {
	Name  string    `yaml:"name"`
	Title string    `yaml:"title"`
	Expr  string    `yaml:"expr"`
	Edges []float64 `yaml:"edges"`
	Bins  int       `yaml:"bins"`
	Min   float64   `yaml:"min"`
	Max   float64   `yaml:"max"`
}

// NewHistogram returns an empty histogram with the binning of the spec.
func (s HistoSpec) NewHistogram() (*analysis.Histogram, error) {
	var h *analysis.Histogram
	var err error
	if len(s.Edges) > 0 {
		h, err = analysis.NewHistogram(s.Name, s.Edges)
	} else {
		h, err = analysis.NewUniformHistogram(s.Name, s.Bins, s.Min, s.Max)
	}
	if err != nil {
		return nil, err
	}
	h.Title = s.Title
	return h, nil
}

// Histo1D fills a histogram of spec.Expr weighted by weightExpr.  An empty weight fills with weight one.
// Events where either expression is NULL are skipped.  Events are binned by the query, so only one row per
// non-empty bin is returned.
func (f *Frame) Histo1D(ctx context.Context, spec HistoSpec, weightExpr string) (*analysis.Histogram, error) {
	if f.err != nil {
		return nil, f.err
	}
	h, err := spec.NewHistogram()
	if err != nil {
		return nil, err
	}
	if weightExpr == "" {
		weightExpr = "1.0"
	}
	q := fmt.Sprintf(
		"SELECT %s AS bin, sum(w), sum(w * w), count(*) FROM ("+
			"SELECT CAST(%s AS DOUBLE) AS x, CAST(%s AS DOUBLE) AS w FROM (%s) AS %s"+
			") AS h WHERE x IS NOT NULL AND w IS NOT NULL GROUP BY bin",
		binExpr(h.Edges, "x"), spec.Expr, weightExpr, f.query, f.alias())
	rows, err := f.engine.db.QueryContext(ctx, q)
	if err != nil {
		return nil, f.queryError(err, "histogram "+spec.Name)
	}
	defer rows.Close()
	for rows.Next() {
		var bin, entries int64
		var sumw, sumw2 float64
		if err := rows.Scan(&bin, &sumw, &sumw2, &entries); err != nil {
			return nil, errors.WithStack(err)
		}
		if err := h.FillBin(int(bin), sumw, sumw2, entries); err != nil {
			return nil, err
		}
	}
	if err := rows.Err(); err != nil {
		return nil, f.queryError(err, "histogram "+spec.Name)
	}
	return h, nil
}

// binExpr returns an SQL expression giving the histogram bin index of column, matching Histogram.Fill: 0 below
// the first edge, len(edges) at or above the last, bins closed on the left.
func binExpr(edges []float64, column string) string {
	var b strings.Builder
	b.WriteString("CASE")
	for i, edge := range edges {
		fmt.Fprintf(&b, " WHEN %s < CAST('%s' AS DOUBLE) THEN %d", column, strconv.FormatFloat(edge, 'g', -1, 64), i)
	}
	fmt.Fprintf(&b, " ELSE %d END", len(edges))
	return b.String()
}

func (f *Frame) queryError(err error, op string) error {
	return errors.Wrapf(err, "%s of %s failed", op, f.source)
}
