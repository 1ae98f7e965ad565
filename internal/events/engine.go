// Package events is the per-event engine: it evaluates filters, derived columns, aggregates and histograms over
// the files of a sample using an embedded DuckDB database.
package events

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"strings"

	_ "github.com/marcboeker/go-duckdb"
	"github.com/pkg/errors"

	"github.com/hepmr/hepmr/internal/catalog"
	"github.com/hepmr/hepmr/internal/common/mrcontext"
	"github.com/hepmr/hepmr/internal/common/mrerrors"
	"github.com/hepmr/hepmr/internal/pool"
)

// Engine is an in-memory DuckDB database.  An engine is meant to be owned by one worker: it is opened by the
// worker setup hook, which also runs any setup statements (e.g. CREATE MACRO for corrections), and closed when the
// worker exits.
type Engine struct {
	db *sql.DB
}

// Open creates an engine and executes the setup statements in order.
func Open(ctx context.Context, setup ...string) (*Engine, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, errors.Wrap(err, "failed to open duckdb")
	}
	// Session state such as temporary macros is per connection.
	db.SetMaxOpenConns(1)
	e := &Engine{db: db}
	for _, stmt := range setup {
		if err := e.Exec(ctx, stmt); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return e, nil
}

// FromWorker returns the engine set up for the worker executing the current task.
func FromWorker(ctx *mrcontext.Context) (*Engine, error) {
	e, ok := pool.WorkerState(ctx).(*Engine)
	if !ok {
		return nil, errors.Errorf("worker has no event engine (state is %T)", pool.WorkerState(ctx))
	}
	return e, nil
}

// Setup returns a worker setup hook opening an engine with the given statements.
func Setup(statements ...string) pool.SetupFunc {
	return func(ctx *mrcontext.Context, info pool.WorkerInfo) (interface{}, error) {
		ctx.Log.Debugf("Opening event engine with %d setup statements", len(statements))
		return Open(ctx, statements...)
	}
}

func (e *Engine) Exec(ctx context.Context, stmt string) error {
	if _, err := e.db.ExecContext(ctx, stmt); err != nil {
		return errors.Wrapf(err, "failed to execute %q", abbreviate(stmt))
	}
	return nil
}

func (e *Engine) Close() error {
	return e.db.Close()
}

// ParquetExtension is the file extension of the event files the engine reads.
const ParquetExtension = ".parquet"

// From returns a frame over all events of the files of chain.  The terminal operations of the frame fail if
// a file is not a Parquet file.
func (e *Engine) From(chain *catalog.Chain) *Frame {
	quoted := make([]string, len(chain.Files))
	var err error
	for i, f := range chain.Files {
		if err == nil && !strings.EqualFold(filepath.Ext(f), ParquetExtension) {
			err = errors.WithStack(&mrerrors.ErrInvalidArgument{
				Name:    "file",
				Value:   f,
				Message: fmt.Sprintf("sample %s: only %s files can be read", chain.Sample, ParquetExtension),
			})
		}
		quoted[i] = quote(f)
	}
	return &Frame{
		engine: e,
		source: chain.Sample,
		query:  fmt.Sprintf("SELECT * FROM read_parquet([%s], union_by_name = true)", strings.Join(quoted, ", ")),
		err:    err,
	}
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func abbreviate(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		return s[:117] + "..."
	}
	return s
}
