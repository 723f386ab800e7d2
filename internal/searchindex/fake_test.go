package searchindex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/lookup"
	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/internal/platform/telemetry"
	"github.com/ehr/fhirindex/internal/searchparam"
)

type call struct {
	sql  string
	args []interface{}
}

// fakeDB records statements, answers queries through respond and counts
// transaction outcomes. It is safe for concurrent use.
type fakeDB struct {
	mu        sync.Mutex
	execs     []call
	queries   []call
	respond   func(sql string, args []interface{}) [][]interface{}
	failExec  string
	commits   int
	rollbacks int
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.execs = append(f.execs, call{sql, args})
	if f.failExec != "" && strings.HasPrefix(sql, f.failExec) {
		return pgconn.CommandTag{}, fmt.Errorf("exec failed: %s", f.failExec)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, call{sql, args})
	if f.respond == nil {
		return &fakeRows{}, nil
	}
	return &fakeRows{data: f.respond(sql, args)}, nil
}

func (f *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	return &fakeTx{db: f}, nil
}

func (f *fakeDB) execsWithPrefix(prefix string) []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []call
	for _, c := range f.execs {
		if strings.HasPrefix(c.sql, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// fakeTx forwards statements to its fakeDB. Methods it does not override
// panic through the nil embedded interface.
type fakeTx struct {
	pgx.Tx
	db     *fakeDB
	closed bool
}

func (tx *fakeTx) Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	return tx.db.Exec(ctx, sql, args...)
}

func (tx *fakeTx) Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	return tx.db.Query(ctx, sql, args...)
}

func (tx *fakeTx) Commit(context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	tx.db.mu.Lock()
	tx.db.commits++
	tx.db.mu.Unlock()
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if tx.closed {
		return pgx.ErrTxClosed
	}
	tx.closed = true
	tx.db.mu.Lock()
	tx.db.rollbacks++
	tx.db.mu.Unlock()
	return nil
}

type fakeRows struct {
	data [][]interface{}
	pos  int
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.pos >= len(r.data) {
		return false
	}
	r.pos++
	return true
}

func (r *fakeRows) Values() ([]interface{}, error) { return r.data[r.pos-1], nil }

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("fakeRows: scan %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = row[i].(string)
		case *int64:
			*p = row[i].(int64)
		default:
			return fmt.Errorf("fakeRows: unsupported scan target %T", d)
		}
	}
	return nil
}

func newTestService(t *testing.T, pool *fakeDB) (*Service, *prometheus.Registry) {
	t.Helper()
	env, err := lookup.NewEnv(schema.NewDefault(), searchparam.DefaultCatalog(), zerolog.Nop(), 100)
	require.NoError(t, err)
	t.Cleanup(env.Close)

	registry := prometheus.NewRegistry()
	env.Metrics = telemetry.NewIndexMetrics(registry)

	reg, err := lookup.NewRegistry(env, nil, 100)
	require.NoError(t, err)
	t.Cleanup(reg.Close)

	return NewService(pool, reg, env, Options{Workers: 2, PageSize: 2}), registry
}

func counterSum(t *testing.T, registry *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := registry.Gather()
	require.NoError(t, err)
	sum := 0.0
	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			sum += m.GetCounter().GetValue()
		}
	}
	return sum
}
