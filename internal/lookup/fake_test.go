package lookup

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ehr/fhirindex/internal/platform/schema"
	"github.com/ehr/fhirindex/internal/searchparam"
)

// fakeDB is an in-memory db.Querier understanding the statements the
// lookup tables issue: multi-row INSERT, SELECT and DELETE filtered on one
// column by equality or IN.
type fakeDB struct {
	tables map[string][]map[string]interface{}
	sql    []string
	execs  int
}

func newFakeDB() *fakeDB {
	return &fakeDB{tables: make(map[string][]map[string]interface{})}
}

var (
	insertRe = regexp.MustCompile(`^INSERT INTO "([^"]+)" \(([^)]*)\) VALUES `)
	deleteRe = regexp.MustCompile(`^DELETE FROM "([^"]+)" WHERE "([^"]+)" (?:= \$1|IN \(([^()]*)\))$`)
	selectRe = regexp.MustCompile(`^SELECT (.+?) FROM "([^"]+)" WHERE "([^"]+)" (?:= \$1|IN \(([^()]*)\))(?: ORDER BY .*)?$`)
)

func unquote(list, sep string) []string {
	parts := strings.Split(list, sep)
	for i, p := range parts {
		parts[i] = strings.Trim(strings.TrimSpace(p), `"`)
	}
	return parts
}

func matchesAny(v interface{}, args []interface{}) bool {
	for _, a := range args {
		if fmt.Sprint(a) == fmt.Sprint(v) {
			return true
		}
	}
	return false
}

func (f *fakeDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	f.sql = append(f.sql, sql)
	f.execs++

	if m := insertRe.FindStringSubmatch(sql); m != nil {
		cols := unquote(m[2], ",")
		n := len(args) / len(cols)
		for i := 0; i < n; i++ {
			row := make(map[string]interface{}, len(cols))
			for j, c := range cols {
				row[c] = args[i*len(cols)+j]
			}
			f.tables[m[1]] = append(f.tables[m[1]], row)
		}
		return pgconn.NewCommandTag(fmt.Sprintf("INSERT 0 %d", n)), nil
	}

	if m := deleteRe.FindStringSubmatch(sql); m != nil {
		var kept []map[string]interface{}
		deleted := 0
		for _, row := range f.tables[m[1]] {
			if matchesAny(row[m[2]], args) {
				deleted++
				continue
			}
			kept = append(kept, row)
		}
		f.tables[m[1]] = kept
		return pgconn.NewCommandTag(fmt.Sprintf("DELETE %d", deleted)), nil
	}

	return pgconn.NewCommandTag("DELETE 0"), nil
}

func (f *fakeDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	f.sql = append(f.sql, sql)
	m := selectRe.FindStringSubmatch(sql)
	if m == nil {
		return nil, fmt.Errorf("fakeDB: unsupported query %q", sql)
	}
	cols := unquote(m[1], ",")
	rows := &fakeRows{}
	for _, row := range f.tables[m[2]] {
		if !matchesAny(row[m[3]], args) {
			continue
		}
		values := make([]interface{}, len(cols))
		for i, c := range cols {
			values[i] = row[c]
		}
		rows.data = append(rows.data, values)
	}
	return rows, nil
}

func (f *fakeDB) rows(table string) []map[string]interface{} {
	return f.tables[table]
}

func (f *fakeDB) countSQL(prefix string) int {
	n := 0
	for _, s := range f.sql {
		if strings.HasPrefix(s, prefix) {
			n++
		}
	}
	return n
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

func (r *fakeRows) Values() ([]interface{}, error) {
	return r.data[r.pos-1], nil
}

func (r *fakeRows) Scan(dest ...interface{}) error {
	row := r.data[r.pos-1]
	if len(dest) != len(row) {
		return fmt.Errorf("fakeRows: scan %d columns into %d targets", len(row), len(dest))
	}
	for i, d := range dest {
		v := row[i]
		switch p := d.(type) {
		case *string:
			s, ok := v.(string)
			if !ok {
				return fmt.Errorf("fakeRows: column %d is %T, not string", i, v)
			}
			*p = s
		case **string:
			if v == nil {
				*p = nil
				continue
			}
			s := fmt.Sprint(v)
			*p = &s
		case *int:
			n, ok := v.(int)
			if !ok {
				return fmt.Errorf("fakeRows: column %d is %T, not int", i, v)
			}
			*p = n
		case *int64:
			switch n := v.(type) {
			case int64:
				*p = n
			case int:
				*p = int64(n)
			default:
				return fmt.Errorf("fakeRows: column %d is %T, not int64", i, v)
			}
		default:
			return fmt.Errorf("fakeRows: unsupported scan target %T", d)
		}
	}
	return nil
}

func newTestEnv(t *testing.T) *Env {
	t.Helper()
	env, err := NewEnv(schema.NewDefault(), searchparam.DefaultCatalog(), zerolog.Nop(), 100)
	require.NoError(t, err)
	t.Cleanup(env.Close)
	return env
}

func newTestRegistry(t *testing.T, importer TerminologyImporter) (*Env, *Registry) {
	t.Helper()
	env := newTestEnv(t)
	reg, err := NewRegistry(env, importer, 100)
	require.NoError(t, err)
	t.Cleanup(reg.Close)
	return env, reg
}
