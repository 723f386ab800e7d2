package terminology

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type call struct {
	sql  string
	args []interface{}
}

// scriptedDB records statements and answers queries through respond.
type scriptedDB struct {
	execs   []call
	queries []call
	respond func(sql string, args []interface{}) ([][]interface{}, error)
}

func (s *scriptedDB) Exec(_ context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	s.execs = append(s.execs, call{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (s *scriptedDB) Query(_ context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	s.queries = append(s.queries, call{sql, args})
	if s.respond == nil {
		return &fakeRows{}, nil
	}
	data, err := s.respond(sql, args)
	if err != nil {
		return nil, err
	}
	return &fakeRows{data: data}, nil
}

func (s *scriptedDB) execsWithPrefix(prefix string) []call {
	var out []call
	for _, c := range s.execs {
		if strings.HasPrefix(c.sql, prefix) {
			out = append(out, c)
		}
	}
	return out
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
		case **string:
			if row[i] == nil {
				*p = nil
				continue
			}
			s := row[i].(string)
			*p = &s
		case *int64:
			*p = row[i].(int64)
		default:
			return fmt.Errorf("fakeRows: unsupported scan target %T", d)
		}
	}
	return nil
}
