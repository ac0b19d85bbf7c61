package adapter

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/query"
	"github.com/voiladb/voila/schema"
)

// registryTable is the optional tenant registry table.
const registryTable = "_voila_tenants"

func init() {
	Register("postgres", KindRelational, NewRelational)
	Register("postgresql", KindRelational, NewRelational)
}

// Relational is the database/sql adapter backed by the pgx driver.
type Relational struct {
	reg     *schema.Registry
	mu      sync.Mutex
	clients map[string]*sqlClient
}

// NewRelational creates the relational adapter.
func NewRelational(reg *schema.Registry) Adapter {
	return &Relational{
		reg:     reg,
		clients: make(map[string]*sqlClient),
	}
}

func (a *Relational) Kind() Kind {
	return KindRelational
}

// Client returns the cached client for url, connecting eagerly on first use.
func (a *Relational) Client(ctx context.Context, url string) (Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if c, ok := a.clients[url]; ok {
		return c, nil
	}

	db, err := sql.Open("pgx", url)
	if err != nil {
		return nil, apierr.Driver(err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, apierr.Driver(err)
	}

	c := &sqlClient{db: db, exec: db, reg: a.reg}
	a.clients[url] = c
	return c, nil
}

// Registry probes for the tenant registry table.
func (a *Relational) Registry(c Client) (Registry, bool) {
	sc, ok := Unwrap(c).(*sqlClient)
	if !ok {
		return nil, false
	}
	var regclass sql.NullString
	err := sc.db.QueryRow("SELECT to_regclass($1)", registryTable).Scan(&regclass)
	if err != nil || !regclass.Valid {
		return nil, false
	}
	return &sqlRegistry{c: sc}, true
}

// Evict closes and forgets the cached pool for url.
func (a *Relational) Evict(ctx context.Context, url string) error {
	a.mu.Lock()
	c, ok := a.clients[url]
	delete(a.clients, url)
	a.mu.Unlock()
	if !ok {
		return nil
	}
	return c.db.Close()
}

// Close closes every cached connection pool.
func (a *Relational) Close(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var firstErr error
	for url, c := range a.clients {
		if err := c.db.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		delete(a.clients, url)
	}
	return firstErr
}

// execer is satisfied by *sql.DB and *sql.Tx so operations run unchanged
// inside and outside transactions.
type execer interface {
	ExecContext(ctx context.Context, q string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, q string, args ...any) (*sql.Rows, error)
}

type sqlClient struct {
	db   *sql.DB
	exec execer
	reg  *schema.Registry
}

func (c *sqlClient) table(model string) string {
	if m, ok := c.reg.Lookup(model); ok {
		return m.TableName()
	}
	return model
}

func (c *sqlClient) Execute(ctx context.Context, op *query.Operation) (*query.Result, error) {
	table := c.table(op.Model)

	switch op.Action {
	case query.ActionFindFirst, query.ActionFindMany, query.ActionFindUnique:
		q, args, err := buildSelect(table, op)
		if err != nil {
			return nil, err
		}
		return c.queryRows(ctx, q, args)

	case query.ActionCount:
		q, args, err := buildSelect(table, op)
		if err != nil {
			return nil, err
		}
		var count int64
		rows, err := c.exec.QueryContext(ctx, q, args...)
		if err != nil {
			return nil, apierr.Driver(err)
		}
		defer rows.Close()
		if rows.Next() {
			if err := rows.Scan(&count); err != nil {
				return nil, apierr.Driver(err)
			}
		}
		return &query.Result{Count: count}, rows.Err()

	case query.ActionCreate:
		q, args, err := buildInsert(table, op.Data)
		if err != nil {
			return nil, err
		}
		return c.queryRows(ctx, q, args)

	case query.ActionCreateMany:
		var total int64
		for _, row := range op.Rows {
			q, args, err := buildInsert(table, row)
			if err != nil {
				return nil, err
			}
			if _, err := c.exec.ExecContext(ctx, q, args...); err != nil {
				return nil, apierr.Driver(err)
			}
			total++
		}
		return &query.Result{Count: total}, nil

	case query.ActionUpdate, query.ActionUpdateMany:
		q, args, err := buildUpdate(table, op)
		if err != nil {
			return nil, err
		}
		return c.execCount(ctx, q, args)

	case query.ActionDelete, query.ActionDeleteMany:
		q, args, err := buildDelete(table, op)
		if err != nil {
			return nil, err
		}
		return c.execCount(ctx, q, args)

	case query.ActionUpsert:
		return c.upsert(ctx, table, op)
	}

	return nil, apierr.New(apierr.KindDriver, 500, "unsupported action %q", op.Action)
}

// upsert runs update-then-insert inside a transaction.
func (c *sqlClient) upsert(ctx context.Context, table string, op *query.Operation) (*query.Result, error) {
	var out *query.Result
	err := c.InTx(ctx, func(tc Client) error {
		res, err := tc.Execute(ctx, &query.Operation{
			Model:  op.Model,
			Action: query.ActionUpdateMany,
			Where:  op.Where,
			Data:   op.Update,
		})
		if err != nil {
			return err
		}
		if res.Count > 0 {
			out = res
			return nil
		}
		out, err = tc.Execute(ctx, &query.Operation{
			Model:  op.Model,
			Action: query.ActionCreate,
			Data:   op.Create,
		})
		return err
	})
	return out, err
}

func (c *sqlClient) queryRows(ctx context.Context, q string, args []any) (*query.Result, error) {
	rows, err := c.exec.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.Driver(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apierr.Driver(err)
	}

	var out []query.Record
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apierr.Driver(err)
		}
		rec := make(query.Record, len(cols))
		for i, col := range cols {
			if b, ok := vals[i].([]byte); ok {
				rec[col] = string(b)
			} else {
				rec[col] = vals[i]
			}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apierr.Driver(err)
	}
	return &query.Result{Rows: out, Count: int64(len(out))}, nil
}

func (c *sqlClient) execCount(ctx context.Context, q string, args []any) (*query.Result, error) {
	res, err := c.exec.ExecContext(ctx, q, args...)
	if err != nil {
		return nil, apierr.Driver(err)
	}
	n, _ := res.RowsAffected()
	return &query.Result{Count: n}, nil
}

// Raw runs an unstructured statement. Callers reach this only through the
// handle's explicit escape hatch.
func (c *sqlClient) Raw(ctx context.Context, cmd string, args ...any) (*query.Result, error) {
	head := strings.ToUpper(strings.Fields(strings.TrimSpace(cmd))[0])
	if head == "SELECT" || head == "WITH" || head == "SHOW" {
		return c.queryRows(ctx, cmd, args)
	}
	return c.execCount(ctx, cmd, args)
}

func (c *sqlClient) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

func (c *sqlClient) Close(ctx context.Context) error {
	return c.db.Close()
}

// InTx runs fn against a client bound to a single transaction.
func (c *sqlClient) InTx(ctx context.Context, fn func(Client) error) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return apierr.Driver(err)
	}
	txc := &sqlClient{db: c.db, exec: tx, reg: c.reg}
	if err := fn(txc); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return apierr.Driver(err)
	}
	return nil
}

// sqlRegistry implements the tenant registry over the registry table.
type sqlRegistry struct {
	c *sqlClient
}

func (r *sqlRegistry) EnsureTenant(ctx context.Context, id string) error {
	_, err := r.c.exec.ExecContext(ctx,
		"INSERT INTO "+registryTable+" (id) VALUES ($1) ON CONFLICT (id) DO NOTHING", id)
	if err != nil {
		return apierr.Driver(err)
	}
	return nil
}

func (r *sqlRegistry) RemoveTenant(ctx context.Context, id string) error {
	_, err := r.c.exec.ExecContext(ctx, "DELETE FROM "+registryTable+" WHERE id = $1", id)
	if err != nil {
		return apierr.Driver(err)
	}
	return nil
}

func (r *sqlRegistry) TenantExists(ctx context.Context, id string) (bool, error) {
	rows, err := r.c.exec.QueryContext(ctx, "SELECT 1 FROM "+registryTable+" WHERE id = $1", id)
	if err != nil {
		return false, apierr.Driver(err)
	}
	defer rows.Close()
	return rows.Next(), rows.Err()
}

func (r *sqlRegistry) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := r.c.exec.QueryContext(ctx, "SELECT id FROM "+registryTable+" ORDER BY id")
	if err != nil {
		return nil, apierr.Driver(err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apierr.Driver(err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
