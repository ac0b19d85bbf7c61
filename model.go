package voila

import (
	"context"

	"github.com/voiladb/voila/query"
)

// ModelClient issues operations against one model through the handle's
// interception pipeline.
type ModelClient struct {
	h    *Handle
	name string
}

func (m *ModelClient) exec(ctx context.Context, op *query.Operation) (*query.Result, error) {
	op.Model = m.name
	return m.h.conn.Client.Execute(ctx, op)
}

// Create inserts one record and returns the persisted row.
func (m *ModelClient) Create(ctx context.Context, data query.Record) (query.Record, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionCreate, Data: data})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) > 0 {
		return res.Rows[0], nil
	}
	return nil, nil
}

// CreateMany inserts rows and returns the number created.
func (m *ModelClient) CreateMany(ctx context.Context, rows []query.Record) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionCreateMany, Rows: rows})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// FindFirst returns the first matching record, or nil when none match.
func (m *ModelClient) FindFirst(ctx context.Context, where query.Where) (query.Record, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionFindFirst, Where: where})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// FindUnique returns the record matching a unique predicate, or nil.
func (m *ModelClient) FindUnique(ctx context.Context, where query.Where) (query.Record, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionFindUnique, Where: where})
	if err != nil {
		return nil, err
	}
	if len(res.Rows) == 0 {
		return nil, nil
	}
	return res.Rows[0], nil
}

// FindMany returns every matching record.
func (m *ModelClient) FindMany(ctx context.Context, where query.Where) ([]query.Record, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionFindMany, Where: where})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// FindManyLimit returns up to limit matching records.
func (m *ModelClient) FindManyLimit(ctx context.Context, where query.Where, limit int) ([]query.Record, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionFindMany, Where: where, Limit: limit})
	if err != nil {
		return nil, err
	}
	return res.Rows, nil
}

// Count returns the number of matching records.
func (m *ModelClient) Count(ctx context.Context, where query.Where) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionCount, Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Update modifies the first matching record.
func (m *ModelClient) Update(ctx context.Context, where query.Where, data query.Record) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionUpdate, Where: where, Data: data})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// UpdateMany modifies every matching record.
func (m *ModelClient) UpdateMany(ctx context.Context, where query.Where, data query.Record) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionUpdateMany, Where: where, Data: data})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Delete removes the first matching record.
func (m *ModelClient) Delete(ctx context.Context, where query.Where) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionDelete, Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// DeleteMany removes every matching record.
func (m *ModelClient) DeleteMany(ctx context.Context, where query.Where) (int64, error) {
	res, err := m.exec(ctx, &query.Operation{Action: query.ActionDeleteMany, Where: where})
	if err != nil {
		return 0, err
	}
	return res.Count, nil
}

// Upsert updates matching records or creates one when none match.
func (m *ModelClient) Upsert(ctx context.Context, where query.Where, create, update query.Record) (*query.Result, error) {
	return m.exec(ctx, &query.Operation{
		Action: query.ActionUpsert,
		Where:  where,
		Create: create,
		Update: update,
	})
}
