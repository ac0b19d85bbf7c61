package adapter

import (
	"sort"

	sq "github.com/Masterminds/squirrel"

	"github.com/voiladb/voila/internal/apierr"
	"github.com/voiladb/voila/query"
)

// psql builds PostgreSQL-flavored statements.
var psql = sq.StatementBuilder.PlaceholderFormat(sq.Dollar)

// whereToSqlizer converts a predicate tree into a squirrel conjunction.
// Plain keys are equality constraints (slices become IN), "AND"/"OR" hold
// nested []query.Where.
func whereToSqlizer(w query.Where) (sq.Sqlizer, error) {
	if len(w) == 0 {
		return nil, nil
	}

	keys := make([]string, 0, len(w))
	for k := range w {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var conjuncts sq.And
	for _, key := range keys {
		val := w[key]
		switch key {
		case "AND":
			nested, ok := val.([]query.Where)
			if !ok {
				return nil, apierr.New(apierr.KindDriver, 500, "AND predicate must hold []query.Where")
			}
			for _, c := range nested {
				s, err := whereToSqlizer(c)
				if err != nil {
					return nil, err
				}
				if s != nil {
					conjuncts = append(conjuncts, s)
				}
			}
		case "OR":
			nested, ok := val.([]query.Where)
			if !ok {
				return nil, apierr.New(apierr.KindDriver, 500, "OR predicate must hold []query.Where")
			}
			var disjuncts sq.Or
			for _, c := range nested {
				s, err := whereToSqlizer(c)
				if err != nil {
					return nil, err
				}
				if s != nil {
					disjuncts = append(disjuncts, s)
				}
			}
			switch len(disjuncts) {
			case 0:
			case 1:
				conjuncts = append(conjuncts, disjuncts[0])
			default:
				conjuncts = append(conjuncts, disjuncts)
			}
		default:
			conjuncts = append(conjuncts, sq.Eq{key: val})
		}
	}

	switch len(conjuncts) {
	case 0:
		return nil, nil
	case 1:
		return conjuncts[0], nil
	}
	return conjuncts, nil
}

// buildSelect builds the SELECT for find/count operations.
func buildSelect(table string, op *query.Operation) (string, []any, error) {
	var b sq.SelectBuilder
	if op.Action == query.ActionCount {
		b = psql.Select("COUNT(*)").From(table)
	} else {
		b = psql.Select("*").From(table)
	}

	pred, err := whereToSqlizer(op.Where)
	if err != nil {
		return "", nil, err
	}
	if pred != nil {
		b = b.Where(pred)
	}

	switch op.Action {
	case query.ActionFindFirst, query.ActionFindUnique:
		b = b.Limit(1)
	default:
		if op.Limit > 0 {
			b = b.Limit(uint64(op.Limit))
		}
	}

	return b.ToSql()
}

// buildInsert builds the INSERT for one row, returning the created row.
func buildInsert(table string, row query.Record) (string, []any, error) {
	return psql.Insert(table).SetMap(map[string]any(row)).Suffix("RETURNING *").ToSql()
}

// buildUpdate builds the UPDATE for update/updateMany.
func buildUpdate(table string, op *query.Operation) (string, []any, error) {
	b := psql.Update(table).SetMap(map[string]any(op.Data))
	pred, err := whereToSqlizer(op.Where)
	if err != nil {
		return "", nil, err
	}
	if pred != nil {
		b = b.Where(pred)
	}
	return b.ToSql()
}

// buildDelete builds the DELETE for delete/deleteMany.
func buildDelete(table string, op *query.Operation) (string, []any, error) {
	b := psql.Delete(table)
	pred, err := whereToSqlizer(op.Where)
	if err != nil {
		return "", nil, err
	}
	if pred != nil {
		b = b.Where(pred)
	}
	return b.ToSql()
}
